// Package tlsdecrypt implements passive TLS record decryption from a
// captured RSA key-exchange handshake: parse ClientHello/ServerHello for
// the two randoms and cipher suite, decrypt the RSA-encrypted
// PreMasterSecret from ClientKeyExchange with an operator-supplied private
// key, derive the TLS key block and decrypt application_data records.
// None of the example repos ship this — crypto/tls only exposes an active
// connection, not a record-layer parser driven by arbitrary captured
// bytes — so this package is necessarily stdlib crypto/* only.
package tlsdecrypt

import "errors"

var (
	ErrUnsupportedCipherSuite = errors.New("tlsdecrypt: unsupported cipher suite")
	ErrNoPrivateKey           = errors.New("tlsdecrypt: no RSA private key loaded for this connection")
	ErrHandshakeIncomplete    = errors.New("tlsdecrypt: keys not yet derived (handshake incomplete)")
	ErrRecordTooShort         = errors.New("tlsdecrypt: record too short")
	ErrMalformedHandshake     = errors.New("tlsdecrypt: malformed handshake message")
	ErrBadPreMasterSecret     = errors.New("tlsdecrypt: PreMasterSecret decryption or version check failed")
)
