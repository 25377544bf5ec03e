package tlsdecrypt

import (
	"crypto/rsa"
)

// TLS record content types (RFC 5246 §6.2.1).
const (
	RecordChangeCipherSpec uint8 = 20
	RecordAlert            uint8 = 21
	RecordHandshake        uint8 = 22
	RecordApplicationData  uint8 = 23
)

// Handshake message types (RFC 5246 §7.4) this package needs to track key
// material; everything else (certificates, extensions, …) is skipped.
const (
	handshakeClientHello      uint8 = 1
	handshakeServerHello      uint8 = 2
	handshakeClientKeyExchange uint8 = 16
)

// Connection tracks one TCP connection's TLS handshake state and derived
// key material. Owned by internal/decoder's per-flow table; one per TCP
// 5-tuple carrying TLS.
type Connection struct {
	priv *rsa.PrivateKey

	clientRandom, serverRandom []byte
	clientMajor, clientMinor   uint8
	serverMinor                uint8 // negotiated record version; selects the PRF (TLS 1.2 vs legacy)
	cipherSuiteID              uint16
	haveCipherSuite            bool

	suite     suiteInfo
	keys      keyMaterial
	keysReady bool

	// clientArmed/serverArmed track ChangeCipherSpec per direction; the
	// connection only enters "encrypted" mode once both are set, per the
	// TLS connection invariant: decrypted application data is emitted only
	// after a ChangeCipherSpec has been observed in each direction.
	clientArmed, serverArmed bool

	// lastTagUnverified records the most recent GCM tag for observability;
	// never checked, per the resolved "GCM tag not verified" open question.
	lastTagUnverified []byte
}

// Encrypted reports whether both directions have armed their cipher
// context via ChangeCipherSpec, per spec.md §3's TLS connection invariant.
func (c *Connection) Encrypted() bool { return c.clientArmed && c.serverArmed }

// NewConnection creates a connection state machine. priv may be nil if no
// keyfile is configured for this capture — application_data records then
// always fail with ErrHandshakeIncomplete, which callers should treat as
// "can't decrypt, drop".
func NewConnection(priv *rsa.PrivateKey) *Connection {
	return &Connection{priv: priv}
}

// ProcessRecord advances the connection's state with one TLS record.
// fromClient is true when payload was sent by the side that opened the
// connection (inferred by the caller from which direction sent the first
// bytes on this flow, since a passive capture has no other way to tell
// client from server once ports are arbitrary).
func (c *Connection) ProcessRecord(fromClient bool, recordType uint8, payload []byte) (plaintext []byte, isAppData bool, err error) {
	switch recordType {
	case RecordHandshake:
		c.processHandshake(payload)
		return nil, false, nil
	case RecordChangeCipherSpec:
		if fromClient {
			c.clientArmed = true
		} else {
			c.serverArmed = true
		}
		return nil, false, nil
	case RecordAlert:
		return nil, false, nil
	case RecordApplicationData:
		return c.decryptApplicationData(fromClient, payload)
	default:
		return nil, false, nil
	}
}

func (c *Connection) processHandshake(payload []byte) {
	for len(payload) >= 4 {
		msgType := payload[0]
		msgLen := int(payload[1])<<16 | int(payload[2])<<8 | int(payload[3])
		if 4+msgLen > len(payload) {
			return
		}
		body := payload[4 : 4+msgLen]
		c.processHandshakeMessage(msgType, body)
		payload = payload[4+msgLen:]
	}
}

func (c *Connection) processHandshakeMessage(msgType uint8, body []byte) {
	switch msgType {
	case handshakeClientHello:
		if len(body) < 34 {
			return
		}
		c.clientMajor, c.clientMinor = body[0], body[1]
		c.clientRandom = append([]byte{}, body[2:34]...)
	case handshakeServerHello:
		if len(body) < 35 {
			return
		}
		c.serverMinor = body[1]
		c.serverRandom = append([]byte{}, body[2:34]...)
		sessionIDLen := int(body[34])
		off := 35 + sessionIDLen
		if off+2 > len(body) {
			return
		}
		c.cipherSuiteID = uint16(body[off])<<8 | uint16(body[off+1])
		c.haveCipherSuite = true
	case handshakeClientKeyExchange:
		c.processClientKeyExchange(body)
	}
}

func (c *Connection) processClientKeyExchange(body []byte) {
	if c.priv == nil || c.clientRandom == nil || c.serverRandom == nil || !c.haveCipherSuite {
		return
	}
	if len(body) < 2 {
		return
	}
	encLen := int(body[0])<<8 | int(body[1])
	if 2+encLen > len(body) {
		return
	}
	encrypted := body[2 : 2+encLen]

	preMaster, err := decryptPreMasterSecret(c.priv, encrypted, c.clientMajor, c.clientMinor)
	if err != nil {
		return
	}

	suite, ok := lookupSuite(c.cipherSuiteID, c.serverMinor)
	if !ok {
		return
	}
	c.suite = suite

	masterSecret := deriveMasterSecret(suite.prf, preMaster, c.clientRandom, c.serverRandom)
	c.keys = deriveKeyMaterial(suite.prf, masterSecret, c.clientRandom, c.serverRandom, suite)
	c.keysReady = true
}

func (c *Connection) decryptApplicationData(fromClient bool, payload []byte) ([]byte, bool, error) {
	if !c.keysReady || !c.Encrypted() {
		return nil, false, ErrHandshakeIncomplete
	}

	key, iv := c.keys.ClientKey, c.keys.ClientIV
	macLen := c.suite.macLen
	if !fromClient {
		key, iv = c.keys.ServerKey, c.keys.ServerIV
	}

	switch c.suite.mode {
	case modeCBC:
		plain, err := decryptCBC(key, payload, macLen)
		return plain, true, err
	case modeGCM:
		plain, tag, err := decryptGCM(key, iv, payload)
		if err == nil {
			c.lastTagUnverified = tag
		}
		return plain, true, err
	default:
		return nil, false, ErrUnsupportedCipherSuite
	}
}
