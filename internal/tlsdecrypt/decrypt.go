package tlsdecrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rsa"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
)

// LoadPrivateKey parses a PEM-encoded RSA private key (PKCS#1 or PKCS#8),
// the operator-supplied keyfile named in spec.md §4.4/§6.4.
func LoadPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrNoPrivateKey
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrNoPrivateKey
	}
	return key, nil
}

// decryptPreMasterSecret unwraps the RSA-PKCS#1v1.5-encrypted
// PreMasterSecret from ClientKeyExchange and checks its version bytes
// against the version the client advertised in ClientHello (RFC 5246
// §7.4.7.1's countermeasure). clientVersion is the two-byte
// major/minor pair.
func decryptPreMasterSecret(priv *rsa.PrivateKey, encrypted []byte, clientMajor, clientMinor uint8) ([]byte, error) {
	pre, err := rsa.DecryptPKCS1v15(nil, priv, encrypted)
	if err != nil {
		return nil, ErrBadPreMasterSecret
	}
	if len(pre) != 48 || pre[0] != clientMajor || pre[1] != clientMinor {
		return nil, ErrBadPreMasterSecret
	}
	return pre, nil
}

// decryptCBC reverses AES-CBC protection on one TLS record's ciphertext:
// explicit IV (one cipher block) || encrypted(plaintext || MAC || padding).
// The MAC is stripped but never recomputed/verified — passive capture
// can observe the plaintext either way, and a bad MAC can't be acted on.
func decryptCBC(key, ciphertext []byte, macLen int) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	blockSize := block.BlockSize()
	if len(ciphertext) < 2*blockSize {
		return nil, ErrRecordTooShort
	}

	iv := ciphertext[:blockSize]
	enc := ciphertext[blockSize:]
	if len(enc)%blockSize != 0 {
		return nil, ErrRecordTooShort
	}

	plain := make([]byte, len(enc))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, enc)

	if len(plain) == 0 {
		return nil, ErrRecordTooShort
	}
	padLen := int(plain[len(plain)-1])
	if padLen+1 > len(plain) {
		return nil, ErrRecordTooShort
	}
	plain = plain[:len(plain)-padLen-1]

	if len(plain) < macLen {
		return nil, ErrRecordTooShort
	}
	return plain[:len(plain)-macLen], nil
}

// decryptGCM reverses AES-GCM protection without verifying the
// authentication tag (resolved Open Question: the tag is read but
// discarded, see DESIGN.md). TLS's explicit nonce is the first 8 bytes of
// the record payload; the fixed IV (salt) comes from the key block. The
// last 16 bytes of the record are the tag and are dropped.
func decryptGCM(key, fixedIV, payload []byte) ([]byte, []byte, error) {
	const (
		explicitNonceLen = 8
		tagLen           = 16
	)
	if len(payload) < explicitNonceLen+tagLen {
		return nil, nil, ErrRecordTooShort
	}
	explicitNonce := payload[:explicitNonceLen]
	ciphertext := payload[explicitNonceLen : len(payload)-tagLen]
	tag := payload[len(payload)-tagLen:]

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}

	ctrIV := make([]byte, block.BlockSize())
	copy(ctrIV, fixedIV)
	copy(ctrIV[len(fixedIV):], explicitNonce)
	binary.BigEndian.PutUint32(ctrIV[len(ctrIV)-4:], 2) // CB_1 = J0 + 1

	plain := make([]byte, len(ciphertext))
	cipher.NewCTR(block, ctrIV).XORKeyStream(plain, ciphertext)
	return plain, tag, nil
}
