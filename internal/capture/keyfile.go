package capture

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"sync"
)

// rsaKeyHolder guards the RSA private key used for passive TLS decryption,
// set by Manager.SetKeyfile and read by every input's dissector tree at
// (re)build time. A zero rsaKeyHolder has no key and TLS decryption stays
// disabled — the default, matching spec.md §4.5's "decryption requires an
// explicitly configured keyfile".
type rsaKeyHolder struct {
	mu  sync.RWMutex
	key *rsa.PrivateKey
}

func (h *rsaKeyHolder) get() *rsa.PrivateKey {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.key
}

// set validates path as a PEM-encoded RSA private key (PKCS#1 or PKCS#8)
// and installs it, returning the TlsKeyError variants from spec.md §7.
func (h *rsaKeyHolder) set(path string) error {
	if path == "" {
		return ErrKeyfileEmpty
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return ErrKeyLoadFailed
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return ErrKeyInitFailed
	}

	key, err := parseRSAKey(block.Bytes)
	if err != nil {
		return ErrWrongAlgo
	}

	h.mu.Lock()
	h.key = key
	h.mu.Unlock()
	return nil
}

func parseRSAKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrWrongAlgo
	}
	return key, nil
}
