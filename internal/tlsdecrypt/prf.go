package tlsdecrypt

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
)

// prfFunc computes the TLS PRF for secret/label/seed, producing outLen
// bytes. The label is folded into seed by callers (label || seed), per
// RFC 5246 §5: PRF(secret, label, seed) = P_hash(secret, label + seed).
type prfFunc func(secret, labelAndSeed []byte, outLen int) []byte

// pHash implements RFC 5246 §5's P_hash expansion: A(0) = seed,
// A(i) = HMAC_hash(secret, A(i-1)), output = HMAC_hash(secret, A(i) + seed)
// concatenated until outLen bytes are produced.
func pHash(newHash func() hash.Hash, secret, seed []byte, outLen int) []byte {
	h := hmac.New(newHash, secret)
	h.Write(seed)
	a := h.Sum(nil)

	out := make([]byte, 0, outLen+newHash().Size())
	for len(out) < outLen {
		h := hmac.New(newHash, secret)
		h.Write(a)
		h.Write(seed)
		out = append(out, h.Sum(nil)...)

		h2 := hmac.New(newHash, secret)
		h2.Write(a)
		a = h2.Sum(nil)
	}
	return out[:outLen]
}

// prfSHA256 is TLS 1.2's PRF for SHA-256-based cipher suites.
func prfSHA256(secret, labelAndSeed []byte, outLen int) []byte {
	return pHash(sha256.New, secret, labelAndSeed, outLen)
}

// prfSHA384 is TLS 1.2's PRF for SHA-384-based cipher suites (the GCM-384 suite).
func prfSHA384(secret, labelAndSeed []byte, outLen int) []byte {
	return pHash(sha512.New384, secret, labelAndSeed, outLen)
}

// prfLegacy is the TLS 1.0/1.1 PRF (RFC 2246 §5): split the secret in half
// (overlapping by one byte if odd length), run P_MD5 and P_SHA-1 over each
// half and XOR the results together.
func prfLegacy(secret, labelAndSeed []byte, outLen int) []byte {
	half := (len(secret) + 1) / 2
	s1 := secret[:half]
	s2 := secret[len(secret)-half:]

	md5Out := pHash(md5.New, s1, labelAndSeed, outLen)
	sha1Out := pHash(sha1.New, s2, labelAndSeed, outLen)

	out := make([]byte, outLen)
	for i := range out {
		out[i] = md5Out[i] ^ sha1Out[i]
	}
	return out
}

func label(name string, seed []byte) []byte {
	out := make([]byte, 0, len(name)+len(seed))
	out = append(out, name...)
	out = append(out, seed...)
	return out
}
