package tlsdecrypt

import "testing"

func TestPRF_SHA256_ProducesRequestedLength(t *testing.T) {
	out := prfSHA256([]byte("secret"), label("test label", []byte("seed")), 48)
	if len(out) != 48 {
		t.Fatalf("expected 48 bytes, got %d", len(out))
	}
}

func TestPRF_SHA256_Deterministic(t *testing.T) {
	seed := label("master secret", []byte("clientrandomserverrandom"))
	a := prfSHA256([]byte("secret"), seed, 48)
	b := prfSHA256([]byte("secret"), seed, 48)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected deterministic output, differs at byte %d", i)
		}
	}
}

func TestPRF_Legacy_ProducesRequestedLength(t *testing.T) {
	out := prfLegacy([]byte("01234567890123456789012345678901234567890123"), label("key expansion", []byte("seed")), 104)
	if len(out) != 104 {
		t.Fatalf("expected 104 bytes, got %d", len(out))
	}
}

func TestDeriveMasterSecret_FixedLength(t *testing.T) {
	ms := deriveMasterSecret(prfSHA256, make([]byte, 48), make([]byte, 32), make([]byte, 32))
	if len(ms) != masterSecretLen {
		t.Fatalf("expected %d bytes, got %d", masterSecretLen, len(ms))
	}
}

func TestDeriveKeyMaterial_FixedOrderLengths(t *testing.T) {
	info := suiteInfo{mode: modeCBC, keyLen: 16, macLen: 20, fixedIVLen: 16, prf: prfSHA256}
	km := deriveKeyMaterial(prfSHA256, make([]byte, 48), make([]byte, 32), make([]byte, 32), info)

	if len(km.ClientMACKey) != 20 || len(km.ServerMACKey) != 20 {
		t.Fatalf("unexpected MAC key lengths: %d/%d", len(km.ClientMACKey), len(km.ServerMACKey))
	}
	if len(km.ClientKey) != 16 || len(km.ServerKey) != 16 {
		t.Fatalf("unexpected cipher key lengths: %d/%d", len(km.ClientKey), len(km.ServerKey))
	}
	if len(km.ClientIV) != 16 || len(km.ServerIV) != 16 {
		t.Fatalf("unexpected IV lengths: %d/%d", len(km.ClientIV), len(km.ServerIV))
	}
}
