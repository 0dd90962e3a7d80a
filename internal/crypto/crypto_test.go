package crypto

import (
	"bytes"
	"errors"
	"testing"

	vhsmerrors "github.com/vhsm-dev/vhsm/internal/errors"
)

// testKDFParams keeps Argon2id cheap so the suite stays fast.
var testKDFParams = KDFParams{Time: 1, Memory: 16 * 1024, Threads: 1, KeyLen: KeySize}

func TestSealOpen_RoundTrip(t *testing.T) {
	key, err := NewDataKey()
	if err != nil {
		t.Fatalf("Failed to create data key: %v", err)
	}
	nonce, err := NewNonce()
	if err != nil {
		t.Fatalf("Failed to create nonce: %v", err)
	}

	plaintext := []byte("DOTENV_PRIVATE_KEY=2c7e2a...")
	aad := []byte("vhsm:v1:password")

	ciphertext, tag, err := Seal(key, nonce, plaintext, aad)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if len(tag) != TagSize {
		t.Fatalf("Expected %d byte tag, got %d", TagSize, len(tag))
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Fatal("Ciphertext contains the plaintext")
	}

	decrypted, err := Open(key, nonce, ciphertext, tag, aad)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("Expected %q, got %q", plaintext, decrypted)
	}
}

func TestOpen_TamperedTagFails(t *testing.T) {
	key, _ := NewDataKey()
	nonce, _ := NewNonce()
	ciphertext, tag, err := Seal(key, nonce, []byte("secret"), nil)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	tag[0] ^= 0x01
	if _, err := Open(key, nonce, ciphertext, tag, nil); !errors.Is(err, vhsmerrors.ErrEnvelopeCorrupt) {
		t.Errorf("Expected ErrEnvelopeCorrupt, got: %v", err)
	}
}

func TestOpen_WrongAssociatedDataFails(t *testing.T) {
	key, _ := NewDataKey()
	nonce, _ := NewNonce()
	ciphertext, tag, err := Seal(key, nonce, []byte("secret"), []byte("vhsm:v1:password"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	if _, err := Open(key, nonce, ciphertext, tag, []byte("vhsm:v1:tpm2")); !errors.Is(err, vhsmerrors.ErrEnvelopeCorrupt) {
		t.Errorf("Expected ErrEnvelopeCorrupt for foreign associated data, got: %v", err)
	}
}

func TestDeriveKey_DeterministicPerParams(t *testing.T) {
	salt := []byte("0123456789abcdef")

	first := DeriveKey([]byte("correct horse"), salt, testKDFParams)
	second := DeriveKey([]byte("correct horse"), salt, testKDFParams)
	if !bytes.Equal(first, second) {
		t.Error("Same passphrase, salt, and params should derive the same key")
	}

	other := DeriveKey([]byte("wrong horse"), salt, testKDFParams)
	if bytes.Equal(first, other) {
		t.Error("Different passphrases should derive different keys")
	}

	changed := testKDFParams
	changed.Time = 2
	if bytes.Equal(first, DeriveKey([]byte("correct horse"), salt, changed)) {
		t.Error("Different cost parameters should derive different keys")
	}
}

func TestExpandKey_DomainSeparated(t *testing.T) {
	ikm := []byte("prf output from the authenticator")
	salt := []byte("0123456789abcdef")

	first, err := ExpandKey(ikm, salt, "vhsm/fido2/key/v1", KeySize)
	if err != nil {
		t.Fatalf("ExpandKey failed: %v", err)
	}
	second, _ := ExpandKey(ikm, salt, "vhsm/fido2/key/v1", KeySize)
	if !bytes.Equal(first, second) {
		t.Error("Expansion should be deterministic")
	}

	other, _ := ExpandKey(ikm, salt, "vhsm/fido2/key/v2", KeySize)
	if bytes.Equal(first, other) {
		t.Error("Different info strings should expand to different keys")
	}
}

func TestChecksum_DomainSeparated(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	if bytes.Equal(Checksum("a", key), Checksum("b", key)) {
		t.Error("Different domains should produce different checksums")
	}
}

func TestZero(t *testing.T) {
	buf := []byte("sensitive")
	Zero(buf)
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("Byte %d not zeroed", i)
		}
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !ConstantTimeEqual([]byte("abc"), []byte("abc")) {
		t.Error("Equal slices should compare equal")
	}
	if ConstantTimeEqual([]byte("abc"), []byte("abd")) {
		t.Error("Different slices should not compare equal")
	}
	if ConstantTimeEqual([]byte("abc"), []byte("abcd")) {
		t.Error("Different lengths should not compare equal")
	}
}
