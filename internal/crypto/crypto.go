package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	vhsmerrors "github.com/vhsm-dev/vhsm/internal/errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the length of a symmetric data key in bytes.
	KeySize = chacha20poly1305.KeySize

	// NonceSize is the length of an XChaCha20-Poly1305 nonce in bytes.
	NonceSize = chacha20poly1305.NonceSizeX

	// TagSize is the length of the Poly1305 authentication tag in bytes.
	TagSize = chacha20poly1305.Overhead

	// SaltSize is the length of KDF and derivation salts in bytes.
	SaltSize = 16
)

// KDFParams holds Argon2id cost parameters. Envelopes record the parameters
// they were created with so they remain decryptable when the defaults change.
type KDFParams struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
}

// DefaultKDFParams returns the current Argon2id cost defaults.
func DefaultKDFParams() KDFParams {
	return KDFParams{
		Time:    3,
		Memory:  64 * 1024,
		Threads: 4,
		KeyLen:  KeySize,
	}
}

// NewDataKey generates a new random symmetric data key.
func NewDataKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}
	return key, nil
}

// NewNonce generates a fresh random nonce. A nonce must never be reused with
// the same key.
func NewNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, nil
}

// NewSalt generates a fresh random salt for key derivation.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// Seal encrypts plaintext with XChaCha20-Poly1305 and returns the ciphertext
// and the detached authentication tag. The associated data is authenticated
// but not encrypted.
func Seal(key, nonce, plaintext, associatedData []byte) (ciphertext, tag []byte, err error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid data key: %w", err)
	}
	if len(nonce) != NonceSize {
		return nil, nil, fmt.Errorf("invalid nonce length: expected %d bytes, got %d", NonceSize, len(nonce))
	}

	sealed := aead.Seal(nil, nonce, plaintext, associatedData)
	split := len(sealed) - TagSize
	return sealed[:split], sealed[split:], nil
}

// Open decrypts ciphertext produced by Seal, verifying the detached tag in
// constant time. A tag or format mismatch returns ErrEnvelopeCorrupt.
func Open(key, nonce, ciphertext, tag, associatedData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("invalid data key: %w", err)
	}
	if len(nonce) != NonceSize || len(tag) != TagSize {
		return nil, fmt.Errorf("bad nonce or tag length: %w", vhsmerrors.ErrEnvelopeCorrupt)
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, associatedData)
	if err != nil {
		return nil, fmt.Errorf("authentication tag does not verify: %w", vhsmerrors.ErrEnvelopeCorrupt)
	}
	return plaintext, nil
}

// DeriveKey derives a symmetric key from a passphrase and salt using Argon2id
// with the given cost parameters.
func DeriveKey(passphrase, salt []byte, params KDFParams) []byte {
	return argon2.IDKey(passphrase, salt, params.Time, params.Memory, params.Threads, params.KeyLen)
}

// ExpandKey derives length bytes of key material from the input keying
// material with HKDF-SHA256. The info string provides domain separation.
func ExpandKey(ikm, salt []byte, info string, length int) ([]byte, error) {
	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("failed to expand key material: %w", err)
	}
	return out, nil
}

// Checksum returns a domain-separated SHA-256 digest of the key. Providers
// store it as a key-check value so a wrong passphrase can be told apart from
// a tampered envelope.
func Checksum(domain string, key []byte) []byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0})
	h.Write(key)
	return h.Sum(nil)
}

// ConstantTimeEqual compares two byte slices without leaking timing
// information about where they differ.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Zero overwrites b with zero bytes. Callers use it to scrub buffers that
// held secret material before releasing them.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
