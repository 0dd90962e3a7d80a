package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/vhsm-dev/vhsm/internal/crypto"
	vhsmerrors "github.com/vhsm-dev/vhsm/internal/errors"
)

// FormatVersion is the only envelope format this build can read or write.
// Unknown versions are rejected, never guessed.
const FormatVersion = 1

// ProviderID identifies the protection provider an envelope was created with.
type ProviderID string

// The closed set of protection providers.
const (
	ProviderPassword ProviderID = "password"
	ProviderOSStore  ProviderID = "os-store"
	ProviderTPM2     ProviderID = "tpm2"
	ProviderFIDO2    ProviderID = "fido2"
)

// Valid reports whether id names a known provider.
func (id ProviderID) Valid() bool {
	switch id {
	case ProviderPassword, ProviderOSStore, ProviderTPM2, ProviderFIDO2:
		return true
	}
	return false
}

// Envelope is the persisted unit of protection. It is self-describing:
// unlocking requires no external secret beyond what the provider's own
// ceremony supplies. Envelopes are created by Protect and consumed, never
// mutated, by Unprotect.
type Envelope struct {
	Version          int             `json:"version"`
	Provider         ProviderID      `json:"provider"`
	Ciphertext       []byte          `json:"ciphertext"`
	Nonce            []byte          `json:"nonce"`
	AuthTag          []byte          `json:"authTag"`
	ProviderMetadata json.RawMessage `json:"providerMetadata,omitempty"`
}

// AssociatedData returns the bytes authenticated alongside the ciphertext.
// Binding the provider tag and version prevents an envelope's payload from
// being replayed under another provider.
func (e *Envelope) AssociatedData() []byte {
	return []byte(fmt.Sprintf("vhsm:v%d:%s", e.Version, e.Provider))
}

// Marshal serializes an envelope to its persisted JSON form.
func Marshal(e *Envelope) ([]byte, error) {
	if err := validate(e); err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return append(data, '\n'), nil
}

// Unmarshal parses and validates a persisted envelope. Any format, version,
// or field-length problem is reported as ErrEnvelopeCorrupt.
func Unmarshal(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to parse envelope: %v: %w", err, vhsmerrors.ErrEnvelopeCorrupt)
	}
	if err := validate(&e); err != nil {
		return nil, err
	}
	return &e, nil
}

func validate(e *Envelope) error {
	if e.Version != FormatVersion {
		return fmt.Errorf("unsupported envelope version %d: %w", e.Version, vhsmerrors.ErrEnvelopeCorrupt)
	}
	if !e.Provider.Valid() {
		return fmt.Errorf("unknown provider %q: %w", e.Provider, vhsmerrors.ErrEnvelopeCorrupt)
	}
	if len(e.Ciphertext) == 0 {
		return fmt.Errorf("empty ciphertext: %w", vhsmerrors.ErrEnvelopeCorrupt)
	}
	if len(e.Nonce) != crypto.NonceSize {
		return fmt.Errorf("bad nonce length %d: %w", len(e.Nonce), vhsmerrors.ErrEnvelopeCorrupt)
	}
	if len(e.AuthTag) != crypto.TagSize {
		return fmt.Errorf("bad auth tag length %d: %w", len(e.AuthTag), vhsmerrors.ErrEnvelopeCorrupt)
	}
	return nil
}

// Fingerprint derives the session-cache key for an envelope from its raw
// persisted bytes and its provider tag. Any change to the envelope produces a
// different fingerprint, so a tampered artifact can never hit a cached entry.
func Fingerprint(raw []byte, provider ProviderID) string {
	h := sha256.New()
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write(raw)
	return hex.EncodeToString(h.Sum(nil))
}
