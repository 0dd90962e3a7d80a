package envelope

import (
	"bytes"
	"errors"
	"testing"

	"github.com/vhsm-dev/vhsm/internal/crypto"
	vhsmerrors "github.com/vhsm-dev/vhsm/internal/errors"
)

func validEnvelope() *Envelope {
	return &Envelope{
		Version:    FormatVersion,
		Provider:   ProviderPassword,
		Ciphertext: []byte("opaque bytes"),
		Nonce:      bytes.Repeat([]byte{0x01}, crypto.NonceSize),
		AuthTag:    bytes.Repeat([]byte{0x02}, crypto.TagSize),
	}
}

func TestMarshalUnmarshal_RoundTrip(t *testing.T) {
	env := validEnvelope()
	env.ProviderMetadata = []byte(`{"salt":"abc"}`)

	data, err := Marshal(env)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if data[len(data)-1] != '\n' {
		t.Error("Expected trailing newline on marshaled envelope")
	}

	parsed, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if parsed.Provider != ProviderPassword {
		t.Errorf("Expected provider %q, got %q", ProviderPassword, parsed.Provider)
	}
	if !bytes.Equal(parsed.Ciphertext, env.Ciphertext) {
		t.Error("Ciphertext did not survive the round trip")
	}
	if string(parsed.ProviderMetadata) != `{"salt":"abc"}` {
		t.Errorf("Unexpected provider metadata: %s", parsed.ProviderMetadata)
	}
}

func TestUnmarshal_RejectsCorruptInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(e *Envelope)
	}{
		{"unknown version", func(e *Envelope) { e.Version = 99 }},
		{"unknown provider", func(e *Envelope) { e.Provider = "yubivault" }},
		{"empty ciphertext", func(e *Envelope) { e.Ciphertext = nil }},
		{"short nonce", func(e *Envelope) { e.Nonce = e.Nonce[:crypto.NonceSize-1] }},
		{"long auth tag", func(e *Envelope) { e.AuthTag = append(e.AuthTag, 0x00) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := validEnvelope()
			tt.mutate(env)
			if err := validate(env); !errors.Is(err, vhsmerrors.ErrEnvelopeCorrupt) {
				t.Errorf("Expected ErrEnvelopeCorrupt, got: %v", err)
			}
		})
	}

	if _, err := Unmarshal([]byte("not json at all")); !errors.Is(err, vhsmerrors.ErrEnvelopeCorrupt) {
		t.Errorf("Expected ErrEnvelopeCorrupt for malformed JSON, got: %v", err)
	}
}

func TestMarshal_RefusesInvalidEnvelope(t *testing.T) {
	env := validEnvelope()
	env.Provider = "nonsense"
	if _, err := Marshal(env); !errors.Is(err, vhsmerrors.ErrEnvelopeCorrupt) {
		t.Errorf("Expected ErrEnvelopeCorrupt, got: %v", err)
	}
}

func TestAssociatedData_BindsProviderAndVersion(t *testing.T) {
	env := validEnvelope()
	if got := string(env.AssociatedData()); got != "vhsm:v1:password" {
		t.Errorf("Expected vhsm:v1:password, got %q", got)
	}

	env.Provider = ProviderTPM2
	if got := string(env.AssociatedData()); got != "vhsm:v1:tpm2" {
		t.Errorf("Expected vhsm:v1:tpm2, got %q", got)
	}
}

func TestFingerprint(t *testing.T) {
	raw := []byte(`{"version":1}`)

	if Fingerprint(raw, ProviderPassword) != Fingerprint(raw, ProviderPassword) {
		t.Error("Fingerprint should be deterministic")
	}
	if Fingerprint(raw, ProviderPassword) == Fingerprint(raw, ProviderTPM2) {
		t.Error("Different providers should fingerprint differently")
	}

	changed := append([]byte{}, raw...)
	changed[0] = '['
	if Fingerprint(raw, ProviderPassword) == Fingerprint(changed, ProviderPassword) {
		t.Error("Different raw bytes should fingerprint differently")
	}
}

func TestProviderIDValid(t *testing.T) {
	for _, id := range []ProviderID{ProviderPassword, ProviderOSStore, ProviderTPM2, ProviderFIDO2} {
		if !id.Valid() {
			t.Errorf("%q should be valid", id)
		}
	}
	if ProviderID("pkcs11").Valid() {
		t.Error("Unknown provider should not be valid")
	}
}
