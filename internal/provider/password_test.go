package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/vhsm-dev/vhsm/internal/crypto"
	"github.com/vhsm-dev/vhsm/internal/envelope"
	vhsmerrors "github.com/vhsm-dev/vhsm/internal/errors"
)

// fastKDF keeps test derivations quick without changing the code path.
var fastKDF = crypto.KDFParams{Time: 1, Memory: 16 * 1024, Threads: 1, KeyLen: crypto.KeySize}

func passwordConfig(passphrase string) *Config {
	return &Config{Passphrase: []byte(passphrase), KDF: fastKDF}
}

func protectWithPassword(t *testing.T, plaintext, passphrase string) *envelope.Envelope {
	t.Helper()
	p := &Password{}
	env, err := p.Protect(context.Background(), []byte(plaintext), passwordConfig(passphrase))
	if err != nil {
		t.Fatalf("Protect failed: %v", err)
	}
	return env
}

func TestPassword_RoundTrip(t *testing.T) {
	env := protectWithPassword(t, "API_KEY=hunter2", "correct horse")

	if env.Provider != envelope.ProviderPassword {
		t.Errorf("Expected provider %q, got %q", envelope.ProviderPassword, env.Provider)
	}
	if bytes.Contains(env.Ciphertext, []byte("hunter2")) {
		t.Fatal("Ciphertext contains the plaintext")
	}

	p := &Password{}
	plaintext, err := p.Unprotect(context.Background(), env, passwordConfig("correct horse"))
	if err != nil {
		t.Fatalf("Unprotect failed: %v", err)
	}
	if string(plaintext) != "API_KEY=hunter2" {
		t.Errorf("Expected round-tripped plaintext, got %q", plaintext)
	}
}

func TestPassword_WrongPassphrase(t *testing.T) {
	env := protectWithPassword(t, "secret", "correct horse")

	p := &Password{}
	_, err := p.Unprotect(context.Background(), env, passwordConfig("wrong horse"))
	if !errors.Is(err, vhsmerrors.ErrAuthenticationFailed) {
		t.Errorf("Expected ErrAuthenticationFailed, got: %v", err)
	}
	if errors.Is(err, vhsmerrors.ErrEnvelopeCorrupt) {
		t.Error("A wrong passphrase must not be reported as corruption")
	}
}

func TestPassword_TamperedEnvelope(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(e *envelope.Envelope)
	}{
		{"ciphertext bit flip", func(e *envelope.Envelope) { e.Ciphertext[0] ^= 0x01 }},
		{"nonce bit flip", func(e *envelope.Envelope) { e.Nonce[0] ^= 0x01 }},
		{"auth tag bit flip", func(e *envelope.Envelope) { e.AuthTag[0] ^= 0x01 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := protectWithPassword(t, "secret", "correct horse")
			tt.mutate(env)

			p := &Password{}
			_, err := p.Unprotect(context.Background(), env, passwordConfig("correct horse"))
			if !errors.Is(err, vhsmerrors.ErrEnvelopeCorrupt) {
				t.Errorf("Expected ErrEnvelopeCorrupt, got: %v", err)
			}
			if errors.Is(err, vhsmerrors.ErrAuthenticationFailed) {
				t.Error("Tampering must not be reported as a wrong passphrase")
			}
		})
	}
}

func TestPassword_UsesRecordedKDFParams(t *testing.T) {
	env := protectWithPassword(t, "secret", "correct horse")

	// Unprotect with different current defaults in the config. Decryption must
	// follow the envelope's recorded cost, not the caller's.
	cfg := passwordConfig("correct horse")
	cfg.KDF = crypto.KDFParams{Time: 4, Memory: 32 * 1024, Threads: 2, KeyLen: crypto.KeySize}

	p := &Password{}
	if _, err := p.Unprotect(context.Background(), env, cfg); err != nil {
		t.Fatalf("Unprotect with changed defaults failed: %v", err)
	}
}

func TestPassword_MetadataRecordsKDFCost(t *testing.T) {
	env := protectWithPassword(t, "secret", "correct horse")

	var meta passwordMetadata
	if err := json.Unmarshal(env.ProviderMetadata, &meta); err != nil {
		t.Fatalf("Failed to parse provider metadata: %v", err)
	}
	if meta.KDFTime != fastKDF.Time || meta.KDFMemoryKiB != fastKDF.Memory || meta.KDFThreads != fastKDF.Threads {
		t.Errorf("Recorded KDF cost %d/%d/%d does not match the minting cost", meta.KDFTime, meta.KDFMemoryKiB, meta.KDFThreads)
	}
	if len(meta.Salt) != crypto.SaltSize {
		t.Errorf("Expected %d byte salt, got %d", crypto.SaltSize, len(meta.Salt))
	}
	if len(meta.KeyCheck) == 0 {
		t.Error("Expected a key check value in the metadata")
	}
}

func TestPassword_MissingMetadata(t *testing.T) {
	env := protectWithPassword(t, "secret", "correct horse")
	env.ProviderMetadata = nil

	p := &Password{}
	_, err := p.Unprotect(context.Background(), env, passwordConfig("correct horse"))
	if !errors.Is(err, vhsmerrors.ErrEnvelopeCorrupt) {
		t.Errorf("Expected ErrEnvelopeCorrupt, got: %v", err)
	}
}

func TestPassword_EmptyPlaintextRefused(t *testing.T) {
	p := &Password{}
	if _, err := p.Protect(context.Background(), nil, passwordConfig("correct horse")); err == nil {
		t.Error("Expected an error for empty plaintext")
	}
}

func TestPassword_EmptyPassphraseRefused(t *testing.T) {
	p := &Password{}
	cfg := &Config{Passphrase: []byte{}, KDF: fastKDF}
	if _, err := p.Protect(context.Background(), []byte("secret"), cfg); !errors.Is(err, vhsmerrors.ErrAuthenticationFailed) {
		t.Errorf("Expected ErrAuthenticationFailed, got: %v", err)
	}
}

func TestPassword_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &Password{}
	if _, err := p.Protect(ctx, []byte("secret"), passwordConfig("correct horse")); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got: %v", err)
	}
}
