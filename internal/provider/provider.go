package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vhsm-dev/vhsm/internal/crypto"
	"github.com/vhsm-dev/vhsm/internal/envelope"
	vhsmerrors "github.com/vhsm-dev/vhsm/internal/errors"
	"github.com/vhsm-dev/vhsm/internal/session"
)

// Config supplies provider-specific parameters. Fields a provider does not
// use are ignored; interactive providers gather their own input.
type Config struct {
	// Passphrase for the password provider. When nil, the provider prompts on
	// the terminal.
	Passphrase []byte

	// ConfirmPassphrase makes the password provider prompt twice when minting
	// a new envelope.
	ConfirmPassphrase bool

	// KDF cost parameters for newly created password envelopes. Zero values
	// fall back to crypto.DefaultKDFParams.
	KDF crypto.KDFParams

	// ServiceName identifies this application in the OS credential store.
	ServiceName string

	// TPMPath is the TPM character device. Empty means /dev/tpmrm0.
	TPMPath string

	// PCRs selects the platform configuration registers sealed envelopes are
	// bound to.
	PCRs []int

	// RelyingPartyID and RelyingPartyName identify the WebAuthn relying party.
	RelyingPartyID   string
	RelyingPartyName string

	// Timeout bounds interactive ceremonies. Zero means two minutes.
	Timeout time.Duration
}

// CeremonyTimeout returns the effective interactive ceremony timeout.
func (c *Config) CeremonyTimeout() time.Duration {
	if c == nil || c.Timeout <= 0 {
		return 2 * time.Minute
	}
	return c.Timeout
}

// Provider turns a long-lived credential into a symmetric data key and uses
// it to seal or open an envelope payload. Implementations may suspend for
// user or hardware interaction; both operations respect ctx cancellation.
type Provider interface {
	ID() envelope.ProviderID

	// Protect encrypts plaintext into a self-describing envelope. For
	// interactive providers this performs the ceremony once to mint a new
	// credential-bound key.
	Protect(ctx context.Context, plaintext []byte, cfg *Config) (*envelope.Envelope, error)

	// Unprotect repeats the provider's ceremony and decrypts the envelope.
	Unprotect(ctx context.Context, env *envelope.Envelope, cfg *Config) ([]byte, error)
}

// For returns the provider implementation for id. The provider set is closed:
// adding one means adding a variant here, not patching dispatch at runtime.
func For(id envelope.ProviderID) (Provider, error) {
	switch id {
	case envelope.ProviderPassword:
		return &Password{}, nil
	case envelope.ProviderOSStore:
		return &OSStore{}, nil
	case envelope.ProviderTPM2:
		return &TPM2{}, nil
	case envelope.ProviderFIDO2:
		return &FIDO2{}, nil
	default:
		return nil, fmt.Errorf("no provider registered for %q: %w", id, vhsmerrors.ErrProviderUnavailable)
	}
}

// Unlock is the shared unlock entry point: it parses raw envelope bytes,
// consults the session cache, and on a miss dispatches to the envelope's
// provider, caching the result. Concurrent unlocks of the same envelope share
// one ceremony via the cache's single-flight contract.
func Unlock(ctx context.Context, cache *session.Cache, raw []byte, cfg *Config) ([]byte, error) {
	env, err := envelope.Unmarshal(raw)
	if err != nil {
		return nil, err
	}

	fingerprint := envelope.Fingerprint(raw, env.Provider)
	return cache.GetOrUnlock(fingerprint, func() ([]byte, error) {
		p, err := For(env.Provider)
		if err != nil {
			return nil, err
		}
		return p.Unprotect(ctx, env, cfg)
	})
}

// sealWithKey runs the shared AEAD step: encrypt plaintext under the data key
// and assemble the envelope with the provider's metadata blob.
func sealWithKey(key, plaintext []byte, id envelope.ProviderID, metadata any) (*envelope.Envelope, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("refusing to protect an empty plaintext")
	}

	nonce, err := crypto.NewNonce()
	if err != nil {
		return nil, err
	}

	env := &envelope.Envelope{
		Version:  envelope.FormatVersion,
		Provider: id,
		Nonce:    nonce,
	}

	ciphertext, tag, err := crypto.Seal(key, nonce, plaintext, env.AssociatedData())
	if err != nil {
		return nil, err
	}
	env.Ciphertext = ciphertext
	env.AuthTag = tag

	if metadata != nil {
		blob, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal provider metadata: %w", err)
		}
		env.ProviderMetadata = blob
	}

	return env, nil
}

// openWithKey runs the shared AEAD step for unprotect.
func openWithKey(key []byte, env *envelope.Envelope) ([]byte, error) {
	return crypto.Open(key, env.Nonce, env.Ciphertext, env.AuthTag, env.AssociatedData())
}

// parseMetadata decodes an envelope's provider metadata blob. A missing or
// malformed blob means the envelope is corrupt.
func parseMetadata(env *envelope.Envelope, into any) error {
	if len(env.ProviderMetadata) == 0 {
		return fmt.Errorf("missing provider metadata: %w", vhsmerrors.ErrEnvelopeCorrupt)
	}
	if err := json.Unmarshal(env.ProviderMetadata, into); err != nil {
		return fmt.Errorf("malformed provider metadata: %v: %w", err, vhsmerrors.ErrEnvelopeCorrupt)
	}
	return nil
}
