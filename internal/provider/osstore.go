package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/vhsm-dev/vhsm/internal/crypto"
	"github.com/vhsm-dev/vhsm/internal/envelope"
	vhsmerrors "github.com/vhsm-dev/vhsm/internal/errors"

	"github.com/99designs/keyring"
	"github.com/google/uuid"
)

// osStoreMetadata records only the opaque reference the credential store
// hands back. The data key itself never leaves the OS subsystem.
type osStoreMetadata struct {
	Item string `json:"item"`
}

// OSStore protects envelopes with a data key held in the per-user OS
// credential store (Keychain on macOS, Credential Manager on Windows,
// Secret Service or the kernel keyring on Linux).
type OSStore struct{}

func (o *OSStore) ID() envelope.ProviderID { return envelope.ProviderOSStore }

func (o *OSStore) open(cfg *Config) (keyring.Keyring, error) {
	service := "vhsm"
	if cfg != nil && cfg.ServiceName != "" {
		service = cfg.ServiceName
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
	})
	if err != nil {
		return nil, fmt.Errorf("no usable credential store backend: %v: %w", err, vhsmerrors.ErrProviderUnavailable)
	}
	return ring, nil
}

func (o *OSStore) Protect(ctx context.Context, plaintext []byte, cfg *Config) (*envelope.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ring, err := o.open(cfg)
	if err != nil {
		return nil, err
	}

	key, err := crypto.NewDataKey()
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(key)

	item := uuid.New().String()
	if err := ring.Set(keyring.Item{
		Key:         item,
		Data:        key,
		Label:       "vhsm data key",
		Description: "symmetric key protecting a vhsm envelope",
	}); err != nil {
		return nil, fmt.Errorf("credential store refused the data key: %v: %w", err, vhsmerrors.ErrProviderUnavailable)
	}

	return sealWithKey(key, plaintext, o.ID(), osStoreMetadata{Item: item})
}

func (o *OSStore) Unprotect(ctx context.Context, env *envelope.Envelope, cfg *Config) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var meta osStoreMetadata
	if err := parseMetadata(env, &meta); err != nil {
		return nil, err
	}
	if meta.Item == "" {
		return nil, fmt.Errorf("missing credential store item name: %w", vhsmerrors.ErrEnvelopeCorrupt)
	}

	ring, err := o.open(cfg)
	if err != nil {
		return nil, err
	}

	stored, err := ring.Get(meta.Item)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			// The key was created under another OS user session or has been
			// removed from the store.
			return nil, fmt.Errorf("data key not present in this user's credential store: %w", vhsmerrors.ErrAuthenticationFailed)
		}
		return nil, fmt.Errorf("credential store lookup failed: %v: %w", err, vhsmerrors.ErrProviderUnavailable)
	}
	defer crypto.Zero(stored.Data)

	if len(stored.Data) != crypto.KeySize {
		return nil, fmt.Errorf("stored data key has wrong length: %w", vhsmerrors.ErrEnvelopeCorrupt)
	}

	return openWithKey(stored.Data, env)
}
