package provider

import (
	"context"
	"fmt"

	"github.com/vhsm-dev/vhsm/internal/crypto"
	"github.com/vhsm-dev/vhsm/internal/envelope"
	vhsmerrors "github.com/vhsm-dev/vhsm/internal/errors"
	"github.com/vhsm-dev/vhsm/internal/utils"
)

// checkDomain separates the key-check value from any other use of the key.
const passwordCheckDomain = "vhsm/password/check/v1"

// passwordMetadata records everything needed to repeat the derivation:
// the salt and the exact KDF cost the envelope was minted with.
type passwordMetadata struct {
	Salt         []byte `json:"salt"`
	KDFTime      uint32 `json:"kdf_time"`
	KDFMemoryKiB uint32 `json:"kdf_memory_kib"`
	KDFThreads   uint8  `json:"kdf_threads"`
	KDFKeyLen    uint32 `json:"kdf_key_len"`

	// KeyCheck lets a wrong passphrase (AuthenticationFailed) be told apart
	// from a tampered ciphertext (EnvelopeCorrupt).
	KeyCheck []byte `json:"key_check"`
}

// Password protects envelopes with a key derived from a passphrase via
// Argon2id.
type Password struct{}

func (p *Password) ID() envelope.ProviderID { return envelope.ProviderPassword }

func (p *Password) Protect(ctx context.Context, plaintext []byte, cfg *Config) (*envelope.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	passphrase, prompted, err := p.passphrase(cfg, true)
	if err != nil {
		return nil, err
	}
	if prompted {
		defer crypto.Zero(passphrase)
	}

	params := cfg.KDF
	if params.Time == 0 {
		params = crypto.DefaultKDFParams()
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		return nil, err
	}

	key := crypto.DeriveKey(passphrase, salt, params)
	defer crypto.Zero(key)

	meta := passwordMetadata{
		Salt:         salt,
		KDFTime:      params.Time,
		KDFMemoryKiB: params.Memory,
		KDFThreads:   params.Threads,
		KDFKeyLen:    params.KeyLen,
		KeyCheck:     crypto.Checksum(passwordCheckDomain, key),
	}

	return sealWithKey(key, plaintext, p.ID(), meta)
}

func (p *Password) Unprotect(ctx context.Context, env *envelope.Envelope, cfg *Config) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var meta passwordMetadata
	if err := parseMetadata(env, &meta); err != nil {
		return nil, err
	}
	if len(meta.Salt) == 0 || meta.KDFTime == 0 || meta.KDFKeyLen == 0 {
		return nil, fmt.Errorf("incomplete KDF parameters: %w", vhsmerrors.ErrEnvelopeCorrupt)
	}

	passphrase, prompted, err := p.passphrase(cfg, false)
	if err != nil {
		return nil, err
	}
	if prompted {
		defer crypto.Zero(passphrase)
	}

	// Always the recorded cost, never the current defaults: historic
	// envelopes must stay decryptable.
	params := crypto.KDFParams{
		Time:    meta.KDFTime,
		Memory:  meta.KDFMemoryKiB,
		Threads: meta.KDFThreads,
		KeyLen:  meta.KDFKeyLen,
	}

	key := crypto.DeriveKey(passphrase, meta.Salt, params)
	defer crypto.Zero(key)

	if !crypto.ConstantTimeEqual(meta.KeyCheck, crypto.Checksum(passwordCheckDomain, key)) {
		return nil, fmt.Errorf("passphrase does not match: %w", vhsmerrors.ErrAuthenticationFailed)
	}

	return openWithKey(key, env)
}

// passphrase returns the configured passphrase or prompts for one. The second
// return value reports whether the buffer came from the prompt and is ours to
// scrub.
func (p *Password) passphrase(cfg *Config, confirm bool) ([]byte, bool, error) {
	if cfg != nil && cfg.Passphrase != nil {
		if len(cfg.Passphrase) == 0 {
			return nil, false, fmt.Errorf("empty passphrase: %w", vhsmerrors.ErrAuthenticationFailed)
		}
		return cfg.Passphrase, false, nil
	}

	passphrase, err := utils.ReadPassphraseFromTTY("Enter passphrase: ")
	if err != nil {
		return nil, false, fmt.Errorf("cannot prompt for passphrase: %v: %w", err, vhsmerrors.ErrProviderUnavailable)
	}
	if len(passphrase) == 0 {
		return nil, false, fmt.Errorf("empty passphrase: %w", vhsmerrors.ErrAuthenticationFailed)
	}

	if confirm && cfg != nil && cfg.ConfirmPassphrase {
		again, err := utils.ReadPassphraseFromTTY("Confirm passphrase: ")
		if err != nil {
			crypto.Zero(passphrase)
			return nil, false, fmt.Errorf("cannot prompt for passphrase: %v: %w", err, vhsmerrors.ErrProviderUnavailable)
		}
		defer crypto.Zero(again)
		if !crypto.ConstantTimeEqual(passphrase, again) {
			crypto.Zero(passphrase)
			return nil, false, fmt.Errorf("passphrases do not match: %w", vhsmerrors.ErrAuthenticationFailed)
		}
	}

	return passphrase, true, nil
}
