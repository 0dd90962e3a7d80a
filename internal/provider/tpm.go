package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/vhsm-dev/vhsm/internal/crypto"
	"github.com/vhsm-dev/vhsm/internal/envelope"
	vhsmerrors "github.com/vhsm-dev/vhsm/internal/errors"

	"github.com/google/go-tpm/legacy/tpm2"
)

// tpmMetadata records the sealed object blobs and the policy the data key is
// bound to. Unsealing fails closed when the PCR state no longer matches the
// recorded digest.
type tpmMetadata struct {
	Private      []byte `json:"private"`
	Public       []byte `json:"public"`
	PolicyDigest []byte `json:"policy_digest"`
	PCRs         []int  `json:"pcrs"`
}

// TPM2 seals the data key to the TPM owner hierarchy under a PCR policy.
type TPM2 struct{}

func (t *TPM2) ID() envelope.ProviderID { return envelope.ProviderTPM2 }

// srkTemplate is the standard ECC storage root key template (TCG EK/SRK
// profile, restricted decrypt, null auth policy).
var srkTemplate = tpm2.Public{
	Type:       tpm2.AlgECC,
	NameAlg:    tpm2.AlgSHA256,
	Attributes: tpm2.FlagFixedTPM | tpm2.FlagFixedParent | tpm2.FlagSensitiveDataOrigin | tpm2.FlagUserWithAuth | tpm2.FlagRestricted | tpm2.FlagDecrypt | tpm2.FlagNoDA,
	ECCParameters: &tpm2.ECCParams{
		Symmetric: &tpm2.SymScheme{
			Alg:     tpm2.AlgAES,
			KeyBits: 128,
			Mode:    tpm2.AlgCFB,
		},
		CurveID: tpm2.CurveNISTP256,
	},
}

func (t *TPM2) device(cfg *Config) string {
	if cfg != nil && cfg.TPMPath != "" {
		return cfg.TPMPath
	}
	return "/dev/tpmrm0"
}

func (t *TPM2) pcrSelection(cfg *Config) tpm2.PCRSelection {
	pcrs := []int{7}
	if cfg != nil && len(cfg.PCRs) > 0 {
		pcrs = cfg.PCRs
	}
	return tpm2.PCRSelection{Hash: tpm2.AlgSHA256, PCRs: pcrs}
}

func (t *TPM2) open(cfg *Config) (io.ReadWriteCloser, error) {
	rw, err := tpm2.OpenTPM(t.device(cfg))
	if err != nil {
		return nil, fmt.Errorf("cannot open TPM at %s: %v: %w", t.device(cfg), err, vhsmerrors.ErrProviderUnavailable)
	}
	return rw, nil
}

func (t *TPM2) Protect(ctx context.Context, plaintext []byte, cfg *Config) (*envelope.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rw, err := t.open(cfg)
	if err != nil {
		return nil, err
	}
	defer rw.Close()

	sel := t.pcrSelection(cfg)

	srk, _, err := tpm2.CreatePrimary(rw, tpm2.HandleOwner, tpm2.PCRSelection{}, "", "", srkTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage root key: %v: %w", err, vhsmerrors.ErrProviderUnavailable)
	}
	defer func() { _ = tpm2.FlushContext(rw, srk) }()

	policyDigest, err := t.policyDigest(rw, sel)
	if err != nil {
		return nil, err
	}

	key, err := crypto.NewDataKey()
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(key)

	private, public, err := tpm2.Seal(rw, srk, "", "", policyDigest, key)
	if err != nil {
		return nil, fmt.Errorf("TPM refused to seal the data key: %v: %w", err, vhsmerrors.ErrProviderUnavailable)
	}

	meta := tpmMetadata{
		Private:      private,
		Public:       public,
		PolicyDigest: policyDigest,
		PCRs:         sel.PCRs,
	}

	return sealWithKey(key, plaintext, t.ID(), meta)
}

func (t *TPM2) Unprotect(ctx context.Context, env *envelope.Envelope, cfg *Config) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var meta tpmMetadata
	if err := parseMetadata(env, &meta); err != nil {
		return nil, err
	}
	if len(meta.Private) == 0 || len(meta.Public) == 0 {
		return nil, fmt.Errorf("missing sealed object blobs: %w", vhsmerrors.ErrEnvelopeCorrupt)
	}

	rw, err := t.open(cfg)
	if err != nil {
		return nil, err
	}
	defer rw.Close()

	srk, _, err := tpm2.CreatePrimary(rw, tpm2.HandleOwner, tpm2.PCRSelection{}, "", "", srkTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to recreate storage root key: %v: %w", err, vhsmerrors.ErrProviderUnavailable)
	}
	defer func() { _ = tpm2.FlushContext(rw, srk) }()

	item, _, err := tpm2.Load(rw, srk, "", meta.Public, meta.Private)
	if err != nil {
		// The sealed blobs belong to a different TPM or were tampered with.
		return nil, fmt.Errorf("failed to load sealed object: %v: %w", err, vhsmerrors.ErrAuthenticationFailed)
	}
	defer func() { _ = tpm2.FlushContext(rw, item) }()

	sel := tpm2.PCRSelection{Hash: tpm2.AlgSHA256, PCRs: meta.PCRs}
	sess, _, err := tpm2.StartAuthSession(rw, tpm2.HandleNull, tpm2.HandleNull, make([]byte, 16), nil, tpm2.SessionPolicy, tpm2.AlgNull, tpm2.AlgSHA256)
	if err != nil {
		return nil, fmt.Errorf("failed to start policy session: %v: %w", err, vhsmerrors.ErrProviderUnavailable)
	}
	defer func() { _ = tpm2.FlushContext(rw, sess) }()

	if err := tpm2.PolicyPCR(rw, sess, nil, sel); err != nil {
		return nil, fmt.Errorf("failed to assert PCR policy: %v: %w", err, vhsmerrors.ErrProviderUnavailable)
	}

	key, err := tpm2.UnsealWithSession(rw, sess, item, "")
	if err != nil {
		// PolicyFail means the platform state changed since sealing. Fail
		// closed: this signals tamper or environment change.
		if isPolicyFailure(err) {
			return nil, fmt.Errorf("PCR state does not satisfy the sealing policy: %w", vhsmerrors.ErrAuthenticationFailed)
		}
		return nil, fmt.Errorf("TPM refused to unseal: %v: %w", err, vhsmerrors.ErrAuthenticationFailed)
	}
	defer crypto.Zero(key)

	return openWithKey(key, env)
}

// policyDigest computes the digest of a PolicyPCR assertion over sel using a
// trial session.
func (t *TPM2) policyDigest(rw io.ReadWriter, sel tpm2.PCRSelection) ([]byte, error) {
	sess, _, err := tpm2.StartAuthSession(rw, tpm2.HandleNull, tpm2.HandleNull, make([]byte, 16), nil, tpm2.SessionTrial, tpm2.AlgNull, tpm2.AlgSHA256)
	if err != nil {
		return nil, fmt.Errorf("failed to start trial session: %v: %w", err, vhsmerrors.ErrProviderUnavailable)
	}
	defer func() { _ = tpm2.FlushContext(rw, sess) }()

	if err := tpm2.PolicyPCR(rw, sess, nil, sel); err != nil {
		return nil, fmt.Errorf("failed to build PCR policy: %v: %w", err, vhsmerrors.ErrProviderUnavailable)
	}

	digest, err := tpm2.PolicyGetDigest(rw, sess)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy digest: %v: %w", err, vhsmerrors.ErrProviderUnavailable)
	}
	return digest, nil
}

func isPolicyFailure(err error) bool {
	var sessErr tpm2.SessionError
	if errors.As(err, &sessErr) {
		return sessErr.Code == tpm2.RCPolicyFail
	}
	return strings.Contains(err.Error(), "policy")
}
