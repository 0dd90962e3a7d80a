package errors

import "errors"

// Envelope errors indicate the persisted artifact itself is unusable.
var (
	// ErrEnvelopeCorrupt indicates the envelope failed format, version, or
	// authentication-tag checks. Not retryable.
	ErrEnvelopeCorrupt = errors.New("envelope is corrupt or has an unknown format")
)

// Ceremony errors indicate a provider's protocol did not yield a key.
var (
	// ErrAuthenticationFailed indicates the ceremony did not produce a verifying
	// credential: wrong passphrase, unmatched security key, TPM policy mismatch,
	// or the user cancelled. A retry is a fresh interactive attempt.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrProviderUnavailable indicates the underlying hardware or OS API is
	// absent: no TPM device, no credential-store backend, no browser.
	ErrProviderUnavailable = errors.New("protection provider is unavailable")

	// ErrTimedOut indicates an interactive ceremony was abandoned before the
	// deadline. Retryable with a fresh call.
	ErrTimedOut = errors.New("interactive ceremony timed out")
)

// Sandbox errors indicate secure execution was refused or misused.
var (
	// ErrExecDisabled indicates the security gate is off. Only the
	// VHSM_ALLOW_EXEC environment variable or the exec.enabled config entry can
	// turn it on; call-site options cannot.
	ErrExecDisabled = errors.New("secure execution is disabled")

	// ErrInvalidToken indicates a malformed @vhsm reference or a path that does
	// not resolve to a leaf of the decrypted document.
	ErrInvalidToken = errors.New("invalid secret reference token")
)

// Kind returns the stable taxonomy tag for err, or "unknown" when err does not
// belong to the taxonomy. CLI output and audit entries use these tags.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrEnvelopeCorrupt):
		return "envelope-corrupt"
	case errors.Is(err, ErrAuthenticationFailed):
		return "authentication-failed"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider-unavailable"
	case errors.Is(err, ErrTimedOut):
		return "timed-out"
	case errors.Is(err, ErrExecDisabled):
		return "exec-disabled"
	case errors.Is(err, ErrInvalidToken):
		return "invalid-token"
	default:
		return "unknown"
	}
}

// Hint returns a remediation hint for err, or an empty string when there is
// nothing actionable to suggest.
func Hint(err error) string {
	switch {
	case errors.Is(err, ErrEnvelopeCorrupt):
		return "the envelope cannot be recovered; re-encrypt the secret from its source"
	case errors.Is(err, ErrAuthenticationFailed):
		return "check your passphrase or security key and try again"
	case errors.Is(err, ErrProviderUnavailable):
		return "re-encrypt with a different provider (-p password works everywhere)"
	case errors.Is(err, ErrTimedOut):
		return "the ceremony was abandoned; run the command again and complete the prompt"
	case errors.Is(err, ErrExecDisabled):
		return "set VHSM_ALLOW_EXEC=1 or enable exec.enabled in the vhsm config file"
	case errors.Is(err, ErrInvalidToken):
		return "expected '@vhsm <envelope> [dot.separated.path]' resolving to a leaf value"
	default:
		return ""
	}
}
