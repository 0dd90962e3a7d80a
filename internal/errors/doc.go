// Package errors provides typed error values for the vhsm error taxonomy.
//
// Using sentinel errors allows callers to handle specific failure categories
// programmatically with errors.Is() rather than string matching. Every failure
// a provider ceremony or the exec sandbox surfaces wraps exactly one of these
// sentinels, so the CLI can print a stable kind tag and a remediation hint.
//
// # Taxonomy
//
//   - ErrEnvelopeCorrupt: format/version/tag mismatch; fatal, never retried
//   - ErrAuthenticationFailed: wrong passphrase, unmatched credential, policy
//     mismatch; a retry is a new interactive attempt
//   - ErrProviderUnavailable: missing hardware or OS API for a provider
//   - ErrTimedOut: interactive ceremony abandoned; retryable by a fresh call
//   - ErrExecDisabled: the security gate is off; only an admin can open it
//   - ErrInvalidToken: malformed @vhsm reference or unresolvable path
//
// # Usage
//
// Wrap the sentinel with context when returning:
//
//	return nil, fmt.Errorf("unsealing data key: %w", errors.ErrAuthenticationFailed)
//
// Branch on the category in callers:
//
//	if errors.Is(err, vhsmerrors.ErrTimedOut) {
//	    // Offer to retry.
//	}
package errors
