// Package sandbox provides the capability-gated secure execution surface.
//
// Exec runs a caller-supplied function with secret values injected as
// arguments, without the secrets touching environment variables or surviving
// the call. String arguments matching the "@vhsm <envelope> [dot.path]"
// grammar are replaced with decrypted values; Pending handles to nested
// asynchronous results are awaited; everything resolves concurrently before
// the single invocation.
//
// Whether Exec may run at all is decided by the security gate: the
// VHSM_ALLOW_EXEC environment variable, then the admin config file, in that
// order. A call-site option claiming permission is accepted for signature
// stability and ignored for the decision.
package sandbox
