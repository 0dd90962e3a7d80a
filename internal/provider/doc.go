// Package provider implements the pluggable protection providers.
//
// A provider turns a long-lived credential into a 32-byte symmetric data key
// and uses it to seal or open an envelope payload. The provider set is
// closed: password (Argon2id over a passphrase), os-store (the per-user OS
// credential store), tpm2 (a key sealed to platform state), and fido2 (a
// WebAuthn security key's PRF output).
//
// Interactive providers run an explicit ceremony with a mandatory timeout.
// The fido2 flow opens a loopback HTTP listener, points the user's browser at
// it, and waits for the authenticator; the listener is exclusively owned by
// the ceremony that opened it and is torn down before that ceremony returns,
// on every exit path.
//
// Unlock is the shared entry point used by the CLI and the exec sandbox: it
// consults the session cache first, so repeated access to one envelope needs
// one ceremony, and concurrent access needs exactly one.
package provider
