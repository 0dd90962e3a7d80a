// Package crypto provides the cryptographic primitives for vhsm.
//
// All envelope payloads are encrypted with XChaCha20-Poly1305 using a random
// 32-byte data key and a random 24-byte nonce per encryption. The Poly1305
// tag is kept detached so the envelope codec can persist it as its own field.
// Associated data binds the ciphertext to the envelope's provider and format
// version, so a ciphertext cannot be replayed under a different provider tag.
//
// Providers differ only in how they obtain the data key:
//
//   - password derives it from a passphrase with Argon2id
//   - os-store fetches it from the OS credential store
//   - tpm2 unseals it from a TPM object
//   - fido2 expands it from an authenticator PRF output with HKDF-SHA256
//
// Argon2id cost parameters travel inside the envelope metadata, never in
// code, so changing the defaults never orphans an existing envelope.
package crypto
