// Package session caches decrypted payloads between unlock ceremonies.
//
// The cache is keyed by envelope fingerprint and bounded by a configurable
// TTL. Its central correctness contract is single-flight unlocking: however
// many goroutines ask for the same fingerprint at once, the interactive
// ceremony runs exactly once and everyone shares its outcome. Plaintext is
// zeroed on eviction and on clear, never just dereferenced.
//
// A miss is control flow, not an error.
package session
