package session

import (
	"time"

	"github.com/vhsm-dev/vhsm/internal/crypto"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// Options configures a session cache.
type Options struct {
	// TTL bounds how long a decrypted payload is kept. Zero or negative
	// disables caching entirely: every access re-runs the ceremony.
	TTL time.Duration

	// RefreshOnHit extends an entry's TTL each time it is read.
	RefreshOnHit bool
}

// Cache is the in-memory, time-bounded store of decrypted payloads, keyed by
// envelope fingerprint. It exists so repeated access to the same envelope does
// not repeat browser popups, physical touches, or passphrase prompts.
//
// Construct one per process with New and inject it where unlocking happens;
// tests construct isolated instances.
type Cache struct {
	opts  Options
	store *gocache.Cache
	group singleflight.Group
}

// New creates a session cache. With a zero TTL the cache stores nothing and
// GetOrUnlock degrades to calling the ceremony every time (still single-flight
// per fingerprint).
func New(opts Options) *Cache {
	c := &Cache{opts: opts}
	if opts.TTL > 0 {
		cleanup := opts.TTL / 2
		if cleanup < time.Second {
			cleanup = time.Second
		}
		c.store = gocache.New(opts.TTL, cleanup)
		// Evicted plaintext is overwritten, not merely dereferenced.
		c.store.OnEvicted(func(_ string, value interface{}) {
			if buf, ok := value.([]byte); ok {
				crypto.Zero(buf)
			}
		})
	}
	return c
}

// Get returns a copy of the cached plaintext for fingerprint, or a miss.
// It never blocks on hardware; an expired entry is a miss.
func (c *Cache) Get(fingerprint string) ([]byte, bool) {
	if c.store == nil {
		return nil, false
	}
	value, found := c.store.Get(fingerprint)
	if !found {
		return nil, false
	}
	buf, ok := value.([]byte)
	if !ok {
		return nil, false
	}
	if c.opts.RefreshOnHit {
		c.store.SetDefault(fingerprint, buf)
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, true
}

// Put stores a copy of plaintext under fingerprint, overwriting any prior
// entry and restarting its TTL.
func (c *Cache) Put(fingerprint string, plaintext []byte) {
	if c.store == nil {
		return
	}
	// Zero any prior buffer for this fingerprint before it becomes
	// unreachable; Set alone would drop it without firing OnEvicted.
	c.store.Delete(fingerprint)
	buf := make([]byte, len(plaintext))
	copy(buf, plaintext)
	c.store.SetDefault(fingerprint, buf)
}

// GetOrUnlock returns the cached plaintext for fingerprint, or runs unlock to
// produce it. At most one unlock ceremony runs per fingerprint system-wide:
// concurrent callers for the same fingerprint share a single invocation and
// all receive the same plaintext or the same failure. Distinct fingerprints
// proceed independently.
//
// The returned slice is owned by the caller; the cache keeps its own copy.
func (c *Cache) GetOrUnlock(fingerprint string, unlock func() ([]byte, error)) ([]byte, error) {
	if plaintext, ok := c.Get(fingerprint); ok {
		return plaintext, nil
	}

	value, err, _ := c.group.Do(fingerprint, func() (interface{}, error) {
		// A concurrent caller may have finished the ceremony while this one
		// waited on the flight group.
		if plaintext, ok := c.Get(fingerprint); ok {
			return plaintext, nil
		}
		plaintext, err := unlock()
		if err != nil {
			return nil, err
		}
		c.Put(fingerprint, plaintext)
		return plaintext, nil
	})
	if err != nil {
		return nil, err
	}

	// Every caller gets an independent copy so one caller scrubbing its buffer
	// cannot blank another's.
	shared := value.([]byte)
	out := make([]byte, len(shared))
	copy(out, shared)
	return out, nil
}

// Clear removes the entry for fingerprint, zeroing its plaintext first.
func (c *Cache) Clear(fingerprint string) {
	if c.store == nil {
		return
	}
	c.store.Delete(fingerprint) // Delete fires the OnEvicted zeroing hook.
}

// ClearAll removes every entry, zeroing each plaintext. Returns the number of
// entries removed.
func (c *Cache) ClearAll() int {
	if c.store == nil {
		return 0
	}
	items := c.store.Items()
	for fingerprint := range items {
		c.store.Delete(fingerprint)
	}
	return len(items)
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	if c.store == nil {
		return 0
	}
	return c.store.ItemCount()
}
