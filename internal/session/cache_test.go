package session

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetOrUnlock_CachesResult(t *testing.T) {
	cache := New(Options{TTL: time.Minute})
	var ceremonies atomic.Int32
	unlock := func() ([]byte, error) {
		ceremonies.Add(1)
		return []byte("secret"), nil
	}

	first, err := cache.GetOrUnlock("fp-1", unlock)
	if err != nil {
		t.Fatalf("GetOrUnlock failed: %v", err)
	}
	second, err := cache.GetOrUnlock("fp-1", unlock)
	if err != nil {
		t.Fatalf("GetOrUnlock failed: %v", err)
	}

	if got := ceremonies.Load(); got != 1 {
		t.Errorf("Expected exactly 1 ceremony, got %d", got)
	}
	if !bytes.Equal(first, second) {
		t.Error("Hit should return the same plaintext as the original unlock")
	}
}

func TestGetOrUnlock_SingleFlight(t *testing.T) {
	cache := New(Options{TTL: time.Minute})
	var ceremonies atomic.Int32
	release := make(chan struct{})
	unlock := func() ([]byte, error) {
		ceremonies.Add(1)
		<-release
		return []byte("secret"), nil
	}

	const callers = 16
	results := make([][]byte, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.GetOrUnlock("fp-1", unlock)
		}(i)
	}

	// Give every goroutine time to reach the flight group before the
	// ceremony completes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := ceremonies.Load(); got != 1 {
		t.Errorf("Expected exactly 1 ceremony for %d concurrent callers, got %d", callers, got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("Caller %d failed: %v", i, errs[i])
		}
		if !bytes.Equal(results[i], []byte("secret")) {
			t.Errorf("Caller %d got %q", i, results[i])
		}
	}
}

func TestGetOrUnlock_SharedFailure(t *testing.T) {
	cache := New(Options{TTL: time.Minute})
	ceremonyErr := errors.New("user cancelled")
	var ceremonies atomic.Int32
	release := make(chan struct{})
	unlock := func() ([]byte, error) {
		ceremonies.Add(1)
		<-release
		return nil, ceremonyErr
	}

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cache.GetOrUnlock("fp-1", unlock)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := ceremonies.Load(); got != 1 {
		t.Errorf("Expected 1 ceremony, got %d", got)
	}
	for i, err := range errs {
		if !errors.Is(err, ceremonyErr) {
			t.Errorf("Caller %d: expected the ceremony error, got: %v", i, err)
		}
	}

	// A failure must not poison the fingerprint: the next call retries.
	if _, err := cache.GetOrUnlock("fp-1", func() ([]byte, error) { return []byte("ok"), nil }); err != nil {
		t.Errorf("Retry after failure should succeed, got: %v", err)
	}
}

func TestGetOrUnlock_DistinctFingerprintsIndependent(t *testing.T) {
	cache := New(Options{TTL: time.Minute})
	var ceremonies atomic.Int32
	unlock := func() ([]byte, error) {
		ceremonies.Add(1)
		return []byte("secret"), nil
	}

	if _, err := cache.GetOrUnlock("fp-1", unlock); err != nil {
		t.Fatalf("GetOrUnlock failed: %v", err)
	}
	if _, err := cache.GetOrUnlock("fp-2", unlock); err != nil {
		t.Fatalf("GetOrUnlock failed: %v", err)
	}
	if got := ceremonies.Load(); got != 2 {
		t.Errorf("Expected 2 ceremonies for 2 fingerprints, got %d", got)
	}
}

func TestZeroTTL_DisablesCaching(t *testing.T) {
	cache := New(Options{TTL: 0})
	var ceremonies atomic.Int32
	unlock := func() ([]byte, error) {
		ceremonies.Add(1)
		return []byte("secret"), nil
	}

	for i := 0; i < 3; i++ {
		if _, err := cache.GetOrUnlock("fp-1", unlock); err != nil {
			t.Fatalf("GetOrUnlock failed: %v", err)
		}
	}
	if got := ceremonies.Load(); got != 3 {
		t.Errorf("Expected a ceremony per call with caching disabled, got %d", got)
	}
	if cache.Len() != 0 {
		t.Errorf("Expected empty cache, got %d entries", cache.Len())
	}
}

func TestGet_ExpiredEntryIsMiss(t *testing.T) {
	cache := New(Options{TTL: 20 * time.Millisecond})
	cache.Put("fp-1", []byte("secret"))

	if _, ok := cache.Get("fp-1"); !ok {
		t.Fatal("Expected a hit before expiry")
	}
	time.Sleep(40 * time.Millisecond)
	if _, ok := cache.Get("fp-1"); ok {
		t.Error("Expected a miss after TTL expiry")
	}
}

func TestGet_ReturnsIndependentCopy(t *testing.T) {
	cache := New(Options{TTL: time.Minute})
	cache.Put("fp-1", []byte("secret"))

	first, _ := cache.Get("fp-1")
	first[0] = 'X'

	second, _ := cache.Get("fp-1")
	if !bytes.Equal(second, []byte("secret")) {
		t.Error("Mutating a returned buffer should not affect the cached copy")
	}
}

func TestClear_ZeroesPlaintext(t *testing.T) {
	cache := New(Options{TTL: time.Minute})
	cache.Put("fp-1", []byte("secret"))

	// Grab the live backing buffer before eviction to observe the zeroing.
	value, found := cache.store.Get("fp-1")
	if !found {
		t.Fatal("Expected stored entry")
	}
	buf := value.([]byte)

	cache.Clear("fp-1")
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("Byte %d of evicted plaintext not zeroed", i)
		}
	}
	if _, ok := cache.Get("fp-1"); ok {
		t.Error("Expected a miss after Clear")
	}
}

func TestClearAll(t *testing.T) {
	cache := New(Options{TTL: time.Minute})
	cache.Put("fp-1", []byte("one"))
	cache.Put("fp-2", []byte("two"))

	value, _ := cache.store.Get("fp-2")
	buf := value.([]byte)

	if removed := cache.ClearAll(); removed != 2 {
		t.Errorf("Expected 2 removed, got %d", removed)
	}
	if cache.Len() != 0 {
		t.Errorf("Expected empty cache, got %d entries", cache.Len())
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("Byte %d of cleared plaintext not zeroed", i)
		}
	}
}

func TestPut_ZeroesOverwrittenBuffer(t *testing.T) {
	cache := New(Options{TTL: time.Minute})
	cache.Put("fp-1", []byte("old value"))

	value, _ := cache.store.Get("fp-1")
	old := value.([]byte)

	cache.Put("fp-1", []byte("new value"))
	for i, b := range old {
		if b != 0 {
			t.Fatalf("Byte %d of overwritten plaintext not zeroed", i)
		}
	}

	got, ok := cache.Get("fp-1")
	if !ok || !bytes.Equal(got, []byte("new value")) {
		t.Errorf("Expected new value after overwrite, got %q (hit=%v)", got, ok)
	}
}
