package provider

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	vhsmerrors "github.com/vhsm-dev/vhsm/internal/errors"
)

// ceremonyState tracks an interactive ceremony through its life:
// Idle -> AwaitingDevice -> (Verified | Rejected | TimedOut) -> Closed.
// Only Verified yields a key; every other terminal state propagates a typed
// failure after teardown.
type ceremonyState int

const (
	stateIdle ceremonyState = iota
	stateAwaitingDevice
	stateVerified
	stateRejected
	stateTimedOut
	stateClosed
)

func (s ceremonyState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateAwaitingDevice:
		return "awaiting-device"
	case stateVerified:
		return "verified"
	case stateRejected:
		return "rejected"
	case stateTimedOut:
		return "timed-out"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// terminal reports whether the ceremony has reached an outcome.
func (s ceremonyState) terminal() bool {
	return s == stateVerified || s == stateRejected || s == stateTimedOut || s == stateClosed
}

// ceremonyOutcome is what an interactive flow hands back to the provider.
type ceremonyOutcome struct {
	// secret is the authenticator-derived key material (the PRF output).
	secret []byte
	err    error
}

// ceremonyListener owns the loopback HTTP endpoint for exactly one ceremony.
// It is created when the ceremony starts and torn down before the ceremony's
// call returns or fails, on every exit path.
type ceremonyListener struct {
	lis net.Listener
	srv *http.Server

	mu      sync.Mutex
	state   ceremonyState
	outcome chan ceremonyOutcome
}

// newCeremonyListener binds a fresh loopback port and starts serving mux.
func newCeremonyListener(mux http.Handler) (*ceremonyListener, error) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("cannot bind loopback callback listener: %v: %w", err, vhsmerrors.ErrProviderUnavailable)
	}

	c := &ceremonyListener{
		lis:     lis,
		srv:     &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		state:   stateIdle,
		outcome: make(chan ceremonyOutcome, 1),
	}

	go func() { _ = c.srv.Serve(lis) }()

	return c, nil
}

// origin returns the relying-party origin the browser will report. The
// listener binds 127.0.0.1 but the page is opened via localhost, which
// browsers treat as a secure context and which matches the localhost
// relying-party id.
func (c *ceremonyListener) origin() string {
	_, port, err := net.SplitHostPort(c.lis.Addr().String())
	if err != nil {
		return "http://" + c.lis.Addr().String()
	}
	return "http://localhost:" + port
}

// awaitingDevice marks the ceremony as waiting for user interaction.
func (c *ceremonyListener) awaitingDevice() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateIdle {
		c.state = stateAwaitingDevice
	}
}

// finish records the ceremony's outcome. Only the first call counts; late
// callbacks from an abandoned browser tab are dropped.
func (c *ceremonyListener) finish(outcome ceremonyOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.terminal() {
		return
	}
	if outcome.err != nil {
		c.state = stateRejected
	} else {
		c.state = stateVerified
	}
	c.outcome <- outcome
}

// wait blocks until the ceremony completes, the timeout elapses, or ctx is
// cancelled. Abandoned interactions fail with ErrTimedOut rather than hanging.
func (c *ceremonyListener) wait(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case outcome := <-c.outcome:
		return outcome.secret, outcome.err
	case <-timer.C:
		c.mu.Lock()
		c.state = stateTimedOut
		c.mu.Unlock()
		return nil, fmt.Errorf("no response from the security key within %s: %w", timeout, vhsmerrors.ErrTimedOut)
	case <-ctx.Done():
		c.mu.Lock()
		c.state = stateRejected
		c.mu.Unlock()
		return nil, fmt.Errorf("ceremony cancelled: %w", ctx.Err())
	}
}

// Close tears the listener down. Safe to call from any state and more than
// once; providers defer it so teardown happens on every exit path.
func (c *ceremonyListener) Close() {
	c.mu.Lock()
	c.state = stateClosed
	c.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.srv.Shutdown(shutdownCtx); err != nil {
		_ = c.srv.Close()
	}
}
