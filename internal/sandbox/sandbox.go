package sandbox

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/Jeffail/gabs/v2"
	"golang.org/x/sync/errgroup"

	"github.com/vhsm-dev/vhsm/internal/configs"
	"github.com/vhsm-dev/vhsm/internal/crypto"
	vhsmerrors "github.com/vhsm-dev/vhsm/internal/errors"
	logger "github.com/vhsm-dev/vhsm/internal/logging"
	"github.com/vhsm-dev/vhsm/internal/provider"
	"github.com/vhsm-dev/vhsm/internal/session"
)

// Func is the caller-supplied function the sandbox invokes with fully
// resolved arguments. Its return value passes through unmodified; the sandbox
// neither inspects nor redacts it.
type Func func(args map[string]any) (any, error)

// ExecConfig carries call-site options for one Exec call.
type ExecConfig struct {
	// AllowExec is read for diagnostics only. The gate decision comes from the
	// environment variable and the admin config file, never from here.
	AllowExec bool

	// Passphrase is forwarded to the password provider for envelopes that
	// need one, so resolution can run non-interactively.
	Passphrase []byte
}

// Sandbox resolves @vhsm references and pending values in an argument map,
// invokes the target function, and scrubs every intermediate secret buffer it
// allocated, on every exit path.
type Sandbox struct {
	Cache    *session.Cache
	Config   *configs.Config
	Provider *provider.Config
	Logger   logger.Logger

	// lookupEnv and readFile are swappable for tests.
	lookupEnv func(string) (string, bool)
	readFile  func(string) ([]byte, error)

	// unlock is the envelope unlock path; swappable for tests.
	unlock func(ctx context.Context, raw []byte, providerConfig *provider.Config) ([]byte, error)
}

// New creates a sandbox backed by the given session cache and configuration.
func New(cache *session.Cache, config *configs.Config, providerConfig *provider.Config) *Sandbox {
	s := &Sandbox{
		Cache:     cache,
		Config:    config,
		Provider:  providerConfig,
		lookupEnv: os.LookupEnv,
		readFile:  os.ReadFile,
	}
	s.unlock = func(ctx context.Context, raw []byte, providerConfig *provider.Config) ([]byte, error) {
		return provider.Unlock(ctx, s.Cache, raw, providerConfig)
	}
	return s
}

// Exec runs fn with the resolved arguments. The gate is checked before any
// token is resolved; a disabled gate means fn is never invoked. A failure
// resolving any single argument aborts the whole call with that failure, and
// every already-decrypted buffer is scrubbed before Exec returns.
func (s *Sandbox) Exec(ctx context.Context, fn Func, args map[string]any, cfg *ExecConfig) (any, error) {
	if !ExecAllowed(s.lookupEnv, s.Config) {
		if cfg != nil && cfg.AllowExec {
			// Deliberately ignored: the gate cannot be opened from a call site.
			s.Logger.WarnfAlways("call-site AllowExec=true ignored; the gate is admin-controlled")
		}
		return nil, fmt.Errorf("secure execution is not enabled for this process: %w", vhsmerrors.ErrExecDisabled)
	}

	scrub := newScrubList()
	defer scrub.Wipe()

	resolved, err := s.resolveArgs(ctx, args, cfg, scrub)
	if err != nil {
		return nil, err
	}

	if fn == nil {
		return nil, fmt.Errorf("nil function passed to Exec")
	}
	return fn(resolved)
}

// resolveArgs walks the argument map and replaces token strings and pending
// handles with their resolved values. Parsing happens in a first pass so a
// malformed token aborts before any unlock starts; the second pass runs all
// resolutions concurrently, so unrelated unlock ceremonies never serialize
// behind each other. group.Wait is reached on every path that spawned a
// resolver, so every scrub.Add happens-before the deferred Wipe and no
// resolver outlives the call.
func (s *Sandbox) resolveArgs(ctx context.Context, args map[string]any, cfg *ExecConfig, scrub *scrubList) (map[string]any, error) {
	resolved := make(map[string]any, len(args))
	tokens := make(map[string]*Token)
	pendings := make(map[string]*Pending)

	for name, value := range args {
		switch v := value.(type) {
		case string:
			token, isToken, err := ParseToken(v)
			if err != nil {
				return nil, fmt.Errorf("argument %q: %w", name, err)
			}
			if isToken {
				tokens[name] = token
			} else {
				resolved[name] = v
			}
		case *Pending:
			pendings[name] = v
		default:
			resolved[name] = value
		}
	}

	// All literal writes above are complete before any resolver goroutine
	// starts; concurrent writes below go through mu.
	var mu sync.Mutex
	group, ctx := errgroup.WithContext(ctx)
	for name, token := range tokens {
		name, token := name, token
		group.Go(func() error {
			out, err := s.resolveToken(ctx, token, cfg, scrub)
			if err != nil {
				return fmt.Errorf("argument %q: %w", name, err)
			}
			mu.Lock()
			resolved[name] = out
			mu.Unlock()
			return nil
		})
	}
	for name, pending := range pendings {
		name, pending := name, pending
		group.Go(func() error {
			out, err := pending.Await(ctx)
			if err != nil {
				return fmt.Errorf("argument %q: %w", name, err)
			}
			mu.Lock()
			resolved[name] = out
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return resolved, nil
}

// resolveToken unlocks the referenced envelope and, when the token carries a
// path, projects into the decrypted JSON document. The decrypted buffer is
// registered for scrubbing regardless of outcome.
func (s *Sandbox) resolveToken(ctx context.Context, token *Token, cfg *ExecConfig, scrub *scrubList) (any, error) {
	raw, err := s.readFile(token.Source)
	if err != nil {
		return nil, fmt.Errorf("cannot read envelope %s: %v: %w", token.Source, err, vhsmerrors.ErrInvalidToken)
	}

	providerConfig := s.Provider
	if providerConfig == nil {
		providerConfig = &provider.Config{}
	}
	if cfg != nil && cfg.Passphrase != nil {
		clone := *providerConfig
		clone.Passphrase = cfg.Passphrase
		providerConfig = &clone
	}

	plaintext, err := s.unlock(ctx, raw, providerConfig)
	if err != nil {
		return nil, err
	}
	scrub.Add(plaintext)

	if token.Path == "" {
		// Strings copy their bytes, so the scrubbed buffer does not reach fn.
		return string(plaintext), nil
	}

	document, err := gabs.ParseJSON(plaintext)
	if err != nil {
		return nil, fmt.Errorf("envelope %s does not hold a JSON document: %w", token.Source, vhsmerrors.ErrInvalidToken)
	}

	value := document.Path(token.Path)
	if value == nil {
		return nil, fmt.Errorf("path %q not found in %s: %w", token.Path, token.Source, vhsmerrors.ErrInvalidToken)
	}
	switch value.Data().(type) {
	case map[string]any, []any:
		return nil, fmt.Errorf("path %q is not a leaf value: %w", token.Path, vhsmerrors.ErrInvalidToken)
	}
	return value.Data(), nil
}

// scrubList tracks the intermediate buffers a call decrypted so they can be
// zeroed on the way out. Adds may come from concurrent resolutions.
type scrubList struct {
	mu      sync.Mutex
	buffers [][]byte
}

func newScrubList() *scrubList {
	return &scrubList{}
}

func (l *scrubList) Add(buf []byte) {
	l.mu.Lock()
	l.buffers = append(l.buffers, buf)
	l.mu.Unlock()
}

// Wipe zeroes every tracked buffer.
func (l *scrubList) Wipe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, buf := range l.buffers {
		crypto.Zero(buf)
	}
	l.buffers = nil
}
