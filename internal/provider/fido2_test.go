package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	vhsmerrors "github.com/vhsm-dev/vhsm/internal/errors"

	"github.com/go-webauthn/webauthn/protocol"
)

func TestPrfOutput(t *testing.T) {
	secret := []byte("thirty-two bytes of prf output!!")
	outputs := protocol.AuthenticationExtensionsClientOutputs{
		"prf": map[string]any{
			"results": map[string]any{
				"first": base64.RawURLEncoding.EncodeToString(secret),
			},
		},
	}

	got, err := prfOutput(outputs)
	if err != nil {
		t.Fatalf("prfOutput failed: %v", err)
	}
	if string(got) != string(secret) {
		t.Errorf("Expected the decoded secret, got %q", got)
	}
}

func TestPrfOutput_MissingExtension(t *testing.T) {
	tests := []struct {
		name    string
		outputs protocol.AuthenticationExtensionsClientOutputs
		want    error
	}{
		{"no prf key", protocol.AuthenticationExtensionsClientOutputs{}, vhsmerrors.ErrProviderUnavailable},
		{"no results", protocol.AuthenticationExtensionsClientOutputs{"prf": map[string]any{}}, vhsmerrors.ErrProviderUnavailable},
		{"no first output", protocol.AuthenticationExtensionsClientOutputs{
			"prf": map[string]any{"results": map[string]any{}},
		}, vhsmerrors.ErrProviderUnavailable},
		{"undecodable output", protocol.AuthenticationExtensionsClientOutputs{
			"prf": map[string]any{"results": map[string]any{"first": "!!!not base64!!!"}},
		}, vhsmerrors.ErrAuthenticationFailed},
		{"empty output", protocol.AuthenticationExtensionsClientOutputs{
			"prf": map[string]any{"results": map[string]any{"first": ""}},
		}, vhsmerrors.ErrAuthenticationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := prfOutput(tt.outputs); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got: %v", tt.want, err)
			}
		})
	}
}

func TestCeremonyState_Terminal(t *testing.T) {
	terminal := map[ceremonyState]bool{
		stateIdle:           false,
		stateAwaitingDevice: false,
		stateVerified:       true,
		stateRejected:       true,
		stateTimedOut:       true,
		stateClosed:         true,
	}
	for state, want := range terminal {
		if state.terminal() != want {
			t.Errorf("State %s: terminal() = %v, want %v", state, state.terminal(), want)
		}
	}
}

func TestCeremonyListener_Timeout(t *testing.T) {
	listener, err := newCeremonyListener(http.NewServeMux())
	if err != nil {
		t.Fatalf("Failed to start listener: %v", err)
	}
	defer listener.Close()

	listener.awaitingDevice()
	_, err = listener.wait(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, vhsmerrors.ErrTimedOut) {
		t.Errorf("Expected ErrTimedOut, got: %v", err)
	}
	if listener.state != stateTimedOut {
		t.Errorf("Expected timed-out state, got %s", listener.state)
	}
}

func TestCeremonyListener_FirstOutcomeWins(t *testing.T) {
	listener, err := newCeremonyListener(http.NewServeMux())
	if err != nil {
		t.Fatalf("Failed to start listener: %v", err)
	}
	defer listener.Close()

	listener.awaitingDevice()
	listener.finish(ceremonyOutcome{secret: []byte("winner")})
	// A late callback from an abandoned tab must be dropped.
	listener.finish(ceremonyOutcome{err: errors.New("stale tab")})

	secret, err := listener.wait(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if string(secret) != "winner" {
		t.Errorf("Expected the first outcome, got %q", secret)
	}
	if listener.state != stateVerified {
		t.Errorf("Expected verified state, got %s", listener.state)
	}
}

func TestCeremonyListener_ContextCancel(t *testing.T) {
	listener, err := newCeremonyListener(http.NewServeMux())
	if err != nil {
		t.Fatalf("Failed to start listener: %v", err)
	}
	defer listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := listener.wait(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got: %v", err)
	}
}

func TestCeremonyListener_OriginUsesLocalhost(t *testing.T) {
	listener, err := newCeremonyListener(http.NewServeMux())
	if err != nil {
		t.Fatalf("Failed to start listener: %v", err)
	}
	defer listener.Close()

	origin := listener.origin()
	if !strings.HasPrefix(origin, "http://localhost:") {
		t.Errorf("Expected a localhost origin, got %q", origin)
	}
}

func TestCeremonyListener_CloseIsIdempotent(t *testing.T) {
	listener, err := newCeremonyListener(http.NewServeMux())
	if err != nil {
		t.Fatalf("Failed to start listener: %v", err)
	}
	listener.Close()
	listener.Close()
	if listener.state != stateClosed {
		t.Errorf("Expected closed state, got %s", listener.state)
	}
}
