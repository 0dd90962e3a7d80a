package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/vhsm-dev/vhsm/internal/crypto"
	"github.com/vhsm-dev/vhsm/internal/envelope"
	vhsmerrors "github.com/vhsm-dev/vhsm/internal/errors"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/skratchdot/open-golang/open"
)

// fido2KeyInfo domain-separates the HKDF expansion of the authenticator's
// PRF output into the envelope data key.
const fido2KeyInfo = "vhsm/fido2/key/v1"

// fido2Metadata records everything needed to repeat the assertion ceremony:
// the credential to ask for, its public key (to verify the assertion), and
// the per-envelope PRF salt the data key is derived from. The data key itself
// is reproducible only by the physical authenticator.
type fido2Metadata struct {
	CredentialID []byte `json:"credential_id"`
	PublicKey    []byte `json:"public_key"`
	UserHandle   []byte `json:"user_handle"`
	RPID         string `json:"rp_id"`
	Salt         []byte `json:"salt"`
}

// FIDO2 protects envelopes with a key derived from a WebAuthn security key's
// PRF output. Both Protect and Unprotect run a browser-mediated ceremony
// against a short-lived loopback listener.
type FIDO2 struct{}

func (f *FIDO2) ID() envelope.ProviderID { return envelope.ProviderFIDO2 }

// ceremonyUser satisfies webauthn.User for the single local user taking part
// in a ceremony.
type ceremonyUser struct {
	id          []byte
	name        string
	credentials []webauthn.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte                         { return u.id }
func (u *ceremonyUser) WebAuthnName() string                       { return u.name }
func (u *ceremonyUser) WebAuthnDisplayName() string                { return u.name }
func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }
func (u *ceremonyUser) WebAuthnIcon() string                       { return "" }

// fido2Ceremony carries the mutable state the HTTP handlers share during one
// ceremony. Handlers run on the listener's goroutines, so everything behind
// mu.
type fido2Ceremony struct {
	web      *webauthn.WebAuthn
	user     *ceremonyUser
	salt     []byte
	listener *ceremonyListener

	mu           sync.Mutex
	regSession   *webauthn.SessionData
	loginSession *webauthn.SessionData
	credential   *webauthn.Credential
}

func (f *FIDO2) relyingParty(cfg *Config, origin string) (*webauthn.WebAuthn, error) {
	name := "vhsm"
	if cfg != nil && cfg.RelyingPartyName != "" {
		name = cfg.RelyingPartyName
	}
	rpID := "localhost"
	if cfg != nil && cfg.RelyingPartyID != "" {
		rpID = cfg.RelyingPartyID
	}
	web, err := webauthn.New(&webauthn.Config{
		RPDisplayName: name,
		RPID:          rpID,
		RPOrigins:     []string{origin},
	})
	if err != nil {
		return nil, fmt.Errorf("bad relying party configuration: %v: %w", err, vhsmerrors.ErrProviderUnavailable)
	}
	return web, nil
}

func (f *FIDO2) Protect(ctx context.Context, plaintext []byte, cfg *Config) (*envelope.Envelope, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("refusing to protect an empty plaintext")
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		return nil, err
	}

	userID := uuid.New()
	ceremony := &fido2Ceremony{
		user: &ceremonyUser{id: userID[:], name: "vhsm"},
		salt: salt,
	}

	secret, err := f.runCeremony(ctx, cfg, ceremony, true)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(secret)

	ceremony.mu.Lock()
	credential := ceremony.credential
	ceremony.mu.Unlock()
	if credential == nil {
		return nil, fmt.Errorf("ceremony finished without a credential: %w", vhsmerrors.ErrAuthenticationFailed)
	}

	key, err := crypto.ExpandKey(secret, salt, fido2KeyInfo, crypto.KeySize)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(key)

	meta := fido2Metadata{
		CredentialID: credential.ID,
		PublicKey:    credential.PublicKey,
		UserHandle:   userID[:],
		RPID:         ceremony.web.Config.RPID,
		Salt:         salt,
	}

	return sealWithKey(key, plaintext, f.ID(), meta)
}

func (f *FIDO2) Unprotect(ctx context.Context, env *envelope.Envelope, cfg *Config) ([]byte, error) {
	var meta fido2Metadata
	if err := parseMetadata(env, &meta); err != nil {
		return nil, err
	}
	if len(meta.CredentialID) == 0 || len(meta.PublicKey) == 0 || len(meta.Salt) == 0 {
		return nil, fmt.Errorf("incomplete fido2 metadata: %w", vhsmerrors.ErrEnvelopeCorrupt)
	}

	ceremony := &fido2Ceremony{
		user: &ceremonyUser{
			id:   meta.UserHandle,
			name: "vhsm",
			credentials: []webauthn.Credential{{
				ID:        meta.CredentialID,
				PublicKey: meta.PublicKey,
			}},
		},
		salt: meta.Salt,
	}

	secret, err := f.runCeremony(ctx, cfg, ceremony, false)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(secret)

	key, err := crypto.ExpandKey(secret, meta.Salt, fido2KeyInfo, crypto.KeySize)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(key)

	return openWithKey(key, env)
}

// runCeremony opens the loopback listener, points a browser at it, and waits
// for the authenticator's PRF output. The listener is torn down on every exit
// path, and an abandoned interaction fails with ErrTimedOut.
func (f *FIDO2) runCeremony(ctx context.Context, cfg *Config, ceremony *fido2Ceremony, register bool) ([]byte, error) {
	mux := http.NewServeMux()
	listener, err := newCeremonyListener(mux)
	if err != nil {
		return nil, err
	}
	defer listener.Close()
	ceremony.listener = listener

	web, err := f.relyingParty(cfg, listener.origin())
	if err != nil {
		return nil, err
	}
	ceremony.web = web

	if register {
		creation, session, err := web.BeginRegistration(ceremony.user,
			webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementDiscouraged),
			webauthn.WithExtensions(protocol.AuthenticationExtensions{
				"prf": map[string]any{},
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to begin registration: %v: %w", err, vhsmerrors.ErrProviderUnavailable)
		}
		ceremony.regSession = session
		mux.HandleFunc("GET /options", jsonHandler(func() (any, error) { return creation, nil }))
		mux.HandleFunc("POST /create", ceremony.handleCreate)
	} else {
		assertion, session, err := web.BeginLogin(ceremony.user, ceremony.prfLoginOption())
		if err != nil {
			return nil, fmt.Errorf("failed to begin authentication: %v: %w", err, vhsmerrors.ErrProviderUnavailable)
		}
		ceremony.loginSession = session
		mux.HandleFunc("GET /options", jsonHandler(func() (any, error) { return assertion, nil }))
	}

	mux.HandleFunc("GET /", ceremony.handlePage(register))
	mux.HandleFunc("POST /assert", ceremony.handleAssert)
	mux.HandleFunc("POST /error", ceremony.handleError)

	if err := open.Run(listener.origin()); err != nil {
		return nil, fmt.Errorf("cannot open a browser for the ceremony: %v: %w", err, vhsmerrors.ErrProviderUnavailable)
	}
	listener.awaitingDevice()

	return listener.wait(ctx, cfg.CeremonyTimeout())
}

// prfLoginOption requests a PRF evaluation over the per-envelope salt.
func (c *fido2Ceremony) prfLoginOption() webauthn.LoginOption {
	return webauthn.WithAssertionExtensions(protocol.AuthenticationExtensions{
		"prf": map[string]any{
			"eval": map[string]any{
				"first": base64.RawURLEncoding.EncodeToString(c.salt),
			},
		},
	})
}

// handleCreate finishes the registration half of a protect ceremony and hands
// the browser the assertion options for the PRF evaluation that follows.
func (c *fido2Ceremony) handleCreate(w http.ResponseWriter, r *http.Request) {
	parsed, err := protocol.ParseCredentialCreationResponseBody(r.Body)
	if err != nil {
		c.fail(w, fmt.Errorf("malformed attestation response: %v: %w", err, vhsmerrors.ErrAuthenticationFailed))
		return
	}

	c.mu.Lock()
	session := c.regSession
	c.mu.Unlock()
	if session == nil {
		c.fail(w, fmt.Errorf("no registration in progress: %w", vhsmerrors.ErrAuthenticationFailed))
		return
	}

	credential, err := c.web.CreateCredential(c.user, *session, parsed)
	if err != nil {
		c.fail(w, fmt.Errorf("attestation did not verify: %v: %w", err, vhsmerrors.ErrAuthenticationFailed))
		return
	}

	c.mu.Lock()
	c.credential = credential
	c.user.credentials = append(c.user.credentials, *credential)
	c.mu.Unlock()

	// Chain straight into an assertion: most authenticators only release PRF
	// output during get(), not create().
	assertion, loginSession, err := c.web.BeginLogin(c.user, c.prfLoginOption())
	if err != nil {
		c.fail(w, fmt.Errorf("failed to begin post-registration assertion: %v: %w", err, vhsmerrors.ErrProviderUnavailable))
		return
	}
	c.mu.Lock()
	c.loginSession = loginSession
	c.mu.Unlock()

	writeJSON(w, assertion)
}

// handleAssert verifies the assertion and extracts the PRF output that seeds
// the data key.
func (c *fido2Ceremony) handleAssert(w http.ResponseWriter, r *http.Request) {
	parsed, err := protocol.ParseCredentialRequestResponseBody(r.Body)
	if err != nil {
		c.fail(w, fmt.Errorf("malformed assertion response: %v: %w", err, vhsmerrors.ErrAuthenticationFailed))
		return
	}

	c.mu.Lock()
	session := c.loginSession
	c.mu.Unlock()
	if session == nil {
		c.fail(w, fmt.Errorf("no authentication in progress: %w", vhsmerrors.ErrAuthenticationFailed))
		return
	}

	if _, err := c.web.ValidateLogin(c.user, *session, parsed); err != nil {
		c.fail(w, fmt.Errorf("assertion did not verify: %v: %w", err, vhsmerrors.ErrAuthenticationFailed))
		return
	}

	secret, err := prfOutput(parsed.ClientExtensionResults)
	if err != nil {
		c.fail(w, err)
		return
	}

	writeJSON(w, map[string]string{"status": "ok"})
	c.listener.finish(ceremonyOutcome{secret: secret})
}

// handleError receives ceremony failures the browser reports, such as the
// user dismissing the security key prompt.
func (c *fido2Ceremony) handleError(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Message == "" {
		body.Message = "ceremony failed in the browser"
	}
	writeJSON(w, map[string]string{"status": "ok"})
	c.listener.finish(ceremonyOutcome{err: fmt.Errorf("%s: %w", body.Message, vhsmerrors.ErrAuthenticationFailed)})
}

func (c *fido2Ceremony) handlePage(register bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		mode := "authenticate"
		if register {
			mode = "register"
		}
		_, _ = w.Write([]byte(strings.ReplaceAll(ceremonyPage, "{{MODE}}", mode)))
	}
}

// fail reports the error to the browser and terminates the ceremony with it.
func (c *fido2Ceremony) fail(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
	c.listener.finish(ceremonyOutcome{err: err})
}

// prfOutput pulls the authenticator's PRF result out of the client extension
// outputs. A missing result means the authenticator does not support the PRF
// extension, which this provider requires.
func prfOutput(outputs protocol.AuthenticationExtensionsClientOutputs) ([]byte, error) {
	prf, ok := outputs["prf"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("security key does not support the prf extension: %w", vhsmerrors.ErrProviderUnavailable)
	}
	results, ok := prf["results"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("prf extension returned no results: %w", vhsmerrors.ErrProviderUnavailable)
	}
	first, ok := results["first"].(string)
	if !ok {
		return nil, fmt.Errorf("prf extension returned no output: %w", vhsmerrors.ErrProviderUnavailable)
	}
	secret, err := base64.RawURLEncoding.DecodeString(first)
	if err != nil {
		return nil, fmt.Errorf("undecodable prf output: %v: %w", err, vhsmerrors.ErrAuthenticationFailed)
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("empty prf output: %w", vhsmerrors.ErrAuthenticationFailed)
	}
	return secret, nil
}

func jsonHandler(produce func() (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		value, err := produce()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, value)
	}
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(value)
}
