// Package indieauth logs users in against their own website using the
// IndieAuth profile of OAuth 2.0, with PKCE. It acts as the catch-all for
// web-URL identities: any https? URL that no more specific handler claims
// is offered an IndieAuth flow, and support is only actually checked when
// the flow starts.
package indieauth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-uuid"
	gocache "github.com/patrickmn/go-cache"

	authl "github.com/plaidweb/authl-go"
	"github.com/plaidweb/authl-go/disposition"
	"github.com/plaidweb/authl-go/internal/httputil"
	"github.com/plaidweb/authl-go/pending"
)

const (
	// DefaultLifetime bounds how long a started IndieAuth flow stays
	// redeemable.
	DefaultLifetime = 10 * time.Minute

	// DefaultCacheTTL bounds how long discovered endpoints and parsed
	// profiles are reused before the identity page is fetched again.
	DefaultCacheTTL = 5 * time.Minute
)

// authRequest correlates a callback with the flow that started it.
type authRequest struct {
	IdentityURL string
	Endpoint    string
	CallbackURI string
	Verifier    string
	Redirect    string
}

// Handler implements IndieAuth sign-in for self-hosted identity URLs.
type Handler struct {
	clientID func() string
	pending  *pending.Cache
	client   *http.Client
	cache    *gocache.Cache
	profiles *gocache.Cache
	lifetime time.Duration
	log      hclog.Logger
}

var _ authl.Handler = (*Handler)(nil)

// New creates an IndieAuth handler. clientID is the URL identifying this
// application to authorization endpoints, and pend stores in-flight logins.
//
// Valid options: WithClientIDFunc, WithHTTPClient, WithLifetime,
// WithCacheTTL, WithLogger.
func New(clientID string, pend *pending.Cache, opt ...Option) (*Handler, error) {
	const op = "indieauth.New"
	opts := getOpts(opt...)

	var errs *multierror.Error
	if clientID == "" && opts.withClientIDFunc == nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: missing client id: %w", op, authl.ErrInvalidParameter))
	}
	if pend == nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: missing pending cache: %w", op, authl.ErrNilParameter))
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	idFn := opts.withClientIDFunc
	if idFn == nil {
		idFn = func() string { return clientID }
	}
	client := opts.withHTTPClient
	if client == nil {
		client = httputil.NewClient(30 * time.Second)
	}
	return &Handler{
		clientID: idFn,
		pending:  pend,
		client:   client,
		cache:    gocache.New(opts.withCacheTTL, opts.withCacheTTL),
		profiles: gocache.New(opts.withCacheTTL, opts.withCacheTTL),
		lifetime: opts.withLifetime,
		log:      opts.withLogger,
	}, nil
}

// ID satisfies authl.Handler.
func (h *Handler) ID() string { return "ia" }

// ServiceName satisfies authl.Handler.
func (h *Handler) ServiceName() string { return "IndieAuth" }

// Description satisfies authl.Handler.
func (h *Handler) Description() string {
	return `Uses your own website as your identity via <a href="https://indieauth.net/">IndieAuth</a>.`
}

// URLSchemes satisfies authl.Handler.
func (h *Handler) URLSchemes() []authl.URLScheme {
	return []authl.URLScheme{{Format: "%", Placeholder: "https://example.com/"}}
}

// Match never claims an identity by pattern; IndieAuth has no URL shape of
// its own. The handler relies on Generic to pick up web URLs nothing else
// wanted, and finds out whether the site actually supports IndieAuth when
// the flow starts.
func (h *Handler) Match(identity string) (string, bool) { return "", false }

// Generic satisfies authl.Handler.
func (h *Handler) Generic() bool { return true }

// InitiateAuth discovers the site's authorization endpoint and redirects
// the user there with a PKCE challenge.
func (h *Handler) InitiateAuth(ctx context.Context, idURL string, callbackURI string, redir string) disposition.Disposition {
	endpoint, profile, err := h.authEndpoint(ctx, idURL)
	if err != nil {
		h.log.Debug("endpoint discovery failed", "url", idURL, "err", err)
		return disposition.Errorf(redir, "Failed to discover an IndieAuth endpoint for %s", idURL)
	}

	verifier, err := newVerifier()
	if err != nil {
		return disposition.Errorf(redir, "Failed to start the login")
	}
	state, err := h.pending.Create(h.ID(), authRequest{
		IdentityURL: profile,
		Endpoint:    endpoint,
		CallbackURI: callbackURI,
		Verifier:    verifier,
		Redirect:    redir,
	}, h.lifetime)
	if err != nil {
		return disposition.Errorf(redir, "Failed to start the login")
	}

	q := url.Values{
		"redirect_uri":          {callbackURI},
		"client_id":             {h.clientID()},
		"state":                 {state},
		"response_type":         {"code"},
		"scope":                 {"profile email"},
		"me":                    {profile},
		"code_challenge":        {challenge(verifier)},
		"code_challenge_method": {"S256"},
	}
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return disposition.Redirect{URL: endpoint + sep + q.Encode()}
}

// CheckCallback redeems the authorization code at the endpoint recorded
// when the flow started and verifies the identity the endpoint vouches for.
func (h *Handler) CheckCallback(ctx context.Context, requestURL *url.URL, get url.Values, post url.Values) disposition.Disposition {
	state := httputil.CallbackParam(get, post, "state")
	if state == "" {
		return disposition.Errorf("", "No login transaction provided")
	}
	entry, err := h.pending.Consume(state)
	if err != nil {
		return disposition.Errorf("", "Invalid or expired login attempt")
	}
	req, ok := entry.Data.(authRequest)
	if !ok {
		return disposition.Errorf("", "Invalid or expired login attempt")
	}

	if errCode := httputil.CallbackParam(get, post, "error"); errCode != "" {
		msg := httputil.CallbackParam(get, post, "error_description")
		if msg == "" {
			msg = errCode
		}
		return disposition.Errorf(req.Redirect, "Authorization endpoint returned an error: %s", msg)
	}
	code := httputil.CallbackParam(get, post, "code")
	if code == "" {
		return disposition.Errorf(req.Redirect, "Missing authorization code")
	}

	me, serverProfile, err := h.redeemCode(ctx, req, code)
	if err != nil {
		h.log.Debug("code redemption failed", "endpoint", req.Endpoint, "err", err)
		return disposition.Errorf(req.Redirect, "Login failed: %s", err)
	}

	identity, err := h.verifyID(ctx, req.IdentityURL, me)
	if err != nil {
		h.log.Debug("identity verification failed", "requested", req.IdentityURL, "got", me, "err", err)
		return disposition.Errorf(req.Redirect, "Identity %s does not belong to this login", me)
	}

	profile := h.profileFor(ctx, identity)
	profile = overlayServerProfile(profile, serverProfile)
	if d, err := h.discover(ctx, identity); err == nil && len(d.endpoints) > 0 {
		profile.Endpoints = d.endpoints
	}
	return disposition.Verified{Identity: identity, Redirect: req.Redirect, Profile: profile}
}

// redeemCode exchanges an authorization code for the identity the endpoint
// asserts, per the IndieAuth authorization-endpoint flow.
func (h *Handler) redeemCode(ctx context.Context, req authRequest, code string) (string, map[string]any, error) {
	const op = "indieauth.(Handler).redeemCode"
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {h.clientID()},
		"redirect_uri":  {req.CallbackURI},
		"code_verifier": {req.Verifier},
	}
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}
	hr.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	hr.Header.Set("Accept", "application/json")
	hr.Header.Set("User-Agent", httputil.UserAgentFor(h.clientID()))

	resp, err := h.client.Do(hr)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("%s: endpoint returned %d", op, resp.StatusCode)
	}

	var payload struct {
		Me      string         `json:"me"`
		Profile map[string]any `json:"profile"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}
	if payload.Me == "" {
		return "", nil, fmt.Errorf("%s: endpoint did not assert an identity", op)
	}
	return payload.Me, payload.Profile, nil
}

// newVerifier produces a PKCE code verifier.
func newVerifier() (string, error) {
	const op = "indieauth.newVerifier"
	raw, err := uuid.GenerateRandomBytes(32)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// challenge derives the S256 code challenge for a verifier.
func challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
