// Package oidcauth logs users in against a single preconfigured OpenID
// Connect provider. Unlike the self-serve handlers, the relying
// application registers a client with the provider ahead of time; the
// handler then claims identity URLs on the provider's domain and verifies
// them with the standard code flow.
package oidcauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-uuid"
	"golang.org/x/oauth2"

	authl "github.com/plaidweb/authl-go"
	"github.com/plaidweb/authl-go/disposition"
	"github.com/plaidweb/authl-go/internal/httputil"
	"github.com/plaidweb/authl-go/pending"
)

// DefaultLifetime bounds how long a started OIDC login stays redeemable.
const DefaultLifetime = 10 * time.Minute

// authRequest correlates a callback with the flow that started it.
type authRequest struct {
	Nonce       string
	CallbackURI string
	Redirect    string
}

// Handler implements sign-in against one OpenID Connect issuer.
type Handler struct {
	issuer       string
	issuerHost   string
	clientID     string
	clientSecret string
	pending      *pending.Cache
	client       *http.Client
	scopes       []string
	lifetime     time.Duration
	log          hclog.Logger

	mu       sync.Mutex
	provider *oidc.Provider
}

var _ authl.Handler = (*Handler)(nil)

// New creates an OIDC handler for the given issuer and client credentials.
// Discovery is deferred until the first login so that constructing a
// handler never does network I/O.
//
// Valid options: WithHTTPClient, WithScopes, WithLifetime, WithLogger.
func New(issuer string, clientID string, clientSecret string, pend *pending.Cache, opt ...Option) (*Handler, error) {
	const op = "oidcauth.New"
	opts := getOpts(opt...)

	var errs *multierror.Error
	iu, err := url.Parse(issuer)
	switch {
	case issuer == "":
		errs = multierror.Append(errs, fmt.Errorf("%s: missing issuer: %w", op, authl.ErrInvalidParameter))
	case err != nil || (iu.Scheme != "http" && iu.Scheme != "https") || iu.Host == "":
		errs = multierror.Append(errs, fmt.Errorf("%s: issuer %q is not a URL: %w", op, issuer, authl.ErrInvalidParameter))
	}
	if clientID == "" {
		errs = multierror.Append(errs, fmt.Errorf("%s: missing client id: %w", op, authl.ErrInvalidParameter))
	}
	if pend == nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: missing pending cache: %w", op, authl.ErrNilParameter))
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	client := opts.withHTTPClient
	if client == nil {
		client = httputil.NewClient(30 * time.Second)
	}
	return &Handler{
		issuer:       strings.TrimSuffix(issuer, "/"),
		issuerHost:   strings.ToLower(iu.Host),
		clientID:     clientID,
		clientSecret: clientSecret,
		pending:      pend,
		client:       client,
		scopes:       opts.withScopes,
		lifetime:     opts.withLifetime,
		log:          opts.withLogger,
	}, nil
}

// ID satisfies authl.Handler.
func (h *Handler) ID() string { return "oidc" }

// ServiceName satisfies authl.Handler.
func (h *Handler) ServiceName() string { return "OpenID Connect" }

// Description satisfies authl.Handler.
func (h *Handler) Description() string {
	return fmt.Sprintf("Sign in with your %s account.", h.issuerHost)
}

// URLSchemes satisfies authl.Handler.
func (h *Handler) URLSchemes() []authl.URLScheme {
	return []authl.URLScheme{{Format: "https://" + h.issuerHost + "/%", Placeholder: "you"}}
}

// Match claims identity URLs that live on the issuer's domain, plus the
// issuer URL itself.
func (h *Handler) Match(identity string) (string, bool) {
	u, err := url.Parse(identity)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	if !strings.EqualFold(u.Host, h.issuerHost) {
		return "", false
	}
	return identity, true
}

// Generic satisfies authl.Handler.
func (h *Handler) Generic() bool { return false }

// InitiateAuth runs provider discovery if needed and redirects the user to
// the provider's authorization endpoint with a fresh state and nonce.
func (h *Handler) InitiateAuth(ctx context.Context, idURL string, callbackURI string, redir string) disposition.Disposition {
	provider, err := h.providerFor(ctx)
	if err != nil {
		h.log.Debug("provider discovery failed", "issuer", h.issuer, "err", err)
		return disposition.Errorf(redir, "Unable to reach %s", h.issuerHost)
	}

	nonce, err := uuid.GenerateUUID()
	if err != nil {
		return disposition.Errorf(redir, "Failed to start the login")
	}
	state, err := h.pending.Create(h.ID(), authRequest{
		Nonce:       nonce,
		CallbackURI: callbackURI,
		Redirect:    redir,
	}, h.lifetime)
	if err != nil {
		return disposition.Errorf(redir, "Failed to start the login")
	}

	conf := h.oauthConfig(provider, callbackURI)
	return disposition.Redirect{URL: conf.AuthCodeURL(state, oidc.Nonce(nonce))}
}

// CheckCallback exchanges the code and verifies the resulting ID token,
// including the nonce bound to this login attempt.
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
		return disposition.Errorf(req.Redirect, "Provider returned an error: %s", msg)
	}
	code := httputil.CallbackParam(get, post, "code")
	if code == "" {
		return disposition.Errorf(req.Redirect, "Missing authorization code")
	}

	provider, err := h.providerFor(ctx)
	if err != nil {
		return disposition.Errorf(req.Redirect, "Unable to reach %s", h.issuerHost)
	}
	conf := h.oauthConfig(provider, req.CallbackURI)
	ctx = oidc.ClientContext(ctx, h.client)
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		h.log.Debug("code exchange failed", "issuer", h.issuer, "err", err)
		return disposition.Errorf(req.Redirect, "Unable to log in to %s", h.issuerHost)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return disposition.Errorf(req.Redirect, "Provider did not return an identity")
	}
	idToken, err := provider.Verifier(&oidc.Config{ClientID: h.clientID}).Verify(ctx, rawIDToken)
	if err != nil {
		h.log.Debug("id token verification failed", "issuer", h.issuer, "err", err)
		return disposition.Errorf(req.Redirect, "Identity token could not be verified")
	}
	if idToken.Nonce != req.Nonce {
		return disposition.Errorf(req.Redirect, "Identity token does not match this login")
	}

	var claims struct {
		Name       string `json:"name"`
		Nickname   string `json:"nickname"`
		Picture    string `json:"picture"`
		ProfileURL string `json:"profile"`
		Website    string `json:"website"`
		Email      string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		h.log.Debug("claim extraction failed", "issuer", h.issuer, "err", err)
	}

	identity := claims.ProfileURL
	if identity == "" {
		identity = h.issuer + "#" + idToken.Subject
	}
	name := claims.Name
	if name == "" {
		name = claims.Nickname
	}
	return disposition.Verified{
		Identity: identity,
		Redirect: req.Redirect,
		Profile: disposition.Profile{
			Name:       name,
			Avatar:     claims.Picture,
			Homepage:   claims.Website,
			Email:      claims.Email,
			ProfileURL: claims.ProfileURL,
		},
	}
}

// providerFor returns the discovered provider, running discovery on first
// use. The result is retained for the handler's lifetime; OIDC discovery
// documents are static in practice.
func (h *Handler) providerFor(ctx context.Context) (*oidc.Provider, error) {
	const op = "oidcauth.(Handler).providerFor"
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.provider != nil {
		return h.provider, nil
	}
	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, h.client), h.issuer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	h.provider = provider
	return provider, nil
}

func (h *Handler) oauthConfig(provider *oidc.Provider, callbackURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     h.clientID,
		ClientSecret: h.clientSecret,
		RedirectURL:  callbackURI,
		Endpoint:     provider.Endpoint(),
		Scopes:       h.scopes,
	}
}
