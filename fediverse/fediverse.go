// Package fediverse logs users in with a Fediverse (Mastodon-compatible)
// account. Identities look like acct:user@instance handles or profile URLs
// such as https://instance/@user; the handler registers itself as an OAuth
// client with the user's instance on the fly and verifies the account the
// instance vouches for.
package fediverse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/oauth2"

	authl "github.com/plaidweb/authl-go"
	"github.com/plaidweb/authl-go/disposition"
	"github.com/plaidweb/authl-go/internal/httputil"
	"github.com/plaidweb/authl-go/pending"
)

// DefaultLifetime bounds how long a started Fediverse login stays
// redeemable.
const DefaultLifetime = 10 * time.Minute

var (
	handleRe      = regexp.MustCompile(`^acct:([^@\s/]+)@([^@\s/]+)$`)
	profilePathRe = regexp.MustCompile(`^/(?:@|users/)[^/]+/?$`)
)

// clientApp is an OAuth client registration obtained from one instance.
type clientApp struct {
	ID     string `json:"client_id"`
	Secret string `json:"client_secret"`
}

// authRequest correlates a callback with the flow that started it.
type authRequest struct {
	Instance    string
	ClientID    string
	ClientSec   string
	CallbackURI string
	Redirect    string
}

// Handler implements Fediverse sign-in.
type Handler struct {
	name     string
	homepage string
	pending  *pending.Cache
	client   *http.Client
	apps     *gocache.Cache
	lifetime time.Duration
	log      hclog.Logger
}

var _ authl.Handler = (*Handler)(nil)

// New creates a Fediverse handler. name is shown to users when instances
// ask them to approve the login, and pend stores in-flight logins.
//
// Valid options: WithHomepage, WithHTTPClient, WithLifetime, WithLogger.
func New(name string, pend *pending.Cache, opt ...Option) (*Handler, error) {
	const op = "fediverse.New"
	opts := getOpts(opt...)

	var errs *multierror.Error
	if name == "" {
		errs = multierror.Append(errs, fmt.Errorf("%s: missing client name: %w", op, authl.ErrInvalidParameter))
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
		name:     name,
		homepage: opts.withHomepage,
		pending:  pend,
		client:   client,
		apps:     gocache.New(gocache.NoExpiration, 0),
		lifetime: opts.withLifetime,
		log:      opts.withLogger,
	}, nil
}

// ID satisfies authl.Handler.
func (h *Handler) ID() string { return "fv" }

// ServiceName satisfies authl.Handler.
func (h *Handler) ServiceName() string { return "Fediverse" }

// Description satisfies authl.Handler.
func (h *Handler) Description() string {
	return `Sign in with your <a href="https://joinmastodon.org/">Fediverse</a> account, ` +
		`e.g. @you@mastodon.example.`
}

// URLSchemes satisfies authl.Handler.
func (h *Handler) URLSchemes() []authl.URLScheme {
	return []authl.URLScheme{
		{Format: "@%", Placeholder: "you@mastodon.example"},
		{Format: "https://%", Placeholder: "mastodon.example/@you"},
	}
}

// Match claims acct: handles and Mastodon-style profile URLs. Whether the
// named instance really speaks the Mastodon client API is only checked
// when the flow starts.
func (h *Handler) Match(identity string) (string, bool) {
	if m := handleRe.FindStringSubmatch(identity); m != nil {
		return fmt.Sprintf("https://%s/@%s", strings.ToLower(m[2]), m[1]), true
	}
	u, err := url.Parse(identity)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	if profilePathRe.MatchString(u.Path) {
		return identity, true
	}
	return "", false
}

// Generic satisfies authl.Handler.
func (h *Handler) Generic() bool { return false }

// InitiateAuth checks that the identity's host is a live Fediverse
// instance, registers this application with it, and redirects the user to
// its authorization page.
func (h *Handler) InitiateAuth(ctx context.Context, idURL string, callbackURI string, redir string) disposition.Disposition {
	instance, err := instanceFor(idURL)
	if err != nil {
		return disposition.Errorf(redir, "Cannot determine an instance for %s", idURL)
	}
	if err := h.probeInstance(ctx, instance); err != nil {
		h.log.Debug("instance probe failed", "instance", instance, "err", err)
		return disposition.Errorf(redir, "%s does not appear to be a Fediverse instance", instance)
	}
	app, err := h.registerApp(ctx, instance, callbackURI)
	if err != nil {
		h.log.Debug("app registration failed", "instance", instance, "err", err)
		return disposition.Errorf(redir, "Failed to register with %s", instance)
	}

	state, err := h.pending.Create(h.ID(), authRequest{
		Instance:    instance,
		ClientID:    app.ID,
		ClientSec:   app.Secret,
		CallbackURI: callbackURI,
		Redirect:    redir,
	}, h.lifetime)
	if err != nil {
		return disposition.Errorf(redir, "Failed to start the login")
	}

	conf := oauthConfig(instance, app, callbackURI)
	return disposition.Redirect{URL: conf.AuthCodeURL(state)}
}

// CheckCallback exchanges the authorization code with the instance the
// flow started against and verifies which account it belongs to.
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
		return disposition.Errorf(req.Redirect, "Instance returned an error: %s", msg)
	}
	code := httputil.CallbackParam(get, post, "code")
	if code == "" {
		return disposition.Errorf(req.Redirect, "Missing authorization code")
	}

	conf := oauthConfig(req.Instance, clientApp{ID: req.ClientID, Secret: req.ClientSec}, req.CallbackURI)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, h.client)
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		h.log.Debug("code exchange failed", "instance", req.Instance, "err", err)
		return disposition.Errorf(req.Redirect, "Unable to log in to %s", req.Instance)
	}
	defer h.revoke(ctx, req, tok.AccessToken)

	acct, err := h.verifyCredentials(ctx, req.Instance, tok.AccessToken)
	if err != nil {
		h.log.Debug("credential verification failed", "instance", req.Instance, "err", err)
		return disposition.Errorf(req.Redirect, "Unable to look up your account on %s", req.Instance)
	}

	identity, err := confirmDomain(req.Instance, acct.URL)
	if err != nil {
		h.log.Debug("account domain check failed", "instance", req.Instance, "account", acct.URL)
		return disposition.Errorf(req.Redirect, "Domains do not match")
	}
	return disposition.Verified{
		Identity: identity,
		Redirect: req.Redirect,
		Profile:  acct.profile(),
	}
}

// probeInstance confirms the host speaks the Mastodon instance API.
func (h *Handler) probeInstance(ctx context.Context, instance string) error {
	const op = "fediverse.(Handler).probeInstance"
	body, err := h.getJSON(ctx, instance+"/api/v1/instance", "")
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	var info map[string]any
	if err := json.Unmarshal(body, &info); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, key := range []string{"uri", "version"} {
		if _, ok := info[key]; !ok {
			return fmt.Errorf("%s: instance document missing %q", op, key)
		}
	}
	return nil
}

// registerApp obtains (or reuses) an OAuth client registration with the
// instance. Registrations are kept per (instance, callback) pair since an
// instance binds the redirect URI at registration time.
func (h *Handler) registerApp(ctx context.Context, instance string, callbackURI string) (clientApp, error) {
	const op = "fediverse.(Handler).registerApp"
	cacheKey := instance + "\x00" + callbackURI
	if cached, ok := h.apps.Get(cacheKey); ok {
		return cached.(clientApp), nil
	}

	form := url.Values{
		"client_name":   {h.name},
		"redirect_uris": {callbackURI},
		"scopes":        {"read:accounts"},
	}
	if h.homepage != "" {
		form.Set("website", h.homepage)
	}
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, instance+"/api/v1/apps", strings.NewReader(form.Encode()))
	if err != nil {
		return clientApp{}, fmt.Errorf("%s: %w", op, err)
	}
	hr.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	hr.Header.Set("User-Agent", httputil.UserAgent)

	resp, err := h.client.Do(hr)
	if err != nil {
		return clientApp{}, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return clientApp{}, fmt.Errorf("%s: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return clientApp{}, fmt.Errorf("%s: instance returned %d", op, resp.StatusCode)
	}

	var app clientApp
	if err := json.Unmarshal(body, &app); err != nil {
		return clientApp{}, fmt.Errorf("%s: %w", op, err)
	}
	if app.ID == "" || app.Secret == "" {
		return clientApp{}, fmt.Errorf("%s: incomplete app registration", op)
	}
	h.apps.SetDefault(cacheKey, app)
	return app, nil
}

// verifyCredentials asks the instance which account the token belongs to.
func (h *Handler) verifyCredentials(ctx context.Context, instance string, token string) (*account, error) {
	const op = "fediverse.(Handler).verifyCredentials"
	body, err := h.getJSON(ctx, instance+"/api/v1/accounts/verify_credentials", token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var acct account
	if err := json.Unmarshal(body, &acct); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if acct.URL == "" {
		return nil, fmt.Errorf("%s: account has no profile URL", op)
	}
	return &acct, nil
}

// revoke discards the access token once the account has been verified; the
// login only ever needed it for that single lookup.
func (h *Handler) revoke(ctx context.Context, req authRequest, token string) {
	form := url.Values{
		"client_id":     {req.ClientID},
		"client_secret": {req.ClientSec},
		"token":         {token},
	}
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Instance+"/oauth/revoke", strings.NewReader(form.Encode()))
	if err != nil {
		return
	}
	hr.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := h.client.Do(hr)
	if err != nil {
		h.log.Debug("token revocation failed", "instance", req.Instance, "err", err)
		return
	}
	resp.Body.Close()
}

func (h *Handler) getJSON(ctx context.Context, target string, token string) ([]byte, error) {
	hr, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	hr.Header.Set("User-Agent", httputil.UserAgent)
	hr.Header.Set("Accept", "application/json")
	if token != "" {
		hr.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.client.Do(hr)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return body, nil
}

// account is the subset of a Mastodon account document the login needs.
type account struct {
	URL          string `json:"url"`
	DisplayName  string `json:"display_name"`
	Avatar       string `json:"avatar"`
	AvatarStatic string `json:"avatar_static"`
	Source       struct {
		Note string `json:"note"`
	} `json:"source"`
	Fields []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"fields"`
}

// profile maps the account document onto a login profile. Free-form
// profile fields contribute a homepage and pronouns when their labels make
// the intent obvious.
func (a *account) profile() disposition.Profile {
	p := disposition.Profile{
		Name:       a.DisplayName,
		Avatar:     a.AvatarStatic,
		Bio:        strings.TrimSpace(a.Source.Note),
		ProfileURL: a.URL,
	}
	if p.Avatar == "" {
		p.Avatar = a.Avatar
	}
	for _, f := range a.Fields {
		switch strings.ToLower(strings.TrimSpace(f.Name)) {
		case "homepage", "home page", "website":
			if p.Homepage == "" {
				p.Homepage = stripFieldMarkup(f.Value)
			}
		case "pronouns", "pronoun":
			if p.Pronouns == "" {
				p.Pronouns = stripFieldMarkup(f.Value)
			}
		}
	}
	return p
}

// stripFieldMarkup reduces a Mastodon profile field value, which may be an
// HTML anchor, to its text or href.
func stripFieldMarkup(v string) string {
	if !strings.Contains(v, "<") {
		return strings.TrimSpace(v)
	}
	if m := regexp.MustCompile(`href="([^"]+)"`).FindStringSubmatch(v); m != nil {
		return m[1]
	}
	return strings.TrimSpace(regexp.MustCompile(`<[^>]*>`).ReplaceAllString(v, ""))
}

// instanceFor derives the instance base URL from a profile URL.
func instanceFor(idURL string) (string, error) {
	const op = "fediverse.instanceFor"
	u, err := url.Parse(idURL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%s: %q is not a profile URL: %w", op, idURL, authl.ErrInvalidIdentity)
	}
	return u.Scheme + "://" + u.Host, nil
}

// confirmDomain checks the verified account actually lives on the instance
// the login ran against.
func confirmDomain(instance string, accountURL string) (string, error) {
	const op = "fediverse.confirmDomain"
	iu, err := url.Parse(instance)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	au, err := url.Parse(accountURL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if !strings.EqualFold(iu.Host, au.Host) {
		return "", fmt.Errorf("%s: account %s is not on %s", op, accountURL, instance)
	}
	return accountURL, nil
}

func oauthConfig(instance string, app clientApp, callbackURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     app.ID,
		ClientSecret: app.Secret,
		RedirectURL:  callbackURI,
		Scopes:       []string{"read:accounts"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  instance + "/oauth/authorize",
			TokenURL: instance + "/oauth/token",
		},
	}
}
