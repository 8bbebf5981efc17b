package fediverse

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaidweb/authl-go/disposition"
	"github.com/plaidweb/authl-go/pending"
)

// testInstance fakes enough of the Mastodon client API for a full login.
type testInstance struct {
	srv *httptest.Server

	accountURL string
	registered int
	revoked    bool
}

func newTestInstance(t *testing.T) *testInstance {
	t.Helper()
	inst := &testInstance{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/instance", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"uri":     r.Host,
			"version": "4.2.0",
		})
	})
	mux.HandleFunc("/api/v1/apps", func(w http.ResponseWriter, r *http.Request) {
		inst.registered++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"client_id":     "cid-123",
			"client_secret": "csec-456",
		})
	})
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-789",
			"token_type":   "Bearer",
		})
	})
	mux.HandleFunc("/api/v1/accounts/verify_credentials", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-789", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"url":           inst.accountURL,
			"display_name":  "Fedi Alice",
			"avatar_static": "https://cdn.example/alice.png",
			"source":        map[string]any{"note": "tooting for fun"},
			"fields": []map[string]any{
				{"name": "Homepage", "value": `<a href="https://alice.example/">alice.example</a>`},
				{"name": "Pronouns", "value": "she/her"},
			},
		})
	})
	mux.HandleFunc("/oauth/revoke", func(w http.ResponseWriter, r *http.Request) {
		inst.revoked = true
	})
	inst.srv = httptest.NewServer(mux)
	t.Cleanup(inst.srv.Close)
	inst.accountURL = inst.srv.URL + "/@alice"
	return inst
}

func newTestHandler(t *testing.T, inst *testInstance) *Handler {
	t.Helper()
	pend := pending.NewCache()
	h, err := New("Authl Test", pend,
		WithHTTPClient(inst.srv.Client()),
		WithHomepage("https://app.example/"))
	require.NoError(t, err)
	return h
}

func TestNew(t *testing.T) {
	t.Parallel()
	pend := pending.NewCache()

	_, err := New("", nil)
	require.Error(t, err)
	_, err = New("", pend)
	require.Error(t, err)
	_, err = New("Authl Test", pend)
	require.NoError(t, err)
}

func TestHandler_Match(t *testing.T) {
	t.Parallel()
	h := &Handler{}
	tests := []struct {
		identity string
		claimed  string
		ok       bool
	}{
		{"acct:alice@mastodon.example", "https://mastodon.example/@alice", true},
		{"acct:alice@MASTODON.example", "https://mastodon.example/@alice", true},
		{"https://mastodon.example/@alice", "https://mastodon.example/@alice", true},
		{"https://mastodon.example/users/alice", "https://mastodon.example/users/alice", true},
		{"https://mastodon.example/about", "", false},
		{"https://mastodon.example/@alice/12345", "", false},
		{"mailto:alice@example.com", "", false},
		{"acct:alice@", "", false},
	}
	for _, tc := range tests {
		claimed, ok := h.Match(tc.identity)
		assert.Equal(t, tc.ok, ok, "identity %q", tc.identity)
		assert.Equal(t, tc.claimed, claimed, "identity %q", tc.identity)
	}
}

func TestHandler_FullFlow(t *testing.T) {
	ctx := context.Background()
	inst := newTestInstance(t)
	h := newTestHandler(t, inst)

	d := h.InitiateAuth(ctx, inst.srv.URL+"/@alice", "https://app.example/cb/fv", "/dest")
	redir, ok := d.(disposition.Redirect)
	require.True(t, ok, "got %s", d)

	authURL, err := url.Parse(redir.URL)
	require.NoError(t, err)
	assert.Equal(t, "/oauth/authorize", authURL.Path)
	q := authURL.Query()
	assert.Equal(t, "cid-123", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "read:accounts", q.Get("scope"))
	assert.Equal(t, "https://app.example/cb/fv", q.Get("redirect_uri"))
	require.NotEmpty(t, q.Get("state"))

	cb := h.CheckCallback(ctx, authURL, url.Values{
		"state": {q.Get("state")},
		"code":  {"grant-abc"},
	}, nil)
	verified, ok := cb.(disposition.Verified)
	require.True(t, ok, "got %s", cb)

	assert.Equal(t, inst.accountURL, verified.Identity)
	assert.Equal(t, "/dest", verified.Redirect)
	assert.Equal(t, "Fedi Alice", verified.Profile.Name)
	assert.Equal(t, "https://cdn.example/alice.png", verified.Profile.Avatar)
	assert.Equal(t, "tooting for fun", verified.Profile.Bio)
	assert.Equal(t, "https://alice.example/", verified.Profile.Homepage)
	assert.Equal(t, "she/her", verified.Profile.Pronouns)
	assert.Equal(t, inst.accountURL, verified.Profile.ProfileURL)
	assert.True(t, inst.revoked, "access token should be revoked after the lookup")
}

func TestHandler_AppRegistrationReused(t *testing.T) {
	ctx := context.Background()
	inst := newTestInstance(t)
	h := newTestHandler(t, inst)

	for i := 0; i < 3; i++ {
		d := h.InitiateAuth(ctx, inst.srv.URL+"/@alice", "https://app.example/cb/fv", "/dest")
		_, ok := d.(disposition.Redirect)
		require.True(t, ok, "got %s", d)
	}
	assert.Equal(t, 1, inst.registered)
}

func TestHandler_NotAnInstance(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()

	pend := pending.NewCache()
	h, err := New("Authl Test", pend, WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	d := h.InitiateAuth(ctx, srv.URL+"/@alice", "https://app.example/cb/fv", "/dest")
	errDisp, ok := d.(disposition.Error)
	require.True(t, ok, "got %s", d)
	assert.Contains(t, errDisp.Message, "does not appear to be a Fediverse instance")
	assert.Equal(t, "/dest", errDisp.Redirect)
}

func TestHandler_ForgedState(t *testing.T) {
	ctx := context.Background()
	inst := newTestInstance(t)
	h := newTestHandler(t, inst)

	cb := h.CheckCallback(ctx, &url.URL{}, url.Values{"state": {"st_forged"}, "code": {"x"}}, nil)
	errDisp, ok := cb.(disposition.Error)
	require.True(t, ok, "got %s", cb)
	assert.Contains(t, errDisp.Message, "Invalid or expired")
}

func TestHandler_ProviderError(t *testing.T) {
	ctx := context.Background()
	inst := newTestInstance(t)
	h := newTestHandler(t, inst)

	d := h.InitiateAuth(ctx, inst.srv.URL+"/@alice", "https://app.example/cb/fv", "/dest")
	redir := d.(disposition.Redirect)
	authURL, err := url.Parse(redir.URL)
	require.NoError(t, err)

	cb := h.CheckCallback(ctx, authURL, url.Values{
		"state": {authURL.Query().Get("state")},
		"error": {"access_denied"},
	}, nil)
	errDisp, ok := cb.(disposition.Error)
	require.True(t, ok, "got %s", cb)
	assert.Contains(t, errDisp.Message, "access_denied")
	assert.Equal(t, "/dest", errDisp.Redirect)
}

func TestHandler_DomainMismatch(t *testing.T) {
	ctx := context.Background()
	inst := newTestInstance(t)
	inst.accountURL = "https://evil.example/@alice"
	h := newTestHandler(t, inst)

	d := h.InitiateAuth(ctx, inst.srv.URL+"/@alice", "https://app.example/cb/fv", "/dest")
	redir := d.(disposition.Redirect)
	authURL, err := url.Parse(redir.URL)
	require.NoError(t, err)

	cb := h.CheckCallback(ctx, authURL, url.Values{
		"state": {authURL.Query().Get("state")},
		"code":  {"grant-abc"},
	}, nil)
	errDisp, ok := cb.(disposition.Error)
	require.True(t, ok, "got %s", cb)
	assert.Contains(t, errDisp.Message, "Domains do not match")
}

func TestStripFieldMarkup(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "she/her", stripFieldMarkup("she/her"))
	assert.Equal(t, "https://alice.example/", stripFieldMarkup(`<a href="https://alice.example/">alice</a>`))
	assert.Equal(t, "plain", stripFieldMarkup("<b>plain</b>"))
}

func TestHandler_FormPostCallback(t *testing.T) {
	ctx := context.Background()
	inst := newTestInstance(t)
	h := newTestHandler(t, inst)

	d := h.InitiateAuth(ctx, inst.srv.URL+"/@alice", "https://app.example/cb/fv", "/dest")
	redir := d.(disposition.Redirect)
	authURL, err := url.Parse(redir.URL)
	require.NoError(t, err)

	// instances may deliver the callback as a form POST instead of a
	// query-string redirect
	cb := h.CheckCallback(ctx, authURL, url.Values{}, url.Values{
		"state": {authURL.Query().Get("state")},
		"code":  {"grant-abc"},
	})
	verified, ok := cb.(disposition.Verified)
	require.True(t, ok, "got %s", cb)
	assert.Equal(t, inst.accountURL, verified.Identity)
}
