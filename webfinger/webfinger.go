// Package webfinger resolves WebFinger-style handles (acct:user@domain or
// @user@domain) into candidate profile URLs. It implements the
// authl.ProfileResolver interface so the dispatcher can expand a handle and
// retry handler matching against the profiles it names.
package webfinger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/plaidweb/authl-go/internal/httputil"
)

// DefaultTimeout bounds a WebFinger query.
const DefaultTimeout = 30 * time.Second

// handleRe matches acct:user@domain and @user@domain handle forms.
var handleRe = regexp.MustCompile(`^(?:acct:|@)([^@\s/]+)@([^@\s/]+)$`)

// profileRels are the link rels that name a user's profile page in a
// WebFinger document.
var profileRels = map[string]bool{
	"http://webfinger.net/rel/profile-page": true,
	"profile":                               true,
	"self":                                  true,
}

// Resolver queries a handle's domain for its WebFinger document.
type Resolver struct {
	client *http.Client
	log    hclog.Logger
}

// New creates a Resolver.
//
// Supported options: WithHTTPClient, WithLogger.
func New(opt ...Option) *Resolver {
	opts := getOpts(opt...)
	r := &Resolver{
		client: opts.withHTTPClient,
		log:    opts.withLogger,
	}
	if r.client == nil {
		r.client = httputil.NewClient(DefaultTimeout)
	}
	if r.log == nil {
		r.log = hclog.NewNullLogger()
	}
	return r
}

// document is the subset of RFC 7033 we consume.
type document struct {
	Links []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"links"`
}

// Resolve returns the profile URLs the handle's WebFinger document declares.
// When the domain does not answer WebFinger it falls back to the most common
// profile-page form, https://domain/@user. Resolution is best-effort: any
// failure returns nil and the caller falls through to direct matching.
func (r *Resolver) Resolve(ctx context.Context, handle string) []string {
	m := handleRe.FindStringSubmatch(handle)
	if m == nil {
		return nil
	}
	user, domain := m[1], m[2]
	resource := "acct:" + user + "@" + domain

	query := fmt.Sprintf("https://%s/.well-known/webfinger?resource=%s",
		domain, url.QueryEscape(resource))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, query, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", httputil.UserAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Debug("webfinger query failed", "resource", resource, "err", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// the service doesn't speak WebFinger; guess the common profile
		// page form
		r.log.Debug("webfinger not supported", "resource", resource, "status", resp.StatusCode)
		return []string{fmt.Sprintf("https://%s/@%s", domain, user)}
	}

	var doc document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		r.log.Debug("webfinger document unreadable", "resource", resource, "err", err)
		return nil
	}
	var profiles []string
	seen := map[string]bool{}
	for _, link := range doc.Links {
		if profileRels[link.Rel] && link.Href != "" && !seen[link.Href] {
			seen[link.Href] = true
			profiles = append(profiles, link.Href)
		}
	}
	return profiles
}
