package oidcauth

import (
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		o(opts)
	}
}

// options is the set of available options for Handler functions.
type options struct {
	withHTTPClient *http.Client
	withScopes     []string
	withLifetime   time.Duration
	withLogger     hclog.Logger
}

func defaults() options {
	return options{
		withScopes:   []string{oidc.ScopeOpenID, "profile", "email"},
		withLifetime: DefaultLifetime,
		withLogger:   hclog.NewNullLogger(),
	}
}

func getOpts(opt ...Option) options {
	opts := defaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithHTTPClient overrides the HTTP client used for discovery, the code
// exchange, and key fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok && c != nil {
			v.withHTTPClient = c
		}
	}
}

// WithScopes replaces the scopes requested from the provider. The openid
// scope is always included.
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		v, ok := o.(*options)
		if !ok || len(scopes) == 0 {
			return
		}
		out := []string{oidc.ScopeOpenID}
		for _, s := range scopes {
			if s != oidc.ScopeOpenID {
				out = append(out, s)
			}
		}
		v.withScopes = out
	}
}

// WithLifetime bounds how long a started login stays redeemable.
func WithLifetime(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok && d > 0 {
			v.withLifetime = d
		}
	}
}

// WithLogger directs the handler's debug logging.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok && l != nil {
			v.withLogger = l
		}
	}
}
