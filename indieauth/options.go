package indieauth

import (
	"net/http"
	"time"

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
	withClientIDFunc func() string
	withHTTPClient   *http.Client
	withLifetime     time.Duration
	withCacheTTL     time.Duration
	withLogger       hclog.Logger
}

func defaults() options {
	return options{
		withLifetime: DefaultLifetime,
		withCacheTTL: DefaultCacheTTL,
		withLogger:   hclog.NewNullLogger(),
	}
}

func getOpts(opt ...Option) options {
	opts := defaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithClientIDFunc supplies the client id lazily, for applications whose
// public URL isn't known until request time.
func WithClientIDFunc(fn func() string) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok {
			v.withClientIDFunc = fn
		}
	}
}

// WithHTTPClient overrides the HTTP client used for discovery and code
// redemption.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok && c != nil {
			v.withHTTPClient = c
		}
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

// WithCacheTTL bounds how long discovered endpoints and profiles are reused.
func WithCacheTTL(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok && d > 0 {
			v.withCacheTTL = d
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
