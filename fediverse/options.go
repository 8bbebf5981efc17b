package fediverse

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
	withHomepage   string
	withHTTPClient *http.Client
	withLifetime   time.Duration
	withLogger     hclog.Logger
}

func defaults() options {
	return options{
		withLifetime: DefaultLifetime,
		withLogger:   hclog.NewNullLogger(),
	}
}

func getOpts(opt ...Option) options {
	opts := defaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithHomepage advertises the application's website to instances when
// registering.
func WithHomepage(u string) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok {
			v.withHomepage = u
		}
	}
}

// WithHTTPClient overrides the HTTP client used to talk to instances.
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

// WithLogger directs the handler's debug logging.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok && l != nil {
			v.withLogger = l
		}
	}
}
