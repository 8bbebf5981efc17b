package webfinger

import (
	"net/http"

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

// options is the set of available options for Resolver functions.
type options struct {
	withHTTPClient *http.Client
	withLogger     hclog.Logger
}

func getOpts(opt ...Option) options {
	opts := options{}
	ApplyOpts(&opts, opt...)
	return opts
}

// WithHTTPClient overrides the HTTP client used for WebFinger queries.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok {
			v.withHTTPClient = c
		}
	}
}

// WithLogger provides an optional hclog.Logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok {
			v.withLogger = l
		}
	}
}
