package authl

import "github.com/hashicorp/go-hclog"

// Option defines a common functional options type.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		o(opts)
	}
}

// options is the set of available options for Authl functions.
type options struct {
	withHandlers []Handler
	withLogger   hclog.Logger
	withResolver ProfileResolver
}

func defaults() options {
	return options{}
}

func getOpts(opt ...Option) options {
	opts := defaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithHandlers registers handlers in decreasing priority order. The first
// handler whose matcher claims an identity wins, so generic catch-all
// handlers belong at the end of the list.
func WithHandlers(handlers ...Handler) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok {
			v.withHandlers = append(v.withHandlers, handlers...)
		}
	}
}

// WithLogger provides an optional hclog.Logger; the default discards
// everything.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok {
			v.withLogger = l
		}
	}
}

// WithProfileResolver enables WebFinger-style handle resolution during
// dispatch: acct: handles are expanded into profile URLs which are then
// re-matched against the registry. Without it, acct: handles are only
// dispatched directly.
func WithProfileResolver(r ProfileResolver) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok {
			v.withResolver = r
		}
	}
}
