package pending

import "time"

// Option defines a common functional options type.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		o(opts)
	}
}

// options is the set of available options for Cache functions.
type options struct {
	withSweepInterval time.Duration
}

func defaults() options {
	return options{
		withSweepInterval: DefaultSweepInterval,
	}
}

func getOpts(opt ...Option) options {
	opts := defaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithSweepInterval overrides how often expired entries are swept from
// memory. It does not change when entries become unavailable; that is always
// their ttl.
func WithSweepInterval(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok && d > 0 {
			v.withSweepInterval = d
		}
	}
}
