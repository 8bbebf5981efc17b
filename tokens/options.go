package tokens

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

// options is the set of available options for Codec functions.
type options struct {
	withIssuer string
	withNow    func() time.Time
}

func defaults() options {
	return options{
		withIssuer: DefaultIssuer,
	}
}

func getOpts(opt ...Option) options {
	opts := defaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithCodecIssuer sets the iss claim embedded in issued tokens.
func WithCodecIssuer(issuer string) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok {
			v.withIssuer = issuer
		}
	}
}

// WithCodecClock overrides the codec's time source. Used by tests to control
// issue and expiry times.
func WithCodecClock(now func() time.Time) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok {
			v.withNow = now
		}
	}
}
