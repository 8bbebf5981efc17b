package emailaddr

import (
	"text/template"
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
	withLifetime      time.Duration
	withNotifyMessage string
	withTemplate      *template.Template
	withLogger        hclog.Logger
}

func defaults() options {
	return options{
		withLifetime:      DefaultLifetime,
		withNotifyMessage: DefaultNotifyMessage,
		withTemplate:      DefaultTemplate,
	}
}

func getOpts(opt ...Option) options {
	opts := defaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLifetime sets how long a mailed login link stays valid.
func WithLifetime(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok && d > 0 {
			v.withLifetime = d
		}
	}
}

// WithNotifyMessage sets the client notification text returned after the
// login email is sent.
func WithNotifyMessage(msg string) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok && msg != "" {
			v.withNotifyMessage = msg
		}
	}
}

// WithTemplate overrides the email body template. Templates receive .URL and
// .Minutes.
func WithTemplate(t *template.Template) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok && t != nil {
			v.withTemplate = t
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
