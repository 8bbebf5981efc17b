// Package loopback implements a handler that verifies any identity with the
// fake scheme "test:" immediately, with no external round trip. It exists for
// local development and tests only and must not be registered in production
// deployments.
package loopback

import (
	"context"
	"net/url"
	"strings"

	authl "github.com/plaidweb/authl-go"
	"github.com/plaidweb/authl-go/disposition"
)

// ErrorIdentity always fails initiation, for exercising error paths.
const ErrorIdentity = "test:error"

// Handler verifies "test:" identities without any external interaction.
type Handler struct{}

// ensure that Handler implements the authl.Handler interface
var _ authl.Handler = (*Handler)(nil)

// New creates a loopback Handler.
func New() *Handler { return &Handler{} }

func (h *Handler) ID() string          { return "test" }
func (h *Handler) ServiceName() string { return "Loopback" }
func (h *Handler) Generic() bool       { return false }

func (h *Handler) Description() string {
	return `Used for testing purposes. Don't use this on a production website.`
}

func (h *Handler) URLSchemes() []authl.URLScheme {
	return []authl.URLScheme{{Format: "test:%", Placeholder: "example"}}
}

// Match claims any identity with the "test:" scheme.
func (h *Handler) Match(identity string) (string, bool) {
	if strings.HasPrefix(identity, "test:") {
		return identity, true
	}
	return "", false
}

// InitiateAuth immediately verifies the identity. ErrorIdentity instead
// produces an Error disposition.
func (h *Handler) InitiateAuth(_ context.Context, idURL string, _ string, redir string) disposition.Disposition {
	if idURL == ErrorIdentity {
		return disposition.Error{Message: "Error identity requested", Redirect: redir}
	}
	return disposition.Verified{Identity: idURL, Redirect: redir}
}

// CheckCallback always fails; the loopback flow never reaches a callback.
func (h *Handler) CheckCallback(context.Context, *url.URL, url.Values, url.Values) disposition.Disposition {
	return disposition.Error{Message: "This shouldn't be possible"}
}
