package authl

import (
	"context"
	"net/url"

	"github.com/plaidweb/authl-go/disposition"
)

// Handler implements one verification mechanism for a class of identities.
// Implementations must be safe for concurrent use; a single handler instance
// serves every flow for its mechanism.
type Handler interface {
	// ID is the handler's callback id, used to route a callback back to
	// the handler that initiated the flow. It must be unique across the
	// registered handlers, short, and stable across process runs for a
	// given configuration (it is derived from the mechanism, never from
	// registration position).
	ID() string

	// ServiceName is the human-readable service name.
	ServiceName() string

	// Description describes the service, in HTML format.
	Description() string

	// URLSchemes lists supported identity formats for a login UI to offer
	// as placeholders.
	URLSchemes() []URLScheme

	// Match reports whether this handler claims the canonical identity,
	// and if so returns the (possibly rewritten) identity it will
	// authenticate. Match must be a pure pattern test: no network I/O and
	// no side effects.
	Match(identity string) (string, bool)

	// Generic reports whether the handler accepts any well-formed web
	// URL, to be confirmed during InitiateAuth. Generic handlers should
	// be registered last; they are only consulted when no handler's
	// Match claims the identity.
	Generic() bool

	// InitiateAuth starts the authentication flow for the claimed
	// identity. callbackURI is where the external provider or user action
	// must land to complete the flow (the application encodes the handler
	// id into it), and redir is where the user should end up afterwards.
	InitiateAuth(ctx context.Context, idURL string, callbackURI string, redir string) disposition.Disposition

	// CheckCallback completes the flow from the provider's callback
	// request. Both query and form parameters are provided because
	// providers vary in how they respond. Internal failures must be
	// reported as an Error disposition, never panicked or hung.
	CheckCallback(ctx context.Context, requestURL *url.URL, get url.Values, post url.Values) disposition.Disposition
}

// URLScheme is one identity format a handler supports. Format contains a "%"
// marking where the user's input goes, and Placeholder is example text for
// that spot, e.g. {"mailto:%", "email@example.com"}.
type URLScheme struct {
	Format      string
	Placeholder string
}

// ServiceDescriptor is the informational result of testing an identity
// against the registry without starting a flow.
type ServiceDescriptor struct {
	// Name is the claiming handler's service name.
	Name string `json:"name"`
}

// ProfileResolver resolves a WebFinger-style handle into candidate profile
// URLs to retry dispatch with. See the webfinger package for the standard
// implementation.
type ProfileResolver interface {
	Resolve(ctx context.Context, handle string) []string
}
