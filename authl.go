package authl

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/plaidweb/authl-go/disposition"
)

// Authl coordinates the configured handlers: it selects a handler for an
// identity, routes callbacks back by handler id, and enforces the
// disposition contract at the handler boundary. The registry is fixed at
// construction and an Authl is safe for concurrent use.
type Authl struct {
	// handlers in decreasing priority order
	handlers []Handler
	byID     map[string]Handler
	resolver ProfileResolver
	log      hclog.Logger
}

// New builds an Authl instance from the registered handlers.
//
// Supported options: WithHandlers, WithLogger, WithProfileResolver.
func New(opt ...Option) (*Authl, error) {
	const op = "authl.New"
	opts := getOpts(opt...)
	a := &Authl{
		byID:     map[string]Handler{},
		resolver: opts.withResolver,
		log:      opts.withLogger,
	}
	if a.log == nil {
		a.log = hclog.NewNullLogger()
	}
	var result *multierror.Error
	for i, h := range opts.withHandlers {
		switch {
		case h == nil:
			result = multierror.Append(result, fmt.Errorf("handler %d is nil: %w", i, ErrNilParameter))
		case h.ID() == "":
			result = multierror.Append(result, fmt.Errorf("handler %d has an empty id: %w", i, ErrInvalidParameter))
		case a.byID[h.ID()] != nil:
			result = multierror.Append(result, fmt.Errorf("handler %d reuses id %q: %w", i, h.ID(), ErrDuplicateID))
		default:
			a.handlers = append(a.handlers, h)
			a.byID[h.ID()] = h
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return a, nil
}

// Handlers returns the registered handlers in priority order.
func (a *Authl) Handlers() []Handler {
	out := make([]Handler, len(a.handlers))
	copy(out, a.handlers)
	return out
}

// HandlerFor selects the handler for an identity. It canonicalizes the
// identity, resolves WebFinger handles into profile URLs when a resolver is
// configured, and returns the first handler that claims the result along
// with the handler id and the claimed canonical identity.
//
// Selection is strictly first-match in registration order; when two handlers
// could both claim an identity, priority order is the only tie-breaker.
func (a *Authl) HandlerFor(ctx context.Context, identity string) (Handler, string, string, error) {
	const op = "authl.(Authl).HandlerFor"
	canonical, err := CanonicalizeIdentity(identity)
	if err != nil {
		return nil, "", "", fmt.Errorf("%s: %w", op, err)
	}

	if strings.HasPrefix(canonical, "acct:") && a.resolver != nil {
		for _, profile := range a.resolver.Resolve(ctx, canonical) {
			p, perr := CanonicalizeIdentity(profile)
			if perr != nil {
				continue
			}
			if h, id, claimed, ok := a.match(p); ok {
				a.log.Debug("webfinger profile matched", "handle", canonical, "profile", claimed, "handler", id)
				return h, id, claimed, nil
			}
		}
	}

	if h, id, claimed, ok := a.match(canonical); ok {
		a.log.Debug("identity matched", "identity", claimed, "handler", id)
		return h, id, claimed, nil
	}
	a.log.Debug("no handler found", "identity", canonical)
	return nil, "", "", fmt.Errorf("%s: %q: %w", op, canonical, ErrNoHandler)
}

// match runs the first-match scan over the registry. Pattern matchers are
// consulted in order; a generic handler claims any well-formed web URL the
// moment the scan reaches it, which is why generic handlers belong last.
func (a *Authl) match(canonical string) (Handler, string, string, bool) {
	for _, h := range a.handlers {
		if claimed, ok := h.Match(canonical); ok {
			return h, h.ID(), claimed, true
		}
		if h.Generic() && isWebIdentity(canonical) {
			return h, h.ID(), canonical, true
		}
	}
	return nil, "", "", false
}

// HandlerByID returns the handler registered under id. It is used to route a
// callback for a transaction in progress and needs no identity string.
func (a *Authl) HandlerByID(id string) (Handler, error) {
	const op = "authl.(Authl).HandlerByID"
	h, ok := a.byID[id]
	if !ok {
		return nil, fmt.Errorf("%s: %q: %w", op, id, ErrNotFound)
	}
	return h, nil
}

// Initiate resolves the identity to a handler and starts its flow. Failures
// of any kind surface as an Error disposition; handler panics are contained.
//
// The returned disposition is usually Redirect, Notify or NeedsPost. A
// handler doing purely local verification (the loopback handler) may return
// Verified directly.
func (a *Authl) Initiate(ctx context.Context, identity string, callbackURI string, redir string) disposition.Disposition {
	h, id, canonical, err := a.HandlerFor(ctx, identity)
	if err != nil {
		a.log.Debug("initiate failed", "identity", identity, "err", err)
		return disposition.Error{Message: "We don't know how to log you in with that identity", Redirect: redir}
	}
	a.log.Debug("initiating auth", "identity", canonical, "handler", id)
	return a.guard(redir, func() disposition.Disposition {
		return h.InitiateAuth(ctx, canonical, callbackURI, redir)
	})
}

// Callback routes a provider callback to the handler registered under
// handlerID and completes the flow. Only Verified, Error and Redirect are
// legal results of the callback phase; anything else is a handler contract
// violation and is rejected as an internal error.
func (a *Authl) Callback(ctx context.Context, handlerID string, requestURL *url.URL, get url.Values, post url.Values) disposition.Disposition {
	h, err := a.HandlerByID(handlerID)
	if err != nil {
		a.log.Warn("callback for unknown handler", "handler", handlerID)
		return disposition.Error{Message: "Invalid login attempt"}
	}
	d := a.guard("", func() disposition.Disposition {
		return h.CheckCallback(ctx, requestURL, get, post)
	})
	switch d.(type) {
	case disposition.Verified, disposition.Error, disposition.Redirect:
		return d
	default:
		a.log.Error("handler returned illegal callback disposition", "handler", handlerID, "disposition", d)
		return disposition.Error{Message: "Internal error"}
	}
}

// ServiceInfo tests an identity against the registry without starting a
// flow. It returns the claiming handler's descriptor, or nil when nothing
// claims the identity. Only the pure matchers run: no network requests, no
// tokens, no pending state.
func (a *Authl) ServiceInfo(identity string) *ServiceDescriptor {
	canonical, err := CanonicalizeIdentity(identity)
	if err != nil {
		return nil
	}
	if h, _, _, ok := a.match(canonical); ok {
		return &ServiceDescriptor{Name: h.ServiceName()}
	}
	return nil
}

// guard runs a handler phase, converting a panic into a generic Error
// disposition so one misbehaving handler cannot take down the process.
func (a *Authl) guard(redir string, f func() disposition.Disposition) (d disposition.Disposition) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("handler panicked", "panic", r)
			d = disposition.Error{Message: "Internal error", Redirect: redir}
		}
	}()
	return f()
}
