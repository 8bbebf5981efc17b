// Package emailaddr implements magic-link login over email. Initiating a
// flow issues a signed, short-lived token bound to the address and the
// post-login redirect, mails a link carrying that token to the address, and
// tells the application to notify the user. Visiting the link completes the
// flow: the token alone proves control of the mailbox, so no server-side
// state is needed between the two phases.
package emailaddr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	gocache "github.com/patrickmn/go-cache"

	authl "github.com/plaidweb/authl-go"
	"github.com/plaidweb/authl-go/disposition"
	"github.com/plaidweb/authl-go/tokens"
)

// DefaultLifetime is how long a mailed login link stays valid.
const DefaultLifetime = 15 * time.Minute

// DefaultNotifyMessage is the client notification shown after the mail is
// sent.
const DefaultNotifyMessage = "Check your email for a login link."

// DefaultTemplate renders the login email body. Templates receive .URL (the
// link to visit) and .Minutes (how long it stays valid).
var DefaultTemplate = template.Must(template.New("email").Parse(`Hello! Someone, possibly you, asked to log in using this email address. If this
was you, please visit the following link within the next {{.Minutes}} minutes:

    {{.URL}}

If this wasn't you, you can safely disregard this message.
`))

// addressRe is a deliberately permissive address shape check; real
// verification is the delivered link itself.
var addressRe = regexp.MustCompile(`^[^@\s!]+@[^@\s!]+\.[^@\s!]+$`)

// Sender delivers a rendered login email. It is the collaborator boundary
// for SMTP (or any other transport); delivery failures surface to the user
// as a generic error disposition.
type Sender interface {
	Send(ctx context.Context, to string, body string) error
}

// Handler authenticates email addresses via mailed magic links.
type Handler struct {
	codec    *tokens.Codec
	sender   Sender
	message  string
	lifetime time.Duration
	tmpl     *template.Template
	log      hclog.Logger

	// pending tracks addresses with a live unexpired link, to avoid
	// spamming an address that asks twice
	pending *gocache.Cache
}

// ensure that Handler implements the authl.Handler interface
var _ authl.Handler = (*Handler)(nil)

// New creates an email magic-link Handler from the token codec and mail
// sender.
//
// Supported options: WithLifetime, WithNotifyMessage, WithTemplate,
// WithLogger.
func New(codec *tokens.Codec, sender Sender, opt ...Option) (*Handler, error) {
	const op = "emailaddr.New"
	var result *multierror.Error
	if codec == nil {
		result = multierror.Append(result, fmt.Errorf("missing token codec: %w", authl.ErrNilParameter))
	}
	if sender == nil {
		result = multierror.Append(result, fmt.Errorf("missing mail sender: %w", authl.ErrNilParameter))
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getOpts(opt...)
	h := &Handler{
		codec:    codec,
		sender:   sender,
		message:  opts.withNotifyMessage,
		lifetime: opts.withLifetime,
		tmpl:     opts.withTemplate,
		log:      opts.withLogger,
	}
	if h.log == nil {
		h.log = hclog.NewNullLogger()
	}
	h.pending = gocache.New(h.lifetime, h.lifetime)
	return h, nil
}

func (h *Handler) ID() string          { return "e" }
func (h *Handler) ServiceName() string { return "Email" }
func (h *Handler) Generic() bool       { return false }

func (h *Handler) Description() string {
	return `Uses email to log you in, by sending a "magic link" to the
destination address.`
}

func (h *Handler) URLSchemes() []authl.URLScheme {
	return []authl.URLScheme{
		{Format: "mailto:%", Placeholder: "email@example.com"},
		{Format: "%", Placeholder: "email@example.com"},
	}
}

// Match claims mailto: identities with a plausible address.
func (h *Handler) Match(identity string) (string, bool) {
	addr, ok := parseAddress(identity)
	if !ok {
		return "", false
	}
	return "mailto:" + addr, true
}

// InitiateAuth issues a login token for the address, mails the link, and
// asks the application to tell the user to check their mailbox. While a
// previously mailed link is still live the user is only reminded; no second
// mail goes out.
func (h *Handler) InitiateAuth(ctx context.Context, idURL string, callbackURI string, redir string) disposition.Disposition {
	addr, ok := parseAddress(idURL)
	if !ok {
		return disposition.Error{Message: "Malformed email address", Redirect: redir}
	}

	if _, live := h.pending.Get(addr); live {
		h.log.Debug("reminding about pending login email", "address", addr)
		return disposition.Notify{Message: h.message}
	}

	tok, err := h.codec.Issue([]string{addr, redir}, h.lifetime)
	if err != nil {
		h.log.Error("unable to issue login token", "err", err)
		return disposition.Error{Message: "Unable to issue login token", Redirect: redir}
	}

	link := appendQuery(callbackURI, "token", tok)
	var body bytes.Buffer
	if err := h.tmpl.Execute(&body, struct {
		URL     string
		Minutes int
	}{URL: link, Minutes: int(math.Ceil(h.lifetime.Minutes()))}); err != nil {
		h.log.Error("unable to render login email", "err", err)
		return disposition.Error{Message: "Unable to send login email", Redirect: redir}
	}

	if err := h.sender.Send(ctx, addr, body.String()); err != nil {
		h.log.Error("unable to send login email", "address", addr, "err", err)
		return disposition.Error{Message: "Unable to send login email", Redirect: redir}
	}
	h.pending.Set(addr, tok, h.lifetime)

	return disposition.Notify{Message: h.message}
}

// CheckCallback verifies the token from the visited link. Expired, tampered
// and malformed tokens are all terminal for the flow.
func (h *Handler) CheckCallback(_ context.Context, _ *url.URL, get url.Values, post url.Values) disposition.Disposition {
	tok := get.Get("token")
	if tok == "" {
		tok = post.Get("token")
	}
	if tok == "" {
		return disposition.Error{Message: "Missing token"}
	}

	payload, err := h.codec.Verify(tok)
	switch {
	case errors.Is(err, tokens.ErrTokenExpired):
		return disposition.Error{Message: "Login timed out"}
	case err != nil:
		return disposition.Error{Message: "Invalid token"}
	case len(payload) != 2:
		return disposition.Error{Message: "Invalid token"}
	}
	addr, redir := payload[0], payload[1]
	h.pending.Delete(addr)

	return disposition.Verified{
		Identity: "mailto:" + addr,
		Redirect: redir,
		Profile:  disposition.Profile{Email: addr},
	}
}

// parseAddress extracts and validates the address from a mailto: identity.
func parseAddress(identity string) (string, bool) {
	addr, found := strings.CutPrefix(identity, "mailto:")
	if !found {
		return "", false
	}
	addr = strings.ToLower(strings.TrimSpace(addr))
	if !addressRe.MatchString(addr) {
		return "", false
	}
	return addr, true
}

// appendQuery adds a query parameter to a URI that may or may not already
// carry a query string.
func appendQuery(uri string, key string, value string) string {
	sep := "?"
	if strings.Contains(uri, "?") {
		sep = "&"
	}
	return uri + sep + key + "=" + url.QueryEscape(value)
}
