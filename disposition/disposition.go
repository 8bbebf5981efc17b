// Package disposition defines the typed results of an authentication flow
// step. Every call into a handler's InitiateAuth or CheckCallback produces
// exactly one Disposition, which tells the calling application what to
// present to the user next: redirect them, notify them, ask them to submit a
// form, treat them as verified, or show an error.
//
// The set of dispositions is closed: only the types declared in this package
// satisfy the Disposition interface.
package disposition

import "fmt"

// Disposition is the result of one step of an authentication flow. It is a
// closed union; the concrete types are Redirect, Notify, NeedsPost, Verified
// and Error.
type Disposition interface {
	fmt.Stringer

	// sealed prevents implementations outside this package, keeping the
	// variant set closed for exhaustive switches in callers.
	sealed()
}

// Redirect tells the application to redirect the user to another URL for the
// next step of the flow, typically an external provider's authorization page.
type Redirect struct {
	// URL to redirect the user to.
	URL string
}

func (d Redirect) sealed()        {}
func (d Redirect) String() string { return "REDIR:" + d.URL }

// Notify tells the application that the user must take an external action to
// continue, such as checking their email for a login link.
type Notify struct {
	// Message is the client notification text, e.g. "Check your email".
	Message string

	// Data carries optional extra client data configured on the handler.
	Data map[string]string
}

func (d Notify) sealed()        {}
func (d Notify) String() string { return "NOTIFY:" + d.Message }

// NeedsPost tells the application that the next step requires the user agent
// to submit a form POST to the given URL, for providers that cannot proceed
// on a plain redirect.
type NeedsPost struct {
	// URL is the form action target.
	URL string

	// Message describes the step to the user.
	Message string

	// Data holds the form fields to submit.
	Data map[string]string
}

func (d NeedsPost) sealed()        {}
func (d NeedsPost) String() string { return "POST:" + d.URL }

// Verified certifies a successful authentication. It is only ever produced by
// a handler's callback phase (or by a local loopback handler) and carries the
// confirmed canonical identity. It is up to the application to establish its
// own session from this and redirect the user onward.
type Verified struct {
	// Identity is the verified canonical identity URL.
	Identity string

	// Redirect is where to send the user after sign-in, taken from the
	// values bound at initiation and never from callback request input.
	Redirect string

	// Profile is optional profile information discovered during
	// verification.
	Profile Profile
}

func (d Verified) sealed()        {}
func (d Verified) String() string { return "VERIFIED:" + d.Identity }

// Error indicates that the flow failed. Message is safe to show to the end
// user; it never contains token internals or provider secrets.
type Error struct {
	Message string

	// Redirect is the original redirection target of the attempt, when it
	// is still known.
	Redirect string
}

func (d Error) sealed()        {}
func (d Error) String() string { return "ERROR:" + d.Message }

// Errorf builds an Error disposition from a format string.
func Errorf(redir string, format string, args ...any) Error {
	return Error{Message: fmt.Sprintf(format, args...), Redirect: redir}
}

// Profile holds the identity profile details a handler was able to discover
// during verification. All fields are optional.
type Profile struct {
	// Name is the user's display name.
	Name string

	// Avatar is a URL to the user's avatar image.
	Avatar string

	// Bio is brief biographical information.
	Bio string

	// Homepage is the user's personal homepage.
	Homepage string

	// Pronouns is the user's declared pronouns.
	Pronouns string

	// Email is the user's email address.
	Email string

	// ProfileURL is a human-readable link to the service-specific
	// profile, which may differ from the identity URL.
	ProfileURL string

	// Endpoints maps rel names to the user's integration service
	// endpoints (IndieWeb micropub, webmention, etc).
	Endpoints map[string]string
}

// IsZero reports whether no profile information was discovered.
func (p Profile) IsZero() bool {
	return p.Name == "" && p.Avatar == "" && p.Bio == "" && p.Homepage == "" &&
		p.Pronouns == "" && p.Email == "" && p.ProfileURL == "" && len(p.Endpoints) == 0
}
