package authl

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	// @user@domain, the WebFinger handle form
	webfingerRe = regexp.MustCompile(`^@([^@\s/]+)@([^@\s/]+)$`)

	// user@domain with at least one dot in the domain, the bare email
	// form; no colon in the local part, so scheme-prefixed identities
	// never read as bare emails
	emailRe = regexp.MustCompile(`^[^@\s/:]+@[^@\s/]+\.[^@\s/]+$`)
)

// opaqueSchemes are non-hierarchical identity schemes the canonicalizer
// passes through. Anything else without an explicit "://" is treated as a
// schemeless web URL.
var opaqueSchemes = []string{"mailto:", "acct:", "test:"}

// CanonicalizeIdentity normalizes a free-text identity into its canonical,
// comparable form:
//
//   - "@user@domain" becomes "acct:user@domain" (a WebFinger handle)
//   - "user@domain" becomes "mailto:user@domain" (an email address)
//   - anything without a scheme gets an "https://" prefix
//   - hosts are lowercased and a bare trailing slash is dropped, so
//     "Example.com/" and "example.com" canonicalize identically
//
// The function is pure. It returns ErrInvalidIdentity when the input is
// empty or has no recognizable host or handle component.
func CanonicalizeIdentity(raw string) (string, error) {
	const op = "authl.CanonicalizeIdentity"
	s := norm.NFC.String(strings.TrimSpace(raw))
	if s == "" {
		return "", fmt.Errorf("%s: empty identity: %w", op, ErrInvalidIdentity)
	}

	// Explicit opaque schemes pass through before the handle rewrites;
	// "mailto:a@b.com" is already canonical, not a bare email to wrap.
	lower := strings.ToLower(s)
	for _, scheme := range opaqueSchemes {
		if !strings.HasPrefix(lower, scheme) {
			continue
		}
		rest := s[len(scheme):]
		if rest == "" {
			return "", fmt.Errorf("%s: %q has no host or handle: %w", op, raw, ErrInvalidIdentity)
		}
		if scheme == "test:" {
			// loopback identities are opaque and case-sensitive
			return scheme + rest, nil
		}
		return scheme + strings.ToLower(rest), nil
	}

	if m := webfingerRe.FindStringSubmatch(s); m != nil {
		return "acct:" + m[1] + "@" + strings.ToLower(m[2]), nil
	}
	if emailRe.MatchString(s) {
		return "mailto:" + strings.ToLower(s), nil
	}

	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%s: %q has no host or handle: %w", op, raw, ErrInvalidIdentity)
	}
	u.Host = strings.ToLower(u.Host)
	if u.Path == "/" && u.RawQuery == "" && u.Fragment == "" {
		u.Path = ""
	}
	return u.String(), nil
}

// isWebIdentity reports whether the canonical identity is a well-formed
// http(s) URL, the only shape generic handlers may claim.
func isWebIdentity(identity string) bool {
	u, err := url.Parse(identity)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
