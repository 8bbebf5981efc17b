package indieauth

import (
	"context"
	"net/url"
	"strings"

	"github.com/yhat/scrape"
	"golang.org/x/net/html"

	"github.com/plaidweb/authl-go/disposition"
	"github.com/plaidweb/authl-go/internal/httputil"
)

// parseHCard extracts a profile from the first h-card on the page. Missing
// properties just stay empty; an absent h-card yields a zero profile.
func parseHCard(doc *html.Node, base *url.URL) disposition.Profile {
	var p disposition.Profile

	card, ok := scrape.Find(doc, hasClass("h-card"))
	if !ok {
		return p
	}

	p.Name = textOf(card, "p-name")
	p.Bio = textOf(card, "p-note")
	p.Pronouns = textOf(card, "p-pronouns")
	if p.Pronouns == "" {
		p.Pronouns = textOf(card, "p-pronoun")
	}
	if photo, ok := scrape.Find(card, hasClass("u-photo")); ok {
		if src := firstAttr(photo, "src", "href"); src != "" {
			p.Avatar = resolveRef(base, src)
		}
	}
	if home, ok := scrape.Find(card, hasClass("u-url")); ok {
		if href := scrape.Attr(home, "href"); href != "" {
			p.Homepage = resolveRef(base, href)
		}
	}
	if email, ok := scrape.Find(card, hasClass("u-email")); ok {
		href := scrape.Attr(email, "href")
		if href == "" {
			href = scrape.Text(email)
		}
		p.Email = strings.TrimPrefix(href, "mailto:")
	}
	return p
}

// profileFor returns the h-card profile for an identity URL, fetching the
// page if discovery hasn't already cached one. Failures degrade to a zero
// profile; a login should never fail because a profile page got flaky.
func (h *Handler) profileFor(ctx context.Context, idURL string) disposition.Profile {
	if cached, ok := h.profiles.Get(idURL); ok {
		return cached.(disposition.Profile)
	}

	var p disposition.Profile
	page, err := httputil.Fetch(ctx, h.client, idURL, httputil.UserAgentFor(h.clientID()))
	if err != nil {
		h.log.Debug("profile fetch failed", "url", idURL, "err", err)
		return p
	}
	if doc, err := html.Parse(strings.NewReader(string(page.Body))); err == nil {
		p = parseHCard(doc, page.FinalURL)
	}
	h.profiles.SetDefault(idURL, p)
	return p
}

// overlayServerProfile applies the profile object an authorization endpoint
// returned on top of whatever the h-card said; the endpoint's word wins.
func overlayServerProfile(p disposition.Profile, server map[string]any) disposition.Profile {
	if s, ok := server["name"].(string); ok && s != "" {
		p.Name = s
	}
	if s, ok := server["photo"].(string); ok && s != "" {
		p.Avatar = s
	}
	if s, ok := server["url"].(string); ok && s != "" {
		p.Homepage = s
	}
	if s, ok := server["email"].(string); ok && s != "" {
		p.Email = s
	}
	return p
}

func hasClass(class string) scrape.Matcher {
	return func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		for _, c := range strings.Fields(scrape.Attr(n, "class")) {
			if c == class {
				return true
			}
		}
		return false
	}
}

func textOf(root *html.Node, class string) string {
	n, ok := scrape.Find(root, hasClass(class))
	if !ok {
		return ""
	}
	return strings.TrimSpace(scrape.Text(n))
}

func firstAttr(n *html.Node, keys ...string) string {
	for _, k := range keys {
		if v := scrape.Attr(n, k); v != "" {
			return v
		}
	}
	return ""
}
