package indieauth

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/yhat/scrape"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/plaidweb/authl-go/internal/httputil"
)

// endpointRels are the IndieWeb endpoints worth discovering on a profile
// page. Only authorization_endpoint drives the login flow; the rest are
// reported back in the verified profile for the application's use.
var endpointRels = []string{
	"authorization_endpoint",
	"token_endpoint",
	"ticket_endpoint",
	"webmention",
	"micropub",
	"microsub",
}

// discovery is what one identity page told us: its endpoints and the
// permanent (canonical) profile URL it lives at.
type discovery struct {
	endpoints map[string]string
	profile   string
}

// discover fetches an identity URL and derives its IndieWeb endpoints from
// Link headers and <link> tags, caching the result under both the requested
// and canonical URLs.
func (h *Handler) discover(ctx context.Context, idURL string) (*discovery, error) {
	const op = "indieauth.(Handler).discover"
	if cached, ok := h.cache.Get(idURL); ok {
		return cached.(*discovery), nil
	}

	page, err := httputil.Fetch(ctx, h.client, idURL, httputil.UserAgentFor(h.clientID()))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if page.StatusCode < 200 || page.StatusCode > 299 {
		return nil, fmt.Errorf("%s: profile page returned %d", op, page.StatusCode)
	}

	d := &discovery{
		endpoints: map[string]string{},
		profile:   page.PermanentURL.String(),
	}

	headerRels := httputil.LinkHeaderRels(page.Header)
	doc, parseErr := html.Parse(bytes.NewReader(page.Body))

	for _, rel := range endpointRels {
		if href, ok := headerRels[rel]; ok {
			d.endpoints[rel] = resolveRef(page.FinalURL, href)
			continue
		}
		if parseErr != nil || doc == nil {
			continue
		}
		if link, ok := findLinkRel(doc, rel); ok {
			d.endpoints[rel] = resolveRef(page.FinalURL, link)
		}
	}

	h.cache.SetDefault(idURL, d)
	h.cache.SetDefault(d.profile, d)
	if doc != nil {
		// prefill the profile cache while the parse tree is in hand
		h.profiles.SetDefault(d.profile, parseHCard(doc, page.FinalURL))
	}
	return d, nil
}

// authEndpoint returns the page's authorization endpoint and canonical
// profile URL, or an error when the page doesn't support IndieAuth.
func (h *Handler) authEndpoint(ctx context.Context, idURL string) (string, string, error) {
	const op = "indieauth.(Handler).authEndpoint"
	d, err := h.discover(ctx, idURL)
	if err != nil {
		return "", "", err
	}
	endpoint, ok := d.endpoints["authorization_endpoint"]
	if !ok {
		return "", "", fmt.Errorf("%s: %s has no authorization endpoint", op, idURL)
	}
	return endpoint, d.profile, nil
}

// verifyID checks that the identity a provider responded with is a valid
// substitute for the one the flow was requested for: either they are the
// same URL, or both declare the same authorization endpoint.
func (h *Handler) verifyID(ctx context.Context, requestID string, responseID string) (string, error) {
	const op = "indieauth.(Handler).verifyID"
	if requestID == responseID {
		return responseID, nil
	}
	reqEndpoint, _, err := h.authEndpoint(ctx, requestID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	respEndpoint, respProfile, err := h.authEndpoint(ctx, responseID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if reqEndpoint != respEndpoint {
		return "", fmt.Errorf("%s: authorization endpoint mismatch for %s and %s", op, requestID, responseID)
	}
	return respProfile, nil
}

// findLinkRel scans the document for a <link> or <a> carrying the rel.
func findLinkRel(doc *html.Node, rel string) (string, bool) {
	node, ok := scrape.Find(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode || (n.DataAtom != atom.Link && n.DataAtom != atom.A) {
			return false
		}
		for _, r := range strings.Fields(scrape.Attr(n, "rel")) {
			if r == rel {
				return true
			}
		}
		return false
	})
	if !ok {
		return "", false
	}
	href := scrape.Attr(node, "href")
	if href == "" {
		return "", false
	}
	return href, true
}

// resolveRef resolves a possibly-relative href against the page URL.
func resolveRef(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
