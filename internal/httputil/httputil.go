// Package httputil holds the HTTP plumbing shared by the handlers: client
// construction, identity-page fetching with permanent-URL resolution, and
// Link header parsing.
package httputil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

// UserAgent identifies this library to the external services it talks to.
const UserAgent = "authl-go/1.0; +https://plaidweb.site/"

// maxBodyBytes caps how much of an identity page is read; profile pages past
// this size are truncated rather than failed.
const maxBodyBytes = 1 << 20

// UserAgentFor builds a user-agent string scoped to a relying client id.
func UserAgentFor(clientID string) string {
	if clientID == "" {
		return UserAgent
	}
	return fmt.Sprintf("%s for %s", UserAgent, clientID)
}

// NewClient returns a pooled HTTP client with the given total request
// timeout.
func NewClient(timeout time.Duration) *http.Client {
	c := cleanhttp.DefaultPooledClient()
	c.Timeout = timeout
	return c
}

// Page is the result of fetching an identity URL.
type Page struct {
	// Body is the (possibly truncated) response body.
	Body []byte

	// Header is the final response's headers.
	Header http.Header

	// FinalURL is the URL that ultimately served the response, after any
	// redirects.
	FinalURL *url.URL

	// PermanentURL is the last URL in the redirect chain that was reached
	// only via permanent (301/308) redirects. It is the identity's stable
	// profile URL for comparison purposes.
	PermanentURL *url.URL

	// StatusCode is the final response status.
	StatusCode int
}

// Fetch retrieves url, following redirects, and reports both where the
// request ended up and what the permanent form of the URL is.
func Fetch(ctx context.Context, client *http.Client, target string, userAgent string) (*Page, error) {
	const op = "httputil.Fetch"
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}
	if userAgent == "" {
		userAgent = UserAgent
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read response: %w", op, err)
	}
	return &Page{
		Body:         body,
		Header:       resp.Header,
		FinalURL:     normalizeHost(resp.Request.URL),
		PermanentURL: PermanentURL(resp),
		StatusCode:   resp.StatusCode,
	}, nil
}

// PermanentURL walks the response's redirect history and returns the last URL
// that was reached purely through permanent (301/308) redirects. A temporary
// redirect anywhere in the chain stops the walk, since everything after it
// may move again.
func PermanentURL(resp *http.Response) *url.URL {
	// rebuild the redirect history oldest-first; each hop's response is
	// linked from the next request
	var history []*http.Response
	for r := resp.Request.Response; r != nil; r = r.Request.Response {
		history = append([]*http.Response{r}, history...)
	}
	for _, hop := range history {
		switch hop.StatusCode {
		case http.StatusMovedPermanently, http.StatusPermanentRedirect:
			continue
		default:
			return normalizeHost(hop.Request.URL)
		}
	}
	return normalizeHost(resp.Request.URL)
}

func normalizeHost(u *url.URL) *url.URL {
	if u == nil {
		return nil
	}
	clone := *u
	clone.Host = strings.ToLower(clone.Host)
	return &clone
}

// CallbackParam reads a callback parameter from the query string, falling
// back to the form body. Providers vary in whether they respond with a GET
// redirect or a form POST, so both sources must be consulted.
func CallbackParam(get url.Values, post url.Values, key string) string {
	if v := get.Get(key); v != "" {
		return v
	}
	return post.Get(key)
}

// LinkHeaderRels parses the response's Link headers into a rel -> href map.
// When a header names several rels for one target, each rel gets its own
// entry; the first href seen for a given rel wins.
func LinkHeaderRels(header http.Header) map[string]string {
	rels := map[string]string{}
	for _, raw := range header.Values("Link") {
		for _, link := range strings.Split(raw, ",") {
			parts := strings.Split(link, ";")
			target := strings.TrimSpace(parts[0])
			if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
				continue
			}
			target = strings.Trim(target, "<>")
			for _, param := range parts[1:] {
				k, v, found := strings.Cut(strings.TrimSpace(param), "=")
				if !found || !strings.EqualFold(strings.TrimSpace(k), "rel") {
					continue
				}
				for _, rel := range strings.Fields(strings.Trim(strings.TrimSpace(v), `"`)) {
					if _, ok := rels[rel]; !ok {
						rels[rel] = target
					}
				}
			}
		}
	}
	return rels
}
