package extractor

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/yourusername/offline-cache-go/internal/domain"
)

// RenderRequest asks the rendering engine for a page's final state,
// either by navigating to URL or by loading HTML against BaseURL.
type RenderRequest struct {
	URL     string
	HTML    string
	BaseURL string
}

// RenderResult is the settled page: the final document markup, every
// URL the page fetched while rendering, the URL actually navigated to
// when the request was redirected, and any cookies the session set.
type RenderResult struct {
	HTML        string
	Links       []string
	RedirectURL string
	Cookies     []*http.Cookie
}

// Renderer drives an isolated, non-persistent page-rendering session:
// it executes the page's scripts, observes DOM mutations and network
// requests, and returns once the page has been quiet for the settle
// period. Cancelling the context must stop the render session itself,
// not just abandon the wait.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (*RenderResult, error)
}

// DynamicExtractor obtains a page's real link set through a renderer
// when static markup is not enough, then runs the static extractor over
// the settled HTML and merges in the network-observed links.
type DynamicExtractor struct {
	renderer Renderer
	opts     Options
}

// NewDynamicExtractor creates a dynamic extractor over the given renderer
func NewDynamicExtractor(renderer Renderer, opts Options) *DynamicExtractor {
	return &DynamicExtractor{renderer: renderer, opts: opts}
}

// DynamicResult bundles the settled document, its extractor (already
// positioned for rewriting) and the merged link set.
type DynamicResult struct {
	HTML        string
	RedirectURL string
	Cookies     []*http.Cookie
	Extractor   *HTMLExtractor
	Links       []*domain.Link
}

// Extract renders the page and produces the merged link set. The base
// URL for link resolution is the redirect target when navigation moved,
// otherwise the request's own base.
func (d *DynamicExtractor) Extract(ctx context.Context, req RenderRequest) (*DynamicResult, error) {
	result, err := d.renderer.Render(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to render page: %w", err)
	}

	base := req.BaseURL
	if base == "" {
		base = req.URL
	}
	if result.RedirectURL != "" {
		base = result.RedirectURL
	}

	ext, err := NewHTMLExtractor(result.HTML, base, d.opts)
	if err != nil {
		return nil, err
	}

	links := ext.Links()
	seen := make(map[string]struct{}, len(links))
	for _, l := range links {
		seen[l.URL] = struct{}{}
	}
	for _, observed := range result.Links {
		resolved := FixLink(observed, base)
		if resolved == "" {
			continue
		}
		if _, dup := seen[resolved]; dup {
			continue
		}
		seen[resolved] = struct{}{}
		links = append(links, &domain.Link{URL: resolved})
	}

	return &DynamicResult{
		HTML:        result.HTML,
		RedirectURL: result.RedirectURL,
		Cookies:     result.Cookies,
		Extractor:   ext,
		Links:       links,
	}, nil
}

// CookieString folds session cookies into a request header value
func CookieString(cookies []*http.Cookie) string {
	var b []byte
	for _, c := range cookies {
		if len(b) > 0 {
			b = append(b, "; "...)
		}
		b = append(b, c.Name...)
		b = append(b, '=')
		b = append(b, c.Value...)
	}
	return string(b)
}
