package extractor

import (
	"regexp"
	"strings"

	"github.com/yourusername/offline-cache-go/internal/domain"
)

var cssURLRegex = regexp.MustCompile(`url\(\s*(?:'([^']*)'|"([^"]*)"|([^'"\)\s]+))\s*\)`)

// CSSLinks extracts every url(...) reference from stylesheet text,
// stripping quotes and resolving each against the stylesheet's own URL.
// Results are deduplicated by the original reference text; ExtractedURL
// carries the resolved absolute form.
func CSSLinks(contents, baseURL string) []*domain.Link {
	var links []*domain.Link
	seen := make(map[string]struct{})

	for _, match := range cssURLRegex.FindAllStringSubmatch(contents, -1) {
		raw := match[1]
		if raw == "" {
			raw = match[2]
		}
		if raw == "" {
			raw = match[3]
		}
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "data:") {
			continue
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}

		link := &domain.Link{URL: raw, ExtractedURL: FixLink(raw, baseURL)}
		links = append(links, link)
	}
	return links
}
