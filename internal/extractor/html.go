package extractor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/yourusername/offline-cache-go/internal/domain"
)

const viewportMeta = `<meta name="viewport" content="width=device-width, initial-scale=1.0">`

// Options carries the rewrite hooks and media styling the extractor
// needs beyond the document itself.
type Options struct {
	LinksHandler          domain.LinksHandler
	MediaBackground       string
	MediaContainerClasses []string
}

// HTMLExtractor parses one HTML document, finds every downloadable
// reference in it and later rewrites the document in place so the
// references point at local copies.
type HTMLExtractor struct {
	baseURL string
	doc     *goquery.Document
	opts    Options
}

// videoJSSetup is the JSON carried by a video tag's data-setup
// attribute (third-party player configuration).
type videoJSSetup struct {
	Sources []struct {
		Src  string `json:"src"`
		Type string `json:"type"`
	} `json:"sources"`
}

// NewHTMLExtractor parses the document. A parse failure is a hard error
// for the whole part.
func NewHTMLExtractor(html, baseURL string, opts Options) (*HTMLExtractor, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return &HTMLExtractor{baseURL: baseURL, doc: doc, opts: opts}, nil
}

// Links returns every downloadable reference found in the document's
// source tags, deduplicated by resolved absolute URL, in discovery order.
func (e *HTMLExtractor) Links() []*domain.Link {
	var links []*domain.Link
	seen := make(map[string]struct{})

	appendLink := func(resolved, tag, attr string) {
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		link := domain.NewLink(resolved, tag, attr)
		if h := e.opts.LinksHandler; h != nil {
			if mapped := h(resolved); mapped != resolved {
				link.ExtractedURL = mapped
			}
		}
		links = append(links, link)
	}

	for _, tag := range sourceTags {
		e.doc.Find(tag).Each(func(_ int, s *goquery.Selection) {
			for _, attr := range sourceAttributes {
				raw, ok := s.Attr(attr)
				if !ok || strings.TrimSpace(raw) == "" {
					continue
				}
				if !e.canLoad(raw, tag) {
					continue
				}
				appendLink(FixLink(raw, e.baseURL), goquery.NodeName(s), attr)
			}

			if tag == "video" {
				if src, ok := firstSetupSource(s); ok {
					appendLink(FixLink(src, e.baseURL), "video", "data-setup")
				}
			}
		})
	}
	return links
}

// canLoad applies the inclusion rules: data URIs never load; anchors
// load only for downloadable documents, unless the rewrite hook maps
// the link somewhere else.
func (e *HTMLExtractor) canLoad(raw, tag string) bool {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "data:") {
		return false
	}
	if tag != "a" {
		return true
	}

	resolved := FixLink(trimmed, e.baseURL)
	if h := e.opts.LinksHandler; h != nil && h(resolved) != resolved {
		return true
	}
	return IsDocumentLink(resolved)
}

// firstSetupSource pulls the first declared source URL out of a video
// tag's data-setup player configuration
func firstSetupSource(s *goquery.Selection) (string, bool) {
	raw, ok := s.Attr("data-setup")
	if !ok || raw == "" {
		return "", false
	}
	var setup videoJSSetup
	if err := json.Unmarshal([]byte(raw), &setup); err != nil {
		return "", false
	}
	if len(setup.Sources) == 0 || setup.Sources[0].Src == "" {
		return "", false
	}
	return setup.Sources[0].Src, true
}

// SetRelativePath rewrites the document for a downloaded link: plain
// assets get their owning attribute repointed at the local copy,
// resolved media links get their owning element replaced with
// synthesized playback markup.
func (e *HTMLExtractor) SetRelativePath(link *domain.Link) error {
	if !link.Downloaded() || link.Tag == "" || link.Attribute == "" {
		return nil
	}

	if len(link.VideoLinks) > 0 {
		return e.replaceWithMedia(link)
	}
	if link.Attribute == "data-setup" {
		// a player-config link without resolved media has nothing local
		// to point the JSON at
		return nil
	}

	e.owners(link).Each(func(_ int, s *goquery.Selection) {
		s.SetAttr(link.Attribute, link.DownloadedPath)
	})
	return nil
}

// SetHTML substitutes fallback markup for the link's owning element,
// used when a non-critical download failure leaves nothing local to
// reference.
func (e *HTMLExtractor) SetHTML(link *domain.Link, fallback string) error {
	owners := e.owners(link)
	if owners.Length() == 0 {
		return nil
	}
	owners.Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithHtml(fallback)
	})
	return nil
}

// owners finds every element the link was extracted from
func (e *HTMLExtractor) owners(link *domain.Link) *goquery.Selection {
	return e.doc.Find(link.Tag).FilterFunction(func(_ int, s *goquery.Selection) bool {
		raw, ok := s.Attr(link.Attribute)
		if !ok || strings.TrimSpace(raw) == "" {
			return false
		}
		if link.Attribute == "data-setup" {
			src, found := firstSetupSource(s)
			return found && FixLink(src, e.baseURL) == link.URL
		}
		return FixLink(raw, e.baseURL) == link.URL
	})
}

// replaceWithMedia swaps the link's owning element (or its media
// container ancestor) for synthesized video/audio playback markup. A
// script-only embed additionally loses its originating script tag.
func (e *HTMLExtractor) replaceWithMedia(link *domain.Link) error {
	markup := buildMediaHTML(link, e.opts)
	owners := e.owners(link)
	if owners.Length() == 0 {
		return nil
	}

	owners.Each(func(_ int, s *goquery.Selection) {
		if link.IsScript() {
			if container := e.scriptMediaContainer(link); container != nil && container.Length() > 0 {
				container.ReplaceWithHtml(markup)
				s.Remove()
				return
			}
			s.ReplaceWithHtml(markup)
			return
		}

		target := s
		for _, class := range e.opts.MediaContainerClasses {
			if ancestor := s.Closest("." + class); ancestor.Length() > 0 {
				target = ancestor
				break
			}
		}
		target.ReplaceWithHtml(markup)
	})
	return nil
}

// scriptMediaContainer locates the companion element a media embed
// script renders into, identified by the platform's generated class
// naming convention (class suffix = media id from the script URL).
func (e *HTMLExtractor) scriptMediaContainer(link *domain.Link) *goquery.Selection {
	id := mediaIDFromURL(link.URL)
	if id == "" {
		return nil
	}
	sel := e.doc.Find(fmt.Sprintf("[class*=%q]", id))
	if sel.Length() == 0 {
		return nil
	}
	return sel.First()
}

// mediaIDFromURL derives the platform media id from an embed script URL
// (path basename without extension or query)
func mediaIDFromURL(link string) string {
	s := link
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "."); i >= 0 {
		s = s[:i]
	}
	return s
}

// FinalHTML inserts the mobile viewport meta when absent and serializes
// the document with non-ASCII characters escaped as numeric character
// references, so the stored file survives any later re-parse.
func (e *HTMLExtractor) FinalHTML() (string, error) {
	if e.doc.Find(`head meta[name="viewport"]`).Length() == 0 {
		e.doc.Find("head").AppendHtml(viewportMeta)
	}

	html, err := e.doc.Html()
	if err != nil {
		return "", fmt.Errorf("failed to serialize html: %w", err)
	}
	return escapeNonASCII(html), nil
}

func escapeNonASCII(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 128 {
			b.WriteRune(r)
		} else {
			fmt.Fprintf(&b, "&#x%x;", r)
		}
	}
	return b.String()
}
