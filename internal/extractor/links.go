// Package extractor discovers downloadable references in HTML and CSS
// documents and rewrites them to local paths once downloaded.
package extractor

import (
	"net/url"
	"strings"
)

// sourceTags is the fixed set of elements scanned for references.
var sourceTags = []string{"img", "link", "script", "source", "video", "audio", "iframe", "a", "embed", "track"}

// sourceAttributes is the attribute allowlist checked on every source tag.
var sourceAttributes = []string{"src", "href", "poster", "data-src"}

// documentExtensions is the anchor-tag inclusion allowlist: a plain <a>
// link is only worth caching when it points at a downloadable document.
var documentExtensions = map[string]struct{}{
	"pdf": {}, "doc": {}, "docx": {}, "xls": {}, "xlsx": {},
	"ppt": {}, "pptx": {}, "txt": {}, "rtf": {}, "csv": {},
	"zip": {}, "pages": {}, "key": {}, "numbers": {},
	"mp3": {}, "mp4": {}, "mov": {},
}

// FixLink normalizes a raw reference against a base URL: surrounding
// whitespace and embedded newlines are stripped, scheme-relative links
// become https, relative paths resolve against base. Unparseable input
// is returned trimmed.
func FixLink(raw, base string) string {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "\n", "")
	if s == "" {
		return s
	}
	if strings.HasPrefix(s, "//") {
		return "https:" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return s
	}
	if base != "" {
		if b, berr := url.Parse(base); berr == nil {
			u = b.ResolveReference(u)
		}
	}
	return u.String()
}

// IsDocumentLink reports whether the URL path carries one of the
// downloadable document extensions
func IsDocumentLink(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	idx := strings.LastIndex(path, ".")
	if idx < 0 || idx == len(path)-1 {
		return false
	}
	_, ok := documentExtensions[path[idx+1:]]
	return ok
}

// EscapePath percent-encodes a relative path for use inside a document,
// keeping path separators intact
func EscapePath(rel string) string {
	return (&url.URL{Path: rel}).EscapedPath()
}
