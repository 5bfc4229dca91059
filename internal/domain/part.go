package domain

import "strings"

// PartKind distinguishes HTML parts from bare-URL parts
type PartKind string

const (
	PartHTML PartKind = "html"
	PartURL  PartKind = "url"
)

// Part is one content unit within an entry: an HTML blob with an optional
// base URL and cookie string, or a single bare URL. It owns the ordered,
// deduplicated list of links discovered in it.
type Part struct {
	Kind         PartKind `json:"kind"`
	HTML         string   `json:"html,omitempty"`
	BaseURL      string   `json:"base_url,omitempty"`
	URL          string   `json:"url,omitempty"`
	CookieString string   `json:"cookie_string,omitempty"`
	// Dynamic marks parts whose real link set only exists after the
	// page's scripts ran, so extraction goes through the renderer.
	Dynamic bool `json:"dynamic,omitempty"`

	Links []*Link `json:"links,omitempty"`
}

// AppendDistinct appends links not already present, comparing by URL
func (p *Part) AppendDistinct(links ...*Link) {
	for _, link := range links {
		exists := false
		for _, have := range p.Links {
			if have.URL == link.URL {
				exists = true
				break
			}
		}
		if !exists {
			p.Links = append(p.Links, link)
		}
	}
}

// clone deep-copies the part for entry snapshots.
func (p *Part) clone() *Part {
	cp := *p
	cp.Links = nil
	for _, link := range p.Links {
		cp.Links = append(cp.Links, link.clone())
	}
	return &cp
}

// Link is one discovered remote reference inside a part. URL is the
// resolved absolute form of the original reference; Tag and Attribute
// name the owning element so the document can be rewritten later.
type Link struct {
	URL       string `json:"url"`
	Tag       string `json:"tag,omitempty"`
	Attribute string `json:"attribute,omitempty"`

	// ExtractedURL is set when a rewrite hook or a resolver mapped the
	// link to a different download target.
	ExtractedURL string `json:"extracted_url,omitempty"`

	// DownloadedPath is the relative local path once the resource is on
	// disk; presence means downloaded.
	DownloadedPath string `json:"downloaded_path,omitempty"`

	// VideoLinks holds the resolved media variants when the link turned
	// out to be a platform-hosted video or audio embed.
	VideoLinks []*VideoLink `json:"video_links,omitempty"`
}

// NewLink creates a link for a resolved URL owned by tag/attribute
func NewLink(url, tag, attribute string) *Link {
	return &Link{URL: url, Tag: tag, Attribute: attribute}
}

// DownloadURL returns the URL to actually fetch
func (l *Link) DownloadURL() string {
	if l.ExtractedURL != "" {
		return l.ExtractedURL
	}
	return l.URL
}

func (l *Link) IsWebLink() bool { return l.Tag != "" }
func (l *Link) IsCSS() bool     { return strings.EqualFold(l.Tag, "link") }
func (l *Link) IsIframe() bool  { return strings.EqualFold(l.Tag, "iframe") }
func (l *Link) IsVideo() bool   { return strings.EqualFold(l.Tag, "video") }
func (l *Link) IsAudio() bool   { return strings.EqualFold(l.Tag, "audio") }
func (l *Link) IsImage() bool   { return strings.EqualFold(l.Tag, "img") }
func (l *Link) IsScript() bool  { return strings.EqualFold(l.Tag, "script") }

// Downloaded reports whether the link's content is fully on disk. A link
// resolved into video variants counts once every variant, poster and
// track is local.
func (l *Link) Downloaded() bool {
	if len(l.VideoLinks) > 0 {
		for _, v := range l.VideoLinks {
			if !v.Downloaded() {
				return false
			}
		}
		return true
	}
	return l.DownloadedPath != ""
}

func (l *Link) clone() *Link {
	cl := *l
	cl.VideoLinks = nil
	for _, v := range l.VideoLinks {
		vc := *v
		vc.Tracks = append([]VideoTrack(nil), v.Tracks...)
		cl.VideoLinks = append(cl.VideoLinks, &vc)
	}
	return &cl
}

// VideoLink is the platform-independent result of resolving a platform
// video reference: one playable media variant with its poster and
// subtitle tracks.
type VideoLink struct {
	Name      string       `json:"name,omitempty"`
	URL       string       `json:"url"`
	IsAudio   bool         `json:"is_audio"`
	PosterURL string       `json:"poster_url,omitempty"`
	Color     string       `json:"color,omitempty"`
	Tracks    []VideoTrack `json:"tracks,omitempty"`

	DownloadedPath string `json:"downloaded_path,omitempty"`
	PosterPath     string `json:"poster_path,omitempty"`
}

// Downloaded reports whether the media file (and poster, when declared)
// is on disk
func (v *VideoLink) Downloaded() bool {
	if v.DownloadedPath == "" {
		return false
	}
	if v.PosterURL != "" && v.PosterPath == "" {
		return false
	}
	return true
}

// VideoTrack is a subtitle track converted to WebVTT text
type VideoTrack struct {
	Label    string `json:"label"`
	Language string `json:"language"`
	Contents string `json:"contents"`
}
