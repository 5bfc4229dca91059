package extractor

import (
	"encoding/base64"
	"fmt"
	"html"
	"strings"

	"github.com/yourusername/offline-cache-go/internal/domain"
)

// buildMediaHTML synthesizes local playback markup for a link's
// resolved media variants. Video gets a poster and inline base64 WebVTT
// tracks; audio has no visual poster so it sits in a styled placeholder
// block.
func buildMediaHTML(link *domain.Link, opts Options) string {
	var b strings.Builder
	for _, v := range link.VideoLinks {
		if v.IsAudio {
			writeAudioHTML(&b, v, opts)
		} else {
			writeVideoHTML(&b, v)
		}
	}
	return b.String()
}

func writeVideoHTML(b *strings.Builder, v *domain.VideoLink) {
	b.WriteString(`<video controls playsinline preload="metadata" style="width: 100%; height: auto;"`)
	if v.PosterPath != "" {
		fmt.Fprintf(b, ` poster="%s"`, html.EscapeString(v.PosterPath))
	}
	b.WriteString(">")
	fmt.Fprintf(b, `<source src="%s">`, html.EscapeString(v.DownloadedPath))
	writeTracks(b, v.Tracks)
	b.WriteString("</video>")
}

func writeAudioHTML(b *strings.Builder, v *domain.VideoLink, opts Options) {
	background := v.Color
	if background == "" {
		background = opts.MediaBackground
	}
	fmt.Fprintf(b, `<div class="offline-audio-placeholder" style="background: %s; padding: 16px; text-align: center; color: #ffffff;">`, html.EscapeString(background))
	if v.Name != "" {
		fmt.Fprintf(b, `<p>%s</p>`, html.EscapeString(v.Name))
	}
	fmt.Fprintf(b, `<audio controls style="width: 100%%;" src="%s"></audio>`, html.EscapeString(v.DownloadedPath))
	b.WriteString("</div>")
}

// writeTracks inlines subtitle tracks as base64 data URIs so playback
// needs no extra files
func writeTracks(b *strings.Builder, tracks []domain.VideoTrack) {
	for i, track := range tracks {
		encoded := base64.StdEncoding.EncodeToString([]byte(track.Contents))
		fmt.Fprintf(b, `<track kind="subtitles" label="%s" srclang="%s" src="data:text/vtt;base64,%s"`,
			html.EscapeString(track.Label), html.EscapeString(track.Language), encoded)
		if i == 0 {
			b.WriteString(" default")
		}
		b.WriteString(">")
	}
}
