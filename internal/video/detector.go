// Package video resolves platform-hosted media references (iframe and
// script embeds) into directly playable media URLs with posters and
// subtitle tracks.
package video

import (
	"net/url"
	"strings"
)

// Platform is the hosting platform a media reference was classified as
type Platform string

const (
	PlatformWistia     Platform = "wistia"
	PlatformWistiaJSON Platform = "wistia_json"
	PlatformVimeo      Platform = "vimeo"
	PlatformHapyak     Platform = "hapyak"
	PlatformDirect     Platform = "direct"
	PlatformYouTube    Platform = "youtube"
	PlatformEco        Platform = "eco"
	PlatformUnknown    Platform = "unknown"
)

// Detect classifies a reference URL by hostname and path heuristics.
// Order matters: the hapyak redirector wraps other platforms' embeds,
// and the jsonp variant of wistia must win over the iframe variant.
func Detect(link string) Platform {
	lower := strings.ToLower(link)
	host := hostOf(lower)

	switch {
	case strings.Contains(host, "hapyak"):
		return PlatformHapyak
	case strings.Contains(host, "wistia") && strings.Contains(lower, ".jsonp"):
		return PlatformWistiaJSON
	case strings.Contains(host, "wistia"):
		return PlatformWistia
	case strings.Contains(host, "vimeo"):
		return PlatformVimeo
	case strings.Contains(host, "youtube.com"), strings.Contains(host, "youtu.be"):
		return PlatformYouTube
	case strings.Contains(host, "helloeko"):
		return PlatformEco
	case strings.Contains(lower, ".mp4"), strings.Contains(lower, ".mov"):
		return PlatformDirect
	default:
		return PlatformUnknown
	}
}

// IsEmbed reports whether the link looks like a platform media embed a
// part downloader should hand to the video pipeline even outside an
// iframe (script-embed convention).
func IsEmbed(link string) bool {
	switch Detect(link) {
	case PlatformWistiaJSON:
		return true
	}
	return false
}

func hostOf(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Host
}
