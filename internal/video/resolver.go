package video

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/yourusername/offline-cache-go/internal/domain"
	"github.com/yourusername/offline-cache-go/internal/extractor"
)

// maxRedirectDepth bounds redirector recursion: hapyak pages can point
// at further embeds, which can in principle point back.
const maxRedirectDepth = 5

const wistiaCaptionsURL = "https://fast.wistia.net/embed/captions/%s.json"

// Fetcher retrieves the text contents of a URL, sending the given
// cookie header when non-empty.
type Fetcher interface {
	Contents(ctx context.Context, link, cookie string) (string, error)
}

// Resolver turns platform embed references into directly downloadable
// media variants with posters and subtitle tracks.
type Resolver struct {
	fetcher  Fetcher
	renderer extractor.Renderer
	log      *zap.Logger
}

// NewResolver builds a resolver. renderer may be nil, in which case
// redirector platforms that need a rendered page fail with ErrNoConfig.
func NewResolver(fetcher Fetcher, renderer extractor.Renderer, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{fetcher: fetcher, renderer: renderer, log: log}
}

// Resolve classifies the link and extracts its playable variants. The
// base is used for relative reference resolution, cookie is forwarded
// to every platform request.
func (r *Resolver) Resolve(ctx context.Context, link, base, cookie string) ([]*domain.VideoLink, error) {
	return r.resolve(ctx, link, base, cookie, 0)
}

func (r *Resolver) resolve(ctx context.Context, link, base, cookie string, depth int) ([]*domain.VideoLink, error) {
	if depth > maxRedirectDepth {
		return nil, resolveErr(link, ErrRedirectLoop)
	}

	platform := Detect(link)
	r.log.Debug("resolving media embed",
		zap.String("url", link),
		zap.String("platform", string(platform)))

	switch platform {
	case PlatformWistia:
		return r.resolveWistia(ctx, link, base, cookie)
	case PlatformWistiaJSON:
		return r.resolveWistiaJSON(ctx, link, cookie)
	case PlatformVimeo:
		return r.resolveVimeo(ctx, link, base, cookie)
	case PlatformHapyak:
		return r.resolveHapyak(ctx, link, base, cookie, depth)
	case PlatformDirect:
		return []*domain.VideoLink{{URL: link}}, nil
	case PlatformYouTube, PlatformEco:
		return nil, resolveErr(link, ErrUnsupportedPlatform)
	default:
		return nil, resolveErr(link, ErrUnknownPlatform)
	}
}

func (r *Resolver) resolveWistia(ctx context.Context, link, base, cookie string) ([]*domain.VideoLink, error) {
	fixed := extractor.FixLink(link, base)
	content, err := r.fetcher.Contents(ctx, fixed, cookie)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", fixed, err)
	}

	media, err := parseWistiaPage(content, fixed)
	if err != nil {
		return nil, err
	}
	return r.wistiaVariants(ctx, media, fixed, cookie)
}

func (r *Resolver) resolveWistiaJSON(ctx context.Context, link, cookie string) ([]*domain.VideoLink, error) {
	content, err := r.fetcher.Contents(ctx, link, cookie)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", link, err)
	}

	body, ok := slice(content, "= {", "};")
	if !ok {
		return nil, resolveErr(link, ErrNoConfig)
	}
	var env wistiaEnvelope
	if err := json.Unmarshal([]byte("{"+body+"}"), &env); err != nil {
		return nil, resolveErr(link, ErrBadConfig)
	}
	return r.wistiaVariants(ctx, env.Media, link, cookie)
}

// parseWistiaPage locates the player configuration in a wistia embed
// page. Two envelopes are in the wild, the iframe init call and the
// script embed call.
func parseWistiaPage(content, link string) (wistiaMedia, error) {
	bodies := make([]string, 0, 2)
	if b, ok := slice(content, "iframeInit(", ", {});"); ok {
		bodies = append(bodies, b)
	}
	if b, ok := slice(content, "W.embed(", ", embedOptions);"); ok {
		bodies = append(bodies, b)
	}
	if len(bodies) == 0 {
		return wistiaMedia{}, resolveErr(link, ErrNoConfig)
	}

	for _, body := range bodies {
		var media wistiaMedia
		if err := json.Unmarshal([]byte(body), &media); err == nil {
			return media, nil
		}
	}
	return wistiaMedia{}, resolveErr(link, ErrBadConfig)
}

func (r *Resolver) wistiaVariants(ctx context.Context, media wistiaMedia, link, cookie string) ([]*domain.VideoLink, error) {
	tracks := r.wistiaSubtitles(ctx, media.HashedID, cookie)

	variant := selectWistiaVariant(media, tracks)
	if variant == nil {
		return nil, resolveErr(link, ErrNoCompatibleMedia)
	}
	return []*domain.VideoLink{variant}, nil
}

// selectWistiaVariant applies the asset preference rules: audio media
// takes the largest mp3_audio rendition, video the smallest h264 one,
// both falling back to the "original" asset. The poster is the widest
// still image.
func selectWistiaVariant(media wistiaMedia, tracks []domain.VideoTrack) *domain.VideoLink {
	var poster string
	var posterWidth int
	for _, a := range media.Assets {
		if strings.Contains(strings.ToLower(a.Type), "still_image") && a.Width >= posterWidth {
			poster, posterWidth = a.URL, a.Width
		}
	}

	var original string
	for _, a := range media.Assets {
		if a.Type == "original" {
			original = a.URL
			break
		}
	}

	isAudio := strings.EqualFold(media.MediaType, "audio")
	var best string
	if isAudio {
		var bestSize int64 = -1
		for _, a := range media.Assets {
			if a.Type == "mp3_audio" && a.Size > bestSize {
				best, bestSize = a.URL, a.Size
			}
		}
	} else {
		var bestSize int64 = -1
		for _, a := range media.Assets {
			if a.Codec != "h264" {
				continue
			}
			if bestSize < 0 || a.Size < bestSize {
				best, bestSize = a.URL, a.Size
			}
		}
	}
	if best == "" {
		best = original
	}
	if best == "" {
		return nil
	}

	return &domain.VideoLink{
		Name:      media.Name,
		URL:       best,
		IsAudio:   isAudio,
		PosterURL: poster,
		Color:     media.Options.PlayerColor,
		Tracks:    tracks,
	}
}

// wistiaSubtitles fetches the captions document for a media id and
// converts each caption set to WebVTT. Failures only cost subtitles,
// never the download, so they are logged and swallowed.
func (r *Resolver) wistiaSubtitles(ctx context.Context, id, cookie string) []domain.VideoTrack {
	if id == "" {
		return nil
	}
	content, err := r.fetcher.Contents(ctx, fmt.Sprintf(wistiaCaptionsURL, id), cookie)
	if err != nil {
		r.log.Debug("captions unavailable", zap.String("media_id", id), zap.Error(err))
		return nil
	}

	var subs wistiaSubtitles
	if err := json.Unmarshal([]byte(content), &subs); err != nil {
		r.log.Debug("captions not decodable", zap.String("media_id", id), zap.Error(err))
		return nil
	}

	var tracks []domain.VideoTrack
	for _, caption := range subs.Captions {
		if caption.Hash == nil || len(caption.Hash.Lines) == 0 {
			continue
		}
		tracks = append(tracks, domain.VideoTrack{
			Label:    caption.EnglishName,
			Language: caption.Language,
			Contents: webVTT(caption.Hash.Lines),
		})
	}
	return tracks
}

func webVTT(lines []wistiaLine) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, line := range lines {
		b.WriteString(vttTimestamp(line.Start))
		b.WriteString(" --> ")
		b.WriteString(vttTimestamp(line.End))
		b.WriteString("\n")
		b.WriteString(strings.Join(line.Text, "\n"))
		b.WriteString("\n\n")
	}
	return b.String()
}

func (r *Resolver) resolveVimeo(ctx context.Context, link, base, cookie string) ([]*domain.VideoLink, error) {
	fixed := extractor.FixLink(link, base)
	content, err := r.fetcher.Contents(ctx, fixed, cookie)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", fixed, err)
	}

	config, err := r.parseVimeoPage(ctx, content, fixed, cookie, false)
	if err != nil {
		return nil, err
	}

	var best *vimeoProgressive
	for i := range config.Request.Files.Progressive {
		p := &config.Request.Files.Progressive[i]
		if best == nil || p.Height < best.Height {
			best = p
		}
	}
	if best == nil {
		return nil, resolveErr(fixed, ErrNoCompatibleMedia)
	}

	var tracks []domain.VideoTrack
	for _, t := range config.Request.TextTracks {
		trackURL := t.URL
		if strings.HasPrefix(trackURL, "/") {
			trackURL = config.PlayerURL + trackURL
			if !strings.HasPrefix(trackURL, "http") {
				trackURL = "https://" + trackURL
			}
		}
		contents, err := r.fetcher.Contents(ctx, trackURL, cookie)
		if err != nil {
			r.log.Debug("text track unavailable", zap.String("url", trackURL), zap.Error(err))
			continue
		}
		tracks = append(tracks, domain.VideoTrack{Label: t.Label, Language: t.Lang, Contents: contents})
	}

	return []*domain.VideoLink{{
		URL:       best.URL,
		PosterURL: config.Video.Thumbs["base"],
		Tracks:    tracks,
	}}, nil
}

// parseVimeoPage tries the known player configuration envelopes. Pages
// without one may still carry an embedUrl pointing at the real player,
// which is followed once.
func (r *Resolver) parseVimeoPage(ctx context.Context, content, link, cookie string, embedded bool) (*vimeoConfig, error) {
	markers := []struct{ from, to string }{
		{"var config = {", "};"},
		{"playerConfig = {", "};"},
		{"playerConfig = {", "}\n"},
		{"playerConfig = {", "}</script>"},
	}

	found := false
	for _, m := range markers {
		body, ok := slice(content, m.from, m.to)
		if !ok {
			continue
		}
		found = true
		var config vimeoConfig
		if err := json.Unmarshal([]byte("{"+body+"}"), &config); err == nil {
			return &config, nil
		}
	}
	if found {
		return nil, resolveErr(link, ErrBadConfig)
	}

	if !embedded {
		if embedURL, ok := slice(content, `embedUrl":"`, `"`); ok {
			embedded, err := r.fetcher.Contents(ctx, embedURL, cookie)
			if err != nil {
				return nil, fmt.Errorf("fetch %s: %w", embedURL, err)
			}
			return r.parseVimeoPage(ctx, embedded, embedURL, cookie, true)
		}
	}
	return nil, resolveErr(link, ErrNoConfig)
}

func (r *Resolver) resolveHapyak(ctx context.Context, link, base, cookie string, depth int) ([]*domain.VideoLink, error) {
	fixed := extractor.FixLink(link, base)
	if r.renderer == nil {
		return nil, resolveErr(fixed, ErrNoConfig)
	}

	dyn := extractor.NewDynamicExtractor(r.renderer, extractor.Options{})
	page, err := dyn.Extract(ctx, extractor.RenderRequest{URL: fixed})
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", fixed, err)
	}

	sourceID, ok := slice(page.HTML, `"source_id": "`, `"`)
	if !ok {
		return nil, resolveErr(fixed, ErrNoConfig)
	}

	if jsonLink := findMediaJSON(page.Links, sourceID); jsonLink != "" {
		return r.resolveHapyakJSON(ctx, jsonLink, page.HTML, cookie)
	}

	for _, l := range page.Links {
		if l.IsIframe() && strings.Contains(l.URL, sourceID) {
			return r.resolve(ctx, l.URL, "", cookie, depth+1)
		}
	}

	if embedURL, ok := slice(page.HTML, `embedUrl":"`, `"`); ok {
		return r.resolve(ctx, extractor.FixLink(embedURL, base), "", cookie, depth+1)
	}

	return nil, resolveErr(fixed, ErrNoConfig)
}

func findMediaJSON(links []*domain.Link, sourceID string) string {
	needle := "/medias/" + sourceID + ".json"
	for _, l := range links {
		if strings.Contains(l.URL, needle) {
			return l.URL
		}
	}
	return ""
}

func (r *Resolver) resolveHapyakJSON(ctx context.Context, jsonLink, pageHTML, cookie string) ([]*domain.VideoLink, error) {
	body, err := r.fetcher.Contents(ctx, jsonLink, cookie)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", jsonLink, err)
	}
	body = stripJSONPCallback(body, jsonLink)

	var video hapyakVideo
	if err := json.Unmarshal([]byte(body), &video); err != nil {
		return nil, resolveErr(jsonLink, ErrBadConfig)
	}

	thumbnail, _ := slice(pageHTML, `thumbnailUrl":"`, `"`)
	tracks := r.wistiaSubtitles(ctx, video.Media.HashedID, cookie)

	variant := selectHapyakVariant(video.Media, thumbnail, tracks)
	if variant == nil {
		return nil, resolveErr(jsonLink, ErrNoCompatibleMedia)
	}
	return []*domain.VideoLink{variant}, nil
}

// stripJSONPCallback unwraps "/**/callback(...)" padding when the JSON
// endpoint was called with a callback query parameter.
func stripJSONPCallback(body, jsonLink string) string {
	u, err := url.Parse(jsonLink)
	if err != nil {
		return body
	}
	callback := u.Query().Get("callback")
	if callback == "" {
		return body
	}
	body = strings.TrimPrefix(body, "/**/"+callback+"(")
	body = strings.TrimSuffix(body, ")")
	return body
}

func selectHapyakVariant(media hapyakMedia, thumbnail string, tracks []domain.VideoTrack) *domain.VideoLink {
	poster := thumbnail
	if poster == "" {
		var posterWidth int
		for _, a := range media.Assets {
			if strings.Contains(strings.ToLower(a.Type), "still_image") && a.Width >= posterWidth {
				poster, posterWidth = a.URL, a.Width
			}
		}
	}

	var original string
	for _, a := range media.Assets {
		if a.Type == "original" {
			original = a.URL
			break
		}
	}

	isAudio := strings.EqualFold(media.MediaType, "audio")
	var best string
	if isAudio {
		var bestSize int64 = -1
		for _, a := range media.Assets {
			if a.Type == "mp3_audio" && a.byteSize() > bestSize {
				best, bestSize = a.URL, a.byteSize()
			}
		}
	} else {
		var bestSize int64 = -1
		for _, a := range media.Assets {
			if a.Codec != "h264" {
				continue
			}
			if bestSize < 0 || a.byteSize() < bestSize {
				best, bestSize = a.URL, a.byteSize()
			}
		}
	}
	if best == "" {
		best = original
	}
	if best == "" {
		return nil
	}

	return &domain.VideoLink{
		URL:       best,
		IsAudio:   isAudio,
		PosterURL: poster,
		Tracks:    tracks,
	}
}
