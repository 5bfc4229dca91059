package downloader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/yourusername/offline-cache-go/internal/domain"
	"github.com/yourusername/offline-cache-go/internal/extractor"
	"github.com/yourusername/offline-cache-go/internal/video"
	"github.com/yourusername/offline-cache-go/pkg/progress"
)

// Deps bundles the collaborators every part of an entry shares: the
// transports, the filesystem, the rendering engine for dynamic parts
// and the configured hooks.
type Deps struct {
	Links    *LinkDownloader
	CSS      *CSSDownloader
	Video    *VideoDownloader
	Renderer extractor.Renderer

	Config       domain.DownloadConfig
	LinksHandler domain.LinksHandler
	Log          *zap.Logger

	// Persist, when set, is called after each link reaches a final
	// state so interrupted entries resume where they stopped.
	Persist func()
}

// NewDeps wires the shared collaborators from a config.
func NewDeps(links *LinkDownloader, resolver *video.Resolver, renderer extractor.Renderer, cfg *domain.Config, log *zap.Logger) Deps {
	if log == nil {
		log = zap.NewNop()
	}
	return Deps{
		Links:        links,
		CSS:          NewCSSDownloader(links, cfg.Download.CacheCSS),
		Video:        NewVideoDownloader(resolver, links),
		Renderer:     renderer,
		Config:       cfg.Download,
		LinksHandler: cfg.LinksHandler,
		Log:          log,
	}
}

func (d Deps) extractorOptions() extractor.Options {
	return extractor.Options{
		LinksHandler:          d.LinksHandler,
		MediaBackground:       d.Config.MediaBackground,
		MediaContainerClasses: d.Config.MediaContainerClasses,
	}
}

// PartDownloader brings one part of an entry onto disk: for HTML parts
// it extracts links, downloads each sequentially with per-link
// rewriting, and writes the final document to the part's index file;
// for bare-URL parts it downloads the single resource.
type PartDownloader struct {
	deps   Deps
	part   *domain.Part
	root   string
	policy *ErrorPolicy
	node   *progress.Node
}

// NewPartDownloader prepares a downloader for one part rooted at its
// dedicated folder.
func NewPartDownloader(deps Deps, part *domain.Part, root string, policy *ErrorPolicy, node *progress.Node) *PartDownloader {
	if node == nil {
		node = progress.New(1)
	}
	return &PartDownloader{deps: deps, part: part, root: root, policy: policy, node: node}
}

// Progress exposes the part's progress node.
func (p *PartDownloader) Progress() *progress.Node { return p.node }

// Download runs the part to completion or to its first escalated error.
func (p *PartDownloader) Download(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch p.part.Kind {
	case domain.PartHTML:
		return p.downloadHTML(ctx)
	default:
		return p.downloadURL(ctx)
	}
}

func (p *PartDownloader) downloadHTML(ctx context.Context) error {
	ext, err := p.extract(ctx)
	if err != nil {
		return p.wrapHTML(err)
	}

	if err := p.deps.Links.FS().MkdirAll(p.root, 0o755); err != nil {
		return p.wrapHTML(err)
	}

	if len(p.part.Links) == 0 {
		p.node.SetTotal(1)
	} else {
		p.node.SetTotal(int64(len(p.part.Links)))
	}

	if err := p.downloadLinks(ctx, ext); err != nil {
		return p.wrapHTML(err)
	}

	html, err := ext.FinalHTML()
	if err != nil {
		return p.wrapHTML(err)
	}
	indexPath := filepath.Join(p.root, p.deps.Config.IndexFileName)
	if err := writeFileAtomic(p.deps.Links.FS(), indexPath, []byte(html)); err != nil {
		return p.wrapHTML(err)
	}
	p.node.Complete()
	return nil
}

// extract parses the part's document and records its links, unless a
// previous attempt already recorded them (resume support). Dynamic
// parts go through the rendering engine and adopt the settled document
// and session cookies.
func (p *PartDownloader) extract(ctx context.Context) (*extractor.HTMLExtractor, error) {
	if p.part.Dynamic && p.deps.Renderer != nil {
		dyn := extractor.NewDynamicExtractor(p.deps.Renderer, p.deps.extractorOptions())
		result, err := dyn.Extract(ctx, extractor.RenderRequest{
			URL:     p.part.URL,
			HTML:    p.part.HTML,
			BaseURL: p.part.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		p.part.HTML = result.HTML
		if result.RedirectURL != "" {
			p.part.BaseURL = result.RedirectURL
		}
		if cookie := extractor.CookieString(result.Cookies); cookie != "" {
			p.part.CookieString = cookie
		}
		if len(p.part.Links) == 0 {
			p.part.AppendDistinct(result.Links...)
		}
		return result.Extractor, nil
	}

	ext, err := extractor.NewHTMLExtractor(p.part.HTML, p.part.BaseURL, p.deps.extractorOptions())
	if err != nil {
		return nil, err
	}
	if len(p.part.Links) == 0 {
		p.part.AppendDistinct(ext.Links()...)
	}
	return ext, nil
}

func (p *PartDownloader) downloadLinks(ctx context.Context, ext *extractor.HTMLExtractor) error {
	for _, link := range p.part.Links {
		if err := ctx.Err(); err != nil {
			return err
		}
		if link.Downloaded() {
			// The document is reparsed from source on every attempt, so
			// links finished in a previous pass still need their rewrite.
			if err := ext.SetRelativePath(link); err != nil {
				return err
			}
			p.node.Add(1)
			continue
		}

		p.deps.Log.Debug("downloading link", zap.String("url", link.DownloadURL()))

		linkNode := progress.New(1)
		p.node.AddChild(linkNode, 1)

		rewrite := true
		var err error
		switch {
		case p.usesVideoPipeline(link):
			err = p.policy.PerformWithFallback(func() error {
				return p.deps.Video.Download(ctx, link, p.root, p.part.BaseURL, p.part.CookieString, linkNode)
			}, p.fallback(ext, link, &rewrite))
		case link.IsCSS():
			err = p.policy.Perform(func() error {
				return p.deps.CSS.Download(ctx, link, p.root, linkNode)
			})
		default:
			err = p.policy.PerformWithFallback(func() error {
				return p.downloadPlain(ctx, link, linkNode)
			}, p.fallback(ext, link, &rewrite))
		}
		if err != nil {
			return err
		}

		// Rewrite immediately so partial progress survives a later
		// failure.
		if rewrite {
			if err := ext.SetRelativePath(link); err != nil {
				return err
			}
		}
		linkNode.Complete()
		if p.deps.Persist != nil {
			p.deps.Persist()
		}
	}
	return nil
}

func (p *PartDownloader) downloadPlain(ctx context.Context, link *domain.Link, node *progress.Node) error {
	return p.deps.Links.DownloadLink(ctx, link, p.root, p.part.CookieString, node)
}

// fallback substitutes caller-supplied replacement markup for the
// link's element when its download failed recoverably, and suppresses
// the relative-path rewrite for it.
func (p *PartDownloader) fallback(ext *extractor.HTMLExtractor, link *domain.Link, rewrite *bool) func() error {
	return func() error {
		resolver := p.policy.Resolver()
		if resolver == nil {
			return nil
		}
		html := resolver.ReplaceHTML(link.Tag)
		if html == "" {
			return nil
		}
		*rewrite = false
		return ext.SetHTML(link, html)
	}
}

// usesVideoPipeline applies the dispatch precedence for platform media:
// videojs players carrying a data-setup config, iframes, and
// script-embedded platform references.
func (p *PartDownloader) usesVideoPipeline(link *domain.Link) bool {
	if link.IsVideo() && link.Attribute == "data-setup" {
		return true
	}
	if link.IsIframe() {
		return true
	}
	return video.IsEmbed(link.DownloadURL())
}

func (p *PartDownloader) downloadURL(ctx context.Context) error {
	p.node.SetTotal(1)

	if len(p.part.Links) == 0 {
		link := domain.NewLink(p.part.URL, "", "")
		if p.deps.LinksHandler != nil {
			if mapped := p.deps.LinksHandler(p.part.URL); mapped != p.part.URL {
				link.ExtractedURL = mapped
			}
		}
		p.part.AppendDistinct(link)
	}

	link := p.part.Links[0]
	if link.Downloaded() {
		p.node.Complete()
		return nil
	}

	if err := p.downloadPlain(ctx, link, p.node); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("failed to download link part: %w", err)
	}
	if p.deps.Persist != nil {
		p.deps.Persist()
	}
	return nil
}

func (p *PartDownloader) wrapHTML(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || IsCriticalFailure(err) {
		return err
	}
	return fmt.Errorf("failed to download html part: %w", err)
}
