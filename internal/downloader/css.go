package downloader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/yourusername/offline-cache-go/internal/domain"
	"github.com/yourusername/offline-cache-go/internal/extractor"
	"github.com/yourusername/offline-cache-go/pkg/progress"
)

// CSSDownloader fetches a stylesheet, pulls its url(...) references
// down next to it, and rewrites the stylesheet text to point at the
// local copies.
type CSSDownloader struct {
	links *LinkDownloader
	fs    afero.Fs

	// cacheAll controls whether sub-resources are fetched even when the
	// stylesheet itself was already cached.
	cacheAll bool
}

// NewCSSDownloader builds a stylesheet downloader sharing the resource
// downloader's transport and filesystem.
func NewCSSDownloader(links *LinkDownloader, cacheAll bool) *CSSDownloader {
	return &CSSDownloader{links: links, fs: links.FS(), cacheAll: cacheAll}
}

// Download fetches the stylesheet link into rootPath, downloads every
// referenced resource into the stylesheet's folder and substitutes
// local relative paths into the text. The file is replaced atomically
// once all substitutions are applied.
func (c *CSSDownloader) Download(ctx context.Context, link *domain.Link, rootPath string, node *progress.Node) error {
	node.SetTotal(2)

	fileNode := progress.New(1)
	node.AddChild(fileNode, 1)
	if err := c.links.DownloadLink(ctx, link, rootPath, "", fileNode); err != nil {
		return c.wrap(link, err)
	}

	cssPath := filepath.Join(rootPath, filepath.FromSlash(link.DownloadedPath))
	cssFolder := filepath.Dir(cssPath)

	raw, err := afero.ReadFile(c.fs, cssPath)
	if err != nil {
		return c.wrap(link, err)
	}
	contents := string(raw)

	refs := extractor.CSSLinks(contents, link.DownloadURL())
	subNode := progress.New(int64(len(refs)))
	node.AddChild(subNode, 1)
	if len(refs) == 0 {
		subNode.SetTotal(1)
		subNode.Complete()
		return nil
	}

	// Longest raw reference first, so a shorter URL that happens to be
	// a substring of a longer one never clobbers it mid-substitution.
	sort.SliceStable(refs, func(i, j int) bool {
		return len(refs[i].URL) > len(refs[j].URL)
	})

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		refNode := progress.New(1)
		subNode.AddChild(refNode, 1)
		if err := c.links.DownloadLink(ctx, ref, cssFolder, "", refNode); err != nil {
			return c.wrap(link, err)
		}
		contents = strings.ReplaceAll(contents, ref.URL, extractor.EscapePath(ref.DownloadedPath))
	}

	if err := writeFileAtomic(c.fs, cssPath, []byte(contents)); err != nil {
		return c.wrap(link, err)
	}
	return nil
}

// wrap attaches the owning stylesheet URL for diagnostics, letting
// cancellation through untouched.
func (c *CSSDownloader) wrap(link *domain.Link, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("stylesheet %s: %w", link.DownloadURL(), err)
}

// writeFileAtomic writes via a sibling temp file and renames it over
// the destination.
func writeFileAtomic(fs afero.Fs, path string, data []byte) error {
	tmp := path + ".tmp"
	if err := afero.WriteFile(fs, tmp, data, 0o644); err != nil {
		return err
	}
	if err := fs.Rename(tmp, path); err != nil {
		_ = fs.Remove(tmp)
		return err
	}
	return nil
}
