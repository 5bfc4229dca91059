package downloader

import (
	"context"

	"github.com/yourusername/offline-cache-go/internal/domain"
	"github.com/yourusername/offline-cache-go/internal/video"
	"github.com/yourusername/offline-cache-go/pkg/progress"
)

// VideoDownloader resolves a platform embed link into playable media
// variants and fetches each variant with its poster.
type VideoDownloader struct {
	resolver *video.Resolver
	links    *LinkDownloader
}

// NewVideoDownloader builds a platform media downloader.
func NewVideoDownloader(resolver *video.Resolver, links *LinkDownloader) *VideoDownloader {
	return &VideoDownloader{resolver: resolver, links: links}
}

// Download resolves the link when it has no variants yet, then brings
// every variant's media file and poster into rootPath. Already
// downloaded variants are skipped, so interrupted entries resume
// without refetching.
func (v *VideoDownloader) Download(ctx context.Context, link *domain.Link, rootPath, base, cookie string, node *progress.Node) error {
	if len(link.VideoLinks) == 0 {
		variants, err := v.resolver.Resolve(ctx, link.DownloadURL(), base, cookie)
		if err != nil {
			return err
		}
		link.VideoLinks = variants
	}

	units := int64(0)
	for _, variant := range link.VideoLinks {
		units++
		if variant.PosterURL != "" {
			units++
		}
	}
	node.SetTotal(units)

	for _, variant := range link.VideoLinks {
		if err := ctx.Err(); err != nil {
			return err
		}

		if variant.DownloadedPath == "" {
			mediaNode := progress.New(1)
			node.AddChild(mediaNode, 1)
			dest, err := v.links.Download(ctx, variant.URL, rootPath, cookie, mediaNode)
			if err != nil {
				return err
			}
			variant.DownloadedPath = relativeTo(dest, rootPath)
		} else {
			node.Add(1)
		}

		if variant.PosterURL != "" {
			if variant.PosterPath == "" {
				posterNode := progress.New(1)
				node.AddChild(posterNode, 1)
				dest, err := v.links.Download(ctx, variant.PosterURL, rootPath, cookie, posterNode)
				if err != nil {
					return err
				}
				variant.PosterPath = relativeTo(dest, rootPath)
			} else {
				node.Add(1)
			}
		}
	}
	return nil
}
