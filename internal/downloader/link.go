package downloader

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/yourusername/offline-cache-go/internal/domain"
	"github.com/yourusername/offline-cache-go/pkg/progress"
)

// mimeExtensions maps declared media types that need container
// normalization to the extension forced onto the local file name.
var mimeExtensions = []struct {
	mimePart  string
	extension string
}{
	{"mp4", ".mp4"},
	{"audio/mpeg", ".mp3"},
	{"audio/x-wav", ".wav"},
}

// LinkDownloader streams single resources to disk. The local file name
// mirrors the URL path, adjusted by the response's declared media type
// and the Content-Disposition header. One instance is shared by all
// concurrent entries, so it holds no per-request state; authenticated
// fetches pass their cookie per call.
type LinkDownloader struct {
	client *http.Client
	fs     afero.Fs
}

// NewLinkDownloader builds a downloader over the given transport and
// filesystem; nil arguments select the defaults.
func NewLinkDownloader(client *http.Client, fs afero.Fs) *LinkDownloader {
	if client == nil {
		client = http.DefaultClient
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &LinkDownloader{client: client, fs: fs}
}

// FS exposes the downloader's filesystem so collaborating downloaders
// read and rewrite what it wrote.
func (d *LinkDownloader) FS() afero.Fs { return d.fs }

// Download fetches rawURL into folder and returns the absolute path of
// the written file. cookie, when non-empty, is sent verbatim as the
// Cookie header. node, when non-nil, receives byte-level progress.
func (d *LinkDownloader) Download(ctx context.Context, rawURL, folder, cookie string, node *progress.Node) (string, error) {
	resp, err := d.get(ctx, rawURL, cookie)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	dest := d.destination(folder, resp)
	if err := d.fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create folder for %s: %w", rawURL, err)
	}

	file, err := d.fs.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create file for %s: %w", rawURL, err)
	}

	if node != nil {
		if resp.ContentLength > 0 {
			node.SetTotal(resp.ContentLength)
		} else {
			node.SetTotal(1)
		}
	}

	_, err = io.Copy(file, &progressReader{r: contextReader{ctx: ctx, r: resp.Body}, node: node})
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = d.fs.Remove(dest)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("failed to download %s: %w", rawURL, err)
	}

	if node != nil {
		node.Complete()
	}
	return dest, nil
}

// DownloadLink downloads a link's target into folder and records the
// folder-relative path on the link.
func (d *LinkDownloader) DownloadLink(ctx context.Context, link *domain.Link, folder, cookie string, node *progress.Node) error {
	dest, err := d.Download(ctx, link.DownloadURL(), folder, cookie, node)
	if err != nil {
		return err
	}
	link.DownloadedPath = relativeTo(dest, folder)
	return nil
}

// Data fetches rawURL fully into memory.
func (d *LinkDownloader) Data(ctx context.Context, rawURL, cookie string) ([]byte, error) {
	resp, err := d.get(ctx, rawURL, cookie)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", rawURL, err)
	}
	return data, nil
}

// Contents fetches rawURL as text. Satisfies the video resolver's
// fetcher contract.
func (d *LinkDownloader) Contents(ctx context.Context, rawURL, cookie string) (string, error) {
	data, err := d.Data(ctx, rawURL, cookie)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (d *LinkDownloader) get(ctx context.Context, rawURL, cookie string) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	if resp == nil || resp.Body == nil {
		return nil, fmt.Errorf("%w: %s", ErrEmptyResponse, rawURL)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		resp.Body.Close()
		return nil, &HTTPError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// destination computes where the response lands: the URL path mirrored
// below folder, the file name adjusted for media-type overrides and
// collisions.
func (d *LinkDownloader) destination(folder string, resp *http.Response) string {
	rel := localPath(resp)
	dest := filepath.Join(folder, filepath.FromSlash(rel))
	if exists, _ := afero.Exists(d.fs, dest); exists {
		dest = alterPath(dest)
	}
	return dest
}

func localPath(resp *http.Response) string {
	u := resp.Request.URL
	p := strings.TrimPrefix(u.Path, "/")
	last := path.Base(p)

	if strings.Contains(last, ".") {
		contentType := resp.Header.Get("Content-Type")
		for _, override := range mimeExtensions {
			if strings.Contains(contentType, override.mimePart) {
				base := strings.TrimSuffix(last, path.Ext(last))
				return path.Join(path.Dir(p), base+override.extension)
			}
		}
		return p
	}

	if name := suggestedFilename(resp); name != "" {
		return path.Join(p, name)
	}
	return path.Join(p, fmt.Sprintf("%d.tmp", time.Now().UnixNano()))
}

func suggestedFilename(resp *http.Response) string {
	disposition := resp.Header.Get("Content-Disposition")
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	name := filepath.Base(params["filename"])
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return name
}

// alterPath makes a collision-free sibling name by inserting a
// timestamp between base name and extension.
func alterPath(dest string) string {
	dir, name := filepath.Split(dest)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return filepath.Join(dir, fmt.Sprintf("%s%d%s", base, time.Now().UnixNano(), ext))
}

// relativeTo strips the folder prefix so the path can be embedded into
// rewritten documents.
func relativeTo(dest, folder string) string {
	rel, err := filepath.Rel(folder, dest)
	if err != nil {
		return dest
	}
	return filepath.ToSlash(rel)
}

// contextReader aborts long body reads promptly on cancellation.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

type progressReader struct {
	r    io.Reader
	node *progress.Node
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 && p.node != nil {
		p.node.Add(int64(n))
	}
	return n, err
}
