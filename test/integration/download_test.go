//go:build integration
// +build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/offline-cache-go/internal/app"
	"github.com/yourusername/offline-cache-go/internal/domain"
	"github.com/yourusername/offline-cache-go/internal/downloader"
	"github.com/yourusername/offline-cache-go/internal/infrastructure"
	"github.com/yourusername/offline-cache-go/internal/video"
)

// newManager builds a queue manager over the given store and content
// server, sharing fs across restarts.
func newManager(t *testing.T, store domain.Store, content *httptest.Server, fs afero.Fs) *app.QueueManager {
	t.Helper()

	cfg := domain.DefaultConfig()
	cfg.Download.RootPath = "/dl"

	links := downloader.NewLinkDownloader(content.Client(), fs)
	deps := downloader.NewDeps(links, video.NewResolver(links, nil, nil), nil, cfg, nil)

	qm := app.NewQueueManager(store, deps, cfg, nil)
	require.NoError(t, qm.Start(context.Background()))
	return qm
}

func waitDownloaded(t *testing.T, entry *domain.Entry) {
	t.Helper()
	require.Eventually(t, func() bool {
		return entry.IsDownloaded()
	}, 10*time.Second, 50*time.Millisecond)
}

func TestDownloadWorkflow_Success(t *testing.T) {
	mux := http.NewServeMux()
	content := httptest.NewServer(mux)
	defer content.Close()
	mux.HandleFunc("/style.css", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		fmt.Fprintf(w, "div { background: url(%s/bg.png); }", content.URL)
	})
	mux.HandleFunc("/bg.png", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("png"))
	})
	mux.HandleFunc("/img/photo.jpg", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("jpg"))
	})

	tmpDir, err := os.MkdirTemp("", "offline-cache-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	store, err := infrastructure.NewSQLiteStore(filepath.Join(tmpDir, "queue.db"), "test")
	require.NoError(t, err)
	defer store.Close()

	fs := afero.NewMemMapFs()
	qm := newManager(t, store, content, fs)
	defer qm.Stop()

	html := fmt.Sprintf(
		`<html><head><link rel="stylesheet" href="%s/style.css"></head><body><img src="%s/img/photo.jpg"></body></html>`,
		content.URL, content.URL)

	entry := domain.NewEntry("lesson-1", "page")
	entry.AddHTMLPart(html, content.URL)
	require.NoError(t, qm.StartEntry(entry))

	waitDownloaded(t, entry)
	assert.Equal(t, domain.StatusCompleted, entry.Status)

	// The whole page subtree is self-contained on disk.
	for _, path := range []string{
		"/dl/page/lesson-1/0/index.html",
		"/dl/page/lesson-1/0/style.css",
		"/dl/page/lesson-1/0/img/photo.jpg",
	} {
		exists, _ := afero.Exists(fs, path)
		assert.True(t, exists, path)
	}

	// The stylesheet was rewritten to its local sub-resource.
	css, err := afero.ReadFile(fs, "/dl/page/lesson-1/0/style.css")
	require.NoError(t, err)
	assert.NotContains(t, string(css), content.URL)
}

func TestDownloadWorkflow_SurvivesRestart(t *testing.T) {
	mux := http.NewServeMux()
	content := httptest.NewServer(mux)
	defer content.Close()
	mux.HandleFunc("/img/a.png", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("a"))
	})

	tmpDir, err := os.MkdirTemp("", "offline-cache-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)
	dbPath := filepath.Join(tmpDir, "queue.db")

	fs := afero.NewMemMapFs()

	store, err := infrastructure.NewSQLiteStore(dbPath, "test")
	require.NoError(t, err)

	qm := newManager(t, store, content, fs)

	entry := domain.NewEntry("lesson-1", "page")
	entry.AddHTMLPart(fmt.Sprintf(`<img src="%s/img/a.png">`, content.URL), content.URL)
	require.NoError(t, qm.StartEntry(entry))
	waitDownloaded(t, entry)

	require.NoError(t, qm.Stop())
	require.NoError(t, store.Close())

	// A fresh manager over the same database sees the finished entry.
	store2, err := infrastructure.NewSQLiteStore(dbPath, "test")
	require.NoError(t, err)
	defer store2.Close()

	qm2 := newManager(t, store2, content, fs)
	defer qm2.Stop()

	restored, ok := qm2.Entry(entry.Key())
	require.True(t, ok)
	assert.Equal(t, domain.StatusCompleted, restored.Status)
	require.Len(t, restored.Parts, 1)

	// Links carry their download state across the restart.
	for _, link := range restored.Parts[0].Links {
		assert.True(t, link.Downloaded())
	}
}
