//go:build integration
// +build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
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

	"github.com/yourusername/offline-cache-go/api"
	"github.com/yourusername/offline-cache-go/internal/app"
	"github.com/yourusername/offline-cache-go/internal/domain"
	"github.com/yourusername/offline-cache-go/internal/downloader"
	"github.com/yourusername/offline-cache-go/internal/infrastructure"
	"github.com/yourusername/offline-cache-go/internal/video"
)

type apiFixture struct {
	api     *httptest.Server
	content *httptest.Server
	mux     *http.ServeMux
	fs      afero.Fs
	qm      *app.QueueManager
}

func setupAPIServer(t *testing.T) *apiFixture {
	t.Helper()

	mux := http.NewServeMux()
	content := httptest.NewServer(mux)
	t.Cleanup(content.Close)

	tmpDir, err := os.MkdirTemp("", "offline-cache-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := infrastructure.NewSQLiteStore(filepath.Join(tmpDir, "queue.db"), "test")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := domain.DefaultConfig()
	cfg.Download.RootPath = "/dl"

	fs := afero.NewMemMapFs()
	links := downloader.NewLinkDownloader(content.Client(), fs)
	deps := downloader.NewDeps(links, video.NewResolver(links, nil, nil), nil, cfg, nil)

	qm := app.NewQueueManager(store, deps, cfg, nil)
	require.NoError(t, qm.Start(context.Background()))
	t.Cleanup(func() { _ = qm.Stop() })

	router := api.SetupRouter(qm, nil)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &apiFixture{api: server, content: content, mux: mux, fs: fs, qm: qm}
}

func waitForStatus(t *testing.T, fx *apiFixture, key string, status domain.EntryStatus) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(fx.api.URL + "/api/v1/entries/" + key)
		require.NoError(t, err)
		var entry map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&entry))
		resp.Body.Close()
		if entry["status"] == string(status) {
			return entry
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("entry %s never reached %s", key, status)
	return nil
}

func TestAPI_AddEntryAndDownload(t *testing.T) {
	fx := setupAPIServer(t)
	fx.mux.HandleFunc("/img/a.png", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("a"))
	})

	payload := map[string]string{
		"id":       "123",
		"type":     "page",
		"html":     fmt.Sprintf(`<img src="%s/img/a.png">`, fx.content.URL),
		"base_url": fx.content.URL,
	}
	data, _ := json.Marshal(payload)

	resp, err := http.Post(fx.api.URL+"/api/v1/entries", "application/json", bytes.NewBuffer(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var result map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "123", result["id"])
	assert.Equal(t, "page", result["type"])

	entry := waitForStatus(t, fx, "page_123", domain.StatusCompleted)
	assert.Equal(t, 1.0, entry["fraction"])

	// The cached page and its asset landed on disk.
	exists, _ := afero.Exists(fx.fs, "/dl/page/123/0/index.html")
	assert.True(t, exists)
}

func TestAPI_ListAndStats(t *testing.T) {
	fx := setupAPIServer(t)

	payload := map[string]string{"id": "1", "type": "page", "html": "<p>hello</p>"}
	data, _ := json.Marshal(payload)
	resp, err := http.Post(fx.api.URL+"/api/v1/entries", "application/json", bytes.NewBuffer(data))
	require.NoError(t, err)
	resp.Body.Close()

	waitForStatus(t, fx, "page_1", domain.StatusCompleted)

	resp, err = http.Get(fx.api.URL + "/api/v1/entries")
	require.NoError(t, err)
	defer resp.Body.Close()
	var entries []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 1)

	resp, err = http.Get(fx.api.URL + "/api/v1/entries/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var stats map[string]float64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1.0, stats[string(domain.StatusCompleted)])
}

func TestAPI_DeleteEntry(t *testing.T) {
	fx := setupAPIServer(t)

	payload := map[string]string{"id": "1", "type": "page", "html": "<p>hello</p>"}
	data, _ := json.Marshal(payload)
	resp, err := http.Post(fx.api.URL+"/api/v1/entries", "application/json", bytes.NewBuffer(data))
	require.NoError(t, err)
	resp.Body.Close()
	waitForStatus(t, fx, "page_1", domain.StatusCompleted)

	req, _ := http.NewRequest(http.MethodDelete, fx.api.URL+"/api/v1/entries/page_1", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(fx.api.URL + "/api/v1/entries/page_1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	exists, _ := afero.DirExists(fx.fs, "/dl/page/1")
	assert.False(t, exists)
}

func TestAPI_Health(t *testing.T) {
	fx := setupAPIServer(t)

	resp, err := http.Get(fx.api.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(fx.api.URL + "/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
