package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/offline-cache-go/internal/domain"
	"github.com/yourusername/offline-cache-go/internal/downloader"
	"github.com/yourusername/offline-cache-go/internal/video"
)

type memStore struct {
	mu     sync.Mutex
	models map[string]*domain.StorageModel
}

func newMemStore() *memStore {
	return &memStore{models: map[string]*domain.StorageModel{}}
}

func (s *memStore) Save(model *domain.StorageModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[model.ID] = model
	return nil
}

func (s *memStore) Delete(model *domain.StorageModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.models, model.ID)
	return nil
}

func (s *memStore) DeleteMany(models []*domain.StorageModel) error {
	for _, m := range models {
		_ = s.Delete(m)
	}
	return nil
}

func (s *memStore) Load(id string) (*domain.StorageModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.models[id], nil
}

func (s *memStore) LoadAll(typ string) ([]*domain.StorageModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.StorageModel
	for _, m := range s.models {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.models[id]
	return ok
}

type pageResolver struct {
	html     func() string
	baseURL  string
	critical bool
}

func (r *pageResolver) CanDownload(*domain.Entry) bool { return true }

func (r *pageResolver) Prepare(_ context.Context, e *domain.Entry) error {
	e.AddHTMLPart(r.html(), r.baseURL)
	return nil
}

func (r *pageResolver) IsCritical(error) bool { return r.critical }

func (r *pageResolver) ReplaceHTML(string) string { return "" }

type queueFixture struct {
	qm     *QueueManager
	store  *memStore
	server *httptest.Server
	mux    *http.ServeMux
	events <-chan QueueEvent
}

func newQueueFixture(t *testing.T, limit int, resolver domain.EntryResolver) *queueFixture {
	t.Helper()

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	cfg := domain.DefaultConfig()
	cfg.Download.RootPath = "/dl"
	cfg.Queue.ConcurrentLimit = limit
	cfg.Resolvers = []domain.EntryResolver{resolver}

	links := downloader.NewLinkDownloader(server.Client(), afero.NewMemMapFs())
	deps := downloader.NewDeps(links, video.NewResolver(links, nil, nil), nil, cfg, nil)

	store := newMemStore()
	qm := NewQueueManager(store, deps, cfg, nil)
	require.NoError(t, qm.Start(context.Background()))
	t.Cleanup(func() { _ = qm.Stop() })

	events, unsubscribe := qm.Subscribe()
	t.Cleanup(unsubscribe)

	return &queueFixture{qm: qm, store: store, server: server, mux: mux, events: events}
}

// waitQueueCompleted drains events until the queue reports it finished.
func (f *queueFixture) waitQueueCompleted(t *testing.T) QueueEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-f.events:
			if ev.Kind == EventQueueCompleted {
				return ev
			}
		case <-deadline:
			t.Fatal("queue did not complete")
		}
	}
}

func (f *queueFixture) waitStatus(t *testing.T, key string, status domain.EntryStatus) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-f.events:
			if ev.Kind == EventStatus && ev.Key == key && ev.Status == status {
				return
			}
		case <-deadline:
			t.Fatalf("entry %s never reached %s", key, status)
		}
	}
}

func TestQueueManagerDownloadsEntry(t *testing.T) {
	var fx *queueFixture
	resolver := &pageResolver{html: func() string {
		return fmt.Sprintf(`<img src="%s/img/a.png">`, fx.server.URL)
	}}
	fx = newQueueFixture(t, 2, resolver)
	resolver.baseURL = fx.server.URL
	fx.mux.HandleFunc("/img/a.png", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("a"))
	})

	entry := domain.NewEntry("page-1", "page")
	require.NoError(t, fx.qm.StartEntry(entry))

	ev := fx.waitQueueCompleted(t)
	assert.True(t, ev.Success)
	snap, ok := fx.qm.Entry(entry.Key())
	require.True(t, ok)
	assert.Equal(t, domain.StatusCompleted, snap.Status)
	assert.True(t, fx.store.has(entry.Key()))
}

// Subscribers get a status event for every transition, not just the
// terminal one.
func TestQueueManagerEmitsStatusEventsMidPass(t *testing.T) {
	var fx *queueFixture
	resolver := &pageResolver{html: func() string {
		return fmt.Sprintf(`<img src="%s/img/a.png">`, fx.server.URL)
	}}
	fx = newQueueFixture(t, 1, resolver)
	resolver.baseURL = fx.server.URL
	fx.mux.HandleFunc("/img/a.png", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("a"))
	})

	entry := domain.NewEntry("page-1", "page")
	require.NoError(t, fx.qm.StartEntry(entry))

	seen := map[domain.EntryStatus]bool{}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-fx.events:
			if ev.Kind == EventStatus {
				seen[ev.Status] = true
			}
			if ev.Kind == EventQueueCompleted {
				assert.True(t, seen[domain.StatusPreparing])
				assert.True(t, seen[domain.StatusActive])
				assert.True(t, seen[domain.StatusCompleted])
				return
			}
		case <-deadline:
			t.Fatal("queue did not complete")
		}
	}
}

// Observers read detached copies, so listing and marshaling entries
// mid-download never touches state the pass is mutating.
func TestQueueManagerObservationDuringDownload(t *testing.T) {
	release := make(chan struct{})

	var fx *queueFixture
	resolver := &pageResolver{html: func() string {
		return fmt.Sprintf(`<img src="%s/slow.png">`, fx.server.URL)
	}}
	fx = newQueueFixture(t, 2, resolver)
	resolver.baseURL = fx.server.URL
	fx.mux.HandleFunc("/slow.png", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		_, _ = w.Write([]byte("x"))
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, fx.qm.StartEntry(domain.NewEntry(fmt.Sprintf("page-%d", i), "page")))
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, snap := range fx.qm.Entries() {
				if _, err := snap.ToModel(); err != nil {
					t.Error(err)
					return
				}
			}
			fx.qm.Stats()
		}
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)
	ev := fx.waitQueueCompleted(t)
	close(stop)
	wg.Wait()

	assert.True(t, ev.Success)
}

func TestQueueManagerBoundsConcurrency(t *testing.T) {
	var (
		mu      sync.Mutex
		active  int
		peak    int
		release = make(chan struct{})
	)

	var fx *queueFixture
	resolver := &pageResolver{html: func() string {
		return fmt.Sprintf(`<img src="%s/slow.png">`, fx.server.URL)
	}}
	fx = newQueueFixture(t, 2, resolver)
	resolver.baseURL = fx.server.URL
	fx.mux.HandleFunc("/slow.png", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		select {
		case <-release:
		case <-r.Context().Done():
		}
		mu.Lock()
		active--
		mu.Unlock()
		_, _ = w.Write([]byte("x"))
	})

	for i := 0; i < 4; i++ {
		entry := domain.NewEntry(fmt.Sprintf("page-%d", i), "page")
		require.NoError(t, fx.qm.StartEntry(entry))
	}

	// Let the first wave hit the server before releasing it.
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return active == 2
	}, 2*time.Second, 10*time.Millisecond)
	close(release)

	ev := fx.waitQueueCompleted(t)
	assert.True(t, ev.Success)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, peak)
}

func TestQueueManagerReportsFailure(t *testing.T) {
	var diagMu sync.Mutex
	var diagnostics []string

	var fx *queueFixture
	resolver := &pageResolver{critical: true, html: func() string {
		return fmt.Sprintf(`<img src="%s/missing.png">`, fx.server.URL)
	}}
	fx = newQueueFixture(t, 1, resolver)
	resolver.baseURL = fx.server.URL
	fx.qm.config.ErrorsHandler = func(description string, fatal bool) {
		diagMu.Lock()
		defer diagMu.Unlock()
		diagnostics = append(diagnostics, description)
	}

	entry := domain.NewEntry("page-1", "page")
	require.NoError(t, fx.qm.StartEntry(entry))

	ev := fx.waitQueueCompleted(t)
	assert.False(t, ev.Success)
	assert.Equal(t, domain.StatusFailed, entry.CurrentStatus())

	// Errors are cleared once the failure has been reported.
	assert.Eventually(t, func() bool {
		snap, ok := fx.qm.Entry(entry.Key())
		return ok && len(snap.Errors) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		diagMu.Lock()
		defer diagMu.Unlock()
		return len(diagnostics) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestQueueManagerPauseAndResume(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once

	var fx *queueFixture
	resolver := &pageResolver{html: func() string {
		return fmt.Sprintf(`<img src="%s/slow.png">`, fx.server.URL)
	}}
	fx = newQueueFixture(t, 1, resolver)
	resolver.baseURL = fx.server.URL
	fx.mux.HandleFunc("/slow.png", func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(started) })
		<-r.Context().Done()
	})

	entry := domain.NewEntry("page-1", "page")
	require.NoError(t, fx.qm.StartEntry(entry))
	<-started

	require.NoError(t, fx.qm.Pause(entry.Key()))
	fx.waitStatus(t, entry.Key(), domain.StatusPaused)
	assert.True(t, entry.CanResume())

	// The retried page references a resource that succeeds this time.
	fx.mux.HandleFunc("/img/b.png", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("b"))
	})
	resolver.html = func() string {
		return fmt.Sprintf(`<img src="%s/img/b.png">`, fx.server.URL)
	}
	entry.Parts = nil

	require.NoError(t, fx.qm.Resume(entry.Key()))
	assert.Eventually(t, func() bool {
		return entry.CurrentStatus() == domain.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestQueueManagerDelete(t *testing.T) {
	var fx *queueFixture
	resolver := &pageResolver{html: func() string {
		return fmt.Sprintf(`<img src="%s/img/a.png">`, fx.server.URL)
	}}
	fx = newQueueFixture(t, 1, resolver)
	resolver.baseURL = fx.server.URL
	fx.mux.HandleFunc("/img/a.png", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("a"))
	})

	entry := domain.NewEntry("page-1", "page")
	require.NoError(t, fx.qm.StartEntry(entry))
	fx.waitQueueCompleted(t)

	fs := fx.qm.deps.Links.FS()
	root := entry.RootPath("/dl")
	exists, _ := afero.DirExists(fs, root)
	require.True(t, exists)

	require.NoError(t, fx.qm.Delete(entry.Key()))

	exists, _ = afero.DirExists(fs, root)
	assert.False(t, exists)
	assert.False(t, fx.store.has(entry.Key()))
	_, known := fx.qm.Entry(entry.Key())
	assert.False(t, known)
}

func TestQueueManagerPauseAllResumeAll(t *testing.T) {
	started := make(chan struct{}, 4)
	done := make(chan struct{})

	var fx *queueFixture
	resolver := &pageResolver{html: func() string {
		return fmt.Sprintf(`<img src="%s/slow.png">`, fx.server.URL)
	}}
	fx = newQueueFixture(t, 2, resolver)
	resolver.baseURL = fx.server.URL
	fx.mux.HandleFunc("/slow.png", func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		select {
		case <-done:
			_, _ = w.Write([]byte("x"))
		case <-r.Context().Done():
		}
	})

	a := domain.NewEntry("page-a", "page")
	b := domain.NewEntry("page-b", "page")
	require.NoError(t, fx.qm.StartEntry(a))
	require.NoError(t, fx.qm.StartEntry(b))
	<-started
	<-started

	fx.qm.PauseAllActive()
	assert.Eventually(t, func() bool {
		return a.CurrentStatus() == domain.StatusPaused && b.CurrentStatus() == domain.StatusPaused
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, a.IsForcePaused())
	assert.True(t, b.IsForcePaused())

	close(done)
	fx.qm.ResumeAllActive()

	assert.Eventually(t, func() bool {
		return a.CurrentStatus() == domain.StatusCompleted && b.CurrentStatus() == domain.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, a.IsForcePaused())
	assert.False(t, b.IsForcePaused())
}

func TestQueueManagerRestoresEntriesOnStart(t *testing.T) {
	store := newMemStore()
	entry := domain.NewEntry("page-1", "page")
	entry.SetStatus(domain.StatusActive)
	model, err := entry.ToModel()
	require.NoError(t, err)
	require.NoError(t, store.Save(model))

	cfg := domain.DefaultConfig()
	cfg.Download.RootPath = "/dl"
	links := downloader.NewLinkDownloader(nil, afero.NewMemMapFs())
	deps := downloader.NewDeps(links, video.NewResolver(links, nil, nil), nil, cfg, nil)

	qm := NewQueueManager(store, deps, cfg, nil)
	require.NoError(t, qm.Start(context.Background()))
	t.Cleanup(func() { _ = qm.Stop() })

	restored, ok := qm.Entry(entry.Key())
	require.True(t, ok)
	// Entries interrupted mid-download come back paused, not active.
	assert.Equal(t, domain.StatusPaused, restored.Status)

	// The storage folder is initialized and tagged as a cache.
	tagged, _ := afero.Exists(links.FS(), "/dl/CACHEDIR.TAG")
	assert.True(t, tagged)
}

type storableStub struct {
	id  string
	typ string
}

func (s *storableStub) ToModel() (*domain.StorageModel, error) {
	return &domain.StorageModel{ID: domain.StorageKey(s.id, s.typ), Type: s.typ}, nil
}

func (s *storableStub) DownloaderEntry() (*domain.Entry, error) {
	return domain.NewEntry(s.id, s.typ), nil
}

func TestQueueManagerIsDownloaded(t *testing.T) {
	var fx *queueFixture
	resolver := &pageResolver{html: func() string { return "<p>hi</p>" }}
	fx = newQueueFixture(t, 1, resolver)
	resolver.baseURL = fx.server.URL

	entry := domain.NewEntry("page-1", "page")
	require.NoError(t, fx.qm.StartEntry(entry))
	fx.waitQueueCompleted(t)

	downloaded, err := fx.qm.IsDownloaded(&storableStub{id: "page-1", typ: "page"})
	require.NoError(t, err)
	assert.True(t, downloaded)

	downloaded, err = fx.qm.IsDownloaded(&storableStub{id: "page-2", typ: "page"})
	require.NoError(t, err)
	assert.False(t, downloaded)
}

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "index.html", config.Download.IndexFileName)
	assert.Equal(t, 3, config.Queue.ConcurrentLimit)
	assert.NotContains(t, config.Download.RootPath, "$HOME")
}

func TestSaveAndReloadConfig(t *testing.T) {
	config := domain.DefaultConfig()
	config.Server.Port = 9090
	config.Queue.ConcurrentLimit = 5

	path := t.TempDir() + "/config.yaml"
	require.NoError(t, SaveConfig(config, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, loaded.Server.Port)
	assert.Equal(t, 5, loaded.Queue.ConcurrentLimit)
}

func TestValidateConfigRejectsBadValues(t *testing.T) {
	config := domain.DefaultConfig()
	config.Queue.ConcurrentLimit = 0
	assert.Error(t, validateConfig(config))

	config = domain.DefaultConfig()
	config.Server.Port = 0
	assert.Error(t, validateConfig(config))

	config = domain.DefaultConfig()
	config.Download.RootPath = ""
	assert.Error(t, validateConfig(config))
}
