package downloader

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/yourusername/offline-cache-go/internal/domain"
	"github.com/yourusername/offline-cache-go/pkg/progress"
)

// Event is one observable change on a downloading entry.
type Event struct {
	Key      string
	Status   domain.EntryStatus
	Fraction float64
}

// EntryDownloader runs one entry's download pass on its own goroutine,
// driving the status machine initialized → preparing → active →
// {completed, partially_downloaded, failed, cancelled, paused}.
type EntryDownloader struct {
	entry  *domain.Entry
	deps   Deps
	store  domain.Store
	policy *ErrorPolicy
	log    *zap.Logger

	node    *progress.Node
	onEvent func(Event)

	mu      sync.Mutex
	cancel  context.CancelFunc
	pausing bool
	running bool
	done    chan struct{}
}

// NewEntryDownloader builds a downloader for the entry. chain is the
// caller-supplied resolver chain; store may be nil in tests.
func NewEntryDownloader(entry *domain.Entry, chain []domain.EntryResolver, deps Deps, store domain.Store) *EntryDownloader {
	d := &EntryDownloader{
		entry:  entry,
		deps:   deps,
		store:  store,
		policy: NewErrorPolicy(entry, chain),
		log:    deps.Log,
		node:   progress.New(int64(maxInt(len(entry.Parts), 1))),
		done:   make(chan struct{}),
	}
	if d.log == nil {
		d.log = zap.NewNop()
	}
	d.deps.Persist = d.persist
	return d
}

// Entry returns the entry this downloader drives.
func (d *EntryDownloader) Entry() *domain.Entry { return d.entry }

// Progress returns the entry's hierarchical progress node: one unit per
// part, each part composed from its link downloads.
func (d *EntryDownloader) Progress() *progress.Node { return d.node }

// Done closes once the current pass finished, for any terminal status.
func (d *EntryDownloader) Done() <-chan struct{} { return d.done }

// OnEvent registers the observer for status and progress changes. Must
// be set before Start.
func (d *EntryDownloader) OnEvent(fn func(Event)) {
	d.onEvent = fn
	d.node.OnChange(func(fraction float64) {
		fn(Event{Key: d.entry.Key(), Status: d.entry.CurrentStatus(), Fraction: fraction})
	})
}

// Start launches the download pass. No-op when one is already running.
func (d *EntryDownloader) Start(parent context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel
	d.pausing = false
	d.running = true
	d.done = make(chan struct{})
	d.mu.Unlock()

	go func() {
		defer close(d.done)
		d.run(ctx)
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()
}

// Pause stops the in-flight pass, leaving the entry auto-resumable.
func (d *EntryDownloader) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil && d.running {
		d.pausing = true
		d.cancel()
	}
}

// Cancel stops the in-flight pass for good: cancelled entries are not
// auto-resumed by the queue.
func (d *EntryDownloader) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil && d.running {
		d.cancel()
	} else {
		d.entry.SetStatus(domain.StatusCancelled)
	}
}

func (d *EntryDownloader) run(ctx context.Context) {
	d.entry.ClearErrors()
	d.setStatus(domain.StatusPreparing)

	if err := d.prepare(ctx); err != nil {
		d.finish(err)
		return
	}

	d.setStatus(domain.StatusActive)

	for i, part := range d.entry.Parts {
		root := d.entry.PartPath(d.deps.Config.RootPath, i)
		partNode := progress.New(1)
		d.node.AddChild(partNode, 1)

		pd := NewPartDownloader(d.deps, part, root, d.policy, partNode)
		if err := pd.Download(ctx); err != nil {
			d.finish(err)
			return
		}
	}

	d.finish(nil)
}

// prepare runs the resolver's one-time part population when the entry
// has none yet. Entries that already carry parts need no resolver;
// empty ones without a matching resolver fail here, before any
// download.
func (d *EntryDownloader) prepare(ctx context.Context) error {
	if len(d.entry.Parts) > 0 {
		return nil
	}
	if !d.policy.Supported() {
		d.entry.MarkUnsupported()
		return &CriticalError{Err: ErrUnsupported}
	}
	err := d.policy.Perform(func() error {
		return d.policy.Resolver().Prepare(ctx, d.entry)
	})
	if err != nil {
		return err
	}
	d.node.SetTotal(int64(maxInt(len(d.entry.Parts), 1)))
	d.persist()
	return nil
}

func (d *EntryDownloader) finish(err error) {
	switch {
	case err == nil:
		if d.entry.HasErrors() {
			d.setStatus(domain.StatusPartial)
		} else {
			d.entry.SetStatus(domain.StatusCompleted)
			d.node.Complete()
			d.emit()
			d.persist()
		}
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		d.mu.Lock()
		paused := d.pausing
		d.mu.Unlock()
		if paused {
			d.setStatus(domain.StatusPaused)
		} else {
			d.setStatus(domain.StatusCancelled)
		}
	default:
		d.log.Warn("entry download failed",
			zap.String("entry", d.entry.Key()),
			zap.Error(err))
		d.entry.SetServerError(isServerError(err))
		d.setStatus(domain.StatusFailed)
	}
}

func (d *EntryDownloader) setStatus(status domain.EntryStatus) {
	d.entry.SetStatus(status)
	d.emit()
	d.persist()
}

func (d *EntryDownloader) emit() {
	if d.onEvent != nil {
		d.onEvent(Event{Key: d.entry.Key(), Status: d.entry.CurrentStatus(), Fraction: d.node.Fraction()})
	}
}

func (d *EntryDownloader) persist() {
	if d.store == nil {
		return
	}
	model, err := d.entry.ToModel()
	if err != nil {
		d.log.Warn("failed to serialize entry", zap.String("entry", d.entry.Key()), zap.Error(err))
		return
	}
	if err := d.store.Save(model); err != nil {
		d.log.Warn("failed to persist entry", zap.String("entry", d.entry.Key()), zap.Error(err))
	}
}

func isServerError(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode >= 500
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
