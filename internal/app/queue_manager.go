package app

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/yourusername/offline-cache-go/internal/domain"
	"github.com/yourusername/offline-cache-go/internal/downloader"
)

// QueueEventKind discriminates the queue's observable events.
type QueueEventKind string

const (
	EventStatus         QueueEventKind = "status"
	EventProgress       QueueEventKind = "progress"
	EventQueueCompleted QueueEventKind = "queue_completed"
)

// QueueEvent is one observable change on the queue: a per-entry status
// or progress change, or the queue draining completely.
type QueueEvent struct {
	Kind     QueueEventKind     `json:"kind"`
	Key      string             `json:"key,omitempty"`
	Status   domain.EntryStatus `json:"status,omitempty"`
	Fraction float64            `json:"fraction,omitempty"`
	Success  bool               `json:"success,omitempty"`
}

// QueueManager holds every known entry and a bounded set of live entry
// downloaders. At most ConcurrentLimit entries run at once; the rest
// wait and are admitted oldest-first as slots free up.
type QueueManager struct {
	store  domain.Store
	config *domain.Config
	deps   downloader.Deps
	log    *zap.Logger

	mu          sync.Mutex
	entries     map[string]*domain.Entry
	snapshots   map[string]*domain.Entry
	downloaders map[string]*downloader.EntryDownloader
	waiting     []string
	anyFailed   bool

	subscribers map[int]chan QueueEvent
	nextSub     int

	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewQueueManager creates a queue manager over the given store and
// shared downloader collaborators.
func NewQueueManager(store domain.Store, deps downloader.Deps, config *domain.Config, log *zap.Logger) *QueueManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &QueueManager{
		store:       store,
		config:      config,
		deps:        deps,
		log:         log,
		entries:     make(map[string]*domain.Entry),
		snapshots:   make(map[string]*domain.Entry),
		downloaders: make(map[string]*downloader.EntryDownloader),
		subscribers: make(map[int]chan QueueEvent),
	}
}

// Start loads persisted entries, prepares the storage folder and begins
// accepting work.
func (qm *QueueManager) Start(ctx context.Context) error {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	if qm.started {
		return fmt.Errorf("queue manager already running")
	}

	if err := qm.initStorageFolder(); err != nil {
		return err
	}

	models, err := qm.store.LoadAll(domain.StorageTypeEntry)
	if err != nil {
		return fmt.Errorf("failed to load persisted entries: %w", err)
	}
	for _, model := range models {
		entry, err := domain.EntryFromModel(model)
		if err != nil {
			qm.log.Warn("skipping undecodable entry", zap.String("id", model.ID), zap.Error(err))
			continue
		}
		// A crash mid-download leaves entries active in the store.
		if entry.IsActive() {
			entry.SetStatus(domain.StatusPaused)
		}
		qm.entries[entry.Key()] = entry
		qm.snapshots[entry.Key()] = entry.Snapshot()
	}

	qm.ctx, qm.cancel = context.WithCancel(ctx)
	qm.started = true
	qm.log.Info("queue manager started",
		zap.Int("entries", len(qm.entries)),
		zap.Int("concurrent_limit", qm.config.Queue.ConcurrentLimit))
	return nil
}

// Stop cancels all live downloaders, waits for them to settle and
// closes subscriber channels.
func (qm *QueueManager) Stop() error {
	qm.mu.Lock()
	if !qm.started {
		qm.mu.Unlock()
		return fmt.Errorf("queue manager not running")
	}
	qm.started = false
	cancel := qm.cancel
	downloaders := make([]*downloader.EntryDownloader, 0, len(qm.downloaders))
	for _, d := range qm.downloaders {
		downloaders = append(downloaders, d)
	}
	qm.mu.Unlock()

	cancel()
	for _, d := range downloaders {
		<-d.Done()
	}

	qm.mu.Lock()
	defer qm.mu.Unlock()
	for id, ch := range qm.subscribers {
		close(ch)
		delete(qm.subscribers, id)
	}
	qm.log.Info("queue manager stopped")
	return nil
}

// initStorageFolder creates the content root and marks it as a cache
// directory so backup tooling skips it.
func (qm *QueueManager) initStorageFolder() error {
	fs := qm.deps.Links.FS()
	root := qm.config.Download.RootPath
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("failed to create storage folder: %w", err)
	}
	tag := root + "/CACHEDIR.TAG"
	if exists, _ := afero.Exists(fs, tag); !exists {
		contents := "Signature: 8a477f597d28d172789f06886806bc55\n# Offline content cache, safe to exclude from backups.\n"
		if err := afero.WriteFile(fs, tag, []byte(contents), 0o644); err != nil {
			return fmt.Errorf("failed to mark storage folder: %w", err)
		}
	}
	return nil
}

// Subscribe returns a channel of queue events plus a function that
// cancels the subscription. The channel closes when the manager stops
// or the subscription is cancelled.
func (qm *QueueManager) Subscribe() (<-chan QueueEvent, func()) {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	id := qm.nextSub
	qm.nextSub++
	ch := make(chan QueueEvent, 64)
	qm.subscribers[id] = ch

	unsubscribe := func() {
		qm.mu.Lock()
		defer qm.mu.Unlock()
		if sub, ok := qm.subscribers[id]; ok {
			close(sub)
			delete(qm.subscribers, id)
		}
	}
	return ch, unsubscribe
}

// publish fans an event out without blocking on slow consumers.
func (qm *QueueManager) publish(ev QueueEvent) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	qm.publishLocked(ev)
}

func (qm *QueueManager) publishLocked(ev QueueEvent) {
	for _, ch := range qm.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// StartObject maps a caller-supplied domain object to its entry,
// creating one on first sight, and asks the queue to download it.
func (qm *QueueManager) StartObject(obj domain.Storable) (*domain.Entry, error) {
	entry, err := qm.entryFor(obj)
	if err != nil {
		return nil, err
	}
	return entry, qm.StartEntry(entry)
}

// StartEntry admits the entry when a concurrency slot is free,
// otherwise queues it. Already-downloaded entries are left alone.
func (qm *QueueManager) StartEntry(entry *domain.Entry) error {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	if !qm.started {
		return fmt.Errorf("queue manager not running")
	}

	key := entry.Key()
	if existing, ok := qm.entries[key]; ok {
		entry = existing
	} else {
		qm.entries[key] = entry
		qm.snapshots[key] = entry.Snapshot()
		qm.persistLocked(entry)
	}

	if _, running := qm.downloaders[key]; running {
		return nil
	}
	if entry.IsDownloaded() {
		return nil
	}
	if !entry.CanStart() {
		return fmt.Errorf("entry %s cannot start from status %s", key, entry.Status)
	}

	if len(qm.downloaders) < qm.config.Queue.ConcurrentLimit {
		qm.launchLocked(entry)
	} else {
		qm.enqueueLocked(key)
	}
	return nil
}

// Pause stops the entry's in-flight download. Paused entries stay
// resumable.
func (qm *QueueManager) Pause(key string) error {
	qm.mu.Lock()
	d, running := qm.downloaders[key]
	entry, known := qm.entries[key]
	qm.dequeueLocked(key)
	qm.mu.Unlock()

	if running {
		d.Pause()
		return nil
	}
	if !known {
		return fmt.Errorf("unknown entry %s", key)
	}
	switch entry.CurrentStatus() {
	case domain.StatusInitialized, domain.StatusActive:
		entry.SetStatus(domain.StatusPaused)
		qm.persist(entry)
		qm.refreshSnapshot(entry)
		qm.publish(QueueEvent{Kind: EventStatus, Key: key, Status: domain.StatusPaused})
	}
	return nil
}

// Resume restarts a paused or failed entry.
func (qm *QueueManager) Resume(key string) error {
	qm.mu.Lock()
	entry, known := qm.entries[key]
	qm.mu.Unlock()
	if !known {
		return fmt.Errorf("unknown entry %s", key)
	}
	if !entry.CanResume() && !entry.CanStart() {
		return fmt.Errorf("entry %s cannot resume from status %s", key, entry.CurrentStatus())
	}
	entry.SetForcePaused(false)
	return qm.StartEntry(entry)
}

// Cancel stops the entry for good; cancelled entries are not resumed
// automatically.
func (qm *QueueManager) Cancel(key string) error {
	qm.mu.Lock()
	d, running := qm.downloaders[key]
	entry, known := qm.entries[key]
	qm.dequeueLocked(key)
	qm.mu.Unlock()

	if running {
		d.Cancel()
		return nil
	}
	if !known {
		return fmt.Errorf("unknown entry %s", key)
	}
	if !entry.IsTerminal() {
		entry.SetStatus(domain.StatusCancelled)
		qm.persist(entry)
		qm.refreshSnapshot(entry)
		qm.publish(QueueEvent{Kind: EventStatus, Key: key, Status: domain.StatusCancelled})
	}
	return nil
}

// Delete cancels the entry, removes its on-disk subtree and its
// persisted record, and drops it from every listing.
func (qm *QueueManager) Delete(key string) error {
	qm.mu.Lock()
	d, running := qm.downloaders[key]
	entry, known := qm.entries[key]
	qm.dequeueLocked(key)
	qm.mu.Unlock()

	if !known {
		return fmt.Errorf("unknown entry %s", key)
	}
	if running {
		d.Cancel()
		<-d.Done()
	}

	fs := qm.deps.Links.FS()
	if err := fs.RemoveAll(entry.RootPath(qm.config.Download.RootPath)); err != nil {
		qm.log.Warn("failed to remove entry files", zap.String("entry", key), zap.Error(err))
	}

	if model, err := entry.ToModel(); err == nil {
		if err := qm.store.Delete(model); err != nil {
			qm.log.Warn("failed to delete entry record", zap.String("entry", key), zap.Error(err))
		}
	}

	qm.mu.Lock()
	delete(qm.entries, key)
	delete(qm.snapshots, key)
	delete(qm.downloaders, key)
	qm.mu.Unlock()

	entry.SetStatus(domain.StatusRemoved)
	qm.publish(QueueEvent{Kind: EventStatus, Key: key, Status: domain.StatusRemoved})
	return nil
}

// PauseAllActive force-pauses every running entry, marking them apart
// from user-paused ones so ResumeAllActive can restore exactly them.
func (qm *QueueManager) PauseAllActive() {
	qm.mu.Lock()
	var toPause []*downloader.EntryDownloader
	for key, d := range qm.downloaders {
		if entry := qm.entries[key]; entry != nil {
			entry.SetForcePaused(true)
		}
		toPause = append(toPause, d)
	}
	for _, key := range qm.waiting {
		if entry := qm.entries[key]; entry != nil {
			entry.SetForcePaused(true)
		}
	}
	qm.waiting = nil
	qm.mu.Unlock()

	for _, d := range toPause {
		d.Pause()
	}
}

// ResumeAllActive restarts only the entries PauseAllActive stopped.
func (qm *QueueManager) ResumeAllActive() {
	qm.mu.Lock()
	var toResume []*domain.Entry
	for _, entry := range qm.entries {
		if entry.IsForcePaused() && entry.CanStart() {
			toResume = append(toResume, entry)
		}
	}
	qm.mu.Unlock()

	sort.Slice(toResume, func(i, j int) bool {
		return toResume[i].UpdatedAt.Before(toResume[j].UpdatedAt)
	})
	for _, entry := range toResume {
		entry.SetForcePaused(false)
		if err := qm.StartEntry(entry); err != nil {
			qm.log.Warn("failed to resume entry", zap.String("entry", entry.Key()), zap.Error(err))
		}
	}
}

// IsRunning reports whether the manager accepts work.
func (qm *QueueManager) IsRunning() bool {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	return qm.started
}

// Entry returns a detached copy of a known entry by key. Copies are
// refreshed on every download event, so observers never share memory
// with a running pass.
func (qm *QueueManager) Entry(key string) (*domain.Entry, bool) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	snap, ok := qm.snapshots[key]
	return snap, ok
}

// Entries lists detached copies of every known entry, oldest first.
func (qm *QueueManager) Entries() []*domain.Entry {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	out := make([]*domain.Entry, 0, len(qm.snapshots))
	for _, snap := range qm.snapshots {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Progress returns the live fraction-complete for an entry, or -1 when
// it has no running downloader.
func (qm *QueueManager) Progress(key string) float64 {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	if d, ok := qm.downloaders[key]; ok {
		return d.Progress().Fraction()
	}
	return -1
}

// Stats summarizes the queue by status.
func (qm *QueueManager) Stats() map[domain.EntryStatus]int {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	stats := make(map[domain.EntryStatus]int)
	for _, snap := range qm.snapshots {
		stats[snap.Status]++
	}
	return stats
}

// IsDownloaded reports whether the object's entry finished a pass
// viewably, consulting the store when the entry is not in memory.
func (qm *QueueManager) IsDownloaded(obj domain.Storable) (bool, error) {
	model, err := obj.ToModel()
	if err != nil {
		return false, err
	}
	key := domain.StorageKey(model.ID, model.Type)

	qm.mu.Lock()
	snap, known := qm.snapshots[key]
	qm.mu.Unlock()
	if known {
		return snap.IsDownloaded(), nil
	}

	stored, err := qm.store.Load(key)
	if err != nil || stored == nil {
		return false, err
	}
	restored, err := domain.EntryFromModel(stored)
	if err != nil {
		return false, err
	}
	return restored.IsDownloaded(), nil
}

func (qm *QueueManager) entryFor(obj domain.Storable) (*domain.Entry, error) {
	model, err := obj.ToModel()
	if err != nil {
		return nil, fmt.Errorf("failed to map object: %w", err)
	}
	key := domain.StorageKey(model.ID, model.Type)

	qm.mu.Lock()
	entry, known := qm.entries[key]
	qm.mu.Unlock()
	if known {
		return entry, nil
	}

	entry, err = obj.DownloaderEntry()
	if err != nil {
		return nil, fmt.Errorf("failed to build entry for %s: %w", key, err)
	}
	return entry, nil
}

func (qm *QueueManager) enqueueLocked(key string) {
	for _, waiting := range qm.waiting {
		if waiting == key {
			return
		}
	}
	qm.waiting = append(qm.waiting, key)
}

func (qm *QueueManager) dequeueLocked(key string) {
	for i, waiting := range qm.waiting {
		if waiting == key {
			qm.waiting = append(qm.waiting[:i], qm.waiting[i+1:]...)
			return
		}
	}
}

// launchLocked builds a downloader for the entry and starts it. Caller
// holds the lock.
func (qm *QueueManager) launchLocked(entry *domain.Entry) {
	key := entry.Key()
	d := downloader.NewEntryDownloader(entry, qm.config.Resolvers, qm.deps, qm.store)
	// Events arrive on the downloader goroutine, where the entry is
	// stable, so that is where its published copy gets refreshed.
	lastStatus := entry.CurrentStatus()
	d.OnEvent(func(ev downloader.Event) {
		qm.mu.Lock()
		defer qm.mu.Unlock()
		qm.snapshots[ev.Key] = entry.Snapshot()
		if ev.Status != lastStatus {
			lastStatus = ev.Status
			qm.publishLocked(QueueEvent{Kind: EventStatus, Key: ev.Key, Status: ev.Status})
		}
		qm.publishLocked(QueueEvent{
			Kind:     EventProgress,
			Key:      ev.Key,
			Status:   ev.Status,
			Fraction: ev.Fraction,
		})
	})
	qm.downloaders[key] = d
	d.Start(qm.ctx)

	go func() {
		<-d.Done()
		qm.onEntryFinished(key)
	}()
}

// onEntryFinished retires the entry's downloader, admits the oldest
// waiting entry, and fires the queue-completed event when everything
// has drained.
func (qm *QueueManager) onEntryFinished(key string) {
	qm.mu.Lock()

	delete(qm.downloaders, key)

	entry := qm.entries[key]
	if entry != nil {
		status := entry.CurrentStatus()
		qm.snapshots[key] = entry.Snapshot()
		qm.publishLocked(QueueEvent{Kind: EventStatus, Key: key, Status: status})
		if status == domain.StatusFailed {
			qm.anyFailed = true
			if handler := qm.config.ErrorsHandler; handler != nil {
				policy := downloader.NewErrorPolicy(entry, qm.config.Resolvers)
				diagnostic := policy.Diagnostic(Version, true)
				go handler(diagnostic, true)
			}
		}
	}

	qm.admitNextLocked()

	if qm.started && len(qm.downloaders) == 0 && len(qm.waiting) == 0 {
		success := !qm.anyFailed
		qm.anyFailed = false
		failed := qm.failedEntriesLocked()
		qm.publishLocked(QueueEvent{Kind: EventQueueCompleted, Success: success})
		qm.mu.Unlock()

		// Reported errors are cleared so a later pass does not
		// re-report them.
		for _, e := range failed {
			e.ClearErrors()
			qm.persist(e)
			qm.refreshSnapshot(e)
		}
		return
	}
	qm.mu.Unlock()
}

func (qm *QueueManager) failedEntriesLocked() []*domain.Entry {
	var failed []*domain.Entry
	for _, entry := range qm.entries {
		if entry.CurrentStatus() == domain.StatusFailed && entry.HasErrors() {
			failed = append(failed, entry)
		}
	}
	return failed
}

// admitNextLocked starts waiting entries oldest-first while slots are
// free. Caller holds the lock.
func (qm *QueueManager) admitNextLocked() {
	for qm.started && len(qm.waiting) > 0 && len(qm.downloaders) < qm.config.Queue.ConcurrentLimit {
		oldest := 0
		for i, key := range qm.waiting {
			a, b := qm.entries[qm.waiting[oldest]], qm.entries[key]
			if a == nil || (b != nil && b.UpdatedAt.Before(a.UpdatedAt)) {
				oldest = i
			}
		}
		key := qm.waiting[oldest]
		qm.waiting = append(qm.waiting[:oldest], qm.waiting[oldest+1:]...)

		entry := qm.entries[key]
		if entry == nil || !entry.CanStart() {
			continue
		}
		qm.launchLocked(entry)
	}
}

func (qm *QueueManager) refreshSnapshot(entry *domain.Entry) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	qm.snapshots[entry.Key()] = entry.Snapshot()
}

func (qm *QueueManager) persist(entry *domain.Entry) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	qm.persistLocked(entry)
}

func (qm *QueueManager) persistLocked(entry *domain.Entry) {
	model, err := entry.ToModel()
	if err != nil {
		qm.log.Warn("failed to serialize entry", zap.String("entry", entry.Key()), zap.Error(err))
		return
	}
	if err := qm.store.Save(model); err != nil {
		qm.log.Warn("failed to persist entry", zap.String("entry", entry.Key()), zap.Error(err))
	}
}
