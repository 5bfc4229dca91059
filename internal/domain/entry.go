package domain

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

// EntryStatus represents the current status of a download entry
type EntryStatus string

const (
	StatusInitialized EntryStatus = "initialized"
	StatusPreparing   EntryStatus = "preparing"
	StatusActive      EntryStatus = "active"
	StatusCompleted   EntryStatus = "completed"
	StatusPartial     EntryStatus = "partially_downloaded"
	StatusFailed      EntryStatus = "failed"
	StatusCancelled   EntryStatus = "cancelled"
	StatusPaused      EntryStatus = "paused"
	StatusRemoved     EntryStatus = "removed"
)

// Entry represents one downloadable unit tracked by the queue. It is
// identified by the (ID, Type) pair and owns an ordered list of parts.
type Entry struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Parts    []*Part           `json:"parts"`
	Status   EntryStatus       `json:"status"`
	Errors   []string          `json:"errors,omitempty"`
	UserInfo map[string]string `json:"user_info,omitempty"`

	ForcePaused bool `json:"force_paused"`
	Unsupported bool `json:"unsupported"`
	ServerError bool `json:"server_error"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// errs keeps the live error values for the current attempt; Errors
	// carries their descriptions across restarts.
	errs []error

	// mu guards the scalar fields against concurrent observation while a
	// download pass mutates them. Parts are owned by the pass itself.
	mu sync.RWMutex
}

// NewEntry creates a new entry in the initialized state
func NewEntry(id, typ string) *Entry {
	now := time.Now()
	return &Entry{
		ID:        id,
		Type:      typ,
		Status:    StatusInitialized,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// StorageKey returns the store primary key for an (id, type) pair
func StorageKey(id, typ string) string {
	return typ + "_" + id
}

// Key returns the store primary key of the entry
func (e *Entry) Key() string {
	return StorageKey(e.ID, e.Type)
}

// RootPath returns the entry's dedicated on-disk subtree below root
func (e *Entry) RootPath(root string) string {
	return filepath.Join(root, e.Type, e.ID)
}

// PartPath returns the folder a part's artifacts live in
func (e *Entry) PartPath(root string, partIndex int) string {
	return filepath.Join(e.RootPath(root), fmt.Sprintf("%d", partIndex))
}

// AddHTMLPart appends an HTML part with an optional base URL
func (e *Entry) AddHTMLPart(html, baseURL string) *Part {
	part := &Part{Kind: PartHTML, HTML: html, BaseURL: baseURL}
	e.Parts = append(e.Parts, part)
	return part
}

// AddURLPart appends a bare-URL part
func (e *Entry) AddURLPart(url string) *Part {
	part := &Part{Kind: PartURL, URL: url}
	e.Parts = append(e.Parts, part)
	return part
}

// SetStatus transitions the entry and stamps the update time
func (e *Entry) SetStatus(status EntryStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Status = status
	e.UpdatedAt = time.Now()
}

// CurrentStatus reads the status safely across goroutines
func (e *Entry) CurrentStatus() EntryStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Status
}

// SetForcePaused marks or clears the queue-wide pause flag
func (e *Entry) SetForcePaused(forced bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ForcePaused = forced
}

// IsForcePaused reports whether a queue-wide pause stopped the entry
func (e *Entry) IsForcePaused() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ForcePaused
}

// MarkUnsupported flags the entry as one no resolver can handle
func (e *Entry) MarkUnsupported() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Unsupported = true
}

// SetServerError records whether the failing fetch was a 5xx
func (e *Entry) SetServerError(serverError bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ServerError = serverError
}

// AppendError records a non-fatal error on the entry
func (e *Entry) AppendError(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, err)
	e.Errors = append(e.Errors, err.Error())
}

// Errs returns the live error values recorded during the current attempt
func (e *Entry) Errs() []error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]error(nil), e.errs...)
}

// HasErrors reports whether the current attempt recorded any error
func (e *Entry) HasErrors() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.errs) > 0 || len(e.Errors) > 0
}

// ClearErrors drops the recorded errors, e.g. before a retry or after
// they were reported at queue completion
func (e *Entry) ClearErrors() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = nil
	e.Errors = nil
}

// CanStart reports whether Start is a legal transition
func (e *Entry) CanStart() bool {
	switch e.CurrentStatus() {
	case StatusInitialized, StatusPaused, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanResume reports whether the queue may auto-resume the entry
func (e *Entry) CanResume() bool {
	status := e.CurrentStatus()
	return status == StatusPaused || status == StatusFailed
}

// IsTerminal reports whether the entry finished its current pass
func (e *Entry) IsTerminal() bool {
	switch e.CurrentStatus() {
	case StatusCompleted, StatusPartial, StatusFailed, StatusCancelled, StatusRemoved:
		return true
	}
	return false
}

// IsActive reports whether the entry currently occupies a concurrency slot
func (e *Entry) IsActive() bool {
	status := e.CurrentStatus()
	return status == StatusPreparing || status == StatusActive
}

// IsDownloaded reports whether the entry is viewable offline
func (e *Entry) IsDownloaded() bool {
	status := e.CurrentStatus()
	return status == StatusCompleted || status == StatusPartial
}

// Snapshot returns a detached copy for observers, so marshaling or
// inspecting it never races with a running download pass. Call it from
// the goroutine driving the pass, or while the entry is idle.
func (e *Entry) Snapshot() *Entry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := &Entry{
		ID:          e.ID,
		Type:        e.Type,
		Status:      e.Status,
		ForcePaused: e.ForcePaused,
		Unsupported: e.Unsupported,
		ServerError: e.ServerError,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
		Errors:      append([]string(nil), e.Errors...),
	}
	if e.UserInfo != nil {
		snap.UserInfo = make(map[string]string, len(e.UserInfo))
		for k, v := range e.UserInfo {
			snap.UserInfo[k] = v
		}
	}
	for _, part := range e.Parts {
		snap.Parts = append(snap.Parts, part.clone())
	}
	return snap
}

// ToModel serializes the entry into its storage representation
func (e *Entry) ToModel() (*StorageModel, error) {
	payload, err := json.Marshal(e.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("failed to encode entry %s: %w", e.Key(), err)
	}
	return &StorageModel{
		ID:   e.Key(),
		Type: StorageTypeEntry,
		JSON: string(payload),
	}, nil
}

// EntryFromModel rebuilds an entry from its storage representation
func EntryFromModel(model *StorageModel) (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal([]byte(model.JSON), &entry); err != nil {
		return nil, fmt.Errorf("failed to decode entry %s: %w", model.ID, err)
	}
	return &entry, nil
}
