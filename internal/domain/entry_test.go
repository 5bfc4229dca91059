package domain

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEntry(t *testing.T) {
	entry := NewEntry("page-42", "course_page")

	assert.Equal(t, StatusInitialized, entry.Status)
	assert.Equal(t, "course_page_page-42", entry.Key())
	assert.True(t, entry.CanStart())
	assert.False(t, entry.IsTerminal())
	assert.False(t, entry.IsDownloaded())
}

func TestEntryRootPath(t *testing.T) {
	entry := NewEntry("42", "page")

	assert.Equal(t, filepath.Join("/data", "page", "42"), entry.RootPath("/data"))
	assert.Equal(t, filepath.Join("/data", "page", "42", "1"), entry.PartPath("/data", 1))
}

func TestEntryStatusPredicates(t *testing.T) {
	tests := []struct {
		status     EntryStatus
		canStart   bool
		canResume  bool
		isTerminal bool
		isActive   bool
	}{
		{StatusInitialized, true, false, false, false},
		{StatusPreparing, false, false, false, true},
		{StatusActive, false, false, false, true},
		{StatusPaused, true, true, false, false},
		{StatusFailed, true, true, true, false},
		{StatusCancelled, true, false, true, false},
		{StatusCompleted, false, false, true, false},
		{StatusPartial, false, false, true, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			entry := NewEntry("1", "page")
			entry.SetStatus(tt.status)
			assert.Equal(t, tt.canStart, entry.CanStart())
			assert.Equal(t, tt.canResume, entry.CanResume())
			assert.Equal(t, tt.isTerminal, entry.IsTerminal())
			assert.Equal(t, tt.isActive, entry.IsActive())
		})
	}
}

func TestEntryErrors(t *testing.T) {
	entry := NewEntry("1", "page")
	entry.AppendError(errors.New("poster fetch failed"))
	entry.AppendError(nil)

	require.Len(t, entry.Errs(), 1)
	require.Len(t, entry.Errors, 1)
	assert.Equal(t, "poster fetch failed", entry.Errors[0])

	entry.ClearErrors()
	assert.Empty(t, entry.Errs())
	assert.Empty(t, entry.Errors)
}

func TestEntryModelRoundTrip(t *testing.T) {
	entry := NewEntry("42", "page")
	part := entry.AddHTMLPart("<html></html>", "https://example.com/")
	part.AppendDistinct(NewLink("https://example.com/a.png", "img", "src"))
	entry.AddURLPart("https://example.com/file.pdf")
	entry.SetStatus(StatusPartial)
	entry.AppendError(errors.New("one image missing"))

	model, err := entry.ToModel()
	require.NoError(t, err)
	assert.Equal(t, "page_42", model.ID)
	assert.Equal(t, StorageTypeEntry, model.Type)

	restored, err := EntryFromModel(model)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, restored.Status)
	require.Len(t, restored.Parts, 2)
	assert.Equal(t, PartHTML, restored.Parts[0].Kind)
	require.Len(t, restored.Parts[0].Links, 1)
	assert.Equal(t, "https://example.com/a.png", restored.Parts[0].Links[0].URL)
	assert.Equal(t, []string{"one image missing"}, restored.Errors)
}

func TestPartAppendDistinct(t *testing.T) {
	part := &Part{Kind: PartHTML}
	part.AppendDistinct(
		NewLink("https://x.com/a.png", "img", "src"),
		NewLink("https://x.com/b.png", "img", "src"),
		NewLink("https://x.com/a.png", "img", "src"),
	)

	require.Len(t, part.Links, 2)
	assert.Equal(t, "https://x.com/a.png", part.Links[0].URL)
	assert.Equal(t, "https://x.com/b.png", part.Links[1].URL)
}

func TestLinkDownloaded(t *testing.T) {
	link := NewLink("https://x.com/a.png", "img", "src")
	assert.False(t, link.Downloaded())

	link.DownloadedPath = "a.png"
	assert.True(t, link.Downloaded())
}

func TestLinkDownloadedWithVideoVariants(t *testing.T) {
	link := NewLink("https://fast.wistia.net/embed/iframe/abc", "iframe", "src")
	link.VideoLinks = []*VideoLink{{URL: "https://cdn.wistia.com/v.mp4", PosterURL: "https://cdn.wistia.com/p.jpg"}}
	assert.False(t, link.Downloaded())

	link.VideoLinks[0].DownloadedPath = "v.mp4"
	assert.False(t, link.Downloaded(), "poster still missing")

	link.VideoLinks[0].PosterPath = "p.jpg"
	assert.True(t, link.Downloaded())
}

func TestResolverFor(t *testing.T) {
	first := &stubResolver{can: false}
	second := &stubResolver{can: true}
	entry := NewEntry("1", "page")

	assert.Equal(t, second, ResolverFor([]EntryResolver{first, second}, entry))
	assert.Nil(t, ResolverFor([]EntryResolver{first}, entry))
}

type stubResolver struct{ can bool }

func (s *stubResolver) CanDownload(*Entry) bool { return s.can }
func (s *stubResolver) Prepare(ctx context.Context, entry *Entry) error {
	return nil
}
func (s *stubResolver) IsCritical(error) bool    { return false }
func (s *stubResolver) ReplaceHTML(string) string { return "" }
