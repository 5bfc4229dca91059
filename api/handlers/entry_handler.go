package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/offline-cache-go/internal/app"
	"github.com/yourusername/offline-cache-go/internal/domain"
)

// EntryHandler handles entry-related HTTP requests
type EntryHandler struct {
	queueMgr *app.QueueManager
	logger   *zap.Logger
}

// NewEntryHandler creates a new entry handler
func NewEntryHandler(queueMgr *app.QueueManager, logger *zap.Logger) *EntryHandler {
	return &EntryHandler{
		queueMgr: queueMgr,
		logger:   logger,
	}
}

// AddEntryRequest represents a request to queue content for download.
// Either HTML (with an optional base URL) or a bare URL must be given.
type AddEntryRequest struct {
	ID      string `json:"id" binding:"required"`
	Type    string `json:"type" binding:"required"`
	HTML    string `json:"html,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	URL     string `json:"url,omitempty"`
}

// entryResponse decorates an entry with its live progress.
type entryResponse struct {
	*domain.Entry
	Fraction float64 `json:"fraction"`
}

func (h *EntryHandler) respond(entry *domain.Entry) entryResponse {
	fraction := h.queueMgr.Progress(entry.Key())
	if fraction < 0 {
		if entry.IsDownloaded() {
			fraction = 1
		} else {
			fraction = 0
		}
	}
	return entryResponse{Entry: entry, Fraction: fraction}
}

// AddEntry handles POST /api/v1/entries
func (h *EntryHandler) AddEntry(c *gin.Context) {
	var req AddEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.HTML == "" && req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "either html or url is required"})
		return
	}

	entry := domain.NewEntry(req.ID, req.Type)
	if req.HTML != "" {
		entry.AddHTMLPart(req.HTML, req.BaseURL)
	} else {
		entry.AddURLPart(req.URL)
	}

	if existing, ok := h.queueMgr.Entry(entry.Key()); ok {
		if err := h.queueMgr.Resume(existing.Key()); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, h.respond(existing))
		return
	}

	if err := h.queueMgr.StartEntry(entry); err != nil {
		h.logger.Error("Failed to queue entry", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, h.respond(entry))
}

// GetEntry handles GET /api/v1/entries/:key
func (h *EntryHandler) GetEntry(c *gin.Context) {
	key := c.Param("key")

	entry, ok := h.queueMgr.Entry(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}

	c.JSON(http.StatusOK, h.respond(entry))
}

// ListEntries handles GET /api/v1/entries
func (h *EntryHandler) ListEntries(c *gin.Context) {
	status := c.Query("status")

	entries := h.queueMgr.Entries()
	out := make([]entryResponse, 0, len(entries))
	for _, entry := range entries {
		if status != "" && string(entry.Status) != status {
			continue
		}
		out = append(out, h.respond(entry))
	}

	c.JSON(http.StatusOK, out)
}

// GetStats handles GET /api/v1/entries/stats
func (h *EntryHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.queueMgr.Stats())
}

// PauseEntry handles POST /api/v1/entries/:key/pause
func (h *EntryHandler) PauseEntry(c *gin.Context) {
	key := c.Param("key")

	if err := h.queueMgr.Pause(key); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "entry paused"})
}

// ResumeEntry handles POST /api/v1/entries/:key/resume
func (h *EntryHandler) ResumeEntry(c *gin.Context) {
	key := c.Param("key")

	if err := h.queueMgr.Resume(key); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "entry resumed"})
}

// CancelEntry handles POST /api/v1/entries/:key/cancel
func (h *EntryHandler) CancelEntry(c *gin.Context) {
	key := c.Param("key")

	if err := h.queueMgr.Cancel(key); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "entry cancelled"})
}

// DeleteEntry handles DELETE /api/v1/entries/:key
func (h *EntryHandler) DeleteEntry(c *gin.Context) {
	key := c.Param("key")

	if err := h.queueMgr.Delete(key); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "entry deleted"})
}

// PauseAll handles POST /api/v1/entries/pause
func (h *EntryHandler) PauseAll(c *gin.Context) {
	h.queueMgr.PauseAllActive()
	c.JSON(http.StatusOK, gin.H{"message": "active entries paused"})
}

// ResumeAll handles POST /api/v1/entries/resume
func (h *EntryHandler) ResumeAll(c *gin.Context) {
	h.queueMgr.ResumeAllActive()
	c.JSON(http.StatusOK, gin.H{"message": "paused entries resumed"})
}
