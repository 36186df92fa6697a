// Package admin serves the owner-only inspection and maintenance endpoints.
package admin

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Renetatomm/renetato-s-executor/internal/db"
	"github.com/Renetatomm/renetato-s-executor/internal/keymanager"
	"github.com/Renetatomm/renetato-s-executor/internal/model"

	"github.com/gin-gonic/gin"
)

const maxEventLimit = 1000

// KeyView is a stored key with its status at the time of the request.
type KeyView struct {
	model.KeyRecord
	Status string `json:"status"`
}

type Handler struct {
	keys   keymanager.Manager
	db     db.Service
	logger *slog.Logger
	now    func() time.Time
}

// NewHandler creates a Handler. dbService may be nil when the audit trail is disabled.
func NewHandler(keys keymanager.Manager, dbService db.Service, logger *slog.Logger) *Handler {
	return &Handler{
		keys:   keys,
		db:     dbService,
		logger: logger.With("component", "admin"),
		now:    time.Now,
	}
}

func (h *Handler) ListKeysHandler(c *gin.Context) {
	now := h.now()
	records := h.keys.List()
	views := make([]KeyView, len(records))
	for i, record := range records {
		views[i] = KeyView{KeyRecord: record, Status: record.Status(now)}
	}
	c.JSON(http.StatusOK, views)
}

func (h *Handler) ListCooldownsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.keys.Cooldowns())
}

func (h *Handler) StatsHandler(c *gin.Context) {
	resp := gin.H{"keys": h.keys.Stats()}
	if h.db != nil {
		counts, err := h.db.CountEventsByType()
		if err != nil {
			h.logger.Error("Failed to count audit events", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count audit events"})
			return
		}
		resp["events"] = counts
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListEventsHandler(c *gin.Context) {
	if h.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Audit trail not configured"})
		return
	}

	limit := db.DefaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := h.db.ListEvents(limit, c.Query("type"))
	if err != nil {
		h.logger.Error("Failed to list audit events", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list audit events"})
		return
	}
	c.JSON(http.StatusOK, events)
}

func (h *Handler) SweepHandler(c *gin.Context) {
	removed := h.keys.Sweep()
	h.logger.Info("Manual sweep", "removed", removed)
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
