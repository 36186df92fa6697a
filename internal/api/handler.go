// Package api serves the public key endpoints consumed by the dashboard and the desktop client.
package api

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/Renetatomm/renetato-s-executor/internal/auth"
	"github.com/Renetatomm/renetato-s-executor/internal/keymanager"
	"github.com/Renetatomm/renetato-s-executor/internal/logger"
	"github.com/Renetatomm/renetato-s-executor/internal/model"

	"github.com/gin-gonic/gin"
)

// Plain-text bodies of GET /validate. The desktop client only accepts an exact "VALID".
const (
	PlainValid   = "VALID"
	PlainInvalid = "INVALID"
)

// CommitLister returns recent commits. It never fails; errors degrade to fallback data.
type CommitLister interface {
	List(ctx context.Context) []model.Commit
}

type validateRequest struct {
	Key string `json:"key" binding:"required"`
}

// Handler holds the dependencies of the public endpoints.
type Handler struct {
	keys    keymanager.Manager
	commits CommitLister
	ownerIP string
	logger  *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(keys keymanager.Manager, commits CommitLister, ownerIP string, log *slog.Logger) *Handler {
	return &Handler{
		keys:    keys,
		commits: commits,
		ownerIP: ownerIP,
		logger:  log.With("component", "api"),
	}
}

// GenerateKeyHandler issues a key to the calling address.
func (h *Handler) GenerateKeyHandler(c *gin.Context) {
	address := auth.ClientAddress(c.Request)

	record, err := h.keys.Generate(address)
	if err != nil {
		var cooldownErr *keymanager.CooldownError
		if errors.As(err, &cooldownErr) {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(cooldownErr.Remaining.Seconds()))))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"success":           false,
				"error":             "Cooldown active",
				"cooldownRemaining": cooldownErr.RemainingMinutes(),
			})
			return
		}
		h.logger.Error("Key generation failed", "address", address, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"key":       record.Token,
		"expiresAt": record.ExpiresAt,
	})
}

// ValidateKeyHandler redeems a key sent as JSON {"key": "..."}.
func (h *Handler) ValidateKeyHandler(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "error": "Key is required"})
		return
	}

	err := h.keys.Validate(req.Key)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"valid": true, "message": "Key validated successfully"})
	case errors.Is(err, keymanager.ErrKeyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"valid": false, "error": "Invalid key"})
	case errors.Is(err, keymanager.ErrKeyAlreadyUsed):
		c.JSON(http.StatusForbidden, gin.H{"valid": false, "error": "Key already used"})
	case errors.Is(err, keymanager.ErrKeyExpired):
		c.JSON(http.StatusForbidden, gin.H{"valid": false, "error": "Key expired"})
	default:
		h.logger.Error("Key validation failed", "key_suffix", logger.KeySuffix(req.Key), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"valid": false, "error": "Internal server error"})
	}
}

// ValidatePlainHandler redeems a key sent as ?key= and answers VALID or INVALID.
func (h *Handler) ValidatePlainHandler(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		c.String(http.StatusBadRequest, PlainInvalid)
		return
	}

	err := h.keys.Validate(key)
	switch {
	case err == nil:
		c.String(http.StatusOK, PlainValid)
	case errors.Is(err, keymanager.ErrKeyNotFound):
		c.String(http.StatusNotFound, PlainInvalid)
	case errors.Is(err, keymanager.ErrKeyAlreadyUsed), errors.Is(err, keymanager.ErrKeyExpired):
		c.String(http.StatusForbidden, PlainInvalid)
	default:
		h.logger.Error("Key validation failed", "key_suffix", logger.KeySuffix(key), "error", err)
		c.String(http.StatusInternalServerError, PlainInvalid)
	}
}

// OwnerCheckHandler reports whether the caller is the owner.
func (h *Handler) OwnerCheckHandler(c *gin.Context) {
	address := auth.ClientAddress(c.Request)
	c.JSON(http.StatusOK, gin.H{
		"isOwner": auth.IsOwner(address, h.ownerIP),
		"ip":      address,
	})
}

// CommitsHandler lists recent commits of the executor repository.
func (h *Handler) CommitsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.commits.List(c.Request.Context()))
}

// HealthHandler is a liveness probe.
func (h *Handler) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
