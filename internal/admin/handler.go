package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"streamads/internal/db"
	"streamads/internal/gkey"
	"streamads/internal/gkeyapi"
	"streamads/internal/logger"
	"streamads/internal/model"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type SeedRequest struct {
	Categories []string `json:"categories"`
}

type Handler struct {
	gkeys  gkey.Manager
	db     db.Service
	logger *slog.Logger
}

func NewHandler(manager gkey.Manager, dbService db.Service, log *slog.Logger) *Handler {
	return &Handler{
		gkeys:  manager,
		db:     dbService,
		logger: logger.Component(log, "admin"),
	}
}

// ListGKeysHandler pages through every key, optionally filtered by status and category.
func (h *Handler) ListGKeysHandler(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}
	status := c.Query("status")
	switch model.GKeyStatus(status) {
	case "", model.GKeyAvailable, model.GKeyLocked, model.GKeyCooloff:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status filter"})
		return
	}

	keys, total, err := h.db.ListGKeys(page, limit, status, c.Query("category"))
	if err != nil {
		h.logger.Error("Failed to list G-Keys", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list G-Keys"})
		return
	}
	if keys == nil {
		keys = []model.GKey{}
	}
	c.JSON(http.StatusOK, gin.H{"gKeys": keys, "total": total, "page": page, "limit": limit})
}

func (h *Handler) GetGKeyHandler(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	key, err := h.db.GetGKey(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "G-Key not found"})
			return
		}
		h.logger.Error("Failed to get G-Key", "key_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get G-Key"})
		return
	}
	c.JSON(http.StatusOK, key)
}

// CategoryHoldersHandler lists every streamer key in a category, as used for campaign matching.
func (h *Handler) CategoryHoldersHandler(c *gin.Context) {
	keys, err := h.gkeys.FindByCategory(c.Param("category"))
	if err != nil {
		gkeyapi.RespondError(c, h.logger, err)
		return
	}
	if keys == nil {
		keys = []model.GKey{}
	}
	c.JSON(http.StatusOK, gin.H{"gKeys": keys})
}

func (h *Handler) SeedGKeysHandler(c *gin.Context) {
	var req SeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if len(req.Categories) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Categories list cannot be empty"})
		return
	}

	created, err := h.gkeys.Seed(c.Param("userId"), req.Categories)
	if err != nil {
		gkeyapi.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "G-Keys seeded successfully", "created": created})
}

func (h *Handler) ResetGKeyHandler(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	key, err := h.gkeys.Reset(id)
	if err != nil {
		gkeyapi.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, key)
}

// SweepHandler runs the cooloff expiry immediately instead of waiting for the scheduler.
func (h *Handler) SweepHandler(c *gin.Context) {
	expired, err := h.gkeys.Sweep()
	if err != nil {
		h.logger.Error("Manual cooloff sweep failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cooloff sweep failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": expired})
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return 0, false
	}
	return uint(id), true
}
