package gkeyapi

import (
	"log/slog"
	"net/http"
	"strconv"

	"streamads/internal/auth"
	"streamads/internal/db"
	"streamads/internal/gkey"
	"streamads/internal/logger"
	"streamads/internal/model"

	"github.com/gin-gonic/gin"
)

type AcquireRequest struct {
	// UserID lets an admin act on a streamer's key; ignored for other roles.
	UserID     string `json:"userId"`
	Category   string `json:"category" binding:"required"`
	CampaignID string `json:"campaignId" binding:"required"`
	BrandID    string `json:"brandId" binding:"required"`
}

type ReleaseRequest struct {
	UserID       string `json:"userId"`
	Category     string `json:"category" binding:"required"`
	CampaignID   string `json:"campaignId"`
	BrandID      string `json:"brandId" binding:"required"`
	CooloffHours *int   `json:"cooloffHours" binding:"required,min=0,max=8760"`
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
		logger: logger.Component(log, "gkeyapi"),
	}
}

// ListHandler returns every key held by the caller.
func (h *Handler) ListHandler(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	keys, err := h.gkeys.ListForUser(claims.UserID)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	if keys == nil {
		keys = []model.GKey{}
	}
	c.JSON(http.StatusOK, gin.H{"gKeys": keys})
}

// GetByCategoryHandler returns the caller's key for a category, creating it on first use.
func (h *Handler) GetByCategoryHandler(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	key, err := h.gkeys.Get(claims.UserID, c.Param("category"))
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, key)
}

func (h *Handler) AcquireHandler(c *gin.Context) {
	var req AcquireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	key, err := h.gkeys.Acquire(gkey.AcquireRequest{
		UserID:     actingUser(c, req.UserID),
		Category:   req.Category,
		CampaignID: req.CampaignID,
		BrandID:    req.BrandID,
	})
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "G-Key locked", "gKey": key})
}

func (h *Handler) ReleaseHandler(c *gin.Context) {
	var req ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	key, err := h.gkeys.Release(gkey.ReleaseRequest{
		UserID:       actingUser(c, req.UserID),
		Category:     req.Category,
		CampaignID:   req.CampaignID,
		BrandID:      req.BrandID,
		CooloffHours: *req.CooloffHours,
	})
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "G-Key released", "gKey": key})
}

// ListNotificationsHandler returns the caller's G-Key notifications, newest first.
func (h *Handler) ListNotificationsHandler(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 200 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}

	notifications, err := h.db.ListNotifications(claims.UserID, limit)
	if err != nil {
		h.logger.Error("Failed to list notifications", "user_id", claims.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list notifications"})
		return
	}
	if notifications == nil {
		notifications = []model.Notification{}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

func (h *Handler) MarkNotificationReadHandler(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	ok, err := h.db.MarkNotificationRead(claims.UserID, c.Param("id"))
	if err != nil {
		h.logger.Error("Failed to mark notification read", "user_id", claims.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update notification"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Notification not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// actingUser returns requested when an admin acts for someone else, otherwise the caller.
func actingUser(c *gin.Context, requested string) string {
	claims, _ := auth.ClaimsFrom(c)
	if requested != "" && claims.Role == auth.RoleAdmin {
		return requested
	}
	return claims.UserID
}
