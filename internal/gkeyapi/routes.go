package gkeyapi

import (
	"log/slog"

	"streamads/internal/auth"
	"streamads/internal/db"
	"streamads/internal/gkey"

	"github.com/gin-gonic/gin"
)

// SetupRoutes mounts the caller-facing G-Key API under /api/g-keys.
func SetupRoutes(router gin.IRouter, manager gkey.Manager, dbService db.Service, verifier *auth.Verifier, logger *slog.Logger) {
	handler := NewHandler(manager, dbService, logger)

	gKeys := router.Group("/api/g-keys")
	gKeys.Use(auth.SessionMiddleware(verifier))
	{
		read := auth.RequireCapability(auth.CapGKeysRead)
		write := auth.RequireCapability(auth.CapGKeysWrite)

		gKeys.GET("", read, handler.ListHandler)
		gKeys.GET("/category/:category", read, handler.GetByCategoryHandler)
		gKeys.POST("/acquire", write, handler.AcquireHandler)
		gKeys.POST("/release", write, handler.ReleaseHandler)

		notifications := gKeys.Group("/notifications", auth.RequireCapability(auth.CapNotifications))
		{
			notifications.GET("", handler.ListNotificationsHandler)
			notifications.POST("/:id/read", handler.MarkNotificationReadHandler)
		}
	}
}
