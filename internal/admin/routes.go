package admin

import (
	"log/slog"

	"streamads/internal/auth"
	"streamads/internal/db"
	"streamads/internal/gkey"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(router gin.IRouter, manager gkey.Manager, dbService db.Service, verifier *auth.Verifier, logger *slog.Logger) {
	handler := NewHandler(manager, dbService, logger)

	adminGroup := router.Group("/api/g-keys/admin")
	adminGroup.Use(auth.SessionMiddleware(verifier), auth.RequireCapability(auth.CapAdmin))
	{
		keysGroup := adminGroup.Group("/keys")
		{
			keysGroup.GET("", handler.ListGKeysHandler)
			keysGroup.GET("/:id", handler.GetGKeyHandler)
			keysGroup.POST("/:id/reset", handler.ResetGKeyHandler)
		}

		adminGroup.GET("/categories/:category", handler.CategoryHoldersHandler)
		adminGroup.POST("/users/:userId/seed", handler.SeedGKeysHandler)
		adminGroup.POST("/sweep", handler.SweepHandler)
	}
}
