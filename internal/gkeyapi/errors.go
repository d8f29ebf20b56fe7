package gkeyapi

import (
	"errors"
	"log/slog"
	"net/http"

	"streamads/internal/gkey"

	"github.com/gin-gonic/gin"
)

// RespondError maps G-Key domain errors onto user-facing JSON responses.
// Unknown errors are logged and reported as 500.
func RespondError(c *gin.Context, logger *slog.Logger, err error) {
	var cooloff *gkey.CooloffError
	switch {
	case errors.As(err, &cooloff):
		c.JSON(http.StatusConflict, gin.H{
			"error":         "This G-Key is in cooloff after a campaign with another brand",
			"code":          "KEY_IN_COOLOFF",
			"cooloffEndsAt": cooloff.EndsAt,
		})
	case errors.Is(err, gkey.ErrKeyInCooloff):
		c.JSON(http.StatusConflict, gin.H{"error": "This G-Key is in cooloff after a campaign with another brand", "code": "KEY_IN_COOLOFF"})
	case errors.Is(err, gkey.ErrKeyUnavailable):
		c.JSON(http.StatusConflict, gin.H{"error": "This G-Key is already in use by another campaign", "code": "KEY_UNAVAILABLE"})
	case errors.Is(err, gkey.ErrKeyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "G-Key not found"})
	case errors.Is(err, gkey.ErrKeyNotLocked):
		c.JSON(http.StatusConflict, gin.H{"error": "This G-Key is not locked by this campaign", "code": "KEY_NOT_LOCKED"})
	case errors.Is(err, gkey.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "The G-Key changed while processing the request, please retry", "code": "CONFLICT"})
	case errors.Is(err, gkey.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.Error("G-Key request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
