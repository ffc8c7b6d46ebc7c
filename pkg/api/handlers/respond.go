// pkg/api/handlers/respond.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/releasegate/releasegate/pkg/rollback"
	"github.com/releasegate/releasegate/pkg/storage"
)

// respondError maps domain errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	var cooldownErr *rollback.CooldownError
	var exhaustionErr *rollback.ExhaustionError

	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, rollback.ErrRollbackInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &cooldownErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":             err.Error(),
			"remaining_seconds": int(cooldownErr.Remaining.Seconds()),
		})
	case errors.As(err, &exhaustionErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
