// respond.go maps service-layer errors onto HTTP status codes so every handler
// reports the same status for the same failure.
package admin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/keypanel/keypanel/internal/services"
)

// respondServiceError translates a services error into a JSON error response.
// Validation failures are the caller's fault (400), missing records are 404,
// occupancy and state conflicts are 409, and everything else (including
// transient store errors) is a 500.
// actorAdmin is the audit actor recorded for interactive panel actions. The
// panel runs a single shared admin token, so there is no per-user identity;
// scheduler-originated events use "rotation" instead.
const actorAdmin = "admin"

func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrAlreadyAssigned),
		errors.Is(err, services.ErrTypeMismatch),
		errors.Is(err, services.ErrSlotFull),
		errors.Is(err, services.ErrKeyCapacityExceeded),
		errors.Is(err, services.ErrKeyNotTransferable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
