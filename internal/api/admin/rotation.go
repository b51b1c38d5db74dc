// rotation.go implements handlers for the rotation scheduler: manual runs,
// status, settings, and the on-demand cleanup sweep.
package admin

import (
	"context"
	"errors"
	"net/http"

	"github.com/keypanel/keypanel/internal/db/models"
	"github.com/keypanel/keypanel/internal/rotation"

	"github.com/gin-gonic/gin"
)

// RotationScheduler defines the scheduler operations the handlers need.
type RotationScheduler interface {
	TriggerNow(ctx context.Context) (*rotation.RunSummary, error)
	GetStatus(ctx context.Context) (rotation.Status, error)
	UpdateSettings(ctx context.Context, settings models.RotationSettings) error
	ForceCleanup(ctx context.Context) (rotation.CleanupSummary, error)
}

// RotationHandlers handles rotation scheduler endpoints
type RotationHandlers struct {
	scheduler RotationScheduler
}

// NewRotationHandlers creates a new rotation handler
func NewRotationHandlers(scheduler RotationScheduler) *RotationHandlers {
	return &RotationHandlers{scheduler: scheduler}
}

// @Summary      Trigger rotation run
// @Description  Execute one full rotation run immediately, regardless of the enabled flag. At most one run executes at a time.
// @Tags         Rotation
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  rotation.RunSummary
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      409  {object}  map[string]interface{}  "A run is already in progress"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/rotation/run [post]
// TriggerRun executes a rotation run immediately
// POST /api/v1/rotation/run
func (h *RotationHandlers) TriggerRun(c *gin.Context) {
	summary, err := h.scheduler.TriggerNow(c.Request.Context())
	if err != nil {
		if errors.Is(err, rotation.ErrRunInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": "A rotation run is already in progress"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Rotation run failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// @Summary      Get rotation status
// @Description  Return the scheduler snapshot: enabled flag, running flag, tick times, last error, and the summaries of the last run and cleanup.
// @Tags         Rotation
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  rotation.Status
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/rotation/status [get]
// GetStatus returns the scheduler status snapshot
// GET /api/v1/rotation/status
func (h *RotationHandlers) GetStatus(c *gin.Context) {
	status, err := h.scheduler.GetStatus(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get rotation status: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, status)
}

// @Summary      Update rotation settings
// @Description  Validate and persist new scheduler settings. They take effect at the next tick without a restart.
// @Tags         Rotation
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  models.RotationSettings  true  "New scheduler settings"
// @Success      200  {object}  models.RotationSettings
// @Failure      400  {object}  map[string]interface{}  "Invalid settings"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/rotation/settings [put]
// UpdateSettings persists new scheduler settings
// PUT /api/v1/rotation/settings
func (h *RotationHandlers) UpdateSettings(c *gin.Context) {
	var settings models.RotationSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.scheduler.UpdateSettings(c.Request.Context(), settings); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, settings)
}

// @Summary      Force cleanup sweep
// @Description  Run the expired-account sweep immediately: purge inactive assignment rows and retire expired keyless accounts.
// @Tags         Rotation
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  rotation.CleanupSummary
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/rotation/cleanup [post]
// ForceCleanup runs the expired-account sweep on demand
// POST /api/v1/rotation/cleanup
func (h *RotationHandlers) ForceCleanup(c *gin.Context) {
	summary, err := h.scheduler.ForceCleanup(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cleanup sweep failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, summary)
}
