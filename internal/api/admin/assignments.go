// assignments.go implements handlers for attaching and detaching keys. All
// occupancy rules live in the service layer; these handlers translate its
// error taxonomy onto HTTP statuses.
package admin

import (
	"net/http"

	"github.com/keypanel/keypanel/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CreateAssignmentRequest is the body for POST /api/v1/assignments.
type CreateAssignmentRequest struct {
	AccountID string `json:"accountId" binding:"required"`
	KeyID     string `json:"keyId" binding:"required"`
}

// AssignmentHandlers handles assignment endpoints
type AssignmentHandlers struct {
	ledger *services.Ledger
}

// NewAssignmentHandlers creates a new assignment handler
func NewAssignmentHandlers(ledger *services.Ledger) *AssignmentHandlers {
	return &AssignmentHandlers{ledger: ledger}
}

// @Summary      Assign key to account
// @Description  Attach a key to an account. Fails when the key is expired, the account is full, the key is at capacity, or the key type does not match the account's dominant type.
// @Tags         Assignments
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  admin.CreateAssignmentRequest  true  "Account and key IDs"
// @Success      201  {object}  models.Assignment
// @Failure      400  {object}  map[string]interface{}  "Invalid request or IDs"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      404  {object}  map[string]interface{}  "Account or key not found"
// @Failure      409  {object}  map[string]interface{}  "Occupancy or type conflict"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/assignments [post]
// CreateAssignment attaches a key to an account
// POST /api/v1/assignments
func (h *AssignmentHandlers) CreateAssignment(c *gin.Context) {
	var req CreateAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := uuid.Parse(req.AccountID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account ID"})
		return
	}
	if _, err := uuid.Parse(req.KeyID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid key ID"})
		return
	}

	assignment, err := h.ledger.CreateAssignment(c.Request.Context(), req.AccountID, req.KeyID, actorAdmin)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, assignment)
}

// @Summary      Unassign key from account
// @Description  Detach a key from an account. Idempotent: detaching a pair that is not active reports removed=false.
// @Tags         Assignments
// @Security     Bearer
// @Produce      json
// @Param        account_id  path  string  true  "Account ID (UUID)"
// @Param        key_id      path  string  true  "Key ID (UUID)"
// @Success      200  {object}  map[string]interface{}  "removed: bool"
// @Failure      400  {object}  map[string]interface{}  "Invalid IDs"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/assignments/{account_id}/{key_id} [delete]
// RemoveAssignment detaches a key from an account
// DELETE /api/v1/assignments/:account_id/:key_id
func (h *AssignmentHandlers) RemoveAssignment(c *gin.Context) {
	accountID := c.Param("account_id")
	keyID := c.Param("key_id")
	if _, err := uuid.Parse(accountID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account ID"})
		return
	}
	if _, err := uuid.Parse(keyID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid key ID"})
		return
	}

	removed, err := h.ledger.RemoveAssignment(c.Request.Context(), accountID, keyID, actorAdmin)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
