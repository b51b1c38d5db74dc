// keys.go implements handlers for access key CRUD, manual expiry, and
// per-key assignment listing.
package admin

import (
	"errors"
	"net/http"

	"github.com/keypanel/keypanel/internal/db/models"
	"github.com/keypanel/keypanel/internal/db/repositories"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// CreateKeyRequest is the body for POST /api/v1/keys.
type CreateKeyRequest struct {
	Code string `json:"code" binding:"required"`
	Type string `json:"type" binding:"required"`
}

// KeyHandlers handles access key endpoints
type KeyHandlers struct {
	keyRepo        *repositories.KeyRepository
	assignmentRepo *repositories.AssignmentRepository
}

// NewKeyHandlers creates a new key handler
func NewKeyHandlers(keyRepo *repositories.KeyRepository, assignmentRepo *repositories.AssignmentRepository) *KeyHandlers {
	return &KeyHandlers{
		keyRepo:        keyRepo,
		assignmentRepo: assignmentRepo,
	}
}

// isUniqueViolation reports whether err is a Postgres unique constraint error.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// @Summary      Create access key
// @Description  Create a new access key in Waiting status. The account capacity is derived from the key type.
// @Tags         Keys
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  admin.CreateKeyRequest  true  "Key code and type"
// @Success      201  {object}  models.AccessKey
// @Failure      400  {object}  map[string]interface{}  "Invalid request or key type"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      409  {object}  map[string]interface{}  "Key with this code already exists"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/keys [post]
// CreateKey creates a new access key
// POST /api/v1/keys
func (h *KeyHandlers) CreateKey(c *gin.Context) {
	var req CreateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	keyType := models.KeyType(req.Type)
	if !keyType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid key type: must be one_slot, two_slot, or three_slot"})
		return
	}

	key := &models.AccessKey{
		Code: req.Code,
		Type: keyType,
	}

	if err := h.keyRepo.Create(c.Request.Context(), key); err != nil {
		if isUniqueViolation(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "Key with this code already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create key: " + err.Error()})
		return
	}

	c.JSON(http.StatusCreated, key)
}

// @Summary      List access keys
// @Description  List all access keys, newest first.
// @Tags         Keys
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "keys: []models.AccessKey"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/keys [get]
// ListKeys lists all access keys
// GET /api/v1/keys
func (h *KeyHandlers) ListKeys(c *gin.Context) {
	keys, err := h.keyRepo.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list keys: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

// @Summary      Get access key
// @Description  Retrieve a specific access key by ID.
// @Tags         Keys
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Key ID (UUID)"
// @Success      200  {object}  models.AccessKey
// @Failure      400  {object}  map[string]interface{}  "Invalid key ID"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      404  {object}  map[string]interface{}  "Key not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/keys/{id} [get]
// GetKey retrieves a specific access key
// GET /api/v1/keys/:id
func (h *KeyHandlers) GetKey(c *gin.Context) {
	idStr := c.Param("id")
	if _, err := uuid.Parse(idStr); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid key ID"})
		return
	}

	key, err := h.keyRepo.GetByID(c.Request.Context(), idStr)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get key: " + err.Error()})
		return
	}
	if key == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Key not found"})
		return
	}

	c.JSON(http.StatusOK, key)
}

// @Summary      Delete access key
// @Description  Delete an access key. Its assignment rows cascade; audit history is preserved.
// @Tags         Keys
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Key ID (UUID)"
// @Success      200  {object}  map[string]interface{}  "message: Key deleted successfully"
// @Failure      400  {object}  map[string]interface{}  "Invalid key ID"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      404  {object}  map[string]interface{}  "Key not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/keys/{id} [delete]
// DeleteKey deletes an access key
// DELETE /api/v1/keys/:id
func (h *KeyHandlers) DeleteKey(c *gin.Context) {
	idStr := c.Param("id")
	if _, err := uuid.Parse(idStr); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid key ID"})
		return
	}

	key, err := h.keyRepo.GetByID(c.Request.Context(), idStr)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get key: " + err.Error()})
		return
	}
	if key == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Key not found"})
		return
	}

	if err := h.keyRepo.Delete(c.Request.Context(), idStr); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete key: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Key deleted successfully"})
}

// @Summary      Expire access key
// @Description  Mark an access key as expired. The next rotation tick stops moving it and the cleanup sweep reclaims its slots. Idempotent.
// @Tags         Keys
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Key ID (UUID)"
// @Success      200  {object}  models.AccessKey
// @Failure      400  {object}  map[string]interface{}  "Invalid key ID"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      404  {object}  map[string]interface{}  "Key not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/keys/{id}/expire [post]
// ExpireKey marks an access key as expired
// POST /api/v1/keys/:id/expire
func (h *KeyHandlers) ExpireKey(c *gin.Context) {
	idStr := c.Param("id")
	if _, err := uuid.Parse(idStr); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid key ID"})
		return
	}

	key, err := h.keyRepo.GetByID(c.Request.Context(), idStr)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get key: " + err.Error()})
		return
	}
	if key == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Key not found"})
		return
	}

	if key.Status != models.KeyStatusExpired {
		if err := h.keyRepo.UpdateStatus(c.Request.Context(), idStr, models.KeyStatusExpired); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to expire key: " + err.Error()})
			return
		}
		key.Status = models.KeyStatusExpired
	}

	c.JSON(http.StatusOK, key)
}

// @Summary      List key assignments
// @Description  List the active assignments of one key with the joined account usernames.
// @Tags         Keys
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Key ID (UUID)"
// @Success      200  {object}  map[string]interface{}  "assignments: []models.Assignment"
// @Failure      400  {object}  map[string]interface{}  "Invalid key ID"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      404  {object}  map[string]interface{}  "Key not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/keys/{id}/assignments [get]
// ListKeyAssignments lists the active assignments of a key
// GET /api/v1/keys/:id/assignments
func (h *KeyHandlers) ListKeyAssignments(c *gin.Context) {
	idStr := c.Param("id")
	if _, err := uuid.Parse(idStr); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid key ID"})
		return
	}

	key, err := h.keyRepo.GetByID(c.Request.Context(), idStr)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get key: " + err.Error()})
		return
	}
	if key == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Key not found"})
		return
	}

	assignments, err := h.assignmentRepo.ListActiveByKey(c.Request.Context(), idStr)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list assignments: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"assignments": assignments})
}
