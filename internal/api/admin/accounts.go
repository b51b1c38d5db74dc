// accounts.go implements handlers for access account CRUD, credential reveal,
// and per-account assignment listing. Account deletion is two-tier: accounts
// referenced by audit history are soft-deactivated, the rest are hard-deleted.
package admin

import (
	"net/http"
	"time"

	"github.com/keypanel/keypanel/internal/crypto"
	"github.com/keypanel/keypanel/internal/db/models"
	"github.com/keypanel/keypanel/internal/db/repositories"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CreateAccountRequest is the body for POST /api/v1/accounts. The credential
// arrives in plaintext over TLS and is sealed before it touches the database.
type CreateAccountRequest struct {
	Username   string    `json:"username" binding:"required"`
	Credential string    `json:"credential" binding:"required"`
	ExpiresAt  time.Time `json:"expiresAt" binding:"required"`
}

// AccountHandlers handles access account endpoints
type AccountHandlers struct {
	accountRepo    *repositories.AccountRepository
	assignmentRepo *repositories.AssignmentRepository
	auditRepo      *repositories.AuditRepository
	cipher         *crypto.CredentialCipher
}

// NewAccountHandlers creates a new account handler
func NewAccountHandlers(accountRepo *repositories.AccountRepository, assignmentRepo *repositories.AssignmentRepository, auditRepo *repositories.AuditRepository, cipher *crypto.CredentialCipher) *AccountHandlers {
	return &AccountHandlers{
		accountRepo:    accountRepo,
		assignmentRepo: assignmentRepo,
		auditRepo:      auditRepo,
		cipher:         cipher,
	}
}

// @Summary      Create access account
// @Description  Create a new shared access account. The credential is encrypted at rest and never returned in responses.
// @Tags         Accounts
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  admin.CreateAccountRequest  true  "Account username, credential, and expiry"
// @Success      201  {object}  models.AccessAccount
// @Failure      400  {object}  map[string]interface{}  "Invalid request or expiry in the past"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      409  {object}  map[string]interface{}  "Account with this username already exists"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/accounts [post]
// CreateAccount creates a new access account
// POST /api/v1/accounts
func (h *AccountHandlers) CreateAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !req.ExpiresAt.After(time.Now()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Expiry must be in the future"})
		return
	}

	sealed, err := h.cipher.Seal(req.Credential)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to encrypt credential: " + err.Error()})
		return
	}

	account := &models.AccessAccount{
		Username:            req.Username,
		CredentialEncrypted: sealed,
		ExpiresAt:           req.ExpiresAt,
	}

	if err := h.accountRepo.Create(c.Request.Context(), account); err != nil {
		if isUniqueViolation(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "Account with this username already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account: " + err.Error()})
		return
	}

	c.JSON(http.StatusCreated, account)
}

// @Summary      List access accounts
// @Description  List all access accounts, newest first. Includes deactivated accounts.
// @Tags         Accounts
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "accounts: []models.AccessAccount"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/accounts [get]
// ListAccounts lists all access accounts
// GET /api/v1/accounts
func (h *AccountHandlers) ListAccounts(c *gin.Context) {
	accounts, err := h.accountRepo.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list accounts: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

// @Summary      Get access account
// @Description  Retrieve a specific access account by ID.
// @Tags         Accounts
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Account ID (UUID)"
// @Success      200  {object}  models.AccessAccount
// @Failure      400  {object}  map[string]interface{}  "Invalid account ID"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      404  {object}  map[string]interface{}  "Account not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/accounts/{id} [get]
// GetAccount retrieves a specific access account
// GET /api/v1/accounts/:id
func (h *AccountHandlers) GetAccount(c *gin.Context) {
	idStr := c.Param("id")
	if _, err := uuid.Parse(idStr); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account ID"})
		return
	}

	account, err := h.accountRepo.GetByID(c.Request.Context(), idStr)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get account: " + err.Error()})
		return
	}
	if account == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		return
	}

	c.JSON(http.StatusOK, account)
}

// @Summary      Delete access account
// @Description  Remove an access account. Accounts referenced by audit history are deactivated instead of deleted so the history stays resolvable.
// @Tags         Accounts
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Account ID (UUID)"
// @Success      200  {object}  map[string]interface{}  "message, deleted: bool (false means deactivated)"
// @Failure      400  {object}  map[string]interface{}  "Invalid account ID"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      404  {object}  map[string]interface{}  "Account not found"
// @Failure      409  {object}  map[string]interface{}  "Account still has active assignments"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/accounts/{id} [delete]
// DeleteAccount removes an access account
// DELETE /api/v1/accounts/:id
func (h *AccountHandlers) DeleteAccount(c *gin.Context) {
	idStr := c.Param("id")
	if _, err := uuid.Parse(idStr); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account ID"})
		return
	}

	account, err := h.accountRepo.GetByID(c.Request.Context(), idStr)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get account: " + err.Error()})
		return
	}
	if account == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		return
	}

	active, err := h.assignmentRepo.ListActiveByAccount(c.Request.Context(), idStr)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check assignments: " + err.Error()})
		return
	}
	if len(active) > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "Account still has active assignments; unassign or transfer its keys first"})
		return
	}

	hasHistory, err := h.auditRepo.HasEventsForAccount(c.Request.Context(), idStr)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check audit history: " + err.Error()})
		return
	}

	if hasHistory {
		if err := h.accountRepo.Deactivate(c.Request.Context(), idStr); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to deactivate account: " + err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Account deactivated; audit history references it", "deleted": false})
		return
	}

	if err := h.accountRepo.Delete(c.Request.Context(), idStr); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete account: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Account deleted successfully", "deleted": true})
}

// @Summary      Reveal account credential
// @Description  Decrypt and return the plaintext credential of one account. Intended for operator handover, never for bulk export.
// @Tags         Accounts
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Account ID (UUID)"
// @Success      200  {object}  map[string]interface{}  "username, credential"
// @Failure      400  {object}  map[string]interface{}  "Invalid account ID"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      404  {object}  map[string]interface{}  "Account not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/accounts/{id}/credential [get]
// RevealCredential decrypts and returns an account credential
// GET /api/v1/accounts/:id/credential
func (h *AccountHandlers) RevealCredential(c *gin.Context) {
	idStr := c.Param("id")
	if _, err := uuid.Parse(idStr); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account ID"})
		return
	}

	account, err := h.accountRepo.GetByID(c.Request.Context(), idStr)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get account: " + err.Error()})
		return
	}
	if account == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		return
	}

	plaintext, err := h.cipher.Open(account.CredentialEncrypted)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to decrypt credential: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"username": account.Username, "credential": plaintext})
}

// @Summary      List account assignments
// @Description  List the active assignments of one account with the joined key codes and types.
// @Tags         Accounts
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Account ID (UUID)"
// @Success      200  {object}  map[string]interface{}  "assignments: []models.Assignment"
// @Failure      400  {object}  map[string]interface{}  "Invalid account ID"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      404  {object}  map[string]interface{}  "Account not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/accounts/{id}/assignments [get]
// ListAccountAssignments lists the active assignments of an account
// GET /api/v1/accounts/:id/assignments
func (h *AccountHandlers) ListAccountAssignments(c *gin.Context) {
	idStr := c.Param("id")
	if _, err := uuid.Parse(idStr); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account ID"})
		return
	}

	account, err := h.accountRepo.GetByID(c.Request.Context(), idStr)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get account: " + err.Error()})
		return
	}
	if account == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		return
	}

	assignments, err := h.assignmentRepo.ListActiveByAccount(c.Request.Context(), idStr)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list assignments: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"assignments": assignments})
}
