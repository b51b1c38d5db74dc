// audit.go implements the audit log query handler.
package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/keypanel/keypanel/internal/db/repositories"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 500
)

// AuditHandlers handles audit log endpoints
type AuditHandlers struct {
	auditRepo *repositories.AuditRepository
}

// NewAuditHandlers creates a new audit handler
func NewAuditHandlers(auditRepo *repositories.AuditRepository) *AuditHandlers {
	return &AuditHandlers{auditRepo: auditRepo}
}

// @Summary      Query audit log
// @Description  List audit events, newest first, with optional filters and pagination.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        key_id      query  string  false  "Filter by key ID (UUID)"
// @Param        account_id  query  string  false  "Filter by account ID (UUID), matching either side of a transfer"
// @Param        action      query  string  false  "Filter by action (key.assign, key.unassign, key.transfer)"
// @Param        start_date  query  string  false  "Events at or after this RFC3339 timestamp"
// @Param        end_date    query  string  false  "Events at or before this RFC3339 timestamp"
// @Param        limit       query  int     false  "Page size (default 50, max 500)"
// @Param        offset      query  int     false  "Page offset"
// @Success      200  {object}  map[string]interface{}  "events: []models.AuditEvent, total: int, limit, offset"
// @Failure      400  {object}  map[string]interface{}  "Invalid filter value"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/audit [get]
// ListEvents queries the audit log
// GET /api/v1/audit
func (h *AuditHandlers) ListEvents(c *gin.Context) {
	var filters repositories.AuditFilters

	if v := c.Query("key_id"); v != "" {
		if _, err := uuid.Parse(v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid key_id"})
			return
		}
		filters.KeyID = &v
	}
	if v := c.Query("account_id"); v != "" {
		if _, err := uuid.Parse(v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account_id"})
			return
		}
		filters.AccountID = &v
	}
	if v := c.Query("action"); v != "" {
		filters.Action = &v
	}
	if v := c.Query("start_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid start_date: must be RFC3339"})
			return
		}
		filters.StartDate = &t
	}
	if v := c.Query("end_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid end_date: must be RFC3339"})
			return
		}
		filters.EndDate = &t
	}

	limit := defaultAuditPageSize
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		if n > maxAuditPageSize {
			n = maxAuditPageSize
		}
		limit = n
	}

	offset := 0
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offset"})
			return
		}
		offset = n
	}

	events, total, err := h.auditRepo.List(c.Request.Context(), filters, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query audit log: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}
