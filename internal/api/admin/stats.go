// stats.go implements the aggregated dashboard statistics handler.
package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
)

// StatsHandlers handles dashboard statistics requests
type StatsHandlers struct {
	db *sqlx.DB
}

// NewStatsHandlers creates a new stats handler
func NewStatsHandlers(database *sqlx.DB) *StatsHandlers {
	return &StatsHandlers{
		db: database,
	}
}

// DashboardStats represents the response for dashboard statistics
type DashboardStats struct {
	Keys           KeyStats           `json:"keys"`
	Accounts       AccountStats       `json:"accounts"`
	Assignments    AssignmentStats    `json:"assignments"`
	AuditEvents    int64              `json:"auditEvents"`
	RecentActivity []RecentAuditEntry `json:"recentActivity"`
}

// KeyTypeCount is a count of keys for a single key type.
type KeyTypeCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// KeyStats represents key-specific statistics
type KeyStats struct {
	Total   int64          `json:"total"`
	Waiting int64          `json:"waiting"`
	Active  int64          `json:"active"`
	Expired int64          `json:"expired"`
	ByType  []KeyTypeCount `json:"byType"`
}

// AccountStats represents account-specific statistics
type AccountStats struct {
	Total       int64 `json:"total"`
	Active      int64 `json:"active"`
	Deactivated int64 `json:"deactivated"`
	// ExpiringSoon counts active accounts expiring within 24 hours.
	ExpiringSoon int64 `json:"expiringSoon"`
}

// AssignmentStats represents assignment-specific statistics
type AssignmentStats struct {
	Active   int64 `json:"active"`
	Inactive int64 `json:"inactive"` // history rows awaiting the cleanup sweep
}

// RecentAuditEntry is one row of recent assignment activity.
type RecentAuditEntry struct {
	Action    string    `json:"action"`
	KeyCode   string    `json:"keyCode"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"createdAt"`
}

// @Summary      Get dashboard statistics
// @Description  Returns aggregated statistics for the admin dashboard: key counts by status and type, account health, assignment load, and recent audit activity.
// @Tags         Stats
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  DashboardStats
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/stats/dashboard [get]
// GetDashboardStats returns dashboard statistics using a single database round-trip.
func (h *StatsHandlers) GetDashboardStats(c *gin.Context) {
	ctx := c.Request.Context()

	// Core counts — single round-trip.
	query := `
		SELECT
			(SELECT COUNT(*) FROM access_keys) AS key_count,
			(SELECT COUNT(*) FROM access_keys WHERE status = 'waiting') AS waiting_count,
			(SELECT COUNT(*) FROM access_keys WHERE status = 'active') AS active_key_count,
			(SELECT COUNT(*) FROM access_keys WHERE status = 'expired') AS expired_count,
			(SELECT COUNT(*) FROM access_accounts) AS account_count,
			(SELECT COUNT(*) FROM access_accounts WHERE active) AS active_account_count,
			(SELECT COUNT(*) FROM access_accounts WHERE active AND expires_at <= NOW() + INTERVAL '24 hours') AS expiring_count,
			(SELECT COUNT(*) FROM assignments WHERE active) AS active_assignment_count,
			(SELECT COUNT(*) FROM assignments WHERE NOT active) AS inactive_assignment_count,
			(SELECT COUNT(*) FROM audit_events) AS audit_count
	`

	var stats DashboardStats

	err := h.db.QueryRowContext(ctx, query).Scan(
		&stats.Keys.Total,
		&stats.Keys.Waiting,
		&stats.Keys.Active,
		&stats.Keys.Expired,
		&stats.Accounts.Total,
		&stats.Accounts.Active,
		&stats.Accounts.ExpiringSoon,
		&stats.Assignments.Active,
		&stats.Assignments.Inactive,
		&stats.AuditEvents,
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load dashboard statistics"})
		return
	}
	stats.Accounts.Deactivated = stats.Accounts.Total - stats.Accounts.Active

	// Key breakdown by type — optional.
	stats.Keys.ByType = []KeyTypeCount{}
	if typeRows, typeErr := h.db.QueryContext(ctx, `
		SELECT key_type, COUNT(*) AS count
		FROM access_keys
		GROUP BY key_type
		ORDER BY count DESC
	`); typeErr == nil {
		defer typeRows.Close()
		for typeRows.Next() {
			var entry KeyTypeCount
			if scanErr := typeRows.Scan(&entry.Type, &entry.Count); scanErr == nil {
				stats.Keys.ByType = append(stats.Keys.ByType, entry)
			}
		}
	}

	// Recent assignment activity — last 8 audit entries, optional.
	stats.RecentActivity = []RecentAuditEntry{}
	if recentRows, recentErr := h.db.QueryContext(ctx, `
		SELECT e.action, COALESCE(k.code, '') AS key_code, e.actor, e.created_at
		FROM audit_events e
		LEFT JOIN access_keys k ON k.id = e.key_id
		ORDER BY e.created_at DESC
		LIMIT 8
	`); recentErr == nil {
		defer recentRows.Close()
		for recentRows.Next() {
			var entry RecentAuditEntry
			if scanErr := recentRows.Scan(&entry.Action, &entry.KeyCode, &entry.Actor, &entry.CreatedAt); scanErr == nil {
				stats.RecentActivity = append(stats.RecentActivity, entry)
			}
		}
	}

	c.JSON(http.StatusOK, stats)
}
