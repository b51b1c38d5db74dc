// Package api wires together all HTTP routes for the keypanel backend.
//
// Route grouping philosophy:
//   - /health, /ready, and /version are unauthenticated so that load balancers
//     and Kubernetes probes can reach them without credentials.
//   - Everything under /api/v1 is the admin panel surface: rate limited and,
//     unless auth is explicitly disabled for local development, guarded by the
//     static admin token.
package api

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"

	"github.com/keypanel/keypanel/internal/api/admin"
	"github.com/keypanel/keypanel/internal/audit"
	"github.com/keypanel/keypanel/internal/config"
	"github.com/keypanel/keypanel/internal/crypto"
	"github.com/keypanel/keypanel/internal/db/repositories"
	"github.com/keypanel/keypanel/internal/middleware"
	"github.com/keypanel/keypanel/internal/rotation"
	"github.com/keypanel/keypanel/internal/services"
)

// cleanupCronSpec schedules the nightly sweep of expired accounts and stale
// assignment rows, independent of the rotation tick cycle.
const cleanupCronSpec = "30 3 * * *"

// BackgroundServices holds references to background goroutines and resources
// that must be stopped during graceful shutdown. The caller (cmd/server) is
// responsible for calling Shutdown() when the process receives a termination
// signal.
type BackgroundServices struct {
	scheduler       *rotation.Scheduler
	schedulerCancel context.CancelFunc
	cleanupCron     *cron.Cron
	rateLimiter     middleware.Limiter
	auditShipper    audit.Shipper
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.cleanupCron != nil {
		bg.cleanupCron.Stop()
	}
	if bg.scheduler != nil {
		bg.scheduler.Stop()
	}
	if bg.schedulerCancel != nil {
		bg.schedulerCancel()
	}
	if bg.rateLimiter != nil {
		bg.rateLimiter.Stop()
	}
	if bg.auditShipper != nil {
		if err := bg.auditShipper.Close(); err != nil {
			slog.Warn("audit shipper close failed", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Initialize repositories
	keyRepo := repositories.NewKeyRepository(db)
	accountRepo := repositories.NewAccountRepository(db)
	assignmentRepo := repositories.NewAssignmentRepository(db)
	auditRepo := repositories.NewAuditRepository(db)

	// Wrap *sql.DB with sqlx for the settings and stats layers
	sqlxDB := sqlx.NewDb(db, "postgres")
	settingsRepo := repositories.NewSettingsRepository(sqlxDB)

	// Seed the persisted rotation settings from the config file on first boot
	// only. After that, the settings stored by the admin win.
	seedRotationSettings(settingsRepo, cfg)

	// Get encryption key from environment for account credential encryption
	encryptionKey := os.Getenv("ENCRYPTION_KEY")
	if encryptionKey == "" {
		log.Fatal("ENCRYPTION_KEY environment variable must be set for credential storage")
	}

	credentialCipher, err := crypto.NewCredentialCipher([]byte(encryptionKey))
	if err != nil {
		log.Fatalf("Failed to initialize credential cipher: %v", err)
	}

	// Assemble the rotation engine
	ledger := services.NewLedger(db)

	// Mirror committed audit events to external destinations when configured.
	auditShipper := buildAuditShipper(cfg)
	if auditShipper != nil {
		ledger.SetShipper(auditShipper)
	}

	selector := rotation.NewSelector(accountRepo)
	executor := rotation.NewExecutor(db, ledger)
	queue := rotation.NewQueue(selector, executor)
	lifecycle := rotation.NewLifecycle(accountRepo, assignmentRepo, auditRepo)
	scheduler := rotation.NewScheduler(settingsRepo, accountRepo, keyRepo, assignmentRepo, queue, lifecycle)

	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	go scheduler.Start(schedulerCtx)
	log.Println("Rotation scheduler started")

	// Nightly cleanup sweep, in addition to the per-tick sweep the scheduler
	// performs when delete_expired_accounts is on.
	cleanupCron := cron.New()
	if _, err := cleanupCron.AddFunc(cleanupCronSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		summary, err := scheduler.ForceCleanup(ctx)
		if err != nil {
			slog.Error("nightly cleanup sweep failed", "error", err)
			return
		}
		slog.Info("nightly cleanup sweep finished",
			"examined", summary.Examined,
			"deleted", summary.Deleted,
			"deactivated", summary.Deactivated,
			"purged_assignments", summary.PurgedAssignments)
	}); err != nil {
		log.Fatalf("Failed to schedule cleanup cron: %v", err)
	}
	cleanupCron.Start()
	log.Printf("Cleanup cron started (%s)", cleanupCronSpec)

	// Rate limiter: Redis-backed when an address is configured so the budget
	// spans replicas, in-memory token bucket otherwise.
	rlConfig := middleware.RateLimitConfig{
		RequestsPerMinute: cfg.Security.RateLimiting.RequestsPerMinute,
		BurstSize:         cfg.Security.RateLimiting.Burst,
		CleanupInterval:   5 * time.Minute,
	}
	var rateLimiter middleware.Limiter
	if cfg.Security.RateLimiting.RedisAddr != "" {
		rateLimiter = middleware.NewRedisLimiter(
			cfg.Security.RateLimiting.RedisAddr,
			cfg.Security.RateLimiting.RedisPassword,
			cfg.Security.RateLimiting.RedisDB,
			rlConfig,
		)
		log.Printf("Rate limiting backed by Redis at %s", cfg.Security.RateLimiting.RedisAddr)
	} else {
		rateLimiter = middleware.NewMemoryLimiter(rlConfig)
	}

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// Readiness check endpoint (includes settings table probe)
	router.GET("/ready", readinessHandler(db, settingsRepo))

	// API version
	router.GET("/version", versionHandler())

	// Initialize admin handlers
	keyHandlers := admin.NewKeyHandlers(keyRepo, assignmentRepo)
	accountHandlers := admin.NewAccountHandlers(accountRepo, assignmentRepo, auditRepo, credentialCipher)
	assignmentHandlers := admin.NewAssignmentHandlers(ledger)
	rotationHandlers := admin.NewRotationHandlers(scheduler)
	auditHandlers := admin.NewAuditHandlers(auditRepo)
	statsHandlers := admin.NewStatsHandlers(sqlxDB)

	// Admin API endpoints
	apiV1 := router.Group("/api/v1")
	if cfg.Security.RateLimiting.Enabled {
		apiV1.Use(middleware.RateLimitMiddleware(rateLimiter, rlConfig))
	}
	if cfg.Auth.Enabled {
		apiV1.Use(middleware.AdminTokenMiddleware(cfg.Auth.AdminTokenHash))
	} else {
		log.Println("WARNING: admin token auth is disabled; the panel is open")
	}
	{
		// Access keys
		keysGroup := apiV1.Group("/keys")
		{
			keysGroup.POST("", keyHandlers.CreateKey)
			keysGroup.GET("", keyHandlers.ListKeys)
			keysGroup.GET("/:id", keyHandlers.GetKey)
			keysGroup.DELETE("/:id", keyHandlers.DeleteKey)
			keysGroup.POST("/:id/expire", keyHandlers.ExpireKey)
			keysGroup.GET("/:id/assignments", keyHandlers.ListKeyAssignments)
		}

		// Access accounts
		accountsGroup := apiV1.Group("/accounts")
		{
			accountsGroup.POST("", accountHandlers.CreateAccount)
			accountsGroup.GET("", accountHandlers.ListAccounts)
			accountsGroup.GET("/:id", accountHandlers.GetAccount)
			accountsGroup.DELETE("/:id", accountHandlers.DeleteAccount)
			accountsGroup.GET("/:id/credential", accountHandlers.RevealCredential)
			accountsGroup.GET("/:id/assignments", accountHandlers.ListAccountAssignments)
		}

		// Assignments
		apiV1.POST("/assignments", assignmentHandlers.CreateAssignment)
		apiV1.DELETE("/assignments/:account_id/:key_id", assignmentHandlers.RemoveAssignment)

		// Rotation scheduler
		rotationGroup := apiV1.Group("/rotation")
		{
			rotationGroup.POST("/run", rotationHandlers.TriggerRun)
			rotationGroup.GET("/status", rotationHandlers.GetStatus)
			rotationGroup.PUT("/settings", rotationHandlers.UpdateSettings)
			rotationGroup.POST("/cleanup", rotationHandlers.ForceCleanup)
		}

		// Audit log
		apiV1.GET("/audit", auditHandlers.ListEvents)

		// Dashboard stats
		apiV1.GET("/stats/dashboard", statsHandlers.GetDashboardStats)
	}

	bg := &BackgroundServices{
		scheduler:       scheduler,
		schedulerCancel: schedulerCancel,
		cleanupCron:     cleanupCron,
		rateLimiter:     rateLimiter,
		auditShipper:    auditShipper,
	}

	return router, bg
}

// buildAuditShipper assembles the external audit destinations from config.
// Returns nil when no destination is configured.
func buildAuditShipper(cfg *config.Config) audit.Shipper {
	var shippers []audit.Shipper

	if cfg.Audit.LogFile != "" {
		fs, err := audit.NewFileShipper(&audit.FileConfig{
			Path:       cfg.Audit.LogFile,
			MaxSizeMB:  100,
			MaxBackups: 5,
		})
		if err != nil {
			log.Fatalf("Failed to open audit log file: %v", err)
		}
		shippers = append(shippers, fs)
		log.Printf("Shipping audit events to file %s", cfg.Audit.LogFile)
	}

	if cfg.Audit.WebhookURL != "" {
		ws, err := audit.NewWebhookShipper(&audit.WebhookConfig{
			URL:     cfg.Audit.WebhookURL,
			Timeout: 10 * time.Second,
		})
		if err != nil {
			log.Fatalf("Failed to configure audit webhook: %v", err)
		}
		shippers = append(shippers, ws)
		log.Printf("Shipping audit events to webhook %s", cfg.Audit.WebhookURL)
	}

	if len(shippers) == 0 {
		return nil
	}
	if len(shippers) == 1 {
		return shippers[0]
	}
	return audit.NewMultiShipper(shippers...)
}

// seedRotationSettings writes the config-file rotation defaults into
// system_settings, but only when no admin has ever touched them.
func seedRotationSettings(settingsRepo *repositories.SettingsRepository, cfg *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, present, err := settingsRepo.Get(ctx, repositories.SettingRotationEnabled)
	if err != nil {
		log.Printf("Failed to read rotation settings, skipping seed: %v", err)
		return
	}
	if present {
		return
	}

	seed := map[string]string{
		repositories.SettingRotationEnabled:               strconv.FormatBool(cfg.Rotation.Enabled),
		repositories.SettingRotationBeforeExpiryMinutes:   strconv.Itoa(cfg.Rotation.BeforeExpiryMinutes),
		repositories.SettingRotationCheckIntervalMinutes:  strconv.Itoa(cfg.Rotation.CheckIntervalMinutes),
		repositories.SettingRotationDeleteExpiredAccounts: strconv.FormatBool(cfg.Rotation.DeleteExpiredAccounts),
	}
	for key, value := range seed {
		if err := settingsRepo.Set(ctx, key, value); err != nil {
			log.Printf("Failed to seed setting %s: %v", key, err)
			return
		}
	}
	log.Println("Seeded rotation settings from config file")
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check database connection
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks database connectivity and the settings table.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error: database not ready"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service.
// Unlike the liveness probe (/health), this also reads the rotation settings so
// that a Kubernetes readiness gate fails when migrations have not been applied.
func readinessHandler(db *sql.DB, settingsRepo *repositories.SettingsRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		// Check database connection
		if err := db.Ping(); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		// Probe the settings table; fails before migrations have run.
		if _, err := settingsRepo.LoadRotationSettings(c.Request.Context()); err != nil {
			checks["settings"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "settings table not ready",
			})
			return
		}
		checks["settings"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the current API version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		logRequest(c, latency, path, query)
	}
}

// logRequest logs a request through the global slog handler; the output format
// (JSON or text) follows whatever telemetry.SetupLogger installed.
func logRequest(c *gin.Context, latency time.Duration, path, query string) {
	requestID, _ := c.Get(middleware.RequestIDKey)
	slog.LogAttrs(
		c.Request.Context(),
		slog.LevelInfo,
		"http request",
		slog.String("method", c.Request.Method),
		slog.String("path", path),
		slog.String("query", query),
		slog.Int("status", c.Writer.Status()),
		slog.Int("size", c.Writer.Size()),
		slog.Duration("latency", latency),
		slog.String("ip", c.ClientIP()),
		slog.Any("request_id", requestID),
		slog.String("user_agent", c.Request.UserAgent()),
	)
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Check if origin is allowed
		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
