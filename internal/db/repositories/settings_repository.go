// settings_repository.go implements SettingsRepository over the
// system_settings key/value table. The rotation scheduler re-reads its
// settings from here at every tick, so admin changes apply without a restart.
package repositories

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/keypanel/keypanel/internal/db/models"
)

// Setting keys for the rotation scheduler.
const (
	SettingRotationEnabled               = "rotation.enabled"
	SettingRotationBeforeExpiryMinutes   = "rotation.before_expiry_minutes"
	SettingRotationCheckIntervalMinutes  = "rotation.check_interval_minutes"
	SettingRotationDeleteExpiredAccounts = "rotation.delete_expired_accounts"
)

// SettingsRepository handles persisted key/value configuration
type SettingsRepository struct {
	db *sqlx.DB
}

// NewSettingsRepository creates a new SettingsRepository
func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get returns the value for a key and whether it was present
func (r *SettingsRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.GetContext(ctx, &value, `SELECT value FROM system_settings WHERE key = $1`, key)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set upserts the value for a key
func (r *SettingsRepository) Set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO system_settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	_, err := r.db.ExecContext(ctx, query, key, value)
	return err
}

// LoadRotationSettings assembles the scheduler settings from individual rows,
// falling back to defaults for absent keys.
func (r *SettingsRepository) LoadRotationSettings(ctx context.Context) (models.RotationSettings, error) {
	settings := models.DefaultRotationSettings()

	if v, ok, err := r.Get(ctx, SettingRotationEnabled); err != nil {
		return settings, err
	} else if ok {
		settings.Enabled = v == "true"
	}

	if v, ok, err := r.Get(ctx, SettingRotationBeforeExpiryMinutes); err != nil {
		return settings, err
	} else if ok {
		if n, convErr := strconv.Atoi(v); convErr == nil && n > 0 {
			settings.BeforeExpiryMinutes = n
		}
	}

	if v, ok, err := r.Get(ctx, SettingRotationCheckIntervalMinutes); err != nil {
		return settings, err
	} else if ok {
		if n, convErr := strconv.Atoi(v); convErr == nil && n > 0 {
			settings.CheckIntervalMinutes = n
		}
	}

	if v, ok, err := r.Get(ctx, SettingRotationDeleteExpiredAccounts); err != nil {
		return settings, err
	} else if ok {
		settings.DeleteExpiredAccounts = v == "true"
	}

	return settings, nil
}

// SaveRotationSettings persists all scheduler settings
func (r *SettingsRepository) SaveRotationSettings(ctx context.Context, settings models.RotationSettings) error {
	pairs := map[string]string{
		SettingRotationEnabled:               strconv.FormatBool(settings.Enabled),
		SettingRotationBeforeExpiryMinutes:   strconv.Itoa(settings.BeforeExpiryMinutes),
		SettingRotationCheckIntervalMinutes:  strconv.Itoa(settings.CheckIntervalMinutes),
		SettingRotationDeleteExpiredAccounts: strconv.FormatBool(settings.DeleteExpiredAccounts),
	}
	for key, value := range pairs {
		if err := r.Set(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}
