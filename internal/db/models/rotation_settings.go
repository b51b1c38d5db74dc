package models

import "time"

// Defaults for the rotation scheduler settings when the corresponding
// system_settings rows are absent.
const (
	DefaultBeforeExpiryMinutes  = 300
	DefaultCheckIntervalMinutes = 30
)

// RotationSettings is the persisted scheduler configuration, stored as
// individual rows in system_settings and re-read at every tick so changes
// apply without a restart.
type RotationSettings struct {
	Enabled               bool `json:"enabled"`
	BeforeExpiryMinutes   int  `json:"beforeExpiryMinutes"`
	CheckIntervalMinutes  int  `json:"checkIntervalMinutes"`
	DeleteExpiredAccounts bool `json:"deleteExpiredAccounts"`
}

// BeforeExpiry returns the scan window as a duration.
func (s RotationSettings) BeforeExpiry() time.Duration {
	return time.Duration(s.BeforeExpiryMinutes) * time.Minute
}

// CheckInterval returns the tick interval as a duration.
func (s RotationSettings) CheckInterval() time.Duration {
	return time.Duration(s.CheckIntervalMinutes) * time.Minute
}

// DefaultRotationSettings returns the settings used before any admin has
// touched the scheduler configuration.
func DefaultRotationSettings() RotationSettings {
	return RotationSettings{
		Enabled:               true,
		BeforeExpiryMinutes:   DefaultBeforeExpiryMinutes,
		CheckIntervalMinutes:  DefaultCheckIntervalMinutes,
		DeleteExpiredAccounts: true,
	}
}
