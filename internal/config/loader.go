// Package config provides typed access to settings persisted in the store.
package config

import (
	"strconv"
	"time"
)

// SettingsGetter is the slice of the settings DAO the loader needs.
type SettingsGetter interface {
	Get(key string) (string, error)
}

// Loader reads settings with fallback defaults.
type Loader struct {
	settings SettingsGetter
}

// NewLoader creates a loader over a settings source.
func NewLoader(settings SettingsGetter) *Loader {
	return &Loader{settings: settings}
}

// String retrieves a string setting, returning defaultVal if unset.
func (l *Loader) String(key, defaultVal string) string {
	if val, _ := l.settings.Get(key); val != "" {
		return val
	}
	return defaultVal
}

// Int retrieves an integer setting, returning defaultVal if unset or invalid.
func (l *Loader) Int(key string, defaultVal int) int {
	if val, _ := l.settings.Get(key); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			return v
		}
	}
	return defaultVal
}

// Bool retrieves a boolean setting, returning defaultVal if unset.
// Recognizes "true" as true, anything else as false.
func (l *Loader) Bool(key string, defaultVal bool) bool {
	if val, _ := l.settings.Get(key); val != "" {
		return val == "true"
	}
	return defaultVal
}

// Duration retrieves a duration setting, returning defaultVal if unset or
// invalid.
func (l *Loader) Duration(key string, defaultVal time.Duration) time.Duration {
	if val, _ := l.settings.Get(key); val != "" {
		if v, err := time.ParseDuration(val); err == nil {
			return v
		}
	}
	return defaultVal
}
