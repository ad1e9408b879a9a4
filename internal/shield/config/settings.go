package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	logpkg "github.com/haukened/rr-shield/internal/shield/common/log"
	"github.com/haukened/rr-shield/internal/shield/domain"
)

// Settings is the user-facing engine configuration persisted as a JSON
// document. The key set is fixed; unknown keys in the file are ignored on
// load and missing keys take the documented defaults.
//
// Numeric ranges are enforced by validation before any save: out-of-range
// values are rejected, never clamped.
type Settings struct {
	CustomBlockedSites []string `koanf:"custom_blocked_sites"`
	Theme              string   `koanf:"theme"`
	Autostart          bool     `koanf:"autostart"`
	Notifications      bool     `koanf:"notifications"`
	SoundAlerts        bool     `koanf:"sound_alerts"`
	RealtimeProtection bool     `koanf:"realtime_protection"`
	AutoUpdates        bool     `koanf:"auto_updates"`
	ScanFrequency      string   `koanf:"scan_frequency" validate:"required,oneof=Hourly Daily Weekly Monthly"`
	AutoQuarantine     bool     `koanf:"auto_quarantine"`
	LogLevel           string   `koanf:"log_level" validate:"required,oneof=DEBUG INFO WARNING ERROR"`
	CPULimit           int      `koanf:"cpu_limit" validate:"required,gte=10,lte=100"`
	MemoryLimit        int      `koanf:"memory_limit" validate:"required,gte=128,lte=2048"`
}

// DEFAULT_SETTINGS defines the default engine settings applied when the
// settings file is missing or unreadable.
var DEFAULT_SETTINGS = Settings{
	CustomBlockedSites: []string{},
	Theme:              "dark",
	Autostart:          true,
	Notifications:      true,
	SoundAlerts:        true,
	RealtimeProtection: true,
	AutoUpdates:        true,
	ScanFrequency:      "Daily",
	AutoQuarantine:     true,
	LogLevel:           "INFO",
	CPULimit:           50,
	MemoryLimit:        512,
}

// Validate checks ranges and enumerations. Returns ErrSettingsValidation
// (wrapped with field detail) on the first violation.
func (s *Settings) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSettingsValidation, err)
	}
	return nil
}

// LoadSettings reads the settings document at path, layered over defaults.
//
// A missing file applies defaults silently (first run). An unreadable or
// malformed file is non-fatal: a warning is logged and the defaults are
// returned. A file that parses but fails validation is a hard error
// (ErrSettingsValidation) so a bad document is never silently accepted.
func LoadSettings(path string, logger logpkg.Logger) (*Settings, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DEFAULT_SETTINGS, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("error loading default settings: %w", err)
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// first run, defaults apply
	case err != nil:
		logger.Warn(map[string]any{"path": path, "error": err.Error()}, "settings_unreadable_using_defaults")
	default:
		if err := k.Load(rawbytes.Provider(raw), json.Parser()); err != nil {
			logger.Warn(map[string]any{"path": path, "error": err.Error()}, "settings_malformed_using_defaults")
			k = koanf.New(".")
			if err := k.Load(structs.Provider(DEFAULT_SETTINGS, "koanf"), nil); err != nil {
				return nil, fmt.Errorf("error loading default settings: %w", err)
			}
		}
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return nil, fmt.Errorf("error unmarshalling settings: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return &s, nil
}

// SaveSettings validates s and writes the full document to path. Write
// failures surface as ErrPersistence.
func SaveSettings(path string, s *Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(*s, "koanf"), nil); err != nil {
		return fmt.Errorf("error staging settings: %w", err)
	}

	out, err := k.Marshal(json.Parser())
	if err != nil {
		return fmt.Errorf("error marshalling settings: %w", err)
	}

	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("%w: writing %s: %v", domain.ErrPersistence, path, err)
	}
	return nil
}
