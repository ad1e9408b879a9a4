package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// AppConfig holds daemon-level configuration parsed from environment
// variables. User-facing engine settings live in Settings and are persisted
// separately; AppConfig only decides where files live and how the process
// runs.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// SettingsPath is the persisted settings document.
	SettingsPath string `koanf:"settings_path" validate:"required"`

	// BlocklistPath is the line-delimited blocked-domains file.
	BlocklistPath string `koanf:"blocklist_path" validate:"required"`

	// JournalPath is the bbolt quarantine journal database.
	JournalPath string `koanf:"journal_path" validate:"required"`

	// BlockLogPath and AlertLogPath are the append-only event logs.
	BlockLogPath string `koanf:"block_log_path" validate:"required"`
	AlertLogPath string `koanf:"alert_log_path" validate:"required"`

	// HostsPath overrides the platform hosts file location. Empty selects
	// the OS default.
	HostsPath string `koanf:"hosts_path"`

	// PollInterval is the service-guard polling interval in seconds.
	PollInterval int `koanf:"poll_interval" validate:"required,gte=1,lte=3600"`

	// CommandTimeout bounds every external OS invocation, in seconds.
	CommandTimeout int `koanf:"command_timeout" validate:"required,gte=1,lte=300"`

	// ScoreCacheSize sizes the URL-check decision cache. Zero disables it.
	ScoreCacheSize int `koanf:"score_cache_size" validate:"gte=0"`
}

// DEFAULT_APP_CONFIG defines the default daemon configuration.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:            "prod",
	SettingsPath:   "settings.json",
	BlocklistPath:  "blocked_sites.txt",
	JournalPath:    "shield.db",
	BlockLogPath:   "block_log.txt",
	AlertLogPath:   "service_alert_log.txt",
	HostsPath:      "",
	PollInterval:   10,
	CommandTimeout: 30,
	ScoreCacheSize: 1000,
}

// Interval returns the poll interval as a duration.
func (c *AppConfig) Interval() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

// Timeout returns the command timeout as a duration.
func (c *AppConfig) Timeout() time.Duration {
	return time.Duration(c.CommandTimeout) * time.Second
}

// envLoader loads environment variables with the prefix "SHIELD_",
// lowercasing keys and stripping the prefix. Overridable in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "SHIELD_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "SHIELD_"))
			return key, strings.TrimSpace(value)
		},
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG via the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// Load parses environment variables into an AppConfig, applying defaults and
// running validation.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
