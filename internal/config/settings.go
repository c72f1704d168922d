package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"cidrbans/internal/support"
)

// Config holds the runtime toggles that live in the settings file and may be
// changed while the service runs.
type Config struct {
	EnableIPBans    bool   `json:"enable_ip_bans"`
	DefaultReason   string `json:"default_reason"`
	PageSize        int    `json:"page_size"`
	CleanupSchedule string `json:"cleanup_schedule"`
	HTTPPort        int    `json:"http_port"`
}

const defaultSettingsFilePath = "data/settings.json"

var (
	//go:embed default_settings.json
	defaultConfig []byte

	configValue atomic.Value
	configMu    sync.Mutex
)

func init() {
	configValue.Store(Defaults())
}

// Defaults returns the embedded default settings.
func Defaults() Config {
	var cfg Config
	if err := json.Unmarshal(defaultConfig, &cfg); err != nil {
		panic(fmt.Sprintf("config: embedded defaults are invalid: %v", err))
	}
	return cfg
}

// SettingsPath is SETTINGS_PATH or data/settings.json.
func SettingsPath() string {
	return support.GetEnv("SETTINGS_PATH", defaultSettingsFilePath)
}

// ReadSettings loads the settings file, creating it from the defaults when it
// does not exist yet.
func ReadSettings() error {
	path := SettingsPath()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("config: read settings: %w", err)
		}

		log.Warn("Settings file not found, creating with default configuration", "path", path)
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, os.ModePerm); err != nil {
				return fmt.Errorf("config: create settings directory: %w", err)
			}
		}
		if err := os.WriteFile(path, defaultConfig, 0o644); err != nil {
			return fmt.Errorf("config: write default settings: %w", err)
		}
		data = defaultConfig
	}

	var newConfig Config
	if err := json.Unmarshal(data, &newConfig); err != nil {
		return fmt.Errorf("config: parse settings: %w", err)
	}

	if err := applyConfigUpdate(newConfig, configUpdateOptions{source: "file"}); err != nil {
		return err
	}

	log.Debug("Settings file loaded successfully", "path", path)
	return nil
}

// SetConfig validates, persists and broadcasts newConfig.
func SetConfig(newConfig Config) error {
	return applyConfigUpdate(newConfig, configUpdateOptions{persistToFile: true, broadcast: true, source: "local"})
}

func GetConfig() Config {
	return configValue.Load().(Config)
}

// Validate reports settings that cannot be applied.
func (c Config) Validate() error {
	var errs []error
	if c.PageSize < 0 {
		errs = append(errs, errors.New("page_size must not be negative"))
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("http_port %d is out of range", c.HTTPPort))
	}
	return errors.Join(errs...)
}

// normalize fills zero values from the defaults.
func (c Config) normalize() Config {
	defaults := Defaults()
	if strings.TrimSpace(c.DefaultReason) == "" {
		c.DefaultReason = defaults.DefaultReason
	}
	if c.PageSize == 0 {
		c.PageSize = defaults.PageSize
	}
	if strings.TrimSpace(c.CleanupSchedule) == "" {
		c.CleanupSchedule = defaults.CleanupSchedule
	}
	if c.HTTPPort == 0 {
		c.HTTPPort = defaults.HTTPPort
	}
	return c
}

type configUpdateOptions struct {
	persistToFile bool
	broadcast     bool
	source        string
}

func applyConfigUpdate(newConfig Config, opts configUpdateOptions) error {
	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("config: invalid settings from %s: %w", opts.source, err)
	}
	newConfig = newConfig.normalize()

	configMu.Lock()
	defer configMu.Unlock()

	configValue.Store(newConfig)

	var errs []error

	if opts.persistToFile {
		data, err := json.MarshalIndent(newConfig, "", "  ")
		if err != nil {
			errs = append(errs, err)
		} else if err := os.WriteFile(SettingsPath(), data, 0o644); err != nil {
			log.Error("Error writing new configuration to file", "error", err)
			errs = append(errs, err)
		}
	}

	if opts.broadcast {
		payload, err := json.Marshal(newConfig)
		if err != nil {
			errs = append(errs, err)
		} else if err := broadcastConfigUpdate(payload); err != nil {
			log.Error("Error broadcasting configuration update", "error", err)
			errs = append(errs, err)
		}
	}

	log.Debug("Configuration applied", "source", opts.source)
	return errors.Join(errs...)
}
