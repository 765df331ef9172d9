package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	envConfigPath = "CLICKTODIAL_CONFIG"
	envPrefix     = "CLICKTODIAL"

	TargetWebExtension = "webext"
	TargetElectron     = "electron"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Hub       HubConfig       `mapstructure:"hub"`
	Dialer    DialerConfig    `mapstructure:"dialer"`
	VoIP      VoIPConfig      `mapstructure:"voip"`
	Storage   StorageConfig   `mapstructure:"storage"`
	I18n      I18nConfig      `mapstructure:"i18n"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// RuntimeConfig describes what the contexts run inside of.
type RuntimeConfig struct {
	Target string `mapstructure:"target" validate:"oneof=webext electron"`
}

// Extension reports whether the code runs as an installed browser extension.
func (c RuntimeConfig) Extension() bool {
	return c.Target == TargetWebExtension
}

// HubConfig configures the background context's message hub.
type HubConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`
	// URL is what non-background contexts dial. Derived from Host and Port
	// when empty.
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// Addr returns the hub bind address.
func (c HubConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PortURL returns the websocket URL of the hub's message port.
func (c HubConfig) PortURL() string {
	if url := strings.TrimSpace(c.URL); url != "" {
		return url
	}

	host := c.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("ws://%s:%d/port", host, c.Port)
}

// DialerConfig configures click-to-dial behavior.
type DialerConfig struct {
	ClickToDial        bool `mapstructure:"click_to_dial"`
	PollIntervalMS     int  `mapstructure:"poll_interval_ms" validate:"min=100"`
	DialTimeoutSeconds int  `mapstructure:"dial_timeout_seconds" validate:"min=1"`
	// BlockedURLs are glob patterns of pages that never get icons.
	BlockedURLs []string `mapstructure:"blocked_urls"`
}

func (c DialerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c DialerConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutSeconds) * time.Second
}

// VoIPConfig configures the calling backend client.
type VoIPConfig struct {
	BaseURL               string `mapstructure:"base_url" validate:"omitempty,url"`
	Username              string `mapstructure:"username"`
	Token                 string `mapstructure:"token"`
	TokenEnv              string `mapstructure:"token_env"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds" validate:"min=0"`
}

// ResolvedToken returns Token, or the value of TokenEnv when Token is empty.
func (c VoIPConfig) ResolvedToken() string {
	if token := strings.TrimSpace(c.Token); token != "" {
		return token
	}
	if env := strings.TrimSpace(c.TokenEnv); env != "" {
		return strings.TrimSpace(os.Getenv(env))
	}

	return ""
}

// StorageConfig configures durable state storage of the background context.
type StorageConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// I18nConfig selects the display language.
type I18nConfig struct {
	Language string `mapstructure:"language"`
}

// AnalyticsConfig toggles usage tracking.
type AnalyticsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `mapstructure:"format" validate:"omitempty,oneof=text json"`
	Level     string `mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`
	AddSource bool   `mapstructure:"add_source"`
	// File routes log output to a rotating file instead of stderr.
	File string `mapstructure:"file"`
}

// LoadConfig resolves config.json, applies defaults and CLICKTODIAL_*
// environment overrides, and validates the result. A missing config file is
// fine unless CLICKTODIAL_CONFIG names one.
func LoadConfig() (*Config, error) {
	v := newViper()

	configPath, err := findConfigPath()
	switch {
	case err == nil:
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	case errors.Is(err, errConfigNotFound):
	default:
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.Dialer.BlockedURLs = compact(cfg.Dialer.BlockedURLs)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("json")

	v.SetDefault("runtime.target", TargetWebExtension)
	v.SetDefault("hub.host", "127.0.0.1")
	v.SetDefault("hub.port", 18791)
	v.SetDefault("hub.url", "")
	v.SetDefault("dialer.click_to_dial", true)
	v.SetDefault("dialer.poll_interval_ms", 1000)
	v.SetDefault("dialer.dial_timeout_seconds", 15)
	v.SetDefault("dialer.blocked_urls", []string{})
	v.SetDefault("voip.base_url", "")
	v.SetDefault("voip.username", "")
	v.SetDefault("voip.token", "")
	v.SetDefault("voip.token_env", "CLICKTODIAL_VOIP_TOKEN")
	v.SetDefault("voip.request_timeout_seconds", 10)
	v.SetDefault("storage.path", defaultStoragePath())
	v.SetDefault("i18n.language", "en")
	v.SetDefault("analytics.enabled", true)
	v.SetDefault("logging.format", "")
	v.SetDefault("logging.level", "")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.file", "")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Validate checks field constraints of cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}

	if err := validator.New().Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			first := fieldErrs[0]
			return fmt.Errorf("invalid config %s: failed %q rule", first.Namespace(), first.Tag())
		}
		return fmt.Errorf("validate config: %w", err)
	}

	return nil
}

func defaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".", "clicktodial.db")
	}

	return filepath.Join(home, ".local", "share", "clicktodial", "state.db")
}

// compact trims values and drops empty ones.
func compact(values []string) []string {
	clean := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

var errConfigNotFound = errors.New("config.json not found")

// findConfigPath resolves the active config file location.
//
// Precedence is CLICKTODIAL_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", errConfigNotFound
}
