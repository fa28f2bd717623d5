package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/tunez/presence/internal/status"
	"github.com/tunez/presence/internal/ui"
)

// ErrInvalid wraps every semantic validation failure.
var ErrInvalid = errors.New("invalid config")

// Config holds tunez-presence runtime configuration loaded from TOML.
type Config struct {
	ConfigVersion     int             `toml:"config_version"`
	ShutdownTimeoutMS int             `toml:"shutdown_timeout_ms"`
	Presence          PresenceConfig  `toml:"presence"`
	RateLimit         RateLimitConfig `toml:"rate_limit"`
	Queue             QueueConfig     `toml:"queue"`
	Logging           LoggingConfig   `toml:"logging"`
	UI                UIConfig        `toml:"ui"`
	Sources           []Entry         `toml:"sources"`
	Sinks             []Entry         `toml:"sinks"`
}

// PresenceConfig controls how status lines are rendered.
type PresenceConfig struct {
	MaxBytes       int    `toml:"max_bytes"`
	MinArtistBytes int    `toml:"min_artist_bytes"`
	Separator      string `toml:"separator"`
	Placeholder    string `toml:"placeholder"`
}

// RateLimitConfig bounds how often a status is published.
type RateLimitConfig struct {
	Quota        int `toml:"quota"`
	IntervalSecs int `toml:"interval_secs"`
}

// QueueConfig sizes the pending-update queue.
type QueueConfig struct {
	Capacity int `toml:"capacity"`
}

type LoggingConfig struct {
	Level  string `toml:"level"` // debug, info, warn, error
	File   string `toml:"file"`
	Stderr bool   `toml:"stderr"`
}

type UIConfig struct {
	Theme string `toml:"theme"`
}

// Entry defines one source or sink.
type Entry struct {
	ID       string         `toml:"id"`
	Type     string         `toml:"type"`
	Enabled  bool           `toml:"enabled"`
	Settings map[string]any `toml:"settings"`
}

var (
	sourceTypes = []string{"mpv", "mpd", "mpris"}
	sinkTypes   = []string{"history", "mqtt", "nats", "lastfm"}
)

// Load reads configuration from disk. If path is empty, a default OS-specific
// location is used.
func Load(path string) (*Config, string, error) {
	cfgPath := path
	if cfgPath == "" {
		var err error
		cfgPath, err = DefaultPath()
		if err != nil {
			return nil, "", fmt.Errorf("resolve config path: %w", err)
		}
	}

	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, cfgPath, err
	}
	return cfg, cfgPath, nil
}

// Parse decodes TOML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Dir returns the platform configuration directory for tunez-presence.
func Dir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	if runtime.GOOS == "windows" {
		return filepath.Join(dir, "TunezPresence"), nil
	}
	return filepath.Join(dir, "tunez-presence"), nil
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	base, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "config.toml"), nil
}

func applyDefaults(cfg *Config) {
	if cfg.ConfigVersion == 0 {
		cfg.ConfigVersion = 1
	}
	if cfg.ShutdownTimeoutMS == 0 {
		cfg.ShutdownTimeoutMS = 5000
	}
	if cfg.Presence.MaxBytes == 0 {
		cfg.Presence.MaxBytes = status.DefaultMaxBytes
	}
	if cfg.Presence.MinArtistBytes == 0 {
		cfg.Presence.MinArtistBytes = status.DefaultMinArtistBytes
	}
	if cfg.Presence.Separator == "" {
		cfg.Presence.Separator = status.DefaultSeparator
	}
	if cfg.Presence.Placeholder == "" {
		cfg.Presence.Placeholder = status.DefaultPlaceholder
	}
	if cfg.RateLimit.Quota == 0 {
		cfg.RateLimit.Quota = 5
	}
	if cfg.RateLimit.IntervalSecs == 0 {
		cfg.RateLimit.IntervalSecs = 60
	}
	if cfg.Queue.Capacity == 0 {
		cfg.Queue.Capacity = 1
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.UI.Theme == "" {
		cfg.UI.Theme = "rainbow"
	}
	for i := range cfg.Sources {
		if cfg.Sources[i].ID == "" {
			cfg.Sources[i].ID = cfg.Sources[i].Type
		}
	}
	for i := range cfg.Sinks {
		if cfg.Sinks[i].ID == "" {
			cfg.Sinks[i].ID = cfg.Sinks[i].Type
		}
	}
}

// Validate performs semantic validation of config.
func Validate(cfg Config) error {
	if cfg.ConfigVersion != 1 {
		return fmt.Errorf("%w: unsupported config_version %d", ErrInvalid, cfg.ConfigVersion)
	}
	if cfg.ShutdownTimeoutMS < 0 {
		return fmt.Errorf("%w: shutdown_timeout_ms must not be negative", ErrInvalid)
	}
	if err := cfg.Formatter().Validate(); err != nil {
		return fmt.Errorf("%w: presence: %w", ErrInvalid, err)
	}
	if cfg.RateLimit.Quota < 1 {
		return fmt.Errorf("%w: rate_limit.quota must be at least 1", ErrInvalid)
	}
	if cfg.RateLimit.IntervalSecs < 1 {
		return fmt.Errorf("%w: rate_limit.interval_secs must be positive", ErrInvalid)
	}
	if cfg.Queue.Capacity < 1 {
		return fmt.Errorf("%w: queue.capacity must be at least 1", ErrInvalid)
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown logging.level %q", ErrInvalid, cfg.Logging.Level)
	}
	if !ui.HasTheme(cfg.UI.Theme) {
		return fmt.Errorf("%w: unknown ui.theme %q", ErrInvalid, cfg.UI.Theme)
	}

	enabled := 0
	if err := validateEntries("sources", cfg.Sources, sourceTypes, &enabled); err != nil {
		return err
	}
	if enabled == 0 {
		return fmt.Errorf("%w: no enabled sources", ErrInvalid)
	}
	if err := validateEntries("sinks", cfg.Sinks, sinkTypes, nil); err != nil {
		return err
	}
	return nil
}

func validateEntries(kind string, entries []Entry, types []string, enabled *int) error {
	seen := make(map[string]bool)
	for _, e := range entries {
		if seen[e.ID] {
			return fmt.Errorf("%w: duplicate %s id %q", ErrInvalid, kind, e.ID)
		}
		seen[e.ID] = true
		if !contains(types, e.Type) {
			return fmt.Errorf("%w: %s %q has unknown type %q", ErrInvalid, kind, e.ID, e.Type)
		}
		if !e.Enabled {
			continue
		}
		if enabled != nil {
			*enabled++
		}
		if err := validateSettings(e); err != nil {
			return fmt.Errorf("%w: %s %q: %w", ErrInvalid, kind, e.ID, err)
		}
	}
	return nil
}

func validateSettings(e Entry) error {
	var required []string
	switch e.Type {
	case "mpv":
		required = []string{"ipc"}
	case "mpd":
		required = []string{"address"}
	case "mqtt":
		required = []string{"broker", "topic"}
	case "nats":
		required = []string{"url", "subject"}
	case "lastfm":
		required = []string{"api_key", "api_secret"}
	}
	for _, key := range required {
		if e.String(key) == "" {
			return fmt.Errorf("%s.%s is required", e.Type, key)
		}
	}
	if q := e.Int("qos", 0); q < 0 || q > 2 {
		return fmt.Errorf("%s.qos must be 0-2", e.Type)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Formatter builds the status formatter from the presence section.
func (c Config) Formatter() status.Formatter {
	return status.Formatter{
		MaxBytes:       c.Presence.MaxBytes,
		MinArtistBytes: c.Presence.MinArtistBytes,
		Separator:      c.Presence.Separator,
		Placeholder:    c.Presence.Placeholder,
	}
}

// RateInterval returns the rate limit window.
func (c Config) RateInterval() time.Duration {
	return time.Duration(c.RateLimit.IntervalSecs) * time.Second
}

// ShutdownContext returns a context bounded by the shutdown grace period.
func (c Config) ShutdownContext() (context.Context, context.CancelFunc) {
	d := time.Duration(c.ShutdownTimeoutMS) * time.Millisecond
	if d == 0 {
		d = 5 * time.Second
	}
	return context.WithTimeout(context.Background(), d)
}

// EnabledSources returns the enabled source entries in file order.
func (c Config) EnabledSources() []Entry { return enabled(c.Sources) }

// EnabledSinks returns the enabled sink entries in file order.
func (c Config) EnabledSinks() []Entry { return enabled(c.Sinks) }

func enabled(entries []Entry) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Enabled {
			out = append(out, e)
		}
	}
	return out
}

// String returns a string setting, or "" when missing.
func (e Entry) String(key string) string {
	s, _ := e.Settings[key].(string)
	return strings.TrimSpace(s)
}

// Int returns an integer setting, or def when missing. TOML integers decode
// as int64.
func (e Entry) Int(key string, def int) int {
	switch v := e.Settings[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

// Bool returns a boolean setting, or def when missing.
func (e Entry) Bool(key string, def bool) bool {
	if v, ok := e.Settings[key].(bool); ok {
		return v
	}
	return def
}

// Strings returns a string-list setting.
func (e Entry) Strings(key string) []string {
	list, _ := e.Settings[key].([]any)
	var out []string
	for _, v := range list {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
