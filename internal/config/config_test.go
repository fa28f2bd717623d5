package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunez/presence/internal/status"
)

const sample = `
config_version = 1

[rate_limit]
quota = 3
interval_secs = 30

[[sources]]
type = "mpv"
enabled = true
settings = { ipc = "/tmp/mpv.sock" }

[[sources]]
id = "mpd"
type = "mpd"
enabled = false

[[sinks]]
id = "bus"
type = "mqtt"
enabled = true
settings = { broker = "localhost:1883", topic = "presence/now", qos = 1, retain = false }
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	cfg, gotPath, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, gotPath)

	assert.Equal(t, 5000, cfg.ShutdownTimeoutMS)
	assert.Equal(t, status.Default(), cfg.Formatter())
	assert.Equal(t, 3, cfg.RateLimit.Quota)
	assert.Equal(t, 30*time.Second, cfg.RateInterval())
	assert.Equal(t, 1, cfg.Queue.Capacity)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "rainbow", cfg.UI.Theme)

	sources := cfg.EnabledSources()
	require.Len(t, sources, 1)
	assert.Equal(t, "mpv", sources[0].ID, "id defaults to type")
	assert.Equal(t, "/tmp/mpv.sock", sources[0].String("ipc"))

	sinks := cfg.EnabledSinks()
	require.Len(t, sinks, 1)
	assert.Equal(t, 1, sinks[0].Int("qos", 0))
	assert.False(t, sinks[0].Bool("retain", true))
	assert.Equal(t, 7, sinks[0].Int("missing", 7))
}

func TestLoadMissingFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseRejectsBadTOML(t *testing.T) {
	_, err := Parse([]byte("config_version = ["))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg := Config{
			Sources: []Entry{{ID: "mpris", Type: "mpris", Enabled: true}},
		}
		applyDefaults(&cfg)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"bad version", func(c *Config) { c.ConfigVersion = 2 }, true},
		{"zero quota", func(c *Config) { c.RateLimit.Quota = -1 }, true},
		{"zero interval", func(c *Config) { c.RateLimit.IntervalSecs = -5 }, true},
		{"zero capacity", func(c *Config) { c.Queue.Capacity = -1 }, true},
		{"budget too small", func(c *Config) { c.Presence.MaxBytes = 20 }, true},
		{"artist floor below ellipsis", func(c *Config) { c.Presence.MinArtistBytes = 2 }, true},
		{"unknown level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"unknown theme", func(c *Config) { c.UI.Theme = "plaid" }, true},
		{"no enabled sources", func(c *Config) { c.Sources[0].Enabled = false }, true},
		{"unknown source type", func(c *Config) { c.Sources[0].Type = "winamp" }, true},
		{"duplicate sink ids", func(c *Config) {
			c.Sinks = []Entry{{ID: "h", Type: "history", Enabled: true}, {ID: "h", Type: "history"}}
		}, true},
		{"mqtt without topic", func(c *Config) {
			c.Sinks = []Entry{{ID: "m", Type: "mqtt", Enabled: true, Settings: map[string]any{"broker": "b:1883"}}}
		}, true},
		{"bad qos", func(c *Config) {
			c.Sinks = []Entry{{ID: "m", Type: "mqtt", Enabled: true, Settings: map[string]any{"broker": "b", "topic": "t", "qos": int64(3)}}}
		}, true},
		{"disabled sink is not checked", func(c *Config) {
			c.Sinks = []Entry{{ID: "n", Type: "nats", Enabled: false}}
		}, false},
		{"lastfm needs keys", func(c *Config) {
			c.Sinks = []Entry{{ID: "l", Type: "lastfm", Enabled: true, Settings: map[string]any{"api_key": "k"}}}
		}, true},
		{"mpd needs address", func(c *Config) {
			c.Sources = append(c.Sources, Entry{ID: "mpd", Type: "mpd", Enabled: true})
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStrings(t *testing.T) {
	e := Entry{Settings: map[string]any{"ignore": []any{"firefox", "", 3, "chromium"}}}
	assert.Equal(t, []string{"firefox", "chromium"}, e.Strings("ignore"))
	assert.Nil(t, e.Strings("missing"))
}

func TestShutdownContext(t *testing.T) {
	cfg := Config{ShutdownTimeoutMS: 50}
	ctx, cancel := cfg.ShutdownContext()
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 40*time.Millisecond)
}
