package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "tok")
	t.Setenv("VOICE_CHANNEL_PATTERNS", "Gaming, Study Room ,,")
	t.Setenv("DISCORD_GUILDS", "1,2")
	t.Setenv("MAX_CONCURRENT_CALLS", "4")
	t.Setenv("DRY_RUN", "true")

	cfg := LoadConfig()
	assert.Equal(t, "tok", cfg.Token)
	assert.Equal(t, []string{"Gaming", "Study Room"}, cfg.Patterns)
	assert.Equal(t, []string{"1", "2"}, cfg.Guilds)
	assert.Equal(t, 4, cfg.MaxConcurrentCalls)
	assert.True(t, cfg.DryRun)
}

func TestLoadConfigFromMap(t *testing.T) {
	cfg := LoadConfigFromMap(map[string]any{
		"token":                "abc",
		"patterns":             []any{"Gaming", " Squad{1,2} "},
		"guilds":               "10, 20",
		"max_concurrent_calls": 3,
		"dry_run":              "TRUE",
		"log_level":            "debug",
		"http_addr":            ":9090",
	})
	assert.Equal(t, "abc", cfg.Token)
	assert.Equal(t, []string{"Gaming", "Squad{1,2}"}, cfg.Patterns)
	assert.Equal(t, []string{"10", "20"}, cfg.Guilds)
	assert.Equal(t, 3, cfg.MaxConcurrentCalls)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
}

func TestMergeConfig(t *testing.T) {
	primary := Config{Patterns: []string{"Gaming"}}
	fallback := Config{Token: "env", Patterns: []string{"Other"}, DryRun: true, HTTPAddr: ":1"}

	out := MergeConfig(primary, fallback)
	assert.Equal(t, "env", out.Token)
	assert.Equal(t, []string{"Gaming"}, out.Patterns)
	assert.True(t, out.DryRun)
	assert.Equal(t, ":1", out.HTTPAddr)
}

func TestMergeConfigMap(t *testing.T) {
	fallback := ConfigMap{"core": {"token": "env", "http_addr": ":1"}, "webhook": {"url": ""}}
	primary := ConfigMap{"core": {"http_addr": ":2"}, "coolboard": {"minimum_reactions": 5}}

	out := MergeConfigMap(primary, fallback)
	assert.Equal(t, "env", out["core"]["token"])
	assert.Equal(t, ":2", out["core"]["http_addr"])
	assert.Equal(t, 5, out["coolboard"]["minimum_reactions"])
	assert.Contains(t, out, "webhook")
	assert.Equal(t, ":1", fallback["core"]["http_addr"], "fallback must not be mutated")
}

func TestLoad_FileOverridesEnv(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "env-token")
	t.Setenv("VOICE_CHANNEL_PATTERNS", "FromEnv")
	t.Setenv("NOTIFY_WEBHOOK_URL", "http://env.example")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
core:
  patterns:
    - Gaming
    - Study
  http_addr: ":8080"
webhook:
  subscribe: [pool_channel_created]
`), 0o644))

	cfg, cfgMap, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Token)
	assert.Equal(t, []string{"Gaming", "Study"}, cfg.Patterns)
	assert.Equal(t, ":8080", cfgMap["core"]["http_addr"])
	assert.Equal(t, "http://env.example", cfgMap["webhook"]["url"])
	assert.Equal(t, []any{"pool_channel_created"}, cfgMap["webhook"]["subscribe"])
}

func TestLoad_MissingFileUsesEnv(t *testing.T) {
	t.Setenv("VOICE_CHANNEL_PATTERNS", "Gaming")
	cfg, cfgMap, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Gaming"}, cfg.Patterns)
	assert.Contains(t, cfgMap, "core")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("core: [unterminated"), 0o644))
	_, _, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Config{Token: "t", Patterns: []string{"Gaming"}}.Validate())
	assert.NoError(t, Config{TokenSecret: "projects/p/secrets/s/versions/latest", Patterns: []string{"Gaming"}}.Validate())

	err := Config{MaxConcurrentCalls: -1, LogLevel: "loud"}.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "DISCORD_TOKEN")
	assert.ErrorContains(t, err, "VOICE_CHANNEL_PATTERNS")
	assert.ErrorContains(t, err, "max_concurrent_calls")
	assert.ErrorContains(t, err, "loud")
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadConfigMapFromEnv_PluginSections(t *testing.T) {
	t.Setenv("COOLBOARD_CHANNEL_PATTERN", "cool-.*")
	t.Setenv("COOLBOARD_MIN_REACTIONS", "3")
	t.Setenv("NOTIFY_WEBHOOK_EVENTS", "pool_channel_created")
	t.Setenv("WEBHOOK_TOKEN", "tok")
	t.Setenv("NOTIFY_PUSHOVER_USER", "user-key")
	t.Setenv("NOTIFY_PUSHOVER_EVENTS", "pool_*")

	m := LoadConfigMapFromEnv()
	assert.Equal(t, "cool-.*", m["coolboard"]["board_channel_pattern"])
	assert.Equal(t, 3, m["coolboard"]["minimum_reactions"])
	assert.Equal(t, "pool_channel_created", m["webhook"]["subscribe"])
	assert.Equal(t, "tok", m["webhook_trigger"]["token"])
	assert.Equal(t, "user-key", m["pushover"]["user"])
	assert.Equal(t, "pool_*", m["pushover"]["subscribe"])
}
