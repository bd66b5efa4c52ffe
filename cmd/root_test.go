package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mywio/voice-pool/pkg/config"
)

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "voice-pool", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.True(t, rootCmd.SilenceUsage)
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("log-level"))
}

func TestVersionCommand(t *testing.T) {
	original := rootCmd.Version
	defer func() { rootCmd.Version = original }()
	SetVersion("1.2.3-test")

	versionCmd := newVersionCmd()
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)
	assert.Equal(t, "voice-pool version 1.2.3-test\n", buf.String())
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func runValidate(t *testing.T, path string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"validate", "--config", path, "--log-level", ""})
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	}()
	err := rootCmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "super-secret-token")
	path := writeConfig(t, `
core:
  patterns: [Gaming, "Squad [A-C]"]
  guilds: ["123"]
  http_addr: ":8080"
`)
	out, err := runValidate(t, path)
	require.NoError(t, err)
	assert.Contains(t, out, "groups:     Gaming, Squad [A-C]")
	assert.Contains(t, out, "guilds:     123")
	assert.Contains(t, out, "http_addr:  :8080")
	assert.Contains(t, out, "configuration OK")
	assert.NotContains(t, out, "super-secret-token")
}

func TestValidateCommand_Errors(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("DISCORD_TOKEN_SECRET", "")
	_, err := runValidate(t, writeConfig(t, "core:\n  patterns: [Gaming]\n"))
	assert.ErrorContains(t, err, "DISCORD_TOKEN")

	t.Setenv("DISCORD_TOKEN", "tok")
	_, err = runValidate(t, writeConfig(t, "core:\n  patterns: [\"Bad(\"]\n"))
	assert.ErrorContains(t, err, "Bad(")
}

func TestLoadSettings_LogLevelOverride(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "tok")
	path := writeConfig(t, "core:\n  patterns: [Gaming]\n  log_level: info\n")

	cfg, _, err := loadSettings(path, "debug")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)

	_, _, err = loadSettings(path, "chatty")
	assert.ErrorContains(t, err, "chatty")
}

func TestBuildManager(t *testing.T) {
	cfg := config.Config{Token: "tok", Patterns: []string{"Gaming", "Study"}}
	cfgMap := config.ConfigMap{"core": {"http_addr": ""}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mgr, err := buildManager(cfg, cfgMap, logger)
	require.NoError(t, err)

	var names []string
	for _, p := range mgr.ListPlugins() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"google_secret_manager", "discord", "voicepool", "coolboard", "webhook_trigger", "webhook", "pushover", "hooks"}, names)

	require.NoError(t, mgr.Init(context.Background()))
	assert.NotNil(t, mgr.GetMetricsRegisterer())
	mgr.Stop(context.Background())
}

func TestBuildManager_InvalidPattern(t *testing.T) {
	cfg := config.Config{Token: "tok", Patterns: []string{"Bad("}}
	_, err := buildManager(cfg, config.ConfigMap{"core": {}}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorContains(t, err, "voice pool")
}
