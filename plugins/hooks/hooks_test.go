package hooks

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mywio/voice-pool/pkg/core"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"+body+"\n"), 0o755))
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEventEnv(t *testing.T) {
	env := eventEnv(core.InternalEvent{
		Type:    core.EventPoolChannelRenamed,
		Source:  "voicepool",
		Guild:   "g1",
		Details: map[string]interface{}{"new-name": "Gaming 2", "channel": 42},
	})
	assert.Equal(t, []string{
		"VOICE_POOL_EVENT=pool_channel_renamed",
		"VOICE_POOL_SOURCE=voicepool",
		"VOICE_POOL_GUILD=g1",
		"VOICE_POOL_MESSAGE=",
		"VOICE_POOL_CHANNEL=42",
		"VOICE_POOL_NEW_NAME=Gaming 2",
	}, env)
}

func TestForwardedEnv(t *testing.T) {
	environ := []string{"PATH=/bin", "HOME=/root", "API_KEY=k", "POOL_A=1", "POOL_B=2", "broken"}

	assert.Equal(t, environ, forwardedEnv(environ, nil, nil))
	assert.Equal(t, []string{"PATH=/bin", "API_KEY=k", "POOL_A=1", "POOL_B=2"},
		forwardedEnv(environ, []string{" API_KEY "}, []string{"POOL_"}))
	assert.Equal(t, []string{"PATH=/bin"}, forwardedEnv(environ, []string{"MISSING"}, nil))
}

func TestExecuteHooks_OrderAndFailure(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.log")
	writeScript(t, dir, "10-first.sh", `echo "first $VOICE_POOL_GUILD" >> `+out)
	writeScript(t, dir, "20-second.sh", `echo second >> `+out)
	writeScript(t, dir, "notes.txt", `exit 1`)

	env := append(os.Environ(), "VOICE_POOL_GUILD=g1")
	require.NoError(t, ExecuteHooks(context.Background(), dir, env, discard()))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "first g1\nsecond\n", string(data))

	writeScript(t, dir, "15-broken.sh", `exit 3`)
	err = ExecuteHooks(context.Background(), dir, nil, discard())
	assert.ErrorContains(t, err, "15-broken.sh")

	assert.NoError(t, ExecuteHooks(context.Background(), filepath.Join(dir, "missing"), nil, discard()))
}

func TestHooksRunOnPoolEvents(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "events.log")
	writeScript(t, dir, "log.sh", `echo "$VOICE_POOL_EVENT $VOICE_POOL_NAME $HOOKS_TEST_SECRET" >> `+out)
	t.Setenv("HOOKS_TEST_SECRET", "hidden")

	mgr := core.NewModuleManager(discard())
	mgr.SetConfig(map[string]map[string]any{"hooks": {"dir": dir, "env_keys": []any{"HOME"}}})
	p := New()
	mgr.Register(p)
	require.NoError(t, mgr.Init(context.Background()))
	assert.Equal(t, core.StatusHealthy, p.Status())

	mgr.Publish(context.Background(), core.InternalEvent{
		Type:    core.EventPoolChannelCreated,
		Guild:   "g1",
		Details: map[string]interface{}{"name": "Gaming 2"},
	})
	mgr.Publish(context.Background(), core.InternalEvent{Type: core.EventReconcileNow})
	mgr.Stop(context.Background())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "pool_channel_created Gaming 2 \n", string(data), "unlisted env is hidden and reconcile_now is not subscribed")
}

func TestHooksDisabledAndExecute(t *testing.T) {
	mgr := core.NewModuleManager(discard())
	p := New()
	require.NoError(t, p.Init(context.Background(), discard(), mgr))
	assert.Equal(t, core.StatusStopped, p.Status())
	_, err := p.Execute(context.Background(), "run", nil)
	assert.ErrorContains(t, err, "not configured")

	dir := t.TempDir()
	writeScript(t, dir, "fail.sh", `exit 1`)
	mgr.SetConfig(map[string]map[string]any{"hooks": {"dir": dir, "subscribe": []any{"pool_call_failed"}}})
	p = New()
	require.NoError(t, p.Init(context.Background(), discard(), mgr))

	_, err = p.Execute(context.Background(), "run", map[string]interface{}{"event": "nope"})
	assert.ErrorContains(t, err, "invalid event type")
	_, err = p.Execute(context.Background(), "run", map[string]interface{}{"event": core.InternalEvent{Type: core.EventPoolCallFailed}})
	assert.ErrorContains(t, err, "fail.sh")
	assert.Equal(t, core.StatusDegraded, p.Status())
}
