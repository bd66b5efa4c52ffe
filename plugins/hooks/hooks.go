// Package hooks runs operator scripts when pool events are published.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mywio/voice-pool/pkg/core"
)

const defaultPattern = "pool_*"

type hooksConfig struct {
	Dir       string   `yaml:"dir"`
	Subscribe []string `yaml:"subscribe"`
	// EnvKeys and EnvPrefixes allowlist the process environment passed to
	// scripts. With neither set, scripts inherit the whole environment.
	EnvKeys     []string `yaml:"env_keys"`
	EnvPrefixes []string `yaml:"env_prefixes"`
}

type HooksPlugin struct {
	cfg    hooksConfig
	logger *slog.Logger

	// runMu serializes events so hook output never interleaves.
	runMu   sync.Mutex
	mu      sync.Mutex
	lastErr error
}

func New() *HooksPlugin {
	return &HooksPlugin{}
}

func (p *HooksPlugin) Name() string {
	return "hooks"
}

func (p *HooksPlugin) Description() string {
	return "Runs *.sh scripts from a hooks directory for each subscribed pool event"
}

func (p *HooksPlugin) Capabilities() []core.Capability {
	return []core.Capability{core.CapabilityNotifier}
}

func (p *HooksPlugin) Init(ctx context.Context, logger *slog.Logger, registry core.PluginRegistry) error {
	p.logger = logger
	if registry == nil {
		return nil
	}
	if section, ok := registry.GetConfig()["hooks"]; ok {
		if err := core.DecodeConfigSection(section, &p.cfg); err != nil {
			return fmt.Errorf("invalid hooks config: %w", err)
		}
	}
	if p.cfg.Dir == "" {
		p.logger.Debug("Hooks disabled, no dir configured")
		return nil
	}
	if len(p.cfg.Subscribe) == 0 {
		p.cfg.Subscribe = []string{defaultPattern}
	}
	for _, pattern := range p.cfg.Subscribe {
		registry.Subscribe(pattern, p.process)
	}
	p.logger.Info("Hooks initialized", "dir", p.cfg.Dir, "subscribe", p.cfg.Subscribe)
	return nil
}

func (p *HooksPlugin) Start(ctx context.Context) error {
	return nil
}

func (p *HooksPlugin) Stop(ctx context.Context) error {
	return nil
}

func (p *HooksPlugin) Status() core.ServiceStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.cfg.Dir == "":
		return core.StatusStopped
	case p.lastErr != nil:
		return core.StatusDegraded
	default:
		return core.StatusHealthy
	}
}

func (p *HooksPlugin) Config() any {
	return p.cfg
}

// Execute supports "run" with an "event" parameter holding a core.InternalEvent.
func (p *HooksPlugin) Execute(ctx context.Context, action string, params map[string]interface{}) (interface{}, error) {
	if action != "run" {
		return nil, fmt.Errorf("unsupported action %q", action)
	}
	if p.cfg.Dir == "" {
		return nil, fmt.Errorf("hooks dir is not configured")
	}
	event, ok := params["event"].(core.InternalEvent)
	if !ok {
		return nil, fmt.Errorf("invalid event type %T", params["event"])
	}
	if err := p.run(ctx, event); err != nil {
		return nil, err
	}
	return map[string]string{"status": "ok"}, nil
}

func (p *HooksPlugin) process(ctx context.Context, event core.InternalEvent) {
	if err := p.run(ctx, event); err != nil {
		p.logger.ErrorContext(ctx, "Hook failed", "type", event.Type, "error", err)
	}
}

func (p *HooksPlugin) run(ctx context.Context, event core.InternalEvent) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	env := append(forwardedEnv(os.Environ(), p.cfg.EnvKeys, p.cfg.EnvPrefixes), eventEnv(event)...)
	err := ExecuteHooks(ctx, p.cfg.Dir, env, p.logger)
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
	return err
}

// ExecuteHooks runs all *.sh scripts in dir in lexical order with exactly env
// as their environment, and stops at the first failure. A missing dir is not
// an error.
func ExecuteHooks(ctx context.Context, dir string, env []string, logger *slog.Logger) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read hooks dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sh") {
			continue
		}

		scriptPath := filepath.Join(dir, entry.Name())
		logger.InfoContext(ctx, "Running hook", "script", entry.Name())

		cmd := exec.CommandContext(ctx, scriptPath)
		cmd.Env = env
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			return fmt.Errorf("hook %s failed: %w", entry.Name(), err)
		}
	}
	return nil
}

// forwardedEnv filters environ down to PATH plus the allowlisted keys and
// prefixes.
func forwardedEnv(environ, keys, prefixes []string) []string {
	if len(keys) == 0 && len(prefixes) == 0 {
		return append([]string(nil), environ...)
	}
	allowed := map[string]struct{}{"PATH": {}}
	for _, k := range keys {
		allowed[strings.TrimSpace(k)] = struct{}{}
	}
	var out []string
	for _, kv := range environ {
		key, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, found := allowed[key]; found || hasAnyPrefix(key, prefixes) {
			out = append(out, kv)
		}
	}
	return out
}

func hasAnyPrefix(key string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix = strings.TrimSpace(prefix); prefix != "" && strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// eventEnv exposes the event to scripts as VOICE_POOL_* variables. Detail keys
// are upper-cased with non-alphanumerics replaced by underscores.
func eventEnv(event core.InternalEvent) []string {
	env := []string{
		"VOICE_POOL_EVENT=" + string(event.Type),
		"VOICE_POOL_SOURCE=" + event.Source,
		"VOICE_POOL_GUILD=" + event.Guild,
		"VOICE_POOL_MESSAGE=" + event.String,
	}
	keys := make([]string, 0, len(event.Details))
	for k := range event.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("VOICE_POOL_%s=%v", envKey(k), event.Details[k]))
	}
	return env
}

func envKey(k string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, k)
}
