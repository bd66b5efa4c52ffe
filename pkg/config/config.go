package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Token              string
	TokenSecret        string // Secret Manager resource used when Token is empty
	Patterns           []string
	Guilds             []string // Optional guild allow-list
	MaxConcurrentCalls int
	DryRun             bool
	LogLevel           string
	HTTPAddr           string
	PluginsDir         string
}

func LoadConfig() Config {
	maxCalls, _ := strconv.Atoi(strings.TrimSpace(os.Getenv("MAX_CONCURRENT_CALLS")))

	return Config{
		Token:              os.Getenv("DISCORD_TOKEN"),
		TokenSecret:        os.Getenv("DISCORD_TOKEN_SECRET"),
		Patterns:           splitList(os.Getenv("VOICE_CHANNEL_PATTERNS")),
		Guilds:             splitList(os.Getenv("DISCORD_GUILDS")),
		MaxConcurrentCalls: maxCalls,
		DryRun:             os.Getenv("DRY_RUN") == "true",
		LogLevel:           os.Getenv("LOG_LEVEL"),
		HTTPAddr:           os.Getenv("HTTP_ADDR"),
		PluginsDir:         os.Getenv("PLUGINS_DIR"),
	}
}

// Validate reports every missing required value at once.
func (c Config) Validate() error {
	var errs []error
	if c.Token == "" && c.TokenSecret == "" {
		errs = append(errs, errors.New("one of DISCORD_TOKEN or DISCORD_TOKEN_SECRET is required"))
	}
	if len(c.Patterns) == 0 {
		errs = append(errs, errors.New("VOICE_CHANNEL_PATTERNS must list at least one pattern"))
	}
	if c.MaxConcurrentCalls < 0 {
		errs = append(errs, fmt.Errorf("max_concurrent_calls must not be negative, got %d", c.MaxConcurrentCalls))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLogLevel maps debug/info/warn/error to slog levels. Empty means info.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// ConfigMap is a sectioned configuration map keyed by plugin name (or "core").
// Values are YAML-friendly scalars or nested maps/lists.
type ConfigMap map[string]map[string]any

// Load reads env and the YAML file at path; file values win over env values.
func Load(path string) (Config, ConfigMap, error) {
	cfgEnv := LoadConfig()
	cfgMapEnv := LoadConfigMapFromEnv()
	cfgMapFile, err := LoadConfigFile(path)
	if err != nil {
		return Config{}, nil, fmt.Errorf("load config file %s: %w", path, err)
	}
	cfgMap := MergeConfigMap(cfgMapFile, cfgMapEnv)

	cfg := cfgEnv
	if coreSection, ok := cfgMapFile["core"]; ok {
		cfg = MergeConfig(LoadConfigFromMap(coreSection), cfgEnv)
	}
	// Reflect the effective core values back so modules reading the map agree.
	cfgMap["core"]["http_addr"] = cfg.HTTPAddr
	return cfg, cfgMap, nil
}

// LoadConfigFile loads a YAML config file from disk.
// Returns an empty map if the file does not exist or is empty.
func LoadConfigFile(path string) (ConfigMap, error) {
	if path == "" {
		return ConfigMap{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ConfigMap{}, nil
		}
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return ConfigMap{}, nil
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	return normalizeConfigMap(raw), nil
}

// LoadConfigMapFromEnv builds a sectioned config map from environment variables.
// This allows config-file values to override env values without losing defaults.
func LoadConfigMapFromEnv() ConfigMap {
	cfg := ConfigMap{
		"core": {
			"token":                os.Getenv("DISCORD_TOKEN"),
			"token_secret":         os.Getenv("DISCORD_TOKEN_SECRET"),
			"patterns":             os.Getenv("VOICE_CHANNEL_PATTERNS"),
			"guilds":               os.Getenv("DISCORD_GUILDS"),
			"max_concurrent_calls": os.Getenv("MAX_CONCURRENT_CALLS"),
			"dry_run":              os.Getenv("DRY_RUN"),
			"log_level":            os.Getenv("LOG_LEVEL"),
			"http_addr":            os.Getenv("HTTP_ADDR"),
			"plugins_dir":          os.Getenv("PLUGINS_DIR"),
		},
		"webhook": {
			"url":           os.Getenv("NOTIFY_WEBHOOK_URL"),
			"token_url":     os.Getenv("NOTIFY_WEBHOOK_TOKEN_URL"),
			"client_id":     os.Getenv("NOTIFY_WEBHOOK_CLIENT_ID"),
			"client_secret": os.Getenv("NOTIFY_WEBHOOK_CLIENT_SECRET"),
		},
		"pushover": {
			"token": os.Getenv("NOTIFY_PUSHOVER_TOKEN"),
			"user":  os.Getenv("NOTIFY_PUSHOVER_USER"),
		},
		"webhook_trigger": {
			"token": os.Getenv("WEBHOOK_TOKEN"),
		},
		"google_secret_manager": {
			"project_id":       os.Getenv("GOOGLE_CLOUD_PROJECT"),
			"credentials_file": os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		},
		"hooks": {
			"dir": os.Getenv("HOOKS_DIR"),
		},
		"coolboard": {
			"board_channel_pattern": os.Getenv("COOLBOARD_CHANNEL_PATTERN"),
		},
	}
	if v := os.Getenv("NOTIFY_WEBHOOK_EVENTS"); v != "" {
		cfg["webhook"]["subscribe"] = v
	}
	if v := os.Getenv("NOTIFY_PUSHOVER_EVENTS"); v != "" {
		cfg["pushover"]["subscribe"] = v
	}
	if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("COOLBOARD_MIN_REACTIONS"))); err == nil {
		cfg["coolboard"]["minimum_reactions"] = n
	}
	return cfg
}

// LoadConfigFromMap builds a core Config from a map.
// Supported keys (yaml): token, token_secret, patterns, guilds, max_concurrent_calls,
// dry_run, log_level, http_addr, plugins_dir.
func LoadConfigFromMap(m map[string]any) Config {
	cfg := Config{}

	if v, ok := getString(m, "token", "discord_token"); ok {
		cfg.Token = v
	}
	if v, ok := getString(m, "token_secret"); ok {
		cfg.TokenSecret = v
	}
	if v, ok := getStringSlice(m, "patterns", "voice_channel_patterns"); ok {
		cfg.Patterns = v
	}
	if v, ok := getStringSlice(m, "guilds"); ok {
		cfg.Guilds = v
	}
	if v, ok := getInt(m, "max_concurrent_calls"); ok {
		cfg.MaxConcurrentCalls = v
	}
	if v, ok := getBool(m, "dry_run"); ok {
		cfg.DryRun = v
	}
	if v, ok := getString(m, "log_level"); ok {
		cfg.LogLevel = v
	}
	if v, ok := getString(m, "http_addr"); ok {
		cfg.HTTPAddr = v
	}
	if v, ok := getString(m, "plugins_dir"); ok {
		cfg.PluginsDir = v
	}

	return cfg
}

// MergeConfig uses primary values when set, otherwise falls back.
func MergeConfig(primary, fallback Config) Config {
	out := primary
	if out.Token == "" {
		out.Token = fallback.Token
	}
	if out.TokenSecret == "" {
		out.TokenSecret = fallback.TokenSecret
	}
	if len(out.Patterns) == 0 {
		out.Patterns = fallback.Patterns
	}
	if len(out.Guilds) == 0 {
		out.Guilds = fallback.Guilds
	}
	if out.MaxConcurrentCalls == 0 {
		out.MaxConcurrentCalls = fallback.MaxConcurrentCalls
	}
	if !out.DryRun && fallback.DryRun {
		out.DryRun = true
	}
	if out.LogLevel == "" {
		out.LogLevel = fallback.LogLevel
	}
	if out.HTTPAddr == "" {
		out.HTTPAddr = fallback.HTTPAddr
	}
	if out.PluginsDir == "" {
		out.PluginsDir = fallback.PluginsDir
	}
	return out
}

// MergeConfigMap merges primary over fallback (primary wins).
func MergeConfigMap(primary, fallback ConfigMap) ConfigMap {
	out := cloneConfigMap(fallback)
	for section, vals := range primary {
		if len(vals) == 0 {
			continue
		}
		merged := map[string]any{}
		if existing, ok := out[section]; ok {
			for k, v := range existing {
				merged[k] = v
			}
		}
		for k, v := range vals {
			merged[k] = v
		}
		out[section] = merged
	}
	if _, ok := out["core"]; !ok {
		out["core"] = map[string]any{}
	}
	return out
}

func cloneConfigMap(src ConfigMap) ConfigMap {
	dst := ConfigMap{}
	for section, vals := range src {
		sectionCopy := map[string]any{}
		for k, v := range vals {
			sectionCopy[k] = v
		}
		dst[section] = sectionCopy
	}
	return dst
}

func normalizeConfigMap(raw map[string]any) ConfigMap {
	out := ConfigMap{}
	for key, value := range raw {
		if m := normalizeStringMap(value); m != nil {
			out[key] = m
		}
	}
	return out
}

func normalizeStringMap(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		out := map[string]any{}
		for k, v := range t {
			out[k] = normalizeValue(v)
		}
		return out
	case map[any]any:
		out := map[string]any{}
		for k, v := range t {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = normalizeValue(v)
		}
		return out
	default:
		return nil
	}
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any, map[any]any:
		return normalizeStringMap(t)
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			out = append(out, normalizeValue(item))
		}
		return out
	default:
		return v
	}
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getString(m map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := m[key]; ok && v != nil {
			switch t := v.(type) {
			case string:
				return t, true
			default:
				return strings.TrimSpace(fmt.Sprint(t)), true
			}
		}
	}
	return "", false
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func getBool(m map[string]any, keys ...string) (bool, bool) {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			switch t := v.(type) {
			case bool:
				return t, true
			case string:
				return strings.EqualFold(strings.TrimSpace(t), "true"), true
			case int:
				return t != 0, true
			case int64:
				return t != 0, true
			case float64:
				return t != 0, true
			}
		}
	}
	return false, false
}

func getInt(m map[string]any, keys ...string) (int, bool) {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			switch t := v.(type) {
			case int:
				return t, true
			case int64:
				return int(t), true
			case float64:
				return int(t), true
			case string:
				n, err := strconv.Atoi(strings.TrimSpace(t))
				if err == nil {
					return n, true
				}
			}
		}
	}
	return 0, false
}

// getStringSlice accepts a YAML list or a comma-separated string.
// Pattern entries keep inner spaces; only surrounding whitespace is trimmed.
func getStringSlice(m map[string]any, keys ...string) ([]string, bool) {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			switch t := v.(type) {
			case []any:
				out := make([]string, 0, len(t))
				for _, item := range t {
					if s := strings.TrimSpace(toString(item)); s != "" {
						out = append(out, s)
					}
				}
				return out, true
			case []string:
				out := make([]string, 0, len(t))
				for _, item := range t {
					if s := strings.TrimSpace(item); s != "" {
						out = append(out, s)
					}
				}
				return out, true
			case string:
				return splitList(t), true
			}
		}
	}
	return nil, false
}
