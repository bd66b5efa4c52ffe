// Package notifierpushover pushes pool events to operators through Pushover.
package notifierpushover

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/mywio/voice-pool/pkg/core"
)

const (
	defaultAPIURL = "https://api.pushover.net/1/messages.json"
	messageTitle  = "voice-pool"
)

// Failed calls are the only pool events an operator has to act on.
var defaultPatterns = []string{string(core.EventPoolCallFailed)}

type PushoverNotifier struct {
	logger        *slog.Logger
	client        *http.Client
	cfg           pushoverConfig
	enabled       bool
	subscriptions []string
}

type pushoverConfig struct {
	Token    core.Secret    `yaml:"token"`
	User     string         `yaml:"user"`
	APIURL   string         `yaml:"api_url"`
	Priority map[string]int `yaml:"priority"`
}

func New() *PushoverNotifier {
	return &PushoverNotifier{}
}

func (n *PushoverNotifier) Name() string {
	return "pushover"
}

func (n *PushoverNotifier) Init(ctx context.Context, logger *slog.Logger, registry core.PluginRegistry) error {
	n.logger = logger
	var subscribeProvided bool
	var patterns []string
	if registry != nil {
		n.client = registry.GetHTTPClient()
		if section, ok := registry.GetConfig()["pushover"]; ok {
			_, subscribeProvided = section["subscribe"]
			if err := core.DecodeConfigSection(section, &n.cfg); err != nil {
				n.logger.WarnContext(ctx, "Invalid pushover config", "error", err)
			}
			patterns = parseSubscribePatterns(section)
		}
	}
	if n.client == nil {
		n.client = http.DefaultClient
	}
	if n.cfg.APIURL == "" {
		n.cfg.APIURL = defaultAPIURL
	}
	if n.cfg.Token.IsZero() || n.cfg.User == "" {
		n.logger.WarnContext(ctx, "Pushover token or user not set, notifications disabled")
		n.enabled = false
		return nil
	}
	n.enabled = true
	n.logger.InfoContext(ctx, "Pushover Notifier Initialized")

	if registry != nil {
		if !subscribeProvided {
			patterns = defaultPatterns
		}
		n.subscriptions = append([]string(nil), patterns...)
		for _, pattern := range patterns {
			registry.Subscribe(pattern, n.process)
		}
		if len(patterns) == 0 {
			n.logger.InfoContext(ctx, "Pushover notifier has no subscriptions configured; skipping event registration")
		}
	}
	return nil
}

func (n *PushoverNotifier) Start(ctx context.Context) error {
	return nil
}

func (n *PushoverNotifier) Stop(ctx context.Context) error {
	return nil
}

func (n *PushoverNotifier) Description() string {
	return "Pushes voice pool events to operators via the Pushover API"
}

func (n *PushoverNotifier) Capabilities() []core.Capability {
	return []core.Capability{core.CapabilityNotifier}
}

func (n *PushoverNotifier) Status() core.ServiceStatus {
	if n.enabled {
		return core.StatusHealthy
	}
	return core.StatusDegraded
}

type pushoverConfigView struct {
	Token     core.Secret    `json:"token"`
	User      string         `json:"user"`
	Priority  map[string]int `json:"priority,omitempty"`
	Subscribe []string       `json:"subscribe,omitempty"`
	Enabled   bool           `json:"enabled"`
}

func (n *PushoverNotifier) Config() any {
	return pushoverConfigView{
		Token:     n.cfg.Token,
		User:      n.cfg.User,
		Priority:  n.cfg.Priority,
		Subscribe: append([]string(nil), n.subscriptions...),
		Enabled:   n.enabled,
	}
}

// Execute supports "notify" with an "event" parameter holding a core.InternalEvent.
func (n *PushoverNotifier) Execute(ctx context.Context, action string, params map[string]interface{}) (interface{}, error) {
	if action != "notify" {
		return nil, fmt.Errorf("unsupported action %q", action)
	}
	if !n.enabled {
		return nil, fmt.Errorf("pushover notifier is disabled")
	}
	event, ok := params["event"].(core.InternalEvent)
	if !ok {
		return nil, fmt.Errorf("invalid event type %T", params["event"])
	}
	if err := n.send(ctx, event); err != nil {
		return nil, err
	}
	return map[string]string{"status": "delivered"}, nil
}

func (n *PushoverNotifier) process(ctx context.Context, event core.InternalEvent) {
	if !n.enabled {
		return
	}
	if err := n.send(ctx, event); err != nil {
		n.logger.ErrorContext(ctx, "Failed to send Pushover notification", "type", event.Type, "error", err)
	}
}

type message struct {
	Token    string `json:"token"`
	User     string `json:"user"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Priority int    `json:"priority"`
}

func (n *PushoverNotifier) send(ctx context.Context, event core.InternalEvent) error {
	data, err := json.Marshal(message{
		Token:    n.cfg.Token.Value,
		User:     n.cfg.User,
		Title:    messageTitle,
		Message:  formatMessage(event),
		Priority: n.cfg.Priority[string(event.Type)],
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.APIURL, bytes.NewBuffer(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pushover API error: %d", resp.StatusCode)
	}

	n.logger.DebugContext(ctx, "Pushover notification delivered", "type", event.Type)
	return nil
}

// formatMessage renders the event with its details as sorted key=value lines.
func formatMessage(event core.InternalEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", event.Type, event.String)
	if event.Guild != "" {
		fmt.Fprintf(&b, "\nGuild: %s", event.Guild)
	}
	keys := make([]string, 0, len(event.Details))
	for k := range event.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s=%v", k, event.Details[k])
	}
	return b.String()
}

func normalizePatterns(values []string) []string {
	out := make([]string, 0, len(values))
	seen := map[string]struct{}{}
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func parseSubscribePatterns(section map[string]any) []string {
	raw, ok := section["subscribe"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return normalizePatterns(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return normalizePatterns(out)
	case string:
		return normalizePatterns(strings.Split(v, ","))
	default:
		return normalizePatterns([]string{fmt.Sprint(v)})
	}
}
