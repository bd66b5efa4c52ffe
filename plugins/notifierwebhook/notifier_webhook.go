// Package notifierwebhook posts pool events as JSON to an HTTP endpoint.
package notifierwebhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/mywio/voice-pool/pkg/core"
)

const defaultPattern = "pool_*"

type WebhookPlugin struct {
	logger   *slog.Logger
	cfg      webhookConfig
	client   *http.Client
	enabled  bool
	patterns []string
}

type webhookConfig struct {
	URL          string      `yaml:"url"`
	TokenURL     string      `yaml:"token_url"`
	ClientID     string      `yaml:"client_id"`
	ClientSecret core.Secret `yaml:"client_secret"`
	Scopes       []string    `yaml:"scopes"`
}

func New() *WebhookPlugin {
	return &WebhookPlugin{}
}

func (p *WebhookPlugin) Name() string {
	return "webhook"
}

func (p *WebhookPlugin) Init(ctx context.Context, logger *slog.Logger, registry core.PluginRegistry) error {
	p.logger = logger
	var subscribeProvided bool
	var base *http.Client
	if registry != nil {
		cfg := registry.GetConfig()
		if section, ok := cfg["webhook"]; ok {
			if _, ok := section["subscribe"]; ok {
				subscribeProvided = true
			}
			if err := core.DecodeConfigSection(section, &p.cfg); err != nil {
				p.logger.Warn("Invalid webhook config", "error", err)
			}
			p.patterns = parseSubscribePatterns(section)
		}
		base = registry.GetHTTPClient()
	}
	if base == nil {
		base = http.DefaultClient
	}
	p.client = p.httpClient(ctx, base)

	if p.cfg.URL == "" {
		p.logger.Warn("NOTIFY_WEBHOOK_URL not set, webhook notifications disabled")
		p.enabled = false
		return nil
	}

	p.enabled = true
	p.logger.Info("Webhook Plugin Initialized", "url", p.cfg.URL, "oauth2", p.cfg.TokenURL != "")
	if registry != nil {
		if !subscribeProvided {
			p.patterns = []string{defaultPattern}
		}
		for _, pattern := range p.patterns {
			registry.Subscribe(pattern, p.process)
		}
		if len(p.patterns) == 0 {
			p.logger.InfoContext(ctx, "Webhook notifier has no subscriptions configured; skipping event registration")
		}
	}
	return nil
}

// httpClient wraps base with an OAuth2 client-credentials token source when
// a token URL is configured. Tokens are fetched lazily and cached.
func (p *WebhookPlugin) httpClient(ctx context.Context, base *http.Client) *http.Client {
	if p.cfg.TokenURL == "" || p.cfg.ClientID == "" {
		return base
	}
	cc := clientcredentials.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret.Value,
		TokenURL:     p.cfg.TokenURL,
		Scopes:       p.cfg.Scopes,
	}
	// The token source outlives Init, so it must not capture Init's context.
	tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, base)
	return cc.Client(tokenCtx)
}

func (p *WebhookPlugin) Start(ctx context.Context) error {
	return nil
}

func (p *WebhookPlugin) Stop(ctx context.Context) error {
	return nil
}

func (p *WebhookPlugin) Description() string { return "Posts voice pool events to a webhook" }

func (p *WebhookPlugin) Capabilities() []core.Capability {
	return []core.Capability{core.CapabilityNotifier}
}

func (p *WebhookPlugin) Status() core.ServiceStatus {
	if p.enabled && p.cfg.URL != "" {
		return core.StatusHealthy
	}
	return core.StatusUnhealthy
}

func (p *WebhookPlugin) Config() any {
	return struct {
		URL          string      `json:"url"`
		TokenURL     string      `json:"token_url,omitempty"`
		ClientID     string      `json:"client_id,omitempty"`
		ClientSecret core.Secret `json:"client_secret"`
		Subscribe    []string    `json:"subscribe"`
	}{p.cfg.URL, p.cfg.TokenURL, p.cfg.ClientID, p.cfg.ClientSecret, p.patterns}
}

func (p *WebhookPlugin) Execute(ctx context.Context, action string, params map[string]interface{}) (interface{}, error) {
	if p.cfg.URL == "" {
		p.logger.Debug("Webhook URL not set, skipping notification")
		return nil, nil
	}

	if action != "notify" {
		return nil, fmt.Errorf("unsupported action %q", action)
	}

	eventRaw, ok := params["event"]
	if !ok {
		return nil, fmt.Errorf("missing event")
	}

	event, ok := eventRaw.(core.InternalEvent)
	if !ok {
		return nil, fmt.Errorf("invalid event type %T", eventRaw)
	}

	if err := p.send(ctx, event); err != nil {
		return nil, err
	}
	return map[string]string{"status": "delivered"}, nil
}

func (p *WebhookPlugin) process(ctx context.Context, event core.InternalEvent) {
	if !p.enabled || p.cfg.URL == "" {
		return
	}
	if err := p.send(ctx, event); err != nil {
		p.logger.ErrorContext(ctx, "Webhook notification failed", "type", event.Type, "error", err)
	}
}

type payload struct {
	EventType core.EventTypeName     `json:"event_type"`
	Source    string                 `json:"source"`
	Guild     string                 `json:"guild,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

func (p *WebhookPlugin) send(ctx context.Context, event core.InternalEvent) error {
	if ctx == nil {
		ctx = context.Background()
	}
	data, err := json.Marshal(payload{
		EventType: event.Type,
		Source:    event.Source,
		Guild:     event.Guild,
		Message:   event.String,
		Timestamp: event.Timestamp,
		Details:   event.Details,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewBuffer(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}

	p.logger.DebugContext(ctx, "Webhook delivered", "type", event.Type)
	return nil
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
