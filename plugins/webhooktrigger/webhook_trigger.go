// Package webhooktrigger exposes an HTTP endpoint that requests an immediate
// reconciliation of a guild's voice pools.
package webhooktrigger

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mywio/voice-pool/pkg/core"
)

const (
	eventWebhookReceived core.EventTypeName = "webhook_received"
	defaultPool                             = "voicepool"
)

type WebhookTriggerPlugin struct {
	token    core.Secret
	pool     string
	logger   *slog.Logger
	registry core.PluginRegistry
}

type webhookTriggerConfig struct {
	Token core.Secret `yaml:"token"`
	// Pool names the plugin that validates the group parameter.
	Pool string `yaml:"pool"`
}

func New() *WebhookTriggerPlugin {
	return &WebhookTriggerPlugin{}
}

func (p *WebhookTriggerPlugin) Name() string {
	return "webhook_trigger"
}

func (p *WebhookTriggerPlugin) Init(ctx context.Context, logger *slog.Logger, registry core.PluginRegistry) error {
	p.logger = logger
	p.registry = registry
	if registry == nil {
		return fmt.Errorf("webhook_trigger requires a plugin registry")
	}

	if section, ok := registry.GetConfig()["webhook_trigger"]; ok {
		var wcfg webhookTriggerConfig
		if err := core.DecodeConfigSection(section, &wcfg); err != nil {
			p.logger.Warn("Invalid webhook_trigger config", "error", err)
		}
		p.token = wcfg.Token
		p.pool = wcfg.Pool
	}
	if p.pool == "" {
		p.pool = defaultPool
	}

	if p.token.IsZero() {
		p.logger.Warn("WEBHOOK_TOKEN not set, endpoint is unsecured (use with caution)")
	} else {
		p.logger.Info("Webhook Trigger Plugin Initialized", "secured", true)
	}

	if err := registry.RegisterEventType(core.EventTypeDesc{
		Name:        eventWebhookReceived,
		Description: "Raw webhook received (before processing)",
	}); err != nil {
		p.logger.Warn("Event type already registered", "type", eventWebhookReceived)
	}
	registry.GetMuxServer().HandleFunc("/reconcile", p.handleReconcile)
	return nil
}

func (p *WebhookTriggerPlugin) Start(_ context.Context) error {
	return nil
}

func (p *WebhookTriggerPlugin) Stop(ctx context.Context) error {
	return nil
}

func (p *WebhookTriggerPlugin) Description() string {
	return "Webhook trigger for on-demand voice pool reconciliation"
}

func (p *WebhookTriggerPlugin) Capabilities() []core.Capability {
	return []core.Capability{core.CapabilityTrigger}
}

func (p *WebhookTriggerPlugin) Status() core.ServiceStatus {
	if p.registry == nil {
		return core.StatusUnknown
	}
	if p.token.IsZero() {
		return core.StatusDegraded
	}
	return core.StatusHealthy
}

func (p *WebhookTriggerPlugin) Config() any {
	return map[string]any{"token": p.token, "pool": p.pool}
}

func (p *WebhookTriggerPlugin) Execute(ctx context.Context, action string, params map[string]interface{}) (interface{}, error) {
	return nil, fmt.Errorf("webhook_trigger plugin does not support Execute actions (use HTTP endpoint)")
}

// handleReconcile serves POST /reconcile?guild=ID[&group=PATTERN]. A named
// group is checked against the pool plugin and answered 404 when unknown.
// Without a pool plugin the group is not checked, and 202 only means the
// request was published.
func (p *WebhookTriggerPlugin) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	if !p.token.IsZero() {
		auth := r.Header.Get("Authorization")
		got := strings.TrimPrefix(auth, "Bearer ")
		if !strings.HasPrefix(auth, "Bearer ") || subtle.ConstantTimeCompare([]byte(got), []byte(p.token.Value)) != 1 {
			core.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
	}

	guild := strings.TrimSpace(r.URL.Query().Get("guild"))
	group := strings.TrimSpace(r.URL.Query().Get("group"))
	if guild == "" {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "guild query parameter is required"})
		return
	}

	if group != "" {
		known, err := p.knownGroup(r.Context(), group)
		if err != nil {
			core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if !known {
			core.WriteJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("unknown group %q", group)})
			return
		}
	}

	p.logger.Info("Reconciliation trigger received via webhook",
		"guild", guild,
		"group", group,
		"client_ip", r.RemoteAddr,
		"user_agent", r.UserAgent())

	// Handlers run after the request returns, so they must not inherit its context.
	ctx := context.WithoutCancel(r.Context())
	p.registry.Publish(ctx, core.InternalEvent{
		Type:   eventWebhookReceived,
		Source: p.Name(),
		Guild:  guild,
		Details: map[string]interface{}{
			"client_ip":  r.RemoteAddr,
			"method":     r.Method,
			"user_agent": r.UserAgent(),
		},
	})
	p.registry.Publish(ctx, core.InternalEvent{
		Type:   core.EventReconcileNow,
		Source: p.Name(),
		Guild:  guild,
		Details: map[string]interface{}{
			"guild":  guild,
			"group":  group,
			"reason": "webhook",
		},
	})

	core.WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"message": "Reconciliation triggered",
	})
}

// knownGroup asks the pool plugin whether group is configured. It reports true
// when no pool plugin is registered.
func (p *WebhookTriggerPlugin) knownGroup(ctx context.Context, group string) (bool, error) {
	pool, err := p.registry.GetPlugin(p.pool)
	if err != nil {
		return true, nil
	}
	res, err := pool.Execute(ctx, "has_group", map[string]interface{}{"group": group})
	if err != nil {
		return false, fmt.Errorf("check group: %w", err)
	}
	known, ok := res.(bool)
	if !ok {
		return false, fmt.Errorf("check group: unexpected result %T", res)
	}
	return known, nil
}
