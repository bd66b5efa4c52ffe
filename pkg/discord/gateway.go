// Package discord connects the voice pool to a Discord bot session.
package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/mywio/voice-pool/pkg/core"
	"github.com/mywio/voice-pool/pkg/voicepool"
)

const reasonGuildAvailable = "guild_available"

var errNotConnected = errors.New("discord session not initialized")

// Options configures a Gateway.
type Options struct {
	Token string
	// TokenSecret names a secret resolved through a SECRETS plugin when Token is empty.
	TokenSecret string
	// Guilds restricts event handling to these guild IDs. Empty allows all.
	Guilds []string
}

// Gateway owns the bot session. It forwards voice membership changes to
// listeners and implements voicepool.ChannelAPI on top of the state cache.
type Gateway struct {
	token       core.Secret
	tokenSecret string
	guilds      map[string]struct{}

	logger  *slog.Logger
	session *discordgo.Session
	publish func(ctx context.Context, event core.InternalEvent)

	mu        sync.RWMutex
	listeners []func(voicepool.VoiceUpdate)

	connected atomic.Bool
}

var _ voicepool.ChannelAPI = (*Gateway)(nil)

func NewGateway(opts Options) *Gateway {
	g := &Gateway{
		token:       core.NewSecret(opts.Token),
		tokenSecret: opts.TokenSecret,
		guilds:      map[string]struct{}{},
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, id := range opts.Guilds {
		g.guilds[id] = struct{}{}
	}
	return g
}

func (g *Gateway) Name() string {
	return "discord"
}

func (g *Gateway) Description() string {
	return "Discord gateway session and channel API"
}

func (g *Gateway) Capabilities() []core.Capability {
	return []core.Capability{core.CapabilityGateway}
}

func (g *Gateway) Status() core.ServiceStatus {
	switch {
	case g.session == nil:
		return core.StatusUnknown
	case g.connected.Load():
		return core.StatusHealthy
	default:
		return core.StatusDegraded
	}
}

func (g *Gateway) Config() any {
	guilds := make([]string, 0, len(g.guilds))
	for id := range g.guilds {
		guilds = append(guilds, id)
	}
	return struct {
		Token       core.Secret `json:"token"`
		TokenSecret string      `json:"token_secret,omitempty"`
		Guilds      []string    `json:"guilds,omitempty"`
	}{g.token, g.tokenSecret, guilds}
}

// OnVoiceUpdate registers a listener for membership changes. Listeners run on
// the gateway's event goroutine and must not block.
func (g *Gateway) OnVoiceUpdate(fn func(voicepool.VoiceUpdate)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, fn)
}

// Session exposes the underlying session so other plugins can add handlers.
// It is nil before Init.
func (g *Gateway) Session() *discordgo.Session {
	return g.session
}

func (g *Gateway) Init(ctx context.Context, logger *slog.Logger, registry core.PluginRegistry) error {
	if logger != nil {
		g.logger = logger
	}
	if registry != nil {
		g.publish = registry.Publish
	}

	if g.token.IsZero() {
		token, err := g.resolveToken(ctx, registry)
		if err != nil {
			return err
		}
		g.token = core.NewSecret(token)
	}

	session, err := discordgo.New("Bot " + g.token.Value)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions
	session.StateEnabled = true
	session.State.TrackChannels = true
	session.State.TrackVoice = true

	session.AddHandler(g.onReady)
	session.AddHandler(g.onDisconnect)
	session.AddHandler(g.onGuildCreate)
	session.AddHandler(g.onVoiceStateUpdate)
	g.session = session

	g.logger.Info("Discord gateway initialized", "guild_filter", len(g.guilds))
	return nil
}

func (g *Gateway) resolveToken(ctx context.Context, registry core.PluginRegistry) (string, error) {
	if g.tokenSecret == "" {
		return "", errors.New("no bot token configured")
	}
	if registry == nil {
		return "", errors.New("token secret configured but no plugin registry available")
	}
	providers := registry.GetPluginsWithCapability(core.CapabilitySecrets)
	if len(providers) == 0 {
		return "", fmt.Errorf("token secret %q configured but no %s plugin registered", g.tokenSecret, core.CapabilitySecrets)
	}
	res, err := providers[0].Execute(ctx, "get_secret", map[string]interface{}{"name": g.tokenSecret})
	if err != nil {
		return "", fmt.Errorf("resolve bot token via %s: %w", providers[0].Name(), err)
	}
	token, ok := res.(string)
	if !ok || token == "" {
		return "", fmt.Errorf("secret %q resolved to an empty value", g.tokenSecret)
	}
	g.logger.Info("Bot token resolved from secret store", "provider", providers[0].Name())
	return token, nil
}

func (g *Gateway) Start(ctx context.Context) error {
	if g.session == nil {
		return errNotConnected
	}
	if err := g.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	g.logger.Info("Discord session opened")
	return nil
}

func (g *Gateway) Stop(ctx context.Context) error {
	if g.session == nil {
		return nil
	}
	g.connected.Store(false)
	return g.session.Close()
}

func (g *Gateway) Execute(ctx context.Context, action string, params map[string]interface{}) (interface{}, error) {
	switch action {
	case "channels":
		guild, _ := params["guild"].(string)
		if guild == "" {
			return nil, errors.New("guild parameter is required")
		}
		return g.ListChannels(ctx, guild)
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
}

func (g *Gateway) allowed(guildID string) bool {
	if len(g.guilds) == 0 {
		return true
	}
	_, ok := g.guilds[guildID]
	return ok
}

func (g *Gateway) onReady(s *discordgo.Session, r *discordgo.Ready) {
	g.connected.Store(true)
	user := ""
	if r.User != nil {
		user = r.User.Username
	}
	g.logger.Info("Discord session ready", "user", user, "guilds", len(r.Guilds))
}

func (g *Gateway) onDisconnect(s *discordgo.Session, _ *discordgo.Disconnect) {
	g.connected.Store(false)
	g.logger.Warn("Discord session disconnected")
}

// onGuildCreate sweeps every group once a guild becomes available, so pools
// that drifted while the bot was offline converge without waiting for traffic.
func (g *Gateway) onGuildCreate(s *discordgo.Session, gc *discordgo.GuildCreate) {
	if gc.Guild == nil || !g.allowed(gc.ID) || g.publish == nil {
		return
	}
	g.publish(context.Background(), core.InternalEvent{
		Type:   core.EventReconcileNow,
		Source: g.Name(),
		Guild:  gc.ID,
		Details: map[string]interface{}{
			"guild":  gc.ID,
			"reason": reasonGuildAvailable,
		},
	})
}

func (g *Gateway) onVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if v.VoiceState == nil || !g.allowed(v.GuildID) {
		return
	}
	update, ok := voiceUpdate(v, func(id string) string {
		ch, err := s.State.Channel(id)
		if err != nil {
			return ""
		}
		return ch.Name
	})
	if !ok {
		return
	}

	g.mu.RLock()
	listeners := append([]func(voicepool.VoiceUpdate){}, g.listeners...)
	g.mu.RUnlock()
	for _, fn := range listeners {
		fn(update)
	}
}

// voiceUpdate converts a voice state change into a membership change. Changes
// that keep the member in the same channel (mute, deafen, stream) or touch only
// unknown channels report false.
func voiceUpdate(v *discordgo.VoiceStateUpdate, channelName func(id string) string) (voicepool.VoiceUpdate, bool) {
	after := v.ChannelID
	before := ""
	if v.BeforeUpdate != nil {
		before = v.BeforeUpdate.ChannelID
	}
	if before == after {
		return voicepool.VoiceUpdate{}, false
	}

	u := voicepool.VoiceUpdate{GuildID: v.GuildID, UserID: v.UserID}
	u.Joined = channelRef(after, channelName)
	u.Left = channelRef(before, channelName)
	if u.Joined == nil && u.Left == nil {
		return voicepool.VoiceUpdate{}, false
	}
	return u, true
}

// channelRef resolves id to a named reference. Channels missing from the
// state cache resolve to nil so an empty name never reaches group matching.
func channelRef(id string, channelName func(id string) string) *voicepool.ChannelRef {
	if id == "" {
		return nil
	}
	name := channelName(id)
	if name == "" {
		return nil
	}
	return &voicepool.ChannelRef{ID: id, Name: name}
}
