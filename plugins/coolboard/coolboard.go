// Package coolboard quotes highly starred messages into a board channel.
package coolboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mywio/voice-pool/pkg/core"
)

const (
	starEmoji  = "🌟"
	embedColor = 0xFFC800
)

// sessionProvider is implemented by the gateway plugin.
type sessionProvider interface {
	Session() *discordgo.Session
}

type boardConfig struct {
	BoardChannelPattern string `yaml:"board_channel_pattern"`
	MinimumReactions    int    `yaml:"minimum_reactions"`
	Gateway             string `yaml:"gateway"`
}

type CoolBoardPlugin struct {
	cfg     boardConfig
	board   *regexp.Regexp
	logger  *slog.Logger
	session *discordgo.Session
	remove  func()
	quoted  prometheus.Counter

	mu     sync.Mutex
	posted map[string]struct{}
}

func New() *CoolBoardPlugin {
	return &CoolBoardPlugin{posted: map[string]struct{}{}}
}

func (p *CoolBoardPlugin) Name() string {
	return "coolboard"
}

func (p *CoolBoardPlugin) Description() string {
	return "Quotes messages that collect enough star reactions into a board channel"
}

func (p *CoolBoardPlugin) Capabilities() []core.Capability {
	return []core.Capability{core.CapabilityBoard}
}

func (p *CoolBoardPlugin) Status() core.ServiceStatus {
	switch {
	case p.board == nil:
		return core.StatusStopped
	case p.session == nil:
		return core.StatusUnhealthy
	default:
		return core.StatusHealthy
	}
}

func (p *CoolBoardPlugin) Config() any {
	return p.cfg
}

// Init stays disabled unless board_channel_pattern is configured.
func (p *CoolBoardPlugin) Init(ctx context.Context, logger *slog.Logger, registry core.PluginRegistry) error {
	p.logger = logger
	if registry == nil {
		return nil
	}
	if section, ok := registry.GetConfig()["coolboard"]; ok {
		if err := core.DecodeConfigSection(section, &p.cfg); err != nil {
			return fmt.Errorf("invalid coolboard config: %w", err)
		}
	}
	if strings.TrimSpace(p.cfg.BoardChannelPattern) == "" {
		p.logger.Info("Cool messages board disabled, no board_channel_pattern configured")
		return nil
	}
	if p.cfg.MinimumReactions <= 0 {
		return fmt.Errorf("coolboard minimum_reactions must be positive, got %d", p.cfg.MinimumReactions)
	}
	board, err := regexp.Compile("^(?:" + p.cfg.BoardChannelPattern + ")$")
	if err != nil {
		return fmt.Errorf("invalid board_channel_pattern: %w", err)
	}
	p.board = board

	gatewayName := p.cfg.Gateway
	if gatewayName == "" {
		gatewayName = "discord"
	}
	gw, err := registry.GetPlugin(gatewayName)
	if err != nil {
		return fmt.Errorf("coolboard needs the %s gateway: %w", gatewayName, err)
	}
	provider, ok := gw.(sessionProvider)
	if !ok || provider.Session() == nil {
		return fmt.Errorf("plugin %s does not expose a session", gatewayName)
	}
	p.session = provider.Session()
	p.remove = p.session.AddHandler(p.onReactionAdd)

	if reg := registry.GetMetricsRegisterer(); reg != nil {
		p.quoted = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voice_pool_coolboard_quotes_total",
			Help: "Messages quoted to the cool messages board.",
		})
		if err := reg.Register(p.quoted); err != nil {
			return fmt.Errorf("register coolboard metrics: %w", err)
		}
	}

	p.logger.Info("Cool messages board initialized", "pattern", p.cfg.BoardChannelPattern, "minimum_reactions", p.cfg.MinimumReactions)
	return nil
}

func (p *CoolBoardPlugin) Start(ctx context.Context) error {
	return nil
}

func (p *CoolBoardPlugin) Stop(ctx context.Context) error {
	if p.remove != nil {
		p.remove()
		p.remove = nil
	}
	return nil
}

func (p *CoolBoardPlugin) Execute(ctx context.Context, action string, params map[string]interface{}) (interface{}, error) {
	return nil, fmt.Errorf("coolboard plugin does not support Execute actions")
}

func (p *CoolBoardPlugin) onReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if r.MessageReaction == nil || r.GuildID == "" || r.Emoji.Name != starEmoji {
		return
	}
	if err := p.consider(s, r.GuildID, r.ChannelID, r.MessageID); err != nil {
		p.logger.Warn("Cool message not quoted", "guild", r.GuildID, "message", r.MessageID, "error", err)
	}
}

var errNoBoard = errors.New("board channel not found")

// consider quotes the message when it has enough stars and the bot has not
// starred it yet. The bot's own star marks a message as already quoted.
func (p *CoolBoardPlugin) consider(s *discordgo.Session, guildID, channelID, messageID string) error {
	guild, err := s.State.Guild(guildID)
	if err != nil {
		return fmt.Errorf("guild %s: %w", guildID, err)
	}
	s.State.RLock()
	board := boardChannel(guild, p.board)
	s.State.RUnlock()
	if board == nil {
		return errNoBoard
	}

	msg, err := s.ChannelMessage(channelID, messageID)
	if err != nil {
		return fmt.Errorf("retrieve message: %w", err)
	}
	if !qualifies(msg, p.cfg.MinimumReactions) {
		return nil
	}
	if !p.claim(messageID) {
		return nil
	}

	if err := s.MessageReactionAdd(channelID, messageID, starEmoji); err != nil {
		p.release(messageID)
		return fmt.Errorf("mark message: %w", err)
	}
	if _, err := s.ChannelMessageSendEmbed(board.ID, quoteEmbed(guildID, msg)); err != nil {
		return fmt.Errorf("post quote: %w", err)
	}
	if p.quoted != nil {
		p.quoted.Inc()
	}
	p.logger.Info("Quoted cool message", "guild", guildID, "message", messageID, "board", board.Name)
	return nil
}

func (p *CoolBoardPlugin) claim(messageID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, done := p.posted[messageID]; done {
		return false
	}
	p.posted[messageID] = struct{}{}
	return true
}

func (p *CoolBoardPlugin) release(messageID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.posted, messageID)
}

// qualifies reports whether msg carries at least min stars and the bot has
// not starred it.
func qualifies(msg *discordgo.Message, min int) bool {
	for _, r := range msg.Reactions {
		if r.Emoji == nil || r.Emoji.Name != starEmoji {
			continue
		}
		return !r.Me && r.Count >= min
	}
	return false
}

func boardChannel(guild *discordgo.Guild, pattern *regexp.Regexp) *discordgo.Channel {
	for _, c := range guild.Channels {
		if c.Type == discordgo.ChannelTypeGuildText && pattern.MatchString(c.Name) {
			return c
		}
	}
	return nil
}

func quoteEmbed(guildID string, msg *discordgo.Message) *discordgo.MessageEmbed {
	jump := fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, msg.ChannelID, msg.ID)
	embed := &discordgo.MessageEmbed{
		Description: fmt.Sprintf("%s\n\n[Jump to Message](%s)", msg.ContentWithMentionsReplaced(), jump),
		Color:       embedColor,
		Timestamp:   msg.Timestamp.Format(time.RFC3339),
	}
	if msg.Author != nil {
		embed.Author = &discordgo.MessageEmbedAuthor{
			Name:    msg.Author.Username,
			IconURL: msg.Author.AvatarURL(""),
		}
	}
	for _, a := range msg.Attachments {
		if strings.HasPrefix(a.ContentType, "image/") || a.Width > 0 {
			embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: a.URL}
			break
		}
	}
	return embed
}
