package discord

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/bwmarrin/discordgo"

	"github.com/mywio/voice-pool/pkg/voicepool"
)

// ListChannels reads the guild's voice channels from the state cache.
func (g *Gateway) ListChannels(ctx context.Context, guildID string) ([]voicepool.Channel, error) {
	if g.session == nil {
		return nil, errNotConnected
	}
	state := g.session.State
	guild, err := state.Guild(guildID)
	if err != nil {
		return nil, fmt.Errorf("guild %s: %w", guildID, err)
	}

	state.RLock()
	defer state.RUnlock()
	return voiceChannels(guild), nil
}

// CreateLike clones the source channel's type, bitrate, user limit, category
// and permission overwrites under a new name.
func (g *Gateway) CreateLike(ctx context.Context, guildID string, source voicepool.Channel, name string, position int) (voicepool.Channel, error) {
	if g.session == nil {
		return voicepool.Channel{}, errNotConnected
	}
	src, err := g.session.State.Channel(source.ID)
	if err != nil {
		if errors.Is(err, discordgo.ErrStateNotFound) {
			return voicepool.Channel{}, voicepool.ErrSourceVanished
		}
		return voicepool.Channel{}, err
	}

	created, err := g.session.GuildChannelCreateComplex(guildID, cloneData(src, name, position), discordgo.WithContext(ctx))
	if err != nil {
		return voicepool.Channel{}, fmt.Errorf("create channel %q: %w", name, err)
	}
	if created.GuildID == "" {
		created.GuildID = guildID
	}
	if err := g.session.State.ChannelAdd(created); err != nil {
		g.logger.Debug("State cache not updated after create", "channel", created.ID, "error", err)
	}
	return voicepool.Channel{ID: created.ID, Name: created.Name, Position: created.Position}, nil
}

func (g *Gateway) Delete(ctx context.Context, guildID string, channel voicepool.Channel) error {
	if g.session == nil {
		return errNotConnected
	}
	if _, err := g.session.ChannelDelete(channel.ID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete channel %s: %w", channel.ID, err)
	}
	if err := g.session.State.ChannelRemove(&discordgo.Channel{ID: channel.ID, GuildID: guildID}); err != nil {
		g.logger.Debug("State cache not updated after delete", "channel", channel.ID, "error", err)
	}
	return nil
}

func (g *Gateway) Rename(ctx context.Context, guildID string, channel voicepool.Channel, name string) error {
	if g.session == nil {
		return errNotConnected
	}
	updated, err := g.session.ChannelEdit(channel.ID, &discordgo.ChannelEdit{Name: name}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("rename channel %s to %q: %w", channel.ID, name, err)
	}
	if updated.GuildID == "" {
		updated.GuildID = guildID
	}
	if err := g.session.State.ChannelAdd(updated); err != nil {
		g.logger.Debug("State cache not updated after rename", "channel", channel.ID, "error", err)
	}
	return nil
}

func cloneData(src *discordgo.Channel, name string, position int) discordgo.GuildChannelCreateData {
	return discordgo.GuildChannelCreateData{
		Name:                 name,
		Type:                 src.Type,
		Bitrate:              src.Bitrate,
		UserLimit:            src.UserLimit,
		ParentID:             src.ParentID,
		PermissionOverwrites: src.PermissionOverwrites,
		NSFW:                 src.NSFW,
		Position:             position,
	}
}

// voiceChannels returns the guild's voice channels ordered by position, then
// by ID, with occupants counted from the cached voice states.
func voiceChannels(guild *discordgo.Guild) []voicepool.Channel {
	occupants := map[string]int{}
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != "" {
			occupants[vs.ChannelID]++
		}
	}

	out := []voicepool.Channel{}
	for _, c := range guild.Channels {
		if c.Type != discordgo.ChannelTypeGuildVoice {
			continue
		}
		out = append(out, voicepool.Channel{
			ID:        c.ID,
			Name:      c.Name,
			Occupants: occupants[c.ID],
			Position:  c.Position,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return snowflakeLess(out[i].ID, out[j].ID)
	})
	return out
}

// snowflakeLess orders numeric IDs without parsing them.
func snowflakeLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
