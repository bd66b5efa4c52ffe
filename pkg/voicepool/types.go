package voicepool

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSourceVanished is returned by CreateLike when the template channel no
	// longer exists.
	ErrSourceVanished = errors.New("source channel vanished")
	// ErrServiceStopped is returned when a trigger is offered after Stop.
	ErrServiceStopped = errors.New("voice pool service stopped")
)

// Channel is a read-only snapshot of one voice channel.
type Channel struct {
	ID        string
	Name      string
	Occupants int
	Position  int
}

// Topic returns the channel name without its numeric suffix.
func (c Channel) Topic() string {
	return Topic(c.Name)
}

// Empty reports whether nobody is connected to the channel.
func (c Channel) Empty() bool {
	return c.Occupants == 0
}

// ChannelRef identifies a channel named in a membership change.
type ChannelRef struct {
	ID   string
	Name string
}

// VoiceUpdate is a membership change. A member switching channels produces
// one update with both sides set.
type VoiceUpdate struct {
	GuildID string
	UserID  string
	Joined  *ChannelRef
	Left    *ChannelRef
}

// ChannelAPI is the channel-management surface of the chat platform.
type ChannelAPI interface {
	// ListChannels returns the guild's voice channels in display order.
	ListChannels(ctx context.Context, guildID string) ([]Channel, error)
	// CreateLike clones source with a new name at the given position.
	CreateLike(ctx context.Context, guildID string, source Channel, name string, position int) (Channel, error)
	Delete(ctx context.Context, guildID string, channel Channel) error
	Rename(ctx context.Context, guildID string, channel Channel, name string) error
}

// Trigger wakes a group up for one reconciliation cycle in a guild.
type Trigger struct {
	GuildID  string
	Reason   string
	Received time.Time
}
