package voicepool

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeAPI is an in-memory guild channel list.
type fakeAPI struct {
	mu     sync.Mutex
	guilds map[string][]Channel
	nextID int
	calls  []string
	lists  []string
	fail   map[string]error

	// gates block ListChannels for a guild until closed.
	gates      map[string]chan struct{}
	waiting    int
	maxWaiting int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		guilds: map[string][]Channel{},
		fail:   map[string]error{},
		gates:  map[string]chan struct{}{},
	}
}

// seed replaces the guild's channels. occupants maps name -> count.
func (f *fakeAPI) seed(guild string, names []string, occupants map[string]int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chans := make([]Channel, 0, len(names))
	for i, name := range names {
		f.nextID++
		chans = append(chans, Channel{
			ID:        fmt.Sprintf("c%d", f.nextID),
			Name:      name,
			Occupants: occupants[name],
			Position:  i,
		})
	}
	f.guilds[guild] = chans
}

func (f *fakeAPI) setOccupants(guild, name string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.guilds[guild] {
		if f.guilds[guild][i].Name == name {
			f.guilds[guild][i].Occupants = n
		}
	}
}

func (f *fakeAPI) gate(guild string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[guild] = ch
	return ch
}

func (f *fakeAPI) names(guild string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []string{}
	for _, ch := range f.guilds[guild] {
		out = append(out, ch.Name)
	}
	return out
}

func (f *fakeAPI) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAPI) listed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lists...)
}

func (f *fakeAPI) ListChannels(ctx context.Context, guildID string) ([]Channel, error) {
	f.mu.Lock()
	f.lists = append(f.lists, guildID)
	gate := f.gates[guildID]
	if gate != nil {
		f.waiting++
		f.maxWaiting = max(f.maxWaiting, f.waiting)
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
		f.mu.Lock()
		f.waiting--
		f.mu.Unlock()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail["list"]; err != nil {
		return nil, err
	}
	return append([]Channel(nil), f.guilds[guildID]...), nil
}

func (f *fakeAPI) CreateLike(ctx context.Context, guildID string, source Channel, name string, position int) (Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "create:"+name)
	if err := f.fail["create"]; err != nil {
		return Channel{}, err
	}
	chans := f.guilds[guildID]
	idx := slices.IndexFunc(chans, func(c Channel) bool { return c.ID == source.ID })
	if idx < 0 {
		return Channel{}, ErrSourceVanished
	}
	f.nextID++
	created := Channel{ID: fmt.Sprintf("c%d", f.nextID), Name: name, Position: position + 1}
	f.guilds[guildID] = slices.Insert(chans, idx+1, created)
	return created, nil
}

func (f *fakeAPI) Delete(ctx context.Context, guildID string, channel Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "delete:"+channel.Name)
	if err := f.fail["delete"]; err != nil {
		return err
	}
	f.guilds[guildID] = slices.DeleteFunc(f.guilds[guildID], func(c Channel) bool { return c.ID == channel.ID })
	return nil
}

func (f *fakeAPI) Rename(ctx context.Context, guildID string, channel Channel, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "rename:"+channel.Name+"->"+name)
	if err := f.fail["rename"]; err != nil {
		return err
	}
	for i := range f.guilds[guildID] {
		if f.guilds[guildID][i].ID == channel.ID {
			f.guilds[guildID][i].Name = name
		}
	}
	return nil
}

// waitIdle blocks until every group has drained its queue.
func waitIdle(t *testing.T, s *Service) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, g := range s.Groups() {
			if g.State != string(stateIdle) || g.Queued != 0 {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
}

func stopService(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
