package core

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesPattern(t *testing.T) {
	assert.True(t, matchesPattern("pool_channel_created", "pool_channel_created"))
	assert.True(t, matchesPattern("pool_channel_created", "pool_*"))
	assert.True(t, matchesPattern("reconcile_now", "*"))
	assert.False(t, matchesPattern("reconcile_now", "pool_*"))
	assert.False(t, matchesPattern("pool_channel_created", "pool_channel"))
}

func TestBrokerRegisterEventType(t *testing.T) {
	b := NewBroker(slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.NoError(t, b.RegisterEventType(EventTypeDesc{Name: EventReconcileNow}))
	assert.Error(t, b.RegisterEventType(EventTypeDesc{Name: EventReconcileNow}))

	types := b.EventTypes()
	assert.Contains(t, types, EventReconcileNow)
	delete(types, EventReconcileNow)
	assert.Contains(t, b.EventTypes(), EventReconcileNow, "EventTypes returns a copy")
}

func TestBrokerPublish(t *testing.T) {
	b := NewBroker(slog.New(slog.NewTextHandler(io.Discard, nil)))

	var mu sync.Mutex
	got := map[string][]EventTypeName{}
	record := func(key string) Listener {
		return func(ctx context.Context, event InternalEvent) {
			mu.Lock()
			defer mu.Unlock()
			got[key] = append(got[key], event.Type)
		}
	}
	b.Subscribe("pool_*", record("pool"))
	b.Subscribe(string(EventReconcileNow), record("reconcile"))

	b.Publish(context.Background(), InternalEvent{Type: EventPoolChannelCreated})
	b.Publish(context.Background(), InternalEvent{Type: EventReconcileNow})
	b.Publish(context.Background(), InternalEvent{Type: "unrelated"})
	b.Wait()

	assert.Equal(t, []EventTypeName{EventPoolChannelCreated}, got["pool"])
	assert.Equal(t, []EventTypeName{EventReconcileNow}, got["reconcile"])
}

func TestBrokerPublishStampsTimestamp(t *testing.T) {
	b := NewBroker(slog.New(slog.NewTextHandler(io.Discard, nil)))
	var seen InternalEvent
	b.Subscribe("*", func(ctx context.Context, event InternalEvent) { seen = event })
	b.Publish(context.Background(), InternalEvent{Type: EventReconcileNow})
	b.Wait()
	assert.False(t, seen.Timestamp.IsZero())
}
