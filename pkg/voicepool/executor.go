package voicepool

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/mywio/voice-pool/pkg/core"
)

const (
	opCreate = "create"
	opDelete = "delete"
	opRename = "rename"
)

// call is one external operation of a batch.
type call struct {
	op      string
	channel string
	name    string
	event   core.EventTypeName
	fn      func(ctx context.Context) error
}

// executor issues a batch of calls concurrently and returns once every call
// has settled. Failures are logged and counted, never retried.
type executor struct {
	api     ChannelAPI
	metrics *Metrics
	limit   int
	dryRun  bool
	publish func(ctx context.Context, event core.InternalEvent)
}

func (e *executor) run(ctx context.Context, logger *slog.Logger, guildID string, calls []call) {
	if len(calls) == 0 {
		return
	}
	if e.dryRun {
		for _, c := range calls {
			logger.Info("DryRun: would call channel API", "op", c.op, "channel", c.channel, "name", c.name)
		}
		return
	}

	var g errgroup.Group
	if e.limit > 0 {
		g.SetLimit(e.limit)
	}
	for _, c := range calls {
		c := c
		g.Go(func() error {
			err := c.fn(ctx)
			e.metrics.call(c.op, err)
			if err != nil {
				logger.Error("Channel API call failed", "op", c.op, "channel", c.channel, "name", c.name, "error", err)
				e.emit(ctx, core.InternalEvent{
					Type:  core.EventPoolCallFailed,
					Guild: guildID,
					Details: map[string]interface{}{
						"op":      c.op,
						"channel": c.channel,
						"name":    c.name,
						"error":   err.Error(),
					},
				})
				return nil
			}
			logger.Debug("Channel API call done", "op", c.op, "channel", c.channel, "name", c.name)
			e.emit(ctx, core.InternalEvent{
				Type:    c.event,
				Guild:   guildID,
				String:  c.name,
				Details: map[string]interface{}{"channel": c.channel, "name": c.name},
			})
			return nil
		})
	}
	_ = g.Wait()
}

func (e *executor) emit(ctx context.Context, event core.InternalEvent) {
	if e.publish == nil || event.Type == "" {
		return
	}
	event.Source = "voicepool"
	e.publish(ctx, event)
}

func (e *executor) createCall(guildID string, req CreateRequest) call {
	return call{
		op:      opCreate,
		channel: req.Source.ID,
		name:    req.Name,
		event:   core.EventPoolChannelCreated,
		fn: func(ctx context.Context) error {
			_, err := e.api.CreateLike(ctx, guildID, req.Source, req.Name, req.Position)
			return err
		},
	}
}

func (e *executor) deleteCall(guildID string, ch Channel) call {
	return call{
		op:      opDelete,
		channel: ch.ID,
		name:    ch.Name,
		event:   core.EventPoolChannelDeleted,
		fn: func(ctx context.Context) error {
			return e.api.Delete(ctx, guildID, ch)
		},
	}
}

func (e *executor) renameCall(guildID string, req RenameRequest) call {
	return call{
		op:      opRename,
		channel: req.Channel.ID,
		name:    req.Name,
		event:   core.EventPoolChannelRenamed,
		fn: func(ctx context.Context) error {
			return e.api.Rename(ctx, guildID, req.Channel, req.Name)
		},
	}
}
