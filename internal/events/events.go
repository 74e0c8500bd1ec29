// Package events carries board change notifications over Redis pub/sub.
// Payloads are JSON-encoded model.BoardEvent values; subscribers only need
// the board id to invalidate what they hold.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/kanban-board-api/internal/model"
)

const DefaultChannel = "board-events"

// Publisher delivers a batch of events. A returned error leaves the batch in
// the outbox for the next attempt.
type Publisher interface {
	Publish(ctx context.Context, events []model.BoardEvent) error
}

type RedisPublisher struct {
	rc      *redis.Client
	channel string
}

func NewRedisPublisher(rc *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{rc: rc, channel: channel}
}

// Publish sends the whole batch in one pipeline.
func (p *RedisPublisher) Publish(ctx context.Context, events []model.BoardEvent) error {
	if len(events) == 0 {
		return nil
	}
	_, err := p.rc.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range events {
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			pipe.Publish(ctx, p.channel, data)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish %d events: %w", len(events), err)
	}
	return nil
}

// Subscribe delivers every event on channel to handle until ctx is done,
// resubscribing when the connection drops.
func Subscribe(ctx context.Context, logger *zap.Logger, rc *redis.Client, channel string, handle func(model.BoardEvent)) {
	if channel == "" {
		channel = DefaultChannel
	}
	for {
		sub := rc.Subscribe(ctx, channel)
		consume(ctx, logger, sub.Channel(), handle)
		_ = sub.Close()

		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting", zap.String("channel", channel))
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func consume(ctx context.Context, logger *zap.Logger, ch <-chan *redis.Message, handle func(model.BoardEvent)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev model.BoardEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Warn("unable to parse board event", zap.Error(err))
				continue
			}
			handle(ev)
		}
	}
}

// LogPublisher stands in when no broker is configured. It only records that
// a batch was drained.
type LogPublisher struct {
	Logger *zap.Logger
}

func (p LogPublisher) Publish(_ context.Context, events []model.BoardEvent) error {
	for _, e := range events {
		p.Logger.Debug("board event",
			zap.String("type", string(e.Type)),
			zap.Int64("board_id", e.BoardID),
			zap.Int64("revision", e.Revision),
		)
	}
	return nil
}
