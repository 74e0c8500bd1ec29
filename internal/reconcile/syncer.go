package reconcile

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/kanban-board-api/internal/events"
	"github.com/BuzzLyutic/kanban-board-api/internal/model"
)

// Syncer refetches held boards when another client changes them.
type Syncer struct {
	cache   *Cache
	rc      *redis.Client
	channel string
	logger  *zap.Logger
}

func NewSyncer(cache *Cache, rc *redis.Client, channel string, logger *zap.Logger) *Syncer {
	if channel == "" {
		channel = events.DefaultChannel
	}
	return &Syncer{cache: cache, rc: rc, channel: channel, logger: logger}
}

// Run blocks until ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) {
	events.Subscribe(ctx, s.logger, s.rc, s.channel, func(ev model.BoardEvent) {
		s.Handle(ctx, ev)
	})
}

// Handle invalidates the event's board when the cache holds an older
// revision of it. Boards the cache never loaded are ignored.
func (s *Syncer) Handle(ctx context.Context, ev model.BoardEvent) {
	held, ok := s.cache.Revision(ev.BoardID)
	if !ok || ev.Revision <= held {
		return
	}
	if err := s.cache.Invalidate(ctx, ev.BoardID); err != nil {
		s.logger.Warn("unable to refresh board",
			zap.Int64("board_id", ev.BoardID),
			zap.String("event", string(ev.Type)),
			zap.Error(err),
		)
	}
}
