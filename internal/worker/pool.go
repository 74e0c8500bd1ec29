// Package worker drains the board event outbox and publishes each batch.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BuzzLyutic/kanban-board-api/internal/events"
	"github.com/BuzzLyutic/kanban-board-api/internal/model"
	"github.com/BuzzLyutic/kanban-board-api/internal/repo"
)

const (
	DefaultInterval  = time.Second
	DefaultBatchSize = 100
)

type Pool struct {
	outbox    repo.Outbox
	publisher events.Publisher
	logger    *zap.Logger
	count     int
	interval  time.Duration
	batch     int

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

type Option func(*Pool)

func WithInterval(d time.Duration) Option {
	return func(p *Pool) { p.interval = d }
}

func WithBatchSize(n int) Option {
	return func(p *Pool) { p.batch = n }
}

func NewPool(outbox repo.Outbox, publisher events.Publisher, logger *zap.Logger, count int, opts ...Option) *Pool {
	if count < 1 {
		count = 1
	}
	p := &Pool{
		outbox:    outbox,
		publisher: publisher,
		logger:    logger,
		count:     count,
		interval:  DefaultInterval,
		batch:     DefaultBatchSize,
		stop:      make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("Starting worker pool", zap.Int("workers", p.count), zap.Duration("interval", p.interval))

	for i := 0; i < p.count; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *Pool) Stop() {
	p.logger.Info("Stopping worker pool...")
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Keep draining while full batches come back.
			for {
				n, err := p.processNext(ctx, id)
				if err != nil {
					if ctx.Err() == nil {
						p.logger.Error("worker error", zap.Int("worker", id), zap.Error(err))
					}
					break
				}
				if n < p.batch {
					break
				}
			}
		}
	}
}

// processNext publishes one batch. Events stay in the outbox when publishing
// fails, so delivery is at least once.
func (p *Pool) processNext(ctx context.Context, workerID int) (int, error) {
	return p.outbox.DrainEvents(ctx, p.batch, func(batch []model.BoardEvent) error {
		if err := p.publisher.Publish(ctx, batch); err != nil {
			return err
		}
		p.logger.Debug("Published board events",
			zap.Int("worker", workerID),
			zap.Int("count", len(batch)),
			zap.Int64("board_id", batch[0].BoardID),
		)
		return nil
	})
}
