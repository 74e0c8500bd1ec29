package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/kanban-board-api/internal/events"
	"github.com/BuzzLyutic/kanban-board-api/internal/model"
	"github.com/BuzzLyutic/kanban-board-api/internal/repo"
)

type recordingPublisher struct {
	mu     sync.Mutex
	fail   bool
	events []model.BoardEvent
}

func (r *recordingPublisher) Publish(_ context.Context, batch []model.BoardEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("broker unavailable")
	}
	r.events = append(r.events, batch...)
	return nil
}

func (r *recordingPublisher) setFail(v bool) {
	r.mu.Lock()
	r.fail = v
	r.mu.Unlock()
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// seedEvents commits n board changes, each queueing one event.
func seedEvents(t *testing.T, store *repo.MemoryStore, n int) int64 {
	t.Helper()
	ctx := context.Background()
	board, err := store.CreateBoard(ctx, "Sprint", []repo.ColumnSpec{{Name: "Todo"}})
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		err := store.WithinBoard(ctx, board.Board.ID, func(l repo.Ledger) error {
			rev, err := l.BumpRevision(ctx)
			if err != nil {
				return err
			}
			return l.Enqueue(ctx, model.BoardEvent{Type: model.EventTaskMoved, BoardID: board.Board.ID, Revision: rev})
		})
		require.NoError(t, err)
	}
	return board.Board.ID
}

func TestPool_PublishesOutbox(t *testing.T) {
	store := repo.NewMemoryStore()
	seedEvents(t, store, 25)
	pub := &recordingPublisher{}

	p := NewPool(store, pub, zap.NewNop(), 3, WithInterval(10*time.Millisecond), WithBatchSize(10))
	p.Start(context.Background())
	defer p.Stop()

	require.Eventually(t, func() bool { return pub.count() == 25 }, 2*time.Second, 10*time.Millisecond)

	seen := make(map[string]bool)
	pub.mu.Lock()
	for _, e := range pub.events {
		assert.False(t, seen[e.ID], "event %s published twice", e.ID)
		seen[e.ID] = true
	}
	pub.mu.Unlock()
}

func TestPool_RetriesAfterPublishFailure(t *testing.T) {
	store := repo.NewMemoryStore()
	seedEvents(t, store, 3)
	pub := &recordingPublisher{fail: true}

	p := NewPool(store, pub, zap.NewNop(), 1, WithInterval(10*time.Millisecond))
	p.Start(context.Background())
	defer p.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, pub.count())

	pub.setFail(false)
	require.Eventually(t, func() bool { return pub.count() == 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestPool_PublishesToRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	received := make(chan model.BoardEvent, 10)
	go events.Subscribe(ctx, zap.NewNop(), rc, events.DefaultChannel, func(e model.BoardEvent) { received <- e })
	require.Eventually(t, func() bool {
		n, err := rc.PubSubNumSub(ctx, events.DefaultChannel).Result()
		return err == nil && n[events.DefaultChannel] == 1
	}, time.Second, 10*time.Millisecond)

	store := repo.NewMemoryStore()
	boardID := seedEvents(t, store, 1)

	p := NewPool(store, events.NewRedisPublisher(rc, ""), zap.NewNop(), 1, WithInterval(10*time.Millisecond))
	p.Start(ctx)
	defer p.Stop()

	select {
	case e := <-received:
		assert.Equal(t, boardID, e.BoardID)
		assert.Equal(t, model.EventTaskMoved, e.Type)
		assert.Equal(t, int64(1), e.Revision)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not published")
	}
}

func TestPool_GracefulShutdown(t *testing.T) {
	p := NewPool(repo.NewMemoryStore(), &recordingPublisher{}, zap.NewNop(), 2, WithInterval(10*time.Millisecond))
	p.Start(context.Background())
	time.Sleep(30 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Stop()
		p.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker pool did not stop gracefully within 5 seconds")
	}
}
