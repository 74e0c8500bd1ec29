package events

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/kanban-board-api/internal/model"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

func TestPublishAndSubscribe(t *testing.T) {
	rc := newRedis(t)

	var mu sync.Mutex
	var got []model.BoardEvent
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Subscribe(ctx, zap.NewNop(), rc, "test-events", func(e model.BoardEvent) {
			mu.Lock()
			got = append(got, e)
			mu.Unlock()
		})
		close(done)
	}()

	// wait for subscription to start
	require.Eventually(t, func() bool {
		n, err := rc.PubSubNumSub(context.Background(), "test-events").Result()
		return err == nil && n["test-events"] == 1
	}, time.Second, 10*time.Millisecond)

	pub := NewRedisPublisher(rc, "test-events")
	sent := []model.BoardEvent{
		{ID: "e1", Type: model.EventTaskMoved, BoardID: 7, TaskID: 3, Revision: 4},
		{ID: "e2", Type: model.EventBoardArchived, BoardID: 7, Revision: 5},
	}
	require.NoError(t, pub.Publish(context.Background(), sent))

	// malformed payloads are skipped
	require.NoError(t, rc.Publish(context.Background(), "test-events", "not json").Err())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "e1", got[0].ID)
	assert.Equal(t, int64(3), got[0].TaskID)
	assert.Equal(t, model.EventBoardArchived, got[1].Type)
	mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Subscribe did not exit")
	}
}

func TestPublishEmptyBatch(t *testing.T) {
	pub := NewRedisPublisher(newRedis(t), "")
	assert.NoError(t, pub.Publish(context.Background(), nil))
}

func TestPublishFailsWhenRedisIsDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rc.Close() })
	mr.Close()

	err = NewRedisPublisher(rc, "").Publish(context.Background(), []model.BoardEvent{{ID: "e1", BoardID: 1}})
	assert.Error(t, err)
}

func TestLogPublisher(t *testing.T) {
	pub := LogPublisher{Logger: zap.NewNop()}
	assert.NoError(t, pub.Publish(context.Background(), []model.BoardEvent{{ID: "e1", BoardID: 1}}))
}
