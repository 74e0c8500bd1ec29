// Package cache keeps serialized board snapshots in Redis in front of the
// position ledger.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/kanban-board-api/internal/model"
)

type backend interface {
	BoardState(ctx context.Context, boardID int64) (model.BoardState, error)
}

// Snapshots serves board snapshots from Redis, falling back to the ledger on
// a miss or any Redis error. Writers call Evict with the revision they
// committed; that revision becomes a floor below which no snapshot is cached.
type Snapshots struct {
	base   backend
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewSnapshots(base backend, client *redis.Client, ttl time.Duration, logger *zap.Logger) *Snapshots {
	if base == nil {
		panic("cache.NewSnapshots: base store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Snapshots{base: base, redis: client, ttl: ttl, logger: logger}
}

func (c *Snapshots) BoardState(ctx context.Context, boardID int64) (model.BoardState, error) {
	if state, ok := c.load(ctx, boardID); ok {
		return state, nil
	}

	state, err := c.base.BoardState(ctx, boardID)
	if err != nil {
		return model.BoardState{}, err
	}
	c.store(ctx, state)
	return state, nil
}

// evictScript raises the revision floor and drops the snapshot atomically.
var evictScript = redis.NewScript(`
local floor = tonumber(redis.call('GET', KEYS[1]) or '0')
if tonumber(ARGV[1]) > floor then
	redis.call('SET', KEYS[1], ARGV[1])
end
return redis.call('DEL', KEYS[2])
`)

func (c *Snapshots) Evict(ctx context.Context, boardID, revision int64) {
	if c.redis == nil {
		return
	}
	keys := []string{floorKey(boardID), snapshotKey(boardID)}
	if err := evictScript.Run(ctx, c.redis, keys, revision).Err(); err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("evict board snapshot", zap.Int64("board_id", boardID), zap.Error(err))
	}
}

func (c *Snapshots) load(ctx context.Context, boardID int64) (model.BoardState, bool) {
	if c.redis == nil {
		return model.BoardState{}, false
	}
	data, err := c.redis.Get(ctx, snapshotKey(boardID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("read board snapshot", zap.Int64("board_id", boardID), zap.Error(err))
		}
		return model.BoardState{}, false
	}
	var state model.BoardState
	if err := json.Unmarshal(data, &state); err != nil {
		_ = c.redis.Del(ctx, snapshotKey(boardID)).Err()
		return model.BoardState{}, false
	}
	return state, true
}

// store refuses states below the eviction floor and never overwrites a newer
// cached revision. Both keys are watched, so an Evict racing the write aborts it.
func (c *Snapshots) store(ctx context.Context, state model.BoardState) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(state)
	if err != nil {
		return
	}
	key, floor := snapshotKey(state.Board.ID), floorKey(state.Board.ID)
	err = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		lowest, err := tx.Get(ctx, floor).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if state.Board.Revision < lowest {
			return nil
		}
		cached, err := tx.Get(ctx, key).Bytes()
		if err == nil {
			var prev struct {
				Board model.Board `json:"board"`
			}
			if json.Unmarshal(cached, &prev) == nil && prev.Board.Revision > state.Board.Revision {
				return nil
			}
		} else if !errors.Is(err, redis.Nil) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, c.ttl)
			return nil
		})
		return err
	}, key, floor)
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		c.logger.Warn("write board snapshot", zap.Int64("board_id", state.Board.ID), zap.Error(err))
	}
}

func snapshotKey(boardID int64) string {
	return "board:" + strconv.FormatInt(boardID, 10) + ":snapshot"
}

func floorKey(boardID int64) string {
	return "board:" + strconv.FormatInt(boardID, 10) + ":rev"
}
