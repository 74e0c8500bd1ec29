// Package reconcile holds the client's copy of each board: the last state the
// server confirmed plus at most one optimistic overlay drawn on top of it.
//
// Server states always win. Replace drops the overlay, and a state older than
// the confirmed base is ignored, so a slow response can never roll the view
// back past a newer one.
package reconcile

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/BuzzLyutic/kanban-board-api/internal/model"
)

// Fetcher loads the canonical state of a board.
type Fetcher interface {
	Board(ctx context.Context, boardID int64) (model.BoardState, error)
}

type entry struct {
	base    model.BoardState
	overlay *model.BoardState
	gen     uint64
}

type Cache struct {
	mu      sync.Mutex
	boards  map[int64]*entry
	gen     uint64
	fetcher Fetcher
	logger  *zap.Logger
}

func NewCache(fetcher Fetcher, logger *zap.Logger) *Cache {
	return &Cache{
		boards:  make(map[int64]*entry),
		fetcher: fetcher,
		logger:  logger,
	}
}

// Load returns the current view of a board, fetching it on first use.
func (c *Cache) Load(ctx context.Context, boardID int64) (model.BoardState, error) {
	if view, ok := c.View(boardID); ok {
		return view, nil
	}
	state, err := c.fetcher.Board(ctx, boardID)
	if err != nil {
		return model.BoardState{}, err
	}
	c.Replace(state)
	view, _ := c.View(boardID)
	return view, nil
}

// View is what the user should see: the overlay if a move is pending,
// otherwise the confirmed base.
func (c *Cache) View(boardID int64) (model.BoardState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.boards[boardID]
	if !ok {
		return model.BoardState{}, false
	}
	if e.overlay != nil {
		return e.overlay.Clone(), true
	}
	return e.base.Clone(), true
}

// Base is the last server-confirmed state.
func (c *Cache) Base(boardID int64) (model.BoardState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.boards[boardID]
	if !ok {
		return model.BoardState{}, false
	}
	return e.base.Clone(), true
}

func (c *Cache) Revision(boardID int64) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.boards[boardID]
	if !ok {
		return 0, false
	}
	return e.base.Board.Revision, true
}

// Pending reports whether an optimistic overlay is showing.
func (c *Cache) Pending(boardID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.boards[boardID]
	return ok && e.overlay != nil
}

// Boards lists the held board ids in ascending order.
func (c *Cache) Boards() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]int64, 0, len(c.boards))
	for id := range c.boards {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Replace installs a server-confirmed state and drops any overlay. It reports
// false when state is older than the base already held.
func (c *Cache) Replace(state model.BoardState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := state.Board.ID
	if e, ok := c.boards[id]; ok && state.Board.Revision < e.base.Board.Revision {
		c.logger.Debug("stale board state ignored",
			zap.Int64("board_id", id),
			zap.Int64("revision", state.Board.Revision),
			zap.Int64("held", e.base.Board.Revision),
		)
		return false
	}
	c.boards[id] = &entry{base: state.Clone()}
	return true
}

// SetOverlay shows state on top of the base until the server answers. The
// returned generation identifies this overlay to DiscardOverlay.
func (c *Cache) SetOverlay(state model.BoardState) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.boards[state.Board.ID]
	if !ok {
		return 0, false
	}
	c.gen++
	overlay := state.Clone()
	e.overlay = &overlay
	e.gen = c.gen
	return e.gen, true
}

// DiscardOverlay reverts to the base, but only if gen is still the overlay
// on display. A newer drop or a server state wins over an old failure.
func (c *Cache) DiscardOverlay(boardID int64, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.boards[boardID]
	if !ok || e.overlay == nil || e.gen != gen {
		return false
	}
	e.overlay = nil
	return true
}

// Invalidate refetches a held board. The result only lands when it is newer
// than the base, so an unchanged board keeps its pending overlay.
func (c *Cache) Invalidate(ctx context.Context, boardID int64) error {
	held, ok := c.Revision(boardID)
	if !ok {
		return nil
	}
	state, err := c.fetcher.Board(ctx, boardID)
	if err != nil {
		return err
	}
	if state.Board.Revision <= held {
		return nil
	}
	c.Replace(state)
	return nil
}

// Forget drops a board entirely.
func (c *Cache) Forget(boardID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.boards, boardID)
}
