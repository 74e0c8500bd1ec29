package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/BuzzLyutic/kanban-board-api/internal/constraint"
	"github.com/BuzzLyutic/kanban-board-api/internal/model"
	"github.com/BuzzLyutic/kanban-board-api/internal/repo"
)

type BoardService struct {
	deps
}

func NewBoardService(store repo.BoardStore, opts ...Option) *BoardService {
	return &BoardService{deps: newDeps(store, opts)}
}

func (s *BoardService) Create(ctx context.Context, actor model.Actor, name string, columns []repo.ColumnSpec) (model.BoardState, error) {
	if !actor.Elevated {
		return model.BoardState{}, &model.PolicyError{Reason: "creating boards requires elevated privileges"}
	}
	if name == "" || len(columns) == 0 {
		return model.BoardState{}, model.NewValidationError("board needs a name and at least one column")
	}
	return s.store.CreateBoard(ctx, name, columns)
}

func (s *BoardService) Snapshot(ctx context.Context, boardID int64) (model.BoardState, error) {
	return s.snapshots.BoardState(ctx, boardID)
}

// Constraints evaluates the move rules for one task against the current
// board. The answer is advisory; Move re-checks inside its transaction.
func (s *BoardService) Constraints(ctx context.Context, actor model.Actor, boardID, taskID int64) (constraint.Result, error) {
	state, err := s.store.BoardState(ctx, boardID)
	if err != nil {
		return constraint.Result{}, err
	}
	task, _, ok := state.FindTask(taskID)
	if !ok {
		return constraint.Result{}, repo.ErrorNotFound
	}
	return s.rules.Evaluate(task, state.ColumnList(), actor), nil
}

// Reindex renumbers every column of the board to 0..n-1. It is a repair
// tool; moves never leave gaps.
func (s *BoardService) Reindex(ctx context.Context, actor model.Actor, boardID int64) (int, error) {
	if !actor.Elevated {
		return 0, &model.PolicyError{Reason: "reindexing requires elevated privileges"}
	}

	total := 0
	var rev int64
	err := s.store.WithinBoard(ctx, boardID, func(l repo.Ledger) error {
		cols, err := l.Columns(ctx)
		if err != nil {
			return err
		}
		for _, c := range cols {
			n, err := l.Reindex(ctx, c.ID)
			if err != nil {
				return err
			}
			total += n
		}
		for _, c := range cols {
			if err := l.CheckColumn(ctx, c.ID); err != nil {
				return err
			}
		}
		if total == 0 {
			return nil
		}
		rev, err = l.BumpRevision(ctx)
		if err != nil {
			return err
		}
		return l.Enqueue(ctx, model.BoardEvent{Type: model.EventBoardReindexed, BoardID: boardID, Revision: rev})
	})
	if err != nil {
		return 0, err
	}
	if total > 0 {
		s.snapshots.Evict(ctx, boardID, rev)
		s.logger.Warn("Board reindexed", zap.Int64("board_id", boardID), zap.Int("tasks", total))
	}
	return total, nil
}

func (s *BoardService) SetArchived(ctx context.Context, actor model.Actor, boardID int64, archived bool) (model.Board, error) {
	if !actor.Elevated {
		return model.Board{}, &model.PolicyError{Reason: "archiving boards requires elevated privileges"}
	}
	b, err := s.store.SetArchived(ctx, boardID, archived)
	if err != nil {
		return b, err
	}
	s.snapshots.Evict(ctx, boardID, b.Revision)
	return b, nil
}
