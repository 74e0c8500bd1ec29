package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BuzzLyutic/kanban-board-api/internal/model"
	"github.com/BuzzLyutic/kanban-board-api/internal/repo"
)

// ConflictTolerance is how far the server's last-modified time of a task may
// be ahead of the client's observed timestamp before a move is rejected as a
// conflict. It absorbs rapid successive moves by the same actor.
const ConflictTolerance = 2000 * time.Millisecond

// MoveService is the only writer of task positions for moves. Every move is
// one unit of work against the board's ledger.
type MoveService struct {
	deps
}

func NewMoveService(store repo.BoardStore, opts ...Option) *MoveService {
	return &MoveService{deps: newDeps(store, opts)}
}

func (s *MoveService) Move(ctx context.Context, actor model.Actor, req model.MoveRequest) (model.MoveResult, error) {
	if err := validateMoveRequest(req); err != nil {
		return model.MoveResult{}, err
	}

	located, err := s.store.Task(ctx, req.TaskID)
	if err != nil {
		return model.MoveResult{}, err
	}

	var (
		res      model.MoveResult
		from     model.Task
		changed  bool
		replayed bool
	)
	key := idempotencyKey("move", actor, req.IdempotencyToken)

	err = s.store.WithinBoard(ctx, located.BoardID, func(l repo.Ledger) error {
		if key != "" {
			payload, err := l.Idempotent(ctx, key)
			switch {
			case err == nil:
				replayed = true
				return json.Unmarshal(payload, &res)
			case !errors.Is(err, repo.ErrorNotFound):
				return fmt.Errorf("idempotency lookup: %w", err)
			}
		}

		task, err := l.Task(ctx, req.TaskID)
		if err != nil {
			return err
		}
		from = task

		if req.ClientObservedAtMs != nil {
			diff := task.UpdatedAt.UnixMilli() - *req.ClientObservedAtMs
			if diff > ConflictTolerance.Milliseconds() {
				state, err := l.State(ctx)
				if err != nil {
					return err
				}
				return &model.ConflictError{Task: task, Board: state, TimeDifferenceMs: diff}
			}
		}

		if l.Board(ctx).Archived {
			return model.NewValidationError("board %d is archived", task.BoardID)
		}

		cols, err := l.Columns(ctx)
		if err != nil {
			return err
		}
		dest, ok := findColumn(cols, req.ColumnID)
		if !ok {
			return model.NewValidationError("column %d does not belong to board %d", req.ColumnID, task.BoardID)
		}

		maxPos := dest.TaskCount
		if dest.ID == task.ColumnID {
			maxPos--
		}
		if req.Position > maxPos {
			return model.NewValidationError("position %d out of range [0, %d]", req.Position, maxPos)
		}

		if d := s.rules.Check(task, cols, dest.ID, actor); !d.Allowed {
			return &model.PolicyError{Reason: d.Reason}
		}

		moved, ok, err := relocate(ctx, l, task, dest.ID, req.Position)
		if err != nil {
			return err
		}
		changed = ok
		if changed {
			if err := checkColumns(ctx, l, task.ColumnID, dest.ID); err != nil {
				return err
			}
			entry := model.AuditEntry{
				TaskID:       task.ID,
				UserID:       actor.UserID,
				Action:       model.AuditMoved,
				FromColumnID: &task.ColumnID,
				FromPosition: &task.Position,
				ToColumnID:   &moved.ColumnID,
				ToPosition:   &moved.Position,
			}
			if err := commitChange(ctx, l, entry, model.EventTaskMoved); err != nil {
				return err
			}
		}

		state, err := l.State(ctx)
		if err != nil {
			return err
		}
		res = model.MoveResult{
			Task:              moved,
			ServerTimestampMs: s.now().UnixMilli(),
			Board:             state,
			IdempotencyToken:  req.IdempotencyToken,
		}

		if key != "" {
			payload, err := json.Marshal(res)
			if err != nil {
				return err
			}
			if err := l.SaveIdempotent(ctx, key, payload); err != nil {
				return fmt.Errorf("save idempotency key: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		s.logMoveError(req, actor, err)
		return model.MoveResult{}, err
	}

	if replayed {
		s.logger.Info("Move replayed from idempotency key",
			zap.Int64("task_id", req.TaskID),
			zap.String("token", req.IdempotencyToken),
		)
		return res, nil
	}
	if changed {
		s.snapshots.Evict(ctx, located.BoardID, res.Board.Board.Revision)
	}

	s.logger.Info("Task moved",
		zap.Int64("task_id", req.TaskID),
		zap.String("user", actor.UserID),
		zap.Int64("from_column", from.ColumnID),
		zap.Int("from_position", from.Position),
		zap.Int64("to_column", res.Task.ColumnID),
		zap.Int("to_position", res.Task.Position),
		zap.Int64("revision", res.Board.Board.Revision),
	)
	return res, nil
}

func (s *MoveService) logMoveError(req model.MoveRequest, actor model.Actor, err error) {
	fields := []zap.Field{
		zap.Int64("task_id", req.TaskID),
		zap.String("user", actor.UserID),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, model.ErrConflict):
		s.logger.Warn("Move rejected: conflict", fields...)
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrPolicy), errors.Is(err, repo.ErrorNotFound):
		s.logger.Info("Move rejected", fields...)
	default:
		s.logger.Error("Move failed", fields...)
	}
}

func validateMoveRequest(req model.MoveRequest) error {
	switch {
	case req.TaskID <= 0:
		return model.NewValidationError("task id is required")
	case req.ColumnID <= 0:
		return model.NewValidationError("column id is required")
	case req.Position < 0:
		return model.NewValidationError("position must not be negative")
	}
	return nil
}
