package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BuzzLyutic/kanban-board-api/internal/model"
	"github.com/BuzzLyutic/kanban-board-api/internal/repo"
)

type TaskService struct {
	deps
}

func NewTaskService(store repo.BoardStore, opts ...Option) *TaskService {
	return &TaskService{deps: newDeps(store, opts)}
}

// Create appends a task at the end of its column.
func (s *TaskService) Create(ctx context.Context, actor model.Actor, nt model.NewTask, idempKey string) (model.Task, error) {
	if nt.Priority == "" {
		nt.Priority = model.PriorityMedium
	}
	if err := s.validate(nt); err != nil { // Валидация модели на корректность введенных данных
		return model.Task{}, err
	}

	var (
		created model.Task
		rev     int64
	)
	key := idempotencyKey("create", actor, idempKey)
	err := s.store.WithinBoard(ctx, nt.BoardID, func(l repo.Ledger) error {
		if key != "" { // если ключ уже использован, возвращаем ранее созданную задачу
			payload, err := l.Idempotent(ctx, key)
			switch {
			case err == nil:
				return json.Unmarshal(payload, &created)
			case !errors.Is(err, repo.ErrorNotFound):
				return err
			}
		}

		if l.Board(ctx).Archived {
			return model.NewValidationError("board %d is archived", nt.BoardID)
		}
		cols, err := l.Columns(ctx)
		if err != nil {
			return err
		}
		col, ok := findColumn(cols, nt.ColumnID)
		if !ok {
			return model.NewValidationError("column %d does not belong to board %d", nt.ColumnID, nt.BoardID)
		}
		if col.Locked && !actor.Elevated {
			return &model.PolicyError{Reason: fmt.Sprintf("column %q is locked and requires elevated privileges", col.Name)}
		}
		if col.AtCapacity() {
			return &model.PolicyError{Reason: fmt.Sprintf("column %q has reached maximum capacity (%d)", col.Name, *col.MaxTasks)}
		}

		created, err = l.InsertTask(ctx, nt, col.TaskCount)
		if err != nil {
			return err
		}
		if err := checkColumns(ctx, l, col.ID); err != nil {
			return err
		}
		entry := model.AuditEntry{
			TaskID:     created.ID,
			UserID:     actor.UserID,
			Action:     model.AuditCreated,
			ToColumnID: &created.ColumnID,
			ToPosition: &created.Position,
		}
		if err := commitChange(ctx, l, entry, model.EventTaskCreated); err != nil {
			return err
		}
		rev = l.Board(ctx).Revision

		if key != "" {
			payload, err := json.Marshal(created)
			if err != nil {
				return err
			}
			return l.SaveIdempotent(ctx, key, payload)
		}
		return nil
	})
	if err != nil {
		return model.Task{}, err
	}

	if rev > 0 {
		s.snapshots.Evict(ctx, nt.BoardID, rev)
	}
	s.logger.Info("Task created",
		zap.Int64("task_id", created.ID),
		zap.Int64("column", created.ColumnID),
		zap.Int("position", created.Position),
	)
	return created, nil
}

func (s *TaskService) Get(ctx context.Context, id int64) (model.Task, error) {
	return s.store.Task(ctx, id)
}

// Delete removes a task and closes the gap it leaves in its column.
func (s *TaskService) Delete(ctx context.Context, actor model.Actor, id int64) error {
	located, err := s.store.Task(ctx, id)
	if err != nil {
		return err
	}

	var rev int64
	err = s.store.WithinBoard(ctx, located.BoardID, func(l repo.Ledger) error {
		task, err := l.Task(ctx, id)
		if err != nil {
			return err
		}
		if task.Locked && !actor.Elevated {
			return &model.PolicyError{Reason: "task is locked and requires elevated privileges"}
		}
		if err := l.DeleteTask(ctx, id); err != nil {
			return err
		}
		if err := removeAt(ctx, l, task.ColumnID, task.Position); err != nil {
			return err
		}
		if err := checkColumns(ctx, l, task.ColumnID); err != nil {
			return err
		}
		err = commitChange(ctx, l, model.AuditEntry{
			TaskID:       task.ID,
			UserID:       actor.UserID,
			Action:       model.AuditDeleted,
			FromColumnID: &task.ColumnID,
			FromPosition: &task.Position,
		}, model.EventTaskDeleted)
		rev = l.Board(ctx).Revision
		return err
	})
	if err != nil {
		return err
	}

	s.snapshots.Evict(ctx, located.BoardID, rev)
	s.logger.Info("Task deleted", zap.Int64("task_id", id), zap.String("user", actor.UserID))
	return nil
}

// AuditLog lists a task's transitions, including those of deleted tasks.
func (s *TaskService) AuditLog(ctx context.Context, taskID int64) ([]model.AuditEntry, error) {
	return s.store.AuditLog(ctx, taskID)
}

func (s *TaskService) validate(nt model.NewTask) error {
	if strings.TrimSpace(nt.Title) == "" {
		return model.NewValidationError("title is required")
	}
	if !nt.Priority.Valid() {
		return model.NewValidationError("unknown priority %q", nt.Priority)
	}
	if nt.BoardID <= 0 || nt.ColumnID <= 0 {
		return model.NewValidationError("board and column are required")
	}
	return nil
}
