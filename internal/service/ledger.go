package service

import (
	"context"

	"github.com/BuzzLyutic/kanban-board-api/internal/model"
	"github.com/BuzzLyutic/kanban-board-api/internal/repo"
)

// insertAt opens a slot at pos by shifting every task at or after it down.
func insertAt(ctx context.Context, l repo.Ledger, columnID int64, pos int) error {
	return l.ShiftRange(ctx, columnID, pos, -1, +1)
}

// removeAt closes the slot at pos by shifting every later task up.
func removeAt(ctx context.Context, l repo.Ledger, columnID int64, pos int) error {
	return l.ShiftRange(ctx, columnID, pos+1, -1, -1)
}

// relocate renumbers the siblings affected by moving task to (columnID, pos)
// and places it there. It reports false when the task is already in place.
func relocate(ctx context.Context, l repo.Ledger, task model.Task, columnID int64, pos int) (model.Task, bool, error) {
	old := task.Position
	switch {
	case task.ColumnID != columnID:
		if err := removeAt(ctx, l, task.ColumnID, old); err != nil {
			return task, false, err
		}
		if err := insertAt(ctx, l, columnID, pos); err != nil {
			return task, false, err
		}
	case pos > old:
		if err := l.ShiftRange(ctx, columnID, old+1, pos, -1); err != nil {
			return task, false, err
		}
	case pos < old:
		if err := l.ShiftRange(ctx, columnID, pos, old-1, +1); err != nil {
			return task, false, err
		}
	default:
		return task, false, nil
	}

	moved, err := l.PlaceTask(ctx, task.ID, columnID, pos)
	if err != nil {
		return task, false, err
	}
	return moved, true, nil
}

func checkColumns(ctx context.Context, l repo.Ledger, ids ...int64) error {
	for _, id := range ids {
		if err := l.CheckColumn(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func findColumn(cols []model.Column, id int64) (model.Column, bool) {
	for _, c := range cols {
		if c.ID == id {
			return c, true
		}
	}
	return model.Column{}, false
}
