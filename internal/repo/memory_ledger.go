package repo

import (
	"context"
	"fmt"
	"slices"

	"github.com/BuzzLyutic/kanban-board-api/internal/model"
)

type memLedger struct {
	store   *MemoryStore
	data    boardData
	created []int64
	deleted []int64
	audit   []model.AuditEntry
}

func (l *memLedger) Board(context.Context) model.Board { return l.data.board }

func (l *memLedger) Task(_ context.Context, id int64) (model.Task, error) {
	t, ok := l.data.tasks[id]
	if !ok {
		return model.Task{}, ErrorNotFound
	}
	return t, nil
}

func (l *memLedger) Columns(context.Context) ([]model.Column, error) {
	cols := slices.Clone(l.data.columns)
	for i := range cols {
		cols[i].TaskCount = 0
	}
	for _, t := range l.data.tasks {
		if i := l.columnIndex(t.ColumnID); i >= 0 {
			cols[i].TaskCount++
		}
	}
	return cols, nil
}

func (l *memLedger) ShiftRange(_ context.Context, columnID int64, from, to, delta int) error {
	for id, t := range l.data.tasks {
		if t.ColumnID != columnID || t.Position < from || (to >= 0 && t.Position > to) {
			continue
		}
		t.Position += delta
		if t.Position < 0 {
			return fmt.Errorf("%w: task %d shifted to position %d", model.ErrInvariant, id, t.Position)
		}
		l.data.tasks[id] = t
	}
	return nil
}

func (l *memLedger) PlaceTask(_ context.Context, taskID, columnID int64, position int) (model.Task, error) {
	t, ok := l.data.tasks[taskID]
	if !ok {
		return model.Task{}, ErrorNotFound
	}
	if l.columnIndex(columnID) < 0 {
		return model.Task{}, model.NewValidationError("column %d is not on board %d", columnID, l.data.board.ID)
	}
	t.ColumnID = columnID
	t.Position = position
	t.UpdatedAt = l.store.now().UTC()
	l.data.tasks[taskID] = t
	return t, nil
}

func (l *memLedger) InsertTask(_ context.Context, nt model.NewTask, position int) (model.Task, error) {
	if l.columnIndex(nt.ColumnID) < 0 {
		return model.Task{}, model.NewValidationError("column %d is not on board %d", nt.ColumnID, l.data.board.ID)
	}
	now := l.store.now().UTC()
	t := model.Task{
		ID:        l.store.ids.Add(1),
		BoardID:   l.data.board.ID,
		ColumnID:  nt.ColumnID,
		Title:     nt.Title,
		Position:  position,
		Priority:  nt.Priority,
		Locked:    nt.Locked,
		CanMoveTo: slices.Clone(nt.CanMoveTo),
		CreatedAt: now,
		UpdatedAt: now,
	}
	l.data.tasks[t.ID] = t
	l.created = append(l.created, t.ID)
	return t, nil
}

func (l *memLedger) DeleteTask(_ context.Context, id int64) error {
	if _, ok := l.data.tasks[id]; !ok {
		return ErrorNotFound
	}
	delete(l.data.tasks, id)
	l.deleted = append(l.deleted, id)
	return nil
}

func (l *memLedger) Reindex(_ context.Context, columnID int64) (int, error) {
	changed := 0
	for i, t := range l.data.columnTasks(columnID) {
		if t.Position != i {
			t.Position = i
			l.data.tasks[t.ID] = t
			changed++
		}
	}
	return changed, nil
}

func (l *memLedger) CheckColumn(_ context.Context, columnID int64) error {
	tasks := l.data.columnTasks(columnID)
	if len(tasks) == 0 {
		return nil
	}
	seen := make(map[int]bool, len(tasks))
	for _, t := range tasks {
		seen[t.Position] = true
	}
	return checkSequence(columnID, len(tasks), len(seen), tasks[0].Position, tasks[len(tasks)-1].Position)
}

func (l *memLedger) uniquePositions(columnID int64) error {
	seen := make(map[int]int64)
	for _, t := range l.data.tasks {
		if t.ColumnID != columnID {
			continue
		}
		if other, dup := seen[t.Position]; dup {
			return fmt.Errorf("%w: tasks %d and %d share position %d in column %d",
				ErrorConflict, other, t.ID, t.Position, columnID)
		}
		seen[t.Position] = t.ID
	}
	return nil
}

func (l *memLedger) State(context.Context) (model.BoardState, error) {
	return l.data.state(), nil
}

func (l *memLedger) BumpRevision(context.Context) (int64, error) {
	l.data.board.Revision++
	return l.data.board.Revision, nil
}

func (l *memLedger) AppendAudit(_ context.Context, e model.AuditEntry) error {
	e.ID = l.store.ids.Add(1)
	e.BoardID = l.data.board.ID
	e.CreatedAt = l.store.now().UTC()
	l.audit = append(l.audit, e)
	return nil
}

func (l *memLedger) Enqueue(_ context.Context, e model.BoardEvent) error {
	l.data.pending = append(l.data.pending, stampEvent(e, l.store.now()))
	return nil
}

func (l *memLedger) Idempotent(_ context.Context, key string) ([]byte, error) {
	payload, ok := l.data.idem[key]
	if !ok {
		return nil, ErrorNotFound
	}
	return payload, nil
}

func (l *memLedger) SaveIdempotent(_ context.Context, key string, payload []byte) error {
	if _, ok := l.data.idem[key]; !ok {
		l.data.idem[key] = slices.Clone(payload)
	}
	return nil
}

func (l *memLedger) columnIndex(id int64) int {
	return slices.IndexFunc(l.data.columns, func(c model.Column) bool { return c.ID == id })
}
