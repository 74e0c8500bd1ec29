package repo

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BuzzLyutic/kanban-board-api/internal/model"
)

// MemoryStore is an in-process position ledger with the same unit-of-work
// semantics as BoardRepo: a per-board mutex serializes writers and each unit
// of work runs against a private copy that replaces the board's data only on
// success.
type MemoryStore struct {
	mu        sync.Mutex
	boards    map[int64]*memBoard
	taskBoard map[int64]int64
	audit     []model.AuditEntry

	ids     atomic.Int64
	drainMu sync.Mutex
	now     func() time.Time
}

type memBoard struct {
	mu   sync.Mutex
	data boardData
}

type boardData struct {
	board   model.Board
	columns []model.Column
	tasks   map[int64]model.Task
	idem    map[string][]byte
	pending []model.BoardEvent
}

func (d boardData) clone() boardData {
	return boardData{
		board:   d.board,
		columns: slices.Clone(d.columns),
		tasks:   maps.Clone(d.tasks),
		idem:    maps.Clone(d.idem),
		pending: slices.Clone(d.pending),
	}
}

type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used for task timestamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		boards:    make(map[int64]*memBoard),
		taskBoard: make(map[int64]int64),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *MemoryStore) board(id int64) (*memBoard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.boards[id]
	if !ok {
		return nil, ErrorNotFound
	}
	return b, nil
}

func (s *MemoryStore) WithinBoard(ctx context.Context, boardID int64, fn func(Ledger) error) error {
	b, err := s.board(boardID)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	l := &memLedger{store: s, data: b.data.clone()}
	if err := fn(l); err != nil {
		return err
	}
	// Mirrors the deferred UNIQUE(column_id, position) check at commit.
	for _, c := range l.data.columns {
		if err := l.uniquePositions(c.ID); err != nil {
			return err
		}
	}

	b.data = l.data
	s.mu.Lock()
	for _, t := range l.created {
		s.taskBoard[t] = boardID
	}
	for _, t := range l.deleted {
		delete(s.taskBoard, t)
	}
	s.audit = append(s.audit, l.audit...)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Task(_ context.Context, id int64) (model.Task, error) {
	s.mu.Lock()
	boardID, ok := s.taskBoard[id]
	s.mu.Unlock()
	if !ok {
		return model.Task{}, ErrorNotFound
	}
	b, err := s.board(boardID)
	if err != nil {
		return model.Task{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.data.tasks[id]
	if !ok {
		return model.Task{}, ErrorNotFound
	}
	return t, nil
}

func (s *MemoryStore) BoardState(_ context.Context, boardID int64) (model.BoardState, error) {
	b, err := s.board(boardID)
	if err != nil {
		return model.BoardState{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data.state(), nil
}

func (s *MemoryStore) AuditLog(_ context.Context, taskID int64) ([]model.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AuditEntry
	for _, e := range s.audit {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateBoard(_ context.Context, name string, specs []ColumnSpec) (model.BoardState, error) {
	data := boardData{
		board: model.Board{ID: s.ids.Add(1), Name: name},
		tasks: make(map[int64]model.Task),
		idem:  make(map[string][]byte),
	}
	ids := make(map[string]int64, len(specs))
	for i, spec := range specs {
		id := s.ids.Add(1)
		ids[spec.Name] = id
		data.columns = append(data.columns, model.Column{
			ID:       id,
			BoardID:  data.board.ID,
			Name:     spec.Name,
			Order:    i,
			MaxTasks: spec.MaxTasks,
			Locked:   spec.Locked,
			Terminal: spec.Terminal,
		})
	}
	for i, spec := range specs {
		if len(spec.AcceptsFrom) == 0 {
			continue
		}
		from, err := resolveColumnNames(ids, spec.AcceptsFrom)
		if err != nil {
			return model.BoardState{}, err
		}
		data.columns[i].AcceptsFrom = from
	}

	s.mu.Lock()
	s.boards[data.board.ID] = &memBoard{data: data}
	s.mu.Unlock()
	return data.state(), nil
}

func (s *MemoryStore) SetArchived(ctx context.Context, boardID int64, archived bool) (model.Board, error) {
	var b model.Board
	err := s.WithinBoard(ctx, boardID, func(l Ledger) error {
		ml := l.(*memLedger)
		ml.data.board.Archived = archived
		rev, err := l.BumpRevision(ctx)
		if err != nil {
			return err
		}
		b = l.Board(ctx)
		return l.Enqueue(ctx, boardEvent(archived, boardID, rev))
	})
	return b, err
}

func (s *MemoryStore) DrainEvents(ctx context.Context, limit int, fn func([]model.BoardEvent) error) (int, error) {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	s.mu.Lock()
	boards := slices.Collect(maps.Values(s.boards))
	s.mu.Unlock()

	var events []model.BoardEvent
	for _, b := range boards {
		b.mu.Lock()
		events = append(events, b.data.pending...)
		b.mu.Unlock()
	}
	if len(events) == 0 {
		return 0, ctx.Err()
	}
	slices.SortStableFunc(events, func(a, b model.BoardEvent) int { return a.At.Compare(b.At) })
	if len(events) > limit {
		events = events[:limit]
	}

	if err := fn(events); err != nil {
		return 0, err
	}

	published := make(map[string]bool, len(events))
	for _, e := range events {
		published[e.ID] = true
	}
	for _, b := range boards {
		b.mu.Lock()
		b.data.pending = slices.DeleteFunc(b.data.pending, func(e model.BoardEvent) bool { return published[e.ID] })
		b.mu.Unlock()
	}
	return len(events), nil
}

func (d boardData) state() model.BoardState {
	state := model.BoardState{Board: d.board, Columns: make([]model.ColumnState, 0, len(d.columns))}
	for _, c := range d.columns {
		tasks := d.columnTasks(c.ID)
		c.TaskCount = len(tasks)
		state.Columns = append(state.Columns, model.ColumnState{Column: c, Tasks: tasks})
	}
	return state
}

// columnTasks returns the column's tasks ordered by position, then id.
func (d boardData) columnTasks(columnID int64) []model.Task {
	tasks := []model.Task{}
	for _, t := range d.tasks {
		if t.ColumnID == columnID {
			tasks = append(tasks, t)
		}
	}
	slices.SortFunc(tasks, func(a, b model.Task) int {
		return cmp.Or(cmp.Compare(a.Position, b.Position), cmp.Compare(a.ID, b.ID))
	})
	return tasks
}
