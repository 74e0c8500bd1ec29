package repo

import (
	"context"

	"github.com/BuzzLyutic/kanban-board-api/internal/model"
)

// Ledger is the position ledger as seen from inside one unit of work on a
// single board. Nothing written through it is visible to other readers until
// the surrounding WithinBoard call returns nil.
type Ledger interface {
	Board(ctx context.Context) model.Board
	Task(ctx context.Context, id int64) (model.Task, error)
	// Columns returns the board's columns in display order with TaskCount set.
	Columns(ctx context.Context) ([]model.Column, error)

	// ShiftRange adds delta to the position of every task in the column
	// whose position lies in [from, to]. A negative to means no upper bound.
	ShiftRange(ctx context.Context, columnID int64, from, to, delta int) error
	PlaceTask(ctx context.Context, taskID, columnID int64, position int) (model.Task, error)
	InsertTask(ctx context.Context, t model.NewTask, position int) (model.Task, error)
	DeleteTask(ctx context.Context, id int64) error
	// Reindex renumbers the column to 0..n-1 keeping the current order and
	// returns how many tasks changed position.
	Reindex(ctx context.Context, columnID int64) (int, error)
	CheckColumn(ctx context.Context, columnID int64) error

	State(ctx context.Context) (model.BoardState, error)
	BumpRevision(ctx context.Context) (int64, error)
	AppendAudit(ctx context.Context, e model.AuditEntry) error
	Enqueue(ctx context.Context, e model.BoardEvent) error
	Idempotent(ctx context.Context, key string) ([]byte, error)
	SaveIdempotent(ctx context.Context, key string, payload []byte) error
}

// BoardStore owns the per-board position sequences. WithinBoard is the only
// way to mutate them.
type BoardStore interface {
	WithinBoard(ctx context.Context, boardID int64, fn func(Ledger) error) error
	Task(ctx context.Context, id int64) (model.Task, error)
	BoardState(ctx context.Context, boardID int64) (model.BoardState, error)
	AuditLog(ctx context.Context, taskID int64) ([]model.AuditEntry, error)
	CreateBoard(ctx context.Context, name string, columns []ColumnSpec) (model.BoardState, error)
	SetArchived(ctx context.Context, boardID int64, archived bool) (model.Board, error)
}

// Outbox hands pending board events to fn and marks them published only if
// fn succeeds.
type Outbox interface {
	DrainEvents(ctx context.Context, limit int, fn func([]model.BoardEvent) error) (int, error)
}

// ColumnSpec describes a column at board creation. AcceptsFrom refers to
// other columns of the same board by name.
type ColumnSpec struct {
	Name        string   `json:"name"`
	MaxTasks    *int     `json:"max_tasks,omitempty"`
	AcceptsFrom []string `json:"accepts_from,omitempty"`
	Locked      bool     `json:"locked"`
	Terminal    bool     `json:"terminal"`
}
