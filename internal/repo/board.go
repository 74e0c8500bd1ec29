package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BuzzLyutic/kanban-board-api/internal/model"
)

var (
	ErrorNotFound = errors.New("not found")
	ErrorConflict = errors.New("conflict")
)

const taskColumns = `id, board_id, column_id, title, position, priority, locked, can_move_to, created_at, updated_at`

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// BoardRepo is the Postgres position ledger. Each unit of work locks the
// board row, so moves on one board are serialized while different boards
// proceed in parallel.
type BoardRepo struct {
	pool *pgxpool.Pool
}

func NewBoardRepo(pool *pgxpool.Pool) *BoardRepo {
	return &BoardRepo{pool: pool}
}

func (r *BoardRepo) WithinBoard(ctx context.Context, boardID int64, fn func(Ledger) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) // no-op after commit

	var b model.Board
	err = tx.QueryRow(ctx, `
		SELECT id, name, revision, archived FROM boards WHERE id = $1 FOR UPDATE
	`, boardID).Scan(&b.ID, &b.Name, &b.Revision, &b.Archived)
	if err != nil {
		return r.mapError(err)
	}

	if err := fn(&pgLedger{q: tx, board: b}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return r.mapError(err)
	}
	return nil
}

func (r *BoardRepo) Task(ctx context.Context, id int64) (model.Task, error) {
	return getTask(ctx, r.pool, `WHERE id = $1`, id)
}

// BoardState reads board, columns and tasks from one repeatable-read
// snapshot so the position invariant is never observed half-applied.
func (r *BoardRepo) BoardState(ctx context.Context, boardID int64) (model.BoardState, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return model.BoardState{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var b model.Board
	err = tx.QueryRow(ctx, `
		SELECT id, name, revision, archived FROM boards WHERE id = $1
	`, boardID).Scan(&b.ID, &b.Name, &b.Revision, &b.Archived)
	if err != nil {
		return model.BoardState{}, r.mapError(err)
	}
	return loadState(ctx, tx, b)
}

func (r *BoardRepo) AuditLog(ctx context.Context, taskID int64) ([]model.AuditEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, task_id, board_id, user_id, action, from_column_id, from_position, to_column_id, to_position, created_at
		FROM task_audit
		WHERE task_id = $1
		ORDER BY id
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.ID, &e.TaskID, &e.BoardID, &e.UserID, &e.Action,
			&e.FromColumnID, &e.FromPosition, &e.ToColumnID, &e.ToPosition, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *BoardRepo) CreateBoard(ctx context.Context, name string, columns []ColumnSpec) (model.BoardState, error) {
	var state model.BoardState
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var b model.Board
		if err := tx.QueryRow(ctx, `
			INSERT INTO boards (name) VALUES ($1) RETURNING id, name, revision, archived
		`, name).Scan(&b.ID, &b.Name, &b.Revision, &b.Archived); err != nil {
			return err
		}

		ids := make(map[string]int64, len(columns))
		for i, c := range columns {
			var id int64
			if err := tx.QueryRow(ctx, `
				INSERT INTO board_columns (board_id, name, sort_order, max_tasks, locked, terminal)
				VALUES ($1, $2, $3, $4, $5, $6)
				RETURNING id
			`, b.ID, c.Name, i, c.MaxTasks, c.Locked, c.Terminal).Scan(&id); err != nil {
				return err
			}
			ids[c.Name] = id
		}
		for _, c := range columns {
			if len(c.AcceptsFrom) == 0 {
				continue
			}
			from, err := resolveColumnNames(ids, c.AcceptsFrom)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				UPDATE board_columns SET accepts_from = $2 WHERE id = $1
			`, ids[c.Name], from); err != nil {
				return err
			}
		}

		var err error
		state, err = loadState(ctx, tx, b)
		return err
	})
	return state, r.mapError(err)
}

func (r *BoardRepo) SetArchived(ctx context.Context, boardID int64, archived bool) (model.Board, error) {
	var b model.Board
	err := r.WithinBoard(ctx, boardID, func(l Ledger) error {
		pl := l.(*pgLedger)
		if _, err := pl.q.Exec(ctx, `UPDATE boards SET archived = $2 WHERE id = $1`, boardID, archived); err != nil {
			return err
		}
		pl.board.Archived = archived
		rev, err := l.BumpRevision(ctx)
		if err != nil {
			return err
		}
		b = l.Board(ctx)
		return l.Enqueue(ctx, boardEvent(archived, boardID, rev))
	})
	return b, err
}

// DrainEvents claims unpublished outbox rows with SKIP LOCKED, so several
// workers can drain concurrently without delivering the same batch twice.
func (r *BoardRepo) DrainEvents(ctx context.Context, limit int, fn func([]model.BoardEvent) error) (int, error) {
	var n int
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, type, board_id, task_id, revision, created_at
			FROM board_events
			WHERE published_at IS NULL
			ORDER BY created_at, id
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		`, limit)
		if err != nil {
			return err
		}
		events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.BoardEvent, error) {
			var e model.BoardEvent
			err := row.Scan(&e.ID, &e.Type, &e.BoardID, &e.TaskID, &e.Revision, &e.At)
			return e, err
		})
		if err != nil || len(events) == 0 {
			return err
		}

		if err := fn(events); err != nil {
			return err
		}

		ids := make([]string, len(events))
		for i, e := range events {
			ids[i] = e.ID
		}
		if _, err := tx.Exec(ctx, `
			UPDATE board_events SET published_at = now() WHERE id = ANY($1)
		`, ids); err != nil {
			return err
		}
		n = len(events)
		return nil
	})
	return n, err
}

func (r *BoardRepo) mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrorNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation, raised at commit by the deferred position constraint
			return fmt.Errorf("%w: %s", ErrorConflict, pgErr.ConstraintName)
		case "23503", "23514":
			return model.NewValidationError("%s", pgErr.Message)
		}
	}
	return err
}

func getTask(ctx context.Context, q querier, where string, args ...any) (model.Task, error) {
	t, err := scanTask(q.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks `+where, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return t, ErrorNotFound
	}
	return t, err
}

func scanTask(row pgx.Row) (model.Task, error) {
	var t model.Task
	err := row.Scan(&t.ID, &t.BoardID, &t.ColumnID, &t.Title, &t.Position, &t.Priority,
		&t.Locked, &t.CanMoveTo, &t.CreatedAt, &t.UpdatedAt)
	if len(t.CanMoveTo) == 0 {
		t.CanMoveTo = nil
	}
	return t, err
}

func loadColumns(ctx context.Context, q querier, boardID int64) ([]model.Column, error) {
	rows, err := q.Query(ctx, `
		SELECT c.id, c.board_id, c.name, c.sort_order, c.max_tasks, c.accepts_from, c.locked, c.terminal,
		       (SELECT count(*) FROM tasks t WHERE t.column_id = c.id)
		FROM board_columns c
		WHERE c.board_id = $1
		ORDER BY c.sort_order, c.id
	`, boardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []model.Column
	for rows.Next() {
		var c model.Column
		if err := rows.Scan(&c.ID, &c.BoardID, &c.Name, &c.Order, &c.MaxTasks, &c.AcceptsFrom,
			&c.Locked, &c.Terminal, &c.TaskCount); err != nil {
			return nil, err
		}
		if len(c.AcceptsFrom) == 0 {
			c.AcceptsFrom = nil
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func loadState(ctx context.Context, q querier, b model.Board) (model.BoardState, error) {
	cols, err := loadColumns(ctx, q, b.ID)
	if err != nil {
		return model.BoardState{}, err
	}

	rows, err := q.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE board_id = $1 ORDER BY column_id, position
	`, b.ID)
	if err != nil {
		return model.BoardState{}, err
	}
	defer rows.Close()

	byColumn := make(map[int64][]model.Task, len(cols))
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return model.BoardState{}, err
		}
		byColumn[t.ColumnID] = append(byColumn[t.ColumnID], t)
	}
	if err := rows.Err(); err != nil {
		return model.BoardState{}, err
	}

	state := model.BoardState{Board: b, Columns: make([]model.ColumnState, 0, len(cols))}
	for _, c := range cols {
		tasks := byColumn[c.ID]
		if tasks == nil {
			tasks = []model.Task{}
		}
		state.Columns = append(state.Columns, model.ColumnState{Column: c, Tasks: tasks})
	}
	return state, nil
}

func resolveColumnNames(ids map[string]int64, names []string) ([]int64, error) {
	out := make([]int64, 0, len(names))
	for _, n := range names {
		id, ok := ids[n]
		if !ok {
			return nil, model.NewValidationError("unknown column %q in accepts_from", n)
		}
		out = append(out, id)
	}
	return out, nil
}

func boardEvent(archived bool, boardID, revision int64) model.BoardEvent {
	typ := model.EventBoardRestored
	if archived {
		typ = model.EventBoardArchived
	}
	return model.BoardEvent{Type: typ, BoardID: boardID, Revision: revision}
}

func orEmpty(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
