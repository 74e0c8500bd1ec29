package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/BuzzLyutic/kanban-board-api/internal/model"
)

// pgLedger runs ledger primitives inside the transaction opened by
// BoardRepo.WithinBoard. The board row is already locked FOR UPDATE.
type pgLedger struct {
	q     querier
	board model.Board
}

func (l *pgLedger) Board(context.Context) model.Board { return l.board }

func (l *pgLedger) Task(ctx context.Context, id int64) (model.Task, error) {
	return getTask(ctx, l.q, `WHERE id = $1 AND board_id = $2 FOR UPDATE`, id, l.board.ID)
}

func (l *pgLedger) Columns(ctx context.Context) ([]model.Column, error) {
	return loadColumns(ctx, l.q, l.board.ID)
}

func (l *pgLedger) ShiftRange(ctx context.Context, columnID int64, from, to, delta int) error {
	_, err := l.q.Exec(ctx, `
		UPDATE tasks
		SET position = position + $4
		WHERE column_id = $1 AND position >= $2 AND ($3::int < 0 OR position <= $3::int)
	`, columnID, from, to, delta)
	return err
}

func (l *pgLedger) PlaceTask(ctx context.Context, taskID, columnID int64, position int) (model.Task, error) {
	t, err := scanTask(l.q.QueryRow(ctx, `
		UPDATE tasks
		SET column_id = $2, position = $3, updated_at = now()
		WHERE id = $1 AND board_id = $4
		RETURNING `+taskColumns, taskID, columnID, position, l.board.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		return t, ErrorNotFound
	}
	return t, err
}

func (l *pgLedger) InsertTask(ctx context.Context, nt model.NewTask, position int) (model.Task, error) {
	return scanTask(l.q.QueryRow(ctx, `
		INSERT INTO tasks (board_id, column_id, title, position, priority, locked, can_move_to)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+taskColumns, l.board.ID, nt.ColumnID, nt.Title, position, nt.Priority, nt.Locked, orEmpty(nt.CanMoveTo)))
}

func (l *pgLedger) DeleteTask(ctx context.Context, id int64) error {
	cmd, err := l.q.Exec(ctx, "DELETE FROM tasks WHERE id = $1 AND board_id = $2", id, l.board.ID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrorNotFound
	}
	return nil
}

func (l *pgLedger) Reindex(ctx context.Context, columnID int64) (int, error) {
	cmd, err := l.q.Exec(ctx, `
		WITH ordered AS (
			SELECT id, row_number() OVER (ORDER BY position, id) - 1 AS rn
			FROM tasks
			WHERE column_id = $1
		)
		UPDATE tasks t
		SET position = o.rn
		FROM ordered o
		WHERE t.id = o.id AND t.position <> o.rn
	`, columnID)
	if err != nil {
		return 0, err
	}
	return int(cmd.RowsAffected()), nil
}

func (l *pgLedger) CheckColumn(ctx context.Context, columnID int64) error {
	var n, distinct, minPos, maxPos int
	err := l.q.QueryRow(ctx, `
		SELECT count(*), count(DISTINCT position), COALESCE(min(position), 0), COALESCE(max(position), -1)
		FROM tasks
		WHERE column_id = $1
	`, columnID).Scan(&n, &distinct, &minPos, &maxPos)
	if err != nil {
		return err
	}
	return checkSequence(columnID, n, distinct, minPos, maxPos)
}

func (l *pgLedger) State(ctx context.Context) (model.BoardState, error) {
	return loadState(ctx, l.q, l.board)
}

func (l *pgLedger) BumpRevision(ctx context.Context) (int64, error) {
	err := l.q.QueryRow(ctx, `
		UPDATE boards SET revision = revision + 1 WHERE id = $1 RETURNING revision
	`, l.board.ID).Scan(&l.board.Revision)
	return l.board.Revision, err
}

func (l *pgLedger) AppendAudit(ctx context.Context, e model.AuditEntry) error {
	_, err := l.q.Exec(ctx, `
		INSERT INTO task_audit (task_id, board_id, user_id, action, from_column_id, from_position, to_column_id, to_position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.TaskID, l.board.ID, e.UserID, e.Action, e.FromColumnID, e.FromPosition, e.ToColumnID, e.ToPosition)
	return err
}

func (l *pgLedger) Enqueue(ctx context.Context, e model.BoardEvent) error {
	e = stampEvent(e, time.Now())
	_, err := l.q.Exec(ctx, `
		INSERT INTO board_events (id, type, board_id, task_id, revision, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.Type, e.BoardID, e.TaskID, e.Revision, e.At)
	return err
}

func (l *pgLedger) Idempotent(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := l.q.QueryRow(ctx, `
		SELECT response FROM idempotency_keys WHERE key = $1
	`, key).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrorNotFound
	}
	return payload, err
}

func (l *pgLedger) SaveIdempotent(ctx context.Context, key string, payload []byte) error {
	_, err := l.q.Exec(ctx, `
		INSERT INTO idempotency_keys (key, board_id, response) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO NOTHING
	`, key, l.board.ID, payload)
	return err
}

func checkSequence(columnID int64, n, distinct, minPos, maxPos int) error {
	if n == 0 {
		return nil
	}
	if distinct != n || minPos != 0 || maxPos != n-1 {
		return fmt.Errorf("%w: column %d has %d tasks at %d distinct positions spanning %d..%d",
			model.ErrInvariant, columnID, n, distinct, minPos, maxPos)
	}
	return nil
}

func stampEvent(e model.BoardEvent, now time.Time) model.BoardEvent {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = now.UTC()
	}
	return e
}
