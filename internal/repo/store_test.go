package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BuzzLyutic/kanban-board-api/internal/model"
	"github.com/BuzzLyutic/kanban-board-api/internal/testutil"
)

// storeFactory returns an empty store. Both implementations must pass the
// same contract.
type storeFactory func(t *testing.T) interface {
	BoardStore
	Outbox
}

func memoryFactory(t *testing.T) interface {
	BoardStore
	Outbox
} {
	return NewMemoryStore()
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, memoryFactory)
}

func TestBoardRepo(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	runStoreContract(t, func(t *testing.T) interface {
		BoardStore
		Outbox
	} {
		testutil.TruncateTables(t, pool)
		return NewBoardRepo(pool)
	})
}

func runStoreContract(t *testing.T, newStore storeFactory) {
	t.Run("create board", func(t *testing.T) { testCreateBoard(t, newStore(t)) })
	t.Run("commit and read back", func(t *testing.T) { testCommit(t, newStore(t)) })
	t.Run("rollback on error", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("duplicate positions fail at commit", func(t *testing.T) { testDeferredUnique(t, newStore(t)) })
	t.Run("check column and reindex", func(t *testing.T) { testReindex(t, newStore(t)) })
	t.Run("idempotency records", func(t *testing.T) { testIdempotency(t, newStore(t)) })
	t.Run("audit survives deletion", func(t *testing.T) { testAudit(t, newStore(t)) })
	t.Run("outbox drain", func(t *testing.T) { testOutbox(t, newStore(t)) })
	t.Run("archive", func(t *testing.T) { testArchive(t, newStore(t)) })
}

var demoColumns = []ColumnSpec{
	{Name: "Todo"},
	{Name: "Doing", AcceptsFrom: []string{"Todo"}},
	{Name: "Done", Terminal: true},
}

func addTasks(t *testing.T, s BoardStore, boardID, columnID int64, titles ...string) []model.Task {
	t.Helper()
	var out []model.Task
	err := s.WithinBoard(context.Background(), boardID, func(l Ledger) error {
		for i, title := range titles {
			task, err := l.InsertTask(context.Background(), model.NewTask{
				ColumnID: columnID, Title: title, Priority: model.PriorityMedium,
			}, i)
			if err != nil {
				return err
			}
			out = append(out, task)
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func positions(t *testing.T, s BoardStore, boardID, columnID int64) map[string]int {
	t.Helper()
	state, err := s.BoardState(context.Background(), boardID)
	require.NoError(t, err)
	col, ok := state.Column(columnID)
	require.True(t, ok)
	out := make(map[string]int, len(col.Tasks))
	for _, task := range col.Tasks {
		out[task.Title] = task.Position
	}
	return out
}

func testCreateBoard(t *testing.T, s BoardStore) {
	ctx := context.Background()
	state, err := s.CreateBoard(ctx, "Sprint", demoColumns)
	require.NoError(t, err)

	assert.Equal(t, "Sprint", state.Board.Name)
	require.Len(t, state.Columns, 3)
	for i, c := range state.Columns {
		assert.Equal(t, i, c.Order)
		assert.Equal(t, state.Board.ID, c.BoardID)
		assert.Empty(t, c.Tasks)
	}
	assert.Equal(t, []int64{state.Columns[0].ID}, state.Columns[1].AcceptsFrom)
	assert.True(t, state.Columns[2].Terminal)

	_, err = s.CreateBoard(ctx, "Broken", []ColumnSpec{{Name: "A", AcceptsFrom: []string{"Nope"}}})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = s.BoardState(ctx, state.Board.ID+1000)
	assert.ErrorIs(t, err, ErrorNotFound)
	err = s.WithinBoard(ctx, state.Board.ID+1000, func(Ledger) error { return nil })
	assert.ErrorIs(t, err, ErrorNotFound)
}

func testCommit(t *testing.T, s BoardStore) {
	ctx := context.Background()
	board, err := s.CreateBoard(ctx, "Sprint", demoColumns)
	require.NoError(t, err)
	todo := board.Columns[0].ID
	tasks := addTasks(t, s, board.Board.ID, todo, "A", "B", "C")

	got, err := s.Task(ctx, tasks[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "B", got.Title)
	assert.Equal(t, 1, got.Position)
	assert.Equal(t, board.Board.ID, got.BoardID)

	err = s.WithinBoard(ctx, board.Board.ID, func(l Ledger) error {
		cols, err := l.Columns(ctx)
		if err != nil {
			return err
		}
		assert.Equal(t, 3, cols[0].TaskCount)

		// move A to the end
		if err := l.ShiftRange(ctx, todo, 1, 2, -1); err != nil {
			return err
		}
		moved, err := l.PlaceTask(ctx, tasks[0].ID, todo, 2)
		if err != nil {
			return err
		}
		assert.Equal(t, 2, moved.Position)
		return l.CheckColumn(ctx, todo)
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"B": 0, "C": 1, "A": 2}, positions(t, s, board.Board.ID, todo))

	_, err = s.Task(ctx, 987654)
	assert.ErrorIs(t, err, ErrorNotFound)
}

func testRollback(t *testing.T, s BoardStore) {
	ctx := context.Background()
	board, err := s.CreateBoard(ctx, "Sprint", demoColumns)
	require.NoError(t, err)
	todo := board.Columns[0].ID
	addTasks(t, s, board.Board.ID, todo, "A", "B")
	before, err := s.BoardState(ctx, board.Board.ID)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithinBoard(ctx, board.Board.ID, func(l Ledger) error {
		if err := l.ShiftRange(ctx, todo, 0, -1, +1); err != nil {
			return err
		}
		if _, err := l.BumpRevision(ctx); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	after, err := s.BoardState(ctx, board.Board.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func testDeferredUnique(t *testing.T, s BoardStore) {
	ctx := context.Background()
	board, err := s.CreateBoard(ctx, "Sprint", demoColumns)
	require.NoError(t, err)
	todo := board.Columns[0].ID
	tasks := addTasks(t, s, board.Board.ID, todo, "A", "B", "C")

	err = s.WithinBoard(ctx, board.Board.ID, func(l Ledger) error {
		_, err := l.PlaceTask(ctx, tasks[2].ID, todo, 0)
		return err
	})
	assert.ErrorIs(t, err, ErrorConflict)
	assert.Equal(t, map[string]int{"A": 0, "B": 1, "C": 2}, positions(t, s, board.Board.ID, todo))
}

func testReindex(t *testing.T, s BoardStore) {
	ctx := context.Background()
	board, err := s.CreateBoard(ctx, "Sprint", demoColumns)
	require.NoError(t, err)
	todo := board.Columns[0].ID
	addTasks(t, s, board.Board.ID, todo, "A", "B", "C")

	// Open a gap at position 1 without checking the column.
	err = s.WithinBoard(ctx, board.Board.ID, func(l Ledger) error {
		return l.ShiftRange(ctx, todo, 1, -1, +1)
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"A": 0, "B": 2, "C": 3}, positions(t, s, board.Board.ID, todo))

	err = s.WithinBoard(ctx, board.Board.ID, func(l Ledger) error {
		if err := l.CheckColumn(ctx, todo); !errors.Is(err, model.ErrInvariant) {
			t.Errorf("expected invariant violation, got %v", err)
		}
		n, err := l.Reindex(ctx, todo)
		if err != nil {
			return err
		}
		assert.Equal(t, 2, n)
		return l.CheckColumn(ctx, todo)
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"A": 0, "B": 1, "C": 2}, positions(t, s, board.Board.ID, todo))
}

func testIdempotency(t *testing.T, s BoardStore) {
	ctx := context.Background()
	board, err := s.CreateBoard(ctx, "Sprint", demoColumns)
	require.NoError(t, err)

	err = s.WithinBoard(ctx, board.Board.ID, func(l Ledger) error {
		_, err := l.Idempotent(ctx, "move:u:1")
		assert.ErrorIs(t, err, ErrorNotFound)
		if err := l.SaveIdempotent(ctx, "move:u:1", []byte(`{"n":1}`)); err != nil {
			return err
		}
		return l.SaveIdempotent(ctx, "move:u:1", []byte(`{"n":2}`))
	})
	require.NoError(t, err)

	err = s.WithinBoard(ctx, board.Board.ID, func(l Ledger) error {
		payload, err := l.Idempotent(ctx, "move:u:1")
		if err != nil {
			return err
		}
		assert.JSONEq(t, `{"n":1}`, string(payload), "first write wins")
		return nil
	})
	require.NoError(t, err)
}

func testAudit(t *testing.T, s BoardStore) {
	ctx := context.Background()
	board, err := s.CreateBoard(ctx, "Sprint", demoColumns)
	require.NoError(t, err)
	todo := board.Columns[0].ID
	task := addTasks(t, s, board.Board.ID, todo, "A")[0]

	err = s.WithinBoard(ctx, board.Board.ID, func(l Ledger) error {
		if err := l.DeleteTask(ctx, task.ID); err != nil {
			return err
		}
		pos := 0
		return l.AppendAudit(ctx, model.AuditEntry{
			TaskID: task.ID, UserID: "u1", Action: model.AuditDeleted,
			FromColumnID: &todo, FromPosition: &pos,
		})
	})
	require.NoError(t, err)

	_, err = s.Task(ctx, task.ID)
	assert.ErrorIs(t, err, ErrorNotFound)

	log, err := s.AuditLog(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, model.AuditDeleted, log[0].Action)
	assert.Equal(t, board.Board.ID, log[0].BoardID)
	assert.Equal(t, todo, *log[0].FromColumnID)
	assert.Nil(t, log[0].ToColumnID)

	err = s.WithinBoard(ctx, board.Board.ID, func(l Ledger) error {
		return l.DeleteTask(ctx, task.ID)
	})
	assert.ErrorIs(t, err, ErrorNotFound)
}

func testOutbox(t *testing.T, s interface {
	BoardStore
	Outbox
}) {
	ctx := context.Background()
	board, err := s.CreateBoard(ctx, "Sprint", demoColumns)
	require.NoError(t, err)

	err = s.WithinBoard(ctx, board.Board.ID, func(l Ledger) error {
		for i := 0; i < 3; i++ {
			rev, err := l.BumpRevision(ctx)
			if err != nil {
				return err
			}
			if err := l.Enqueue(ctx, model.BoardEvent{Type: model.EventTaskMoved, BoardID: board.Board.ID, Revision: rev}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	_, err = s.DrainEvents(ctx, 10, func([]model.BoardEvent) error { return errors.New("broker down") })
	require.Error(t, err)

	var got []model.BoardEvent
	n, err := s.DrainEvents(ctx, 2, func(events []model.BoardEvent) error {
		got = append(got, events...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.DrainEvents(ctx, 10, func(events []model.BoardEvent) error {
		got = append(got, events...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, got, 3)
	seen := map[string]bool{}
	for _, e := range got {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.At.IsZero())
		seen[e.ID] = true
	}
	assert.Len(t, seen, 3, "each event delivered once")

	n, err = s.DrainEvents(ctx, 10, func([]model.BoardEvent) error {
		t.Fatal("nothing left to drain")
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testArchive(t *testing.T, s BoardStore) {
	ctx := context.Background()
	board, err := s.CreateBoard(ctx, "Sprint", demoColumns)
	require.NoError(t, err)

	b, err := s.SetArchived(ctx, board.Board.ID, true)
	require.NoError(t, err)
	assert.True(t, b.Archived)
	assert.Equal(t, board.Board.Revision+1, b.Revision)

	state, err := s.BoardState(ctx, board.Board.ID)
	require.NoError(t, err)
	assert.True(t, state.Board.Archived)
}
