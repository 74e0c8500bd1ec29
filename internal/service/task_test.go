package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/BuzzLyutic/kanban-board-api/internal/model"
	"github.com/BuzzLyutic/kanban-board-api/internal/repo"
)

func TestTaskService_Create(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "Todo", "A", "B")

	task, err := f.tasks.Create(context.Background(), admin, model.NewTask{
		BoardID:  f.board.Board.ID,
		ColumnID: f.cols["Todo"],
		Title:    "C",
	}, "")
	require.NoError(t, err)

	assert.Equal(t, 2, task.Position, "new tasks go to the end of the column")
	assert.Equal(t, model.PriorityMedium, task.Priority)
	assert.Equal(t, f.clock.Now(), task.CreatedAt)
	assert.Equal(t, []string{"A@0", "B@1", "C@2"}, f.layout(t, "Todo"))
	assert.Equal(t, int64(3), f.state(t).Board.Revision)
}

func TestTaskService_CreateValidation(t *testing.T) {
	f := newFixture(t)
	other, err := f.store.CreateBoard(context.Background(), "Other", []repo.ColumnSpec{{Name: "Elsewhere"}})
	require.NoError(t, err)

	tests := []struct {
		name string
		nt   model.NewTask
		want error
	}{
		{"empty title", model.NewTask{BoardID: f.board.Board.ID, ColumnID: f.cols["Todo"], Title: "  "}, model.ErrValidation},
		{"unknown priority", model.NewTask{BoardID: f.board.Board.ID, ColumnID: f.cols["Todo"], Title: "x", Priority: "urgent"}, model.ErrValidation},
		{"missing column", model.NewTask{BoardID: f.board.Board.ID, Title: "x"}, model.ErrValidation},
		{"column of another board", model.NewTask{BoardID: f.board.Board.ID, ColumnID: other.Columns[0].ID, Title: "x"}, model.ErrValidation},
		{"unknown board", model.NewTask{BoardID: 9999, ColumnID: f.cols["Todo"], Title: "x"}, repo.ErrorNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.tasks.Create(context.Background(), admin, tt.nt, "")
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, f.layout(t, "Todo"))
}

func TestTaskService_CreateRespectsColumnPolicy(t *testing.T) {
	f := newFixture(t,
		repo.ColumnSpec{Name: "Backlog", MaxTasks: intPtr(1)},
		repo.ColumnSpec{Name: "Frozen", Locked: true},
	)
	f.seed(t, "Backlog", "A")
	ctx := context.Background()

	_, err := f.tasks.Create(ctx, admin, model.NewTask{BoardID: f.board.Board.ID, ColumnID: f.cols["Backlog"], Title: "B"}, "")
	assert.ErrorIs(t, err, model.ErrPolicy)

	_, err = f.tasks.Create(ctx, member, model.NewTask{BoardID: f.board.Board.ID, ColumnID: f.cols["Frozen"], Title: "B"}, "")
	assert.ErrorIs(t, err, model.ErrPolicy)

	_, err = f.tasks.Create(ctx, admin, model.NewTask{BoardID: f.board.Board.ID, ColumnID: f.cols["Frozen"], Title: "B"}, "")
	assert.NoError(t, err)
}

func TestTaskService_CreateIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	nt := model.NewTask{BoardID: f.board.Board.ID, ColumnID: f.cols["Todo"], Title: "once"}

	first, err := f.tasks.Create(ctx, member, nt, "key-1")
	require.NoError(t, err)
	second, err := f.tasks.Create(ctx, member, nt, "key-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"once@0"}, f.layout(t, "Todo"))
}

func TestTaskService_DeleteClosesGap(t *testing.T) {
	f := newFixture(t)
	tasks := f.seed(t, "Todo", "A", "B", "C", "D")
	ctx := context.Background()

	require.NoError(t, f.tasks.Delete(ctx, member, tasks["B"].ID))

	assert.Equal(t, []string{"A@0", "C@1", "D@2"}, f.layout(t, "Todo"))
	_, err := f.tasks.Get(ctx, tasks["B"].ID)
	assert.ErrorIs(t, err, repo.ErrorNotFound)

	log, err := f.tasks.AuditLog(ctx, tasks["B"].ID)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, model.AuditDeleted, log[1].Action)
	assert.Equal(t, 1, *log[1].FromPosition)
}

func TestTaskService_DeleteLockedTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, err := f.tasks.Create(ctx, admin, model.NewTask{
		BoardID: f.board.Board.ID, ColumnID: f.cols["Todo"], Title: "pinned", Locked: true,
	}, "")
	require.NoError(t, err)

	assert.ErrorIs(t, f.tasks.Delete(ctx, member, task.ID), model.ErrPolicy)
	assert.NoError(t, f.tasks.Delete(ctx, admin, task.ID))
	assert.ErrorIs(t, f.tasks.Delete(ctx, admin, task.ID), repo.ErrorNotFound)
}

func TestTaskService_EvictsSnapshots(t *testing.T) {
	f := newFixture(t)
	boardID := f.board.Board.ID

	rev := f.state(t).Board.Revision

	snapshots := new(MockSnapshots)
	snapshots.On("Evict", mock.Anything, boardID, rev+1).Return().Once()
	snapshots.On("Evict", mock.Anything, boardID, rev+2).Return().Once()
	svc := NewTaskService(f.store, WithSnapshots(snapshots), WithClock(f.clock.Now))

	task, err := svc.Create(context.Background(), member, model.NewTask{BoardID: boardID, ColumnID: f.cols["Todo"], Title: "x"}, "k1")
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), member, model.NewTask{BoardID: boardID, ColumnID: f.cols["Todo"], Title: "x"}, "k1")
	require.NoError(t, err, "a replayed create commits nothing and evicts nothing")
	require.NoError(t, svc.Delete(context.Background(), member, task.ID))

	snapshots.AssertExpectations(t)
}
