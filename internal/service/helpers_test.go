package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/BuzzLyutic/kanban-board-api/internal/model"
	"github.com/BuzzLyutic/kanban-board-api/internal/repo"
)

var (
	member = model.Actor{UserID: "member"}
	admin  = model.Actor{UserID: "admin", Elevated: true}
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 7, 23, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// MockSnapshots - мок кэша снимков доски
type MockSnapshots struct {
	mock.Mock
}

func (m *MockSnapshots) BoardState(ctx context.Context, boardID int64) (model.BoardState, error) {
	args := m.Called(ctx, boardID)
	return args.Get(0).(model.BoardState), args.Error(1)
}

func (m *MockSnapshots) Evict(ctx context.Context, boardID, revision int64) {
	m.Called(ctx, boardID, revision)
}

type fixture struct {
	store  *repo.MemoryStore
	clock  *fakeClock
	moves  *MoveService
	tasks  *TaskService
	boards *BoardService
	board  model.BoardState
	cols   map[string]int64
}

func newFixture(t *testing.T, specs ...repo.ColumnSpec) *fixture {
	t.Helper()
	if len(specs) == 0 {
		specs = []repo.ColumnSpec{
			{Name: "Todo"},
			{Name: "Doing"},
			{Name: "Review"},
			{Name: "Done", Terminal: true},
		}
	}

	clock := newFakeClock()
	store := repo.NewMemoryStore(repo.WithClock(clock.Now))
	board, err := store.CreateBoard(context.Background(), "Sprint", specs)
	require.NoError(t, err)

	f := &fixture{
		store:  store,
		clock:  clock,
		moves:  NewMoveService(store, WithClock(clock.Now)),
		tasks:  NewTaskService(store, WithClock(clock.Now)),
		boards: NewBoardService(store, WithClock(clock.Now)),
		board:  board,
		cols:   make(map[string]int64),
	}
	for _, c := range board.Columns {
		f.cols[c.Name] = c.ID
	}
	return f
}

// seed creates tasks titled by names at the end of the column, in order.
func (f *fixture) seed(t *testing.T, column string, names ...string) map[string]model.Task {
	t.Helper()
	out := make(map[string]model.Task, len(names))
	for _, n := range names {
		task, err := f.tasks.Create(context.Background(), admin, model.NewTask{
			BoardID:  f.board.Board.ID,
			ColumnID: f.cols[column],
			Title:    n,
		}, "")
		require.NoError(t, err)
		out[n] = task
	}
	return out
}

func (f *fixture) state(t *testing.T) model.BoardState {
	t.Helper()
	state, err := f.store.BoardState(context.Background(), f.board.Board.ID)
	require.NoError(t, err)
	return state
}

// layout renders a column as "title@position" entries in position order.
func (f *fixture) layout(t *testing.T, column string) []string {
	t.Helper()
	col, ok := f.state(t).Column(f.cols[column])
	require.True(t, ok)
	out := []string{}
	for _, task := range col.Tasks {
		out = append(out, fmt.Sprintf("%s@%d", task.Title, task.Position))
	}
	return out
}

func requireInvariant(t *testing.T, state model.BoardState) {
	t.Helper()
	for _, c := range state.Columns {
		for i, task := range c.Tasks {
			require.Equalf(t, i, task.Position, "column %q: task %d at index %d has position %d", c.Name, task.ID, i, task.Position)
			require.Equal(t, c.ID, task.ColumnID)
		}
	}
}
