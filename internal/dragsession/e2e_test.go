package dragsession

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/kanban-board-api/internal/auth"
	"github.com/BuzzLyutic/kanban-board-api/internal/client"
	"github.com/BuzzLyutic/kanban-board-api/internal/handler"
	"github.com/BuzzLyutic/kanban-board-api/internal/model"
	"github.com/BuzzLyutic/kanban-board-api/internal/reconcile"
	"github.com/BuzzLyutic/kanban-board-api/internal/repo"
	"github.com/BuzzLyutic/kanban-board-api/internal/service"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type apiBoard struct {
	clk   *clock
	store *repo.MemoryStore
	tasks *service.TaskService
	moves *service.MoveService
	api   *client.Client
	board model.BoardState
}

// newAPIBoard serves the real handlers over an in-memory ledger holding a
// Todo/Doing/Done board, and returns a client signed in as alice.
func newAPIBoard(t *testing.T) *apiBoard {
	t.Helper()
	secret := []byte("drag-secret")
	logger := zap.NewNop()
	f := &apiBoard{clk: &clock{now: time.Date(2025, 7, 23, 10, 0, 0, 0, time.UTC)}}

	f.store = repo.NewMemoryStore(repo.WithClock(f.clk.Now))
	f.tasks = service.NewTaskService(f.store, service.WithClock(f.clk.Now))
	f.moves = service.NewMoveService(f.store, service.WithClock(f.clk.Now))
	srv := httptest.NewServer(handler.NewRouter(
		handler.NewTaskHandler(f.tasks, f.moves, logger),
		handler.NewBoardHandler(service.NewBoardService(f.store), logger),
		auth.NewHS256(secret).Middleware,
		logger,
	))
	t.Cleanup(srv.Close)

	board, err := f.store.CreateBoard(context.Background(), "Sprint", []repo.ColumnSpec{{Name: "Todo"}, {Name: "Doing"}, {Name: "Done", Terminal: true}})
	require.NoError(t, err)
	f.board = board

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(secret)
	require.NoError(t, err)
	f.api = client.New(srv.URL, signed)
	return f
}

func (f *apiBoard) create(t *testing.T, title string) model.Task {
	t.Helper()
	task, err := f.tasks.Create(context.Background(), model.Actor{UserID: "bob"},
		model.NewTask{BoardID: f.board.Board.ID, ColumnID: f.board.Columns[0].ID, Title: title}, "")
	require.NoError(t, err)
	return task
}

// Drives a drag through the HTTP API: client, cache and controller against
// the real handlers on an in-memory ledger.
func TestDrag_AgainstAPI(t *testing.T) {
	ctx := context.Background()
	f := newAPIBoard(t)
	board, api, moves, clk := f.board, f.api, f.moves, f.clk
	doing, done := board.Columns[1].ID, board.Columns[2].ID
	bob := model.Actor{UserID: "bob"}
	a := f.create(t, "A")
	b := f.create(t, "B")

	cache := reconcile.NewCache(api, zap.NewNop())
	_, err := cache.Load(ctx, board.Board.ID)
	require.NoError(t, err)
	var seen notices
	ctrl := NewController(cache, api, model.Actor{UserID: "alice"}, WithNotify(seen.add))

	d, err := ctrl.Begin(board.Board.ID, a.ID, Activation{Distance: 20})
	require.NoError(t, err)
	phase, err := d.Drop(ctx, Target{ColumnID: doing, Index: 0})
	require.NoError(t, err)
	require.Equal(t, DroppedValid, phase)
	ctrl.Wait()

	server, err := api.Board(ctx, board.Board.ID)
	require.NoError(t, err)
	view, _ := cache.View(board.Board.ID)
	assert.Equal(t, server, view)
	assert.Equal(t, []int64{a.ID}, ids(view, doing))
	require.Len(t, seen.all(), 1)
	assert.Equal(t, NoticeMoved, seen.all()[0].Kind)

	// bob moves B well after alice's copy of it was taken
	clk.Advance(5 * time.Second)
	_, err = moves.Move(ctx, bob, model.MoveRequest{TaskID: b.ID, ColumnID: doing, Position: 1})
	require.NoError(t, err)

	d, err = ctrl.Begin(board.Board.ID, b.ID, Activation{Keyboard: true})
	require.NoError(t, err)
	phase, err = d.Drop(ctx, Target{ColumnID: done, Index: 0})
	require.NoError(t, err)
	require.Equal(t, DroppedValid, phase)
	ctrl.Wait()

	got := seen.all()
	require.Len(t, got, 2)
	assert.Equal(t, NoticeConflict, got[1].Kind)
	var conflict *model.ConflictError
	require.ErrorAs(t, got[1].Err, &conflict)
	assert.Equal(t, int64(5000), conflict.TimeDifferenceMs)

	view, _ = cache.View(board.Board.ID)
	assert.False(t, cache.Pending(board.Board.ID))
	assert.Equal(t, []int64{a.ID, b.ID}, ids(view, doing), "server state replaced the optimistic drop")
	assert.Empty(t, ids(view, done))
}

// gate holds every move until opened.
type gate struct {
	next Mover
	open chan struct{}
}

func (g gate) Move(ctx context.Context, req model.MoveRequest) (model.MoveResult, error) {
	<-g.open
	return g.next.Move(ctx, req)
}

func TestDrag_RepeatMoveAgainstAPI(t *testing.T) {
	ctx := context.Background()
	f := newAPIBoard(t)
	id := f.board.Board.ID
	doing, done := f.board.Columns[1].ID, f.board.Columns[2].ID
	a := f.create(t, "A")

	cache := reconcile.NewCache(f.api, zap.NewNop())
	_, err := cache.Load(ctx, id)
	require.NoError(t, err)
	var seen notices
	g := gate{next: f.api, open: make(chan struct{})}
	ctrl := NewController(cache, g, model.Actor{UserID: "alice"}, WithNotify(seen.add))

	// the server stamps the first move a minute after alice loaded the board
	f.clk.Advance(time.Minute)

	d, err := ctrl.Begin(id, a.ID, Activation{Keyboard: true})
	require.NoError(t, err)
	_, err = d.Drop(ctx, Target{ColumnID: doing, Index: 0})
	require.NoError(t, err)
	d, err = ctrl.Begin(id, a.ID, Activation{Keyboard: true})
	require.NoError(t, err)
	_, err = d.Drop(ctx, Target{ColumnID: done, Index: 0})
	require.NoError(t, err)

	close(g.open)
	ctrl.Wait()

	got := seen.all()
	require.Len(t, got, 2)
	assert.Equal(t, NoticeMoved, got[0].Kind)
	assert.Equal(t, NoticeMoved, got[1].Kind, "second move must not conflict with the first")

	server, err := f.api.Board(ctx, id)
	require.NoError(t, err)
	view, _ := cache.View(id)
	assert.Equal(t, server, view)
	assert.Equal(t, []int64{a.ID}, ids(view, done))
}
