// Package dragsession drives one drag of a task card at a time: it gates the
// drag with the constraint rules, shows an optimistic preview, and submits
// the move without blocking the caller.
package dragsession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/kanban-board-api/internal/constraint"
	"github.com/BuzzLyutic/kanban-board-api/internal/model"
	"github.com/BuzzLyutic/kanban-board-api/internal/reconcile"
)

// DefaultThreshold is the pointer travel needed before a press becomes a drag.
const DefaultThreshold = 8

var (
	ErrBelowThreshold = errors.New("pointer has not moved far enough to start a drag")
	ErrDragInProgress = errors.New("another drag is in progress")
	ErrDragFinished   = errors.New("drag is already finished")
	ErrNotLoaded      = errors.New("board is not loaded")
	ErrUnknownTask    = errors.New("task is not on this board")
)

// Mover submits a move to the server.
type Mover interface {
	Move(ctx context.Context, req model.MoveRequest) (model.MoveResult, error)
}

// Activation describes the gesture that started a drag. Keyboard activation
// has no travel distance and skips the threshold.
type Activation struct {
	Distance float64
	Keyboard bool
}

// Target is a drop slot: a column and an index in its task list.
type Target struct {
	ColumnID int64
	Index    int
}

type Controller struct {
	cache     *reconcile.Cache
	mover     Mover
	actor     model.Actor
	rules     *constraint.Evaluator
	logger    *zap.Logger
	threshold float64
	timeout   time.Duration
	notify    func(Notice)
	newToken  func() string

	mu       sync.Mutex
	active   *Drag
	pending  map[int64]*pendingMove // latest submitted move per task
	inflight sync.WaitGroup
}

// pendingMove is a submitted move. A later move of the same task waits for
// done and then takes its observed time from moved.
type pendingMove struct {
	done  chan struct{}
	moved *model.Task
}

type Option func(*Controller)

func WithRules(e *constraint.Evaluator) Option {
	return func(c *Controller) { c.rules = e }
}

func WithThreshold(px float64) Option {
	return func(c *Controller) { c.threshold = px }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithNotify sets the outcome callback. It is called from request
// goroutines and must be safe for concurrent use.
func WithNotify(fn func(Notice)) Option {
	return func(c *Controller) { c.notify = fn }
}

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

// WithTokenSource replaces the idempotency token generator.
func WithTokenSource(fn func() string) Option {
	return func(c *Controller) { c.newToken = fn }
}

func NewController(cache *reconcile.Cache, mover Mover, actor model.Actor, opts ...Option) *Controller {
	c := &Controller{
		cache:     cache,
		mover:     mover,
		actor:     actor,
		rules:     constraint.Default(),
		logger:    zap.NewNop(),
		threshold: DefaultThreshold,
		timeout:   10 * time.Second,
		notify:    func(Notice) {},
		newToken:  uuid.NewString,
		pending:   make(map[int64]*pendingMove),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Phase is Dragging while a drag is held and Idle otherwise.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return Dragging
	}
	return Idle
}

// Begin starts dragging taskID. When every column is blocked the drag is
// still returned, a NoticeBlocked is sent, and only Cancel is useful.
func (c *Controller) Begin(boardID, taskID int64, act Activation) (*Drag, error) {
	if !act.Keyboard && act.Distance < c.threshold {
		return nil, ErrBelowThreshold
	}

	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return nil, ErrDragInProgress
	}
	view, ok := c.cache.View(boardID)
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrNotLoaded, boardID)
	}
	task, _, ok := view.FindTask(taskID)
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: task %d, board %d", ErrUnknownTask, taskID, boardID)
	}

	res := c.rules.Evaluate(task, view.ColumnList(), c.actor)
	d := &Drag{
		c:       c,
		boardID: boardID,
		task:    task,
		result:  res,
		origin:  view,
		preview: view,
		phase:   Dragging,
	}
	c.active = d
	c.mu.Unlock()

	if res.AllBlocked() {
		c.notify(Notice{Kind: NoticeBlocked, BoardID: boardID, TaskID: taskID, Reason: res.Reason})
	}
	return d, nil
}

// Wait blocks until every issued move has been reconciled.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

func (c *Controller) release(d *Drag) {
	c.mu.Lock()
	if c.active == d {
		c.active = nil
	}
	c.mu.Unlock()
}

// queue registers a move of taskID and returns the move it must follow.
func (c *Controller) queue(taskID int64) (prev, cur *pendingMove) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev = c.pending[taskID]
	cur = &pendingMove{done: make(chan struct{})}
	c.pending[taskID] = cur
	return prev, cur
}

func (c *Controller) settle(taskID int64, m *pendingMove) {
	c.mu.Lock()
	if c.pending[taskID] == m {
		delete(c.pending, taskID)
	}
	c.mu.Unlock()
	close(m.done)
}

// validate checks a target against the latest cached view of the board.
func (c *Controller) validate(boardID, taskID int64, t Target) (model.BoardState, model.Task, constraint.Decision) {
	view, ok := c.cache.View(boardID)
	if !ok {
		return view, model.Task{}, constraint.Decision{Reason: "board is no longer loaded"}
	}
	task, _, ok := view.FindTask(taskID)
	if !ok {
		return view, task, constraint.Decision{Reason: "task is no longer on this board"}
	}

	dec := c.rules.Check(task, view.ColumnList(), t.ColumnID, c.actor)
	if !dec.Allowed {
		return view, task, dec
	}
	dest, _ := view.Column(t.ColumnID)
	maxIndex := len(dest.Tasks)
	if dest.ID == task.ColumnID {
		maxIndex--
	}
	if t.Index < 0 || t.Index > maxIndex {
		return view, task, constraint.Decision{Reason: fmt.Sprintf("position %d out of range [0, %d]", t.Index, maxIndex)}
	}
	return view, task, dec
}

// submit sends req once any earlier move of the same task has resolved. The
// optimistic view still carries the task's pre-move timestamp, so a chained
// move observes the time the server stamped on the earlier one instead.
func (c *Controller) submit(ctx context.Context, boardID int64, gen uint64, req model.MoveRequest, prev, cur *pendingMove) {
	defer c.inflight.Done()
	defer c.settle(req.TaskID, cur)

	if prev != nil {
		<-prev.done
		if prev.moved != nil && !prev.moved.UpdatedAt.IsZero() {
			observed := prev.moved.UpdatedAt.UnixMilli()
			req.ClientObservedAtMs = &observed
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.mover.Move(ctx, req)
	notice := Notice{BoardID: boardID, TaskID: req.TaskID, Err: err}

	var (
		conflict   *model.ConflictError
		policy     *model.PolicyError
		validation *model.ValidationError
	)
	switch {
	case err == nil:
		cur.moved = &res.Task
		c.cache.Replace(res.Board)
		notice.Kind = NoticeMoved
	case errors.As(err, &conflict):
		c.cache.Replace(conflict.Board)
		notice.Kind = NoticeConflict
		notice.Reason = "task was modified by another user"
	default:
		c.cache.DiscardOverlay(boardID, gen)
		notice.Kind = NoticeFailed
		switch {
		case errors.As(err, &policy):
			notice.Reason = policy.Reason
		case errors.As(err, &validation):
			notice.Reason = validation.Reason
		default:
			notice.Reason = "move failed, try again"
		}
		// a rejection means the server sees a different board; resync
		if policy != nil || validation != nil {
			if err := c.cache.Invalidate(ctx, boardID); err != nil {
				c.logger.Warn("unable to refresh board after rejection", zap.Int64("board_id", boardID), zap.Error(err))
			}
		}
	}

	if err != nil {
		c.logger.Info("move not applied",
			zap.Int64("task_id", req.TaskID),
			zap.Int64("column_id", req.ColumnID),
			zap.Int("position", req.Position),
			zap.String("idempotency_token", req.IdempotencyToken),
			zap.Error(err),
		)
	}
	c.notify(notice)
}
