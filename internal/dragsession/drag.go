package dragsession

import (
	"context"
	"sync"

	"github.com/BuzzLyutic/kanban-board-api/internal/constraint"
	"github.com/BuzzLyutic/kanban-board-api/internal/model"
	"github.com/BuzzLyutic/kanban-board-api/internal/reconcile"
)

// Drag is a drag in progress. Hover, Drop and Cancel only exist here, so
// nothing can be dropped while the controller is idle.
type Drag struct {
	c       *Controller
	boardID int64
	task    model.Task
	result  constraint.Result

	mu      sync.Mutex
	origin  model.BoardState
	preview model.BoardState
	phase   Phase
}

func (d *Drag) Task() model.Task { return d.task }

// Constraints is the evaluation made when the drag started.
func (d *Drag) Constraints() constraint.Result { return d.result }

func (d *Drag) Phase() Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phase
}

// Preview is the board as it should be drawn right now.
func (d *Drag) Preview() model.BoardState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.preview.Clone()
}

// Hover revalidates t. A valid target in another column gets a provisional
// splice in Preview; an invalid one leaves the preview alone.
func (d *Drag) Hover(t Target) constraint.Decision {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.phase != Dragging {
		return constraint.Decision{Reason: ErrDragFinished.Error()}
	}
	view, task, dec := d.validate(t)
	if !dec.Allowed {
		return dec
	}
	if t.ColumnID == task.ColumnID {
		d.preview = view
		return dec
	}
	preview, err := reconcile.Splice(view, task.ID, t.ColumnID, t.Index)
	if err != nil {
		return constraint.Decision{Reason: err.Error()}
	}
	d.preview = preview
	return dec
}

// Drop validates t one last time against the latest cached board. A valid
// drop becomes the cache overlay and the move is sent in the background;
// Drop itself never waits on the network. An invalid drop restores the
// pre-drag board and reports why through the notice callback.
//
// The returned phase is the outcome. The handle itself settles back to Idle.
func (d *Drag) Drop(ctx context.Context, t Target) (Phase, error) {
	phase, notice, err := d.drop(ctx, t)
	if notice != nil {
		d.c.notify(*notice)
	}
	return phase, err
}

func (d *Drag) drop(ctx context.Context, t Target) (Phase, *Notice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.phase != Dragging {
		return d.phase, nil, ErrDragFinished
	}
	defer d.c.release(d)
	defer func() { d.phase = Idle }()

	view, task, dec := d.validate(t)
	var overlay model.BoardState
	if dec.Allowed {
		var err error
		if overlay, err = reconcile.Splice(view, task.ID, t.ColumnID, t.Index); err != nil {
			dec = constraint.Decision{Reason: err.Error()}
		}
	}
	if !dec.Allowed {
		return d.reject(dec.Reason)
	}

	if t.ColumnID == task.ColumnID && t.Index == task.Position {
		d.phase = DroppedValid
		d.preview = view
		return d.phase, nil, nil
	}

	gen, ok := d.c.cache.SetOverlay(overlay)
	if !ok {
		return d.reject("board is no longer loaded")
	}
	d.phase = DroppedValid
	d.preview = overlay

	req := model.MoveRequest{
		TaskID:           task.ID,
		ColumnID:         t.ColumnID,
		Position:         t.Index,
		IdempotencyToken: d.c.newToken(),
	}
	if !task.UpdatedAt.IsZero() {
		observed := task.UpdatedAt.UnixMilli()
		req.ClientObservedAtMs = &observed
	}

	prev, cur := d.c.queue(task.ID)
	d.c.inflight.Add(1)
	go d.c.submit(context.WithoutCancel(ctx), d.boardID, gen, req, prev, cur)
	return d.phase, nil, nil
}

func (d *Drag) reject(reason string) (Phase, *Notice, error) {
	d.phase = DroppedInvalid
	d.preview = d.origin
	return d.phase, &Notice{Kind: NoticeRejected, BoardID: d.boardID, TaskID: d.task.ID, Reason: reason}, nil
}

// validate refuses everything for a drag that started fully blocked.
func (d *Drag) validate(t Target) (model.BoardState, model.Task, constraint.Decision) {
	if d.result.AllBlocked() {
		return d.origin, d.task, constraint.Decision{Reason: d.result.Reason}
	}
	return d.c.validate(d.boardID, d.task.ID, t)
}

// Cancel abandons the drag without contacting the server.
func (d *Drag) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.phase != Dragging {
		return
	}
	d.phase = Idle
	d.preview = d.origin
	d.c.release(d)
}
