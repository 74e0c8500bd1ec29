package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BuzzLyutic/kanban-board-api/internal/constraint"
	"github.com/BuzzLyutic/kanban-board-api/internal/model"
	"github.com/BuzzLyutic/kanban-board-api/internal/repo"
)

// ErrValidation is kept for callers that only care about the category.
var ErrValidation = model.ErrValidation

// Snapshots serves board snapshots, possibly from a cache, and is told the
// revision each committed change produced so older cached copies are dropped.
type Snapshots interface {
	BoardState(ctx context.Context, boardID int64) (model.BoardState, error)
	Evict(ctx context.Context, boardID, revision int64)
}

type uncached struct {
	store repo.BoardStore
}

func (u uncached) BoardState(ctx context.Context, boardID int64) (model.BoardState, error) {
	return u.store.BoardState(ctx, boardID)
}

func (uncached) Evict(context.Context, int64, int64) {}

type deps struct {
	store     repo.BoardStore
	snapshots Snapshots
	rules     *constraint.Evaluator
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*deps)

func WithSnapshots(s Snapshots) Option {
	return func(d *deps) { d.snapshots = s }
}

func WithRules(e *constraint.Evaluator) Option {
	return func(d *deps) { d.rules = e }
}

func WithLogger(l *zap.Logger) Option {
	return func(d *deps) { d.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(d *deps) { d.now = now }
}

func newDeps(store repo.BoardStore, opts []Option) deps {
	d := deps{
		store:  store,
		rules:  constraint.Default(),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(&d)
	}
	if d.snapshots == nil {
		d.snapshots = uncached{store: store}
	}
	return d
}

func idempotencyKey(op string, actor model.Actor, token string) string {
	if token == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s:%s", op, actor.UserID, token)
}

// commitChange records the audit entry, bumps the board revision and queues
// the change notification for one ledger transition.
func commitChange(ctx context.Context, l repo.Ledger, entry model.AuditEntry, typ model.EventType) error {
	if err := l.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	rev, err := l.BumpRevision(ctx)
	if err != nil {
		return fmt.Errorf("bump revision: %w", err)
	}
	return l.Enqueue(ctx, model.BoardEvent{
		Type:     typ,
		BoardID:  l.Board(ctx).ID,
		TaskID:   entry.TaskID,
		Revision: rev,
	})
}
