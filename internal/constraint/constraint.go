// Package constraint decides which columns a task may be moved into.
//
// The same rules run twice: on the client before a drag starts, where they only
// gate interaction, and on the server inside the move transaction, where they
// are authoritative. Evaluation is pure and safe for concurrent use.
package constraint

import (
	"fmt"
	"slices"

	"github.com/BuzzLyutic/kanban-board-api/internal/model"
)

// Subject is everything a rule may look at for one candidate destination.
type Subject struct {
	Task    model.Task
	Current model.Column
	Actor   model.Actor
}

// Rule blocks a destination column for a subject and explains why.
type Rule struct {
	Name   string
	Blocks func(s Subject, dest model.Column) (reason string, blocked bool)
}

// Result lists allowed and blocked columns in board order. Reason comes from
// the highest-precedence rule that blocked anything.
type Result struct {
	Allowed []int64 `json:"allowed_columns"`
	Blocked []int64 `json:"blocked_columns"`
	Reason  string  `json:"reason,omitempty"`
}

func (r Result) AllBlocked() bool {
	return len(r.Allowed) == 0 && len(r.Blocked) > 0
}

func (r Result) IsBlocked(columnID int64) bool {
	return slices.Contains(r.Blocked, columnID)
}

type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

type Evaluator struct {
	rules []Rule
	// sameColumn are the only rules applied to a reorder within the
	// task's current column.
	sameColumn []Rule
}

// New builds an evaluator from rules in precedence order. sameColumn names
// the rules that also apply to reordering inside the current column.
func New(rules []Rule, sameColumn ...string) *Evaluator {
	e := &Evaluator{rules: rules}
	for _, r := range rules {
		if slices.Contains(sameColumn, r.Name) {
			e.sameColumn = append(e.sameColumn, r)
		}
	}
	return e
}

// Default returns the board rule set.
func Default() *Evaluator {
	return New([]Rule{
		TaskLock,
		AllowList,
		ColumnLock,
		AcceptsFrom,
		Capacity,
		PriorityGate,
		WorkflowDirection,
	}, TaskLock.Name)
}

// Evaluate computes allowed and blocked destinations for task over the full
// column list.
func (e *Evaluator) Evaluate(task model.Task, columns []model.Column, actor model.Actor) Result {
	subject := Subject{Task: task, Current: currentColumn(task, columns), Actor: actor}

	blocked := make(map[int64]bool, len(columns))
	var res Result
	for _, rule := range e.rules {
		for _, col := range columns {
			reason, ok := rule.Blocks(subject, col)
			if !ok {
				continue
			}
			blocked[col.ID] = true
			if res.Reason == "" {
				res.Reason = reason
			}
		}
	}

	for _, col := range columns {
		if blocked[col.ID] {
			res.Blocked = append(res.Blocked, col.ID)
		} else {
			res.Allowed = append(res.Allowed, col.ID)
		}
	}
	return res
}

// Check decides a single destination. Reordering inside the current column
// only runs the same-column rules.
func (e *Evaluator) Check(task model.Task, columns []model.Column, destID int64, actor model.Actor) Decision {
	idx := slices.IndexFunc(columns, func(c model.Column) bool { return c.ID == destID })
	if idx < 0 {
		return Decision{Reason: fmt.Sprintf("column %d is not on this board", destID)}
	}
	dest := columns[idx]
	subject := Subject{Task: task, Current: currentColumn(task, columns), Actor: actor}

	rules := e.rules
	if destID == task.ColumnID {
		rules = e.sameColumn
	}
	for _, rule := range rules {
		if reason, blocked := rule.Blocks(subject, dest); blocked {
			return Decision{Reason: reason}
		}
	}
	return Decision{Allowed: true}
}

func currentColumn(task model.Task, columns []model.Column) model.Column {
	for _, c := range columns {
		if c.ID == task.ColumnID {
			return c
		}
	}
	return model.Column{ID: task.ColumnID, Order: -1}
}
