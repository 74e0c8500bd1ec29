package model

import (
	"slices"
	"time"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

type Task struct {
	ID        int64     `json:"id"`
	BoardID   int64     `json:"board_id"`
	ColumnID  int64     `json:"column_id"`
	Title     string    `json:"title"`
	Position  int       `json:"position"`
	Priority  Priority  `json:"priority"`
	Locked    bool      `json:"locked"`
	CanMoveTo []int64   `json:"can_move_to,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Column is one ordered lane of a board. TaskCount is filled on reads and is
// never persisted.
type Column struct {
	ID          int64   `json:"id"`
	BoardID     int64   `json:"board_id"`
	Name        string  `json:"name"`
	Order       int     `json:"order"`
	MaxTasks    *int    `json:"max_tasks,omitempty"`
	AcceptsFrom []int64 `json:"accepts_from,omitempty"`
	Locked      bool    `json:"locked"`
	Terminal    bool    `json:"terminal"`
	TaskCount   int     `json:"task_count"`
}

// AtCapacity reports whether the column cannot take another task.
func (c Column) AtCapacity() bool {
	return c.MaxTasks != nil && c.TaskCount >= *c.MaxTasks
}

type Board struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Revision int64  `json:"revision"`
	Archived bool   `json:"archived"`
}

type ColumnState struct {
	Column
	Tasks []Task `json:"tasks"`
}

// BoardState is a full snapshot of a board: every column in display order,
// each with its tasks ordered by position.
type BoardState struct {
	Board   Board         `json:"board"`
	Columns []ColumnState `json:"columns"`
}

func (s BoardState) Column(id int64) (ColumnState, bool) {
	for _, c := range s.Columns {
		if c.ID == id {
			return c, true
		}
	}
	return ColumnState{}, false
}

// FindTask returns the task and the index of its column in s.Columns.
func (s BoardState) FindTask(id int64) (Task, int, bool) {
	for i, c := range s.Columns {
		for _, t := range c.Tasks {
			if t.ID == id {
				return t, i, true
			}
		}
	}
	return Task{}, -1, false
}

// ColumnList returns the columns with TaskCount derived from the task lists.
func (s BoardState) ColumnList() []Column {
	cols := make([]Column, 0, len(s.Columns))
	for _, c := range s.Columns {
		col := c.Column
		col.TaskCount = len(c.Tasks)
		cols = append(cols, col)
	}
	return cols
}

// Clone deep-copies the columns and their task lists so callers can splice
// freely. Empty lists stay empty rather than becoming nil.
func (s BoardState) Clone() BoardState {
	out := BoardState{Board: s.Board, Columns: slices.Clone(s.Columns)}
	for i, c := range out.Columns {
		out.Columns[i].AcceptsFrom = slices.Clone(c.AcceptsFrom)
		out.Columns[i].Tasks = slices.Clone(c.Tasks)
		for j, t := range out.Columns[i].Tasks {
			out.Columns[i].Tasks[j].CanMoveTo = slices.Clone(t.CanMoveTo)
		}
	}
	return out
}

type MoveRequest struct {
	TaskID             int64  `json:"task_id"`
	ColumnID           int64  `json:"column_id"`
	Position           int    `json:"position"`
	IdempotencyToken   string `json:"idempotency_token,omitempty"`
	ClientObservedAtMs *int64 `json:"client_timestamp_ms,omitempty"`
}

type MoveResult struct {
	Task              Task       `json:"task"`
	ServerTimestampMs int64      `json:"server_timestamp_ms"`
	Board             BoardState `json:"board"`
	IdempotencyToken  string     `json:"idempotency_token,omitempty"`
}

type AuditAction string

const (
	AuditCreated   AuditAction = "created"
	AuditMoved     AuditAction = "moved"
	AuditDeleted   AuditAction = "deleted"
	AuditReindexed AuditAction = "reindexed"
)

// AuditEntry is an immutable record of one ledger transition.
type AuditEntry struct {
	ID           int64       `json:"id"`
	TaskID       int64       `json:"task_id"`
	BoardID      int64       `json:"board_id"`
	UserID       string      `json:"user_id"`
	Action       AuditAction `json:"action"`
	FromColumnID *int64      `json:"from_column_id,omitempty"`
	FromPosition *int        `json:"from_position,omitempty"`
	ToColumnID   *int64      `json:"to_column_id,omitempty"`
	ToPosition   *int        `json:"to_position,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

type Actor struct {
	UserID   string `json:"user_id"`
	Elevated bool   `json:"elevated"`
}

type NewTask struct {
	BoardID   int64    `json:"board_id"`
	ColumnID  int64    `json:"column_id"`
	Title     string   `json:"title"`
	Priority  Priority `json:"priority"`
	Locked    bool     `json:"locked"`
	CanMoveTo []int64  `json:"can_move_to,omitempty"`
}
