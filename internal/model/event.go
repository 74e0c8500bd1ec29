package model

import "time"

type EventType string

const (
	EventTaskMoved      EventType = "task_moved"
	EventTaskCreated    EventType = "task_created"
	EventTaskDeleted    EventType = "task_deleted"
	EventBoardArchived  EventType = "board_archived"
	EventBoardRestored  EventType = "board_restored"
	EventBoardReindexed EventType = "board_reindexed"
)

// BoardEvent is a board-scoped change notification. Subscribers only need
// BoardID to invalidate; TaskID is zero for board-level events.
type BoardEvent struct {
	ID       string    `json:"id"`
	Type     EventType `json:"type"`
	BoardID  int64     `json:"board_id"`
	TaskID   int64     `json:"task_id,omitempty"`
	Revision int64     `json:"revision"`
	At       time.Time `json:"at"`
}
