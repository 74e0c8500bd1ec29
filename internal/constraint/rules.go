package constraint

import (
	"fmt"
	"slices"

	"github.com/BuzzLyutic/kanban-board-api/internal/model"
)

var TaskLock = Rule{
	Name: "task-lock",
	Blocks: func(s Subject, _ model.Column) (string, bool) {
		if s.Task.Locked && !s.Actor.Elevated {
			return "task is locked and requires elevated privileges", true
		}
		return "", false
	},
}

var AllowList = Rule{
	Name: "allow-list",
	Blocks: func(s Subject, dest model.Column) (string, bool) {
		if len(s.Task.CanMoveTo) == 0 || slices.Contains(s.Task.CanMoveTo, dest.ID) {
			return "", false
		}
		return "move not allowed by task constraints", true
	},
}

var ColumnLock = Rule{
	Name: "column-lock",
	Blocks: func(s Subject, dest model.Column) (string, bool) {
		if dest.Locked && !s.Actor.Elevated {
			return fmt.Sprintf("column %q is locked and requires elevated privileges", dest.Name), true
		}
		return "", false
	},
}

var AcceptsFrom = Rule{
	Name: "accepts-from",
	Blocks: func(s Subject, dest model.Column) (string, bool) {
		if len(dest.AcceptsFrom) == 0 || dest.ID == s.Task.ColumnID || slices.Contains(dest.AcceptsFrom, s.Task.ColumnID) {
			return "", false
		}
		return fmt.Sprintf("column %q doesn't accept tasks from %q", dest.Name, s.Current.Name), true
	},
}

var Capacity = Rule{
	Name: "capacity",
	Blocks: func(s Subject, dest model.Column) (string, bool) {
		if dest.ID == s.Task.ColumnID || !dest.AtCapacity() {
			return "", false
		}
		return fmt.Sprintf("column %q has reached maximum capacity (%d)", dest.Name, *dest.MaxTasks), true
	},
}

// PriorityGate keeps high-priority tasks out of the terminal column unless
// the actor is elevated.
var PriorityGate = Rule{
	Name: "priority-gate",
	Blocks: func(s Subject, dest model.Column) (string, bool) {
		if s.Task.Priority == model.PriorityHigh && dest.Terminal && dest.ID != s.Task.ColumnID && !s.Actor.Elevated {
			return "high priority tasks require elevated privileges to complete", true
		}
		return "", false
	},
}

// WorkflowDirection blocks moves to a column earlier in board order.
var WorkflowDirection = Rule{
	Name: "workflow-direction",
	Blocks: func(s Subject, dest model.Column) (string, bool) {
		if s.Current.Order < 0 || s.Actor.Elevated || dest.Order >= s.Current.Order {
			return "", false
		}
		return "moving tasks backwards requires elevated privileges", true
	},
}
