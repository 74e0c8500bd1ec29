package reconcile

import (
	"fmt"
	"slices"

	"github.com/BuzzLyutic/kanban-board-api/internal/model"
)

// Splice returns a copy of state with taskID moved to index in columnID and
// both affected columns renumbered densely. Index follows the server's
// ranges: [0, n-1] inside the current column, [0, n] across columns.
func Splice(state model.BoardState, taskID, columnID int64, index int) (model.BoardState, error) {
	out := state.Clone()

	task, src, ok := out.FindTask(taskID)
	if !ok {
		return state, fmt.Errorf("task %d is not on board %d", taskID, state.Board.ID)
	}
	dst := slices.IndexFunc(out.Columns, func(c model.ColumnState) bool { return c.ID == columnID })
	if dst < 0 {
		return state, fmt.Errorf("column %d is not on board %d", columnID, state.Board.ID)
	}

	from := &out.Columns[src]
	from.Tasks = slices.DeleteFunc(from.Tasks, func(t model.Task) bool { return t.ID == taskID })

	to := &out.Columns[dst]
	if index < 0 || index > len(to.Tasks) {
		return state, fmt.Errorf("position %d out of range [0, %d]", index, len(to.Tasks))
	}
	task.ColumnID = columnID
	to.Tasks = slices.Insert(to.Tasks, index, task)

	renumber(from)
	renumber(to)
	return out, nil
}

func renumber(c *model.ColumnState) {
	for i := range c.Tasks {
		c.Tasks[i].Position = i
	}
	c.TaskCount = len(c.Tasks)
}
