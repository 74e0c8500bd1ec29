package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/BuzzLyutic/kanban-board-api/internal/constraint"
	"github.com/BuzzLyutic/kanban-board-api/internal/model"
)

func renderBoard(w io.Writer, state model.BoardState) {
	status := ""
	if state.Board.Archived {
		status = " [archived]"
	}
	fmt.Fprintf(w, "%s (board %d, revision %d)%s\n", state.Board.Name, state.Board.ID, state.Board.Revision, status)

	for _, col := range state.Columns {
		var flags []string
		if col.MaxTasks != nil {
			flags = append(flags, fmt.Sprintf("%d/%d", len(col.Tasks), *col.MaxTasks))
		}
		if col.Locked {
			flags = append(flags, "locked")
		}
		if col.Terminal {
			flags = append(flags, "terminal")
		}
		header := fmt.Sprintf("%s #%d", col.Name, col.ID)
		if len(flags) > 0 {
			header += " (" + strings.Join(flags, ", ") + ")"
		}
		fmt.Fprintln(w, header)

		if len(col.Tasks) == 0 {
			fmt.Fprintln(w, "  -")
		}
		for _, t := range col.Tasks {
			lock := ""
			if t.Locked {
				lock = " *"
			}
			fmt.Fprintf(w, "  %d. [%d] %s (%s)%s\n", t.Position, t.ID, t.Title, t.Priority, lock)
		}
	}
}

func renderConstraints(w io.Writer, state model.BoardState, res constraint.Result) {
	names := func(ids []int64) string {
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			if col, ok := state.Column(id); ok {
				out = append(out, col.Name)
			}
		}
		if len(out) == 0 {
			return "-"
		}
		return strings.Join(out, ", ")
	}
	fmt.Fprintf(w, "allowed: %s\n", names(res.Allowed))
	fmt.Fprintf(w, "blocked: %s\n", names(res.Blocked))
	if res.Reason != "" {
		fmt.Fprintf(w, "reason:  %s\n", res.Reason)
	}
}
