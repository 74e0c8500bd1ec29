package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BuzzLyutic/kanban-board-api/internal/config"
	"github.com/BuzzLyutic/kanban-board-api/internal/model"
	"github.com/BuzzLyutic/kanban-board-api/internal/repo"
	"github.com/BuzzLyutic/kanban-board-api/internal/service"
)

func seedCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "seed-demo",
		Short: "Create a demo board with a few tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			pool, err := connect(ctx, config.Load())
			if err != nil {
				return err
			}
			defer pool.Close()

			store := repo.NewBoardRepo(pool)
			state, err := seedDemo(ctx, store, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created board %d %q\n", state.Board.ID, state.Board.Name)
			for _, c := range state.Columns {
				fmt.Fprintf(cmd.OutOrStdout(), "  column %d %-8s %d tasks\n", c.ID, c.Name, len(c.Tasks))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "Demo", "board name")
	return cmd
}

func seedDemo(ctx context.Context, store repo.BoardStore, name string) (model.BoardState, error) {
	limit := 3
	owner := model.Actor{UserID: "seed", Elevated: true}

	board, err := service.NewBoardService(store).Create(ctx, owner, name, []repo.ColumnSpec{
		{Name: "Todo"},
		{Name: "Doing"},
		{Name: "Review", MaxTasks: &limit},
		{Name: "Done", Terminal: true, AcceptsFrom: []string{"Review"}},
	})
	if err != nil {
		return model.BoardState{}, err
	}

	tasks := service.NewTaskService(store)
	demo := []struct {
		column   int
		title    string
		priority model.Priority
		locked   bool
	}{
		{0, "Write onboarding guide", model.PriorityLow, false},
		{0, "Rotate API keys", model.PriorityHigh, true},
		{0, "Fix flaky login test", model.PriorityMedium, false},
		{1, "Migrate billing job", model.PriorityHigh, false},
		{2, "Review caching PR", model.PriorityMedium, false},
	}
	for _, d := range demo {
		_, err := tasks.Create(ctx, owner, model.NewTask{
			BoardID:  board.Board.ID,
			ColumnID: board.Columns[d.column].ID,
			Title:    d.title,
			Priority: d.priority,
			Locked:   d.locked,
		}, "")
		if err != nil {
			return model.BoardState{}, err
		}
	}
	return store.BoardState(ctx, board.Board.ID)
}
