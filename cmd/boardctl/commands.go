package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/BuzzLyutic/kanban-board-api/internal/dragsession"
	"github.com/BuzzLyutic/kanban-board-api/internal/events"
	"github.com/BuzzLyutic/kanban-board-api/internal/model"
	"github.com/BuzzLyutic/kanban-board-api/internal/reconcile"
)

func showCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show <board-id>",
		Short: "Print a board snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			boardID, err := parseID(args[0])
			if err != nil {
				return err
			}
			state, err := g.client().Board(cmd.Context(), boardID)
			if err != nil {
				return err
			}
			renderBoard(cmd.OutOrStdout(), state)
			return nil
		},
	}
}

func constraintsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "constraints <board-id> <task-id>",
		Short: "Show where a task may be moved",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			boardID, err := parseID(args[0])
			if err != nil {
				return err
			}
			taskID, err := parseID(args[1])
			if err != nil {
				return err
			}
			api := g.client()
			state, err := api.Board(cmd.Context(), boardID)
			if err != nil {
				return err
			}
			res, err := api.Constraints(cmd.Context(), boardID, taskID)
			if err != nil {
				return err
			}
			renderConstraints(cmd.OutOrStdout(), state, res)
			return nil
		},
	}
}

func moveCmd(g *globals) *cobra.Command {
	var elevated bool
	cmd := &cobra.Command{
		Use:   "move <board-id> <task-id> <column> <position>",
		Short: "Drag a task to a column and position",
		Long: "Runs the move the way an interactive client would: local constraint " +
			"check, optimistic drop, then reconciliation with the server's answer. " +
			"<column> is a column id or name.",
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			boardID, err := parseID(args[0])
			if err != nil {
				return err
			}
			taskID, err := parseID(args[1])
			if err != nil {
				return err
			}
			position, err := strconv.Atoi(args[3])
			if err != nil {
				return fmt.Errorf("invalid position %q", args[3])
			}

			api := g.client()
			logger := g.logger()
			cache := reconcile.NewCache(api, logger)
			state, err := cache.Load(cmd.Context(), boardID)
			if err != nil {
				return err
			}
			columnID, err := resolveColumn(state, args[2])
			if err != nil {
				return err
			}

			var outcome dragsession.Notice
			ctrl := dragsession.NewController(cache, api, model.Actor{UserID: "boardctl", Elevated: elevated},
				dragsession.WithLogger(logger),
				dragsession.WithNotify(func(n dragsession.Notice) { outcome = n }),
			)
			drag, err := ctrl.Begin(boardID, taskID, dragsession.Activation{Keyboard: true})
			if err != nil {
				return err
			}
			phase, err := drag.Drop(cmd.Context(), dragsession.Target{ColumnID: columnID, Index: position})
			if err != nil {
				return err
			}
			ctrl.Wait()

			out := cmd.OutOrStdout()
			view, _ := cache.View(boardID)
			renderBoard(out, view)
			switch {
			case phase == dragsession.DroppedInvalid:
				return fmt.Errorf("move rejected: %s", outcome.Reason)
			case outcome.Kind == "":
				fmt.Fprintln(out, "task already in place")
			case outcome.Kind != dragsession.NoticeMoved:
				return fmt.Errorf("move %s: %s", outcome.Kind, outcome.Reason)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&elevated, "elevated", false, "evaluate local constraints as an elevated user")
	return cmd
}

func watchCmd(g *globals) *cobra.Command {
	var redisURL, channel string
	cmd := &cobra.Command{
		Use:   "watch <board-id>",
		Short: "Reprint a board whenever another client changes it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			boardID, err := parseID(args[0])
			if err != nil {
				return err
			}
			opts, err := redis.ParseURL(redisURL)
			if err != nil {
				return fmt.Errorf("parse redis url: %w", err)
			}
			rc := redis.NewClient(opts)
			defer rc.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := g.logger()
			cache := reconcile.NewCache(g.client(), logger)
			state, err := cache.Load(ctx, boardID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			renderBoard(out, state)

			syncer := reconcile.NewSyncer(cache, rc, channel, logger)
			events.Subscribe(ctx, logger, rc, channel, func(ev model.BoardEvent) {
				if ev.BoardID != boardID {
					return
				}
				before, _ := cache.Revision(boardID)
				syncer.Handle(ctx, ev)
				if after, _ := cache.Revision(boardID); after != before {
					view, _ := cache.View(boardID)
					fmt.Fprintf(out, "\n%s by task %d\n", ev.Type, ev.TaskID)
					renderBoard(out, view)
				}
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&redisURL, "redis", envOr("REDIS_URL", "redis://localhost:6379/0"), "Redis URL carrying board events")
	cmd.Flags().StringVar(&channel, "channel", envOr("EVENTS_CHANNEL", events.DefaultChannel), "board events channel")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		secret, sub, role string
		ttl               time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an HS256 bearer token for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			signed, err := mintToken([]byte(secret), sub, role, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "shared HS256 secret")
	cmd.Flags().StringVar(&sub, "sub", "dev", "subject (user id)")
	cmd.Flags().StringVar(&role, "role", "", "role claim, e.g. admin")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func mintToken(secret []byte, sub, role string, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("secret is required")
	}
	claims := jwt.MapClaims{
		"sub": sub,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if role != "" {
		claims["role"] = role
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// resolveColumn accepts a column id or a case-insensitive column name.
func resolveColumn(state model.BoardState, arg string) (int64, error) {
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		if _, ok := state.Column(id); ok {
			return id, nil
		}
	}
	for _, col := range state.Columns {
		if strings.EqualFold(col.Name, arg) {
			return col.ID, nil
		}
	}
	return 0, fmt.Errorf("no column %q on board %d", arg, state.Board.ID)
}
