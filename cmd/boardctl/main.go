package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/kanban-board-api/internal/client"
)

var Version = "dev"

type globals struct {
	apiURL  string
	token   string
	verbose bool
}

func (g *globals) client() *client.Client {
	return client.New(g.apiURL, g.token)
}

func (g *globals) logger() *zap.Logger {
	if !g.verbose {
		return zap.NewNop()
	}
	logger, _ := zap.NewDevelopment()
	return logger
}

func main() {
	_ = godotenv.Load()

	g := &globals{}
	rootCmd := &cobra.Command{
		Use:           "boardctl",
		Short:         "Inspect boards and move tasks through the board API",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&g.apiURL, "api", envOr("BOARD_API_URL", "http://localhost:8080"), "board API base URL")
	rootCmd.PersistentFlags().StringVar(&g.token, "token", os.Getenv("BOARD_TOKEN"), "bearer token")
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log client activity")

	rootCmd.AddCommand(showCmd(g))
	rootCmd.AddCommand(constraintsCmd(g))
	rootCmd.AddCommand(moveCmd(g))
	rootCmd.AddCommand(watchCmd(g))
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
