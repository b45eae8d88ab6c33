// arogyactl - operator tooling for the Arogya assistant: dataset import,
// seeding, and chatting from the terminal.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ashureev/arogya/internal/config"
	"github.com/ashureev/arogya/internal/logging"
	"github.com/ashureev/arogya/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// cli carries state shared by every subcommand.
type cli struct {
	out    io.Writer
	errOut io.Writer
	load   func() (*config.Config, error)

	dbPath  string
	verbose bool

	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(&cli{out: os.Stdout, errOut: os.Stderr, load: config.Load})
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "arogyactl",
		Short: "Arogya operator tooling",
		Long: `arogyactl manages the remedy dataset behind the Arogya assistant and
lets operators ask it questions from the terminal, either against the
local database or a running server over gRPC.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init()
		},
	}
	root.SetOut(c.out)
	root.SetErr(c.errOut)

	root.PersistentFlags().StringVar(&c.dbPath, "db", "", "SQLite database path (overrides DB_PATH)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newImportCmd(c),
		newSeedCmd(c),
		newAskCmd(c),
		newHistoryCmd(c),
	)
	return root
}

func (c *cli) init() error {
	cfg, err := c.load()
	if err != nil {
		return err
	}
	if c.dbPath != "" {
		cfg.DBPath = c.dbPath
	}

	level := cfg.Log.Level
	if c.verbose {
		level = "debug"
	}
	logger, err := logging.Setup(c.errOut, level, "text")
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = logger
	return nil
}

// openStore opens the configured database. Callers close it.
func (c *cli) openStore(ctx context.Context) (store.Repository, error) {
	repo, err := store.Open(ctx, c.cfg.DBDriver, c.cfg.DBPath, c.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return repo, nil
}
