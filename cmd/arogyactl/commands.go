package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ashureev/arogya/internal/agent"
	"github.com/ashureev/arogya/internal/app"
	"github.com/ashureev/arogya/internal/chat"
	"github.com/ashureev/arogya/internal/importer"
	"github.com/ashureev/arogya/internal/rpc"
	"github.com/ashureev/arogya/internal/store"
	"github.com/spf13/cobra"
)

func newImportCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import remedies from a CSV export",
		Long: `Reads a CSV file whose header names the columns plant_name (or
"plant name"), symptoms, herbs, recommendations and precautions, and
inserts every row with a plant name in a single transaction.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			repo, err := c.openStore(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			res, err := importer.Import(ctx, repo, f)
			if err != nil {
				return err
			}
			c.logger.Info("Import finished", "file", args[0], "read", res.Read, "skipped", res.Skipped)
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d remedies (%d rows skipped)\n", res.Inserted, res.Skipped)
			return nil
		},
	}
}

func newSeedCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the reference remedies into an empty database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			repo, err := c.openStore(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			n, err := store.SeedIfEmpty(ctx, repo)
			if err != nil {
				return err
			}
			if n == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Remedies already present, nothing to seed")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d remedies\n", n)
			return nil
		},
	}
}

// remoteFlags select a running server instead of the local database.
type remoteFlags struct {
	addr  string
	token string
	email string
}

func (f *remoteFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "addr", "", "gRPC address of a running server")
	cmd.Flags().StringVar(&f.token, "token", "", "Login token for --addr")
	cmd.Flags().StringVar(&f.email, "email", "", "Account to act as against the local database")
}

// processor returns a Processor and the user ID to call it with. The
// release func closes everything the processor opened.
func (c *cli) processor(ctx context.Context, f *remoteFlags) (agent.Processor, string, func(), error) {
	if f.addr != "" {
		if f.token == "" {
			return nil, "", nil, fmt.Errorf("--token is required with --addr")
		}
		client, err := rpc.NewClient(rpc.ClientConfig{Address: f.addr, Token: f.token}, c.logger)
		if err != nil {
			return nil, "", nil, err
		}
		return client, "", client.Close, nil
	}

	if f.email == "" {
		return nil, "", nil, fmt.Errorf("either --addr or --email is required")
	}
	repo, err := c.openStore(ctx)
	if err != nil {
		return nil, "", nil, err
	}
	user, err := repo.GetUserByEmail(ctx, f.email)
	if err != nil {
		_ = repo.Close()
		return nil, "", nil, err
	}
	if user == nil {
		_ = repo.Close()
		return nil, "", nil, fmt.Errorf("no account registered for %s", f.email)
	}
	service, err := app.NewService(repo, c.cfg, c.logger)
	if err != nil {
		_ = repo.Close()
		return nil, "", nil, err
	}
	return service, user.ID, func() {
		service.Close()
		_ = repo.Close()
	}, nil
}

func newAskCmd(c *cli) *cobra.Command {
	var (
		flags     remoteFlags
		sessionID string
	)
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Ask the assistant a question",
		Long: `Answers a message the way the chat endpoint does. With --email or
--addr the exchange is saved to that account's history; without either the
reply is computed from the local database and nothing is stored.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			message := strings.Join(args, " ")

			if flags.addr == "" && flags.email == "" {
				return c.askStateless(cmd, message)
			}

			proc, userID, release, err := c.processor(ctx, &flags)
			if err != nil {
				return err
			}
			defer release()

			resp, err := proc.Chat(ctx, agent.ChatRequest{
				Message:   message,
				SessionID: sessionID,
				UserID:    userID,
				Channel:   agent.ChannelCLI,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Response)
			fmt.Fprintf(cmd.ErrOrStderr(), "session: %s\n", resp.SessionID)
			return nil
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&sessionID, "session", "", "Continue an existing session")
	return cmd
}

func (c *cli) askStateless(cmd *cobra.Command, message string) error {
	ctx := cmd.Context()
	repo, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	pipeline, err := chat.NewDefaultPipeline(repo, c.logger, chat.WithLookupTimeout(c.cfg.RemedyLookupTimeout))
	if err != nil {
		return err
	}
	reply, err := pipeline.Handle(ctx, message)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), reply)
	return nil
}

func newHistoryCmd(c *cli) *cobra.Command {
	var (
		flags     remoteFlags
		sessionID string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List chat sessions, or the messages of one session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			proc, userID, release, err := c.processor(ctx, &flags)
			if err != nil {
				return err
			}
			defer release()

			out := cmd.OutOrStdout()
			if sessionID != "" {
				messages, err := proc.Messages(ctx, userID, sessionID)
				if err != nil {
					return err
				}
				for _, m := range messages {
					speaker := "you"
					if m.IsBot() {
						speaker = "arogya"
					}
					fmt.Fprintf(out, "[%s] %s: %s\n", m.CreatedAt.Format("2006-01-02 15:04"), speaker, m.Content)
				}
				return nil
			}

			sessions, err := proc.Sessions(ctx, userID)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions")
				return nil
			}
			for _, s := range sessions {
				fmt.Fprintf(out, "%s  %s  %s\n", s.ID, s.CreatedAt.Format("2006-01-02 15:04"), s.Title)
			}
			return nil
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&sessionID, "session", "", "Show the messages of this session")
	return cmd
}
