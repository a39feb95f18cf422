package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"memebot/pkg/knowledge"

	"github.com/spf13/cobra"
)

const (
	envDatabaseURL   = "MEMEBOT_DATABASE_URL"
	defaultDSN       = "data/memes.db"
	defaultOpTimeout = 5 * time.Second
)

type rootOptions struct {
	driver    string
	dsn       string
	opTimeout time.Duration
	verbose   bool
}

func newRootCommand() *cobra.Command {
	options := &rootOptions{}

	root := &cobra.Command{
		Use:   "memectl",
		Short: "Inspect and seed the memebot knowledge store",
		Long: `memectl works directly against the store the bot reads from.

  memectl list                           # every remembered question
  memectl ask "answer 'best pizza?'"     # run one chat line
  memectl import memes.yaml              # bulk create, skipping existing`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&options.driver, "driver", knowledge.DriverSQLite, "store driver: sqlite or postgres")
	flags.StringVar(&options.dsn, "db", "", "store DSN or sqlite path (default $"+envDatabaseURL+" or "+defaultDSN+")")
	flags.DurationVar(&options.opTimeout, "op-timeout", defaultOpTimeout, "timeout for each store call")
	flags.BoolVarP(&options.verbose, "verbose", "v", false, "log store activity to stderr")

	root.AddCommand(
		newListCommand(options),
		newAskCommand(options),
		newImportCommand(options),
	)

	return root
}

func (o *rootOptions) resolvedDSN() string {
	if dsn := strings.TrimSpace(o.dsn); dsn != "" {
		return dsn
	}
	if dsn := strings.TrimSpace(os.Getenv(envDatabaseURL)); dsn != "" {
		return dsn
	}

	return defaultDSN
}

func (o *rootOptions) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func (o *rootOptions) openStore(ctx context.Context, cmd *cobra.Command) (*knowledge.SQL, error) {
	store, err := knowledge.OpenSQL(
		ctx,
		strings.ToLower(strings.TrimSpace(o.driver)),
		o.resolvedDSN(),
		knowledge.WithOpTimeout(o.opTimeout),
		knowledge.WithLogger(o.logger(cmd)),
	)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	return store, nil
}

// withStore opens the store for the duration of fn.
func (o *rootOptions) withStore(cmd *cobra.Command, fn func(context.Context, *knowledge.SQL) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := o.openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close store: %w", closeErr)
		}
	}()

	return fn(ctx, store)
}
