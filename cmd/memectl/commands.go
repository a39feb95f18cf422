package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"memebot/internal/docs"
	"memebot/modules/answers"
	"memebot/pkg/knowledge"
	"memebot/pkg/textmatch"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newListCommand(options *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every remembered question with its answer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return options.withStore(cmd, func(ctx context.Context, store *knowledge.SQL) error {
				entries, err := store.Entries(ctx)
				if err != nil {
					return fmt.Errorf("list memes: %w", err)
				}

				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "no memes stored")
					return nil
				}
				for index, entry := range entries {
					fmt.Fprintf(out, "%d) %s -> %s\n", index+1, entry.Question, entry.Answer)
				}

				return nil
			})
		},
	}
}

func newAskCommand(options *rootOptions) *cobra.Command {
	threshold := textmatch.DefaultThreshold

	cmd := &cobra.Command{
		Use:   "ask <line>",
		Short: "Run one chat line through the bot and print its reply",
		Long: `ask routes the line exactly like a chat message. Nothing is printed
when the line is not a bot command.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			matcher := textmatch.New(textmatch.WithThreshold(threshold))
			index, err := docs.Default(docs.WithMatcher(matcher))
			if err != nil {
				return fmt.Errorf("load documentation: %w", err)
			}

			return options.withStore(cmd, func(ctx context.Context, store *knowledge.SQL) error {
				service, err := answers.NewService(
					store,
					index,
					answers.WithMatcher(matcher),
					answers.WithLogger(options.logger(cmd)),
				)
				if err != nil {
					return err
				}

				if reply, ok := service.Handle(ctx, strings.Join(args, " ")); ok {
					fmt.Fprintln(cmd.OutOrStdout(), reply)
				}

				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", threshold, "minimum similarity for closest-match suggestions")

	return cmd
}

type importFile struct {
	Memes []knowledge.Entry `yaml:"memes"`
}

func newImportCommand(options *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create memes from a YAML file, skipping questions already stored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := readImportFile(args[0])
			if err != nil {
				return err
			}

			return options.withStore(cmd, func(ctx context.Context, store *knowledge.SQL) error {
				created, skipped, err := importEntries(ctx, store, entries)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d, skipped %d\n", created, skipped)

				return nil
			})
		},
	}
}

func readImportFile(path string) ([]knowledge.Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read import file: %w", err)
	}

	var parsed importFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse import file %s: %w", path, err)
	}
	for index, entry := range parsed.Memes {
		if strings.TrimSpace(entry.Question) == "" {
			return nil, fmt.Errorf("parse import file %s: memes[%d].question is required", path, index)
		}
	}

	return parsed.Memes, nil
}

// importEntries creates entries in file order. Existing questions, including
// duplicates inside the file, are skipped.
func importEntries(ctx context.Context, store knowledge.Store, entries []knowledge.Entry) (created, skipped int, err error) {
	for _, entry := range entries {
		err := store.Create(ctx, strings.TrimSpace(entry.Question), strings.TrimSpace(entry.Answer))
		switch {
		case err == nil:
			created++
		case errors.Is(err, knowledge.ErrExists):
			skipped++
		default:
			return created, skipped, fmt.Errorf("import %q: %w", entry.Question, err)
		}
	}

	return created, skipped, nil
}
