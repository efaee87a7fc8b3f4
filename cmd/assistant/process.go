package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"mailassist/internal/render"
)

func newProcessCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run one pass over all pending 'respond' emails",
		Long: `Runs a single pass over every email in the 'respond' category that has not
been analyzed yet, prints one line per email and the rendered analyses.
Exits with status 1 when the pass is aborted by a fatal error such as
rejected credentials.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.agent.ProcessPending(ctx, "process", limit)
			render.New(cmd.OutOrStdout()).Report(report, true)
			a.flushOutbox(ctx)
			return err
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of emails to process (0 = all pending)")
	return cmd
}

func newReviewCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "review <id>",
		Short: "Force a fresh analysis of one email",
		Long: `Re-analyzes one 'respond' email even if it was analyzed before or parked
after repeated failures, and prints the result.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid email id %q", args[0])
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.agent.Review(ctx, id)
			if report != nil {
				render.New(cmd.OutOrStdout()).Report(report, true)
			}
			a.flushOutbox(ctx)
			return err
		},
	}
}
