package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mailassist/internal/interactive"
	"mailassist/internal/render"
	"mailassist/internal/retrieval"
)

func newInteractiveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "interactive",
		Short: "Start the interactive command shell",
		Long: `Starts a command loop with list, review, search, payments and process
commands. Type 'help' inside the shell for details.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()
			defer a.flushOutbox(ctx)

			return interactive.NewShell(a.agent, cmd.InOrStdin(), cmd.OutOrStdout(), a.logger).Run(ctx)
		},
	}
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		k                    int
		sender, since, until string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Semantic search over stored emails",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filters, err := retrieval.ParseFilters(sender, since, until)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()

			results, err := a.agent.Search(ctx, strings.Join(args, " "), k, filters)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(out, "No results found.")
				return nil
			}
			fmt.Fprintf(out, "Found %d results:\n", len(results))
			render.New(out).Scored(results)
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "k", "k", 0, "number of results (0 = agent.related_k)")
	cmd.Flags().StringVar(&sender, "sender", "", "only emails from this sender")
	cmd.Flags().StringVar(&since, "since", "", "only emails received on or after (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&until, "until", "", "only emails received on or before (YYYY-MM-DD or RFC3339)")
	return cmd
}

func newPaymentsCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "payments <sender>",
		Short: "List analyzed emails from a sender that mention payment amounts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()

			emails, err := a.agent.Payments(ctx, args[0], limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(emails) == 0 {
				fmt.Fprintln(out, "No payment references found.")
				return nil
			}
			fmt.Fprintf(out, "Found %d payment references:\n", len(emails))
			render.New(out).Payments(emails)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of emails (0 = default)")
	return cmd
}
