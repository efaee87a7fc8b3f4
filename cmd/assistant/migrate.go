package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mailassist/pkg/db"
	"mailassist/pkg/outbox"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var printOnly bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the agent columns, pgvector index and outbox table",
		Long: `Applies the schema used by the assistant to the configured PostgreSQL
database: the pgvector extension, the analyzed / agent_analysis / embedding
columns with their indexes, and the outbox_events table.

Safe to run multiple times (idempotent).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if printOnly {
				fmt.Fprint(cmd.OutOrStdout(), db.Schema())
				return nil
			}

			cfg, log, err := loadConfig(opts)
			if err != nil {
				return err
			}
			defer log.Sync()

			pool, err := db.NewConnection(cmd.Context(), cfg.DB, log)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.Migrate(cmd.Context(), pool, log); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&printOnly, "print", false, "print the schema instead of applying it")
	return cmd
}

func newOutboxCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and replay email.analyzed outbox events",
	}
	cmd.AddCommand(newOutboxReplayCmd(opts))
	return cmd
}

func newOutboxReplayCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "replay [event-id]",
		Short: "Reset failed outbox events to pending",
		Long: `Resets one event, or the most recent failed events when no id is given,
back to pending. A running monitor publishes them on its next dispatch.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var eventID int64
			if len(args) == 1 {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil || id <= 0 {
					return fmt.Errorf("invalid event id %q", args[0])
				}
				eventID = id
			}

			cfg, log, err := loadConfig(opts)
			if err != nil {
				return err
			}
			defer log.Sync()

			pool, err := db.NewConnection(cmd.Context(), cfg.DB, log)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := outbox.NewReplayService(outbox.NewRepository(pool), log)
			out := cmd.OutOrStdout()
			if eventID != 0 {
				if err := svc.ReplayEvent(cmd.Context(), eventID); err != nil {
					return err
				}
				fmt.Fprintf(out, "Event %d reset to pending.\n", eventID)
				return nil
			}

			n, err := svc.ReplayFailedEvents(cmd.Context(), limit)
			if err != nil {
				return err
			}
			log.Info("Outbox replay finished", zap.Int("replayed", n))
			fmt.Fprintf(out, "%d failed events reset to pending.\n", n)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of failed events to replay")
	return cmd
}
