package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"basegraph.app/courier/internal/domain"
)

func NewListCommand(opts *RootOptions) *cobra.Command {
	var (
		all    bool
		author string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued records",
		Long: `List pending and in-flight records, oldest first.

Examples:
  queuectl list
  queuectl list --all
  queuectl list --author @alice --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, opts, func(ctx context.Context, e *env) error {
				var (
					recs []domain.QueueRecord
					err  error
				)
				if author != "" {
					recs, err = e.admin.ListByAuthor(ctx, author)
				} else {
					recs, err = e.admin.List(ctx, all)
				}
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to list records", err)
				}

				if opts.Format == "json" {
					if recs == nil {
						recs = []domain.QueueRecord{}
					}
					return writeJSON(cmd.OutOrStdout(), recs)
				}
				return writeRecords(cmd.OutOrStdout(), recs)
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include errors and no_reply records")
	cmd.Flags().StringVar(&author, "author", "", "only records by this author (implies --all)")

	return cmd
}

func NewCountCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Count records per state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, opts, func(ctx context.Context, e *env) error {
				stats, err := e.admin.Stats(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to count records", err)
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), stats.Counts)
				}
				return writeCounts(cmd.OutOrStdout(), stats.Counts)
			})
		},
	}
}

func NewStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue and ledger statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, opts, func(ctx context.Context, e *env) error {
				stats, err := e.admin.Stats(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to compute stats", err)
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), stats)
				}

				out := cmd.OutOrStdout()
				if err := writeCounts(out, stats.Counts); err != nil {
					return err
				}
				fmt.Fprintf(out, "ledger entries: %d\n", stats.LedgerSize)
				fmt.Fprintf(out, "oldest pending: %s\n", stats.OldestPendingAge.Round(time.Second))
				for kind, n := range stats.PendingByKind {
					fmt.Fprintf(out, "pending %s: %d\n", kind, n)
				}
				return nil
			})
		},
	}
}

func NewHealthCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show queue health as seen from the files",
		Long: `Show queue health derived from the queue directory.

Exits 1 when the status is critical. The error-rate window and breaker of
a running worker are only visible through its admin API.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, opts, func(ctx context.Context, e *env) error {
				snap := e.admin.Health(ctx)
				var err error
				if opts.Format == "json" {
					err = writeJSON(cmd.OutOrStdout(), snap)
				} else {
					err = writeHealth(cmd.OutOrStdout(), snap)
				}
				if err != nil {
					return err
				}
				if snap.Status == domain.HealthCritical {
					return NewExitError(ExitFailure, "queue health is critical")
				}
				return nil
			})
		},
	}
}

func NewRepairCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Repair the queue directory",
		Long: `Quarantine corrupt records, salvage or expire quarantined ones, remove
stale temp files, collapse duplicate copies of one event and resolve
pending records the ledger already has.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, opts, func(ctx context.Context, e *env) error {
				report, err := e.admin.Repair(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "repair failed", err)
				}

				out := cmd.OutOrStdout()
				if opts.Format == "json" {
					if err := writeJSON(out, report); err != nil {
						return err
					}
				} else {
					fmt.Fprintf(out, "scanned %d, quarantined %d, recovered %d, deleted %d, temp removed %d, duplicates %d, reconciled %d\n",
						report.Scanned, report.Quarantined, report.Recovered, report.Deleted,
						report.TempRemoved, report.Duplicates, report.Reconciled)
					for _, msg := range report.Errors {
						fmt.Fprintf(out, "error: %s\n", msg)
					}
				}

				if !report.OK() {
					return NewExitError(ExitFailure, "repair finished with errors")
				}
				return nil
			})
		},
	}
}

func NewDropCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drop <event-id>",
		Short: "Remove every pending or terminal record of an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, opts, func(ctx context.Context, e *env) error {
				n, err := e.admin.Drop(ctx, args[0])
				if err != nil {
					if errors.Is(err, domain.ErrNotFound) {
						return WrapExitError(ExitFailure, "nothing to drop", err)
					}
					return WrapExitError(ExitCommandError, "failed to drop records", err)
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), map[string]any{"eventId": args[0], "dropped": n})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "dropped %d record(s) for %s\n", n, args[0])
				return nil
			})
		},
	}
}
