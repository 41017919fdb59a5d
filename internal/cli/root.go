package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"basegraph.app/courier/internal/health"
	"basegraph.app/courier/internal/ledger"
	"basegraph.app/courier/internal/pipeline"
	"basegraph.app/courier/internal/queue"
	"basegraph.app/courier/internal/service"
)

const ownerName = "queuectl"

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	QueueDir    string
	LedgerDSN   string
	RepairGrace time.Duration
	Format      string
}

// env is what a command works on. It is opened per invocation and closed
// when the command returns.
type env struct {
	admin service.AdminService
	close func() error
}

func (o *RootOptions) open(ctx context.Context) (*env, error) {
	monitor := health.NewMonitor(health.Config{Queue: o.QueueDir})

	store, err := queue.New(queue.Config{Dir: o.QueueDir, Owner: ownerName, RepairGrace: o.RepairGrace},
		queue.WithCorruptionHandler(func(ctx context.Context, name string, cause error) {
			monitor.RecordQuarantine(ctx, 1)
		}))
	if err != nil {
		_ = monitor.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open queue", err)
	}
	monitor.AttachQueue(store)

	seen, err := ledger.Open(ctx, o.LedgerDSN)
	if err != nil {
		_ = monitor.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open ledger", err)
	}

	repairer := pipeline.NewRepairer(store, seen, monitor, nil)
	return &env{
		admin: service.NewAdminService(store, seen, monitor, repairer),
		close: func() error {
			_ = monitor.Close()
			return seen.Close()
		},
	}, nil
}

// NewRootCommand creates the queuectl root command. defaults come from the
// worker's configuration so both see the same queue.
func NewRootCommand(defaults RootOptions) *cobra.Command {
	opts := &defaults

	cmd := &cobra.Command{
		Use:   "queuectl",
		Short: "Inspect and repair the courier queue",
		Long: `Operate on the courier queue directory and dedup ledger.

Commands read the files directly and are safe to run next to a live
worker. A repair run here fixes the files but does not clear the breaker
of a running worker; use the worker's admin API for that.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.QueueDir == "" {
				return NewExitError(ExitCommandError, "--dir is required")
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.QueueDir, "dir", opts.QueueDir, "queue directory")
	cmd.PersistentFlags().StringVar(&opts.LedgerDSN, "ledger", opts.LedgerDSN, "ledger DSN (sqlite://, postgres://, redis://, arangodb://, memory://)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewCountCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewHealthCommand(opts))
	cmd.AddCommand(NewRepairCommand(opts))
	cmd.AddCommand(NewDropCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// withEnv opens the queue for the duration of fn.
func withEnv(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, e *env) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	e, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	return fn(ctx, e)
}
