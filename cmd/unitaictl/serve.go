package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/unitai-dev/unitai-core/internal/maintenance"
)

// newServeCmd starts the background retention scheduler and blocks until
// signaled: a signal.NotifyContext cancellation followed by an ordered
// shutdown (stop scheduler, then close the dependency container).
func newServeCmd() *cobra.Command {
	var retentionDays int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the retention maintenance scheduler in the foreground until signaled",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sched := maintenance.New(nil, rt.log)
			_, err = sched.Schedule("retention-sweep", "0 3 * * *", func() {
				before := rt.clk.Now().AddDate(0, 0, -retentionDays)
				if n, err := rt.container.PruneMetricsBefore(before); err != nil {
					rt.log.Error("metrics retention sweep failed", slog.Any("error", err))
				} else if n > 0 {
					rt.log.Info("pruned metric samples", slog.Int64("rows", n))
				}
				if n, err := rt.container.PruneAuditBefore(before); err != nil {
					rt.log.Error("audit retention sweep failed", slog.Any("error", err))
				} else if n > 0 {
					rt.log.Info("pruned audit entries", slog.Int64("rows", n))
				}
			})
			if err != nil {
				return fmt.Errorf("failed to schedule retention sweep: %w", err)
			}

			sched.Start()
			fmt.Printf("unitaictl serve: retention sweep scheduled daily at 03:00, pruning entries older than %d days\n", retentionDays)

			<-ctx.Done()
			fmt.Println("shutting down...")
			sched.Stop()
			return nil
		},
	}

	cmd.Flags().IntVar(&retentionDays, "retention-days", 30, "age in days beyond which metric/audit rows are pruned")
	return cmd
}
