package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oneirolab/dreamgate/internal/scheduler"
)

var enableCleanup bool

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the cron job dispatcher",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		d, err := buildDeps(ctx, cfg)
		if err != nil {
			return err
		}
		defer d.close()

		jobs := scheduler.DefaultJobs(scheduler.JobDeps{
			Content:            d.stores.Content,
			Submissions:        d.stores.Submissions,
			FailedJobs:         d.stores.FailedJobs,
			Analytics:          d.stores.Analytics,
			Cache:              d.cache,
			Queue:              d.queue,
			Blobs:              d.blobs,
			Pinger:             d.pinger,
			IDs:                d.ids,
			Clock:              d.clock,
			Logger:             logger,
			SiteURL:            cfg.SEO.SiteURL,
			EnableCleanup:      enableCleanup || cfg.Scheduler.EnableCleanup,
			CleanupAge:         cfg.CleanupAge(),
			AnalyticsRetention: cfg.AnalyticsRetention(),
		})
		sched, err := scheduler.New(jobs, d.clock, logger)
		if err != nil {
			return err
		}
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	schedulerCmd.Flags().BoolVar(&enableCleanup, "enable-cleanup", false, "enable the failed-job cleanup job")
	rootCmd.AddCommand(schedulerCmd)
}
