package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oneirolab/dreamgate/internal/consumer"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the queue consumer",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		d, err := buildDeps(ctx, cfg)
		if err != nil {
			return err
		}
		defer d.close()

		handlers := consumer.NewHandlers(
			d.stores.Submissions,
			d.stores.Content,
			d.stores.Analytics,
			d.blobs,
			d.pinger,
			d.clock,
			consumer.HandlerConfig{
				EmailAPIURL:   cfg.Email.APIURL,
				EmailAPIKey:   cfg.Email.APIKey,
				WebhookSecret: cfg.Webhook.SigningSecret,
				StoragePrefix: cfg.Storage.Prefix,
			},
			logger,
		)

		c := consumer.New(
			d.queue,
			d.stores.FailedJobs,
			consumer.DefaultRegistry(handlers),
			d.clock,
			consumer.Config{
				BatchSize:     cfg.Queue.BatchSize,
				BlockTimeout:  cfg.BlockTimeout(),
				SweepInterval: cfg.SweepInterval(),
			},
			logger,
		)
		c.Run(ctx)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
