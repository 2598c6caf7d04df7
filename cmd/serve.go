package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oneirolab/dreamgate/internal/api"
	"github.com/oneirolab/dreamgate/internal/audit"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		d, err := buildDeps(ctx, cfg)
		if err != nil {
			return err
		}
		defer d.close()

		hub := audit.NewHub(audit.Config{Logger: logger},
			audit.NewLogSink(logger),
			audit.NewStoreSink(d.stores.Audit),
		)
		defer func() { _ = hub.Close(context.Background()) }()

		limiter := limiterFromConfig(cfg, d.cache, d.clock)

		server := api.New(
			api.Options{
				Development:      cfg.Logging.Development,
				AllowedOrigins:   cfg.CORS.AllowedOrigins,
				JWTSecret:        cfg.Auth.JWTSecret,
				WebhookSecret:    cfg.Webhook.SigningSecret,
				RateLimitEnabled: cfg.RateLimit.Enabled,
				RequestTimeout:   cfg.ServerTimeout(),
				SiteURL:          cfg.SEO.SiteURL,
			},
			d.stores,
			d.cache,
			d.queue,
			limiter,
			hub,
			d.publisher,
			d.ids,
			d.clock,
			logger,
		)
		return server.ListenAndServe(ctx, cfg.Server.Port)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
