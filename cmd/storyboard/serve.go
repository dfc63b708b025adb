package main

import (
	"github.com/spf13/cobra"

	"github.com/aimikata/storyboard/internal/server"
)

var (
	serveHost    string
	servePort    string
	serveOrigins []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the storyboard server",
	Long: `Start the storyboard HTTP server.

The server loads the daily usage ledger and the reference images in
~/.storyboard/assets, then accepts batches over HTTP. Progress of every
page is streamed on /api/events. Config changes are picked up without a
restart.

On shutdown (Ctrl+C or SIGTERM) running batches are cancelled and the
ledger is saved.

The server provides:
  - /health - Basic server health check
  - /ready  - Readiness check (ledger loaded)
  - /status - Providers, models and loaded assets

Examples:
  storyboard serve                    # Start on default port 8080
  storyboard serve --port 3000        # Start on custom port
  storyboard serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()

		h, cm, err := loadEnv()
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}
		if f := cm.ConfigFile(); f != "" {
			logger.Info("using config file", "path", f)
			cm.WatchConfig()
		}

		srv, err := server.New(server.Config{
			Host:           serveHost,
			Port:           servePort,
			ConfigManager:  cm,
			Home:           h,
			AllowedOrigins: serveOrigins,
			Logger:         logger,
		})
		if err != nil {
			return err
		}

		// Blocks until shutdown
		return srv.Start(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on")
	serveCmd.Flags().StringSliceVar(&serveOrigins, "allow-origin", nil, "Extra origins allowed to open the event stream")

	rootCmd.AddCommand(serveCmd)
}
