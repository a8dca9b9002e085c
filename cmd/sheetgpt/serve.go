package main

import (
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/maiteclab/sheetgpt/internal/server"
)

var (
	serveHost  string
	servePort  int
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sheetgpt server",
	Long: `Start the sheetgpt HTTP server.

The server exposes the same operations as the CLI:
  - GET  /health             - Basic server health check
  - GET  /status             - Providers and default run settings
  - POST /api/columns        - List workbook columns
  - POST /api/formats/parse  - Parse an output format
  - POST /api/extract        - Run an extraction, returns the results workbook
  - GET  /api/settings       - Active configuration, keys masked

When a config file is in use it is watched, and provider changes apply to
the next extraction without a restart.

Examples:
  sheetgpt serve                    # Start on 127.0.0.1:8501
  sheetgpt serve --port 3000        # Start on custom port
  sheetgpt serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cm, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("host") {
			if err := cm.Set("server.host", serveHost); err != nil {
				return err
			}
		}
		if cmd.Flags().Changed("port") {
			if err := cm.Set("server.port", servePort); err != nil {
				return err
			}
		}
		if serveWatch && cm.ConfigFileUsed() != "" {
			cm.WatchConfig()
		}

		sc := cm.Get().Server
		srv, err := server.New(server.Config{
			Host:          sc.Host,
			Port:          strconv.Itoa(sc.Port),
			ConfigManager: cm,
			Logger:        slog.Default(),
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to (default: server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 8501, "Port to listen on (default: server.port)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "Reload the config file when it changes")

	rootCmd.AddCommand(serveCmd)
}
