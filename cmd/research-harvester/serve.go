package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/research-harvester/internal/logging"
	"github.com/pdiddy/research-harvester/internal/server"
	"github.com/pdiddy/research-harvester/pkg/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve harvests over HTTP",
	Long: `Serve exposes the harvester as a JSON API:

  GET /healthz
  GET /v1/providers
  GET /v1/search?q=<query>&provider=plos&provider=arxiv&page=1&page=2

Concurrent API requests share the same provider rate limiters and cache.
Each client IP is limited to serve.requests_per_second searches.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		engine, logger, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer engine.Close()

		var cfg types.ServeConfig
		if err := viper.UnmarshalKey("serve", &cfg); err != nil {
			return err
		}
		srv := server.New(engine, cfg, logging.Component(logger, "server"))
		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default :8080)")
	_ = viper.BindPFlag("serve.addr", serveCmd.Flags().Lookup("addr"))
	rootCmd.AddCommand(serveCmd)
}
