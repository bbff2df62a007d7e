package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/chaos-io/pixfix/metrics"
	"github.com/chaos-io/pixfix/server"
	nhttp "github.com/chaos-io/pixfix/util/http"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the image processing HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("addr") {
			cfg.Server.Addr = serveAddr
		}
		if cfg.Log.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fs := afero.NewOsFs()
		m := metrics.New()
		stager, err := server.NewStager(fs, cfg.Server.TempDir, cfg.Server.TempTTL, log, m)
		if err != nil {
			return err
		}
		dl := nhttp.NewDownloader(nhttp.NewHTTPClient(), cfg.Fetch.Retries, 0, cfg.Fetch.Timeout)
		fetcher, err := server.NewFetcher(dl, cfg.Fetch.CacheSize, m)
		if err != nil {
			return err
		}

		srv := server.New(cfg.Server, server.Deps{
			Processor: newProcessor(cfg, fs, m),
			Fetcher:   fetcher,
			Stager:    stager,
			Catalog:   server.NewCatalog(nil),
			Metrics:   m,
			Logger:    log,
		})
		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8000", "listen address")

	rootCmd.AddCommand(serveCmd)
}
