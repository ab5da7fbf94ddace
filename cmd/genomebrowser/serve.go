package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/baliga-lab/gaggle-genomebrowser-sub000/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dataset's tracks over HTTP",
		Long: `Serve the dataset's tracks over HTTP:

  GET /tracks                                   list tracks
  GET /tracks/:name                             track summary and value range
  GET /tracks/:name/blocks?window=chr1:0-5000   blocks a window touches
  GET /tracks/:name/features?window=...         features as NDJSON (format=tsv for TSV)
  GET /stats                                    block cache statistics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			if !viper.GetBool("log.verbose") {
				gin.SetMode(gin.ReleaseMode)
			}
			srv := &http.Server{
				Addr:    viper.GetString("server.addr"),
				Handler: server.NewRouter(e.ds, e.logger),
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdown); err != nil {
					e.logger.Warn("server shutdown", zap.Error(err))
				}
			}()

			e.logger.Info("serving", zap.String("addr", srv.Addr), zap.String("database", e.store.Path()))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("addr", ":8080", "listen address")
	viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	return cmd
}
