package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/grok-image-edit/internal/bootstrap"
	"github.com/fpang/grok-image-edit/internal/httpapi"
	"github.com/fpang/grok-image-edit/internal/metrics"
)

var addrFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&addrFlag, "addr", "", "Listen address (overrides http_addr)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if addrFlag != "" {
		opts.HTTPAddr = addrFlag
	}

	app, err := bootstrap.Build(ctx, opts, metrics.Prometheus{})
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close resources")
		}
	}()

	if app.Options.HTTPAuthSecret == "" {
		log.Warn().Msg("http_auth_secret is not set, /v1/edits and /v1/probe will refuse every request")
	}
	if opts.LogLevel != "debug" && opts.LogLevel != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              app.Options.HTTPAddr,
		Handler:           httpapi.NewServer(app.Service, app.Options).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	bootstrap.StartupLog("grok-edit", app.Options, initStart).
		Endpoint("http", srv.Addr).
		Log()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
