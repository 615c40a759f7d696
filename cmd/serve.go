package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/soundguard-ai/soundguard/internal/broadcast"
	"github.com/soundguard-ai/soundguard/internal/metrics"
	"github.com/soundguard-ai/soundguard/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and progress feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		rec := metrics.New()
		hub := broadcast.New(cfg.Broadcast.BufferSize, broadcast.WithMetrics(rec))

		env, err := initApp(ctx, hub, rec)
		if err != nil {
			return err
		}
		defer env.Close()

		hub.Start()
		defer hub.Shutdown()

		srv := server.New(server.Deps{
			Orchestrator: env.Orchestrator,
			Ingester:     env.Ingester,
			Feed:         hub,
			Metrics:      rec.Handler(),
			Checks: map[string]server.HealthCheck{
				"store":    env.Store.Ping,
				"analysis": env.Gateway.Health,
			},
		}, server.Options{CORSOrigins: cfg.Server.CORSOrigins})

		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			hub.Shutdown()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server",
			zap.Int("port", cfg.Server.Port),
			zap.String("storage", env.Blobs.Name()),
			zap.String("analysis", env.Gateway.BaseURL()),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
