package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Modzer0/Brain-sub000/internal/api"
	"github.com/Modzer0/Brain-sub000/internal/lifecycle"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP/JSON API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			s, err := openSession(logger)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer closeSession(s)

			if s.checkpoints != nil {
				if watchErr := s.mgr.WatchOrganizationConfig(ctx); watchErr != nil {
					logger.Warn("organization config hot reload disabled", "error", watchErr)
				}
			}
			if cfg.Lifecycle.IntervalMinutes > 0 {
				lm := lifecycle.NewManager(s.mgr, cfg.Memory.CompressionThreshold, logger)
				go lm.Loop(ctx, time.Duration(cfg.Lifecycle.IntervalMinutes)*time.Minute)
			}

			srv := api.NewServer(s.mgr, logger, cfg.API.AuthToken)

			if cfg.API.AuthToken == "" {
				logger.Warn("HTTP API: auth is DISABLED; set BRAIN_MEMORY_API_AUTH_TOKEN or api.auth_token for production use")
			}

			httpSrv := &http.Server{
				Addr:              cfg.API.ListenAddr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       30 * time.Second,
				WriteTimeout:      60 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("HTTP API server starting", "addr", cfg.API.ListenAddr, "session", s.mgr.SessionID())
				if listenErr := httpSrv.ListenAndServe(); listenErr != nil && listenErr != http.ErrServerClosed {
					errCh <- fmt.Errorf("serve: HTTP server: %w", listenErr)
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutting down")
			case startErr := <-errCh:
				if startErr != nil {
					return startErr
				}
				return nil
			}

			const shutdownTimeout = 10 * time.Second
			if shutdownErr := api.Shutdown(httpSrv, shutdownTimeout); shutdownErr != nil {
				return fmt.Errorf("serve: graceful shutdown: %w", shutdownErr)
			}

			// Drain the errCh in case ListenAndServe returned after Shutdown.
			if startErr := <-errCh; startErr != nil {
				return startErr
			}

			if s.checkpoints != nil {
				syncCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if _, syncErr := s.mgr.SyncMemoryCoherence(syncCtx); syncErr != nil {
					logger.Warn("final coherence sync failed", "error", syncErr)
				}
			}
			return nil
		},
	}
	return cmd
}
