package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/brand-radar/internal/cost"
	"github.com/sells-group/brand-radar/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server for job submission and progress streaming",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		srv := newServer(ctx, env.Store, env.Pipeline, env.Hub)
		srv.metrics = promhttp.HandlerFor(env.Registry, promhttp.HandlerOpts{Registry: env.Registry})

		if cfg.Server.Recover {
			srv.goRun("recovery", func(ctx context.Context) error {
				_, err := env.Pipeline.Recover(ctx)
				return err
			})
		}

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store, env.Gateway, cost.NewCalculator(cfg.Pricing.Rates()),
					time.Duration(cfg.Monitoring.StaleAfterMins)*time.Minute),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			srv.goRun("monitoring", func(ctx context.Context) error {
				checker.Run(ctx)
				return nil
			})
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           srv.routes(cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			// SSE streams end when the hub closes.
			env.Hub.Close()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.Bool("recover", cfg.Server.Recover))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		// In-flight jobs observe the cancelled context and stay in
		// processing for the next recovery sweep.
		srv.wait()
		return nil
	},
}

// goRun runs fn in the background under the server's base context.
func (s *server) goRun(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(s.baseCtx); err != nil {
			zap.L().Error("background task failed", zap.String("task", name), zap.Error(err))
		}
	}()
}

func (s *server) wait() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		zap.L().Warn("background tasks still running at exit")
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
