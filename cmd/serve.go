package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/competitor-intel/internal/api"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for matching and analysis sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		env, err := initAnalysis(ctx, cfg, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: api.NewServer(api.Deps{
				Matcher:        env.Matcher,
				Analyzer:       env.Orchestrator,
				Progress:       env.Tracker,
				Metrics:        env.Metrics,
				Health:         healthFunc(env),
				AllowedOrigins: cfg.Server.AllowedOrigins,
			}).Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server",
			zap.Int("port", cfg.Server.Port),
			zap.Any("providers", env.Pool.Registry().Names()),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		// let background sessions reach a terminal status
		env.Orchestrator.Wait()
		return nil
	},
}

// healthFunc reports store reachability and provider breaker states.
func healthFunc(env *appEnv) func() map[string]string {
	return func() map[string]string {
		out := map[string]string{"store": "ok"}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := env.Store.Ping(ctx); err != nil {
			out["store"] = "unavailable"
		}
		for name, state := range env.Pool.BreakerStates() {
			out["breaker."+name] = state
		}
		return out
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
