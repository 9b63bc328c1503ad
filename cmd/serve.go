package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielolaszy/feedbacksync/internal/config"
	"github.com/danielolaszy/feedbacksync/internal/github"
	"github.com/danielolaszy/feedbacksync/internal/health"
	"github.com/danielolaszy/feedbacksync/internal/httpapi"
	"github.com/danielolaszy/feedbacksync/internal/logging"
	"github.com/danielolaszy/feedbacksync/internal/notify"
	"github.com/danielolaszy/feedbacksync/internal/store"
	"github.com/danielolaszy/feedbacksync/internal/syncer"
	"github.com/danielolaszy/feedbacksync/internal/vault"
	"github.com/danielolaszy/feedbacksync/internal/webhook"
)

const shutdownTimeout = 15 * time.Second

// serveCmd runs the webhook endpoint and the dashboard API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the webhook endpoint and dashboard API",
	Long: `Start the HTTP server.

Routes:
  POST /v1/webhooks/github/{projectID}   signed GitHub deliveries
  POST /v1/feedback/{id}/close           close feedback and its GitHub issue
  POST /v1/feedback/{id}/progress        mark feedback in progress
  GET  /v1/issues/{id}/activity          activity ledger of an issue
  GET  /v1/notifications                 notifications of the caller
  POST /v1/notifications/{id}/read       mark one notification read
  POST /v1/notifications/read-all        mark all notifications read
  POST /v1/projects/{id}/webhook-secret  rotate the webhook secret
  GET  /v1/projects/{id}/webhook-health  recent webhook deliveries

Dashboard routes expect the caller's user id in the X-User-Id header.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := config.ValidateGitHubConfig(cfg); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		gh, err := github.NewClient(cfg.GitHub)
		if err != nil {
			return fmt.Errorf("failed to initialize github client: %w", err)
		}
		if _, err := gh.Ping(ctx); err != nil {
			return fmt.Errorf("github token rejected: %w", err)
		}

		handler := httpapi.NewServerWithConfig(newServices(s, gh, cfg), httpapi.ServerConfig{
			MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		})
		return listen(ctx, cfg.HTTP.Addr, handler)
	},
}

func newServices(s *store.Store, gh *github.Client, cfg *config.Config) httpapi.Services {
	v := vault.New(s)
	return httpapi.Services{
		Store:         s,
		Vault:         v,
		Verifier:      webhook.NewVerifier(v),
		Engine:        syncer.New(s, gh, notify.Policy{Comments: cfg.Notify.Comments}),
		Notifications: notify.NewService(s),
		Health:        health.NewMonitor(s, gh),
	}
}

func listen(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logging.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
