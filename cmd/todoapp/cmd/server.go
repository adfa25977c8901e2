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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/patrickcsouzadev/todo-app/anomaly"
	"github.com/patrickcsouzadev/todo-app/api"
	"github.com/patrickcsouzadev/todo-app/audit"
	"github.com/patrickcsouzadev/todo-app/auth"
	"github.com/patrickcsouzadev/todo-app/config"
	"github.com/patrickcsouzadev/todo-app/email"
	"github.com/patrickcsouzadev/todo-app/keystore"
	"github.com/patrickcsouzadev/todo-app/siem"
	"github.com/patrickcsouzadev/todo-app/token"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the authentication service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		logger := newLogger(cfg)

		ctx := cmd.Context()
		repo, closeRepo, err := openRepository(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeRepo()

		keys := keystore.NewService(repo, logger.With("component", "keystore"))
		if _, created, err := keys.InitializeIfEmpty(ctx); err != nil {
			return fmt.Errorf("initializing signing keys: %w", err)
		} else if created {
			logger.Info("created initial signing key")
		}

		tokens := token.NewService(keys, repo, logger.With("component", "token"))
		auditLog := audit.NewLogger(repo, logger.With("component", "audit"))
		detector := anomaly.NewDetector(repo, anomaly.DefaultConfig())
		mail := email.NewLogSender(logger.With("component", "email"), cfg.BaseURL)
		siemSvc := siem.NewService(repo, mail, logger.With("component", "siem"))
		authSvc := auth.NewService(repo, tokens, auditLog, detector, mail, logger.With("component", "auth"))

		a := api.New(authSvc, keys, auditLog, detector, siemSvc, repo,
			api.WithLogger(logger.With("component", "api")),
			api.WithCronSecret(cfg.CronSecret),
			api.WithDeploySecret(cfg.DeploySecret))

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		r.Mount("/api", a.Router())

		server := &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		logger.Info("server started", "port", cfg.Port)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("shutting down", "signal", sig.String())
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
