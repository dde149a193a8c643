package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/cadboq/internal/auth"
	"github.com/JonMunkholm/cadboq/internal/config"
	"github.com/JonMunkholm/cadboq/internal/core"
	"github.com/JonMunkholm/cadboq/internal/extract"
	"github.com/JonMunkholm/cadboq/internal/logging"
	"github.com/JonMunkholm/cadboq/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"extraction_url", cfg.Extraction.BaseURL,
		"require_login", cfg.Upload.RequireLogin,
		"upload_max_concurrent", cfg.Upload.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	extractor := extract.NewClient(extract.Config{
		BaseURL:     cfg.Extraction.BaseURL,
		ProcessPath: cfg.Extraction.ProcessPath,
		Timeout:     cfg.Extraction.Timeout,
	}, nil)
	slog.Info("extraction service", "endpoint", extractor.Endpoint())

	// Left nil when no client is configured so the service reports login
	// as unavailable.
	var authn core.Authenticator
	if cfg.OAuth.ClientID != "" {
		provider := auth.NewGoogleProvider(auth.GoogleConfig{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			RedirectURL:  cfg.CallbackURL(),
			Scopes:       cfg.OAuth.Scopes,
			UserInfoURL:  cfg.OAuth.UserInfoURL,
			RevokeURL:    cfg.OAuth.RevokeURL,
		}, nil)
		authn = auth.NewManager(provider, cfg.OAuth.RevokeOnLogout)
		slog.Info("google sign-in enabled", "redirect_url", cfg.CallbackURL())
	} else {
		slog.Warn("google sign-in disabled: GOOGLE_CLIENT_ID not set")
	}

	service := core.NewService(extractor, authn, core.Options{
		MaxFileSize:       cfg.Upload.MaxFileSize,
		AllowedExtensions: cfg.Upload.AllowedExtensions,
		RequireLogin:      cfg.Upload.RequireLogin,
		MaxConcurrent:     cfg.Upload.MaxConcurrent,
		MaxWait:           cfg.Upload.MaxWaitTime,
		IdleTimeout:       cfg.Session.IdleTimeout,
		MaxWorkspaces:     cfg.Session.MaxWorkspaces,
		MaxRetainedBytes:  cfg.Session.MaxRetainedBytes,
	})

	server := web.NewServer(service, cfg)

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go service.StartSweeper(jobCtx, cfg.Session.SweepInterval)

	done := make(chan struct{})
	go func() {
		defer close(done)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Uploads run detached from their requests, so wait for them
		// before closing the listener.
		if status := service.UploadLimiterStatus(); status.Active > 0 {
			slog.Info("waiting for uploads to complete", "active", status.Active)
			if err := service.WaitForUploads(shutdownCtx); err != nil {
				slog.Warn("uploads did not complete in time", "error", err)
			} else {
				slog.Info("all uploads completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		cancelJobs()
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}
