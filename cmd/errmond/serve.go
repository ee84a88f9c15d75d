package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/opsmithlabs/errmond/internal/config"
	"github.com/opsmithlabs/errmond/internal/fixer"
	"github.com/opsmithlabs/errmond/internal/httpapi"
	"github.com/opsmithlabs/errmond/internal/logging"
	"github.com/opsmithlabs/errmond/internal/logsource"
	"github.com/opsmithlabs/errmond/internal/monitor"
	"github.com/opsmithlabs/errmond/internal/pattern"
	"github.com/opsmithlabs/errmond/internal/supervisor"
	"github.com/opsmithlabs/errmond/internal/synthesis"
	"github.com/opsmithlabs/errmond/internal/telemetry"
	"github.com/opsmithlabs/errmond/internal/vcs"
)

// runServe wires the full pipeline and blocks until a shutdown signal.
//
//  1. Load and validate configuration
//  2. Initialize logger and telemetry
//  3. Build collaborators (log source, model client, git, github)
//  4. Build services (monitor, fixer, supervisor)
//  5. Start the HTTP server and the supervision loop
//  6. Graceful shutdown on SIGINT/SIGTERM
func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting errmond",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("supervisor", cfg.Supervisor.Enabled),
		zap.Bool("auto_fix", cfg.Supervisor.AutoFix))

	tel := telemetry.Setup(ctx, cfg.Telemetry, version, logger)
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	// Collaborators. Each one is optional; a missing collaborator disables
	// the features that need it rather than failing startup.
	source, err := buildSource(cfg, logger)
	if err != nil {
		return err
	}

	mon, err := monitor.NewService(source, pattern.NewStore(), logger.Named("monitor"))
	if err != nil {
		return fmt.Errorf("creating monitor: %w", err)
	}

	fx, err := buildFixer(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var sup *supervisor.Supervisor
	if cfg.Supervisor.Enabled {
		sup, err = supervisor.New(supervisor.Config{
			Interval:     cfg.Supervisor.Interval,
			Lookback:     cfg.Supervisor.Lookback,
			FetchLimit:   cfg.Supervisor.FetchLimit,
			AutoFix:      cfg.Supervisor.AutoFix,
			FixThreshold: cfg.Supervisor.FixThreshold,
		}, mon, fx, logger.Named("supervisor"))
		if err != nil {
			return fmt.Errorf("creating supervisor: %w", err)
		}
	}

	srv, err := httpapi.NewServer(mon, fx, sup, logger.Named("http"), &httpapi.Config{
		Host: "0.0.0.0",
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	if sup != nil {
		sup.Start(ctx)
		defer sup.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// buildSource picks the configured log backend, falling back to the
// disabled source when none is set.
func buildSource(cfg *config.Config, logger *zap.Logger) (logsource.Source, error) {
	if cfg.Loki.URL == "" {
		logger.Warn("no log source configured, scans will find no events")
		return logsource.Disabled{}, nil
	}

	loki, err := logsource.NewLoki(logsource.LokiConfig{
		URL:     cfg.Loki.URL,
		Query:   cfg.Loki.Query,
		Timeout: cfg.Loki.Timeout,
	}, logger.Named("loki"))
	if err != nil {
		return nil, fmt.Errorf("creating loki source: %w", err)
	}

	logger.Info("log source configured", zap.String("url", cfg.Loki.URL))
	return loki, nil
}

// buildFixer assembles the fix generation service when an API key is
// present. Returns nil when fix generation is not configured.
func buildFixer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*fixer.Service, error) {
	if !cfg.Anthropic.APIKey.IsSet() {
		logger.Warn("no anthropic api key, fix generation disabled")
		return nil, nil
	}

	completer, err := synthesis.NewAnthropic(synthesis.AnthropicConfig{
		APIKey: cfg.Anthropic.APIKey.Value(),
		Model:  cfg.Anthropic.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("creating model client: %w", err)
	}

	var repo vcs.Repo
	if cfg.Git.Path != "" {
		gitRepo, err := vcs.NewGitRepo(vcs.GitConfig{
			Path:        cfg.Git.Path,
			AuthorName:  cfg.Git.AuthorName,
			AuthorEmail: cfg.Git.AuthorEmail,
		}, logger.Named("git"))
		if err != nil {
			return nil, fmt.Errorf("opening git repository: %w", err)
		}
		repo = gitRepo
	} else {
		logger.Warn("no git path configured, fixes will not be committed")
	}

	host, err := vcs.NewGitHub(ctx, vcs.GitHubConfig{
		Token:      cfg.GitHub.Token.Value(),
		Repository: cfg.GitHub.Repository,
	}, logger.Named("github"))
	if err != nil {
		return nil, fmt.Errorf("creating github host: %w", err)
	}

	fx, err := fixer.NewService(completer, repo, host, logger.Named("fixer"),
		fixer.WithBaseBranch(cfg.GitHub.BaseBranch))
	if err != nil {
		return nil, fmt.Errorf("creating fixer: %w", err)
	}
	return fx, nil
}
