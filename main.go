package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/launchkit/template-store/api/handlers"
	"github.com/launchkit/template-store/config"
	"github.com/launchkit/template-store/internal/archive"
	"github.com/launchkit/template-store/internal/auth"
	"github.com/launchkit/template-store/internal/database"
	"github.com/launchkit/template-store/internal/download"
	"github.com/launchkit/template-store/internal/fulfillment"
	"github.com/launchkit/template-store/internal/maintenance"
	"github.com/launchkit/template-store/internal/payment"
	"github.com/launchkit/template-store/internal/providers"
	"github.com/launchkit/template-store/internal/providers/github"
	"github.com/launchkit/template-store/internal/providers/mailer"
	"github.com/launchkit/template-store/internal/ratelimit"
	"github.com/launchkit/template-store/internal/webhook"
	"github.com/redis/go-redis/v9"
)

func main() {
	var showVersion bool
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("template-store v0.1.0")
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("Starting template-store", "port", cfg.Port, "dataDir", cfg.DataDir, "salesEnabled", cfg.SalesEnabled())

	db, err := database.New(cfg)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}

	authService := auth.New(db, cfg)

	githubAdapter := github.New()
	if cfg.GitHubToken != "" && cfg.GitHubOrg != "" {
		githubAdapter.SetCredentials(map[string]string{
			"token":           cfg.GitHubToken,
			"org":             cfg.GitHubOrg,
			"team_pro":        cfg.GitHubTeamPro,
			"team_enterprise": cfg.GitHubTeamEnterprise,
		})
	}
	mailerAdapter := mailer.New(
		mailer.WithBaseURL(cfg.MailerBaseURL),
		mailer.WithFrom(cfg.MailerFrom),
	)
	if cfg.MailerAPIKey != "" {
		mailerAdapter.SetCredentials(map[string]string{"api_key": cfg.MailerAPIKey})
	}

	registry := providers.NewRegistry(db)
	registry.Register(githubAdapter, mailerAdapter)

	if err := registry.LoadCredentialsWithDecryptor(authService); err != nil {
		slog.Debug("Credentials not loaded at startup", "error", err)
	}
	authService.OnCredentialsReady(func() {
		if err := registry.LoadCredentialsWithDecryptor(authService); err != nil {
			slog.Error("Failed to load provider credentials", "error", err)
		}
	})

	var limiter ratelimit.Limiter
	var memoryLimiter *ratelimit.MemoryLimiter
	if cfg.RedisAddr != "" {
		slog.Info("Using Redis rate limiter", "addr", cfg.RedisAddr)
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		limiter = ratelimit.NewRedisLimiter(client)
	} else {
		memoryLimiter = ratelimit.NewMemoryLimiter()
		limiter = memoryLimiter
	}

	orchestrator := fulfillment.New(db, mailerAdapter, githubAdapter, cfg.BaseURL)

	var paymentGateway payment.Gateway = &payment.DevGateway{BaseURL: cfg.BaseURL}
	if !cfg.DevMode && cfg.PaymentSecretKey == "" {
		slog.Warn("No payment secret key configured, using dev gateway")
	}

	downloadPolicy := ratelimit.Policy{
		MaxRequests: cfg.DownloadMaxRequests,
		Window:      time.Duration(cfg.DownloadWindowSecs) * time.Second,
	}
	downloadGateway := download.New(db, limiter, archive.NewBuilder(cfg.TemplateRoot), downloadPolicy)

	processor := webhook.New(db, orchestrator, cfg.PaymentWebhookSecret)

	sched := maintenance.New(db, memoryLimiter, cfg.AuditRetentionDays)
	if err := sched.Start(); err != nil {
		slog.Error("Failed to start maintenance scheduler", "error", err)
		os.Exit(1)
	}

	apiHandler := handlers.New(db, cfg, authService, registry, orchestrator, processor, paymentGateway, downloadGateway, limiter)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      apiHandler.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown error", "error", err)
	}

	sched.Stop()
}
