package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/aeluslabs/tenantgate/internal/api"
	"github.com/aeluslabs/tenantgate/internal/config"
	"github.com/aeluslabs/tenantgate/internal/graphstore"
	"github.com/aeluslabs/tenantgate/internal/middleware"
	"github.com/aeluslabs/tenantgate/internal/notifications"
	"github.com/aeluslabs/tenantgate/internal/queue"
	"github.com/aeluslabs/tenantgate/internal/quota"
	"github.com/aeluslabs/tenantgate/internal/quotamonitor"
	"github.com/aeluslabs/tenantgate/internal/ratelimit"
	"github.com/aeluslabs/tenantgate/internal/repository"
	"github.com/aeluslabs/tenantgate/internal/secrets"
	"github.com/aeluslabs/tenantgate/internal/telemetry"
	"github.com/aeluslabs/tenantgate/internal/token"
)

const quotaCheckInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting tenant gate", "addr", cfg.Addr, "version", "0.1.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.SecretName != "" {
		store, err := secrets.NewAWSSecretsManager(ctx, cfg.AWSRegion)
		if err != nil {
			slog.Error("failed to init secrets manager", "error", err)
			os.Exit(1)
		}
		app, err := secrets.LoadAppSecrets(ctx, store, cfg.SecretName)
		if err != nil {
			slog.Error("failed to load secrets", "name", cfg.SecretName, "error", err)
			os.Exit(1)
		}
		if cfg.SecretKey == "" {
			cfg.SecretKey = app.SecretKey
		}
		if cfg.DatabaseURL == "" {
			cfg.DatabaseURL = app.DatabaseURL
		}
		if cfg.RedisURL == "" {
			cfg.RedisURL = app.RedisURL
		}
		if cfg.AdminSecretHash == "" {
			cfg.AdminSecretHash = app.AdminSecretHash
		}
		slog.Info("loaded secrets", "name", cfg.SecretName)
	}

	if cfg.AdminSecretHash == "" {
		slog.Error("ADMIN_SECRET_HASH is not configured, refusing to start with an unauthenticated admin API")
		os.Exit(1)
	}

	shutdownTelemetry, err := telemetry.Init(ctx, "tenantgate", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to init telemetry", "error", err)
		os.Exit(1)
	}

	codec, err := token.NewCodec(cfg.SecretKey, cfg.TokenTTL)
	if err != nil {
		slog.Error("failed to init token codec", "error", err)
		os.Exit(1)
	}

	var ledger quota.Ledger
	var limiter ratelimit.Limiter
	if cfg.RedisURL != "" {
		redisLedger, err := quota.NewRedisLedger(cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		ledger = redisLedger
		redisLimiter, err := ratelimit.NewRedisLimiter(cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		limiter = redisLimiter
		slog.Info("using redis quota ledger and rate limiter")
	} else {
		ledger = quota.NewInMemoryLedger()
		limiter = ratelimit.NewInMemoryLimiter()
		slog.Info("using in-memory quota ledger and rate limiter")
	}

	var directory repository.TenantDirectory
	var graph graphstore.GraphStore
	var checkers []api.HealthChecker
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			slog.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		directory = repository.NewPostgresTenantDirectory(db)
		graph = graphstore.NewPostgresGraphStore(db)
		checkers = append(checkers, api.NewPostgresHealthChecker(db))
		slog.Info("using postgres tenant directory and graph store")
	} else {
		directory = repository.NewInMemoryTenantDirectory()
		graph = graphstore.NewInMemoryGraphStore()
		slog.Info("using in-memory tenant directory and graph store")
	}

	if cfg.RedisURL != "" {
		redisChecker, err := api.NewRedisHealthChecker(cfg.RedisURL)
		if err != nil {
			slog.Error("failed to init redis health checker", "error", err)
			os.Exit(1)
		}
		checkers = append(checkers, redisChecker)
	}

	var notifier notifications.Notifier
	if cfg.AlertTopicARN != "" {
		snsNotifier, err := notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.AlertTopicARN)
		if err != nil {
			slog.Error("failed to init sns notifier", "error", err)
			os.Exit(1)
		}
		notifier = snsNotifier
		slog.Info("using sns notifier", "topic", cfg.AlertTopicARN)
	} else {
		notifier = notifications.NewInMemoryNotifier()
		slog.Info("using in-memory notifier")
	}

	var ingest queue.Queue
	if cfg.IngestQueueURL != "" {
		sqsQueue, err := queue.NewSQSQueue(ctx, cfg.AWSRegion, cfg.IngestQueueURL)
		if err != nil {
			slog.Error("failed to init sqs queue", "error", err)
			os.Exit(1)
		}
		ingest = sqsQueue
		slog.Info("using sqs ingest queue", "url", cfg.IngestQueueURL)
	} else {
		ingest = queue.NewInMemoryQueue()
		slog.Info("using in-memory ingest queue")
	}

	webhooks := notifications.NewWebhookNotifier()

	monitor := quotamonitor.NewMonitor(ledger, quotamonitor.DefaultThresholds())
	monitor.OnAlert(quotamonitor.LogAlertHandler)
	monitor.OnAlert(quotamonitor.NotifierAlertHandler(notifier))
	monitor.OnAlert(quotamonitor.WebhookAlertHandler(webhooks, func(tenantID string) string {
		id, err := uuid.Parse(tenantID)
		if err != nil {
			return ""
		}
		tenant, err := directory.GetByID(ctx, id)
		if err != nil {
			return ""
		}
		return tenant.WebhookURL
	}))
	go monitor.RunPeriodic(ctx, quotaCheckInterval, directory.List)

	handler := api.NewHandler(api.HandlerConfig{
		Ledger:    ledger,
		Graph:     graph,
		Ingest:    ingest,
		Checkers:  checkers,
		Directory: directory,
		Codec:     codec,
	})

	admin := api.NewAdminHandler(api.AdminConfig{
		Directory:  directory,
		Ledger:     ledger,
		Notifier:   notifier,
		SecretHash: cfg.AdminSecretHash,
		MaxLimits:  cfg.MaxQuotaLimits(),
		CacheTTL:   cfg.QuotaCacheTTL,
	})

	mux := http.NewServeMux()
	mux.Handle("/admin/", admin)
	mux.Handle("/", handler)

	auth := middleware.NewAuth(codec, directory)
	quotaGate := middleware.NewQuota(ledger, limiter)
	quotaGate.QPSOverride = cfg.QPSOverride

	chain := middleware.Recovery(
		middleware.RequestID(
			auth.Middleware(
				quotaGate.Middleware(mux))))

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      chain,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer drainCancel()

	if err := shutdownTelemetry(drainCtx); err != nil {
		slog.Error("failed to flush telemetry", "error", err)
	}

	slog.Info("server stopped")
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
