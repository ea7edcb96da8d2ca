package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"clientportal/internal/app"
	"clientportal/internal/config"
	"clientportal/internal/notify"
	"clientportal/internal/ratelimit"
	"clientportal/internal/server"
	"clientportal/internal/storage"
	"clientportal/internal/store"
	"clientportal/internal/util"
)

const housekeepInterval = time.Hour

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	codeTTL, err := config.ParseCodeTTL(cfg.CodeTTL)
	if err != nil {
		log.Fatalf("failed to parse code TTL: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	objects, err := storage.NewMinioStore(
		cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey,
		cfg.MinioBucket, cfg.MinioUseSSL,
	)
	if err != nil {
		log.Fatalf("failed to init object store: %v", err)
	}

	var notifier notify.Notifier
	if cfg.MailAPIURL != "" {
		notifier = notify.NewMailer(cfg.MailAPIURL, cfg.MailAPIKey, cfg.MailFrom)
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	appCore := app.New(app.Config{
		Store:              db,
		Objects:            objects,
		Notifier:           notifier,
		Logger:             logger,
		CodeTTL:            codeTTL,
		SessionTTL:         sessionTTL,
		AllowUnknownEmails: cfg.AllowUnknownEmails,
		Development:        cfg.IsDevelopment(),
	})

	requestCodeLimiter, err := ratelimit.NewRedisFixedWindowLimiter(
		cfg.RedisAddr, cfg.RedisPassword, "",
		limitOrDefault(cfg.RequestCodeRateLimitPerMinute, 5), time.Minute,
	)
	if err != nil {
		log.Fatalf("failed to init request-code limiter: %v", err)
	}
	verifyCodeLimiter, err := ratelimit.NewRedisFixedWindowLimiter(
		cfg.RedisAddr, cfg.RedisPassword, "",
		limitOrDefault(cfg.VerifyCodeRateLimitPerMinute, 10), time.Minute,
	)
	if err != nil {
		log.Fatalf("failed to init verify-code limiter: %v", err)
	}

	httpServer := server.New(server.Config{
		App:                appCore,
		Logger:             logger,
		RequestCodeLimiter: requestCodeLimiter,
		VerifyCodeLimiter:  verifyCodeLimiter,
		MaxUploadBytes:     cfg.MaxUploadBytes,
	})

	go housekeep(appCore, logger)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("portal server listening", "addr", addr, "environment", cfg.Environment)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func limitOrDefault(limit, fallback int) int {
	if limit > 0 {
		return limit
	}
	return fallback
}

// housekeep periodically reaps expired sessions and login codes.
func housekeep(a *app.App, logger *slog.Logger) {
	ticker := time.NewTicker(housekeepInterval)
	defer ticker.Stop()
	for range ticker.C {
		if err := a.Housekeep(); err != nil {
			logger.Warn("housekeeping failed", "error", err)
		}
	}
}
