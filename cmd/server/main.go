package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"CampaignMailer/internal/api"
	"CampaignMailer/internal/config"
	"CampaignMailer/internal/counter"
	"CampaignMailer/internal/db"
	"CampaignMailer/internal/db/memory"
	"CampaignMailer/internal/email"
	"CampaignMailer/internal/lock"
	"CampaignMailer/internal/logger"
	"CampaignMailer/internal/metrics"
	"CampaignMailer/internal/processor"
	"CampaignMailer/internal/worker"
)

func main() {

	// ------------------------------------------------
	// Config
	// ------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		boot, _ := zap.NewProduction()
		boot.Fatal("failed to load config", zap.Error(err))
	}

	// ------------------------------------------------
	// Logger
	// ------------------------------------------------
	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.LogDevelopment,
		File:        cfg.LogFile,
	})
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// ------------------------------------------------
	// Root Context + Shutdown
	// ------------------------------------------------
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	// ------------------------------------------------
	// Store
	// ------------------------------------------------
	var repos db.Repositories

	switch cfg.Store {
	case "memory":
		log.Warn("using in-memory store, data is lost on restart")
		repos = memory.NewStore().Repositories()
	default:
		store, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("database connection failed", zap.Error(err))
		}
		defer store.Close()

		if err := store.Migrate(ctx); err != nil {
			log.Fatal("database migration failed", zap.Error(err))
		}
		repos = store.Repositories()
	}

	// ------------------------------------------------
	// Run lock
	// ------------------------------------------------
	var locker lock.Locker = lock.Noop{}

	if cfg.RedisAddr != "" {
		rl, err := lock.NewRedis(ctx, cfg.RedisAddr, log)
		if err != nil {
			log.Fatal("redis connection failed", zap.Error(err))
		}
		defer rl.Close()
		locker = rl
	}

	// ------------------------------------------------
	// Metrics
	// ------------------------------------------------
	metrics.Init()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux,
	}

	go func() {
		log.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("metrics server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Email Sender
	// ------------------------------------------------
	accounts, err := cfg.Accounts()
	if err != nil {
		log.Fatal("invalid SMTP_ACCOUNTS", zap.Error(err))
	}

	sender := &email.Sender{
		Host:        cfg.SMTPHost,
		Port:        cfg.SMTPPort,
		From:        cfg.SMTPFrom,
		Username:    cfg.SMTPUser,
		Password:    cfg.SMTPPassword,
		Credentials: make(map[string]email.Credential, len(accounts)),
		Retries:     cfg.SendRetryAttempts,
	}
	for _, a := range accounts {
		sender.Credentials[a.Ref] = email.Credential{Username: a.Username, Password: a.Password}
	}

	// ------------------------------------------------
	// Rate Limiter
	// ------------------------------------------------
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit)
	}

	// ------------------------------------------------
	// Processor + sender counters
	// ------------------------------------------------
	senders := cfg.Senders()

	proc := processor.New(repos, sender, log, processor.Options{
		MaxRetries:    cfg.MaxRetries,
		DefaultSender: cfg.DefaultSender,
		Senders:       senders,
		Limiter:       limiter,
	})

	for _, id := range senders {
		if err := proc.Counters.Ensure(ctx, counter.SenderID(id), cfg.DailyLimit); err != nil {
			log.Fatal("failed to create sender counter", zap.String("sender_id", id), zap.Error(err))
		}
	}

	// ------------------------------------------------
	// Trigger
	// ------------------------------------------------
	var wg sync.WaitGroup

	if cfg.TriggerInterval > 0 {
		worker.StartTrigger(ctx, &wg, cfg.TriggerInterval, proc, locker, cfg.LockTTL, log)
	}

	// ------------------------------------------------
	// HTTP API Server
	// ------------------------------------------------
	apiHandler := &api.Handler{
		Proc:    proc,
		Locker:  locker,
		Log:     log,
		LockTTL: cfg.LockTTL,
	}

	apiServer := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: apiHandler.Routes(),
	}

	go func() {
		log.Info("api server started", zap.String("port", cfg.APIPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("api server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Wait for shutdown
	// ------------------------------------------------
	<-ctx.Done()

	log.Info("shutting down services...")

	// Wait for the trigger to finish its current tick
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error("api shutdown failed", zap.Error(err))
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics shutdown failed", zap.Error(err))
	}

	log.Info("application shutdown complete")
}
