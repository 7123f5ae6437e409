package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"kasirledger/backend/internal/cache"
	"kasirledger/backend/internal/config"
	"kasirledger/backend/internal/docnum"
	"kasirledger/backend/internal/events"
	"kasirledger/backend/internal/httpapi"
	"kasirledger/backend/internal/lock"
	"kasirledger/backend/internal/logging"
	"kasirledger/backend/internal/loyalty"
	"kasirledger/backend/internal/money"
	"kasirledger/backend/internal/payment"
	"kasirledger/backend/internal/service"
	"kasirledger/backend/internal/store"
	"kasirledger/backend/internal/store/memory"
	pgstore "kasirledger/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	handler, closers, err := build(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("POS engine listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error("close error", zap.Error(err))
		}
	}
	logger.Info("server stopped")
}

// build wires the repository, the optional Redis-backed collaborators, the
// service and the HTTP API. The returned closers run in order on shutdown.
func build(ctx context.Context, cfg config.Config, logger *zap.Logger) (http.Handler, []func() error, error) {
	money.Scale = cfg.Engine.CurrencyScale
	closers := make([]func() error, 0, 2)

	var repo interface {
		store.Repository
		httpapi.UserStore
	}
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded(logger)
		logger.Info("repository: in-memory")
	}

	var (
		locker    lock.Locker        = lock.NewLocal()
		sequence  docnum.Sequence    = docnum.NewMemorySequence()
		sink      events.Sink        = events.NewLogSink(logger)
		summaries cache.SummaryCache = cache.NewMemorySummaryCache()
	)
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, using in-process locks, sequences and cache", zap.Error(err))
			_ = client.Close()
		} else {
			locker = lock.NewRedis(client, 30*time.Second)
			sequence = docnum.NewRedisSequence(client)
			sink = events.Fanout{sink, events.NewRedisStream(client, cfg.EventStream)}
			summaries = cache.NewRedisSummaryCache(client)
			closers = append(closers, client.Close)
			logger.Info("coordination: redis", zap.String("addr", cfg.RedisAddr))
		}
	}

	tiers := loyalty.NewTierTable(nil)
	for customerID, tier := range cfg.LoyaltyMembers {
		tiers.Enroll(customerID, tier)
	}

	svc := service.New(repo, service.Options{
		DefaultStoreID: cfg.StoreID,
		DefaultTaxRate: cfg.Engine.DefaultTaxRate,
		Payments: payment.Settings{
			OverpayFactor: cfg.Engine.OverpayFactor,
			MinTolerance:  cfg.Engine.MinTolerance,
		},
		Locker:     locker,
		Numbers:    docnum.NewGenerator(sequence),
		Events:     sink,
		Loyalty:    tiers,
		Summaries:  summaries,
		SummaryTTL: time.Duration(cfg.SummaryCacheSeconds) * time.Second,
		Logger:     logger,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo, logger)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)
	return api.Handler(), closers, nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects common, repeated-digit and sequential PINs.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "121212": true,
		"112233": true, "123123": true, "102030": true, "147258": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}
	return nil
}
