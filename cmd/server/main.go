// Package main initializes and starts the account server, setting up
// configuration, logging, database and cache connections, the username
// guard and its bootstrap, services, handlers and graceful shutdown.
package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"github.com/atinyakov/accounts/internal/cache"
	"github.com/atinyakov/accounts/internal/config"
	"github.com/atinyakov/accounts/internal/db"
	"github.com/atinyakov/accounts/internal/filter"
	"github.com/atinyakov/accounts/internal/guard"
	"github.com/atinyakov/accounts/internal/logger"
	"github.com/atinyakov/accounts/internal/notify"
	"github.com/atinyakov/accounts/internal/password"
	"github.com/atinyakov/accounts/internal/repository"
	"github.com/atinyakov/accounts/internal/server/handler/http"
	"github.com/atinyakov/accounts/internal/service"
	"github.com/atinyakov/accounts/internal/token"
	"go.uber.org/zap"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Parse command-line, config file and environment configuration.
	options, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	// Initialize structured logging.
	log := logger.New()
	if err := log.Init(options.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = log.Log.Sync() }()
	zapLogger := log.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL connection and schema.
	postgresDB, err := db.InitPostgres(options.DatabaseDSN)
	if err != nil {
		zapLogger.Fatal("cannot init database", zap.Error(err))
	}
	defer postgresDB.Close()

	// Initialize Redis. An unreachable cache only degrades lookups.
	redisClient, err := cache.Connect(ctx, options.RedisAddr, options.RedisPassword, options.RedisDB)
	if err != nil {
		zapLogger.Warn("redis unreachable, continuing without cache", zap.Error(err))
		redisClient = cache.NewClient(options.RedisAddr, options.RedisPassword, options.RedisDB)
	}
	defer redisClient.Close()

	cacheTimeout := time.Duration(options.CacheTimeout)
	accountCache := cache.NewAccountCache(redisClient, options.CachePrefix, cacheTimeout)
	revocations := cache.NewRevocations(redisClient, "revoked:", cacheTimeout)

	// Username guard: filter, cache and store.
	accountRepo := repository.NewPostgresAccountRepository(postgresDB)
	usernames := filter.New(options.FilterSize, options.FilterHashes)
	usernameGuard := guard.New(usernames, accountCache, accountRepo, time.Duration(options.CacheTTL), zapLogger)

	// Load every stored username into the filter.
	reconciler := guard.NewReconciler(accountRepo, usernames, options.BootstrapPageSize,
		time.Duration(options.BootstrapMaxElapsed), zapLogger)
	if options.BootstrapBlocking {
		if _, err := reconciler.Run(ctx); err != nil {
			if options.BootstrapFatal {
				zapLogger.Fatal("username bootstrap failed", zap.Error(err))
			}
			zapLogger.Error("username bootstrap failed, serving from the store", zap.Error(err))
		} else {
			usernameGuard.MarkReady()
		}
	} else {
		done := reconciler.Start(ctx, usernameGuard)
		go func() {
			if err := <-done; err != nil {
				if options.BootstrapFatal && !errors.Is(err, context.Canceled) {
					zapLogger.Fatal("username bootstrap failed", zap.Error(err))
				}
				zapLogger.Error("username bootstrap failed, serving from the store", zap.Error(err))
			}
		}()
	}

	// Purge accounts that never verified their email.
	if options.UnverifiedRetention > 0 {
		db.StartUnverifiedPurger(ctx, accountRepo, usernameGuard,
			time.Duration(options.PurgeInterval),
			time.Duration(options.UnverifiedRetention),
			zapLogger,
		)
	}

	var notifier service.Notifier = notify.NewLog(zapLogger)
	if options.SMTPHost != "" {
		notifier = notify.NewSMTP(notify.SMTPConfig{
			Host:     options.SMTPHost,
			Port:     options.SMTPPort,
			Username: options.SMTPUser,
			Password: options.SMTPPassword,
			From:     options.SMTPFrom,
		})
	}

	tokens, err := token.NewManager([]byte(options.JWTSecret),
		time.Duration(options.TokenTTL), time.Duration(options.VerificationTTL))
	if err != nil {
		zapLogger.Fatal("cannot init token manager", zap.Error(err))
	}

	// Initialize business-logic services.
	accountService := service.NewAccountService(
		usernameGuard,
		accountRepo,
		password.NewBcrypt(password.DefaultCost),
		tokens,
		notifier,
		revocations,
		service.Options{
			EmailVerification: options.EmailVerification,
			PublicBaseURL:     options.PublicBaseURL,
		},
		zapLogger,
	)

	// Create HTTP handlers and build the router.
	accountHandler := http.NewAccountHandler(accountService, time.Duration(options.TokenTTL), options.SecureCookie, zapLogger)
	healthHandler := &http.HealthHandler{Guard: usernameGuard}
	router := http.NewRouter(accountHandler, healthHandler, tokens, revocations, zapLogger)

	server := &nethttp.Server{
		Addr:              options.Address,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zapLogger.Info("starting HTTP server", zap.String("addr", options.Address))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, nethttp.ErrServerClosed) {
			zapLogger.Fatal("failed to start HTTP server", zap.Error(err))
		}
	case <-ctx.Done():
		zapLogger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zapLogger.Error("graceful shutdown failed", zap.Error(err))
		}
	}
}
