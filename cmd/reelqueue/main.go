package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/reelqueue/internal/adapter/driven/media"
	"github.com/ericfisherdev/reelqueue/internal/adapter/driven/memory"
	"github.com/ericfisherdev/reelqueue/internal/adapter/driven/notify"
	"github.com/ericfisherdev/reelqueue/internal/adapter/driven/platform"
	"github.com/ericfisherdev/reelqueue/internal/adapter/driven/secret"
	sqliteadapter "github.com/ericfisherdev/reelqueue/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/reelqueue/internal/adapter/driving/http"
	"github.com/ericfisherdev/reelqueue/internal/application"
	"github.com/ericfisherdev/reelqueue/internal/clock"
	"github.com/ericfisherdev/reelqueue/internal/config"
	"github.com/ericfisherdev/reelqueue/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// stores groups the storage ports so main can switch backends in one place.
type stores struct {
	creds  driven.CredentialStore
	posts  driven.PostStore
	lease  driven.LeaseStore
	pinger application.Pinger
	close  func() error
}

func run() error {
	// 1. Load configuration (fail fast on invalid env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	banner := figure.NewFigure("reelqueue", "cybermedium", true)
	banner.Print()
	fmt.Println()

	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"storage", cfg.Storage,
		"db_path", cfg.DBPath,
		"secret_backend", cfg.SecretBackend,
		"dispatch_interval", cfg.DispatchInterval,
		"dispatch_workers", cfg.DispatchWorkers,
		"media_dir", cfg.MediaDir,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open storage and run migrations.
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.close(); closeErr != nil {
			slog.Error("error closing storage", "error", closeErr)
		}
	}()

	// 4. Wire driven adapters.
	clk := clock.Real()

	mediaStore, err := media.NewStore(cfg.MediaDir)
	if err != nil {
		return err
	}
	defer func() { _ = mediaStore.Close() }()

	var secrets driven.SecretSource
	switch cfg.SecretBackend {
	case config.SecretBackendKeyring:
		secrets = secret.NewKeyring("")
	default:
		if cfg.SecretKey == "" {
			slog.Warn("REELQUEUE_SECRET_KEY is not set, token encryption will fail until it is provided")
		}
		secrets = secret.NewStatic(cfg.SecretKey)
	}

	platformClient := platform.NewClient(platform.Config{
		APIURL:       cfg.PlatformAPIURL,
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		AuthURL:      cfg.OAuthAuthURL,
		TokenURL:     cfg.OAuthTokenURL,
		RedirectURL:  cfg.OAuthRedirectURL,
		RateLimit:    cfg.PlatformRateLimit,
	}, mediaStore, clk)

	var authURLs httphandler.AuthURLBuilder
	if cfg.HasOAuthApp() {
		authURLs = platformClient
	} else {
		slog.Info("no oauth application configured, accounts cannot be connected or refreshed")
	}

	notifier := notify.NewLogNotifier(slog.Default())

	// 5. Create application services.
	vault := application.NewCredentialVault(st.creds, clk)
	tokens := application.NewTokenManager(vault, platformClient, secrets, notifier, clk, application.TokenManagerConfig{
		Margin:         cfg.RefreshMargin,
		RefreshTimeout: cfg.RefreshTimeout,
	})
	scheduler := application.NewPublishScheduler(st.posts, st.creds, tokens, platformClient, mediaStore, notifier, clk, application.SchedulerConfig{
		Retry: application.RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
		PublishTimeout: cfg.PublishTimeout,
	})
	accounts := application.NewAccountService(platformClient, secrets, vault, tokens, scheduler)
	dashboard := application.NewDashboardService(st.posts, st.creds, clk)

	// 6. Recover work interrupted by the previous shutdown.
	if n, err := tokens.RecoverInterrupted(ctx); err != nil {
		return fmt.Errorf("recover interrupted refreshes: %w", err)
	} else if n > 0 {
		slog.Info("recovered interrupted refreshes", "count", n)
	}
	if n, err := scheduler.RecoverInterrupted(ctx); err != nil {
		return fmt.Errorf("recover interrupted publishes: %w", err)
	} else if n > 0 {
		slog.Info("recovered interrupted publishes", "count", n)
	}

	// 7. Start the dispatch loop.
	dispatcher := application.NewDispatcher(tokens, scheduler, st.lease, clk, cfg.DispatchInterval, cfg.DispatchWorkers)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Start(ctx)
	}()

	health := application.NewHealthService(st.pinger, dispatcher, clk)

	// 8. Create HTTP handler and register API routes.
	apiHandler := httphandler.NewHandler(accounts, scheduler, dashboard, health, dispatcher, authURLs, slog.Default())
	if cfg.APIJWTSecret == "" {
		slog.Warn("REELQUEUE_API_JWT_SECRET is not set, the API is unauthenticated")
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(apiHandler, slog.Default(), cfg.APIJWTSecret),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.PublishTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	slog.Info("reelqueue started", "listen_addr", cfg.ListenAddr)

	// 9. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 10. Graceful shutdown: drain HTTP, then wait for in-flight ticks.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	wg.Wait()

	slog.Info("shutdown complete")
	return nil
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Storage == config.StorageMemory {
		slog.Warn("using in-memory storage, nothing survives a restart")
		return &stores{
			creds: memory.NewCredentialStore(),
			posts: memory.NewPostStore(),
			lease: memory.NewLeaseStore(),
			close: func() error { return nil },
		}, nil
	}

	// Dual reader/writer with WAL mode.
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	slog.Info("database opened", "path", cfg.DBPath)

	version, err := sqliteadapter.RunMigrations(db.Writer)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("migrations complete", "schema_version", version)

	return &stores{
		creds:  sqliteadapter.NewCredentialRepo(db),
		posts:  sqliteadapter.NewPostRepo(db),
		lease:  sqliteadapter.NewLeaseRepo(db),
		pinger: db,
		close:  db.Close,
	}, nil
}
