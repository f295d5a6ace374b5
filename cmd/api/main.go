package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/research-auth/internal/api/http"
	"github.com/spec-kit/research-auth/internal/api/http/handlers"
	"github.com/spec-kit/research-auth/internal/auth"
	"github.com/spec-kit/research-auth/internal/config"
	"github.com/spec-kit/research-auth/internal/events"
	"github.com/spec-kit/research-auth/internal/identity"
	"github.com/spec-kit/research-auth/internal/observability"
	"github.com/spec-kit/research-auth/internal/persistence"
	"github.com/spec-kit/research-auth/internal/policy"
	"github.com/spec-kit/research-auth/internal/ratelimit"
	"github.com/spec-kit/research-auth/internal/repository"
	"github.com/spec-kit/research-auth/internal/service"
	"github.com/spec-kit/research-auth/internal/worker"
	"github.com/spec-kit/research-auth/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.Pool, migrations.Files, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	repos := repository.NewRepositories(pg.Pool)
	uow := repository.NewUnitOfWork(pg.Pool)

	departmentsExist := policy.DepartmentsExist(repos.Departments)
	registry, err := loadRegistry(ctx, cfg.Privileged.Path, departmentsExist, logger)
	if err != nil {
		logger.Fatal("invalid privileged registry", zap.Error(err))
	}
	holder := policy.NewRegistryHolder(registry)
	reload := func(ctx context.Context) (*policy.Registry, error) {
		return holder.Reload(ctx, cfg.Privileged.Path, departmentsExist)
	}

	authPolicy := policy.NewPolicy(holder, policy.DomainRule{
		Production:      cfg.App.IsProduction(),
		OrgDomain:       cfg.Auth.AllowedDomain,
		RelaxedSuffixes: cfg.Auth.DevAllowedSuffixes,
	})

	providerClient := &http.Client{Timeout: cfg.OAuth.ExchangeTimeout}
	keys := identity.NewRemoteKeys(ctx, cfg.OAuth.JWKSURL, providerClient)
	verifier := identity.NewVerifier(identity.Config{
		ClientID:        cfg.OAuth.ClientID,
		ClientSecret:    cfg.OAuth.ClientSecret,
		RedirectURI:     cfg.OAuth.RedirectURI,
		AuthURL:         cfg.OAuth.AuthURL,
		TokenURL:        cfg.OAuth.TokenURL,
		Scopes:          cfg.OAuth.Scopes,
		Issuers:         cfg.OAuth.Issuers,
		ExchangeTimeout: cfg.OAuth.ExchangeTimeout,
	}, keys, identity.WithHTTPClient(providerClient))

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.AccessTokenTTL,
		auth.WithPreviousSecrets(cfg.Auth.JWTPreviousSecrets...))
	refresh := service.NewRefreshTokenManager(cfg.Auth.RefreshTokenTTL, cfg.Auth.SessionPolicy)

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	events.RegisterAuditLog(dispatcher, logger)

	authService := service.NewAuthService(service.AuthDependencies{
		Verifier:   verifier,
		Policy:     authPolicy,
		Tokens:     tokens,
		Refresh:    refresh,
		UnitOfWork: uow,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
	})

	cleanup := worker.NewTokenCleanupWorker(authService, cfg.Auth.RefreshCleanupInterval, logger)
	go cleanup.Run(ctx)

	var redisPinger handlers.Pinger
	var rateLimit fiber.Handler
	if redis != nil {
		redisPinger = redis
		limiter := ratelimit.NewLimiter(redis.Client, cfg.RateLimit.AuthPerMinute, time.Minute)
		if limiter.Enabled() {
			rateLimit = ratelimit.Middleware(limiter, logger, metrics)
		}
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
		ErrorHandler:          httptransport.ErrorHandler(logger),
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redisPinger),
		Auth: handlers.NewAuthHandler(authService, verifier,
			handlers.NewCookieConfig(cfg.Auth.RefreshCookieName, cfg.App.IsProduction())),
		Users:          handlers.NewUsersHandler(),
		Admin:          handlers.NewAdminHandler(reload, logger),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		RateLimit:      rateLimit,
		Metrics:        metrics.Handler(),
	})

	go func() {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()), zap.String("env", cfg.App.Env))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(ctx, logger, reload)

	cancel()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}

// loadRegistry reads the privileged registry at startup. An unset path means
// no privileged users.
func loadRegistry(ctx context.Context, path string, check policy.RegistryCheck, logger *zap.Logger) (*policy.Registry, error) {
	if path == "" {
		logger.Warn("PRIVILEGED_USERS_PATH not set; every user signs in with a default role")
		return policy.EmptyRegistry(), nil
	}
	reg, err := policy.LoadRegistry(path)
	if err != nil {
		return nil, err
	}
	if err := check(ctx, reg); err != nil {
		return nil, err
	}
	logger.Info("privileged registry loaded", zap.String("path", path), zap.Int("privileged_users", reg.Size()))
	return reg, nil
}

// waitForShutdown blocks until SIGINT or SIGTERM. SIGHUP reloads the
// privileged registry in place.
func waitForShutdown(ctx context.Context, logger *zap.Logger, reload handlers.ReloadFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			reg, err := reload(ctx)
			if err != nil {
				logger.Error("privileged registry reload failed; keeping previous", zap.Error(err))
				continue
			}
			logger.Info("privileged registry reloaded", zap.Int("privileged_users", reg.Size()))
			continue
		}
		logger.Info("shutting down", zap.String("signal", sig.String()))
		return
	}
}
