package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/agroplatform/internal/api"
	"github.com/nikhilbhutani/agroplatform/internal/api/handlers"
	"github.com/nikhilbhutani/agroplatform/internal/api/middleware"
	"github.com/nikhilbhutani/agroplatform/internal/audit"
	"github.com/nikhilbhutani/agroplatform/internal/auth"
	"github.com/nikhilbhutani/agroplatform/internal/cache"
	"github.com/nikhilbhutani/agroplatform/internal/config"
	"github.com/nikhilbhutani/agroplatform/internal/database"
	"github.com/nikhilbhutani/agroplatform/internal/guard"
	"github.com/nikhilbhutani/agroplatform/internal/obs"
	"github.com/nikhilbhutani/agroplatform/internal/queue"
	"github.com/nikhilbhutani/agroplatform/internal/rbac"
	"github.com/nikhilbhutani/agroplatform/internal/roles"
	"github.com/nikhilbhutani/agroplatform/internal/session"
	"github.com/nikhilbhutani/agroplatform/internal/tenant"
	"github.com/nikhilbhutani/agroplatform/internal/users"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	kv := cache.NewCache(rdb)
	if err := kv.Ping(ctx, cfg.Redis.PingTimeout); err != nil {
		// Sessions and one-time tokens fail closed; the guard fails open.
		slog.Warn("redis unavailable at startup", "error", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	obs.Register(reg)

	gate := tenant.NewGate(db)
	tenants := tenant.NewService(gate)

	auditLog := audit.NewDispatcher(audit.NewService(gate), 1000)
	defer auditLog.Close()

	mailer := queue.NewClient(cfg.Redis)
	defer mailer.Close()

	resolver := rbac.NewResolver(rbac.NewPostgresStore(gate), kv, cfg.Auth.PermissionCacheTTL)
	ledger := session.NewLedger(rdb, cfg.Auth.RefreshTokenTTL)
	tokens := session.NewTokenStore(kv)
	userStore := users.NewPostgresStore(gate)
	roleMgr := roles.NewManager(roles.NewPostgresStore(gate), resolver)

	var provider auth.IdentityProvider
	if cfg.OAuth.Enabled() {
		provider = auth.NewGoogleProvider(cfg.OAuth)
	} else {
		slog.Info("google sign-in disabled, credentials not configured")
	}

	authSvc := auth.NewService(auth.Deps{
		Users:    userStore,
		Tenants:  tenants,
		Sessions: ledger,
		Tokens:   tokens,
		Guard:    guard.New(kv, cfg.Guard),
		Issuer:   auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTokenTTL),
		Mail:     mailer,
		Audit:    auditLog,
		Provider: provider,
	}, cfg.Auth)

	userSvc := users.NewService(users.Deps{
		Store:       userStore,
		Tenants:     tenants,
		Sessions:    ledger,
		Tokens:      tokens,
		Permissions: resolver,
		Roles:       roleMgr,
		Mail:        mailer,
		Audit:       auditLog,
	}, cfg.Auth.InviteTokenTTL, cfg.Auth.AppURL)

	limiter := middleware.NewRateLimiter(cfg.Server.RPS, cfg.Server.Burst)
	go limiter.Cleanup(ctx)

	router := api.NewRouter(api.Deps{
		Auth:        authSvc,
		Authorizer:  resolver,
		Permissions: resolver,
		Roles:       roleMgr,
		Users:       userSvc,
		Tenants:     tenants,
		Audit:       auditLog,
		Health:      handlers.NewHealthHandler(db, kv, cfg.Redis.PingTimeout),
		Metrics:     obs.Handler(reg),
		Limiter:     limiter,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}
