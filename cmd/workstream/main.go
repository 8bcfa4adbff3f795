package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/workstream-hq/workstream/internal/app"
	"github.com/workstream-hq/workstream/internal/audit"
	"github.com/workstream-hq/workstream/internal/auth"
	"github.com/workstream-hq/workstream/internal/costledger"
	"github.com/workstream-hq/workstream/internal/federation"
	"github.com/workstream-hq/workstream/internal/gateway"
	"github.com/workstream-hq/workstream/internal/idempotency"
	"github.com/workstream-hq/workstream/internal/leads"
	"github.com/workstream-hq/workstream/internal/observability"
	"github.com/workstream-hq/workstream/internal/platform/cache"
	"github.com/workstream-hq/workstream/internal/platform/db"
	"github.com/workstream-hq/workstream/internal/ratelimit"
	"github.com/workstream-hq/workstream/internal/rbac"
	"github.com/workstream-hq/workstream/internal/shared"
	"github.com/workstream-hq/workstream/jobs"
)

// sessionPrincipals adapts the session cookie into the gateway principal.
func sessionPrincipals(authService *auth.Service) gateway.PrincipalSource {
	return func(ctx context.Context, r *http.Request) (rbac.Principal, error) {
		sess := shared.SessionFromContext(r.Context())
		if sess == nil || sess.User() == "" {
			return rbac.Principal{}, shared.ErrInvalidCredentials
		}
		userID, err := strconv.ParseInt(sess.User(), 10, 64)
		if err != nil {
			return rbac.Principal{}, shared.ErrInvalidCredentials
		}
		user, err := authService.Lookup(ctx, userID)
		if err != nil {
			return rbac.Principal{}, shared.ErrInvalidCredentials
		}
		return rbac.Principal{
			UserID:   user.ID,
			OrgID:    user.OrgID,
			Email:    user.Email,
			BaseRole: rbac.ParseBaseRole(user.Role),
		}, nil
	}
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "ws_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager)

	verifier := federation.NewVerifier(federation.Config{
		Enabled:        cfg.FederationEnabled,
		Keys:           cfg.ProviderKeys,
		ProviderKeyIDs: cfg.ProviderScopedKeys,
		ClockSkew:      cfg.ProviderClockSkew,
		AllowH31:       cfg.FederationAllowH31,
	})
	resolver := rbac.NewResolver(rbac.NewPGStore(dbpool), cfg.BypassEmail())
	idemStore := idempotency.NewPGStore(dbpool, cfg.IdempotencyTTL, cfg.IdempotencyPendingStale)
	ledger := costledger.NewPGLedger(dbpool, cfg.MonthlyCreditDefault, cfg.DailyCreditDefault)
	limiter := ratelimit.NewLimiter(redisClient)
	auditor := audit.NewPGRecorder(dbpool)
	metrics := observability.NewMetrics()

	gw := gateway.New(
		logger,
		verifier,
		resolver,
		sessionPrincipals(authService),
		idemStore,
		ledger,
		limiter,
		gateway.WithAudit(auditor),
		gateway.WithMetrics(metrics),
		gateway.WithHandlerTimeout(cfg.AppRequestTimeout),
	)

	leadsRepo := leads.NewRepository(dbpool)
	leadsService := leads.NewService(leadsRepo)
	leadsHandler := leads.NewHandler(logger, leadsService, gw)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		AuthHandler:    authHandler,
		LeadsHandler:   leadsHandler,
		JobHandler:     jobHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
