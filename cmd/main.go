package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/suteetoe/tenantgate/internal/audit"
	"github.com/suteetoe/tenantgate/internal/handler"
	"github.com/suteetoe/tenantgate/internal/service"
	"github.com/suteetoe/tenantgate/internal/store"
	"github.com/suteetoe/tenantgate/internal/store/gormstore"
	"github.com/suteetoe/tenantgate/internal/store/memory"
	"github.com/suteetoe/tenantgate/internal/telemetry"
	"github.com/suteetoe/tenantgate/pkg/config"
	"github.com/suteetoe/tenantgate/pkg/database"
	"github.com/suteetoe/tenantgate/pkg/jwtutil"
	"github.com/suteetoe/tenantgate/pkg/logger"
	"github.com/suteetoe/tenantgate/pkg/password"
)

const serviceName = "tenantgate"

func main() {
	// Load configuration from .env file and environment variables
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(logger.Options{
		Level:       cfg.Log.Level,
		Environment: cfg.Server.Env,
		ServiceName: cfg.ServiceName,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer log.Sync()
	log.Info("Starting tenantgate...", cfg.LogConfig()...)

	shutdownTracing := telemetry.Setup(cfg.ServiceName, cfg.Telemetry, log)

	st, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize store", zap.Error(err))
	}

	tokens, err := jwtutil.NewJWTUtil(jwtutil.JWTConfig{
		SigningKey:      cfg.JWT.SigningKey,
		Issuer:          cfg.JWT.Issuer,
		ExpirationHours: cfg.JWT.ExpirationHours,
	})
	if err != nil {
		log.Fatal("Failed to initialize JWT utility", zap.Error(err))
	}

	hasher := password.NewHasher(cfg.BcryptCost)
	recorder := audit.NewRecorder(st, log, cfg.Audit.WriteTimeout)
	plans := service.Plans{Limits: cfg.Plans, Default: cfg.DefaultPlan}
	quota := service.NewQuotaEnforcer(st, log)

	services := handler.Services{
		Auth:     service.NewAuthService(st, hasher, tokens, recorder, plans, log),
		Team:     service.NewTeamService(st, quota, hasher, recorder, log),
		Projects: service.NewProjectService(st, quota, recorder, log),
		Tenants:  service.NewTenantService(st, quota, plans, recorder, log),
	}

	if cfg.Bootstrap.AdminEmail != "" {
		user, created, err := services.Auth.EnsureSuperAdmin(context.Background(),
			cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword, cfg.Bootstrap.AdminName)
		if err != nil {
			log.Fatal("Failed to bootstrap super admin", zap.Error(err))
		}
		log.Info("Super admin ready", zap.String("user_id", user.ID.String()), zap.Bool("created", created))
	}

	e := handler.NewRouter(handler.RouterConfig{
		ServiceName:    cfg.ServiceName,
		JWT:            tokens,
		Logger:         log,
		LoginPerMinute: cfg.RateLimit.LoginPerMinute,
		LoginBurst:     cfg.RateLimit.LoginBurst,
		TrustedProxies: cfg.Server.TrustedProxies,
		Middleware: []echo.MiddlewareFunc{
			echo.WrapMiddleware(otelhttp.NewMiddleware(cfg.ServiceName)),
		},
	}, services)

	go func() {
		log.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
	if err := recorder.Close(ctx); err != nil {
		log.Error("Audit queue not drained", zap.Error(err))
	}
	if err := shutdownTracing(ctx); err != nil {
		log.Error("Tracer shutdown failed", zap.Error(err))
	}
	log.Info("Server stopped")
}

// openStore picks the persistence backend. The in-memory store is meant for
// local runs and demos; it loses everything on restart.
func openStore(cfg *config.Config, log *zap.Logger) (store.Store, error) {
	if cfg.DB.Driver == "memory" {
		log.Warn("Using in-memory store, data will not survive a restart")
		return memory.New(), nil
	}

	db, err := database.Open(&cfg.DB, log)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}
	return gormstore.NewStore(db, cfg.DB.QueryTimeout), nil
}
