package handler

import (
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/suteetoe/tenantgate/internal/apperror"
	"github.com/suteetoe/tenantgate/internal/middleware"
	"github.com/suteetoe/tenantgate/internal/service"
	"github.com/suteetoe/tenantgate/internal/validate"
	"github.com/suteetoe/tenantgate/pkg/jwtutil"
	"github.com/suteetoe/tenantgate/pkg/logger"
	"github.com/suteetoe/tenantgate/prometheus"
)

// Services are the domain services the routes dispatch to.
type Services struct {
	Auth     *service.AuthService
	Team     *service.TeamService
	Projects *service.ProjectService
	Tenants  *service.TenantService
}

// RouterConfig holds the transport-level settings of the API.
type RouterConfig struct {
	ServiceName    string
	JWT            *jwtutil.JWTUtil
	Logger         *zap.Logger
	LoginPerMinute int
	LoginBurst     int
	// TrustedProxies are CIDRs allowed to set X-Forwarded-For. Empty means
	// the socket peer address is the client IP.
	TrustedProxies []string
	// Extra middleware applied before everything else, e.g. tracing.
	Middleware []echo.MiddlewareFunc
}

// NewRouter builds the echo instance with every route registered.
func NewRouter(cfg RouterConfig, svc Services) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler()
	e.Validator = validate.New()
	e.IPExtractor = ipExtractor(cfg.TrustedProxies, cfg.Logger)

	e.Use(cfg.Middleware...)
	e.Use(echomiddleware.Recover())
	e.Use(middleware.RequestIDMiddleware())
	e.Use(logger.Middleware(cfg.Logger))
	e.Use(prometheus.MetricsMiddleware())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderXRequestID},
	}))

	e.GET("/health", HealthCheck(cfg.ServiceName))
	e.GET("/metrics", echo.WrapHandler(prometheus.GetPrometheusHandler()))

	authHandler := NewAuthHandler(svc.Auth)
	teamHandler := NewTeamHandler(svc.Team)
	projectHandler := NewProjectHandler(svc.Projects)
	tenantHandler := NewTenantHandler(svc.Tenants)

	auth := e.Group("/auth")
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login, loginRateLimiter(cfg.LoginPerMinute, cfg.LoginBurst))

	api := e.Group("/api", middleware.JWTAuthMiddleware(cfg.JWT))
	api.GET("/me", authHandler.Me)
	api.PATCH("/me", authHandler.UpdateProfile)

	api.GET("/team", teamHandler.ListMembers)
	api.POST("/team", teamHandler.AddMember)

	api.GET("/projects", projectHandler.ListProjects)
	api.POST("/projects", projectHandler.CreateProject)
	api.GET("/projects/:id", projectHandler.GetProject)
	api.PATCH("/projects/:id", projectHandler.UpdateProject)
	api.DELETE("/projects/:id", projectHandler.DeleteProject)
	api.GET("/projects/:id/tasks", projectHandler.ListTasks)
	api.POST("/projects/:id/tasks", projectHandler.CreateTask)

	api.GET("/my-tasks", projectHandler.ListMyTasks)
	api.GET("/tasks/:id", projectHandler.GetTask)
	api.PATCH("/tasks/:id", projectHandler.UpdateTask)
	api.DELETE("/tasks/:id", projectHandler.DeleteTask)

	api.GET("/tenant/usage", tenantHandler.Usage)

	admin := api.Group("/admin")
	admin.GET("/tenants", tenantHandler.ListTenants)
	admin.PATCH("/tenants/:id", tenantHandler.UpdateTenant)
	admin.GET("/tenants/:id/users", tenantHandler.ListTenantUsers)
	admin.GET("/users", tenantHandler.ListAllUsers)

	return e
}

// ipExtractor resolves the client IP for logging, audit and rate limiting.
// X-Forwarded-For is only followed through the configured proxy ranges.
func ipExtractor(trustedProxies []string, log *zap.Logger) echo.IPExtractor {
	if len(trustedProxies) == 0 {
		return echo.ExtractIPDirect()
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, cidr := range trustedProxies {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			log.Warn("Ignoring invalid trusted proxy range", zap.String("cidr", cidr), zap.Error(err))
			continue
		}
		opts = append(opts, echo.TrustIPRange(ipNet))
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}

// loginRateLimiter bounds login attempts per client IP. A non-positive rate
// disables it.
func loginRateLimiter(perMinute, burst int) echo.MiddlewareFunc {
	if perMinute <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	if burst <= 0 {
		burst = 1
	}
	store := echomiddleware.NewRateLimiterMemoryStoreWithConfig(echomiddleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(float64(perMinute) / 60),
		Burst:     burst,
		ExpiresIn: 3 * time.Minute,
	})
	return echomiddleware.RateLimiterWithConfig(echomiddleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			prometheus.RecordAuthError("rate_limited")
			logger.FromEcho(c).Warn("Login rate limit exceeded", zap.String("ip", identifier))
			return echo.NewHTTPError(http.StatusTooManyRequests, "too many login attempts, try again later")
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return apperror.Internal(err)
		},
	})
}
