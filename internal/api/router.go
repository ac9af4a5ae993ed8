package api

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"

	_ "github.com/stockauth/stockauth/docs"
	"github.com/stockauth/stockauth/internal/api/handler"
	"github.com/stockauth/stockauth/internal/api/middleware"
	"github.com/stockauth/stockauth/internal/core/domain"
	"github.com/stockauth/stockauth/internal/core/ports"
)

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Sessions  ports.SessionService
	Tokens    middleware.TokenVerifier
	Readiness map[string]handler.Pinger
	Logger    zerolog.Logger
	// Registerer receives the HTTP request metrics; nil leaves them off.
	Registerer prometheus.Registerer
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(d.Logger)

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(requestLogger(d.Logger))
	if d.Registerer != nil {
		e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
			Subsystem:  "stockauth",
			Registerer: d.Registerer,
		}))
	}

	// --- Dependencies ---
	authHandler := handler.NewAuthHandler(d.Sessions)
	userHandler := handler.NewUserHandler(d.Sessions)
	brokerHandler := handler.NewBrokerHandler(d.Sessions)
	authed := []echo.MiddlewareFunc{middleware.Auth(d.Tokens), middleware.Gate(d.Sessions)}

	// --- Auth routes ---
	auth := e.Group("/api/auth")
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)
	auth.POST("/setup-2fa", authHandler.SetupTwoFactor, authed...)
	auth.POST("/verify-2fa", authHandler.VerifyTwoFactor, authed...)
	auth.POST("/disable-2fa", authHandler.DisableTwoFactor, authed...)
	auth.POST("/broker-login", authHandler.BrokerLogin, authed...)
	auth.POST("/logout", authHandler.Logout, authed...)

	// --- User routes ---
	users := e.Group("/api/users", authed...)
	users.GET("/me", userHandler.Me)
	users.PUT("/me", userHandler.UpdateMe)
	users.PUT("/me/password", userHandler.ChangePassword)

	// --- Admin routes ---
	admin := e.Group("/api/admin", middleware.Auth(d.Tokens), middleware.Gate(d.Sessions), middleware.RBAC(domain.RoleAdmin))
	admin.GET("/users/:id", userHandler.Get)

	// --- Broker routes ---
	broker := e.Group("/api/broker", authed...)
	broker.GET("/profile", brokerHandler.Profile)
	broker.POST("/connect", brokerHandler.Connect, middleware.RequireState(domain.StateBrokerLinked))

	// --- Health probes (no auth required) ---
	e.GET("/health", handler.NewHealthHandler().Liveness)
	e.GET("/health/ready", handler.NewHealthDependenciesHandler(d.Readiness).Readiness)

	e.GET("/metrics", echoprometheus.NewHandler())
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	return e
}

// requestLogger writes one zerolog line per request.
func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Status >= 500 {
				ev = log.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("path", v.URIPath).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	})
}
