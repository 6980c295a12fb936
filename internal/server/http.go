// Package server assembles the REST API and the internal gRPC health endpoint.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	adminhandler "medconnect/backend/internal/admin/handler"
	devotphandler "medconnect/backend/internal/devotp/handler"
	healthhandler "medconnect/backend/internal/health/handler"
	identityhandler "medconnect/backend/internal/identity/handler"
	"medconnect/backend/internal/server/middleware"
	sessionhandler "medconnect/backend/internal/session/handler"
	userdomain "medconnect/backend/internal/user/domain"
	userhandler "medconnect/backend/internal/user/handler"
)

// APIPrefix is the mount point of every route.
const APIPrefix = "/api/v1"

// Handlers holds the route handlers and the auth gate dependencies.
type Handlers struct {
	Identity *identityhandler.Handler
	Session  *sessionhandler.Handler
	User     *userhandler.Handler
	Admin    *adminhandler.Handler
	Health   *healthhandler.Handler
	// DevOTP is mounted only when set. Set only in dev OTP mode outside production.
	DevOTP *devotphandler.Handler
	Auth   middleware.Authenticator
}

// NewRouter builds the gin engine with the shared middleware chain and every route.
func NewRouter(env string, log zerolog.Logger, h Handlers) *gin.Engine {
	if env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(
		middleware.RequestID(log),
		middleware.Logger(log),
		middleware.Recovery(log),
		middleware.Telemetry(),
	)
	register(engine.Group(APIPrefix), h)
	return engine
}

func register(api *gin.RouterGroup, h Handlers) {
	api.GET("/health", h.Health.Live)
	api.GET("/ready", h.Health.Ready)

	auth := api.Group("/auth")
	auth.POST("/otp/send", h.Identity.SendOTP)
	auth.POST("/otp/verify", h.Identity.VerifyOTP)
	auth.POST("/register/patient", h.Identity.RegisterPatient)
	auth.POST("/register/medecin", h.Identity.RegisterDoctor)
	auth.POST("/login", h.Identity.Login)
	auth.POST("/refresh", h.Session.Refresh)
	auth.POST("/password/forgot", h.Identity.ForgotPassword)
	auth.POST("/password/reset", h.Identity.ResetPassword)

	gate := middleware.Authenticate(h.Auth)
	auth.POST("/logout", gate, h.Session.Logout)
	auth.DELETE("/logout/all", gate, h.Session.LogoutAll)
	auth.GET("/sessions", gate, h.Session.Sessions)
	auth.GET("/me", gate, h.User.Me)

	api.GET("/medecins/validation-status", gate, middleware.Authorize(userdomain.RoleDoctor), h.User.ValidationStatus)
	api.PATCH("/admin/medecins/:userId/validation", gate, middleware.Authorize(userdomain.RoleAdmin), h.Admin.SetDoctorValidation)

	if h.DevOTP != nil {
		api.GET("/dev/otp", h.DevOTP.GetOTP)
	}
}

// HTTPServer runs the REST API.
type HTTPServer struct {
	server *http.Server
	log    zerolog.Logger
}

// NewHTTPServer returns a server for handler on addr.
func NewHTTPServer(addr string, handler http.Handler, log zerolog.Logger) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		log: log,
	}
}

// Start blocks serving until Shutdown.
func (s *HTTPServer) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("http server starting")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx is done.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.server.Shutdown(ctx)
}
