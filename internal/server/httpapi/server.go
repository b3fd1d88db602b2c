// Package httpapi exposes the authentication services over HTTP/JSON using echo.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/dmitrijs2005/turbocore/internal/logging"
)

const shutdownTimeout = 10 * time.Second

// Register mounts every route on e.
func Register(e *echo.Echo, h *Handlers) {
	e.GET("/api/health/ping", h.Ping)

	user := e.Group("/api/auth/user")
	user.POST("/create", h.CreateUser)
	user.POST("/login", h.Login)
	user.POST("/refresh", h.Refresh)
	user.GET("/verify-email/:token", h.VerifyEmail)
	user.POST("/magic-link", h.RequestMagicLink)
	user.GET("/magic-link/:token", h.RedeemMagicLink)
	user.POST("/reset-password", h.ResetPassword)
	user.PATCH("/change-password", h.ChangePassword, h.optionalBearer)

	user.POST("/logout", h.Logout, h.requireBearer)
	user.POST("/verify-email", h.SendVerification, h.requireBearer)
	user.GET("", h.GetUser, h.requireBearer)
	user.PUT("", h.UpdateUser, h.requireBearer)
	user.DELETE("", h.DeleteUser, h.requireBearer)

	admin := e.Group("/api/admin")
	admin.POST("/login", h.AdminLogin)
	admin.POST("/create", h.CreateAdmin, h.requireBearer, h.requireAdmin)
}

// NewEcho builds the echo instance with the middleware stack and routes.
func NewEcho(h *Handlers, log logging.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(log)

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(RequestLogger(log))
	e.Use(echomw.BodyLimit("64K"))
	e.Use(echomw.Secure())

	Register(e, h)
	return e
}

type Server struct {
	address string
	handler http.Handler
	logger  logging.Logger
}

func NewServer(address string, h *Handlers, l logging.Logger) *Server {
	return &Server{
		address: address,
		handler: NewEcho(h, l),
		logger:  l.With("module", "http_server"),
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "http shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
