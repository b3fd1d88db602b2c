package httpapi

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dmitrijs2005/turbocore/internal/logging"
)

const userIDKey = "user_id"

// RequestLogger puts a request-scoped logger on the request context and logs
// one line per request once the error handler has run.
func RequestLogger(base logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			l := base.With(
				"method", req.Method,
				"path", c.Path(),
				"remote_ip", c.RealIP(),
				"user_agent", req.UserAgent(),
			)
			if rid := c.Response().Header().Get(echo.HeaderXRequestID); rid != "" {
				l = l.With("request_id", rid)
			}

			ctx := logging.IntoContext(req.Context(), l)
			c.SetRequest(req.WithContext(ctx))

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Echo().HTTPErrorHandler(err, c)
			}
			dur := time.Since(start).Milliseconds()
			status := c.Response().Status

			switch {
			case status >= 500:
				l.Error(ctx, "request completed", "status", status, "duration_ms", dur)
			case status >= 400:
				l.Warn(ctx, "request completed", "status", status, "duration_ms", dur)
			default:
				l.Info(ctx, "request completed", "status", status, "duration_ms", dur, "bytes", c.Response().Size)
			}
			return nil
		}
	}
}

// requireBearer admits requests carrying a valid access token and stores its
// subject under userIDKey.
func (h *Handlers) requireBearer(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		uid, err := h.codec.VerifyBearer(c.Request().Header.Get(echo.HeaderAuthorization), h.now())
		if err != nil {
			return bearerError(err)
		}
		c.Set(userIDKey, uid)
		return next(c)
	}
}

// optionalBearer is requireBearer for routes that also accept anonymous
// callers. A header that is present must still be valid.
func (h *Handlers) optionalBearer(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Request().Header.Get(echo.HeaderAuthorization) == "" {
			return next(c)
		}
		return h.requireBearer(next)(c)
	}
}

// requireAdmin must run after requireBearer.
func (h *Handlers) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := h.users.RequireAdmin(c.Request().Context(), userID(c)); err != nil {
			return bearerError(err)
		}
		return next(c)
	}
}

func userID(c echo.Context) string {
	uid, _ := c.Get(userIDKey).(string)
	return uid
}
