package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dmitrijs2005/turbocore/internal/common"
	"github.com/dmitrijs2005/turbocore/internal/logging"
	"github.com/dmitrijs2005/turbocore/internal/server/auth"
	"github.com/dmitrijs2005/turbocore/internal/server/services"
)

var errBadBody = newAPIError(http.StatusBadRequest, "BAD_REQUEST", "Malformed request body")

// Handlers binds the services to HTTP routes.
type Handlers struct {
	users    *services.UserService
	sessions *services.SessionService
	flows    *services.FlowService
	codec    *auth.Codec
	log      logging.Logger
	now      func() time.Time
}

func NewHandlers(us *services.UserService, ss *services.SessionService, fs *services.FlowService, codec *auth.Codec, log logging.Logger) *Handlers {
	return &Handlers{
		users:    us,
		sessions: ss,
		flows:    fs,
		codec:    codec,
		log:      log.With("module", "http"),
		now:      time.Now,
	}
}

func (h *Handlers) bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		logging.FromContext(c.Request().Context(), h.log).Debug(c.Request().Context(), "bind request", "error", err)
		return errBadBody
	}
	return nil
}

// CreateUser handles POST /api/auth/user/create.
func (h *Handlers) CreateUser(c echo.Context) error {
	var req createUserRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	res, err := h.users.Signup(c.Request().Context(), services.SignupRequest{
		Email:         req.Email,
		Password:      req.Password,
		EmailVerified: req.EmailVerified,
		Metadata:      req.Metadata,
		Login:         req.Login,
	})
	if err != nil {
		return err
	}

	if res.Tokens != nil {
		return c.JSON(http.StatusCreated, newLoginResponse(res.Tokens, res.User))
	}
	return c.JSON(http.StatusCreated, signupResponse{UID: res.User.ID})
}

// Login handles POST /api/auth/user/login.
func (h *Handlers) Login(c echo.Context) error {
	var req credentialsRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	pair, user, err := h.users.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newLoginResponse(pair, user))
}

// Refresh handles POST /api/auth/user/refresh.
func (h *Handlers) Refresh(c echo.Context) error {
	var req refreshRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	pair, err := h.sessions.Redeem(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, refreshResponse{
		UID:          pair.UserID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Expiry:       pair.AccessExpiry.Unix(),
	})
}

// Logout handles POST /api/auth/user/logout. Without a refresh token every
// session of the caller is revoked.
func (h *Handlers) Logout(c echo.Context) error {
	var req logoutRequest
	if c.Request().ContentLength != 0 {
		if err := h.bind(c, &req); err != nil {
			return err
		}
	}

	if err := h.users.Logout(c.Request().Context(), userID(c), req.RefreshToken); err != nil {
		return err
	}
	return c.NoContent(http.StatusOK)
}

// GetUser handles GET /api/auth/user.
func (h *Handlers) GetUser(c echo.Context) error {
	user, err := h.users.Profile(c.Request().Context(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newUserResponse(user))
}

// UpdateUser handles PUT /api/auth/user.
func (h *Handlers) UpdateUser(c echo.Context) error {
	var req updateUserRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	upd := services.ProfileUpdate{Email: req.Email}
	switch raw := bytes.TrimSpace(req.Metadata); {
	case len(raw) == 0:
	case bytes.Equal(raw, []byte("null")):
		upd.ClearMetadata = true
	default:
		var meta string
		if err := json.Unmarshal(raw, &meta); err != nil {
			return errBadBody
		}
		upd.Metadata = &meta
	}

	user, err := h.users.UpdateProfile(c.Request().Context(), userID(c), upd)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newUserResponse(user))
}

// DeleteUser handles DELETE /api/auth/user.
func (h *Handlers) DeleteUser(c echo.Context) error {
	if err := h.users.DeleteAccount(c.Request().Context(), userID(c)); err != nil {
		return err
	}
	return c.NoContent(http.StatusOK)
}

// ChangePassword handles PATCH /api/auth/user/change-password. The caller
// proves identity with a bearer token plus old password, or with a reset
// token alone.
func (h *Handlers) ChangePassword(c echo.Context) error {
	var req changePasswordRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	uid := userID(c)
	if uid == "" && req.ResetToken == "" {
		return bearerError(common.ErrMissingAuthHeader)
	}

	err := h.users.ChangePassword(c.Request().Context(), services.ChangePasswordRequest{
		UserID:      uid,
		OldPassword: req.OldPassword,
		ResetToken:  req.ResetToken,
		NewPassword: req.NewPassword,
	})
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusOK)
}

// SendVerification handles POST /api/auth/user/verify-email.
func (h *Handlers) SendVerification(c echo.Context) error {
	var req verifyEmailRequest
	if c.Request().ContentLength != 0 {
		if err := h.bind(c, &req); err != nil {
			return err
		}
	}

	if err := h.flows.SendEmailVerification(c.Request().Context(), userID(c), req.NextURL); err != nil {
		return err
	}
	return c.NoContent(http.StatusOK)
}

// VerifyEmail handles GET /api/auth/user/verify-email/:token.
func (h *Handlers) VerifyEmail(c echo.Context) error {
	next, err := h.flows.VerifyEmail(c.Request().Context(), c.Param("token"))
	if err != nil {
		return err
	}
	if next == "" {
		return c.JSON(http.StatusOK, statusResponse{Status: "OK"})
	}
	return c.Redirect(http.StatusFound, next)
}

// RequestMagicLink handles POST /api/auth/user/magic-link.
func (h *Handlers) RequestMagicLink(c echo.Context) error {
	var req magicLinkRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	if err := h.flows.RequestMagicLink(c.Request().Context(), req.Email, req.NextURL, req.SignUp); err != nil {
		return err
	}
	return c.NoContent(http.StatusOK)
}

// RedeemMagicLink handles GET /api/auth/user/magic-link/:token.
func (h *Handlers) RedeemMagicLink(c echo.Context) error {
	pair, redirect, err := h.flows.RedeemMagicLink(c.Request().Context(), c.Param("token"))
	if err != nil {
		return err
	}
	if redirect == "" {
		return c.JSON(http.StatusOK, refreshResponse{
			UID:          pair.UserID,
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
			Expiry:       pair.AccessExpiry.Unix(),
		})
	}
	return c.Redirect(http.StatusFound, redirect)
}

// ResetPassword handles POST /api/auth/user/reset-password. Unknown emails
// get the same answer as known ones.
func (h *Handlers) ResetPassword(c echo.Context) error {
	var req resetPasswordRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	err := h.flows.RequestPasswordReset(c.Request().Context(), req.Email, req.ResetURL, c.Request().UserAgent())
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusOK)
}

// AdminLogin handles POST /api/admin/login.
func (h *Handlers) AdminLogin(c echo.Context) error {
	var req credentialsRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	pair, user, err := h.users.AdminLogin(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newLoginResponse(pair, user))
}

// CreateAdmin handles POST /api/admin/create.
func (h *Handlers) CreateAdmin(c echo.Context) error {
	var req credentialsRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	admin, err := h.users.CreateAdmin(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, common.ErrEmailInUse) {
			return newAPIError(http.StatusConflict, "EMAIL_IN_USE", "Email already in use")
		}
		return err
	}
	return c.JSON(http.StatusCreated, signupResponse{UID: admin.ID})
}

// Ping handles GET /api/health/ping.
func (h *Handlers) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{Status: "OK"})
}
