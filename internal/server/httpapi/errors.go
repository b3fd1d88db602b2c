package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dmitrijs2005/turbocore/internal/common"
	"github.com/dmitrijs2005/turbocore/internal/logging"
)

// APIError is the JSON body of every failed request.
type APIError struct {
	Status    int    `json:"-"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code"`
}

func (e *APIError) Error() string { return e.ErrorCode + ": " + e.Message }

func newAPIError(status int, code, message string) *APIError {
	return &APIError{Status: status, ErrorCode: code, Message: message}
}

var errInternal = newAPIError(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error")

// errorTable translates service sentinels. Order matters only for errors
// that wrap more than one sentinel.
var errorTable = []struct {
	err error
	api *APIError
}{
	{common.ErrorUnauthorized, newAPIError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Email or password invalid")},
	{common.ErrUserDisabled, newAPIError(http.StatusForbidden, "USER_DISABLED", "User is disabled")},
	{common.ErrForbidden, newAPIError(http.StatusForbidden, "FORBIDDEN", "Insufficient rights")},
	{common.ErrorNotFound, newAPIError(http.StatusNotFound, "USER_NOT_FOUND", "User not found")},

	{common.ErrInvalidEmail, newAPIError(http.StatusBadRequest, "INVALID_EMAIL", "Invalid email")},
	{common.ErrInvalidPassword, newAPIError(http.StatusBadRequest, "INVALID_PASSWORD", "Invalid password")},
	{common.ErrWeakPassword, newAPIError(http.StatusBadRequest, "WEAK_PASSWORD", "Password is too weak")},
	{common.ErrEmailInUse, newAPIError(http.StatusConflict, "EMAIL_ALREADY_IN_USE", "Email already in use")},
	{common.ErrInvalidURL, newAPIError(http.StatusBadRequest, "INVALID_URL", "URL must be absolute and on an allowed origin")},

	{common.ErrMissingAuthHeader, newAPIError(http.StatusUnauthorized, "NOT_AUTHENTICATED", "Not authenticated")},
	{common.ErrBadAuthHeader, newAPIError(http.StatusBadRequest, "BAD_HEADER", "Malformed authorization header")},

	{common.ErrInvalidRefreshToken, newAPIError(http.StatusUnauthorized, "INVALID_JWT", "Invalid refresh token")},
	{common.ErrRefreshTokenExpired, newAPIError(http.StatusUnauthorized, "EXPIRED_JWT", "Refresh token expired")},
	{common.ErrRefreshTokenReused, newAPIError(http.StatusUnauthorized, "EXPIRED_JWT", "Refresh token expired")},

	{common.ErrInvalidToken, newAPIError(http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token")},
	{common.ErrWrongTokenType, newAPIError(http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token")},
	{common.ErrTokenExpired, newAPIError(http.StatusUnauthorized, "EXPIRED_TOKEN", "Token expired")},

	{common.ErrAlreadyVerified, newAPIError(http.StatusBadRequest, "ALREADY_VERIFIED", "Email already verified")},
	{common.ErrEmailNotConfigured, newAPIError(http.StatusBadRequest, "EMAIL_NOT_CONFIGURED", "Email is not configured")},
	{common.ErrUserAlreadyExists, newAPIError(http.StatusBadRequest, "USER_ALREADY_EXISTS", "User already exists")},
	{common.ErrUserDoesNotExist, newAPIError(http.StatusBadRequest, "USER_DOES_NOT_EXIST", "User does not exist")},

	{common.ErrorInternal, errInternal},
}

// toAPIError maps err to its response. Unknown errors are internal.
func toAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	for _, row := range errorTable {
		if errors.Is(err, row.err) {
			return row.api
		}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		switch he.Code {
		case http.StatusNotFound:
			return newAPIError(he.Code, "NOT_FOUND", "Not found")
		case http.StatusMethodNotAllowed:
			return newAPIError(he.Code, "METHOD_NOT_ALLOWED", "Method not allowed")
		case http.StatusRequestEntityTooLarge:
			return newAPIError(he.Code, "BAD_REQUEST", "Request body too large")
		}
		if he.Code < http.StatusInternalServerError {
			return newAPIError(http.StatusBadRequest, "BAD_REQUEST", "Malformed request")
		}
	}
	return errInternal
}

// bearerError maps a failed bearer check. Token problems of any kind are
// BAD_TOKEN so the gate does not reveal why a token was refused.
func bearerError(err error) *APIError {
	switch {
	case errors.Is(err, common.ErrMissingAuthHeader), errors.Is(err, common.ErrBadAuthHeader),
		errors.Is(err, common.ErrForbidden):
		return toAPIError(err)
	case errors.Is(err, common.ErrorInternal):
		return errInternal
	}
	return newAPIError(http.StatusUnauthorized, "BAD_TOKEN", "Invalid or expired access token")
}

// errorHandler renders every error as {"message", "error_code"}.
func errorHandler(log logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		apiErr := toAPIError(err)
		if apiErr.Status >= http.StatusInternalServerError {
			logging.FromContext(c.Request().Context(), log).Error(c.Request().Context(), "request failed", "error", err)
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(apiErr.Status)
		} else {
			werr = c.JSON(apiErr.Status, apiErr)
		}
		if werr != nil {
			log.Error(c.Request().Context(), "write error response", "error", werr)
		}
	}
}
