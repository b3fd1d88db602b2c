package httpapi

import (
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/turbocore/internal/server/models"
	"github.com/dmitrijs2005/turbocore/internal/server/services"
)

type createUserRequest struct {
	Email         string  `json:"email"`
	Password      string  `json:"password"`
	EmailVerified bool    `json:"email_verified"`
	Login         bool    `json:"login"`
	Metadata      *string `json:"metadata"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// updateUserRequest leaves Metadata raw so that an explicit null (clear) can
// be told apart from an absent field (keep).
type updateUserRequest struct {
	Email    *string         `json:"email"`
	Metadata json.RawMessage `json:"metadata"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	ResetToken  string `json:"reset_token"`
	NewPassword string `json:"new_password"`
}

type verifyEmailRequest struct {
	NextURL string `json:"next_url"`
}

type magicLinkRequest struct {
	Email   string `json:"email"`
	NextURL string `json:"next_url"`
	SignUp  bool   `json:"sign_up"`
}

type resetPasswordRequest struct {
	Email    string `json:"email"`
	ResetURL string `json:"reset_url"`
}

type signupResponse struct {
	UID string `json:"uid"`
}

type loginResponse struct {
	UID           string  `json:"uid"`
	Token         string  `json:"token"`
	Expiry        int64   `json:"expiry"`
	RefreshToken  string  `json:"refresh_token"`
	EmailVerified bool    `json:"email_verified"`
	Metadata      *string `json:"metadata"`
}

type refreshResponse struct {
	UID          string `json:"uid"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Expiry       int64  `json:"expiry"`
}

type userResponse struct {
	UID           string     `json:"uid"`
	Email         string     `json:"email"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastLogin     *time.Time `json:"last_login"`
	Active        bool       `json:"active"`
	Metadata      *string    `json:"metadata"`
	EmailVerified bool       `json:"email_verified"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func newLoginResponse(pair *services.TokenPair, u *models.User) loginResponse {
	return loginResponse{
		UID:           u.ID,
		Token:         pair.AccessToken,
		Expiry:        pair.AccessExpiry.Unix(),
		RefreshToken:  pair.RefreshToken,
		EmailVerified: u.EmailVerified,
		Metadata:      u.Metadata,
	}
}

func newUserResponse(u *models.User) userResponse {
	return userResponse{
		UID:           u.ID,
		Email:         u.Email,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
		LastLogin:     u.LastLogin,
		Active:        u.Active,
		Metadata:      u.Metadata,
		EmailVerified: u.EmailVerified,
	}
}
