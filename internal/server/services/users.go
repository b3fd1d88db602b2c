package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/turbocore/internal/common"
	"github.com/dmitrijs2005/turbocore/internal/dbx"
	"github.com/dmitrijs2005/turbocore/internal/logging"
	"github.com/dmitrijs2005/turbocore/internal/server/auth"
	"github.com/dmitrijs2005/turbocore/internal/server/models"
	"github.com/dmitrijs2005/turbocore/internal/server/passwords"
	"github.com/dmitrijs2005/turbocore/internal/server/repositories/repomanager"
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// NormalizeEmail trims and lowercases an address and checks its shape.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if len(email) > 254 || !emailRe.MatchString(email) {
		return "", common.ErrInvalidEmail
	}
	return email, nil
}

// SignupRequest carries the fields of an account creation.
type SignupRequest struct {
	Email         string
	Password      string
	EmailVerified bool
	Metadata      *string
	// Login also issues a token pair in the same transaction.
	Login bool
}

// SignupResult is the created user and, when requested, its first session.
type SignupResult struct {
	User   *models.User
	Tokens *TokenPair
}

// ProfileUpdate changes the email and/or metadata of a user. A nil field is
// left untouched; ClearMetadata unsets metadata.
type ProfileUpdate struct {
	Email         *string
	Metadata      *string
	ClearMetadata bool
}

// ChangePasswordRequest authorizes a password change either with the old
// password (UserID must be set) or with a password-reset token.
type ChangePasswordRequest struct {
	UserID      string
	OldPassword string
	ResetToken  string
	NewPassword string
}

// UserService provides account operations: signup, login, profile
// management and password changes.
type UserService struct {
	tx          dbx.Transactor
	repomanager repomanager.RepositoryManager
	sessions    *SessionService
	codec       *auth.Codec
	hasher      *passwords.Hasher
	strength    *passwords.StrengthChecker
	log         logging.Logger
	now         func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewUserService constructs a UserService.
func NewUserService(tx dbx.Transactor, m repomanager.RepositoryManager, sessions *SessionService, codec *auth.Codec,
	hasher *passwords.Hasher, strength *passwords.StrengthChecker, log logging.Logger) *UserService {
	return &UserService{
		tx:          tx,
		repomanager: m,
		sessions:    sessions,
		codec:       codec,
		hasher:      hasher,
		strength:    strength,
		log:         log.With("module", "users"),
		now:         time.Now,
	}
}

// Signup creates an active user. A taken email is common.ErrEmailInUse and
// never creates a second row.
func (s *UserService) Signup(ctx context.Context, req SignupRequest) (*SignupResult, error) {
	email, err := NormalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	hash, err := s.newPasswordHash(ctx, req.Password, email)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:         email,
		PasswordHash:  hash,
		Active:        true,
		EmailVerified: req.EmailVerified,
		Metadata:      req.Metadata,
	}

	var res SignupResult
	err = s.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		created, err := s.repomanager.Users(tx).Create(ctx, user)
		if err != nil {
			return err
		}
		res.User = created
		if !req.Login {
			return nil
		}
		res.Tokens, err = s.sessions.IssuePair(ctx, tx, created.ID)
		return err
	})
	switch {
	case errors.Is(err, common.ErrorAlreadyExists):
		return nil, common.ErrEmailInUse
	case errors.Is(err, common.ErrorInternal):
		return nil, err
	case err != nil:
		s.log.Error(ctx, "create user", "error", err)
		return nil, common.ErrorInternal
	}

	s.log.Info(ctx, "user created", "user_id", res.User.ID)
	return &res, nil
}

// CreateAdmin creates an active, verified admin account.
func (s *UserService) CreateAdmin(ctx context.Context, email, password string) (*models.User, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	hash, err := s.newPasswordHash(ctx, password, email)
	if err != nil {
		return nil, err
	}

	admin, err := s.repomanager.Users(s.tx.Conn()).Create(ctx, &models.User{
		Email:         email,
		PasswordHash:  hash,
		Active:        true,
		EmailVerified: true,
		IsAdmin:       true,
	})
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, common.ErrEmailInUse
		}
		s.log.Error(ctx, "create admin", "error", err)
		return nil, common.ErrorInternal
	}

	s.log.Info(ctx, "admin created", "user_id", admin.ID)
	return admin, nil
}

// Login verifies credentials and issues a new session. Unknown emails and
// wrong passwords are both common.ErrorUnauthorized.
func (s *UserService) Login(ctx context.Context, email, password string) (*TokenPair, *models.User, error) {
	return s.login(ctx, email, password, false)
}

// AdminLogin is Login restricted to admin accounts.
func (s *UserService) AdminLogin(ctx context.Context, email, password string) (*TokenPair, *models.User, error) {
	return s.login(ctx, email, password, true)
}

func (s *UserService) login(ctx context.Context, email, password string, adminOnly bool) (*TokenPair, *models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	repo := s.repomanager.Users(s.tx.Conn())
	user, err := repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.burnVerify(password)
			return nil, nil, common.ErrorUnauthorized
		}
		s.log.Error(ctx, "get user by email", "error", err)
		return nil, nil, common.ErrorInternal
	}

	if !user.HasPassword() {
		s.burnVerify(password)
		return nil, nil, common.ErrorUnauthorized
	}

	ok, err := s.hasher.Verify(user.PasswordHash, password)
	if err != nil {
		s.log.Error(ctx, "verify password", "user_id", user.ID, "error", err)
		return nil, nil, common.ErrorInternal
	}
	if !ok || (adminOnly && !user.IsAdmin) {
		return nil, nil, common.ErrorUnauthorized
	}
	if !user.Active {
		return nil, nil, common.ErrUserDisabled
	}

	now := s.now()
	if err := repo.TouchLastLogin(ctx, user.ID, now); err != nil {
		s.log.Warn(ctx, "stamp last login", "user_id", user.ID, "error", err)
	} else {
		t := now.UTC()
		user.LastLogin = &t
	}

	pair, err := s.sessions.Issue(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return pair, user, nil
}

// RequireAdmin returns nil when userID is an active admin.
func (s *UserService) RequireAdmin(ctx context.Context, userID string) error {
	user, err := s.Profile(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorUnauthorized
		}
		return err
	}
	if !user.Active || !user.IsAdmin {
		return common.ErrForbidden
	}
	return nil
}

// Profile returns the user with the given id.
func (s *UserService) Profile(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.repomanager.Users(s.tx.Conn()).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		s.log.Error(ctx, "get user", "user_id", userID, "error", err)
		return nil, common.ErrorInternal
	}
	return user, nil
}

// UpdateProfile applies upd and returns the stored user.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*models.User, error) {
	user, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if upd.Email != nil {
		email, err := NormalizeEmail(*upd.Email)
		if err != nil {
			return nil, err
		}
		user.Email = email
	}
	switch {
	case upd.ClearMetadata:
		user.Metadata = nil
	case upd.Metadata != nil:
		user.Metadata = upd.Metadata
	}

	if err := s.repomanager.Users(s.tx.Conn()).Update(ctx, user); err != nil {
		switch {
		case errors.Is(err, common.ErrorAlreadyExists):
			return nil, common.ErrEmailInUse
		case errors.Is(err, common.ErrorNotFound):
			return nil, common.ErrorNotFound
		}
		s.log.Error(ctx, "update user", "user_id", userID, "error", err)
		return nil, common.ErrorInternal
	}
	return user, nil
}

// DeleteAccount removes the user together with its sessions and reset grants.
func (s *UserService) DeleteAccount(ctx context.Context, userID string) error {
	err := s.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.repomanager.RefreshTokens(tx).DeleteByUser(ctx, userID); err != nil {
			return err
		}
		if err := s.repomanager.PasswordResets(tx).DeleteByUser(ctx, userID); err != nil {
			return err
		}
		return s.repomanager.Users(tx).Delete(ctx, userID)
	})
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorNotFound
		}
		s.log.Error(ctx, "delete user", "user_id", userID, "error", err)
		return common.ErrorInternal
	}
	s.log.Info(ctx, "user deleted", "user_id", userID)
	return nil
}

// Logout revokes refreshToken if userID owns it, or every session of userID
// when it is empty.
func (s *UserService) Logout(ctx context.Context, userID, refreshToken string) error {
	if refreshToken != "" {
		return s.sessions.RevokeOne(ctx, userID, refreshToken)
	}
	_, err := s.sessions.RevokeAll(ctx, userID)
	return err
}

// ChangePassword sets a new password. With a reset token the old password
// is not checked, the grant is consumed and every session is revoked. A
// reset token can be used once.
func (s *UserService) ChangePassword(ctx context.Context, req ChangePasswordRequest) error {
	if req.ResetToken != "" {
		return s.changePasswordWithReset(ctx, req)
	}
	if req.UserID == "" {
		return common.ErrorUnauthorized
	}

	user, err := s.Profile(ctx, req.UserID)
	if err != nil {
		return err
	}
	if !user.HasPassword() {
		return common.ErrInvalidPassword
	}
	ok, err := s.hasher.Verify(user.PasswordHash, req.OldPassword)
	if err != nil {
		s.log.Error(ctx, "verify password", "user_id", user.ID, "error", err)
		return common.ErrorInternal
	}
	if !ok {
		return common.ErrInvalidPassword
	}

	hash, err := s.newPasswordHash(ctx, req.NewPassword, user.Email)
	if err != nil {
		return err
	}
	if err := s.repomanager.Users(s.tx.Conn()).UpdatePassword(ctx, user.ID, hash); err != nil {
		s.log.Error(ctx, "update password", "user_id", user.ID, "error", err)
		return common.ErrorInternal
	}
	return nil
}

func (s *UserService) changePasswordWithReset(ctx context.Context, req ChangePasswordRequest) error {
	claims, err := s.codec.VerifyFlow(req.ResetToken, auth.TypePasswordReset, s.now())
	if err != nil {
		return flowTokenError(err)
	}
	if req.UserID != "" && req.UserID != claims.UserID {
		return common.ErrInvalidToken
	}

	user, err := s.Profile(ctx, claims.UserID)
	if err != nil {
		return err
	}
	hash, err := s.newPasswordHash(ctx, req.NewPassword, user.Email)
	if err != nil {
		return err
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		grant, err := s.repomanager.PasswordResets(tx).Consume(ctx, hashResetToken(req.ResetToken))
		if err != nil {
			return err
		}
		if grant.UserID != claims.UserID {
			return common.ErrInvalidToken
		}
		if err := s.repomanager.Users(tx).UpdatePassword(ctx, claims.UserID, hash); err != nil {
			return err
		}
		_, err = s.repomanager.RefreshTokens(tx).DeleteByUser(ctx, claims.UserID)
		return err
	})
	switch {
	case err == nil:
		s.log.Info(ctx, "password reset", "user_id", claims.UserID)
		return nil
	case errors.Is(err, common.ErrorNotFound), errors.Is(err, common.ErrInvalidToken):
		return common.ErrInvalidToken
	default:
		s.log.Error(ctx, "reset password", "user_id", claims.UserID, "error", err)
		return common.ErrorInternal
	}
}

// newPasswordHash enforces the strength policy and hashes password.
func (s *UserService) newPasswordHash(ctx context.Context, password, email string) (string, error) {
	if !s.strength.Strong(password, email) {
		return "", common.ErrWeakPassword
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.log.Error(ctx, "hash password", "error", err)
		return "", common.ErrorInternal
	}
	return hash, nil
}

// burnVerify spends one hash verification so unknown accounts answer in
// about the same time as wrong passwords.
func (s *UserService) burnVerify(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("turbocore-dummy-password")
	})
	if s.dummyHash != "" {
		_, _ = s.hasher.Verify(s.dummyHash, password)
	}
}
