// Package services contains server-side business logic. This file implements
// SessionService, which mints access/refresh token pairs and runs the
// refresh-token state machine: issued, used, expired or revoked.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/turbocore/internal/common"
	"github.com/dmitrijs2005/turbocore/internal/dbx"
	"github.com/dmitrijs2005/turbocore/internal/logging"
	"github.com/dmitrijs2005/turbocore/internal/server/auth"
	"github.com/dmitrijs2005/turbocore/internal/server/config"
	"github.com/dmitrijs2005/turbocore/internal/server/repositories/repomanager"
)

// refreshNonceLength is the length of the rand claim that keeps two refresh
// tokens minted for one user in the same second distinct.
const refreshNonceLength = 5

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	// AccessExpiry is the exp claim of AccessToken.
	AccessExpiry time.Time
}

// SessionService issues, rotates and revokes sessions.
type SessionService struct {
	tx                           dbx.Transactor
	repomanager                  repomanager.RepositoryManager
	codec                        *auth.Codec
	log                          logging.Logger
	accessTokenValidityDuration  time.Duration
	clockSkew                    time.Duration
	refreshTokenValidityDuration time.Duration
	pruneRetention               time.Duration
	now                          func() time.Time
}

// NewSessionService constructs a SessionService using repositories and server config.
func NewSessionService(tx dbx.Transactor, m repomanager.RepositoryManager, codec *auth.Codec, cfg *config.Config, log logging.Logger) *SessionService {
	return &SessionService{
		tx:                           tx,
		repomanager:                  m,
		codec:                        codec,
		log:                          log.With("module", "sessions"),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		clockSkew:                    cfg.ClockSkew,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
		pruneRetention:               cfg.PruneRetention,
		now:                          time.Now,
	}
}

// Issue mints a pair for userID outside of any caller transaction.
func (s *SessionService) Issue(ctx context.Context, userID string) (*TokenPair, error) {
	return s.IssuePair(ctx, s.tx.Conn(), userID)
}

// IssuePair mints an access/refresh pair and stores the refresh row through
// db. No pair is returned unless the row was written.
func (s *SessionService) IssuePair(ctx context.Context, db dbx.DBTX, userID string) (*TokenPair, error) {
	now := s.now()

	accessExpiry := now.Add(s.accessTokenValidityDuration + s.clockSkew)
	access, err := s.codec.Sign(&auth.AccessClaims{UserID: userID, ExpiresAt: accessExpiry})
	if err != nil {
		s.log.Error(ctx, "sign access token", "error", err)
		return nil, common.ErrorInternal
	}

	nonce, err := common.RandAlphanumeric(refreshNonceLength)
	if err != nil {
		s.log.Error(ctx, "generate refresh nonce", "error", err)
		return nil, common.ErrorInternal
	}

	// The stored expiry is the one encoded in the token, truncated to seconds.
	refreshExpiry := time.Unix(now.Add(s.refreshTokenValidityDuration).Unix(), 0).UTC()
	refresh, err := s.codec.Sign(&auth.RefreshClaims{UserID: userID, ExpiresAt: refreshExpiry, Nonce: nonce})
	if err != nil {
		s.log.Error(ctx, "sign refresh token", "error", err)
		return nil, common.ErrorInternal
	}

	if err := s.repomanager.RefreshTokens(db).Create(ctx, userID, refresh, refreshExpiry); err != nil {
		s.log.Error(ctx, "store refresh token", "user_id", userID, "error", err)
		return nil, common.ErrorInternal
	}

	return &TokenPair{
		UserID:       userID,
		AccessToken:  access,
		RefreshToken: refresh,
		AccessExpiry: time.Unix(accessExpiry.Unix(), 0).UTC(),
	}, nil
}

type redeemOutcome int

const (
	redeemRotated redeemOutcome = iota
	redeemReused
	redeemExpired
	redeemDisabled
)

// Redeem exchanges a refresh token for a new pair.
//
// An expired token is rejected without touching storage. A token that is
// unknown, already used or loses a concurrent redemption revokes every
// refresh token of its subject and yields common.ErrRefreshTokenReused.
// The row is marked used before the new pair is issued. A disabled user
// loses every session and gets common.ErrUserDisabled.
func (s *SessionService) Redeem(ctx context.Context, refreshToken string) (*TokenPair, error) {
	now := s.now()

	claims, err := s.codec.VerifyRefresh(refreshToken, now)
	switch {
	case errors.Is(err, common.ErrTokenExpired):
		return nil, common.ErrRefreshTokenExpired
	case err != nil:
		return nil, common.ErrInvalidRefreshToken
	}

	var (
		pair    *TokenPair
		outcome redeemOutcome
	)

	err = s.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.RefreshTokens(tx)

		rec, err := repo.Find(ctx, refreshToken)
		if errors.Is(err, common.ErrorNotFound) {
			outcome = redeemReused
			return s.revokeFamily(ctx, tx, claims.UserID, "unknown refresh token")
		}
		if err != nil {
			return fmt.Errorf("find refresh token: %w", err)
		}

		if rec.Used {
			outcome = redeemReused
			return s.revokeFamily(ctx, tx, rec.UserID, "refresh token reuse")
		}
		if rec.Expired(now) {
			outcome = redeemExpired
			return nil
		}

		won, err := repo.MarkUsed(ctx, refreshToken)
		if err != nil {
			return fmt.Errorf("mark refresh token used: %w", err)
		}
		if !won {
			outcome = redeemReused
			return s.revokeFamily(ctx, tx, rec.UserID, "concurrent refresh token redemption")
		}

		user, err := s.repomanager.Users(tx).GetByID(ctx, rec.UserID)
		if errors.Is(err, common.ErrorNotFound) {
			outcome = redeemReused
			return s.revokeFamily(ctx, tx, rec.UserID, "refresh token of missing user")
		}
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		if !user.Active {
			outcome = redeemDisabled
			return s.revokeFamily(ctx, tx, rec.UserID, "user disabled")
		}

		pair, err = s.IssuePair(ctx, tx, rec.UserID)
		return err
	})
	if err != nil {
		if !errors.Is(err, common.ErrorInternal) {
			s.log.Error(ctx, "redeem refresh token", "error", err)
		}
		return nil, common.ErrorInternal
	}

	switch outcome {
	case redeemReused:
		return nil, common.ErrRefreshTokenReused
	case redeemExpired:
		return nil, common.ErrRefreshTokenExpired
	case redeemDisabled:
		return nil, common.ErrUserDisabled
	}
	return pair, nil
}

func (s *SessionService) revokeFamily(ctx context.Context, db dbx.DBTX, userID, reason string) error {
	n, err := s.repomanager.RefreshTokens(db).DeleteByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	s.log.Warn(ctx, "session family revoked", "reason", reason, "user_id", userID, "revoked", n)
	return nil
}

// RevokeOne deletes refreshToken if userID owns it. Unknown tokens and
// tokens of other users are ignored.
func (s *SessionService) RevokeOne(ctx context.Context, userID, refreshToken string) error {
	if err := s.repomanager.RefreshTokens(s.tx.Conn()).Delete(ctx, userID, refreshToken); err != nil {
		s.log.Error(ctx, "delete refresh token", "user_id", userID, "error", err)
		return common.ErrorInternal
	}
	return nil
}

// RevokeAll deletes every refresh token of userID.
func (s *SessionService) RevokeAll(ctx context.Context, userID string) (int64, error) {
	n, err := s.repomanager.RefreshTokens(s.tx.Conn()).DeleteByUser(ctx, userID)
	if err != nil {
		s.log.Error(ctx, "delete refresh tokens", "user_id", userID, "error", err)
		return 0, common.ErrorInternal
	}
	return n, nil
}

// PruneResult counts rows removed by one sweep.
type PruneResult struct {
	RefreshTokens  int64
	PasswordResets int64
}

// Prune removes refresh rows that expired more than the retention window ago
// and password-reset grants that have expired.
func (s *SessionService) Prune(ctx context.Context) (PruneResult, error) {
	var res PruneResult
	now := s.now()
	db := s.tx.Conn()

	n, err := s.repomanager.RefreshTokens(db).DeleteExpiredBefore(ctx, now.Add(-s.pruneRetention))
	if err != nil {
		return res, fmt.Errorf("prune refresh tokens: %w", err)
	}
	res.RefreshTokens = n

	n, err = s.repomanager.PasswordResets(db).DeleteExpiredBefore(ctx, now)
	if err != nil {
		return res, fmt.Errorf("prune password resets: %w", err)
	}
	res.PasswordResets = n

	return res, nil
}
