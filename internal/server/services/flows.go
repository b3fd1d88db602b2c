package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/mssola/user_agent"

	"github.com/dmitrijs2005/turbocore/internal/common"
	"github.com/dmitrijs2005/turbocore/internal/dbx"
	"github.com/dmitrijs2005/turbocore/internal/logging"
	"github.com/dmitrijs2005/turbocore/internal/server/auth"
	"github.com/dmitrijs2005/turbocore/internal/server/config"
	"github.com/dmitrijs2005/turbocore/internal/server/mailer"
	"github.com/dmitrijs2005/turbocore/internal/server/models"
	"github.com/dmitrijs2005/turbocore/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/turbocore/internal/urlx"
)

const resetNonceLength = 16

// Redirect query parameters appended to a magic link's next URL.
const (
	QueryAccessToken  = "at"
	QueryRefreshToken = "rt"
	QueryExpiry       = "exp"
)

// FlowService runs the single-use token flows: email verification, magic
// link and password reset. Verification and magic-link tokens are stateless;
// reset grants are stored hashed and deleted on use.
type FlowService struct {
	tx          dbx.Transactor
	repomanager repomanager.RepositoryManager
	sessions    *SessionService
	codec       *auth.Codec
	mailer      mailer.Mailer
	log         logging.Logger
	now         func() time.Time

	flowTokenValidityDuration time.Duration
	baseURL                   string
	redirectOrigins           map[string]struct{}
	mailFrom                  string
	mailReplyTo               string
	verificationSubject       string
	magicLinkSubject          string
	resetPasswordSubject      string
}

// NewFlowService constructs a FlowService. A nil mailer disables every flow
// with common.ErrEmailNotConfigured.
func NewFlowService(tx dbx.Transactor, m repomanager.RepositoryManager, sessions *SessionService, codec *auth.Codec,
	ml mailer.Mailer, cfg *config.Config, log logging.Logger) *FlowService {
	return &FlowService{
		tx:                        tx,
		repomanager:               m,
		sessions:                  sessions,
		codec:                     codec,
		mailer:                    ml,
		log:                       log.With("module", "flows"),
		now:                       time.Now,
		flowTokenValidityDuration: cfg.FlowTokenValidityDuration,
		baseURL:                   cfg.BaseURL,
		redirectOrigins:           redirectOrigins(cfg),
		mailFrom:                  cfg.MailFrom,
		mailReplyTo:               cfg.MailReplyTo,
		verificationSubject:       cfg.VerificationSubject,
		magicLinkSubject:          cfg.MagicLinkSubject,
		resetPasswordSubject:      cfg.ResetPasswordSubject,
	}
}

// SendEmailVerification mails a verification link to the user. nextURL, when
// set, is where the link redirects after verifying.
func (s *FlowService) SendEmailVerification(ctx context.Context, userID, nextURL string) error {
	if s.mailer == nil {
		return common.ErrEmailNotConfigured
	}
	if err := s.checkNextURL(nextURL); err != nil {
		return err
	}

	user, err := s.user(ctx, userID)
	if err != nil {
		return err
	}
	if user.EmailVerified {
		return common.ErrAlreadyVerified
	}

	token, err := s.mint(ctx, auth.TypeEmailVerification, user.ID, nextURL, "")
	if err != nil {
		return err
	}
	link, err := urlx.JoinPath(s.baseURL, "api", "auth", "user", "verify-email", token)
	if err != nil {
		s.log.Error(ctx, "build verification link", "error", err)
		return common.ErrorInternal
	}

	s.send(ctx, mailer.TemplateVerification, user.Email, s.verificationSubject, link, nil)
	return nil
}

// VerifyEmail redeems a verification token and returns its next URL, which
// may be empty.
func (s *FlowService) VerifyEmail(ctx context.Context, token string) (string, error) {
	claims, err := s.codec.VerifyFlow(token, auth.TypeEmailVerification, s.now())
	if err != nil {
		return "", flowTokenError(err)
	}

	changed, err := s.repomanager.Users(s.tx.Conn()).SetEmailVerified(ctx, claims.UserID)
	if err != nil {
		s.log.Error(ctx, "set email verified", "user_id", claims.UserID, "error", err)
		return "", common.ErrorInternal
	}
	if !changed {
		if _, err := s.user(ctx, claims.UserID); err != nil {
			return "", err
		}
		return "", common.ErrAlreadyVerified
	}

	s.log.Info(ctx, "email verified", "user_id", claims.UserID)
	return claims.Next, nil
}

// RequestMagicLink mails a sign-in link. With signUp a passwordless account
// is created for an unknown email and an existing one is
// common.ErrUserAlreadyExists; without it an unknown email is
// common.ErrUserDoesNotExist.
func (s *FlowService) RequestMagicLink(ctx context.Context, email, nextURL string, signUp bool) error {
	if s.mailer == nil {
		return common.ErrEmailNotConfigured
	}
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	if err := s.checkNextURL(nextURL); err != nil {
		return err
	}

	repo := s.repomanager.Users(s.tx.Conn())
	user, err := repo.GetByEmail(ctx, email)
	switch {
	case err == nil && signUp:
		return common.ErrUserAlreadyExists
	case errors.Is(err, common.ErrorNotFound) && !signUp:
		return common.ErrUserDoesNotExist
	case errors.Is(err, common.ErrorNotFound):
		user, err = repo.Create(ctx, &models.User{
			Email:        email,
			PasswordHash: models.PasswordlessHash,
			Active:       true,
		})
		if errors.Is(err, common.ErrorAlreadyExists) {
			return common.ErrUserAlreadyExists
		}
		if err != nil {
			s.log.Error(ctx, "create passwordless user", "error", err)
			return common.ErrorInternal
		}
		s.log.Info(ctx, "passwordless user created", "user_id", user.ID)
	case err != nil:
		s.log.Error(ctx, "get user by email", "error", err)
		return common.ErrorInternal
	}

	token, err := s.mint(ctx, auth.TypeMagicLink, user.ID, nextURL, "")
	if err != nil {
		return err
	}
	link, err := urlx.JoinPath(s.baseURL, "api", "auth", "user", "magic-link", token)
	if err != nil {
		s.log.Error(ctx, "build magic link", "error", err)
		return common.ErrorInternal
	}

	s.send(ctx, mailer.TemplateMagicLink, user.Email, s.magicLinkSubject, link, nil)
	return nil
}

// RedeemMagicLink signs the user in. The returned redirect is the token's
// next URL carrying the new pair as query parameters, or empty when the
// link had no next URL.
func (s *FlowService) RedeemMagicLink(ctx context.Context, token string) (*TokenPair, string, error) {
	claims, err := s.codec.VerifyFlow(token, auth.TypeMagicLink, s.now())
	if err != nil {
		return nil, "", flowTokenError(err)
	}

	user, err := s.user(ctx, claims.UserID)
	if err != nil {
		return nil, "", err
	}
	if !user.Active {
		return nil, "", common.ErrUserDisabled
	}

	// Following the link proves the mailbox is reachable.
	if _, err := s.repomanager.Users(s.tx.Conn()).SetEmailVerified(ctx, user.ID); err != nil {
		s.log.Warn(ctx, "set email verified", "user_id", user.ID, "error", err)
	}

	pair, err := s.sessions.Issue(ctx, user.ID)
	if err != nil {
		return nil, "", err
	}
	if claims.Next == "" {
		return pair, "", nil
	}

	redirect, err := urlx.WithQuery(claims.Next,
		urlx.Param{Key: QueryAccessToken, Value: pair.AccessToken},
		urlx.Param{Key: QueryRefreshToken, Value: pair.RefreshToken},
		urlx.Param{Key: QueryExpiry, Value: strconv.FormatInt(pair.AccessExpiry.Unix(), 10)},
	)
	if err != nil {
		s.log.Error(ctx, "build magic link redirect", "error", err)
		return nil, "", common.ErrorInternal
	}
	return pair, redirect, nil
}

// RequestPasswordReset stores a reset grant and mails its link. Unknown
// emails succeed silently. resetURL is the client page that receives the
// token as the "token" query parameter; it defaults to BaseURL/reset-password.
func (s *FlowService) RequestPasswordReset(ctx context.Context, email, resetURL, userAgent string) error {
	if s.mailer == nil {
		return common.ErrEmailNotConfigured
	}
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	if resetURL == "" {
		if resetURL, err = urlx.JoinPath(s.baseURL, "reset-password"); err != nil {
			s.log.Error(ctx, "build reset url", "error", err)
			return common.ErrorInternal
		}
	} else if err := s.checkNextURL(resetURL); err != nil {
		return err
	}

	user, err := s.repomanager.Users(s.tx.Conn()).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.log.Debug(ctx, "password reset for unknown email")
			return nil
		}
		s.log.Error(ctx, "get user by email", "error", err)
		return common.ErrorInternal
	}

	nonce, err := common.RandAlphanumeric(resetNonceLength)
	if err != nil {
		s.log.Error(ctx, "generate reset nonce", "error", err)
		return common.ErrorInternal
	}
	token, err := s.mint(ctx, auth.TypePasswordReset, user.ID, "", nonce)
	if err != nil {
		return err
	}

	grant := &models.PasswordReset{
		TokenHash: hashResetToken(token),
		UserID:    user.ID,
		Expires:   time.Unix(s.now().Add(s.flowTokenValidityDuration).Unix(), 0).UTC(),
	}
	if err := s.repomanager.PasswordResets(s.tx.Conn()).Create(ctx, grant); err != nil {
		s.log.Error(ctx, "store password reset", "user_id", user.ID, "error", err)
		return common.ErrorInternal
	}

	link, err := urlx.WithQuery(resetURL, urlx.Param{Key: "token", Value: token})
	if err != nil {
		s.log.Error(ctx, "build reset link", "error", err)
		return common.ErrorInternal
	}

	s.send(ctx, mailer.TemplateForgotPassword, user.Email, s.resetPasswordSubject, link, deviceContext(userAgent))
	return nil
}

func (s *FlowService) user(ctx context.Context, userID string) (*models.User, error) {
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

func (s *FlowService) mint(ctx context.Context, typ auth.TokenType, userID, next, nonce string) (string, error) {
	token, err := s.codec.Sign(&auth.FlowClaims{
		Type:      typ,
		UserID:    userID,
		ExpiresAt: s.now().Add(s.flowTokenValidityDuration),
		Next:      next,
		Nonce:     nonce,
	})
	if err != nil {
		s.log.Error(ctx, "sign flow token", "type", typ, "error", err)
		return "", common.ErrorInternal
	}
	return token, nil
}

// send hands msg to the mailer. Failures are logged and not retried.
func (s *FlowService) send(ctx context.Context, template, to, subject, link string, extra map[string]string) {
	msg := mailer.Message{
		Template:  template,
		To:        to,
		From:      s.mailFrom,
		ReplyTo:   s.mailReplyTo,
		Subject:   subject,
		ActionURL: link,
		Context:   extra,
		QueuedAt:  s.now().UTC(),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.log.Error(ctx, "send mail", "template", template, "error", err)
	}
}

// deviceContext describes the requesting client for the reset email.
func deviceContext(userAgent string) map[string]string {
	if userAgent == "" {
		return map[string]string{"os": "unknown", "device": "unknown"}
	}
	ua := user_agent.New(userAgent)

	device := "desktop"
	switch {
	case ua.Bot():
		device = "bot"
	case ua.Mobile():
		device = "mobile"
	}
	browser, _ := ua.Browser()

	ctx := map[string]string{"os": ua.OS(), "device": device, "browser": browser}
	if ctx["os"] == "" {
		ctx["os"] = "unknown"
	}
	return ctx
}

// checkNextURL accepts an empty URL or an absolute one whose origin is
// BaseURL's or a configured redirect origin.
func (s *FlowService) checkNextURL(next string) error {
	if next == "" {
		return nil
	}
	origin, err := urlx.Origin(next)
	if err != nil {
		return common.ErrInvalidURL
	}
	if _, ok := s.redirectOrigins[origin]; !ok {
		return common.ErrInvalidURL
	}
	return nil
}

func redirectOrigins(cfg *config.Config) map[string]struct{} {
	out := make(map[string]struct{}, len(cfg.RedirectOrigins)+1)
	for _, raw := range append([]string{cfg.BaseURL}, cfg.RedirectOrigins...) {
		if o, err := urlx.Origin(raw); err == nil {
			out[o] = struct{}{}
		}
	}
	return out
}

// hashResetToken is the storage key of a reset grant; the token itself is
// never stored.
func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// flowTokenError maps codec errors to the flow taxonomy.
func flowTokenError(err error) error {
	if errors.Is(err, common.ErrTokenExpired) {
		return common.ErrTokenExpired
	}
	return common.ErrInvalidToken
}
