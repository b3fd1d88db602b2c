package services

import (
	"context"
	"net/url"
	"path"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/turbocore/internal/common"
	"github.com/dmitrijs2005/turbocore/internal/logging"
	"github.com/dmitrijs2005/turbocore/internal/server/auth"
	"github.com/dmitrijs2005/turbocore/internal/server/mailer"
)

// lastPathToken returns the final, unescaped path segment of the last mail's link.
func lastPathToken(t *testing.T, env *testEnv) string {
	t.Helper()
	u, err := url.Parse(env.mail.last(t).ActionURL)
	require.NoError(t, err)
	return path.Base(u.Path)
}

func TestFlows_DisabledWithoutMailer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uid := env.signup(t, "a@example.com", false).User.ID

	flows := NewFlowService(env.store, env.store, env.sessions, env.codec, nil, env.cfg, logging.Nop())

	assert.ErrorIs(t, flows.SendEmailVerification(ctx, uid, ""), common.ErrEmailNotConfigured)
	assert.ErrorIs(t, flows.RequestMagicLink(ctx, "a@example.com", "", false), common.ErrEmailNotConfigured)
	assert.ErrorIs(t, flows.RequestPasswordReset(ctx, "a@example.com", "", ""), common.ErrEmailNotConfigured)
}

func TestEmailVerification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uid := env.signup(t, "a@example.com", false).User.ID

	require.NoError(t, env.flows.SendEmailVerification(ctx, uid, "https://app.example.com/welcome"))

	msg := env.mail.last(t)
	assert.Equal(t, mailer.TemplateVerification, msg.Template)
	assert.Equal(t, "a@example.com", msg.To)
	assert.Equal(t, "noreply@example.com", msg.From)
	assert.Contains(t, msg.ActionURL, "https://auth.example.com/api/auth/user/verify-email/")

	tok := lastPathToken(t, env)
	claims, err := env.codec.VerifyFlow(tok, auth.TypeEmailVerification, env.now())
	require.NoError(t, err)
	assert.Equal(t, uid, claims.UserID)

	next, err := env.flows.VerifyEmail(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com/welcome", next)

	u, err := env.users.Profile(ctx, uid)
	require.NoError(t, err)
	assert.True(t, u.EmailVerified)

	_, err = env.flows.VerifyEmail(ctx, tok)
	assert.ErrorIs(t, err, common.ErrAlreadyVerified)
	assert.ErrorIs(t, env.flows.SendEmailVerification(ctx, uid, ""), common.ErrAlreadyVerified)
}

func TestEmailVerification_Rejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uid := env.signup(t, "a@example.com", false).User.ID

	assert.ErrorIs(t, env.flows.SendEmailVerification(ctx, uid, "not a url"), common.ErrInvalidURL)
	assert.ErrorIs(t, env.flows.SendEmailVerification(ctx, "ghost", ""), common.ErrorNotFound)

	require.NoError(t, env.flows.SendEmailVerification(ctx, uid, ""))
	tok := lastPathToken(t, env)

	env.advance(15*time.Minute + 2*time.Second)
	_, err := env.flows.VerifyEmail(ctx, tok)
	assert.ErrorIs(t, err, common.ErrTokenExpired)

	magic, err := env.codec.Sign(&auth.FlowClaims{Type: auth.TypeMagicLink, UserID: uid, ExpiresAt: env.now().Add(time.Minute)})
	require.NoError(t, err)
	_, err = env.flows.VerifyEmail(ctx, magic)
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	_, err = env.flows.VerifyEmail(ctx, "junk")
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	ghost, err := env.codec.Sign(&auth.FlowClaims{Type: auth.TypeEmailVerification, UserID: "ghost", ExpiresAt: env.now().Add(time.Minute)})
	require.NoError(t, err)
	_, err = env.flows.VerifyEmail(ctx, ghost)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestMagicLink_SignUpAndRedeem(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.flows.RequestMagicLink(ctx, "New@Example.com", "https://app.example.com/cb?state=1", true))
	assert.Equal(t, 1, env.store.UserCount())

	msg := env.mail.last(t)
	assert.Equal(t, mailer.TemplateMagicLink, msg.Template)
	assert.Equal(t, "new@example.com", msg.To)

	pair, redirect, err := env.flows.RedeemMagicLink(ctx, lastPathToken(t, env))
	require.NoError(t, err)

	u, err := url.Parse(redirect)
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", u.Host)
	assert.Equal(t, "/cb", u.Path)
	q := u.Query()
	assert.Equal(t, "1", q.Get("state"))
	assert.Equal(t, pair.AccessToken, q.Get(QueryAccessToken))
	assert.Equal(t, pair.RefreshToken, q.Get(QueryRefreshToken))
	assert.Equal(t, strconv.FormatInt(pair.AccessExpiry.Unix(), 10), q.Get(QueryExpiry))

	user, err := env.users.Profile(ctx, pair.UserID)
	require.NoError(t, err)
	assert.False(t, user.HasPassword())
	assert.True(t, user.EmailVerified)
	assert.Len(t, env.store.RefreshTokensOf(user.ID), 1)
}

func TestFlows_NextURLMustBeOnAllowedOrigin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uid := env.signup(t, "a@example.com", false).User.ID

	foreign := []string{
		"https://evil.example.net/cb",
		"http://app.example.com/cb",
		"https://app.example.com:8443/cb",
		"https://app.example.com@evil.example.net/cb",
	}
	for _, next := range foreign {
		assert.ErrorIs(t, env.flows.RequestMagicLink(ctx, "new@example.com", next, true), common.ErrInvalidURL, next)
		assert.ErrorIs(t, env.flows.RequestMagicLink(ctx, "a@example.com", next, false), common.ErrInvalidURL, next)
		assert.ErrorIs(t, env.flows.SendEmailVerification(ctx, uid, next), common.ErrInvalidURL, next)
		assert.ErrorIs(t, env.flows.RequestPasswordReset(ctx, "a@example.com", next, ""), common.ErrInvalidURL, next)
	}
	assert.Empty(t, env.mail.sent)
	assert.Equal(t, 1, env.store.UserCount())

	require.NoError(t, env.flows.RequestMagicLink(ctx, "a@example.com", "https://AUTH.example.com/app", false))
	require.NoError(t, env.flows.RequestMagicLink(ctx, "a@example.com", "https://app.example.com/cb", false))
	assert.Len(t, env.mail.sent, 2)
}

func TestMagicLink_SignUpLoginMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signup(t, "a@example.com", false)

	assert.ErrorIs(t, env.flows.RequestMagicLink(ctx, "a@example.com", "", true), common.ErrUserAlreadyExists)
	assert.ErrorIs(t, env.flows.RequestMagicLink(ctx, "ghost@example.com", "", false), common.ErrUserDoesNotExist)
	assert.ErrorIs(t, env.flows.RequestMagicLink(ctx, "bad", "", false), common.ErrInvalidEmail)
	assert.Equal(t, 1, env.store.UserCount())

	require.NoError(t, env.flows.RequestMagicLink(ctx, "a@example.com", "", false))
	pair, redirect, err := env.flows.RedeemMagicLink(ctx, lastPathToken(t, env))
	require.NoError(t, err)
	assert.Empty(t, redirect)
	assert.NotEmpty(t, pair.AccessToken)
}

func TestMagicLink_RedeemRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uid := env.signup(t, "a@example.com", false).User.ID

	require.NoError(t, env.flows.RequestMagicLink(ctx, "a@example.com", "", false))
	tok := lastPathToken(t, env)

	env.store.SetActive(uid, false)
	_, _, err := env.flows.RedeemMagicLink(ctx, tok)
	assert.ErrorIs(t, err, common.ErrUserDisabled)
	env.store.SetActive(uid, true)

	verify, err := env.codec.Sign(&auth.FlowClaims{Type: auth.TypeEmailVerification, UserID: uid, ExpiresAt: env.now().Add(time.Minute)})
	require.NoError(t, err)
	_, _, err = env.flows.RedeemMagicLink(ctx, verify)
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	env.advance(16 * time.Minute)
	_, _, err = env.flows.RedeemMagicLink(ctx, tok)
	assert.ErrorIs(t, err, common.ErrTokenExpired)
	assert.Empty(t, env.store.RefreshTokensOf(uid))
}

func TestPasswordReset_Request(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signup(t, "a@example.com", false)

	const ua = "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1"
	require.NoError(t, env.flows.RequestPasswordReset(ctx, "a@example.com", "https://app.example.com/reset?lang=en", ua))

	msg := env.mail.last(t)
	assert.Equal(t, mailer.TemplateForgotPassword, msg.Template)
	assert.Equal(t, "mobile", msg.Context["device"])
	assert.NotEmpty(t, msg.Context["os"])

	u, err := url.Parse(msg.ActionURL)
	require.NoError(t, err)
	assert.Equal(t, "/reset", u.Path)
	assert.Equal(t, "en", u.Query().Get("lang"))

	claims, err := env.codec.VerifyFlow(u.Query().Get("token"), auth.TypePasswordReset, env.now())
	require.NoError(t, err)
	assert.Len(t, claims.Nonce, resetNonceLength)
}

func TestPasswordReset_UnknownEmailIsSilent(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.flows.RequestPasswordReset(context.Background(), "ghost@example.com", "", ""))
	assert.Empty(t, env.mail.sent)
}

func TestPasswordReset_PrunedAfterExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signup(t, "a@example.com", false)

	require.NoError(t, env.flows.RequestPasswordReset(ctx, "a@example.com", "", ""))
	assert.Contains(t, env.mail.last(t).ActionURL, "https://auth.example.com/reset-password?token=")

	res, err := env.sessions.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.PasswordResets)

	env.advance(16 * time.Minute)
	res, err = env.sessions.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.PasswordResets)
}

func TestFlows_MailFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t)
	env.mail.err = errBoom{}
	uid := env.signup(t, "a@example.com", false).User.ID

	assert.NoError(t, env.flows.SendEmailVerification(context.Background(), uid, ""))
	assert.Len(t, env.mail.sent, 1)
}

func TestDeviceContext(t *testing.T) {
	assert.Equal(t, map[string]string{"os": "unknown", "device": "unknown"}, deviceContext(""))

	desktop := deviceContext("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	assert.Equal(t, "desktop", desktop["device"])
	assert.Equal(t, "Chrome", desktop["browser"])

	bot := deviceContext("Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)")
	assert.Equal(t, "bot", bot["device"])
}
