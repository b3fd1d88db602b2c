package services

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/turbocore/internal/common"
	"github.com/dmitrijs2005/turbocore/internal/dbx"
	"github.com/dmitrijs2005/turbocore/internal/logging"
	"github.com/dmitrijs2005/turbocore/internal/server/auth"
	"github.com/dmitrijs2005/turbocore/internal/server/models"
	"github.com/dmitrijs2005/turbocore/internal/server/repositories/passwordresets"
	"github.com/dmitrijs2005/turbocore/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/turbocore/internal/server/repositories/users"
)

func TestIssuePair_ClaimsAndStoredRow(t *testing.T) {
	env := newTestEnv(t)
	uid := env.signup(t, "a@example.com", false).User.ID
	now := env.now()

	pair, err := env.sessions.Issue(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, uid, pair.UserID)
	assert.Equal(t, now.Add(15*time.Minute+15*time.Second).Unix(), pair.AccessExpiry.Unix())

	at, err := env.codec.VerifyAccess(pair.AccessToken, now)
	require.NoError(t, err)
	assert.Equal(t, uid, at.UserID)

	rt, err := env.codec.VerifyRefresh(pair.RefreshToken, now)
	require.NoError(t, err)
	assert.Equal(t, uid, rt.UserID)
	assert.Len(t, rt.Nonce, refreshNonceLength)

	rows := env.store.RefreshTokensOf(uid)
	require.Len(t, rows, 1)
	assert.Equal(t, pair.RefreshToken, rows[0].Token)
	assert.False(t, rows[0].Used)
	assert.Equal(t, now.Add(30*24*time.Hour).Unix(), rows[0].Expires.Unix())
	assert.Equal(t, rt.ExpiresAt.Unix(), rows[0].Expires.Unix())
}

func TestIssuePair_SameSecondTokensDiffer(t *testing.T) {
	env := newTestEnv(t)
	uid := env.signup(t, "a@example.com", false).User.ID

	p1, err := env.sessions.Issue(context.Background(), uid)
	require.NoError(t, err)
	p2, err := env.sessions.Issue(context.Background(), uid)
	require.NoError(t, err)

	assert.NotEqual(t, p1.RefreshToken, p2.RefreshToken)
	assert.Len(t, env.store.RefreshTokensOf(uid), 2)
}

func TestIssuePair_NoTokensWithoutRow(t *testing.T) {
	env := newTestEnv(t)

	// The memory store refuses refresh rows for unknown users.
	pair, err := env.sessions.Issue(context.Background(), "no-such-user")
	assert.Nil(t, pair)
	assert.ErrorIs(t, err, common.ErrorInternal)
}

func TestRedeem_RotatesOnceThenRevokesFamily(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uid := env.signup(t, "a@example.com", false).User.ID

	first, err := env.sessions.Issue(ctx, uid)
	require.NoError(t, err)
	sibling, err := env.sessions.Issue(ctx, uid)
	require.NoError(t, err)

	rotated, err := env.sessions.Redeem(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, uid, rotated.UserID)

	_, err = env.sessions.Redeem(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, common.ErrRefreshTokenReused)
	assert.Empty(t, env.store.RefreshTokensOf(uid))

	_, err = env.sessions.Redeem(ctx, rotated.RefreshToken)
	assert.ErrorIs(t, err, common.ErrRefreshTokenReused)
	_, err = env.sessions.Redeem(ctx, sibling.RefreshToken)
	assert.ErrorIs(t, err, common.ErrRefreshTokenReused)
}

func TestRedeem_ExpiredLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uid := env.signup(t, "a@example.com", false).User.ID

	p1, err := env.sessions.Issue(ctx, uid)
	require.NoError(t, err)
	_, err = env.sessions.Issue(ctx, uid)
	require.NoError(t, err)
	before := env.store.RefreshTokensOf(uid)

	env.advance(30*24*time.Hour + 2*time.Second)

	_, err = env.sessions.Redeem(ctx, p1.RefreshToken)
	assert.ErrorIs(t, err, common.ErrRefreshTokenExpired)
	assert.ElementsMatch(t, before, env.store.RefreshTokensOf(uid))
}

func TestRedeem_ValidUntilExpirySecond(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uid := env.signup(t, "a@example.com", false).User.ID

	p, err := env.sessions.Issue(ctx, uid)
	require.NoError(t, err)

	env.advance(30 * 24 * time.Hour)
	_, err = env.sessions.Redeem(ctx, p.RefreshToken)
	assert.NoError(t, err)
}

func TestRedeem_RejectsNonRefreshTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uid := env.signup(t, "a@example.com", false).User.ID

	p, err := env.sessions.Issue(ctx, uid)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"garbage":      "not.a.token",
		"empty":        "",
		"access token": p.AccessToken,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := env.sessions.Redeem(ctx, tok)
			assert.ErrorIs(t, err, common.ErrInvalidRefreshToken)
		})
	}
	assert.Len(t, env.store.RefreshTokensOf(uid), 1)
}

func TestRedeem_UnknownTokenRevokesFamily(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uid := env.signup(t, "a@example.com", false).User.ID

	_, err := env.sessions.Issue(ctx, uid)
	require.NoError(t, err)

	foreign, err := env.codec.Sign(&auth.RefreshClaims{
		UserID:    uid,
		ExpiresAt: env.now().Add(time.Hour),
		Nonce:     "zzzzz",
	})
	require.NoError(t, err)

	_, err = env.sessions.Redeem(ctx, foreign)
	assert.ErrorIs(t, err, common.ErrRefreshTokenReused)
	assert.Empty(t, env.store.RefreshTokensOf(uid))
}

func TestRedeem_DisabledUserRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.signup(t, "a@example.com", true)
	uid := res.User.ID

	other, err := env.sessions.Issue(ctx, uid)
	require.NoError(t, err)

	env.store.SetActive(uid, false)

	_, err = env.sessions.Redeem(ctx, res.Tokens.RefreshToken)
	assert.ErrorIs(t, err, common.ErrUserDisabled)
	assert.Empty(t, env.store.RefreshTokensOf(uid))

	_, err = env.sessions.Redeem(ctx, other.RefreshToken)
	assert.ErrorIs(t, err, common.ErrRefreshTokenReused)

	env.store.SetActive(uid, true)
	_, err = env.sessions.Redeem(ctx, res.Tokens.RefreshToken)
	assert.ErrorIs(t, err, common.ErrRefreshTokenReused, "re-enabling does not revive revoked sessions")
}

func TestRevokeOne_IgnoresTokensOfOtherUsers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.signup(t, "a@example.com", false).User.ID
	b := env.signup(t, "b@example.com", false).User.ID

	pb, err := env.sessions.Issue(ctx, b)
	require.NoError(t, err)

	require.NoError(t, env.sessions.RevokeOne(ctx, a, pb.RefreshToken))
	assert.Len(t, env.store.RefreshTokensOf(b), 1)

	_, err = env.sessions.Redeem(ctx, pb.RefreshToken)
	assert.NoError(t, err)
}

func TestRedeem_ConcurrentSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uid := env.signup(t, "a@example.com", false).User.ID

	p, err := env.sessions.Issue(ctx, uid)
	require.NoError(t, err)

	const n = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.sessions.Redeem(ctx, p.RefreshToken)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, common.ErrRefreshTokenReused)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestBearer_AccessExpiryBoundary(t *testing.T) {
	env := newTestEnv(t)
	uid := env.signup(t, "a@example.com", false).User.ID

	p, err := env.sessions.Issue(context.Background(), uid)
	require.NoError(t, err)
	header := "Bearer " + p.AccessToken

	got, err := env.codec.VerifyBearer(header, p.AccessExpiry.Add(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, uid, got)

	_, err = env.codec.VerifyBearer(header, p.AccessExpiry.Add(time.Second))
	assert.ErrorIs(t, err, common.ErrTokenExpired)
}

func TestRevokeOneAndAll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uid := env.signup(t, "a@example.com", false).User.ID

	p1, err := env.sessions.Issue(ctx, uid)
	require.NoError(t, err)
	_, err = env.sessions.Issue(ctx, uid)
	require.NoError(t, err)
	_, err = env.sessions.Issue(ctx, uid)
	require.NoError(t, err)

	require.NoError(t, env.sessions.RevokeOne(ctx, uid, p1.RefreshToken))
	require.NoError(t, env.sessions.RevokeOne(ctx, uid, p1.RefreshToken))
	assert.Len(t, env.store.RefreshTokensOf(uid), 2)

	_, err = env.sessions.Redeem(ctx, p1.RefreshToken)
	assert.ErrorIs(t, err, common.ErrRefreshTokenReused)

	n, err := env.sessions.RevokeAll(ctx, uid)
	require.NoError(t, err)
	assert.Zero(t, n, "reuse detection already removed the family")
}

func TestPrune_RemovesRowsPastRetention(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uid := env.signup(t, "a@example.com", false).User.ID

	_, err := env.sessions.Issue(ctx, uid)
	require.NoError(t, err)

	// Expired but still inside the retention window.
	env.advance(30*24*time.Hour + 20*24*time.Hour)
	res, err := env.sessions.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.RefreshTokens)

	fresh, err := env.sessions.Issue(ctx, uid)
	require.NoError(t, err)

	env.advance(2 * 24 * time.Hour)
	res, err = env.sessions.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RefreshTokens)

	rows := env.store.RefreshTokensOf(uid)
	require.Len(t, rows, 1)
	assert.Equal(t, fresh.RefreshToken, rows[0].Token)
}

func TestPruner_SweepLogsAndContinues(t *testing.T) {
	env := newTestEnv(t)
	p := NewPruner(env.sessions, time.Millisecond, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pruner did not stop on cancel")
	}
}

// --- transactional behaviour against a real *sql.Tx ---

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

type fakeRefreshRepo struct {
	findOut   *models.RefreshToken
	findErr   error
	markWon   bool
	createErr error
	deleted   []string
}

func (f *fakeRefreshRepo) Create(context.Context, string, string, time.Time) error { return f.createErr }
func (f *fakeRefreshRepo) Find(context.Context, string) (*models.RefreshToken, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.findOut, nil
}
func (f *fakeRefreshRepo) MarkUsed(context.Context, string) (bool, error) { return f.markWon, nil }
func (f *fakeRefreshRepo) Delete(context.Context, string, string) error  { return nil }
func (f *fakeRefreshRepo) DeleteByUser(_ context.Context, userID string) (int64, error) {
	f.deleted = append(f.deleted, userID)
	return 1, nil
}
func (f *fakeRefreshRepo) DeleteExpiredBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// fakeUserRepo serves GetByID from a fixed user; other methods are unused.
type fakeUserRepo struct {
	users.Repository
	user *models.User
	err  error
}

func (f *fakeUserRepo) GetByID(context.Context, string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.user, nil
}

type fakeRepoManager struct {
	r *fakeRefreshRepo
	u *fakeUserRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error      { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) users.Repository                   { return m.u }
func (m *fakeRepoManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository   { return m.r }
func (m *fakeRepoManager) PasswordResets(dbx.DBTX) passwordresets.Repository { return nil }

func newSQLSessionService(t *testing.T, r *fakeRefreshRepo) (*SessionService, sqlmock.Sqlmock, *auth.Codec) {
	t.Helper()
	return newSQLSessionServiceWithUser(t, r, &fakeUserRepo{user: &models.User{ID: "u1", Active: true}})
}

func newSQLSessionServiceWithUser(t *testing.T, r *fakeRefreshRepo, u *fakeUserRepo) (*SessionService, sqlmock.Sqlmock, *auth.Codec) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := testConfig()
	codec, err := auth.NewCodec([]byte(cfg.SecretKey), cfg.Issuer)
	require.NoError(t, err)

	tx := dbx.NewSQLTransactor(db, dbx.ReadCommitted)
	return NewSessionService(tx, &fakeRepoManager{r: r, u: u}, codec, cfg, logging.Nop()), mock, codec
}

func signRefresh(t *testing.T, c *auth.Codec, uid string) string {
	t.Helper()
	tok, err := c.Sign(&auth.RefreshClaims{UserID: uid, ExpiresAt: time.Now().Add(time.Hour), Nonce: "abcde"})
	require.NoError(t, err)
	return tok
}

func TestRedeem_SQL_CommitOnRotation(t *testing.T) {
	r := &fakeRefreshRepo{
		findOut: &models.RefreshToken{UserID: "u1", Expires: time.Now().Add(time.Hour)},
		markWon: true,
	}
	s, mock, codec := newSQLSessionService(t, r)
	mock.ExpectBegin()
	mock.ExpectCommit()

	pair, err := s.Redeem(context.Background(), signRefresh(t, codec, "u1"))
	if err != nil {
		t.Fatalf("Redeem error: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("empty tokens: %+v", pair)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestRedeem_SQL_RollbackWhenIssueFails(t *testing.T) {
	r := &fakeRefreshRepo{
		findOut:   &models.RefreshToken{UserID: "u1", Expires: time.Now().Add(time.Hour)},
		markWon:   true,
		createErr: errBoom{},
	}
	s, mock, codec := newSQLSessionService(t, r)
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := s.Redeem(context.Background(), signRefresh(t, codec, "u1"))
	if !errors.Is(err, common.ErrorInternal) {
		t.Fatalf("want ErrorInternal, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestRedeem_SQL_LostRaceCommitsRevocation(t *testing.T) {
	r := &fakeRefreshRepo{
		findOut: &models.RefreshToken{UserID: "u1", Expires: time.Now().Add(time.Hour)},
		markWon: false,
	}
	s, mock, codec := newSQLSessionService(t, r)
	mock.ExpectBegin()
	mock.ExpectCommit()

	_, err := s.Redeem(context.Background(), signRefresh(t, codec, "u1"))
	if !errors.Is(err, common.ErrRefreshTokenReused) {
		t.Fatalf("want ErrRefreshTokenReused, got %v", err)
	}
	if len(r.deleted) != 1 || r.deleted[0] != "u1" {
		t.Fatalf("family not revoked: %v", r.deleted)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestRedeem_SQL_FindErrorIsInternal(t *testing.T) {
	r := &fakeRefreshRepo{findErr: errBoom{}}
	s, mock, codec := newSQLSessionService(t, r)
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := s.Redeem(context.Background(), signRefresh(t, codec, "u1"))
	if !errors.Is(err, common.ErrorInternal) {
		t.Fatalf("want ErrorInternal, got %v", err)
	}
	if len(r.deleted) != 0 {
		t.Fatalf("store error must not revoke: %v", r.deleted)
	}
}

func TestRedeem_SQL_DisabledUserCommitsRevocation(t *testing.T) {
	r := &fakeRefreshRepo{
		findOut: &models.RefreshToken{UserID: "u1", Expires: time.Now().Add(time.Hour)},
		markWon: true,
	}
	s, mock, codec := newSQLSessionServiceWithUser(t, r, &fakeUserRepo{user: &models.User{ID: "u1"}})
	mock.ExpectBegin()
	mock.ExpectCommit()

	_, err := s.Redeem(context.Background(), signRefresh(t, codec, "u1"))
	if !errors.Is(err, common.ErrUserDisabled) {
		t.Fatalf("want ErrUserDisabled, got %v", err)
	}
	if len(r.deleted) != 1 || r.deleted[0] != "u1" {
		t.Fatalf("family not revoked: %v", r.deleted)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestRedeem_SQL_UserLookupErrorRollsBack(t *testing.T) {
	r := &fakeRefreshRepo{
		findOut: &models.RefreshToken{UserID: "u1", Expires: time.Now().Add(time.Hour)},
		markWon: true,
	}
	s, mock, codec := newSQLSessionServiceWithUser(t, r, &fakeUserRepo{err: errBoom{}})
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := s.Redeem(context.Background(), signRefresh(t, codec, "u1"))
	if !errors.Is(err, common.ErrorInternal) {
		t.Fatalf("want ErrorInternal, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}
