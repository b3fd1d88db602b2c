// Package memory is an in-process RepositoryManager with the same row-level
// guarantees the services rely on from PostgreSQL: unique emails, atomic
// conditional updates and delete-returning. Statements apply immediately;
// WithTx does not roll back on error.
package memory

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/turbocore/internal/common"
	"github.com/dmitrijs2005/turbocore/internal/dbx"
	"github.com/dmitrijs2005/turbocore/internal/server/models"
	"github.com/dmitrijs2005/turbocore/internal/server/repositories/passwordresets"
	"github.com/dmitrijs2005/turbocore/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/turbocore/internal/server/repositories/users"
)

// Store holds every table behind one mutex.
type Store struct {
	mu      sync.Mutex
	users   map[string]*models.User
	byEmail map[string]string
	refresh map[string]*models.RefreshToken
	resets  map[string]*models.PasswordReset
}

func NewStore() *Store {
	return &Store{
		users:   make(map[string]*models.User),
		byEmail: make(map[string]string),
		refresh: make(map[string]*models.RefreshToken),
		resets:  make(map[string]*models.PasswordReset),
	}
}

func (s *Store) RunMigrations(context.Context, *sql.DB) error { return nil }

func (s *Store) Users(dbx.DBTX) users.Repository                   { return (*userRepo)(s) }
func (s *Store) RefreshTokens(dbx.DBTX) refreshtokens.Repository   { return (*refreshRepo)(s) }
func (s *Store) PasswordResets(dbx.DBTX) passwordresets.Repository { return (*resetRepo)(s) }

// WithTx runs fn directly; it satisfies dbx.Transactor.
func (s *Store) WithTx(ctx context.Context, fn dbx.TxFunc) error {
	return fn(ctx, nil)
}

func (s *Store) Conn() dbx.DBTX { return nil }

// RefreshTokensOf lists the stored refresh tokens of userID, oldest first.
func (s *Store) RefreshTokensOf(userID string) []models.RefreshToken {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.RefreshToken
	for _, rt := range s.refresh {
		if rt.UserID == userID {
			out = append(out, *rt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SetActive flips the active flag of a user. Accounts are only disabled by
// operators, so no repository method exposes it.
func (s *Store) SetActive(userID string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.Active = active
	}
}

// UserCount returns the number of stored users.
func (s *Store) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

type userRepo Store

func (r *userRepo) Create(_ context.Context, user *models.User) (*models.User, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[user.Email]; taken {
		return nil, common.ErrorAlreadyExists
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now

	cp := *user
	s.users[cp.ID] = &cp
	s.byEmail[cp.Email] = cp.ID
	return user, nil
}

func (r *userRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (r *userRepo) GetByID(_ context.Context, id string) (*models.User, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *userRepo) Update(_ context.Context, user *models.User) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.users[user.ID]
	if !ok {
		return common.ErrorNotFound
	}
	if owner, taken := s.byEmail[user.Email]; taken && owner != user.ID {
		return common.ErrorAlreadyExists
	}
	delete(s.byEmail, cur.Email)
	s.byEmail[user.Email] = user.ID

	cur.Email = user.Email
	cur.Metadata = user.Metadata
	cur.UpdatedAt = time.Now().UTC()
	user.UpdatedAt = cur.UpdatedAt
	return nil
}

func (r *userRepo) UpdatePassword(_ context.Context, id string, passwordHash string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *userRepo) SetEmailVerified(_ context.Context, id string) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok || u.EmailVerified {
		return false, nil
	}
	u.EmailVerified = true
	u.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *userRepo) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[id]; ok {
		t := at.UTC()
		u.LastLogin = &t
	}
	return nil
}

func (r *userRepo) Delete(_ context.Context, id string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	delete(s.users, id)
	delete(s.byEmail, u.Email)
	for k, rt := range s.refresh {
		if rt.UserID == id {
			delete(s.refresh, k)
		}
	}
	for k, pr := range s.resets {
		if pr.UserID == id {
			delete(s.resets, k)
		}
	}
	return nil
}

type refreshRepo Store

func (r *refreshRepo) Create(_ context.Context, userID string, token string, expires time.Time) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.refresh[token]; dup {
		return common.ErrorAlreadyExists
	}
	if _, ok := s.users[userID]; !ok {
		return common.ErrorNotFound
	}
	s.refresh[token] = &models.RefreshToken{
		Token:     token,
		UserID:    userID,
		Expires:   expires.UTC(),
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

func (r *refreshRepo) Find(_ context.Context, token string) (*models.RefreshToken, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.refresh[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *rt
	return &cp, nil
}

func (r *refreshRepo) MarkUsed(_ context.Context, token string) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.refresh[token]
	if !ok || rt.Used {
		return false, nil
	}
	rt.Used = true
	return true, nil
}

func (r *refreshRepo) Delete(_ context.Context, userID string, token string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	if rt, ok := s.refresh[token]; ok && rt.UserID == userID {
		delete(s.refresh, token)
	}
	return nil
}

func (r *refreshRepo) DeleteByUser(_ context.Context, userID string) (int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, rt := range s.refresh {
		if rt.UserID == userID {
			delete(s.refresh, k)
			n++
		}
	}
	return n, nil
}

func (r *refreshRepo) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, rt := range s.refresh {
		if rt.Expires.Before(cutoff) {
			delete(s.refresh, k)
			n++
		}
	}
	return n, nil
}

type resetRepo Store

func (r *resetRepo) Create(_ context.Context, reset *models.PasswordReset) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *reset
	cp.CreatedAt = time.Now().UTC()
	s.resets[cp.TokenHash] = &cp
	return nil
}

func (r *resetRepo) Consume(_ context.Context, tokenHash string) (*models.PasswordReset, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	pr, ok := s.resets[tokenHash]
	if !ok {
		return nil, common.ErrorNotFound
	}
	delete(s.resets, tokenHash)
	return pr, nil
}

func (r *resetRepo) DeleteByUser(_ context.Context, userID string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, pr := range s.resets {
		if pr.UserID == userID {
			delete(s.resets, k)
		}
	}
	return nil
}

func (r *resetRepo) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, pr := range s.resets {
		if pr.Expires.Before(cutoff) {
			delete(s.resets, k)
			n++
		}
	}
	return n, nil
}
