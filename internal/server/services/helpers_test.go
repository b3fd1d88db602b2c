package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/turbocore/internal/logging"
	"github.com/dmitrijs2005/turbocore/internal/server/auth"
	"github.com/dmitrijs2005/turbocore/internal/server/config"
	"github.com/dmitrijs2005/turbocore/internal/server/mailer"
	"github.com/dmitrijs2005/turbocore/internal/server/passwords"
	"github.com/dmitrijs2005/turbocore/internal/server/repositories/memory"
)

const strongPassword = "Str0ng!Passw0rd"

type fakeMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return m.err
}

func (m *fakeMailer) last(t *testing.T) mailer.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no mail sent")
	return m.sent[len(m.sent)-1]
}

// testEnv wires every service over one in-memory store and a movable clock.
type testEnv struct {
	store    *memory.Store
	codec    *auth.Codec
	cfg      *config.Config
	mail     *fakeMailer
	sessions *SessionService
	users    *UserService
	flows    *FlowService

	clockMu sync.Mutex
	clock   time.Time
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.SecretKey = "test-secret"
	cfg.Argon2Memory = 64
	cfg.Argon2Iterations = 1
	cfg.MinPasswordStrength = 0
	cfg.BaseURL = "https://auth.example.com"
	cfg.RedirectOrigins = []string{"https://app.example.com"}
	cfg.MailFrom = "noreply@example.com"
	return cfg
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, testConfig())
}

func newTestEnvWithConfig(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()

	codec, err := auth.NewCodec([]byte(cfg.SecretKey), cfg.Issuer)
	require.NoError(t, err)

	env := &testEnv{
		store: memory.NewStore(),
		codec: codec,
		cfg:   cfg,
		mail:  &fakeMailer{},
		clock: time.Unix(1_800_000_000, 0).UTC(),
	}

	log := logging.Nop()
	hasher := passwords.NewHasher(passwords.Params{
		SaltLength:  cfg.Argon2SaltLength,
		Memory:      cfg.Argon2Memory,
		Iterations:  cfg.Argon2Iterations,
		Parallelism: cfg.Argon2Parallelism,
		TagLength:   cfg.Argon2TagLength,
	})

	env.sessions = NewSessionService(env.store, env.store, codec, cfg, log)
	env.users = NewUserService(env.store, env.store, env.sessions, codec, hasher, passwords.NewStrengthChecker(cfg.MinPasswordStrength), log)
	env.flows = NewFlowService(env.store, env.store, env.sessions, codec, env.mail, cfg, log)

	env.sessions.now = env.now
	env.users.now = env.now
	env.flows.now = env.now
	return env
}

func (e *testEnv) now() time.Time {
	e.clockMu.Lock()
	defer e.clockMu.Unlock()
	return e.clock
}

func (e *testEnv) advance(d time.Duration) {
	e.clockMu.Lock()
	defer e.clockMu.Unlock()
	e.clock = e.clock.Add(d)
}

func (e *testEnv) signup(t *testing.T, email string, login bool) *SignupResult {
	t.Helper()
	res, err := e.users.Signup(context.Background(), SignupRequest{
		Email:    email,
		Password: strongPassword,
		Login:    login,
	})
	require.NoError(t, err)
	return res
}
