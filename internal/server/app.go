// Package server wires configuration, storage, services and transports into
// the running authentication server, and handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/turbocore/internal/dbx"
	"github.com/dmitrijs2005/turbocore/internal/logging"
	"github.com/dmitrijs2005/turbocore/internal/server/auth"
	"github.com/dmitrijs2005/turbocore/internal/server/config"
	"github.com/dmitrijs2005/turbocore/internal/server/httpapi"
	"github.com/dmitrijs2005/turbocore/internal/server/mailer"
	"github.com/dmitrijs2005/turbocore/internal/server/passwords"
	"github.com/dmitrijs2005/turbocore/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/turbocore/internal/server/services"

	gs "github.com/dmitrijs2005/turbocore/internal/server/grpc"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	codec    *auth.Codec
	mailer   io.Closer
	users    *services.UserService
	sessions *services.SessionService
	flows    *services.FlowService
}

// NewApp connects to the database, applies migrations and builds the
// services. Close releases what it opened.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(c.LogLevel, c.LogFormat)

	if c.SecretGenerated {
		logger.Warn(ctx, "no secret key configured, using a random one; tokens will not survive a restart")
	}

	db, err := repomanager.Open(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	codec, err := auth.NewCodec([]byte(c.SecretKey), c.Issuer)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	tx := dbx.NewSQLTransactor(db, dbx.ReadCommitted)
	hasher := passwords.NewHasher(passwords.Params{
		SaltLength:  c.Argon2SaltLength,
		Memory:      c.Argon2Memory,
		Iterations:  c.Argon2Iterations,
		Parallelism: c.Argon2Parallelism,
		TagLength:   c.Argon2TagLength,
	})
	ml, closer := newMailer(c, logger)

	ss := services.NewSessionService(tx, rm, codec, c, logger)
	us := services.NewUserService(tx, rm, ss, codec, hasher, passwords.NewStrengthChecker(c.MinPasswordStrength), logger)
	fs := services.NewFlowService(tx, rm, ss, codec, ml, c, logger)

	return &App{
		config:   c,
		logger:   logger,
		db:       db,
		codec:    codec,
		mailer:   closer,
		users:    us,
		sessions: ss,
		flows:    fs,
	}, nil
}

// newMailer picks the transport named by the config. The returned Mailer is
// nil when mail is disabled; the Closer is nil when there is nothing to close.
func newMailer(c *config.Config, logger logging.Logger) (mailer.Mailer, io.Closer) {
	switch c.MailTransport {
	case config.MailTransportKafka:
		km := mailer.NewKafkaMailer(c.KafkaBrokers, c.MailTopic)
		return km, km
	case config.MailTransportLog:
		return mailer.NewLogMailer(logger), nil
	default:
		return nil, nil
	}
}

// Users exposes the user service for administrative tooling.
func (app *App) Users() *services.UserService {
	return app.users
}

func (app *App) Close() {
	if app.mailer != nil {
		if err := app.mailer.Close(); err != nil {
			app.logger.Error(context.Background(), "close mailer", "error", err)
		}
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error(context.Background(), "close database", "error", err)
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	h := httpapi.NewHandlers(app.users, app.sessions, app.flows, app.codec, app.logger)
	s := httpapi.NewServer(app.config.EndpointAddrHTTP, h, app.logger)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, "http server", "error", err)
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.codec, app.db)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, "grpc server", "error", err)
		cancelFunc()
	}
}

// Run serves HTTP and gRPC and sweeps expired sessions until a signal
// arrives or a server fails.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "mail_transport", app.config.MailTransport)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		services.NewPruner(app.sessions, app.config.PruneInterval, app.logger).Run(ctx)
	}()

	wg.Wait()
	app.logger.Info(context.Background(), "App stopped")
}
