// Package server initializes and runs the credential server: it opens the
// database, runs migrations, wires the account and record services, and
// starts the gRPC health endpoint with graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/corpass/corpass/internal/logging"
	"github.com/corpass/corpass/internal/recovery"
	"github.com/corpass/corpass/internal/server/config"
	"github.com/corpass/corpass/internal/server/repositories/repomanager"
	"github.com/corpass/corpass/internal/server/services"
	"github.com/corpass/corpass/internal/server/throttle"
	"github.com/redis/go-redis/v9"

	gs "github.com/corpass/corpass/internal/server/grpc"
)

type App struct {
	config        *config.Config
	logger        logging.Logger
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	userService   *services.UserService
	recordService *services.RecordService
}

func NewApp(c *config.Config) (*App, error) {

	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm, err := repomanager.NewPostgresRepositoryManager(db)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	attempts := newAttemptStore(c)

	delivery := recovery.NewDelivery(recovery.S3Settings{
		RootUser:     c.S3RootUser,
		RootPassword: c.S3RootPassword,
		Bucket:       c.S3Bucket,
		Region:       c.S3Region,
		BaseEndpoint: c.S3BaseEndpoint,
	})

	us := services.NewUserService(db, rm, c, attempts, delivery)
	rs := services.NewRecordService(db, rm, c)

	return &App{
		config:        c,
		logger:        logger,
		db:            db,
		repomanager:   rm,
		userService:   us,
		recordService: rs,
	}, nil
}

// newAttemptStore picks the throttle backend: Redis when an address is
// configured, the in-process store otherwise.
func newAttemptStore(c *config.Config) throttle.AttemptStore {
	cfg := throttle.Config{
		Threshold:    c.ThrottleThreshold,
		Window:       c.ThrottleWindow,
		LockDuration: c.ThrottleLockDuration,
	}
	if c.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		return throttle.NewRedisStore(client, cfg)
	}
	return throttle.NewMemoryStore(cfg)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s, err := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger)

	if err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	} else {

		if err := s.Run(ctx); err != nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	if err := app.repomanager.RunMigrations(ctx, app.db); err != nil {
		app.logger.Error(ctx, "migration error", "error", err.Error())
		return
	}

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err.Error())
	}
}
