// Package server initializes and runs the analysis server: it wires the
// database, object storage, dispatch channel, retention sweeper and HTTP
// endpoint together and handles graceful shutdown.
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
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robfig/cron/v3"

	"github.com/verifai/verifai/internal/logging"
	"github.com/verifai/verifai/internal/server/blob"
	"github.com/verifai/verifai/internal/server/config"
	"github.com/verifai/verifai/internal/server/dispatch"
	"github.com/verifai/verifai/internal/server/httpapi"
	"github.com/verifai/verifai/internal/server/repositories/repomanager"
	"github.com/verifai/verifai/internal/server/services"
)

type App struct {
	config     *config.Config
	logger     logging.Logger
	db         *sql.DB
	amqpConn   *amqp.Connection
	consumer   *dispatch.Consumer
	jobService *services.JobService
	sweeper    *services.Sweeper
	httpServer *httpapi.Server
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	manager := repomanager.NewPostgresRepositoryManager()
	if err := manager.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	blobs, err := blob.NewS3Store(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	client := dispatch.NewInferenceClient(c)

	app := &App{config: c, logger: logger, db: db}

	var dispatcher dispatch.Dispatcher
	switch c.DispatchMode {
	case config.DispatchModeQueue:
		conn, err := amqp.Dial(c.AMQPURL)
		if err != nil {
			return nil, fmt.Errorf("amqp dial error: %w", err)
		}
		app.amqpConn = conn

		publisher, err := dispatch.NewQueuePublisher(conn, c.AMQPExchange, c.AMQPRoutingKey)
		if err != nil {
			return nil, fmt.Errorf("amqp publisher error: %w", err)
		}
		dispatcher = publisher

		consumer, err := dispatch.NewConsumer(conn, c.AMQPExchange, c.AMQPRoutingKey, c.AMQPQueue,
			db, manager, blobs, client, logger, c.DispatchMaxAttempts)
		if err != nil {
			return nil, fmt.Errorf("amqp consumer error: %w", err)
		}
		app.consumer = consumer
	default:
		dispatcher = dispatch.NewDirectDispatcher(db, manager, blobs, client, logger, c.DispatchMaxAttempts)
	}

	limiter := services.NewRateLimitService(db, manager, c)
	app.jobService = services.NewJobService(db, manager, blobs, dispatcher, limiter, c, logger)
	app.sweeper = services.NewSweeper(db, manager, blobs, c, logger)
	app.httpServer = httpapi.NewServer(app.jobService, c, logger)

	return app, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting app", "dispatch_mode", app.config.DispatchMode)

	app.initSignalHandler(cancelFunc)

	scheduler := cron.New()
	_, err := scheduler.AddFunc(fmt.Sprintf("@every %s", app.config.SweepInterval), func() {
		if err := app.sweeper.Sweep(ctx); err != nil {
			app.logger.Error(ctx, "retention sweep failed", "error", err.Error())
		}
	})
	if err != nil {
		app.logger.Error(ctx, "failed to schedule sweeper", "error", err.Error())
		return
	}
	scheduler.Start()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.httpServer.Run(); err != nil {
			app.logger.Error(ctx, "http server error", "error", err.Error())
			cancelFunc()
		}
	}()

	if app.consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.consumer.Start(ctx); err != nil {
				app.logger.Error(ctx, "dispatch consumer error", "error", err.Error())
				cancelFunc()
			}
		}()
	}

	<-ctx.Done()

	app.logger.Info(ctx, "shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		app.logger.Error(shutdownCtx, "http shutdown error", "error", err.Error())
	}

	<-scheduler.Stop().Done()

	if app.amqpConn != nil {
		if err := app.amqpConn.Close(); err != nil {
			app.logger.Error(shutdownCtx, "amqp close error", "error", err.Error())
		}
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error(shutdownCtx, "db close error", "error", err.Error())
	}

	wg.Wait()
}
