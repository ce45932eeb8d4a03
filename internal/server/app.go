// Package server initializes and runs the SNAS server: it connects to the
// messaging fabric, ensures the credential bucket exists, and serves the
// enabled transports until a shutdown signal arrives.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/snasd/snas/internal/handlers"
	"github.com/snasd/snas/internal/logging"
	"github.com/snasd/snas/internal/passhash"
	"github.com/snasd/snas/internal/server/config"
	"github.com/snasd/snas/internal/server/natsapi"
	"github.com/snasd/snas/internal/server/socket"
	"github.com/snasd/snas/internal/store"
)

type App struct {
	config *config.Config
	logger logging.Logger
}

func NewApp(cfg *config.Config) *App {
	return &App{
		config: cfg,
		logger: logging.New(cfg.LogFormat),
	}
}

// Run connects, wires the store and handlers, and serves until ctx is
// canceled or a termination signal arrives. A startup failure is returned to
// the caller; the process should exit non-zero on it.
func (app *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	app.initSignalHandler(cancel)

	nc, err := app.connect()
	if err != nil {
		return err
	}
	defer nc.Drain()
	app.logger.Info(ctx, "connected to NATS", "url", app.config.URL())

	bucket, err := app.ensureBucket(ctx, nc)
	if err != nil {
		return err
	}

	hasher := passhash.New(passhash.DefaultParams())
	credStore := store.New(bucket, hasher, app.logger)
	limits := handlers.Limits{
		MaxUsernameBytes: app.config.MaxUsernameBytes,
		MaxPasswordBytes: app.config.MaxPasswordBytes,
	}
	admin := handlers.NewAdmin(credStore, limits, app.config.DefaultGroups, app.logger)
	user, err := handlers.NewUser(credStore, limits, app.logger)
	if err != nil {
		return fmt.Errorf("initializing user handler: %w", err)
	}

	type runnable interface {
		Run(ctx context.Context) error
	}
	var servers []runnable

	if app.config.EnableAdminMessaging {
		s, err := natsapi.NewAdminServer(nc, admin, app.config.AdminPrefix, app.logger)
		if err != nil {
			return fmt.Errorf("initializing admin messaging API: %w", err)
		}
		servers = append(servers, s)
	}
	if app.config.EnableUserMessaging {
		s, err := natsapi.NewUserServer(nc, user, app.config.UserPrefix, app.logger)
		if err != nil {
			return fmt.Errorf("initializing user messaging API: %w", err)
		}
		servers = append(servers, s)
	}
	if app.config.EnableSocket {
		s, err := socket.New(user, app.config.SocketPath, app.logger)
		if err != nil {
			return fmt.Errorf("initializing socket API: %w", err)
		}
		servers = append(servers, s)
	}

	errCh := make(chan error, len(servers))
	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(s runnable) {
			defer wg.Done()
			if err := s.Run(ctx); err != nil {
				errCh <- err
				cancel()
			}
		}(s)
	}
	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		app.logger.Error(ctx, "server exited with error", "err", err)
		return err
	}
	app.logger.Info(ctx, "shutdown complete")
	return nil
}

func (app *App) initSignalHandler(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sigs
		cancel()
	}()
}

func (app *App) connect() (*nats.Conn, error) {
	opts := []nats.Option{nats.Name("snas-server")}
	if app.config.NatsCredsFile != "" {
		opts = append(opts, nats.UserCredentials(app.config.NatsCredsFile))
	} else if app.config.NatsUser != "" {
		opts = append(opts, nats.UserInfo(app.config.NatsUser, app.config.NatsPassword))
	}
	nc, err := nats.Connect(app.config.URL(), opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", app.config.URL(), err)
	}
	return nc, nil
}

// ensureBucket opens the credential bucket, creating it when absent. A
// production deployment should pre-create the bucket with its own
// replication settings; the created one is a single-replica default.
func (app *App) ensureBucket(ctx context.Context, nc *nats.Conn) (jetstream.KeyValue, error) {
	var js jetstream.JetStream
	var err error
	if app.config.JSDomain != "" {
		js, err = jetstream.NewWithDomain(nc, app.config.JSDomain)
	} else {
		js, err = jetstream.New(nc)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing JetStream: %w", err)
	}

	bucket, err := js.KeyValue(ctx, app.config.KVBucket)
	if err == nil {
		return bucket, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("opening KV bucket %q: %w", app.config.KVBucket, err)
	}

	app.logger.Warn(ctx, "KV bucket does not exist, creating it; create your own bucket with proper replication settings for production", "bucket", app.config.KVBucket)
	bucket, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      app.config.KVBucket,
		Description: "Bucket for storing SNAS data",
		History:     4,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("creating KV bucket %q: %w", app.config.KVBucket, err)
	}
	return bucket, nil
}
