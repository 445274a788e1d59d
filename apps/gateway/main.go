package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/mahaj/tutor-realtime/pkg/auth"
	"github.com/mahaj/tutor-realtime/pkg/cache"
	"github.com/mahaj/tutor-realtime/pkg/db"
	"github.com/mahaj/tutor-realtime/pkg/logging"
	"github.com/mahaj/tutor-realtime/pkg/memstore"
	"github.com/mahaj/tutor-realtime/pkg/model"
	"github.com/mahaj/tutor-realtime/pkg/realtime"
	"github.com/mahaj/tutor-realtime/pkg/snowflake"
	"github.com/mahaj/tutor-realtime/pkg/stream"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// backend is what the gateway needs from a store: the relay's writes and the
// REST surface's reads.
type backend interface {
	realtime.Store
	History
}

func run() error {
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log, err := logging.New(config.LogLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]HealthCheck{}

	var store backend
	switch config.StoreDriver {
	case "scylla":
		session, err := db.NewSession(splitList(config.ScyllaHosts), config.ScyllaKeyspace, log)
		if err != nil {
			return err
		}
		defer session.Close()
		store = db.NewStore(session)
		checks["scylla"] = session.Ping
	case "memory":
		users, err := model.ParseUsers(config.DevUsers)
		if err != nil {
			return fmt.Errorf("DEV_USERS: %w", err)
		}
		store = memstore.New(users...)
		log.Warn("using in-memory store, nothing survives a restart", zap.Int("users", len(users)))
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", config.StoreDriver)
	}

	var opts []realtime.Option
	switch config.PresenceMirror {
	case "redis":
		mirror, err := cache.NewPresence(ctx, config.RedisAddr)
		if err != nil {
			return err
		}
		defer mirror.Close()
		if err := mirror.Reset(ctx); err != nil {
			return fmt.Errorf("reset presence mirror: %w", err)
		}
		opts = append(opts, realtime.WithPresenceMirror(mirror))
		checks["redis"] = mirror.Ping
	case "none":
	default:
		return fmt.Errorf("unknown PRESENCE_MIRROR %q", config.PresenceMirror)
	}

	switch config.EventStream {
	case "kafka":
		publisher := stream.NewPublisher(splitList(config.KafkaBrokers), config.KafkaTopic, log)
		defer publisher.Close()
		opts = append(opts, realtime.WithEventPublisher(publisher))
	case "none":
	default:
		return fmt.Errorf("unknown EVENT_STREAM %q", config.EventStream)
	}

	node, err := snowflake.NewNode(int64(config.NodeID))
	if err != nil {
		return fmt.Errorf("snowflake node %d: %w", config.NodeID, err)
	}

	hub := realtime.NewHub(config.Hub(), store, node, log, opts...)
	defer hub.Shutdown()

	srv := NewServer(ctx, hub, auth.NewAuthenticator(config.JWTSecret), store, log, config.HistoryLimit)
	for name, check := range checks {
		srv.AddCheck(name, check)
	}

	httpServer := &http.Server{
		Addr:              config.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway listening", zap.String("addr", config.Addr), zap.String("store", config.StoreDriver))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down gateway")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown; hub.Shutdown closes them.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
