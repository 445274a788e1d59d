package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/mahaj/tutor-realtime/pkg/db"
	"github.com/mahaj/tutor-realtime/pkg/logging"
	"github.com/mahaj/tutor-realtime/pkg/stream"
	"go.uber.org/zap"
)

type Config struct {
	KafkaBrokers   string `env:"KAFKA_BROKERS,default=localhost:19092"`
	KafkaTopic     string `env:"KAFKA_TOPIC,default=chat-events"`
	GroupID        string `env:"KAFKA_GROUP_ID,default=messaging-service-group"`
	ScyllaHosts    string `env:"SCYLLA_HOSTS,default=localhost:9042"`
	ScyllaKeyspace string `env:"SCYLLA_KEYSPACE,default=chat"`
	// Create the keyspace and tables before consuming.
	MigrateOnStart bool   `env:"MIGRATE_ON_START,default=true"`
	LogLevel       string `env:"LOG_LEVEL,default=info"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
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

	hosts := strings.Split(config.ScyllaHosts, ",")
	brokers := strings.Split(config.KafkaBrokers, ",")

	if config.MigrateOnStart {
		sysSession, err := db.NewSession(hosts, "system", log)
		if err != nil {
			return err
		}
		err = db.CreateKeyspace(sysSession, config.ScyllaKeyspace, 1)
		sysSession.Close()
		if err != nil {
			return err
		}
	}

	session, err := db.NewSession(hosts, config.ScyllaKeyspace, log)
	if err != nil {
		return err
	}
	defer session.Close()

	if config.MigrateOnStart {
		if err := db.Migrate(session, log); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consumer := NewConsumer(stream.NewReader(brokers, config.KafkaTopic, config.GroupID), db.NewStore(session), log)
	defer consumer.Close()

	log.Info("starting chat event consumer",
		zap.Strings("brokers", brokers),
		zap.String("topic", config.KafkaTopic),
		zap.String("group_id", config.GroupID),
	)
	return consumer.Consume(ctx)
}
