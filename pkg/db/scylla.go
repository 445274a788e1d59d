package db

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"
)

type Session struct {
	*gocql.Session
}

func NewSession(hosts []string, keyspace string, log *zap.Logger) (*Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second

	// Retry policy
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to scylla %v: %w", hosts, err)
	}

	log.Info("connected to ScyllaDB cluster",
		zap.Strings("hosts", hosts),
		zap.String("keyspace", keyspace),
	)
	return &Session{Session: session}, nil
}

func (s *Session) Ping(ctx context.Context) error {
	return s.Query(`SELECT now() FROM system.local`).WithContext(ctx).Exec()
}
