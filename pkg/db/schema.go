package db

import (
	"fmt"

	"go.uber.org/zap"
)

var tables = []struct {
	name string
	cql  string
}{
	{"users", `CREATE TABLE IF NOT EXISTS users (
		id text PRIMARY KEY,
		name text,
		avatar text,
		role text,
		last_seen timestamp
	)`},
	{"messages", `CREATE TABLE IF NOT EXISTS messages (
		conversation_id text,
		id bigint,
		sender_id text,
		receiver_id text,
		content text,
		attachments list<text>,
		is_read boolean,
		read_at timestamp,
		created_at timestamp,
		PRIMARY KEY (conversation_id, id)
	) WITH CLUSTERING ORDER BY (id DESC)`},
	{"user_conversations", `CREATE TABLE IF NOT EXISTS user_conversations (
		user_id text,
		other_user_id text,
		last_updated timestamp,
		PRIMARY KEY (user_id, other_user_id)
	)`},
	{"conversation_counters", `CREATE TABLE IF NOT EXISTS conversation_counters (
		user_id text,
		other_user_id text,
		unread_count counter,
		PRIMARY KEY (user_id, other_user_id)
	)`},
}

// CreateKeyspace must run on a session that is not bound to keyspace.
func CreateKeyspace(s *Session, keyspace string, replicationFactor int) error {
	q := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : %d }`,
		keyspace, replicationFactor)
	if err := s.Query(q).Exec(); err != nil {
		return fmt.Errorf("create keyspace %s: %w", keyspace, err)
	}
	return nil
}

// Migrate creates every table the gateway and the messaging worker use.
func Migrate(s *Session, log *zap.Logger) error {
	for _, t := range tables {
		if err := s.Query(t.cql).Exec(); err != nil {
			return fmt.Errorf("create table %s: %w", t.name, err)
		}
		log.Info("table ready", zap.String("table", t.name))
	}
	return nil
}

// DropAll removes every table. Used to reset local environments.
func DropAll(s *Session, log *zap.Logger) error {
	for _, t := range tables {
		if err := s.Query(`DROP TABLE IF EXISTS ` + t.name).Exec(); err != nil {
			return fmt.Errorf("drop table %s: %w", t.name, err)
		}
		log.Info("table dropped", zap.String("table", t.name))
	}
	return nil
}
