package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mahaj/tutor-realtime/pkg/db"
	"github.com/mahaj/tutor-realtime/pkg/logging"
	"github.com/mahaj/tutor-realtime/pkg/model"
	"go.uber.org/zap"
)

func main() {
	hosts := flag.String("hosts", "localhost:9042", "comma separated ScyllaDB hosts")
	keyspace := flag.String("keyspace", "chat", "keyspace to create and migrate")
	rf := flag.Int("rf", 1, "replication factor for a new keyspace")
	drop := flag.Bool("drop", false, "drop every table before creating it again")
	seed := flag.String("seed", "", "users to upsert, as id:name:role separated by commas")
	flag.Parse()

	log, err := logging.New("info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	if err := migrate(log, strings.Split(*hosts, ","), *keyspace, *rf, *drop, *seed); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}
	log.Info("migration complete", zap.String("keyspace", *keyspace))
}

func migrate(log *zap.Logger, hosts []string, keyspace string, rf int, drop bool, seed string) error {
	sys, err := db.NewSession(hosts, "system", log)
	if err != nil {
		return err
	}
	err = db.CreateKeyspace(sys, keyspace, rf)
	sys.Close()
	if err != nil {
		return err
	}

	session, err := db.NewSession(hosts, keyspace, log)
	if err != nil {
		return err
	}
	defer session.Close()

	if drop {
		if err := db.DropAll(session, log); err != nil {
			return err
		}
	}
	if err := db.Migrate(session, log); err != nil {
		return err
	}

	users, err := model.ParseUsers(seed)
	if err != nil {
		return err
	}
	store := db.NewStore(session)
	for _, u := range users {
		if err := store.PutUser(context.Background(), u); err != nil {
			return err
		}
		log.Info("user seeded", zap.String("user_id", u.ID), zap.String("role", u.Role))
	}
	return nil
}
