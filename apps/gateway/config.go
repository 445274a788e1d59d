package main

import (
	"strings"
	"time"

	"github.com/mahaj/tutor-realtime/pkg/realtime"
)

type Config struct {
	Addr      string `env:"GATEWAY_ADDR,default=:8080"`
	JWTSecret string `env:"JWT_SECRET,required=true"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	NodeID    int    `env:"NODE_ID,default=1"`

	// scylla or memory
	StoreDriver    string `env:"STORE_DRIVER,default=scylla"`
	ScyllaHosts    string `env:"SCYLLA_HOSTS,default=localhost:9042"`
	ScyllaKeyspace string `env:"SCYLLA_KEYSPACE,default=chat"`
	// Users known to the memory store, as id:name:role separated by commas.
	DevUsers string `env:"DEV_USERS"`

	// redis or none
	PresenceMirror string `env:"PRESENCE_MIRROR,default=redis"`
	RedisAddr      string `env:"REDIS_ADDR,default=localhost:6379"`

	// kafka or none
	EventStream  string `env:"EVENT_STREAM,default=kafka"`
	KafkaBrokers string `env:"KAFKA_BROKERS,default=localhost:19092"`
	KafkaTopic   string `env:"KAFKA_TOPIC,default=chat-events"`

	RingTimeout      time.Duration `env:"RING_TIMEOUT,default=30s"`
	StoreTimeout     time.Duration `env:"STORE_TIMEOUT,default=5s"`
	MaxContentLength int           `env:"MAX_CONTENT_LENGTH,default=4000"`
	SendBuffer       int           `env:"SEND_BUFFER,default=256"`
	HistoryLimit     int           `env:"HISTORY_LIMIT,default=100"`
}

func (c Config) Hub() realtime.Config {
	return realtime.Config{
		RingTimeout:      c.RingTimeout,
		StoreTimeout:     c.StoreTimeout,
		MaxContentLength: c.MaxContentLength,
		SendBuffer:       c.SendBuffer,
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
