// Package cache mirrors presence into Redis so processes other than the
// gateway (dashboards, the notification service) can see who is online.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	onlineKey   = "presence:online"
	lastSeenTTL = 30 * 24 * time.Hour
)

func lastSeenKey(userID string) string {
	return fmt.Sprintf("presence:last_seen:%s", userID)
}

type Presence struct {
	client *redis.Client
}

func NewPresence(ctx context.Context, addr string) (*Presence, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return &Presence{client: client}, nil
}

func (p *Presence) Close() error {
	return p.client.Close()
}

func (p *Presence) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Reset clears the online set. A gateway that starts owns the whole set, so
// entries left by a crashed process must not survive it.
func (p *Presence) Reset(ctx context.Context) error {
	return p.client.Del(ctx, onlineKey).Err()
}

func (p *Presence) MarkOnline(ctx context.Context, userID string) error {
	return p.client.SAdd(ctx, onlineKey, userID).Err()
}

func (p *Presence) MarkOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, onlineKey, userID)
		pipe.Set(ctx, lastSeenKey(userID), lastSeen.UTC().Format(time.RFC3339Nano), lastSeenTTL)
		return nil
	})
	return err
}

func (p *Presence) Online(ctx context.Context) ([]string, error) {
	return p.client.SMembers(ctx, onlineKey).Result()
}

// LastSeen returns the zero time when nothing was recorded for userID.
func (p *Presence) LastSeen(ctx context.Context, userID string) (time.Time, error) {
	raw, err := p.client.Get(ctx, lastSeenKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, raw)
}
