package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPresence_Mirror(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	req := require.New(t)
	ctx := context.Background()

	p, err := NewPresence(ctx, addr)
	req.NoError(err)
	t.Cleanup(func() { _ = p.Close() })
	req.NoError(p.Reset(ctx))

	req.NoError(p.MarkOnline(ctx, "alice"))
	req.NoError(p.MarkOnline(ctx, "bob"))
	online, err := p.Online(ctx)
	req.NoError(err)
	req.ElementsMatch([]string{"alice", "bob"}, online)

	seen := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	req.NoError(p.MarkOffline(ctx, "alice", seen))
	online, err = p.Online(ctx)
	req.NoError(err)
	req.Equal([]string{"bob"}, online)

	got, err := p.LastSeen(ctx, "alice")
	req.NoError(err)
	req.True(seen.Equal(got))

	got, err = p.LastSeen(ctx, "nobody")
	req.NoError(err)
	req.True(got.IsZero())
}
