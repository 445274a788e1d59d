package realtime

import (
	"hash/fnv"
	"sync"

	"github.com/samber/lo"
)

const presenceShards = 32

type presenceShard struct {
	mu    sync.RWMutex
	conns map[string]map[string]*Conn // user_id -> conn_id -> conn
}

// Presence maps user ids to their live connections. A user is online while
// at least one connection is registered.
type Presence struct {
	shards [presenceShards]presenceShard
	// transitions serializes register/unregister per user, including the
	// presence events they emit.
	transitions *keyedMutex
}

func NewPresence() *Presence {
	p := &Presence{transitions: newKeyedMutex()}
	for i := range p.shards {
		p.shards[i].conns = make(map[string]map[string]*Conn)
	}
	return p
}

func (p *Presence) shard(userID string) *presenceShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &p.shards[h.Sum32()%presenceShards]
}

// Register adds c. When c is the user's first live connection, onFirst runs
// before any other transition for the same user can start. onFirst must not
// block: other users are unaffected but this user's next transition waits.
func (p *Presence) Register(c *Conn, onFirst func()) bool {
	s := p.shard(c.Identity.UserID)
	defer p.transitions.Lock(c.Identity.UserID)()

	s.mu.Lock()
	userConns, ok := s.conns[c.Identity.UserID]
	if !ok {
		userConns = make(map[string]*Conn)
		s.conns[c.Identity.UserID] = userConns
	}
	userConns[c.ID] = c
	first := len(userConns) == 1
	s.mu.Unlock()

	if first && onFirst != nil {
		onFirst()
	}
	return first
}

// Unregister removes c and reports whether it was registered. When it was the
// user's last connection, onLast runs under the same per-user serialization
// as Register.
func (p *Presence) Unregister(c *Conn, onLast func()) bool {
	s := p.shard(c.Identity.UserID)
	defer p.transitions.Lock(c.Identity.UserID)()

	s.mu.Lock()
	userConns, ok := s.conns[c.Identity.UserID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if _, ok := userConns[c.ID]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(userConns, c.ID)
	last := len(userConns) == 0
	if last {
		delete(s.conns, c.Identity.UserID)
	}
	s.mu.Unlock()

	if last && onLast != nil {
		onLast()
	}
	return true
}

func (p *Presence) IsOnline(userID string) bool {
	s := p.shard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns[userID]) > 0
}

func (p *Presence) Connections(userID string) []*Conn {
	s := p.shard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Values(s.conns[userID])
}

func (p *Presence) ListOnline() []string {
	var users []string
	for i := range p.shards {
		s := &p.shards[i]
		s.mu.RLock()
		users = append(users, lo.Keys(s.conns)...)
		s.mu.RUnlock()
	}
	return users
}

// Each calls fn for every live connection, outside any shard lock.
func (p *Presence) Each(fn func(*Conn)) {
	for i := range p.shards {
		s := &p.shards[i]
		s.mu.RLock()
		conns := make([]*Conn, 0, len(s.conns))
		for _, userConns := range s.conns {
			conns = append(conns, lo.Values(userConns)...)
		}
		s.mu.RUnlock()

		for _, c := range conns {
			fn(c)
		}
	}
}

func (p *Presence) Count() int {
	n := 0
	for i := range p.shards {
		s := &p.shards[i]
		s.mu.RLock()
		n += len(s.conns)
		s.mu.RUnlock()
	}
	return n
}
