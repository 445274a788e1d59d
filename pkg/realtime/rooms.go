package realtime

import (
	"strings"
	"sync"

	"github.com/mahaj/tutor-realtime/pkg/model"
	"github.com/samber/lo"
)

const (
	personalPrefix     = "user:"
	conversationPrefix = "conversation:"
)

func PersonalChannel(userID string) string {
	return personalPrefix + userID
}

func ConversationChannel(a, b string) string {
	return conversationPrefix + model.ConversationID(a, b)
}

// Rooms tracks channel membership. A connection sits in its personal channel
// for its whole lifetime and in at most one conversation channel.
type Rooms struct {
	mu      sync.RWMutex
	members map[string]map[string]*Conn // channel -> conn_id -> conn
	joined  map[string]map[string]bool  // conn_id -> channels
}

func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[string]map[string]*Conn),
		joined:  make(map[string]map[string]bool),
	}
}

// Join subscribes c to channel. Joining a conversation channel leaves the
// previous one; the left channel name is returned ("" if none).
func (r *Rooms) Join(c *Conn, channel string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left string
	if strings.HasPrefix(channel, conversationPrefix) {
		for ch := range r.joined[c.ID] {
			if ch != channel && strings.HasPrefix(ch, conversationPrefix) {
				r.leaveLocked(c, ch)
				left = ch
			}
		}
	}

	if r.members[channel] == nil {
		r.members[channel] = make(map[string]*Conn)
	}
	r.members[channel][c.ID] = c

	if r.joined[c.ID] == nil {
		r.joined[c.ID] = make(map[string]bool)
	}
	r.joined[c.ID][channel] = true
	return left
}

// LeaveAll drops every membership of c.
func (r *Rooms) LeaveAll(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for ch := range r.joined[c.ID] {
		r.leaveLocked(c, ch)
	}
	delete(r.joined, c.ID)
}

func (r *Rooms) leaveLocked(c *Conn, channel string) {
	if members, ok := r.members[channel]; ok {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(r.members, channel)
		}
	}
	if chans, ok := r.joined[c.ID]; ok {
		delete(chans, channel)
	}
}

func (r *Rooms) MembersOf(channel string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.members[channel])
}

func (r *Rooms) ChannelsOf(c *Conn) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.joined[c.ID])
}

// HasUser reports whether any connection of userID is a member of channel.
func (r *Rooms) HasUser(channel, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.members[channel] {
		if c.Identity.UserID == userID {
			return true
		}
	}
	return false
}
