// Package memstore is an in-process user and message store for local runs and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mahaj/tutor-realtime/pkg/model"
	"github.com/samber/lo"
)

type Store struct {
	mu       sync.RWMutex
	users    map[string]model.User
	messages map[string][]*model.Message // conversation_id -> messages in send order
}

func New(users ...model.User) *Store {
	s := &Store{
		users:    make(map[string]model.User),
		messages: make(map[string][]*model.Message),
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *Store) PutUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) FindUser(_ context.Context, userID string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return model.User{}, model.ErrNotFound
	}
	return u, nil
}

func (s *Store) SetLastSeen(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return model.ErrNotFound
	}
	u.LastSeen = at
	s.users[userID] = u
	return nil
}

func (s *Store) CreateMessage(_ context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *msg
	stored.Attachments = append([]string(nil), msg.Attachments...)
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &stored)
	return nil
}

func (s *Store) MarkConversationRead(_ context.Context, readerID, counterpartID string, at time.Time) ([]model.MessageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markLocked(readerID, counterpartID, nil, at), nil
}

func (s *Store) MarkMessagesRead(_ context.Context, readerID, senderID string, ids []model.MessageID, at time.Time) ([]model.MessageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markLocked(readerID, senderID, lo.SliceToMap(ids, func(id model.MessageID) (model.MessageID, bool) {
		return id, true
	}), at), nil
}

// markLocked flips unread senderID->readerID messages; only is limits it to a set of ids.
func (s *Store) markLocked(readerID, senderID string, only map[model.MessageID]bool, at time.Time) []model.MessageID {
	var changed []model.MessageID
	for _, m := range s.messages[model.ConversationID(readerID, senderID)] {
		if m.IsRead || m.SenderID != senderID || m.ReceiverID != readerID {
			continue
		}
		if only != nil && !only[m.ID] {
			continue
		}
		readAt := at
		m.IsRead = true
		m.ReadAt = &readAt
		changed = append(changed, m.ID)
	}
	return changed
}

// ConversationMessages returns up to limit most recent messages between a and b, oldest first.
func (s *Store) ConversationMessages(_ context.Context, a, b string, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[model.ConversationID(a, b)]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := lo.Map(all, func(m *model.Message, _ int) model.Message { return *m })
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListConversations derives summaries from stored messages.
func (s *Store) ListConversations(_ context.Context, userID string) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Conversation
	for _, msgs := range s.messages {
		if len(msgs) == 0 {
			continue
		}
		first := msgs[0]
		var other string
		switch userID {
		case first.SenderID:
			other = first.ReceiverID
		case first.ReceiverID:
			other = first.SenderID
		default:
			continue
		}
		c := model.Conversation{UserID: userID, OtherUserID: other}
		for _, m := range msgs {
			if m.CreatedAt.After(c.LastUpdated) {
				c.LastUpdated = m.CreatedAt
			}
			if m.ReceiverID == userID && !m.IsRead {
				c.UnreadCount++
			}
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUpdated.After(out[j].LastUpdated) })
	return out, nil
}
