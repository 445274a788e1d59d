package db

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/gocql/gocql"
	"github.com/mahaj/tutor-realtime/pkg/model"
	"github.com/samber/lo"
)

const messageColumns = `conversation_id, id, sender_id, receiver_id, content, attachments, is_read, read_at, created_at`

// Store is the ScyllaDB-backed user and message store.
type Store struct {
	s *Session
}

func NewStore(s *Session) *Store {
	return &Store{s: s}
}

func (st *Store) FindUser(ctx context.Context, userID string) (model.User, error) {
	var u model.User
	err := st.s.Query(`SELECT id, name, avatar, role, last_seen FROM users WHERE id = ?`, userID).
		WithContext(ctx).
		Scan(&u.ID, &u.Name, &u.Avatar, &u.Role, &u.LastSeen)
	if errors.Is(err, gocql.ErrNotFound) {
		return model.User{}, model.ErrNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("select user %s: %w", userID, err)
	}
	return u, nil
}

// PutUser upserts a profile. Profiles are owned elsewhere; this exists for seeding.
func (st *Store) PutUser(ctx context.Context, u model.User) error {
	err := st.s.Query(`INSERT INTO users (id, name, avatar, role, last_seen) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Avatar, u.Role, u.LastSeen).
		WithContext(ctx).
		Exec()
	if err != nil {
		return fmt.Errorf("insert user %s: %w", u.ID, err)
	}
	return nil
}

func (st *Store) SetLastSeen(ctx context.Context, userID string, at time.Time) error {
	err := st.s.Query(`UPDATE users SET last_seen = ? WHERE id = ?`, at, userID).
		WithContext(ctx).
		Exec()
	if err != nil {
		return fmt.Errorf("update last_seen for %s: %w", userID, err)
	}
	return nil
}

func (st *Store) CreateMessage(ctx context.Context, msg *model.Message) error {
	q := `INSERT INTO messages (` + messageColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	err := st.s.Query(q,
		msg.ConversationID, int64(msg.ID), msg.SenderID, msg.ReceiverID,
		msg.Content, msg.Attachments, msg.IsRead, msg.ReadAt, msg.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("insert message %s: %w", msg.ID, err)
	}
	return nil
}

func (st *Store) MarkConversationRead(ctx context.Context, readerID, counterpartID string, at time.Time) ([]model.MessageID, error) {
	return st.markRead(ctx, readerID, counterpartID, nil, at)
}

func (st *Store) MarkMessagesRead(ctx context.Context, readerID, senderID string, ids []model.MessageID, at time.Time) ([]model.MessageID, error) {
	only := lo.SliceToMap(ids, func(id model.MessageID) (model.MessageID, bool) { return id, true })
	return st.markRead(ctx, readerID, senderID, only, at)
}

// markRead flips unread senderID->readerID messages with a conditional update
// per row, so two readers racing on the same message report it once.
func (st *Store) markRead(ctx context.Context, readerID, senderID string, only map[model.MessageID]bool, at time.Time) ([]model.MessageID, error) {
	conversationID := model.ConversationID(readerID, senderID)
	iter := st.s.Query(`SELECT id, sender_id, is_read FROM messages WHERE conversation_id = ?`, conversationID).
		WithContext(ctx).
		Iter()

	var candidates []int64
	var (
		id     int64
		sender string
		isRead bool
	)
	for iter.Scan(&id, &sender, &isRead) {
		if isRead || sender != senderID {
			continue
		}
		if only != nil && !only[model.MessageID(id)] {
			continue
		}
		candidates = append(candidates, id)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("scan unread messages in %s: %w", conversationID, err)
	}

	var changed []model.MessageID
	for _, id := range candidates {
		applied, err := st.s.Query(`UPDATE messages SET is_read = true, read_at = ? WHERE conversation_id = ? AND id = ? IF is_read = false`,
			at, conversationID, id).
			WithContext(ctx).
			MapScanCAS(map[string]interface{}{})
		if err != nil {
			return changed, fmt.Errorf("mark message %d read: %w", id, err)
		}
		if applied {
			changed = append(changed, model.MessageID(id))
		}
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i] < changed[j] })
	return changed, nil
}

// ConversationMessages returns up to limit most recent messages between a and b, oldest first.
func (st *Store) ConversationMessages(ctx context.Context, a, b string, limit int) ([]model.Message, error) {
	conversationID := model.ConversationID(a, b)
	q := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = ?`
	args := []interface{}{conversationID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	iter := st.s.Query(q, args...).WithContext(ctx).Iter()

	var messages []model.Message
	var (
		m      model.Message
		id     int64
		readAt time.Time
	)
	for iter.Scan(&m.ConversationID, &id, &m.SenderID, &m.ReceiverID, &m.Content, &m.Attachments, &m.IsRead, &readAt, &m.CreatedAt) {
		m.ID = model.MessageID(id)
		m.ReadAt = nil
		if !readAt.IsZero() {
			r := readAt
			m.ReadAt = &r
		}
		if m.Attachments == nil {
			m.Attachments = []string{}
		}
		messages = append(messages, m)
		m = model.Message{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("scan messages in %s: %w", conversationID, err)
	}

	// Clustering order is newest first.
	slices.Reverse(messages)
	return messages, nil
}

// ListConversations reads the summaries maintained by the messaging worker.
func (st *Store) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	iter := st.s.Query(`SELECT user_id, other_user_id, last_updated FROM user_conversations WHERE user_id = ?`, userID).
		WithContext(ctx).
		Iter()

	var conversations []model.Conversation
	var c model.Conversation
	for iter.Scan(&c.UserID, &c.OtherUserID, &c.LastUpdated) {
		conversations = append(conversations, c)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("scan conversations of %s: %w", userID, err)
	}

	for i := range conversations {
		var count int64
		err := st.s.Query(`SELECT unread_count FROM conversation_counters WHERE user_id = ? AND other_user_id = ?`,
			userID, conversations[i].OtherUserID).
			WithContext(ctx).
			Scan(&count)
		switch {
		case errors.Is(err, gocql.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("read unread count %s/%s: %w", userID, conversations[i].OtherUserID, err)
		default:
			conversations[i].UnreadCount = max(count, 0)
		}
	}

	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].LastUpdated.After(conversations[j].LastUpdated)
	})
	return conversations, nil
}

// TouchConversation records activity between a and b in both users' lists.
func (st *Store) TouchConversation(ctx context.Context, a, b string, at time.Time) error {
	batch := st.s.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO user_conversations (user_id, other_user_id, last_updated) VALUES (?, ?, ?)`, a, b, at)
	batch.Query(`INSERT INTO user_conversations (user_id, other_user_id, last_updated) VALUES (?, ?, ?)`, b, a, at)
	if err := st.s.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("touch conversation %s: %w", model.ConversationID(a, b), err)
	}
	return nil
}

// AddUnread adjusts how many messages from otherID userID has not read yet.
// delta may be negative.
func (st *Store) AddUnread(ctx context.Context, userID, otherID string, delta int64) error {
	err := st.s.Query(`UPDATE conversation_counters SET unread_count = unread_count + ? WHERE user_id = ? AND other_user_id = ?`,
		delta, userID, otherID).
		WithContext(ctx).
		Exec()
	if err != nil {
		return fmt.Errorf("update unread count %s/%s: %w", userID, otherID, err)
	}
	return nil
}
