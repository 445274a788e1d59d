package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/mahaj/tutor-realtime/pkg/model"
	"github.com/stretchr/testify/require"
)

func message(id model.MessageID, from, to string, at time.Time) *model.Message {
	return &model.Message{
		ID:             id,
		ConversationID: model.ConversationID(from, to),
		SenderID:       from,
		ReceiverID:     to,
		Content:        "msg",
		CreatedAt:      at,
	}
}

func TestStore_Users(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := New(model.User{ID: "alice", Name: "Alice"})

	_, err := s.FindUser(ctx, "bob")
	req.ErrorIs(err, model.ErrNotFound)
	req.ErrorIs(s.SetLastSeen(ctx, "bob", time.Now()), model.ErrNotFound)

	seen := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	req.NoError(s.SetLastSeen(ctx, "alice", seen))
	u, err := s.FindUser(ctx, "alice")
	req.NoError(err)
	req.Equal(seen, u.LastSeen)
	req.Equal("Alice", u.Name)
}

func TestStore_Mark_Read_Only_Flips_Incoming_Unread(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := New()
	now := time.Now()

	req.NoError(s.CreateMessage(ctx, message(1, "alice", "bob", now)))
	req.NoError(s.CreateMessage(ctx, message(2, "bob", "alice", now)))
	req.NoError(s.CreateMessage(ctx, message(3, "alice", "bob", now)))

	ids, err := s.MarkMessagesRead(ctx, "bob", "alice", []model.MessageID{3, 2}, now)
	req.NoError(err)
	req.Equal([]model.MessageID{3}, ids, "message 2 was sent by bob")

	ids, err = s.MarkConversationRead(ctx, "bob", "alice", now)
	req.NoError(err)
	req.Equal([]model.MessageID{1}, ids)

	ids, err = s.MarkConversationRead(ctx, "bob", "alice", now)
	req.NoError(err)
	req.Empty(ids)
}

func TestStore_Conversations(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	req.NoError(s.CreateMessage(ctx, message(1, "alice", "bob", base)))
	req.NoError(s.CreateMessage(ctx, message(2, "alice", "bob", base.Add(time.Minute))))
	req.NoError(s.CreateMessage(ctx, message(3, "carol", "alice", base.Add(time.Hour))))

	msgs, err := s.ConversationMessages(ctx, "bob", "alice", 1)
	req.NoError(err)
	req.Len(msgs, 1)
	req.Equal(model.MessageID(2), msgs[0].ID)

	convs, err := s.ListConversations(ctx, "alice")
	req.NoError(err)
	req.Len(convs, 2)
	req.Equal("carol", convs[0].OtherUserID)
	req.Equal(int64(1), convs[0].UnreadCount)
	req.Equal("bob", convs[1].OtherUserID)
	req.Equal(int64(0), convs[1].UnreadCount)

	convs, err = s.ListConversations(ctx, "bob")
	req.NoError(err)
	req.Len(convs, 1)
	req.Equal(int64(2), convs[0].UnreadCount)
}
