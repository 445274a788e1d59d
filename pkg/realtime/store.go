package realtime

//go:generate mockgen -destination=mocks/store.go -package=mocks . Store

import (
	"context"
	"time"

	"github.com/mahaj/tutor-realtime/pkg/model"
)

// Store is the durable user/message store the relay persists through.
type Store interface {
	FindUser(ctx context.Context, userID string) (model.User, error)
	SetLastSeen(ctx context.Context, userID string, at time.Time) error
	CreateMessage(ctx context.Context, msg *model.Message) error
	// MarkConversationRead flips every unread message from counterpartID to readerID
	// and returns only the ids this call changed.
	MarkConversationRead(ctx context.Context, readerID, counterpartID string, at time.Time) ([]model.MessageID, error)
	// MarkMessagesRead is MarkConversationRead restricted to ids.
	MarkMessagesRead(ctx context.Context, readerID, senderID string, ids []model.MessageID, at time.Time) ([]model.MessageID, error)
}

// PresenceMirror receives online/offline transitions for consumers outside this process.
type PresenceMirror interface {
	MarkOnline(ctx context.Context, userID string) error
	MarkOffline(ctx context.Context, userID string, lastSeen time.Time) error
}

// EventPublisher ships durable chat changes to the event stream.
type EventPublisher interface {
	Publish(ctx context.Context, ev model.ChatEvent) error
}

type noopMirror struct{}

func (noopMirror) MarkOnline(context.Context, string) error             { return nil }
func (noopMirror) MarkOffline(context.Context, string, time.Time) error { return nil }

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, model.ChatEvent) error { return nil }
