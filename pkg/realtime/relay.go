package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mahaj/tutor-realtime/pkg/model"
	"go.uber.org/zap"
)

// SendMessage persists a message and delivers it. The sender is acknowledged
// with message_sent once the store accepted the write; an online receiver gets
// new_message, and if it is looking at the conversation the message is read
// on the spot. Read receipts for the pair never overtake these events.
func (h *Hub) SendMessage(ctx context.Context, senderID, receiverID, content string, attachments []string) (model.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" && len(attachments) == 0 {
		return model.Message{}, ErrInvalidMessage
	}
	if limit := h.cfg.MaxContentLength; limit > 0 && utf8.RuneCountInString(content) > limit {
		return model.Message{}, fmt.Errorf("%w: content longer than %d characters", ErrInvalidMessage, limit)
	}
	if receiverID == senderID {
		return model.Message{}, fmt.Errorf("%w: cannot message yourself", ErrUnknownRecipient)
	}

	if _, err := h.store.FindUser(ctx, receiverID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Message{}, fmt.Errorf("%w: %s", ErrUnknownRecipient, receiverID)
		}
		return model.Message{}, fmt.Errorf("find recipient: %w", err)
	}

	if attachments == nil {
		attachments = []string{}
	}

	// Receipts for this pair wait until message_sent and new_message are queued.
	defer h.pairs.Lock(model.ConversationID(senderID, receiverID))()

	msg := model.Message{
		ID:             model.MessageID(h.ids.Generate()),
		ConversationID: model.ConversationID(senderID, receiverID),
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Content:        content,
		Attachments:    attachments,
		CreatedAt:      h.now(),
	}
	if err := h.store.CreateMessage(ctx, &msg); err != nil {
		return model.Message{}, fmt.Errorf("persist message: %w", err)
	}
	MessagesSent.Inc()

	h.sendTo(senderID, EventMessageSent, msg)
	created := msg
	h.publishEvent(model.ChatEvent{Kind: model.EventMessageCreated, Message: &created, At: msg.CreatedAt})

	if !h.presence.IsOnline(receiverID) {
		return msg, nil
	}
	h.sendTo(receiverID, EventNewMessage, msg)

	if h.rooms.HasUser(ConversationChannel(senderID, receiverID), receiverID) {
		h.readInView(ctx, &msg)
	}
	return msg, nil
}

// readInView marks msg read because its receiver has the conversation open.
// The caller holds the pair lock.
func (h *Hub) readInView(ctx context.Context, msg *model.Message) {
	readAt := h.now()
	ids, err := h.store.MarkMessagesRead(ctx, msg.ReceiverID, msg.SenderID, []model.MessageID{msg.ID}, readAt)
	if err != nil {
		StoreFailures.WithLabelValues("mark_read").Inc()
		h.log.Warn("failed to mark in-view message read",
			zap.Stringer("message_id", msg.ID),
			zap.Error(err),
		)
		return
	}
	if len(ids) == 0 {
		return
	}

	msg.IsRead = true
	msg.ReadAt = &readAt
	h.sendTo(msg.SenderID, EventMessageRead, MessageReadPayload{MessageID: msg.ID, ReadAt: readAt})
	h.publishEvent(model.ChatEvent{
		Kind:          model.EventMessagesRead,
		ReaderID:      msg.ReceiverID,
		CounterpartID: msg.SenderID,
		MessageIDs:    ids,
		At:            readAt,
	})
}

// MarkRead marks everything counterpartID sent to readerID as read and returns
// the flipped ids with the read time stamped on them. Calling it again is a
// no-op: messages_read only goes out for messages this call flipped.
func (h *Hub) MarkRead(ctx context.Context, readerID, counterpartID string) ([]model.MessageID, time.Time, error) {
	defer h.pairs.Lock(model.ConversationID(readerID, counterpartID))()

	readAt := h.now()
	ids, err := h.store.MarkConversationRead(ctx, readerID, counterpartID, readAt)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("mark conversation read: %w", err)
	}
	h.notifyRead(readerID, counterpartID, ids, readAt)
	return ids, readAt, nil
}

// MarkMessagesRead is MarkRead limited to ids sent by senderID.
func (h *Hub) MarkMessagesRead(ctx context.Context, readerID, senderID string, ids []model.MessageID) ([]model.MessageID, error) {
	defer h.pairs.Lock(model.ConversationID(readerID, senderID))()

	readAt := h.now()
	changed, err := h.store.MarkMessagesRead(ctx, readerID, senderID, ids, readAt)
	if err != nil {
		return nil, fmt.Errorf("mark messages read: %w", err)
	}
	h.notifyRead(readerID, senderID, changed, readAt)
	return changed, nil
}

func (h *Hub) notifyRead(readerID, counterpartID string, ids []model.MessageID, readAt time.Time) {
	if len(ids) == 0 {
		return
	}
	h.publishEvent(model.ChatEvent{
		Kind:          model.EventMessagesRead,
		ReaderID:      readerID,
		CounterpartID: counterpartID,
		MessageIDs:    ids,
		At:            readAt,
	})
	if !h.presence.IsOnline(counterpartID) {
		return
	}
	h.sendTo(counterpartID, EventMessagesRead, MessagesReadPayload{
		MessageIDs:     ids,
		ConversationID: model.ConversationID(readerID, counterpartID),
		ReadBy:         readerID,
	})
}

// JoinConversation moves c into the conversation channel shared with
// recipientID. Entering the thread is the read signal for its unread messages.
func (h *Hub) JoinConversation(ctx context.Context, c *Conn, recipientID string) error {
	self := c.Identity.UserID
	if recipientID == self {
		return fmt.Errorf("%w: cannot join a conversation with yourself", ErrInvalidPayload)
	}

	h.rooms.Join(c, ConversationChannel(self, recipientID))
	h.reply(c, EventJoinConversationSuccess, JoinConversationSuccess{
		ConversationID: model.ConversationID(self, recipientID),
	})

	if _, _, err := h.MarkRead(ctx, self, recipientID); err != nil {
		StoreFailures.WithLabelValues("mark_read").Inc()
		h.log.Warn("failed to mark conversation read on join",
			zap.String("user_id", self),
			zap.String("counterpart_id", recipientID),
			zap.Error(err),
		)
	}
	return nil
}

// Typing relays a typing indicator. Offline recipients are ignored.
func (h *Hub) Typing(fromID, toID string, isTyping bool) {
	if !h.presence.IsOnline(toID) {
		return
	}
	h.sendTo(toID, EventUserTyping, UserTypingPayload{
		UserID:         fromID,
		ConversationID: model.ConversationID(fromID, toID),
		IsTyping:       isTyping,
	})
}
