package realtime

import (
	"encoding/json"
	"time"

	"github.com/mahaj/tutor-realtime/pkg/model"
)

// Inbound events (client -> gateway).
const (
	EventJoinConversation = "join_conversation"
	EventSendMessage      = "send_message"
	EventTypingStart      = "typing_start"
	EventTypingStop       = "typing_stop"
	EventMarkRead         = "mark_read"
	EventCallUser         = "call_user"
	EventCallAccepted     = "call_accepted"
	EventCallRejected     = "call_rejected"
	EventIceCandidate     = "ice_candidate"
	EventEndCall          = "end_call"
)

// Outbound events (gateway -> client). call_accepted, call_rejected and
// ice_candidate share their names with the inbound events they answer.
const (
	EventUserOnline              = "user_online"
	EventUserOffline             = "user_offline"
	EventJoinConversationSuccess = "join_conversation_success"
	EventMessageSent             = "message_sent"
	EventNewMessage              = "new_message"
	EventMessageRead             = "message_read"
	EventMessagesRead            = "messages_read"
	EventUserTyping              = "user_typing"
	EventIncomingCall            = "incoming_call"
	EventCallFailed              = "call_failed"
	EventCallEnded               = "call_ended"
	EventError                   = "error"
)

// Envelope is the frame used in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func encode(event string, data any) ([]byte, error) {
	return json.Marshal(outbound{Event: event, Data: data})
}

type JoinConversationRequest struct {
	ConversationID string `json:"conversationId"`
	RecipientID    string `json:"recipientId" validate:"required,excludes=:"`
}

type SendMessageRequest struct {
	RecipientID string   `json:"recipientId" validate:"required,excludes=:"`
	Content     string   `json:"content"`
	Attachments []string `json:"attachments" validate:"omitempty,dive,required"`
}

type TypingRequest struct {
	RecipientID    string `json:"recipientId" validate:"required,excludes=:"`
	ConversationID string `json:"conversationId"`
}

type MarkReadRequest struct {
	MessageIDs []model.MessageID `json:"messageIds" validate:"required,min=1"`
	SenderID   string            `json:"senderId" validate:"required,excludes=:"`
}

type CallUserRequest struct {
	RecipientID string          `json:"recipientId" validate:"required,excludes=:"`
	Offer       json.RawMessage `json:"offer" validate:"required"`
	CallType    string          `json:"callType" validate:"required,oneof=audio video"`
}

type CallAcceptedRequest struct {
	CallerID string          `json:"callerId" validate:"required,excludes=:"`
	Answer   json.RawMessage `json:"answer" validate:"required"`
}

type CallRejectedRequest struct {
	CallerID string `json:"callerId" validate:"required,excludes=:"`
	Reason   string `json:"reason"`
}

type IceCandidateRequest struct {
	RecipientID string          `json:"recipientId" validate:"required,excludes=:"`
	Candidate   json.RawMessage `json:"candidate" validate:"required"`
}

type EndCallRequest struct {
	RecipientID string `json:"recipientId" validate:"required,excludes=:"`
	Reason      string `json:"reason"`
}

type PresencePayload struct {
	UserID   string    `json:"userId"`
	LastSeen time.Time `json:"lastSeen"`
}

type JoinConversationSuccess struct {
	ConversationID string `json:"conversationId"`
}

type MessageReadPayload struct {
	MessageID model.MessageID `json:"messageId"`
	ReadAt    time.Time       `json:"readAt"`
}

type MessagesReadPayload struct {
	MessageIDs     []model.MessageID `json:"messageIds"`
	ConversationID string            `json:"conversationId"`
	ReadBy         string            `json:"readBy"`
}

type UserTypingPayload struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type IncomingCallPayload struct {
	CallID       string          `json:"callId"`
	CallerID     string          `json:"callerId"`
	CallerName   string          `json:"callerName"`
	CallerAvatar string          `json:"callerAvatar"`
	CallerRole   string          `json:"callerRole"`
	Offer        json.RawMessage `json:"offer"`
	CallType     string          `json:"callType"`
	Timestamp    time.Time       `json:"timestamp"`
}

type CallAcceptedPayload struct {
	RecipientID string          `json:"recipientId"`
	Answer      json.RawMessage `json:"answer"`
}

type CallRejectedPayload struct {
	RecipientID string `json:"recipientId"`
	Reason      string `json:"reason"`
}

type CallFailedPayload struct {
	Message string `json:"message"`
}

type IceCandidatePayload struct {
	SenderID  string          `json:"senderId"`
	Candidate json.RawMessage `json:"candidate"`
}

type CallEndedPayload struct {
	UserID string `json:"userId"`
	Reason string `json:"reason"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
