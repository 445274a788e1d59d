package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned by stores when a user or message does not exist.
var ErrNotFound = errors.New("not found")

type Identity struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

type User struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Avatar   string    `json:"avatar,omitempty"`
	Role     string    `json:"role"`
	LastSeen time.Time `json:"lastSeen,omitempty"`
}

// MessageID is a snowflake id. It travels as a JSON string so browsers keep all 64 bits.
type MessageID int64

func (id MessageID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

func (id MessageID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *MessageID) UnmarshalText(b []byte) error {
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	*id = MessageID(v)
	return nil
}

type Message struct {
	ID             MessageID  `json:"id"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	ReceiverID     string     `json:"receiverId"`
	Content        string     `json:"content"`
	Attachments    []string   `json:"attachments"`
	IsRead         bool       `json:"isRead"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// ConversationID returns the canonical id of the direct conversation between a and b.
// Ids are sorted so both participants derive the same value.
func ConversationID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

type Conversation struct {
	UserID      string    `json:"userId"`
	OtherUserID string    `json:"otherUserId"`
	LastUpdated time.Time `json:"lastUpdated"`
	UnreadCount int64     `json:"unreadCount"`
}

type ChatEventKind string

const (
	EventMessageCreated ChatEventKind = "message_created"
	EventMessagesRead   ChatEventKind = "messages_read"
)

// ChatEvent is what the gateway publishes to the chat event stream after a durable change.
type ChatEvent struct {
	Kind          ChatEventKind `json:"kind"`
	Message       *Message      `json:"message,omitempty"`
	ReaderID      string        `json:"readerId,omitempty"`
	CounterpartID string        `json:"counterpartId,omitempty"`
	MessageIDs    []MessageID   `json:"messageIds,omitempty"`
	At            time.Time     `json:"at"`
}

// ParseUsers reads a comma separated list of id[:name[:role]] entries, as
// used to seed development stores. Name defaults to the id and role to student.
func ParseUsers(s string) ([]User, error) {
	var users []User
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, ":")
		if len(fields) > 3 || fields[0] == "" {
			return nil, fmt.Errorf("bad user entry %q, want id[:name[:role]]", entry)
		}
		u := User{ID: fields[0], Name: fields[0], Role: "student"}
		if len(fields) > 1 && fields[1] != "" {
			u.Name = fields[1]
		}
		if len(fields) > 2 && fields[2] != "" {
			u.Role = fields[2]
		}
		users = append(users, u)
	}
	return users, nil
}
