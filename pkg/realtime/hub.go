package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mahaj/tutor-realtime/pkg/model"
	"github.com/mahaj/tutor-realtime/pkg/snowflake"
	"go.uber.org/zap"
)

type Config struct {
	// How long an unanswered call keeps ringing.
	RingTimeout time.Duration
	// Upper bound for a single store call made while handling an event.
	StoreTimeout time.Duration
	// Maximum message length in characters; 0 disables the check.
	MaxContentLength int
	// Outbound frames buffered per connection before it is considered too slow.
	SendBuffer int
}

func (c Config) withDefaults() Config {
	if c.RingTimeout <= 0 {
		c.RingTimeout = 30 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	return c
}

// Hub owns the process-wide realtime state: presence, channel membership and
// call sessions. Transports hand it authenticated connections and raw frames.
type Hub struct {
	cfg      Config
	log      *zap.Logger
	store    Store
	mirror   PresenceMirror
	events   EventPublisher
	ids      *snowflake.Node
	presence *Presence
	rooms    *Rooms
	calls    *Calls
	pairs    *keyedMutex
	writes   *writeQueue
	validate *validator.Validate
	now      func() time.Time
}

type Option func(*Hub)

func WithPresenceMirror(m PresenceMirror) Option {
	return func(h *Hub) { h.mirror = m }
}

func WithEventPublisher(p EventPublisher) Option {
	return func(h *Hub) { h.events = p }
}

func NewHub(cfg Config, store Store, ids *snowflake.Node, log *zap.Logger, opts ...Option) *Hub {
	h := &Hub{
		cfg:      cfg.withDefaults(),
		log:      log,
		store:    store,
		mirror:   noopMirror{},
		events:   noopPublisher{},
		ids:      ids,
		presence: NewPresence(),
		rooms:    NewRooms(),
		pairs:    newKeyedMutex(),
		validate: validator.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.calls = NewCalls(h.cfg.RingTimeout, h.callTimedOut)
	h.writes = newWriteQueue(h.cfg.StoreTimeout, h.writeFailed)
	return h
}

// Connect registers an authenticated connection and subscribes it to its
// personal channel. The first connection of a user announces user_online.
func (h *Hub) Connect(identity model.Identity) *Conn {
	c := newConn(identity, h.cfg.SendBuffer)
	userID := identity.UserID

	// Join before registering so nothing published after the user turns online is missed.
	h.rooms.Join(c, PersonalChannel(userID))
	ConnectionsActive.Inc()

	h.presence.Register(c, func() {
		now := h.now()
		UsersOnline.Inc()
		h.writes.Enqueue(userID, "mirror_online", func(ctx context.Context) error {
			return h.mirror.MarkOnline(ctx, userID)
		})
		h.broadcast(EventUserOnline, PresencePayload{UserID: userID, LastSeen: now})
	})

	h.log.Info("client registered",
		zap.String("user_id", userID),
		zap.String("conn_id", c.ID),
	)
	return c
}

// Disconnect runs the unregister path for c. It is safe to call more than once.
func (h *Hub) Disconnect(c *Conn) {
	userID := c.Identity.UserID

	removed := h.presence.Unregister(c, func() {
		lastSeen := h.now()
		UsersOnline.Dec()
		h.writes.Enqueue(userID, "last_seen", func(ctx context.Context) error {
			return h.store.SetLastSeen(ctx, userID, lastSeen)
		})
		h.writes.Enqueue(userID, "mirror_offline", func(ctx context.Context) error {
			return h.mirror.MarkOffline(ctx, userID, lastSeen)
		})
		h.broadcast(EventUserOffline, PresencePayload{UserID: userID, LastSeen: lastSeen})

		for _, s := range h.calls.Drop(userID) {
			CallsFinished.WithLabelValues(string(s.State)).Inc()
			h.sendTo(s.Counterpart(userID), EventCallEnded, CallEndedPayload{UserID: userID, Reason: "disconnected"})
		}
	})
	h.rooms.LeaveAll(c)
	c.Close()

	if removed {
		ConnectionsActive.Dec()
		h.log.Info("client unregistered",
			zap.String("user_id", userID),
			zap.String("conn_id", c.ID),
		)
	}
}

// Shutdown stops call timers, disconnects every connection and waits for
// the last-seen and mirror writes that produced.
func (h *Hub) Shutdown() {
	h.calls.Stop()
	h.presence.Each(h.Disconnect)
	h.writes.Close()
}

func (h *Hub) IsOnline(userID string) bool {
	return h.presence.IsOnline(userID)
}

func (h *Hub) ListOnline() []string {
	return h.presence.ListOnline()
}

// Handle decodes one inbound frame from c and dispatches it. Client errors
// become error events on c; a panic closes c only.
func (h *Hub) Handle(ctx context.Context, c *Conn, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		EventsHandled.WithLabelValues("malformed", "error").Inc()
		h.replyError(c, fmt.Errorf("%w: malformed frame", ErrInvalidPayload))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			h.log.Error("panic while handling event",
				zap.String("event", env.Event),
				zap.String("conn_id", c.ID),
				zap.Any("panic", r),
			)
			c.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, h.cfg.StoreTimeout)
	defer cancel()

	label := env.Event
	err := h.dispatch(ctx, c, env)
	if errors.Is(err, ErrUnknownEvent) {
		label = "unknown"
	}
	if err != nil {
		EventsHandled.WithLabelValues(label, "error").Inc()
		h.replyError(c, err)
		return
	}
	EventsHandled.WithLabelValues(label, "ok").Inc()
}

func (h *Hub) dispatch(ctx context.Context, c *Conn, env Envelope) error {
	self := c.Identity.UserID

	switch env.Event {
	case EventJoinConversation:
		req, err := decode[JoinConversationRequest](h.validate, env.Data)
		if err != nil {
			return err
		}
		return h.JoinConversation(ctx, c, req.RecipientID)

	case EventSendMessage:
		req, err := decode[SendMessageRequest](h.validate, env.Data)
		if err != nil {
			return err
		}
		_, err = h.SendMessage(ctx, self, req.RecipientID, req.Content, req.Attachments)
		return err

	case EventTypingStart, EventTypingStop:
		req, err := decode[TypingRequest](h.validate, env.Data)
		if err != nil {
			return err
		}
		h.Typing(self, req.RecipientID, env.Event == EventTypingStart)
		return nil

	case EventMarkRead:
		req, err := decode[MarkReadRequest](h.validate, env.Data)
		if err != nil {
			return err
		}
		_, err = h.MarkMessagesRead(ctx, self, req.SenderID, req.MessageIDs)
		return err

	case EventCallUser:
		req, err := decode[CallUserRequest](h.validate, env.Data)
		if err != nil {
			return err
		}
		return h.CallUser(ctx, c, req)

	case EventCallAccepted:
		req, err := decode[CallAcceptedRequest](h.validate, env.Data)
		if err != nil {
			return err
		}
		return h.AcceptCall(self, req.CallerID, req.Answer)

	case EventCallRejected:
		req, err := decode[CallRejectedRequest](h.validate, env.Data)
		if err != nil {
			return err
		}
		return h.RejectCall(self, req.CallerID, req.Reason)

	case EventIceCandidate:
		req, err := decode[IceCandidateRequest](h.validate, env.Data)
		if err != nil {
			return err
		}
		return h.RelayIceCandidate(self, req.RecipientID, req.Candidate)

	case EventEndCall:
		req, err := decode[EndCallRequest](h.validate, env.Data)
		if err != nil {
			return err
		}
		return h.EndCall(self, req.RecipientID, req.Reason)
	}

	return fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
}

func decode[T any](v *validator.Validate, data json.RawMessage) (T, error) {
	var req T
	if len(data) == 0 {
		return req, fmt.Errorf("%w: missing data", ErrInvalidPayload)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := v.Struct(req); err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return req, nil
}

var clientErrors = []error{
	ErrInvalidMessage,
	ErrUnknownRecipient,
	ErrUnknownUser,
	ErrRecipientOffline,
	ErrCallAlreadyInProgress,
	ErrCallStateConflict,
	ErrUnknownEvent,
	ErrInvalidPayload,
}

func (h *Hub) replyError(c *Conn, err error) {
	msg := "internal error"
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			msg = err.Error()
			break
		}
	}
	if msg == "internal error" {
		h.log.Error("event failed",
			zap.String("user_id", c.Identity.UserID),
			zap.String("conn_id", c.ID),
			zap.Error(err),
		)
	}
	h.reply(c, EventError, ErrorPayload{Message: msg})
}

// reply delivers one event to a single connection.
func (h *Hub) reply(c *Conn, event string, data any) {
	frame, err := encode(event, data)
	if err != nil {
		h.log.Error("failed to marshal event", zap.String("event", event), zap.Error(err))
		return
	}
	if !c.deliver(frame) {
		DeliveriesDropped.Inc()
	}
}

// publish delivers one event to every member of channel and returns how many
// connections accepted it.
func (h *Hub) publish(channel, event string, data any) int {
	frame, err := encode(event, data)
	if err != nil {
		h.log.Error("failed to marshal event", zap.String("event", event), zap.Error(err))
		return 0
	}
	n := 0
	for _, c := range h.rooms.MembersOf(channel) {
		if c.deliver(frame) {
			n++
		} else {
			DeliveriesDropped.Inc()
		}
	}
	return n
}

func (h *Hub) sendTo(userID, event string, data any) int {
	return h.publish(PersonalChannel(userID), event, data)
}

func (h *Hub) broadcast(event string, data any) {
	frame, err := encode(event, data)
	if err != nil {
		h.log.Error("failed to marshal event", zap.String("event", event), zap.Error(err))
		return
	}
	h.presence.Each(func(c *Conn) {
		if !c.deliver(frame) {
			DeliveriesDropped.Inc()
		}
	})
}

// bestEffort runs a side write that must never fail the caller.
func (h *Hub) bestEffort(op string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.StoreTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		h.writeFailed(op, err)
	}
}

func (h *Hub) writeFailed(op string, err error) {
	StoreFailures.WithLabelValues(op).Inc()
	h.log.Warn("best-effort write failed", zap.String("op", op), zap.Error(err))
}

func (h *Hub) publishEvent(ev model.ChatEvent) {
	h.bestEffort("publish_"+string(ev.Kind), func(ctx context.Context) error {
		return h.events.Publish(ctx, ev)
	})
}
