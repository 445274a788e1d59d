package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mahaj/tutor-realtime/pkg/model"
	"github.com/mahaj/tutor-realtime/pkg/stream"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// conversationIndex maintains per-user conversation lists and unread counters.
type conversationIndex interface {
	TouchConversation(ctx context.Context, a, b string, at time.Time) error
	AddUnread(ctx context.Context, userID, otherID string, delta int64) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader     messageReader
	index      conversationIndex
	log        *zap.Logger
	retryDelay time.Duration
	maxRetries int
}

func NewConsumer(reader messageReader, index conversationIndex, log *zap.Logger) *Consumer {
	return &Consumer{
		reader:     reader,
		index:      index,
		log:        log,
		retryDelay: time.Second,
		maxRetries: 5,
	}
}

// Apply folds one chat event into the conversation index.
func (c *Consumer) Apply(ctx context.Context, ev model.ChatEvent) error {
	switch ev.Kind {
	case model.EventMessageCreated:
		msg := ev.Message
		if err := c.index.TouchConversation(ctx, msg.SenderID, msg.ReceiverID, msg.CreatedAt); err != nil {
			return err
		}
		// The recipient has one more message from the sender to read.
		return c.index.AddUnread(ctx, msg.ReceiverID, msg.SenderID, 1)

	case model.EventMessagesRead:
		if len(ev.MessageIDs) == 0 {
			return nil
		}
		return c.index.AddUnread(ctx, ev.ReaderID, ev.CounterpartID, -int64(len(ev.MessageIDs)))
	}
	return fmt.Errorf("unknown event kind %q", ev.Kind)
}

// Consume runs until ctx is cancelled. Offsets are committed only after an
// event was applied, or given up on.
func (c *Consumer) Consume(ctx context.Context) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("error reading message, retrying", zap.Error(err))
			if !c.sleep(ctx) {
				return nil
			}
			continue
		}

		ev, err := stream.Decode(m)
		if err != nil {
			c.log.Error("skipping undecodable event", zap.Int64("offset", m.Offset), zap.Error(err))
		} else if err := c.applyWithRetry(ctx, ev); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			c.log.Error("giving up on event",
				zap.String("kind", string(ev.Kind)),
				zap.Int64("offset", m.Offset),
				zap.Error(err),
			)
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.log.Warn("failed to commit offset", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

func (c *Consumer) applyWithRetry(ctx context.Context, ev model.ChatEvent) error {
	var err error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err = c.Apply(ctx, ev); err == nil {
			c.log.Debug("event applied", zap.String("kind", string(ev.Kind)), zap.String("key", stream.Key(ev)))
			return nil
		}
		c.log.Warn("failed to apply event",
			zap.String("kind", string(ev.Kind)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < c.maxRetries && !c.sleep(ctx) {
			return context.Canceled
		}
	}
	return err
}

func (c *Consumer) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.retryDelay):
		return true
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
