// Package stream carries chat events between the gateway and the messaging worker.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mahaj/tutor-realtime/pkg/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const DefaultTopic = "chat-events"

// Key partitions events by conversation so a consumer sees one conversation in order.
func Key(ev model.ChatEvent) string {
	if ev.Message != nil {
		return ev.Message.ConversationID
	}
	return model.ConversationID(ev.ReaderID, ev.CounterpartID)
}

type Publisher struct {
	writer *kafka.Writer
	log    *zap.Logger
}

func NewPublisher(brokers []string, topic string, log *zap.Logger) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		log: log,
	}
}

func (p *Publisher) Publish(ctx context.Context, ev model.ChatEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Kind, err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(Key(ev)),
		Value: value,
		Time:  ev.At,
	})
	if err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Kind, err)
	}
	p.log.Debug("chat event published",
		zap.String("kind", string(ev.Kind)),
		zap.String("key", Key(ev)),
	)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
		MaxWait:  500 * time.Millisecond,
	})
}

func Decode(m kafka.Message) (model.ChatEvent, error) {
	var ev model.ChatEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		return ev, fmt.Errorf("decode event at offset %d: %w", m.Offset, err)
	}
	switch ev.Kind {
	case model.EventMessageCreated:
		if ev.Message == nil {
			return ev, fmt.Errorf("event at offset %d: %s without message", m.Offset, ev.Kind)
		}
	case model.EventMessagesRead:
		if ev.ReaderID == "" || ev.CounterpartID == "" {
			return ev, fmt.Errorf("event at offset %d: %s without participants", m.Offset, ev.Kind)
		}
	default:
		return ev, fmt.Errorf("event at offset %d: unknown kind %q", m.Offset, ev.Kind)
	}
	return ev, nil
}
