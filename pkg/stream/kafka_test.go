package stream

import (
	"testing"

	"github.com/mahaj/tutor-realtime/pkg/model"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

func TestKey_Same_For_Both_Event_Kinds(t *testing.T) {
	req := require.New(t)

	created := model.ChatEvent{
		Kind:    model.EventMessageCreated,
		Message: &model.Message{ConversationID: model.ConversationID("bob", "alice")},
	}
	read := model.ChatEvent{Kind: model.EventMessagesRead, ReaderID: "bob", CounterpartID: "alice"}

	req.Equal("alice:bob", Key(created))
	req.Equal(Key(created), Key(read))
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"Message created", `{"kind":"message_created","message":{"id":"42","conversationId":"alice:bob"}}`, false},
		{"Messages read", `{"kind":"messages_read","readerId":"bob","counterpartId":"alice","messageIds":["42"]}`, false},
		{"Created without message", `{"kind":"message_created"}`, true},
		{"Read without reader", `{"kind":"messages_read","counterpartId":"alice"}`, true},
		{"Unknown kind", `{"kind":"message_deleted"}`, true},
		{"Not json", `message_created`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			ev, err := Decode(kafka.Message{Value: []byte(tt.value), Offset: 7})
			if tt.wantErr {
				req.Error(err)
				return
			}
			req.NoError(err)
			req.NotEmpty(ev.Kind)
		})
	}
}
