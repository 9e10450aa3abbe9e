package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClientKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		env     Envelope
		want    any
		wantErr error
	}{
		{
			name: "join",
			env:  Envelope{Kind: KindJoin, Payload: json.RawMessage(`{"conversationId":"conv-1"}`)},
			want: JoinPayload{ConversationID: "conv-1"},
		},
		{
			name: "message",
			env:  Envelope{Kind: KindMessage, Payload: json.RawMessage(`{"messageId":"m1","body":"hi"}`)},
			want: MessagePayload{MessageID: "m1", Body: "hi"},
		},
		{
			name: "typing start",
			env:  Envelope{Kind: KindTyping, Payload: json.RawMessage(`{"isTyping":true}`)},
			want: TypingPayload{IsTyping: true},
		},
		{
			name: "read receipt",
			env:  Envelope{Kind: KindReadReceipt, Payload: json.RawMessage(`{"messageId":"m1"}`)},
			want: ReadReceiptPayload{MessageID: "m1"},
		},
		{
			name: "delivered ack",
			env:  Envelope{Kind: KindDelivered, Payload: json.RawMessage(`{"messageId":"m1"}`)},
			want: DeliveredPayload{MessageID: "m1"},
		},
		{
			name:    "unknown kind",
			env:     Envelope{Kind: "bogus", Payload: json.RawMessage(`{}`)},
			wantErr: ErrUnknownKind,
		},
		{
			name:    "server kinds never decode",
			env:     Envelope{Kind: KindServerMessage, Payload: json.RawMessage(`{}`)},
			wantErr: ErrUnknownKind,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Decode(tc.env)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeEmptyPayloadRejected(t *testing.T) {
	t.Parallel()
	_, err := Decode(Envelope{Kind: KindMessage})
	assert.ErrorContains(t, err, "empty payload")
}

func TestDecodeMalformedPayloadRejected(t *testing.T) {
	t.Parallel()
	_, err := Decode(Envelope{Kind: KindMessage, Payload: json.RawMessage(`{not json`)})
	assert.Error(t, err)
}

func TestWrapRoundTrip(t *testing.T) {
	t.Parallel()

	env := Wrap(KindDispatchAck, "conv-1", DispatchAckPayload{MessageID: "m1", AttemptedRecipients: 3}, 1700000000000)
	assert.Equal(t, KindDispatchAck, env.Kind)
	assert.Equal(t, "conv-1", env.ConversationID)
	assert.Equal(t, int64(1700000000000), env.Timestamp)

	var p DispatchAckPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "m1", p.MessageID)
	assert.Equal(t, 3, p.AttemptedRecipients)
}

func TestEnvelopeWireFormat(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"kind":"message","conversationId":"conv-1","payload":{"messageId":"m1","body":"hi"},"timestamp":42}`)
	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, KindMessage, env.Kind)
	assert.Equal(t, "conv-1", env.ConversationID)
	assert.Equal(t, int64(42), env.Timestamp)

	payload, err := Decode(env)
	require.NoError(t, err)
	assert.Equal(t, MessagePayload{MessageID: "m1", Body: "hi"}, payload)
}
