package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_MarshalJSON_OmitsNilDataAndTimestamp(t *testing.T) {
	raw, err := json.Marshal(ErrorMessage("Invalid JSON format"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","message":"Invalid JSON format"}`, string(raw))
}

func TestMessage_MarshalJSON_TypeWinsOverFields(t *testing.T) {
	msg := Message{
		Type:      TypeOrderUpdate,
		Data:      map[string]any{"order_id": 42},
		Timestamp: "2026-01-01T00:00:00Z",
		Fields:    map[string]any{"type": "spoofed"},
	}

	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"order_update","data":{"order_id":42},"timestamp":"2026-01-01T00:00:00Z"}`, string(raw))
}

func TestMessage_EchoesRawTimestamp(t *testing.T) {
	msg := Message{Type: TypePong, Timestamp: json.RawMessage(`1712345678`)}

	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong","timestamp":1712345678}`, string(raw))
}

func TestWelcomeMessage(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*60*60))

	raw, err := json.Marshal(WelcomeMessage(now))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "connection_established",
		"message": "Connected to MediDash real-time system",
		"timestamp": "2026-05-01T10:00:00Z"
	}`, string(raw))
}

func TestConfirmedMessage(t *testing.T) {
	p := &Principal{ID: 7, FullName: "Ada Lovelace", Role: RoleCustomer}

	raw, err := json.Marshal(ConfirmedMessage(p, ClassCustomer))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "connection_confirmed",
		"user_id": 7,
		"user_type": "user",
		"role": "customer",
		"full_name": "Ada Lovelace"
	}`, string(raw))
}

func TestParseInbound(t *testing.T) {
	in, err := ParseInbound([]byte(`{"type":"subscribe","channels":["orders","stock"]}`))
	require.NoError(t, err)
	assert.Equal(t, InboundSubscribe, in.Tag())
	assert.JSONEq(t, `["orders","stock"]`, string(in.Channels))
	assert.Nil(t, in.Data)
}

func TestParseInbound_MalformedFrame(t *testing.T) {
	for _, frame := range []string{`not json`, `{"type":`, ``} {
		_, err := ParseInbound([]byte(frame))
		assert.ErrorIs(t, err, ErrMalformedFrame, frame)
	}
}

func TestParseInbound_KeepsUnexpectedFieldTypes(t *testing.T) {
	in, err := ParseInbound([]byte(`{"type":"subscribe","channels":"orders","timestamp":{"at":1}}`))
	require.NoError(t, err)
	assert.Equal(t, `"orders"`, string(in.Channels))
	assert.JSONEq(t, `{"at":1}`, string(in.Timestamp))

	in, err = ParseInbound([]byte(`[1,2]`))
	require.NoError(t, err)
	assert.Equal(t, "", in.Tag())
	assert.Nil(t, in.Channels)
}

func TestInboundMessage_Tag(t *testing.T) {
	tests := []struct {
		frame string
		want  string
	}{
		{`{"type":"ping"}`, "ping"},
		{`{"type":7}`, "7"},
		{`{"type":true}`, "true"},
		{`{"type":["a"]}`, `["a"]`},
		{`{"type":null}`, ""},
		{`{}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.frame, func(t *testing.T) {
			in, err := ParseInbound([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.want, in.Tag())
		})
	}
}
