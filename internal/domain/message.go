package domain

import (
	"encoding/json"
	"time"
)

// MessageType tags every outbound frame.
type MessageType string

const (
	TypeConnectionConfirmed   MessageType = "connection_confirmed"
	TypeConnectionEstablished MessageType = "connection_established"
	TypePong                  MessageType = "pong"
	TypeStatusConfirmed       MessageType = "status_confirmed"
	TypeSubscriptionConfirmed MessageType = "subscription_confirmed"
	TypeOrderUpdate           MessageType = "order_update"
	TypeInventoryUpdate       MessageType = "inventory_update"
	TypePrescriptionUpdate    MessageType = "prescription_update"
	TypeDeliveryUpdate        MessageType = "delivery_update"
	TypeEmergencyAlert        MessageType = "emergency_alert"
	TypeNotification          MessageType = "notification"
	TypeError                 MessageType = "error"
)

// Inbound frame tags.
const (
	InboundPing           = "ping"
	InboundLocationUpdate = "location_update"
	InboundStatusUpdate   = "status_update"
	InboundSubscribe      = "subscribe"
)

const WelcomeText = "Connected to MediDash real-time system"

// Message is an outbound frame. Data and Timestamp are omitted when nil; Fields holds the
// type specific top-level keys (message, channels, user_id, ...).
type Message struct {
	Type      MessageType
	Data      any
	Timestamp any
	Fields    map[string]any
}

func (m Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Fields)+3)
	for k, v := range m.Fields {
		out[k] = v
	}
	out["type"] = m.Type
	if m.Data != nil {
		out["data"] = m.Data
	}
	if m.Timestamp != nil {
		out["timestamp"] = m.Timestamp
	}
	return json.Marshal(out)
}

// InboundMessage is a client frame. Fields are kept raw so a frame with
// unexpected field types is still answered, and echoed fields go back untouched.
type InboundMessage struct {
	Type      json.RawMessage `json:"type,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Channels  json.RawMessage `json:"channels,omitempty"`
}

// ParseInbound decodes a client frame. Only text that is not JSON fails, with
// ErrMalformedFrame; valid JSON that is not an object carries no fields.
func ParseInbound(frame []byte) (InboundMessage, error) {
	if !json.Valid(frame) {
		return InboundMessage{}, ErrMalformedFrame
	}
	var in InboundMessage
	if err := json.Unmarshal(frame, &in); err != nil {
		return InboundMessage{}, nil
	}
	return in, nil
}

// Tag is the frame's type as text. A JSON string yields its value, any other
// JSON value its literal text, and an absent or null type "".
func (m InboundMessage) Tag() string {
	if len(m.Type) == 0 {
		return ""
	}
	var tag string
	if err := json.Unmarshal(m.Type, &tag); err == nil {
		return tag
	}
	return string(m.Type)
}

// LocationUpdate is the data of a location_update frame.
type LocationUpdate struct {
	OrderID  int64 `json:"order_id"`
	Location any   `json:"location"`
}

// FormatTimestamp renders a generation time the way every outbound frame carries it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func ErrorMessage(text string) Message {
	return Message{Type: TypeError, Fields: map[string]any{"message": text}}
}

func WelcomeMessage(now time.Time) Message {
	return Message{
		Type:      TypeConnectionEstablished,
		Timestamp: FormatTimestamp(now),
		Fields:    map[string]any{"message": WelcomeText},
	}
}

func ConfirmedMessage(p *Principal, class RoleClass) Message {
	return Message{
		Type: TypeConnectionConfirmed,
		Fields: map[string]any{
			"user_id":   p.ID,
			"user_type": class.WireName(),
			"role":      p.Role,
			"full_name": p.FullName,
		},
	}
}
