package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/pscheid92/medidash/internal/adapter/metrics"
	"github.com/pscheid92/medidash/internal/broadcast"
	"github.com/pscheid92/medidash/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const deliveryStatusInTransit = "in_transit"

var errInvalidLocation = errors.New("invalid location_update payload")

var (
	jsonNull        = json.RawMessage("null")
	jsonEmptyObject = json.RawMessage("{}")
	jsonEmptyArray  = json.RawMessage("[]")
)

// session handles the frames of one authenticated connection, in arrival
// order. Replies go through the client's writer, never straight to the socket.
type session struct {
	client     *broadcast.Client
	class      domain.RoleClass
	deliveries DeliveryNotifier
	metrics    *metrics.WebSocketMetrics
	logger     *slog.Logger
}

// handle never lets a bad frame end the connection: decode errors and panics
// are answered with an error frame and the loop carries on.
func (s *session) handle(ctx context.Context, frame []byte) {
	label := "invalid_json"
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "Panic while handling frame", "panic", r, "stack", string(debug.Stack()))
			s.reply(ctx, domain.ErrorMessage("Internal server error"))
			label = "panic"
		}
		if s.metrics != nil {
			s.metrics.InboundFrames.WithLabelValues(label).Inc()
		}
	}()

	in, err := domain.ParseInbound(frame)
	if err != nil {
		s.reply(ctx, domain.ErrorMessage("Invalid JSON format"))
		return
	}
	tag := in.Tag()

	ctx, span := tracer.Start(ctx, "websocket.frame", trace.WithAttributes(attribute.String("frame.type", tag)))
	defer span.End()

	label = tag
	switch tag {
	case domain.InboundPing:
		s.reply(ctx, domain.Message{Type: domain.TypePong, Timestamp: rawOr(in.Timestamp, jsonNull)})
	case domain.InboundLocationUpdate:
		if s.class != domain.ClassDelivery {
			label = "location_update_ignored"
			return
		}
		if err := s.locationUpdate(ctx, in.Data); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	case domain.InboundStatusUpdate:
		s.reply(ctx, domain.Message{Type: domain.TypeStatusConfirmed, Data: rawOr(in.Data, jsonEmptyObject)})
	case domain.InboundSubscribe:
		s.reply(ctx, domain.Message{Type: domain.TypeSubscriptionConfirmed, Fields: map[string]any{"channels": rawOr(in.Channels, jsonEmptyArray)}})
	default:
		label = "unknown"
		s.reply(ctx, domain.ErrorMessage(fmt.Sprintf("Unknown message type: %s", tag)))
	}
}

func (s *session) locationUpdate(ctx context.Context, data json.RawMessage) error {
	var update domain.LocationUpdate
	if len(data) == 0 || json.Unmarshal(data, &update) != nil || update.OrderID <= 0 {
		s.reply(ctx, domain.ErrorMessage("Invalid location_update payload"))
		return errInvalidLocation
	}

	// Failures are logged only; the partner's connection is unaffected.
	if err := s.deliveries.DeliveryUpdate(ctx, update.OrderID, deliveryStatusInTransit, update.Location); err != nil {
		s.logger.WarnContext(ctx, "Failed to forward location update", "order_id", update.OrderID, "error", err)
		return err
	}
	return nil
}

func (s *session) reply(ctx context.Context, msg domain.Message) {
	if err := s.client.Send(msg); err != nil {
		s.logger.DebugContext(ctx, "Failed to queue reply", "type", msg.Type, "error", err)
	}
}

func rawOr(raw, fallback json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return fallback
	}
	return raw
}
