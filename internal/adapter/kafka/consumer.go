// Package kafka turns integration events from the order, inventory and
// delivery services into real-time notifications.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pscheid92/medidash/internal/adapter/metrics"
	"github.com/pscheid92/medidash/internal/domain"
	"github.com/pscheid92/medidash/internal/platform/correlation"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

const readErrorBackoff = time.Second

// Notifier is the dispatcher surface the consumer drives.
type Notifier interface {
	OrderStatusUpdate(ctx context.Context, principal domain.PrincipalID, orderID int64, status string, details map[string]any) error
	StockAlert(ctx context.Context, medicineID int64, medicineName string, currentStock, threshold int) error
	PrescriptionUpdate(ctx context.Context, principal domain.PrincipalID, prescriptionID int64, status, notes string) error
	DeliveryUpdate(ctx context.Context, orderID int64, status string, location any) error
	EmergencyAlert(ctx context.Context, orderID int64, emergencyType string, details map[string]any) error
	Notify(ctx context.Context, principal domain.PrincipalID, notificationType, text string, data map[string]any) error
	NotifyBulk(ctx context.Context, principals []domain.PrincipalID, notificationType, text string, data map[string]any) error
}

// MessageReader is satisfied by *kafka.Reader.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// NewReader builds a consumer-group reader. Offsets are committed by
// ReadMessage, so a crashed instance replays at most the uncommitted tail.
func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
}

type Consumer struct {
	reader   MessageReader
	notifier Notifier
	metrics  *metrics.RelayMetrics
}

// NewConsumer builds a consumer. m may be nil.
func NewConsumer(reader MessageReader, notifier Notifier, m *metrics.RelayMetrics) *Consumer {
	return &Consumer{reader: reader, notifier: notifier, metrics: m}
}

// Run consumes until ctx is cancelled. Read errors are logged and retried
// after a short pause.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("Kafka consumer started")
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Kafka consumer stopped")
				return nil
			}
			slog.Error("Failed to read Kafka message", "error", err)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(readErrorBackoff):
			}
			continue
		}

		headers := headerCarrier(msg.Headers)
		msgCtx := otel.GetTextMapPropagator().Extract(ctx, &headers)
		msgCtx = correlation.WithID(msgCtx, correlation.FromHeader(headers.Get(correlation.Header)))
		c.HandleMessage(msgCtx, string(msg.Key), msg.Value)
	}
}

// HandleMessage decodes one event and dispatches it. Unknown types and bad
// payloads are logged and skipped; dispatch errors never stop the consumer.
func (c *Consumer) HandleMessage(ctx context.Context, key string, payload []byte) {
	var event IntegrationEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		slog.WarnContext(ctx, "Failed to decode integration event", "key", key, "error", err)
		c.record("undecodable", "decode_error")
		return
	}

	var err error
	switch event.Type {
	case EventOrderStatusChanged:
		err = handle(event.Data, func(e OrderStatusChanged) error {
			return c.notifier.OrderStatusUpdate(ctx, domain.PrincipalID(e.UserID), e.OrderID, e.Status, e.Details)
		})
	case EventStockChanged:
		err = handle(event.Data, func(e StockChanged) error {
			threshold := -1
			if e.Threshold != nil {
				threshold = *e.Threshold
			}
			return c.notifier.StockAlert(ctx, e.MedicineID, e.MedicineName, e.CurrentStock, threshold)
		})
	case EventPrescriptionVerified:
		err = handle(event.Data, func(e PrescriptionVerified) error {
			return c.notifier.PrescriptionUpdate(ctx, domain.PrincipalID(e.UserID), e.PrescriptionID, e.Status, e.Notes)
		})
	case EventDeliveryUpdated:
		err = handle(event.Data, func(e DeliveryUpdated) error {
			return c.notifier.DeliveryUpdate(ctx, e.OrderID, e.Status, e.Location)
		})
	case EventOrderEmergency:
		err = handle(event.Data, func(e OrderEmergency) error {
			return c.notifier.EmergencyAlert(ctx, e.OrderID, e.EmergencyType, e.Details)
		})
	case EventUserNotification:
		err = handle(event.Data, func(e UserNotification) error {
			if len(e.UserIDs) == 0 {
				return c.notifier.Notify(ctx, domain.PrincipalID(e.UserID), e.NotificationType, e.Message, e.Data)
			}
			ids := make([]domain.PrincipalID, len(e.UserIDs))
			for i, id := range e.UserIDs {
				ids[i] = domain.PrincipalID(id)
			}
			return c.notifier.NotifyBulk(ctx, ids, e.NotificationType, e.Message, e.Data)
		})
	default:
		slog.DebugContext(ctx, "Ignoring unknown integration event", "type", event.Type, "key", key)
		c.record("unknown", "ignored")
		return
	}

	var decodeErr *decodeError
	switch {
	case errors.As(err, &decodeErr):
		slog.WarnContext(ctx, "Invalid integration event payload", "type", event.Type, "key", key, "error", err)
		c.record(event.Type, "decode_error")
	case err != nil:
		slog.WarnContext(ctx, "Failed to dispatch integration event", "type", event.Type, "key", key, "error", err)
		c.record(event.Type, "dispatch_error")
	default:
		c.record(event.Type, "ok")
	}
}

type decodeError struct {
	err error
}

func (e *decodeError) Error() string { return "decode event data: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func handle[T validator](data json.RawMessage, fn func(T) error) error {
	var event T
	if len(data) == 0 {
		return &decodeError{err: errMissingField}
	}
	if err := json.Unmarshal(data, &event); err != nil {
		return &decodeError{err: err}
	}
	if err := event.validate(); err != nil {
		return &decodeError{err: fmt.Errorf("%T: %w", event, err)}
	}
	return fn(event)
}

func (c *Consumer) record(eventType, result string) {
	if c.metrics != nil {
		c.metrics.EventsConsumed.WithLabelValues(eventType, result).Inc()
	}
}
