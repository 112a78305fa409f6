// Package notification turns domain events into outbound messages and routes
// them to principals or role classes. Delivery is best-effort: a returned error
// means routing failed, and callers log it without failing their own work.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/medidash/internal/adapter/metrics"
	"github.com/pscheid92/medidash/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultStockThreshold = 10

var tracer = otel.Tracer("medidash/notification")

type Option func(*Dispatcher)

func WithClock(clock clockwork.Clock) Option {
	return func(d *Dispatcher) { d.clock = clock }
}

func WithMetrics(m *metrics.NotificationMetrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithStockThreshold sets the threshold used when an event does not carry one.
func WithStockThreshold(n int) Option {
	return func(d *Dispatcher) { d.stockThreshold = n }
}

type Dispatcher struct {
	router         domain.Router
	clock          clockwork.Clock
	metrics        *metrics.NotificationMetrics
	stockThreshold int
}

func NewDispatcher(router domain.Router, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		router:         router,
		clock:          clockwork.NewRealClock(),
		stockThreshold: DefaultStockThreshold,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) StockThreshold() int {
	return d.stockThreshold
}

func (d *Dispatcher) OrderStatusUpdate(ctx context.Context, principal domain.PrincipalID, orderID int64, status string, details map[string]any) error {
	ctx, span := tracer.Start(ctx, "Dispatcher.OrderStatusUpdate", trace.WithAttributes(
		attribute.Int64("principal.id", int64(principal)),
		attribute.Int64("order.id", orderID),
		attribute.String("order.status", status),
	))
	defer span.End()

	msg := d.message(domain.TypeOrderUpdate, OrderUpdate{
		OrderID: orderID,
		Status:  status,
		Details: orEmpty(details),
		Message: fmt.Sprintf("Order #%d status updated to %s", orderID, status),
	})

	err := d.toPrincipal(ctx, principal, msg)
	if finish(span, err) {
		slog.InfoContext(ctx, "Order status update sent", "principal_id", principal, "order_id", orderID, "status", status)
	}
	return err
}

// StockAlert notifies admins when currentStock has reached threshold. Above
// the threshold nothing is sent. A negative threshold selects the default.
func (d *Dispatcher) StockAlert(ctx context.Context, medicineID int64, medicineName string, currentStock, threshold int) error {
	if threshold < 0 {
		threshold = d.stockThreshold
	}

	ctx, span := tracer.Start(ctx, "Dispatcher.StockAlert", trace.WithAttributes(
		attribute.Int64("medicine.id", medicineID),
		attribute.Int("stock.current", currentStock),
		attribute.Int("stock.threshold", threshold),
	))
	defer span.End()

	if currentStock > threshold {
		span.SetAttributes(attribute.Bool("alert.suppressed", true))
		if d.metrics != nil {
			d.metrics.Suppressed.WithLabelValues(string(domain.TypeInventoryUpdate)).Inc()
		}
		return nil
	}

	msg := d.message(domain.TypeInventoryUpdate, StockAlert{
		MedicineID:   medicineID,
		MedicineName: medicineName,
		CurrentStock: currentStock,
		Threshold:    threshold,
		Message:      fmt.Sprintf("Low stock alert: %s (Quantity: %d)", medicineName, currentStock),
	})

	err := d.toRole(ctx, domain.ClassAdmin, msg)
	if finish(span, err) {
		slog.InfoContext(ctx, "Stock alert sent", "medicine_id", medicineID, "medicine_name", medicineName, "current_stock", currentStock)
	}
	return err
}

// PrescriptionUpdate sends a verification result to the prescription owner.
// Empty notes travel as null.
func (d *Dispatcher) PrescriptionUpdate(ctx context.Context, principal domain.PrincipalID, prescriptionID int64, status, notes string) error {
	ctx, span := tracer.Start(ctx, "Dispatcher.PrescriptionUpdate", trace.WithAttributes(
		attribute.Int64("principal.id", int64(principal)),
		attribute.Int64("prescription.id", prescriptionID),
		attribute.String("prescription.status", status),
	))
	defer span.End()

	var notesPtr *string
	if notes != "" {
		notesPtr = &notes
	}

	msg := d.message(domain.TypePrescriptionUpdate, PrescriptionUpdate{
		PrescriptionID: prescriptionID,
		Status:         status,
		Notes:          notesPtr,
		Message:        fmt.Sprintf("Prescription #%d %s", prescriptionID, status),
	})

	err := d.toPrincipal(ctx, principal, msg)
	if finish(span, err) {
		slog.InfoContext(ctx, "Prescription update sent", "principal_id", principal, "prescription_id", prescriptionID, "status", status)
	}
	return err
}

// DeliveryUpdate reaches delivery partners only. The order's customer is not
// resolved here.
func (d *Dispatcher) DeliveryUpdate(ctx context.Context, orderID int64, status string, location any) error {
	ctx, span := tracer.Start(ctx, "Dispatcher.DeliveryUpdate", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("delivery.status", status),
	))
	defer span.End()

	msg := d.message(domain.TypeDeliveryUpdate, DeliveryUpdate{
		OrderID:  orderID,
		Status:   status,
		Location: location,
		Message:  fmt.Sprintf("Delivery update for order #%d: %s", orderID, status),
	})

	err := d.toRole(ctx, domain.ClassDelivery, msg)
	if finish(span, err) {
		slog.InfoContext(ctx, "Delivery update sent", "order_id", orderID, "status", status)
	}
	return err
}

// EmergencyAlert goes to admins and delivery partners. A failure on one class
// does not stop the other.
func (d *Dispatcher) EmergencyAlert(ctx context.Context, orderID int64, emergencyType string, details map[string]any) error {
	ctx, span := tracer.Start(ctx, "Dispatcher.EmergencyAlert", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("emergency.type", emergencyType),
	))
	defer span.End()

	msg := d.message(domain.TypeEmergencyAlert, EmergencyAlert{
		OrderID:  orderID,
		Type:     emergencyType,
		Details:  orEmpty(details),
		Message:  fmt.Sprintf("Emergency alert: %s for order #%d", emergencyType, orderID),
		Priority: PriorityHigh,
	})

	err := errors.Join(
		d.toRole(ctx, domain.ClassAdmin, msg),
		d.toRole(ctx, domain.ClassDelivery, msg),
	)
	if finish(span, err) {
		slog.WarnContext(ctx, "Emergency alert sent", "order_id", orderID, "emergency_type", emergencyType)
	}
	return err
}

func (d *Dispatcher) Notify(ctx context.Context, principal domain.PrincipalID, notificationType, text string, data map[string]any) error {
	return d.NotifyBulk(ctx, []domain.PrincipalID{principal}, notificationType, text, data)
}

// NotifyBulk sends one notification frame to each principal. Every principal
// is attempted; failures are joined.
func (d *Dispatcher) NotifyBulk(ctx context.Context, principals []domain.PrincipalID, notificationType, text string, data map[string]any) error {
	ctx, span := tracer.Start(ctx, "Dispatcher.NotifyBulk", trace.WithAttributes(
		attribute.String("notification.type", notificationType),
		attribute.Int("notification.recipients", len(principals)),
	))
	defer span.End()

	now := d.clock.Now()
	msg := domain.Message{
		Type: domain.TypeNotification,
		Data: SystemNotification{
			Type:      notificationType,
			Message:   text,
			Data:      orEmpty(data),
			Timestamp: domain.FormatTimestamp(now),
		},
		Timestamp: domain.FormatTimestamp(now),
	}

	var errs []error
	for _, principal := range principals {
		if err := d.toPrincipal(ctx, principal, msg); err != nil {
			errs = append(errs, fmt.Errorf("principal %d: %w", principal, err))
		}
	}

	err := errors.Join(errs...)
	if finish(span, err) {
		slog.InfoContext(ctx, "Notification sent", "notification_type", notificationType, "recipients", len(principals))
	}
	return err
}

func (d *Dispatcher) message(t domain.MessageType, data any) domain.Message {
	return domain.Message{Type: t, Data: data, Timestamp: domain.FormatTimestamp(d.clock.Now())}
}

func (d *Dispatcher) toPrincipal(ctx context.Context, principal domain.PrincipalID, msg domain.Message) error {
	err := d.router.SendToPrincipal(ctx, principal, msg)
	d.record(msg.Type, err)
	if err != nil {
		return fmt.Errorf("send %s to principal %d: %w", msg.Type, principal, err)
	}
	return nil
}

func (d *Dispatcher) toRole(ctx context.Context, class domain.RoleClass, msg domain.Message) error {
	err := d.router.BroadcastToRole(ctx, class, msg)
	d.record(msg.Type, err)
	if err != nil {
		return fmt.Errorf("broadcast %s to %s: %w", msg.Type, class, err)
	}
	return nil
}

func (d *Dispatcher) record(t domain.MessageType, err error) {
	if d.metrics == nil {
		return
	}
	if err != nil {
		d.metrics.DispatchErrors.WithLabelValues(string(t)).Inc()
		return
	}
	d.metrics.Dispatched.WithLabelValues(string(t)).Inc()
}

// finish records err on span and reports whether the dispatch succeeded.
func finish(span trace.Span, err error) bool {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		return false
	}
	return true
}
