package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/medidash/internal/domain"
	apperrors "github.com/pscheid92/medidash/internal/platform/errors"
)

const maxBulkRecipients = 10000

type orderStatusRequest struct {
	UserID  int64          `json:"user_id"`
	OrderID int64          `json:"order_id"`
	Status  string         `json:"status"`
	Details map[string]any `json:"details"`
}

func (r *orderStatusRequest) validate() error {
	switch {
	case r.UserID <= 0:
		return apperrors.ValidationError("user_id is required")
	case r.OrderID <= 0:
		return apperrors.ValidationError("order_id is required")
	case r.Status == "":
		return apperrors.ValidationError("status is required")
	}
	return nil
}

// stockAlertRequest leaves Threshold nil to use the configured default.
type stockAlertRequest struct {
	MedicineID   int64  `json:"medicine_id"`
	MedicineName string `json:"medicine_name"`
	CurrentStock *int   `json:"current_stock"`
	Threshold    *int   `json:"threshold"`
}

func (r *stockAlertRequest) validate() error {
	switch {
	case r.MedicineID <= 0:
		return apperrors.ValidationError("medicine_id is required")
	case r.MedicineName == "":
		return apperrors.ValidationError("medicine_name is required")
	case r.CurrentStock == nil:
		return apperrors.ValidationError("current_stock is required")
	case *r.CurrentStock < 0:
		return apperrors.ValidationError("current_stock must not be negative")
	case r.Threshold != nil && *r.Threshold < 0:
		return apperrors.ValidationError("threshold must not be negative")
	}
	return nil
}

type prescriptionRequest struct {
	UserID         int64  `json:"user_id"`
	PrescriptionID int64  `json:"prescription_id"`
	Status         string `json:"status"`
	Notes          string `json:"notes"`
}

func (r *prescriptionRequest) validate() error {
	switch {
	case r.UserID <= 0:
		return apperrors.ValidationError("user_id is required")
	case r.PrescriptionID <= 0:
		return apperrors.ValidationError("prescription_id is required")
	case r.Status == "":
		return apperrors.ValidationError("status is required")
	}
	return nil
}

type deliveryRequest struct {
	OrderID  int64  `json:"order_id"`
	Status   string `json:"status"`
	Location any    `json:"location"`
}

func (r *deliveryRequest) validate() error {
	switch {
	case r.OrderID <= 0:
		return apperrors.ValidationError("order_id is required")
	case r.Status == "":
		return apperrors.ValidationError("status is required")
	}
	return nil
}

type emergencyRequest struct {
	OrderID       int64          `json:"order_id"`
	EmergencyType string         `json:"emergency_type"`
	Details       map[string]any `json:"details"`
}

func (r *emergencyRequest) validate() error {
	switch {
	case r.OrderID <= 0:
		return apperrors.ValidationError("order_id is required")
	case r.EmergencyType == "":
		return apperrors.ValidationError("emergency_type is required")
	}
	return nil
}

type userNotificationRequest struct {
	UserID  int64          `json:"user_id"`
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

func (r *userNotificationRequest) validate() error {
	switch {
	case r.UserID <= 0:
		return apperrors.ValidationError("user_id is required")
	case r.Type == "":
		return apperrors.ValidationError("type is required")
	case r.Message == "":
		return apperrors.ValidationError("message is required")
	}
	return nil
}

type bulkNotificationRequest struct {
	UserIDs []int64        `json:"user_ids"`
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

func (r *bulkNotificationRequest) validate() error {
	switch {
	case len(r.UserIDs) == 0:
		return apperrors.ValidationError("user_ids is required")
	case len(r.UserIDs) > maxBulkRecipients:
		return apperrors.ValidationError("too many user_ids").WithField("max", maxBulkRecipients)
	case r.Type == "":
		return apperrors.ValidationError("type is required")
	case r.Message == "":
		return apperrors.ValidationError("message is required")
	}
	for _, id := range r.UserIDs {
		if id <= 0 {
			return apperrors.ValidationError("user_ids must be positive").WithField("user_id", id)
		}
	}
	return nil
}

type validatable interface {
	validate() error
}

// bind decodes and validates a request body into T.
func bind[T any, PT interface {
	*T
	validatable
}](c echo.Context) (*T, error) {
	req := PT(new(T))
	if err := (&echo.DefaultBinder{}).BindBody(c, req); err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return nil, WrapHTTPError(httpErr)
		}
		return nil, apperrors.ValidationError("invalid request body")
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	return (*T)(req), nil
}

// accept dispatches best-effort: a routing failure is logged, never surfaced.
func accept(c echo.Context, kind string, dispatch func(ctx context.Context) error) error {
	ctx := c.Request().Context()
	if err := dispatch(ctx); err != nil {
		slog.WarnContext(ctx, "Notification dispatch failed", "kind", kind, "error", err)
	}
	if err := c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"}); err != nil {
		return fmt.Errorf("failed to write accepted response: %w", err)
	}
	return nil
}

func (s *Server) handleOrderStatus(c echo.Context) error {
	req, err := bind[orderStatusRequest](c)
	if err != nil {
		return err
	}
	return accept(c, "order_status", func(ctx context.Context) error {
		return s.notifier.OrderStatusUpdate(ctx, domain.PrincipalID(req.UserID), req.OrderID, req.Status, req.Details)
	})
}

func (s *Server) handleStockAlert(c echo.Context) error {
	req, err := bind[stockAlertRequest](c)
	if err != nil {
		return err
	}
	threshold := -1
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	return accept(c, "stock_alert", func(ctx context.Context) error {
		return s.notifier.StockAlert(ctx, req.MedicineID, req.MedicineName, *req.CurrentStock, threshold)
	})
}

func (s *Server) handlePrescription(c echo.Context) error {
	req, err := bind[prescriptionRequest](c)
	if err != nil {
		return err
	}
	return accept(c, "prescription", func(ctx context.Context) error {
		return s.notifier.PrescriptionUpdate(ctx, domain.PrincipalID(req.UserID), req.PrescriptionID, req.Status, req.Notes)
	})
}

func (s *Server) handleDelivery(c echo.Context) error {
	req, err := bind[deliveryRequest](c)
	if err != nil {
		return err
	}
	return accept(c, "delivery", func(ctx context.Context) error {
		return s.notifier.DeliveryUpdate(ctx, req.OrderID, req.Status, req.Location)
	})
}

func (s *Server) handleEmergency(c echo.Context) error {
	req, err := bind[emergencyRequest](c)
	if err != nil {
		return err
	}
	return accept(c, "emergency", func(ctx context.Context) error {
		return s.notifier.EmergencyAlert(ctx, req.OrderID, req.EmergencyType, req.Details)
	})
}

func (s *Server) handleUserNotification(c echo.Context) error {
	req, err := bind[userNotificationRequest](c)
	if err != nil {
		return err
	}
	return accept(c, "user", func(ctx context.Context) error {
		return s.notifier.Notify(ctx, domain.PrincipalID(req.UserID), req.Type, req.Message, req.Data)
	})
}

func (s *Server) handleBulkNotification(c echo.Context) error {
	req, err := bind[bulkNotificationRequest](c)
	if err != nil {
		return err
	}
	ids := make([]domain.PrincipalID, len(req.UserIDs))
	for i, id := range req.UserIDs {
		ids[i] = domain.PrincipalID(id)
	}
	return accept(c, "bulk", func(ctx context.Context) error {
		return s.notifier.NotifyBulk(ctx, ids, req.Type, req.Message, req.Data)
	})
}
