package kafka

import (
	"encoding/json"
	"errors"
	"time"
)

// Integration event types published by the order, inventory and delivery
// services.
const (
	EventOrderStatusChanged   = "order.status_changed"
	EventStockChanged         = "inventory.stock_changed"
	EventPrescriptionVerified = "prescription.verified"
	EventDeliveryUpdated      = "delivery.updated"
	EventOrderEmergency       = "order.emergency"
	EventUserNotification     = "user.notification"
)

var errMissingField = errors.New("required field missing")

// IntegrationEvent is the envelope of every message on the topic.
type IntegrationEvent struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type validator interface {
	validate() error
}

type OrderStatusChanged struct {
	UserID  int64          `json:"user_id"`
	OrderID int64          `json:"order_id"`
	Status  string         `json:"status"`
	Details map[string]any `json:"details"`
}

func (e OrderStatusChanged) validate() error {
	if e.UserID <= 0 || e.OrderID <= 0 || e.Status == "" {
		return errMissingField
	}
	return nil
}

// StockChanged leaves Threshold nil to use the service default.
type StockChanged struct {
	MedicineID   int64  `json:"medicine_id"`
	MedicineName string `json:"medicine_name"`
	CurrentStock int    `json:"current_stock"`
	Threshold    *int   `json:"threshold"`
}

func (e StockChanged) validate() error {
	if e.MedicineID <= 0 || e.MedicineName == "" {
		return errMissingField
	}
	return nil
}

type PrescriptionVerified struct {
	UserID         int64  `json:"user_id"`
	PrescriptionID int64  `json:"prescription_id"`
	Status         string `json:"status"`
	Notes          string `json:"notes"`
}

func (e PrescriptionVerified) validate() error {
	if e.UserID <= 0 || e.PrescriptionID <= 0 || e.Status == "" {
		return errMissingField
	}
	return nil
}

type DeliveryUpdated struct {
	OrderID  int64  `json:"order_id"`
	Status   string `json:"status"`
	Location any    `json:"location"`
}

func (e DeliveryUpdated) validate() error {
	if e.OrderID <= 0 || e.Status == "" {
		return errMissingField
	}
	return nil
}

type OrderEmergency struct {
	OrderID       int64          `json:"order_id"`
	EmergencyType string         `json:"emergency_type"`
	Details       map[string]any `json:"details"`
}

func (e OrderEmergency) validate() error {
	if e.OrderID <= 0 || e.EmergencyType == "" {
		return errMissingField
	}
	return nil
}

// UserNotification targets UserIDs, or UserID when the list is empty.
type UserNotification struct {
	UserID           int64          `json:"user_id"`
	UserIDs          []int64        `json:"user_ids"`
	NotificationType string         `json:"notification_type"`
	Message          string         `json:"message"`
	Data             map[string]any `json:"data"`
}

func (e UserNotification) validate() error {
	if (e.UserID <= 0 && len(e.UserIDs) == 0) || e.NotificationType == "" || e.Message == "" {
		return errMissingField
	}
	return nil
}
