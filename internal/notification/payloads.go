package notification

// Data payloads of the outbound notification messages.

type OrderUpdate struct {
	OrderID int64          `json:"order_id"`
	Status  string         `json:"status"`
	Details map[string]any `json:"details"`
	Message string         `json:"message"`
}

type StockAlert struct {
	MedicineID   int64  `json:"medicine_id"`
	MedicineName string `json:"medicine_name"`
	CurrentStock int    `json:"current_stock"`
	Threshold    int    `json:"threshold"`
	Message      string `json:"message"`
}

type PrescriptionUpdate struct {
	PrescriptionID int64   `json:"prescription_id"`
	Status         string  `json:"status"`
	Notes          *string `json:"notes"`
	Message        string  `json:"message"`
}

type DeliveryUpdate struct {
	OrderID  int64  `json:"order_id"`
	Status   string `json:"status"`
	Location any    `json:"location"`
	Message  string `json:"message"`
}

type EmergencyAlert struct {
	OrderID  int64          `json:"order_id"`
	Type     string         `json:"type"`
	Details  map[string]any `json:"details"`
	Message  string         `json:"message"`
	Priority string         `json:"priority"`
}

// SystemNotification carries its own timestamp inside data, separate from the
// frame's generation timestamp.
type SystemNotification struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
}

const PriorityHigh = "high"

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
