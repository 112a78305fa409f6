package httpserver

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/pscheid92/medidash/internal/broadcast"
	"github.com/pscheid92/medidash/internal/domain"
	"github.com/pscheid92/medidash/internal/platform/config"
)

type notifierCall struct {
	method     string
	principals []domain.PrincipalID
	orderID    int64
	status     string
	threshold  int
	text       string
	data       map[string]any
	location   any
}

type mockNotifier struct {
	mu    sync.Mutex
	calls []notifierCall
	err   error
}

func (m *mockNotifier) record(call notifierCall) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	return m.err
}

func (m *mockNotifier) Calls() []notifierCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notifierCall(nil), m.calls...)
}

func (m *mockNotifier) OrderStatusUpdate(_ context.Context, principal domain.PrincipalID, orderID int64, status string, details map[string]any) error {
	return m.record(notifierCall{method: "OrderStatusUpdate", principals: []domain.PrincipalID{principal}, orderID: orderID, status: status, data: details})
}

func (m *mockNotifier) StockAlert(_ context.Context, medicineID int64, medicineName string, currentStock, threshold int) error {
	return m.record(notifierCall{method: "StockAlert", orderID: medicineID, text: medicineName, threshold: threshold, data: map[string]any{"current_stock": currentStock}})
}

func (m *mockNotifier) PrescriptionUpdate(_ context.Context, principal domain.PrincipalID, prescriptionID int64, status, notes string) error {
	return m.record(notifierCall{method: "PrescriptionUpdate", principals: []domain.PrincipalID{principal}, orderID: prescriptionID, status: status, text: notes})
}

func (m *mockNotifier) DeliveryUpdate(_ context.Context, orderID int64, status string, location any) error {
	return m.record(notifierCall{method: "DeliveryUpdate", orderID: orderID, status: status, location: location})
}

func (m *mockNotifier) EmergencyAlert(_ context.Context, orderID int64, emergencyType string, details map[string]any) error {
	return m.record(notifierCall{method: "EmergencyAlert", orderID: orderID, status: emergencyType, data: details})
}

func (m *mockNotifier) Notify(_ context.Context, principal domain.PrincipalID, notificationType, text string, data map[string]any) error {
	return m.record(notifierCall{method: "Notify", principals: []domain.PrincipalID{principal}, status: notificationType, text: text, data: data})
}

func (m *mockNotifier) NotifyBulk(_ context.Context, principals []domain.PrincipalID, notificationType, text string, data map[string]any) error {
	return m.record(notifierCall{method: "NotifyBulk", principals: principals, status: notificationType, text: text, data: data})
}

type mockPrincipals struct {
	LookupPrincipalFn func(ctx context.Context, id domain.PrincipalID) (*domain.Principal, error)
}

func (m *mockPrincipals) LookupPrincipal(ctx context.Context, id domain.PrincipalID) (*domain.Principal, error) {
	if m.LookupPrincipalFn != nil {
		return m.LookupPrincipalFn(ctx, id)
	}
	return nil, domain.ErrPrincipalNotFound
}

type mockPresence struct {
	SnapshotFn func(ctx context.Context) (broadcast.Snapshot, error)
}

func (m *mockPresence) Snapshot(ctx context.Context) (broadcast.Snapshot, error) {
	if m.SnapshotFn != nil {
		return m.SnapshotFn(ctx)
	}
	return broadcast.Snapshot{
		Principals: map[domain.PrincipalID]int{},
		Classes:    map[domain.RoleClass]int{},
	}, nil
}

type mockWebSocket struct {
	mu       sync.Mutex
	pathIDs  []string
	remoteIP string
}

func (m *mockWebSocket) Serve(w http.ResponseWriter, _ *http.Request, remoteIP, pathUserID string) {
	m.mu.Lock()
	m.pathIDs = append(m.pathIDs, pathUserID)
	m.remoteIP = remoteIP
	m.mu.Unlock()
	w.WriteHeader(http.StatusSwitchingProtocols)
}

type testDeps struct {
	notifier   *mockNotifier
	principals *mockPrincipals
	presence   *mockPresence
	websocket  *mockWebSocket
}

func newTestDeps() *testDeps {
	return &testDeps{
		notifier:   &mockNotifier{},
		principals: &mockPrincipals{},
		presence:   &mockPresence{},
		websocket:  &mockWebSocket{},
	}
}

func newTestServer(t *testing.T, deps *testDeps, opts ...Option) *Server {
	t.Helper()
	if deps == nil {
		deps = newTestDeps()
	}
	cfg := &config.Config{
		AppEnv:       "test",
		Port:         "0",
		NotifyAPIKey: testAPIKey,
	}
	return NewServer(cfg, deps.notifier, deps.principals, deps.presence, deps.websocket, opts...)
}

const testAPIKey = "test-api-key"
