// Package httpserver exposes the WebSocket endpoints, the notification ingress
// used by the order, inventory and prescription services, presence lookups,
// health probes and metrics.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/medidash/internal/adapter/metrics"
	"github.com/pscheid92/medidash/internal/broadcast"
	"github.com/pscheid92/medidash/internal/domain"
	"github.com/pscheid92/medidash/internal/platform/config"
)

// Notifier is the dispatcher surface behind the notification ingress.
type Notifier interface {
	OrderStatusUpdate(ctx context.Context, principal domain.PrincipalID, orderID int64, status string, details map[string]any) error
	StockAlert(ctx context.Context, medicineID int64, medicineName string, currentStock, threshold int) error
	PrescriptionUpdate(ctx context.Context, principal domain.PrincipalID, prescriptionID int64, status, notes string) error
	DeliveryUpdate(ctx context.Context, orderID int64, status string, location any) error
	EmergencyAlert(ctx context.Context, orderID int64, emergencyType string, details map[string]any) error
	Notify(ctx context.Context, principal domain.PrincipalID, notificationType, text string, data map[string]any) error
	NotifyBulk(ctx context.Context, principals []domain.PrincipalID, notificationType, text string, data map[string]any) error
}

type PrincipalLookup interface {
	LookupPrincipal(ctx context.Context, id domain.PrincipalID) (*domain.Principal, error)
}

// Presence reports this instance's live connections.
type Presence interface {
	Snapshot(ctx context.Context) (broadcast.Snapshot, error)
}

// InstanceLister lists the instances currently serving connections.
type InstanceLister interface {
	ActiveInstances(ctx context.Context) ([]domain.InstanceInfo, error)
}

// WebSocketHandler upgrades and serves one connection; see websocket.Handler.
type WebSocketHandler interface {
	Serve(w http.ResponseWriter, r *http.Request, remoteIP, pathUserID string)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	notifier   Notifier
	principals PrincipalLookup
	presence   Presence
	websocket  WebSocketHandler
	instances  InstanceLister

	httpMetrics    *metrics.HTTPMetrics
	metricsHandler http.Handler
	healthChecks   []HealthCheck
	startTime      time.Time
}

type Option func(*Server)

// WithMetrics records request metrics and serves the registry on /metrics.
func WithMetrics(m *metrics.HTTPMetrics, handler http.Handler) Option {
	return func(s *Server) {
		s.httpMetrics = m
		s.metricsHandler = handler
	}
}

// WithInstances serves the cluster instance list on /api/v1/instances.
func WithInstances(l InstanceLister) Option {
	return func(s *Server) { s.instances = l }
}

func WithHealthChecks(checks ...HealthCheck) Option {
	return func(s *Server) { s.healthChecks = checks }
}

func NewServer(cfg *config.Config, notifier Notifier, principals PrincipalLookup, presence Presence, ws WebSocketHandler, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:       e,
		config:     cfg,
		notifier:   notifier,
		principals: principals,
		presence:   presence,
		websocket:  ws,
		startTime:  time.Now(),
	}
	for _, opt := range opts {
		opt(srv)
	}

	if cfg.NotifyAPIKey == "" {
		slog.Warn("NOTIFY_API_KEY is not set, the notification API accepts unauthenticated requests")
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
