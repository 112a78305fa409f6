// Package websocket upgrades dashboard clients, authenticates them once and
// runs the per-connection receive loop.
package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pscheid92/medidash/internal/adapter/metrics"
	"github.com/pscheid92/medidash/internal/broadcast"
	"github.com/pscheid92/medidash/internal/domain"
	"github.com/pscheid92/medidash/internal/platform/correlation"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("medidash/websocket")

const rejectWriteTimeout = 5 * time.Second

// Authenticator resolves a token into an active principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.Principal, error)
}

// Registry is the subset of the connection registry the loop drives.
type Registry interface {
	Connect(ctx context.Context, conn broadcast.Conn, principal domain.PrincipalID, class domain.RoleClass) (*broadcast.Client, error)
	Disconnect(client *broadcast.Client)
}

// DeliveryNotifier receives location updates sent by delivery partners.
type DeliveryNotifier interface {
	DeliveryUpdate(ctx context.Context, orderID int64, status string, location any) error
}

type Option func(*Handler)

func WithLimits(l *ConnectionLimits) Option {
	return func(h *Handler) { h.limits = l }
}

func WithMetrics(m *metrics.WebSocketMetrics) Option {
	return func(h *Handler) { h.metrics = m }
}

type Handler struct {
	upgrader   websocket.Upgrader
	auth       Authenticator
	registry   Registry
	deliveries DeliveryNotifier
	limits     *ConnectionLimits
	metrics    *metrics.WebSocketMetrics
}

func NewHandler(auth Authenticator, registry Registry, deliveries DeliveryNotifier, checkOrigin func(*http.Request) bool, opts ...Option) *Handler {
	h := &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		auth:       auth,
		registry:   registry,
		deliveries: deliveries,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve upgrades the request and blocks until the connection is closed.
// pathUserID is the raw :user_id path segment, or "" for /ws/connect where the
// principal is taken from the token alone.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, remoteIP, pathUserID string) {
	if h.limits != nil {
		ok, reason := h.limits.Acquire(remoteIP)
		if !ok {
			if h.metrics != nil {
				h.metrics.Rejections.WithLabelValues(string(reason)).Inc()
			}
			slog.WarnContext(r.Context(), "WebSocket connection refused", "reason", reason, "remote_ip", remoteIP)
			http.Error(w, http.StatusText(reason.StatusCode()), reason.StatusCode())
			return
		}
		defer h.limits.Release(remoteIP)
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.DebugContext(r.Context(), "WebSocket upgrade failed", "error", err)
		return
	}

	ctx := correlation.WithID(r.Context(), correlation.FromHeader(r.Header.Get(correlation.Header)))

	principal, class, failure := h.authenticate(ctx, r.URL.Query().Get("token"), pathUserID)
	if failure != nil {
		if h.metrics != nil {
			h.metrics.AuthFailures.WithLabelValues(failure.reason).Inc()
		}
		slog.WarnContext(ctx, "WebSocket authentication failed", "reason", failure.reason, "error", failure.err)
		reject(ctx, conn, failure.message)
		return
	}

	client, err := h.registry.Connect(ctx, conn, principal.ID, class)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to register connection", "principal_id", principal.ID, "error", err)
		reject(ctx, conn, "Connection failed")
		return
	}
	defer h.registry.Disconnect(client)

	logger := slog.With("principal_id", principal.ID, "role_class", class, "connection_id", client.ID())
	logger.InfoContext(ctx, "WebSocket connected")

	if err := client.Send(domain.ConfirmedMessage(principal, class)); err != nil {
		logger.WarnContext(ctx, "Failed to queue connection confirmation", "error", err)
	}

	s := &session{
		client:     client,
		class:      class,
		deliveries: h.deliveries,
		metrics:    h.metrics,
		logger:     logger,
	}
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logger.DebugContext(ctx, "WebSocket read ended", "error", err)
			}
			break
		}
		s.handle(ctx, frame)
	}

	logger.InfoContext(ctx, "WebSocket disconnected")
}

type authFailure struct {
	reason  string
	message string
	err     error
}

func (h *Handler) authenticate(ctx context.Context, token, pathUserID string) (*domain.Principal, domain.RoleClass, *authFailure) {
	var want domain.PrincipalID
	if pathUserID != "" {
		id, err := strconv.ParseInt(pathUserID, 10, 64)
		if err != nil || id <= 0 {
			return nil, "", &authFailure{reason: "bad_path_id", message: "Invalid user ID"}
		}
		want = domain.PrincipalID(id)
	}

	if token == "" {
		return nil, "", &authFailure{reason: "missing_token", message: "Authentication token required"}
	}

	principal, err := h.auth.Authenticate(ctx, token)
	switch {
	case errors.Is(err, domain.ErrPrincipalInactive):
		return nil, "", &authFailure{reason: "inactive", message: "Inactive user", err: err}
	case err != nil:
		return nil, "", &authFailure{reason: "invalid_token", message: "Invalid token", err: err}
	}

	if pathUserID != "" && principal.ID != want {
		return nil, "", &authFailure{reason: "id_mismatch", message: "User ID mismatch"}
	}

	class, err := domain.ClassForRole(principal.Role)
	if err != nil {
		return nil, "", &authFailure{reason: "unknown_role", message: "Unsupported account role", err: err}
	}
	return principal, class, nil
}

// reject writes exactly one error frame followed by a close frame. The
// connection has no writer goroutine yet, so writing directly is safe.
func reject(ctx context.Context, conn *websocket.Conn, message string) {
	deadline := time.Now().Add(rejectWriteTimeout)
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(domain.ErrorMessage(message)); err != nil {
		slog.DebugContext(ctx, "Failed to write error frame", "error", err)
	}
	closeFrame := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message)
	_ = conn.WriteControl(websocket.CloseMessage, closeFrame, deadline)
	_ = conn.Close()
}
