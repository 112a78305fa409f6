package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pscheid92/medidash/internal/adapter/metrics"
	"github.com/pscheid92/medidash/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// NotificationChannel carries every relayed notification.
const NotificationChannel = "medidash:notifications"

const (
	targetPrincipal = "principal"
	targetRole      = "role"
)

type envelope struct {
	Target      string          `json:"target"`
	PrincipalID int64           `json:"principal_id,omitempty"`
	RoleClass   string          `json:"role_class,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

// LocalDelivery is this instance's connection registry.
type LocalDelivery interface {
	SendRawToPrincipal(ctx context.Context, id domain.PrincipalID, data []byte) (int, error)
	BroadcastRawToRole(ctx context.Context, class domain.RoleClass, data []byte) (int, error)
}

// Relay implements domain.Router across instances: sends are published to
// Redis and every instance, the sender included, delivers them to its own
// connections from Run.
type Relay struct {
	rdb     *goredis.Client
	local   LocalDelivery
	metrics *metrics.RelayMetrics

	readyOnce sync.Once
	ready     chan struct{}
}

var _ domain.Router = (*Relay)(nil)

// NewRelay builds a relay. m may be nil.
func NewRelay(rdb *goredis.Client, local LocalDelivery, m *metrics.RelayMetrics) *Relay {
	return &Relay{
		rdb:     rdb,
		local:   local,
		metrics: m,
		ready:   make(chan struct{}),
	}
}

func (r *Relay) SendToPrincipal(ctx context.Context, id domain.PrincipalID, msg domain.Message) error {
	return r.publish(ctx, envelope{Target: targetPrincipal, PrincipalID: int64(id)}, msg)
}

func (r *Relay) BroadcastToRole(ctx context.Context, class domain.RoleClass, msg domain.Message) error {
	return r.publish(ctx, envelope{Target: targetRole, RoleClass: string(class)}, msg)
}

// publish falls back to local delivery when Redis is unavailable, so the
// instance keeps serving its own connections during an outage.
func (r *Relay) publish(ctx context.Context, env envelope, msg domain.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", msg.Type, err)
	}
	env.Payload = payload

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := r.rdb.Publish(ctx, NotificationChannel, data).Err(); err != nil {
		if r.metrics != nil {
			r.metrics.PublishErrors.Inc()
		}
		slog.WarnContext(ctx, "Relay publish failed, delivering locally", "target", env.Target, "error", err)
		if _, localErr := r.deliver(ctx, env); localErr != nil {
			return fmt.Errorf("publish notification: %w", err)
		}
		return nil
	}

	if r.metrics != nil {
		r.metrics.Published.Inc()
	}
	return nil
}

// Ready is closed once Run has an active subscription.
func (r *Relay) Ready() <-chan struct{} {
	return r.ready
}

// Run subscribes to NotificationChannel and delivers envelopes to the local
// registry until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	pubsub := r.rdb.Subscribe(ctx, NotificationChannel)
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", NotificationChannel, err)
	}
	r.readyOnce.Do(func() { close(r.ready) })
	slog.Info("Relay subscribed", "channel", NotificationChannel)

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, msg.Payload)
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *Relay) handle(ctx context.Context, payload string) {
	if r.metrics != nil {
		r.metrics.Received.Inc()
	}

	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil || len(env.Payload) == 0 {
		if r.metrics != nil {
			r.metrics.DecodeErrors.Inc()
		}
		slog.WarnContext(ctx, "Dropping undecodable relay envelope", "error", err)
		return
	}

	if _, err := r.deliver(ctx, env); err != nil {
		slog.WarnContext(ctx, "Failed to deliver relayed notification", "target", env.Target, "error", err)
	}
}

func (r *Relay) deliver(ctx context.Context, env envelope) (int, error) {
	switch env.Target {
	case targetPrincipal:
		return r.local.SendRawToPrincipal(ctx, domain.PrincipalID(env.PrincipalID), env.Payload)
	case targetRole:
		class, ok := domain.ParseRoleClass(env.RoleClass)
		if !ok {
			return 0, fmt.Errorf("unknown role class %q", env.RoleClass)
		}
		return r.local.BroadcastRawToRole(ctx, class, env.Payload)
	default:
		return 0, fmt.Errorf("unknown relay target %q", env.Target)
	}
}
