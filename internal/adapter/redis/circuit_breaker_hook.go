package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/pscheid92/medidash/internal/adapter/metrics"
	goredis "github.com/redis/go-redis/v9"
)

// CircuitBreakerHook fails Redis calls fast while Redis is unhealthy, so a
// notification burst during an outage does not pile up on dial timeouts.
//
// Thresholds: opens at a 60% failure rate over at least 5 calls in 10s, probes
// again after 30s and closes on the first success.
type CircuitBreakerHook struct {
	cb circuitbreaker.CircuitBreaker[any]
}

var _ goredis.Hook = (*CircuitBreakerHook)(nil)

// ErrCircuitOpen is returned for every call rejected by an open breaker.
var ErrCircuitOpen = circuitbreaker.ErrOpen

// NewCircuitBreakerHook builds the hook. m may be nil.
func NewCircuitBreakerHook(m *metrics.RelayMetrics) *CircuitBreakerHook {
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(0.6, 5, 10*time.Second).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Redis circuit breaker state changed", "from", e.OldState.String(), "to", e.NewState.String())
			if m != nil {
				m.CircuitState.Set(stateToFloat(e.NewState))
			}
		}).
		Build()

	return &CircuitBreakerHook{cb: cb}
}

func (h *CircuitBreakerHook) State() circuitbreaker.State {
	return h.cb.State()
}

func stateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

func (h *CircuitBreakerHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if !h.cb.TryAcquirePermit() {
			return nil, fmt.Errorf("redis dial rejected: %w", ErrCircuitOpen)
		}
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.cb.RecordError(err)
			return nil, err
		}
		h.cb.RecordSuccess()
		return conn, nil
	}
}

func (h *CircuitBreakerHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		if !h.cb.TryAcquirePermit() {
			return fmt.Errorf("redis %s rejected: %w", cmd.Name(), ErrCircuitOpen)
		}

		err := next(ctx, cmd)
		h.record(err)
		return err
	}
}

func (h *CircuitBreakerHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		if !h.cb.TryAcquirePermit() {
			return fmt.Errorf("redis pipeline rejected: %w", ErrCircuitOpen)
		}

		err := next(ctx, cmds)
		h.record(err)
		return err
	}
}

// record treats a missing key as success.
func (h *CircuitBreakerHook) record(err error) {
	if err != nil && !errors.Is(err, goredis.Nil) {
		h.cb.RecordError(err)
		return
	}
	h.cb.RecordSuccess()
}
