package websocket

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// LimitReason names the limit that refused an upgrade. It doubles as the
// metrics label.
type LimitReason string

const (
	LimitReasonRate   LimitReason = "rate_limit"
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
)

// StatusCode is the HTTP status returned for a refused upgrade.
func (r LimitReason) StatusCode() int {
	if r == LimitReasonGlobal {
		return http.StatusServiceUnavailable
	}
	return http.StatusTooManyRequests
}

const (
	idleLimiterTTL  = 10 * time.Minute
	cleanupInterval = 5 * time.Minute
)

// ConnectionLimits guards the upgrade path with a per-IP token bucket, an
// instance-wide connection cap and a per-IP connection cap. Every successful
// Acquire must be paired with a Release.
type ConnectionLimits struct {
	clock     clockwork.Clock
	globalMax int64
	perIPMax  int
	rate      rate.Limit
	burst     int

	current atomic.Int64

	mu        sync.Mutex
	perIP     map[string]int
	buckets   map[string]*bucket
	cleanupAt time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewConnectionLimits(globalMax int64, perIPMax int, connectionsPerSecond float64, burst int, clock clockwork.Clock) *ConnectionLimits {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ConnectionLimits{
		clock:     clock,
		globalMax: globalMax,
		perIPMax:  perIPMax,
		rate:      rate.Limit(connectionsPerSecond),
		burst:     burst,
		perIP:     make(map[string]int),
		buckets:   make(map[string]*bucket),
		cleanupAt: clock.Now().Add(cleanupInterval),
	}
}

// Acquire reserves a slot for ip. The rate bucket is consulted first, so a
// refused burst never touches the connection counters.
func (l *ConnectionLimits) Acquire(ip string) (bool, LimitReason) {
	if !l.allowRate(ip) {
		return false, LimitReasonRate
	}

	if !l.acquireGlobal() {
		return false, LimitReasonGlobal
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.perIP[ip] >= l.perIPMax {
		l.current.Add(-1)
		return false, LimitReasonPerIP
	}
	l.perIP[ip]++
	return true, ""
}

func (l *ConnectionLimits) Release(ip string) {
	l.mu.Lock()
	if n := l.perIP[ip]; n > 1 {
		l.perIP[ip] = n - 1
	} else {
		delete(l.perIP, ip)
	}
	l.mu.Unlock()

	l.current.Add(-1)
}

// Current is the number of held slots on this instance.
func (l *ConnectionLimits) Current() int64 {
	return l.current.Load()
}

func (l *ConnectionLimits) CountFor(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perIP[ip]
}

func (l *ConnectionLimits) acquireGlobal() bool {
	for {
		n := l.current.Load()
		if n >= l.globalMax {
			return false
		}
		if l.current.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (l *ConnectionLimits) allowRate(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.After(l.cleanupAt) {
		cutoff := now.Add(-idleLimiterTTL)
		for key, b := range l.buckets {
			if b.lastSeen.Before(cutoff) {
				delete(l.buckets, key)
			}
		}
		l.cleanupAt = now.Add(cleanupInterval)
	}

	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func (l *ConnectionLimits) trackedBuckets() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
