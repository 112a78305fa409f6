package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pscheid92/medidash/internal/adapter/metrics"
)

// MetricsTracer records per-statement latency and errors.
type MetricsTracer struct {
	metrics *metrics.DBMetrics
}

var _ pgx.QueryTracer = (*MetricsTracer)(nil)

func NewMetricsTracer(m *metrics.DBMetrics) *MetricsTracer {
	return &MetricsTracer{metrics: m}
}

type queryContextKey struct{}

type queryContext struct {
	startTime time.Time
	queryName string
}

func (t *MetricsTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryContextKey{}, queryContext{
		startTime: time.Now(),
		queryName: queryName(data.SQL),
	})
}

func (t *MetricsTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qctx, ok := ctx.Value(queryContextKey{}).(queryContext)
	if !ok {
		return
	}

	t.metrics.QueryDuration.WithLabelValues(qctx.queryName).Observe(time.Since(qctx.startTime).Seconds())
	if data.Err != nil {
		t.metrics.Errors.WithLabelValues(qctx.queryName).Inc()
	}
}

// queryName reduces a statement to its lower-cased leading verb to keep label
// cardinality low.
func queryName(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	verb := strings.ToLower(fields[0])
	if len(verb) > 20 {
		verb = verb[:20]
	}
	return verb
}
