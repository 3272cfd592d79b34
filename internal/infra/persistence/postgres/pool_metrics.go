package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/clawpizza/agent/internal/telemetry"
)

// ObservePoolMetrics exports the pgx pool's connection statistics as
// observable gauges. Registration is best-effort; a failed registration
// leaves the pool unobserved but functional.
func ObservePoolMetrics(pool *pgxpool.Pool, poolName string) {
	if pool == nil {
		return
	}
	name := strings.TrimSpace(poolName)
	if name == "" {
		name = "primary"
	}
	attrs := metric.WithAttributes(
		attribute.String("environment", telemetry.Environment()),
		attribute.String("db_pool", name),
	)

	meter := otel.Meter("postgres.pool")
	gauge := func(metricName, description string, read func(*pgxpool.Stat) int32) {
		_, _ = meter.Int64ObservableGauge(metricName,
			metric.WithDescription(description),
			metric.WithUnit("{connection}"),
			metric.WithInt64Callback(func(_ context.Context, observer metric.Int64Observer) error {
				observer.Observe(int64(read(pool.Stat())), attrs)
				return nil
			}),
		)
	}

	gauge("agent_db_pool_connections_total",
		"Total connections (idle + acquired + constructing)",
		(*pgxpool.Stat).TotalConns)
	gauge("agent_db_pool_connections_idle",
		"Idle connections ready for checkout",
		(*pgxpool.Stat).IdleConns)
	gauge("agent_db_pool_connections_acquired",
		"Connections currently acquired by callers",
		(*pgxpool.Stat).AcquiredConns)
}
