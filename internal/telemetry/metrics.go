package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Semantic convention attribute keys for agent telemetry.
const (
	// Request resolution attributes
	AttrStrategy = attribute.Key("fetch.strategy")
	AttrResult   = attribute.Key("result")

	// Cache attributes
	AttrGeneration = attribute.Key("cache.generation")

	// Queue attributes
	AttrCategory = attribute.Key("queue.category")

	// Environment attribute
	AttrEnvironment = attribute.Key("environment")
)

// Result values recorded against AttrResult.
const (
	ResultHit       = "hit"
	ResultMiss      = "miss"
	ResultFallback  = "fallback"
	ResultOffline   = "offline"
	ResultDelivered = "delivered"
	ResultFailed    = "failed"
	ResultDead      = "dead_lettered"
)

// AgentMetrics bundles the agent's counters.
type AgentMetrics struct {
	fetchTotal   metric.Int64Counter
	cachePuts    metric.Int64Counter
	replayTotal  metric.Int64Counter
	pushReceived metric.Int64Counter
}

var (
	agentMetrics     *AgentMetrics
	agentMetricsOnce sync.Once
)

// Metrics returns the lazily initialised agent counters. Instrument creation
// errors degrade to nil instruments, which record nothing.
func Metrics() *AgentMetrics {
	agentMetricsOnce.Do(func() {
		meter := otel.Meter("clawpizza.agent")
		m := new(AgentMetrics)
		m.fetchTotal, _ = meter.Int64Counter("agent_fetch_total",
			metric.WithDescription("Intercepted requests by strategy and resolution result"),
			metric.WithUnit("{request}"))
		m.cachePuts, _ = meter.Int64Counter("agent_cache_puts_total",
			metric.WithDescription("Responses written through into the resource cache"),
			metric.WithUnit("{entry}"))
		m.replayTotal, _ = meter.Int64Counter("agent_replay_total",
			metric.WithDescription("Queue replay delivery attempts by category and result"),
			metric.WithUnit("{entry}"))
		m.pushReceived, _ = meter.Int64Counter("agent_push_received_total",
			metric.WithDescription("Push payloads received on the push channel"),
			metric.WithUnit("{message}"))
		agentMetrics = m
	})
	return agentMetrics
}

// RecordFetch counts one resolved request.
func (m *AgentMetrics) RecordFetch(ctx context.Context, strategy, result string) {
	if m == nil || m.fetchTotal == nil {
		return
	}
	m.fetchTotal.Add(ctx, 1, metric.WithAttributes(
		AttrEnvironment.String(Environment()),
		AttrStrategy.String(strategy),
		AttrResult.String(result),
	))
}

// RecordCachePut counts one write-through population.
func (m *AgentMetrics) RecordCachePut(ctx context.Context, generation string) {
	if m == nil || m.cachePuts == nil {
		return
	}
	m.cachePuts.Add(ctx, 1, metric.WithAttributes(
		AttrEnvironment.String(Environment()),
		AttrGeneration.String(generation),
	))
}

// RecordReplay counts one replay delivery attempt outcome.
func (m *AgentMetrics) RecordReplay(ctx context.Context, category, result string) {
	if m == nil || m.replayTotal == nil {
		return
	}
	m.replayTotal.Add(ctx, 1, metric.WithAttributes(
		AttrEnvironment.String(Environment()),
		AttrCategory.String(category),
		AttrResult.String(result),
	))
}

// RecordPush counts one inbound push payload.
func (m *AgentMetrics) RecordPush(ctx context.Context) {
	if m == nil || m.pushReceived == nil {
		return
	}
	m.pushReceived.Add(ctx, 1, metric.WithAttributes(
		AttrEnvironment.String(Environment()),
	))
}
