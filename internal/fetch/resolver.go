package fetch

import (
	"context"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/clawpizza/agent/internal/domain/cachestore"
	"github.com/clawpizza/agent/internal/observability"
	"github.com/clawpizza/agent/internal/router"
	"github.com/clawpizza/agent/internal/telemetry"
)

const shellPath = "/index.html"

type offlineBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// OfflineSnapshot synthesizes the response served when the origin is
// unreachable and no cached copy exists.
func OfflineSnapshot() cachestore.Snapshot {
	body, _ := json.Marshal(offlineBody{
		Error:   "offline",
		Message: "You are currently offline.",
	})
	header := make(http.Header, 1)
	header.Set("Content-Type", "application/json")
	return cachestore.Snapshot{
		Status: http.StatusServiceUnavailable,
		Header: header,
		Body:   body,
	}
}

// Resolver applies the local-first and remote-first strategies against
// one cache generation.
type Resolver struct {
	cache      cachestore.Store
	fetcher    Fetcher
	generation string
	logger     observability.Logger
	metrics    *telemetry.AgentMetrics
}

// NewResolver wires a resolver over the given cache generation.
func NewResolver(cache cachestore.Store, fetcher Fetcher, generation string, logger observability.Logger) *Resolver {
	if logger == nil {
		logger = observability.Log()
	}
	return &Resolver{
		cache:      cache,
		fetcher:    fetcher,
		generation: generation,
		logger:     logger,
		metrics:    telemetry.Metrics(),
	}
}

// Resolve dispatches to the strategy chosen for the request.
func (r *Resolver) Resolve(ctx context.Context, strategy router.Strategy, req *http.Request) (cachestore.Snapshot, error) {
	if strategy == router.StrategyRemoteFirst {
		return r.RemoteFirst(ctx, req)
	}
	return r.LocalFirst(ctx, req)
}

// LocalFirst serves a cache hit without touching the network. On a miss
// the origin is consulted and successful GET responses are written
// through. A network failure on a navigation request falls back to the
// cached app shell; any other failure propagates.
func (r *Resolver) LocalFirst(ctx context.Context, req *http.Request) (cachestore.Snapshot, error) {
	identity := cachestore.Identity(req.Method, req.URL.String())

	snap, found, err := r.cache.Get(ctx, r.generation, identity)
	if err != nil {
		r.logger.Error("cache read failed",
			observability.F("identity", identity), observability.F("error", err.Error()))
	}
	if found {
		r.metrics.RecordFetch(ctx, string(router.StrategyLocalFirst), telemetry.ResultHit)
		return snap, nil
	}

	live, fetchErr := r.fetcher.Fetch(ctx, req)
	if fetchErr == nil {
		if req.Method == http.MethodGet && live.Status >= 200 && live.Status < 300 {
			if err := r.cache.Put(ctx, r.generation, identity, live); err != nil {
				r.logger.Error("write-through failed",
					observability.F("identity", identity), observability.F("error", err.Error()))
			} else {
				r.metrics.RecordCachePut(ctx, r.generation)
			}
		}
		r.metrics.RecordFetch(ctx, string(router.StrategyLocalFirst), telemetry.ResultMiss)
		return live, nil
	}

	if isNavigation(req) {
		shell, shellFound, shellErr := r.cache.Get(ctx, r.generation, cachestore.Identity(http.MethodGet, shellPath))
		if shellErr == nil && shellFound {
			r.logger.Info("serving cached shell",
				observability.F("url", req.URL.String()))
			r.metrics.RecordFetch(ctx, string(router.StrategyLocalFirst), telemetry.ResultFallback)
			return shell, nil
		}
	}
	return cachestore.Snapshot{}, fetchErr
}

// RemoteFirst always consults the origin first and never caches the
// result. On failure a cached copy is served when one exists; otherwise
// a synthesized offline response is returned. Raw network failures are
// never surfaced to the caller.
func (r *Resolver) RemoteFirst(ctx context.Context, req *http.Request) (cachestore.Snapshot, error) {
	live, fetchErr := r.fetcher.Fetch(ctx, req)
	if fetchErr == nil {
		r.metrics.RecordFetch(ctx, string(router.StrategyRemoteFirst), telemetry.ResultHit)
		return live, nil
	}

	identity := cachestore.Identity(req.Method, req.URL.String())
	snap, found, err := r.cache.Get(ctx, r.generation, identity)
	if err != nil {
		r.logger.Error("cache fallback read failed",
			observability.F("identity", identity), observability.F("error", err.Error()))
	}
	if found {
		r.metrics.RecordFetch(ctx, string(router.StrategyRemoteFirst), telemetry.ResultFallback)
		return snap, nil
	}

	r.logger.Info("offline response",
		observability.F("url", req.URL.String()))
	r.metrics.RecordFetch(ctx, string(router.StrategyRemoteFirst), telemetry.ResultOffline)
	return OfflineSnapshot(), nil
}

// isNavigation reports whether the request looks like a page navigation:
// a GET that either declares Sec-Fetch-Mode: navigate or accepts HTML.
func isNavigation(req *http.Request) bool {
	if req.Method != http.MethodGet {
		return false
	}
	if strings.EqualFold(req.Header.Get("Sec-Fetch-Mode"), "navigate") {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}
