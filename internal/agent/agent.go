// Package agent coordinates the lifecycle of the offline agent: install
// pre-population, activation cleanup, request resolution, queue replay,
// and push presentation. The host delivers events; the agent never
// initiates them.
package agent

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/clawpizza/agent/errs"
	"github.com/clawpizza/agent/internal/clients"
	"github.com/clawpizza/agent/internal/domain/cachestore"
	"github.com/clawpizza/agent/internal/fetch"
	"github.com/clawpizza/agent/internal/observability"
	"github.com/clawpizza/agent/internal/push"
	"github.com/clawpizza/agent/internal/replay"
	"github.com/clawpizza/agent/internal/router"
	"github.com/clawpizza/agent/lib/async"
)

const component = "agent"

// EventType enumerates the lifecycle events the host can deliver.
type EventType string

const (
	EventInstall           EventType = "install"
	EventActivate          EventType = "activate"
	EventFetch             EventType = "fetch"
	EventSync              EventType = "sync"
	EventPush              EventType = "push"
	EventNotificationClick EventType = "notification-click"
)

// Options bundles the agent's collaborators and fixed values.
type Options struct {
	Cache      cachestore.Store
	Fetcher    fetch.Fetcher
	Resolver   *fetch.Resolver
	Router     *router.Router
	Replay     *replay.Engine
	Registry   *clients.Registry
	Generation string
	Precache   []string
	Logger     observability.Logger
}

// Agent is the event-driven core. Each Handle method serves exactly one
// EventType.
type Agent struct {
	cache      cachestore.Store
	fetcher    fetch.Fetcher
	resolver   *fetch.Resolver
	router     *router.Router
	replay     *replay.Engine
	registry   *clients.Registry
	generation string
	precache   []string
	logger     observability.Logger
}

// New wires an agent from its options.
func New(opts Options) (*Agent, error) {
	if opts.Cache == nil {
		return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("cache store required"))
	}
	if opts.Fetcher == nil {
		return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("fetcher required"))
	}
	if opts.Resolver == nil {
		return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("resolver required"))
	}
	if opts.Router == nil {
		return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("router required"))
	}
	if opts.Generation == "" {
		return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("generation tag required"))
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.Log()
	}
	registry := opts.Registry
	if registry == nil {
		registry = clients.NewRegistry()
	}
	return &Agent{
		cache:      opts.Cache,
		fetcher:    opts.Fetcher,
		resolver:   opts.Resolver,
		router:     opts.Router,
		replay:     opts.Replay,
		registry:   registry,
		generation: opts.Generation,
		precache:   opts.Precache,
		logger:     logger,
	}, nil
}

// Generation returns the cache generation this agent serves from.
func (a *Agent) Generation() string { return a.generation }

// Registry exposes the open-instance registry for host callbacks.
func (a *Agent) Registry() *clients.Registry { return a.registry }

// Install serves EventInstall: every manifest entry is fetched
// concurrently and the generation is committed in one step only when all
// fetches succeeded. A partial failure leaves the cache without the new
// generation.
func (a *Agent) Install(ctx context.Context) error {
	if len(a.precache) == 0 {
		// Commit the generation even without a manifest so activation
		// can tell a completed install from a failed one.
		return a.cache.BulkPopulate(ctx, a.generation, nil)
	}

	pool, err := async.NewPool(4, len(a.precache))
	if err != nil {
		return err
	}

	var (
		mu      sync.Mutex
		entries = make(map[string]cachestore.Snapshot, len(a.precache))
		failed  []error
	)
	for _, target := range a.precache {
		target := target
		submitErr := pool.Submit(ctx, func(taskCtx context.Context) error {
			req, err := http.NewRequestWithContext(taskCtx, http.MethodGet, target, nil)
			if err != nil {
				mu.Lock()
				failed = append(failed, err)
				mu.Unlock()
				return err
			}
			snap, err := a.fetcher.Fetch(taskCtx, req)
			if err == nil && (snap.Status < 200 || snap.Status >= 300) {
				err = errs.New(component, errs.CodeNetwork,
					errs.WithMessage(fmt.Sprintf("precache %s returned %d", target, snap.Status)),
					errs.WithHTTP(snap.Status))
			}
			mu.Lock()
			if err != nil {
				failed = append(failed, err)
			} else {
				entries[cachestore.Identity(http.MethodGet, target)] = snap
			}
			mu.Unlock()
			return err
		})
		if submitErr != nil {
			mu.Lock()
			failed = append(failed, submitErr)
			mu.Unlock()
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if len(failed) > 0 {
		a.logger.Error("install aborted",
			observability.F("generation", a.generation),
			observability.F("failures", len(failed)))
		return errs.New(component, errs.CodeNetwork,
			errs.WithMessage(fmt.Sprintf("install: %d of %d manifest fetches failed", len(failed), len(a.precache))),
			errs.WithCause(failed[0]))
	}

	if err := a.cache.BulkPopulate(ctx, a.generation, entries); err != nil {
		return err
	}
	a.logger.Info("install complete",
		observability.F("generation", a.generation),
		observability.F("entries", len(entries)))
	return nil
}

// Activate serves EventActivate: every stale generation owned by this
// agent is removed so exactly one remains before any request is served.
// Activation only follows a completed install: if the current generation
// was never committed, the previous one remains authoritative and no
// cleanup runs.
func (a *Agent) Activate(ctx context.Context) error {
	tags, err := a.cache.ListGenerations(ctx)
	if err != nil {
		return err
	}
	installed := false
	for _, tag := range tags {
		if tag == a.generation {
			installed = true
			break
		}
	}
	if !installed {
		a.logger.Error("activation refused: generation not installed",
			observability.F("generation", a.generation))
		return errs.New(component, errs.CodeUnavailable,
			errs.WithMessage(fmt.Sprintf("generation %s not installed", a.generation)))
	}
	if err := cachestore.Cleanup(ctx, a.cache, a.generation); err != nil {
		return err
	}
	a.logger.Info("activated", observability.F("generation", a.generation))
	return nil
}

// HandleFetch serves EventFetch: classify the request, then resolve it
// through the strategy the router picked.
func (a *Agent) HandleFetch(ctx context.Context, req *http.Request) (cachestore.Snapshot, error) {
	return a.resolver.Resolve(ctx, a.router.Classify(req.URL), req)
}

// HandleSync serves EventSync: a connectivity-restored signal carrying a
// category tag triggers one replay pass.
func (a *Agent) HandleSync(ctx context.Context, tag string) error {
	if a.replay == nil {
		return errs.New(component, errs.CodeUnavailable, errs.WithMessage("replay engine not configured"))
	}
	return a.replay.Trigger(ctx, tag)
}

// HandlePush serves EventPush: the raw payload becomes a presentable
// notification. Presentation itself belongs to the host.
func (a *Agent) HandlePush(_ context.Context, raw []byte) push.Notification {
	return push.BuildNotification(push.ParsePayload(raw))
}

// HandleNotificationClick serves EventNotificationClick: the pressed
// action resolves to a navigation target, routed to the top-ranked open
// instance or a freshly opened one.
func (a *Agent) HandleNotificationClick(_ context.Context, action string, n push.Notification) clients.Client {
	target := push.ResolveTarget(action, n)
	if client, ok := a.registry.FocusAndNavigate(target); ok {
		return client
	}
	return a.registry.Open(target)
}
