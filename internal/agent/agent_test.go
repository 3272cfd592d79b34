package agent

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/clawpizza/agent/config"
	"github.com/clawpizza/agent/internal/domain/cachestore"
	"github.com/clawpizza/agent/internal/fetch"
	"github.com/clawpizza/agent/internal/push"
	"github.com/clawpizza/agent/internal/router"
)

var testManifest = []string{
	"/",
	"/index.html",
	"/manifest.json",
	"https://cdn.socket.io/4.7.5/socket.io.min.js",
	"https://cdn.jsdelivr.net/npm/canvas-confetti@1.9.3/dist/confetti.browser.min.js",
}

type fakeCache struct {
	generations map[string]map[string]cachestore.Snapshot
}

func newFakeCache() *fakeCache {
	return &fakeCache{generations: make(map[string]map[string]cachestore.Snapshot)}
}

func (c *fakeCache) Get(_ context.Context, generation, identity string) (cachestore.Snapshot, bool, error) {
	snap, ok := c.generations[generation][identity]
	return snap, ok, nil
}

func (c *fakeCache) Put(_ context.Context, generation, identity string, snap cachestore.Snapshot) error {
	if c.generations[generation] == nil {
		c.generations[generation] = make(map[string]cachestore.Snapshot)
	}
	c.generations[generation][identity] = snap
	return nil
}

func (c *fakeCache) BulkPopulate(_ context.Context, generation string, entries map[string]cachestore.Snapshot) error {
	bucket := make(map[string]cachestore.Snapshot, len(entries))
	for identity, snap := range entries {
		bucket[identity] = snap
	}
	c.generations[generation] = bucket
	return nil
}

func (c *fakeCache) ListGenerations(context.Context) ([]string, error) {
	tags := make([]string, 0, len(c.generations))
	for tag := range c.generations {
		tags = append(tags, tag)
	}
	return tags, nil
}

func (c *fakeCache) DeleteGeneration(_ context.Context, generation string) error {
	delete(c.generations, generation)
	return nil
}

func (c *fakeCache) Close() error { return nil }

type manifestFetcher struct {
	failing map[string]error
}

func (f *manifestFetcher) Fetch(_ context.Context, req *http.Request) (cachestore.Snapshot, error) {
	if err, ok := f.failing[req.URL.String()]; ok {
		return cachestore.Snapshot{}, err
	}
	return cachestore.Snapshot{Status: 200, Body: []byte("asset:" + req.URL.String())}, nil
}

func newTestAgent(t *testing.T, cache cachestore.Store, fetcher fetch.Fetcher) *Agent {
	t.Helper()
	rt := router.New(config.RouterConfig{
		BackendHosts: []string{"api.claw.pizza", "ws.claw.pizza"},
		APIPrefix:    "/api/",
	})
	a, err := New(Options{
		Cache:      cache,
		Fetcher:    fetcher,
		Resolver:   fetch.NewResolver(cache, fetcher, "claw-pizza-v2", nil),
		Router:     rt,
		Generation: "claw-pizza-v2",
		Precache:   testManifest,
	})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	return a
}

func TestInstallPopulatesGeneration(t *testing.T) {
	cache := newFakeCache()
	a := newTestAgent(t, cache, &manifestFetcher{})

	if err := a.Install(context.Background()); err != nil {
		t.Fatalf("install: %v", err)
	}

	for _, target := range testManifest {
		identity := cachestore.Identity(http.MethodGet, target)
		_, found, err := cache.Get(context.Background(), "claw-pizza-v2", identity)
		if err != nil {
			t.Fatalf("get %q: %v", identity, err)
		}
		if !found {
			t.Fatalf("manifest entry %q not retrievable after install", identity)
		}
	}
}

func TestInstallFailureLeavesGenerationAbsent(t *testing.T) {
	cache := newFakeCache()
	fetcher := &manifestFetcher{failing: map[string]error{
		"/manifest.json": errors.New("connection refused"),
	}}
	a := newTestAgent(t, cache, fetcher)

	if err := a.Install(context.Background()); err == nil {
		t.Fatal("expected install to fail")
	}

	tags, _ := cache.ListGenerations(context.Background())
	if len(tags) != 0 {
		t.Fatalf("generations = %v, partial install must not create one", tags)
	}
}

func TestActivateRemovesStaleGenerations(t *testing.T) {
	cache := newFakeCache()
	ctx := context.Background()
	identity := cachestore.Identity(http.MethodGet, "/")
	for _, tag := range []string{"claw-pizza-v1", "claw-pizza-v2", "unrelated-v1"} {
		if err := cache.Put(ctx, tag, identity, cachestore.Snapshot{Status: 200}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	a := newTestAgent(t, cache, &manifestFetcher{})
	if err := a.Activate(ctx); err != nil {
		t.Fatalf("activate: %v", err)
	}

	tags, _ := cache.ListGenerations(ctx)
	var ownTags int
	for _, tag := range tags {
		switch tag {
		case "claw-pizza-v2":
			ownTags++
		case "claw-pizza-v1":
			t.Fatal("stale generation survived activation")
		}
	}
	if ownTags != 1 {
		t.Fatalf("own generations = %d, want exactly the current one", ownTags)
	}
}

func TestFailedInstallPreservesPriorGeneration(t *testing.T) {
	cache := newFakeCache()
	ctx := context.Background()
	shell := cachestore.Identity(http.MethodGet, "/index.html")
	if err := cache.Put(ctx, "claw-pizza-v1", shell, cachestore.Snapshot{
		Status: 200, Body: []byte("shell"),
	}); err != nil {
		t.Fatalf("put: %v", err)
	}

	// The agent serves claw-pizza-v2 but pre-population fails offline.
	fetcher := &manifestFetcher{failing: map[string]error{
		"/manifest.json": errors.New("connection refused"),
	}}
	a := newTestAgent(t, cache, fetcher)

	if err := a.Install(ctx); err == nil {
		t.Fatal("expected install to fail")
	}
	if err := a.Activate(ctx); err == nil {
		t.Fatal("activation must be refused when the generation was never committed")
	}

	_, found, err := cache.Get(ctx, "claw-pizza-v1", shell)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found {
		t.Fatal("previous generation destroyed by failed install")
	}
}

func TestInstallWithEmptyManifestCommitsGeneration(t *testing.T) {
	cache := newFakeCache()
	ctx := context.Background()
	rt := router.New(config.RouterConfig{APIPrefix: "/api/"})
	a, err := New(Options{
		Cache:      cache,
		Fetcher:    &manifestFetcher{},
		Resolver:   fetch.NewResolver(cache, &manifestFetcher{}, "claw-pizza-v2", nil),
		Router:     rt,
		Generation: "claw-pizza-v2",
	})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}

	if err := a.Install(ctx); err != nil {
		t.Fatalf("install: %v", err)
	}
	if err := a.Activate(ctx); err != nil {
		t.Fatalf("activate: %v", err)
	}
}

func TestHandleFetchRoutesThroughRouter(t *testing.T) {
	cache := newFakeCache()
	identity := cachestore.Identity(http.MethodGet, "/index.html")
	if err := cache.Put(context.Background(), "claw-pizza-v2", identity, cachestore.Snapshot{
		Status: 200, Body: []byte("cached shell"),
	}); err != nil {
		t.Fatalf("put: %v", err)
	}
	fetcher := &manifestFetcher{failing: map[string]error{
		"/index.html": errors.New("must serve from cache"),
	}}
	a := newTestAgent(t, cache, fetcher)

	req, _ := http.NewRequest(http.MethodGet, "/index.html", nil)
	snap, err := a.HandleFetch(context.Background(), req)
	if err != nil {
		t.Fatalf("handle fetch: %v", err)
	}
	if string(snap.Body) != "cached shell" {
		t.Fatalf("body = %q, want cached copy", snap.Body)
	}
}

func TestHandlePushBuildsNotification(t *testing.T) {
	a := newTestAgent(t, newFakeCache(), &manifestFetcher{})
	n := a.HandlePush(context.Background(), []byte(`{"type":"win"}`))
	if len(n.Actions) != 2 {
		t.Fatalf("actions = %d, want 2", len(n.Actions))
	}
}

func TestHandleNotificationClick(t *testing.T) {
	a := newTestAgent(t, newFakeCache(), &manifestFetcher{})

	// No open instance: a new one opens at the resolved target.
	opened := a.HandleNotificationClick(context.Background(), "claim-faucet", push.Notification{URL: "/machines/7"})
	if opened.URL != push.PrizesAnchor {
		t.Fatalf("url = %q, want %q", opened.URL, push.PrizesAnchor)
	}

	// An open instance gets focused and navigated instead.
	existing := a.Registry().Register("/")
	routed := a.HandleNotificationClick(context.Background(), "", push.Notification{URL: "/machines/7"})
	if routed.ID != existing.ID && routed.ID != opened.ID {
		t.Fatal("click must route to an already open instance")
	}
	if routed.URL != "/machines/7" {
		t.Fatalf("url = %q, want payload url", routed.URL)
	}
}

func TestNewRejectsMissingCollaborators(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error for empty options")
	}
}
