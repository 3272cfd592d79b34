// Package clients tracks open application instances so notification
// clicks can be routed to a deterministic target.
package clients

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Client is one open application instance.
type Client struct {
	ID          string
	URL         string
	LastFocused time.Time
}

// Registry ranks open instances by recency of focus. Ties break on ID
// so the ordering is total and tests stay deterministic.
type Registry struct {
	mu      sync.Mutex
	clients map[string]Client
	now     func() time.Time
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]Client),
		now:     time.Now,
	}
}

// Register records a newly opened instance and returns its handle.
func (r *Registry) Register(url string) Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	client := Client{
		ID:          uuid.NewString(),
		URL:         url,
		LastFocused: r.now(),
	}
	r.clients[client.ID] = client
	return client
}

// Deregister drops a closed instance. Unknown IDs are ignored.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
}

// Focus marks an instance as most recently focused.
func (r *Registry) Focus(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	client, ok := r.clients[id]
	if !ok {
		return false
	}
	client.LastFocused = r.now()
	r.clients[id] = client
	return true
}

// Navigate points an instance at a new URL.
func (r *Registry) Navigate(id, url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	client, ok := r.clients[id]
	if !ok {
		return false
	}
	client.URL = url
	r.clients[id] = client
	return true
}

// List returns every open instance ranked by focus recency, most recent
// first.
func (r *Registry) List() []Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Client, 0, len(r.clients))
	for _, client := range r.clients {
		out = append(out, client)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastFocused.Equal(out[j].LastFocused) {
			return out[i].LastFocused.After(out[j].LastFocused)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// FocusAndNavigate routes a navigation target to the top-ranked open
// instance. When no instance is open it reports false and the caller
// opens a fresh one.
func (r *Registry) FocusAndNavigate(target string) (Client, bool) {
	ranked := r.List()
	if len(ranked) == 0 {
		return Client{}, false
	}
	top := ranked[0]
	r.Focus(top.ID)
	r.Navigate(top.ID, target)

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients[top.ID], true
}

// Open registers a new focused instance at url.
func (r *Registry) Open(url string) Client {
	return r.Register(url)
}
