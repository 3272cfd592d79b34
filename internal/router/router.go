// Package router classifies intercepted requests into fetch strategies.
package router

import (
	"net/url"
	"strings"

	"github.com/clawpizza/agent/config"
)

// Strategy names how a request should be satisfied.
type Strategy string

const (
	// StrategyLocalFirst serves from the cache and falls back to the origin.
	StrategyLocalFirst Strategy = "local-first"
	// StrategyRemoteFirst contacts the origin and falls back to the cache.
	StrategyRemoteFirst Strategy = "remote-first"
)

// Router decides the strategy for each request URL. Backend hosts and
// API-prefixed paths go remote-first; everything else goes local-first.
type Router struct {
	backendHosts map[string]struct{}
	apiPrefix    string
}

// New builds a Router from the routing configuration. Host matching is
// case-insensitive.
func New(cfg config.RouterConfig) *Router {
	hosts := make(map[string]struct{}, len(cfg.BackendHosts))
	for _, host := range cfg.BackendHosts {
		host = strings.ToLower(strings.TrimSpace(host))
		if host == "" {
			continue
		}
		hosts[host] = struct{}{}
	}
	prefix := cfg.APIPrefix
	if prefix == "" {
		prefix = "/api/"
	}
	return &Router{backendHosts: hosts, apiPrefix: prefix}
}

// Classify returns the strategy for a request URL.
func (r *Router) Classify(u *url.URL) Strategy {
	if u == nil {
		return StrategyLocalFirst
	}
	if _, ok := r.backendHosts[strings.ToLower(u.Hostname())]; ok {
		return StrategyRemoteFirst
	}
	if strings.HasPrefix(u.Path, r.apiPrefix) {
		return StrategyRemoteFirst
	}
	return StrategyLocalFirst
}
