// Package fetch resolves intercepted requests through the cache and the
// live origin, applying the strategy the router picked.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clawpizza/agent/config"
	"github.com/clawpizza/agent/errs"
	"github.com/clawpizza/agent/internal/domain/cachestore"
)

// Fetcher performs a live request and captures the response.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (cachestore.Snapshot, error)
}

// OriginFetcher issues live requests through a shared http.Client.
// Origin-relative URLs resolve against the configured base URL.
type OriginFetcher struct {
	client  *http.Client
	baseURL *url.URL
}

// NewOriginFetcher builds an OriginFetcher from the origin configuration.
func NewOriginFetcher(cfg config.OriginConfig) (*OriginFetcher, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errs.New("fetch", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("parse origin base URL %q", cfg.BaseURL)),
			errs.WithCause(err))
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OriginFetcher{
		client:  &http.Client{Timeout: timeout},
		baseURL: base,
	}, nil
}

// hop-by-hop headers never forwarded in either direction.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Fetch implements Fetcher.
func (f *OriginFetcher) Fetch(ctx context.Context, req *http.Request) (cachestore.Snapshot, error) {
	target := *req.URL
	if !target.IsAbs() {
		target = *f.baseURL.ResolveReference(req.URL)
	}

	outbound, err := http.NewRequestWithContext(ctx, req.Method, target.String(), req.Body)
	if err != nil {
		return cachestore.Snapshot{}, errs.New("fetch", errs.CodeInvalid,
			errs.WithMessage("build outbound request"), errs.WithCause(err))
	}
	outbound.Header = req.Header.Clone()
	for _, h := range hopHeaders {
		outbound.Header.Del(h)
	}

	resp, err := f.client.Do(outbound)
	if err != nil {
		return cachestore.Snapshot{}, errs.New("fetch", errs.CodeNetwork,
			errs.WithMessage(fmt.Sprintf("%s %s", req.Method, target.String())),
			errs.WithCause(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return cachestore.Snapshot{}, errs.New("fetch", errs.CodeNetwork,
			errs.WithMessage("read response body"), errs.WithCause(err))
	}

	header := resp.Header.Clone()
	for _, h := range hopHeaders {
		header.Del(h)
	}
	return cachestore.Snapshot{
		Status: resp.StatusCode,
		Header: header,
		Body:   body,
	}, nil
}
