// Package replay drains the offline write queue against the origin once
// connectivity returns.
package replay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/clawpizza/agent/config"
	"github.com/clawpizza/agent/errs"
	"github.com/clawpizza/agent/internal/domain/queuestore"
	"github.com/clawpizza/agent/internal/observability"
	"github.com/clawpizza/agent/internal/telemetry"
)

const component = "replay"

// Sync trigger tags understood by the engine.
const (
	TagPlays  = "sync-plays"
	TagClaims = "sync-claims"
)

// categoryFor maps a trigger tag to its queue category.
func categoryFor(tag string) (queuestore.Category, bool) {
	switch tag {
	case TagPlays:
		return queuestore.CategoryPlays, true
	case TagClaims:
		return queuestore.CategoryClaims, true
	default:
		return "", false
	}
}

// Deliverer pushes one queued payload to the origin.
type Deliverer interface {
	Deliver(ctx context.Context, category queuestore.Category, payload json.RawMessage) error
}

// HTTPDeliverer posts payloads to the origin's replay endpoints.
type HTTPDeliverer struct {
	client  *http.Client
	baseURL string
}

// NewHTTPDeliverer builds a deliverer against the origin base URL.
func NewHTTPDeliverer(cfg config.OriginConfig) *HTTPDeliverer {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPDeliverer{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
	}
}

func endpointFor(category queuestore.Category) string {
	if category == queuestore.CategoryClaims {
		return "/api/claim"
	}
	return "/api/play"
}

// Deliver implements Deliverer.
func (d *HTTPDeliverer) Deliver(ctx context.Context, category queuestore.Category, payload json.RawMessage) error {
	url := d.baseURL + endpointFor(category)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errs.New(component, errs.CodeInvalid,
			errs.WithMessage("build replay request"), errs.WithCause(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return errs.New(component, errs.CodeNetwork,
			errs.WithMessage(fmt.Sprintf("POST %s", url)), errs.WithCause(err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errs.New(component, errs.CodeNetwork,
			errs.WithMessage(fmt.Sprintf("POST %s returned %d", url, resp.StatusCode)),
			errs.WithHTTP(resp.StatusCode))
	}
	return nil
}

// Engine replays queued entries one at a time, throttled, removing each
// entry only after the origin acknowledged it. Entries that exhaust the
// attempt budget are dead-lettered and removed from the queue.
type Engine struct {
	store       queuestore.Store
	deliverer   Deliverer
	limiter     *rate.Limiter
	dlq         *observability.DeadLetterQueue
	maxAttempts int
	logger      observability.Logger
	metrics     *telemetry.AgentMetrics
}

// NewEngine wires a replay engine from its collaborators.
func NewEngine(store queuestore.Store, deliverer Deliverer, dlq *observability.DeadLetterQueue, cfg config.ReplayConfig, logger observability.Logger) *Engine {
	if logger == nil {
		logger = observability.Log()
	}
	perSec := cfg.DeliveriesPerSec
	if perSec <= 0 {
		perSec = 5
	}
	burst := cfg.DeliveryBurst
	if burst <= 0 {
		burst = 1
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Engine{
		store:       store,
		deliverer:   deliverer,
		limiter:     rate.NewLimiter(rate.Limit(perSec), burst),
		dlq:         dlq,
		maxAttempts: maxAttempts,
		logger:      logger,
		metrics:     telemetry.Metrics(),
	}
}

// Trigger replays every entry queued under the category named by tag.
// Unknown tags are ignored. A store read failure is logged and the
// trigger gives up without touching any entry. Individual delivery
// failures never abort the rest of the batch.
func (e *Engine) Trigger(ctx context.Context, tag string) error {
	category, ok := categoryFor(tag)
	if !ok {
		e.logger.Debug("ignoring unknown sync tag", observability.F("tag", tag))
		return nil
	}

	records, err := e.store.List(ctx, category)
	if err != nil {
		e.logger.Error("queue read failed",
			observability.F("category", string(category)),
			observability.F("error", err.Error()))
		return nil
	}
	if len(records) == 0 {
		return nil
	}

	e.logger.Info("replay started",
		observability.F("category", string(category)),
		observability.F("pending", len(records)))

	for _, record := range records {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
		e.replayOne(ctx, category, record)
	}
	return nil
}

func (e *Engine) replayOne(ctx context.Context, category queuestore.Category, record queuestore.Record) {
	err := e.deliverer.Deliver(ctx, category, record.Payload)
	if err == nil {
		if delErr := e.store.Delete(ctx, category, record.ID); delErr != nil {
			e.logger.Error("delete after delivery failed",
				observability.F("category", string(category)),
				observability.F("id", record.ID),
				observability.F("error", delErr.Error()))
			return
		}
		e.metrics.RecordReplay(ctx, string(category), telemetry.ResultDelivered)
		return
	}

	attempts := record.Attempts + 1
	if attempts >= e.maxAttempts {
		e.deadLetter(ctx, category, record, attempts, err)
		return
	}

	if markErr := e.store.MarkFailed(ctx, category, record.ID, err.Error()); markErr != nil {
		e.logger.Error("mark failed errored",
			observability.F("category", string(category)),
			observability.F("id", record.ID),
			observability.F("error", markErr.Error()))
	}
	e.metrics.RecordReplay(ctx, string(category), telemetry.ResultFailed)
	e.logger.Info("replay attempt failed",
		observability.F("category", string(category)),
		observability.F("id", record.ID),
		observability.F("attempts", attempts),
		observability.F("error", err.Error()))
}

func (e *Engine) deadLetter(ctx context.Context, category queuestore.Category, record queuestore.Record, attempts int, cause error) {
	if e.dlq != nil {
		e.dlq.Offer(observability.DeadLetter{
			Category: string(category),
			EntryID:  record.ID,
			Payload:  record.Payload,
			Attempts: attempts,
			LastError: func() string {
				if cause == nil {
					return ""
				}
				return cause.Error()
			}(),
			FailedAt: time.Now().UTC(),
		})
	}
	if delErr := e.store.Delete(ctx, category, record.ID); delErr != nil {
		e.logger.Error("delete after dead-letter failed",
			observability.F("category", string(category)),
			observability.F("id", record.ID),
			observability.F("error", delErr.Error()))
	}
	e.metrics.RecordReplay(ctx, string(category), telemetry.ResultDead)
	e.logger.Error("entry dead-lettered",
		observability.F("category", string(category)),
		observability.F("id", record.ID),
		observability.F("attempts", attempts))
}
