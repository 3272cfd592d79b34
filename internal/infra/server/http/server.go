// Package httpserver exposes the agent's intercepting proxy and its
// control endpoints.
package httpserver

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/clawpizza/agent/errs"
	"github.com/clawpizza/agent/internal/agent"
	"github.com/clawpizza/agent/internal/domain/queuestore"
	"github.com/clawpizza/agent/internal/observability"
)

const (
	maxJSONBodyBytes int64 = 1 << 20 // 1 MiB

	healthPath      = "/healthz"
	statusPath      = "/agent/status"
	queuePathPrefix = "/agent/queue/"
	syncPathPrefix  = "/agent/sync/"
)

type httpServer struct {
	agent  *agent.Agent
	store  queuestore.Store
	dlq    *observability.DeadLetterQueue
	logger observability.Logger
}

// NewHandler builds the agent's HTTP handler. Control endpoints live
// under /agent/ and /healthz; every other request is intercepted and
// resolved through the agent.
func NewHandler(a *agent.Agent, store queuestore.Store, dlq *observability.DeadLetterQueue, logger observability.Logger) http.Handler {
	if logger == nil {
		logger = observability.Log()
	}
	server := &httpServer{agent: a, store: store, dlq: dlq, logger: logger}

	mux := http.NewServeMux()
	mux.Handle(healthPath, http.HandlerFunc(server.health))
	mux.Handle(statusPath, http.HandlerFunc(server.status))
	mux.Handle(queuePathPrefix, http.HandlerFunc(server.enqueue))
	mux.Handle(syncPathPrefix, http.HandlerFunc(server.sync))
	mux.Handle("/", http.HandlerFunc(server.intercept))
	return mux
}

func (s *httpServer) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusPayload struct {
	Generation  string         `json:"generation"`
	QueueDepths map[string]int `json:"queueDepths"`
	DeadLetters int            `json:"deadLetters"`
}

func (s *httpServer) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	depths := make(map[string]int, 2)
	for _, category := range queuestore.Categories() {
		records, err := s.store.List(r.Context(), category)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("list %s: %v", category, err))
			return
		}
		depths[string(category)] = len(records)
	}
	payload := statusPayload{
		Generation:  s.agent.Generation(),
		QueueDepths: depths,
	}
	if s.dlq != nil {
		payload.DeadLetters = s.dlq.Len()
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *httpServer) enqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	category := queuestore.Category(strings.Trim(strings.TrimPrefix(r.URL.Path, queuePathPrefix), "/"))
	if !category.Valid() {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown queue category %q", category))
		return
	}

	limitRequestBody(w, r)
	defer func() {
		_ = r.Body.Close()
	}()
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeDecodeError(w, err)
		return
	}

	record, err := s.store.Enqueue(r.Context(), category, payload)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.logger.Info("queued offline action",
		observability.F("category", string(category)),
		observability.F("id", record.ID))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":       record.ID,
		"category": string(category),
	})
}

func (s *httpServer) sync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	tag := strings.Trim(strings.TrimPrefix(r.URL.Path, syncPathPrefix), "/")
	if tag == "" {
		writeError(w, http.StatusNotFound, "sync tag required")
		return
	}
	if err := s.agent.HandleSync(r.Context(), tag); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "triggered", "tag": tag})
}

// intercept resolves any non-control request through the router and the
// fetch strategies, then replays the snapshot to the client.
func (s *httpServer) intercept(w http.ResponseWriter, r *http.Request) {
	snap, err := s.agent.HandleFetch(r.Context(), r)
	if err != nil {
		s.logger.Error("fetch resolution failed",
			observability.F("url", r.URL.String()),
			observability.F("error", err.Error()))
		writeError(w, http.StatusBadGateway, "upstream fetch failed")
		return
	}
	header := w.Header()
	for key, values := range snap.Header {
		for _, value := range values {
			header.Add(key, value)
		}
	}
	w.WriteHeader(snap.Status)
	_, _ = w.Write(snap.Body)
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch errs.CodeOf(err) {
	case errs.CodeInvalid:
		writeError(w, http.StatusBadRequest, err.Error())
	case errs.CodeUnavailable:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if isRequestTooLarge(err) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func isRequestTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

func limitRequestBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
}
