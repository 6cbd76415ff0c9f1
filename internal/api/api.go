// Package api exposes the intent-ingestion and status/explain HTTP
// surface (spec §6: "Status/explain surface — structured snapshots").
package api

import (
	"container/list"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sentrygov/governor/internal/engine"
	"github.com/sentrygov/governor/internal/feedback"
	"github.com/sentrygov/governor/internal/panicswitch"
	"github.com/sentrygov/governor/internal/risk"
	"github.com/sentrygov/governor/internal/trace"
)

// IntentRequest is the wire shape of the Intent object (spec §6): "id,
// signature (presence-only check), action, requires_admin, scope,
// priority, fuel_estimate, burst_count, off_hours", plus the
// out-of-band actor_reputation the caller asserts for this request.
type IntentRequest struct {
	ID              string `json:"id" validate:"required"`
	Signature       string `json:"signature,omitempty"`
	Action          string `json:"action" validate:"required"`
	RequiresAdmin   bool   `json:"requires_admin"`
	Scope           string `json:"scope"`
	Priority        string `json:"priority" validate:"omitempty,oneof=low normal high"`
	FuelEstimate    int64  `json:"fuel_estimate" validate:"gte=0"`
	BurstCount      int    `json:"burst_count" validate:"gte=0"`
	OffHours        bool   `json:"off_hours"`
	ActorReputation float64 `json:"actor_reputation" validate:"gte=0,lte=1"`
}

// OverrideRequest is the body of a manual-override request (spec §4.1).
type OverrideRequest struct {
	Operator      string `json:"operator" validate:"required"`
	Decision      string `json:"decision" validate:"required,oneof=APPROVED QUARANTINED REJECTED"`
	Justification string `json:"justification" validate:"required"`
}

// PanicRequest is the body of a panic activate request.
type PanicRequest struct {
	Reason string `json:"reason"`
}

// maxRetainedTraces bounds the in-memory trace cache backing
// /v1/traces/{id} lookups; the audit chain, not this cache, is the
// durable record (spec §4.6).
const maxRetainedTraces = 10000

// Server wires the Governance Engine to an HTTP surface via chi.
type Server struct {
	eng      *engine.Engine
	log      *zap.Logger
	validate *validator.Validate
	feedback *feedback.Loop // nil disables telemetry feeding

	mu      sync.Mutex
	traces  map[string]*trace.Trace
	order   *list.List // of trace IDs, oldest-first, for eviction
	listPos map[string]*list.Element
}

// NewServer builds a Server bound to eng.
func NewServer(eng *engine.Engine, log *zap.Logger) *Server {
	return &Server{
		eng:      eng,
		log:      log,
		validate: validator.New(),
		traces:   make(map[string]*trace.Trace),
		order:    list.New(),
		listPos:  make(map[string]*list.Element),
	}
}

// WithFeedback wires a feedback.Loop so every evaluated intent's latency
// and outcome feed the adaptive controller (spec §4.6).
func (s *Server) WithFeedback(loop *feedback.Loop) *Server {
	s.feedback = loop
	return s
}

// storeTrace retains t for later /v1/traces/{id} lookups, evicting the
// oldest entry once the cache is full.
func (s *Server) storeTrace(t *trace.Trace) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.traces[t.TraceID] = t
	s.listPos[t.TraceID] = s.order.PushBack(t.TraceID)

	for s.order.Len() > maxRetainedTraces {
		oldest := s.order.Front()
		id := oldest.Value.(string)
		s.order.Remove(oldest)
		delete(s.listPos, id)
		delete(s.traces, id)
	}
}

func (s *Server) lookupTrace(traceID string) *trace.Trace {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.traces[traceID]
}

// Router builds the chi router for the intent-ingestion and
// status/explain surface, with request logging and permissive CORS
// (grounded on jordigilh-kubernaut's gateway test harness, which
// mounts chi's CORS middleware ahead of its routes).
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/v1/status", s.handleStatus)
	r.Post("/v1/intents", s.handleIngestIntent)
	r.Get("/v1/traces/{traceID}", s.handleExplain)
	r.Post("/v1/traces/{traceID}/override", s.handleOverride)
	r.Post("/v1/admin/panic", s.handlePanicActivate)
	r.Post("/v1/admin/panic/clear", s.handlePanicClear)
	r.Post("/v1/admin/reload", s.handleReload)
	r.Post("/v1/admin/breakers/{name}/force-open", s.handleBreakerForceOpen)
	r.Post("/v1/admin/breakers/{name}/force-close", s.handleBreakerForceClose)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Status())
}

// handleIngestIntent is the evaluation entrypoint: decode, validate,
// translate to risk.Intent, run EvaluateIntent, retain the trace for
// later /v1/traces lookups, and return its Explain() form (spec §6,
// §4.3).
func (s *Server) handleIngestIntent(w http.ResponseWriter, r *http.Request) {
	var req IntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed intent body")
		return
	}
	// Missing id defaults to "unknown" rather than being rejected (spec
	// §7: "missing id = unknown"), but every other field is still
	// validated regardless of whether id was present.
	if req.ID == "" {
		req.ID = "unknown"
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	intent := risk.Intent{
		ID:            req.ID,
		HasSignature:  req.Signature != "",
		Action:        req.Action,
		RequiresAdmin: req.RequiresAdmin,
		Scope:         req.Scope,
		Priority:      req.Priority,
		FuelEstimate:  req.FuelEstimate,
		BurstCount:    req.BurstCount,
		OffHours:      req.OffHours,
	}

	isPanic := s.eng.Panic().IsActive()
	start := time.Now()
	t := s.eng.EvaluateIntent(r.Context(), intent, req.ActorReputation, isPanic)
	if s.feedback != nil {
		latencyMs := float64(time.Since(start)) / float64(time.Millisecond)
		s.feedback.Observe(latencyMs, t.Decision == trace.Rejected)
	}
	s.storeTrace(t)

	writeJSON(w, http.StatusOK, t.Explain())
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "traceID")
	t := s.lookupTrace(traceID)
	if t == nil {
		writeError(w, http.StatusNotFound, "unknown trace id")
		return
	}
	writeJSON(w, http.StatusOK, t.Explain())
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "traceID")
	t := s.lookupTrace(traceID)
	if t == nil {
		writeError(w, http.StatusNotFound, "unknown trace id")
		return
	}

	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed override body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	decision, ok := parseDecision(req.Decision)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown decision value")
		return
	}

	updated := s.eng.ManualOverride(t, req.Operator, decision, req.Justification)
	writeJSON(w, http.StatusOK, updated.Explain())
}

func (s *Server) handlePanicActivate(w http.ResponseWriter, r *http.Request) {
	var req PanicRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // empty body is fine — reason defaults
	s.eng.Panic().Activate(req.Reason, panicswitch.SourceAPI)
	writeJSON(w, http.StatusOK, map[string]string{"status": "panic activated"})
}

func (s *Server) handlePanicClear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Operator string `json:"operator"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.eng.Panic().Deactivate(req.Operator)
	writeJSON(w, http.StatusOK, map[string]string{"status": "panic cleared"})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	ok := s.eng.ReloadPolicy()
	writeJSON(w, http.StatusOK, map[string]bool{"reloaded": ok})
}

func (s *Server) handleBreakerForceOpen(w http.ResponseWriter, r *http.Request) {
	s.eng.Breakers().ForceOpen(chi.URLParam(r, "name"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "forced open"})
}

func (s *Server) handleBreakerForceClose(w http.ResponseWriter, r *http.Request) {
	s.eng.Breakers().ForceClose(chi.URLParam(r, "name"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "forced closed"})
}

func parseDecision(s string) (trace.Decision, bool) {
	switch s {
	case "APPROVED":
		return trace.Approved, true
	case "QUARANTINED":
		return trace.Quarantined, true
	case "REJECTED":
		return trace.Rejected, true
	default:
		return trace.Pending, false
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		_ = err // response already started; nothing more to do
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
