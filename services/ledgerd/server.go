package ledgerd

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"surveyledger/core/events"
	"surveyledger/core/types"
	"surveyledger/native/access"
	"surveyledger/native/common"
	"surveyledger/native/proofs"
	"surveyledger/native/survey"
	"surveyledger/observability"
	"surveyledger/services/indexer"
)

const (
	RequestIDHeader       = "X-Request-ID"
	defaultIdempotencyTTL = 24 * time.Hour
	maxBodyBytes          = 1 << 20
)

// Backend is the ledger surface served over HTTP.
type Backend interface {
	ChainID() uint64
	Apply(tx *types.Transaction) (*types.Receipt, error)
	Survey(id string) (*survey.Survey, bool, error)
	IsRewarded(id string, participant [20]byte) (bool, error)
	IsManager(addr [20]byte) (bool, error)
	Owner() ([20]byte, error)
	Routing() (access.Routing, bool, error)
	Account(addr [20]byte) (*types.Account, error)
	CreateProof(proof proofs.Proof, params survey.CreateParams) ([32]byte, error)
	CancelProof(proof proofs.Proof, surveyID string) ([32]byte, error)
	RewardProof(proof proofs.Proof, surveyIDs []string, participants [][20]byte) ([32]byte, error)
	Events(since uint64) []events.Record
}

// EventIndex serves audit queries from the indexer database.
type EventIndex interface {
	EventsBySurvey(ctx context.Context, surveyID string, limit int) ([]indexer.EventRecord, error)
	Summary(ctx context.Context, surveyID string) (*indexer.SurveySummary, error)
}

// Options configures the HTTP server.
type Options struct {
	Logger         *slog.Logger
	Metrics        *observability.HTTPMetrics
	RateLimit      RateLimit
	Idempotency    *IdempotencyStore
	IdempotencyTTL time.Duration
	Index          EventIndex
	// ExposeMetrics mounts the Prometheus handler on /metrics.
	ExposeMetrics bool
}

// Server exposes the ledger over a JSON REST API.
type Server struct {
	backend        Backend
	index          EventIndex
	logger         *slog.Logger
	metrics        *observability.HTTPMetrics
	limiter        *RateLimiter
	idempotency    *IdempotencyStore
	idempotencyTTL time.Duration
	exposeMetrics  bool
	nowFn          func() time.Time
	router         http.Handler
}

// NewServer wires the routes for backend.
func NewServer(backend Backend, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := opts.IdempotencyTTL
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	s := &Server{
		backend:        backend,
		index:          opts.Index,
		logger:         logger.With(slog.String("component", "ledgerd")),
		metrics:        opts.Metrics,
		limiter:        NewRateLimiter(opts.RateLimit),
		idempotency:    opts.Idempotency,
		idempotencyTTL: ttl,
		exposeMetrics:  opts.ExposeMetrics,
		nowFn:          time.Now,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "ledgerd")
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withRequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.withMetrics)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.exposeMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.withRateLimit)
		api.With(s.withIdempotency).Post("/tx", s.handleSubmitTx)
		api.Get("/surveys/{id}", s.handleGetSurvey)
		api.Get("/surveys/{id}/participants/{addr}", s.handleIsRewarded)
		api.Get("/surveys/{id}/events", s.handleSurveyEvents)
		api.Post("/proofs/{kind}", s.handleProof)
		api.Get("/accounts/{addr}", s.handleGetAccount)
		api.Get("/access", s.handleGetAccess)
		api.Get("/events", s.handleEvents)
	})
	return r
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(status int) {
	sw.status = status
	sw.ResponseWriter.WriteHeader(status)
}

func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.metrics.Observe(routePattern(r), r.Method, sw.status, time.Since(started))
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return ""
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Class string `json:"class,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, class, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code, Class: class})
}

func (s *Server) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusForError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("ledgerd.request_failed",
			slog.String("requestid", w.Header().Get(RequestIDHeader)),
			slog.String("op", r.Method+" "+r.URL.Path),
			slog.String("error", err.Error()))
	}
	writeError(w, status, common.CodeOf(err), string(common.ClassOf(err)), err.Error())
}

// StatusForError maps a classified ledger error onto an HTTP status.
func StatusForError(err error) int {
	if errors.Is(err, survey.ErrSurveyNotFound) {
		return http.StatusNotFound
	}
	switch common.ClassOf(err) {
	case common.ClassAuthorization:
		return http.StatusForbidden
	case common.ClassReplay:
		return http.StatusConflict
	case common.ClassExpiry:
		return http.StatusGone
	case common.ClassSignature:
		return http.StatusUnauthorized
	case common.ClassState:
		return http.StatusConflict
	case common.ClassValue:
		return http.StatusUnprocessableEntity
	case common.ClassTransfer:
		return http.StatusBadGateway
	case common.ClassReentrancy:
		return http.StatusLocked
	case common.ClassInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
