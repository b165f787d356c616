package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/punchamoorthee/agentcash/internal/domain"
	"github.com/punchamoorthee/agentcash/internal/service"
)

// ActorHeader carries the account ref the upstream session layer authenticated.
const ActorHeader = "X-Account-Id"

// Metrics
var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentcash_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentcash_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "endpoint"})
)

// Requests is the part of the lifecycle service the HTTP layer drives.
type Requests interface {
	Create(ctx context.Context, in service.CreateInput) (*service.Created, error)
	Approve(ctx context.Context, reference string, actor domain.AccountRef, code string) (*domain.Request, error)
	Reject(ctx context.Context, reference string, actor domain.AccountRef, note string) (*domain.Request, error)
	Cancel(ctx context.Context, reference string, actor domain.AccountRef) (*domain.Request, error)
	View(ctx context.Context, reference string, actor domain.AccountRef) (domain.View, error)
	ListPendingFor(ctx context.Context, actor domain.AccountRef) ([]domain.View, error)
	ListFor(ctx context.Context, actor domain.AccountRef) ([]domain.View, error)
}

type HealthFunc func(ctx context.Context) error

type Handler struct {
	svc     Requests
	logger  *zap.Logger
	limiter *actorLimiter
	health  HealthFunc
}

type Options struct {
	RateLimitPerSec float64
	RateLimitBurst  int
	Health          HealthFunc
}

func NewHandler(svc Requests, logger *zap.Logger, opts Options) *Handler {
	h := &Handler{svc: svc, logger: logger, health: opts.Health}
	if opts.RateLimitPerSec > 0 {
		h.limiter = newActorLimiter(opts.RateLimitPerSec, opts.RateLimitBurst)
	}
	return h
}

// Router wires every route. Request endpoints live under /api/v1 and need
// the actor header.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.instrument)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(h.requireActor)
	v1.HandleFunc("/requests", h.CreateRequestHandler).Methods(http.MethodPost)
	v1.HandleFunc("/requests", h.ListRequestsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/requests/{reference}", h.GetRequestHandler).Methods(http.MethodGet)
	v1.HandleFunc("/requests/{reference}/approve", h.ApproveHandler).Methods(http.MethodPost)
	v1.HandleFunc("/requests/{reference}/reject", h.RejectHandler).Methods(http.MethodPost)
	v1.HandleFunc("/requests/{reference}/cancel", h.CancelHandler).Methods(http.MethodPost)
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		if endpoint == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(r.Method, endpoint))
		defer timer.ObserveDuration()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

type (
	actorKey     struct{}
	requestIDKey struct{}
)

func (h *Handler) requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := r.Header.Get(ActorHeader)
		if actor == "" {
			respondWithError(w, http.StatusUnauthorized, "Missing "+ActorHeader+" header", "")
			return
		}
		if h.limiter != nil && !h.limiter.Allow(actor) {
			w.Header().Set("Retry-After", "1")
			respondWithError(w, http.StatusTooManyRequests, "Rate limit exceeded", "")
			return
		}
		id := uuid.NewString()
		ctx := context.WithValue(r.Context(), actorKey{}, domain.AccountRef(actor))
		ctx = context.WithValue(ctx, requestIDKey{}, id)
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFrom(r *http.Request) domain.AccountRef {
	a, _ := r.Context().Value(actorKey{}).(domain.AccountRef)
	return a
}

func requestIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}
