// Package metrics exposes Prometheus collectors for the HTTP API, the
// LLM collaborator and the scoring pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	LLMRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examforge_llm_requests_total",
			Help: "Calls to the LLM collaborator by operation and outcome",
		},
		[]string{"provider", "op", "outcome"},
	)

	LLMDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "examforge_llm_request_duration_seconds",
			Help:    "Duration of LLM collaborator calls",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 180},
		},
		[]string{"provider", "op"},
	)

	PapersComposed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examforge_papers_composed_total",
			Help: "Stored papers by kind, or \"imported\" for uploaded keys",
		},
		[]string{"kind"},
	)

	SubmissionsScored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examforge_submissions_scored_total",
			Help: "Scored submissions by outcome",
		},
		[]string{"outcome"},
	)

	FeedbackSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examforge_feedback_sessions_total",
			Help: "Feedback session events",
		},
		[]string{"event"},
	)
)

var initOnce sync.Once

// Init registers all collectors with the default registry. It is safe to
// call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestDuration,
			LLMRequests,
			LLMDuration,
			PapersComposed,
			SubmissionsScored,
			FeedbackSessions,
		)
	})
}

// ObserveLLM records one collaborator call.
func ObserveLLM(provider, op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	LLMRequests.WithLabelValues(provider, op, outcome).Inc()
	LLMDuration.WithLabelValues(provider, op).Observe(time.Since(start).Seconds())
}

// Middleware records request counts and durations by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		RequestCounter.WithLabelValues(r.Method, endpoint, strconv.Itoa(status)).Inc()
		RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
