// Package api is the receiving backend: it accepts form records posted by
// workstations and stores them.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"scanwedge/internal/health"
	"scanwedge/internal/logging"
	"scanwedge/internal/metrics"
	"scanwedge/internal/schemavalidation"
	"scanwedge/internal/store"
)

// Server holds the handlers' dependencies.
type Server struct {
	store   *store.Store
	forms   map[string]*schemavalidation.FormValidator
	extra   map[string]bool
	metrics *metrics.ServerMetrics
	health  *health.Checker
	log     *slog.Logger
	now     func() time.Time
}

// NewServer creates a server. Records for forms in validators are checked
// against their schema; forms named in extra are accepted with only the
// envelope checked.
func NewServer(st *store.Store, validators []*schemavalidation.FormValidator, extra []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:   st,
		forms:   make(map[string]*schemavalidation.FormValidator, len(validators)),
		extra:   make(map[string]bool, len(extra)),
		metrics: metrics.NewServerMetrics(metrics.NewRegistry("scand")),
		health:  health.NewChecker(),
		log:     logger.With(slog.String("component", "api")),
		now:     time.Now,
	}
	for _, v := range validators {
		s.forms[v.Name()] = v
	}
	for _, name := range extra {
		s.extra[name] = true
	}
	s.health.RegisterFunc("database", true, health.ErrorCheck(st.DB().PingContext))
	s.health.RegisterFunc("schema", true, health.ErrorCheck(func(context.Context) error {
		return store.ValidateSchema(st.DB())
	}))
	return s
}

// Metrics returns the server's metrics.
func (s *Server) Metrics() *metrics.ServerMetrics {
	return s.metrics
}

// NewRouter wires the routes.
func (s *Server) NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestID, s.accessLog)

	r.Handle("/health", s.health.Handler()).Methods("GET")
	r.HandleFunc("/metrics", s.exportMetrics).Methods("GET")
	r.HandleFunc("/api/stats", s.stats).Methods("GET")
	r.HandleFunc("/api/forms/{form}", s.submitRecord).Methods("POST")
	r.HandleFunc("/api/forms/{form}/records", s.listRecords).Methods("GET")
	r.HandleFunc("/api/forms/{form}/schema", s.formSchema).Methods("GET")
	return r
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = logging.NewRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithRequestID(r.Context(), id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.ObserveRequest(r.Method, s.now().Sub(start))
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", s.now().Sub(start),
			"request_id", logging.RequestIDFromContext(r.Context()),
		)
	})
}
