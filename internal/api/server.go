// Package api exposes the QC engine over HTTP to the dashboard and admin
// console. Handlers are thin: they decode, call the engine, and map the
// workflow error taxonomy onto status codes. Authorization decisions live
// in the engine, not here.
package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/settlemetrics/qc-service/internal/qc"
	"github.com/settlemetrics/qc-service/internal/report"
	"github.com/settlemetrics/qc-service/internal/store"
	"github.com/settlemetrics/qc-service/internal/triage"
)

// Server wires the engine, triage queue, and report assembler into an HTTP
// router.
type Server struct {
	engine    *qc.Engine
	queue     *triage.Queue
	assembler *report.Assembler
	store     store.Store
	exportCfg report.ExportConfig

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	anonRate  rate.Limit
	anonBurst int
}

// NewServer creates a Server. anonRatePerMin/anonBurst throttle anonymous
// flag submissions per client IP.
func NewServer(engine *qc.Engine, queue *triage.Queue, assembler *report.Assembler, st store.Store, exportCfg report.ExportConfig, anonRatePerMin float64, anonBurst int) *Server {
	if anonRatePerMin <= 0 {
		anonRatePerMin = 10
	}
	if anonBurst <= 0 {
		anonBurst = 5
	}
	return &Server{
		engine:    engine,
		queue:     queue,
		assembler: assembler,
		store:     st,
		exportCfg: exportCfg,
		limiters:  make(map[string]*rate.Limiter),
		anonRate:  rate.Limit(anonRatePerMin / 60),
		anonBurst: anonBurst,
	}
}

// Router builds the chi router with all QC endpoints mounted.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Post("/outputs", s.handleRecordOutput)

	r.Route("/cases/{caseID}", func(r chi.Router) {
		r.Get("/comparison", s.handleComparison)
		r.Get("/events", s.handleEvents)
		r.Route("/review", func(r chi.Router) {
			r.Post("/claim", s.handleClaim)
			r.Patch("/fields/{fieldKey}", s.handleEditField)
			r.Post("/confirm", s.handleConfirmField)
			r.Post("/submit", s.handleSubmit)
			r.Post("/decide", s.handleDecide)
		})
	})

	r.Get("/sessions", s.handleListSessions)

	r.Route("/flags", func(r chi.Router) {
		r.Get("/", s.handleListFlags)
		r.Post("/", s.handleSubmitFlag)
		r.Patch("/{flagID}", s.handleUpdateFlag)
	})

	r.Get("/export", s.handleExport)

	return r
}

// requestLogger logs each request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// allowAnonymous reports whether an anonymous submission from this client
// is within the rate limit.
func (s *Server) allowAnonymous(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	s.limiterMu.Lock()
	l, ok := s.limiters[host]
	if !ok {
		l = rate.NewLimiter(s.anonRate, s.anonBurst)
		s.limiters[host] = l
	}
	s.limiterMu.Unlock()
	return l.Allow()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := qc.HTTPStatus(err)
	body := map[string]any{"error": err.Error()}

	// Surface the offending fields so the UI can highlight them.
	var unresolved *qc.UnresolvedDiscrepancyError
	if errors.As(err, &unresolved) {
		body["field_keys"] = unresolved.FieldKeys
	}
	if status == http.StatusInternalServerError {
		zap.L().Error("internal error", zap.Error(err))
		body["error"] = "internal error"
	}
	writeJSON(w, status, body)
}
