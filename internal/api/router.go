// Package api implements the API Surface (spec.md §4.9, §6): a stateless
// chi router translating REST and WebSocket requests into calls on the
// Orchestrator, and a single error-to-status mapper shared by every
// handler (spec.md §7).
//
// Routing and CORS follow the shape demonstrated by other_examples'
// aristath-sentinel manifest (chi + chi/cors for a small loopback REST
// API); the WebSocket logs endpoint follows conneroisu-templar's
// WebSocketManager pattern of pushing periodic snapshots to a live
// connection (see internal/api/logs.go).
package api

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/atimmer/devservers/internal/apierr"
	"github.com/atimmer/devservers/internal/orchestrator"
)

// DefaultPort is the daemon's default loopback bind port (spec.md §4.9).
const DefaultPort = 4141

// loopbackOriginPattern matches http(s)://(localhost|127.0.0.1|[::1]) with
// an optional port, the only origins the CORS policy allows (spec.md §4.9).
var loopbackOriginPattern = regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)

// Server holds the Orchestrator the handlers delegate to.
type Server struct {
	orch *orchestrator.Orchestrator
}

// New returns a Server backed by orch.
func New(orch *orchestrator.Orchestrator) *Server {
	return &Server{orch: orch}
}

// Router builds the chi mux: loopback-origin CORS, request logging, and
// every route in spec.md §6's table plus the supplemented health and
// plain-capture endpoints from SPEC_FULL.md §C.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc:  isLoopbackOrigin,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	}))

	r.Get("/healthz", s.handleHealthz)

	r.Route("/services", func(r chi.Router) {
		r.Get("/", s.handleListServices)
		r.Post("/", s.handleUpsertService)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/config", s.handleGetServiceConfig)
			r.Put("/", s.handlePutService)
			r.Delete("/", s.handleDeleteService)
			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleStop)
			r.Post("/restart", s.handleRestart)
			r.Get("/logs", s.handleGetLogs)
			r.Get("/logs/ws", s.handleLogsWS)
		})
	})

	r.Route("/projects", func(r chi.Router) {
		r.Get("/", s.handleListProjects)
		r.Post("/", s.handleUpsertProject)
		r.Delete("/{name}", s.handleDeleteProject)
	})

	return r
}

// isLoopbackOrigin permits only http(s)://localhost, 127.0.0.1 and [::1]
// origins, at any port, the CORS policy spec.md §4.9 calls for.
func isLoopbackOrigin(r *http.Request, origin string) bool {
	return loopbackOriginPattern.MatchString(origin)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// writeError maps err to a status code via apierr.Wrap, matching spec.md
// §7's single error-handler propagation policy.
func writeError(w http.ResponseWriter, err error) {
	e := apierr.Wrap(err)
	writeJSON(w, e.Kind.HTTPStatus(), map[string]string{"error": e.Message})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
