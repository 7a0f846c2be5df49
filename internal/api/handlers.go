package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atimmer/devservers/internal/apierr"
	"github.com/atimmer/devservers/internal/catalog"
)

// handleListServices implements GET /services (spec.md §6).
func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	infos, err := s.orch.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"services": infos})
}

// handleGetServiceConfig implements GET /services/:name/config (spec.md §6).
func (s *Server) handleGetServiceConfig(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	cfg, err := s.orch.GetServiceConfig(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handleUpsertService implements POST /services (spec.md §6).
func (s *Server) handleUpsertService(w http.ResponseWriter, r *http.Request) {
	var svc catalog.Service
	if err := json.NewDecoder(r.Body).Decode(&svc); err != nil {
		writeError(w, apierr.Validation("invalid request body: %v", err))
		return
	}
	if err := s.orch.UpsertService(svc); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

// handlePutService implements PUT /services/:name (spec.md §6): body.name
// must equal the path parameter.
func (s *Server) handlePutService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var svc catalog.Service
	if err := json.NewDecoder(r.Body).Decode(&svc); err != nil {
		writeError(w, apierr.Validation("invalid request body: %v", err))
		return
	}
	if svc.Name != name {
		writeError(w, apierr.Validation("body.name %q does not match path %q", svc.Name, name))
		return
	}
	if err := s.orch.UpsertService(svc); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

// handleDeleteService implements DELETE /services/:name (spec.md §6).
func (s *Server) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.orch.RemoveService(name); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

// handleStart implements POST /services/:name/start (spec.md §4.8, §6).
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.orch.Start(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

// handleStop implements POST /services/:name/stop (spec.md §4.8, §6).
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.orch.Stop(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

// handleRestart implements POST /services/:name/restart (spec.md §4.8, §6).
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.orch.Restart(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

// handleListProjects implements GET /projects (spec.md §6).
func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.orch.ListProjects()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"projects": projects})
}

// handleUpsertProject implements POST /projects (spec.md §6, §C project
// path validation).
func (s *Server) handleUpsertProject(w http.ResponseWriter, r *http.Request) {
	var p catalog.Project
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, apierr.Validation("invalid request body: %v", err))
		return
	}
	if err := validateProjectPath(p.Path); err != nil {
		writeError(w, err)
		return
	}
	if err := s.orch.UpsertProject(p); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

// handleDeleteProject implements DELETE /projects/:name (spec.md §6).
func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.orch.RemoveProject(name); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}
