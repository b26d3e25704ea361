package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/lumen/pkg/httputil"
	"github.com/platinummonkey/lumen/pkg/projects"
	"github.com/platinummonkey/lumen/pkg/storage/postgres"
)

const (
	defaultProjectLimit = 50
	maxProjectLimit     = 100
)

type projectsResponse struct {
	Projects []*projects.ProjectRecord `json:"projects"`
}

// listProjects handles GET /api/projects
func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	if s.deps.Projects == nil {
		httputil.WriteInternalError(w, "Persistence is not configured")
		return
	}

	limit, err := httputil.ParseQueryInt(r, "limit", defaultProjectLimit, maxProjectLimit)
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid limit")
		return
	}

	list, err := s.deps.Projects.ListByUser(r.Context(), userID(r), limit)
	if err != nil {
		if errors.Is(err, postgres.ErrNotConfigured) {
			httputil.WriteInternalError(w, "Persistence is not configured")
			return
		}
		s.logError(r, err, "Failed to list projects")
		httputil.WriteInternalError(w, "Failed to list projects")
		return
	}
	if list == nil {
		list = []*projects.ProjectRecord{}
	}
	httputil.WriteSuccess(w, projectsResponse{Projects: list})
}

// deleteProject handles DELETE /api/projects/{id}
func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	if s.deps.Deleter == nil {
		httputil.WriteInternalError(w, "Persistence is not configured")
		return
	}

	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	err := s.deps.Deleter.Delete(r.Context(), userID(r), id)
	switch {
	case err == nil:
		httputil.WriteSuccess(w, map[string]bool{"success": true})
	case errors.Is(err, projects.ErrNotFound):
		httputil.WriteNotFoundError(w, "Not found")
	case errors.Is(err, postgres.ErrNotConfigured):
		httputil.WriteInternalError(w, "Persistence is not configured")
	default:
		s.logError(r, err, "Failed to delete project")
		httputil.WriteInternalError(w, "Failed to delete")
	}
}
