package api

import (
	"fmt"
	"math"
	"net/http"

	"callcenter/internal/models"
	"callcenter/internal/service"
)

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := models.NewPage(q.Get("page"), q.Get("perPage"), models.DefaultPerPage, models.MaxPerPage)
	roles, meta, err := s.svc.Roles.List(r.Context(), page)
	if err != nil {
		s.fail(w, r, err, "list")
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Data: roles, Meta: meta})
}

func (s *Server) handleGetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	role, err := s.svc.Roles.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, "fetch_role")
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req service.RoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	role, err := s.svc.Roles.Create(r.Context(), req)
	if err != nil {
		s.fail(w, r, err, "create_role")
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (s *Server) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req service.RoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	role, err := s.svc.Roles.Update(r.Context(), id, req)
	if err != nil {
		s.fail(w, r, err, "update_role")
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (s *Server) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.svc.Roles.Delete(r.Context(), id); err != nil {
		s.fail(w, r, err, "delete")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Role deleted successfully"})
}

// handleBulkDeleteRoles ignores anything in ids that is not a positive
// whole number.
func (s *Server) handleBulkDeleteRoles(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []any `json:"ids"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	ids := make([]int64, 0, len(req.IDs))
	for _, raw := range req.IDs {
		if f, ok := raw.(float64); ok && f == math.Trunc(f) {
			ids = append(ids, int64(f))
		}
	}

	n, err := s.svc.Roles.BulkDelete(r.Context(), ids)
	if err != nil {
		s.fail(w, r, err, "bulk_delete")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("%d role(s) deleted successfully", n)})
}

func (s *Server) handleGroupedPermissions(w http.ResponseWriter, r *http.Request) {
	groups, err := s.svc.Roles.GroupedPermissions(r.Context())
	if err != nil {
		s.fail(w, r, err, "fetch_permissions")
		return
	}
	writeJSON(w, http.StatusOK, groups)
}
