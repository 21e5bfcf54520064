package api

import (
	"net/http"

	"callcenter/internal/models"
	"callcenter/internal/service"
)

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req service.CreateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := s.svc.Users.Create(r.Context(), req)
	if err != nil {
		s.fail(w, r, err, "create")
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := models.NewPage(q.Get("page"), q.Get("perPage"), models.DefaultPerPage, models.MaxPerPage)
	users, meta, err := s.svc.Users.List(r.Context(), q.Get("keyword"), page)
	if err != nil {
		s.fail(w, r, err, "list")
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Data: users, Meta: meta})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	user, err := s.svc.Users.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, "fetch")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req service.UpdateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := s.svc.Users.Update(r.Context(), id, req)
	if err != nil {
		s.fail(w, r, err, "update")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.svc.Users.Delete(r.Context(), id); err != nil {
		s.fail(w, r, err, "delete")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id})
}

func (s *Server) handleBulkDeleteUsers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []int64 `json:"ids"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	n, err := s.svc.Users.BulkDelete(r.Context(), req.IDs)
	if err != nil {
		s.fail(w, r, err, "bulk_delete")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deletedCount": n, "ids": req.IDs})
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	clients, err := s.svc.Users.Clients(r.Context(), r.URL.Query().Get("keyword"))
	if err != nil {
		s.fail(w, r, err, "list")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": clients,
		"meta": map[string]int{"total": len(clients)},
	})
}

func (s *Server) handleUserPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := s.svc.Users.Permissions(r.Context(), claimsFrom(r.Context()).ID)
	if err != nil {
		s.fail(w, r, err, "fetch")
		return
	}
	writeJSON(w, http.StatusOK, perms)
}
