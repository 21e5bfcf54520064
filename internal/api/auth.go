package api

import (
	"context"
	"errors"
	"net/http"

	"callcenter/internal/auth"
	"callcenter/internal/models"
	"callcenter/internal/service"
)

type ctxKey int

const claimsKey ctxKey = iota

// requireAuth rejects requests without a valid session JWT and stores the
// claims on the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		claims, err := s.svc.Auth.Authenticate(token)
		if err != nil {
			requestLogger(r).Debug().Err(err).Msg("Rejected session token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

func claimsFrom(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req service.SignupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := s.svc.Auth.Signup(r.Context(), req)
	if err != nil {
		s.fail(w, r, err, "signup")
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	token, user, err := s.svc.Auth.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, service.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if err != nil {
		s.fail(w, r, err, "login")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.svc.Auth.Me(r.Context(), claimsFrom(r.Context()).ID)
	if err != nil {
		s.fail(w, r, err, "fetch")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleAvailableAgents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := models.NewPage(q.Get("page"), q.Get("perPage"), models.DefaultAgentsPage, models.MaxAgentsPage)
	agents, total, err := s.svc.Auth.AvailableAgents(r.Context(), q.Get("keyword"), page)
	if err != nil {
		s.fail(w, r, err, "list")
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Data: agents, Meta: page.Meta(total)})
}
