package api

import (
	"errors"
	"net/http"
	"strings"

	"callcenter/internal/service"
)

// socketHeader lets a browser tie a REST-initiated call to its open
// WebSocket connection.
const socketHeader = "X-Socket-ID"

func callerFrom(r *http.Request) service.Caller {
	claims := claimsFrom(r.Context())
	return service.Caller{
		ID:       claims.ID,
		Name:     claims.Name,
		Slug:     claims.Slug,
		SocketID: strings.TrimSpace(r.Header.Get(socketHeader)),
	}
}

func (s *Server) handleInitiateCall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To           string   `json:"to"`
		TargetUserID intParam `json:"targetUserId"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.svc.Calls.Initiate(r.Context(), callerFrom(r), service.InitiateRequest{
		To:           strings.TrimSpace(req.To),
		TargetUserID: int64(req.TargetUserID),
	})
	if err != nil {
		s.callFail(w, r, err, "initiate_failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleEndCall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallID  string `json:"callId"`
		CallSID string `json:"callSid"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	id := req.CallID
	if id == "" {
		id = req.CallSID
	}
	res, err := s.svc.Calls.End(r.Context(), callerFrom(r), id)
	if err != nil {
		s.callFail(w, r, err, "end_failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleConferences(w http.ResponseWriter, r *http.Request) {
	confs, err := s.svc.Calls.Conferences(r.Context())
	if err != nil {
		s.fail(w, r, err, "list")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": confs})
}

func (s *Server) handleTwilioToken(w http.ResponseWriter, r *http.Request) {
	tok, err := s.svc.Tokens.Issue(r.Context(), claimsFrom(r.Context()), r.URL.Query().Get("identity"))
	if err != nil {
		requestLogger(r).Error().Err(err).Msg("Twilio token generation failed")
		writeError(w, http.StatusInternalServerError, service.ErrTokenGeneration.Error())
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

// callFail reports call-control errors with the same codes the realtime
// acks use.
func (s *Server) callFail(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	code := service.CallErrorCode(err, fallback)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrMissingTarget), errors.Is(err, service.ErrMissingTransfer), errors.Is(err, service.ErrMissingCallID):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrCallNotFound), errors.Is(err, service.ErrAgentNotFound):
		status = http.StatusNotFound
	}
	if code == fallback {
		requestLogger(r).Error().Err(err).Msg("Call control failed")
	}
	writeJSON(w, status, map[string]any{"ok": false, "error": code})
}
