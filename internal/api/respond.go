package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"callcenter/internal/models"
	"callcenter/internal/service"

	"github.com/rs/zerolog"
)

type listResponse struct {
	Data any         `json:"data"`
	Meta models.Meta `json:"meta"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

func requestLogger(r *http.Request) *zerolog.Logger {
	return zerolog.Ctx(r.Context())
}

// fail maps a service error onto the HTTP error taxonomy. Unclassified
// errors are logged and reported as "<op>_failed".
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case service.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrGrossTransferMismatch):
		writeError(w, http.StatusBadRequest, service.ErrGrossTransferMismatch.Error())
	case errors.Is(err, service.ErrRoleAssigned):
		writeError(w, http.StatusBadRequest, "role_assigned_to_users")
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, service.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, "email already exists")
	default:
		requestLogger(r).Error().Err(err).Str("op", op).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, op+"_failed")
	}
}

// decodeJSON reads the body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid JSON body")
	return false
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return 0, false
	}
	return id, true
}

// intParam accepts a JSON number or a numeric string, the way form-driven
// clients send ids and page numbers.
type intParam int64

func (p *intParam) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*p = 0
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return err
	}
	*p = intParam(n)
	return nil
}

func (p intParam) String() string {
	if p == 0 {
		return ""
	}
	return strconv.FormatInt(int64(p), 10)
}

func parseID(raw string) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}
