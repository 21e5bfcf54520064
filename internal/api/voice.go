package api

import (
	"io"
	"net/http"
	"strings"

	"callcenter/internal/service"
	"callcenter/internal/twilio"
)

// handleVoiceJoin answers Twilio with the TwiML that drops the leg into the
// named conference. Parameters may come from the query or a form body.
func (s *Server) handleVoiceJoin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writePlain(w, http.StatusBadRequest, "invalid form")
		return
	}
	requestLogger(r).Info().Interface("params", r.Form).Msg("Incoming Twilio webhook /voice/join")

	name := firstForm(r, "name", "conference")
	if name == "" {
		writePlain(w, http.StatusBadRequest, "missing conference name")
		return
	}
	start := firstForm(r, "startOnEnter", "start_on_enter")
	waitURL := firstForm(r, "waitUrl")
	if waitURL == "" {
		waitURL = s.cfg.Twilio.ConferenceWaitURL
	}

	body, err := twilio.ConferenceTwiML(twilio.ConferenceOptions{
		Name:           name,
		StartOnEnter:   start == "true" || start == "1",
		WaitURL:        waitURL,
		StatusCallback: twilio.StatusCallbackURL(s.cfg.Twilio.PublicBaseURL),
	})
	if err != nil {
		requestLogger(r).Error().Err(err).Msg("Render TwiML")
		writePlain(w, http.StatusInternalServerError, "twiml_failed")
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// handleVoiceStatus records conference callbacks. Twilio always gets 200 so
// it never retries.
func (s *Server) handleVoiceStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		requestLogger(r).Warn().Err(err).Msg("Unreadable conference callback")
		writePlain(w, http.StatusOK, "ok")
		return
	}
	ev := service.ConferenceEvent{
		Event:          r.FormValue("StatusCallbackEvent"),
		ConferenceSID:  r.FormValue("ConferenceSid"),
		ConferenceName: r.FormValue("FriendlyName"),
		CallSID:        r.FormValue("CallSid"),
		ParticipantSID: r.FormValue("ParticipantSid"),
		Timestamp:      r.FormValue("Timestamp"),
	}
	if err := s.svc.Calls.HandleConferenceEvent(r.Context(), ev); err != nil {
		requestLogger(r).Warn().Err(err).Str("event", ev.Event).Msg("Conference callback not applied")
	}
	writePlain(w, http.StatusOK, "ok")
}

func firstForm(r *http.Request, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(r.Form.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

func writePlain(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
