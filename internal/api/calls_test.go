package api

import (
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"callcenter/internal/config"
	"callcenter/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallsREST(t *testing.T) {
	f := newAPIFixture(t)
	token, user := f.login(t, "agent@example.com")

	resp := f.do(t, http.MethodPost, "/calls/initiate", token, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, map[string]any{"ok": false, "error": "missing_target"}, decode[map[string]any](t, resp))

	resp = f.do(t, http.MethodPost, "/calls/initiate", token, map[string]any{"to": " +15550100 "})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	started := decode[map[string]any](t, resp)
	assert.Equal(t, true, started["ok"])
	assert.Equal(t, "CA001", started["callSid"])
	assert.True(t, strings.HasPrefix(started["conference"].(string), "conf-"))

	require.Len(t, f.voice.created, 1)
	assert.Equal(t, "+15550100", f.voice.created[0].To)
	assert.Contains(t, f.voice.created[0].URL, "https://cc.example.com/voice/join?")
	assert.Contains(t, f.voice.created[0].URL, "startOnEnter=false")

	resp = f.do(t, http.MethodGet, "/auth/me", token, nil)
	assert.Equal(t, models.AvailabilityInCall, decode[models.User](t, resp).Availability)

	resp = f.do(t, http.MethodPost, "/calls/end", token, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "missing_callId", errorOf(t, resp))

	resp = f.do(t, http.MethodPost, "/calls/end", token, map[string]any{"callSid": "CA001"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"ok": true, "callId": "CA001"}, decode[map[string]any](t, resp))

	me, err := f.db.GetUserByID(t.Context(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AvailabilityOnline, me.Availability)

	resp = f.do(t, http.MethodPost, "/calls/initiate", "", map[string]any{"to": "+1"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestTwilioToken(t *testing.T) {
	f := newAPIFixture(t)
	token, _ := f.login(t, "softphone@example.com")

	resp := f.do(t, http.MethodGet, "/twilio/token?identity=desk-7", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "desk-7", body["identity"])
	assert.Equal(t, float64(3600), body["expiresIn"])
	assert.NotEmpty(t, body["token"])

	resp = f.do(t, http.MethodGet, "/twilio/token", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "desk-7", decode[map[string]any](t, resp)["identity"])
}

func TestTwilioToken_NotConfigured(t *testing.T) {
	f := newAPIFixture(t, func(c *config.Config) { c.Twilio.APIKeySecret = "" })
	token, _ := f.login(t, "softphone@example.com")

	resp := f.do(t, http.MethodGet, "/twilio/token", token, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "token_generation_failed", errorOf(t, resp))
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(raw)
}

func TestVoiceJoin(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, "/voice/join", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "missing conference name", readBody(t, resp))

	resp = f.do(t, http.MethodGet, "/voice/join?name=conf-1&startOnEnter=true", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/xml", resp.Header.Get("Content-Type"))
	twiml := readBody(t, resp)
	assert.Contains(t, twiml, `startConferenceOnEnter="true"`)
	assert.Contains(t, twiml, `waitUrl="https://wait.example.com/music"`)
	assert.Contains(t, twiml, `statusCallback="https://cc.example.com/voice/status"`)
	assert.Contains(t, twiml, `statusCallbackEvent="start end join leave"`)
	assert.Contains(t, twiml, ">conf-1</Conference>")

	form := url.Values{"conference": {"conf-2"}, "start_on_enter": {"0"}, "waitUrl": {"https://hold.example.com/a?b=1"}}
	resp, err := http.PostForm(f.ts.URL+"/voice/join", form)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	twiml = readBody(t, resp)
	assert.Contains(t, twiml, `startConferenceOnEnter="false"`)
	assert.Contains(t, twiml, `waitUrl="https://hold.example.com/a?b=1"`)
	assert.Contains(t, twiml, ">conf-2</Conference>")
}

func TestVoiceStatus(t *testing.T) {
	f := newAPIFixture(t)
	token, _ := f.login(t, "operator@example.com")

	post := func(values url.Values) {
		t.Helper()
		resp, err := http.PostForm(f.ts.URL+"/voice/status", values)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ok", readBody(t, resp))
	}

	post(url.Values{"StatusCallbackEvent": {"participant-join"}, "ConferenceSid": {"CF404"}})
	post(url.Values{"StatusCallbackEvent": {"conference-start"}, "ConferenceSid": {"CF1"}, "FriendlyName": {"conf-1"}})
	post(url.Values{"StatusCallbackEvent": {"participant-join"}, "ConferenceSid": {"CF1"}, "CallSid": {"CA1"}, "ParticipantSid": {"PA1"}})
	post(url.Values{})

	resp := f.do(t, http.MethodGet, "/calls/conferences", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	confs := decode[struct {
		Data []models.ConferenceSession `json:"data"`
	}](t, resp)
	require.Len(t, confs.Data, 1)
	assert.Equal(t, "conf-1", confs.Data[0].Conference)
	assert.Equal(t, models.ConferenceInProgress, confs.Data[0].Status)
	assert.Equal(t, []models.Participant{{CallSID: "CA1", ParticipantSID: "PA1"}}, confs.Data[0].Participants)
}

func TestVoiceStatus_QueryParameters(t *testing.T) {
	f := newAPIFixture(t)
	token, _ := f.login(t, "operator@example.com")

	query := url.Values{"ConferenceSid": {"CF9"}, "FriendlyName": {"conf-9"}}
	resp, err := http.PostForm(f.ts.URL+"/voice/status?"+query.Encode(), url.Values{"StatusCallbackEvent": {"conference-start"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", readBody(t, resp))

	resp, err = http.Post(f.ts.URL+"/voice/status?StatusCallbackEvent=participant-join&ConferenceSid=CF9&CallSid=CA9&ParticipantSid=PA9",
		"application/x-www-form-urlencoded", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", readBody(t, resp))

	resp = f.do(t, http.MethodGet, "/calls/conferences", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	confs := decode[struct {
		Data []models.ConferenceSession `json:"data"`
	}](t, resp)
	require.Len(t, confs.Data, 1)
	assert.Equal(t, "conf-9", confs.Data[0].Conference)
	assert.Equal(t, "CF9", confs.Data[0].ConferenceSID)
	assert.Equal(t, []models.Participant{{CallSID: "CA9", ParticipantSID: "PA9"}}, confs.Data[0].Participants)
}
