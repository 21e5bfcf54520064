package twilio

import (
	"net/url"
	"strconv"

	"github.com/twilio/twilio-go/twiml"
)

const DefaultWaitURL = "http://twimlets.com/holdmusic?Bucket=com.twilio.music.classical"

// ConferenceOptions describes one <Dial><Conference> leg.
type ConferenceOptions struct {
	Name           string
	StartOnEnter   bool
	WaitURL        string
	StatusCallback string
}

// ConferenceTwiML renders the TwiML that joins a caller to a named conference.
func ConferenceTwiML(opts ConferenceOptions) ([]byte, error) {
	waitURL := opts.WaitURL
	if waitURL == "" {
		waitURL = DefaultWaitURL
	}
	conf := &twiml.VoiceConference{
		Name:                   opts.Name,
		StartConferenceOnEnter: strconv.FormatBool(opts.StartOnEnter),
		EndConferenceOnExit:    "true",
		WaitUrl:                waitURL,
	}
	if opts.StatusCallback != "" {
		conf.StatusCallback = opts.StatusCallback
		conf.StatusCallbackMethod = "POST"
		conf.StatusCallbackEvent = "start end join leave"
	}

	body, err := twiml.Voice([]twiml.Element{
		&twiml.VoiceDial{InnerElements: []twiml.Element{conf}},
	})
	if err != nil {
		return nil, err
	}
	return []byte(body), nil
}

// JoinURL is the webhook Twilio fetches to put a leg into the conference.
func JoinURL(base, conference string, startOnEnter bool) string {
	q := url.Values{}
	q.Set("name", conference)
	q.Set("startOnEnter", strconv.FormatBool(startOnEnter))
	return base + "/voice/join?" + q.Encode()
}

// StatusCallbackURL is where Twilio posts conference events.
func StatusCallbackURL(base string) string {
	return base + "/voice/status"
}
