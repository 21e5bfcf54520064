package service

import (
	"context"
	"fmt"

	"callcenter/internal/models"
)

// Conference status callback events.
const (
	EventConferenceStart  = "conference-start"
	EventConferenceEnd    = "conference-end"
	EventParticipantJoin  = "participant-join"
	EventParticipantLeave = "participant-leave"
)

// ConferenceEvent is one Twilio conference status callback.
type ConferenceEvent struct {
	Event          string
	ConferenceSID  string
	ConferenceName string
	CallSID        string
	ParticipantSID string
	Timestamp      string
}

// HandleConferenceEvent applies a status callback to the conference keyspace.
// Events for conferences that never reported a start are ignored, as are
// unknown event types. Agent-facing call sessions are never touched.
func (s *CallService) HandleConferenceEvent(ctx context.Context, ev ConferenceEvent) error {
	log := s.logger.With().Str("event", ev.Event).Str("conference_sid", ev.ConferenceSID).Logger()
	if ev.ConferenceSID == "" {
		log.Info().Msg("Conference callback without sid")
		return nil
	}

	unlock := s.locks.Lock("conference:" + ev.ConferenceSID)
	defer unlock()

	ts := ev.Timestamp
	if ts == "" {
		ts = s.now().UTC().Format("2006-01-02T15:04:05.000Z")
	}

	if ev.Event == EventConferenceStart {
		return s.saveConference(ctx, &models.ConferenceSession{
			ConferenceSID: ev.ConferenceSID,
			Conference:    ev.ConferenceName,
			Status:        models.ConferenceStarted,
			Participants:  []models.Participant{},
			StartedAt:     ts,
		})
	}

	switch ev.Event {
	case EventConferenceEnd, EventParticipantJoin, EventParticipantLeave:
	default:
		log.Info().Msg("Unhandled StatusCallbackEvent")
		return nil
	}

	conf, err := s.store.GetConference(ctx, ev.ConferenceSID)
	if err != nil {
		return fmt.Errorf("load conference: %w", err)
	}
	if conf == nil {
		log.Debug().Msg("Callback for unknown conference")
		return nil
	}

	switch ev.Event {
	case EventConferenceEnd:
		conf.Status = models.ConferenceEnded
		conf.EndedAt = ts
	case EventParticipantJoin:
		conf.Participants = append(conf.Participants, models.Participant{CallSID: ev.CallSID, ParticipantSID: ev.ParticipantSID})
		conf.Status = models.ConferenceInProgress
	case EventParticipantLeave:
		conf.RemoveParticipant(ev.ParticipantSID)
	}
	return s.saveConference(ctx, conf)
}

func (s *CallService) saveConference(ctx context.Context, conf *models.ConferenceSession) error {
	if err := s.store.SetConference(ctx, conf); err != nil {
		return fmt.Errorf("save conference: %w", err)
	}
	return nil
}

// Conferences lists the conference keyspace for operators.
func (s *CallService) Conferences(ctx context.Context) ([]*models.ConferenceSession, error) {
	return s.store.ListConferences(ctx)
}
