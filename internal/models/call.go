package models

import "time"

// CallSession tracks one Twilio call leg driven by the realtime layer.
type CallSession struct {
	CallSID        string     `json:"callSid"`
	ConferenceName string     `json:"conferenceName,omitempty"`
	AgentID        int64      `json:"agentId,omitempty"`
	AgentSocketID  string     `json:"agentSocketId,omitempty"`
	TargetNumber   string     `json:"targetNumber,omitempty"`
	Role           string     `json:"role,omitempty"`
	Status         string     `json:"status,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
}

// ConferenceSession tracks a conference as reported by Twilio status callbacks.
type ConferenceSession struct {
	ConferenceSID string        `json:"conferenceSid"`
	Conference    string        `json:"conference"`
	Status        string        `json:"status"`
	Participants  []Participant `json:"participants"`
	StartedAt     string        `json:"startedAt,omitempty"`
	EndedAt       string        `json:"endedAt,omitempty"`
}

type Participant struct {
	CallSID        string `json:"callSid"`
	ParticipantSID string `json:"participantSid"`
}

// RemoveParticipant drops every participant with the given sid.
func (c *ConferenceSession) RemoveParticipant(participantSID string) {
	kept := c.Participants[:0]
	for _, p := range c.Participants {
		if p.ParticipantSID != participantSID {
			kept = append(kept, p)
		}
	}
	c.Participants = kept
}
