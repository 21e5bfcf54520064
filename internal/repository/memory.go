package repository

import (
	"context"
	"sort"
	"sync"

	"callcenter/internal/models"
)

// MemoryCallStore keeps call sessions in process memory. State is lost on restart.
type MemoryCallStore struct {
	mu          sync.RWMutex
	calls       map[string]*models.CallSession
	conferences map[string]*models.ConferenceSession
}

func NewMemoryCallStore() *MemoryCallStore {
	return &MemoryCallStore{
		calls:       make(map[string]*models.CallSession),
		conferences: make(map[string]*models.ConferenceSession),
	}
}

func (s *MemoryCallStore) Get(_ context.Context, callSID string) (*models.CallSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.calls[callSID]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryCallStore) Set(_ context.Context, session *models.CallSession) error {
	cp := *session
	s.mu.Lock()
	s.calls[session.CallSID] = &cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryCallStore) Delete(_ context.Context, callSID string) error {
	s.mu.Lock()
	delete(s.calls, callSID)
	s.mu.Unlock()
	return nil
}

// Scan visits a snapshot so fn may call back into the store.
func (s *MemoryCallStore) Scan(_ context.Context, fn func(*models.CallSession) bool) error {
	s.mu.RLock()
	snapshot := make([]models.CallSession, 0, len(s.calls))
	for _, sess := range s.calls {
		snapshot = append(snapshot, *sess)
	}
	s.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].CreatedAt.Before(snapshot[j].CreatedAt) })
	for i := range snapshot {
		if !fn(&snapshot[i]) {
			break
		}
	}
	return nil
}

func (s *MemoryCallStore) GetConference(_ context.Context, conferenceSID string) (*models.ConferenceSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conf, ok := s.conferences[conferenceSID]
	if !ok {
		return nil, nil
	}
	return cloneConference(conf), nil
}

func (s *MemoryCallStore) SetConference(_ context.Context, conf *models.ConferenceSession) error {
	cp := cloneConference(conf)
	s.mu.Lock()
	s.conferences[conf.ConferenceSID] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryCallStore) ListConferences(_ context.Context) ([]*models.ConferenceSession, error) {
	s.mu.RLock()
	out := make([]*models.ConferenceSession, 0, len(s.conferences))
	for _, conf := range s.conferences {
		out = append(out, cloneConference(conf))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ConferenceSID < out[j].ConferenceSID })
	return out, nil
}

func cloneConference(c *models.ConferenceSession) *models.ConferenceSession {
	cp := *c
	cp.Participants = append([]models.Participant(nil), c.Participants...)
	return &cp
}
