package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"callcenter/internal/domain"
	"callcenter/internal/models"

	"github.com/rs/zerolog"
)

const recoveryProbeInterval = time.Minute

// FailoverCallStore serves from primary until it errors, then from fallback,
// probing primary again once per recovery interval.
type FailoverCallStore struct {
	primary  domain.CallStore
	fallback domain.CallStore
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
	now       func() time.Time
}

func NewFailoverCallStore(primary, fallback domain.CallStore, logger *zerolog.Logger) *FailoverCallStore {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverCallStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

// usePrimary reports whether the next call should try primary.
func (r *FailoverCallStore) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.now().Sub(r.lastCheck) > recoveryProbeInterval {
		r.lastCheck = r.now()
		return true
	}
	return false
}

func (r *FailoverCallStore) record(err error) {
	if err == nil {
		if r.isDown.CompareAndSwap(true, false) {
			r.logger.Info().Msg("Primary call store recovered")
		}
		return
	}
	if r.isDown.CompareAndSwap(false, true) {
		r.logger.Error().Err(err).Msg("Primary call store failed, falling back to memory")
	}
	r.mu.Lock()
	r.lastCheck = r.now()
	r.mu.Unlock()
}

// Get prefers primary and falls through to fallback on a miss, so entries
// written during an outage stay reachable after recovery.
func (r *FailoverCallStore) Get(ctx context.Context, callSID string) (*models.CallSession, error) {
	if r.usePrimary() {
		sess, err := r.primary.Get(ctx, callSID)
		r.record(err)
		if err == nil && sess != nil {
			return sess, nil
		}
	}
	return r.fallback.Get(ctx, callSID)
}

func (r *FailoverCallStore) Set(ctx context.Context, session *models.CallSession) error {
	if r.usePrimary() {
		err := r.primary.Set(ctx, session)
		r.record(err)
		if err == nil {
			// Drop any outage-era copy so the two stores cannot diverge.
			if fbErr := r.fallback.Delete(ctx, session.CallSID); fbErr != nil {
				r.logger.Warn().Err(fbErr).Str("call_sid", session.CallSID).Msg("Failed to clear fallback call session")
			}
			return nil
		}
	}
	return r.fallback.Set(ctx, session)
}

func (r *FailoverCallStore) Delete(ctx context.Context, callSID string) error {
	// The entry may live in either store depending on when it was written.
	fbErr := r.fallback.Delete(ctx, callSID)
	if r.usePrimary() {
		err := r.primary.Delete(ctx, callSID)
		r.record(err)
		if err == nil {
			return nil
		}
	}
	return fbErr
}

// Scan visits the union of both stores, each call SID once, with primary
// winning over fallback. Primary results are buffered so a scan that fails
// halfway never hands fn the same session twice.
func (r *FailoverCallStore) Scan(ctx context.Context, fn func(*models.CallSession) bool) error {
	var sessions []*models.CallSession
	seen := make(map[string]bool)
	if r.usePrimary() {
		var fromPrimary []*models.CallSession
		err := r.primary.Scan(ctx, func(s *models.CallSession) bool {
			fromPrimary = append(fromPrimary, s)
			return true
		})
		r.record(err)
		if err == nil {
			for _, s := range fromPrimary {
				seen[s.CallSID] = true
			}
			sessions = fromPrimary
		}
	}
	err := r.fallback.Scan(ctx, func(s *models.CallSession) bool {
		if !seen[s.CallSID] {
			seen[s.CallSID] = true
			sessions = append(sessions, s)
		}
		return true
	})
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if !fn(s) {
			break
		}
	}
	return nil
}

func (r *FailoverCallStore) GetConference(ctx context.Context, conferenceSID string) (*models.ConferenceSession, error) {
	if r.usePrimary() {
		conf, err := r.primary.GetConference(ctx, conferenceSID)
		r.record(err)
		if err == nil && conf != nil {
			return conf, nil
		}
	}
	return r.fallback.GetConference(ctx, conferenceSID)
}

func (r *FailoverCallStore) SetConference(ctx context.Context, conf *models.ConferenceSession) error {
	if r.usePrimary() {
		err := r.primary.SetConference(ctx, conf)
		r.record(err)
		if err == nil {
			return nil
		}
	}
	return r.fallback.SetConference(ctx, conf)
}

// ListConferences merges both stores by conference SID, primary first.
func (r *FailoverCallStore) ListConferences(ctx context.Context) ([]*models.ConferenceSession, error) {
	var confs []*models.ConferenceSession
	seen := make(map[string]bool)
	if r.usePrimary() {
		fromPrimary, err := r.primary.ListConferences(ctx)
		r.record(err)
		if err == nil {
			for _, c := range fromPrimary {
				seen[c.ConferenceSID] = true
			}
			confs = fromPrimary
		}
	}
	fromFallback, err := r.fallback.ListConferences(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range fromFallback {
		if !seen[c.ConferenceSID] {
			confs = append(confs, c)
		}
	}
	if confs == nil {
		confs = []*models.ConferenceSession{}
	}
	return confs, nil
}
