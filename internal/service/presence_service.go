package service

import (
	"context"
	"time"

	"callcenter/internal/domain"
	"callcenter/internal/events"
	"callcenter/internal/models"
	"callcenter/internal/worker"

	"github.com/rs/zerolog"
)

// PresenceService mirrors realtime connections onto the user table.
type PresenceService struct {
	repo   domain.PresenceRepository
	events domain.EventPublisher
	retry  worker.RetryPolicy
	logger *zerolog.Logger
	now    func() time.Time
}

func NewPresenceService(repo domain.PresenceRepository, pub domain.EventPublisher, logger *zerolog.Logger) *PresenceService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &PresenceService{
		repo:   repo,
		events: pub,
		retry:  worker.SecondaryWritePolicy,
		logger: logger,
		now:    time.Now,
	}
}

// Connected records the socket and marks the user online. The latest
// connection wins when a user has several.
func (s *PresenceService) Connected(ctx context.Context, userID int64, socketID string) {
	bestEffort(ctx, s.logger, s.retry, writeSocket, userID, func(ctx context.Context) error {
		return s.repo.MarkConnected(ctx, userID, socketID, s.now())
	})
	s.broadcast(userID, models.AvailabilityOnline)
}

// Disconnected clears the socket and marks the user offline.
func (s *PresenceService) Disconnected(ctx context.Context, userID int64) {
	bestEffort(ctx, s.logger, s.retry, writeSocket, userID, func(ctx context.Context) error {
		return s.repo.MarkDisconnected(ctx, userID, s.now())
	})
	s.broadcast(userID, models.AvailabilityOffline)
}

// Online lists users currently online. Lookup failures yield an empty list.
func (s *PresenceService) Online(ctx context.Context) []models.PresenceEntry {
	users, err := s.repo.ListOnlineUsers(ctx, models.PresenceListLimit)
	if err != nil {
		s.logger.Error().Err(err).Msg("presence:list failed")
		return []models.PresenceEntry{}
	}
	if users == nil {
		users = []models.PresenceEntry{}
	}
	return users
}

func (s *PresenceService) broadcast(userID int64, status string) {
	publish(s.logger, events.PresenceUpdate, func() error {
		return events.Broadcast(s.events, events.PresenceUpdate, events.PresencePayload{UserID: userID, Status: status})
	})
}
