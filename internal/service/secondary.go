package service

import (
	"context"

	"callcenter/internal/metrics"
	"callcenter/internal/worker"

	"github.com/rs/zerolog"
)

// Secondary-write kinds, used as the metric label.
const (
	writeAvailability = "availability"
	writeSocket       = "socket"
	writeTwilioToken  = "twilio_identity"
)

// bestEffort retries a write that must not fail the caller. The final error
// is logged and counted, never returned.
func bestEffort(ctx context.Context, logger *zerolog.Logger, policy worker.RetryPolicy, kind string, userID int64, fn func(ctx context.Context) error) {
	err := worker.Retry(ctx, policy, fn)
	if err == nil {
		return
	}
	metrics.IncSecondaryWriteFailure(kind)
	logger.Warn().Err(err).Str("kind", kind).Int64("user_id", userID).Msg("Secondary write failed")
}

// publish sends a realtime event; failures only matter to the log.
func publish(logger *zerolog.Logger, event string, send func() error) {
	if err := send(); err != nil {
		logger.Warn().Err(err).Str("event", event).Msg("Failed to publish realtime event")
	}
}
