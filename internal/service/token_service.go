package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"callcenter/internal/auth"
	"callcenter/internal/domain"
	"callcenter/internal/twilio"
	"callcenter/internal/worker"

	"github.com/rs/zerolog"
)

// TokenMinter issues Voice SDK access tokens.
type TokenMinter interface {
	Generate(identity string) (*twilio.AccessToken, error)
}

type VoiceToken struct {
	OK        bool   `json:"ok"`
	Token     string `json:"token"`
	Identity  string `json:"identity"`
	ExpiresIn int    `json:"expiresIn"`
	IssuedAt  int64  `json:"issuedAt"`
	ExpiresAt int64  `json:"expiresAt"`
}

// TokenService mints browser softphone tokens for agents.
type TokenService struct {
	users    domain.UserRepository
	presence domain.PresenceRepository
	minter   TokenMinter
	retry    worker.RetryPolicy
	logger   *zerolog.Logger
}

func NewTokenService(users domain.UserRepository, presence domain.PresenceRepository, minter TokenMinter, logger *zerolog.Logger) *TokenService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &TokenService{users: users, presence: presence, minter: minter, retry: worker.SecondaryWritePolicy, logger: logger}
}

// Issue mints a token. The identity is the requested one, else the stored
// Twilio identity, slug, email, and finally agent:<id>.
func (s *TokenService) Issue(ctx context.Context, claims *auth.Claims, requested string) (*VoiceToken, error) {
	stored := ""
	user, err := s.users.GetUserByID(ctx, claims.ID)
	if err != nil {
		s.logger.Warn().Err(err).Int64("user_id", claims.ID).Msg("Token issued without stored user")
		user = nil
	} else {
		stored = user.TwilioIdentity
	}

	identity := firstNonEmpty(
		strings.TrimSpace(requested),
		stored,
		claims.Slug,
		claims.Email,
		fmt.Sprintf("agent:%d", claims.ID),
	)

	tok, err := s.minter.Generate(identity)
	if err != nil {
		s.logger.Error().Err(err).Str("identity", identity).Msg("Token generation failed")
		return nil, fmt.Errorf("%w: %v", ErrTokenGeneration, err)
	}

	if user != nil {
		issued, expires := time.Unix(tok.IssuedAt, 0), time.Unix(tok.ExpiresAt, 0)
		bestEffort(ctx, s.logger, s.retry, writeTwilioToken, user.ID, func(ctx context.Context) error {
			return s.presence.SaveTwilioIdentity(ctx, user.ID, identity, issued, expires)
		})
	}

	return &VoiceToken{
		OK:        true,
		Token:     tok.JWT,
		Identity:  tok.Identity,
		ExpiresIn: tok.TTL,
		IssuedAt:  tok.IssuedAt,
		ExpiresAt: tok.ExpiresAt,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
