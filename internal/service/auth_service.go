package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"callcenter/internal/auth"
	"callcenter/internal/domain"
	"callcenter/internal/models"
	"callcenter/internal/worker"

	"github.com/rs/zerolog"
)

type SignupRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	Name           string `json:"name"`
	Slug           string `json:"slug"`
	TwilioIdentity string `json:"twilio_identity"`
}

// AuthService handles signup, login and session lookups.
type AuthService struct {
	users    domain.UserRepository
	presence domain.PresenceRepository
	issuer   *auth.Issuer
	retry    worker.RetryPolicy
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewAuthService(users domain.UserRepository, presence domain.PresenceRepository, issuer *auth.Issuer, logger *zerolog.Logger) *AuthService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &AuthService{
		users:    users,
		presence: presence,
		issuer:   issuer,
		retry:    worker.SecondaryWritePolicy,
		logger:   logger,
		now:      time.Now,
	}
}

// Signup creates a user with a hashed password. A missing slug is derived
// from the name, then the email.
func (s *AuthService) Signup(ctx context.Context, req SignupRequest) (*models.User, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		return nil, invalid("email and password required")
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	slug := strings.TrimSpace(req.Slug)
	if slug == "" {
		slug = Slugify(req.Name)
	}
	if slug == "" {
		slug = Slugify(strings.SplitN(email, "@", 2)[0])
	}

	user := &models.User{
		Email:          email,
		Password:       hash,
		Name:           strings.TrimSpace(req.Name),
		Slug:           slug,
		TwilioIdentity: strings.TrimSpace(req.TwilioIdentity),
		Availability:   models.AvailabilityOffline,
	}
	if err := s.users.CreateUser(ctx, user, nil); err != nil {
		return nil, err
	}
	s.logger.Info().Int64("user_id", user.ID).Str("email", user.Email).Msg("User signed up")
	return user, nil
}

// Login verifies credentials, marks the user online and issues a session token.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return "", nil, invalid("email/password required")
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}
	if !auth.CheckPassword(password, user.Password) {
		s.logger.Info().Str("email", email).Msg("Login rejected")
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.issuer.Sign(user)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}

	now := s.now()
	bestEffort(ctx, s.logger, s.retry, writeAvailability, user.ID, func(ctx context.Context) error {
		return s.presence.SetAvailability(ctx, user.ID, models.AvailabilityOnline, now)
	})
	user.Availability = models.AvailabilityOnline
	user.LastActiveAt = &now

	return token, user, nil
}

// Authenticate validates a session token.
func (s *AuthService) Authenticate(token string) (*auth.Claims, error) {
	return s.issuer.Parse(token)
}

func (s *AuthService) Me(ctx context.Context, userID int64) (*models.User, error) {
	return s.users.GetUserByID(ctx, userID)
}

// AvailableAgents lists agents that are neither offline nor in a call.
func (s *AuthService) AvailableAgents(ctx context.Context, keyword string, page models.Page) ([]*models.User, int, error) {
	return s.users.ListUsers(ctx, models.UserFilter{
		Keyword:             strings.TrimSpace(keyword),
		ExcludeAvailability: []string{models.AvailabilityInCall, models.AvailabilityOffline},
	}, page)
}

// Slugify lowercases s and joins its alphanumeric runs with dashes.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
		default:
			dash = true
		}
	}
	return b.String()
}
