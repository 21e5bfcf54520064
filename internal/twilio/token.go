package twilio

import (
	"errors"
	"fmt"
	"time"

	"callcenter/internal/config"

	"github.com/twilio/twilio-go/client/jwt"
)

var ErrTokenNotConfigured = errors.New("missing twilio credentials for access tokens")

// AccessToken is a minted Voice token with unix-second timestamps.
type AccessToken struct {
	Identity  string
	JWT       string
	TTL       int
	IssuedAt  int64
	ExpiresAt int64
}

// TokenGenerator mints Voice SDK access tokens signed with an API key.
type TokenGenerator struct {
	accountSID string
	keySID     string
	keySecret  string
	appSID     string
	ttl        int
	now        func() time.Time
}

func NewTokenGenerator(cfg config.TwilioConfig) *TokenGenerator {
	return &TokenGenerator{
		accountSID: cfg.AccountSID,
		keySID:     cfg.APIKeySID,
		keySecret:  cfg.APIKeySecret,
		appSID:     cfg.TwiMLAppSID,
		ttl:        cfg.TokenTTL,
		now:        time.Now,
	}
}

func (g *TokenGenerator) Configured() bool {
	return g != nil && g.accountSID != "" && g.keySID != "" && g.keySecret != ""
}

// TTL is the lifetime of minted tokens in seconds.
func (g *TokenGenerator) TTL() int {
	if g.ttl <= 0 {
		return 3600
	}
	return g.ttl
}

// Generate mints a token allowing incoming calls to identity and outgoing
// calls through the configured TwiML application.
func (g *TokenGenerator) Generate(identity string) (*AccessToken, error) {
	if !g.Configured() {
		return nil, ErrTokenNotConfigured
	}
	if identity == "" {
		return nil, errors.New("identity is required")
	}

	ttl := g.TTL()
	issued := g.now().Unix()
	expires := issued + int64(ttl)

	voice := &jwt.VoiceGrant{Incoming: jwt.Incoming{Allow: true}}
	if g.appSID != "" {
		voice.Outgoing = jwt.Outgoing{ApplicationSid: g.appSID}
	}

	// ValidUntil pins exp to our clock; the SDK otherwise floors the ttl at an hour.
	token := jwt.CreateAccessToken(jwt.AccessTokenParams{
		AccountSid:    g.accountSID,
		SigningKeySid: g.keySID,
		Secret:        g.keySecret,
		Identity:      identity,
		Nbf:           float64(issued),
		Ttl:           float64(ttl),
		ValidUntil:    float64(expires),
	})
	token.AddGrant(voice)

	signed, err := token.ToJwt()
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	return &AccessToken{
		Identity:  identity,
		JWT:       signed,
		TTL:       ttl,
		IssuedAt:  issued,
		ExpiresAt: expires,
	}, nil
}
