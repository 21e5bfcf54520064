package auth

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"callcenter/internal/models"

	jwt "github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSecret     = errors.New("jwt secret is not configured")
)

// Claims is the session payload shared by REST and realtime auth.
type Claims struct {
	ID             int64  `json:"id"`
	Email          string `json:"email"`
	Name           string `json:"name,omitempty"`
	Slug           string `json:"slug,omitempty"`
	TwilioIdentity string `json:"twilioIdentity,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 session tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign issues a token for the user.
func (i *Issuer) Sign(u *models.User) (string, error) {
	if len(i.secret) == 0 {
		return "", ErrNoSecret
	}
	now := i.now().UTC()
	claims := Claims{
		ID:             u.ID,
		Email:          u.Email,
		Name:           u.Name,
		Slug:           u.Slug,
		TwilioIdentity: u.TwilioIdentity,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  strconv.FormatInt(u.ID, 10),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if i.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Parse validates the signature and expiry and returns the claims.
func (i *Issuer) Parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	if len(i.secret) == 0 {
		return nil, ErrNoSecret
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.ID <= 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
