package models

import "time"

type User struct {
	ID                   int64      `json:"id"`
	Email                string     `json:"email"`
	Password             string     `json:"-"`
	Name                 string     `json:"name"`
	ContactNumber        string     `json:"contact_number"`
	Availability         string     `json:"availability"`
	Slug                 string     `json:"slug"`
	TwilioIdentity       string     `json:"twilio_identity"`
	TwilioTokenIssuedAt  *time.Time `json:"twilio_token_issued_at"`
	TwilioTokenExpiresAt *time.Time `json:"twilio_token_expires_at"`
	SocketID             string     `json:"socket_id"`
	LastActiveAt         *time.Time `json:"last_active_at"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// UserWithRoles is the single-user view that carries role ids.
type UserWithRoles struct {
	*User
	RoleIDs []int64   `json:"role_id"`
	Roles   []RoleRef `json:"roles,omitempty"`
}

// PresenceEntry is the projection returned by presence:list.
type PresenceEntry struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Slug          string `json:"slug"`
	SocketID      string `json:"socket_id"`
	Availability  string `json:"availability"`
	ContactNumber string `json:"contact_number"`
}

// UserFilter narrows user listings.
type UserFilter struct {
	Keyword string
	// ExcludeAvailability drops users whose availability is in the set.
	ExcludeAvailability []string
}

// UserUpdate carries optional column changes; nil fields are left untouched.
type UserUpdate struct {
	Email          *string
	Password       *string
	Name           *string
	ContactNumber  *string
	Slug           *string
	TwilioIdentity *string
	Availability   *string
}
