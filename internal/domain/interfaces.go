package domain

import (
	"context"
	"time"

	"callcenter/internal/models"
)

type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User, roleIDs []int64) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserBySlug(ctx context.Context, slug string) (*models.User, error)
	ListUsers(ctx context.Context, filter models.UserFilter, page models.Page) ([]*models.User, int, error)
	UpdateUser(ctx context.Context, id int64, upd models.UserUpdate) error
	SetUserRoles(ctx context.Context, userID int64, roleIDs []int64) error
	GetUserRoles(ctx context.Context, userID int64) ([]models.RoleRef, error)
	DeleteUser(ctx context.Context, id int64) error
	DeleteUsers(ctx context.Context, ids []int64) (int, error)
	ListClients(ctx context.Context, keyword string) ([]*models.User, error)
	GetUserPermissions(ctx context.Context, userID int64) ([]models.PermissionRef, error)
}

// PresenceRepository holds the realtime-owned columns of the user row.
type PresenceRepository interface {
	ListOnlineUsers(ctx context.Context, limit int) ([]models.PresenceEntry, error)
	MarkConnected(ctx context.Context, userID int64, socketID string, at time.Time) error
	MarkDisconnected(ctx context.Context, userID int64, at time.Time) error
	SetAvailability(ctx context.Context, userID int64, availability string, at time.Time) error
	SaveTwilioIdentity(ctx context.Context, userID int64, identity string, issuedAt, expiresAt time.Time) error
}

type RoleRepository interface {
	ListRoles(ctx context.Context, page models.Page) ([]models.Role, int, error)
	GetRole(ctx context.Context, id int64) (*models.Role, error)
	CreateRole(ctx context.Context, name string, permissionIDs []int64) (*models.Role, error)
	UpdateRole(ctx context.Context, id int64, name string, permissionIDs []int64) (*models.Role, error)
	DeleteRole(ctx context.Context, id int64) error
	DeleteRoles(ctx context.Context, ids []int64) (int, error)
	ListActivePermissions(ctx context.Context) ([]models.Permission, error)
}

type TrackerRepository interface {
	CreateTracker(ctx context.Context, tracker *models.LgTracker) error
	SaveTrackerUpload(ctx context.Context, tracker *models.LgTracker, rows []models.LeadRow, replaceRows bool) error
	GetTracker(ctx context.Context, id int64) (*models.LgTracker, error)
	DeleteTracker(ctx context.Context, id int64) error
	ListTrackers(ctx context.Context, clientID int64, window models.DateWindow, page models.Page) ([]models.LgTracker, int, error)
	ListTrackersForExport(ctx context.Context, clientID int64, window models.DateWindow) ([]models.LgTracker, error)
	DailyMetrics(ctx context.Context, clientID int64, window models.DateWindow) (map[string]models.DailyMetrics, error)
	ListTrackerRows(ctx context.Context, trackerID int64, page models.Page) ([]models.UploadedData, int, error)
}

type UploadRepository interface {
	CreateUploadLog(ctx context.Context, log *models.UploadLog) error
	CompleteUploadLog(ctx context.Context, log *models.UploadLog, rows []models.LeadRow) error
	MarkUploadLog(ctx context.Context, id int64, status string) error
	ListUploadedData(ctx context.Context, clientID int64, from, to *time.Time) ([]models.UploadedData, error)
}

// CallStore keeps call legs by call SID and conferences by conference SID.
// The two keyspaces are independent. Get and GetConference return nil, nil
// for unknown keys.
type CallStore interface {
	Get(ctx context.Context, callSID string) (*models.CallSession, error)
	Set(ctx context.Context, session *models.CallSession) error
	Delete(ctx context.Context, callSID string) error
	// Scan calls fn for every session until fn returns false.
	Scan(ctx context.Context, fn func(*models.CallSession) bool) error

	GetConference(ctx context.Context, conferenceSID string) (*models.ConferenceSession, error)
	SetConference(ctx context.Context, conf *models.ConferenceSession) error
	ListConferences(ctx context.Context) ([]*models.ConferenceSession, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// CallRequest describes an outbound call leg.
type CallRequest struct {
	To     string
	From   string
	URL    string
	Method string
}

// CallUpdate redirects or completes a live call. Empty fields are not sent.
type CallUpdate struct {
	URL    string
	Method string
	Status string
}

type VoiceProvider interface {
	Configured() bool
	CreateCall(ctx context.Context, req CallRequest) (string, error)
	UpdateCall(ctx context.Context, callSID string, upd CallUpdate) error
}
