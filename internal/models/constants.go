package models

// User availability values.
const (
	AvailabilityOnline    = "online"
	AvailabilityInCall    = "in-call"
	AvailabilityOffline   = "offline"
	AvailabilityAvailable = "available"
)

// Call-session statuses.
const (
	CallInitiating        = "initiating"
	CallInProgress        = "in-progress"
	CallEnded             = "ended"
	CallAgentDisconnected = "agent-disconnected"
	CallTransferConsult   = "transfer_consult"
	CallFailed            = "failed"
)

// Call-session roles.
const (
	RoleTransferTarget = "transfer_target"
)

// Conference statuses driven by Twilio status callbacks.
const (
	ConferenceStarted    = "started"
	ConferenceInProgress = "in-progress"
	ConferenceEnded      = "ended"
)

// Upload and tracker ingestion statuses.
const (
	UploadProcessing = "processing"
	UploadSuccess    = "success"
	UploadFailed     = "failed"
	UploadNoFile     = "no_file"
)

// ClientRoleName is the role that marks a user as a campaign client.
const ClientRoleName = "Client"

const (
	DefaultPerPage    = 20
	MaxPerPage        = 100
	DefaultAgentsPage = 50
	MaxAgentsPage     = 200
	PresenceListLimit = 200
)
