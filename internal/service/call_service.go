package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"callcenter/internal/domain"
	"callcenter/internal/events"
	"callcenter/internal/metrics"
	"callcenter/internal/models"
	"callcenter/internal/twilio"
	"callcenter/internal/worker"

	"github.com/rs/zerolog"
)

// Caller is the authenticated agent behind a call-control request.
type Caller struct {
	ID       int64
	Name     string
	Slug     string
	SocketID string
}

// CallerRef is how an agent is shown to other agents.
type CallerRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
	Slug string `json:"slug,omitempty"`
}

type InitiateRequest struct {
	To           string
	TargetUserID int64
}

type InitiateResult struct {
	OK         bool   `json:"ok"`
	CallID     string `json:"callId"`
	CallSID    string `json:"callSid"`
	Conference string `json:"conference"`
}

type TransferRequest struct {
	CallID string
	Target string
	Mode   string
}

type TransferResult struct {
	OK           bool   `json:"ok"`
	Mode         string `json:"mode,omitempty"`
	AgentCallSID string `json:"agentCallSid,omitempty"`
	CallSID      string `json:"callSid,omitempty"`
	Conference   string `json:"conference"`
}

type EndResult struct {
	OK     bool   `json:"ok"`
	CallID string `json:"callId"`
}

// CallStatusPayload is the body of call:status.
type CallStatusPayload struct {
	CallID     string `json:"callId,omitempty"`
	CallSID    string `json:"callSid,omitempty"`
	Status     string `json:"status"`
	Conference string `json:"conference,omitempty"`
	Error      string `json:"error,omitempty"`
}

// InvitePayload is the body of incoming-invite.
type InvitePayload struct {
	From       CallerRef `json:"from"`
	CallID     string    `json:"callId,omitempty"`
	CallSID    string    `json:"callSid"`
	Conference string    `json:"conference"`
	Number     string    `json:"number,omitempty"`
}

// SideEffects accepts work that runs after the request returns.
type SideEffects interface {
	Enqueue(ctx context.Context, task worker.Task) error
}

// CallService drives call legs through the voice provider and keeps the
// call-session store and agent availability in step.
type CallService struct {
	store    domain.CallStore
	voice    domain.VoiceProvider
	users    domain.UserRepository
	presence domain.PresenceRepository
	events   domain.EventPublisher
	sidefx   SideEffects
	baseURL  string
	retry    worker.RetryPolicy
	locks    *keyLock
	logger   *zerolog.Logger

	now            func() time.Time
	conferenceName func() string
}

type CallServiceDeps struct {
	Store       domain.CallStore
	Voice       domain.VoiceProvider
	Users       domain.UserRepository
	Presence    domain.PresenceRepository
	Events      domain.EventPublisher
	SideEffects SideEffects
	BaseURL     string
	Logger      *zerolog.Logger
}

func NewCallService(deps CallServiceDeps) *CallService {
	logger := deps.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &CallService{
		store:          deps.Store,
		voice:          deps.Voice,
		users:          deps.Users,
		presence:       deps.Presence,
		events:         deps.Events,
		sidefx:         deps.SideEffects,
		baseURL:        strings.TrimRight(deps.BaseURL, "/"),
		retry:          worker.SecondaryWritePolicy,
		locks:          newKeyLock(),
		logger:         logger,
		now:            time.Now,
		conferenceName: newConferenceName,
	}
}

// Initiate dials an external number into a fresh conference for the caller.
func (s *CallService) Initiate(ctx context.Context, caller Caller, req InitiateRequest) (*InitiateResult, error) {
	to := strings.TrimSpace(req.To)
	if to == "" {
		return nil, ErrMissingTarget
	}
	if !s.voice.Configured() {
		s.logger.Error().Int64("agent_id", caller.ID).Msg("Twilio client not configured")
		return nil, ErrTwilioNotConfigured
	}

	conf := s.conferenceName()
	sid, err := s.voice.CreateCall(ctx, domain.CallRequest{
		To:     to,
		URL:    twilio.JoinURL(s.baseURL, conf, false),
		Method: http.MethodPost,
	})
	if err != nil {
		s.logger.Error().Err(err).Int64("agent_id", caller.ID).Msg("Failed to create call")
		return nil, fmt.Errorf("create call: %w", err)
	}

	session := &models.CallSession{
		CallSID:        sid,
		ConferenceName: conf,
		AgentID:        caller.ID,
		AgentSocketID:  caller.SocketID,
		TargetNumber:   to,
		Status:         models.CallInitiating,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.Set(ctx, session); err != nil {
		s.logger.Error().Err(err).Str("call_sid", sid).Msg("Failed to register call session")
		return nil, fmt.Errorf("store call session: %w", err)
	}
	metrics.IncCallTransition(models.CallInitiating)

	s.setAvailability(ctx, caller.ID, models.AvailabilityInCall)

	if caller.SocketID != "" {
		publish(s.logger, events.CallStatus, func() error {
			return events.EmitTo(s.events, caller.SocketID, events.CallStatus, CallStatusPayload{
				CallID: sid, CallSID: sid, Status: models.CallInitiating, Conference: conf,
			})
		})
	}

	if req.TargetUserID > 0 {
		s.inviteUser(ctx, caller, req.TargetUserID, InvitePayload{
			CallID: sid, CallSID: sid, Conference: conf, Number: to,
		})
	}

	s.logger.Info().Str("call_sid", sid).Str("conference", conf).Int64("agent_id", caller.ID).Msg("Call initiated")
	return &InitiateResult{OK: true, CallID: sid, CallSID: sid, Conference: conf}, nil
}

// Transfer brings another agent ("agent:<slug>") or an external number into
// the call's conference.
func (s *CallService) Transfer(ctx context.Context, caller Caller, req TransferRequest) (*TransferResult, error) {
	target := strings.TrimSpace(req.Target)
	if req.CallID == "" || target == "" {
		return nil, ErrMissingTransfer
	}

	unlock := s.locks.Lock(req.CallID)
	defer unlock()

	rec, err := s.find(ctx, req.CallID)
	if err != nil {
		return nil, fmt.Errorf("find call: %w", err)
	}
	if rec == nil {
		return nil, ErrCallNotFound
	}
	if !s.voice.Configured() {
		return nil, ErrTwilioNotConfigured
	}

	conf := rec.ConferenceName
	if conf == "" {
		conf = s.conferenceName()
		err := s.voice.UpdateCall(ctx, rec.CallSID, domain.CallUpdate{
			URL:    twilio.JoinURL(s.baseURL, conf, false),
			Method: http.MethodPost,
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("call_sid", rec.CallSID).Msg("Failed to move customer leg into conference")
		}
	}
	agentURL := twilio.JoinURL(s.baseURL, conf, true)

	if slug, ok := strings.CutPrefix(target, "agent:"); ok {
		agent, err := s.users.GetUserBySlug(ctx, slug)
		if errors.Is(err, ErrNotFound) {
			return nil, ErrAgentNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("load agent: %w", err)
		}

		identity := agent.TwilioIdentity
		if identity == "" {
			ref := agent.Slug
			if ref == "" {
				ref = strconv.FormatInt(agent.ID, 10)
			}
			identity = "agent:" + ref
		}
		agentSID, err := s.voice.CreateCall(ctx, domain.CallRequest{
			To:  "client:" + strings.TrimPrefix(identity, "client:"),
			URL: agentURL,
		})
		if err != nil {
			return nil, fmt.Errorf("call agent: %w", err)
		}

		if err := s.store.Set(ctx, &models.CallSession{
			CallSID:        agentSID,
			ConferenceName: conf,
			AgentID:        agent.ID,
			AgentSocketID:  agent.SocketID,
			Role:           models.RoleTransferTarget,
			Status:         models.CallInitiating,
			CreatedAt:      s.now().UTC(),
		}); err != nil {
			return nil, fmt.Errorf("store transfer leg: %w", err)
		}
		rec.ConferenceName = conf
		if err := s.store.Set(ctx, rec); err != nil {
			return nil, fmt.Errorf("store call session: %w", err)
		}
		metrics.IncCallTransition(models.CallTransferConsult)

		if caller.SocketID != "" {
			publish(s.logger, events.CallStatus, func() error {
				return events.EmitTo(s.events, caller.SocketID, events.CallStatus, CallStatusPayload{
					CallID: rec.CallSID, Status: models.CallTransferConsult, Conference: conf,
				})
			})
		}
		if agent.SocketID != "" {
			publish(s.logger, events.IncomingInvite, func() error {
				return events.EmitTo(s.events, agent.SocketID, events.IncomingInvite, InvitePayload{
					From:       callerRef(caller),
					CallSID:    agentSID,
					Conference: conf,
					Number:     rec.TargetNumber,
				})
			})
		}

		s.logger.Info().Str("call_sid", rec.CallSID).Str("agent_call_sid", agentSID).Int64("target_agent", agent.ID).Msg("Call transferred to agent")
		return &TransferResult{OK: true, Mode: "consult", AgentCallSID: agentSID, Conference: conf}, nil
	}

	outSID, err := s.voice.CreateCall(ctx, domain.CallRequest{To: target, URL: agentURL})
	if err != nil {
		return nil, fmt.Errorf("call transfer target: %w", err)
	}
	if err := s.store.Set(ctx, &models.CallSession{
		CallSID:        outSID,
		ConferenceName: conf,
		TargetNumber:   target,
		Role:           models.RoleTransferTarget,
		Status:         models.CallInitiating,
		CreatedAt:      s.now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("store transfer leg: %w", err)
	}
	rec.ConferenceName = conf
	if err := s.store.Set(ctx, rec); err != nil {
		return nil, fmt.Errorf("store call session: %w", err)
	}

	s.logger.Info().Str("call_sid", rec.CallSID).Str("transfer_call_sid", outSID).Msg("Call transferred to number")
	return &TransferResult{OK: true, Mode: req.Mode, CallSID: outSID, Conference: conf}, nil
}

// End completes the call, forgets its session and frees the owning agent.
// Completing the call at Twilio happens asynchronously; a call Twilio has
// already ended is not an error.
func (s *CallService) End(ctx context.Context, caller Caller, callID string) (*EndResult, error) {
	if callID == "" {
		return nil, ErrMissingCallID
	}

	unlock := s.locks.Lock(callID)
	defer unlock()

	rec, err := s.find(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("find call: %w", err)
	}

	callSID, agentID := callID, caller.ID
	if rec != nil {
		callSID = rec.CallSID
		if rec.AgentID > 0 {
			agentID = rec.AgentID
		}
	}

	if s.voice.Configured() && s.sidefx != nil {
		if err := s.sidefx.Enqueue(ctx, worker.Task{Type: worker.TaskCompleteCall, CallSID: callSID}); err != nil {
			s.logger.Warn().Err(err).Str("call_sid", callSID).Msg("Failed to schedule Twilio completion")
		}
	}

	if rec != nil {
		if err := s.store.Delete(ctx, rec.CallSID); err != nil {
			return nil, fmt.Errorf("delete call session: %w", err)
		}
		metrics.IncCallTransition(models.CallEnded)
	}
	if agentID > 0 {
		s.setAvailability(ctx, agentID, models.AvailabilityOnline)
	}

	publish(s.logger, events.CallStatus, func() error {
		return events.Broadcast(s.events, events.CallStatus, CallStatusPayload{CallID: callID, Status: models.CallEnded})
	})

	s.logger.Info().Str("call_id", callID).Bool("known", rec != nil).Msg("Call ended")
	return &EndResult{OK: true, CallID: callID}, nil
}

// AgentDisconnected flags every session owned by the socket. Sessions are kept
// so the call can still be ended or transferred.
func (s *CallService) AgentDisconnected(ctx context.Context, socketID string) error {
	if socketID == "" {
		return nil
	}

	var owned []string
	err := s.store.Scan(ctx, func(cs *models.CallSession) bool {
		if cs.AgentSocketID == socketID {
			owned = append(owned, cs.CallSID)
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("scan call sessions: %w", err)
	}

	for _, sid := range owned {
		if err := s.markDisconnected(ctx, sid, socketID); err != nil {
			s.logger.Warn().Err(err).Str("call_sid", sid).Msg("Failed to flag call as agent-disconnected")
		}
	}
	return nil
}

func (s *CallService) markDisconnected(ctx context.Context, sid, socketID string) error {
	unlock := s.locks.Lock(sid)
	defer unlock()

	cs, err := s.store.Get(ctx, sid)
	if err != nil || cs == nil || cs.AgentSocketID != socketID {
		return err
	}
	cs.AgentSocketID = ""
	cs.Status = models.CallAgentDisconnected
	if err := s.store.Set(ctx, cs); err != nil {
		return err
	}
	metrics.IncCallTransition(models.CallAgentDisconnected)

	publish(s.logger, events.CallStatus, func() error {
		return events.Broadcast(s.events, events.CallStatus, CallStatusPayload{CallID: sid, Status: models.CallAgentDisconnected})
	})
	return nil
}

// CompleteCall is the side-effect handler that hangs up a call at Twilio.
func (s *CallService) CompleteCall(ctx context.Context, task worker.Task) error {
	err := s.voice.UpdateCall(ctx, task.CallSID, domain.CallUpdate{Status: "completed"})
	var apiErr *twilio.APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil
	}
	return err
}

// Session returns the tracked session for a call, or ErrCallNotFound.
func (s *CallService) Session(ctx context.Context, callID string) (*models.CallSession, error) {
	rec, err := s.find(ctx, callID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrCallNotFound
	}
	return rec, nil
}

// find looks a session up by key, then by scanning for a matching call sid.
func (s *CallService) find(ctx context.Context, id string) (*models.CallSession, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil || rec != nil {
		return rec, err
	}
	err = s.store.Scan(ctx, func(cs *models.CallSession) bool {
		if cs.CallSID == id {
			rec = cs
			return false
		}
		return true
	})
	return rec, err
}

func (s *CallService) inviteUser(ctx context.Context, caller Caller, userID int64, invite InvitePayload) {
	target, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		s.logger.Warn().Err(err).Int64("target_user", userID).Msg("Failed to notify target agent")
		return
	}
	if target.SocketID == "" {
		return
	}
	invite.From = callerRef(caller)
	publish(s.logger, events.IncomingInvite, func() error {
		return events.EmitTo(s.events, target.SocketID, events.IncomingInvite, invite)
	})
}

func (s *CallService) setAvailability(ctx context.Context, userID int64, availability string) {
	bestEffort(ctx, s.logger, s.retry, writeAvailability, userID, func(ctx context.Context) error {
		return s.presence.SetAvailability(ctx, userID, availability, s.now())
	})
}

func callerRef(c Caller) CallerRef {
	return CallerRef{ID: c.ID, Name: c.Name, Slug: c.Slug}
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// newConferenceName returns conf-<unix ms>-<6 random base36 chars>.
func newConferenceName() string {
	suffix := make([]byte, 6)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(base36))))
		if err != nil {
			suffix[i] = base36[time.Now().UnixNano()%int64(len(base36))]
			continue
		}
		suffix[i] = base36[n.Int64()]
	}
	return fmt.Sprintf("conf-%d-%s", time.Now().UnixMilli(), suffix)
}
