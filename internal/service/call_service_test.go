package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"callcenter/internal/database"
	"callcenter/internal/domain"
	"callcenter/internal/events"
	"callcenter/internal/models"
	"callcenter/internal/repository"
	"callcenter/internal/twilio"
	"callcenter/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type callFixture struct {
	svc    *CallService
	db     *database.DB
	store  *repository.MemoryCallStore
	voice  *MockVoice
	queue  *taskRecorder
	events *recordedEvents
}

func newCallFixture(t *testing.T) *callFixture {
	t.Helper()
	db := setupDB(t)
	bus := events.NewEventBus()
	f := &callFixture{
		db:     db,
		store:  repository.NewMemoryCallStore(),
		voice:  new(MockVoice),
		queue:  &taskRecorder{},
		events: recordEvents(bus),
	}
	f.svc = NewCallService(CallServiceDeps{
		Store:       f.store,
		Voice:       f.voice,
		Users:       db,
		Presence:    db,
		Events:      bus,
		SideEffects: f.queue,
		BaseURL:     "https://cc.example.com/",
	})
	f.svc.retry = fastRetry
	f.svc.conferenceName = func() string { return "conf-test" }
	return f
}

func joinURL(startOnEnter bool) string {
	return twilio.JoinURL("https://cc.example.com", "conf-test", startOnEnter)
}

func availability(t *testing.T, db *database.DB, id int64) string {
	t.Helper()
	u, err := db.GetUserByID(context.Background(), id)
	require.NoError(t, err)
	return u.Availability
}

func TestCallService_InitiateAndEnd(t *testing.T) {
	f := newCallFixture(t)
	ctx := context.Background()
	agent := seedUser(t, f.db, "agent@example.com", "agent")
	caller := Caller{ID: agent.ID, Name: "agent", SocketID: "sock-a"}

	f.voice.On("Configured").Return(true)
	f.voice.On("CreateCall", mock.Anything, domain.CallRequest{
		To:     "+15550100",
		URL:    joinURL(false),
		Method: "POST",
	}).Return("CA100", nil).Once()

	res, err := f.svc.Initiate(ctx, caller, InitiateRequest{To: " +15550100 "})
	require.NoError(t, err)
	assert.Equal(t, &InitiateResult{OK: true, CallID: "CA100", CallSID: "CA100", Conference: "conf-test"}, res)

	session, err := f.store.Get(ctx, "CA100")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, models.CallInitiating, session.Status)
	assert.Equal(t, agent.ID, session.AgentID)
	assert.Equal(t, "sock-a", session.AgentSocketID)
	assert.Equal(t, "+15550100", session.TargetNumber)
	assert.Equal(t, models.AvailabilityInCall, availability(t, f.db, agent.ID))

	statuses := f.events.directTo("sock-a", events.CallStatus)
	require.Len(t, statuses, 1)
	assert.JSONEq(t, `{"callId":"CA100","callSid":"CA100","status":"initiating","conference":"conf-test"}`, string(statuses[0].Data))

	end, err := f.svc.End(ctx, Caller{ID: agent.ID}, "CA100")
	require.NoError(t, err)
	assert.Equal(t, &EndResult{OK: true, CallID: "CA100"}, end)

	session, err = f.store.Get(ctx, "CA100")
	require.NoError(t, err)
	assert.Nil(t, session)
	assert.Equal(t, models.AvailabilityOnline, availability(t, f.db, agent.ID))

	require.Len(t, f.queue.tasks, 1)
	assert.Equal(t, worker.TaskCompleteCall, f.queue.tasks[0].Type)
	assert.Equal(t, "CA100", f.queue.tasks[0].CallSID)

	ended := f.events.broadcasts(events.CallStatus)
	require.Len(t, ended, 1)
	assert.JSONEq(t, `{"callId":"CA100","status":"ended"}`, string(ended[0].Data))
	f.voice.AssertExpectations(t)
}

func TestCallService_InitiateInvitesTargetUser(t *testing.T) {
	f := newCallFixture(t)
	ctx := context.Background()
	agent := seedUser(t, f.db, "a@example.com", "alice")
	peer := seedUser(t, f.db, "b@example.com", "bob")
	require.NoError(t, f.db.MarkConnected(ctx, peer.ID, "sock-b", time.Now()))

	f.voice.On("Configured").Return(true)
	f.voice.On("CreateCall", mock.Anything, mock.Anything).Return("CA1", nil)

	_, err := f.svc.Initiate(ctx, Caller{ID: agent.ID, Name: "alice", Slug: "alice"}, InitiateRequest{To: "+1555", TargetUserID: peer.ID})
	require.NoError(t, err)

	invites := f.events.directTo("sock-b", events.IncomingInvite)
	require.Len(t, invites, 1)
	var payload InvitePayload
	require.NoError(t, json.Unmarshal(invites[0].Data, &payload))
	assert.Equal(t, CallerRef{ID: agent.ID, Name: "alice", Slug: "alice"}, payload.From)
	assert.Equal(t, "CA1", payload.CallSID)
	assert.Equal(t, "conf-test", payload.Conference)
	assert.Equal(t, "+1555", payload.Number)
}

func TestCallService_InitiateErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing target", func(t *testing.T) {
		f := newCallFixture(t)
		_, err := f.svc.Initiate(ctx, Caller{ID: 1}, InitiateRequest{To: "  "})
		assert.ErrorIs(t, err, ErrMissingTarget)
		assert.Equal(t, "missing_target", CallErrorCode(err, "initiate_failed"))
	})

	t.Run("twilio not configured", func(t *testing.T) {
		f := newCallFixture(t)
		f.voice.On("Configured").Return(false)
		_, err := f.svc.Initiate(ctx, Caller{ID: 1}, InitiateRequest{To: "+1"})
		assert.ErrorIs(t, err, ErrTwilioNotConfigured)
		f.voice.AssertNotCalled(t, "CreateCall", mock.Anything, mock.Anything)
	})

	t.Run("provider failure leaves no session", func(t *testing.T) {
		f := newCallFixture(t)
		agent := seedUser(t, f.db, "c@example.com", "carol")
		f.voice.On("Configured").Return(true)
		f.voice.On("CreateCall", mock.Anything, mock.Anything).Return("", errors.New("boom"))

		_, err := f.svc.Initiate(ctx, Caller{ID: agent.ID}, InitiateRequest{To: "+1"})
		require.Error(t, err)
		assert.Equal(t, "initiate_failed", CallErrorCode(err, "initiate_failed"))

		count := 0
		require.NoError(t, f.store.Scan(ctx, func(*models.CallSession) bool { count++; return true }))
		assert.Zero(t, count)
		assert.Equal(t, models.AvailabilityOffline, availability(t, f.db, agent.ID))
	})
}

func TestCallService_TransferToAgent(t *testing.T) {
	f := newCallFixture(t)
	ctx := context.Background()
	owner := seedUser(t, f.db, "owner@example.com", "owner")
	target := seedUser(t, f.db, "bob@example.com", "bob")
	identity := "bob-browser"
	require.NoError(t, f.db.UpdateUser(ctx, target.ID, models.UserUpdate{TwilioIdentity: &identity}))
	require.NoError(t, f.db.MarkConnected(ctx, target.ID, "sock-bob", time.Now()))

	require.NoError(t, f.store.Set(ctx, &models.CallSession{
		CallSID: "CA1", ConferenceName: "conf-test", AgentID: owner.ID, Status: models.CallInitiating,
	}))

	f.voice.On("Configured").Return(true)
	f.voice.On("CreateCall", mock.Anything, domain.CallRequest{
		To:  "client:bob-browser",
		URL: joinURL(true),
	}).Return("CA2", nil).Once()

	res, err := f.svc.Transfer(ctx, Caller{ID: owner.ID, Name: "owner", SocketID: "sock-owner"}, TransferRequest{CallID: "CA1", Target: "agent:bob"})
	require.NoError(t, err)
	assert.Equal(t, &TransferResult{OK: true, Mode: "consult", AgentCallSID: "CA2", Conference: "conf-test"}, res)

	leg, err := f.store.Get(ctx, "CA2")
	require.NoError(t, err)
	require.NotNil(t, leg)
	assert.Equal(t, models.RoleTransferTarget, leg.Role)
	assert.Equal(t, target.ID, leg.AgentID)
	assert.Equal(t, "conf-test", leg.ConferenceName)

	consult := f.events.directTo("sock-owner", events.CallStatus)
	require.Len(t, consult, 1)
	assert.JSONEq(t, `{"callId":"CA1","status":"transfer_consult","conference":"conf-test"}`, string(consult[0].Data))
	assert.Len(t, f.events.directTo("sock-bob", events.IncomingInvite), 1)
	f.voice.AssertExpectations(t)
}

func TestCallService_TransferToNumberCreatesConference(t *testing.T) {
	f := newCallFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Set(ctx, &models.CallSession{CallSID: "CA1", AgentID: 7}))

	f.voice.On("Configured").Return(true)
	f.voice.On("UpdateCall", mock.Anything, "CA1", domain.CallUpdate{URL: joinURL(false), Method: "POST"}).Return(nil).Once()
	f.voice.On("CreateCall", mock.Anything, domain.CallRequest{To: "+19990001", URL: joinURL(true)}).Return("CA3", nil).Once()

	res, err := f.svc.Transfer(ctx, Caller{ID: 7}, TransferRequest{CallID: "CA1", Target: "+19990001", Mode: "warm"})
	require.NoError(t, err)
	assert.Equal(t, "warm", res.Mode)
	assert.Equal(t, "CA3", res.CallSID)
	assert.Equal(t, "conf-test", res.Conference)

	rec, err := f.store.Get(ctx, "CA1")
	require.NoError(t, err)
	assert.Equal(t, "conf-test", rec.ConferenceName)
	f.voice.AssertExpectations(t)
}

func TestCallService_TransferErrors(t *testing.T) {
	ctx := context.Background()
	f := newCallFixture(t)
	f.voice.On("Configured").Return(true)
	require.NoError(t, f.store.Set(ctx, &models.CallSession{CallSID: "CA1", ConferenceName: "conf-test"}))

	_, err := f.svc.Transfer(ctx, Caller{}, TransferRequest{CallID: "CA1"})
	assert.ErrorIs(t, err, ErrMissingTransfer)

	_, err = f.svc.Transfer(ctx, Caller{}, TransferRequest{CallID: "nope", Target: "+1"})
	assert.ErrorIs(t, err, ErrCallNotFound)

	_, err = f.svc.Transfer(ctx, Caller{}, TransferRequest{CallID: "CA1", Target: "agent:ghost"})
	assert.ErrorIs(t, err, ErrAgentNotFound)
	assert.Equal(t, "agent_not_found", CallErrorCode(err, "transfer_failed"))
}

func TestCallService_EndUnknownCall(t *testing.T) {
	f := newCallFixture(t)
	ctx := context.Background()
	agent := seedUser(t, f.db, "x@example.com", "x")
	f.voice.On("Configured").Return(true)

	res, err := f.svc.End(ctx, Caller{ID: agent.ID}, "CA-missing")
	require.NoError(t, err)
	assert.True(t, res.OK)
	require.Len(t, f.queue.tasks, 1)
	assert.Equal(t, "CA-missing", f.queue.tasks[0].CallSID)
	assert.Equal(t, models.AvailabilityOnline, availability(t, f.db, agent.ID))

	_, err = f.svc.End(ctx, Caller{ID: agent.ID}, "")
	assert.ErrorIs(t, err, ErrMissingCallID)
}

func TestCallService_EndSurvivesQueueAndPresenceFailures(t *testing.T) {
	f := newCallFixture(t)
	ctx := context.Background()
	presence := &failingPresence{}
	f.svc.presence = presence
	f.queue.err = worker.ErrQueueFull
	f.voice.On("Configured").Return(true)
	require.NoError(t, f.store.Set(ctx, &models.CallSession{CallSID: "CA1", AgentID: 3}))

	res, err := f.svc.End(ctx, Caller{ID: 3}, "CA1")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, fastRetry.MaxRetries, presence.calls)

	rec, err := f.store.Get(ctx, "CA1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestCallService_AgentDisconnected(t *testing.T) {
	f := newCallFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Set(ctx, &models.CallSession{CallSID: "CA1", AgentSocketID: "s1", Status: models.CallInitiating}))
	require.NoError(t, f.store.Set(ctx, &models.CallSession{CallSID: "CA2", AgentSocketID: "s2", Status: models.CallInitiating}))

	require.NoError(t, f.svc.AgentDisconnected(ctx, "s1"))

	rec, err := f.store.Get(ctx, "CA1")
	require.NoError(t, err)
	assert.Equal(t, models.CallAgentDisconnected, rec.Status)
	assert.Empty(t, rec.AgentSocketID)

	other, err := f.store.Get(ctx, "CA2")
	require.NoError(t, err)
	assert.Equal(t, models.CallInitiating, other.Status)
	assert.Equal(t, "s2", other.AgentSocketID)

	msgs := f.events.broadcasts(events.CallStatus)
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"callId":"CA1","status":"agent-disconnected"}`, string(msgs[0].Data))
}

func TestCallService_CompleteCall(t *testing.T) {
	f := newCallFixture(t)
	ctx := context.Background()
	completed := domain.CallUpdate{Status: "completed"}

	f.voice.On("UpdateCall", mock.Anything, "CA404", completed).Return(&twilio.APIError{Status: 404})
	f.voice.On("UpdateCall", mock.Anything, "CA500", completed).Return(&twilio.APIError{Status: 500})

	assert.NoError(t, f.svc.CompleteCall(ctx, worker.Task{CallSID: "CA404"}))
	assert.Error(t, f.svc.CompleteCall(ctx, worker.Task{CallSID: "CA500"}))
}

func TestCallService_ConcurrentEndIsSerialized(t *testing.T) {
	f := newCallFixture(t)
	ctx := context.Background()
	f.voice.On("Configured").Return(false)
	require.NoError(t, f.store.Set(ctx, &models.CallSession{CallSID: "CA1"}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.End(ctx, Caller{}, "CA1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := f.store.Get(ctx, "CA1")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Zero(t, f.svc.locks.size())
}

func TestConferenceName(t *testing.T) {
	name := newConferenceName()
	parts := strings.Split(name, "-")
	require.Len(t, parts, 3)
	assert.Equal(t, "conf", parts[0])
	assert.Len(t, parts[2], 6)
	for _, r := range parts[2] {
		assert.True(t, strings.ContainsRune(base36, r))
	}
}

func TestKeyLock(t *testing.T) {
	k := newKeyLock()
	unlock := k.Lock("a")
	assert.Equal(t, 1, k.size())

	acquired := make(chan struct{})
	go func() {
		u := k.Lock("a")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(20 * time.Millisecond):
	}

	other := k.Lock("b")
	other()

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the key")
	}
	assert.Eventually(t, func() bool { return k.size() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHandleConferenceEvent(t *testing.T) {
	f := newCallFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Set(ctx, &models.CallSession{CallSID: "CA1", Status: models.CallInitiating}))

	apply := func(ev ConferenceEvent) {
		t.Helper()
		ev.ConferenceSID = "CF1"
		require.NoError(t, f.svc.HandleConferenceEvent(ctx, ev))
	}

	require.NoError(t, f.svc.HandleConferenceEvent(ctx, ConferenceEvent{Event: EventParticipantJoin, ConferenceSID: "CF-unknown", CallSID: "CA9"}))
	unknown, err := f.store.GetConference(ctx, "CF-unknown")
	require.NoError(t, err)
	assert.Nil(t, unknown)

	apply(ConferenceEvent{Event: EventConferenceStart, ConferenceName: "conf-test", Timestamp: "t0"})
	apply(ConferenceEvent{Event: EventParticipantJoin, CallSID: "CA1", ParticipantSID: "P1"})
	apply(ConferenceEvent{Event: EventParticipantJoin, CallSID: "CA2", ParticipantSID: "P2"})
	apply(ConferenceEvent{Event: EventParticipantLeave, ParticipantSID: "P1"})
	apply(ConferenceEvent{Event: "announcement-end"})

	conf, err := f.store.GetConference(ctx, "CF1")
	require.NoError(t, err)
	require.NotNil(t, conf)
	assert.Equal(t, models.ConferenceInProgress, conf.Status)
	assert.Equal(t, "t0", conf.StartedAt)
	assert.Equal(t, []models.Participant{{CallSID: "CA2", ParticipantSID: "P2"}}, conf.Participants)

	apply(ConferenceEvent{Event: EventConferenceEnd, Timestamp: "t9"})
	conf, err = f.store.GetConference(ctx, "CF1")
	require.NoError(t, err)
	assert.Equal(t, models.ConferenceEnded, conf.Status)
	assert.Equal(t, "t9", conf.EndedAt)

	session, err := f.store.Get(ctx, "CA1")
	require.NoError(t, err)
	assert.Equal(t, models.CallInitiating, session.Status)

	all, err := f.svc.Conferences(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
