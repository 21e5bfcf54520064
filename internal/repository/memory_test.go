package repository

import (
	"context"
	"testing"
	"time"

	"callcenter/internal/domain"
	"callcenter/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseCallStore runs the behavior every CallStore implementation shares.
func exerciseCallStore(t *testing.T, store domain.CallStore) {
	t.Helper()
	ctx := context.Background()

	got, err := store.Get(ctx, "CA-missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	first := &models.CallSession{
		CallSID:        "CA1",
		ConferenceName: "conf-1",
		AgentID:        7,
		AgentSocketID:  "sock-7",
		TargetNumber:   "+15550001111",
		Status:         models.CallInitiating,
		CreatedAt:      base,
	}
	second := &models.CallSession{
		CallSID:       "CA2",
		AgentID:       8,
		AgentSocketID: "sock-8",
		Role:          models.RoleTransferTarget,
		Status:        models.CallInitiating,
		CreatedAt:     base.Add(time.Second),
	}
	require.NoError(t, store.Set(ctx, first))
	require.NoError(t, store.Set(ctx, second))

	got, err = store.Get(ctx, "CA1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "conf-1", got.ConferenceName)
	assert.True(t, got.CreatedAt.Equal(base))

	var seen []string
	require.NoError(t, store.Scan(ctx, func(s *models.CallSession) bool {
		seen = append(seen, s.CallSID)
		return true
	}))
	assert.ElementsMatch(t, []string{"CA1", "CA2"}, seen)

	visits := 0
	require.NoError(t, store.Scan(ctx, func(*models.CallSession) bool {
		visits++
		return false
	}))
	assert.Equal(t, 1, visits)

	require.NoError(t, store.Delete(ctx, "CA1"))
	got, err = store.Get(ctx, "CA1")
	require.NoError(t, err)
	assert.Nil(t, got)
	require.NoError(t, store.Delete(ctx, "CA1"))

	// Conference keyspace is separate from call sids.
	conf := &models.ConferenceSession{
		ConferenceSID: "CF1",
		Conference:    "conf-1",
		Status:        models.ConferenceStarted,
		Participants:  []models.Participant{{CallSID: "CA9", ParticipantSID: "CA9"}},
	}
	require.NoError(t, store.SetConference(ctx, conf))
	gotConf, err := store.GetConference(ctx, "CF1")
	require.NoError(t, err)
	require.NotNil(t, gotConf)
	assert.Equal(t, conf.Participants, gotConf.Participants)

	missingConf, err := store.GetConference(ctx, "CA2")
	require.NoError(t, err)
	assert.Nil(t, missingConf)

	confs, err := store.ListConferences(ctx)
	require.NoError(t, err)
	require.Len(t, confs, 1)
	assert.Equal(t, "CF1", confs[0].ConferenceSID)
}

func TestMemoryCallStore(t *testing.T) {
	exerciseCallStore(t, NewMemoryCallStore())
}

func TestMemoryCallStoreReturnsCopies(t *testing.T) {
	store := NewMemoryCallStore()
	ctx := context.Background()

	sess := &models.CallSession{CallSID: "CA1", Status: models.CallInitiating}
	require.NoError(t, store.Set(ctx, sess))
	sess.Status = models.CallEnded

	got, err := store.Get(ctx, "CA1")
	require.NoError(t, err)
	assert.Equal(t, models.CallInitiating, got.Status)

	conf := &models.ConferenceSession{ConferenceSID: "CF1", Participants: []models.Participant{{ParticipantSID: "P1"}}}
	require.NoError(t, store.SetConference(ctx, conf))
	stored, err := store.GetConference(ctx, "CF1")
	require.NoError(t, err)
	stored.RemoveParticipant("P1")

	again, err := store.GetConference(ctx, "CF1")
	require.NoError(t, err)
	assert.Len(t, again.Participants, 1)
}

func TestMemoryCallStoreScanAllowsWrites(t *testing.T) {
	store := NewMemoryCallStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, &models.CallSession{CallSID: "CA1", AgentSocketID: "s1"}))

	require.NoError(t, store.Scan(ctx, func(s *models.CallSession) bool {
		s.Status = models.CallAgentDisconnected
		require.NoError(t, store.Set(ctx, s))
		return true
	}))

	got, err := store.Get(ctx, "CA1")
	require.NoError(t, err)
	assert.Equal(t, models.CallAgentDisconnected, got.Status)
}
