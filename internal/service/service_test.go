package service

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"callcenter/internal/config"
	"callcenter/internal/database"
	"callcenter/internal/domain"
	"callcenter/internal/events"
	"callcenter/internal/models"
	"callcenter/internal/worker"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var fastRetry = worker.RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}

func setupDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(config.DatabaseConfig{
		Driver: config.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "service.db"),
	}, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedUser(t *testing.T, db *database.DB, email, slug string) *models.User {
	t.Helper()
	u := &models.User{Email: email, Password: "x", Name: slug, Slug: slug}
	require.NoError(t, db.CreateUser(context.Background(), u, nil))
	return u
}

// MockVoice is a mock of domain.VoiceProvider.
type MockVoice struct {
	mock.Mock
}

func (m *MockVoice) Configured() bool {
	return m.Called().Bool(0)
}

func (m *MockVoice) CreateCall(ctx context.Context, req domain.CallRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockVoice) UpdateCall(ctx context.Context, callSID string, upd domain.CallUpdate) error {
	args := m.Called(ctx, callSID, upd)
	return args.Error(0)
}

// recordedEvents collects realtime messages published on the bus.
type recordedEvents struct {
	mu     sync.Mutex
	direct []events.RealtimeMessage
	all    []events.RealtimeMessage
}

func recordEvents(bus *events.EventBus) *recordedEvents {
	r := &recordedEvents{}
	capture := func(direct bool) events.EventHandler {
		return func(e *events.Event) error {
			msg, err := events.DecodeRealtime(e)
			if err != nil {
				return err
			}
			r.mu.Lock()
			defer r.mu.Unlock()
			if direct {
				r.direct = append(r.direct, msg)
			} else {
				r.all = append(r.all, msg)
			}
			return nil
		}
	}
	bus.Subscribe(events.EventDirect, capture(true))
	bus.Subscribe(events.EventBroadcast, capture(false))
	return r
}

func (r *recordedEvents) directTo(socketID, event string) []events.RealtimeMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.RealtimeMessage
	for _, m := range r.direct {
		if m.SocketID == socketID && m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

func (r *recordedEvents) broadcasts(event string) []events.RealtimeMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.RealtimeMessage
	for _, m := range r.all {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

type taskRecorder struct {
	mu    sync.Mutex
	tasks []worker.Task
	err   error
}

func (q *taskRecorder) Enqueue(_ context.Context, task worker.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

// failingPresence rejects every write.
type failingPresence struct {
	domain.PresenceRepository
	calls int
}

func (f *failingPresence) SetAvailability(context.Context, int64, string, time.Time) error {
	f.calls++
	return context.DeadlineExceeded
}

func (f *failingPresence) MarkConnected(context.Context, int64, string, time.Time) error {
	f.calls++
	return context.DeadlineExceeded
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
