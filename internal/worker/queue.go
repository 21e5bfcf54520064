package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"callcenter/internal/metrics"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// TaskCompleteCall asks Twilio to mark a call completed.
const TaskCompleteCall = "complete_call"

var (
	ErrQueueFull      = errors.New("side-effect queue is full")
	ErrUnknownTask    = errors.New("unknown task type")
	errTaskTypeNeeded = errors.New("task type is required")
)

// Task is a best-effort side effect. Payload fields are task specific.
type Task struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CallSID   string    `json:"call_sid,omitempty"`
	Attempt   int       `json:"attempt"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Handler func(ctx context.Context, task Task) error

// SideEffectQueue runs tasks off the request path. Tasks go to Redis when a
// client is configured and to an in-memory channel otherwise; failures are
// retried with backoff and finally dead-lettered.
type SideEffectQueue struct {
	mu            sync.RWMutex
	handlers      map[string]Handler
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan Task
	redisQueueKey string
	deadLetterKey string
	logger        *zerolog.Logger
}

func NewSideEffectQueue(redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *SideEffectQueue {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &SideEffectQueue{
		handlers:      make(map[string]Handler),
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan Task, 128),
		redisQueueKey: "callcenter:sideeffects",
		deadLetterKey: "callcenter:sideeffects:deadletter",
		logger:        logger,
	}
}

// Handle registers the handler for a task type.
func (q *SideEffectQueue) Handle(taskType string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[taskType] = h
}

// Enqueue schedules a task without waiting for it to run.
func (q *SideEffectQueue) Enqueue(ctx context.Context, task Task) error {
	if task.Type == "" {
		return errTaskTypeNeeded
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	if q.redis != nil {
		if err := q.pushRedis(ctx, q.redisQueueKey, task); err != nil {
			q.logger.Warn().Err(err).Str("task", task.ID).Msg("Redis push failed, using memory queue")
		} else {
			return nil
		}
	}

	select {
	case q.queue <- task:
		return nil
	default:
		q.logger.Error().Str("task", task.ID).Str("type", task.Type).Msg("Side-effect queue full, task dropped")
		metrics.IncSecondaryWriteFailure(task.Type)
		return ErrQueueFull
	}
}

// Start consumes tasks until ctx is done.
func (q *SideEffectQueue) Start(ctx context.Context) {
	q.logger.Info().Bool("redis", q.redis != nil).Msg("Side-effect queue started")
	defer q.logger.Info().Msg("Side-effect queue stopped")

	for {
		if q.redis == nil {
			select {
			case <-ctx.Done():
				return
			case t := <-q.queue:
				q.process(ctx, t)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
		if t, ok := q.tryLocalQueue(); ok {
			q.process(ctx, t)
			continue
		}
		if t, ok := q.tryRedis(ctx); ok {
			q.process(ctx, t)
		}
	}
}

func (q *SideEffectQueue) tryLocalQueue() (Task, bool) {
	select {
	case t := <-q.queue:
		return t, true
	default:
		return Task{}, false
	}
}

func (q *SideEffectQueue) tryRedis(ctx context.Context) (Task, bool) {
	res, err := q.redis.BRPop(ctx, time.Second, q.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			q.logger.Warn().Err(err).Msg("Redis BRPOP failed")
			time.Sleep(time.Second)
		}
		return Task{}, false
	}
	if len(res) != 2 {
		return Task{}, false
	}
	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		q.logger.Warn().Err(err).Msg("Dropping undecodable side-effect task")
		return Task{}, false
	}
	return task, true
}

func (q *SideEffectQueue) process(ctx context.Context, task Task) {
	q.mu.RLock()
	h, ok := q.handlers[task.Type]
	q.mu.RUnlock()
	if !ok {
		q.fail(ctx, task, fmt.Errorf("%w: %s", ErrUnknownTask, task.Type))
		return
	}

	if err := h(ctx, task); err != nil {
		q.retryOrFail(ctx, task, err)
		return
	}
	q.logger.Debug().Str("task", task.ID).Str("type", task.Type).Msg("Side effect applied")
}

func (q *SideEffectQueue) retryOrFail(ctx context.Context, task Task, cause error) {
	task.Attempt++
	task.LastError = cause.Error()
	if task.Attempt >= q.retryPolicy.MaxRetries {
		q.fail(ctx, task, cause)
		return
	}

	delay := q.retryPolicy.NextDelay(task.Attempt)
	q.logger.Warn().Err(cause).Str("task", task.ID).Int("attempt", task.Attempt).Dur("retry_in", delay).Msg("Side effect failed, retrying")
	time.AfterFunc(delay, func() {
		if err := q.Enqueue(context.Background(), task); err != nil {
			q.logger.Error().Err(err).Str("task", task.ID).Msg("Failed to requeue side effect")
		}
	})
}

func (q *SideEffectQueue) fail(ctx context.Context, task Task, cause error) {
	task.LastError = cause.Error()
	q.logger.Warn().Err(cause).Str("task", task.ID).Str("type", task.Type).Str("call_sid", task.CallSID).Msg("Side effect abandoned")
	metrics.IncSecondaryWriteFailure(task.Type)

	if q.redis == nil {
		return
	}
	if err := q.pushRedis(ctx, q.deadLetterKey, task); err != nil {
		q.logger.Error().Err(err).Str("task", task.ID).Msg("Dead-letter push failed")
	}
}

func (q *SideEffectQueue) pushRedis(ctx context.Context, key string, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.redis.LPush(ctx, key, data).Err()
}
