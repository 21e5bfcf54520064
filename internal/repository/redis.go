package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"callcenter/internal/config"
	"callcenter/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	callKeyPrefix       = "call_session:"
	conferenceKeyPrefix = "conference:"
	scanBatch           = 100
)

// RedisCallStore shares call sessions between processes.
type RedisCallStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient builds a client from config without connecting.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// NewRedisCallStore stores entries with ttl; zero keeps them until deleted.
func NewRedisCallStore(client *redis.Client, ttl time.Duration) *RedisCallStore {
	return &RedisCallStore{client: client, ttl: ttl}
}

func (r *RedisCallStore) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s from redis: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (r *RedisCallStore) setJSON(ctx context.Context, key string, v any) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s in redis: %w", key, err)
	}
	return nil
}

// scanKeys walks every key under prefix with SCAN, never KEYS.
func (r *RedisCallStore) scanKeys(ctx context.Context, prefix string, fn func(key string) (bool, error)) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	iter := r.client.Scan(ctx, 0, prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		more, err := fn(iter.Val())
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan %s: %w", prefix, err)
	}
	return nil
}

func (r *RedisCallStore) Get(ctx context.Context, callSID string) (*models.CallSession, error) {
	var sess models.CallSession
	ok, err := r.getJSON(ctx, callKeyPrefix+callSID, &sess)
	if err != nil || !ok {
		return nil, err
	}
	return &sess, nil
}

func (r *RedisCallStore) Set(ctx context.Context, session *models.CallSession) error {
	return r.setJSON(ctx, callKeyPrefix+session.CallSID, session)
}

func (r *RedisCallStore) Delete(ctx context.Context, callSID string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, callKeyPrefix+callSID).Err(); err != nil {
		return fmt.Errorf("failed to delete call session: %w", err)
	}
	return nil
}

func (r *RedisCallStore) Scan(ctx context.Context, fn func(*models.CallSession) bool) error {
	return r.scanKeys(ctx, callKeyPrefix, func(key string) (bool, error) {
		var sess models.CallSession
		ok, err := r.getJSON(ctx, key, &sess)
		if err != nil {
			return false, err
		}
		if !ok {
			// expired or deleted between SCAN and GET
			return true, nil
		}
		return fn(&sess), nil
	})
}

func (r *RedisCallStore) GetConference(ctx context.Context, conferenceSID string) (*models.ConferenceSession, error) {
	var conf models.ConferenceSession
	ok, err := r.getJSON(ctx, conferenceKeyPrefix+conferenceSID, &conf)
	if err != nil || !ok {
		return nil, err
	}
	return &conf, nil
}

func (r *RedisCallStore) SetConference(ctx context.Context, conf *models.ConferenceSession) error {
	return r.setJSON(ctx, conferenceKeyPrefix+conf.ConferenceSID, conf)
}

func (r *RedisCallStore) ListConferences(ctx context.Context) ([]*models.ConferenceSession, error) {
	out := []*models.ConferenceSession{}
	err := r.scanKeys(ctx, conferenceKeyPrefix, func(key string) (bool, error) {
		var conf models.ConferenceSession
		ok, err := r.getJSON(ctx, key, &conf)
		if err != nil {
			return false, err
		}
		if ok {
			out = append(out, &conf)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConferenceSID < out[j].ConferenceSID })
	return out, nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
