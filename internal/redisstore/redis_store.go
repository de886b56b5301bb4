// Package redisstore persists form snapshots and change history in Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/sopsync/internal/form"
	"github.com/roach88/sopsync/internal/formstate"
)

// DefaultPrefix namespaces every key this store writes.
const DefaultPrefix = "sopsync:"

// RedisStore implements formstate.Persister and formstate.ChangeRecorder
// using Redis strings for snapshots and one list per form for history.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Option configures a RedisStore.
type Option func(*RedisStore)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithTTL expires snapshots after d of inactivity. Zero keeps them forever.
func WithTTL(d time.Duration) Option {
	return func(s *RedisStore) { s.ttl = d }
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string, opts ...Option) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, opts...), nil
}

// NewRedisStoreWithClient creates a store from an existing client.
func NewRedisStoreWithClient(client *redis.Client, opts ...Option) *RedisStore {
	s := &RedisStore{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) snapshotKey(key string) string {
	return s.prefix + "snapshot:" + key
}

func (s *RedisStore) historyKey(key string) string {
	return s.prefix + "history:" + key
}

func (s *RedisStore) seqKey() string {
	return s.prefix + "seq"
}

// raiseSeq stores ARGV[1] in KEYS[1] unless the stored value is already
// higher.
var raiseSeq = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local seq = tonumber(ARGV[1])
if seq > cur then
	redis.call('SET', KEYS[1], ARGV[1])
end
return 0
`)

// Get returns the snapshot stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.snapshotKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get snapshot: %w", err)
	}
	return data, true, nil
}

// Set stores the snapshot under key, refreshing the TTL if one is set.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.snapshotKey(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("set snapshot: %w", err)
	}
	return nil
}

// Delete removes the snapshot and history for key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.snapshotKey(key), s.historyKey(key)).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

type changeRecord struct {
	Seq     int64      `json:"seq"`
	Source  string     `json:"source"`
	FieldID string     `json:"field_id"`
	Value   form.Value `json:"value"`
}

// RecordChange appends c to the form's history list and raises the stored
// high-water seq.
func (s *RedisStore) RecordChange(ctx context.Context, c formstate.Change) error {
	data, err := json.Marshal(changeRecord{
		Seq:     c.Seq,
		Source:  string(c.Source),
		FieldID: c.FieldID,
		Value:   c.Value,
	})
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	if err := s.client.RPush(ctx, s.historyKey(c.Key), data).Err(); err != nil {
		return fmt.Errorf("record change: %w", err)
	}
	if err := raiseSeq.Run(ctx, s.client, []string{s.seqKey()}, c.Seq).Err(); err != nil {
		return fmt.Errorf("record seq: %w", err)
	}
	return nil
}

// LastSeq returns the highest seq recorded through this prefix, or 0.
func (s *RedisStore) LastSeq(ctx context.Context) (int64, error) {
	seq, err := s.client.Get(ctx, s.seqKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read last seq: %w", err)
	}
	return seq, nil
}

// ReadChanges returns the history for key in append order.
func (s *RedisStore) ReadChanges(ctx context.Context, key string) ([]formstate.Change, error) {
	items, err := s.client.LRange(ctx, s.historyKey(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read changes: %w", err)
	}

	changes := make([]formstate.Change, 0, len(items))
	for i, item := range items {
		var rec changeRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("decode change %d: %w", i, err)
		}
		changes = append(changes, formstate.Change{
			Seq:     rec.Seq,
			Key:     key,
			Source:  formstate.Source(rec.Source),
			FieldID: rec.FieldID,
			Value:   rec.Value,
		})
	}
	return changes, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
