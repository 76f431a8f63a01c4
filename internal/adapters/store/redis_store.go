package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
)

// Redis key layout
const (
	DomainKeyPrefix = "mail-triage:domain:"
	ResultsStream   = "mail-triage:results"
	FeedbackStream  = "mail-triage:feedback"
)

// RedisStore keeps domain records as expiring keys and history as capped
// streams. It implements core.DomainStore and core.EventRecorder.
type RedisStore struct {
	client    *redis.Client
	logger    *zap.Logger
	maxStream int64
	now       func() time.Time
}

// NewRedisStore creates a store on an existing client. maxStream caps each
// history stream approximately; 0 means uncapped.
func NewRedisStore(client *redis.Client, logger *zap.Logger, maxStream int64) *RedisStore {
	return &RedisStore{
		client:    client,
		logger:    logger,
		maxStream: maxStream,
		now:       time.Now,
	}
}

func domainKey(domain string) string {
	return DomainKeyPrefix + strings.ToLower(domain)
}

// encodeRecord returns the stored form of record and how long it has left
func encodeRecord(record *core.DomainRecord, now time.Time) ([]byte, time.Duration, error) {
	remaining := record.ExpiresAt().Sub(now)
	if remaining <= 0 {
		return nil, 0, nil
	}
	data, err := json.Marshal(record)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode domain record: %w", err)
	}
	return data, remaining, nil
}

func decodeRecord(data string) (*core.DomainRecord, error) {
	var rec core.DomainRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode domain record: %w", err)
	}
	return &rec, nil
}

// Load returns every unexpired record
func (s *RedisStore) Load(ctx context.Context) ([]*core.DomainRecord, error) {
	var records []*core.DomainRecord
	now := s.now()

	iter := s.client.Scan(ctx, 0, DomainKeyPrefix+"*", 256).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan domain records: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load domain records: %w", err)
	}
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := decodeRecord(str)
		if err != nil {
			s.logger.Warn("Skipping unreadable domain record", zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		if !rec.Expired(now) {
			records = append(records, rec)
		}
	}
	return records, nil
}

// Save stores a record with the remainder of its TTL as key expiry
func (s *RedisStore) Save(ctx context.Context, record *core.DomainRecord) error {
	data, ttl, err := encodeRecord(record, s.now())
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}
	if err := s.client.Set(ctx, domainKey(record.Domain), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save domain record %s: %w", record.Domain, err)
	}
	return nil
}

// Delete removes a record
func (s *RedisStore) Delete(ctx context.Context, domain string) error {
	if err := s.client.Del(ctx, domainKey(domain)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to delete domain record: %w", err)
	}
	return nil
}

// Cleanup is a no-op: Redis expires the keys itself
func (s *RedisStore) Cleanup(context.Context) (int64, error) {
	return 0, nil
}

func (s *RedisStore) publish(ctx context.Context, stream string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: map[string]interface{}{
			"data": string(data),
		},
	}
	if s.maxStream > 0 {
		args.MaxLen = s.maxStream
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}
	return nil
}

// RecordResult appends a classification result to the results stream
func (s *RedisStore) RecordResult(ctx context.Context, result *core.ClassificationResult) error {
	return s.publish(ctx, ResultsStream, result)
}

// RecordFeedback appends a feedback event to the feedback stream
func (s *RedisStore) RecordFeedback(ctx context.Context, event *core.FeedbackEvent) error {
	return s.publish(ctx, FeedbackStream, event)
}

// Close closes the client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var (
	_ core.DomainStore   = (*RedisStore)(nil)
	_ core.EventRecorder = (*RedisStore)(nil)
)
