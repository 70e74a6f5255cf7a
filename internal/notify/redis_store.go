// Package notify implements the ephemeral notification cache: short
// lived counters keyed by (recipient, survey record) that track survey
// answers not yet folded into the persistent participant count.
package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	responsePrefix = "newSurveyResponse::"
	requestPrefix  = "newSurveyRequest::"
)

// RedisStore holds pending survey signals in Redis. Signals carry no
// persistence guarantee across cache restarts; losing one degrades a
// badge, never the participant accounting done by the answer path.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func responseKey(recipientID string, recordID int64) string {
	return responsePrefix + recipientID + "::" + strconv.FormatInt(recordID, 10)
}

func requestKey(recipientID string, recordID int64) string {
	return requestPrefix + recipientID + "::" + strconv.FormatInt(recordID, 10)
}

// recordIDFromKey extracts the trailing survey record id from a
// prefix::recipient::recordID key.
func recordIDFromKey(key string) (int64, error) {
	parts := strings.Split(key, "::")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed signal key %q", key)
	}
	return strconv.ParseInt(parts[2], 10, 64)
}

// RaiseResponse records one more unreconciled answer for the record.
func (s *RedisStore) RaiseResponse(ctx context.Context, recipientID string, recordID int64) error {
	if err := s.client.Incr(ctx, responseKey(recipientID, recordID)).Err(); err != nil {
		return fmt.Errorf("raise response signal: %w", err)
	}
	return nil
}

// PeekResponses reports which records have unread answer signals
// without mutating the cache.
func (s *RedisStore) PeekResponses(ctx context.Context, recipientID string) (map[int64]bool, error) {
	keys, err := s.scanKeys(ctx, responsePrefix+recipientID+"::*")
	if err != nil {
		return nil, err
	}
	pending := make(map[int64]bool, len(keys))
	for _, key := range keys {
		recordID, err := recordIDFromKey(key)
		if err != nil {
			return nil, err
		}
		pending[recordID] = true
	}
	return pending, nil
}

// DrainResponses atomically reads and removes every answer signal for
// the recipient. Each key is drained exactly once: a concurrent drain
// of the same key observes it absent.
func (s *RedisStore) DrainResponses(ctx context.Context, recipientID string) (map[int64]int, error) {
	keys, err := s.scanKeys(ctx, responsePrefix+recipientID+"::*")
	if err != nil {
		return nil, err
	}

	drained := make(map[int64]int, len(keys))
	for _, key := range keys {
		value, err := s.client.GetDel(ctx, key).Result()
		if err == redis.Nil {
			// Lost the race to another drain.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("drain response signal: %w", err)
		}
		recordID, err := recordIDFromKey(key)
		if err != nil {
			return nil, err
		}
		count, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("parse signal value %q: %w", value, err)
		}
		drained[recordID] = count
	}
	return drained, nil
}

// DrainResponse drains the single signal for one record. The second
// return value reports whether a signal was present.
func (s *RedisStore) DrainResponse(ctx context.Context, recipientID string, recordID int64) (int, bool, error) {
	value, err := s.client.GetDel(ctx, responseKey(recipientID, recordID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("drain response signal: %w", err)
	}
	count, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("parse signal value %q: %w", value, err)
	}
	return count, true, nil
}

// MarkRequested flags that the recipient has an open survey request
// for the record.
func (s *RedisStore) MarkRequested(ctx context.Context, recipientID string, recordID int64) error {
	if err := s.client.Set(ctx, requestKey(recipientID, recordID), 1, 0).Err(); err != nil {
		return fmt.Errorf("mark survey request: %w", err)
	}
	return nil
}

func (s *RedisStore) PeekRequests(ctx context.Context, recipientID string) ([]int64, error) {
	keys, err := s.scanKeys(ctx, requestPrefix+recipientID+"::*")
	if err != nil {
		return nil, err
	}
	recordIDs := make([]int64, 0, len(keys))
	for _, key := range keys {
		recordID, err := recordIDFromKey(key)
		if err != nil {
			return nil, err
		}
		recordIDs = append(recordIDs, recordID)
	}
	return recordIDs, nil
}

func (s *RedisStore) ClearRequest(ctx context.Context, recipientID string, recordID int64) error {
	if err := s.client.Del(ctx, requestKey(recipientID, recordID)).Err(); err != nil {
		return fmt.Errorf("clear survey request: %w", err)
	}
	return nil
}

func (s *RedisStore) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan signal keys: %w", err)
	}
	return keys, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
