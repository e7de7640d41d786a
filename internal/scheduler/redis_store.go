package scheduler

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis. It uses a simple key structure:
//
//	<prefix>task:<key>  => gob-encoded task
//	<prefix>due         => ZSET of task keys scored by due time (unix ns)
//
// The SETNX claim on the task key provides the schedule-once semantics;
// leasing moves the ZSET score forward.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore. prefix is optional but recommended
// (e.g. "sisu:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "sisu:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStore) keyTask(key string) string { return s.prefix + "task:" + key }
func (s *RedisStore) keyDue() string            { return s.prefix + "due" }

type redisTaskPayload struct {
	Key        string
	Kind       string
	WorkflowID string
	Subject    string
	Payload    []byte
	DueNs      int64
}

func encodeTask(t Task) ([]byte, error) {
	payload := redisTaskPayload{
		Key:        t.Key,
		Kind:       string(t.Kind),
		WorkflowID: t.WorkflowID,
		Subject:    t.Subject,
		Payload:    t.Payload,
		DueNs:      t.DueAt.UnixNano(),
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeTask(data []byte) (Task, error) {
	var payload redisTaskPayload
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&payload); err != nil {
		return Task{}, err
	}
	return Task{
		Key:        payload.Key,
		Kind:       Kind(payload.Kind),
		WorkflowID: payload.WorkflowID,
		Subject:    payload.Subject,
		Payload:    payload.Payload,
		DueAt:      time.Unix(0, payload.DueNs),
	}, nil
}

func (s *RedisStore) ScheduleOnce(ctx context.Context, t Task) error {
	data, err := encodeTask(t)
	if err != nil {
		return err
	}

	claimed, err := s.client.SetNX(ctx, s.keyTask(t.Key), data, 0).Result()
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	return s.client.ZAdd(ctx, s.keyDue(), redis.Z{
		Score:  float64(t.DueAt.UnixNano()),
		Member: t.Key,
	}).Err()
}

func (s *RedisStore) Cancel(ctx context.Context, key string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.keyTask(key))
	pipe.ZRem(ctx, s.keyDue(), key)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]Task, error) {
	keys, err := s.client.ZRangeByScore(ctx, s.keyDue(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixNano(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	leaseScore := float64(now.Add(lease).UnixNano())
	var tasks []Task
	for _, key := range keys {
		// Push the score forward first so a crashed worker loses its lease.
		if err := s.client.ZAdd(ctx, s.keyDue(), redis.Z{
			Score:  leaseScore,
			Member: key,
		}).Err(); err != nil {
			return nil, err
		}

		data, err := s.client.Get(ctx, s.keyTask(key)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Completed concurrently; drop the stale index entry.
				_ = s.client.ZRem(ctx, s.keyDue(), key).Err()
				continue
			}
			return nil, err
		}
		t, err := decodeTask(data)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.keyTask(key))
	pipe.ZRem(ctx, s.keyDue(), key)
	_, err := pipe.Exec(ctx)
	return err
}
