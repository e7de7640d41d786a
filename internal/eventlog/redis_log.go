package eventlog

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/petrijr/sisu/pkg/api"
)

// RedisStore is a Store backed by Redis. It uses a simple key structure:
//
//	<prefix>wf:<id>       => HASH: "core" gob blob (HSETNX claim) + mutable refs
//	<prefix>seq:<id>      => per-workflow sequence counter (INCR)
//	<prefix>ev:<id>       => HASH field <category>/<subject>/<status> => gob event
//	<prefix>timeouts      => ZSET of <workflow>/<activity> scored by timeout ns
//
// The idempotency guard is the HSETNX claim on the event field: the first
// writer stores the event, every later writer gets api.ErrConflict. Auxiliary
// records are derived from event lookups instead of being stored separately,
// so there is no read-modify-write window.
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

func (s *RedisStore) keyWorkflow(id string) string { return s.prefix + "wf:" + id }
func (s *RedisStore) keySeq(id string) string      { return s.prefix + "seq:" + id }
func (s *RedisStore) keyEvents(id string) string   { return s.prefix + "ev:" + id }
func (s *RedisStore) keyTimeouts() string          { return s.prefix + "timeouts" }

func eventField(category api.Category, subject string, status api.Status) string {
	return string(category) + "\x00" + subject + "\x00" + string(status)
}

func timeoutMember(workflowID, name string) string {
	return workflowID + "\x00" + name
}

type redisEventPayload struct {
	ID                string
	WorkflowID        string
	CorrelationNumber int64
	SequenceNumber    int64
	Category          string
	SubjectName       string
	FunctionName      string
	Payload           []byte
	Status            string
	CreatedNs         int64
	TimeoutNs         int64
}

func encodeRedisEvent(ev api.Event) ([]byte, error) {
	payload := redisEventPayload{
		ID:                ev.ID,
		WorkflowID:        ev.WorkflowID,
		CorrelationNumber: ev.CorrelationNumber,
		SequenceNumber:    ev.SequenceNumber,
		Category:          string(ev.Category),
		SubjectName:       ev.SubjectName,
		FunctionName:      ev.FunctionName,
		Payload:           ev.Payload,
		Status:            string(ev.Status),
		CreatedNs:         ev.Timestamp.UnixNano(),
	}
	if ev.TimeoutAt != nil {
		payload.TimeoutNs = ev.TimeoutAt.UnixNano()
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRedisEvent(data []byte) (api.Event, error) {
	var payload redisEventPayload
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&payload); err != nil {
		return api.Event{}, err
	}
	ev := api.Event{
		ID:                payload.ID,
		WorkflowID:        payload.WorkflowID,
		CorrelationNumber: payload.CorrelationNumber,
		SequenceNumber:    payload.SequenceNumber,
		Category:          api.Category(payload.Category),
		SubjectName:       payload.SubjectName,
		FunctionName:      payload.FunctionName,
		Payload:           payload.Payload,
		Status:            api.Status(payload.Status),
		Timestamp:         time.Unix(0, payload.CreatedNs),
	}
	if payload.TimeoutNs != 0 {
		t := time.Unix(0, payload.TimeoutNs)
		ev.TimeoutAt = &t
	}
	return ev, nil
}

// appendEvent claims the event field with HSETNX. The sequence number is
// allocated first; a lost claim burns it, which leaves a gap but preserves
// monotonicity.
func (s *RedisStore) appendEvent(ctx context.Context, workflowID string, correlation int64, category api.Category, subject, function string, payload []byte, status api.Status, timeoutAt *time.Time) (api.Event, error) {
	seq, err := s.client.Incr(ctx, s.keySeq(workflowID)).Result()
	if err != nil {
		return api.Event{}, err
	}

	ev := api.Event{
		ID:                uuid.NewString(),
		WorkflowID:        workflowID,
		CorrelationNumber: correlation,
		SequenceNumber:    seq,
		Category:          category,
		SubjectName:       subject,
		FunctionName:      function,
		Payload:           payload,
		Status:            status,
		Timestamp:         time.Now(),
		TimeoutAt:         timeoutAt,
	}

	data, err := encodeRedisEvent(ev)
	if err != nil {
		return api.Event{}, err
	}

	claimed, err := s.client.HSetNX(ctx, s.keyEvents(workflowID), eventField(category, subject, status), data).Result()
	if err != nil {
		return api.Event{}, err
	}
	if !claimed {
		return api.Event{}, api.ErrConflict
	}
	return ev, nil
}

func (s *RedisStore) getEvent(ctx context.Context, workflowID string, category api.Category, subject string, status api.Status) (*api.Event, error) {
	data, err := s.client.HGet(ctx, s.keyEvents(workflowID), eventField(category, subject, status)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	ev, err := decodeRedisEvent(data)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// redisWorkflowCore is the immutable part of the workflow aggregate. It is
// written as a single HSETNX so the existence claim and the data are one
// atomic write; a crash right after the claim cannot leave a workflow whose
// type or input is missing.
type redisWorkflowCore struct {
	ID        string
	TypeName  string
	Input     []byte
	CreatedNs int64
}

func encodeWorkflowCore(core redisWorkflowCore) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&core); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeWorkflowCore(data []byte) (redisWorkflowCore, error) {
	var core redisWorkflowCore
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&core)
	return core, err
}

func (s *RedisStore) CreateWorkflow(ctx context.Context, workflowID, typeName string, input []byte) error {
	data, err := encodeWorkflowCore(redisWorkflowCore{
		ID:        workflowID,
		TypeName:  typeName,
		Input:     input,
		CreatedNs: time.Now().UnixNano(),
	})
	if err != nil {
		return err
	}

	created, err := s.client.HSetNX(ctx, s.keyWorkflow(workflowID), "core", data).Result()
	if err != nil {
		return err
	}
	if !created {
		return api.ErrWorkflowExists
	}

	ev, err := s.appendEvent(ctx, workflowID, api.NoCorrelation, api.CategoryWorkflow, typeName, "execute", input, api.StatusScheduled, nil)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.keyWorkflow(workflowID), "scheduled_event_id", ev.ID).Err()
}

func (s *RedisStore) GetWorkflow(ctx context.Context, workflowID string) (*api.WorkflowInstance, error) {
	fields, err := s.client.HGetAll(ctx, s.keyWorkflow(workflowID)).Result()
	if err != nil {
		return nil, err
	}
	data, ok := fields["core"]
	if !ok {
		return nil, ErrNotFound
	}
	core, err := decodeWorkflowCore([]byte(data))
	if err != nil {
		return nil, err
	}

	wf := &api.WorkflowInstance{
		ID:               core.ID,
		TypeName:         core.TypeName,
		Input:            core.Input,
		CreatedAt:        time.Unix(0, core.CreatedNs),
		ScheduledEventID: fields["scheduled_event_id"],
		StartedEventID:   fields["started_event_id"],
		CompletedEventID: fields["completed_event_id"],
	}
	if out, ok := fields["output"]; ok {
		wf.Output = []byte(out)
	}
	if len(wf.Input) == 0 {
		wf.Input = nil
	}
	if len(wf.Output) == 0 {
		wf.Output = nil
	}
	return wf, nil
}

func (s *RedisStore) HasWorkflowStarted(ctx context.Context, workflowID string) (bool, error) {
	started, err := s.client.HGet(ctx, s.keyWorkflow(workflowID), "started_event_id").Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			return false, err
		}
		exists, eerr := s.client.HExists(ctx, s.keyWorkflow(workflowID), "core").Result()
		if eerr != nil {
			return false, eerr
		}
		if !exists {
			return false, ErrNotFound
		}
		return false, nil
	}
	return started != "", nil
}

func (s *RedisStore) WorkflowStarted(ctx context.Context, workflowID, typeName string, input []byte) (int64, error) {
	ev, err := s.appendEvent(ctx, workflowID, api.NoCorrelation, api.CategoryWorkflow, typeName, "execute", input, api.StatusStarted, nil)
	if err != nil {
		return 0, err
	}
	if err := s.client.HSet(ctx, s.keyWorkflow(workflowID), "started_event_id", ev.ID).Err(); err != nil {
		return 0, err
	}
	return ev.SequenceNumber, nil
}

func (s *RedisStore) WorkflowCompleted(ctx context.Context, workflowID, typeName string, output []byte) (int64, error) {
	ev, err := s.appendEvent(ctx, workflowID, api.NoCorrelation, api.CategoryWorkflow, typeName, "execute", output, api.StatusCompleted, nil)
	if err != nil {
		return 0, err
	}
	err = s.client.HSet(ctx, s.keyWorkflow(workflowID),
		"completed_event_id", ev.ID,
		"output", output,
	).Err()
	if err != nil {
		return 0, err
	}
	return ev.SequenceNumber, nil
}

func (s *RedisStore) ActivityStarted(ctx context.Context, workflowID, name string, correlation int64, input []byte, timeoutAt *time.Time) (int64, error) {
	ev, err := s.appendEvent(ctx, workflowID, correlation, api.CategoryActivity, name, name, input, api.StatusStarted, timeoutAt)
	if err != nil {
		return 0, err
	}
	if timeoutAt != nil {
		err = s.client.ZAdd(ctx, s.keyTimeouts(), redis.Z{
			Score:  float64(timeoutAt.UnixNano()),
			Member: timeoutMember(workflowID, name),
		}).Err()
		if err != nil {
			return 0, err
		}
	}
	return ev.SequenceNumber, nil
}

func (s *RedisStore) ActivityCompleted(ctx context.Context, workflowID, name string, correlation int64, output []byte) (int64, error) {
	ev, err := s.appendEvent(ctx, workflowID, correlation, api.CategoryActivity, name, name, output, api.StatusCompleted, nil)
	if err != nil {
		return 0, err
	}
	if err := s.client.ZRem(ctx, s.keyTimeouts(), timeoutMember(workflowID, name)).Err(); err != nil {
		return 0, err
	}
	return ev.SequenceNumber, nil
}

func (s *RedisStore) GetActivity(ctx context.Context, workflowID, name string) (*ActivityRecord, error) {
	started, err := s.getEvent(ctx, workflowID, api.CategoryActivity, name, api.StatusStarted)
	if err != nil {
		return nil, err
	}
	rec := &ActivityRecord{
		WorkflowID:     workflowID,
		Name:           name,
		Input:          started.Payload,
		StartedEventID: started.ID,
		StartedAt:      started.Timestamp,
	}

	completed, err := s.getEvent(ctx, workflowID, api.CategoryActivity, name, api.StatusCompleted)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return rec, nil
		}
		return nil, err
	}
	rec.Output = completed.Payload
	rec.CompletedEventID = completed.ID
	rec.CompletedSeq = completed.SequenceNumber
	return rec, nil
}

func (s *RedisStore) SleepStarted(ctx context.Context, workflowID, identifier string, correlation int64, d time.Duration) (int64, error) {
	payload, err := Encode(d.Milliseconds())
	if err != nil {
		return 0, err
	}
	ev, err := s.appendEvent(ctx, workflowID, correlation, api.CategorySleep, identifier, "sleep", payload, api.StatusStarted, nil)
	if err != nil {
		return 0, err
	}
	return ev.SequenceNumber, nil
}

func (s *RedisStore) SleepCompleted(ctx context.Context, workflowID, identifier string) (int64, error) {
	ev, err := s.appendEvent(ctx, workflowID, api.NoCorrelation, api.CategorySleep, identifier, "sleep", nil, api.StatusCompleted, nil)
	if err != nil {
		return 0, err
	}
	return ev.SequenceNumber, nil
}

func (s *RedisStore) GetSleep(ctx context.Context, workflowID, identifier string) (*SleepRecord, error) {
	started, err := s.getEvent(ctx, workflowID, api.CategorySleep, identifier, api.StatusStarted)
	if err != nil {
		return nil, err
	}

	ms, err := Decode(started.Payload)
	if err != nil {
		return nil, err
	}
	durationMs, _ := ms.(int64)

	rec := &SleepRecord{
		WorkflowID:     workflowID,
		Identifier:     identifier,
		Duration:       time.Duration(durationMs) * time.Millisecond,
		StartedEventID: started.ID,
		StartedAt:      started.Timestamp,
	}

	completed, err := s.getEvent(ctx, workflowID, api.CategorySleep, identifier, api.StatusCompleted)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return rec, nil
		}
		return nil, err
	}
	rec.CompletedEventID = completed.ID
	rec.CompletedSeq = completed.SequenceNumber
	return rec, nil
}

func (s *RedisStore) SignalWaiting(ctx context.Context, workflowID, name string, correlation int64) (int64, error) {
	ev, err := s.appendEvent(ctx, workflowID, correlation, api.CategorySignal, name, name, nil, api.StatusWaiting, nil)
	if err != nil {
		return 0, err
	}
	return ev.SequenceNumber, nil
}

func (s *RedisStore) SignalReceived(ctx context.Context, workflowID, name string, value []byte) (int64, error) {
	ev, err := s.appendEvent(ctx, workflowID, api.NoCorrelation, api.CategorySignal, name, name, value, api.StatusReceived, nil)
	if err != nil {
		return 0, err
	}
	return ev.SequenceNumber, nil
}

func (s *RedisStore) GetSignal(ctx context.Context, workflowID, name string) (*SignalRecord, error) {
	rec := &SignalRecord{WorkflowID: workflowID, Name: name}

	waiting, err := s.getEvent(ctx, workflowID, api.CategorySignal, name, api.StatusWaiting)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if waiting != nil {
		rec.WaitingEventID = waiting.ID
	}

	received, err := s.getEvent(ctx, workflowID, api.CategorySignal, name, api.StatusReceived)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if waiting == nil {
				return nil, ErrNotFound
			}
			return rec, nil
		}
		return nil, err
	}
	rec.Value = received.Payload
	rec.ReceivedEventID = received.ID
	rec.ReceivedSeq = received.SequenceNumber
	return rec, nil
}

func (s *RedisStore) ConditionWaiting(ctx context.Context, workflowID, identifier string, correlation int64) (int64, error) {
	ev, err := s.appendEvent(ctx, workflowID, correlation, api.CategoryCondition, identifier, "condition", nil, api.StatusWaiting, nil)
	if err != nil {
		return 0, err
	}
	return ev.SequenceNumber, nil
}

func (s *RedisStore) ConditionSatisfied(ctx context.Context, workflowID, identifier string, correlation int64) (int64, error) {
	ev, err := s.appendEvent(ctx, workflowID, correlation, api.CategoryCondition, identifier, "condition", nil, api.StatusSatisfied, nil)
	if err != nil {
		return 0, err
	}
	return ev.SequenceNumber, nil
}

func (s *RedisStore) GetCondition(ctx context.Context, workflowID, identifier string) (*ConditionRecord, error) {
	waiting, err := s.getEvent(ctx, workflowID, api.CategoryCondition, identifier, api.StatusWaiting)
	if err != nil {
		return nil, err
	}
	rec := &ConditionRecord{
		WorkflowID:     workflowID,
		Identifier:     identifier,
		WaitingEventID: waiting.ID,
	}

	satisfied, err := s.getEvent(ctx, workflowID, api.CategoryCondition, identifier, api.StatusSatisfied)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return rec, nil
		}
		return nil, err
	}
	rec.SatisfiedEventID = satisfied.ID
	rec.SatisfiedSeq = satisfied.SequenceNumber
	return rec, nil
}

func (s *RedisStore) AwaitStarted(ctx context.Context, workflowID, identifier string, correlation int64) (int64, error) {
	ev, err := s.appendEvent(ctx, workflowID, correlation, api.CategoryAwait, identifier, "await", nil, api.StatusStarted, nil)
	if err != nil {
		return 0, err
	}
	return ev.SequenceNumber, nil
}

func (s *RedisStore) AwaitResolved(ctx context.Context, workflowID, identifier string, correlation int64, status api.Status) (int64, error) {
	ev, err := s.appendEvent(ctx, workflowID, correlation, api.CategoryAwait, identifier, "await", nil, status, nil)
	if err != nil {
		return 0, err
	}
	return ev.SequenceNumber, nil
}

func (s *RedisStore) GetEventByName(ctx context.Context, workflowID string, category api.Category, name string, status api.Status) (*api.Event, error) {
	return s.getEvent(ctx, workflowID, category, name, status)
}

func (s *RedisStore) listDecoded(ctx context.Context, workflowID string) ([]api.Event, error) {
	fields, err := s.client.HGetAll(ctx, s.keyEvents(workflowID)).Result()
	if err != nil {
		return nil, err
	}

	events := make([]api.Event, 0, len(fields))
	for _, data := range fields {
		ev, err := decodeRedisEvent([]byte(data))
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].SequenceNumber < events[j].SequenceNumber
	})
	return events, nil
}

func (s *RedisStore) ListEvents(ctx context.Context, workflowID string) ([]api.Event, error) {
	return s.listDecoded(ctx, workflowID)
}

func (s *RedisStore) ListSignalsSince(ctx context.Context, workflowID string, afterSeq int64) ([]api.Event, error) {
	events, err := s.listDecoded(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	var out []api.Event
	for _, ev := range events {
		if ev.Category == api.CategorySignal && ev.Status == api.StatusReceived && ev.SequenceNumber > afterSeq {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *RedisStore) ListTimedOutActivities(ctx context.Context, now time.Time) ([]api.Event, error) {
	members, err := s.client.ZRangeByScore(ctx, s.keyTimeouts(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixNano(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}

	var out []api.Event
	for _, member := range members {
		workflowID, name, ok := strings.Cut(member, "\x00")
		if !ok {
			continue
		}
		// The member may have been completed between ZRANGEBYSCORE and here.
		if _, err := s.getEvent(ctx, workflowID, api.CategoryActivity, name, api.StatusCompleted); err == nil {
			_ = s.client.ZRem(ctx, s.keyTimeouts(), member).Err()
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}

		started, err := s.getEvent(ctx, workflowID, api.CategoryActivity, name, api.StatusStarted)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *started)
	}
	return out, nil
}
