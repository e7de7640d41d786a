package eventlog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/sisu/pkg/api"
)

// MemoryStore is a goroutine-safe, in-memory Store backed by maps. It is the
// backend of the in-memory engine and of most tests; it enforces the same
// uniqueness guard as the durable backends.
type MemoryStore struct {
	mu         sync.Mutex
	workflows  map[string]*api.WorkflowInstance
	events     map[string][]api.Event
	guard      map[string]string
	seq        map[string]int64
	activities map[string]*ActivityRecord
	sleeps     map[string]*SleepRecord
	signals    map[string]*SignalRecord
	conditions map[string]*ConditionRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:  make(map[string]*api.WorkflowInstance),
		events:     make(map[string][]api.Event),
		guard:      make(map[string]string),
		seq:        make(map[string]int64),
		activities: make(map[string]*ActivityRecord),
		sleeps:     make(map[string]*SleepRecord),
		signals:    make(map[string]*SignalRecord),
		conditions: make(map[string]*ConditionRecord),
	}
}

func recordKey(workflowID, name string) string {
	return workflowID + "\x00" + name
}

func guardKey(workflowID string, category api.Category, name string, status api.Status) string {
	return workflowID + "\x00" + string(category) + "\x00" + name + "\x00" + string(status)
}

// append enforces the idempotency guard and assigns the sequence number.
// Callers must hold mu.
func (s *MemoryStore) append(workflowID string, correlation int64, category api.Category, subject, function string, payload []byte, status api.Status, timeoutAt *time.Time) (api.Event, error) {
	gk := guardKey(workflowID, category, subject, status)
	if _, exists := s.guard[gk]; exists {
		return api.Event{}, api.ErrConflict
	}

	s.seq[workflowID]++
	ev := api.Event{
		ID:                uuid.NewString(),
		WorkflowID:        workflowID,
		CorrelationNumber: correlation,
		SequenceNumber:    s.seq[workflowID],
		Category:          category,
		SubjectName:       subject,
		FunctionName:      function,
		Payload:           payload,
		Status:            status,
		Timestamp:         time.Now(),
		TimeoutAt:         timeoutAt,
	}
	s.guard[gk] = ev.ID
	s.events[workflowID] = append(s.events[workflowID], ev)
	return ev, nil
}

func (s *MemoryStore) CreateWorkflow(ctx context.Context, workflowID, typeName string, input []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[workflowID]; exists {
		return api.ErrWorkflowExists
	}

	ev, err := s.append(workflowID, api.NoCorrelation, api.CategoryWorkflow, typeName, "execute", input, api.StatusScheduled, nil)
	if err != nil {
		return err
	}

	s.workflows[workflowID] = &api.WorkflowInstance{
		ID:               workflowID,
		TypeName:         typeName,
		Input:            input,
		CreatedAt:        ev.Timestamp,
		ScheduledEventID: ev.ID,
	}
	return nil
}

func (s *MemoryStore) GetWorkflow(ctx context.Context, workflowID string) (*api.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[workflowID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *wf
	return &copied, nil
}

func (s *MemoryStore) HasWorkflowStarted(ctx context.Context, workflowID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[workflowID]
	if !ok {
		return false, ErrNotFound
	}
	return wf.StartedEventID != "", nil
}

func (s *MemoryStore) WorkflowStarted(ctx context.Context, workflowID, typeName string, input []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[workflowID]
	if !ok {
		return 0, ErrNotFound
	}
	ev, err := s.append(workflowID, api.NoCorrelation, api.CategoryWorkflow, typeName, "execute", input, api.StatusStarted, nil)
	if err != nil {
		return 0, err
	}
	wf.StartedEventID = ev.ID
	return ev.SequenceNumber, nil
}

func (s *MemoryStore) WorkflowCompleted(ctx context.Context, workflowID, typeName string, output []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[workflowID]
	if !ok {
		return 0, ErrNotFound
	}
	ev, err := s.append(workflowID, api.NoCorrelation, api.CategoryWorkflow, typeName, "execute", output, api.StatusCompleted, nil)
	if err != nil {
		return 0, err
	}
	wf.CompletedEventID = ev.ID
	wf.Output = output
	return ev.SequenceNumber, nil
}

func (s *MemoryStore) ActivityStarted(ctx context.Context, workflowID, name string, correlation int64, input []byte, timeoutAt *time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, err := s.append(workflowID, correlation, api.CategoryActivity, name, name, input, api.StatusStarted, timeoutAt)
	if err != nil {
		return 0, err
	}
	s.activities[recordKey(workflowID, name)] = &ActivityRecord{
		WorkflowID:     workflowID,
		Name:           name,
		Input:          input,
		StartedEventID: ev.ID,
		StartedAt:      ev.Timestamp,
	}
	return ev.SequenceNumber, nil
}

func (s *MemoryStore) ActivityCompleted(ctx context.Context, workflowID, name string, correlation int64, output []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.activities[recordKey(workflowID, name)]
	if !ok {
		return 0, ErrNotFound
	}
	ev, err := s.append(workflowID, correlation, api.CategoryActivity, name, name, output, api.StatusCompleted, nil)
	if err != nil {
		return 0, err
	}
	rec.Output = output
	rec.CompletedEventID = ev.ID
	rec.CompletedSeq = ev.SequenceNumber
	return ev.SequenceNumber, nil
}

func (s *MemoryStore) GetActivity(ctx context.Context, workflowID, name string) (*ActivityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.activities[recordKey(workflowID, name)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

func (s *MemoryStore) SleepStarted(ctx context.Context, workflowID, identifier string, correlation int64, d time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := Encode(d.Milliseconds())
	if err != nil {
		return 0, err
	}
	ev, err := s.append(workflowID, correlation, api.CategorySleep, identifier, "sleep", payload, api.StatusStarted, nil)
	if err != nil {
		return 0, err
	}
	s.sleeps[recordKey(workflowID, identifier)] = &SleepRecord{
		WorkflowID:     workflowID,
		Identifier:     identifier,
		Duration:       d,
		StartedEventID: ev.ID,
		StartedAt:      ev.Timestamp,
	}
	return ev.SequenceNumber, nil
}

func (s *MemoryStore) SleepCompleted(ctx context.Context, workflowID, identifier string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sleeps[recordKey(workflowID, identifier)]
	if !ok {
		return 0, ErrNotFound
	}
	ev, err := s.append(workflowID, api.NoCorrelation, api.CategorySleep, identifier, "sleep", nil, api.StatusCompleted, nil)
	if err != nil {
		return 0, err
	}
	rec.CompletedEventID = ev.ID
	rec.CompletedSeq = ev.SequenceNumber
	return ev.SequenceNumber, nil
}

func (s *MemoryStore) GetSleep(ctx context.Context, workflowID, identifier string) (*SleepRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sleeps[recordKey(workflowID, identifier)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

func (s *MemoryStore) SignalWaiting(ctx context.Context, workflowID, name string, correlation int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, err := s.append(workflowID, correlation, api.CategorySignal, name, name, nil, api.StatusWaiting, nil)
	if err != nil {
		return 0, err
	}
	rec, ok := s.signals[recordKey(workflowID, name)]
	if !ok {
		rec = &SignalRecord{WorkflowID: workflowID, Name: name}
		s.signals[recordKey(workflowID, name)] = rec
	}
	rec.WaitingEventID = ev.ID
	return ev.SequenceNumber, nil
}

func (s *MemoryStore) SignalReceived(ctx context.Context, workflowID, name string, value []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, err := s.append(workflowID, api.NoCorrelation, api.CategorySignal, name, name, value, api.StatusReceived, nil)
	if err != nil {
		return 0, err
	}
	rec, ok := s.signals[recordKey(workflowID, name)]
	if !ok {
		rec = &SignalRecord{WorkflowID: workflowID, Name: name}
		s.signals[recordKey(workflowID, name)] = rec
	}
	rec.Value = value
	rec.ReceivedEventID = ev.ID
	rec.ReceivedSeq = ev.SequenceNumber
	return ev.SequenceNumber, nil
}

func (s *MemoryStore) GetSignal(ctx context.Context, workflowID, name string) (*SignalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.signals[recordKey(workflowID, name)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

func (s *MemoryStore) ConditionWaiting(ctx context.Context, workflowID, identifier string, correlation int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, err := s.append(workflowID, correlation, api.CategoryCondition, identifier, "condition", nil, api.StatusWaiting, nil)
	if err != nil {
		return 0, err
	}
	s.conditions[recordKey(workflowID, identifier)] = &ConditionRecord{
		WorkflowID:     workflowID,
		Identifier:     identifier,
		WaitingEventID: ev.ID,
	}
	return ev.SequenceNumber, nil
}

func (s *MemoryStore) ConditionSatisfied(ctx context.Context, workflowID, identifier string, correlation int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.conditions[recordKey(workflowID, identifier)]
	if !ok {
		return 0, ErrNotFound
	}
	ev, err := s.append(workflowID, correlation, api.CategoryCondition, identifier, "condition", nil, api.StatusSatisfied, nil)
	if err != nil {
		return 0, err
	}
	rec.SatisfiedEventID = ev.ID
	rec.SatisfiedSeq = ev.SequenceNumber
	return ev.SequenceNumber, nil
}

func (s *MemoryStore) GetCondition(ctx context.Context, workflowID, identifier string) (*ConditionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.conditions[recordKey(workflowID, identifier)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

func (s *MemoryStore) AwaitStarted(ctx context.Context, workflowID, identifier string, correlation int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, err := s.append(workflowID, correlation, api.CategoryAwait, identifier, "await", nil, api.StatusStarted, nil)
	if err != nil {
		return 0, err
	}
	return ev.SequenceNumber, nil
}

func (s *MemoryStore) AwaitResolved(ctx context.Context, workflowID, identifier string, correlation int64, status api.Status) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, err := s.append(workflowID, correlation, api.CategoryAwait, identifier, "await", nil, status, nil)
	if err != nil {
		return 0, err
	}
	return ev.SequenceNumber, nil
}

func (s *MemoryStore) GetEventByName(ctx context.Context, workflowID string, category api.Category, name string, status api.Status) (*api.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range s.events[workflowID] {
		if ev.Category == category && ev.SubjectName == name && ev.Status == status {
			copied := ev
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListEvents(ctx context.Context, workflowID string) ([]api.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.events[workflowID]
	out := make([]api.Event, len(events))
	copy(out, events)
	return out, nil
}

func (s *MemoryStore) ListSignalsSince(ctx context.Context, workflowID string, afterSeq int64) ([]api.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []api.Event
	for _, ev := range s.events[workflowID] {
		if ev.Category == api.CategorySignal && ev.Status == api.StatusReceived && ev.SequenceNumber > afterSeq {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListTimedOutActivities(ctx context.Context, now time.Time) ([]api.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []api.Event
	for _, events := range s.events {
		for _, ev := range events {
			if ev.Category != api.CategoryActivity || ev.Status != api.StatusStarted {
				continue
			}
			if ev.TimeoutAt == nil || ev.TimeoutAt.After(now) {
				continue
			}
			if rec, ok := s.activities[recordKey(ev.WorkflowID, ev.SubjectName)]; ok && rec.Completed() {
				continue
			}
			out = append(out, ev)
		}
	}
	return out, nil
}
