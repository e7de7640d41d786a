package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/sisu/pkg/api"
)

// dialect abstracts the differences between the supported SQL engines:
// placeholder style, unique-violation detection and DDL.
type dialect interface {
	// rebind rewrites ? placeholders into the engine's native style.
	rebind(query string) string
	// isUnique reports whether err is a unique constraint violation.
	isUnique(err error) bool
	// schema returns the DDL statements, executed in order.
	schema() []string
}

// sqlStore implements Store on top of database/sql. Timestamps are stored as
// unix nanoseconds so the same queries work unchanged on SQLite and Postgres.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

var _ Store = (*sqlStore)(nil)

func newSQLStore(db *sql.DB, d dialect) (*sqlStore, error) {
	s := &sqlStore{db: db, d: d}
	for _, stmt := range d.schema() {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}
	return s, nil
}

func (s *sqlStore) exec(ctx context.Context, tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	return tx.ExecContext(ctx, s.d.rebind(query), args...)
}

func (s *sqlStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// nextSeq allocates the next per-workflow sequence number inside tx. The
// counter row is created lazily on first use.
func (s *sqlStore) nextSeq(ctx context.Context, tx *sql.Tx, workflowID string) (int64, error) {
	_, err := s.exec(ctx, tx, `
		INSERT INTO workflow_seq (workflow_id, next) VALUES (?, 0)
		ON CONFLICT (workflow_id) DO NOTHING`,
		workflowID,
	)
	if err != nil {
		return 0, err
	}

	var seq int64
	row := tx.QueryRowContext(ctx, s.d.rebind(`
		UPDATE workflow_seq SET next = next + 1 WHERE workflow_id = ? RETURNING next`),
		workflowID,
	)
	if err := row.Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

// appendEvent allocates a sequence number and inserts one event row inside tx.
// A violation of the (workflow, category, subject, status) unique index is
// reported as api.ErrConflict; the rollback also releases the sequence number.
func (s *sqlStore) appendEvent(ctx context.Context, tx *sql.Tx, workflowID string, correlation int64, category api.Category, subject, function string, payload []byte, status api.Status, timeoutAt *time.Time) (api.Event, error) {
	seq, err := s.nextSeq(ctx, tx, workflowID)
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

	var timeoutNs any
	if timeoutAt != nil {
		timeoutNs = timeoutAt.UnixNano()
	}

	_, err = s.exec(ctx, tx, `
		INSERT INTO workflow_event
			(id, workflow_id, correlation_number, sequence_number, category, subject_name, function_name, payload, status, created_ns, timeout_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.WorkflowID, ev.CorrelationNumber, ev.SequenceNumber,
		string(ev.Category), ev.SubjectName, ev.FunctionName, ev.Payload,
		string(ev.Status), ev.Timestamp.UnixNano(), timeoutNs,
	)
	if err != nil {
		if s.d.isUnique(err) {
			return api.Event{}, api.ErrConflict
		}
		return api.Event{}, err
	}
	return ev, nil
}

func (s *sqlStore) CreateWorkflow(ctx context.Context, workflowID, typeName string, input []byte) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		_, err := s.exec(ctx, tx, `
			INSERT INTO workflow (id, type_name, input, created_ns)
			VALUES (?, ?, ?, ?)`,
			workflowID, typeName, input, now.UnixNano(),
		)
		if err != nil {
			if s.d.isUnique(err) {
				return api.ErrWorkflowExists
			}
			return err
		}

		ev, err := s.appendEvent(ctx, tx, workflowID, api.NoCorrelation, api.CategoryWorkflow, typeName, "execute", input, api.StatusScheduled, nil)
		if err != nil {
			return err
		}

		_, err = s.exec(ctx, tx, `
			UPDATE workflow SET scheduled_event_id = ? WHERE id = ?`,
			ev.ID, workflowID,
		)
		return err
	})
}

func (s *sqlStore) GetWorkflow(ctx context.Context, workflowID string) (*api.WorkflowInstance, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind(`
		SELECT id, type_name, input, output, created_ns, scheduled_event_id, started_event_id, completed_event_id
		FROM workflow WHERE id = ?`),
		workflowID,
	)

	var wf api.WorkflowInstance
	var createdNs int64
	var scheduled, started, completed sql.NullString
	if err := row.Scan(&wf.ID, &wf.TypeName, &wf.Input, &wf.Output, &createdNs, &scheduled, &started, &completed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	wf.CreatedAt = time.Unix(0, createdNs)
	wf.ScheduledEventID = scheduled.String
	wf.StartedEventID = started.String
	wf.CompletedEventID = completed.String
	return &wf, nil
}

func (s *sqlStore) HasWorkflowStarted(ctx context.Context, workflowID string) (bool, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind(`
		SELECT started_event_id FROM workflow WHERE id = ?`),
		workflowID,
	)
	var started sql.NullString
	if err := row.Scan(&started); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, err
	}
	return started.String != "", nil
}

func (s *sqlStore) WorkflowStarted(ctx context.Context, workflowID, typeName string, input []byte) (int64, error) {
	var seq int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ev, err := s.appendEvent(ctx, tx, workflowID, api.NoCorrelation, api.CategoryWorkflow, typeName, "execute", input, api.StatusStarted, nil)
		if err != nil {
			return err
		}
		seq = ev.SequenceNumber

		res, err := s.exec(ctx, tx, `
			UPDATE workflow SET started_event_id = ? WHERE id = ?`,
			ev.ID, workflowID,
		)
		if err != nil {
			return err
		}
		return requireAffected(res)
	})
	return seq, err
}

func (s *sqlStore) WorkflowCompleted(ctx context.Context, workflowID, typeName string, output []byte) (int64, error) {
	var seq int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ev, err := s.appendEvent(ctx, tx, workflowID, api.NoCorrelation, api.CategoryWorkflow, typeName, "execute", output, api.StatusCompleted, nil)
		if err != nil {
			return err
		}
		seq = ev.SequenceNumber

		res, err := s.exec(ctx, tx, `
			UPDATE workflow SET completed_event_id = ?, output = ? WHERE id = ?`,
			ev.ID, output, workflowID,
		)
		if err != nil {
			return err
		}
		return requireAffected(res)
	})
	return seq, err
}

func (s *sqlStore) ActivityStarted(ctx context.Context, workflowID, name string, correlation int64, input []byte, timeoutAt *time.Time) (int64, error) {
	var seq int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ev, err := s.appendEvent(ctx, tx, workflowID, correlation, api.CategoryActivity, name, name, input, api.StatusStarted, timeoutAt)
		if err != nil {
			return err
		}
		seq = ev.SequenceNumber

		_, err = s.exec(ctx, tx, `
			INSERT INTO workflow_activity (workflow_id, name, input, started_event_id, started_ns)
			VALUES (?, ?, ?, ?, ?)`,
			workflowID, name, input, ev.ID, ev.Timestamp.UnixNano(),
		)
		if err != nil && s.d.isUnique(err) {
			return api.ErrConflict
		}
		return err
	})
	return seq, err
}

func (s *sqlStore) ActivityCompleted(ctx context.Context, workflowID, name string, correlation int64, output []byte) (int64, error) {
	var seq int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ev, err := s.appendEvent(ctx, tx, workflowID, correlation, api.CategoryActivity, name, name, output, api.StatusCompleted, nil)
		if err != nil {
			return err
		}
		seq = ev.SequenceNumber

		res, err := s.exec(ctx, tx, `
			UPDATE workflow_activity
			SET output = ?, completed_event_id = ?, completed_seq = ?
			WHERE workflow_id = ? AND name = ?`,
			output, ev.ID, ev.SequenceNumber, workflowID, name,
		)
		if err != nil {
			return err
		}
		return requireAffected(res)
	})
	return seq, err
}

func (s *sqlStore) GetActivity(ctx context.Context, workflowID, name string) (*ActivityRecord, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind(`
		SELECT workflow_id, name, input, output, started_event_id, completed_event_id, started_ns, completed_seq
		FROM workflow_activity WHERE workflow_id = ? AND name = ?`),
		workflowID, name,
	)

	var rec ActivityRecord
	var completed sql.NullString
	var startedNs int64
	var completedSeq sql.NullInt64
	if err := row.Scan(&rec.WorkflowID, &rec.Name, &rec.Input, &rec.Output, &rec.StartedEventID, &completed, &startedNs, &completedSeq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec.CompletedEventID = completed.String
	rec.StartedAt = time.Unix(0, startedNs)
	rec.CompletedSeq = completedSeq.Int64
	return &rec, nil
}

func (s *sqlStore) SleepStarted(ctx context.Context, workflowID, identifier string, correlation int64, d time.Duration) (int64, error) {
	payload, err := Encode(d.Milliseconds())
	if err != nil {
		return 0, err
	}

	var seq int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		ev, err := s.appendEvent(ctx, tx, workflowID, correlation, api.CategorySleep, identifier, "sleep", payload, api.StatusStarted, nil)
		if err != nil {
			return err
		}
		seq = ev.SequenceNumber

		_, err = s.exec(ctx, tx, `
			INSERT INTO workflow_sleep (workflow_id, identifier, duration_ms, started_event_id, started_ns)
			VALUES (?, ?, ?, ?, ?)`,
			workflowID, identifier, d.Milliseconds(), ev.ID, ev.Timestamp.UnixNano(),
		)
		if err != nil && s.d.isUnique(err) {
			return api.ErrConflict
		}
		return err
	})
	return seq, err
}

func (s *sqlStore) SleepCompleted(ctx context.Context, workflowID, identifier string) (int64, error) {
	var seq int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ev, err := s.appendEvent(ctx, tx, workflowID, api.NoCorrelation, api.CategorySleep, identifier, "sleep", nil, api.StatusCompleted, nil)
		if err != nil {
			return err
		}
		seq = ev.SequenceNumber

		res, err := s.exec(ctx, tx, `
			UPDATE workflow_sleep
			SET completed_event_id = ?, completed_seq = ?
			WHERE workflow_id = ? AND identifier = ?`,
			ev.ID, ev.SequenceNumber, workflowID, identifier,
		)
		if err != nil {
			return err
		}
		return requireAffected(res)
	})
	return seq, err
}

func (s *sqlStore) GetSleep(ctx context.Context, workflowID, identifier string) (*SleepRecord, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind(`
		SELECT workflow_id, identifier, duration_ms, started_event_id, completed_event_id, started_ns, completed_seq
		FROM workflow_sleep WHERE workflow_id = ? AND identifier = ?`),
		workflowID, identifier,
	)

	var rec SleepRecord
	var durationMs, startedNs int64
	var completed sql.NullString
	var completedSeq sql.NullInt64
	if err := row.Scan(&rec.WorkflowID, &rec.Identifier, &durationMs, &rec.StartedEventID, &completed, &startedNs, &completedSeq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec.Duration = time.Duration(durationMs) * time.Millisecond
	rec.CompletedEventID = completed.String
	rec.StartedAt = time.Unix(0, startedNs)
	rec.CompletedSeq = completedSeq.Int64
	return &rec, nil
}

func (s *sqlStore) SignalWaiting(ctx context.Context, workflowID, name string, correlation int64) (int64, error) {
	var seq int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ev, err := s.appendEvent(ctx, tx, workflowID, correlation, api.CategorySignal, name, name, nil, api.StatusWaiting, nil)
		if err != nil {
			return err
		}
		seq = ev.SequenceNumber

		_, err = s.exec(ctx, tx, `
			INSERT INTO workflow_signal (workflow_id, name, waiting_event_id)
			VALUES (?, ?, ?)
			ON CONFLICT (workflow_id, name) DO UPDATE SET waiting_event_id = excluded.waiting_event_id`,
			workflowID, name, ev.ID,
		)
		return err
	})
	return seq, err
}

func (s *sqlStore) SignalReceived(ctx context.Context, workflowID, name string, value []byte) (int64, error) {
	var seq int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ev, err := s.appendEvent(ctx, tx, workflowID, api.NoCorrelation, api.CategorySignal, name, name, value, api.StatusReceived, nil)
		if err != nil {
			return err
		}
		seq = ev.SequenceNumber

		_, err = s.exec(ctx, tx, `
			INSERT INTO workflow_signal (workflow_id, name, value, received_event_id, received_seq)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (workflow_id, name) DO UPDATE SET
				value = excluded.value,
				received_event_id = excluded.received_event_id,
				received_seq = excluded.received_seq`,
			workflowID, name, value, ev.ID, ev.SequenceNumber,
		)
		return err
	})
	return seq, err
}

func (s *sqlStore) GetSignal(ctx context.Context, workflowID, name string) (*SignalRecord, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind(`
		SELECT workflow_id, name, value, waiting_event_id, received_event_id, received_seq
		FROM workflow_signal WHERE workflow_id = ? AND name = ?`),
		workflowID, name,
	)

	var rec SignalRecord
	var waiting, received sql.NullString
	var receivedSeq sql.NullInt64
	if err := row.Scan(&rec.WorkflowID, &rec.Name, &rec.Value, &waiting, &received, &receivedSeq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec.WaitingEventID = waiting.String
	rec.ReceivedEventID = received.String
	rec.ReceivedSeq = receivedSeq.Int64
	return &rec, nil
}

func (s *sqlStore) ConditionWaiting(ctx context.Context, workflowID, identifier string, correlation int64) (int64, error) {
	var seq int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ev, err := s.appendEvent(ctx, tx, workflowID, correlation, api.CategoryCondition, identifier, "condition", nil, api.StatusWaiting, nil)
		if err != nil {
			return err
		}
		seq = ev.SequenceNumber

		_, err = s.exec(ctx, tx, `
			INSERT INTO workflow_condition (workflow_id, identifier, waiting_event_id)
			VALUES (?, ?, ?)`,
			workflowID, identifier, ev.ID,
		)
		if err != nil && s.d.isUnique(err) {
			return api.ErrConflict
		}
		return err
	})
	return seq, err
}

func (s *sqlStore) ConditionSatisfied(ctx context.Context, workflowID, identifier string, correlation int64) (int64, error) {
	var seq int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ev, err := s.appendEvent(ctx, tx, workflowID, correlation, api.CategoryCondition, identifier, "condition", nil, api.StatusSatisfied, nil)
		if err != nil {
			return err
		}
		seq = ev.SequenceNumber

		res, err := s.exec(ctx, tx, `
			UPDATE workflow_condition
			SET satisfied_event_id = ?, satisfied_seq = ?
			WHERE workflow_id = ? AND identifier = ?`,
			ev.ID, ev.SequenceNumber, workflowID, identifier,
		)
		if err != nil {
			return err
		}
		return requireAffected(res)
	})
	return seq, err
}

func (s *sqlStore) GetCondition(ctx context.Context, workflowID, identifier string) (*ConditionRecord, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind(`
		SELECT workflow_id, identifier, waiting_event_id, satisfied_event_id, satisfied_seq
		FROM workflow_condition WHERE workflow_id = ? AND identifier = ?`),
		workflowID, identifier,
	)

	var rec ConditionRecord
	var satisfied sql.NullString
	var satisfiedSeq sql.NullInt64
	if err := row.Scan(&rec.WorkflowID, &rec.Identifier, &rec.WaitingEventID, &satisfied, &satisfiedSeq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec.SatisfiedEventID = satisfied.String
	rec.SatisfiedSeq = satisfiedSeq.Int64
	return &rec, nil
}

func (s *sqlStore) AwaitStarted(ctx context.Context, workflowID, identifier string, correlation int64) (int64, error) {
	var seq int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ev, err := s.appendEvent(ctx, tx, workflowID, correlation, api.CategoryAwait, identifier, "await", nil, api.StatusStarted, nil)
		if err != nil {
			return err
		}
		seq = ev.SequenceNumber
		return nil
	})
	return seq, err
}

func (s *sqlStore) AwaitResolved(ctx context.Context, workflowID, identifier string, correlation int64, status api.Status) (int64, error) {
	var seq int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ev, err := s.appendEvent(ctx, tx, workflowID, correlation, api.CategoryAwait, identifier, "await", nil, status, nil)
		if err != nil {
			return err
		}
		seq = ev.SequenceNumber
		return nil
	})
	return seq, err
}

const eventColumns = `id, workflow_id, correlation_number, sequence_number, category, subject_name, function_name, payload, status, created_ns, timeout_ns`

func scanEvent(scan func(dest ...any) error) (api.Event, error) {
	var ev api.Event
	var category, status string
	var createdNs int64
	var timeoutNs sql.NullInt64
	err := scan(&ev.ID, &ev.WorkflowID, &ev.CorrelationNumber, &ev.SequenceNumber,
		&category, &ev.SubjectName, &ev.FunctionName, &ev.Payload, &status, &createdNs, &timeoutNs)
	if err != nil {
		return api.Event{}, err
	}
	ev.Category = api.Category(category)
	ev.Status = api.Status(status)
	ev.Timestamp = time.Unix(0, createdNs)
	if timeoutNs.Valid {
		t := time.Unix(0, timeoutNs.Int64)
		ev.TimeoutAt = &t
	}
	return ev, nil
}

func (s *sqlStore) GetEventByName(ctx context.Context, workflowID string, category api.Category, name string, status api.Status) (*api.Event, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind(`
		SELECT `+eventColumns+`
		FROM workflow_event
		WHERE workflow_id = ? AND category = ? AND subject_name = ? AND status = ?`),
		workflowID, string(category), name, string(status),
	)

	ev, err := scanEvent(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ev, nil
}

func (s *sqlStore) queryEvents(ctx context.Context, query string, args ...any) ([]api.Event, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []api.Event
	for rows.Next() {
		ev, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *sqlStore) ListEvents(ctx context.Context, workflowID string) ([]api.Event, error) {
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM workflow_event
		WHERE workflow_id = ?
		ORDER BY sequence_number`,
		workflowID,
	)
}

func (s *sqlStore) ListSignalsSince(ctx context.Context, workflowID string, afterSeq int64) ([]api.Event, error) {
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM workflow_event
		WHERE workflow_id = ? AND category = ? AND status = ? AND sequence_number > ?
		ORDER BY sequence_number`,
		workflowID, string(api.CategorySignal), string(api.StatusReceived), afterSeq,
	)
}

func (s *sqlStore) ListTimedOutActivities(ctx context.Context, now time.Time) ([]api.Event, error) {
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM workflow_event e
		WHERE e.category = ? AND e.status = ?
		  AND e.timeout_ns IS NOT NULL AND e.timeout_ns < ?
		  AND NOT EXISTS (
			SELECT 1 FROM workflow_event c
			WHERE c.workflow_id = e.workflow_id
			  AND c.category = e.category
			  AND c.subject_name = e.subject_name
			  AND c.status = ?
		  )
		ORDER BY e.timeout_ns`,
		string(api.CategoryActivity), string(api.StatusStarted), now.UnixNano(), string(api.StatusCompleted),
	)
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
