package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// sqlDialect abstracts placeholder style and DDL between SQLite and Postgres.
type sqlDialect interface {
	rebind(query string) string
	schema() string
}

// sqlStore implements Store on top of database/sql. Due times are stored as
// unix nanoseconds.
type sqlStore struct {
	db *sql.DB
	d  sqlDialect
}

var _ Store = (*sqlStore)(nil)

func newSQLStore(db *sql.DB, d sqlDialect) (*sqlStore, error) {
	s := &sqlStore{db: db, d: d}
	if _, err := db.Exec(d.schema()); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *sqlStore) ScheduleOnce(ctx context.Context, t Task) error {
	_, err := s.db.ExecContext(ctx, s.d.rebind(`
		INSERT INTO scheduled_task (task_key, kind, workflow_id, subject, payload, due_ns)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (task_key) DO NOTHING`),
		t.Key, string(t.Kind), t.WorkflowID, t.Subject, t.Payload, t.DueAt.UnixNano(),
	)
	return err
}

func (s *sqlStore) Cancel(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, s.d.rebind(`
		DELETE FROM scheduled_task WHERE task_key = ?`),
		key,
	)
	return err
}

func (s *sqlStore) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, s.d.rebind(`
		SELECT task_key, kind, workflow_id, subject, payload, due_ns
		FROM scheduled_task
		WHERE due_ns <= ?
		ORDER BY due_ns
		LIMIT ?`),
		now.UnixNano(), limit,
	)
	if err != nil {
		return nil, err
	}

	var tasks []Task
	for rows.Next() {
		var t Task
		var kind string
		var dueNs int64
		if err := rows.Scan(&t.Key, &kind, &t.WorkflowID, &t.Subject, &t.Payload, &dueNs); err != nil {
			rows.Close()
			return nil, err
		}
		t.Kind = Kind(kind)
		t.DueAt = time.Unix(0, dueNs)
		tasks = append(tasks, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	leaseUntil := now.Add(lease).UnixNano()
	for _, t := range tasks {
		_, err := tx.ExecContext(ctx, s.d.rebind(`
			UPDATE scheduled_task SET due_ns = ? WHERE task_key = ?`),
			leaseUntil, t.Key,
		)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *sqlStore) Complete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, s.d.rebind(`
		DELETE FROM scheduled_task WHERE task_key = ?`),
		key,
	)
	return err
}

// SQLiteStore is a Store backed by SQLite. The caller imports the driver.
type SQLiteStore struct {
	*sqlStore
}

// NewSQLiteStore initializes the scheduled_task table and returns a new
// SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	core, err := newSQLStore(db, sqliteTaskDialect{})
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{sqlStore: core}, nil
}

type sqliteTaskDialect struct{}

func (sqliteTaskDialect) rebind(query string) string { return query }

func (sqliteTaskDialect) schema() string {
	return `
		CREATE TABLE IF NOT EXISTS scheduled_task (
			task_key TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			workflow_id TEXT NOT NULL,
			subject TEXT NOT NULL,
			payload BLOB,
			due_ns INTEGER NOT NULL
		);`
}

// PostgresStore is a Store backed by PostgreSQL, driver-agnostic over
// database/sql.
type PostgresStore struct {
	*sqlStore
}

// NewPostgresStore initializes the scheduled_task table and returns a new
// PostgresStore.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	core, err := newSQLStore(db, postgresTaskDialect{})
	if err != nil {
		return nil, err
	}
	return &PostgresStore{sqlStore: core}, nil
}

type postgresTaskDialect struct{}

func (postgresTaskDialect) rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (postgresTaskDialect) schema() string {
	return `
		CREATE TABLE IF NOT EXISTS scheduled_task (
			task_key TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			workflow_id TEXT NOT NULL,
			subject TEXT NOT NULL,
			payload BYTEA,
			due_ns BIGINT NOT NULL
		);`
}
