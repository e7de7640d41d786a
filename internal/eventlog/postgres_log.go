package eventlog

import (
	"database/sql"
	"fmt"
	"strings"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// It is driver-agnostic: it expects an *sql.DB opened with any PostgreSQL
// driver (lib/pq, pgx/stdlib). The caller imports the driver.
type PostgresStore struct {
	*sqlStore
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore initializes the required schema in the given database and
// returns a new PostgresStore.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	core, err := newSQLStore(db, postgresDialect{})
	if err != nil {
		return nil, err
	}
	return &PostgresStore{sqlStore: core}, nil
}

type postgresDialect struct{}

// rebind rewrites ? placeholders into Postgres' positional $1, $2, ... form.
func (postgresDialect) rebind(query string) string {
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

func (postgresDialect) isUnique(err error) bool {
	if err == nil {
		return false
	}
	// SQLSTATE 23505 is unique_violation; the message form covers drivers
	// that do not expose the code.
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate key value")
}

func (postgresDialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS workflow (
			id TEXT PRIMARY KEY,
			type_name TEXT NOT NULL,
			input BYTEA,
			output BYTEA,
			created_ns BIGINT NOT NULL,
			scheduled_event_id TEXT,
			started_event_id TEXT,
			completed_event_id TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS workflow_seq (
			workflow_id TEXT PRIMARY KEY,
			next BIGINT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS workflow_event (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			correlation_number BIGINT NOT NULL,
			sequence_number BIGINT NOT NULL,
			category TEXT NOT NULL,
			subject_name TEXT NOT NULL,
			function_name TEXT NOT NULL,
			payload BYTEA,
			status TEXT NOT NULL,
			created_ns BIGINT NOT NULL,
			timeout_ns BIGINT,
			UNIQUE (workflow_id, sequence_number),
			UNIQUE (workflow_id, category, subject_name, status)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_event_timeout
			ON workflow_event (timeout_ns) WHERE timeout_ns IS NOT NULL;`,
		`CREATE TABLE IF NOT EXISTS workflow_activity (
			workflow_id TEXT NOT NULL,
			name TEXT NOT NULL,
			input BYTEA,
			output BYTEA,
			started_event_id TEXT NOT NULL,
			completed_event_id TEXT,
			started_ns BIGINT NOT NULL,
			completed_seq BIGINT,
			PRIMARY KEY (workflow_id, name)
		);`,
		`CREATE TABLE IF NOT EXISTS workflow_sleep (
			workflow_id TEXT NOT NULL,
			identifier TEXT NOT NULL,
			duration_ms BIGINT NOT NULL,
			started_event_id TEXT NOT NULL,
			completed_event_id TEXT,
			started_ns BIGINT NOT NULL,
			completed_seq BIGINT,
			PRIMARY KEY (workflow_id, identifier)
		);`,
		`CREATE TABLE IF NOT EXISTS workflow_signal (
			workflow_id TEXT NOT NULL,
			name TEXT NOT NULL,
			value BYTEA,
			waiting_event_id TEXT,
			received_event_id TEXT,
			received_seq BIGINT,
			PRIMARY KEY (workflow_id, name)
		);`,
		`CREATE TABLE IF NOT EXISTS workflow_condition (
			workflow_id TEXT NOT NULL,
			identifier TEXT NOT NULL,
			waiting_event_id TEXT NOT NULL,
			satisfied_event_id TEXT,
			satisfied_seq BIGINT,
			PRIMARY KEY (workflow_id, identifier)
		);`,
	}
}
