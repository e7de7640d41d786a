package eventlog

import (
	"database/sql"
	"strings"
)

// SQLiteStore is a Store backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing the driver,
// e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	*sqlStore
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	core, err := newSQLStore(db, sqliteDialect{})
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{sqlStore: core}, nil
}

type sqliteDialect struct{}

func (sqliteDialect) rebind(query string) string { return query }

func (sqliteDialect) isUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (sqliteDialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS workflow (
			id TEXT PRIMARY KEY,
			type_name TEXT NOT NULL,
			input BLOB,
			output BLOB,
			created_ns INTEGER NOT NULL,
			scheduled_event_id TEXT,
			started_event_id TEXT,
			completed_event_id TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS workflow_seq (
			workflow_id TEXT PRIMARY KEY,
			next INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS workflow_event (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			correlation_number INTEGER NOT NULL,
			sequence_number INTEGER NOT NULL,
			category TEXT NOT NULL,
			subject_name TEXT NOT NULL,
			function_name TEXT NOT NULL,
			payload BLOB,
			status TEXT NOT NULL,
			created_ns INTEGER NOT NULL,
			timeout_ns INTEGER,
			UNIQUE (workflow_id, sequence_number),
			UNIQUE (workflow_id, category, subject_name, status)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_event_timeout
			ON workflow_event (timeout_ns) WHERE timeout_ns IS NOT NULL;`,
		`CREATE TABLE IF NOT EXISTS workflow_activity (
			workflow_id TEXT NOT NULL,
			name TEXT NOT NULL,
			input BLOB,
			output BLOB,
			started_event_id TEXT NOT NULL,
			completed_event_id TEXT,
			started_ns INTEGER NOT NULL,
			completed_seq INTEGER,
			PRIMARY KEY (workflow_id, name)
		);`,
		`CREATE TABLE IF NOT EXISTS workflow_sleep (
			workflow_id TEXT NOT NULL,
			identifier TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			started_event_id TEXT NOT NULL,
			completed_event_id TEXT,
			started_ns INTEGER NOT NULL,
			completed_seq INTEGER,
			PRIMARY KEY (workflow_id, identifier)
		);`,
		`CREATE TABLE IF NOT EXISTS workflow_signal (
			workflow_id TEXT NOT NULL,
			name TEXT NOT NULL,
			value BLOB,
			waiting_event_id TEXT,
			received_event_id TEXT,
			received_seq INTEGER,
			PRIMARY KEY (workflow_id, name)
		);`,
		`CREATE TABLE IF NOT EXISTS workflow_condition (
			workflow_id TEXT NOT NULL,
			identifier TEXT NOT NULL,
			waiting_event_id TEXT NOT NULL,
			satisfied_event_id TEXT,
			satisfied_seq INTEGER,
			PRIMARY KEY (workflow_id, identifier)
		);`,
	}
}
