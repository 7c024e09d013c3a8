package sql

import "context"

// Migrate creates the events table and its indexes, sqlite flavored
func (s *SQL) Migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS events (seq INTEGER PRIMARY KEY, event_id VARCHAR NOT NULL, aggregate_id VARCHAR NOT NULL, version INTEGER NOT NULL, reason VARCHAR NOT NULL, aggregate_type VARCHAR NOT NULL, timestamp VARCHAR NOT NULL, stored_at VARCHAR NOT NULL, data BLOB, metadata BLOB);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS events_id_type_version ON events (aggregate_id, aggregate_type, version);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS events_event_id ON events (event_id);`,
		`CREATE INDEX IF NOT EXISTS events_reason ON events (reason);`,
		`CREATE INDEX IF NOT EXISTS events_timestamp ON events (timestamp);`,
	}
	return s.migrate(statements)
}

// MigratePostgres creates the events table and its indexes, postgres flavored
func (s *SQL) MigratePostgres() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS events (seq BIGSERIAL PRIMARY KEY, event_id VARCHAR NOT NULL, aggregate_id VARCHAR NOT NULL, version BIGINT NOT NULL, reason VARCHAR NOT NULL, aggregate_type VARCHAR NOT NULL, timestamp VARCHAR NOT NULL, stored_at VARCHAR NOT NULL, data TEXT, metadata TEXT);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS events_id_type_version ON events (aggregate_id, aggregate_type, version);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS events_event_id ON events (event_id);`,
		`CREATE INDEX IF NOT EXISTS events_reason ON events (reason);`,
		`CREATE INDEX IF NOT EXISTS events_timestamp ON events (timestamp);`,
	}
	return s.migrate(statements)
}

func (s *SQL) migrate(statements []string) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, statement := range statements {
		if _, err := tx.Exec(statement); err != nil {
			return err
		}
	}
	return tx.Commit()
}
