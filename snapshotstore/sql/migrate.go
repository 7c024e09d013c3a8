package sql

import "context"

// Migrate creates the snapshots table and its index
func (s *SQL) Migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (id VARCHAR NOT NULL, type VARCHAR NOT NULL, version INTEGER NOT NULL, global_version INTEGER NOT NULL, state BLOB, created_at VARCHAR NOT NULL);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS snapshots_id_type_version ON snapshots (id, type, version);`,
	}

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
