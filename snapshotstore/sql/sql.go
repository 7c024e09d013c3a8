// Package sql holds the database/sql backed snapshot store
package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oxtal/eventsource/core"
)

// SQL is the struct holding the underlying database
type SQL struct {
	db *sql.DB
}

// New returns a SQL struct
func New(db *sql.DB) *SQL {
	return &SQL{
		db: db,
	}
}

// Close the connection
func (s *SQL) Close() {
	s.db.Close()
}

// Save upserts the snapshot keyed on (id, type, version)
func (s *SQL) Save(snapshot core.Snapshot) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("could not start a write transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	statement := `SELECT COUNT(*) FROM snapshots WHERE id=$1 AND type=$2 AND version=$3`
	if err := tx.QueryRow(statement, snapshot.ID, snapshot.Type, uint64(snapshot.Version)).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		statement = `UPDATE snapshots SET global_version=$1, state=$2, created_at=$3 WHERE id=$4 AND type=$5 AND version=$6`
		_, err = tx.Exec(statement, uint64(snapshot.GlobalVersion), string(snapshot.State), snapshot.CreatedAt.UTC().Format(time.RFC3339Nano), snapshot.ID, snapshot.Type, uint64(snapshot.Version))
	} else {
		statement = `INSERT INTO snapshots (id, type, version, global_version, state, created_at) VALUES ($1, $2, $3, $4, $5, $6)`
		_, err = tx.Exec(statement, snapshot.ID, snapshot.Type, uint64(snapshot.Version), uint64(snapshot.GlobalVersion), string(snapshot.State), snapshot.CreatedAt.UTC().Format(time.RFC3339Nano))
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Get returns the snapshot with the highest version for the aggregate
func (s *SQL) Get(ctx context.Context, id string, aggregateType string) (core.Snapshot, error) {
	statement := `SELECT id, type, version, global_version, state, created_at FROM snapshots WHERE id=$1 AND type=$2 ORDER BY version DESC LIMIT 1`
	return s.get(ctx, statement, id, aggregateType)
}

// GetAtVersion returns the snapshot taken at the exact version
func (s *SQL) GetAtVersion(ctx context.Context, id string, aggregateType string, version core.Version) (core.Snapshot, error) {
	statement := `SELECT id, type, version, global_version, state, created_at FROM snapshots WHERE id=$1 AND type=$2 AND version=$3 LIMIT 1`
	return s.get(ctx, statement, id, aggregateType, uint64(version))
}

func (s *SQL) get(ctx context.Context, statement string, args ...interface{}) (core.Snapshot, error) {
	var id, typ, createdAt string
	var version, globalVersion uint64
	var state sql.NullString

	err := s.db.QueryRowContext(ctx, statement, args...).Scan(&id, &typ, &version, &globalVersion, &state, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Snapshot{}, core.ErrSnapshotNotFound
	}
	if err != nil {
		return core.Snapshot{}, err
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return core.Snapshot{}, err
	}
	return core.Snapshot{
		ID:            id,
		Type:          typ,
		Version:       core.Version(version),
		GlobalVersion: core.Version(globalVersion),
		State:         []byte(state.String),
		CreatedAt:     t,
	}, nil
}

// Delete removes all snapshots for the aggregate
func (s *SQL) Delete(ctx context.Context, id string, aggregateType string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id=$1 AND type=$2`, id, aggregateType)
	return err
}

// DeleteOlderThan removes snapshots with version < version for the aggregate
func (s *SQL) DeleteOlderThan(ctx context.Context, id string, aggregateType string, version core.Version) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id=$1 AND type=$2 AND version<$3`, id, aggregateType, uint64(version))
	return err
}

var _ core.SnapshotStore = &SQL{}
