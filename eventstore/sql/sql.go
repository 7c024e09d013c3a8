// Package sql holds the database/sql backed event store. The statements use
// $N placeholders and work against sqlite and postgres drivers.
package sql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/oxtal/eventsource/core"
	"github.com/oxtal/eventsource/eventstore"
)

const selectColumns = `seq, event_id, aggregate_id, version, reason, aggregate_type, timestamp, stored_at, data, metadata`

// SQL is the struct holding the underlying database
type SQL struct {
	db *sql.DB
}

// Open the event store based on the database connection
func Open(db *sql.DB) *SQL {
	return &SQL{
		db: db,
	}
}

// Close the connection
func (s *SQL) Close() {
	s.db.Close()
}

// Save a batch of events inside one transaction, all or nothing. The current
// version is read inside the same transaction as the inserts and a unique
// index on (aggregate_id, aggregate_type, version) backstops races between
// concurrent writers, a violation surfaces as core.ErrConcurrency.
func (s *SQL) Save(events []core.Event) error {
	if len(events) == 0 {
		return nil
	}
	aggregateID := events[0].AggregateID
	aggregateType := events[0].AggregateType

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("could not start a write transaction: %w", err)
	}
	defer tx.Rollback()

	var currentVersion core.Version
	statement := `SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id=$1 AND aggregate_type=$2`
	if err := tx.QueryRow(statement, aggregateID, aggregateType).Scan(&currentVersion); err != nil {
		return err
	}

	if err := eventstore.PrepareEvents(currentVersion, events); err != nil {
		return err
	}

	// the database assigns seq so writers for different aggregates never
	// contend on it
	now := time.Now().UTC()
	insert := `INSERT INTO events (event_id, aggregate_id, version, reason, aggregate_type, timestamp, stored_at, data, metadata) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING seq`
	for i := range events {
		var seq uint64
		err := tx.QueryRow(insert,
			events[i].EventID,
			events[i].AggregateID,
			uint64(events[i].Version),
			events[i].Reason,
			events[i].AggregateType,
			events[i].Timestamp.Format(time.RFC3339Nano),
			now.Format(time.RFC3339Nano),
			string(events[i].Data),
			string(events[i].Metadata),
		).Scan(&seq)
		if err != nil {
			if isVersionConflict(err) {
				return core.ErrConcurrency
			}
			return fmt.Errorf("could not insert event: %w", err)
		}
		events[i].GlobalVersion = core.Version(seq)
		events[i].StoredAt = now
	}
	return tx.Commit()
}

// Get aggregate events with version > afterVersion
func (s *SQL) Get(ctx context.Context, id string, aggregateType string, afterVersion core.Version) (core.Iterator, error) {
	statement := `SELECT ` + selectColumns + ` FROM events WHERE aggregate_id=$1 AND aggregate_type=$2 AND version>$3 ORDER BY version ASC`
	rows, err := s.db.QueryContext(ctx, statement, id, aggregateType, uint64(afterVersion))
	if err != nil {
		return nil, err
	}
	return &iterator{rows: rows}, nil
}

// All returns up to limit events with seq >= startSeq in global order
func (s *SQL) All(ctx context.Context, startSeq core.Version, limit uint64) (core.Iterator, error) {
	statement := `SELECT ` + selectColumns + ` FROM events WHERE seq>=$1 ORDER BY seq ASC LIMIT $2`
	rows, err := s.db.QueryContext(ctx, statement, uint64(startSeq), limit)
	if err != nil {
		return nil, err
	}
	return &iterator{rows: rows}, nil
}

// ByReason returns up to limit events of the reason with seq >= startSeq in global order
func (s *SQL) ByReason(ctx context.Context, reason string, startSeq core.Version, limit uint64) (core.Iterator, error) {
	statement := `SELECT ` + selectColumns + ` FROM events WHERE reason=$1 AND seq>=$2 ORDER BY seq ASC LIMIT $3`
	rows, err := s.db.QueryContext(ctx, statement, reason, uint64(startSeq), limit)
	if err != nil {
		return nil, err
	}
	return &iterator{rows: rows}, nil
}

// After returns events that occurred after t in global order.
// Timestamps are stored as RFC3339Nano UTC strings, lexicographic order
// matches chronological order.
func (s *SQL) After(ctx context.Context, t time.Time) (core.Iterator, error) {
	statement := `SELECT ` + selectColumns + ` FROM events WHERE timestamp>$1 ORDER BY seq ASC`
	rows, err := s.db.QueryContext(ctx, statement, t.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	return &iterator{rows: rows}, nil
}

// Between returns events that occurred in [from, to] in global order.
// A zero to means no upper bound.
func (s *SQL) Between(ctx context.Context, from, to time.Time) (core.Iterator, error) {
	if to.IsZero() {
		statement := `SELECT ` + selectColumns + ` FROM events WHERE timestamp>=$1 ORDER BY seq ASC`
		rows, err := s.db.QueryContext(ctx, statement, from.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return nil, err
		}
		return &iterator{rows: rows}, nil
	}
	statement := `SELECT ` + selectColumns + ` FROM events WHERE timestamp>=$1 AND timestamp<=$2 ORDER BY seq ASC`
	rows, err := s.db.QueryContext(ctx, statement, from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	return &iterator{rows: rows}, nil
}

// AggregateVersion returns the current version of the aggregate, 0 if it has no events
func (s *SQL) AggregateVersion(ctx context.Context, id string, aggregateType string) (core.Version, error) {
	var version uint64
	statement := `SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id=$1 AND aggregate_type=$2`
	if err := s.db.QueryRowContext(ctx, statement, id, aggregateType).Scan(&version); err != nil {
		return 0, err
	}
	return core.Version(version), nil
}

// Count returns the total number of stored events
func (s *SQL) Count(ctx context.Context) (uint64, error) {
	var count uint64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// CountForAggregate returns the number of events stored for the aggregate
func (s *SQL) CountForAggregate(ctx context.Context, id string, aggregateType string) (uint64, error) {
	var count uint64
	statement := `SELECT COUNT(*) FROM events WHERE aggregate_id=$1 AND aggregate_type=$2`
	if err := s.db.QueryRowContext(ctx, statement, id, aggregateType).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// isVersionConflict matches unique constraint violations of the
// events_id_type_version index, the sqlite message names the version column
// and the postgres message names the index. Other unique violations are not
// version races and must not surface as a concurrency error.
func isVersionConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "unique") && !strings.Contains(msg, "duplicate key") {
		return false
	}
	return strings.Contains(msg, "version")
}

var _ core.EventStore = &SQL{}
