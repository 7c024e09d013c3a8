package sql

import (
	"database/sql"
	"time"

	"github.com/oxtal/eventsource/core"
)

type iterator struct {
	rows *sql.Rows
	err  error
}

// Next return true if there is a next event. A failed scan ends the row
// stream the same way a clean end does, the failure is surfaced on Value so
// a truncated history is never mistaken for a complete one.
func (i *iterator) Next() bool {
	if i.err != nil {
		return false
	}
	if i.rows.Next() {
		return true
	}
	if err := i.rows.Err(); err != nil {
		i.err = err
		return true
	}
	return false
}

// Value return the current event
func (i *iterator) Value() (core.Event, error) {
	if i.err != nil {
		return core.Event{}, i.err
	}
	var seq, version uint64
	var eventID, id, reason, typ, timestamp, storedAt string
	var data, metadata sql.NullString
	if err := i.rows.Scan(&seq, &eventID, &id, &version, &reason, &typ, &timestamp, &storedAt, &data, &metadata); err != nil {
		return core.Event{}, err
	}

	t, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return core.Event{}, err
	}
	st, err := time.Parse(time.RFC3339Nano, storedAt)
	if err != nil {
		return core.Event{}, err
	}

	event := core.Event{
		EventID:       eventID,
		AggregateID:   id,
		Version:       core.Version(version),
		GlobalVersion: core.Version(seq),
		AggregateType: typ,
		Timestamp:     t,
		StoredAt:      st,
		Reason:        reason,
		Data:          []byte(data.String),
		Metadata:      []byte(metadata.String),
	}
	return event, nil
}

// Close closes the iterator
func (i *iterator) Close() {
	i.rows.Close()
}
