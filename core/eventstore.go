package core

import (
	"context"
	"errors"
	"time"
)

// ErrConcurrency when the currently saved version of the aggregate differs from the new ones
var ErrConcurrency = errors.New("concurrency error")

// Iterator is the interface an event store read needs to return
type Iterator interface {
	Next() bool
	Value() (Event, error)
	Close()
}

// EventStore interface expose the methods an event store must uphold.
//
// Save persists a batch of events atomically, all or none become visible to
// readers. The store assigns the GlobalVersion and StoredAt properties. An
// event with Version 0 is assigned the next version of its aggregate, a
// pre-set version that does not follow the currently stored version results
// in ErrConcurrency. Two concurrent Save calls for the same aggregate can
// never both commit the same version.
//
// Get returns the events for one aggregate with version > afterVersion in
// version order. All, ByReason, After and Between return events in global
// storage order. All and ByReason are paginated via startSeq/limit to keep
// full log scans bounded in memory. Between treats a zero to as no upper
// bound.
type EventStore interface {
	Save(events []Event) error
	Get(ctx context.Context, id string, aggregateType string, afterVersion Version) (Iterator, error)
	All(ctx context.Context, startSeq Version, limit uint64) (Iterator, error)
	ByReason(ctx context.Context, reason string, startSeq Version, limit uint64) (Iterator, error)
	After(ctx context.Context, t time.Time) (Iterator, error)
	Between(ctx context.Context, from, to time.Time) (Iterator, error)
	AggregateVersion(ctx context.Context, id string, aggregateType string) (Version, error)
	Count(ctx context.Context) (uint64, error)
	CountForAggregate(ctx context.Context, id string, aggregateType string) (uint64, error)
}
