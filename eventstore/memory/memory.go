// Package memory holds the in memory event store, the backing store used in
// tests and as a stand-in for a relational store in single process setups.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oxtal/eventsource/core"
	"github.com/oxtal/eventsource/eventstore"
)

// Memory is an event store for testing purpose
type Memory struct {
	mu sync.RWMutex
	// events per aggregate in version order
	aggregateEvents map[string][]core.Event
	// the global event order
	eventsInOrder []core.Event
	// positions into eventsInOrder per reason, avoids full log scans on type queries
	byReason map[string][]int
}

// Create in memory event store
func Create() *Memory {
	return &Memory{
		aggregateEvents: make(map[string][]core.Event),
		eventsInOrder:   make([]core.Event, 0),
		byReason:        make(map[string][]int),
	}
}

// Save a batch of events, all or nothing. Version assignment and the
// concurrency check happen under the store lock.
func (e *Memory) Save(events []core.Event) error {
	if len(events) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	key := aggregateKey(events[0].AggregateType, events[0].AggregateID)
	bucket := e.aggregateEvents[key]

	currentVersion := core.Version(0)
	if len(bucket) > 0 {
		currentVersion = bucket[len(bucket)-1].Version
	}

	if err := eventstore.PrepareEvents(currentVersion, events); err != nil {
		return err
	}

	now := time.Now().UTC()
	globalVersion := core.Version(len(e.eventsInOrder))
	for i := range events {
		globalVersion++
		events[i].GlobalVersion = globalVersion
		events[i].StoredAt = now

		bucket = append(bucket, events[i])
		e.eventsInOrder = append(e.eventsInOrder, events[i])
		e.byReason[events[i].Reason] = append(e.byReason[events[i].Reason], len(e.eventsInOrder)-1)
	}
	e.aggregateEvents[key] = bucket
	return nil
}

// Get aggregate events with version > afterVersion
func (e *Memory) Get(ctx context.Context, id string, aggregateType string, afterVersion core.Version) (core.Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	var events []core.Event
	for _, event := range e.aggregateEvents[aggregateKey(aggregateType, id)] {
		if event.Version > afterVersion {
			events = append(events, event)
		}
	}
	if len(events) == 0 {
		return core.NopIterator{}, nil
	}
	return &sliceIterator{events: events}, nil
}

// All returns up to limit events with global version >= startSeq in global order
func (e *Memory) All(ctx context.Context, startSeq core.Version, limit uint64) (core.Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	var events []core.Event
	for _, event := range e.eventsInOrder {
		if event.GlobalVersion < startSeq {
			continue
		}
		events = append(events, event)
		if uint64(len(events)) >= limit {
			break
		}
	}
	return &sliceIterator{events: events}, nil
}

// ByReason returns up to limit events of the reason with global version >= startSeq
func (e *Memory) ByReason(ctx context.Context, reason string, startSeq core.Version, limit uint64) (core.Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	var events []core.Event
	for _, pos := range e.byReason[reason] {
		event := e.eventsInOrder[pos]
		if event.GlobalVersion < startSeq {
			continue
		}
		events = append(events, event)
		if uint64(len(events)) >= limit {
			break
		}
	}
	return &sliceIterator{events: events}, nil
}

// After returns events that occurred after t in global order
func (e *Memory) After(ctx context.Context, t time.Time) (core.Iterator, error) {
	return e.Between(ctx, t.Add(time.Nanosecond), time.Time{})
}

// Between returns events that occurred in [from, to] in global order.
// A zero to means no upper bound.
func (e *Memory) Between(ctx context.Context, from, to time.Time) (core.Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	var events []core.Event
	for _, event := range e.eventsInOrder {
		if event.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && event.Timestamp.After(to) {
			continue
		}
		events = append(events, event)
	}
	return &sliceIterator{events: events}, nil
}

// AggregateVersion returns the current version of the aggregate, 0 if it has no events
func (e *Memory) AggregateVersion(ctx context.Context, id string, aggregateType string) (core.Version, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	bucket := e.aggregateEvents[aggregateKey(aggregateType, id)]
	if len(bucket) == 0 {
		return 0, nil
	}
	return bucket[len(bucket)-1].Version, nil
}

// Count returns the total number of stored events
func (e *Memory) Count(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	return uint64(len(e.eventsInOrder)), nil
}

// CountForAggregate returns the number of events stored for the aggregate
func (e *Memory) CountForAggregate(ctx context.Context, id string, aggregateType string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	return uint64(len(e.aggregateEvents[aggregateKey(aggregateType, id)])), nil
}

// Close does nothing
func (e *Memory) Close() {}

// aggregateKey generates the key events are stored against from aggregateType and aggregateID
func aggregateKey(aggregateType, aggregateID string) string {
	return aggregateType + "_" + aggregateID
}

type sliceIterator struct {
	events []core.Event
	pos    int
}

func (i *sliceIterator) Next() bool {
	if i.pos >= len(i.events) {
		return false
	}
	i.pos++
	return true
}

func (i *sliceIterator) Value() (core.Event, error) {
	return i.events[i.pos-1], nil
}

func (i *sliceIterator) Close() {}
