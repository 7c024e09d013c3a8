// Package eventstore holds validation shared by the event store backends.
package eventstore

import (
	"errors"

	"github.com/oxtal/eventsource/core"
)

// ErrEventMultipleAggregates when events holds events for more than one aggregate
var ErrEventMultipleAggregates = errors.New("events holds events for more than one aggregate")

// ErrEventMultipleAggregateTypes when events holds events for more than one aggregate type
var ErrEventMultipleAggregateTypes = errors.New("events holds events for more than one aggregate type")

// ErrReasonMissing when the reason is not present in the events
var ErrReasonMissing = errors.New("event holds no reason")

// ErrAggregateIDMissing when the aggregate id is not present in the events
var ErrAggregateIDMissing = errors.New("event holds no aggregate id")

// PrepareEvents assigns versions to a batch of incoming events and validates
// it against the version currently stored for the aggregate. An event with
// Version 0 is assigned the next version in the batch, a pre-set version that
// does not continue the stored sequence is a core.ErrConcurrency. The batch
// must target a single aggregate. Backends call this inside their write
// critical section so concurrent saves for one aggregate can never both pass.
func PrepareEvents(currentVersion core.Version, events []core.Event) error {
	if len(events) == 0 {
		return nil
	}
	aggregateID := events[0].AggregateID
	aggregateType := events[0].AggregateType
	if aggregateID == "" {
		return ErrAggregateIDMissing
	}

	for i := range events {
		if events[i].AggregateID != aggregateID {
			return ErrEventMultipleAggregates
		}
		if events[i].AggregateType != aggregateType {
			return ErrEventMultipleAggregateTypes
		}
		if events[i].Reason == "" {
			return ErrReasonMissing
		}
		if events[i].Version == 0 {
			events[i].Version = currentVersion + 1
		} else if events[i].Version != currentVersion+1 {
			return core.ErrConcurrency
		}
		currentVersion = events[i].Version
	}
	return nil
}
