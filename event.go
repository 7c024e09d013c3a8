package eventsource

import (
	"time"

	"github.com/oxtal/eventsource/core"
)

// Version is the event version used in event.Version, event.GlobalVersion and aggregateRoot
type Version core.Version

// Event is the external presentation of a stored event. It wraps the internal
// core.Event together with the decoded application data and metadata. Events
// are immutable, the struct only exposes read accessors.
type Event struct {
	event    core.Event
	data     interface{}
	metadata map[string]interface{}
}

// NewEvent combines the internal event with already decoded data and metadata
func NewEvent(e core.Event, data interface{}, metadata map[string]interface{}) Event {
	return Event{
		event:    e,
		data:     data,
		metadata: metadata,
	}
}

func (e Event) EventID() string {
	return e.event.EventID
}

func (e Event) AggregateID() string {
	return e.event.AggregateID
}

func (e Event) AggregateType() string {
	return e.event.AggregateType
}

// Reason is the name of the event data type, used as the event type tag in
// the store and in projector registrations
func (e Event) Reason() string {
	return e.event.Reason
}

func (e Event) Version() Version {
	return Version(e.event.Version)
}

func (e Event) GlobalVersion() Version {
	return Version(e.event.GlobalVersion)
}

func (e Event) Timestamp() time.Time {
	return e.event.Timestamp
}

// StoredAt is the time the store persisted the event, zero for unsaved events
func (e Event) StoredAt() time.Time {
	return e.event.StoredAt
}

func (e Event) Data() interface{} {
	return e.data
}

func (e Event) Metadata() map[string]interface{} {
	return e.metadata
}
