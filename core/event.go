package core

import (
	"time"
)

// Version is the event version used in event.Version, event.GlobalVersion and aggregateRoot
type Version uint64

// Event holding meta data and the application specific event in the Data property.
// Version is the per aggregate event order, GlobalVersion is the storage wide
// sequence number assigned when the event is saved.
type Event struct {
	EventID       string
	AggregateID   string
	Version       Version
	GlobalVersion Version
	AggregateType string
	Timestamp     time.Time
	StoredAt      time.Time
	Reason        string // based on the Data type
	Data          []byte // interface{} on the external Event type
	Metadata      []byte // map[string]interface{} on the external Event type
}
