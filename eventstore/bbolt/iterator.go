package bbolt

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/oxtal/eventsource/core"
)

type iterator struct {
	tx         *bbolt.Tx
	bucketName string
	startKey   uint64
	limit      uint64 // 0 means no limit
	filter     func(boltEvent) bool
	cursor     *bbolt.Cursor
	event      boltEvent
	err        error
	returned   uint64
}

// Next advances to the next matching event, a decode failure is surfaced on Value
func (i *iterator) Next() bool {
	for {
		if i.limit > 0 && i.returned >= i.limit {
			return false
		}
		var k, obj []byte
		if i.cursor == nil {
			bucket := i.tx.Bucket([]byte(i.bucketName))
			if bucket == nil {
				return false
			}
			i.cursor = bucket.Cursor()
			k, obj = i.cursor.Seek(itob(i.startKey))
		} else {
			k, obj = i.cursor.Next()
		}
		if k == nil {
			return false
		}

		bEvent := boltEvent{}
		if err := json.Unmarshal(obj, &bEvent); err != nil {
			i.err = fmt.Errorf("could not deserialize event: %w", err)
			return true
		}
		if i.filter != nil && !i.filter(bEvent) {
			continue
		}
		i.event = bEvent
		i.returned++
		return true
	}
}

// Value return the current event
func (i *iterator) Value() (core.Event, error) {
	if i.err != nil {
		return core.Event{}, i.err
	}
	event := core.Event{
		EventID:       i.event.EventID,
		AggregateID:   i.event.AggregateID,
		Version:       core.Version(i.event.Version),
		GlobalVersion: core.Version(i.event.GlobalVersion),
		AggregateType: i.event.AggregateType,
		Timestamp:     i.event.Timestamp,
		StoredAt:      i.event.StoredAt,
		Reason:        i.event.Reason,
		Data:          i.event.Data,
		Metadata:      i.event.Metadata,
	}
	return event, nil
}

// Close closes the iterator
func (i *iterator) Close() {
	i.tx.Rollback()
}
