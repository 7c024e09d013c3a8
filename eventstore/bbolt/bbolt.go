// Package bbolt holds the bbolt backed event store. Events are stored per
// aggregate bucket keyed by version, with a copy in a global bucket keyed by
// the storage wide sequence number.
package bbolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/oxtal/eventsource/core"
	"github.com/oxtal/eventsource/eventstore"
)

const globalEventOrderBucketName = "global_event_order"

// itob returns an 8-byte big endian representation of v.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btoi(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// BBolt is a handler for event streaming
type BBolt struct {
	db *bbolt.DB
}

type boltEvent struct {
	EventID       string
	AggregateID   string
	Version       uint64
	GlobalVersion uint64
	Reason        string
	AggregateType string
	Timestamp     time.Time
	StoredAt      time.Time
	Data          []byte
	Metadata      []byte
}

// MustOpenBBolt opens the event store found in the given file. If the file is
// not found it will be created and initialized. Will panic if it has problems
// persisting the changes to the filesystem.
func MustOpenBBolt(dbFile string) *BBolt {
	db, err := bbolt.Open(dbFile, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		panic(err)
	}

	// Ensure that we have a bucket to store the global event ordering
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(globalEventOrderBucketName))
		return err
	})
	if err != nil {
		panic(err)
	}
	return &BBolt{
		db: db,
	}
}

// Close the db file
func (e *BBolt) Close() error {
	return e.db.Close()
}

// Save a batch of events, all or nothing within one write transaction.
// bbolt serializes write transactions so concurrent saves for one aggregate
// can never both pass the version check.
func (e *BBolt) Save(events []core.Event) error {
	if len(events) == 0 {
		return nil
	}

	bucketName := aggregateKey(events[0].AggregateType, events[0].AggregateID)

	tx, err := e.db.Begin(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	evBucket, err := tx.CreateBucketIfNotExists([]byte(bucketName))
	if err != nil {
		return fmt.Errorf("could not create aggregate events bucket: %w", err)
	}

	currentVersion := core.Version(0)
	if k, _ := evBucket.Cursor().Last(); k != nil {
		currentVersion = core.Version(btoi(k))
	}

	if err := eventstore.PrepareEvents(currentVersion, events); err != nil {
		return err
	}

	globalBucket := tx.Bucket([]byte(globalEventOrderBucketName))
	now := time.Now().UTC()
	for i := range events {
		// the global sequence spans all aggregate buckets so events can be
		// replayed in the order they entered the store
		globalSequence, err := globalBucket.NextSequence()
		if err != nil {
			return fmt.Errorf("could not get next global sequence: %w", err)
		}
		events[i].GlobalVersion = core.Version(globalSequence)
		events[i].StoredAt = now

		value, err := json.Marshal(boltEventFrom(events[i]))
		if err != nil {
			return fmt.Errorf("could not serialize event: %w", err)
		}
		if err := evBucket.Put(itob(uint64(events[i].Version)), value); err != nil {
			return fmt.Errorf("could not save event in aggregate bucket: %w", err)
		}
		if err := globalBucket.Put(itob(globalSequence), value); err != nil {
			return fmt.Errorf("could not save event in global bucket: %w", err)
		}
	}
	return tx.Commit()
}

// Get aggregate events with version > afterVersion
func (e *BBolt) Get(ctx context.Context, id string, aggregateType string, afterVersion core.Version) (core.Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := e.db.Begin(false)
	if err != nil {
		return nil, err
	}
	bucketName := aggregateKey(aggregateType, id)
	if tx.Bucket([]byte(bucketName)) == nil {
		// aggregate with no events has no bucket
		tx.Rollback()
		return core.NopIterator{}, nil
	}
	return &iterator{tx: tx, bucketName: bucketName, startKey: uint64(afterVersion) + 1}, nil
}

// All returns up to limit events with global sequence >= startSeq
func (e *BBolt) All(ctx context.Context, startSeq core.Version, limit uint64) (core.Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := e.db.Begin(false)
	if err != nil {
		return nil, err
	}
	return &iterator{tx: tx, bucketName: globalEventOrderBucketName, startKey: uint64(startSeq), limit: limit}, nil
}

// ByReason returns up to limit events of the reason with global sequence >= startSeq.
// The global bucket is scanned and filtered, reasons are not indexed.
func (e *BBolt) ByReason(ctx context.Context, reason string, startSeq core.Version, limit uint64) (core.Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := e.db.Begin(false)
	if err != nil {
		return nil, err
	}
	filter := func(b boltEvent) bool { return b.Reason == reason }
	return &iterator{tx: tx, bucketName: globalEventOrderBucketName, startKey: uint64(startSeq), limit: limit, filter: filter}, nil
}

// After returns events that occurred after t in global order
func (e *BBolt) After(ctx context.Context, t time.Time) (core.Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := e.db.Begin(false)
	if err != nil {
		return nil, err
	}
	filter := func(b boltEvent) bool { return b.Timestamp.After(t) }
	return &iterator{tx: tx, bucketName: globalEventOrderBucketName, startKey: 1, filter: filter}, nil
}

// Between returns events that occurred in [from, to] in global order.
// A zero to means no upper bound.
func (e *BBolt) Between(ctx context.Context, from, to time.Time) (core.Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := e.db.Begin(false)
	if err != nil {
		return nil, err
	}
	filter := func(b boltEvent) bool {
		return !b.Timestamp.Before(from) && (to.IsZero() || !b.Timestamp.After(to))
	}
	return &iterator{tx: tx, bucketName: globalEventOrderBucketName, startKey: 1, filter: filter}, nil
}

// AggregateVersion returns the current version of the aggregate, 0 if it has no events
func (e *BBolt) AggregateVersion(ctx context.Context, id string, aggregateType string) (core.Version, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var version core.Version
	err := e.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(aggregateKey(aggregateType, id)))
		if bucket == nil {
			return nil
		}
		if k, _ := bucket.Cursor().Last(); k != nil {
			version = core.Version(btoi(k))
		}
		return nil
	})
	return version, err
}

// Count returns the total number of stored events
func (e *BBolt) Count(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var count uint64
	err := e.db.View(func(tx *bbolt.Tx) error {
		count = uint64(tx.Bucket([]byte(globalEventOrderBucketName)).Stats().KeyN)
		return nil
	})
	return count, err
}

// CountForAggregate returns the number of events stored for the aggregate
func (e *BBolt) CountForAggregate(ctx context.Context, id string, aggregateType string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var count uint64
	err := e.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(aggregateKey(aggregateType, id)))
		if bucket == nil {
			return nil
		}
		count = uint64(bucket.Stats().KeyN)
		return nil
	})
	return count, err
}

func boltEventFrom(event core.Event) boltEvent {
	return boltEvent{
		EventID:       event.EventID,
		AggregateID:   event.AggregateID,
		Version:       uint64(event.Version),
		GlobalVersion: uint64(event.GlobalVersion),
		Reason:        event.Reason,
		AggregateType: event.AggregateType,
		Timestamp:     event.Timestamp,
		StoredAt:      event.StoredAt,
		Data:          event.Data,
		Metadata:      event.Metadata,
	}
}

// aggregateKey generate a aggregate key to store events against from aggregateType and aggregateID
func aggregateKey(aggregateType, aggregateID string) string {
	return "events_" + aggregateType + "_" + aggregateID
}

var _ core.EventStore = &BBolt{}
