package core

import (
	"context"
	"errors"
	"time"
)

// ErrSnapshotNotFound returns if snapshot not found
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Snapshot holds the state of an aggregate at a specific version.
// A snapshot is a cache, the event log stays the source of truth.
type Snapshot struct {
	ID            string
	Type          string
	Version       Version
	GlobalVersion Version
	State         []byte
	CreatedAt     time.Time
}

// SnapshotStore interface expose the methods a snapshot store must uphold.
// Save is an upsert on (id, type, version), snapshots at different versions
// for the same aggregate coexist. Get returns the snapshot with the highest
// version. Delete and DeleteOlderThan are retention controls and never touch
// the event log.
type SnapshotStore interface {
	Save(snapshot Snapshot) error
	Get(ctx context.Context, id string, aggregateType string) (Snapshot, error)
	GetAtVersion(ctx context.Context, id string, aggregateType string, version Version) (Snapshot, error)
	Delete(ctx context.Context, id string, aggregateType string) error
	DeleteOlderThan(ctx context.Context, id string, aggregateType string, version Version) error
}
