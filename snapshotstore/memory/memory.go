// Package memory holds the in memory snapshot store
package memory

import (
	"context"
	"sync"

	"github.com/oxtal/eventsource/core"
)

// Handler of snapshot store
type Handler struct {
	mu sync.RWMutex
	// snapshots per aggregate in version order, multiple versions coexist
	store map[string][]core.Snapshot
}

// New handler for the snapshot service
func New() *Handler {
	return &Handler{
		store: make(map[string][]core.Snapshot),
	}
}

// Save upserts the snapshot keyed on (id, type, version)
func (h *Handler) Save(snapshot core.Snapshot) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := snapshotKey(snapshot.Type, snapshot.ID)
	snapshots := h.store[key]
	for i := range snapshots {
		if snapshots[i].Version == snapshot.Version {
			snapshots[i] = snapshot
			return nil
		}
	}
	// keep the slice ordered by version, saves arrive in increasing order
	// but an out of order write is still placed correctly
	pos := len(snapshots)
	for i := range snapshots {
		if snapshots[i].Version > snapshot.Version {
			pos = i
			break
		}
	}
	snapshots = append(snapshots, core.Snapshot{})
	copy(snapshots[pos+1:], snapshots[pos:])
	snapshots[pos] = snapshot
	h.store[key] = snapshots
	return nil
}

// Get returns the snapshot with the highest version for the aggregate
func (h *Handler) Get(ctx context.Context, id string, aggregateType string) (core.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return core.Snapshot{}, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	snapshots := h.store[snapshotKey(aggregateType, id)]
	if len(snapshots) == 0 {
		return core.Snapshot{}, core.ErrSnapshotNotFound
	}
	return snapshots[len(snapshots)-1], nil
}

// GetAtVersion returns the snapshot taken at the exact version
func (h *Handler) GetAtVersion(ctx context.Context, id string, aggregateType string, version core.Version) (core.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return core.Snapshot{}, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, snapshot := range h.store[snapshotKey(aggregateType, id)] {
		if snapshot.Version == version {
			return snapshot, nil
		}
	}
	return core.Snapshot{}, core.ErrSnapshotNotFound
}

// Delete removes all snapshots for the aggregate
func (h *Handler) Delete(ctx context.Context, id string, aggregateType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.store, snapshotKey(aggregateType, id))
	return nil
}

// DeleteOlderThan removes snapshots with version < version for the aggregate
func (h *Handler) DeleteOlderThan(ctx context.Context, id string, aggregateType string, version core.Version) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	key := snapshotKey(aggregateType, id)
	var kept []core.Snapshot
	for _, snapshot := range h.store[key] {
		if snapshot.Version >= version {
			kept = append(kept, snapshot)
		}
	}
	if len(kept) == 0 {
		delete(h.store, key)
		return nil
	}
	h.store[key] = kept
	return nil
}

func snapshotKey(aggregateType, aggregateID string) string {
	return aggregateType + "_" + aggregateID
}

var _ core.SnapshotStore = &Handler{}
