// Package suite is a conformance test for snapshot store implementations
package suite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oxtal/eventsource/core"
)

type snapshotstoreFunc = func() (core.SnapshotStore, func(), error)

func Test(t *testing.T, ssFunc snapshotstoreFunc) {
	tests := []struct {
		title string
		run   func(t *testing.T, ss core.SnapshotStore)
	}{
		{"should return not found on missing snapshot", getMissing},
		{"should save and get the latest snapshot", saveAndGetLatest},
		{"should overwrite a snapshot at the same version", upsert},
		{"should get a snapshot at an exact version", getAtVersion},
		{"should delete all snapshots for an aggregate", deleteAll},
		{"should delete snapshots older than a version", deleteOlderThan},
	}
	for _, test := range tests {
		t.Run(test.title, func(t *testing.T) {
			ss, closeFunc, err := ssFunc()
			if err != nil {
				t.Fatal(err)
			}
			test.run(t, ss)
			closeFunc()
		})
	}
}

const id = "123"
const aggregateType = "Person"

func snapshotAt(version core.Version) core.Snapshot {
	return core.Snapshot{
		ID:            id,
		Type:          aggregateType,
		Version:       version,
		GlobalVersion: version,
		State:         []byte(`{"Name":"kalle","Age":40}`),
		CreatedAt:     time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC),
	}
}

func getMissing(t *testing.T, ss core.SnapshotStore) {
	_, err := ss.Get(context.Background(), "missing", aggregateType)
	if !errors.Is(err, core.ErrSnapshotNotFound) {
		t.Fatalf("expected snapshot not found, got %v", err)
	}
}

func saveAndGetLatest(t *testing.T, ss core.SnapshotStore) {
	for _, version := range []core.Version{10, 20, 30} {
		if err := ss.Save(snapshotAt(version)); err != nil {
			t.Fatal(err)
		}
	}

	snapshot, err := ss.Get(context.Background(), id, aggregateType)
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.Version != 30 {
		t.Fatalf("expected the highest version 30, got %d", snapshot.Version)
	}
	if string(snapshot.State) == "" {
		t.Fatal("snapshot state was lost")
	}
	if snapshot.CreatedAt.IsZero() {
		t.Fatal("created at was lost")
	}
}

func upsert(t *testing.T, ss core.SnapshotStore) {
	if err := ss.Save(snapshotAt(10)); err != nil {
		t.Fatal(err)
	}
	updated := snapshotAt(10)
	updated.State = []byte(`{"Name":"kalle","Age":41}`)
	if err := ss.Save(updated); err != nil {
		t.Fatal(err)
	}

	snapshot, err := ss.Get(context.Background(), id, aggregateType)
	if err != nil {
		t.Fatal(err)
	}
	if string(snapshot.State) != string(updated.State) {
		t.Fatal("save at the same version should overwrite")
	}
}

func getAtVersion(t *testing.T, ss core.SnapshotStore) {
	for _, version := range []core.Version{10, 20, 30} {
		if err := ss.Save(snapshotAt(version)); err != nil {
			t.Fatal(err)
		}
	}

	snapshot, err := ss.GetAtVersion(context.Background(), id, aggregateType, 20)
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.Version != 20 {
		t.Fatalf("expected version 20, got %d", snapshot.Version)
	}

	_, err = ss.GetAtVersion(context.Background(), id, aggregateType, 15)
	if !errors.Is(err, core.ErrSnapshotNotFound) {
		t.Fatalf("expected snapshot not found at version 15, got %v", err)
	}
}

func deleteAll(t *testing.T, ss core.SnapshotStore) {
	for _, version := range []core.Version{10, 20} {
		if err := ss.Save(snapshotAt(version)); err != nil {
			t.Fatal(err)
		}
	}

	if err := ss.Delete(context.Background(), id, aggregateType); err != nil {
		t.Fatal(err)
	}
	_, err := ss.Get(context.Background(), id, aggregateType)
	if !errors.Is(err, core.ErrSnapshotNotFound) {
		t.Fatalf("expected snapshot not found after delete, got %v", err)
	}
}

func deleteOlderThan(t *testing.T, ss core.SnapshotStore) {
	for _, version := range []core.Version{10, 20, 30} {
		if err := ss.Save(snapshotAt(version)); err != nil {
			t.Fatal(err)
		}
	}

	if err := ss.DeleteOlderThan(context.Background(), id, aggregateType, 30); err != nil {
		t.Fatal(err)
	}

	_, err := ss.GetAtVersion(context.Background(), id, aggregateType, 10)
	if !errors.Is(err, core.ErrSnapshotNotFound) {
		t.Fatalf("expected version 10 to be deleted, got %v", err)
	}
	snapshot, err := ss.Get(context.Background(), id, aggregateType)
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.Version != 30 {
		t.Fatalf("expected version 30 to survive, got %d", snapshot.Version)
	}
}
