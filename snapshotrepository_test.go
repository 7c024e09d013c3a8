package eventsource_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	eventsource "github.com/oxtal/eventsource"
	"github.com/oxtal/eventsource/core"
	"github.com/oxtal/eventsource/eventstore/memory"
	snapshotmemory "github.com/oxtal/eventsource/snapshotstore/memory"
)

func TestSnapshotLoadMatchesFullReplay(t *testing.T) {
	// the equivalence must hold wherever the snapshot sits in the history
	const total = 8
	for k := 1; k <= total; k++ {
		t.Run(fmt.Sprintf("snapshot at version %d", k), func(t *testing.T) {
			es := memory.Create()
			snapshots := snapshotmemory.New()
			eventRepo := eventsource.NewEventRepository(es)
			at := eventsource.Version(k)
			repo := eventsource.NewSnapshotRepository(snapshots, eventRepo,
				eventsource.WithSnapshotPolicy(func(v eventsource.Version) bool { return v == at }))
			repo.Register(&Person{})

			person, err := CreatePersonWithID("42", "kalle")
			require.NoError(t, err)
			for i := 1; i < k; i++ {
				person.GrowOlder()
			}
			require.NoError(t, repo.Save(person))

			for i := k; i < total; i++ {
				person.GrowOlder()
			}
			require.NoError(t, repo.Save(person))

			snap, err := snapshots.Get(context.Background(), "42", "Person")
			require.NoError(t, err)
			require.Equal(t, core.Version(k), snap.Version)

			fromSnapshot := Person{}
			require.NoError(t, repo.Get("42", &fromSnapshot))

			fromReplay := Person{}
			require.NoError(t, eventRepo.Get("42", &fromReplay))

			require.Equal(t, fromReplay.Name, fromSnapshot.Name)
			require.Equal(t, fromReplay.Age, fromSnapshot.Age)
			require.Equal(t, fromReplay.Version(), fromSnapshot.Version())
			require.Equal(t, fromReplay.GlobalVersion(), fromSnapshot.GlobalVersion())
		})
	}
}

func TestCorruptSnapshotStateDoesNotLeakIntoReplay(t *testing.T) {
	es := memory.Create()
	now := time.Now().UTC()
	// a history without a resetting first event, state folds incrementally
	require.NoError(t, es.Save([]core.Event{
		{EventID: "1", AggregateID: "42", AggregateType: "Person", Version: 1, Reason: "AgedOneYear", Timestamp: now, Data: []byte(`{}`)},
		{EventID: "2", AggregateID: "42", AggregateType: "Person", Version: 2, Reason: "AgedOneYear", Timestamp: now, Data: []byte(`{}`)},
	}))

	snapshots := snapshotmemory.New()
	// truncated payload, the decoder sets Age before it fails
	require.NoError(t, snapshots.Save(core.Snapshot{
		ID: "42", Type: "Person", Version: 1, State: []byte(`{"Age":50,"Name":`), CreatedAt: now,
	}))

	repo := eventsource.NewSnapshotRepository(snapshots, eventsource.NewEventRepository(es))
	repo.Register(&Person{})

	twin := Person{}
	require.NoError(t, repo.Get("42", &twin))
	require.Equal(t, eventsource.Version(2), twin.Version())
	require.Equal(t, 2, twin.Age, "partially decoded snapshot state must not survive the fallback replay")
}

func TestSnapshotLoadReplaysOnlyTheTail(t *testing.T) {
	es := &countingStore{Memory: memory.Create()}
	eventRepo := eventsource.NewEventRepository(es)
	repo := eventsource.NewSnapshotRepository(snapshotmemory.New(), eventRepo, eventsource.WithSnapshotPolicy(eventsource.SnapshotEvery(5)))
	repo.Register(&Person{})

	// snapshot taken at version 5
	person, err := CreatePersonWithID("42", "kalle")
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		person.GrowOlder()
	}
	require.NoError(t, repo.Save(person))

	// three more events stored after the snapshot
	person.GrowOlder()
	person.GrowOlder()
	person.GrowOlder()
	require.NoError(t, repo.Save(person))

	es.replayed = 0
	twin := Person{}
	require.NoError(t, repo.Get("42", &twin))

	require.Equal(t, 3, es.replayed, "only events after the snapshot should be replayed")
	require.Equal(t, eventsource.Version(8), twin.Version())
	require.Equal(t, 7, twin.Age)
}

func TestDefaultPolicySnapshotsEveryTenthVersion(t *testing.T) {
	snapshots := snapshotmemory.New()
	repo := eventsource.NewSnapshotRepository(snapshots, eventsource.NewEventRepository(memory.Create()))
	repo.Register(&Person{})

	person, err := CreatePersonWithID("42", "kalle")
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		person.GrowOlder()
	}
	require.NoError(t, repo.Save(person))

	// version 9, below the snapshot threshold
	_, err = snapshots.Get(context.Background(), "42", "Person")
	require.ErrorIs(t, err, core.ErrSnapshotNotFound)

	person.GrowOlder()
	require.NoError(t, repo.Save(person))

	snap, err := snapshots.Get(context.Background(), "42", "Person")
	require.NoError(t, err)
	require.Equal(t, core.Version(10), snap.Version)
}

func TestDegradedSnapshotStoreFallsBackToFullReplay(t *testing.T) {
	repo := eventsource.NewSnapshotRepository(
		failingSnapshotStore{err: errors.New("snapshot store down")},
		eventsource.NewEventRepository(memory.Create()),
		eventsource.WithSnapshotPolicy(eventsource.SnapshotAlways()),
	)
	repo.Register(&Person{})

	person, err := CreatePersonWithID("42", "kalle")
	require.NoError(t, err)
	person.GrowOlder()

	// the snapshot write fails but the events are durable, save must succeed
	require.NoError(t, repo.Save(person))

	twin := Person{}
	require.NoError(t, repo.Get("42", &twin))
	require.Equal(t, eventsource.Version(2), twin.Version())
	require.Equal(t, 1, twin.Age)
}

func TestSaveSnapshotWithUnsavedEvents(t *testing.T) {
	repo := eventsource.NewSnapshotRepository(snapshotmemory.New(), eventsource.NewEventRepository(memory.Create()))
	repo.Register(&Person{})

	person, err := CreatePerson("kalle")
	require.NoError(t, err)
	require.ErrorIs(t, repo.SaveSnapshot(person), eventsource.ErrUnsavedEvents)
}

func TestSaveSnapshotWithEmptyID(t *testing.T) {
	repo := eventsource.NewSnapshotRepository(snapshotmemory.New(), eventsource.NewEventRepository(memory.Create()))
	repo.Register(&Person{})

	person := Person{}
	require.ErrorIs(t, repo.SaveSnapshot(&person), eventsource.ErrEmptyID)
}

func TestSnapshotGetNoneExistingAggregate(t *testing.T) {
	repo := eventsource.NewSnapshotRepository(snapshotmemory.New(), eventsource.NewEventRepository(memory.Create()))
	repo.Register(&Person{})

	person := Person{}
	err := repo.Get("none_existing", &person)
	require.ErrorIs(t, err, eventsource.ErrAggregateNotFound)
}

// countingStore counts the events handed out by Get
type countingStore struct {
	*memory.Memory
	replayed int
}

func (c *countingStore) Get(ctx context.Context, id string, aggregateType string, afterVersion core.Version) (core.Iterator, error) {
	iterator, err := c.Memory.Get(ctx, id, aggregateType, afterVersion)
	if err != nil {
		return nil, err
	}
	return &countingIterator{Iterator: iterator, replayed: &c.replayed}, nil
}

type countingIterator struct {
	core.Iterator
	replayed *int
}

func (c *countingIterator) Next() bool {
	if c.Iterator.Next() {
		*c.replayed++
		return true
	}
	return false
}

// failingSnapshotStore returns an error on every operation
type failingSnapshotStore struct {
	err error
}

func (f failingSnapshotStore) Save(core.Snapshot) error { return f.err }
func (f failingSnapshotStore) Get(context.Context, string, string) (core.Snapshot, error) {
	return core.Snapshot{}, f.err
}
func (f failingSnapshotStore) GetAtVersion(context.Context, string, string, core.Version) (core.Snapshot, error) {
	return core.Snapshot{}, f.err
}
func (f failingSnapshotStore) Delete(context.Context, string, string) error { return f.err }
func (f failingSnapshotStore) DeleteOlderThan(context.Context, string, string, core.Version) error {
	return f.err
}
