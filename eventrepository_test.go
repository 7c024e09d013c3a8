package eventsource_test

import (
	"context"
	"errors"
	"testing"
	"time"

	eventsource "github.com/oxtal/eventsource"
	"github.com/oxtal/eventsource/core"
	"github.com/oxtal/eventsource/eventstore/memory"
)

func TestSaveAndGetAggregate(t *testing.T) {
	repo := eventsource.NewEventRepository(memory.Create())
	repo.Register(&Person{})

	person, _ := CreatePerson("kalle")
	person.GrowOlder()
	if err := repo.Save(person); err != nil {
		t.Fatal(err)
	}
	if person.UnsavedEvents() {
		t.Fatal("events should be marked as saved")
	}
	if person.GlobalVersion() == 0 {
		t.Fatal("global version should be set after save")
	}

	twin := Person{}
	if err := repo.Get(person.ID(), &twin); err != nil {
		t.Fatal(err)
	}

	if twin.Name != person.Name || twin.Age != person.Age {
		t.Fatal("twin state does not match")
	}
	if twin.Version() != person.Version() {
		t.Fatalf("wrong version %d expected %d", twin.Version(), person.Version())
	}
	if twin.GlobalVersion() != person.GlobalVersion() {
		t.Fatalf("wrong global version %d expected %d", twin.GlobalVersion(), person.GlobalVersion())
	}
}

func TestGetRenamedAggregate(t *testing.T) {
	repo := eventsource.NewEventRepository(memory.Create())
	repo.Register(&Person{})

	person, _ := CreatePersonWithID("42", "kalle")
	person.Rename("X")
	if err := repo.Save(person); err != nil {
		t.Fatal(err)
	}

	twin := Person{}
	if err := repo.Get("42", &twin); err != nil {
		t.Fatal(err)
	}
	if twin.Version() != 2 {
		t.Fatal("wrong version", twin.Version())
	}
	if twin.Name != "X" {
		t.Fatal("wrong name", twin.Name)
	}
}

func TestGetNoneExistingAggregate(t *testing.T) {
	repo := eventsource.NewEventRepository(memory.Create())
	repo.Register(&Person{})

	person := Person{}
	err := repo.Get("none_existing", &person)
	if !errors.Is(err, eventsource.ErrAggregateNotFound) {
		t.Fatal("expected aggregate not found, got", err)
	}
}

func TestStorageErrorIsNotMaskedAsNotFound(t *testing.T) {
	es := failingStore{err: errors.New("disk on fire")}
	repo := eventsource.NewEventRepository(es)
	repo.Register(&Person{})

	person := Person{}
	err := repo.Get("42", &person)
	if err == nil {
		t.Fatal("expected the storage error to propagate")
	}
	if errors.Is(err, eventsource.ErrAggregateNotFound) {
		t.Fatal("a storage error must not be masked as not found")
	}
}

func TestSaveWithNoPendingEventsIsANoOp(t *testing.T) {
	es := memory.Create()
	repo := eventsource.NewEventRepository(es)
	repo.Register(&Person{})

	person, _ := CreatePerson("kalle")
	if err := repo.Save(person); err != nil {
		t.Fatal(err)
	}
	count, _ := es.Count(context.Background())

	if err := repo.Save(person); err != nil {
		t.Fatal(err)
	}
	after, _ := es.Count(context.Background())
	if after != count {
		t.Fatal("save with no pending events should not touch the store")
	}
}

func TestSaveUnregisteredAggregate(t *testing.T) {
	repo := eventsource.NewEventRepository(memory.Create())

	person, _ := CreatePerson("kalle")
	err := repo.Save(person)
	if !errors.Is(err, eventsource.ErrAggregateNotRegistered) {
		t.Fatal("should not be able to save unregistered aggregate")
	}
}

func TestConcurrentSaveReturnsConcurrencyError(t *testing.T) {
	repo := eventsource.NewEventRepository(memory.Create())
	repo.Register(&Person{})

	person, _ := CreatePersonWithID("42", "kalle")
	if err := repo.Save(person); err != nil {
		t.Fatal(err)
	}

	// two loads of the same aggregate mutated independently
	first := Person{}
	second := Person{}
	if err := repo.Get("42", &first); err != nil {
		t.Fatal(err)
	}
	if err := repo.Get("42", &second); err != nil {
		t.Fatal(err)
	}
	first.GrowOlder()
	second.GrowOlder()

	if err := repo.Save(&first); err != nil {
		t.Fatal(err)
	}
	err := repo.Save(&second)
	if !errors.Is(err, eventsource.ErrConcurrency) {
		t.Fatal("expected concurrency error, got", err)
	}
}

func TestReplayWithUnregisteredEventFails(t *testing.T) {
	es := memory.Create()
	if err := es.Save(personHistoryWithLegacyEvent()); err != nil {
		t.Fatal(err)
	}

	repo := eventsource.NewEventRepository(es)
	repo.Register(&Person{})

	person := Person{}
	err := repo.Get("42", &person)
	if !errors.Is(err, eventsource.ErrEventNotRegistered) {
		t.Fatal("expected event not registered error, got", err)
	}
}

func TestReplayWithUnregisteredEventSkips(t *testing.T) {
	es := memory.Create()
	if err := es.Save(personHistoryWithLegacyEvent()); err != nil {
		t.Fatal(err)
	}

	repo := eventsource.NewEventRepository(es, eventsource.WithSkipUnregistered())
	repo.Register(&Person{})

	person := Person{}
	if err := repo.Get("42", &person); err != nil {
		t.Fatal(err)
	}
	// the skipped event still counts toward the version
	if person.Version() != 3 {
		t.Fatal("skipped events must advance the version, got", person.Version())
	}
	if person.Name != "X" {
		t.Fatal("registered events should still apply, got name", person.Name)
	}
}

func TestReplayWithCorruptPayload(t *testing.T) {
	es := memory.Create()
	err := es.Save([]core.Event{
		{EventID: "1", AggregateID: "42", AggregateType: "Person", Reason: "Born", Timestamp: time.Now().UTC(), Data: []byte(`{"Name": broken`)},
	})
	if err != nil {
		t.Fatal(err)
	}

	repo := eventsource.NewEventRepository(es)
	repo.Register(&Person{})

	person := Person{}
	err = repo.Get("42", &person)
	if !errors.Is(err, eventsource.ErrCorruptEvent) {
		t.Fatal("expected corrupt event error, got", err)
	}
}

func TestSubscribersReceiveSavedEvents(t *testing.T) {
	repo := eventsource.NewEventRepository(memory.Create())
	repo.Register(&Person{})

	var got []eventsource.Event
	s := repo.Subscribers().All(func(e eventsource.Event) {
		got = append(got, e)
	})
	s.Subscribe()
	defer s.Unsubscribe()

	person, _ := CreatePerson("kalle")
	person.GrowOlder()
	if err := repo.Save(person); err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 {
		t.Fatal("expected 2 published events, got", len(got))
	}
	if got[0].Reason() != "Born" || got[1].Reason() != "AgedOneYear" {
		t.Fatal("events published in wrong order")
	}
}

func TestGetWithCanceledContext(t *testing.T) {
	repo := eventsource.NewEventRepository(memory.Create())
	repo.Register(&Person{})

	person, _ := CreatePersonWithID("42", "kalle")
	person.GrowOlder()
	if err := repo.Save(person); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	twin := Person{}
	err := repo.GetWithContext(ctx, "42", &twin)
	if !errors.Is(err, context.Canceled) {
		t.Fatal("expected context canceled, got", err)
	}
}

// personHistoryWithLegacyEvent returns a history holding an event reason no
// current aggregate registers
func personHistoryWithLegacyEvent() []core.Event {
	now := time.Now().UTC()
	return []core.Event{
		{EventID: "1", AggregateID: "42", AggregateType: "Person", Version: 1, Reason: "Born", Timestamp: now, Data: []byte(`{"Name":"kalle"}`)},
		{EventID: "2", AggregateID: "42", AggregateType: "Person", Version: 2, Reason: "LegacyMoved", Timestamp: now, Data: []byte(`{"City":"old town"}`)},
		{EventID: "3", AggregateID: "42", AggregateType: "Person", Version: 3, Reason: "Renamed", Timestamp: now, Data: []byte(`{"Name":"X"}`)},
	}
}

// failingStore returns a storage error on every operation
type failingStore struct {
	err error
}

func (f failingStore) Save([]core.Event) error { return f.err }
func (f failingStore) Get(context.Context, string, string, core.Version) (core.Iterator, error) {
	return nil, f.err
}
func (f failingStore) All(context.Context, core.Version, uint64) (core.Iterator, error) {
	return nil, f.err
}
func (f failingStore) ByReason(context.Context, string, core.Version, uint64) (core.Iterator, error) {
	return nil, f.err
}
func (f failingStore) After(context.Context, time.Time) (core.Iterator, error) {
	return nil, f.err
}
func (f failingStore) Between(context.Context, time.Time, time.Time) (core.Iterator, error) {
	return nil, f.err
}
func (f failingStore) AggregateVersion(context.Context, string, string) (core.Version, error) {
	return 0, f.err
}
func (f failingStore) Count(context.Context) (uint64, error) { return 0, f.err }
func (f failingStore) CountForAggregate(context.Context, string, string) (uint64, error) {
	return 0, f.err
}
