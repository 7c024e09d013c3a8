// Package suite is a conformance test for event store implementations.
// Every backing store in this module runs it, external stores can too.
package suite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/oxtal/eventsource/core"
	"github.com/oxtal/eventsource/eventstore"
)

type eventstoreFunc = func() (core.EventStore, func(), error)

func Test(t *testing.T, esFunc eventstoreFunc) {
	tests := []struct {
		title string
		run   func(t *testing.T, es core.EventStore)
	}{
		{"should save and get events", saveAndGetEvents},
		{"should get events after version", getEventsAfterVersion},
		{"should assign versions to unversioned events", assignVersions},
		{"should assign global sequence across aggregates", globalSequence},
		{"should paginate the global order", paginateAll},
		{"should return no events for an unknown aggregate", getUnknownAggregate},
		{"should get events by reason", getByReason},
		{"should get events by time range", getByTimeRange},
		{"should report aggregate versions and counts", versionsAndCounts},
		{"should not save events from different aggregates", saveEventsFromMoreThanOneAggregate},
		{"should not save events from different aggregate types", saveEventsFromMoreThanOneAggregateType},
		{"should not save events in wrong order", saveEventsInWrongOrder},
		{"should not save events in wrong version", saveEventsInWrongVersion},
		{"should not save event with no reason", saveEventsWithEmptyReason},
		{"should never assign one version twice under concurrency", saveConcurrently},
		{"should append different aggregates in parallel without conflict", saveConcurrentlyDifferentAggregates},
	}
	for _, test := range tests {
		t.Run(test.title, func(t *testing.T) {
			es, closeFunc, err := esFunc()
			if err != nil {
				t.Fatal(err)
			}
			test.run(t, es)
			closeFunc()
		})
	}
}

var aggregateID = "123"
var aggregateID2 = "321"
var aggregateType = "FrequentFlierAccount"

func testEventsWithID(id string) []core.Event {
	timestamp := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	metadata := []byte(`{"test":"hello"}`)
	history := []core.Event{
		{EventID: id + "-1", AggregateID: id, Version: 1, Reason: "FrequentFlierAccountCreated", AggregateType: aggregateType, Timestamp: timestamp, Data: []byte(`{"OpeningMiles":10000,"OpeningTierPoints":0}`), Metadata: metadata},
		{EventID: id + "-2", AggregateID: id, Version: 2, Reason: "StatusMatched", AggregateType: aggregateType, Timestamp: timestamp.Add(time.Hour), Data: []byte(`{"NewStatus":1}`), Metadata: metadata},
		{EventID: id + "-3", AggregateID: id, Version: 3, Reason: "FlightTaken", AggregateType: aggregateType, Timestamp: timestamp.Add(2 * time.Hour), Data: []byte(`{"MilesAdded":2525,"TierPointsAdded":5}`), Metadata: metadata},
		{EventID: id + "-4", AggregateID: id, Version: 4, Reason: "FlightTaken", AggregateType: aggregateType, Timestamp: timestamp.Add(3 * time.Hour), Data: []byte(`{"MilesAdded":2512,"TierPointsAdded":5}`), Metadata: metadata},
		{EventID: id + "-5", AggregateID: id, Version: 5, Reason: "FlightTaken", AggregateType: aggregateType, Timestamp: timestamp.Add(4 * time.Hour), Data: []byte(`{"MilesAdded":5600,"TierPointsAdded":5}`), Metadata: metadata},
		{EventID: id + "-6", AggregateID: id, Version: 6, Reason: "FlightTaken", AggregateType: aggregateType, Timestamp: timestamp.Add(5 * time.Hour), Data: []byte(`{"MilesAdded":3000,"TierPointsAdded":3}`), Metadata: metadata},
	}
	return history
}

func testEvents() []core.Event {
	return testEventsWithID(aggregateID)
}

func collect(t *testing.T, iterator core.Iterator) []core.Event {
	t.Helper()
	defer iterator.Close()
	events := make([]core.Event, 0)
	for iterator.Next() {
		event, err := iterator.Value()
		if err != nil {
			t.Fatal(err)
		}
		events = append(events, event)
	}
	return events
}

func saveAndGetEvents(t *testing.T, es core.EventStore) {
	if err := es.Save(testEvents()); err != nil {
		t.Fatal(err)
	}

	iterator, err := es.Get(context.Background(), aggregateID, aggregateType, 0)
	if err != nil {
		t.Fatal(err)
	}
	fetched := collect(t, iterator)

	if len(fetched) != 6 {
		t.Fatalf("expected 6 events, got %d", len(fetched))
	}
	for i, event := range fetched {
		if event.Version != core.Version(i+1) {
			t.Fatalf("wrong version, expected %d got %d", i+1, event.Version)
		}
		if event.GlobalVersion == 0 {
			t.Fatal("global version was not assigned")
		}
		if event.StoredAt.IsZero() {
			t.Fatal("stored at was not assigned")
		}
	}
}

func getEventsAfterVersion(t *testing.T, es core.EventStore) {
	if err := es.Save(testEvents()); err != nil {
		t.Fatal(err)
	}

	iterator, err := es.Get(context.Background(), aggregateID, aggregateType, 4)
	if err != nil {
		t.Fatal(err)
	}
	fetched := collect(t, iterator)

	if len(fetched) != 2 {
		t.Fatalf("expected 2 events after version 4, got %d", len(fetched))
	}
	if fetched[0].Version != 5 || fetched[1].Version != 6 {
		t.Fatalf("wrong tail versions %d %d", fetched[0].Version, fetched[1].Version)
	}
}

func assignVersions(t *testing.T, es core.EventStore) {
	events := testEvents()
	for i := range events {
		events[i].Version = 0
	}
	if err := es.Save(events); err != nil {
		t.Fatal(err)
	}

	iterator, err := es.Get(context.Background(), aggregateID, aggregateType, 0)
	if err != nil {
		t.Fatal(err)
	}
	fetched := collect(t, iterator)
	for i, event := range fetched {
		if event.Version != core.Version(i+1) {
			t.Fatalf("store did not assign version %d, got %d", i+1, event.Version)
		}
	}
}

func globalSequence(t *testing.T, es core.EventStore) {
	if err := es.Save(testEvents()[:3]); err != nil {
		t.Fatal(err)
	}
	if err := es.Save(testEventsWithID(aggregateID2)[:2]); err != nil {
		t.Fatal(err)
	}
	if err := es.Save(testEvents()[3:]); err != nil {
		t.Fatal(err)
	}

	iterator, err := es.All(context.Background(), 1, 100)
	if err != nil {
		t.Fatal(err)
	}
	fetched := collect(t, iterator)

	if len(fetched) != 8 {
		t.Fatalf("expected 8 events in the global order, got %d", len(fetched))
	}
	for i, event := range fetched {
		if event.GlobalVersion != core.Version(i+1) {
			t.Fatalf("global order has gaps, expected %d got %d", i+1, event.GlobalVersion)
		}
	}
	// interleaved save order must be preserved
	if fetched[3].AggregateID != aggregateID2 || fetched[4].AggregateID != aggregateID2 {
		t.Fatal("global order does not match insertion order")
	}
}

func paginateAll(t *testing.T, es core.EventStore) {
	if err := es.Save(testEvents()); err != nil {
		t.Fatal(err)
	}

	var all []core.Event
	start := core.Version(1)
	for {
		iterator, err := es.All(context.Background(), start, 2)
		if err != nil {
			t.Fatal(err)
		}
		page := collect(t, iterator)
		all = append(all, page...)
		if len(page) < 2 {
			break
		}
		start = page[len(page)-1].GlobalVersion + 1
	}

	if len(all) != 6 {
		t.Fatalf("pagination lost events, got %d", len(all))
	}
	for i, event := range all {
		if event.GlobalVersion != core.Version(i+1) {
			t.Fatalf("pagination broke the order at %d", i)
		}
	}
}

func getUnknownAggregate(t *testing.T, es core.EventStore) {
	if err := es.Save(testEvents()); err != nil {
		t.Fatal(err)
	}

	iterator, err := es.Get(context.Background(), "unknown", aggregateType, 0)
	if err != nil {
		t.Fatal(err)
	}
	fetched := collect(t, iterator)
	if len(fetched) != 0 {
		t.Fatalf("expected no events for an unknown aggregate, got %d", len(fetched))
	}
}

func getByReason(t *testing.T, es core.EventStore) {
	if err := es.Save(testEvents()); err != nil {
		t.Fatal(err)
	}

	iterator, err := es.ByReason(context.Background(), "FlightTaken", 1, 100)
	if err != nil {
		t.Fatal(err)
	}
	fetched := collect(t, iterator)

	if len(fetched) != 4 {
		t.Fatalf("expected 4 FlightTaken events, got %d", len(fetched))
	}
	var lastGlobal core.Version
	for _, event := range fetched {
		if event.Reason != "FlightTaken" {
			t.Fatalf("unexpected reason %s", event.Reason)
		}
		if event.GlobalVersion <= lastGlobal {
			t.Fatal("events not in global order")
		}
		lastGlobal = event.GlobalVersion
	}
}

func getByTimeRange(t *testing.T, es core.EventStore) {
	events := testEvents()
	if err := es.Save(events); err != nil {
		t.Fatal(err)
	}

	// events occurred at 10:00, 11:00 ... 15:00
	after := events[2].Timestamp // 12:00, strictly after leaves 3
	iterator, err := es.After(context.Background(), after)
	if err != nil {
		t.Fatal(err)
	}
	fetched := collect(t, iterator)
	if len(fetched) != 3 {
		t.Fatalf("expected 3 events after %v, got %d", after, len(fetched))
	}

	iterator, err = es.Between(context.Background(), events[1].Timestamp, events[3].Timestamp)
	if err != nil {
		t.Fatal(err)
	}
	fetched = collect(t, iterator)
	if len(fetched) != 3 {
		t.Fatalf("expected 3 events in range, got %d", len(fetched))
	}
}

func versionsAndCounts(t *testing.T, es core.EventStore) {
	ctx := context.Background()

	version, err := es.AggregateVersion(ctx, "missing", aggregateType)
	if err != nil {
		t.Fatal(err)
	}
	if version != 0 {
		t.Fatalf("missing aggregate should have version 0, got %d", version)
	}

	if err := es.Save(testEvents()); err != nil {
		t.Fatal(err)
	}
	if err := es.Save(testEventsWithID(aggregateID2)[:2]); err != nil {
		t.Fatal(err)
	}

	version, err = es.AggregateVersion(ctx, aggregateID, aggregateType)
	if err != nil {
		t.Fatal(err)
	}
	if version != 6 {
		t.Fatalf("expected version 6, got %d", version)
	}

	count, err := es.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 8 {
		t.Fatalf("expected 8 events in total, got %d", count)
	}

	count, err = es.CountForAggregate(ctx, aggregateID2, aggregateType)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("expected 2 events for aggregate, got %d", count)
	}
}

func saveEventsFromMoreThanOneAggregate(t *testing.T, es core.EventStore) {
	invalidEvent := append(testEvents(), testEventsWithID(aggregateID2)...)
	if err := es.Save(invalidEvent); err == nil {
		t.Fatal("should not be able to save events that belongs to more than one aggregate")
	}
}

func saveEventsFromMoreThanOneAggregateType(t *testing.T, es core.EventStore) {
	events := testEvents()
	events[1].AggregateType = "OtherAggregateType"

	if err := es.Save(events); err == nil {
		t.Fatal("should not be able to save events that belongs to other aggregate type")
	}
}

func saveEventsInWrongOrder(t *testing.T, es core.EventStore) {
	events := append(testEvents(), testEvents()[0])
	if err := es.Save(events); err == nil {
		t.Fatal("should not be able to save events that are in wrong version order")
	}
}

func saveEventsInWrongVersion(t *testing.T, es core.EventStore) {
	events := testEvents()[2:]
	if err := es.Save(events); !errors.Is(err, core.ErrConcurrency) {
		t.Fatalf("expected concurrency error when saving events out of sync with the store, got %v", err)
	}
}

func saveEventsWithEmptyReason(t *testing.T, es core.EventStore) {
	events := testEvents()
	events[2].Reason = ""
	if err := es.Save(events); !errors.Is(err, eventstore.ErrReasonMissing) {
		t.Fatalf("expected reason missing error, got %v", err)
	}
}

// saveConcurrently spawns N appenders for one aggregate and verifies that the
// committed version set is exactly {1..N}, no duplicates and no gaps. Losers
// of the version race retry, a conflicted save must never commit.
func saveConcurrently(t *testing.T, es core.EventStore) {
	const n = 10

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			event := core.Event{
				EventID:       fmt.Sprintf("concurrent-%d", i),
				AggregateID:   aggregateID,
				AggregateType: aggregateType,
				Reason:        "FlightTaken",
				Timestamp:     time.Now().UTC(),
				Data:          []byte(`{"MilesAdded":1,"TierPointsAdded":1}`),
			}
			// version 0 asks the store to assign the next version, retry
			// while losing the race to other appenders
			for attempt := 0; attempt < n*10; attempt++ {
				event.Version = 0
				err := es.Save([]core.Event{event})
				if err == nil {
					return
				}
				if !errors.Is(err, core.ErrConcurrency) {
					errs <- err
					return
				}
			}
			errs <- fmt.Errorf("appender %d starved", i)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	iterator, err := es.Get(context.Background(), aggregateID, aggregateType, 0)
	if err != nil {
		t.Fatal(err)
	}
	fetched := collect(t, iterator)

	if len(fetched) != n {
		t.Fatalf("expected %d committed events, got %d", n, len(fetched))
	}
	seen := make(map[core.Version]bool)
	for _, event := range fetched {
		if seen[event.Version] {
			t.Fatalf("version %d assigned twice", event.Version)
		}
		seen[event.Version] = true
	}
	for v := core.Version(1); v <= n; v++ {
		if !seen[v] {
			t.Fatalf("version %d missing, the version sequence has gaps", v)
		}
	}
}

// saveConcurrentlyDifferentAggregates spawns appenders for distinct aggregates
// and verifies none of them is rejected, events for different aggregates are
// independent and must never surface a concurrency error.
func saveConcurrentlyDifferentAggregates(t *testing.T, es core.EventStore) {
	const n = 10

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			event := core.Event{
				EventID:       fmt.Sprintf("parallel-%d", i),
				AggregateID:   fmt.Sprintf("aggregate-%d", i),
				AggregateType: aggregateType,
				Reason:        "FrequentFlierAccountCreated",
				Timestamp:     time.Now().UTC(),
				Data:          []byte(`{"OpeningMiles":0,"OpeningTierPoints":0}`),
			}
			if err := es.Save([]core.Event{event}); err != nil {
				errs <- fmt.Errorf("appender %d: %w", i, err)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	iterator, err := es.All(context.Background(), 1, 100)
	if err != nil {
		t.Fatal(err)
	}
	fetched := collect(t, iterator)

	if len(fetched) != n {
		t.Fatalf("expected %d committed events, got %d", n, len(fetched))
	}
	seen := make(map[core.Version]bool)
	for _, event := range fetched {
		if event.Version != 1 {
			t.Fatalf("expected version 1 for a fresh aggregate, got %d", event.Version)
		}
		if event.GlobalVersion == 0 {
			t.Fatal("global version was not assigned")
		}
		if seen[event.GlobalVersion] {
			t.Fatalf("global version %d assigned twice", event.GlobalVersion)
		}
		seen[event.GlobalVersion] = true
	}
}
