package eventsource_test

import (
	"testing"

	eventsource "github.com/oxtal/eventsource"
)

func TestSubscribeAll(t *testing.T) {
	stream := eventsource.NewEventStream()

	count := 0
	s := stream.All(func(e eventsource.Event) {
		count++
	})
	s.Subscribe()
	defer s.Unsubscribe()

	person, _ := CreatePerson("kalle")
	person.GrowOlder()
	stream.Publish(*person.Root(), person.Events())

	if count != 2 {
		t.Fatal("expected 2 delivered events, got", count)
	}
}

func TestUnsubscribeAll(t *testing.T) {
	stream := eventsource.NewEventStream()

	count := 0
	s := stream.All(func(e eventsource.Event) {
		count++
	})
	s.Subscribe()

	person, _ := CreatePerson("kalle")
	stream.Publish(*person.Root(), person.Events())
	s.Unsubscribe()
	stream.Publish(*person.Root(), person.Events())

	if count != 1 {
		t.Fatal("expected no deliveries after unsubscribe, got", count)
	}
}

func TestSubscribeSpecificEvent(t *testing.T) {
	stream := eventsource.NewEventStream()

	count := 0
	s := stream.Event(func(e eventsource.Event) {
		if _, ok := e.Data().(*Born); !ok {
			t.Fatal("got event of wrong type")
		}
		count++
	}, &Born{})
	s.Subscribe()
	defer s.Unsubscribe()

	person, _ := CreatePerson("kalle")
	person.GrowOlder()
	stream.Publish(*person.Root(), person.Events())

	if count != 1 {
		t.Fatal("expected only the Born event, got", count)
	}
}

func TestSubscribeAggregateType(t *testing.T) {
	stream := eventsource.NewEventStream()

	count := 0
	s := stream.AggregateType(func(e eventsource.Event) {
		count++
	}, &Person{})
	s.Subscribe()
	defer s.Unsubscribe()

	person, _ := CreatePerson("kalle")
	person.GrowOlder()
	stream.Publish(*person.Root(), person.Events())

	if count != 2 {
		t.Fatal("expected 2 delivered events, got", count)
	}
}

func TestSubscribeSpecificAggregate(t *testing.T) {
	stream := eventsource.NewEventStream()

	kalle, _ := CreatePersonWithID("1", "kalle")
	anka, _ := CreatePersonWithID("2", "anka")

	count := 0
	s := stream.Aggregate(func(e eventsource.Event) {
		if e.AggregateID() != "1" {
			t.Fatal("got event from wrong aggregate")
		}
		count++
	}, kalle)
	s.Subscribe()
	defer s.Unsubscribe()

	stream.Publish(*kalle.Root(), kalle.Events())
	stream.Publish(*anka.Root(), anka.Events())

	if count != 1 {
		t.Fatal("expected only events from the subscribed aggregate, got", count)
	}
}

func TestSubscribeName(t *testing.T) {
	stream := eventsource.NewEventStream()

	count := 0
	s := stream.Name(func(e eventsource.Event) {
		count++
	}, "Person", "Born", "Renamed")
	s.Subscribe()
	defer s.Unsubscribe()

	person, _ := CreatePerson("kalle")
	person.GrowOlder()
	person.Rename("X")
	stream.Publish(*person.Root(), person.Events())

	if count != 2 {
		t.Fatal("expected Born and Renamed, got", count)
	}
}

func TestMultipleSubscribersOneEvent(t *testing.T) {
	stream := eventsource.NewEventStream()

	count := 0
	f := func(e eventsource.Event) {
		count++
	}
	s1 := stream.All(f)
	s1.Subscribe()
	defer s1.Unsubscribe()
	s2 := stream.All(f)
	s2.Subscribe()
	defer s2.Unsubscribe()

	person, _ := CreatePerson("kalle")
	stream.Publish(*person.Root(), person.Events())

	if count != 2 {
		t.Fatal("expected both subscribers to be called, got", count)
	}
}
