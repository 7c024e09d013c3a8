package eventsource

import (
	"reflect"
	"sync"
)

// EventStream handles subscriptions to events that are saved through a
// repository. Delivery happens synchronously inside Save, in the order the
// events were stored.
type EventStream struct {
	// holds subscribers of aggregate types events
	aggregateTypes map[string][]*Subscription
	// holds subscribers of specific aggregates (type and identifier)
	specificAggregates map[string][]*Subscription
	// holds subscribers of specific events
	specificEvents map[reflect.Type][]*Subscription
	// holds subscribers of aggregate type and event reason combinations
	names map[string][]*Subscription
	// holds subscribers of all events
	allEvents []*Subscription
	// makes sure events are delivered in order and subscriptions are persistent
	lock sync.Mutex
}

// Subscription holds the subscribe / unsubscribe / and func to be called when
// an event matches the subscription
type Subscription struct {
	f      func(e Event)
	unsubF func()
	subF   func()
}

// Unsubscribe stops the subscription
func (s *Subscription) Unsubscribe() {
	s.unsubF()
}

// Subscribe starts the subscription
func (s *Subscription) Subscribe() {
	s.subF()
}

// NewEventStream factory function
func NewEventStream() *EventStream {
	return &EventStream{
		aggregateTypes:     make(map[string][]*Subscription),
		specificAggregates: make(map[string][]*Subscription),
		specificEvents:     make(map[reflect.Type][]*Subscription),
		names:              make(map[string][]*Subscription),
		allEvents:          []*Subscription{},
	}
}

// Publish calls the functions that are subscribing to the saved events
func (e *EventStream) Publish(root AggregateRoot, events []Event) {
	// the lock prevents other event updates to be mixed with this update
	e.lock.Lock()
	defer e.lock.Unlock()

	for _, event := range events {
		e.allPublisher(event)
		e.specificEventPublisher(event)
		e.aggregateTypePublisher(event)
		e.specificAggregatesPublisher(event)
		e.namePublisher(event)
	}
}

func (e *EventStream) allPublisher(event Event) {
	for _, s := range e.allEvents {
		s.f(event)
	}
}

func (e *EventStream) specificEventPublisher(event Event) {
	t := reflect.TypeOf(event.Data())
	if subs, ok := e.specificEvents[t]; ok {
		for _, s := range subs {
			s.f(event)
		}
	}
}

func (e *EventStream) aggregateTypePublisher(event Event) {
	if subs, ok := e.aggregateTypes[event.AggregateType()]; ok {
		for _, s := range subs {
			s.f(event)
		}
	}
}

func (e *EventStream) specificAggregatesPublisher(event Event) {
	ref := event.AggregateType() + "_" + event.AggregateID()
	if subs, ok := e.specificAggregates[ref]; ok {
		for _, s := range subs {
			s.f(event)
		}
	}
}

func (e *EventStream) namePublisher(event Event) {
	ref := event.AggregateType() + "_" + event.Reason()
	if subs, ok := e.names[ref]; ok {
		for _, s := range subs {
			s.f(event)
		}
	}
}

// All bind the f function to be called on all events
func (e *EventStream) All(f func(e Event)) *Subscription {
	s := Subscription{
		f: f,
	}
	s.unsubF = func() {
		e.lock.Lock()
		defer e.lock.Unlock()

		for i, sub := range e.allEvents {
			if &s == sub {
				e.allEvents = append(e.allEvents[:i], e.allEvents[i+1:]...)
				break
			}
		}
	}
	s.subF = func() {
		e.lock.Lock()
		defer e.lock.Unlock()

		e.allEvents = append(e.allEvents, &s)
	}
	return &s
}

// Aggregate bind the f function to be called on events bound to the specific aggregates
func (e *EventStream) Aggregate(f func(e Event), aggregates ...aggregate) *Subscription {
	s := Subscription{
		f: f,
	}
	s.unsubF = func() {
		e.lock.Lock()
		defer e.lock.Unlock()

		for _, a := range aggregates {
			root := a.Root()
			ref := aggregateType(a) + "_" + root.ID()
			for i, sub := range e.specificAggregates[ref] {
				if &s == sub {
					e.specificAggregates[ref] = append(e.specificAggregates[ref][:i], e.specificAggregates[ref][i+1:]...)
					break
				}
			}
		}
	}
	s.subF = func() {
		e.lock.Lock()
		defer e.lock.Unlock()

		for _, a := range aggregates {
			root := a.Root()
			ref := aggregateType(a) + "_" + root.ID()
			e.specificAggregates[ref] = append(e.specificAggregates[ref], &s)
		}
	}
	return &s
}

// AggregateType bind the f function to be called on events bound to the aggregate types
func (e *EventStream) AggregateType(f func(e Event), aggregates ...aggregate) *Subscription {
	s := Subscription{
		f: f,
	}
	s.unsubF = func() {
		e.lock.Lock()
		defer e.lock.Unlock()

		for _, a := range aggregates {
			ref := aggregateType(a)
			for i, sub := range e.aggregateTypes[ref] {
				if &s == sub {
					e.aggregateTypes[ref] = append(e.aggregateTypes[ref][:i], e.aggregateTypes[ref][i+1:]...)
					break
				}
			}
		}
	}
	s.subF = func() {
		e.lock.Lock()
		defer e.lock.Unlock()

		for _, a := range aggregates {
			ref := aggregateType(a)
			e.aggregateTypes[ref] = append(e.aggregateTypes[ref], &s)
		}
	}
	return &s
}

// Event bind the f function to be called on specific events
func (e *EventStream) Event(f func(e Event), events ...interface{}) *Subscription {
	s := Subscription{
		f: f,
	}
	s.unsubF = func() {
		e.lock.Lock()
		defer e.lock.Unlock()

		for _, event := range events {
			t := reflect.TypeOf(event)
			for i, sub := range e.specificEvents[t] {
				if &s == sub {
					e.specificEvents[t] = append(e.specificEvents[t][:i], e.specificEvents[t][i+1:]...)
					break
				}
			}
		}
	}
	s.subF = func() {
		e.lock.Lock()
		defer e.lock.Unlock()

		for _, event := range events {
			t := reflect.TypeOf(event)
			e.specificEvents[t] = append(e.specificEvents[t], &s)
		}
	}
	return &s
}

// Name bind the f function to be called on events with the aggregate type and
// one of the event reasons
func (e *EventStream) Name(f func(e Event), aggregate string, events ...string) *Subscription {
	s := Subscription{
		f: f,
	}
	s.unsubF = func() {
		e.lock.Lock()
		defer e.lock.Unlock()

		for _, event := range events {
			ref := aggregate + "_" + event
			for i, sub := range e.names[ref] {
				if &s == sub {
					e.names[ref] = append(e.names[ref][:i], e.names[ref][i+1:]...)
					break
				}
			}
		}
	}
	s.subF = func() {
		e.lock.Lock()
		defer e.lock.Unlock()

		for _, event := range events {
			ref := aggregate + "_" + event
			e.names[ref] = append(e.names[ref], &s)
		}
	}
	return &s
}
