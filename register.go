package eventsource

import (
	"reflect"
)

type registerFunc = func() interface{}
type RegisterFunc = func(events ...interface{})

// register is the codec registry mapping aggregate type and event reason to a
// factory producing an empty instance of the event data type. It is owned by
// the repository that created it, there is no ambient global registry.
type register struct {
	aggregateEvents map[string]registerFunc
	aggregates      map[string]struct{}
}

func newRegister() *register {
	return &register{
		aggregateEvents: make(map[string]registerFunc),
		aggregates:      make(map[string]struct{}),
	}
}

// EventRegistered return the func to generate the correct event data type from
// the aggregate type and reason carried on the stored event
func (r *register) EventRegistered(typ, reason string) (registerFunc, bool) {
	d, ok := r.aggregateEvents[typ+"_"+reason]
	return d, ok
}

// AggregateRegistered return true if the aggregate is registered
func (r *register) AggregateRegistered(a aggregate) bool {
	typ := aggregateType(a)
	_, ok := r.aggregates[typ]
	return ok
}

// Register registers the aggregate and the event types returned from the
// aggregates Register method
func (r *register) Register(a aggregate) {
	typ := aggregateType(a)
	r.aggregates[typ] = struct{}{}

	// fu is the RegisterFunc handed to the aggregate to register its events
	fu := func(events ...interface{}) {
		for _, event := range events {
			f := eventToFunc(event)
			reason := reflect.TypeOf(event).Elem().Name()
			r.aggregateEvents[typ+"_"+reason] = f
		}
	}
	a.Register(fu)
}

func eventToFunc(event interface{}) registerFunc {
	typ := reflect.TypeOf(event).Elem()
	return func() interface{} { return reflect.New(typ).Interface() }
}
