package eventsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/oxtal/eventsource/core"
)

// aggregate interface to use the aggregate root specific methods
type aggregate interface {
	Root() *AggregateRoot
	Transition(event Event)
	Register(RegisterFunc)
}

// EventSubscribers returns handles to subscribe to live saved events
type EventSubscribers interface {
	All(f func(e Event)) *Subscription
	Aggregate(f func(e Event), aggregates ...aggregate) *Subscription
	AggregateType(f func(e Event), aggregates ...aggregate) *Subscription
	Event(f func(e Event), events ...interface{}) *Subscription
	Name(f func(e Event), aggregate string, events ...string) *Subscription
}

var (
	// ErrAggregateNotFound returned when no events exists for the aggregate.
	// Distinct from storage errors, an empty result is a legitimate outcome.
	ErrAggregateNotFound = errors.New("aggregate not found")

	// ErrAggregateNotRegistered when saving an aggregate that is not registered in the repository
	ErrAggregateNotRegistered = errors.New("aggregate not registered")

	// ErrEventNotRegistered when an event type is not present in the codec register
	ErrEventNotRegistered = errors.New("event not registered")

	// ErrCorruptEvent when a stored payload fails to decode into its registered type
	ErrCorruptEvent = errors.New("corrupt event")

	// ErrConcurrency when the currently saved version of the aggregate differs from the new events
	ErrConcurrency = errors.New("concurrency error")
)

type MarshalFunc func(v interface{}) ([]byte, error)
type UnmarshalFunc func(data []byte, v interface{}) error

// EventRepository translates between the aggregate lifecycle and the event store
type EventRepository struct {
	eventStream *EventStream
	eventStore  core.EventStore
	// register that convert the Data []byte to correct type
	register *register
	// tolerate events with unregistered reasons during replay, they still
	// advance the version but are state no-ops
	skipUnregistered bool
	logger           *slog.Logger
	// serializer / deserializer
	Serializer   MarshalFunc
	Deserializer UnmarshalFunc
}

// EventRepositoryOption configures an EventRepository
type EventRepositoryOption func(*EventRepository)

// WithSkipUnregistered makes replay tolerate event reasons missing from the
// register. Skipped events are logged and count toward the version, state is
// untouched. Without this option an unregistered reason fails the replay.
func WithSkipUnregistered() EventRepositoryOption {
	return func(r *EventRepository) {
		r.skipUnregistered = true
	}
}

// WithLogger overrides the default slog logger
func WithLogger(l *slog.Logger) EventRepositoryOption {
	return func(r *EventRepository) {
		r.logger = l
	}
}

// NewEventRepository factory function
func NewEventRepository(eventStore core.EventStore, opts ...EventRepositoryOption) *EventRepository {
	r := &EventRepository{
		eventStore:   eventStore,
		eventStream:  NewEventStream(),
		Serializer:   json.Marshal,
		Deserializer: json.Unmarshal,
		register:     newRegister(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register registers the aggregate and its event types in the codec register
func (r *EventRepository) Register(a aggregate) {
	r.register.Register(a)
}

// Subscribers returns an interface with all event subscribers
func (r *EventRepository) Subscribers() EventSubscribers {
	return r.eventStream
}

// Save drains the aggregates pending events and appends them to the event
// store as one atomic batch. A fresh aggregate with no pending events is a
// no-op. On success the saved events are published on the event stream and
// the aggregate internals are updated to the stored state.
func (r *EventRepository) Save(a aggregate) error {
	root := a.Root()
	if !root.UnsavedEvents() {
		return nil
	}
	if !r.register.AggregateRegistered(a) {
		return ErrAggregateNotRegistered
	}

	// serialize the data and metadata into []byte
	esEvents := make([]core.Event, 0, len(root.aggregateEvents))
	for _, event := range root.aggregateEvents {
		data, err := r.Serializer(event.Data())
		if err != nil {
			return err
		}
		var metadata []byte
		if event.Metadata() != nil {
			metadata, err = r.Serializer(event.Metadata())
			if err != nil {
				return err
			}
		}

		esEvent := event.event
		esEvent.Data = data
		esEvent.Metadata = metadata
		if _, ok := r.register.EventRegistered(esEvent.AggregateType, esEvent.Reason); !ok {
			return ErrEventNotRegistered
		}
		esEvents = append(esEvents, esEvent)
	}

	err := r.eventStore.Save(esEvents)
	if err != nil {
		if errors.Is(err, core.ErrConcurrency) {
			return ErrConcurrency
		}
		return fmt.Errorf("error from event store: %w", err)
	}

	// expose the global version and stored timestamp assigned by the store
	for i, event := range esEvents {
		root.aggregateEvents[i].event.GlobalVersion = event.GlobalVersion
		root.aggregateEvents[i].event.StoredAt = event.StoredAt
	}

	// publish the saved events to subscribers
	r.eventStream.Publish(*root, root.Events())

	// update the internal aggregate state
	root.update()
	return nil
}

// GetWithContext fetches the aggregates events and builds up the aggregate.
// If the aggregate is based on a snapshot it fetches only events after the
// snapshot version. The event fetching can be canceled from the outside.
func (r *EventRepository) GetWithContext(ctx context.Context, id string, a aggregate) error {
	if reflect.ValueOf(a).Kind() != reflect.Ptr {
		return ErrAggregateNeedsToBeAPointer
	}

	root := a.Root()
	// fetch events after the current version of the aggregate, non zero when
	// the aggregate was seeded from a snapshot
	eventIterator, err := r.eventStore.Get(ctx, id, aggregateType(a), core.Version(root.aggregateVersion))
	if err != nil {
		return err
	}
	defer eventIterator.Close()

	for eventIterator.Next() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		event, err := eventIterator.Value()
		if err != nil {
			return err
		}
		e, err := r.decode(event)
		if err != nil {
			if errors.Is(err, ErrEventNotRegistered) && r.skipUnregistered {
				// tolerated by design, the event still advances the version
				r.logger.Warn("skipping unregistered event",
					"aggregate_type", event.AggregateType,
					"aggregate_id", event.AggregateID,
					"reason", event.Reason,
					"version", uint64(event.Version))
				e = NewEvent(event, nil, nil)
			} else {
				return err
			}
		}
		if err := root.BuildFromHistory(a, []Event{e}); err != nil {
			return err
		}
	}
	if root.Version() == 0 {
		return ErrAggregateNotFound
	}
	return nil
}

// Get fetches the aggregates events and builds up the aggregate
func (r *EventRepository) Get(id string, a aggregate) error {
	return r.GetWithContext(context.Background(), id, a)
}

// decode turns a stored event into the external Event type using the codec
// register. Unknown reasons return ErrEventNotRegistered, payloads that fail
// to unmarshal return ErrCorruptEvent.
func (r *EventRepository) decode(event core.Event) (Event, error) {
	f, found := r.register.EventRegistered(event.AggregateType, event.Reason)
	if !found {
		return Event{}, fmt.Errorf("%w: %s_%s", ErrEventNotRegistered, event.AggregateType, event.Reason)
	}
	data := f()
	if err := r.Deserializer(event.Data, data); err != nil {
		return Event{}, fmt.Errorf("%w: %s_%s: %v", ErrCorruptEvent, event.AggregateType, event.Reason, err)
	}
	var metadata map[string]interface{}
	if len(event.Metadata) > 0 {
		if err := r.Deserializer(event.Metadata, &metadata); err != nil {
			return Event{}, fmt.Errorf("%w: %s_%s metadata: %v", ErrCorruptEvent, event.AggregateType, event.Reason, err)
		}
	}
	return NewEvent(event, data, metadata), nil
}
