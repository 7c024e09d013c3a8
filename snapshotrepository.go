package eventsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/oxtal/eventsource/core"
)

// ErrUnsavedEvents aggregate events must be saved before creating a snapshot
var ErrUnsavedEvents = errors.New("aggregate holds unsaved events")

// ErrEmptyID indicates that the aggregate ID was empty
var ErrEmptyID = errors.New("aggregate id is empty")

// SnapshotRepository wraps an EventRepository with snapshot accelerated loads
// and policy driven snapshot writes. The snapshot store is a cache, a failing
// snapshot store degrades to full replay and never fails a save or load.
type SnapshotRepository struct {
	eventRepository *EventRepository
	snapshotStore   core.SnapshotStore
	policy          SnapshotPolicy
	logger          *slog.Logger
	Serializer      MarshalFunc
	Deserializer    UnmarshalFunc
}

// SnapshotRepositoryOption configures a SnapshotRepository
type SnapshotRepositoryOption func(*SnapshotRepository)

// WithSnapshotPolicy overrides the default policy of snapshotting every 10th version
func WithSnapshotPolicy(p SnapshotPolicy) SnapshotRepositoryOption {
	return func(s *SnapshotRepository) {
		s.policy = p
	}
}

// WithSnapshotLogger overrides the default slog logger
func WithSnapshotLogger(l *slog.Logger) SnapshotRepositoryOption {
	return func(s *SnapshotRepository) {
		s.logger = l
	}
}

// NewSnapshotRepository factory function
func NewSnapshotRepository(snapshotStore core.SnapshotStore, eventRepo *EventRepository, opts ...SnapshotRepositoryOption) *SnapshotRepository {
	s := &SnapshotRepository{
		snapshotStore:   snapshotStore,
		eventRepository: eventRepo,
		policy:          SnapshotEvery(10),
		logger:          slog.Default(),
		Serializer:      json.Marshal,
		Deserializer:    json.Unmarshal,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register registers the aggregate in the underlying event repository
func (s *SnapshotRepository) Register(a aggregate) {
	s.eventRepository.Register(a)
}

// Subscribers returns the underlying event repository subscribers
func (s *SnapshotRepository) Subscribers() EventSubscribers {
	return s.eventRepository.Subscribers()
}

// GetWithContext builds the aggregate from the latest snapshot plus the
// events stored after it. With no snapshot the aggregate is rebuilt from the
// full event history. A degraded snapshot store falls back to full replay.
func (s *SnapshotRepository) GetWithContext(ctx context.Context, id string, a aggregate) error {
	if reflect.ValueOf(a).Kind() != reflect.Ptr {
		return ErrAggregateNeedsToBeAPointer
	}

	snap, err := s.snapshotStore.Get(ctx, id, aggregateType(a))
	switch {
	case errors.Is(err, core.ErrSnapshotNotFound):
		// legitimate miss, full replay below
	case err != nil:
		s.logger.Warn("snapshot read failed, falling back to full replay",
			"aggregate_id", id, "err", err)
	default:
		// decode into a fresh instance, a bad snapshot must not leave partial
		// state on the aggregate the full replay then folds on top of
		fresh := reflect.New(reflect.TypeOf(a).Elem())
		if err := s.Deserializer(snap.State, fresh.Interface()); err != nil {
			s.logger.Warn("snapshot state failed to decode, falling back to full replay",
				"aggregate_id", id, "version", uint64(snap.Version), "err", err)
			break
		}
		reflect.ValueOf(a).Elem().Set(fresh.Elem())
		root := a.Root()
		root.setInternals(snap.ID, Version(snap.Version), Version(snap.GlobalVersion))
	}

	// append events that could have been saved after the snapshot, with zero
	// tail events the snapshot state is returned unchanged
	return s.eventRepository.GetWithContext(ctx, id, a)
}

// Get builds the aggregate from the latest snapshot plus stored events
func (s *SnapshotRepository) Get(id string, a aggregate) error {
	return s.GetWithContext(context.Background(), id, a)
}

// Save stores the aggregates pending events and then evaluates the snapshot
// policy. The event append is atomic, if it fails no snapshot is written. A
// failing snapshot write is logged and never fails the save, the events are
// already durable.
func (s *SnapshotRepository) Save(a aggregate) error {
	err := s.eventRepository.Save(a)
	if err != nil {
		return err
	}

	root := a.Root()
	if !s.policy(root.Version()) {
		return nil
	}
	if err := s.SaveSnapshot(a); err != nil {
		s.logger.Warn("snapshot write failed",
			"aggregate_id", root.ID(), "version", uint64(root.Version()), "err", err)
	}
	return nil
}

// SaveSnapshot stores a snapshot of the aggregate at its current version.
// It returns an error if the aggregate holds unsaved events.
func (s *SnapshotRepository) SaveSnapshot(a aggregate) error {
	root := a.Root()
	if root.ID() == emptyAggregateID {
		return ErrEmptyID
	}
	if root.UnsavedEvents() {
		return ErrUnsavedEvents
	}

	state, err := s.Serializer(a)
	if err != nil {
		return fmt.Errorf("could not serialize aggregate state: %w", err)
	}
	snap := core.Snapshot{
		ID:            root.ID(),
		Type:          aggregateType(a),
		Version:       core.Version(root.Version()),
		GlobalVersion: core.Version(root.GlobalVersion()),
		State:         state,
		CreatedAt:     time.Now().UTC(),
	}
	return s.snapshotStore.Save(snap)
}
