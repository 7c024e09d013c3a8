package eventsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oxtal/eventsource/core"
)

// Projector maintains one derived read model built by folding events.
// Reasons declares the event types the projector handles, Reset must be
// idempotent and return the read model to its empty state.
type Projector interface {
	Name() string
	Reasons() []string
	Handle(e Event) error
	Reset() error
}

var (
	// ErrProjectorNotFound returned when rebuilding a projector that is not registered
	ErrProjectorNotFound = errors.New("projector not found")

	// ErrProjectorAlreadyRegistered returned when two projectors share a name
	ErrProjectorAlreadyRegistered = errors.New("projector already registered")
)

const defaultRebuildBatchSize = 256

// ProjectionManager fans out persisted events to registered projectors and
// can rebuild any or all of the read models from the beginning of the log.
// Projectors are indexed by event reason so live delivery only touches the
// projectors handling that event type.
type ProjectionManager struct {
	repository *EventRepository
	// projectors by reason for O(handlers) delivery
	byReason map[string][]Projector
	// projectors by name plus registration order for deterministic rebuilds
	byName map[string]Projector
	order  []Projector

	batchSize uint64
	logger    *slog.Logger
}

// ProjectionManagerOption configures a ProjectionManager
type ProjectionManagerOption func(*ProjectionManager)

// WithBatchSize sets the page size for rebuild log scans
func WithBatchSize(n uint64) ProjectionManagerOption {
	return func(m *ProjectionManager) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// WithProjectionLogger overrides the default slog logger
func WithProjectionLogger(l *slog.Logger) ProjectionManagerOption {
	return func(m *ProjectionManager) {
		m.logger = l
	}
}

// NewProjectionManager factory function. The manager shares the repositories
// codec register to decode stored events during rebuilds.
func NewProjectionManager(repository *EventRepository, opts ...ProjectionManagerOption) *ProjectionManager {
	m := &ProjectionManager{
		repository: repository,
		byReason:   make(map[string][]Projector),
		byName:     make(map[string]Projector),
		batchSize:  defaultRebuildBatchSize,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a projector and indexes it by the reasons it handles
func (m *ProjectionManager) Register(p Projector) error {
	if _, ok := m.byName[p.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrProjectorAlreadyRegistered, p.Name())
	}
	m.byName[p.Name()] = p
	m.order = append(m.order, p)
	for _, reason := range p.Reasons() {
		m.byReason[reason] = append(m.byReason[reason], p)
	}
	return nil
}

// Project delivers already persisted events to every projector registered for
// the events reason, in the order given. The first failing projector stops
// the delivery and its error is returned.
func (m *ProjectionManager) Project(events ...Event) error {
	for _, event := range events {
		for _, p := range m.byReason[event.Reason()] {
			if err := p.Handle(event); err != nil {
				return fmt.Errorf("projector %s: %w", p.Name(), err)
			}
		}
	}
	return nil
}

// SubscribeLive attaches the manager to the repositories event stream so that
// saved events are delivered to the projectors as they are stored. Delivery
// errors during live updates are logged, a later rebuild corrects the model.
func (m *ProjectionManager) SubscribeLive() *Subscription {
	s := m.repository.Subscribers().All(func(e Event) {
		if err := m.Project(e); err != nil {
			m.logger.Error("live projection update failed",
				"reason", e.Reason(), "global_version", uint64(e.GlobalVersion()), "err", err)
		}
	})
	s.Subscribe()
	return s
}

// Rebuild resets the named projector and streams the entire event log from
// the beginning in storage order, delivering only the reasons the projector
// handles. The scan is paginated and can be canceled via ctx, partial state
// after an abort is corrected by the next successful rebuild.
func (m *ProjectionManager) Rebuild(ctx context.Context, name string) error {
	p, ok := m.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProjectorNotFound, name)
	}
	return m.rebuild(ctx, []Projector{p})
}

// RebuildAll resets every registered projector and feeds them all in one
// pass over the log, fan-out per event instead of one scan per projector.
func (m *ProjectionManager) RebuildAll(ctx context.Context) error {
	return m.rebuild(ctx, m.order)
}

func (m *ProjectionManager) rebuild(ctx context.Context, projectors []Projector) error {
	handled := make(map[string][]Projector)
	for _, p := range projectors {
		if err := p.Reset(); err != nil {
			return fmt.Errorf("reset projector %s: %w", p.Name(), err)
		}
		for _, reason := range p.Reasons() {
			handled[reason] = append(handled[reason], p)
		}
	}

	start := core.Version(1)
	var delivered uint64
	for {
		n, last, err := m.rebuildPage(ctx, start, handled, &delivered)
		if err != nil {
			return err
		}
		if n < m.batchSize {
			break
		}
		start = last + 1
	}
	m.logger.Debug("projection rebuild done",
		"projectors", len(projectors), "events_delivered", delivered)
	return nil
}

// rebuildPage scans one page of the global log and returns the number of
// events seen and the last global version of the page
func (m *ProjectionManager) rebuildPage(ctx context.Context, start core.Version, handled map[string][]Projector, delivered *uint64) (uint64, core.Version, error) {
	iterator, err := m.repository.eventStore.All(ctx, start, m.batchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("error from event store: %w", err)
	}
	defer iterator.Close()

	var n uint64
	var last core.Version
	for iterator.Next() {
		select {
		case <-ctx.Done():
			return n, last, ctx.Err()
		default:
		}
		event, err := iterator.Value()
		if err != nil {
			return n, last, err
		}
		n++
		last = event.GlobalVersion

		targets := handled[event.Reason]
		if len(targets) == 0 {
			continue
		}
		e, err := m.repository.decode(event)
		if err != nil {
			return n, last, err
		}
		for _, p := range targets {
			if err := p.Handle(e); err != nil {
				return n, last, fmt.Errorf("projector %s: %w", p.Name(), err)
			}
		}
		*delivered++
	}
	return n, last, nil
}
