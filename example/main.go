package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cenkalti/backoff/v5"
	_ "github.com/mattn/go-sqlite3"

	eventsource "github.com/oxtal/eventsource"
	sqlstore "github.com/oxtal/eventsource/eventstore/sql"
	snapshotsql "github.com/oxtal/eventsource/snapshotstore/sql"
)

type config struct {
	DBFile           string        `env:"EVENTSOURCE_DB" envDefault:"example.db"`
	SnapshotEvery    uint64        `env:"EVENTSOURCE_SNAPSHOT_EVERY" envDefault:"10"`
	RebuildBatchSize uint64        `env:"EVENTSOURCE_REBUILD_BATCH" envDefault:"256"`
	SaveRetryTime    time.Duration `env:"EVENTSOURCE_SAVE_RETRY" envDefault:"5s"`
}

// milesLeaderboard is a read model with the total miles per account
type milesLeaderboard struct {
	miles map[string]int
}

func (p *milesLeaderboard) Name() string { return "miles_leaderboard" }

func (p *milesLeaderboard) Reasons() []string { return []string{"FlightTaken"} }

func (p *milesLeaderboard) Handle(e eventsource.Event) error {
	if flight, ok := e.Data().(*FlightTaken); ok {
		p.miles[e.AggregateID()] += flight.MilesAdded
	}
	return nil
}

func (p *milesLeaderboard) Reset() error {
	p.miles = make(map[string]int)
	return nil
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(context.Background(), logger); err != nil {
		logger.Error("example failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("could not parse config: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DBFile+"?_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("could not open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	eventStore := sqlstore.Open(db)
	if err := eventStore.Migrate(); err != nil {
		return fmt.Errorf("could not migrate event store: %w", err)
	}
	snapshotStore := snapshotsql.New(db)
	if err := snapshotStore.Migrate(); err != nil {
		return fmt.Errorf("could not migrate snapshot store: %w", err)
	}

	eventRepo := eventsource.NewEventRepository(eventStore, eventsource.WithLogger(logger))
	repo := eventsource.NewSnapshotRepository(snapshotStore, eventRepo,
		eventsource.WithSnapshotPolicy(eventsource.SnapshotEvery(cfg.SnapshotEvery)),
		eventsource.WithSnapshotLogger(logger),
	)
	repo.Register(&FrequentFlierAccount{})

	leaderboard := &milesLeaderboard{miles: make(map[string]int)}
	manager := eventsource.NewProjectionManager(eventRepo,
		eventsource.WithBatchSize(cfg.RebuildBatchSize),
		eventsource.WithProjectionLogger(logger),
	)
	if err := manager.Register(leaderboard); err != nil {
		return err
	}
	sub := manager.SubscribeLive()
	defer sub.Unsubscribe()

	account, err := CreateFrequentFlierAccount("morgan")
	if err != nil {
		return err
	}
	account.RecordFlightTaken(1000, 5)
	if err := repo.Save(account); err != nil {
		return fmt.Errorf("could not save the account: %w", err)
	}

	// a command on an already stored aggregate, retried on write conflicts
	if err := recordFlight(ctx, repo, cfg, "morgan", 2500, 15); err != nil {
		return err
	}

	// load the saved aggregate, from the latest snapshot when one exists
	twin := FrequentFlierAccount{}
	if err := repo.Get("morgan", &twin); err != nil {
		return fmt.Errorf("could not get the account: %w", err)
	}
	fmt.Println(twin)

	// rebuild the read model from the full event log
	if err := manager.RebuildAll(ctx); err != nil {
		return fmt.Errorf("could not rebuild the leaderboard: %w", err)
	}
	for id, miles := range leaderboard.miles {
		fmt.Printf("account %s has %d miles\n", id, miles)
	}
	return nil
}

// recordFlight loads the account, applies the flight and saves. A concurrent
// writer surfaces as a concurrency error, the whole command is retried on a
// fresh load so the business rules run against the stored state.
func recordFlight(ctx context.Context, repo *eventsource.SnapshotRepository, cfg config, id string, miles, tierPoints int) error {
	operation := func() (any, error) {
		account := FrequentFlierAccount{}
		if err := repo.GetWithContext(ctx, id, &account); err != nil {
			return nil, backoff.Permanent(err)
		}
		account.RecordFlightTaken(miles, tierPoints)

		err := repo.Save(&account)
		if errors.Is(err, eventsource.ErrConcurrency) {
			return nil, err
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, nil
	}

	bo := backoff.NewExponentialBackOff()
	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxElapsedTime(cfg.SaveRetryTime))
	return err
}
