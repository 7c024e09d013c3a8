package sql_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/oxtal/eventsource/core"
	sqlstore "github.com/oxtal/eventsource/eventstore/sql"
	"github.com/oxtal/eventsource/eventstore/suite"
)

func TestSuiteSQLite(t *testing.T) {
	f := func() (core.EventStore, func(), error) {
		dbFile := filepath.Join(t.TempDir(), "events.db")
		db, err := sql.Open("sqlite3", dbFile+"?_busy_timeout=5000")
		if err != nil {
			return nil, nil, err
		}
		// one connection keeps concurrent write transactions serialized
		db.SetMaxOpenConns(1)

		es := sqlstore.Open(db)
		if err := es.Migrate(); err != nil {
			return nil, nil, err
		}
		return es, func() {
			es.Close()
			os.Remove(dbFile)
		}, nil
	}
	suite.Test(t, f)
}

// TestIteratorSurfacesRowErrors verifies that a row stream failing mid scan
// surfaces an error instead of ending like a complete result, a truncated
// history must never build an aggregate or end a rebuild page silently.
func TestIteratorSurfacesRowErrors(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "events.db")
	db, err := sql.Open("sqlite3", dbFile+"?_busy_timeout=5000")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	es := sqlstore.Open(db)
	defer es.Close()
	if err := es.Migrate(); err != nil {
		t.Fatal(err)
	}

	events := make([]core.Event, 0, 512)
	for v := 1; v <= 512; v++ {
		events = append(events, core.Event{
			EventID:       fmt.Sprintf("event-%d", v),
			AggregateID:   "123",
			AggregateType: "FrequentFlierAccount",
			Version:       core.Version(v),
			Reason:        "FlightTaken",
			Timestamp:     time.Now().UTC(),
			Data:          []byte(`{"MilesAdded":1,"TierPointsAdded":1}`),
		})
	}
	if err := es.Save(events); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	iterator, err := es.All(ctx, 1, 1000)
	if err != nil {
		t.Fatal(err)
	}
	defer iterator.Close()

	if !iterator.Next() {
		t.Fatal("expected a first event")
	}
	if _, err := iterator.Value(); err != nil {
		t.Fatal(err)
	}

	// kill the row stream under the iterator
	cancel()

	read := 1
	var iterErr error
	for iterator.Next() {
		if _, err := iterator.Value(); err != nil {
			iterErr = err
			break
		}
		read++
	}
	if iterErr == nil {
		t.Fatalf("a failing row stream must surface an error, iteration ended cleanly after %d events", read)
	}
}
