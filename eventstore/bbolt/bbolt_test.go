package bbolt_test

import (
	"path/filepath"
	"testing"

	"github.com/oxtal/eventsource/core"
	"github.com/oxtal/eventsource/eventstore/bbolt"
	"github.com/oxtal/eventsource/eventstore/suite"
)

func TestSuiteBBolt(t *testing.T) {
	f := func() (core.EventStore, func(), error) {
		dbFile := filepath.Join(t.TempDir(), "events.db")
		es := bbolt.MustOpenBBolt(dbFile)
		return es, func() { es.Close() }, nil
	}
	suite.Test(t, f)
}
