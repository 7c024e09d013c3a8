package memory_test

import (
	"testing"

	"github.com/oxtal/eventsource/core"
	"github.com/oxtal/eventsource/eventstore/memory"
	"github.com/oxtal/eventsource/eventstore/suite"
)

func TestSuiteMemory(t *testing.T) {
	f := func() (core.EventStore, func(), error) {
		es := memory.Create()
		return es, func() { es.Close() }, nil
	}
	suite.Test(t, f)
}
