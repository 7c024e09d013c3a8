package memory_test

import (
	"testing"

	"github.com/oxtal/eventsource/core"
	"github.com/oxtal/eventsource/snapshotstore/memory"
	"github.com/oxtal/eventsource/snapshotstore/suite"
)

func TestSuiteMemory(t *testing.T) {
	f := func() (core.SnapshotStore, func(), error) {
		return memory.New(), func() {}, nil
	}
	suite.Test(t, f)
}
