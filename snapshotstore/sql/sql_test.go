package sql_test

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/oxtal/eventsource/core"
	sqlstore "github.com/oxtal/eventsource/snapshotstore/sql"
	"github.com/oxtal/eventsource/snapshotstore/suite"
)

func TestSuiteSQLite(t *testing.T) {
	f := func() (core.SnapshotStore, func(), error) {
		dbFile := filepath.Join(t.TempDir(), "snapshots.db")
		db, err := sql.Open("sqlite3", dbFile)
		if err != nil {
			return nil, nil, err
		}
		ss := sqlstore.New(db)
		if err := ss.Migrate(); err != nil {
			return nil, nil, err
		}
		return ss, func() { ss.Close() }, nil
	}
	suite.Test(t, f)
}
