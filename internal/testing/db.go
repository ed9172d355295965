// Package testing provides shared test helpers.
package testing

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/aristath/coinwheel/internal/database"
)

// NewTradingDB opens an in-memory trading database with the schema applied.
// The cleanup function is idempotent.
func NewTradingDB(t *testing.T) (*database.DB, func()) {
	t.Helper()

	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	// One connection so every statement sees the same in-memory database.
	conn.SetMaxOpenConns(1)

	db := database.NewFromConn(conn, "trading")
	if err := db.Migrate(database.TradingSchema); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db, func() {
		_ = db.Close()
	}
}
