// Package database opens the durable store and applies the schema.
// MySQL is the deployment target; sqlite3 backs local runs and tests.
// All queries elsewhere use database/sql with ? placeholders, which
// both drivers accept.
package database

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"tileboard/internal/config"
)

// Init opens a connection per cfg and ensures the schema exists.
func Init(cfg config.Config) (*sql.DB, error) {
	var db *sql.DB
	var err error

	switch cfg.DBDriver {
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
			cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
		db, err = sql.Open("mysql", dsn)
	case "sqlite3":
		db, err = sql.Open("sqlite3", cfg.DBPath)
	default:
		return nil, errors.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	if err := InitSchema(db, cfg.DBDriver); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// InitSchema creates the event log, tile projection, snapshot and room
// tables if missing. Exported so tests can apply it to an in-memory
// sqlite database.
func InitSchema(db *sql.DB, driver string) error {
	autoinc := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if driver == "mysql" {
		autoinc = "BIGINT AUTO_INCREMENT PRIMARY KEY"
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS stroke_events (
			id %s,
			room_id VARCHAR(64) NOT NULL DEFAULT '1',
			event_type VARCHAR(50) NOT NULL,
			stroke_id VARCHAR(36) NOT NULL,
			payload TEXT,
			ts BIGINT NOT NULL,
			min_x DOUBLE PRECISION,
			min_y DOUBLE PRECISION,
			max_x DOUBLE PRECISION,
			max_y DOUBLE PRECISION
		)`, autoinc),
		`CREATE INDEX IF NOT EXISTS idx_stroke_events_room_ts ON stroke_events(room_id, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_stroke_events_stroke_id ON stroke_events(stroke_id)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tile_events (
			id %s,
			room_id VARCHAR(64) NOT NULL,
			tile_id BIGINT NOT NULL,
			stroke_id VARCHAR(36) NOT NULL,
			event_type VARCHAR(50) NOT NULL,
			payload TEXT,
			ts BIGINT NOT NULL
		)`, autoinc),
		`CREATE INDEX IF NOT EXISTS idx_tile_events_room_tile ON tile_events(room_id, tile_id, id)`,

		`CREATE TABLE IF NOT EXISTS tile_snapshots (
			room_id VARCHAR(64) NOT NULL DEFAULT '1',
			tile_x INTEGER NOT NULL,
			tile_y INTEGER NOT NULL,
			version BIGINT NOT NULL,
			snapshot_key TEXT,
			PRIMARY KEY (room_id, tile_x, tile_y, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tile_snapshots_coords ON tile_snapshots(room_id, tile_x, tile_y)`,

		`CREATE TABLE IF NOT EXISTS rooms (
			room_id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL DEFAULT 'Room',
			updated_at BIGINT NOT NULL DEFAULT 0
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrapf(err, "apply schema: %.40s", stmt)
		}
	}
	return nil
}
