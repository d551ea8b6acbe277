package analytics

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// schemaVersion is stored in PRAGMA user_version.
const schemaVersion = 1

// migrations[i] upgrades a database from version i to i+1.
var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp INTEGER NOT NULL,
    command TEXT NOT NULL,
    subcommand TEXT,
    mine TEXT,
    success INTEGER NOT NULL,
    duration_ms INTEGER,
    error_type TEXT,
    flags TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
CREATE INDEX IF NOT EXISTS idx_events_command ON events(command);
CREATE INDEX IF NOT EXISTS idx_events_mine ON events(mine);
`,
}

// openDB opens the analytics database at dbPath and brings its schema up to
// schemaVersion.
func openDB(dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create analytics directory: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open analytics database: %w", err)
	}
	// Writers share one connection.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// migrate applies the migrations the database has not seen yet.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read analytics schema version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("analytics database has schema version %d, newer than supported %d", version, schemaVersion)
	}

	for v := version; v < schemaVersion; v++ {
		if _, err := db.Exec(migrations[v]); err != nil {
			return fmt.Errorf("failed to migrate analytics schema to version %d: %w", v+1, err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			return fmt.Errorf("failed to record analytics schema version: %w", err)
		}
	}
	return nil
}

func insertEvent(db *sql.DB, e Event) error {
	_, err := db.Exec(`
		INSERT INTO events (timestamp, command, subcommand, mine, success, duration_ms, error_type, flags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp, e.Command, nullString(e.Subcommand), nullString(e.Mine),
		boolToInt(e.Success), e.DurationMs, nullString(e.ErrorType), nullString(e.Flags))
	return err
}

func queryCommandStats(db *sql.DB) ([]CommandStats, error) {
	rows, err := db.Query(`
		SELECT command, COUNT(*) AS total, SUM(success), AVG(COALESCE(duration_ms, 0))
		FROM events
		GROUP BY command
		ORDER BY total DESC, command ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var stats []CommandStats
	for rows.Next() {
		var s CommandStats
		if err := rows.Scan(&s.Command, &s.Total, &s.Successful, &s.AvgDurationMs); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// queryMineStats groups events by mine. The most frequent error type wins
// ties alphabetically.
func queryMineStats(db *sql.DB) ([]MineStats, error) {
	rows, err := db.Query(`
		SELECT e.mine, COUNT(*) AS total, COUNT(*) - SUM(e.success),
			(SELECT error_type FROM events f
			 WHERE f.mine = e.mine AND f.error_type IS NOT NULL
			 GROUP BY error_type
			 ORDER BY COUNT(*) DESC, error_type ASC
			 LIMIT 1)
		FROM events e
		WHERE e.mine IS NOT NULL
		GROUP BY e.mine
		ORDER BY total DESC, e.mine ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var stats []MineStats
	for rows.Next() {
		var s MineStats
		var topError sql.NullString
		if err := rows.Scan(&s.Mine, &s.Total, &s.Failed, &topError); err != nil {
			return nil, err
		}
		s.TopError = topError.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func deleteEventsBefore(db *sql.DB, cutoff int64) (int64, error) {
	result, err := db.Exec("DELETE FROM events WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// nullString stores empty strings as NULL
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
