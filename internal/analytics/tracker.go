package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"mineat/internal/utils"
)

// Tracker handles analytics event recording
type Tracker struct {
	db      *sql.DB
	enabled bool
	mu      sync.Mutex
	pending sync.WaitGroup
}

// NewTracker creates a new analytics tracker.
// If enabled is false, tracking is disabled but the database is still created.
func NewTracker(dbPath string, enabled bool) (*Tracker, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}

	return &Tracker{
		db:      db,
		enabled: enabled,
	}, nil
}

// Enabled reports whether events are recorded.
func (t *Tracker) Enabled() bool {
	return t.enabled
}

// Flush waits for events still being written.
func (t *Tracker) Flush() {
	t.pending.Wait()
}

// Close flushes pending events and closes the database connection
func (t *Tracker) Close() error {
	t.Flush()
	if t.db != nil {
		return t.db.Close()
	}
	return nil
}

// TrackCommand wraps command execution with analytics tracking.
// The provided function is always executed, but events are only recorded
// when analytics is enabled.
func (t *Tracker) TrackCommand(cmd, subcmd, mine string, flags []string, fn func() error) error {
	if !t.enabled {
		return fn()
	}

	start := time.Now()
	err := fn()
	duration := time.Since(start).Milliseconds()

	event := Event{
		Timestamp:  time.Now().Unix(),
		Command:    cmd,
		Subcommand: subcmd,
		Mine:       mine,
		Success:    err == nil,
		DurationMs: duration,
	}

	if flags != nil {
		flagsJSON, _ := json.Marshal(flags)
		event.Flags = string(flagsJSON)
	}

	if err != nil {
		event.ErrorType = categorizeError(err)
	}

	// Written in the background; Close waits for it
	t.pending.Add(1)
	go func() {
		defer t.pending.Done()
		t.logEvent(event)
	}()

	return err
}

// logEvent records an event to the database
func (t *Tracker) logEvent(event Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := insertEvent(t.db, event); err != nil {
		utils.Debugf("analytics: failed to record %s: %v", event.Command, err)
	}
}

// Stats returns per-command totals, most used first. Events still being
// written are included.
func (t *Tracker) Stats() ([]CommandStats, error) {
	t.Flush()
	return queryCommandStats(t.db)
}

// MineStats returns per-mine totals, most used first. Commands that ran
// without a mine are left out.
func (t *Tracker) MineStats() ([]MineStats, error) {
	t.Flush()
	return queryMineStats(t.db)
}

// Cleanup removes events older than retentionDays and returns how many were
// removed.
func (t *Tracker) Cleanup(retentionDays int) (int64, error) {
	t.Flush()
	cutoff := time.Now().Unix() - int64(retentionDays*86400)

	deleted, err := deleteEventsBefore(t.db, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		_, _ = t.db.Exec("VACUUM")
	}
	return deleted, nil
}

// categorizeError categorizes an error into a general type
func categorizeError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "timeout"):
		return "timeout"
	case strings.Contains(errStr, "network") || strings.Contains(errStr, "connection") || strings.Contains(errStr, "no such host"):
		return "network"
	case strings.Contains(errStr, "auth") || strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "forbidden") || strings.Contains(errStr, "token"):
		return "auth"
	case strings.Contains(errStr, "not found"):
		return "not_found"
	case strings.Contains(errStr, "invalid") || strings.Contains(errStr, "validation"):
		return "validation"
	default:
		return "unknown"
	}
}
