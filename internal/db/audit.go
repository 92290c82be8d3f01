package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/fragline/internal/events"
)

// AuditLog persists session events and operator alerts.
type AuditLog struct {
	db  *Database
	now func() time.Time
}

// AuditEntry is one recorded event.
type AuditEntry struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	SessionID string          `json:"session_id,omitempty"`
	Slot      int             `json:"slot"`
	Name      string          `json:"name,omitempty"`
	Address   string          `json:"address,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	Time      time.Time       `json:"time"`
}

// AuditQuery narrows Recent. Zero fields match everything.
type AuditQuery struct {
	Type    string
	Address string
	Name    string
	Since   time.Time
}

// Alert represents an alert record.
type Alert struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// NewAuditLog opens the database at path and migrates the schema.
func NewAuditLog(path string) (*AuditLog, error) {
	d, err := NewDatabase(path)
	if err != nil {
		return nil, err
	}

	a := &AuditLog{db: d, now: time.Now}
	if err := a.migrate(); err != nil {
		d.Close()
		return nil, err
	}
	return a, nil
}

// schema is the ordered list of migration steps; append, never edit.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS session_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		slot INTEGER NOT NULL DEFAULT -1,
		name TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		at_ms INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		acknowledged INTEGER DEFAULT 0,
		created_ms INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_session_events_at ON session_events(at_ms);
	CREATE INDEX IF NOT EXISTS idx_session_events_address ON session_events(address);
	CREATE INDEX IF NOT EXISTS idx_alerts_acknowledged ON alerts(acknowledged);`,
}

// vacuumThreshold is the purge size after which the file is compacted.
const vacuumThreshold = 10000

func (a *AuditLog) migrate() error {
	if _, err := a.db.Migrate(schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	return nil
}

// Record stores one event. Payloads scoped to a session fill the
// session columns; the full payload goes to detail as JSON.
func (a *AuditLog) Record(ev events.Event) error {
	ref := events.SessionRef{Slot: -1}
	if scoped, ok := ev.Payload.(events.SessionScoped); ok {
		ref = scoped.Session()
	}

	var detail []byte
	if ev.Payload != nil {
		var err error
		detail, err = json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode %s payload: %w", ev.Type, err)
		}
	}

	at := ev.Time
	if at.IsZero() {
		at = a.now()
	}

	_, err := a.db.Exec(
		`INSERT INTO session_events (type, source, session_id, slot, name, address, detail, at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(ev.Type), ev.Source, ref.SessionID, ref.Slot, ref.Name, ref.Address,
		string(detail), at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", ev.Type, err)
	}
	return nil
}

// Handler adapts Record for EventBus.SubscribeAll.
func (a *AuditLog) Handler() events.HandlerFunc {
	return func(_ context.Context, ev events.Event) error {
		return a.Record(ev)
	}
}

// Recent returns up to limit entries matching q, newest first.
func (a *AuditLog) Recent(limit int, q AuditQuery) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	var where []string
	var args []interface{}
	if q.Type != "" {
		where = append(where, "type = ?")
		args = append(args, q.Type)
	}
	if q.Address != "" {
		where = append(where, "address = ?")
		args = append(args, q.Address)
	}
	if q.Name != "" {
		where = append(where, "name = ?")
		args = append(args, q.Name)
	}
	if !q.Since.IsZero() {
		where = append(where, "at_ms >= ?")
		args = append(args, q.Since.UnixMilli())
	}

	query := "SELECT id, type, source, session_id, slot, name, address, detail, at_ms FROM session_events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY at_ms DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	entries := []AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		var detail string
		var atMs int64
		if err := rows.Scan(&e.ID, &e.Type, &e.Source, &e.SessionID, &e.Slot,
			&e.Name, &e.Address, &detail, &atMs); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		if detail != "" {
			e.Detail = json.RawMessage(detail)
		}
		e.Time = time.UnixMilli(atMs)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Purge removes events older than the given number of days and returns
// how many rows went.
func (a *AuditLog) Purge(days int) (int64, error) {
	cutoff := a.now().Add(-time.Duration(days) * 24 * time.Hour)
	res, err := a.db.Exec("DELETE FROM session_events WHERE at_ms < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit log: %w", err)
	}
	n, _ := res.RowsAffected()
	if n >= vacuumThreshold {
		if err := a.db.Vacuum(); err != nil {
			log.Warn().Err(err).Msg("failed to vacuum audit database")
		}
	}
	return n, nil
}

// CreateAlert records a new alert.
func (a *AuditLog) CreateAlert(alertType, level, message string) error {
	_, err := a.db.Exec(
		"INSERT INTO alerts (type, level, message, created_ms) VALUES (?, ?, ?, ?)",
		alertType, level, message, a.now().UnixMilli())
	return err
}

// GetUnacknowledgedAlerts returns all unacknowledged alerts.
func (a *AuditLog) GetUnacknowledgedAlerts() ([]Alert, error) {
	rows, err := a.db.Query(
		"SELECT id, type, level, message, created_ms FROM alerts WHERE acknowledged = 0 ORDER BY created_ms DESC, id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := []Alert{}
	for rows.Next() {
		var al Alert
		var createdMs int64
		if err := rows.Scan(&al.ID, &al.Type, &al.Level, &al.Message, &createdMs); err != nil {
			continue
		}
		al.CreatedAt = time.UnixMilli(createdMs)
		alerts = append(alerts, al)
	}

	return alerts, nil
}

// AcknowledgeAlert marks an alert as acknowledged.
func (a *AuditLog) AcknowledgeAlert(alertID int64) error {
	res, err := a.db.Exec("UPDATE alerts SET acknowledged = 1 WHERE id = ?", alertID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("alert %d not found", alertID)
	}
	return nil
}

// CleanOldAlerts removes acknowledged alerts older than the specified days.
func (a *AuditLog) CleanOldAlerts(days int) error {
	cutoff := a.now().Add(-time.Duration(days) * 24 * time.Hour)
	_, err := a.db.Exec(
		"DELETE FROM alerts WHERE acknowledged = 1 AND created_ms < ?", cutoff.UnixMilli())
	return err
}

// Close closes the database.
func (a *AuditLog) Close() error {
	return a.db.Close()
}
