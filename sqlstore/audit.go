package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authgate/audit"
)

// MaxSearchResults caps a Search without a limit.
const MaxSearchResults = 1000

// AuditStore is an audit sink and reader over the audit_events table.
type AuditStore struct {
	db *DB
}

// NewAuditStore returns a store over db.
func NewAuditStore(db *DB) *AuditStore {
	return &AuditStore{db: db}
}

var (
	_ audit.Sink   = (*AuditStore)(nil)
	_ audit.Reader = (*AuditStore)(nil)
)

// Write inserts event.
func (s *AuditStore) Write(ctx context.Context, event audit.Event) error {
	var details any
	if len(event.Details) > 0 {
		raw, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		details = string(raw)
	}

	q := s.db.rebind(`INSERT INTO audit_events
		(id, category, action, actor_id, source, user_agent, severity, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q,
		event.ID,
		string(event.Category),
		event.Action,
		event.ActorID,
		event.Source,
		event.UserAgent,
		int(event.Severity),
		details,
		event.Timestamp.UTC().Truncate(time.Microsecond),
	)
	return err
}

// Recent returns up to limit events, newest first.
func (s *AuditStore) Recent(ctx context.Context, limit int) ([]audit.Event, error) {
	return s.Search(ctx, audit.Criteria{Limit: limit})
}

// Search returns events matching criteria, newest first.
func (s *AuditStore) Search(ctx context.Context, c audit.Criteria) ([]audit.Event, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		where = append(where, clause)
		args = append(args, arg)
	}
	if c.Category != "" {
		add("category = ?", string(c.Category))
	}
	if c.Action != "" {
		add("action = ?", c.Action)
	}
	if c.ActorID != "" {
		add("actor_id = ?", c.ActorID)
	}
	if c.Source != "" {
		add("source = ?", c.Source)
	}
	if c.MinSeverity > audit.SeverityDebug {
		add("severity >= ?", int(c.MinSeverity))
	}
	if !c.Since.IsZero() {
		add("created_at >= ?", c.Since.UTC())
	}
	if !c.Until.IsZero() {
		add("created_at <= ?", c.Until.UTC())
	}

	limit := c.Limit
	if limit <= 0 || limit > MaxSearchResults {
		limit = MaxSearchResults
	}

	var b strings.Builder
	b.WriteString("SELECT id, category, action, actor_id, source, user_agent, severity, details, created_at FROM audit_events")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC LIMIT ?")
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.db.rebind(b.String()), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]audit.Event, 0)
	for rows.Next() {
		var (
			e        audit.Event
			category string
			severity int
			details  []byte
		)
		if err := rows.Scan(&e.ID, &category, &e.Action, &e.ActorID, &e.Source, &e.UserAgent, &severity, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Category = audit.Category(category)
		e.Severity = audit.Severity(severity)
		e.Timestamp = e.Timestamp.UTC()
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
