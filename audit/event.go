package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Category groups events by subsystem.
type Category string

const (
	CategoryAuth     Category = "auth"
	CategorySecurity Category = "security"
	CategorySystem   Category = "system"
	CategoryAdmin    Category = "admin"
)

// Severity orders events from routine to urgent.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityNotice
	SeverityWarning
	SeverityError
	SeverityCritical
)

var severityNames = [...]string{"debug", "info", "notice", "warning", "error", "critical"}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts a severity name.
func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSeverity maps a name such as "warning" to its Severity.
func ParseSeverity(name string) (Severity, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range severityNames {
		if n == name {
			return Severity(i), nil
		}
	}
	return SeverityDebug, fmt.Errorf("audit: unknown severity %q", name)
}

// Event is one append-only audit record.
type Event struct {
	ID        string         `json:"id"`
	Category  Category       `json:"category"`
	Action    string         `json:"action"`
	ActorID   string         `json:"actor_id,omitempty"`
	Source    string         `json:"source,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Severity  Severity       `json:"severity"`
	Details   map[string]any `json:"details,omitempty"`
}

// Sink persists events. Implementations must be safe for use by a single
// writer goroutine; Log never calls Write concurrently on the same sink.
type Sink interface {
	Write(ctx context.Context, event Event) error
}

// ErrReadUnsupported is returned by the read path when the configured sink
// cannot be queried.
var ErrReadUnsupported = errors.New("audit: sink does not support reads")

// Criteria filters a Search. Zero fields match everything.
type Criteria struct {
	Category    Category
	Action      string
	ActorID     string
	Source      string
	MinSeverity Severity
	Since       time.Time
	Until       time.Time
	Limit       int
}

// Match reports whether e satisfies every set field of c.
func (c Criteria) Match(e Event) bool {
	if c.Category != "" && e.Category != c.Category {
		return false
	}
	if c.Action != "" && e.Action != c.Action {
		return false
	}
	if c.ActorID != "" && e.ActorID != c.ActorID {
		return false
	}
	if c.Source != "" && e.Source != c.Source {
		return false
	}
	if e.Severity < c.MinSeverity {
		return false
	}
	if !c.Since.IsZero() && e.Timestamp.Before(c.Since) {
		return false
	}
	if !c.Until.IsZero() && e.Timestamp.After(c.Until) {
		return false
	}
	return true
}

// Reader is implemented by sinks that can be queried, newest first.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Event, error)
	Search(ctx context.Context, criteria Criteria) ([]Event, error)
}

// Recorder is the write side used by gateway components.
type Recorder interface {
	Record(ctx context.Context, event Event)
}
