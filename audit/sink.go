package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// NopSink drops events.
type NopSink struct{}

func (NopSink) Write(context.Context, Event) error { return nil }

// ChannelSink writes events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Write(ctx context.Context, event Event) error {
	select {
	case s.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Write(_ context.Context, event Event) error {
	if s == nil || s.writer == nil {
		return errors.New("audit: nil writer")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.writer.Write(data)
	return err
}

// Close closes the underlying writer when it is an io.Closer.
func (s *JSONWriterSink) Close() error {
	if c, ok := s.writer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// SlogSink forwards events to a structured logger, mapping severity to
// log level.
type SlogSink struct {
	logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Write(ctx context.Context, event Event) error {
	attrs := []slog.Attr{
		slog.String("audit_id", event.ID),
		slog.String("category", string(event.Category)),
		slog.String("action", event.Action),
		slog.String("severity", event.Severity.String()),
		slog.Time("timestamp", event.Timestamp),
	}
	if event.ActorID != "" {
		attrs = append(attrs, slog.String("actor_id", event.ActorID))
	}
	if event.Source != "" {
		attrs = append(attrs, slog.String("source", event.Source))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if len(event.Details) > 0 {
		attrs = append(attrs, slog.Any("details", event.Details))
	}
	s.logger.LogAttrs(ctx, slogLevel(event.Severity), "audit", attrs...)
	return nil
}

func slogLevel(s Severity) slog.Level {
	switch {
	case s >= SeverityError:
		return slog.LevelError
	case s >= SeverityWarning:
		return slog.LevelWarn
	case s >= SeverityInfo:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// MultiSink fans an event out to several sinks. It attempts every sink and
// joins the failures. Reads go to the first sink that implements Reader.
//
// Without a fallback, one failing member fails the whole write, and a
// caller that retries elsewhere duplicates the event for the members that
// succeeded. WithFallback avoids that by handling each failure per member.
type MultiSink struct {
	sinks    []Sink
	fallback Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	kept := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &MultiSink{sinks: kept}
}

// WithFallback sends events a member sink rejected to fallback, tagged with
// that member's type under details["failed_sink"]. Write then fails only
// when the fallback also fails.
func (m *MultiSink) WithFallback(fallback Sink) *MultiSink {
	m.fallback = fallback
	return m
}

func (m *MultiSink) Write(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m.sinks {
		err := s.Write(ctx, event)
		if err == nil {
			continue
		}
		if m.fallback == nil {
			errs = append(errs, err)
			continue
		}
		if ferr := m.fallback.Write(ctx, tagFailedSink(event, s)); ferr != nil {
			errs = append(errs, err, ferr)
		}
	}
	return errors.Join(errs...)
}

func tagFailedSink(event Event, s Sink) Event {
	details := make(map[string]any, len(event.Details)+1)
	for k, v := range event.Details {
		details[k] = v
	}
	details["failed_sink"] = fmt.Sprintf("%T", s)
	event.Details = details
	return event
}

func (m *MultiSink) reader() Reader {
	for _, s := range m.sinks {
		if r, ok := s.(Reader); ok {
			return r
		}
	}
	return nil
}

func (m *MultiSink) Recent(ctx context.Context, limit int) ([]Event, error) {
	r := m.reader()
	if r == nil {
		return nil, ErrReadUnsupported
	}
	return r.Recent(ctx, limit)
}

func (m *MultiSink) Search(ctx context.Context, criteria Criteria) ([]Event, error) {
	r := m.reader()
	if r == nil {
		return nil, ErrReadUnsupported
	}
	return r.Search(ctx, criteria)
}
