package audit

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/MrEthical07/authgate/internal/reqctx"
)

// Config controls dispatcher buffering and failure handling.
type Config struct {
	// BufferSize is the queue depth between callers and the sink writer.
	BufferSize int
	// EnqueueTimeout is how long a warning-or-higher event waits for queue
	// space before it is diverted to the fallback sink.
	EnqueueTimeout time.Duration
	// WriteTimeout bounds each sink write.
	WriteTimeout time.Duration
	// Fallback receives events the primary sink rejected or could not
	// accept in time. Defaults to JSON lines on stderr.
	Fallback Sink
	Logger   *slog.Logger
	Now      func() time.Time
}

// Log records audit events asynchronously and in order. A single writer
// goroutine drains the queue into the sink, so events reach the sink in
// the order Record accepted them.
type Log struct {
	cfg      Config
	sink     Sink
	fallback Sink
	logger   *slog.Logger
	now      func() time.Time

	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	// mu is held shared while Record enqueues and exclusively while Close
	// flips closed, so no send can land after the final drain.
	mu     sync.RWMutex
	closed bool

	overflowed atomic.Uint64
	failed     atomic.Uint64
	errLimiter *rate.Limiter
}

// New starts a Log writing to sink.
func New(cfg Config, sink Sink) *Log {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.EnqueueTimeout < 0 {
		cfg.EnqueueTimeout = 0
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if sink == nil {
		sink = NopSink{}
	}
	if cfg.Fallback == nil {
		cfg.Fallback = NewJSONWriterSink(os.Stderr)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	l := &Log{
		cfg:        cfg,
		sink:       sink,
		fallback:   cfg.Fallback,
		logger:     cfg.Logger,
		now:        cfg.Now,
		ch:         make(chan Event, cfg.BufferSize),
		done:       make(chan struct{}),
		errLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}

	l.wg.Add(1)
	go l.run()

	return l
}

func (l *Log) run() {
	defer l.wg.Done()

	for {
		select {
		case event := <-l.ch:
			l.write(event)
		case <-l.done:
			l.drain()
			return
		}
	}
}

func (l *Log) drain() {
	for {
		select {
		case event := <-l.ch:
			l.write(event)
		default:
			return
		}
	}
}

func (l *Log) write(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.WriteTimeout)
	defer cancel()

	if err := l.sink.Write(ctx, event); err != nil {
		l.failed.Add(1)
		if l.errLimiter.Allow() {
			l.logger.Error("audit sink write failed",
				slog.String("audit_id", event.ID),
				slog.String("action", event.Action),
				slog.Any("error", err),
			)
		}
		l.writeFallback(event)
	}
}

func (l *Log) writeFallback(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.WriteTimeout)
	defer cancel()

	if err := l.fallback.Write(ctx, event); err != nil && l.errLimiter.Allow() {
		l.logger.Error("audit fallback write failed",
			slog.String("audit_id", event.ID),
			slog.String("action", event.Action),
			slog.Any("error", err),
		)
	}
}

// Record stamps event with an id, timestamp and request metadata when they
// are unset, then queues it. Record never blocks for longer than
// EnqueueTimeout and never fails.
func (l *Log) Record(ctx context.Context, event Event) {
	if l == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	l.stamp(ctx, &event)

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		l.writeFallback(event)
		return
	}

	select {
	case l.ch <- event:
		return
	default:
	}

	l.overflowed.Add(1)
	if event.Severity >= SeverityWarning && l.cfg.EnqueueTimeout > 0 {
		timer := time.NewTimer(l.cfg.EnqueueTimeout)
		defer timer.Stop()
		select {
		case l.ch <- event:
			return
		case <-timer.C:
		case <-ctx.Done():
		case <-l.done:
		}
	}
	l.writeFallback(event)
}

func (l *Log) stamp(ctx context.Context, event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}
	if event.Source == "" {
		event.Source = reqctx.ClientIP(ctx)
	}
	if event.UserAgent == "" {
		event.UserAgent = reqctx.UserAgent(ctx)
	}
}

// Auth records an authentication event.
func (l *Log) Auth(ctx context.Context, action string, severity Severity, actorID string, details map[string]any) {
	l.Record(ctx, Event{Category: CategoryAuth, Action: action, Severity: severity, ActorID: actorID, Details: details})
}

// Security records a security event.
func (l *Log) Security(ctx context.Context, action string, severity Severity, details map[string]any) {
	l.Record(ctx, Event{Category: CategorySecurity, Action: action, Severity: severity, Details: details})
}

// System records a system event.
func (l *Log) System(ctx context.Context, action string, severity Severity, details map[string]any) {
	l.Record(ctx, Event{Category: CategorySystem, Action: action, Severity: severity, Details: details})
}

// Recent returns up to limit events, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Event, error) {
	r, ok := l.sink.(Reader)
	if !ok {
		return nil, ErrReadUnsupported
	}
	return r.Recent(ctx, limit)
}

// Search returns events matching criteria, newest first.
func (l *Log) Search(ctx context.Context, criteria Criteria) ([]Event, error) {
	r, ok := l.sink.(Reader)
	if !ok {
		return nil, ErrReadUnsupported
	}
	return r.Search(ctx, criteria)
}

// Overflowed counts events that found the queue full.
func (l *Log) Overflowed() uint64 {
	if l == nil {
		return 0
	}
	return l.overflowed.Load()
}

// Failed counts primary sink write failures.
func (l *Log) Failed() uint64 {
	if l == nil {
		return 0
	}
	return l.failed.Load()
}

// Close flushes queued events and stops the writer. Events recorded after
// Close go to the fallback sink.
func (l *Log) Close() {
	if l == nil {
		return
	}
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()

		close(l.done)
		l.wg.Wait()
		l.drain()
	})
}
