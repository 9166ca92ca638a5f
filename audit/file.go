package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotationConfig controls the rotating file sink.
type RotationConfig struct {
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
	Compress   bool
}

// DefaultRotation keeps thirty days of daily-sized files.
func DefaultRotation() RotationConfig {
	return RotationConfig{MaxSizeMB: 100, MaxAgeDays: 30}
}

// FileSink appends JSON lines to a size-rotated file and serves the read
// path from the active file.
type FileSink struct {
	*JSONWriterSink
	path string
	w    *lumberjack.Logger
}

// NewRotatingFileSink opens (lazily) a lumberjack-rotated JSON lines file.
func NewRotatingFileSink(path string, cfg RotationConfig) *FileSink {
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxAge:     cfg.MaxAgeDays,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
	return &FileSink{
		JSONWriterSink: NewJSONWriterSink(w),
		path:           path,
		w:              w,
	}
}

// Close closes the active file.
func (s *FileSink) Close() error {
	return s.w.Close()
}

// Recent returns up to limit events from the active file, newest first.
func (s *FileSink) Recent(ctx context.Context, limit int) ([]Event, error) {
	return s.Search(ctx, Criteria{Limit: limit})
}

// Search scans the active file. Rotated backups are not consulted.
func (s *FileSink) Search(ctx context.Context, criteria Criteria) ([]Event, error) {
	return searchJSONLines(ctx, s.path, criteria)
}

func searchJSONLines(ctx context.Context, path string, criteria Criteria) ([]Event, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Event{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var matched []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			// partial trailing line while a write is in flight
			continue
		}
		if criteria.Match(e) {
			matched = append(matched, e)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	out := make([]Event, 0, len(matched))
	for i := len(matched) - 1; i >= 0; i-- {
		out = append(out, matched[i])
		if criteria.Limit > 0 && len(out) == criteria.Limit {
			break
		}
	}
	return out, nil
}
