package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	logFileSuffix = "Log_Usage_Windows.log"
	logDateLayout = "060102"
)

// LocalIOError reports a failed append or delete in the log folder.
type LocalIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *LocalIOError) Error() string {
	return fmt.Sprintf("local log %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *LocalIOError) Unwrap() error { return e.Err }

// LogSink is the append-only, date-partitioned local log.
type LogSink struct {
	folder string
	now    func() time.Time
	log    zerolog.Logger

	mu      sync.Mutex
	current string
}

// NewLogSink writes into folder, creating it on first append.
func NewLogSink(folder string, log zerolog.Logger) *LogSink {
	if folder == "" {
		folder = "."
	}
	return &LogSink{folder: folder, now: time.Now, log: log}
}

// PathFor returns the file a record stamped at t belongs to.
func (s *LogSink) PathFor(t time.Time) string {
	return filepath.Join(s.folder, t.Format(logDateLayout)+logFileSuffix)
}

// Append writes line plus a newline to the file for t's calendar day.
func (s *LogSink) Append(t time.Time, line []byte) error {
	path := s.PathFor(t)

	s.mu.Lock()
	if s.current != path {
		if s.current != "" {
			s.log.Info().Str("file", path).Msg("switching to new daily log file")
		}
		s.current = path
	}
	s.mu.Unlock()

	if err := os.MkdirAll(s.folder, 0o755); err != nil {
		return &LocalIOError{Op: "mkdir", Path: s.folder, Err: err}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return &LocalIOError{Op: "open", Path: path, Err: err}
	}
	buf := make([]byte, 0, len(line)+1)
	buf = append(append(buf, line...), '\n')
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return &LocalIOError{Op: "append", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &LocalIOError{Op: "close", Path: path, Err: err}
	}
	return nil
}

// Cleanup deletes daily files whose embedded date is more than retentionDays
// calendar days before today. Negative retention disables pruning. Each failed
// delete is collected into the returned error; the sweep continues past it.
func (s *LogSink) Cleanup(retentionDays int) (int, error) {
	if retentionDays < 0 {
		s.log.Warn().Int("retention_days", retentionDays).Msg("negative retention, skipping log cleanup")
		return 0, nil
	}

	entries, err := os.ReadDir(s.folder)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.log.Info().Str("folder", s.folder).Msg("log folder does not exist yet, nothing to clean")
			return 0, nil
		}
		return 0, &LocalIOError{Op: "readdir", Path: s.folder, Err: err}
	}

	today := civilDay(s.now())
	var (
		deleted int
		errs    []error
	)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		day, ok := parseLogFileName(e.Name())
		if !ok {
			continue
		}
		age := int(today.Sub(day).Hours() / 24)
		if age <= retentionDays {
			continue
		}
		path := filepath.Join(s.folder, e.Name())
		if err := os.Remove(path); err != nil {
			s.log.Error().Err(err).Str("file", path).Msg("deleting old log file")
			errs = append(errs, &LocalIOError{Op: "delete", Path: path, Err: err})
			continue
		}
		deleted++
		s.log.Info().Str("file", path).Int("age_days", age).Msg("deleted old log file")
	}
	return deleted, errors.Join(errs...)
}

// parseLogFileName extracts the calendar day from "YYMMDD" + logFileSuffix.
func parseLogFileName(name string) (time.Time, bool) {
	if len(name) != len(logDateLayout)+len(logFileSuffix) || !strings.HasSuffix(name, logFileSuffix) {
		return time.Time{}, false
	}
	d, err := time.Parse(logDateLayout, name[:len(logDateLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// civilDay drops the clock and zone so day arithmetic is exact across DST.
func civilDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
