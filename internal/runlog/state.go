package runlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/JakeFAU/account-tracker/internal/tracker"
)

const maxLineBytes = 1 << 20

// RunState maps each target (case-insensitive) to its latest check in a window.
// It is rebuilt from the log at the start of every run.
type RunState struct {
	latest map[string]time.Time
}

// NewRunState returns an empty state.
func NewRunState() RunState {
	return RunState{latest: make(map[string]time.Time)}
}

// LoadRunState replays the log at path. A missing file yields an empty state.
// Lines that are not valid records are skipped.
func LoadRunState(path string) (RunState, error) {
	state := NewRunState()
	err := scanFile(path, func(rec tracker.CheckRecord) {
		state.Observe(rec.Target, rec.Timestamp)
	})
	if err != nil {
		return RunState{}, err
	}
	return state, nil
}

// Observe records a check at ts, keeping the latest timestamp per target.
func (s *RunState) Observe(target tracker.Target, ts time.Time) {
	if s.latest == nil {
		s.latest = make(map[string]time.Time)
	}
	key := target.Key()
	if prev, ok := s.latest[key]; !ok || ts.After(prev) {
		s.latest[key] = ts
	}
}

// LastChecked returns the latest check time for target.
func (s RunState) LastChecked(target tracker.Target) (time.Time, bool) {
	ts, ok := s.latest[target.Key()]
	return ts, ok
}

// Len returns the number of targets with at least one check.
func (s RunState) Len() int {
	return len(s.latest)
}

// ReadRecords returns every valid record in the log at path, in file order.
// A missing file yields no records.
func ReadRecords(path string) ([]tracker.CheckRecord, error) {
	var out []tracker.CheckRecord
	if err := scanFile(path, func(rec tracker.CheckRecord) {
		out = append(out, rec)
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func scanFile(path string, fn func(tracker.CheckRecord)) error {
	// #nosec G304 -- path comes from configuration.
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open log: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := scan(f, fn); err != nil {
		return fmt.Errorf("read log %s: %w", path, err)
	}
	return nil
}

func scan(r io.Reader, fn func(tracker.CheckRecord)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		rec, err := ParseRecord(scanner.Text())
		if err != nil {
			continue
		}
		fn(rec)
	}
	return scanner.Err()
}
