package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/account-tracker/internal/tracker"
)

// Recorder appends check records to a single window log.
type Recorder struct {
	path string
}

// NewRecorder returns a Recorder for the log at path. The file is created
// lazily on the first append.
func NewRecorder(path string) (*Recorder, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("log path is required")
	}
	return &Recorder{path: path}, nil
}

// Append writes rec as one line, preceded by the header when the file is new.
// The line is written in a single call on an O_APPEND descriptor and synced
// before returning.
func (r *Recorder) Append(rec tracker.CheckRecord) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o750); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	// #nosec G304 -- path comes from configuration.
	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log: %w", err)
	}

	var b strings.Builder
	if info.Size() == 0 {
		b.WriteString(Header)
		b.WriteByte('\n')
	}
	b.WriteString(FormatRecord(rec))
	b.WriteByte('\n')

	if _, err := f.WriteString(b.String()); err != nil {
		_ = f.Close()
		return fmt.Errorf("append record: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close log: %w", err)
	}
	return nil
}
