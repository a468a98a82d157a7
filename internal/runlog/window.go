package runlog

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/JakeFAU/account-tracker/internal/tracker"
)

// LogFileName is the log file inside each window directory.
const LogFileName = "summary.csv"

// WindowLayout formats the UTC calendar day a record belongs to.
const WindowLayout = "2006-01-02"

// WindowFor returns the window (UTC day) containing t.
func WindowFor(t time.Time) string {
	return t.UTC().Format(WindowLayout)
}

// LogPath returns the log file for a window under dataDir.
func LogPath(dataDir, window string) string {
	return filepath.Join(dataDir, window, LogFileName)
}

// ScreenshotKey returns the blob path of a capture taken for target at ts.
func ScreenshotKey(window string, target tracker.Target, ts time.Time) string {
	return path.Join(window, "screenshots", fmt.Sprintf("%s_%s.png", target, FormatTimestamp(ts)))
}

// ListLogs returns every window log under dataDir, oldest window first.
func ListLogs(dataDir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dataDir, "*", LogFileName))
	if err != nil {
		return nil, fmt.Errorf("glob logs: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}
