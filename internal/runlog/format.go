// Package runlog owns the append-only check log: its line format, the
// recorder that appends to it, and the run state replayed from it.
package runlog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/account-tracker/internal/tracker"
)

// Separator joins fields within a log line. It never appears inside a field.
const Separator = ";;;"

// Timestamp layouts. Records are written with microsecond precision; the
// second-precision layout is accepted for older lines.
const (
	TimestampLayout       = "20060102T150405.000000Z"
	LegacyTimestampLayout = "20060102T150405Z"
)

// Fields names the log columns in write order.
var Fields = []string{
	"timestamp_utc",
	"handle",
	"url",
	"status",
	"posts_count",
	"has_visible_posts",
	"bio",
	"screenshot",
	"error",
}

// Header is the first line of every log file.
var Header = strings.Join(Fields, Separator)

var (
	// ErrInvalidLine is returned for lines that are not a record row.
	ErrInvalidLine = errors.New("runlog: invalid line")
	// ErrInvalidTimestamp is returned when the timestamp field matches no layout.
	ErrInvalidTimestamp = errors.New("runlog: invalid timestamp")
)

var fieldReplacer = strings.NewReplacer(
	"\r\n", " ",
	"\n", " ",
	"\r", " ",
	";;", "; ",
)

// FormatTimestamp renders t in the log's compact UTC layout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts either timestamp layout.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{TimestampLayout, LegacyTimestampLayout} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, value)
}

// sanitize flattens a value onto one line and keeps it from forming the
// separator, including together with the separator that follows it. A
// trailing ';' is padded with a space; unpad reverses that on read.
func sanitize(value string) string {
	value = fieldReplacer.Replace(value)
	if strings.HasSuffix(value, ";") {
		value += " "
	}
	return value
}

// unpad drops the space sanitize appends after a trailing ';'.
func unpad(value string) string {
	if strings.HasSuffix(value, "; ") {
		return value[:len(value)-1]
	}
	return value
}

// FormatRecord encodes rec as a single log line without the trailing newline.
func FormatRecord(rec tracker.CheckRecord) string {
	posts := ""
	if rec.PostCount != nil {
		posts = strconv.FormatInt(*rec.PostCount, 10)
	}
	values := []string{
		FormatTimestamp(rec.Timestamp),
		sanitize(rec.Target.String()),
		sanitize(rec.URL),
		sanitize(string(rec.Status)),
		posts,
		sanitize(string(rec.Visible)),
		sanitize(strings.TrimSpace(fieldReplacer.Replace(rec.Bio))),
		sanitize(rec.Screenshot),
		sanitize(rec.Error),
	}
	return strings.Join(values, Separator)
}

// ParseRecord decodes one log line. The header and rows with fewer fields than
// the header return ErrInvalidLine; unparsable timestamps return
// ErrInvalidTimestamp. Rows with extra fields come from bios written before
// separators were escaped; the surplus is folded back into the bio. A
// malformed post count is dropped rather than failing the row.
func ParseRecord(line string) (tracker.CheckRecord, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, Fields[0]+Separator) {
		return tracker.CheckRecord{}, ErrInvalidLine
	}
	parts := strings.Split(line, Separator)
	if len(parts) < len(Fields) {
		return tracker.CheckRecord{}, fmt.Errorf("%w: %d fields", ErrInvalidLine, len(parts))
	}
	ts, err := ParseTimestamp(parts[0])
	if err != nil {
		return tracker.CheckRecord{}, err
	}
	target := strings.TrimSpace(parts[1])
	if target == "" {
		return tracker.CheckRecord{}, fmt.Errorf("%w: empty handle", ErrInvalidLine)
	}
	n := len(parts)
	return tracker.CheckRecord{
		Timestamp:  ts,
		Target:     tracker.Target(target),
		URL:        parts[2],
		Status:     tracker.Status(strings.TrimSpace(parts[3])),
		PostCount:  parsePostCount(parts[4]),
		Visible:    tracker.Visibility(strings.TrimSpace(parts[5])),
		Bio:        unpad(strings.Join(parts[6:n-2], Separator)),
		Screenshot: unpad(parts[n-2]),
		Error:      unpad(parts[n-1]),
	}, nil
}

// parsePostCount accepts plain or thousands-separated counts.
func parsePostCount(value string) *int64 {
	value = strings.ReplaceAll(strings.TrimSpace(value), ",", "")
	if value == "" {
		return nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}
