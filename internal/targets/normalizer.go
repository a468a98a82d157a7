// Package targets turns loosely formatted account lists into a canonical,
// deduplicated, ordered set of tracker targets.
package targets

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/account-tracker/internal/tracker"
)

// Delimiters are tried in order. When two candidates yield the same number of
// identifiers, the one that actually splits more rows wins, then the earlier one.
var Delimiters = []rune{',', ';', '\t', '|'}

// headerWords are dropped when they appear as the first extracted value.
var headerWords = map[string]struct{}{
	"id":          {},
	"ids":         {},
	"handle":      {},
	"handles":     {},
	"username":    {},
	"user":        {},
	"screen_name": {},
}

// profilePrefixes are stripped from raw values, longest first.
var profilePrefixes = []string{
	"https://mobile.twitter.com/",
	"http://mobile.twitter.com/",
	"https://www.twitter.com/",
	"http://www.twitter.com/",
	"https://twitter.com/",
	"http://twitter.com/",
	"https://mobile.x.com/",
	"http://mobile.x.com/",
	"https://www.x.com/",
	"http://www.x.com/",
	"https://x.com/",
	"http://x.com/",
}

// Load reads and normalizes the target list at path. A missing file yields no
// targets and no error. Files ending in .xlsx are read as spreadsheets.
func Load(path string) ([]tracker.Target, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return LoadSpreadsheet(path)
	}
	// #nosec G304 -- path comes from configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read targets: %w", err)
	}
	return Parse(data), nil
}

// Parse normalizes a delimiter-separated list. The delimiter is detected by
// picking the candidate that yields the most identifiers.
func Parse(data []byte) []tracker.Target {
	lines := splitLines(data)
	if len(lines) == 0 {
		return nil
	}

	var (
		best      []string
		bestSplit int
	)
	for _, delim := range Delimiters {
		got, split := extractWith(lines, delim)
		if len(got) > len(best) || (len(got) == len(best) && split > bestSplit) {
			best, bestSplit = got, split
		}
	}
	if len(best) == 0 {
		for _, line := range lines {
			if id := Canonicalize(line); id != "" {
				best = append(best, id)
			}
		}
	}
	return finalize(best)
}

// Canonicalize strips markers, profile URL prefixes, and trailing path
// segments from a raw identifier.
func Canonicalize(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "@")
	lower := strings.ToLower(s)
	for _, prefix := range profilePrefixes {
		if strings.HasPrefix(lower, prefix) {
			s = s[len(prefix):]
			break
		}
	}
	s = strings.TrimPrefix(strings.TrimSpace(s), "@")
	s = strings.Trim(s, " /")
	if i := strings.IndexAny(s, "/?"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func splitLines(data []byte) []string {
	data = bytes.ReplaceAll(data, []byte{0}, nil)
	text := strings.ToValidUTF8(string(data), "�")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var out []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

// extractWith returns the identifiers found with delim and how many rows delim
// split into more than one field.
func extractWith(lines []string, delim rune) ([]string, int) {
	var (
		out   []string
		split int
	)
	for _, line := range lines {
		r := csv.NewReader(strings.NewReader(line))
		r.Comma = delim
		r.LazyQuotes = true
		r.FieldsPerRecord = -1
		row, err := r.Read()
		if err != nil {
			continue
		}
		if len(row) > 1 {
			split++
		}
		if id := Canonicalize(firstCell(row)); id != "" {
			out = append(out, id)
		}
	}
	return out, split
}

// FromRows normalizes pre-split rows, taking the first non-blank cell of each.
func FromRows(rows [][]string) []tracker.Target {
	var ids []string
	for _, row := range rows {
		if id := Canonicalize(firstCell(row)); id != "" {
			ids = append(ids, id)
		}
	}
	return finalize(ids)
}

func firstCell(row []string) string {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return cell
		}
	}
	return ""
}

func finalize(ids []string) []tracker.Target {
	if len(ids) > 0 {
		if _, ok := headerWords[strings.ToLower(ids[0])]; ok {
			ids = ids[1:]
		}
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]tracker.Target, 0, len(ids))
	for _, id := range ids {
		t := tracker.Target(id)
		if _, dup := seen[t.Key()]; dup {
			continue
		}
		seen[t.Key()] = struct{}{}
		out = append(out, t)
	}
	return out
}
