// Package report summarizes post-count movement across every logged window.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/JakeFAU/account-tracker/internal/runlog"
	"github.com/JakeFAU/account-tracker/internal/tracker"
)

// Row is the post-count movement of one target.
type Row struct {
	Target  tracker.Target
	First   int64
	Last    int64
	Samples int
}

// Change is Last minus First.
func (r Row) Change() int64 {
	return r.Last - r.First
}

// Report aggregates rows across all targets with at least one post count.
type Report struct {
	Rows      []Row
	NetChange int64
	Decreased int
	Sources   []string
}

// Load reads every window log under dataDir and builds a Report.
func Load(dataDir string) (Report, error) {
	paths, err := runlog.ListLogs(dataDir)
	if err != nil {
		return Report{}, err
	}
	var records []tracker.CheckRecord
	for _, path := range paths {
		recs, err := runlog.ReadRecords(path)
		if err != nil {
			return Report{}, fmt.Errorf("read %s: %w", path, err)
		}
		records = append(records, recs...)
	}
	rep := Build(records)
	rep.Sources = paths
	return rep, nil
}

// Build groups records by target case-insensitively and compares the
// earliest and latest known post counts. Records without a count are ignored.
func Build(records []tracker.CheckRecord) Report {
	type sample struct {
		rec   tracker.CheckRecord
		count int64
	}
	groups := make(map[string][]sample)
	for _, rec := range records {
		if rec.PostCount == nil {
			continue
		}
		key := rec.Target.Key()
		groups[key] = append(groups[key], sample{rec: rec, count: *rec.PostCount})
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var rep Report
	for _, k := range keys {
		samples := groups[k]
		sort.SliceStable(samples, func(i, j int) bool {
			return samples[i].rec.Timestamp.Before(samples[j].rec.Timestamp)
		})
		first, last := samples[0], samples[len(samples)-1]
		row := Row{
			Target:  first.rec.Target,
			First:   first.count,
			Last:    last.count,
			Samples: len(samples),
		}
		rep.Rows = append(rep.Rows, row)
		rep.NetChange += row.Change()
		if row.Change() < 0 {
			rep.Decreased++
		}
	}
	return rep
}

// Render writes the report as a table. Unchanged targets are listed only
// when all is set.
func Render(w io.Writer, rep Report, all bool) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Handle", "Checks", "First Count", "Last Count", "Diff"})
	for _, row := range rep.Rows {
		if !all && row.Change() == 0 {
			continue
		}
		t.AppendRow(table.Row{row.Target, row.Samples, row.First, row.Last, row.Change()})
	}
	t.AppendFooter(table.Row{"Net change", "", "", "", rep.NetChange})
	t.Render()

	_, _ = fmt.Fprintf(w, "Accounts with fewer posts: %d\n", rep.Decreased)
	if len(rep.Sources) > 0 {
		_, _ = fmt.Fprintf(w, "Sources: %s\n", strings.Join(rep.Sources, ", "))
	}
}
