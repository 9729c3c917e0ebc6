// Package aggregate computes latency statistics over the persisted record
// stream. It reads NDJSON files, filters by protocol and a time-window
// cutoff, and summarizes duration_ms of successful records into min, max,
// mean, median, and a fixed percentile ladder.
package aggregate

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"latencyprobe/internal/domain"
)

// PercentileRanks is the ladder reported by the query service.
var PercentileRanks = []int{1, 5, 10, 25, 50, 75, 90, 95, 99}

var windowRe = regexp.MustCompile(`^(\d+)(m|h|d)$`)

// ParseWindow parses a lookback window like "5m", "1h", or "1d".
func ParseWindow(s string) (time.Duration, error) {
	m := windowRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return 0, fmt.Errorf("invalid window %q (use forms like 5m, 1h, 1d)", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid window %q", s)
	}
	switch m[2] {
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	default:
		return time.Duration(n) * 24 * time.Hour, nil
	}
}

// Scan reads records for one protocol with timestamps at or after cutoff.
// Path may be a single NDJSON file or a directory, in which case all
// *.jsonl files beneath it are read in sorted order. Malformed lines are
// skipped; the stream is append-only and a crash may leave a torn tail.
func Scan(path string, protocol domain.Protocol, cutoff time.Time) ([]domain.Record, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	files := []string{path}
	if info.IsDir() {
		files = files[:0]
		err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(p, ".jsonl") {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", path, err)
		}
		sort.Strings(files)
	}

	var records []domain.Record
	for _, file := range files {
		if err := scanFile(file, protocol, cutoff, &records); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func scanFile(path string, protocol domain.Protocol, cutoff time.Time, out *[]domain.Record) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec domain.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Protocol != protocol {
			continue
		}
		if rec.Timestamp.Time().Before(cutoff) {
			continue
		}
		*out = append(*out, rec)
	}
	return sc.Err()
}

// Report is the aggregation over one protocol/window slice. The latency
// fields are only meaningful when Successes > 0.
type Report struct {
	Count       int
	Successes   int
	SuccessRate float64 // percent, 0..100
	FirstSeen   time.Time
	LastSeen    time.Time

	Min         float64
	Max         float64
	Mean        float64
	Median      float64
	Percentiles map[int]float64 // keyed by rank, see PercentileRanks
}

// Summarize reduces a record slice to a Report. Percentiles and stats are
// computed over duration_ms of successful records only; count and success
// rate cover every record.
func Summarize(records []domain.Record) Report {
	r := Report{Count: len(records)}
	if len(records) == 0 {
		return r
	}

	var durations []float64
	for i, rec := range records {
		ts := rec.Timestamp.Time()
		if i == 0 || ts.Before(r.FirstSeen) {
			r.FirstSeen = ts
		}
		if ts.After(r.LastSeen) {
			r.LastSeen = ts
		}
		if rec.Status == domain.StatusSuccess && rec.DurationMS != nil {
			durations = append(durations, *rec.DurationMS)
		}
	}

	r.Successes = len(durations)
	r.SuccessRate = round3(float64(r.Successes) / float64(r.Count) * 100)
	if r.Successes == 0 {
		return r
	}

	sort.Float64s(durations)
	r.Min = round3(durations[0])
	r.Max = round3(durations[len(durations)-1])
	r.Median = round3(quantile(durations, 50))
	var sum float64
	for _, d := range durations {
		sum += d
	}
	r.Mean = round3(sum / float64(len(durations)))

	r.Percentiles = make(map[int]float64, len(PercentileRanks))
	for _, rank := range PercentileRanks {
		r.Percentiles[rank] = round3(quantile(durations, rank))
	}
	return r
}

// quantile picks the nearest-rank value from an ascending slice.
func quantile(sorted []float64, rank int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * rank / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
