// Package datalake implements the append-only ndjson result archive.
//
// The archive is date-partitioned: one results-YYYY-MM-DD.ndjson file per UTC
// calendar day, one JSON object per line. The coordinator treats it as a
// fire-and-forget sink; the in-database result row stays authoritative and a
// failed append never rolls back the owning job transition.
package datalake

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// SchemaVersion stamps every record so replaying consumers can branch on
// layout changes.
const SchemaVersion = 1

// Record is one archived terminal attempt.
type Record struct {
	SchemaVersion int       `json:"schema_version"`
	ID            string    `json:"id"`
	JobID         string    `json:"job_id"`
	A             int64     `json:"a"`
	B             int64     `json:"b"`
	Operation     string    `json:"operation"`
	Result        *int64    `json:"result"`
	ProcessedBy   string    `json:"processed_by"`
	ProcessedAt   time.Time `json:"processed_at"`
	DurationMS    int64     `json:"duration_ms"`
	Status        string    `json:"status"`
	Error         *string   `json:"error,omitempty"`
}

// Stats summarizes the archive contents.
type Stats struct {
	TotalFiles   int
	TotalRecords int64
	Succeeded    int64
	Failed       int64
	Daily        map[string]int64
}

// Lake appends result records to the date-partitioned archive.
type Lake struct {
	dir string

	mu sync.Mutex

	// now is swapped in tests to pin the partition date.
	now func() time.Time
}

// New creates the archive directory if needed.
func New(dir string) (*Lake, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create datalake dir %s: %w", dir, err)
	}
	return &Lake{dir: dir, now: time.Now}, nil
}

func (l *Lake) filePath(t time.Time) string {
	return filepath.Join(l.dir, fmt.Sprintf("results-%s.ndjson", t.UTC().Format("2006-01-02")))
}

// Append writes one record to today's partition. Callers treat failures as
// best-effort: log, count, move on.
func (l *Lake) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rec.SchemaVersion = SchemaVersion
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = l.now().UTC()
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode datalake record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.filePath(l.now()), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open datalake partition: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append datalake record: %w", err)
	}

	return nil
}

// Stats scans all partitions and returns per-day and total counts.
func (l *Lake) Stats(ctx context.Context) (*Stats, error) {
	files, err := filepath.Glob(filepath.Join(l.dir, "results-*.ndjson"))
	if err != nil {
		return nil, err
	}

	stats := &Stats{Daily: make(map[string]int64), TotalFiles: len(files)}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		day := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), "results-"), ".ndjson")
		records, succeeded, failed, err := scanPartition(path)
		if err != nil {
			return nil, err
		}

		stats.Daily[day] = records
		stats.TotalRecords += records
		stats.Succeeded += succeeded
		stats.Failed += failed
	}

	return stats, nil
}

// Recent returns the newest records across partitions, newest partition first.
func (l *Lake) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}

	files, err := filepath.Glob(filepath.Join(l.dir, "results-*.ndjson"))
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))

	var out []Record
	for _, path := range files {
		if len(out) >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		records, err := readPartition(path)
		if err != nil {
			return nil, err
		}
		sort.Slice(records, func(i, j int) bool {
			return records[i].ProcessedAt.After(records[j].ProcessedAt)
		})

		remaining := limit - len(out)
		if len(records) > remaining {
			records = records[:remaining]
		}
		out = append(out, records...)
	}

	return out, nil
}

func scanPartition(path string) (records, succeeded, failed int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			// Skip torn writes rather than failing the whole scan.
			continue
		}

		records++
		switch rec.Status {
		case "succeeded":
			succeeded++
		case "failed":
			failed++
		}
	}

	return records, succeeded, failed, scanner.Err()
}

func readPartition(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}

	return out, scanner.Err()
}
