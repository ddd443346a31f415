package output

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const (
	lockFileName  = ".stampede.lock"
	indexFileName = "index.jsonl"
	lockRetry     = 50 * time.Millisecond
)

// IndexEntry is one line of the persisted run index.
type IndexEntry struct {
	RunID       string    `json:"run_id"`
	Scenario    string    `json:"scenario"`
	StartedAt   time.Time `json:"started_at"`
	Total       int64     `json:"total"`
	SuccessRate float64   `json:"success_rate"`
	P95Ms       float64   `json:"p95_latency_ms"`
	Rating      string    `json:"rating"`
	File        string    `json:"file"`
}

// FilePersister writes each report to <dir>/<run-id>.json and appends it to
// <dir>/index.jsonl. Runs sharing a directory serialize on an advisory file
// lock.
type FilePersister struct {
	dir string
}

// NewFilePersister creates dir if needed.
func NewFilePersister(dir string) (*FilePersister, error) {
	if dir == "" {
		return nil, errors.New("output: report directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("output: create report directory: %w", err)
	}
	return &FilePersister{dir: dir}, nil
}

// Path returns the file a report with runID is written to.
func (p *FilePersister) Path(runID string) string {
	return filepath.Join(p.dir, runID+".json")
}

// Report implements Sink.
func (p *FilePersister) Report(ctx context.Context, r RunReport) error {
	if r.RunID == "" {
		return errors.New("output: report has no run id")
	}

	lock := flock.New(filepath.Join(p.dir, lockFileName))
	locked, err := lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("output: lock report directory: %w", err)
	}
	if !locked {
		return errors.New("output: report directory is locked")
	}
	defer func() { _ = lock.Unlock() }()

	path := p.Path(r.RunID)
	if err := writeFileAtomic(path, func(f *os.File) error {
		return PrintJSONReport(f, r)
	}); err != nil {
		return fmt.Errorf("output: write report: %w", err)
	}

	entry := IndexEntry{
		RunID:       r.RunID,
		Scenario:    r.Scenario,
		StartedAt:   r.StartedAt,
		Total:       r.Summary.Total,
		SuccessRate: r.Summary.SuccessRate,
		P95Ms:       r.Summary.P95LatencyMs,
		Rating:      string(r.Rating),
		File:        filepath.Base(path),
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	idx, err := os.OpenFile(filepath.Join(p.dir, indexFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("output: open index: %w", err)
	}
	if _, err := idx.Write(append(line, '\n')); err != nil {
		_ = idx.Close()
		return fmt.Errorf("output: append index: %w", err)
	}
	return idx.Close()
}

// ReadIndex returns every entry of the run index, oldest first.
func (p *FilePersister) ReadIndex() ([]IndexEntry, error) {
	f, err := os.Open(filepath.Join(p.dir, indexFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []IndexEntry
	dec := json.NewDecoder(f)
	for dec.More() {
		var e IndexEntry
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("output: read index: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func writeFileAtomic(path string, write func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".report-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
