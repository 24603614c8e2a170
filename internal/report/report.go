// Package report accumulates per-record outcomes into a persisted job
// report so interrupted jobs can resume without redoing work.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Status is the final disposition of one record.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// RecordEntry is one record's line in the report. Failed records are
// excluded from output; the entry documents the omission.
type RecordEntry struct {
	Status       Status   `json:"status"`
	Output       string   `json:"output,omitempty"`
	AppliedRules int      `json:"applied_rules"`
	SkippedRules []string `json:"skipped_rules,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
	Error        string   `json:"error,omitempty"`
	Timestamp    string   `json:"timestamp"`
}

type reportData struct {
	JobID   string                  `json:"job_id"`
	Updated string                  `json:"updated"`
	Summary summary                 `json:"summary"`
	Records map[string]*RecordEntry `json:"records"`
}

type summary struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Total   int `json:"total"`
}

// Report is the job-level status report, keyed by input path.
type Report struct {
	mu      sync.Mutex
	path    string
	jobID   string
	records map[string]*RecordEntry
}

// New creates a report, resuming from the file at path if it exists.
func New(path string) *Report {
	r := &Report{
		path:    path,
		jobID:   uuid.NewString(),
		records: make(map[string]*RecordEntry),
	}
	if path != "" {
		r.load()
	}
	return r
}

// JobID returns the report's job identifier.
func (r *Report) JobID() string {
	return r.jobID
}

func (r *Report) load() {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return // File doesn't exist, start fresh
	}
	var rd reportData
	if err := json.Unmarshal(data, &rd); err != nil {
		log.Warnf("could not load report file %s: %v", r.path, err)
		return
	}
	if rd.Records != nil {
		r.records = rd.Records
	}
	if rd.JobID != "" {
		r.jobID = rd.JobID
	}
	s := r.summarize()
	log.Infof("resuming job %s: %d succeeded, %d failed so far", r.jobID, s.Success, s.Failed)
}

func (r *Report) save() {
	if r.path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		log.Warnf("could not create report directory: %v", err)
		return
	}
	rd := reportData{
		JobID:   r.jobID,
		Updated: time.Now().Format(time.RFC3339),
		Summary: r.summarize(),
		Records: r.records,
	}
	data, err := json.MarshalIndent(rd, "", "  ")
	if err != nil {
		log.Warnf("could not marshal report: %v", err)
		return
	}
	if err := os.WriteFile(r.path, data, 0644); err != nil {
		log.Warnf("could not save report: %v", err)
	}
}

func (r *Report) summarize() summary {
	var s summary
	for _, e := range r.records {
		switch e.Status {
		case StatusSuccess:
			s.Success++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		}
	}
	s.Total = len(r.records)
	return s
}

// IsProcessed reports whether input already succeeded in a prior run.
func (r *Report) IsProcessed(input string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.records[input]
	return ok && e.Status == StatusSuccess
}

// Add records the outcome for one input and persists the report.
func (r *Report) Add(input string, entry RecordEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.Timestamp = time.Now().Format(time.RFC3339)
	r.records[input] = &entry
	r.save()
}

// ClearFailed removes failed entries so they are retried.
func (r *Report) ClearFailed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for key, e := range r.records {
		if e.Status == StatusFailed {
			delete(r.records, key)
			count++
		}
	}
	if count > 0 {
		r.save()
		log.Infof("cleared %d failed entries for retry", count)
	}
	return count
}

// Counts returns the current success/failed/skipped totals.
func (r *Report) Counts() (success, failed, skipped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.summarize()
	return s.Success, s.Failed, s.Skipped
}

// Summary returns a one-line human summary.
func (r *Report) Summary() string {
	success, failed, skipped := r.Counts()
	return fmt.Sprintf("%d succeeded, %d failed, %d skipped", success, failed, skipped)
}
