// Package edgar defines core types shared across subsystems.
package edgar

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FeedKind identifies one of the archive's four retrieval mechanisms.
type FeedKind string

// Feed kinds in order of decreasing freshness and increasing coverage.
const (
	FeedRealTime  FeedKind = "realtime"
	FeedDaily     FeedKind = "daily"
	FeedMonthly   FeedKind = "monthly"
	FeedQuarterly FeedKind = "quarterly"
)

// AccessionPattern matches archive-assigned accession numbers.
var AccessionPattern = regexp.MustCompile(`^\d{10}-\d{2}-\d{6}$`)

// FilingReference is the immutable identity of one filing occurrence.
// (CIK, FormType, FilingDate, AccessionNumber) is unique in the local store.
type FilingReference struct {
	CIK             int64     `json:"cik"`
	Ticker          string    `json:"ticker,omitempty"`
	CompanyName     string    `json:"company_name"`
	FormType        string    `json:"form_type"`
	FilingDate      time.Time `json:"filing_date"`
	AccessionNumber string    `json:"accession_number"`
	SourcePath      string    `json:"source_path"`
	DocumentURL     string    `json:"document_url,omitempty"`
	SubmissionURL   string    `json:"submission_url"`
	Size            int64     `json:"size,omitempty"`
}

// Valid reports whether the reference carries a usable identity.
func (r FilingReference) Valid() bool {
	return r.CIK > 0 && r.FormType != "" && !r.FilingDate.IsZero() &&
		AccessionPattern.MatchString(r.AccessionNumber)
}

// ParseCIK strips left padding from a numeric entity identifier.
func ParseCIK(s string) (int64, error) {
	trimmed := strings.TrimLeft(strings.TrimSpace(s), "0")
	if trimmed == "" {
		trimmed = "0"
	}
	cik, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, err
	}
	return cik, nil
}

// TaskStatus represents the lifecycle state of a download task.
type TaskStatus string

// Task status values persisted in the local store. A task is terminal once
// completed, failed, or cancelled.
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// TaskKind discriminates units of retry-capable work.
type TaskKind string

// Task kinds tracked in the local store.
const (
	TaskKindFetchIndex  TaskKind = "fetch-index"
	TaskKindFetchFiling TaskKind = "fetch-filing"
)

// DownloadTask is a unit of retry-capable work tracked in the local store.
type DownloadTask struct {
	ID          string     `json:"id"`
	Kind        TaskKind   `json:"kind"`
	Status      TaskStatus `json:"status"`
	Attempts    int        `json:"attempts"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	ParamsBlob  []byte     `json:"-"`
	StoragePath string     `json:"storage_path,omitempty"`
	ContentHash string     `json:"content_hash,omitempty"`
}

// TaskLogEntry is one ordered, append-only log line for a task.
type TaskLogEntry struct {
	TaskID    string    `json:"task_id"`
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Line      string    `json:"line"`
}

// FeedStatus is the per-feed introspection record exposed by the facade.
type FeedStatus struct {
	Kind        FeedKind  `json:"kind"`
	LastUpdated time.Time `json:"last_updated"`
	FileCount   int64     `json:"file_count"`
	DataSize    int64     `json:"data_size"`
	Healthy     bool      `json:"healthy"`
	Message     string    `json:"message,omitempty"`
}

// Query captures the facade search parameters.
type Query struct {
	TickerOrCIK string
	FormTypes   []string
	Start       time.Time
	End         time.Time
	Limit       int
}
