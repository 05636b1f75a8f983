package edgar

import (
	"context"
	"time"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces task IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// FetchOptions tune a single outbound request.
type FetchOptions struct {
	// Overwrite forces a network fetch even when the destination file
	// already exists.
	Overwrite bool
	// Headers are merged over the client defaults.
	Headers map[string]string
}

// FileResult describes the outcome of a fetch-to-file call.
type FileResult struct {
	Path string
	Size int64
	// Cached is true when the destination already existed and no network
	// call was made.
	Cached bool
}

// Fetcher is the single chokepoint for outbound HTTP requests.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts FetchOptions) ([]byte, error)
	FetchToFile(ctx context.Context, url, dest string, opts FetchOptions) (FileResult, error)
}

// FilingStore persists filing references.
type FilingStore interface {
	UpsertFiling(ctx context.Context, ref FilingReference) error
	ListFilings(ctx context.Context, q Query) ([]FilingReference, error)
	CountFilings(ctx context.Context, q Query) (int64, error)
}

// TaskStore persists download tasks and their logs.
type TaskStore interface {
	CreateTask(ctx context.Context, task DownloadTask) error
	GetTask(ctx context.Context, id string) (DownloadTask, error)
	UpdateTaskStatus(ctx context.Context, id string, status TaskStatus, lastError string) error
	SetTaskResult(ctx context.Context, id, storagePath, contentHash string) error
	ListTasks(ctx context.Context, status TaskStatus, limit int) ([]DownloadTask, error)
	AppendTaskLog(ctx context.Context, taskID, line string) error
	TaskLogs(ctx context.Context, taskID string) ([]TaskLogEntry, error)
}

// KVCache is a generic expiring key-value cache.
type KVCache interface {
	CacheGet(ctx context.Context, key string) ([]byte, bool, error)
	CacheSet(ctx context.Context, key string, value []byte, ttl time.Duration) error
	CacheEvictExpired(ctx context.Context) (int64, error)
}
