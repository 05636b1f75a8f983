package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openfilings/edgarfetch/internal/edgar"
)

// ErrTaskNotFound is returned when a task ID is unknown.
var ErrTaskNotFound = errors.New("task not found")

// ErrTerminalTask is returned for status transitions out of a terminal
// state.
var ErrTerminalTask = errors.New("task already terminal")

// CreateTask persists a new task in pending state.
func (s *Store) CreateTask(ctx context.Context, task edgar.DownloadTask) error {
	if task.ID == "" {
		return fmt.Errorf("task id is required")
	}
	status := task.Status
	if status == "" {
		status = edgar.TaskStatusPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, kind, status, attempts, created_at, last_error, params_blob, storage_path, content_hash)
		VALUES (?, ?, ?, 0, ?, '', ?, '', '')`,
		task.ID, string(task.Kind), string(status), s.now(), task.ParamsBlob,
	)
	if err != nil {
		return fmt.Errorf("create task %s: %w", task.ID, err)
	}
	return nil
}

// GetTask loads one task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (edgar.DownloadTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, status, attempts, created_at, started_at, completed_at,
			last_error, params_blob, storage_path, content_hash
		FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return edgar.DownloadTask{}, fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}
	return task, err
}

// UpdateTaskStatus transitions a task. Transitions are the only way status
// changes: a terminal task rejects further updates, moving to running
// stamps started_at and bumps the attempt count, and reaching a terminal
// state stamps completed_at.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status edgar.TaskStatus, lastError string) error {
	// The terminal guard lives in the UPDATE itself so two racing
	// callers cannot both pass a separate read-then-write check.
	const notTerminal = ` AND status NOT IN ('completed', 'failed', 'cancelled')`

	now := s.now()
	var (
		res sql.Result
		err error
	)
	switch {
	case status == edgar.TaskStatusRunning:
		res, err = s.db.ExecContext(ctx, `
			UPDATE tasks SET status = ?, attempts = attempts + 1, started_at = COALESCE(started_at, ?), last_error = ?
			WHERE id = ?`+notTerminal, string(status), now, lastError, id)
	case status.Terminal():
		res, err = s.db.ExecContext(ctx, `
			UPDATE tasks SET status = ?, completed_at = ?, last_error = ?
			WHERE id = ?`+notTerminal, string(status), now, lastError, id)
	default:
		res, err = s.db.ExecContext(ctx, `
			UPDATE tasks SET status = ?, last_error = ?
			WHERE id = ?`+notTerminal, string(status), lastError, id)
	}
	if err != nil {
		return fmt.Errorf("update task %s to %s: %w", id, status, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		current, getErr := s.GetTask(ctx, id)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("task %s in status %s: %w", id, current.Status, ErrTerminalTask)
	}
	return nil
}

// SetTaskResult records the downloaded payload's resting place.
func (s *Store) SetTaskResult(ctx context.Context, id, storagePath, contentHash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET storage_path = ?, content_hash = ? WHERE id = ?`,
		storagePath, contentHash, id)
	if err != nil {
		return fmt.Errorf("set task %s result: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}
	return nil
}

// ListTasks returns tasks filtered by status (empty status means all),
// oldest first so workers drain in submission order.
func (s *Store) ListTasks(ctx context.Context, status edgar.TaskStatus, limit int) ([]edgar.DownloadTask, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, kind, status, attempts, created_at, started_at, completed_at,
			last_error, params_blob, storage_path, content_hash
		FROM tasks`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []edgar.DownloadTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return out, nil
}

// AppendTaskLog adds one ordered log line for a task.
func (s *Store) AppendTaskLog(ctx context.Context, taskID, line string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_logs (task_id, ts, line) VALUES (?, ?, ?)`,
		taskID, s.now(), line)
	if err != nil {
		return fmt.Errorf("append log for task %s: %w", taskID, err)
	}
	return nil
}

// TaskLogs returns a task's log lines in append order.
func (s *Store) TaskLogs(ctx context.Context, taskID string) ([]edgar.TaskLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, seq, ts, line FROM task_logs WHERE task_id = ? ORDER BY seq`, taskID)
	if err != nil {
		return nil, fmt.Errorf("task logs for %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []edgar.TaskLogEntry
	for rows.Next() {
		var (
			entry edgar.TaskLogEntry
			ts    string
		)
		if err := rows.Scan(&entry.TaskID, &entry.Seq, &ts, &entry.Line); err != nil {
			return nil, fmt.Errorf("scan task log: %w", err)
		}
		entry.Timestamp, err = parseStoredTime(ts)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task logs: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (edgar.DownloadTask, error) {
	var (
		task                  edgar.DownloadTask
		kind, status, created string
		started, completed    sql.NullString
	)
	if err := row.Scan(
		&task.ID, &kind, &status, &task.Attempts, &created, &started, &completed,
		&task.LastError, &task.ParamsBlob, &task.StoragePath, &task.ContentHash,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return edgar.DownloadTask{}, err
		}
		return edgar.DownloadTask{}, fmt.Errorf("scan task: %w", err)
	}
	task.Kind = edgar.TaskKind(kind)
	task.Status = edgar.TaskStatus(status)

	var err error
	if task.CreatedAt, err = parseStoredTime(created); err != nil {
		return edgar.DownloadTask{}, err
	}
	if started.Valid {
		t, err := parseStoredTime(started.String)
		if err != nil {
			return edgar.DownloadTask{}, err
		}
		task.StartedAt = &t
	}
	if completed.Valid {
		t, err := parseStoredTime(completed.String)
		if err != nil {
			return edgar.DownloadTask{}, err
		}
		task.CompletedAt = &t
	}
	return task, nil
}

func parseStoredTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}
