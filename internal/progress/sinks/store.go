package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/openfilings/edgarfetch/internal/edgar"
	"github.com/openfilings/edgarfetch/internal/progress"
)

// StoreSink appends progress events to the per-task log in the local
// store, giving each task an inspectable history.
type StoreSink struct {
	tasks  edgar.TaskStore
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink over the task store.
func NewStoreSink(tasks edgar.TaskStore, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{tasks: tasks, logger: logger}
}

// Consume converts each event to a task log line. Append failures abort
// the batch so the hub can surface them.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.tasks == nil {
		return nil
	}
	for _, evt := range batch {
		if err := s.tasks.AppendTaskLog(ctx, evt.TaskID, formatLine(evt)); err != nil {
			return fmt.Errorf("append task log: %w", err)
		}
	}
	return nil
}

func formatLine(evt progress.Event) string {
	switch evt.Stage {
	case progress.StageTaskStart:
		return "started"
	case progress.StageTaskRetry:
		return "retrying: " + evt.Note
	case progress.StageTaskDone:
		return fmt.Sprintf("completed in %s", evt.Dur)
	case progress.StageTaskError:
		return "failed: " + evt.Note
	case progress.StageFetchDone:
		return fmt.Sprintf("fetched %s (%s, %d bytes, %s)", evt.URL, evt.StatusClass, evt.Bytes, evt.Dur)
	default:
		return string(evt.Stage)
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
