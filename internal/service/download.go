package service

import (
	"context"
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openfilings/edgarfetch/internal/edgar"
	"github.com/openfilings/edgarfetch/internal/metrics"
	"github.com/openfilings/edgarfetch/internal/progress"
	"github.com/openfilings/edgarfetch/internal/submission"
)

// DownloadOptions tune one download call.
type DownloadOptions struct {
	// Overwrite forces a network fetch even when the submission is
	// already on disk.
	Overwrite bool
}

// filingTaskParams is the msgpack payload stored on fetch-filing tasks.
type filingTaskParams struct {
	CIK       int64  `msgpack:"cik"`
	Accession string `msgpack:"accession"`
	URL       string `msgpack:"url"`
}

// Download retrieves one complete submission, tracked as a fetch-filing
// task, and returns its bytes. The on-disk path and content hash are
// recorded on the task. A failed download is recorded against the task
// and returned, never dropped.
func (s *Service) Download(ctx context.Context, ref edgar.FilingReference, opts DownloadOptions) ([]byte, error) {
	_, data, err := s.download(ctx, ref, opts)
	return data, err
}

func (s *Service) download(ctx context.Context, ref edgar.FilingReference, opts DownloadOptions) (edgar.FileResult, []byte, error) {
	if !ref.Valid() {
		return edgar.FileResult{}, nil, &edgar.ParseError{
			Subject: fmt.Sprintf("filing reference %q", ref.AccessionNumber),
		}
	}

	url := ref.SubmissionURL
	if url == "" {
		url = edgar.SubmissionURL(ref.CIK, ref.AccessionNumber)
	}

	id, err := s.deps.IDs.NewID()
	if err != nil {
		return edgar.FileResult{}, nil, fmt.Errorf("task id: %w", err)
	}
	params, err := msgpack.Marshal(filingTaskParams{CIK: ref.CIK, Accession: ref.AccessionNumber, URL: url})
	if err != nil {
		return edgar.FileResult{}, nil, fmt.Errorf("encode task params: %w", err)
	}
	if err := s.deps.Tasks.CreateTask(ctx, edgar.DownloadTask{
		ID:         id,
		Kind:       edgar.TaskKindFetchFiling,
		ParamsBlob: params,
	}); err != nil {
		return edgar.FileResult{}, nil, fmt.Errorf("create download task: %w", err)
	}
	if err := s.deps.Tasks.UpdateTaskStatus(ctx, id, edgar.TaskStatusRunning, ""); err != nil {
		return edgar.FileResult{}, nil, err
	}
	_ = s.deps.Tasks.AppendTaskLog(ctx, id, "fetching "+url)
	s.emit(progress.Event{TaskID: id, TS: s.deps.Clock.Now().UTC(), Stage: progress.StageTaskStart, URL: url})

	started := s.deps.Clock.Now()
	dest := s.deps.Payloads.SubmissionPath(ref.CIK, ref.AccessionNumber)
	res, err := s.deps.Fetcher.FetchToFile(ctx, url, dest, edgar.FetchOptions{Overwrite: opts.Overwrite})
	dur := s.deps.Clock.Now().Sub(started)
	if err != nil {
		return edgar.FileResult{}, nil, s.failTask(ctx, id, url, err)
	}

	data, err := os.ReadFile(res.Path)
	if err != nil {
		return edgar.FileResult{}, nil, s.failTask(ctx, id, url, fmt.Errorf("read downloaded submission: %w", err))
	}

	hash, err := s.deps.Hasher.Hash(data)
	if err != nil {
		s.deps.Logger.Warn("hashing submission failed", zap.String("task", id), zap.Error(err))
		hash = ""
	}
	if err := s.deps.Tasks.SetTaskResult(ctx, id, res.Path, hash); err != nil {
		s.deps.Logger.Warn("recording task result failed", zap.String("task", id), zap.Error(err))
	}
	if res.Cached {
		_ = s.deps.Tasks.AppendTaskLog(ctx, id, "reused cached copy "+res.Path)
	} else {
		_ = s.deps.Tasks.AppendTaskLog(ctx, id, fmt.Sprintf("stored %s (%d bytes)", res.Path, res.Size))
		s.emit(progress.Event{
			TaskID:      id,
			TS:          s.deps.Clock.Now().UTC(),
			Stage:       progress.StageFetchDone,
			URL:         url,
			Bytes:       res.Size,
			StatusClass: progress.Status2xx,
			Dur:         dur,
		})
	}
	if err := s.deps.Tasks.UpdateTaskStatus(ctx, id, edgar.TaskStatusCompleted, ""); err != nil {
		return edgar.FileResult{}, nil, err
	}
	metrics.ObserveTask(string(edgar.TaskStatusCompleted))
	s.emit(progress.Event{TaskID: id, TS: s.deps.Clock.Now().UTC(), Stage: progress.StageTaskDone, Dur: dur})
	return res, data, nil
}

// failTask records a download failure against its task and passes the
// error back unchanged. Cancellation lands the task in cancelled, not
// failed.
func (s *Service) failTask(ctx context.Context, id, url string, cause error) error {
	status := edgar.TaskStatusFailed
	if edgar.IsCancelled(cause) {
		status = edgar.TaskStatusCancelled
	}
	_ = s.deps.Tasks.AppendTaskLog(ctx, id, cause.Error())
	if err := s.deps.Tasks.UpdateTaskStatus(ctx, id, status, cause.Error()); err != nil {
		s.deps.Logger.Warn("recording task failure failed", zap.String("task", id), zap.Error(err))
	}
	metrics.ObserveTask(string(status))
	s.emit(progress.Event{
		TaskID: id,
		TS:     s.deps.Clock.Now().UTC(),
		Stage:  progress.StageTaskError,
		URL:    url,
		Note:   cause.Error(),
	})
	return cause
}

func (s *Service) emit(evt progress.Event) {
	if s.deps.Progress != nil {
		s.deps.Progress.Emit(evt)
	}
}

func extractCacheKey(accession string) string {
	return "extract:" + accession
}

// Extract downloads the submission if needed, decomposes it, and flags
// the primary document. The decomposed result is cached by accession
// number so repeated extracts skip both the network and the parser.
func (s *Service) Extract(ctx context.Context, ref edgar.FilingReference) (*submission.Result, error) {
	key := extractCacheKey(ref.AccessionNumber)
	if blob, ok, err := s.deps.Cache.CacheGet(ctx, key); err != nil {
		s.deps.Logger.Warn("extract cache read failed", zap.String("accession", ref.AccessionNumber), zap.Error(err))
	} else if ok {
		var cached submission.Result
		if err := msgpack.Unmarshal(blob, &cached); err == nil {
			return &cached, nil
		}
		s.deps.Logger.Warn("discarding undecodable extract cache entry",
			zap.String("accession", ref.AccessionNumber))
	}

	data, err := s.Download(ctx, ref, DownloadOptions{})
	if err != nil {
		return nil, err
	}
	res, err := submission.Decompose(data)
	if err != nil {
		return nil, err
	}
	submission.IdentifyPrimary(res.Documents, ref.FormType, 0)

	if blob, err := msgpack.Marshal(res); err != nil {
		s.deps.Logger.Warn("encoding extract result failed", zap.Error(err))
	} else if err := s.deps.Cache.CacheSet(ctx, key, blob, s.extractTTL); err != nil {
		s.deps.Logger.Warn("extract cache write failed", zap.Error(err))
	}
	return &res, nil
}

// BatchResult is the per-filing outcome of one batch download.
type BatchResult struct {
	Ref    edgar.FilingReference
	Path   string
	Size   int64
	Cached bool
	Err    error
}

// DownloadBatch downloads refs through a bounded worker pool. Completion
// order is unrelated to input order; results are reported by input
// position. Per-filing failures are recorded in their slot and never
// stop the rest of the batch. Cancellation stops dispatching new work
// and is returned, but finished downloads stay on disk.
func (s *Service) DownloadBatch(ctx context.Context, refs []edgar.FilingReference, opts DownloadOptions) ([]BatchResult, error) {
	results := make([]BatchResult, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i, ref := range refs {
		if err := gctx.Err(); err != nil {
			for j := i; j < len(refs); j++ {
				results[j] = BatchResult{Ref: refs[j], Err: edgar.ErrCancelled}
			}
			break
		}
		i, ref := i, ref
		g.Go(func() error {
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			res, _, err := s.download(gctx, ref, opts)
			results[i] = BatchResult{Ref: ref, Path: res.Path, Size: res.Size, Cached: res.Cached, Err: err}
			if edgar.IsCancelled(err) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, edgar.AsCancelled(err)
	}
	// Cancellation before any work was dispatched never reaches Wait.
	if err := ctx.Err(); err != nil {
		return results, edgar.AsCancelled(err)
	}
	return results, nil
}
