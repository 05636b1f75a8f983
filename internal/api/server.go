// Package api exposes the HTTP interface for the filing pipeline.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openfilings/edgarfetch/internal/edgar"
	"github.com/openfilings/edgarfetch/internal/metrics"
	"github.com/openfilings/edgarfetch/internal/service"
)

// Server wires HTTP handlers to the filing facade and the task store.
type Server struct {
	router chi.Router
	svc    *service.Service
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes. tasks backs
// the read-only task-inspection endpoints.
func NewServer(svc *service.Service, tasks edgar.TaskStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	taskHandler := NewTaskHandler(tasks, logger)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/filings", s.searchFilings)
		r.Post("/downloads", s.downloadFiling)
		r.Post("/downloads/batch", s.downloadBatch)
		r.Route("/feeds", func(r chi.Router) {
			r.Get("/status", s.feedStatuses)
			r.Post("/refresh", s.refreshFeeds)
		})
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", taskHandler.ListTasks)
			r.Get("/{task_id}", taskHandler.GetTask)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// searchFilings handles GET /v1/filings?q=&forms=&start=&end=&limit=.
// q holds a ticker or CIK; forms is a comma-separated form-type list;
// start/end accept full or partial dates.
func (s *Server) searchFilings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := service.SearchRequest{
		TickerOrCIK: strings.TrimSpace(q.Get("q")),
		Start:       strings.TrimSpace(q.Get("start")),
		End:         strings.TrimSpace(q.Get("end")),
	}
	if forms := strings.TrimSpace(q.Get("forms")); forms != "" {
		for _, f := range strings.Split(forms, ",") {
			if f = strings.TrimSpace(f); f != "" {
				req.FormTypes = append(req.FormTypes, f)
			}
		}
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		req.Limit = limit
	}

	refs, err := s.svc.Search(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, "search failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"filings": refs, "count": len(refs)})
}

// downloadRequest identifies one filing to fetch. The identity fields
// mirror edgar.FilingReference; filing_date uses YYYY-MM-DD.
type downloadRequest struct {
	CIK             int64  `json:"cik"`
	CompanyName     string `json:"company_name"`
	FormType        string `json:"form_type"`
	FilingDate      string `json:"filing_date"`
	AccessionNumber string `json:"accession_number"`
	Overwrite       bool   `json:"overwrite"`
}

func (req downloadRequest) toReference() (edgar.FilingReference, error) {
	date, err := time.Parse("2006-01-02", req.FilingDate)
	if err != nil {
		return edgar.FilingReference{}, fmt.Errorf("filing_date must be YYYY-MM-DD: %w", err)
	}
	ref := edgar.FilingReference{
		CIK:             req.CIK,
		CompanyName:     req.CompanyName,
		FormType:        req.FormType,
		FilingDate:      date,
		AccessionNumber: req.AccessionNumber,
		SubmissionURL:   edgar.SubmissionURL(req.CIK, req.AccessionNumber),
	}
	if !ref.Valid() {
		return edgar.FilingReference{}, errors.New("cik, form_type, filing_date and accession_number are required")
	}
	return ref, nil
}

func (s *Server) downloadFiling(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	ref, err := req.toReference()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := s.svc.Download(r.Context(), ref, service.DownloadOptions{Overwrite: req.Overwrite})
	if err != nil {
		s.writeServiceError(w, "download failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accession_number": ref.AccessionNumber,
		"size":             len(data),
	})
}

type batchDownloadRequest struct {
	Filings   []downloadRequest `json:"filings"`
	Overwrite bool              `json:"overwrite"`
}

type batchItemResponse struct {
	AccessionNumber string `json:"accession_number"`
	Size            int64  `json:"size,omitempty"`
	Cached          bool   `json:"cached,omitempty"`
	Error           string `json:"error,omitempty"`
}

func (s *Server) downloadBatch(w http.ResponseWriter, r *http.Request) {
	var req batchDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Filings) == 0 {
		writeError(w, http.StatusBadRequest, "at least one filing required")
		return
	}
	refs := make([]edgar.FilingReference, 0, len(req.Filings))
	for i, item := range req.Filings {
		ref, err := item.toReference()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("filing %d: %v", i, err))
			return
		}
		refs = append(refs, ref)
	}

	results, err := s.svc.DownloadBatch(r.Context(), refs, service.DownloadOptions{Overwrite: req.Overwrite})
	if err != nil && !edgar.IsCancelled(err) {
		s.writeServiceError(w, "batch download failed", err)
		return
	}
	items := make([]batchItemResponse, 0, len(results))
	var failed int
	for _, res := range results {
		item := batchItemResponse{
			AccessionNumber: res.Ref.AccessionNumber,
			Size:            res.Size,
			Cached:          res.Cached,
		}
		if res.Err != nil {
			item.Error = res.Err.Error()
			failed++
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": items,
		"failed":  failed,
	})
}

func (s *Server) feedStatuses(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.svc.FeedStatuses(r.Context())
	if err != nil {
		s.writeServiceError(w, "feed status failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feeds": statuses})
}

func (s *Server) refreshFeeds(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RefreshFeeds(r.Context()); err != nil {
		s.writeServiceError(w, "feed refresh failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

// writeServiceError maps the error taxonomy onto HTTP status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, msg string, err error) {
	var (
		cfgErr    *edgar.ConfigurationError
		clientErr *edgar.ClientRequestError
		netErr    *edgar.TransientNetworkError
		parseErr  *edgar.ParseError
	)
	switch {
	case edgar.IsCancelled(err):
		writeError(w, http.StatusRequestTimeout, err.Error())
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusInternalServerError, cfgErr.Error())
	case errors.As(err, &clientErr):
		writeError(w, http.StatusBadGateway, clientErr.Error())
	case errors.As(err, &netErr):
		writeError(w, http.StatusBadGateway, netErr.Error())
	case errors.As(err, &parseErr):
		writeError(w, http.StatusUnprocessableEntity, parseErr.Error())
	default:
		s.logger.Error(msg, zap.Error(err))
		writeError(w, http.StatusInternalServerError, msg)
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
