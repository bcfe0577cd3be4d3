package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/vurakit/lexveil/internal/detector"
	"github.com/vurakit/lexveil/internal/extract"
	"github.com/vurakit/lexveil/internal/history"
	"github.com/vurakit/lexveil/internal/processor"
	"github.com/vurakit/lexveil/internal/technique"
	"github.com/vurakit/lexveil/internal/webhook"
	"github.com/vurakit/lexveil/pkg/pii"
)

// TextRequest is the JSON body for /v1/detect and /v1/anonymize
type TextRequest struct {
	Text    string          `json:"text"`
	Options json.RawMessage `json:"options,omitempty"`
}

// DetectResponse is the JSON response for /v1/detect
type DetectResponse struct {
	Found    bool                 `json:"found"`
	Patterns []detector.Match     `json:"patterns"`
	Total    int                  `json:"total_patterns"`
	ByType   map[pii.Category]int `json:"by_type"`
}

// DocumentResponse is the JSON response for /v1/documents
type DocumentResponse struct {
	HistoryID string            `json:"history_id,omitempty"`
	Filename  string            `json:"filename"`
	FileType  extract.FileType  `json:"file_type"`
	Pages     int               `json:"pages,omitempty"`
	Warning   string            `json:"warning,omitempty"`
	Result    *processor.Result `json:"result"`
}

// TechniqueInfo lists what a category accepts
type TechniqueInfo struct {
	Default technique.Technique   `json:"default"`
	Allowed []technique.Technique `json:"allowed"`
}

func (s *Server) readTextRequest(w http.ResponseWriter, r *http.Request) (*TextRequest, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "cannot read body")
		return nil, false
	}
	defer r.Body.Close()

	if len(body) > MaxBodySize {
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body exceeds 10MB")
		return nil, false
	}

	var req TextRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON")
		return nil, false
	}
	return &req, true
}

// options overlays the request options on the configured defaults.
func (s *Server) options(raw []byte) (processor.Options, error) {
	opts := s.defaults()
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return opts, err
		}
	}
	opts.Normalize()
	return opts, nil
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readTextRequest(w, r)
	if !ok {
		return
	}

	matches := s.processor.Detector().Detect(req.Text)
	if matches == nil {
		matches = []detector.Match{}
	}
	byType := make(map[pii.Category]int)
	for _, m := range matches {
		byType[m.Type]++
	}

	writeJSON(w, http.StatusOK, DetectResponse{
		Found:    len(matches) > 0,
		Patterns: matches,
		Total:    len(matches),
		ByType:   byType,
	})
}

func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readTextRequest(w, r)
	if !ok {
		return
	}
	opts, err := s.options(req.Options)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid options")
		return
	}

	res, err := s.processor.Process(r.Context(), req.Text, opts)
	if err != nil {
		s.writeProcessingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	maxSize := s.extractor.MaxSize()
	// Room for the multipart envelope and the options field.
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", "upload exceeds the size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", "expected multipart/form-data")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "cannot read file")
		return
	}

	opts, err := s.options([]byte(r.FormValue("options")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid options")
		return
	}

	ctx := r.Context()
	ft, _ := extract.Detect(header.Filename, data)
	rec := &history.Record{
		Filename: header.Filename,
		FileType: string(ft),
		FileSize: int64(len(data)),
		Source:   "upload",
		Options:  opts,
	}
	s.recordStart(ctx, rec)
	started := time.Now()

	doc, err := s.extractor.Extract(ctx, header.Filename, data)
	if err != nil {
		s.recordFailure(ctx, rec, started, err)
		s.writeExtractError(w, err)
		return
	}

	res, err := s.processor.Process(ctx, doc.Text, opts)
	if err != nil {
		s.recordFailure(ctx, rec, started, err)
		s.writeProcessingError(w, err)
		return
	}
	s.recordSuccess(ctx, rec, started, res)

	writeJSON(w, http.StatusOK, DocumentResponse{
		HistoryID: rec.ID,
		Filename:  header.Filename,
		FileType:  doc.FileType,
		Pages:     doc.Pages,
		Warning:   doc.Warning,
		Result:    res,
	})
}

func (s *Server) handleTechniques(w http.ResponseWriter, r *http.Request) {
	defaults := s.defaults()
	out := make(map[pii.Category]TechniqueInfo)
	for _, cat := range append(append([]pii.Category{}, pii.Categories...), pii.ExtendedCategories...) {
		out[cat] = TechniqueInfo{
			Default: defaults.TechniqueFor(cat),
			Allowed: technique.Allowed(cat),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// History writes and webhooks are best effort: neither ever blocks
// processing.

func (s *Server) recordStart(ctx context.Context, rec *history.Record) {
	if s.history == nil {
		return
	}
	if err := s.history.Create(ctx, rec); err != nil {
		s.logger.Warn("history create failed", "error", err)
		rec.ID = ""
	}
}

func (s *Server) recordSuccess(ctx context.Context, rec *history.Record, started time.Time, res *processor.Result) {
	s.notify(webhook.EventDocumentCompleted, webhook.DocumentData{
		HistoryID:     rec.ID,
		FileType:      rec.FileType,
		FileSize:      rec.FileSize,
		TotalPatterns: res.Summary.TotalPatterns,
		PatternCounts: res.Summary.ByType,
		DurationMS:    time.Since(started).Milliseconds(),
	})
	if s.history == nil || rec.ID == "" {
		return
	}
	if err := s.history.Complete(ctx, rec.ID, res); err != nil {
		s.logger.Warn("history update failed", "history_id", rec.ID, "error", err)
	}
}

func (s *Server) recordFailure(ctx context.Context, rec *history.Record, started time.Time, cause error) {
	s.notify(webhook.EventDocumentFailed, webhook.DocumentData{
		HistoryID:  rec.ID,
		FileType:   rec.FileType,
		FileSize:   rec.FileSize,
		DurationMS: time.Since(started).Milliseconds(),
		Error:      cause.Error(),
	})
	if s.history == nil || rec.ID == "" {
		return
	}
	if err := s.history.Fail(ctx, rec.ID, cause); err != nil {
		s.logger.Warn("history update failed", "history_id", rec.ID, "error", err)
	}
}

func (s *Server) notify(typ webhook.EventType, data webhook.DocumentData) {
	if s.webhooks == nil {
		return
	}
	s.webhooks.Emit(webhook.Event{Type: typ, Data: data})
}

func (s *Server) writeExtractError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, extract.ErrUnsupported):
		writeError(w, http.StatusUnsupportedMediaType, "unsupported_file", err.Error())
	case errors.Is(err, extract.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", err.Error())
	case errors.Is(err, extract.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "extractor_unavailable", err.Error())
	default:
		s.logger.Warn("extraction failed", "error", err)
		writeError(w, http.StatusUnprocessableEntity, "extraction_failed", "could not read text from the document")
	}
}

func (s *Server) writeProcessingError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusServiceUnavailable, "canceled", "request canceled before processing finished")
		return
	}
	writeError(w, http.StatusInternalServerError, "processing_failed",
		"anonymization failed; the document must not be treated as anonymized")
}
