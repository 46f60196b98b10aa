package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"certextract/internal/logger"
	"certextract/pkg/models"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"message":     "Certificate Metadata Extraction API",
		"version":     s.opts.Version,
		"ocr_engine":  s.opts.OCREngine,
		"ai_provider": s.opts.AIProvider,
		"endpoints": map[string]string{
			"/extract": "POST - Extract metadata from certificate image or PDF",
			"/health":  "GET - Health check endpoint",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if s.deps.Text == nil || s.deps.Fields == nil {
		status = "degraded"
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status": status,
		"service_availability": map[string]string{
			"text_recognizer": availability(s.deps.Text != nil),
			"field_extractor": availability(s.deps.Fields != nil),
		},
	})
}

func availability(ok bool) string {
	if ok {
		return "available"
	}
	return "unavailable"
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}
	log := logger.WithContext(ctx)

	doc, err := readUpload(w, r, s.opts.MaxUploadBytes)
	if err != nil {
		writeError(w, r, err)
		return
	}

	log.Info().
		Str("filename", doc.Filename).
		Int64("size", doc.Size()).
		Msg("Processing upload")

	if s.deps.Text == nil {
		writeError(w, r, fmt.Errorf("%w: text recognizer is unavailable", ErrNotReady))
		return
	}
	result, err := s.deps.Text.Extract(ctx, doc)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if s.deps.Fields == nil {
		writeError(w, r, fmt.Errorf("%w: field extractor is unavailable", ErrNotReady))
		return
	}
	metadata, err := s.deps.Fields.ExtractFields(ctx, result.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := models.ExtractResponse{
		Status:              "success",
		Filename:            doc.Filename,
		ExtractedTextLength: result.TextLength(),
		Metadata:            metadata,
	}

	if s.deps.Archive != nil {
		rec := models.MetadataRecord{
			Filename:            doc.Filename,
			RequestID:           w.Header().Get(requestIDHeader),
			ExtractedAt:         time.Now().UTC(),
			OCREngine:           s.opts.OCREngine,
			AIProvider:          s.opts.AIProvider,
			PageCount:           result.PageCount,
			ExtractedTextLength: resp.ExtractedTextLength,
			Metadata:            metadata,
		}
		// archive failures never fail the request
		location, err := s.deps.Archive.Save(ctx, rec)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to archive metadata")
		}
		resp.JSONFile = location
	}

	writeJSON(w, r, http.StatusOK, resp)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	f := classify(err)

	event := logger.WithContext(r.Context()).Warn()
	if f.status >= http.StatusInternalServerError {
		event = logger.WithContext(r.Context()).Error()
	}
	event.Err(err).
		Str("kind", string(f.kind)).
		Str("stage", f.stage).
		Msg("Request failed")

	writeJSON(w, r, f.status, models.ErrorResponse{
		Status:    "error",
		Error:     string(f.kind),
		Stage:     f.stage,
		Detail:    err.Error(),
		RequestID: w.Header().Get(requestIDHeader),
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithContext(r.Context()).Error().Err(err).Msg("Failed to write response")
	}
}
