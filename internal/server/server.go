// Package server exposes the extraction pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"certextract/internal/archive"
	"certextract/internal/logger"
	"certextract/internal/pipeline"
	"certextract/pkg/models"
)

// TextExtractor turns an uploaded document into normalized text.
type TextExtractor interface {
	Extract(ctx context.Context, doc models.UploadedDocument) (*pipeline.Result, error)
}

// MetadataExtractor maps normalized text to metadata fields.
type MetadataExtractor interface {
	ExtractFields(ctx context.Context, text string) (models.ExtractedMetadata, error)
}

// Options configures the HTTP surface.
type Options struct {
	Addr           string
	Version        string
	MaxUploadBytes int64
	RequestTimeout time.Duration
	AllowedOrigins []string

	// Reported by GET / and stored with archived records.
	OCREngine  string
	AIProvider string
}

// Deps are the collaborators shared by all requests. A nil Text or Fields
// collaborator means it failed to initialize: the server still starts and
// reports itself degraded.
type Deps struct {
	Text    TextExtractor
	Fields  MetadataExtractor
	Archive archive.Store
}

// Server handles certificate extraction requests.
type Server struct {
	opts Options
	deps Deps
	log  zerolog.Logger
}

// New creates a server. Zero options fall back to the service defaults.
func New(opts Options, deps Deps) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.Addr == "" {
		opts.Addr = ":8000"
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Server{
		opts: opts,
		deps: deps,
		log:  logger.WithComponent("server"),
	}
}

// Handler returns the routed and instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /extract", s.handleExtract)

	var h http.Handler = mux
	h = withRecover(h)
	h = withAccessLog(h)
	h = withCORS(s.opts.AllowedOrigins)(h)
	h = withRequestID(h)
	return h
}

// Run serves until ctx is cancelled, then drains in-flight requests for up
// to shutdownTimeout.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().
			Str("addr", s.opts.Addr).
			Str("ocr_engine", s.opts.OCREngine).
			Str("ai_provider", s.opts.AIProvider).
			Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
