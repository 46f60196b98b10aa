// Package pipeline turns an uploaded document into one normalized block of
// text: format dispatch, PDF rasterization, page-by-page recognition and
// ordered concatenation.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"certextract/internal/document"
	"certextract/internal/logger"
	"certextract/internal/ocr"
	"certextract/internal/rasterize"
	"certextract/pkg/models"
)

// Config tunes the pipeline.
type Config struct {
	// Concurrency caps how many pages of one document are recognized at once.
	Concurrency int

	// MinTextLength rejects documents whose text has fewer runes, 0 disables.
	MinTextLength int
}

// Result is the outcome of a successful extraction.
type Result struct {
	Text      string                  `json:"text"`
	Format    document.Format         `json:"format"`
	PageCount int                     `json:"page_count"`
	Pages     []models.RecognizedText `json:"pages"`
	Duration  time.Duration           `json:"duration"`
}

// TextLength is the rune count of the normalized text.
func (r *Result) TextLength() int {
	return utf8.RuneCountInString(r.Text)
}

// Pipeline is safe for concurrent use when its collaborators are.
type Pipeline struct {
	rasterizer rasterize.PageRasterizer
	recognizer ocr.TextRecognizer
	cfg        Config
}

// New assembles a pipeline around the shared collaborators.
func New(rasterizer rasterize.PageRasterizer, recognizer ocr.TextRecognizer, cfg Config) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Pipeline{
		rasterizer: rasterizer,
		recognizer: recognizer,
		cfg:        cfg,
	}
}

// Extract produces the normalized text of doc. Page order is preserved even
// though pages are recognized concurrently.
func (p *Pipeline) Extract(ctx context.Context, doc models.UploadedDocument) (*Result, error) {
	start := time.Now()
	log := logger.WithContext(ctx).With().Str("component", "pipeline").Logger()

	format := document.Detect(doc.Filename, doc.ContentType)

	var (
		pages []models.RecognizedText
		err   error
	)
	switch format {
	case document.FormatImage:
		pages, err = p.extractImage(ctx, doc)
	case document.FormatPDF:
		pages, err = p.extractPDF(ctx, doc)
	default:
		return nil, newPipelineError("Detect", ErrUnsupportedFormat, nil, fmt.Sprintf("file %q", doc.Filename))
	}
	if err != nil {
		return nil, err
	}

	text := joinPages(pages)
	if text == "" {
		return nil, newPipelineError("Join", ErrNoTextExtracted, nil, fmt.Sprintf("%d page(s) recognized, all empty", len(pages)))
	}
	if n := utf8.RuneCountInString(text); n < p.cfg.MinTextLength {
		return nil, newPipelineError("Join", ErrNoTextExtracted, nil, fmt.Sprintf("only %d characters recognized, need %d", n, p.cfg.MinTextLength))
	}

	result := &Result{
		Text:      text,
		Format:    format,
		PageCount: len(pages),
		Pages:     pages,
		Duration:  time.Since(start),
	}

	log.Info().
		Str("format", string(format)).
		Int("pages", result.PageCount).
		Int("text_length", result.TextLength()).
		Dur("duration", result.Duration).
		Msg("Text extracted")

	return result, nil
}

func (p *Pipeline) extractImage(ctx context.Context, doc models.UploadedDocument) ([]models.RecognizedText, error) {
	page := models.PageImage{
		Index:  0,
		Format: document.ImageFormat(doc.Filename, doc.ContentType),
		Data:   doc.Data,
	}
	if w, h, _, err := ocr.DecodeConfig(doc.Data); err == nil {
		page.Width, page.Height = w, h
	}

	res, err := p.recognizer.Recognize(ctx, page)
	if err != nil {
		return nil, newPipelineError("Recognize", ErrRecognitionFailed, err, "image")
	}
	res.PageIndex = 0
	return []models.RecognizedText{*res}, nil
}

func (p *Pipeline) extractPDF(ctx context.Context, doc models.UploadedDocument) ([]models.RecognizedText, error) {
	images, err := p.rasterizer.Rasterize(ctx, doc.Data)
	if err != nil {
		return nil, newPipelineError("Rasterize", ErrRasterizationFailed, err, "")
	}
	if len(images) == 0 {
		return nil, newPipelineError("Rasterize", ErrNoTextExtracted, nil, "document has no pages")
	}

	// Each page owns one slot, so completion order cannot reorder the text.
	results := make([]models.RecognizedText, len(images))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.cfg.Concurrency)
	for i, img := range images {
		results[i].PageIndex = i
		if img.Empty() {
			continue
		}
		img.Index = i
		eg.Go(func() error {
			res, err := p.recognizer.Recognize(gctx, img)
			if err != nil {
				return newPipelineError("Recognize", ErrRecognitionFailed, err, fmt.Sprintf("page %d of %d", i+1, len(images)))
			}
			results[i] = *res
			results[i].PageIndex = i
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// joinPages normalizes each page and joins the non-empty ones with a newline.
func joinPages(pages []models.RecognizedText) string {
	parts := make([]string, 0, len(pages))
	for _, page := range pages {
		if t := Normalize(page.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}
