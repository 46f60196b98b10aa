// Package rasterize renders PDF pages to PNG images for OCR.
package rasterize

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog"

	"certextract/internal/document"
	"certextract/internal/logger"
	"certextract/internal/runner"
	"certextract/pkg/models"
)

// PageRasterizer converts a PDF into its pages, in page order.
type PageRasterizer interface {
	Rasterize(ctx context.Context, pdf []byte) ([]models.PageImage, error)
}

// Config configures pdftoppm rendering.
type Config struct {
	PdftoppmPath string // pdftoppm binary
	DPI          int    // render resolution
	MaxPages     int    // render at most this many pages, 0 renders all
	TempDir      string // base for per-call temp dirs, "" for os.TempDir
}

// Pdftoppm renders pages with poppler's pdftoppm. Each call works in its own
// temp dir, so concurrent calls never share files.
type Pdftoppm struct {
	runner  runner.Runner
	cfg     Config
	pdfConf *model.Configuration
	log     zerolog.Logger
}

func init() {
	// pdfcpu would otherwise create a config dir under the user's home.
	api.DisableConfigDir()
}

// NewPdftoppm creates a rasterizer. A nil runner uses os/exec.
func NewPdftoppm(cfg Config, r runner.Runner) *Pdftoppm {
	if cfg.PdftoppmPath == "" {
		cfg.PdftoppmPath = "pdftoppm"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 200
	}
	if r == nil {
		r = runner.NewExec()
	}

	pdfConf := model.NewDefaultConfiguration()
	pdfConf.ValidationMode = model.ValidationRelaxed

	return &Pdftoppm{
		runner:  r,
		cfg:     cfg,
		pdfConf: pdfConf,
		log:     logger.WithComponent("rasterizer"),
	}
}

// Check verifies that the pdftoppm binary runs.
func (p *Pdftoppm) Check(ctx context.Context) error {
	const op = "Check"

	// pdftoppm -v prints its version to stderr
	_, errb, err := p.runner.Run(ctx, p.cfg.PdftoppmPath, "-v")
	if err != nil {
		return newRasterizeError(op, ErrRasterizationFailed, fmt.Sprintf("%s unavailable: %v", p.cfg.PdftoppmPath, err))
	}
	p.log.Info().Str("version", strings.TrimSpace(strings.SplitN(string(errb), "\n", 2)[0])).Msg("pdftoppm ready")
	return nil
}

// Rasterize renders every page to PNG. The result has one entry per page; a
// page pdftoppm produced no image for keeps an empty Data. A PDF without pages
// yields an empty slice.
func (p *Pdftoppm) Rasterize(ctx context.Context, pdf []byte) ([]models.PageImage, error) {
	const op = "Rasterize"
	start := time.Now()

	if !hasPDFHeader(pdf) {
		return nil, newRasterizeError(op, ErrInvalidPDF, "missing PDF header")
	}

	pageCount, err := api.PageCount(bytes.NewReader(pdf), p.pdfConf)
	if err != nil {
		// poppler is more forgiving than pdfcpu; let pdftoppm decide.
		p.log.Warn().Err(err).Msg("pdfcpu could not count pages, relying on pdftoppm output")
		pageCount = -1
	}
	if pageCount == 0 {
		return []models.PageImage{}, nil
	}
	if p.cfg.MaxPages > 0 && pageCount > p.cfg.MaxPages {
		p.log.Warn().Int("pages", pageCount).Int("max_pages", p.cfg.MaxPages).Msg("Document exceeds page cap, rendering leading pages only")
		pageCount = p.cfg.MaxPages
	}

	scope, err := document.NewTempScope(p.cfg.TempDir, "raster-*")
	if err != nil {
		return nil, newRasterizeError(op, err, "failed to create temp dir")
	}
	defer func() {
		if err := scope.Close(); err != nil {
			p.log.Warn().Err(err).Str("dir", scope.Dir()).Msg("Failed to remove temp dir")
		}
	}()

	in, err := scope.WriteFile("input.pdf", pdf)
	if err != nil {
		return nil, newRasterizeError(op, err, "failed to stage PDF")
	}
	prefix := scope.Path("page")

	// pdftoppm -r <dpi> -png [-l <last>] <in.pdf> <tmp/page>
	args := []string{"-r", strconv.Itoa(p.cfg.DPI), "-png"}
	if p.cfg.MaxPages > 0 {
		args = append(args, "-l", strconv.Itoa(p.cfg.MaxPages))
	}
	args = append(args, in, prefix)

	_, errb, err := p.runner.Run(ctx, p.cfg.PdftoppmPath, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, newRasterizeError(op, ctx.Err(), "rendering interrupted")
		}
		return nil, newRasterizeError(op, ErrRasterizationFailed, fmt.Sprintf("%v: %s", err, runner.Truncate(string(errb), 2048)))
	}

	rendered, err := collectPages(prefix)
	if err != nil {
		return nil, newRasterizeError(op, ErrRasterizationFailed, err.Error())
	}

	if pageCount < 0 {
		for n := range rendered {
			pageCount = max(pageCount, n)
		}
		if p.cfg.MaxPages > 0 {
			pageCount = min(pageCount, p.cfg.MaxPages)
		}
		if pageCount <= 0 {
			return nil, newRasterizeError(op, ErrRasterizationFailed, "pdftoppm produced no images")
		}
	}

	pages := make([]models.PageImage, pageCount)
	for i := range pages {
		pages[i].Index = i
		path, ok := rendered[i+1]
		if !ok {
			p.log.Warn().Int("page", i+1).Msg("Page rendered no image")
			continue
		}
		img, err := readPage(path, i)
		if err != nil {
			return nil, newRasterizeError(op, ErrRasterizationFailed, err.Error())
		}
		pages[i] = *img
	}

	p.log.Debug().
		Int("pages", len(pages)).
		Int("dpi", p.cfg.DPI).
		Dur("duration", time.Since(start)).
		Msg("PDF rasterized")

	return pages, nil
}

// collectPages maps 1-based page numbers to the files pdftoppm wrote. pdftoppm
// zero-pads numbers to the width of the page count (page-01.png), so names are
// parsed rather than sorted.
func collectPages(prefix string) (map[int]string, error) {
	matches, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, err
	}
	pages := make(map[int]string, len(matches))
	for _, m := range matches {
		num := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), filepath.Base(prefix)+"-"), ".png")
		n, err := strconv.Atoi(num)
		if err != nil || n < 1 {
			continue
		}
		pages[n] = m
	}
	return pages, nil
}

func readPage(path string, index int) (*models.PageImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read page %d: %w", index+1, err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("page %d is not a PNG: %w", index+1, err)
	}
	return &models.PageImage{
		Index:  index,
		Width:  cfg.Width,
		Height: cfg.Height,
		Format: "png",
		Data:   data,
	}, nil
}

// hasPDFHeader looks for %PDF- within the first KiB, where readers accept it.
func hasPDFHeader(data []byte) bool {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, []byte("%PDF-"))
}
