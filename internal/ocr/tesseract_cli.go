package ocr

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"certextract/internal/document"
	"certextract/internal/logger"
	"certextract/internal/runner"
	"certextract/pkg/models"
)

// CLIConfig configures the tesseract binary engine.
type CLIConfig struct {
	Path        string // tesseract binary
	Lang        string // e.g. "eng" or "eng+deu"
	TessdataDir string // optional --tessdata-dir
	PSM         int    // page segmentation mode, 0 keeps the tesseract default
	TempDir     string // base for per-call temp dirs, "" for os.TempDir
}

// TesseractCLI runs one tesseract process per page. It keeps no state between
// calls and is safe for concurrent use.
type TesseractCLI struct {
	runner runner.Runner
	cfg    CLIConfig
	log    zerolog.Logger
}

// NewTesseractCLI creates the engine and checks that the binary runs.
func NewTesseractCLI(ctx context.Context, cfg CLIConfig, r runner.Runner) (*TesseractCLI, error) {
	const op = "NewTesseractCLI"

	if cfg.Path == "" {
		cfg.Path = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	if r == nil {
		r = runner.NewExec()
	}

	t := &TesseractCLI{runner: r, cfg: cfg, log: logger.WithComponent("tesseract-cli")}

	out, errb, err := r.Run(ctx, cfg.Path, "--version")
	if err != nil {
		return nil, NewOCRError(op, ErrEngineUnavailable, fmt.Sprintf("%s --version: %v: %s", cfg.Path, err, runner.Truncate(string(errb), 512)))
	}
	version := strings.TrimSpace(strings.SplitN(string(out)+string(errb), "\n", 2)[0])
	t.log.Info().Str("version", version).Str("lang", cfg.Lang).Msg("Tesseract binary ready")

	return t, nil
}

func (t *TesseractCLI) Name() string { return "tesseract-cli" }

func (t *TesseractCLI) Close() error { return nil }

// Recognize writes the page into a private temp dir, runs tesseract in TSV
// mode and rebuilds the text from the word rows.
func (t *TesseractCLI) Recognize(ctx context.Context, page models.PageImage) (*models.RecognizedText, error) {
	const op = "Recognize"

	scope, err := document.NewTempScope(t.cfg.TempDir, "ocr-*")
	if err != nil {
		return nil, WrapOCRError(op, err, "failed to create temp dir")
	}
	defer func() {
		if err := scope.Close(); err != nil {
			t.log.Warn().Err(err).Str("dir", scope.Dir()).Msg("Failed to remove temp dir")
		}
	}()

	ext := page.Format
	if ext == "" {
		ext = "png"
	}
	path, err := scope.WriteFile("page."+ext, page.Data)
	if err != nil {
		return nil, WrapOCRError(op, err, "failed to stage image")
	}

	// tesseract <img> stdout -l <lang> [--psm N] [--tessdata-dir D] tsv
	args := []string{path, "stdout", "-l", t.cfg.Lang}
	if t.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(t.cfg.PSM))
	}
	if t.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
	}
	args = append(args, "tsv")

	out, errb, err := t.runner.Run(ctx, t.cfg.Path, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewOCRError(op, ctx.Err(), fmt.Sprintf("page %d", page.Index+1))
		}
		return nil, NewOCRError(op, ErrRecognitionFailed, fmt.Sprintf("page %d: %v: %s", page.Index+1, err, runner.Truncate(string(errb), 2048)))
	}

	text, regions := ParseTSV(string(out))
	return models.NewRecognizedText(page.Index, text, averageConfidence(regions), regions), nil
}

// ParseTSV rebuilds plain text from tesseract TSV output. Words on the same
// line are joined by spaces, lines by newlines and blocks by a blank line.
// Each word becomes a region with its confidence scaled to 0..1.
func ParseTSV(tsv string) (string, []models.TextRegion) {
	type lineKey struct{ block, par, line int }

	var (
		b       strings.Builder
		regions []models.TextRegion
		prev    lineKey
		started bool
	)

	for i, ln := range strings.Split(tsv, "\n") {
		if i == 0 || ln == "" {
			continue // header
		}
		// level page block par line word left top width height conf text
		cols := strings.SplitN(strings.TrimRight(ln, "\r"), "\t", 12)
		if len(cols) < 12 || cols[0] != "5" {
			continue
		}
		word := strings.TrimSpace(cols[11])
		if word == "" {
			continue
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf < 0 {
			conf = 0
		}
		key := lineKey{atoi(cols[2]), atoi(cols[3]), atoi(cols[4])}

		switch {
		case !started:
			started = true
		case key.block != prev.block:
			b.WriteString("\n\n")
		case key != prev:
			b.WriteString("\n")
		default:
			b.WriteString(" ")
		}
		b.WriteString(word)
		prev = key

		regions = append(regions, models.TextRegion{Text: word, Confidence: float32(conf / 100.0)})
	}

	return b.String(), regions
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
