//go:build cgo && !notesseract

package libtesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sync"
	"time"

	"github.com/otiai10/gosseract/v2"
	"github.com/rs/zerolog"

	"certextract/internal/logger"
	"certextract/internal/ocr"
	"certextract/pkg/models"
)

// Config configures the embedded tesseract engine.
type Config struct {
	Lang           string // e.g. "eng"
	TessdataPrefix string // optional tessdata location
	PSM            int    // page segmentation mode, 0 keeps the library default
}

// Engine owns a single gosseract client. The client wraps one TessBaseAPI,
// which is not safe for concurrent use, so Recognize calls are serialized.
type Engine struct {
	mu     sync.Mutex
	client *gosseract.Client
	cfg    Config
	log    zerolog.Logger
}

// New creates the client and runs a warm-up recognition so that missing
// language data surfaces at startup instead of on the first request.
func New(cfg Config) (*Engine, error) {
	const op = "NewLibTesseract"

	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}

	client := gosseract.NewClient()
	if cfg.TessdataPrefix != "" {
		client.TessdataPrefix = cfg.TessdataPrefix
	}
	if err := client.SetLanguage(cfg.Lang); err != nil {
		_ = client.Close()
		return nil, ocr.NewOCRError(op, ocr.ErrInvalidConfiguration, fmt.Sprintf("set language %q: %v", cfg.Lang, err))
	}
	if cfg.PSM > 0 {
		if err := client.SetPageSegMode(gosseract.PageSegMode(cfg.PSM)); err != nil {
			_ = client.Close()
			return nil, ocr.NewOCRError(op, ocr.ErrInvalidConfiguration, fmt.Sprintf("set psm %d: %v", cfg.PSM, err))
		}
	}

	e := &Engine{client: client, cfg: cfg, log: logger.WithComponent("tesseract")}
	if err := e.warmUp(); err != nil {
		_ = client.Close()
		return nil, ocr.NewOCRError(op, ocr.ErrEngineUnavailable, err.Error())
	}

	e.log.Info().
		Str("version", gosseract.Version()).
		Str("lang", cfg.Lang).
		Int("psm", cfg.PSM).
		Msg("Tesseract engine initialized")

	return e, nil
}

func (e *Engine) warmUp() error {
	blank := image.NewGray(image.Rect(0, 0, 32, 32))
	for i := range blank.Pix {
		blank.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, blank); err != nil {
		return err
	}
	if err := e.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return err
	}
	_, err := e.client.Text()
	return err
}

func (e *Engine) Name() string { return "tesseract" }

// Recognize returns the page text and word level confidences.
func (e *Engine) Recognize(ctx context.Context, page models.PageImage) (*models.RecognizedText, error) {
	const op = "Recognize"

	e.mu.Lock()
	defer e.mu.Unlock()

	// The lock may have been held for a while by other requests.
	if err := ctx.Err(); err != nil {
		return nil, ocr.NewOCRError(op, err, fmt.Sprintf("page %d", page.Index+1))
	}

	start := time.Now()
	if err := e.client.SetImageFromBytes(page.Data); err != nil {
		return nil, ocr.NewOCRError(op, ocr.ErrRecognitionFailed, fmt.Sprintf("page %d: set image: %v", page.Index+1, err))
	}
	text, err := e.client.Text()
	if err != nil {
		return nil, ocr.NewOCRError(op, ocr.ErrRecognitionFailed, fmt.Sprintf("page %d: %v", page.Index+1, err))
	}

	regions, conf := e.words()

	e.log.Debug().
		Int("page", page.Index+1).
		Int("words", len(regions)).
		Float32("confidence", conf).
		Dur("duration", time.Since(start)).
		Msg("Page recognized")

	return models.NewRecognizedText(page.Index, text, conf, regions), nil
}

func (e *Engine) words() ([]models.TextRegion, float32) {
	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return nil, 0
	}
	regions := make([]models.TextRegion, 0, len(boxes))
	var sum float64
	for _, b := range boxes {
		conf := b.Confidence / 100.0
		sum += conf
		regions = append(regions, models.TextRegion{Text: b.Word, Confidence: float32(conf)})
	}
	return regions, float32(sum / float64(len(regions)))
}

// Close releases the tesseract client.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client.Close()
}
