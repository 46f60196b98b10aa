package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"

	"certextract/pkg/models"
)

// PreprocessOptions controls the image cleanup applied before tesseract.
type PreprocessOptions struct {
	Contrast float64 // contrast factor around the mean luminance, 1 disables
	Sharpen  bool    // apply a 3x3 sharpening kernel
	MinWidth int     // upscale narrower images to this width, 0 disables
}

// DefaultPreprocessOptions matches what works well for scanned certificates.
func DefaultPreprocessOptions() PreprocessOptions {
	return PreprocessOptions{
		Contrast: 2.0,
		Sharpen:  true,
		MinWidth: 1000,
	}
}

// DecodeConfig returns the dimensions and format name of an encoded image.
func DecodeConfig(data []byte) (width, height int, format string, err error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return cfg.Width, cfg.Height, format, nil
}

// Preprocess converts an encoded image to grayscale, stretches its contrast,
// sharpens it and upscales small scans, returning a PNG.
func Preprocess(data []byte, opts PreprocessOptions) (*models.PageImage, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	b := src.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), src, b.Min, draw.Src)

	if opts.Contrast > 0 && opts.Contrast != 1 {
		adjustContrast(gray, opts.Contrast)
	}
	if opts.Sharpen {
		gray = sharpen(gray)
	}

	var out image.Image = gray
	if opts.MinWidth > 0 && gray.Bounds().Dx() < opts.MinWidth && gray.Bounds().Dx() > 0 {
		w := gray.Bounds().Dx()
		h := gray.Bounds().Dy() * opts.MinWidth / w
		scaled := image.NewGray(image.Rect(0, 0, opts.MinWidth, h))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), gray, gray.Bounds(), draw.Src, nil)
		out = scaled
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("encode preprocessed image: %w", err)
	}
	return &models.PageImage{
		Width:  out.Bounds().Dx(),
		Height: out.Bounds().Dy(),
		Format: "png",
		Data:   buf.Bytes(),
	}, nil
}

// adjustContrast scales every pixel away from the mean luminance by factor.
func adjustContrast(img *image.Gray, factor float64) {
	if len(img.Pix) == 0 {
		return
	}
	var sum int
	for _, p := range img.Pix {
		sum += int(p)
	}
	mean := float64(sum) / float64(len(img.Pix))
	for i, p := range img.Pix {
		img.Pix[i] = clamp(mean + (float64(p)-mean)*factor)
	}
}

// sharpen applies the kernel [-2 -2 -2; -2 32 -2; -2 -2 -2] / 16. Border
// pixels are copied unchanged.
func sharpen(src *image.Gray) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	copy(dst.Pix, src.Pix)
	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		for x := b.Min.X + 1; x < b.Max.X-1; x++ {
			acc := 32 * int(src.GrayAt(x, y).Y)
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					acc -= 2 * int(src.GrayAt(x+dx, y+dy).Y)
				}
			}
			dst.SetGray(x, y, color.Gray{Y: clamp(float64(acc) / 16)})
		}
	}
	return dst
}

func clamp(v float64) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}

// Preprocessing wraps a recognizer so every page is cleaned up before recognition.
type Preprocessing struct {
	next TextRecognizer
	opts PreprocessOptions
}

// WithPreprocessing returns next wrapped with image preprocessing.
func WithPreprocessing(next TextRecognizer, opts PreprocessOptions) *Preprocessing {
	return &Preprocessing{next: next, opts: opts}
}

func (p *Preprocessing) Recognize(ctx context.Context, page models.PageImage) (*models.RecognizedText, error) {
	const op = "Preprocess"

	cleaned, err := Preprocess(page.Data, p.opts)
	if err != nil {
		return nil, WrapOCRError(op, err, fmt.Sprintf("page %d", page.Index+1))
	}
	cleaned.Index = page.Index
	return p.next.Recognize(ctx, *cleaned)
}

func (p *Preprocessing) Name() string {
	return p.next.Name()
}

func (p *Preprocessing) Close() error {
	return p.next.Close()
}
