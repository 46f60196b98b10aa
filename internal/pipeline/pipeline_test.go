package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"certextract/internal/ocr"
	"certextract/internal/rasterize"
	"certextract/pkg/models"
)

type fakeRasterizer struct {
	pages []models.PageImage
	err   error
	calls atomic.Int32
}

func (f *fakeRasterizer) Rasterize(context.Context, []byte) ([]models.PageImage, error) {
	f.calls.Add(1)
	return f.pages, f.err
}

// fakeRecognizer returns the page data as text. Pages listed in delays sleep
// first, which lets tests force out-of-order completion.
type fakeRecognizer struct {
	delays   map[int]time.Duration
	failPage int
	err      error

	calls   atomic.Int32
	active  atomic.Int32
	mu      sync.Mutex
	maxSeen int32
}

func (f *fakeRecognizer) Recognize(ctx context.Context, page models.PageImage) (*models.RecognizedText, error) {
	f.calls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	f.mu.Lock()
	if n > f.maxSeen {
		f.maxSeen = n
	}
	f.mu.Unlock()

	if d := f.delays[page.Index]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil && page.Index == f.failPage {
		return nil, f.err
	}
	return models.NewRecognizedText(page.Index, string(page.Data), 0.9, nil), nil
}

func (f *fakeRecognizer) Name() string { return "fake" }
func (f *fakeRecognizer) Close() error { return nil }

func pdfPages(texts ...string) []models.PageImage {
	pages := make([]models.PageImage, len(texts))
	for i, t := range texts {
		pages[i] = models.PageImage{Index: i, Format: "png", Data: []byte(t)}
	}
	return pages
}

func pdfDoc() models.UploadedDocument {
	return models.UploadedDocument{Filename: "transcript.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")}
}

func TestExtractPreservesPageOrder(t *testing.T) {
	rast := &fakeRasterizer{pages: pdfPages("page one", "page two", "page three", "page four")}
	// Earlier pages finish last.
	rec := &fakeRecognizer{delays: map[int]time.Duration{0: 60 * time.Millisecond, 1: 40 * time.Millisecond, 2: 20 * time.Millisecond}}
	p := New(rast, rec, Config{Concurrency: 4})

	res, err := p.Extract(context.Background(), pdfDoc())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := "page one\npage two\npage three\npage four"
	if res.Text != want {
		t.Fatalf("Text = %q, want %q", res.Text, want)
	}
	if res.PageCount != 4 || res.Format != "pdf" {
		t.Fatalf("PageCount=%d Format=%s", res.PageCount, res.Format)
	}
	for i, page := range res.Pages {
		if page.PageIndex != i {
			t.Fatalf("Pages[%d].PageIndex = %d", i, page.PageIndex)
		}
	}
	if res.TextLength() != len(want) {
		t.Fatalf("TextLength = %d, want %d", res.TextLength(), len(want))
	}
}

func TestExtractRespectsConcurrencyLimit(t *testing.T) {
	texts := make([]string, 10)
	delays := map[int]time.Duration{}
	for i := range texts {
		texts[i] = fmt.Sprintf("p%d", i)
		delays[i] = 5 * time.Millisecond
	}
	rec := &fakeRecognizer{delays: delays}
	p := New(&fakeRasterizer{pages: pdfPages(texts...)}, rec, Config{Concurrency: 2})

	if _, err := p.Extract(context.Background(), pdfDoc()); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if rec.maxSeen > 2 {
		t.Fatalf("saw %d concurrent recognitions, limit is 2", rec.maxSeen)
	}
	if rec.calls.Load() != 10 {
		t.Fatalf("recognizer called %d times, want 10", rec.calls.Load())
	}
}

func TestExtractSkipsEmptyPages(t *testing.T) {
	pages := pdfPages("first", "", "  \n\t ", "last")
	pages[1].Data = nil // page rendered no image
	rec := &fakeRecognizer{}
	p := New(&fakeRasterizer{pages: pages}, rec, Config{Concurrency: 2})

	res, err := p.Extract(context.Background(), pdfDoc())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Text != "first\nlast" {
		t.Fatalf("Text = %q", res.Text)
	}
	if rec.calls.Load() != 3 {
		t.Fatalf("recognizer called %d times, imageless page should be skipped", rec.calls.Load())
	}
	if res.PageCount != 4 {
		t.Fatalf("PageCount = %d, want 4", res.PageCount)
	}
}

func TestExtractAllPagesEmpty(t *testing.T) {
	p := New(&fakeRasterizer{pages: pdfPages(" ", "\n")}, &fakeRecognizer{}, Config{})
	_, err := p.Extract(context.Background(), pdfDoc())
	if !errors.Is(err, ErrNoTextExtracted) {
		t.Fatalf("error = %v, want ErrNoTextExtracted", err)
	}
}

func TestExtractZeroPagePDF(t *testing.T) {
	rec := &fakeRecognizer{}
	p := New(&fakeRasterizer{pages: []models.PageImage{}}, rec, Config{})
	_, err := p.Extract(context.Background(), pdfDoc())
	if !errors.Is(err, ErrNoTextExtracted) {
		t.Fatalf("error = %v, want ErrNoTextExtracted", err)
	}
	if rec.calls.Load() != 0 {
		t.Fatal("recognizer should not run without pages")
	}
}

func TestExtractBlankImage(t *testing.T) {
	p := New(&fakeRasterizer{}, &fakeRecognizer{}, Config{})
	_, err := p.Extract(context.Background(), models.UploadedDocument{Filename: "blank.png", Data: []byte("   \n  ")})
	if !errors.Is(err, ErrNoTextExtracted) {
		t.Fatalf("error = %v, want ErrNoTextExtracted", err)
	}
}

func TestExtractImageRecognizesOnce(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 12, 7))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	var seen models.PageImage
	rec := recognizerFunc(func(_ context.Context, page models.PageImage) (*models.RecognizedText, error) {
		seen = page
		return models.NewRecognizedText(7, "HELLO WORLD", 0.99, nil), nil
	})
	rast := &fakeRasterizer{}
	p := New(rast, rec, Config{})

	res, err := p.Extract(context.Background(), models.UploadedDocument{Filename: "hello.PNG", Data: buf.Bytes()})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Text != "HELLO WORLD" || res.TextLength() != 11 || res.PageCount != 1 || res.Pages[0].PageIndex != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if seen.Width != 12 || seen.Height != 7 || seen.Format != "png" {
		t.Fatalf("recognizer saw %dx%d %s", seen.Width, seen.Height, seen.Format)
	}
	if rast.calls.Load() != 0 {
		t.Fatal("images must not be rasterized")
	}
}

func TestExtractUnsupportedFormat(t *testing.T) {
	rast := &fakeRasterizer{}
	rec := &fakeRecognizer{}
	p := New(rast, rec, Config{})

	_, err := p.Extract(context.Background(), models.UploadedDocument{Filename: "notes.txt", Data: []byte("hello")})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("error = %v, want ErrUnsupportedFormat", err)
	}
	if rast.calls.Load() != 0 || rec.calls.Load() != 0 {
		t.Fatal("collaborators invoked for unsupported format")
	}
}

func TestExtractRasterizationFailure(t *testing.T) {
	cause := errors.New("pdftoppm exploded")
	p := New(&fakeRasterizer{err: cause}, &fakeRecognizer{}, Config{})

	_, err := p.Extract(context.Background(), pdfDoc())
	if !errors.Is(err, ErrRasterizationFailed) || !errors.Is(err, cause) {
		t.Fatalf("error = %v, want ErrRasterizationFailed wrapping cause", err)
	}
	if errors.Is(err, ErrRecognitionFailed) {
		t.Fatal("error matches two kinds")
	}
}

func TestExtractRecognitionFailureNamesPage(t *testing.T) {
	rec := &fakeRecognizer{failPage: 1, err: errors.New("engine crashed")}
	p := New(&fakeRasterizer{pages: pdfPages("a", "b", "c")}, rec, Config{Concurrency: 1})

	_, err := p.Extract(context.Background(), pdfDoc())
	if !errors.Is(err, ErrRecognitionFailed) {
		t.Fatalf("error = %v, want ErrRecognitionFailed", err)
	}
	var pe *PipelineError
	if !errors.As(err, &pe) || pe.Op != "Recognize" || !strings.Contains(pe.Details, "page 2 of 3") {
		t.Fatalf("unexpected error detail: %v", err)
	}
}

func TestExtractMinTextLength(t *testing.T) {
	p := New(&fakeRasterizer{pages: pdfPages("short")}, &fakeRecognizer{}, Config{MinTextLength: 10})
	_, err := p.Extract(context.Background(), pdfDoc())
	if !errors.Is(err, ErrNoTextExtracted) {
		t.Fatalf("error = %v, want ErrNoTextExtracted", err)
	}
}

func TestExtractIsIdempotent(t *testing.T) {
	pages := pdfPages("Certificate\r\nof  Completion\t\t2024", "", "Jane   Doe\n\n\n\nGrade A")
	rec := &fakeRecognizer{delays: map[int]time.Duration{0: 10 * time.Millisecond}}
	p := New(&fakeRasterizer{pages: pages}, rec, Config{Concurrency: 3})

	first, err := p.Extract(context.Background(), pdfDoc())
	if err != nil {
		t.Fatalf("first Extract: %v", err)
	}
	second, err := p.Extract(context.Background(), pdfDoc())
	if err != nil {
		t.Fatalf("second Extract: %v", err)
	}
	if first.Text != second.Text {
		t.Fatalf("texts differ:\n%q\n%q", first.Text, second.Text)
	}
	want := "Certificate\nof Completion 2024\nJane Doe\n\nGrade A"
	if first.Text != want {
		t.Fatalf("Text = %q, want %q", first.Text, want)
	}
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"":                       "",
		"  hello  ":              "hello",
		"a\r\nb\rc":              "a\nb\nc",
		"a\t\tb    c":            "a b c",
		"top\n\n\n\n\nbottom":    "top\n\nbottom",
		"line  \n   \n  \n next": "line\n\nnext",
	}
	for in, want := range tests {
		got := Normalize(in)
		if got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
		if again := Normalize(got); again != got {
			t.Errorf("Normalize not idempotent for %q: %q then %q", in, got, again)
		}
	}
}

type recognizerFunc func(context.Context, models.PageImage) (*models.RecognizedText, error)

func (f recognizerFunc) Recognize(ctx context.Context, p models.PageImage) (*models.RecognizedText, error) {
	return f(ctx, p)
}
func (recognizerFunc) Name() string { return "func" }
func (recognizerFunc) Close() error { return nil }

// stubTool plays both pdftoppm and tesseract for the end-to-end temp file test.
type stubTool struct {
	failOCR bool
}

func (s *stubTool) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	switch name {
	case "pdftoppm":
		prefix := args[len(args)-1]
		for n := 1; n <= 2; n++ {
			var buf bytes.Buffer
			if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
				return nil, nil, err
			}
			if err := os.WriteFile(fmt.Sprintf("%s-%d.png", prefix, n), buf.Bytes(), 0o600); err != nil {
				return nil, nil, err
			}
		}
		return nil, nil, nil
	case "tesseract":
		if len(args) == 1 {
			return []byte("tesseract 5.3.0"), nil, nil
		}
		if s.failOCR {
			return nil, []byte("boom"), errors.New("exit status 1")
		}
		return []byte("level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
			"5\t1\t1\t1\t1\t1\t0\t0\t1\t1\t90\tHELLO\n"), nil, nil
	}
	return nil, nil, fmt.Errorf("unexpected command %s", name)
}

func TestExtractLeavesNoTempFiles(t *testing.T) {
	for _, failOCR := range []bool{false, true} {
		t.Run(fmt.Sprintf("failOCR=%v", failOCR), func(t *testing.T) {
			base := t.TempDir()
			tool := &stubTool{failOCR: failOCR}
			rast := rasterize.NewPdftoppm(rasterize.Config{TempDir: base}, tool)
			rec, err := ocr.NewTesseractCLI(context.Background(), ocr.CLIConfig{TempDir: base}, tool)
			if err != nil {
				t.Fatalf("NewTesseractCLI: %v", err)
			}
			p := New(rast, rec, Config{Concurrency: 2})

			// pdfcpu cannot count pages here, so the rasterizer trusts pdftoppm.
			res, err := p.Extract(context.Background(), models.UploadedDocument{Filename: "a.pdf", Data: []byte("%PDF-1.4\n...")})
			if failOCR {
				if !errors.Is(err, ErrRecognitionFailed) {
					t.Fatalf("error = %v, want ErrRecognitionFailed", err)
				}
			} else {
				if err != nil {
					t.Fatalf("Extract: %v", err)
				}
				if res.Text != "HELLO\nHELLO" {
					t.Fatalf("Text = %q", res.Text)
				}
			}

			entries, err := os.ReadDir(base)
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != 0 {
				t.Fatalf("%d temp entries left behind", len(entries))
			}
		})
	}
}
