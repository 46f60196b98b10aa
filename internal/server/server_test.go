package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"certextract/internal/archive"
	"certextract/internal/fields"
	"certextract/internal/pipeline"
	"certextract/pkg/models"
)

type countingRasterizer struct {
	calls atomic.Int32
	pages []models.PageImage
}

func (c *countingRasterizer) Rasterize(context.Context, []byte) ([]models.PageImage, error) {
	c.calls.Add(1)
	return c.pages, nil
}

type textRecognizer struct {
	text  string
	calls atomic.Int32
}

func (r *textRecognizer) Recognize(_ context.Context, page models.PageImage) (*models.RecognizedText, error) {
	r.calls.Add(1)
	return models.NewRecognizedText(page.Index, r.text, 0.9, nil), nil
}

func (r *textRecognizer) Name() string { return "fake" }
func (r *textRecognizer) Close() error { return nil }

type stubFields struct {
	meta models.ExtractedMetadata
	err  error
	text string
}

func (s *stubFields) ExtractFields(_ context.Context, text string) (models.ExtractedMetadata, error) {
	s.text = text
	return s.meta, s.err
}

type stubText struct {
	result *pipeline.Result
	err    error
}

func (s stubText) Extract(context.Context, models.UploadedDocument) (*pipeline.Result, error) {
	return s.result, s.err
}

type failingArchive struct{}

func (failingArchive) Save(context.Context, models.MetadataRecord) (string, error) {
	return "", archive.ErrArchiveFailed
}

// fixture wires a real pipeline around fake collaborators.
type fixture struct {
	rasterizer *countingRasterizer
	recognizer *textRecognizer
	fields     *stubFields
	handler    http.Handler
}

func newFixture(t *testing.T, store archive.Store) *fixture {
	t.Helper()
	f := &fixture{
		rasterizer: &countingRasterizer{pages: []models.PageImage{{Index: 0, Format: "png", Data: []byte{1}}}},
		recognizer: &textRecognizer{text: "HELLO WORLD"},
		fields:     &stubFields{meta: models.ExtractedMetadata{"Student Name": "HELLO WORLD"}},
	}
	p := pipeline.New(f.rasterizer, f.recognizer, pipeline.Config{Concurrency: 2})
	srv := New(Options{
		Version:        "test",
		MaxUploadBytes: 10 << 20,
		OCREngine:      "fake",
		AIProvider:     "stub",
	}, Deps{Text: p, Fields: f.fields, Archive: store})
	f.handler = srv.Handler()
	return f
}

func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return body, mw.FormDataContentType()
}

func postFile(t *testing.T, h http.Handler, filename, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, "file", filename, contentType, data)
	req := httptest.NewRequest(http.MethodPost, "/extract", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("error body is not JSON: %v: %s", err, rec.Body.String())
	}
	if resp.Status != "error" {
		t.Fatalf("status field = %q, want error", resp.Status)
	}
	return resp
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 32))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.SetGray(10, 10, color.Gray{})
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractHelloWorldJPEG(t *testing.T) {
	f := newFixture(t, nil)
	rec := postFile(t, f.handler, "hello.jpg", "image/jpeg", jpegBytes(t))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}
	var resp models.ExtractResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "success" || resp.Filename != "hello.jpg" {
		t.Fatalf("response = %+v", resp)
	}
	if resp.ExtractedTextLength != len("HELLO WORLD") {
		t.Fatalf("extracted_text_length = %d, want %d", resp.ExtractedTextLength, len("HELLO WORLD"))
	}
	if len(resp.Metadata) == 0 {
		t.Fatal("metadata is empty")
	}
	if resp.JSONFile != "" {
		t.Fatalf("json_file = %q without an archive", resp.JSONFile)
	}
	if f.fields.text != "HELLO WORLD" {
		t.Fatalf("field extractor got %q", f.fields.text)
	}
	if f.rasterizer.calls.Load() != 0 || f.recognizer.calls.Load() != 1 {
		t.Fatalf("rasterizer calls = %d, recognizer calls = %d", f.rasterizer.calls.Load(), f.recognizer.calls.Load())
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatal("missing X-Request-ID header")
	}
}

func TestExtractPDF(t *testing.T) {
	f := newFixture(t, nil)
	rec := postFile(t, f.handler, "diploma.pdf", "application/pdf", []byte("%PDF-1.4\n"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if f.rasterizer.calls.Load() != 1 {
		t.Fatalf("rasterizer calls = %d, want 1", f.rasterizer.calls.Load())
	}
}

func TestExtractUnsupportedFormat(t *testing.T) {
	f := newFixture(t, nil)
	rec := postFile(t, f.handler, "notes.txt", "text/plain", []byte("just some notes"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.Error != string(KindUnsupportedFormat) || resp.Stage != StageValidation {
		t.Fatalf("error = %+v", resp)
	}
	if !strings.Contains(resp.Detail, "notes.txt") {
		t.Fatalf("detail %q does not name the file", resp.Detail)
	}
	if f.rasterizer.calls.Load() != 0 || f.recognizer.calls.Load() != 0 {
		t.Fatal("pipeline invoked for an unsupported file")
	}
}

func TestExtractOversizedFile(t *testing.T) {
	f := newFixture(t, nil)
	data := append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte{'x'}, 11<<20)...)
	rec := postFile(t, f.handler, "big.pdf", "application/pdf", data)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error != string(KindOversizedFile) {
		t.Fatalf("error = %+v", resp)
	}
	if n := f.rasterizer.calls.Load(); n != 0 {
		t.Fatalf("rasterizer called %d times for an oversized file", n)
	}
}

func TestExtractInvalidRequests(t *testing.T) {
	f := newFixture(t, nil)

	t.Run("missing file field", func(t *testing.T) {
		body, ct := multipartBody(t, "document", "hello.jpg", "image/jpeg", []byte("x"))
		req := httptest.NewRequest(http.MethodPost, "/extract", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest || decodeError(t, rec).Error != string(KindInvalidRequest) {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/extract", strings.NewReader(`{"file":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest || decodeError(t, rec).Error != string(KindInvalidRequest) {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("empty file", func(t *testing.T) {
		rec := postFile(t, f.handler, "hello.png", "image/png", nil)
		if rec.Code != http.StatusBadRequest || decodeError(t, rec).Error != string(KindInvalidRequest) {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/extract", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("status = %d, want 405", rec.Code)
		}
	})
}

func TestExtractErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		textErr   error
		fieldsErr error
		status    int
		kind      Kind
		stage     string
	}{
		{"no text", fmt.Errorf("wrap: %w", pipeline.ErrNoTextExtracted), nil, http.StatusBadRequest, KindNoTextExtracted, StageOCR},
		{"rasterization", fmt.Errorf("wrap: %w", pipeline.ErrRasterizationFailed), nil, http.StatusInternalServerError, KindRasterizationFailed, StageRasterization},
		{"recognition", fmt.Errorf("wrap: %w", pipeline.ErrRecognitionFailed), nil, http.StatusInternalServerError, KindRecognitionFailed, StageOCR},
		{"unexpected", errors.New("boom"), nil, http.StatusInternalServerError, KindInternalError, StageInternal},
		{"fields call", nil, fields.NewFieldError("ExtractFields", fields.ErrExtractionFailed, "quota"), http.StatusInternalServerError, KindFieldExtractionFailed, StageFieldExtraction},
		{"fields answer", nil, fields.NewFieldError("Parse", fields.ErrInvalidResponse, ""), http.StatusInternalServerError, KindFieldExtractionFailed, StageFieldExtraction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := stubText{result: &pipeline.Result{Text: "HELLO", PageCount: 1}, err: tt.textErr}
			if tt.textErr != nil {
				text.result = nil
			}
			fx := &stubFields{meta: models.ExtractedMetadata{"Grade": "A"}, err: tt.fieldsErr}
			h := New(Options{}, Deps{Text: text, Fields: fx}).Handler()

			rec := postFile(t, h, "scan.png", "image/png", []byte("png"))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			resp := decodeError(t, rec)
			if resp.Error != string(tt.kind) || resp.Stage != tt.stage {
				t.Fatalf("error = %+v, want %s/%s", resp, tt.kind, tt.stage)
			}
			if resp.RequestID == "" {
				t.Fatal("error response has no request_id")
			}
			if strings.Contains(rec.Body.String(), `"metadata"`) {
				t.Fatal("failure response carries metadata")
			}
		})
	}
}

func TestExtractArchives(t *testing.T) {
	dir := t.TempDir()
	store, err := archive.NewLocalStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, store)

	body, ct := multipartBody(t, "file", "hello.jpg", "image/jpeg", jpegBytes(t))
	req := httptest.NewRequest(http.MethodPost, "/extract", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set(requestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get(requestIDHeader); got != "req-42" {
		t.Fatalf("X-Request-ID = %q, want req-42", got)
	}
	var resp models.ExtractResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(resp.JSONFile, "metadata_hello_req-42.json") {
		t.Fatalf("json_file = %q", resp.JSONFile)
	}
	if _, err := os.Stat(resp.JSONFile); err != nil {
		t.Fatalf("archived file missing: %v", err)
	}
}

func TestExtractArchiveFailureStillSucceeds(t *testing.T) {
	f := newFixture(t, failingArchive{})
	rec := postFile(t, f.handler, "hello.jpg", "image/jpeg", jpegBytes(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		deps   Deps
		status string
	}{
		{"healthy", Deps{Text: stubText{}, Fields: &stubFields{}}, "healthy"},
		{"no recognizer", Deps{Fields: &stubFields{}}, "degraded"},
		{"no extractor", Deps{Text: stubText{}}, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			New(Options{}, tt.deps).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			var body struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.Status != tt.status {
				t.Fatalf("health = %q, want %q", body.Status, tt.status)
			}
		})
	}
}

func TestExtractWithoutRecognizer(t *testing.T) {
	h := New(Options{}, Deps{Fields: &stubFields{}}).Handler()
	rec := postFile(t, h, "hello.jpg", "image/jpeg", []byte("jpeg"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error != string(KindInternalError) {
		t.Fatalf("error = %+v", resp)
	}

	// validation still runs first
	rec = postFile(t, h, "notes.txt", "text/plain", []byte("x"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRoot(t *testing.T) {
	h := New(Options{Version: "1.2.3", OCREngine: "tesseract"}, Deps{}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{`"version":"1.2.3"`, `"/extract"`, `"ocr_engine":"tesseract"`} {
		if !bytes.Contains(body, []byte(want)) {
			t.Errorf("root body missing %s: %s", want, body)
		}
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET /missing status = %d, want 404", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	h := New(Options{AllowedOrigins: []string{"https://app.example.com"}}, Deps{}).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/extract", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("Allow-Origin for a foreign origin = %q", got)
	}
}

func TestRecoverFromPanic(t *testing.T) {
	h := New(Options{}, Deps{Text: panicText{}, Fields: &stubFields{}}).Handler()
	rec := postFile(t, h, "hello.jpg", "image/jpeg", []byte("jpeg"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error != string(KindInternalError) {
		t.Fatalf("error = %+v", resp)
	}
}

type panicText struct{}

func (panicText) Extract(context.Context, models.UploadedDocument) (*pipeline.Result, error) {
	panic("recognizer exploded")
}
