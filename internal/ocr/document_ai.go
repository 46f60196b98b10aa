package ocr

import (
	"context"
	"fmt"
	"mime"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"certextract/internal/gcloud"
	"certextract/internal/logger"
	"certextract/pkg/models"
)

// DocumentAIConfig identifies the Document AI OCR processor to call.
type DocumentAIConfig struct {
	ProjectID   string
	Location    string // "us" or "eu"
	ProcessorID string
	Timeout     time.Duration
}

// DocumentAIRecognizer implements TextRecognizer with a Document AI OCR processor.
type DocumentAIRecognizer struct {
	client *documentai.DocumentProcessorClient
	config DocumentAIConfig
	log    zerolog.Logger
}

// NewDocumentAIRecognizer creates a processor client for the configured region.
func NewDocumentAIRecognizer(ctx context.Context, config DocumentAIConfig) (*DocumentAIRecognizer, error) {
	const op = "NewDocumentAIRecognizer"

	if config.ProjectID == "" {
		return nil, NewOCRError(op, ErrInvalidConfiguration, "GOOGLE_CLOUD_PROJECT is required")
	}
	if config.ProcessorID == "" {
		return nil, NewOCRError(op, ErrInvalidConfiguration, "DOCUMENT_AI_PROCESSOR_ID is required")
	}
	if config.Location == "" {
		config.Location = "us"
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	// Regional endpoint, e.g. eu-documentai.googleapis.com
	clientOptions := []option.ClientOption{
		option.WithEndpoint(fmt.Sprintf("%s-documentai.googleapis.com:443", config.Location)),
	}
	creds := gcloud.CredentialOptions()
	clientOptions = append(clientOptions, creds...)

	client, err := documentai.NewDocumentProcessorClient(ctx, clientOptions...)
	if err != nil {
		if len(creds) == 0 {
			return nil, WrapOCRError(op, ErrMissingCredentials, err.Error())
		}
		return nil, WrapOCRError(op, err, fmt.Sprintf("failed to create Document AI client for location: %s", config.Location))
	}

	return NewDocumentAIRecognizerWithClient(config, client), nil
}

// NewDocumentAIRecognizerWithClient creates a recognizer with explicit config and client (for testing).
func NewDocumentAIRecognizerWithClient(config DocumentAIConfig, client *documentai.DocumentProcessorClient) *DocumentAIRecognizer {
	return &DocumentAIRecognizer{
		client: client,
		config: config,
		log:    logger.WithComponent("document-ai"),
	}
}

func (d *DocumentAIRecognizer) Name() string { return "documentai" }

// Recognize sends the raw image to the processor and returns the document text.
func (d *DocumentAIRecognizer) Recognize(ctx context.Context, page models.PageImage) (*models.RecognizedText, error) {
	const op = "Recognize"

	processCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	req := &documentaipb.ProcessRequest{
		Name: d.processorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  page.Data,
				MimeType: imageMIMEType(page.Format),
			},
		},
	}

	start := time.Now()
	resp, err := d.client.ProcessDocument(processCtx, req)
	if err != nil {
		return nil, NewOCRError(op, ErrRecognitionFailed, fmt.Sprintf("page %d: Document AI call failed: %v", page.Index+1, err))
	}

	doc := resp.GetDocument()
	if doc == nil {
		return nil, NewOCRError(op, ErrRecognitionFailed, "no document in Document AI response")
	}

	var regions []models.TextRegion
	for _, p := range doc.GetPages() {
		for _, block := range p.GetBlocks() {
			regions = append(regions, models.TextRegion{
				Text:       layoutText(doc.GetText(), block.GetLayout()),
				Confidence: block.GetLayout().GetConfidence(),
			})
		}
	}

	d.log.Debug().
		Int("page", page.Index+1).
		Int("blocks", len(regions)).
		Dur("duration", time.Since(start)).
		Msg("Document AI recognition complete")

	return models.NewRecognizedText(page.Index, doc.GetText(), averageConfidence(regions), regions), nil
}

func (d *DocumentAIRecognizer) processorName() string {
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s", d.config.ProjectID, d.config.Location, d.config.ProcessorID)
}

// layoutText resolves a layout's text anchor against the document text.
func layoutText(text string, layout *documentaipb.Document_Page_Layout) string {
	var out string
	for _, seg := range layout.GetTextAnchor().GetTextSegments() {
		start, end := seg.GetStartIndex(), seg.GetEndIndex()
		if start < 0 || end > int64(len(text)) || start > end {
			continue
		}
		out += text[start:end]
	}
	return out
}

func imageMIMEType(format string) string {
	if format == "" {
		return "image/png"
	}
	if t := mime.TypeByExtension("." + format); t != "" {
		return t
	}
	return "image/" + format
}

// Close closes the underlying Document AI client.
func (d *DocumentAIRecognizer) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}
