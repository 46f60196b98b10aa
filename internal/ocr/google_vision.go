package ocr

import (
	"context"
	"fmt"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/rs/zerolog"

	"certextract/internal/gcloud"
	"certextract/internal/logger"
	"certextract/pkg/models"
)

// VisionRecognizer implements TextRecognizer using Google Cloud Vision API.
// The gRPC client is safe for concurrent use.
type VisionRecognizer struct {
	client *vision.ImageAnnotatorClient
	log    zerolog.Logger
}

// NewVisionRecognizer creates a Vision client with credentials from environment.
func NewVisionRecognizer(ctx context.Context) (*VisionRecognizer, error) {
	const op = "NewVisionRecognizer"

	opts := gcloud.CredentialOptions()
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		if len(opts) == 0 {
			return nil, WrapOCRError(op, ErrMissingCredentials, err.Error())
		}
		return nil, WrapOCRError(op, err, "failed to create Vision client")
	}

	return NewVisionRecognizerWithClient(client), nil
}

// NewVisionRecognizerWithClient creates a recognizer with an explicit client (for testing).
func NewVisionRecognizerWithClient(client *vision.ImageAnnotatorClient) *VisionRecognizer {
	return &VisionRecognizer{
		client: client,
		log:    logger.WithComponent("vision"),
	}
}

func (v *VisionRecognizer) Name() string { return "vision" }

// Recognize runs DOCUMENT_TEXT_DETECTION on the page image.
func (v *VisionRecognizer) Recognize(ctx context.Context, page models.PageImage) (*models.RecognizedText, error) {
	const op = "Recognize"

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: page.Data},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
			},
		},
	}

	resp, err := v.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, NewOCRError(op, ErrRecognitionFailed, fmt.Sprintf("page %d: Vision API call failed: %v", page.Index+1, err))
	}
	if len(resp.Responses) == 0 {
		return nil, NewOCRError(op, ErrRecognitionFailed, "no response from Vision API")
	}

	imgResp := resp.Responses[0]
	if imgResp.Error != nil {
		return nil, NewOCRError(op, ErrRecognitionFailed, fmt.Sprintf("page %d: Vision API error: %s", page.Index+1, imgResp.Error.Message))
	}

	text, regions := visionText(imgResp.FullTextAnnotation)
	v.log.Debug().
		Int("page", page.Index+1).
		Int("text_length", len(text)).
		Int("blocks", len(regions)).
		Msg("Vision recognition complete")

	return models.NewRecognizedText(page.Index, text, averageConfidence(regions), regions), nil
}

// visionText returns the annotation text and one region per block.
func visionText(annotation *visionpb.TextAnnotation) (string, []models.TextRegion) {
	if annotation == nil {
		return "", nil
	}

	var regions []models.TextRegion
	for _, p := range annotation.Pages {
		for _, block := range p.Blocks {
			var words []string
			for _, para := range block.Paragraphs {
				for _, word := range para.Words {
					var sb strings.Builder
					for _, sym := range word.Symbols {
						sb.WriteString(sym.Text)
					}
					words = append(words, sb.String())
				}
			}
			regions = append(regions, models.TextRegion{
				Text:       strings.Join(words, " "),
				Confidence: block.Confidence,
			})
		}
	}
	return annotation.Text, regions
}

// Close closes the underlying Vision client.
func (v *VisionRecognizer) Close() error {
	if v.client != nil {
		return v.client.Close()
	}
	return nil
}
