package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"certextract/internal/archive"
	"certextract/internal/config"
	"certextract/internal/fields"
	"certextract/internal/ocr"
	"certextract/internal/pipeline"
	"certextract/internal/rasterize"
	"certextract/internal/runner"
)

// buildRecognizer creates the OCR engine named by OCR_ENGINE.
func buildRecognizer(ctx context.Context, cfg *config.Config) (ocr.TextRecognizer, error) {
	var (
		rec ocr.TextRecognizer
		err error
	)

	switch cfg.OCREngine {
	case config.EngineTesseract:
		rec, err = newLibTesseract(cfg)
	case config.EngineTesseractCLI:
		rec, err = ocr.NewTesseractCLI(ctx, ocr.CLIConfig{
			Path:        cfg.TesseractPath,
			Lang:        cfg.TesseractLang,
			TessdataDir: cfg.TessdataPrefix,
			PSM:         cfg.OCRPageSegMode,
			TempDir:     cfg.TempDir,
		}, runner.NewExec())
	case config.EngineVision:
		rec, err = ocr.NewVisionRecognizer(ctx)
	case config.EngineDocumentAI:
		rec, err = ocr.NewDocumentAIRecognizer(ctx, ocr.DocumentAIConfig{
			ProjectID:   cfg.GoogleCloudProject,
			Location:    cfg.GoogleCloudLocation,
			ProcessorID: cfg.DocumentAIProcessorID,
			Timeout:     cfg.RequestTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown OCR engine %q", cfg.OCREngine)
	}
	if err != nil {
		return nil, err
	}

	// cloud engines do their own image cleanup
	if cfg.OCRPreprocess && (cfg.OCREngine == config.EngineTesseract || cfg.OCREngine == config.EngineTesseractCLI) {
		rec = ocr.WithPreprocessing(rec, ocr.DefaultPreprocessOptions())
	}
	return rec, nil
}

func buildRasterizer(cfg *config.Config) *rasterize.Pdftoppm {
	return rasterize.NewPdftoppm(rasterize.Config{
		PdftoppmPath: cfg.PdftoppmPath,
		DPI:          cfg.PDFDPI,
		MaxPages:     cfg.MaxPages,
		TempDir:      cfg.TempDir,
	}, runner.NewExec())
}

func buildPipeline(cfg *config.Config, rasterizer rasterize.PageRasterizer, rec ocr.TextRecognizer) *pipeline.Pipeline {
	return pipeline.New(rasterizer, rec, pipeline.Config{
		Concurrency:   cfg.OCRConcurrency,
		MinTextLength: cfg.MinTextLength,
	})
}

func buildCatalog(cfg *config.Config) (*fields.Catalog, error) {
	if cfg.FieldsFile == "" {
		return fields.DefaultCatalog(), nil
	}
	return fields.LoadCatalog(cfg.FieldsFile)
}

func buildExtractor(ctx context.Context, cfg *config.Config, catalog *fields.Catalog) (*fields.Service, error) {
	return fields.New(ctx, fields.Config{
		Provider:    cfg.AIProvider,
		Timeout:     cfg.AITimeout,
		Catalog:     catalog,
		ProjectID:   cfg.GoogleCloudProject,
		Location:    cfg.VertexLocation,
		GeminiModel: cfg.GeminiModel,
		APIKey:      cfg.OpenAIAPIKey,
		OpenAIModel: cfg.OpenAIModel,
		BaseURL:     cfg.OpenAIBaseURL,
	})
}

// archiveSet is the configured metadata archive plus the clients to close.
type archiveSet struct {
	store archive.Store
	gcs   *archive.GCSStore
}

func (a *archiveSet) Close() error {
	if a.gcs != nil {
		return a.gcs.Close()
	}
	return nil
}

// buildArchive opens every configured store. A store that cannot be opened
// is logged and left out.
func buildArchive(ctx context.Context, cfg *config.Config, catalog *fields.Catalog, log zerolog.Logger) *archiveSet {
	set := &archiveSet{}
	var stores archive.Multi

	if cfg.MetadataDir != "" {
		if s, err := archive.NewLocalStore(cfg.MetadataDir); err != nil {
			log.Error().Err(err).Str("dir", cfg.MetadataDir).Msg("Local metadata archive disabled")
		} else {
			stores = append(stores, s)
		}
	}
	if cfg.MetadataGCSBucket != "" {
		if s, err := archive.NewGCSStore(ctx, cfg.MetadataGCSBucket); err != nil {
			log.Error().Err(err).Str("bucket", cfg.MetadataGCSBucket).Msg("GCS metadata archive disabled")
		} else {
			set.gcs = s
			stores = append(stores, s)
		}
	}
	if cfg.MetadataSheetURL != "" {
		if s, err := archive.NewSheetsStore(ctx, cfg.MetadataSheetURL, cfg.MetadataSheetName, catalog.Names()); err != nil {
			log.Error().Err(err).Msg("Google Sheets metadata archive disabled")
		} else {
			stores = append(stores, s)
		}
	}

	switch len(stores) {
	case 0:
	case 1:
		set.store = stores[0]
	default:
		set.store = stores
	}
	return set
}

// credentialHint adds setup instructions to credential errors from the
// Google and OpenAI clients.
func credentialHint(err error) error {
	if errors.Is(err, ocr.ErrMissingCredentials) || errors.Is(err, fields.ErrMissingCredentials) {
		return fmt.Errorf("%w\n\nConfigure credentials with one of:\n"+
			"  export GOOGLE_APPLICATION_CREDENTIALS=/path/to/service-account-key.json\n"+
			"  export GOOGLE_CREDENTIALS='{\"type\":\"service_account\",...}'\n"+
			"  gcloud auth application-default login\n"+
			"and GOOGLE_CLOUD_PROJECT for Vertex AI or Document AI, or OPENAI_API_KEY with AI_PROVIDER=openai", err)
	}
	return err
}
