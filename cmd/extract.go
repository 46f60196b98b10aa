package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"certextract/internal/config"
	"certextract/internal/document"
	"certextract/internal/fields"
	"certextract/internal/logger"
	"certextract/internal/pipeline"
	"certextract/pkg/models"
)

var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Extract certificate metadata from a local file",
	Long: `Run the full extraction on one local certificate image or PDF without
starting the HTTP service: OCR, text normalization and AI field extraction.

Supported files: .pdf .jpg .jpeg .png .tiff .bmp

The OCR engine and AI provider are selected with OCR_ENGINE and AI_PROVIDER.
With --text-only the AI provider is not contacted and the normalized OCR text
is printed instead.`,
	Example: `  # Print the extracted metadata as JSON
  certextract extract diploma.pdf

  # Only run OCR
  certextract extract scan.png --text-only

  # Save the result with a longer timeout
  certextract extract diploma.pdf -o diploma.json --timeout 5m`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	extractCmd.Flags().Bool("text-only", false, "Print the recognized text and skip field extraction")
	extractCmd.Flags().Duration("timeout", 5*time.Minute, "Processing timeout")
}

func runExtract(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("extract")

	outputPath, _ := cmd.Flags().GetString("output")
	textOnly, _ := cmd.Flags().GetBool("text-only")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	path := args[0]
	doc, err := readDocument(path, cfg.MaxUploadBytes, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// attach a request id so archived records and log lines match the service
	requestID := uuid.NewString()
	ctx = logger.WithRequestID(requestID).WithContext(ctx)

	recognizer, err := buildRecognizer(ctx, cfg)
	if err != nil {
		return credentialHint(fmt.Errorf("failed to create %s text recognizer: %w", cfg.OCREngine, err))
	}
	defer recognizer.Close()

	log.Info().
		Str("file", path).
		Int64("size", doc.Size()).
		Str("engine", recognizer.Name()).
		Msg("Processing document")

	result, err := buildPipeline(cfg, buildRasterizer(cfg), recognizer).Extract(ctx, doc)
	if err != nil {
		return handleExtractError(err, log)
	}

	if textOnly {
		return writeOutput([]byte(result.Text+"\n"), outputPath, log)
	}

	catalog, err := buildCatalog(cfg)
	if err != nil {
		return err
	}
	extractor, err := buildExtractor(ctx, cfg, catalog)
	if err != nil {
		return credentialHint(fmt.Errorf("failed to create %s field extractor: %w", cfg.AIProvider, err))
	}
	defer extractor.Close()

	metadata, err := extractor.ExtractFields(ctx, result.Text)
	if err != nil {
		return handleExtractError(err, log)
	}

	resp := models.ExtractResponse{
		Status:              "success",
		Filename:            doc.Filename,
		ExtractedTextLength: result.TextLength(),
		Metadata:            metadata,
	}

	archives := buildArchive(ctx, cfg, catalog, log)
	defer archives.Close()
	if archives.store != nil {
		location, err := archives.store.Save(ctx, models.MetadataRecord{
			Filename:            doc.Filename,
			RequestID:           requestID,
			ExtractedAt:         time.Now().UTC(),
			OCREngine:           recognizer.Name(),
			AIProvider:          extractor.Name(),
			PageCount:           result.PageCount,
			ExtractedTextLength: resp.ExtractedTextLength,
			Metadata:            metadata,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to archive metadata")
		}
		resp.JSONFile = location
	}

	log.Info().
		Int("pages", result.PageCount).
		Int("text_length", resp.ExtractedTextLength).
		Int("fields", len(metadata)).
		Dur("ocr_duration", result.Duration).
		Msg("Extraction completed")

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to create JSON output: %w", err)
	}
	return writeOutput(append(out, '\n'), outputPath, log)
}

// readDocument applies the same checks as the HTTP service to a local file.
func readDocument(path string, maxBytes int64, log zerolog.Logger) (models.UploadedDocument, error) {
	var doc models.UploadedDocument

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, fmt.Errorf("file not found: %s", path)
		}
		if os.IsPermission(err) {
			return doc, fmt.Errorf("permission denied accessing file: %s", path)
		}
		return doc, fmt.Errorf("error accessing file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return doc, fmt.Errorf("path is not a regular file: %s", path)
	}
	if info.Size() == 0 {
		return doc, fmt.Errorf("file is empty: %s", path)
	}
	if info.Size() > maxBytes {
		log.Error().
			Str("file", path).
			Int64("size", info.Size()).
			Int64("max_size", maxBytes).
			Msg("File exceeds maximum size limit")
		return doc, fmt.Errorf("file too large (%d bytes), maximum size is %d bytes", info.Size(), maxBytes)
	}

	name := filepath.Base(path)
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if document.Detect(name, contentType) == document.FormatUnsupported {
		return doc, fmt.Errorf("unsupported file type %q, allowed extensions: %s",
			filepath.Ext(name), strings.Join(document.AllowedExtensions, ", "))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("failed to read file: %w", err)
	}

	return models.UploadedDocument{Filename: name, ContentType: contentType, Data: data}, nil
}

// handleExtractError provides user-friendly error messages for extraction failures
func handleExtractError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("Extraction failed")

	errStr := err.Error()

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("extraction timed out. Try increasing --timeout or processing a smaller file")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("extraction was canceled")
	case errors.Is(err, pipeline.ErrUnsupportedFormat):
		return fmt.Errorf("unsupported file format: %w", err)
	case errors.Is(err, pipeline.ErrNoTextExtracted):
		return fmt.Errorf("no text could be extracted from the file. Please ensure the image is clear and readable")
	case errors.Is(err, pipeline.ErrRasterizationFailed):
		return fmt.Errorf("could not render the PDF. Check that pdftoppm (poppler-utils) is installed and the file is a valid PDF: %w", err)
	case strings.Contains(errStr, "Unauthenticated") ||
		strings.Contains(errStr, "invalid_grant") ||
		strings.Contains(errStr, "transport: per-RPC creds failed"):
		return fmt.Errorf("Google Cloud authentication failed. Please check your credentials: %w", err)
	case strings.Contains(errStr, "PERMISSION_DENIED"):
		return fmt.Errorf("permission denied. Please ensure your service account may call the configured OCR and AI APIs: %w", err)
	case strings.Contains(errStr, "QUOTA_EXCEEDED") || strings.Contains(errStr, "429"):
		return fmt.Errorf("provider quota exceeded. Try again later or check your project quotas: %w", err)
	case errors.Is(err, pipeline.ErrRecognitionFailed):
		return fmt.Errorf("OCR failed: %w", err)
	case errors.Is(err, fields.ErrInvalidResponse):
		return fmt.Errorf("the AI provider returned no usable fields: %w", err)
	case errors.Is(err, fields.ErrExtractionFailed):
		return fmt.Errorf("field extraction failed. This may be due to network issues, quota limits or service unavailability: %w", err)
	default:
		return fmt.Errorf("extraction failed: %w", err)
	}
}

func writeOutput(data []byte, outputPath string, log zerolog.Logger) error {
	if outputPath == "" {
		if _, err := os.Stdout.Write(data); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		return nil
	}

	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		log.Error().
			Err(err).
			Str("output_file", outputPath).
			Msg("Failed to write output file")
		return fmt.Errorf("failed to write output file: %w", err)
	}

	log.Info().
		Str("output_file", outputPath).
		Int("bytes", len(data)).
		Msg("Results written to file")
	return nil
}
