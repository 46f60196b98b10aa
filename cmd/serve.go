package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"certextract/internal/config"
	"certextract/internal/logger"
	"certextract/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the certificate extraction HTTP service",
	Long: `Start the HTTP service that accepts certificate uploads.

Endpoints:
  GET  /         service information
  GET  /health   health and collaborator availability
  POST /extract  multipart upload (field "file"), returns extracted metadata

The OCR engine is initialized once before the listener starts. When it cannot
be initialized the service still starts, reports itself degraded on /health
and answers /extract with an internal error.

Configuration is read from the environment (and a .env file), see
OCR_ENGINE, AI_PROVIDER, MAX_UPLOAD_BYTES and friends.`,
	Example: `  # Serve on the default 0.0.0.0:8000
  certextract serve

  # Custom port with debug logging
  certextract serve --port 9000 --debug`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Listen host (overrides HOST)")
	serveCmd.Flags().Int("port", 0, "Listen port (overrides PORT)")
	serveCmd.Flags().Bool("debug", false, "Enable debug logging (overrides DEBUG)")
	serveCmd.Flags().Duration("shutdown-timeout", 30*time.Second, "Time allowed for in-flight requests on shutdown")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Port = port
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Debug = true
		if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
			return fmt.Errorf("failed to reconfigure logger: %w", err)
		}
	}
	shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")

	log := logger.WithComponent("serve")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := server.Deps{}

	rasterizer := buildRasterizer(cfg)
	if err := rasterizer.Check(ctx); err != nil {
		log.Warn().Err(err).Msg("pdftoppm is not usable, PDF uploads will fail")
	}

	recognizer, err := buildRecognizer(ctx, cfg)
	if err != nil {
		log.Error().
			Err(credentialHint(err)).
			Str("engine", cfg.OCREngine).
			Msg("Text recognizer failed to initialize, serving degraded")
	} else {
		defer recognizer.Close()
		deps.Text = buildPipeline(cfg, rasterizer, recognizer)
	}

	catalog, err := buildCatalog(cfg)
	if err != nil {
		return err
	}

	aiProvider := cfg.AIProvider
	extractor, err := buildExtractor(ctx, cfg, catalog)
	if err != nil {
		log.Error().
			Err(credentialHint(err)).
			Str("provider", cfg.AIProvider).
			Msg("Field extractor failed to initialize, serving degraded")
	} else {
		defer extractor.Close()
		deps.Fields = extractor
		aiProvider = extractor.Name()
	}

	archives := buildArchive(ctx, cfg, catalog, log)
	defer archives.Close()
	deps.Archive = archives.store

	srv := server.New(server.Options{
		Addr:           cfg.Addr(),
		Version:        version,
		MaxUploadBytes: cfg.MaxUploadBytes,
		RequestTimeout: cfg.RequestTimeout,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		OCREngine:      cfg.OCREngine,
		AIProvider:     aiProvider,
	}, deps)

	if err := srv.Run(ctx, shutdownTimeout); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info().Msg("Server stopped")
	return nil
}
