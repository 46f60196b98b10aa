package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"certextract/internal/logger"
)

// Supported OCR engines.
const (
	EngineTesseract    = "tesseract"
	EngineTesseractCLI = "tesseract-cli"
	EngineVision       = "vision"
	EngineDocumentAI   = "documentai"
)

// Supported field extraction providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// DefaultMaxUploadBytes is the upload size limit (10MB).
const DefaultMaxUploadBytes = 10 * 1024 * 1024

type Config struct {
	// Server Configuration
	Host               string
	Port               int
	Debug              bool
	MaxUploadBytes     int64
	RequestTimeout     time.Duration
	CORSAllowedOrigins []string

	// OCR Configuration
	OCREngine      string
	TesseractPath  string
	TesseractLang  string
	TessdataPrefix string
	OCRPageSegMode int
	OCRPreprocess  bool
	OCRConcurrency int
	MinTextLength  int
	PdftoppmPath   string
	PDFDPI         int
	MaxPages       int
	TempDir        string

	// Google Cloud Configuration
	GoogleCloudProject    string
	GoogleCloudLocation   string
	DocumentAIProcessorID string
	VertexLocation        string

	// Field Extraction Configuration
	AIProvider    string
	GeminiModel   string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	AITimeout     time.Duration
	FieldsFile    string

	// Metadata Archive Configuration
	MetadataDir       string
	MetadataGCSBucket string
	MetadataSheetURL  string
	MetadataSheetName string

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	config := &Config{
		Host:                  getEnv("HOST", "0.0.0.0"),
		Port:                  getEnvInt("PORT", 8000),
		Debug:                 getEnvBool("DEBUG", false),
		MaxUploadBytes:        int64(getEnvInt("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes)),
		RequestTimeout:        getEnvDuration("REQUEST_TIMEOUT", 120*time.Second),
		CORSAllowedOrigins:    getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		OCREngine:             strings.ToLower(getEnv("OCR_ENGINE", EngineTesseract)),
		TesseractPath:         getEnv("TESSERACT_PATH", "tesseract"),
		TesseractLang:         getEnv("TESSERACT_LANG", "eng"),
		TessdataPrefix:        getEnv("TESSDATA_PREFIX", ""),
		OCRPageSegMode:        getEnvInt("OCR_PSM", 6),
		OCRPreprocess:         getEnvBool("OCR_PREPROCESS", true),
		OCRConcurrency:        getEnvInt("OCR_CONCURRENCY", 4),
		MinTextLength:         getEnvInt("MIN_TEXT_LENGTH", 0),
		PdftoppmPath:          getEnv("PDFTOPPM_PATH", "pdftoppm"),
		PDFDPI:                getEnvInt("PDF_DPI", 200),
		MaxPages:              getEnvInt("MAX_PAGES", 0),
		TempDir:               getEnv("TEMP_DIR", ""),
		GoogleCloudProject:    getEnv("GOOGLE_CLOUD_PROJECT", ""),
		GoogleCloudLocation:   getEnv("GOOGLE_CLOUD_LOCATION", "us"),
		DocumentAIProcessorID: getEnv("DOCUMENT_AI_PROCESSOR_ID", ""),
		VertexLocation:        getEnv("VERTEX_LOCATION", "us-central1"),
		AIProvider:            strings.ToLower(getEnv("AI_PROVIDER", ProviderGemini)),
		GeminiModel:           getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:           getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:         getEnv("OPENAI_BASE_URL", ""),
		AITimeout:             getEnvDuration("AI_TIMEOUT", 60*time.Second),
		FieldsFile:            getEnv("FIELDS_FILE", ""),
		MetadataDir:           getEnv("METADATA_DIR", ""),
		MetadataGCSBucket:     getEnv("METADATA_GCS_BUCKET", ""),
		MetadataSheetURL:      getEnv("METADATA_SHEET_URL", ""),
		MetadataSheetName:     getEnv("METADATA_SHEET_NAME", "Certificates"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:         getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:             getEnv("LOG_OUTPUT", "stdout"),
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.OCRConcurrency <= 0 {
		return fmt.Errorf("OCR_CONCURRENCY must be positive")
	}
	if c.PDFDPI <= 0 {
		return fmt.Errorf("PDF_DPI must be positive")
	}

	switch c.OCREngine {
	case EngineTesseract, EngineTesseractCLI, EngineVision, EngineDocumentAI:
	default:
		return fmt.Errorf("unknown OCR_ENGINE %q", c.OCREngine)
	}

	switch c.AIProvider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown AI_PROVIDER %q", c.AIProvider)
	}

	// Credentials are checked when the engine or provider is constructed,
	// so commands that need neither still start.
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	level := c.LogLevel
	if c.Debug {
		level = "debug"
	}
	return logger.LogConfig{
		Level:      level,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
