// Package fields extracts structured certificate metadata from recognized
// text by prompting a generative AI provider.
//
// The prompt and the JSON schema for the answer are both derived from a
// Catalog, so adding a field is a catalog change only:
//
//	catalog, _ := fields.LoadCatalog("fields.yaml")
//	ext, err := fields.New(ctx, fields.Config{Provider: "openai", APIKey: key, Catalog: catalog})
//	meta, err := ext.ExtractFields(ctx, text)
package fields

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"certextract/internal/logger"
	"certextract/pkg/models"
)

// Providers understood by New.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Extractor maps recognized text to metadata fields.
type Extractor interface {
	// ExtractFields asks the provider for the catalog fields found in text.
	ExtractFields(ctx context.Context, text string) (models.ExtractedMetadata, error)

	// Name identifies the provider and model.
	Name() string

	// Close releases the provider client.
	Close() error
}

// Completer sends one system and user message pair to a model and returns
// the raw answer.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
	Name() string
	Close() error
}

// Config selects and configures a provider.
type Config struct {
	Provider string
	Timeout  time.Duration
	Catalog  *Catalog

	// Gemini on Vertex AI
	ProjectID   string
	Location    string
	GeminiModel string

	// OpenAI or a compatible endpoint
	APIKey      string
	OpenAIModel string
	BaseURL     string
}

// Service implements Extractor on top of any Completer.
type Service struct {
	completer Completer
	catalog   *Catalog
	parser    *Parser
	timeout   time.Duration
	log       zerolog.Logger
}

// New builds the provider named in cfg.
func New(ctx context.Context, cfg Config) (*Service, error) {
	const op = "New"

	var (
		completer Completer
		err       error
	)
	switch strings.ToLower(cfg.Provider) {
	case ProviderGemini, "":
		completer, err = NewGeminiCompleter(ctx, cfg.ProjectID, cfg.Location, cfg.GeminiModel)
	case ProviderOpenAI:
		completer, err = NewOpenAICompleter(cfg.APIKey, cfg.OpenAIModel, cfg.BaseURL)
	default:
		return nil, NewFieldError(op, errors.New("unknown provider"), cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	svc, err := NewServiceWithCompleter(completer, cfg.Catalog, cfg.Timeout)
	if err != nil {
		_ = completer.Close()
		return nil, err
	}
	return svc, nil
}

// NewServiceWithCompleter creates a service with an explicit completer. A nil
// catalog selects the default one.
func NewServiceWithCompleter(completer Completer, catalog *Catalog, timeout time.Duration) (*Service, error) {
	const op = "NewServiceWithCompleter"

	if catalog == nil {
		catalog = DefaultCatalog()
	}
	parser, err := NewParser(catalog)
	if err != nil {
		return nil, NewFieldError(op, ErrInvalidCatalog, err.Error())
	}

	return &Service{
		completer: completer,
		catalog:   catalog,
		parser:    parser,
		timeout:   timeout,
		log:       logger.WithComponent("fields").With().Str("provider", completer.Name()).Logger(),
	}, nil
}

// ExtractFields implements Extractor.
func (s *Service) ExtractFields(ctx context.Context, text string) (models.ExtractedMetadata, error) {
	const op = "ExtractFields"

	if strings.TrimSpace(text) == "" {
		return nil, NewFieldError(op, ErrExtractionFailed, "no text to extract from")
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := s.completer.Complete(ctx, s.catalog.SystemPrompt(), s.catalog.Prompt(text))
	if err != nil {
		return nil, NewFieldError(op, ErrExtractionFailed, err.Error())
	}

	meta, err := s.parser.Parse(raw)
	if err != nil {
		s.log.Warn().
			Err(err).
			Str("response_preview", preview(raw, 200)).
			Msg("Unusable provider response")
		return nil, err
	}

	logger.WithContext(ctx).Debug().
		Str("provider", s.completer.Name()).
		Int("fields", len(meta)).
		Dur("duration", time.Since(start)).
		Msg("Fields extracted")

	return meta, nil
}

// Name implements Extractor.
func (s *Service) Name() string {
	return s.completer.Name()
}

// Close implements Extractor.
func (s *Service) Close() error {
	return s.completer.Close()
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return fmt.Sprintf("%s... (%d more)", string(r[:n]), len(r)-n)
}
