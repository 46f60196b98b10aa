package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "HOST", "OCR_ENGINE", "AI_PROVIDER", "MAX_UPLOAD_BYTES", "CORS_ALLOWED_ORIGINS", "DEBUG"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr() != "0.0.0.0:8000" {
		t.Fatalf("Addr = %q", cfg.Addr())
	}
	if cfg.MaxUploadBytes != 10*1024*1024 {
		t.Fatalf("MaxUploadBytes = %d", cfg.MaxUploadBytes)
	}
	if cfg.OCREngine != EngineTesseract || cfg.AIProvider != ProviderGemini {
		t.Fatalf("engine/provider = %s/%s", cfg.OCREngine, cfg.AIProvider)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
		t.Fatalf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("OCR_ENGINE", "Vision")
	t.Setenv("AI_PROVIDER", "openai")
	t.Setenv("REQUEST_TIMEOUT", "45")
	t.Setenv("AI_TIMEOUT", "2m")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("DEBUG", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9090 || cfg.OCREngine != EngineVision || cfg.AIProvider != ProviderOpenAI {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.RequestTimeout != 45*time.Second || cfg.AITimeout != 2*time.Minute {
		t.Fatalf("timeouts = %v/%v", cfg.RequestTimeout, cfg.AITimeout)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
	if got := cfg.GetLoggerConfig().Level; got != "debug" {
		t.Fatalf("logger level with DEBUG=true = %q", got)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown engine", "OCR_ENGINE", "abbyy"},
		{"unknown provider", "AI_PROVIDER", "llama"},
		{"port out of range", "PORT", "70000"},
		{"zero concurrency", "OCR_CONCURRENCY", "0"},
		{"negative upload size", "MAX_UPLOAD_BYTES", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected validation error for %s=%s", tt.key, tt.val)
			}
		})
	}
}
