package translate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/globalecho/internal/config"
)

// Request describes one text to translate.
type Request struct {
	SessionID  string
	Text       string
	SourceLang string
	TargetLang string
	TraceID    string
}

// Result is a completed translation.
type Result struct {
	Text    string
	Model   string
	Latency time.Duration
}

// Translator defines a pluggable translation backend.
type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}

// New builds the backend selected by cfg.Mode.
func New(cfg config.TranslateConfig, logger *slog.Logger) (Translator, error) {
	logger.Info("translate backend selected", slog.String("mode", cfg.Mode), slog.String("target_lang", cfg.TargetLang))
	switch cfg.Mode {
	case "", "mock":
		return NewMockTranslator(cfg.Template, time.Duration(cfg.DelayMS)*time.Millisecond), nil
	case "openai":
		return NewOpenAITranslator(cfg), nil
	case "ollama":
		return NewOllamaTranslator(cfg), nil
	case "exec":
		return NewExecTranslator(cfg.Command)
	default:
		return nil, fmt.Errorf("unknown translate mode %q", cfg.Mode)
	}
}

// WithDefaults fills unset languages from config.
func WithDefaults(cfg config.TranslateConfig, req Request) Request {
	if req.SourceLang == "" {
		req.SourceLang = cfg.SourceLang
	}
	if req.TargetLang == "" {
		req.TargetLang = cfg.TargetLang
	}
	return req
}

const defaultSystemPrompt = "You are a professional interpreter. Translate the user's %s speech transcript into natural %s. Reply with the translation only."

func systemPrompt(custom string, req Request) string {
	if strings.TrimSpace(custom) != "" {
		return custom
	}
	source := req.SourceLang
	if source == "" {
		source = "source-language"
	}
	return fmt.Sprintf(defaultSystemPrompt, source, req.TargetLang)
}
