package translate

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/globalecho/internal/config"
	"github.com/sashabaranov/go-openai"
)

type openAITranslator struct {
	client       *openai.Client
	model        string
	systemPrompt string
	maxTokens    int
	temperature  float32
}

// NewOpenAITranslator calls a hosted chat completion model.
func NewOpenAITranslator(cfg config.TranslateConfig) Translator {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.TimeoutMS > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond}
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &openAITranslator{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        model,
		systemPrompt: cfg.SystemPrompt,
		maxTokens:    cfg.MaxTokens,
		temperature:  float32(cfg.Temperature),
	}
}

func (o *openAITranslator) Translate(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(o.systemPrompt, req)},
			{Role: openai.ChatMessageRoleUser, Content: req.Text},
		},
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	})
	if err != nil {
		return Result{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("openai returned no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return Result{}, fmt.Errorf("openai returned empty translation")
	}
	return Result{Text: text, Model: resp.Model, Latency: time.Since(start)}, nil
}
