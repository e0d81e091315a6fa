package translate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/globalecho/internal/config"
)

type ollamaTranslator struct {
	endpoint     string
	model        string
	systemPrompt string
	maxTokens    int
	temperature  float64
	client       *http.Client
}

func NewOllamaTranslator(cfg config.TranslateConfig) Translator {
	model := cfg.Model
	if model == "" || strings.HasPrefix(model, "gpt-") {
		model = "llama3.2:latest"
	}
	return &ollamaTranslator{
		endpoint:     strings.TrimRight(cfg.Endpoint, "/"),
		model:        model,
		systemPrompt: cfg.SystemPrompt,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		client:       &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond},
	}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaStreamResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func (g *ollamaTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	payload := ollamaRequest{
		Model:  g.model,
		Prompt: req.Text,
		System: systemPrompt(g.systemPrompt, req),
		Stream: true,
		Options: ollamaOptions{
			Temperature: g.temperature,
			NumPredict:  g.maxTokens,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("ollama returned status %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	var accumulated strings.Builder
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk ollamaStreamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return Result{}, err
		}
		if chunk.Error != "" {
			return Result{}, fmt.Errorf("ollama: %s", chunk.Error)
		}
		accumulated.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return Result{}, err
	}
	text := strings.TrimSpace(accumulated.String())
	if text == "" {
		return Result{}, fmt.Errorf("ollama returned empty translation")
	}
	return Result{Text: text, Model: g.model, Latency: time.Since(start)}, nil
}
