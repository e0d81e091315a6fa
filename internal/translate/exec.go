package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
)

type execTranslator struct {
	cmd []string
	mu  sync.Mutex
}

type execResponse struct {
	Translation string `json:"translation"`
	Error       string `json:"error,omitempty"`
}

func NewExecTranslator(command string) (Translator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse translate command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("translate command empty")
	}
	return &execTranslator{cmd: args}, nil
}

func (g *execTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	payload := map[string]any{
		"text":        req.Text,
		"source_lang": req.SourceLang,
		"target_lang": req.TargetLang,
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, g.cmd[0], g.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return Result{}, fmt.Errorf("translate exec command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return Result{}, fmt.Errorf("decode translate exec response: %w", err)
	}
	if resp.Error != "" {
		return Result{}, fmt.Errorf("translate exec: %s", resp.Error)
	}
	return Result{Text: resp.Translation, Model: g.cmd[0], Latency: time.Since(start)}, nil
}
