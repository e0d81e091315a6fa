package translate

import (
	"context"
	"fmt"
	"time"
)

type mockTranslator struct {
	template string
	delay    time.Duration
}

// NewMockTranslator echoes the text through template after delay.
func NewMockTranslator(template string, delay time.Duration) Translator {
	if template == "" {
		template = "[模拟翻译]：%s"
	}
	return &mockTranslator{template: template, delay: delay}
}

func (m *mockTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(m.delay):
		}
	}
	return Result{
		Text:    fmt.Sprintf(m.template, req.Text),
		Model:   "mock",
		Latency: m.delay,
	}, nil
}
