package capture

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu      sync.Mutex
	results []ResultEvent
	errors  []string
	ends    int
	ended   chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ended: make(chan struct{}, 1)}
}

func (r *recordingSink) OnResult(evt ResultEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, evt)
}

func (r *recordingSink) OnError(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, code)
}

func (r *recordingSink) OnEnd() {
	r.mu.Lock()
	r.ends++
	r.mu.Unlock()
	select {
	case r.ended <- struct{}{}:
	default:
	}
}

func TestMessageKnownCodes(t *testing.T) {
	cases := map[string]string{
		"not-allowed":         "Microphone permission denied. Please allow microphone access in your browser settings.",
		"no-speech":           "No speech detected. Please try again.",
		"audio-capture":       "No microphone was found. Ensure that a microphone is installed and that microphone settings are configured correctly.",
		"network":             "Network communication required for completing the recognition failed.",
		"aborted":             "Speech recognition was aborted. Please try again.",
		"service-not-allowed": "Speech recognition service is not allowed. Please ensure you are online and have permission.",
	}
	for code, want := range cases {
		if got := Message(code); got != want {
			t.Errorf("Message(%q) = %q, want %q", code, got, want)
		}
	}
}

func TestMessageUnknownCodeIncludesRawCode(t *testing.T) {
	got := Message("bad-grammar")
	if got != "Speech recognition error: bad-grammar" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestFinalizedSkipsInterimAndEarlierResults(t *testing.T) {
	evt := ResultEvent{
		ResultIndex: 1,
		Results: []Result{
			{Text: "old", Final: true},
			{Text: "你好", Final: true},
			{Text: "世", Final: false},
			{Text: "世界", Final: true},
		},
	}
	if got := evt.Finalized(); got != "你好世界" {
		t.Fatalf("expected 你好世界, got %q", got)
	}
}

func TestUnavailableCapability(t *testing.T) {
	if _, err := Unavailable().Open(Options{}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if _, err := Available(nil).Open(Options{}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported for nil factory, got %v", err)
	}
}

func TestScriptedSourceStopsDelivery(t *testing.T) {
	steps := []Step{
		{Result: &ResultEvent{Results: []Result{{Text: "a", Final: true}}}},
		{Result: &ResultEvent{Results: []Result{{Text: "b", Final: true}}}},
	}
	src := NewScriptedSource(Options{Language: "zh-CN"}, steps)
	sink := newRecordingSink()
	if err := src.Start(sink); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !src.Next() {
		t.Fatal("expected first step delivered")
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	src.Play()
	if len(sink.results) != 1 {
		t.Fatalf("expected 1 result after stop, got %d", len(sink.results))
	}
	if src.Stops() != 2 {
		t.Fatalf("expected 2 stops recorded, got %d", src.Stops())
	}
}

func TestLoadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	data := []byte(`language: zh-CN
steps:
  - result:
      result_index: 0
      results:
        - text: 你好
          final: true
  - error: no-speech
  - end: true
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	script, err := LoadScript(path)
	if err != nil {
		t.Fatalf("load script: %v", err)
	}
	if len(script.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(script.Steps))
	}
	if script.Steps[0].Result.Finalized() != "你好" {
		t.Fatalf("unexpected first step %+v", script.Steps[0])
	}
	if script.Steps[1].Error != "no-speech" || !script.Steps[2].End {
		t.Fatalf("unexpected steps %+v", script.Steps)
	}
}

func TestLoadScriptRejectsAmbiguousStep(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("steps:\n  - error: network\n    end: true\n"), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	if _, err := LoadScript(path); err == nil {
		t.Fatal("expected error for ambiguous step")
	}
}

func TestExecCapabilityDeliversEvents(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	script := filepath.Join(t.TempDir(), "recognizer.sh")
	body := "#!/bin/sh\n" +
		`echo '{"type":"result","result_index":0,"results":[{"text":"你好","final":true}]}'` + "\n" +
		`echo '{"type":"error","error":"network"}'` + "\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write recognizer: %v", err)
	}
	capability, err := ExecCapability("sh "+script, logger)
	if err != nil {
		t.Fatalf("exec capability: %v", err)
	}
	src, err := capability.Open(Options{Language: "zh-CN"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sink := newRecordingSink()
	if err := src.Start(sink); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-sink.ended:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for end")
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.results) != 1 || sink.results[0].Finalized() != "你好" {
		t.Fatalf("unexpected results %+v", sink.results)
	}
	if len(sink.errors) != 1 || sink.errors[0] != "network" {
		t.Fatalf("unexpected errors %+v", sink.errors)
	}
}

func TestExecCapabilityRejectsEmptyCommand(t *testing.T) {
	if _, err := ExecCapability("   ", slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("expected error for empty command")
	}
}
