package controller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/globalecho/internal/capture"
	"github.com/loqalabs/globalecho/internal/gateway"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeTranslator struct {
	mu    sync.Mutex
	calls []string
	reply string
	err   error
}

func (f *fakeTranslator) Translate(_ context.Context, _ string, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, text)
	if f.err != nil {
		return "", f.err
	}
	if f.reply != "" {
		return f.reply, nil
	}
	return "[" + text + "]", nil
}

func (f *fakeTranslator) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func final(index int, texts ...string) capture.Step {
	evt := &capture.ResultEvent{ResultIndex: index}
	for _, t := range texts {
		evt.Results = append(evt.Results, capture.Result{Text: t, Final: true})
	}
	return capture.Step{Result: evt}
}

func interim(text string) capture.Step {
	return capture.Step{Result: &capture.ResultEvent{Results: []capture.Result{{Text: text}}}}
}

func opts() capture.Options {
	return capture.Options{Language: "zh-CN", Continuous: true, Interim: true}
}

func TestFinalSegmentsConcatenateInOrder(t *testing.T) {
	capability := capture.NewScriptedCapability([]capture.Step{
		final(0, "你好"),
		interim("世"),
		final(0, "世界"),
		{Result: &capture.ResultEvent{ResultIndex: 1, Results: []capture.Result{
			{Text: "skipped", Final: true},
			{Text: "。", Final: true},
			{Text: "pending"},
		}}},
	})
	tr := &fakeTranslator{}
	c := New(capability, opts(), tr, newLogger())

	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	capability.Last().Play()

	if got := c.Snapshot().Transcript; got != "你好世界。" {
		t.Fatalf("unexpected transcript %q", got)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	calls := tr.Calls()
	if len(calls) != 1 || calls[0] != "你好世界。" {
		t.Fatalf("unexpected translate calls %v", calls)
	}
	snap := c.Snapshot()
	if snap.Translation != "[你好世界。]" || snap.State != Idle || snap.Translating {
		t.Fatalf("unexpected session %+v", snap)
	}
}

func TestRandomSequencesKeepFinalOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		var steps []capture.Step
		var want strings.Builder
		n := rng.Intn(10)
		for j := 0; j < n; j++ {
			text := string(rune('a' + rng.Intn(26)))
			if rng.Intn(2) == 0 {
				steps = append(steps, interim(text))
				continue
			}
			steps = append(steps, final(0, text))
			want.WriteString(text)
		}
		capability := capture.NewScriptedCapability(steps)
		c := New(capability, opts(), &fakeTranslator{}, newLogger())
		if err := c.Start(); err != nil {
			t.Fatalf("start: %v", err)
		}
		capability.Last().Play()
		if got := c.Snapshot().Transcript; got != want.String() {
			t.Fatalf("run %d: transcript %q, want %q", i, got, want.String())
		}
	}
}

func TestEmptyTranscriptSkipsTranslation(t *testing.T) {
	for _, steps := range [][]capture.Step{
		nil,
		{interim("嗯")},
		{final(0, "  ", "\n")},
	} {
		capability := capture.NewScriptedCapability(steps)
		tr := &fakeTranslator{}
		c := New(capability, opts(), tr, newLogger())
		if err := c.Start(); err != nil {
			t.Fatalf("start: %v", err)
		}
		capability.Last().Play()
		if err := c.Stop(context.Background()); err != nil {
			t.Fatalf("stop: %v", err)
		}
		if calls := tr.Calls(); len(calls) != 0 {
			t.Fatalf("expected no translate calls, got %v", calls)
		}
		snap := c.Snapshot()
		if snap.Translation != "" || snap.Error != "" || snap.Translating {
			t.Fatalf("unexpected session %+v", snap)
		}
	}
}

func TestStartResetsSession(t *testing.T) {
	capability := capture.NewScriptedCapability([]capture.Step{final(0, "一")})
	c := New(capability, opts(), &fakeTranslator{}, newLogger())

	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	first := c.Snapshot().ID
	capability.Last().Play()
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if err := c.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	snap := c.Snapshot()
	if snap.ID == first || snap.ID == "" {
		t.Fatalf("expected fresh session id, got %q", snap.ID)
	}
	if snap.Transcript != "" || snap.Translation != "" || snap.Error != "" || snap.State != Recording {
		t.Fatalf("expected clean recording session, got %+v", snap)
	}
	if got := capability.Last().Options(); got != opts() {
		t.Fatalf("unexpected capture options %+v", got)
	}
}

func TestRestartWhileRecordingStopsPreviousSource(t *testing.T) {
	capability := capture.NewScriptedCapability(nil)
	c := New(capability, opts(), &fakeTranslator{}, newLogger())
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	first := capability.Last()
	if err := c.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if first.Stops() != 1 {
		t.Fatalf("expected previous source stopped once, got %d", first.Stops())
	}
	if capability.Opened() != 2 {
		t.Fatalf("expected two sources opened, got %d", capability.Opened())
	}
}

func TestDoubleStopTranslatesOnce(t *testing.T) {
	capability := capture.NewScriptedCapability([]capture.Step{final(0, "你好")})
	tr := &fakeTranslator{}
	c := New(capability, opts(), tr, newLogger())
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	src := capability.Last()
	src.Play()

	for i := 0; i < 2; i++ {
		if err := c.Stop(context.Background()); err != nil {
			t.Fatalf("stop %d: %v", i, err)
		}
	}
	if calls := tr.Calls(); len(calls) != 1 {
		t.Fatalf("expected one translate call, got %v", calls)
	}
	if src.Stops() != 1 {
		t.Fatalf("expected source stopped once, got %d", src.Stops())
	}
}

func TestResultsAfterStopAreIgnored(t *testing.T) {
	capability := capture.NewScriptedCapability(nil)
	c := New(capability, opts(), &fakeTranslator{}, newLogger())
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	sink := &sessionSink{c: c, gen: c.gen}
	sink.OnResult(*final(0, "前").Result)
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	sink.OnResult(*final(0, "后").Result)
	if got := c.Snapshot().Transcript; got != "前" {
		t.Fatalf("unexpected transcript %q", got)
	}
}

func TestRecognitionErrorMessages(t *testing.T) {
	cases := map[string]string{
		capture.ErrCodeNotAllowed:        "Microphone permission denied. Please allow microphone access in your browser settings.",
		capture.ErrCodeNoSpeech:          "No speech detected. Please try again.",
		capture.ErrCodeAudioCapture:      "No microphone was found. Ensure that a microphone is installed and that microphone settings are configured correctly.",
		capture.ErrCodeNetwork:           "Network communication required for completing the recognition failed.",
		capture.ErrCodeAborted:           capture.Message(capture.ErrCodeAborted),
		capture.ErrCodeServiceNotAllowed: capture.Message(capture.ErrCodeServiceNotAllowed),
		"bad-grammar":                    "Speech recognition error: bad-grammar",
	}
	for code, want := range cases {
		capability := capture.NewScriptedCapability([]capture.Step{final(0, "半"), {Error: code}, final(0, "句")})
		tr := &fakeTranslator{}
		c := New(capability, opts(), tr, newLogger())
		if err := c.Start(); err != nil {
			t.Fatalf("%s: start: %v", code, err)
		}
		src := capability.Last()
		src.Play()

		snap := c.Snapshot()
		if snap.Error != want {
			t.Fatalf("%s: error %q, want %q", code, snap.Error, want)
		}
		if snap.State != Idle || snap.Transcript != "半" {
			t.Fatalf("%s: unexpected session %+v", code, snap)
		}
		if src.Stops() != 1 {
			t.Fatalf("%s: expected source stopped, got %d stops", code, src.Stops())
		}
		if err := c.Stop(context.Background()); err != nil {
			t.Fatalf("%s: stop: %v", code, err)
		}
		if calls := tr.Calls(); len(calls) != 0 {
			t.Fatalf("%s: expected no translation after error, got %v", code, calls)
		}
	}
}

func TestRecognitionEndReturnsToIdle(t *testing.T) {
	capability := capture.NewScriptedCapability([]capture.Step{final(0, "你好"), {End: true}})
	tr := &fakeTranslator{}
	c := New(capability, opts(), tr, newLogger())
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	capability.Last().Play()

	snap := c.Snapshot()
	if snap.State != Idle || snap.Error != "" || snap.Transcript != "你好" {
		t.Fatalf("unexpected session %+v", snap)
	}
	if calls := tr.Calls(); len(calls) != 0 {
		t.Fatalf("expected no translation on end, got %v", calls)
	}
}

func TestUnsupportedCapability(t *testing.T) {
	c := New(capture.Unavailable(), opts(), &fakeTranslator{}, newLogger())
	err := c.Start()
	if !errors.Is(err, capture.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	snap := c.Snapshot()
	if snap.Error != MsgUnsupported || snap.State != Idle {
		t.Fatalf("unexpected session %+v", snap)
	}
}

func TestOpenFailure(t *testing.T) {
	capability := capture.Available(func(capture.Options) (capture.Source, error) {
		return nil, errors.New("device busy")
	})
	c := New(capability, opts(), &fakeTranslator{}, newLogger())
	if err := c.Start(); err == nil {
		t.Fatal("expected open error")
	}
	if snap := c.Snapshot(); snap.Error != MsgStartFailed || snap.State != Idle {
		t.Fatalf("unexpected session %+v", snap)
	}
}

func TestStartFailure(t *testing.T) {
	capability := capture.Available(func(o capture.Options) (capture.Source, error) {
		src := capture.NewScriptedSource(o, nil)
		src.FailStart(errors.New("already started"))
		return src, nil
	})
	c := New(capability, opts(), &fakeTranslator{}, newLogger())
	if err := c.Start(); err == nil {
		t.Fatal("expected start error")
	}
	if snap := c.Snapshot(); snap.Error != MsgStartFailed || snap.State != Idle {
		t.Fatalf("unexpected session %+v", snap)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop after failed start: %v", err)
	}
}

func TestTranslateErrorMessages(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"server message", &gateway.StatusError{Code: 500, Message: "Failed to translate text"}, "Failed to translate text"},
		{"no message", &gateway.StatusError{Code: 502}, MsgTranslateFailed},
		{"transport", errors.New("connection refused"), MsgConnectFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			capability := capture.NewScriptedCapability([]capture.Step{final(0, "你好")})
			c := New(capability, opts(), &fakeTranslator{err: tc.err}, newLogger())
			if err := c.Start(); err != nil {
				t.Fatalf("start: %v", err)
			}
			capability.Last().Play()
			if err := c.Stop(context.Background()); err == nil {
				t.Fatal("expected translate error")
			}
			snap := c.Snapshot()
			if snap.Error != tc.want || snap.Translation != "" || snap.Translating {
				t.Fatalf("unexpected session %+v", snap)
			}
		})
	}
}

func TestGatewayRoundTrip(t *testing.T) {
	cases := []struct {
		name            string
		status          int
		body            string
		wantTranslation string
		wantError       string
	}{
		{"ok", http.StatusOK, `{"translation":"X"}`, "X", ""},
		{"server error", http.StatusInternalServerError, `{"error":"Failed to translate text"}`, "", "Failed to translate text"},
		{"bad request", http.StatusBadRequest, `{"error":"Text is required"}`, "", "Text is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var mu sync.Mutex
			var hits int
			var gotSession string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				mu.Lock()
				hits++
				gotSession = r.Header.Get(gateway.HeaderSessionID)
				mu.Unlock()
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			t.Cleanup(srv.Close)

			capability := capture.NewScriptedCapability([]capture.Step{final(0, "你好")})
			c := New(capability, opts(), gateway.NewClient(srv.URL, nil), newLogger())
			if err := c.Start(); err != nil {
				t.Fatalf("start: %v", err)
			}
			capability.Last().Play()
			_ = c.Stop(context.Background())

			snap := c.Snapshot()
			mu.Lock()
			defer mu.Unlock()
			if hits != 1 {
				t.Fatalf("expected one request, got %d", hits)
			}
			if gotSession != snap.ID {
				t.Fatalf("session header %q, want %q", gotSession, snap.ID)
			}
			if snap.Translation != tc.wantTranslation || snap.Error != tc.wantError {
				t.Fatalf("unexpected session %+v", snap)
			}
		})
	}
}

type blockingTranslator struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingTranslator) Translate(_ context.Context, _ string, text string) (string, error) {
	close(b.started)
	<-b.release
	return "late:" + text, nil
}

func TestStaleTranslationIsDropped(t *testing.T) {
	capability := capture.NewScriptedCapability([]capture.Step{final(0, "旧")})
	tr := &blockingTranslator{started: make(chan struct{}), release: make(chan struct{})}
	c := New(capability, opts(), tr, newLogger())
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	capability.Last().Play()

	done := make(chan error, 1)
	go func() { done <- c.Stop(context.Background()) }()

	select {
	case <-tr.started:
	case <-time.After(5 * time.Second):
		t.Fatal("translation never started")
	}
	if !c.Snapshot().Translating {
		t.Fatal("expected translating flag while request is in flight")
	}

	if err := c.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	fresh := c.Snapshot()
	close(tr.release)
	if err := <-done; err != nil {
		t.Fatalf("stop: %v", err)
	}

	snap := c.Snapshot()
	if snap.ID != fresh.ID || snap.Translation != "" || snap.Translating || snap.State != Recording {
		t.Fatalf("stale translation leaked into new session: %+v", snap)
	}
}

func TestObserverSeesTransitions(t *testing.T) {
	capability := capture.NewScriptedCapability([]capture.Step{final(0, "你好")})
	var mu sync.Mutex
	var states []Session
	c := New(capability, opts(), &fakeTranslator{reply: "hello"}, newLogger(), WithObserver(func(s Session) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}))
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	capability.Last().Play()
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) < 4 {
		t.Fatalf("expected several snapshots, got %d", len(states))
	}
	sawTranslating := false
	for _, s := range states {
		if s.Translating {
			sawTranslating = true
		}
	}
	if !sawTranslating {
		t.Fatal("expected a snapshot with translating set")
	}
	if last := states[len(states)-1]; last.Translation != "hello" || last.Translating {
		t.Fatalf("unexpected final snapshot %+v", last)
	}
}
