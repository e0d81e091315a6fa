package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/loqalabs/globalecho/internal/capture"
	"github.com/loqalabs/globalecho/internal/gateway"
)

const (
	MsgUnsupported     = "Browser does not support Speech Recognition."
	MsgStartFailed     = "Failed to start recording. Please refresh and try again."
	MsgTranslateFailed = "Translation failed"
	MsgConnectFailed   = "Failed to connect to translation service"
)

// State is the recording state of a session.
type State int

const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Session is a snapshot of the controller's client-side state.
type Session struct {
	ID          string `json:"id"`
	State       State  `json:"state"`
	Transcript  string `json:"transcript"`
	Translation string `json:"translation,omitempty"`
	Error       string `json:"error,omitempty"`
	Translating bool   `json:"translating"`
}

// Translator sends transcript text to a translation gateway.
type Translator interface {
	Translate(ctx context.Context, sessionID, text string) (string, error)
}

// Option configures a Controller.
type Option func(*Controller)

// WithObserver registers fn to receive a snapshot after every change.
func WithObserver(fn func(Session)) Option {
	return func(c *Controller) { c.observer = fn }
}

// Controller drives one capture/translate session at a time.
type Controller struct {
	capability capture.Capability
	opts       capture.Options
	translator Translator
	logger     *slog.Logger
	observer   func(Session)

	mu      sync.Mutex
	gen     uint64
	session Session
	source  capture.Source
}

func New(capability capture.Capability, opts capture.Options, translator Translator, logger *slog.Logger, options ...Option) *Controller {
	c := &Controller{
		capability: capability,
		opts:       opts,
		translator: translator,
		logger:     logger.With(slog.String("component", "controller")),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Start resets the session and begins capture. It returns
// capture.ErrUnsupported when no capture capability exists.
func (c *Controller) Start() error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	prev := c.source
	c.source = nil
	c.session = Session{ID: uuid.NewString(), State: Idle}
	c.mu.Unlock()

	if prev != nil {
		c.stopSource(prev)
	}

	src, err := c.capability.Open(c.opts)
	if err != nil {
		msg := MsgStartFailed
		if errors.Is(err, capture.ErrUnsupported) {
			msg = MsgUnsupported
		}
		c.logger.Error("failed to open capture source", slog.String("error", err.Error()))
		c.update(gen, func(s *Session) { s.Error = msg })
		return err
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.stopSource(src)
		return nil
	}
	c.source = src
	c.session.State = Recording
	c.mu.Unlock()

	if err := src.Start(&sessionSink{c: c, gen: gen}); err != nil {
		c.logger.Error("failed to start recognition", slog.String("error", err.Error()))
		c.mu.Lock()
		if gen == c.gen {
			c.source = nil
			c.session.State = Idle
			c.session.Error = MsgStartFailed
		}
		c.mu.Unlock()
		c.notify()
		return fmt.Errorf("start capture: %w", err)
	}

	c.logger.Info("recording started", slog.String("session_id", c.Snapshot().ID), slog.String("language", c.opts.Language))
	c.notify()
	return nil
}

// Stop ends capture and translates the accumulated transcript. Only the Stop
// that ends a recording translates; further calls are no-ops. The returned
// error is the translation failure, which is also stored on the session.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	src := c.source
	c.source = nil
	wasRecording := c.session.State == Recording
	c.session.State = Idle
	gen := c.gen
	text := c.session.Transcript
	c.mu.Unlock()

	if src != nil {
		c.stopSource(src)
	}
	c.notify()

	if !wasRecording {
		return nil
	}
	return c.translate(ctx, gen, text)
}

// Translate sends text to the gateway on behalf of the current session.
func (c *Controller) Translate(ctx context.Context, text string) error {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	return c.translate(ctx, gen, text)
}

func (c *Controller) translate(ctx context.Context, gen uint64, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var sessionID string
	c.update(gen, func(s *Session) {
		s.Translating = true
		sessionID = s.ID
	})

	translation, err := c.translator.Translate(ctx, sessionID, text)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.logger.Warn("dropping translation for superseded session", slog.String("session_id", sessionID))
		return err
	}
	c.session.Translating = false
	if err != nil {
		c.session.Error = translateErrorMessage(err)
	} else {
		c.session.Translation = translation
	}
	c.mu.Unlock()
	c.notify()

	if err != nil {
		c.logger.Error("translation failed", slog.String("session_id", sessionID), slog.String("error", err.Error()))
		return err
	}
	return nil
}

func translateErrorMessage(err error) string {
	var statusErr *gateway.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Message != "" {
			return statusErr.Message
		}
		return MsgTranslateFailed
	}
	return MsgConnectFailed
}

func (c *Controller) handleResult(gen uint64, evt capture.ResultEvent) {
	text := evt.Finalized()
	if text == "" {
		return
	}
	c.update(gen, func(s *Session) {
		if s.State == Recording {
			s.Transcript += text
		}
	})
}

func (c *Controller) handleError(gen uint64, code string) {
	c.logger.Error("speech recognition error", slog.String("code", code))
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	src := c.source
	c.source = nil
	c.session.State = Idle
	c.session.Error = capture.Message(code)
	c.mu.Unlock()

	if src != nil {
		c.stopSource(src)
	}
	c.notify()
}

func (c *Controller) handleEnd(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.session.State != Recording {
		c.mu.Unlock()
		return
	}
	c.source = nil
	c.session.State = Idle
	c.mu.Unlock()
	c.logger.Warn("recognition ended while recording")
	c.notify()
}

func (c *Controller) stopSource(src capture.Source) {
	if err := src.Stop(); err != nil {
		c.logger.Warn("error stopping recognition", slog.String("error", err.Error()))
	}
}

// update applies fn when gen is still the current session.
func (c *Controller) update(gen uint64, fn func(*Session)) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	fn(&c.session)
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) notify() {
	if c.observer == nil {
		return
	}
	c.observer(c.Snapshot())
}

type sessionSink struct {
	c   *Controller
	gen uint64
}

func (s *sessionSink) OnResult(evt capture.ResultEvent) { s.c.handleResult(s.gen, evt) }
func (s *sessionSink) OnError(code string)              { s.c.handleError(s.gen, code) }
func (s *sessionSink) OnEnd()                           { s.c.handleEnd(s.gen) }
