package capture

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Step is one scripted recognizer event. Exactly one field is set.
type Step struct {
	Result *ResultEvent `yaml:"result,omitempty"`
	Error  string       `yaml:"error,omitempty"`
	End    bool         `yaml:"end,omitempty"`
}

// Script is a recorded capture session.
type Script struct {
	Language string `yaml:"language"`
	Steps    []Step `yaml:"steps"`
}

// LoadScript reads a YAML capture script.
func LoadScript(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("read script: %w", err)
	}
	var script Script
	if err := yaml.Unmarshal(data, &script); err != nil {
		return Script{}, fmt.Errorf("parse script: %w", err)
	}
	for i, step := range script.Steps {
		set := 0
		if step.Result != nil {
			set++
		}
		if step.Error != "" {
			set++
		}
		if step.End {
			set++
		}
		if set != 1 {
			return Script{}, fmt.Errorf("script step %d must set exactly one of result|error|end", i)
		}
	}
	return script, nil
}

// ScriptedSource replays steps to its sink when Play is called.
type ScriptedSource struct {
	mu      sync.Mutex
	opts    Options
	steps   []Step
	sink    Sink
	started bool
	stopped bool
	stops   int
	failErr error
}

// NewScriptedSource returns a source that replays steps.
func NewScriptedSource(opts Options, steps []Step) *ScriptedSource {
	return &ScriptedSource{opts: opts, steps: append([]Step(nil), steps...)}
}

// FailStart makes the next Start return err.
func (s *ScriptedSource) FailStart(err error) {
	s.mu.Lock()
	s.failErr = err
	s.mu.Unlock()
}

func (s *ScriptedSource) Start(sink Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	if s.started {
		return errors.New("scripted source already started")
	}
	s.started = true
	s.sink = sink
	return nil
}

func (s *ScriptedSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.stops++
	return nil
}

// Stops reports how many times Stop was called.
func (s *ScriptedSource) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

// Options returns the options the source was opened with.
func (s *ScriptedSource) Options() Options { return s.opts }

// Play delivers every remaining step, halting once the source is stopped.
func (s *ScriptedSource) Play() {
	for s.Next() {
	}
}

// Next delivers a single step and reports whether one was delivered.
func (s *ScriptedSource) Next() bool {
	s.mu.Lock()
	if !s.started || s.stopped || len(s.steps) == 0 {
		s.mu.Unlock()
		return false
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	sink := s.sink
	s.mu.Unlock()

	switch {
	case step.Result != nil:
		sink.OnResult(*step.Result)
	case step.Error != "":
		sink.OnError(step.Error)
	case step.End:
		sink.OnEnd()
	}
	return true
}

// ScriptedCapability opens scripted sources and remembers the last one.
type ScriptedCapability struct {
	mu     sync.Mutex
	steps  []Step
	last   *ScriptedSource
	opened int
}

// NewScriptedCapability returns an available capability replaying steps.
func NewScriptedCapability(steps []Step) *ScriptedCapability {
	return &ScriptedCapability{steps: steps}
}

func (c *ScriptedCapability) Open(opts Options) (Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	src := NewScriptedSource(opts, c.steps)
	c.last = src
	c.opened++
	return src, nil
}

// Last returns the most recently opened source.
func (c *ScriptedCapability) Last() *ScriptedSource {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Opened reports how many sources have been opened.
func (c *ScriptedCapability) Opened() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened
}
