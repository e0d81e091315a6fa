package capture

import (
	"errors"

	"github.com/loqalabs/globalecho/internal/config"
)

// ErrUnsupported is returned when no speech recognition capability exists.
var ErrUnsupported = errors.New("speech recognition capability unavailable")

// Options configures a capture session.
type Options struct {
	Language   string
	Continuous bool
	Interim    bool
}

// OptionsFromConfig builds session options from config.
func OptionsFromConfig(cfg config.CaptureConfig) Options {
	return Options{Language: cfg.Language, Continuous: cfg.Continuous, Interim: cfg.Interim}
}

// Result is one recognition hypothesis.
type Result struct {
	Text  string `json:"text" yaml:"text"`
	Final bool   `json:"final" yaml:"final"`
}

// ResultEvent carries the recognizer's result list. Entries before
// ResultIndex were delivered by an earlier event.
type ResultEvent struct {
	ResultIndex int      `json:"result_index" yaml:"result_index"`
	Results     []Result `json:"results" yaml:"results"`
}

// Finalized concatenates the finalized results from ResultIndex onward.
func (e ResultEvent) Finalized() string {
	start := e.ResultIndex
	if start < 0 {
		start = 0
	}
	var out string
	for i := start; i < len(e.Results); i++ {
		if e.Results[i].Final {
			out += e.Results[i].Text
		}
	}
	return out
}

// Sink receives events from a running Source.
type Sink interface {
	OnResult(ResultEvent)
	OnError(code string)
	OnEnd()
}

// Source is a session-scoped capture handle.
type Source interface {
	Start(sink Sink) error
	// Stop is idempotent.
	Stop() error
}

// Capability opens capture sources.
type Capability interface {
	Open(opts Options) (Source, error)
}

// Factory builds a new Source for a session.
type Factory func(opts Options) (Source, error)

type available struct {
	factory Factory
}

// Available wraps a factory as a usable capability.
func Available(factory Factory) Capability {
	return &available{factory: factory}
}

func (a *available) Open(opts Options) (Source, error) {
	if a.factory == nil {
		return nil, ErrUnsupported
	}
	return a.factory(opts)
}

type unavailable struct{}

// Unavailable reports that speech recognition is not supported.
func Unavailable() Capability { return unavailable{} }

func (unavailable) Open(Options) (Source, error) { return nil, ErrUnsupported }
