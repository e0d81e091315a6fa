package capture

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

// execEvent is one line emitted by an external recognizer.
type execEvent struct {
	Type        string   `json:"type"` // result, error, end
	ResultIndex int      `json:"result_index"`
	Results     []Result `json:"results"`
	Error       string   `json:"error"`
}

type execSource struct {
	args   []string
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	stopped bool
	done    chan struct{}
}

// ExecCapability runs command once per session. The process must write
// newline-delimited JSON events to stdout.
func ExecCapability(command string, logger *slog.Logger) (Capability, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("capture command is empty")
	}
	return Available(func(opts Options) (Source, error) {
		return &execSource{
			args:   append([]string{}, args...),
			opts:   opts,
			logger: logger.With(slog.String("component", "capture-exec")),
		}, nil
	}), nil
}

func (s *execSource) Start(sink Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return fmt.Errorf("capture process already started")
	}

	cmdArgs := append([]string{}, s.args[1:]...)
	if s.opts.Language != "" {
		cmdArgs = append(cmdArgs, "--language", s.opts.Language)
	}
	if s.opts.Continuous {
		cmdArgs = append(cmdArgs, "--continuous")
	}
	if s.opts.Interim {
		cmdArgs = append(cmdArgs, "--interim")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, s.args[0], cmdArgs...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("capture stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start capture command: %w", err)
	}
	s.cmd = cmd
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.read(stdout, sink)
	return nil
}

func (s *execSource) read(stdout io.Reader, sink Sink) {
	defer close(s.done)
	scanner := bufio.NewScanner(stdout)
	ended := false
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt execEvent
		if err := json.Unmarshal(line, &evt); err != nil {
			s.logger.Warn("failed to decode capture event", slog.String("error", err.Error()))
			continue
		}
		switch evt.Type {
		case "result":
			sink.OnResult(ResultEvent{ResultIndex: evt.ResultIndex, Results: evt.Results})
		case "error":
			sink.OnError(evt.Error)
		case "end":
			ended = true
			sink.OnEnd()
		default:
			s.logger.Warn("unknown capture event", slog.String("type", evt.Type))
		}
	}
	if err := s.cmd.Wait(); err != nil && !s.isStopped() {
		s.logger.Warn("capture command exited", slog.String("error", err.Error()))
	}
	if !ended {
		sink.OnEnd()
	}
}

func (s *execSource) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *execSource) Stop() error {
	s.mu.Lock()
	if s.stopped || s.cancel == nil {
		s.stopped = true
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	return nil
}
