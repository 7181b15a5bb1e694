// Package supervisor watches engine events for a stack's containers and
// keeps the stack converged while tailhole runs in the foreground.
//
// The engine itself enforces each container's restart policy; the
// supervisor's job is the layer above that: it counts restarts, notices
// containers that die and stay dead (policy exhausted, or removed out from
// under us), and triggers a debounced convergence run so the stack returns
// to its descriptor.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/events"

	"github.com/WillMorrison/tailhole/internal/metrics"
	"github.com/WillMorrison/tailhole/internal/stack"
)

// ConvergeFunc is called when changes are detected that require a
// convergence run.
type ConvergeFunc func()

// EventSource supplies the container event stream for a stack.
// *docker.Client implements it.
type EventSource interface {
	Events(ctx context.Context, stackName string) (<-chan events.Message, <-chan error)
}

// Config holds supervisor configuration.
type Config struct {
	// DebounceInterval is the time to wait for additional events before
	// triggering convergence. This prevents rapid-fire runs while several
	// containers of one stack restart together.
	// Default: 2 seconds
	DebounceInterval time.Duration

	// ReconnectInterval is the time to wait before resubscribing after an
	// event stream error.
	// Default: 5 seconds
	ReconnectInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DebounceInterval:  2 * time.Second,
		ReconnectInterval: 5 * time.Second,
	}
}

// Supervisor monitors container events and triggers convergence when the
// running state diverges from the descriptor.
type Supervisor struct {
	source     EventSource
	stackName  string
	onConverge ConvergeFunc
	config     Config
	logger     *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	running  bool
	debounce *time.Timer
	restarts map[string]int
}

// Option is a functional option for configuring the Supervisor.
type Option func(*Supervisor)

// WithConfig sets the supervisor configuration.
func WithConfig(cfg Config) Option {
	return func(s *Supervisor) {
		s.config = cfg
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a supervisor for the named stack.
func New(source EventSource, stackName string, onConverge ConvergeFunc, opts ...Option) *Supervisor {
	s := &Supervisor{
		source:     source,
		stackName:  stackName,
		onConverge: onConverge,
		config:     DefaultConfig(),
		logger:     slog.Default(),
		restarts:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins watching events. Non-blocking; call Stop to halt.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.mu.Unlock()

	go s.watchLoop(ctx)

	s.logger.Info("supervisor started",
		slog.String("stack", s.stackName),
		slog.Duration("debounce", s.config.DebounceInterval),
	)
	return nil
}

// Stop halts the supervisor.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	s.running = false
	s.logger.Info("supervisor stopped")
}

// IsRunning returns whether the supervisor is currently running.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RestartCount returns how many restarts have been observed for a service.
func (s *Supervisor) RestartCount(service string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts[service]
}

func (s *Supervisor) watchLoop(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := s.watch(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("event stream error, resubscribing",
					slog.String("error", err.Error()),
					slog.Duration("retry_in", s.config.ReconnectInterval),
				)
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.config.ReconnectInterval):
				}
			}
		}
	}
}

func (s *Supervisor) watch(ctx context.Context) error {
	eventsChan, errChan := s.source.Events(ctx, s.stackName)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errChan:
			return err
		case event := <-eventsChan:
			s.handleEvent(event)
		}
	}
}

func (s *Supervisor) handleEvent(event events.Message) {
	service := event.Actor.Attributes[stack.LabelService]

	s.logger.Debug("received container event",
		slog.String("action", string(event.Action)),
		slog.String("service", service),
		slog.String("container", event.Actor.ID),
	)

	switch event.Action {
	case "die":
		exitCode := event.Actor.Attributes["exitCode"]
		s.logger.Warn("container died",
			slog.String("service", service),
			slog.String("container", event.Actor.ID),
			slog.String("exit_code", exitCode),
		)
		s.scheduleConverge()

	case "start":
		s.mu.Lock()
		s.restarts[service]++
		first := s.restarts[service] == 1
		s.mu.Unlock()

		if !first {
			// A start after the initial one is a restart: either the
			// engine's restart policy kicked in or a convergence run
			// replaced the container.
			metrics.Restarts.WithLabelValues(service).Inc()
			s.logger.Info("container restarted",
				slog.String("service", service),
				slog.String("container", event.Actor.ID),
			)
		}

	case "destroy":
		s.scheduleConverge()
	}
}

// scheduleConverge triggers convergence after the debounce window, resetting
// the window on each new trigger.
func (s *Supervisor) scheduleConverge() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(s.config.DebounceInterval, func() {
		s.logger.Info("triggering convergence after container event")
		if s.onConverge != nil {
			s.onConverge()
		}
	})
}
