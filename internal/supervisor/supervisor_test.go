package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docker/docker/api/types/events"

	"github.com/WillMorrison/tailhole/internal/stack"
)

// fakeSource feeds scripted events to the supervisor.
type fakeSource struct {
	eventsChan chan events.Message
	errChan    chan error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		eventsChan: make(chan events.Message, 16),
		errChan:    make(chan error, 1),
	}
}

func (f *fakeSource) Events(_ context.Context, _ string) (<-chan events.Message, <-chan error) {
	return f.eventsChan, f.errChan
}

func containerEvent(action, service, id string, attrs map[string]string) events.Message {
	if attrs == nil {
		attrs = map[string]string{}
	}
	attrs[stack.LabelService] = service
	return events.Message{
		Type:   events.ContainerEventType,
		Action: events.Action(action),
		Actor:  events.Actor{ID: id, Attributes: attrs},
	}
}

func TestDieTriggersConverge(t *testing.T) {
	source := newFakeSource()
	var converges atomic.Int32

	s := New(source, "tailhole", func() { converges.Add(1) },
		WithConfig(Config{
			DebounceInterval:  10 * time.Millisecond,
			ReconnectInterval: 10 * time.Millisecond,
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	source.eventsChan <- containerEvent("die", "pihole", "ctr-1", map[string]string{"exitCode": "1"})

	deadline := time.After(2 * time.Second)
	for converges.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("convergence was not triggered after die event")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestDebounceCollapsesBursts(t *testing.T) {
	source := newFakeSource()
	var converges atomic.Int32

	s := New(source, "tailhole", func() { converges.Add(1) },
		WithConfig(Config{
			DebounceInterval:  50 * time.Millisecond,
			ReconnectInterval: 10 * time.Millisecond,
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	for i := 0; i < 5; i++ {
		source.eventsChan <- containerEvent("die", "pihole", "ctr-1", nil)
	}

	time.Sleep(200 * time.Millisecond)
	if got := converges.Load(); got != 1 {
		t.Errorf("converge triggered %d times for a burst, want 1", got)
	}
}

func TestRestartCounting(t *testing.T) {
	source := newFakeSource()

	s := New(source, "tailhole", func() {},
		WithConfig(Config{
			DebounceInterval:  10 * time.Millisecond,
			ReconnectInterval: 10 * time.Millisecond,
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	// Initial start plus two restarts.
	for i := 0; i < 3; i++ {
		source.eventsChan <- containerEvent("start", "tailscale", "ctr-2", nil)
	}

	deadline := time.After(2 * time.Second)
	for s.RestartCount("tailscale") < 3 {
		select {
		case <-deadline:
			t.Fatalf("RestartCount = %d, want 3", s.RestartCount("tailscale"))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStartStop(t *testing.T) {
	source := newFakeSource()
	s := New(source, "tailhole", func() {})

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !s.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}

	// Second start is a no-op.
	if err := s.Start(ctx); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	s.Stop()
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}
