package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/WillMorrison/tailhole/internal/docker"
	"github.com/WillMorrison/tailhole/internal/stack"
)

// fakeClient implements ContainerClient against an in-memory container
// table.
type fakeClient struct {
	mu sync.Mutex

	nextID     int
	containers map[string]*fakeContainer
	networks   map[string]bool
	volumes    map[string]bool

	pulled  []string
	started []string
	stopped []string
	removed []string

	createErr error
	listErr   error
}

type fakeContainer struct {
	id      string
	service string
	hash    string
	running bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		containers: make(map[string]*fakeContainer),
		networks:   make(map[string]bool),
		volumes:    make(map[string]bool),
	}
}

func (f *fakeClient) addContainer(service, hash string, running bool) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("ctr-%d", f.nextID)
	f.containers[id] = &fakeContainer{id: id, service: service, hash: hash, running: running}
	return id
}

func (f *fakeClient) EnsureNetwork(_ context.Context, _, name string, _ *stack.Network) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks[name] = true
	return nil
}

func (f *fakeClient) EnsureVolume(_ context.Context, _, name string, _ *stack.Volume) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes[name] = true
	return nil
}

func (f *fakeClient) RemoveVolume(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.volumes, name)
	return nil
}

func (f *fakeClient) PullImage(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulled = append(f.pulled, ref)
	return nil
}

func (f *fakeClient) CreateContainer(_ context.Context, in docker.CreateInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	id := fmt.Sprintf("ctr-%d", f.nextID)
	f.containers[id] = &fakeContainer{id: id, service: in.ServiceName, hash: in.ConfigHash}
	return id, nil
}

func (f *fakeClient) StartContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return fmt.Errorf("no such container %s", id)
	}
	c.running = true
	f.started = append(f.started, id)
	return nil
}

func (f *fakeClient) StopContainer(_ context.Context, id string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return fmt.Errorf("no such container %s", id)
	}
	c.running = false
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeClient) RemoveContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[id]; !ok {
		return fmt.Errorf("no such container %s", id)
	}
	delete(f.containers, id)
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeClient) ListManaged(_ context.Context, stackName string) ([]docker.Managed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []docker.Managed
	for _, c := range f.containers {
		state := "exited"
		if c.running {
			state = "running"
		}
		out = append(out, docker.Managed{
			ID:         c.id,
			Name:       stackName + "-" + c.service,
			Service:    c.service,
			ConfigHash: c.hash,
			State:      state,
		})
	}
	return out, nil
}

func (f *fakeClient) serviceOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	byID := make(map[string]string)
	for _, c := range f.containers {
		byID[c.id] = c.service
	}
	var order []string
	for _, id := range f.started {
		order = append(order, byID[id])
	}
	return order
}

// testStack builds a two-service stack, writing a valid secret file into
// a temp dir so secret resolution succeeds.
func testStack(t *testing.T) (*stack.Stack, string) {
	t.Helper()
	dir := t.TempDir()
	secretPath := filepath.Join(dir, "ts_authkey")
	if err := os.WriteFile(secretPath, []byte("tskey-auth-test\n"), 0600); err != nil {
		t.Fatal(err)
	}

	return &stack.Stack{
		Name: "tailhole",
		Services: map[string]*stack.Service{
			"tailscale": {
				Image:   "tailscale/tailscale:latest",
				Secrets: []string{"ts_authkey"},
				Restart: "unless-stopped",
			},
			"pihole": {
				Image:     "pihole/pihole:latest",
				Restart:   "unless-stopped",
				DependsOn: []string{"tailscale"},
			},
		},
		Volumes: map[string]*stack.Volume{
			"pihole-config": {},
		},
		Secrets: map[string]*stack.Secret{
			"ts_authkey": {File: "ts_authkey"},
		},
	}, dir
}
