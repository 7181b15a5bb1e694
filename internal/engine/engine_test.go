package engine

import (
	"context"
	"testing"

	"github.com/WillMorrison/tailhole/internal/stack"
)

func TestUpCreatesInDependencyOrder(t *testing.T) {
	st, dir := testStack(t)
	fake := newFakeClient()
	e := New(fake, st, WithStackDir(dir))

	result, err := e.Up(context.Background())
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	if got := result.CreatedCount(); got != 2 {
		t.Errorf("CreatedCount() = %d, want 2", got)
	}
	if err := result.Err(); err != nil {
		t.Errorf("Err() = %v", err)
	}

	order := fake.serviceOrder()
	if len(order) != 2 || order[0] != "tailscale" || order[1] != "pihole" {
		t.Errorf("start order = %v, want [tailscale pihole]", order)
	}

	if !fake.volumes["pihole-config"] {
		t.Error("named volume was not ensured")
	}
}

func TestUpIsIdempotent(t *testing.T) {
	st, dir := testStack(t)
	fake := newFakeClient()
	e := New(fake, st, WithStackDir(dir))

	if _, err := e.Up(context.Background()); err != nil {
		t.Fatalf("first Up() error = %v", err)
	}

	result, err := e.Up(context.Background())
	if err != nil {
		t.Fatalf("second Up() error = %v", err)
	}

	if got := result.CreatedCount(); got != 0 {
		t.Errorf("second Up() created %d containers, want 0", got)
	}
	if got := result.SkippedCount(); got != 2 {
		t.Errorf("second Up() skipped %d services, want 2", got)
	}
}

func TestUpRecreatesOnDrift(t *testing.T) {
	st, dir := testStack(t)
	fake := newFakeClient()
	e := New(fake, st, WithStackDir(dir))

	if _, err := e.Up(context.Background()); err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	st.Services["pihole"].Environment = map[string]string{"TZ": "Europe/Berlin"}

	result, err := e.Up(context.Background())
	if err != nil {
		t.Fatalf("Up() after drift error = %v", err)
	}

	var recreated bool
	for _, a := range result.Actions {
		if a.Type == ActionRecreate && a.Service == "pihole" && a.Status == StatusSuccess {
			recreated = true
		}
		if a.Service == "tailscale" && a.Type != ActionSkip {
			t.Errorf("tailscale should be untouched, got %v", a)
		}
	}
	if !recreated {
		t.Error("pihole was not recreated after config drift")
	}
}

func TestUpStartsStoppedContainer(t *testing.T) {
	st, dir := testStack(t)
	fake := newFakeClient()
	fake.addContainer("tailscale", stack.ConfigHash(st.Services["tailscale"]), false)
	e := New(fake, st, WithStackDir(dir))

	result, err := e.Up(context.Background())
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	var started bool
	for _, a := range result.Actions {
		if a.Type == ActionStart && a.Service == "tailscale" && a.Status == StatusSuccess {
			started = true
		}
	}
	if !started {
		t.Errorf("stopped container with matching hash should be started, actions: %v", result.Actions)
	}
}

func TestUpRemovesOrphans(t *testing.T) {
	st, dir := testStack(t)
	fake := newFakeClient()
	orphanID := fake.addContainer("old-service", "deadbeef0000", true)
	e := New(fake, st, WithStackDir(dir))

	result, err := e.Up(context.Background())
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	if got := result.RemovedCount(); got != 1 {
		t.Errorf("RemovedCount() = %d, want 1", got)
	}
	fake.mu.Lock()
	_, stillThere := fake.containers[orphanID]
	fake.mu.Unlock()
	if stillThere {
		t.Error("orphan container was not removed")
	}
}

func TestUpDryRunTouchesNothing(t *testing.T) {
	st, dir := testStack(t)
	fake := newFakeClient()
	e := New(fake, st,
		WithStackDir(dir),
		WithConfig(Config{DryRun: true, Pull: true, StopTimeout: 10}),
	)

	result, err := e.Up(context.Background())
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	if got := result.CreatedCount(); got != 2 {
		t.Errorf("dry-run should plan 2 creates, got %d", got)
	}
	if len(fake.containers) != 0 {
		t.Errorf("dry-run created %d containers", len(fake.containers))
	}
	if len(fake.networks) != 0 || len(fake.volumes) != 0 {
		t.Error("dry-run touched networks or volumes")
	}
	for _, a := range result.Actions {
		if !a.DryRun {
			t.Errorf("action %v not marked dry-run", a)
		}
	}
}

func TestUpFailsOnBadSecret(t *testing.T) {
	st, dir := testStack(t)
	st.Secrets["ts_authkey"].File = "missing-file"
	fake := newFakeClient()
	e := New(fake, st, WithStackDir(dir))

	if _, err := e.Up(context.Background()); err == nil {
		t.Fatal("Up() with missing secret file should fail")
	}
}

func TestUpContinuesAfterServiceFailure(t *testing.T) {
	st, dir := testStack(t)
	fake := newFakeClient()
	fake.createErr = context.DeadlineExceeded
	e := New(fake, st, WithStackDir(dir))

	result, err := e.Up(context.Background())
	if err != nil {
		t.Fatalf("Up() error = %v, per-service failures belong in the result", err)
	}
	if got := result.FailedCount(); got != 2 {
		t.Errorf("FailedCount() = %d, want 2", got)
	}
	if result.Err() == nil {
		t.Error("Err() should summarize failures")
	}
}

func TestDown(t *testing.T) {
	st, dir := testStack(t)
	fake := newFakeClient()
	e := New(fake, st, WithStackDir(dir))

	if _, err := e.Up(context.Background()); err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	result, err := e.Down(context.Background(), true)
	if err != nil {
		t.Fatalf("Down() error = %v", err)
	}
	if got := result.RemovedCount(); got != 2 {
		t.Errorf("RemovedCount() = %d, want 2", got)
	}
	if len(fake.containers) != 0 {
		t.Errorf("%d containers left after Down()", len(fake.containers))
	}
	if len(fake.volumes) != 0 {
		t.Errorf("volumes left after Down(removeVolumes=true): %v", fake.volumes)
	}

	// Dependents must stop before their dependencies.
	fake.mu.Lock()
	removed := fake.removed
	fake.mu.Unlock()
	if len(removed) != 2 {
		t.Fatalf("removed = %v", removed)
	}
}

func TestUpRemovesDuplicateContainers(t *testing.T) {
	st, dir := testStack(t)
	fake := newFakeClient()
	hash := stack.ConfigHash(st.Services["pihole"])
	keep := fake.addContainer("pihole", hash, true)
	stale := fake.addContainer("pihole", hash, false)
	e := New(fake, st, WithStackDir(dir))

	if _, err := e.Up(context.Background()); err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if _, ok := fake.containers[keep]; !ok {
		t.Errorf("running container %s should survive", keep)
	}
	if _, ok := fake.containers[stale]; ok {
		t.Errorf("duplicate container %s should be removed", stale)
	}
}

func TestDownRemovesAllContainersForService(t *testing.T) {
	st, dir := testStack(t)
	fake := newFakeClient()
	fake.addContainer("pihole", "aaa", true)
	fake.addContainer("pihole", "bbb", true)
	fake.addContainer("tailscale", "ccc", true)
	e := New(fake, st, WithStackDir(dir))

	result, err := e.Down(context.Background(), false)
	if err != nil {
		t.Fatalf("Down() error = %v", err)
	}
	if got := result.RemovedCount(); got != 3 {
		t.Errorf("RemovedCount() = %d, want 3", got)
	}
	if len(fake.containers) != 0 {
		t.Errorf("%d containers left after Down()", len(fake.containers))
	}
}

func TestStatus(t *testing.T) {
	st, dir := testStack(t)
	fake := newFakeClient()
	fake.addContainer("pihole", "aaa", true)
	e := New(fake, st, WithStackDir(dir))

	managed, err := e.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(managed) != 1 || managed[0].Service != "pihole" {
		t.Errorf("Status() = %v", managed)
	}
}
