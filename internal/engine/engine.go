package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/WillMorrison/tailhole/internal/docker"
	"github.com/WillMorrison/tailhole/internal/metrics"
	"github.com/WillMorrison/tailhole/internal/secrets"
	"github.com/WillMorrison/tailhole/internal/stack"
)

// ContainerClient is the slice of the Docker client the engine drives.
// *docker.Client implements it; tests substitute a fake.
type ContainerClient interface {
	EnsureNetwork(ctx context.Context, stackName, name string, spec *stack.Network) error
	EnsureVolume(ctx context.Context, stackName, name string, spec *stack.Volume) error
	RemoveVolume(ctx context.Context, name string) error
	PullImage(ctx context.Context, ref string) error
	CreateContainer(ctx context.Context, in docker.CreateInput) (string, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string, timeoutSeconds int) error
	RemoveContainer(ctx context.Context, id string) error
	ListManaged(ctx context.Context, stackName string) ([]docker.Managed, error)
}

var _ ContainerClient = (*docker.Client)(nil)

// Config holds engine configuration options.
type Config struct {
	// DryRun if true, logs planned actions without applying them.
	DryRun bool

	// Pull if true, pulls images before creating containers.
	Pull bool

	// StopTimeout is how long a container gets to stop gracefully, in
	// seconds.
	StopTimeout int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Pull:        true,
		StopTimeout: 10,
	}
}

// Engine converges a stack descriptor against the Docker engine.
//
// Up walks the dependency order: networks and volumes are ensured first,
// then each service is created and started unless a container with a
// matching config hash is already running. Containers whose hash no longer
// matches the descriptor are recreated; containers whose service left the
// descriptor are removed as orphans.
type Engine struct {
	client ContainerClient
	stack  *stack.Stack
	config Config
	logger *slog.Logger

	// stackDir anchors relative secret file paths.
	stackDir string
}

// Option is a functional option for configuring the Engine.
type Option func(*Engine)

// WithConfig sets the engine configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.config = cfg
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithStackDir sets the directory relative secret paths resolve against,
// normally the directory containing the stack file.
func WithStackDir(dir string) Option {
	return func(e *Engine) {
		e.stackDir = dir
	}
}

// New creates an Engine for the given stack.
func New(client ContainerClient, st *stack.Stack, opts ...Option) *Engine {
	e := &Engine{
		client:   client,
		stack:    st,
		config:   DefaultConfig(),
		logger:   slog.Default(),
		stackDir: ".",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// resolveSecrets validates every stack secret file and returns the
// absolute host path per secret name.
func (e *Engine) resolveSecrets() (map[string]string, error) {
	files := make(map[string]string, len(e.stack.Secrets))
	for name, sec := range e.stack.Secrets {
		path := sec.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(e.stackDir, path)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("secret %s: %w", name, err)
		}
		if _, err := secrets.Read(abs); err != nil {
			return nil, err
		}
		files[name] = abs
	}
	return files, nil
}

// Up converges the stack: ensure networks and volumes, then walk the start
// order creating, starting or recreating containers as needed, and finally
// remove orphans. Individual service failures are recorded in the result
// and do not abort the remaining services.
func (e *Engine) Up(ctx context.Context) (*Result, error) {
	result := NewResult(e.config.DryRun)
	defer func() {
		result.Complete()
		e.recordMetrics(result)
	}()

	e.logger.Info("converging stack",
		slog.String("stack", e.stack.Name),
		slog.Bool("dry_run", e.config.DryRun),
	)

	order, err := e.stack.StartOrder()
	if err != nil {
		return nil, err
	}

	secretFiles, err := e.resolveSecrets()
	if err != nil {
		return nil, err
	}

	if !e.config.DryRun {
		for _, name := range sortedNetworkNames(e.stack) {
			if err := e.client.EnsureNetwork(ctx, e.stack.Name, name, e.stack.Networks[name]); err != nil {
				return nil, err
			}
		}
		for _, name := range sortedVolumeNames(e.stack) {
			if err := e.client.EnsureVolume(ctx, e.stack.Name, name, e.stack.Volumes[name]); err != nil {
				return nil, err
			}
		}
	}

	managed, err := e.client.ListManaged(ctx, e.stack.Name)
	if err != nil {
		return nil, fmt.Errorf("listing managed containers: %w", err)
	}
	result.ContainersScanned = len(managed)
	set := docker.ManagedSet(managed)
	byService := set.ByService()

	for _, name := range order {
		action := e.convergeService(ctx, name, byService, secretFiles)
		result.AddAction(action)
	}

	// Extra containers for a known service are drift from an interrupted
	// recreate; only the primary survives.
	for _, extra := range set.Duplicates() {
		if _, ok := e.stack.Services[extra.Service]; !ok {
			continue
		}
		e.logger.Info("removing duplicate container",
			slog.String("service", extra.Service),
			slog.String("container", extra.ID),
		)
		result.AddAction(e.removeContainer(ctx, extra, ActionRemove))
	}

	for _, orphan := range e.orphans(managed) {
		result.AddAction(e.removeContainer(ctx, orphan, ActionRemove))
	}

	return result, nil
}

// convergeService brings one service to its desired state.
func (e *Engine) convergeService(ctx context.Context, name string, byService map[string]docker.Managed, secretFiles map[string]string) Action {
	svc := e.stack.Services[name]
	hash := stack.ConfigHash(svc)
	existing, exists := byService[name]

	switch {
	case exists && existing.ConfigHash == hash && existing.IsRunning():
		e.logger.Debug("service up to date",
			slog.String("service", name),
			slog.String("config_hash", hash),
		)
		return Action{Type: ActionSkip, Status: StatusSkipped, Service: name, ContainerID: existing.ID}

	case exists && existing.ConfigHash == hash:
		// Right config, not running: start it.
		if e.config.DryRun {
			e.logger.Info("would start container (dry-run)", slog.String("service", name))
			return Action{Type: ActionStart, Status: StatusSuccess, Service: name, ContainerID: existing.ID}
		}
		if err := e.client.StartContainer(ctx, existing.ID); err != nil {
			return e.failed(ActionStart, name, err)
		}
		e.logger.Info("started container",
			slog.String("service", name),
			slog.String("container", existing.ID),
		)
		return Action{Type: ActionStart, Status: StatusSuccess, Service: name, ContainerID: existing.ID}

	case exists:
		// Config drifted: replace the container.
		e.logger.Info("service configuration drifted",
			slog.String("service", name),
			slog.String("have", existing.ConfigHash),
			slog.String("want", hash),
		)
		if e.config.DryRun {
			return Action{Type: ActionRecreate, Status: StatusSuccess, Service: name, ContainerID: existing.ID}
		}
		if err := e.client.StopContainer(ctx, existing.ID, e.config.StopTimeout); err != nil {
			return e.failed(ActionRecreate, name, err)
		}
		if err := e.client.RemoveContainer(ctx, existing.ID); err != nil {
			return e.failed(ActionRecreate, name, err)
		}
		id, err := e.createAndStart(ctx, name, svc, hash, secretFiles)
		if err != nil {
			return e.failed(ActionRecreate, name, err)
		}
		return Action{Type: ActionRecreate, Status: StatusSuccess, Service: name, ContainerID: id}

	default:
		if e.config.DryRun {
			e.logger.Info("would create container (dry-run)",
				slog.String("service", name),
				slog.String("image", svc.Image),
			)
			return Action{Type: ActionCreate, Status: StatusSuccess, Service: name}
		}
		id, err := e.createAndStart(ctx, name, svc, hash, secretFiles)
		if err != nil {
			return e.failed(ActionCreate, name, err)
		}
		return Action{Type: ActionCreate, Status: StatusSuccess, Service: name, ContainerID: id}
	}
}

func (e *Engine) createAndStart(ctx context.Context, name string, svc *stack.Service, hash string, secretFiles map[string]string) (string, error) {
	if e.config.Pull {
		if err := e.client.PullImage(ctx, svc.Image); err != nil {
			// A pull failure is not fatal when the image is already
			// present locally; creation will tell us.
			e.logger.Warn("image pull failed, trying local image",
				slog.String("service", name),
				slog.String("image", svc.Image),
				slog.String("error", err.Error()),
			)
		}
	}

	serviceSecrets := make(map[string]string, len(svc.Secrets))
	for _, ref := range svc.Secrets {
		serviceSecrets[ref] = secretFiles[ref]
	}

	id, err := e.client.CreateContainer(ctx, docker.CreateInput{
		StackName:   e.stack.Name,
		ServiceName: name,
		Service:     svc,
		ConfigHash:  hash,
		SecretFiles: serviceSecrets,
	})
	if err != nil {
		return "", err
	}

	if err := e.client.StartContainer(ctx, id); err != nil {
		return "", err
	}

	e.logger.Info("created container",
		slog.String("service", name),
		slog.String("image", svc.Image),
		slog.String("container", id),
	)
	return id, nil
}

// Down stops and removes the stack's containers in reverse dependency
// order. With removeVolumes, named non-external volumes are removed too.
func (e *Engine) Down(ctx context.Context, removeVolumes bool) (*Result, error) {
	result := NewResult(e.config.DryRun)
	defer result.Complete()

	order, err := e.stack.StopOrder()
	if err != nil {
		// A cycle in the descriptor should not strand running
		// containers; fall back to name order.
		e.logger.Warn("falling back to unordered stop", slog.String("error", err.Error()))
		order = e.stack.ServiceNames()
	}

	managed, err := e.client.ListManaged(ctx, e.stack.Name)
	if err != nil {
		return nil, fmt.Errorf("listing managed containers: %w", err)
	}
	result.ContainersScanned = len(managed)
	grouped := make(map[string][]docker.Managed)
	for _, m := range managed {
		grouped[m.Service] = append(grouped[m.Service], m)
	}

	for _, name := range order {
		for _, m := range grouped[name] {
			result.AddAction(e.removeContainer(ctx, m, ActionRemove))
		}
		delete(grouped, name)
	}

	// Anything left is an orphan from an older descriptor; take it down
	// with the stack.
	for _, name := range sortedMapKeys(grouped) {
		for _, m := range grouped[name] {
			result.AddAction(e.removeContainer(ctx, m, ActionRemove))
		}
	}

	if removeVolumes && !e.config.DryRun {
		for _, name := range sortedVolumeNames(e.stack) {
			if e.stack.Volumes[name] != nil && e.stack.Volumes[name].External {
				continue
			}
			if err := e.client.RemoveVolume(ctx, name); err != nil {
				e.logger.Warn("failed to remove volume",
					slog.String("volume", name),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	return result, nil
}

func (e *Engine) removeContainer(ctx context.Context, m docker.Managed, actionType ActionType) Action {
	if e.config.DryRun {
		e.logger.Info("would remove container (dry-run)",
			slog.String("service", m.Service),
			slog.String("container", m.ID),
		)
		return Action{Type: actionType, Status: StatusSuccess, Service: m.Service, ContainerID: m.ID}
	}

	if m.IsRunning() {
		if err := e.client.StopContainer(ctx, m.ID, e.config.StopTimeout); err != nil {
			return e.failed(actionType, m.Service, err)
		}
	}
	if err := e.client.RemoveContainer(ctx, m.ID); err != nil {
		return e.failed(actionType, m.Service, err)
	}

	e.logger.Info("removed container",
		slog.String("service", m.Service),
		slog.String("container", m.ID),
	)
	return Action{Type: actionType, Status: StatusSuccess, Service: m.Service, ContainerID: m.ID}
}

// orphans returns managed containers whose service no longer exists in the
// descriptor.
func (e *Engine) orphans(managed []docker.Managed) []docker.Managed {
	var out []docker.Managed
	for _, m := range managed {
		if _, ok := e.stack.Services[m.Service]; !ok {
			e.logger.Info("found orphan container",
				slog.String("service", m.Service),
				slog.String("container", m.ID),
			)
			out = append(out, m)
		}
	}
	return out
}

// Status returns the current managed containers for the stack.
func (e *Engine) Status(ctx context.Context) (docker.ManagedSet, error) {
	managed, err := e.client.ListManaged(ctx, e.stack.Name)
	if err != nil {
		return nil, fmt.Errorf("listing managed containers: %w", err)
	}
	return managed, nil
}

func (e *Engine) failed(t ActionType, service string, err error) Action {
	e.logger.Error("convergence action failed",
		slog.String("action", string(t)),
		slog.String("service", service),
		slog.String("error", err.Error()),
	)
	return Action{Type: t, Status: StatusFailed, Service: service, Error: err.Error()}
}

func (e *Engine) recordMetrics(result *Result) {
	metrics.ConvergeDuration.Observe(result.Duration().Seconds())
	for _, a := range result.Actions {
		metrics.ConvergeActions.WithLabelValues(string(a.Type), string(a.Status)).Inc()
	}
}

func sortedNetworkNames(s *stack.Stack) []string {
	return sortedMapKeys(s.Networks)
}

func sortedVolumeNames(s *stack.Stack) []string {
	return sortedMapKeys(s.Volumes)
}
