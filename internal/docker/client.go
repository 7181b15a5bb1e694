// Package docker wraps the Docker Engine API client with the container
// lifecycle operations tailhole needs: ensuring networks and volumes,
// creating and starting containers from service definitions, and listing the
// containers a stack owns.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"

	"github.com/WillMorrison/tailhole/internal/stack"
)

// Client wraps the Docker SDK client.
type Client struct {
	cli    *client.Client
	host   string
	logger *slog.Logger
}

// NewClient creates a Docker client and verifies connectivity with a ping.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	c := &Client{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	clientOpts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if c.host != "" {
		clientOpts = append(clientOpts, client.WithHost(c.host))
	}

	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	c.cli = cli

	ping, err := cli.Ping(ctx)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("pinging docker daemon: %w", err)
	}

	c.logger.Debug("docker daemon reachable",
		slog.String("api_version", ping.APIVersion),
	)

	return c, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.cli.Close()
}

// Ping checks daemon connectivity. Used as a readiness checker.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.cli.Ping(ctx)
	return err
}

// RawClient exposes the underlying SDK client for event streaming.
func (c *Client) RawClient() *client.Client {
	return c.cli
}

// EnsureNetwork creates the named network if it does not exist.
func (c *Client) EnsureNetwork(ctx context.Context, stackName, name string, spec *stack.Network) error {
	f := filters.NewArgs(filters.Arg("name", name))
	existing, err := c.cli.NetworkList(ctx, network.ListOptions{Filters: f})
	if err != nil {
		return fmt.Errorf("listing networks: %w", err)
	}
	for _, n := range existing {
		if n.Name == name {
			return nil
		}
	}

	driver := "bridge"
	if spec != nil && spec.Driver != "" {
		driver = spec.Driver
	}

	_, err = c.cli.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: driver,
		Labels: map[string]string{stack.LabelStack: stackName},
	})
	if err != nil {
		return fmt.Errorf("creating network %s: %w", name, err)
	}

	c.logger.Info("created network",
		slog.String("network", name),
		slog.String("driver", driver),
	)
	return nil
}

// EnsureVolume creates the named volume if it does not exist. External
// volumes must already exist; a missing one is an error.
func (c *Client) EnsureVolume(ctx context.Context, stackName, name string, spec *stack.Volume) error {
	f := filters.NewArgs(filters.Arg("name", name))
	existing, err := c.cli.VolumeList(ctx, volume.ListOptions{Filters: f})
	if err != nil {
		return fmt.Errorf("listing volumes: %w", err)
	}
	for _, v := range existing.Volumes {
		if v.Name == name {
			return nil
		}
	}

	if spec != nil && spec.External {
		return fmt.Errorf("external volume %s does not exist", name)
	}

	createOpts := volume.CreateOptions{
		Name:   name,
		Labels: map[string]string{stack.LabelStack: stackName},
	}
	if spec != nil {
		createOpts.Driver = spec.Driver
	}

	if _, err := c.cli.VolumeCreate(ctx, createOpts); err != nil {
		return fmt.Errorf("creating volume %s: %w", name, err)
	}

	c.logger.Info("created volume", slog.String("volume", name))
	return nil
}

// RemoveVolume deletes a named volume.
func (c *Client) RemoveVolume(ctx context.Context, name string) error {
	if err := c.cli.VolumeRemove(ctx, name, false); err != nil {
		return fmt.Errorf("removing volume %s: %w", name, err)
	}
	return nil
}

// PullImage pulls an image, draining the progress stream.
func (c *Client) PullImage(ctx context.Context, ref string) error {
	rc, err := c.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", ref, err)
	}
	defer rc.Close()

	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pulling image %s: %w", ref, err)
	}

	c.logger.Debug("pulled image", slog.String("image", ref))
	return nil
}

// CreateContainer creates a container for a service and returns its ID.
// The container is not started.
func (c *Client) CreateContainer(ctx context.Context, in CreateInput) (string, error) {
	cfg, hostCfg, netCfg, err := translate(in)
	if err != nil {
		return "", fmt.Errorf("translating service %s: %w", in.ServiceName, err)
	}

	name := in.StackName + "-" + in.ServiceName
	resp, err := c.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, name)
	if err != nil {
		return "", fmt.Errorf("creating container %s: %w", name, err)
	}

	for _, warn := range resp.Warnings {
		c.logger.Warn("container create warning",
			slog.String("container", name),
			slog.String("warning", warn),
		)
	}

	return resp.ID, nil
}

// StartContainer starts a created container.
func (c *Client) StartContainer(ctx context.Context, id string) error {
	if err := c.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("starting container %s: %w", id, err)
	}
	return nil
}

// StopContainer stops a container, waiting up to timeoutSeconds before the
// engine kills it.
func (c *Client) StopContainer(ctx context.Context, id string, timeoutSeconds int) error {
	if err := c.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeoutSeconds}); err != nil {
		return fmt.Errorf("stopping container %s: %w", id, err)
	}
	return nil
}

// RemoveContainer force-removes a container.
func (c *Client) RemoveContainer(ctx context.Context, id string) error {
	if err := c.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("removing container %s: %w", id, err)
	}
	return nil
}

// ListManaged returns every container (running or not) labeled as owned by
// the named stack.
func (c *Client) ListManaged(ctx context.Context, stackName string) ([]Managed, error) {
	f := filters.NewArgs(filters.Arg("label", stack.LabelStack+"="+stackName))
	list, err := c.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}

	managed := make([]Managed, 0, len(list))
	for _, ctr := range list {
		m := Managed{
			ID:         ctr.ID,
			Service:    ctr.Labels[stack.LabelService],
			ConfigHash: ctr.Labels[stack.LabelConfigHash],
			State:      ctr.State,
			Labels:     ctr.Labels,
		}
		if len(ctr.Names) > 0 {
			m.Name = ctr.Names[0]
		}
		managed = append(managed, m)
	}
	return managed, nil
}

// Events subscribes to container events for the named stack. The returned
// channels follow the SDK contract: the error channel yields at most one
// error, after which the stream is dead and must be resubscribed.
func (c *Client) Events(ctx context.Context, stackName string) (<-chan events.Message, <-chan error) {
	f := filters.NewArgs(
		filters.Arg("type", string(events.ContainerEventType)),
		filters.Arg("label", stack.LabelStack+"="+stackName),
	)
	// A stopped container emits die before stop, so subscribing to die
	// covers both.
	f.Add("event", "start")
	f.Add("event", "die")
	f.Add("event", "destroy")

	return c.cli.Events(ctx, events.ListOptions{Filters: f})
}
