package docker

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/go-connections/nat"

	"github.com/WillMorrison/tailhole/internal/stack"
)

// CreateInput carries everything needed to create one container from a
// service definition.
type CreateInput struct {
	StackName   string
	ServiceName string
	Service     *stack.Service

	// ConfigHash is stamped onto the container for drift detection.
	ConfigHash string

	// SecretFiles maps secret name to its host path. Each referenced
	// secret is bind-mounted read-only at /run/secrets/<name>.
	SecretFiles map[string]string
}

// translate converts a service definition into the engine's create types.
func translate(in CreateInput) (*container.Config, *container.HostConfig, *network.NetworkingConfig, error) {
	svc := in.Service

	labels := map[string]string{
		stack.LabelStack:      in.StackName,
		stack.LabelService:    in.ServiceName,
		stack.LabelConfigHash: in.ConfigHash,
	}
	for k, v := range svc.Labels {
		labels[k] = v
	}

	cfg := &container.Config{
		Image:    svc.Image,
		Hostname: svc.Hostname,
		Cmd:      strslice.StrSlice(svc.Command),
		Env:      buildEnv(svc.Environment),
		Labels:   labels,
	}

	hostCfg := &container.HostConfig{
		CapAdd:  strslice.StrSlice(svc.CapAdd),
		DNS:     svc.DNS,
		Sysctls: svc.Sysctls,
	}

	restart, err := stack.ParseRestartPolicy(svc.Restart)
	if err != nil {
		return nil, nil, nil, err
	}
	hostCfg.RestartPolicy = translateRestartPolicy(restart)

	for _, spec := range svc.Volumes {
		m, err := stack.ParseMount(spec)
		if err != nil {
			return nil, nil, nil, err
		}
		bind := m.Source + ":" + m.Target
		if m.ReadOnly {
			bind += ":ro"
		}
		hostCfg.Binds = append(hostCfg.Binds, bind)
	}

	for _, name := range svc.Secrets {
		path, ok := in.SecretFiles[name]
		if !ok {
			return nil, nil, nil, fmt.Errorf("no resolved file for secret %q", name)
		}
		hostCfg.Binds = append(hostCfg.Binds, path+":/run/secrets/"+name+":ro")
	}

	for _, dev := range svc.Devices {
		hostCfg.Resources.Devices = append(hostCfg.Resources.Devices, translateDevice(dev))
	}

	if len(svc.Ports) > 0 {
		exposed := nat.PortSet{}
		bindings := nat.PortMap{}
		for _, spec := range svc.Ports {
			p, err := stack.ParsePort(spec)
			if err != nil {
				return nil, nil, nil, err
			}
			port := nat.Port(strconv.Itoa(p.ContainerPort) + "/" + p.Protocol)
			exposed[port] = struct{}{}
			bindings[port] = append(bindings[port], nat.PortBinding{
				HostPort: strconv.Itoa(p.HostPort),
			})
		}
		cfg.ExposedPorts = exposed
		hostCfg.PortBindings = bindings
	}

	var netCfg *network.NetworkingConfig
	if len(svc.Networks) > 0 {
		endpoints := make(map[string]*network.EndpointSettings, len(svc.Networks))
		for _, name := range svc.Networks {
			endpoints[name] = &network.EndpointSettings{
				Aliases: []string{in.ServiceName},
			}
		}
		netCfg = &network.NetworkingConfig{EndpointsConfig: endpoints}
	}

	return cfg, hostCfg, netCfg, nil
}

// buildEnv flattens an environment map into sorted KEY=value form.
func buildEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// translateDevice parses a "hostPath[:containerPath[:permissions]]" device
// grant. A bare host path maps to the same path in the container.
func translateDevice(spec string) container.DeviceMapping {
	parts := strings.SplitN(spec, ":", 3)
	m := container.DeviceMapping{
		PathOnHost:        parts[0],
		PathInContainer:   parts[0],
		CgroupPermissions: "rwm",
	}
	if len(parts) > 1 {
		m.PathInContainer = parts[1]
	}
	if len(parts) > 2 {
		m.CgroupPermissions = parts[2]
	}
	return m
}

func translateRestartPolicy(p stack.RestartPolicy) container.RestartPolicy {
	switch p.Mode {
	case stack.RestartAlways:
		return container.RestartPolicy{Name: container.RestartPolicyAlways}
	case stack.RestartUnlessStopped:
		return container.RestartPolicy{Name: container.RestartPolicyUnlessStopped}
	case stack.RestartOnFailure:
		return container.RestartPolicy{
			Name:              container.RestartPolicyOnFailure,
			MaximumRetryCount: p.MaxRetries,
		}
	default:
		return container.RestartPolicy{Name: container.RestartPolicyDisabled}
	}
}
