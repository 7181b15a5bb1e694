// Package stack defines the declarative service-graph descriptor that
// tailhole converges against the Docker engine: named services with their
// images, environment, mounts, capability grants and restart policies, plus
// the named volumes, networks and file-based secrets they reference.
package stack

import (
	"fmt"
	"strconv"
	"strings"
)

// Label keys stamped onto every container tailhole creates. They mark
// ownership for listing, orphan cleanup and drift detection.
const (
	LabelStack      = "tailhole.stack"
	LabelService    = "tailhole.service"
	LabelConfigHash = "tailhole.config-hash"
)

// Stack is the root of the descriptor file.
type Stack struct {
	// Name identifies the stack. All containers created from this stack
	// carry it in the tailhole.stack label.
	Name string `yaml:"name"`

	// Services maps service name to its definition.
	Services map[string]*Service `yaml:"services"`

	// Networks lists named networks to ensure before services start.
	Networks map[string]*Network `yaml:"networks,omitempty"`

	// Volumes lists named volumes to ensure before services start.
	Volumes map[string]*Volume `yaml:"volumes,omitempty"`

	// Secrets maps secret name to its file-based definition.
	Secrets map[string]*Secret `yaml:"secrets,omitempty"`
}

// Service describes a single container to run.
type Service struct {
	Image       string            `yaml:"image"`
	Hostname    string            `yaml:"hostname,omitempty"`
	Command     []string          `yaml:"command,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`

	// Volumes are mount specs: "name:/target" for named volumes,
	// "/host/path:/target" for binds, with an optional ":ro" suffix.
	Volumes []string `yaml:"volumes,omitempty"`

	// Secrets are names of stack-level secrets mounted into the container
	// at /run/secrets/<name>.
	Secrets []string `yaml:"secrets,omitempty"`

	// Ports are publish specs: "[hostPort:]containerPort[/proto]".
	Ports []string `yaml:"ports,omitempty"`

	CapAdd   []string          `yaml:"cap_add,omitempty"`
	Devices  []string          `yaml:"devices,omitempty"`
	Sysctls  map[string]string `yaml:"sysctls,omitempty"`
	DNS      []string          `yaml:"dns,omitempty"`
	Networks []string          `yaml:"networks,omitempty"`
	Labels   map[string]string `yaml:"labels,omitempty"`

	// Restart is the restart policy: no, always, unless-stopped, or
	// on-failure[:maxRetries].
	Restart string `yaml:"restart,omitempty"`

	// DependsOn lists services that must be started before this one.
	DependsOn []string `yaml:"depends_on,omitempty"`
}

// Network describes a named network.
type Network struct {
	Driver string `yaml:"driver,omitempty"`
}

// Volume describes a named volume.
type Volume struct {
	Driver string `yaml:"driver,omitempty"`

	// External volumes are expected to exist already and are never
	// created or removed by tailhole.
	External bool `yaml:"external,omitempty"`
}

// Secret describes a file-based secret consumed by services at start.
type Secret struct {
	// File is the path to the secret value on the host running tailhole.
	File string `yaml:"file"`
}

// ServiceNames returns the service names in sorted order.
func (s *Stack) ServiceNames() []string {
	return sortedKeys(s.Services)
}

// RestartMode is the supervision mode of a service's restart policy.
type RestartMode string

const (
	RestartNever         RestartMode = "no"
	RestartAlways        RestartMode = "always"
	RestartOnFailure     RestartMode = "on-failure"
	RestartUnlessStopped RestartMode = "unless-stopped"
)

// RestartPolicy is a parsed restart spec.
type RestartPolicy struct {
	Mode RestartMode

	// MaxRetries bounds restarts for on-failure. Zero means unlimited.
	MaxRetries int
}

// ParseRestartPolicy parses a restart spec string. The empty string
// defaults to "no".
func ParseRestartPolicy(s string) (RestartPolicy, error) {
	if s == "" {
		return RestartPolicy{Mode: RestartNever}, nil
	}

	mode, retries, hasRetries := strings.Cut(s, ":")
	switch RestartMode(mode) {
	case RestartNever, RestartAlways, RestartUnlessStopped:
		if hasRetries {
			return RestartPolicy{}, fmt.Errorf("restart policy %q does not take a retry count", mode)
		}
		return RestartPolicy{Mode: RestartMode(mode)}, nil
	case RestartOnFailure:
		p := RestartPolicy{Mode: RestartOnFailure}
		if hasRetries {
			n, err := strconv.Atoi(retries)
			if err != nil || n < 0 {
				return RestartPolicy{}, fmt.Errorf("invalid retry count in restart policy %q", s)
			}
			p.MaxRetries = n
		}
		return p, nil
	default:
		return RestartPolicy{}, fmt.Errorf("unknown restart policy %q", s)
	}
}

// Mount is a parsed volume spec.
type Mount struct {
	// Source is a named volume or an absolute host path.
	Source   string
	Target   string
	ReadOnly bool
}

// IsBind reports whether the mount source is a host path rather than a
// named volume.
func (m Mount) IsBind() bool {
	return strings.HasPrefix(m.Source, "/") || strings.HasPrefix(m.Source, "./") || strings.HasPrefix(m.Source, "../")
}

// ParseMount parses a "source:/target[:ro]" volume spec.
func ParseMount(spec string) (Mount, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Mount{}, fmt.Errorf("invalid volume spec %q (want source:/target[:ro])", spec)
	}

	m := Mount{Source: parts[0], Target: parts[1]}
	if m.Source == "" {
		return Mount{}, fmt.Errorf("volume spec %q has empty source", spec)
	}
	if !strings.HasPrefix(m.Target, "/") {
		return Mount{}, fmt.Errorf("volume spec %q target must be an absolute path", spec)
	}

	if len(parts) == 3 {
		switch parts[2] {
		case "ro":
			m.ReadOnly = true
		case "rw":
		default:
			return Mount{}, fmt.Errorf("volume spec %q has unknown option %q", spec, parts[2])
		}
	}

	return m, nil
}

// PortSpec is a parsed publish spec.
type PortSpec struct {
	HostPort      int
	ContainerPort int
	Protocol      string // tcp or udp
}

// ParsePort parses a "[hostPort:]containerPort[/proto]" publish spec.
// Without an explicit host port the same port is published on the host.
func ParsePort(spec string) (PortSpec, error) {
	portPart, proto, hasProto := strings.Cut(spec, "/")
	if !hasProto {
		proto = "tcp"
	}
	if proto != "tcp" && proto != "udp" {
		return PortSpec{}, fmt.Errorf("port spec %q has unknown protocol %q", spec, proto)
	}

	p := PortSpec{Protocol: proto}

	host, cont, hasHost := strings.Cut(portPart, ":")
	if !hasHost {
		cont = host
		host = ""
	}

	var err error
	p.ContainerPort, err = parsePortNumber(cont)
	if err != nil {
		return PortSpec{}, fmt.Errorf("port spec %q: %w", spec, err)
	}

	if host != "" {
		p.HostPort, err = parsePortNumber(host)
		if err != nil {
			return PortSpec{}, fmt.Errorf("port spec %q: %w", spec, err)
		}
	} else {
		p.HostPort = p.ContainerPort
	}

	return p, nil
}

func parsePortNumber(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return n, nil
}
