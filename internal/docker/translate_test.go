package docker

import (
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"

	"github.com/WillMorrison/tailhole/internal/stack"
)

func TestTranslate(t *testing.T) {
	in := CreateInput{
		StackName:   "tailhole",
		ServiceName: "tailscale",
		ConfigHash:  "abc123def456",
		SecretFiles: map[string]string{
			"ts_authkey": "/opt/tailhole/secrets/ts_authkey",
		},
		Service: &stack.Service{
			Image:    "tailscale/tailscale:latest",
			Hostname: "pihole",
			Environment: map[string]string{
				"TS_STATE_DIR": "/var/lib/tailscale",
			},
			Volumes: []string{"tailscale-state:/var/lib/tailscale"},
			Secrets: []string{"ts_authkey"},
			CapAdd:  []string{"NET_ADMIN"},
			Devices: []string{"/dev/net/tun"},
			Restart: "unless-stopped",
		},
	}

	cfg, hostCfg, _, err := translate(in)
	if err != nil {
		t.Fatalf("translate() error = %v", err)
	}

	if cfg.Image != "tailscale/tailscale:latest" {
		t.Errorf("image = %q", cfg.Image)
	}
	if cfg.Hostname != "pihole" {
		t.Errorf("hostname = %q", cfg.Hostname)
	}
	if cfg.Labels[stack.LabelStack] != "tailhole" ||
		cfg.Labels[stack.LabelService] != "tailscale" ||
		cfg.Labels[stack.LabelConfigHash] != "abc123def456" {
		t.Errorf("ownership labels = %v", cfg.Labels)
	}
	if len(cfg.Env) != 1 || cfg.Env[0] != "TS_STATE_DIR=/var/lib/tailscale" {
		t.Errorf("env = %v", cfg.Env)
	}

	wantBinds := map[string]bool{
		"tailscale-state:/var/lib/tailscale":                            true,
		"/opt/tailhole/secrets/ts_authkey:/run/secrets/ts_authkey:ro": true,
	}
	if len(hostCfg.Binds) != 2 {
		t.Fatalf("binds = %v, want 2", hostCfg.Binds)
	}
	for _, b := range hostCfg.Binds {
		if !wantBinds[b] {
			t.Errorf("unexpected bind %q", b)
		}
	}

	if len(hostCfg.CapAdd) != 1 || hostCfg.CapAdd[0] != "NET_ADMIN" {
		t.Errorf("cap_add = %v", hostCfg.CapAdd)
	}
	if hostCfg.RestartPolicy.Name != container.RestartPolicyUnlessStopped {
		t.Errorf("restart policy = %v", hostCfg.RestartPolicy)
	}
	if len(hostCfg.Resources.Devices) != 1 || hostCfg.Resources.Devices[0].PathOnHost != "/dev/net/tun" {
		t.Errorf("devices = %v", hostCfg.Resources.Devices)
	}
}

func TestTranslatePorts(t *testing.T) {
	in := CreateInput{
		StackName:   "tailhole",
		ServiceName: "pihole",
		Service: &stack.Service{
			Image: "pihole/pihole:latest",
			Ports: []string{"53:53/udp", "8080:80"},
		},
	}

	cfg, hostCfg, _, err := translate(in)
	if err != nil {
		t.Fatalf("translate() error = %v", err)
	}

	udp := nat.Port("53/udp")
	if _, ok := cfg.ExposedPorts[udp]; !ok {
		t.Errorf("53/udp not exposed: %v", cfg.ExposedPorts)
	}
	if got := hostCfg.PortBindings[udp]; len(got) != 1 || got[0].HostPort != "53" {
		t.Errorf("53/udp binding = %v", got)
	}

	tcp := nat.Port("80/tcp")
	if got := hostCfg.PortBindings[tcp]; len(got) != 1 || got[0].HostPort != "8080" {
		t.Errorf("80/tcp binding = %v", got)
	}
}

func TestTranslateMissingSecret(t *testing.T) {
	in := CreateInput{
		StackName:   "tailhole",
		ServiceName: "tailscale",
		Service: &stack.Service{
			Image:   "tailscale/tailscale:latest",
			Secrets: []string{"ts_authkey"},
		},
	}

	if _, _, _, err := translate(in); err == nil {
		t.Fatal("translate() with unresolved secret should fail")
	}
}

func TestTranslateDevice(t *testing.T) {
	tests := []struct {
		in   string
		want container.DeviceMapping
	}{
		{"/dev/net/tun", container.DeviceMapping{PathOnHost: "/dev/net/tun", PathInContainer: "/dev/net/tun", CgroupPermissions: "rwm"}},
		{"/dev/sda:/dev/xvda:r", container.DeviceMapping{PathOnHost: "/dev/sda", PathInContainer: "/dev/xvda", CgroupPermissions: "r"}},
	}

	for _, tt := range tests {
		if got := translateDevice(tt.in); got != tt.want {
			t.Errorf("translateDevice(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestManagedSetByService(t *testing.T) {
	ms := ManagedSet{
		{ID: "1", Service: "pihole", State: "exited"},
		{ID: "2", Service: "tailscale", State: "exited"},
		{ID: "3", Service: "pihole", State: "running"},
	}

	byService := ms.ByService()
	if len(byService) != 2 {
		t.Fatalf("ByService() has %d entries, want 2", len(byService))
	}
	if byService["pihole"].ID != "3" {
		t.Errorf("running container should win: %v", byService["pihole"])
	}

	dups := ms.Duplicates()
	if len(dups) != 1 || dups[0].ID != "1" {
		t.Errorf("Duplicates() = %v", dups)
	}

	running := ms.Running()
	if len(running) != 1 || running[0].ID != "3" {
		t.Errorf("Running() = %v", running)
	}
}
