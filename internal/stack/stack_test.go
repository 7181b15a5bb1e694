package stack

import (
	"strings"
	"testing"
)

const sampleStack = `
name: tailhole
services:
  tailscale:
    image: tailscale/tailscale:latest
    hostname: pihole
    environment:
      TS_STATE_DIR: /var/lib/tailscale
      TS_AUTHKEY: file:/run/secrets/ts_authkey
    volumes:
      - tailscale-state:/var/lib/tailscale
    secrets:
      - ts_authkey
    cap_add:
      - NET_ADMIN
    devices:
      - /dev/net/tun
    restart: unless-stopped
  pihole:
    image: pihole/pihole:latest
    environment:
      TZ: ${TZ:-UTC}
      FTLCONF_dns_listeningMode: all
    volumes:
      - pihole-config:/etc/pihole
    ports:
      - "53:53/tcp"
      - "53:53/udp"
    restart: unless-stopped
    depends_on:
      - tailscale
volumes:
  tailscale-state: {}
  pihole-config: {}
secrets:
  ts_authkey:
    file: ./secrets/ts_authkey
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(sampleStack))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if s.Name != "tailhole" {
		t.Errorf("Name = %q, want %q", s.Name, "tailhole")
	}
	if len(s.Services) != 2 {
		t.Fatalf("got %d services, want 2", len(s.Services))
	}

	pihole := s.Services["pihole"]
	if pihole.Image != "pihole/pihole:latest" {
		t.Errorf("pihole image = %q", pihole.Image)
	}
	if got := pihole.Environment["TZ"]; got != "UTC" {
		t.Errorf("TZ = %q, want interpolated default %q", got, "UTC")
	}

	ts := s.Services["tailscale"]
	if len(ts.CapAdd) != 1 || ts.CapAdd[0] != "NET_ADMIN" {
		t.Errorf("cap_add = %v", ts.CapAdd)
	}
	if len(ts.Secrets) != 1 || ts.Secrets[0] != "ts_authkey" {
		t.Errorf("secrets = %v", ts.Secrets)
	}
}

func TestParseInterpolation(t *testing.T) {
	t.Setenv("TAILHOLE_TEST_IMAGE", "pihole/pihole:2026.01")

	data := `
name: t
services:
  pihole:
    image: ${TAILHOLE_TEST_IMAGE}
`
	s, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := s.Services["pihole"].Image; got != "pihole/pihole:2026.01" {
		t.Errorf("image = %q, want interpolated value", got)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	data := `
name: t
services:
  pihole:
    image: pihole/pihole:latest
    imagee: typo
`
	if _, err := Parse([]byte(data)); err == nil {
		t.Fatal("Parse() accepted unknown field, want error")
	}
}

func TestValidateAggregatesErrors(t *testing.T) {
	data := `
name: t
services:
  a:
    image: ""
    restart: sometimes
    volumes:
      - missing-vol:/data
    secrets:
      - missing-secret
    depends_on:
      - nonexistent
`
	_, err := Parse([]byte(data))
	if err == nil {
		t.Fatal("Parse() error = nil, want validation errors")
	}

	for _, want := range []string{
		"image is required",
		"unknown restart policy",
		`volume "missing-vol"`,
		`secret "missing-secret"`,
		`unknown service "nonexistent"`,
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestParseRestartPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    RestartPolicy
		wantErr bool
	}{
		{"", RestartPolicy{Mode: RestartNever}, false},
		{"no", RestartPolicy{Mode: RestartNever}, false},
		{"always", RestartPolicy{Mode: RestartAlways}, false},
		{"unless-stopped", RestartPolicy{Mode: RestartUnlessStopped}, false},
		{"on-failure", RestartPolicy{Mode: RestartOnFailure}, false},
		{"on-failure:5", RestartPolicy{Mode: RestartOnFailure, MaxRetries: 5}, false},
		{"on-failure:-1", RestartPolicy{}, true},
		{"always:3", RestartPolicy{}, true},
		{"sometimes", RestartPolicy{}, true},
	}

	for _, tt := range tests {
		got, err := ParseRestartPolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRestartPolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseRestartPolicy(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestParseMount(t *testing.T) {
	tests := []struct {
		in      string
		want    Mount
		wantErr bool
	}{
		{"pihole-config:/etc/pihole", Mount{Source: "pihole-config", Target: "/etc/pihole"}, false},
		{"/etc/localtime:/etc/localtime:ro", Mount{Source: "/etc/localtime", Target: "/etc/localtime", ReadOnly: true}, false},
		{"./secrets:/run/secrets:ro", Mount{Source: "./secrets", Target: "/run/secrets", ReadOnly: true}, false},
		{"vol:relative/path", Mount{}, true},
		{"just-a-volume", Mount{}, true},
		{"a:/b:rx", Mount{}, true},
	}

	for _, tt := range tests {
		got, err := ParseMount(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMount(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseMount(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestParseMountBindDetection(t *testing.T) {
	bind, _ := ParseMount("/hostpath:/target")
	if !bind.IsBind() {
		t.Error("absolute source should be a bind mount")
	}
	named, _ := ParseMount("myvol:/target")
	if named.IsBind() {
		t.Error("named volume should not be a bind mount")
	}
}

func TestParsePort(t *testing.T) {
	tests := []struct {
		in      string
		want    PortSpec
		wantErr bool
	}{
		{"53:53/udp", PortSpec{HostPort: 53, ContainerPort: 53, Protocol: "udp"}, false},
		{"8080:80", PortSpec{HostPort: 8080, ContainerPort: 80, Protocol: "tcp"}, false},
		{"443", PortSpec{HostPort: 443, ContainerPort: 443, Protocol: "tcp"}, false},
		{"53/udp", PortSpec{HostPort: 53, ContainerPort: 53, Protocol: "udp"}, false},
		{"0:80", PortSpec{}, true},
		{"53:53/icmp", PortSpec{}, true},
		{"notaport", PortSpec{}, true},
	}

	for _, tt := range tests {
		got, err := ParsePort(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePort(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParsePort(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestStartOrder(t *testing.T) {
	s, err := Parse([]byte(sampleStack))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	order, err := s.StartOrder()
	if err != nil {
		t.Fatalf("StartOrder() error = %v", err)
	}
	if len(order) != 2 || order[0] != "tailscale" || order[1] != "pihole" {
		t.Errorf("StartOrder() = %v, want [tailscale pihole]", order)
	}

	stop, err := s.StopOrder()
	if err != nil {
		t.Fatalf("StopOrder() error = %v", err)
	}
	if stop[0] != "pihole" || stop[1] != "tailscale" {
		t.Errorf("StopOrder() = %v, want [pihole tailscale]", stop)
	}
}

func TestStartOrderDeterministic(t *testing.T) {
	s := &Stack{
		Name: "t",
		Services: map[string]*Service{
			"c": {Image: "i"},
			"a": {Image: "i"},
			"b": {Image: "i"},
		},
	}

	order, err := s.StartOrder()
	if err != nil {
		t.Fatalf("StartOrder() error = %v", err)
	}
	if order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("StartOrder() = %v, want lexicographic [a b c]", order)
	}
}

func TestStartOrderCycle(t *testing.T) {
	s := &Stack{
		Name: "t",
		Services: map[string]*Service{
			"a": {Image: "i", DependsOn: []string{"b"}},
			"b": {Image: "i", DependsOn: []string{"a"}},
		},
	}

	_, err := s.StartOrder()
	if err == nil {
		t.Fatal("StartOrder() error = nil, want cycle error")
	}
	if !strings.Contains(err.Error(), "a, b") {
		t.Errorf("cycle error should name the services: %v", err)
	}
}

func TestConfigHash(t *testing.T) {
	svc := &Service{
		Image:       "pihole/pihole:latest",
		Environment: map[string]string{"TZ": "UTC", "A": "1"},
	}

	h1 := ConfigHash(svc)
	h2 := ConfigHash(&Service{
		Image:       "pihole/pihole:latest",
		Environment: map[string]string{"A": "1", "TZ": "UTC"},
	})
	if h1 != h2 {
		t.Errorf("hash should not depend on map iteration order: %s != %s", h1, h2)
	}
	if len(h1) != 12 {
		t.Errorf("hash length = %d, want 12", len(h1))
	}

	svc.Environment["TZ"] = "Europe/Berlin"
	if ConfigHash(svc) == h1 {
		t.Error("hash should change when environment changes")
	}
}
