package pihole

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ListeningMode controls which interfaces FTL answers DNS queries on.
type ListeningMode string

const (
	// ListenLocal answers only on the local subnet.
	ListenLocal ListeningMode = "LOCAL"
	// ListenAll answers on all interfaces. Safe when the node is only
	// reachable over the tailnet.
	ListenAll ListeningMode = "ALL"
	// ListenBind binds only the configured interface.
	ListenBind ListeningMode = "BIND"
)

// BlockingMode controls what blocked queries resolve to.
type BlockingMode string

const (
	// BlockNull answers blocked queries with 0.0.0.0 / ::.
	BlockNull BlockingMode = "NULL"
	// BlockNXDomain answers blocked queries with NXDOMAIN.
	BlockNXDomain BlockingMode = "NXDOMAIN"
)

// Settings is the subset of Pi-hole v6 configuration tailhole manages.
// It renders to pihole.toml, which the container reads at startup.
type Settings struct {
	DNS DNSSettings `toml:"dns"`
	Web WebSettings `toml:"webserver"`
}

// DNSSettings configures the FTL resolver.
type DNSSettings struct {
	Upstreams     []string      `toml:"upstreams"`
	Listening     ListeningMode `toml:"listeningMode"`
	BlockingMode  BlockingMode  `toml:"blockingmode"`
	Domain        string        `toml:"domain,omitempty"`
	DNSSEC        bool          `toml:"dnssec"`
	QueryLogging  bool          `toml:"queryLogging"`
	CacheSize     int           `toml:"cacheSize,omitempty"`
	ConditionalFw []string      `toml:"revServers,omitempty"`
}

// WebSettings configures the admin interface.
type WebSettings struct {
	Port string `toml:"port,omitempty"`
}

// DefaultSettings returns settings suitable for a tailnet-only deployment:
// listen on all interfaces (the tailnet is the perimeter), null blocking,
// and well-known public upstreams.
func DefaultSettings() *Settings {
	return &Settings{
		DNS: DNSSettings{
			Upstreams:    []string{"1.1.1.1", "1.0.0.1"},
			Listening:    ListenAll,
			BlockingMode: BlockNull,
			DNSSEC:       true,
			QueryLogging: true,
		},
	}
}

// Validate checks the settings for obvious misconfiguration.
func (s *Settings) Validate() error {
	if len(s.DNS.Upstreams) == 0 {
		return fmt.Errorf("at least one upstream resolver is required")
	}
	switch s.DNS.Listening {
	case ListenLocal, ListenAll, ListenBind:
	default:
		return fmt.Errorf("invalid listening mode %q (must be LOCAL, ALL, or BIND)", s.DNS.Listening)
	}
	switch s.DNS.BlockingMode {
	case BlockNull, BlockNXDomain:
	default:
		return fmt.Errorf("invalid blocking mode %q (must be NULL or NXDOMAIN)", s.DNS.BlockingMode)
	}
	return nil
}

// Render writes the settings as TOML.
func (s *Settings) Render(w io.Writer) error {
	if err := s.Validate(); err != nil {
		return err
	}
	enc := toml.NewEncoder(w)
	enc.Indent = ""
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	return nil
}

// WriteFile renders the settings to path, creating parent directories.
func (s *Settings) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating settings file: %w", err)
	}
	defer f.Close()

	if err := s.Render(f); err != nil {
		return err
	}
	return f.Close()
}

// LoadSettings reads a settings file, rejecting unknown keys.
func LoadSettings(path string) (*Settings, error) {
	var s Settings
	meta, err := toml.DecodeFile(path, &s)
	if err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown settings key %q", undecoded[0].String())
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
