package serve

import "fmt"

// AdminUIOptions describes the admin web UI route the node should serve.
type AdminUIOptions struct {
	// NodeName is the node's DNS name on the mesh (e.g.
	// "pihole.tailnet.ts.net").
	NodeName string

	// Port is the HTTPS port to listen on. Zero means 443.
	Port uint16

	// Backend is the local backend spec ("80", "127.0.0.1:80", or a
	// full URL). Empty means the Pi-hole admin UI on local port 80.
	Backend string

	// Funnel exposes the UI outside the tailnet. Off by default; the
	// admin UI of a DNS filter rarely belongs on the open internet.
	Funnel bool
}

// ForAdminUI builds the serve descriptor that terminates HTTPS on the node
// and proxies to the admin UI backend.
func ForAdminUI(opts AdminUIOptions) (*Config, error) {
	if opts.NodeName == "" {
		return nil, fmt.Errorf("node name is required")
	}

	port := opts.Port
	if port == 0 {
		port = 443
	}

	backend := opts.Backend
	if backend == "" {
		backend = "http://127.0.0.1:80"
	}
	proxy, err := ExpandProxyTarget(backend)
	if err != nil {
		return nil, err
	}

	hostPort := fmt.Sprintf("%s:%d", opts.NodeName, port)
	cfg := &Config{
		TCP: map[uint16]*TCPHandler{
			port: {HTTPS: true},
		},
		Web: map[string]*WebHandlers{
			hostPort: {
				Handlers: map[string]*HTTPHandler{
					"/": {Proxy: proxy},
				},
			},
		},
	}
	if opts.Funnel {
		cfg.AllowFunnel = map[string]bool{hostPort: true}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
