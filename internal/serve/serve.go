// Package serve defines the reverse-proxy routing descriptor handed to the
// mesh node: which ports it should accept connections on, whether it
// terminates TLS there, and which local backend each mount point proxies
// to. The shape follows the tailscale serve configuration so the rendered
// JSON can be applied directly on the node.
package serve

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Config is the root routing descriptor.
type Config struct {
	// TCP maps a listening port to its handler.
	TCP map[uint16]*TCPHandler `json:"TCP,omitempty"`

	// Web maps "host:port" to the HTTP handlers mounted there.
	Web map[string]*WebHandlers `json:"Web,omitempty"`

	// AllowFunnel lists "host:port" values that accept traffic from
	// outside the tailnet.
	AllowFunnel map[string]bool `json:"AllowFunnel,omitempty"`
}

// TCPHandler describes what to do with connections on one port.
type TCPHandler struct {
	// HTTPS, if true, serves the Web handlers for this port with TLS
	// terminated at the node. Mutually exclusive with Forward.
	HTTPS bool `json:"HTTPS,omitempty"`

	// Forward is an IP:port to forward raw TCP connections to.
	// Mutually exclusive with HTTPS.
	Forward string `json:"TCPForward,omitempty"`

	// TerminateTLS, if non-empty, strips TLS before forwarding,
	// accepting only this SNI name. Only meaningful with Forward.
	TerminateTLS string `json:"TerminateTLS,omitempty"`
}

// WebHandlers maps mount point to backend.
type WebHandlers struct {
	Handlers map[string]*HTTPHandler `json:"Handlers"`
}

// HTTPHandler proxies a mount point to a backend URL.
type HTTPHandler struct {
	// Proxy is the backend URL to forward requests to.
	Proxy string `json:"Proxy,omitempty"`

	// Path serves a file or directory instead of proxying.
	// Mutually exclusive with Proxy.
	Path string `json:"Path,omitempty"`
}

// Funnel-capable ports, fixed by the mesh platform.
var funnelPorts = map[uint16]bool{443: true, 8443: true, 10000: true}

// Validate checks the descriptor for structural problems.
func (c *Config) Validate() error {
	var errs []string

	for port, h := range c.TCP {
		if h == nil {
			errs = append(errs, fmt.Sprintf("port %d: empty handler", port))
			continue
		}
		if h.HTTPS && h.Forward != "" {
			errs = append(errs, fmt.Sprintf("port %d: HTTPS and TCPForward are mutually exclusive", port))
		}
		if !h.HTTPS && h.Forward == "" {
			errs = append(errs, fmt.Sprintf("port %d: one of HTTPS or TCPForward is required", port))
		}
		if h.TerminateTLS != "" && h.Forward == "" {
			errs = append(errs, fmt.Sprintf("port %d: TerminateTLS requires TCPForward", port))
		}
		if h.Forward != "" {
			if _, _, err := net.SplitHostPort(h.Forward); err != nil {
				errs = append(errs, fmt.Sprintf("port %d: invalid forward address %q", port, h.Forward))
			}
		}
		if h.HTTPS {
			if !c.hasWebHandlers(port) {
				errs = append(errs, fmt.Sprintf("port %d: HTTPS enabled but no web handlers mounted", port))
			}
		}
	}

	for hostPort, web := range c.Web {
		port, err := hostPortPort(hostPort)
		if err != nil {
			errs = append(errs, fmt.Sprintf("web %q: %s", hostPort, err))
			continue
		}
		if h, ok := c.TCP[port]; !ok || h == nil || !h.HTTPS {
			errs = append(errs, fmt.Sprintf("web %q: port %d is not configured for HTTPS", hostPort, port))
		}
		if web == nil || len(web.Handlers) == 0 {
			errs = append(errs, fmt.Sprintf("web %q: no handlers", hostPort))
			continue
		}
		for mount, handler := range web.Handlers {
			if !strings.HasPrefix(mount, "/") {
				errs = append(errs, fmt.Sprintf("web %q: mount %q must start with /", hostPort, mount))
			}
			switch {
			case handler == nil, handler.Proxy == "" && handler.Path == "":
				errs = append(errs, fmt.Sprintf("web %q mount %q: one of Proxy or Path is required", hostPort, mount))
			case handler.Proxy != "" && handler.Path != "":
				errs = append(errs, fmt.Sprintf("web %q mount %q: Proxy and Path are mutually exclusive", hostPort, mount))
			case handler.Proxy != "":
				if _, err := ExpandProxyTarget(handler.Proxy); err != nil {
					errs = append(errs, fmt.Sprintf("web %q mount %q: %s", hostPort, mount, err))
				}
			}
		}
	}

	for hostPort := range c.AllowFunnel {
		port, err := hostPortPort(hostPort)
		if err != nil {
			errs = append(errs, fmt.Sprintf("funnel %q: %s", hostPort, err))
			continue
		}
		if !funnelPorts[port] {
			errs = append(errs, fmt.Sprintf("funnel %q: port %d is not a funnel port (443, 8443, 10000)", hostPort, port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("serve config errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) hasWebHandlers(port uint16) bool {
	suffix := ":" + strconv.Itoa(int(port))
	for hostPort, web := range c.Web {
		if strings.HasSuffix(hostPort, suffix) && web != nil && len(web.Handlers) > 0 {
			return true
		}
	}
	return false
}

// hostPortPort extracts the port from a "host:port" key.
func hostPortPort(hostPort string) (uint16, error) {
	_, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return 0, fmt.Errorf("must be host:port")
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return 0, fmt.Errorf("invalid port %q", portStr)
	}
	return uint16(port), nil
}

// ExpandProxyTarget normalizes a proxy backend spec to a full URL.
// Accepted forms: "3000", "localhost:3000", "host:3000",
// "http://host:3000", "https://host".
func ExpandProxyTarget(target string) (string, error) {
	if !strings.Contains(target, "://") {
		// Bare port?
		if port, err := strconv.ParseUint(target, 10, 16); err == nil && port > 0 {
			return fmt.Sprintf("http://127.0.0.1:%d", port), nil
		}
		target = "http://" + target
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid proxy target %q", target)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("proxy target scheme must be http or https, got %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("invalid proxy target %q", target)
	}
	if u.Path != "" && u.Path != "/" {
		return "", fmt.Errorf("proxy target %q must not have a path", target)
	}
	u.Path = ""
	return u.String(), nil
}

// MarshalJSONIndent renders the descriptor as stable, indented JSON.
// Map keys come out sorted, so the output is diffable across runs.
func (c *Config) MarshalJSONIndent() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// HostPorts returns the Web keys in sorted order.
func (c *Config) HostPorts() []string {
	keys := make([]string, 0, len(c.Web))
	for k := range c.Web {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
