// Package policy loads and evaluates the tailnet access-control policy that
// gates who may reach the Pi-hole node: tag ownership, named groups of
// identities, and ordered accept rules from source identities to
// destination host:port pairs.
//
// The policy file is HuJSON (JSON with comments and trailing commas), the
// format the tailnet admin console uses, so the same file can be pasted
// between the two.
package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tailscale/hujson"
)

// Policy is the parsed access-control policy.
type Policy struct {
	// TagOwners maps a tag to the identities allowed to apply it.
	TagOwners map[string][]string `json:"tagOwners,omitempty"`

	// Groups maps a group name to its member identities.
	Groups map[string][]string `json:"groups,omitempty"`

	// Hosts maps a friendly name to an IP address, usable in rule
	// destinations.
	Hosts map[string]string `json:"hosts,omitempty"`

	// ACLs are the ordered accept rules. Anything not accepted by some
	// rule is denied.
	ACLs []Rule `json:"acls,omitempty"`
}

// Rule is a single accept rule.
type Rule struct {
	// Action must be "accept"; there is no deny action, deny is the
	// default.
	Action string `json:"action"`

	// Src lists who the rule applies to: "*", an identity, a group, or
	// a tag.
	Src []string `json:"src"`

	// Dst lists where they may connect: "host:ports" where host is "*",
	// a tag, an IP, or a name from Hosts, and ports is "*", a port, a
	// range "80-90", or a comma list of those.
	Dst []string `json:"dst"`
}

// Load reads, parses and validates a policy file.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a HuJSON policy and validates it.
func Parse(data []byte) (*Policy, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("standardizing hujson: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()

	var p Policy
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decoding policy: %w", err)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return &p, nil
}

// ValidationError aggregates every problem found in a policy.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("policy error: %s", e.Errors[0])
	}
	return fmt.Sprintf("policy errors:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Validate checks the policy for structural problems, collecting all of
// them before returning.
func (p *Policy) Validate() error {
	var errs []string

	for tag := range p.TagOwners {
		if !strings.HasPrefix(tag, "tag:") {
			errs = append(errs, fmt.Sprintf("tagOwners: %q must start with tag:", tag))
		}
	}
	for group := range p.Groups {
		if !strings.HasPrefix(group, "group:") {
			errs = append(errs, fmt.Sprintf("groups: %q must start with group:", group))
		}
	}

	for i, rule := range p.ACLs {
		where := fmt.Sprintf("acl rule %d", i+1)

		if rule.Action != "accept" {
			errs = append(errs, fmt.Sprintf("%s: action must be accept, got %q", where, rule.Action))
		}
		if len(rule.Src) == 0 {
			errs = append(errs, fmt.Sprintf("%s: src is required", where))
		}
		if len(rule.Dst) == 0 {
			errs = append(errs, fmt.Sprintf("%s: dst is required", where))
		}

		for _, src := range rule.Src {
			if strings.HasPrefix(src, "group:") {
				if _, ok := p.Groups[src]; !ok {
					errs = append(errs, fmt.Sprintf("%s: src references undefined group %q", where, src))
				}
			}
			if strings.HasPrefix(src, "tag:") {
				if _, ok := p.TagOwners[src]; !ok {
					errs = append(errs, fmt.Sprintf("%s: src references unowned tag %q", where, src))
				}
			}
		}

		for _, dst := range rule.Dst {
			host, ports, err := splitDst(dst)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %s", where, err))
				continue
			}
			if _, err := parsePorts(ports); err != nil {
				errs = append(errs, fmt.Sprintf("%s: dst %q: %s", where, dst, err))
			}
			if strings.HasPrefix(host, "group:") {
				errs = append(errs, fmt.Sprintf("%s: dst %q: groups are not allowed in dst", where, dst))
			}
			if strings.HasPrefix(host, "tag:") {
				if _, ok := p.TagOwners[host]; !ok {
					errs = append(errs, fmt.Sprintf("%s: dst references unowned tag %q", where, host))
				}
			}
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// splitDst separates a destination spec into host and ports at the last
// colon. The host itself may contain a colon (tag:name).
func splitDst(dst string) (host, ports string, err error) {
	idx := strings.LastIndex(dst, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("dst %q must be host:ports", dst)
	}
	host, ports = dst[:idx], dst[idx+1:]
	if host == "" || ports == "" {
		return "", "", fmt.Errorf("dst %q must be host:ports", dst)
	}
	return host, ports, nil
}
