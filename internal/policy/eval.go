package policy

import (
	"fmt"
	"strconv"
	"strings"
)

// portSet is a parsed dst port list: any, or a set of inclusive ranges.
type portSet struct {
	any    bool
	ranges []portRange
}

type portRange struct {
	lo, hi uint16
}

func (ps portSet) contains(port uint16) bool {
	if ps.any {
		return true
	}
	for _, r := range ps.ranges {
		if port >= r.lo && port <= r.hi {
			return true
		}
	}
	return false
}

// parsePorts parses "*", "53", "80-90", or a comma list of those.
func parsePorts(spec string) (portSet, error) {
	if spec == "*" {
		return portSet{any: true}, nil
	}

	var ps portSet
	for _, part := range strings.Split(spec, ",") {
		lo, hi, hasRange := strings.Cut(part, "-")
		r := portRange{}

		n, err := parsePortNumber(lo)
		if err != nil {
			return portSet{}, err
		}
		r.lo, r.hi = n, n

		if hasRange {
			n, err := parsePortNumber(hi)
			if err != nil {
				return portSet{}, err
			}
			r.hi = n
			if r.hi < r.lo {
				return portSet{}, fmt.Errorf("invalid port range %q", part)
			}
		}

		ps.ranges = append(ps.ranges, r)
	}
	return ps, nil
}

func parsePortNumber(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return uint16(n), nil
}

// Allows reports whether the policy permits src to reach dst on port.
// Rules are evaluated in order and the first accept wins; a policy with no
// matching rule denies.
//
// src is an identity (user login or tag). dst is a tag, host name, or IP;
// host names defined in Hosts match both by name and by their IP.
func (p *Policy) Allows(src, dst string, port uint16) bool {
	for _, rule := range p.ACLs {
		if rule.Action != "accept" {
			continue
		}
		if !p.matchSrc(rule.Src, src) {
			continue
		}
		if p.matchDst(rule.Dst, dst, port) {
			return true
		}
	}
	return false
}

func (p *Policy) matchSrc(entries []string, src string) bool {
	for _, entry := range entries {
		switch {
		case entry == "*":
			return true
		case entry == src:
			return true
		case strings.HasPrefix(entry, "group:"):
			for _, member := range p.Groups[entry] {
				if member == src {
					return true
				}
			}
		}
	}
	return false
}

func (p *Policy) matchDst(entries []string, dst string, port uint16) bool {
	for _, entry := range entries {
		host, portsSpec, err := splitDst(entry)
		if err != nil {
			continue
		}
		ports, err := parsePorts(portsSpec)
		if err != nil {
			continue
		}
		if !ports.contains(port) {
			continue
		}
		if p.matchHost(host, dst) {
			return true
		}
	}
	return false
}

func (p *Policy) matchHost(entry, dst string) bool {
	if entry == "*" || entry == dst {
		return true
	}
	// A dst given as a host alias also matches the alias's IP, and vice
	// versa.
	if ip, ok := p.Hosts[entry]; ok && ip == dst {
		return true
	}
	if ip, ok := p.Hosts[dst]; ok && ip == entry {
		return true
	}
	return false
}

// ExpandGroup returns the members of a group, or nil if undefined.
func (p *Policy) ExpandGroup(name string) []string {
	return p.Groups[name]
}

// TagOwnersOf returns the identities allowed to apply a tag.
func (p *Policy) TagOwnersOf(tag string) []string {
	return p.TagOwners[tag]
}
