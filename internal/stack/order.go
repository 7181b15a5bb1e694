package stack

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StartOrder returns service names ordered so that every service appears
// after all of its dependencies. Services with no ordering constraint
// between them come out in lexicographic order, so the result is
// deterministic. A dependency cycle is an error naming the services
// involved.
func (s *Stack) StartOrder() ([]string, error) {
	// Kahn's algorithm with a sorted ready set.
	indegree := make(map[string]int, len(s.Services))
	dependents := make(map[string][]string, len(s.Services))

	for name, svc := range s.Services {
		if _, ok := indegree[name]; !ok {
			indegree[name] = 0
		}
		for _, dep := range svc.DependsOn {
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(s.Services))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		changed := false
		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
				changed = true
			}
		}
		if changed {
			sort.Strings(ready)
		}
	}

	if len(order) != len(s.Services) {
		var cycle []string
		for name, deg := range indegree {
			if deg > 0 {
				cycle = append(cycle, name)
			}
		}
		sort.Strings(cycle)
		return nil, fmt.Errorf("dependency cycle involving: %s", strings.Join(cycle, ", "))
	}

	return order, nil
}

// StopOrder is the reverse of StartOrder: dependents stop before the
// services they depend on.
func (s *Stack) StopOrder() ([]string, error) {
	order, err := s.StartOrder()
	if err != nil {
		return nil, err
	}
	slices.Reverse(order)
	return order, nil
}
