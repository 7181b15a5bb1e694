package stack

import (
	"fmt"
	"strings"
)

// ValidationError aggregates every problem found in a descriptor so a
// single load reports all of them at once.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("stack error: %s", e.Errors[0])
	}
	return fmt.Sprintf("stack errors:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Validate checks the descriptor for structural problems: missing images,
// dangling volume/secret/network/dependency references, bad restart
// policies, unparsable mount and port specs. All problems are collected
// before returning.
func (s *Stack) Validate() error {
	var errs []string

	if s.Name == "" {
		errs = append(errs, "stack: name is required")
	}
	if len(s.Services) == 0 {
		errs = append(errs, "stack: at least one service is required")
	}

	for name, secret := range s.Secrets {
		if secret == nil || secret.File == "" {
			errs = append(errs, fmt.Sprintf("secret %s: file is required", name))
		}
	}

	for _, name := range s.ServiceNames() {
		errs = append(errs, s.validateService(name, s.Services[name])...)
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func (s *Stack) validateService(name string, svc *Service) []string {
	var errs []string

	if svc == nil {
		return []string{fmt.Sprintf("service %s: empty definition", name)}
	}
	if svc.Image == "" {
		errs = append(errs, fmt.Sprintf("service %s: image is required", name))
	}

	if _, err := ParseRestartPolicy(svc.Restart); err != nil {
		errs = append(errs, fmt.Sprintf("service %s: %s", name, err))
	}

	for _, spec := range svc.Volumes {
		m, err := ParseMount(spec)
		if err != nil {
			errs = append(errs, fmt.Sprintf("service %s: %s", name, err))
			continue
		}
		if !m.IsBind() {
			if _, ok := s.Volumes[m.Source]; !ok {
				errs = append(errs, fmt.Sprintf("service %s: volume %q is not defined in the stack", name, m.Source))
			}
		}
	}

	for _, spec := range svc.Ports {
		if _, err := ParsePort(spec); err != nil {
			errs = append(errs, fmt.Sprintf("service %s: %s", name, err))
		}
	}

	for _, ref := range svc.Secrets {
		if _, ok := s.Secrets[ref]; !ok {
			errs = append(errs, fmt.Sprintf("service %s: secret %q is not defined in the stack", name, ref))
		}
	}

	for _, ref := range svc.Networks {
		if _, ok := s.Networks[ref]; !ok {
			errs = append(errs, fmt.Sprintf("service %s: network %q is not defined in the stack", name, ref))
		}
	}

	for _, dep := range svc.DependsOn {
		if dep == name {
			errs = append(errs, fmt.Sprintf("service %s: depends on itself", name))
			continue
		}
		if _, ok := s.Services[dep]; !ok {
			errs = append(errs, fmt.Sprintf("service %s: depends on unknown service %q", name, dep))
		}
	}

	return errs
}
