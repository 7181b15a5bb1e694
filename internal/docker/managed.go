package docker

// Managed is a container owned by a tailhole stack, identified by its
// ownership labels.
type Managed struct {
	// ID is the container ID.
	ID string

	// Name is the container name as reported by the engine.
	Name string

	// Service is the stack service this container was created from.
	Service string

	// ConfigHash is the descriptor digest stamped at create time.
	ConfigHash string

	// State is the engine-reported state (running, exited, ...).
	State string

	// Labels contains all container labels.
	Labels map[string]string
}

// IsRunning reports whether the engine considers the container running.
func (m Managed) IsRunning() bool {
	return m.State == "running"
}

// ManagedSet is a slice of managed containers with lookup helpers.
type ManagedSet []Managed

// ByService indexes the set by service name, one primary container per
// service. When a service has more than one container (a half-finished
// recreate), a running one is preferred; the rest are reported by
// Duplicates.
func (ms ManagedSet) ByService() map[string]Managed {
	out := make(map[string]Managed, len(ms))
	for _, m := range ms {
		cur, ok := out[m.Service]
		if !ok || (!cur.IsRunning() && m.IsRunning()) {
			out[m.Service] = m
		}
	}
	return out
}

// Duplicates returns every container that is not the primary for its
// service.
func (ms ManagedSet) Duplicates() ManagedSet {
	primary := ms.ByService()
	var out ManagedSet
	for _, m := range ms {
		if primary[m.Service].ID != m.ID {
			out = append(out, m)
		}
	}
	return out
}

// Running returns only running containers.
func (ms ManagedSet) Running() ManagedSet {
	var out ManagedSet
	for _, m := range ms {
		if m.IsRunning() {
			out = append(out, m)
		}
	}
	return out
}
