package stack

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
)

// ConfigHash returns a short stable digest of a service definition. The
// engine stamps it onto containers it creates; a mismatch between the
// stamped hash and the current descriptor means the container is stale and
// must be recreated.
func ConfigHash(svc *Service) string {
	h := sha256.New()

	writeField(h, "image", svc.Image)
	writeField(h, "hostname", svc.Hostname)
	writeList(h, "command", svc.Command)
	writeMap(h, "environment", svc.Environment)
	writeList(h, "volumes", svc.Volumes)
	writeList(h, "secrets", svc.Secrets)
	writeList(h, "ports", svc.Ports)
	writeList(h, "cap_add", svc.CapAdd)
	writeList(h, "devices", svc.Devices)
	writeMap(h, "sysctls", svc.Sysctls)
	writeList(h, "dns", svc.DNS)
	writeList(h, "networks", svc.Networks)
	writeMap(h, "labels", svc.Labels)
	writeField(h, "restart", svc.Restart)
	writeList(h, "depends_on", svc.DependsOn)

	return hex.EncodeToString(h.Sum(nil))[:12]
}

func writeField(w io.Writer, key, value string) {
	fmt.Fprintf(w, "%s=%s\n", key, value)
}

func writeList(w io.Writer, key string, values []string) {
	for i, v := range values {
		fmt.Fprintf(w, "%s[%d]=%s\n", key, i, v)
	}
}

func writeMap(w io.Writer, key string, m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s[%s]=%s\n", key, k, m[k])
	}
}
