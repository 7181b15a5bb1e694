// tailhole manages a declarative Pi-hole-behind-a-tailnet deployment: it
// converges a YAML service stack against the Docker engine, keeps it
// running, validates the tailnet access policy and serve descriptors, and
// verifies DNS filtering from the client side.
package main

import "github.com/WillMorrison/tailhole/internal/cli"

// Version is set via ldflags during build.
// Example: -ldflags="-X main.Version=v1.0.0"
var Version = "dev"

func main() {
	cli.Execute(Version)
}
