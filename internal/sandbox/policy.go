package sandbox

import "slices"

// Policy defines resource limits for containerised interpreters.
type Policy struct {
	MaxMemory string   // Docker memory limit (e.g. "256m")
	Network   bool     // Whether network access is allowed
	Images    []string // Allowed Docker images
}

// DefaultPolicy returns safe defaults for running user code.
func DefaultPolicy() Policy {
	return Policy{
		MaxMemory: "256m",
		Network:   false,
		Images: []string{
			"python:3.12-slim",
			"python:3.13-slim",
		},
	}
}

// IsImageAllowed checks if an image is on the allowlist.
func (p Policy) IsImageAllowed(image string) bool {
	return slices.Contains(p.Images, image)
}
