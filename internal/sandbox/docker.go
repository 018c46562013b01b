package sandbox

import (
	"fmt"
	"os/exec"

	"github.com/google/uuid"
)

// Docker runs the interpreter inside a throwaway container attached to the
// caller's stdin and stdout.
type Docker struct {
	Policy Policy
	Image  string
	// Binary is the docker CLI, "docker" when empty.
	Binary string
}

// NewDocker creates a launcher with the given policy and image.
func NewDocker(policy Policy, image string) *Docker {
	return &Docker{Policy: policy, Image: image}
}

func (d *Docker) binary() string {
	if d.Binary == "" {
		return "docker"
	}
	return d.Binary
}

// Args returns the docker CLI arguments for a container named name.
func (d *Docker) Args(name, script string) []string {
	args := []string{
		"run", "-i", "--rm",
		"--name", name,
		"--memory", d.Policy.MaxMemory,
		"--pids-limit", "64",
	}
	if !d.Policy.Network {
		args = append(args, "--network=none")
	}
	return append(args, d.Image, "python", "-u", "-c", script)
}

func (d *Docker) Launch(script string) (*Instance, error) {
	if !d.Policy.IsImageAllowed(d.Image) {
		return nil, fmt.Errorf("image %q not in allowlist", d.Image)
	}
	bin, err := exec.LookPath(d.binary())
	if err != nil {
		return nil, err
	}

	name := "algoprep-" + uuid.NewString()
	return &Instance{
		Cmd: exec.Command(bin, d.Args(name, script)...),
		// Killing the CLI client does not stop the container.
		Release: func() {
			_ = exec.Command(bin, "rm", "-f", name).Run()
		},
	}, nil
}
