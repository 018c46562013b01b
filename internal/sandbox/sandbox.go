// Package sandbox starts the interpreter processes that host untrusted code.
package sandbox

import (
	"os/exec"
)

// Instance is one launched interpreter process.
type Instance struct {
	Cmd *exec.Cmd
	// Release removes anything the process leaves behind once killed.
	// It may be nil.
	Release func()
}

// Launcher builds interpreter processes that run script as their program.
type Launcher interface {
	Launch(script string) (*Instance, error)
}

// Local runs the interpreter directly on the host.
type Local struct {
	Python string
}

func (l Local) Launch(script string) (*Instance, error) {
	python := l.Python
	if python == "" {
		python = "python3"
	}
	path, err := exec.LookPath(python)
	if err != nil {
		return nil, err
	}
	return &Instance{Cmd: exec.Command(path, "-u", "-c", script)}, nil
}
