// Package external launches the external tunnel binary for the server and
// client modes. The binary owns its own route tables and lifetime; this
// package only builds its command line and relays its exit status.
package external

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/1ureka/gtpeer/internal/util"
)

// Mode selects the entry point of the external binary.
type Mode string

const (
	ModeServer Mode = "server"
	ModeClient Mode = "client"
)

// Runner runs the external binary with inherited standard streams unless
// they are overridden.
type Runner struct {
	Binary string
	Args   []string // appended after the mode and -config

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Command returns the command line for mode: "<binary> <mode> [-config
// <path>] [args...]".
func (r Runner) Command(ctx context.Context, mode Mode, configPath string, extra ...string) (*exec.Cmd, error) {
	if mode != ModeServer && mode != ModeClient {
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
	binary := r.Binary
	if binary == "" {
		binary = "gt"
	}

	args := []string{string(mode)}
	if configPath != "" {
		args = append(args, "-config", configPath)
	}
	args = append(args, r.Args...)
	args = append(args, extra...)

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if r.Stdin != nil {
		cmd.Stdin = r.Stdin
	}
	if r.Stdout != nil {
		cmd.Stdout = r.Stdout
	}
	if r.Stderr != nil {
		cmd.Stderr = r.Stderr
	}
	return cmd, nil
}

// Run starts the binary and waits for it. A non-zero exit is returned as
// an *exec.ExitError; use ExitCode to recover the status.
func (r Runner) Run(ctx context.Context, mode Mode, configPath string, extra ...string) error {
	cmd, err := r.Command(ctx, mode, configPath, extra...)
	if err != nil {
		return err
	}

	util.LogDebug("running %s", cmd.String())
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr
		}
		return fmt.Errorf("failed to run %s: %w", cmd.Path, err)
	}
	return nil
}

// ExitCode returns the process exit status carried by err: 0 for nil, the
// child's status for an *exec.ExitError and 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
		return exitErr.ExitCode()
	}
	return 1
}
