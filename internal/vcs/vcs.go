// Package vcs probes version-control state of session working
// directories, currently just the repository head.
package vcs

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/shlex"
)

// DefaultProbeCommand is run in a session's working directory to
// capture the commit it started from.
const DefaultProbeCommand = "git rev-parse HEAD"

const probeTimeout = 5 * time.Second

// Prober runs the configured head-probe command.
type Prober struct {
	command func() string
}

// NewProber builds a prober. command is consulted per probe so the
// configured override applies without restart; empty means the
// default.
func NewProber(command func() string) *Prober {
	return &Prober{command: command}
}

// Head runs the probe command in dir and returns its trimmed
// output, typically a commit hash. A missing directory, a dir that
// is not a repository, or a slow command all return an error; the
// caller treats the head as unknown.
func (p *Prober) Head(ctx context.Context, dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("working directory is empty")
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", fmt.Errorf("working directory unavailable: %s", dir)
	}

	cmdline := DefaultProbeCommand
	if p.command != nil {
		if c := strings.TrimSpace(p.command()); c != "" {
			cmdline = c
		}
	}
	args, err := shlex.Split(cmdline)
	if err != nil {
		return "", fmt.Errorf("parsing probe command %q: %w", cmdline, err)
	}
	if len(args) == 0 {
		return "", fmt.Errorf("probe command is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("probing head in %s: %w", dir, err)
	}

	head := strings.TrimSpace(string(out))
	if head == "" {
		return "", fmt.Errorf("probe produced no output in %s", dir)
	}
	return head, nil
}
