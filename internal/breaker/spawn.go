package breaker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"
)

// generatorProcess wraps the spawned job generator. Its stdout is the
// protocol stream; stderr is passed through untouched.
type generatorProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

// spawnGenerator starts the generator command under the shell so config can
// carry a full command line including arguments and pipes. The generator
// gets its own process group so that aborting the run terminates the whole
// process tree, not just the shell.
func spawnGenerator(ctx context.Context, command string, stderr io.Writer) (*generatorProcess, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killGroup(cmd)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe generator stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start generator: %w", err)
	}
	return &generatorProcess{cmd: cmd, stdout: stdout}, nil
}

// killGroup kills the generator's entire process group (negative PID).
// A child holding the inherited stderr would otherwise keep wait blocked
// on the stderr copy until it exits on its own.
func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

// kill terminates the generator and any children it spawned.
func (g *generatorProcess) kill() {
	_ = killGroup(g.cmd)
}

// wait blocks until the generator exits and returns its exit code. A nonzero
// exit is not an error here; it becomes part of the run outcome.
func (g *generatorProcess) wait() (int, error) {
	err := g.cmd.Wait()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, fmt.Errorf("wait for generator: %w", err)
}
