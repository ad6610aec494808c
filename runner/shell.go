package runner

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Command is one child process invocation
type Command struct {
	Argv []string
	Env  []string
	Dir  string
}

func (c Command) String() string {
	return strings.Join(c.Argv, " ")
}

type CommandResult struct {
	Output   string
	ExitCode int
}

// CommandRunner abstracts process execution so stages can be driven by a
// fake in tests
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (CommandResult, error)
}

// ShellRunner executes commands as child processes and captures their output
type ShellRunner struct {
	// Stream optionally receives output as it is produced.
	Stream io.Writer
}

func (r *ShellRunner) Run(ctx context.Context, command Command) (CommandResult, error) {
	if len(command.Argv) == 0 {
		return CommandResult{ExitCode: -1}, errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, command.Argv[0], command.Argv[1:]...)
	cmd.Env = command.Env
	cmd.Dir = command.Dir
	// Grandchildren holding the output pipes must not outlive a cancelled run
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	stdoutWriters := []io.Writer{&stdout}
	stderrWriters := []io.Writer{&stderr}
	if r.Stream != nil {
		stdoutWriters = append(stdoutWriters, r.Stream)
		stderrWriters = append(stderrWriters, r.Stream)
	}
	cmd.Stdout = io.MultiWriter(stdoutWriters...)
	cmd.Stderr = io.MultiWriter(stderrWriters...)

	err := cmd.Run()

	// Combine stdout and stderr
	combined := stdout.String() + stderr.String()
	if len(combined) > 0 && !strings.HasSuffix(combined, "\n") {
		combined += "\n"
	}

	result := CommandResult{Output: combined}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, errors.Errorf("exit status %d", result.ExitCode)
		}
		result.ExitCode = -1
		return result, errors.Wrapf(err, "failed to run %s", command.Argv[0])
	}
	return result, nil
}

// shellCommand builds the argv that runs script through the configured shell
func shellCommand(shell []string, script string) []string {
	argv := make([]string, 0, len(shell)+1)
	argv = append(argv, shell...)
	return append(argv, script)
}
