package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/danmuck/toolbox/internal/logging"
)

// CommandRunner abstracts one-shot command execution.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// Result is the captured outcome of a finished command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int32
}

// ExecRunner executes commands on the local host.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = int32(exitErr.ExitCode())
		return res, err
	}
	res.ExitCode = 1
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		res.ExitCode = 127
	}
	return res, err
}

// Attempt is one way of invoking a command.
type Attempt struct {
	Name string
	Args []string
}

func (a Attempt) String() string {
	return strings.TrimSpace(a.Name + " " + strings.Join(a.Args, " "))
}

// RunFirst tries each attempt in order and returns the first success. The
// error of every failed attempt is joined into the returned error.
func RunFirst(ctx context.Context, r CommandRunner, attempts ...Attempt) (Result, error) {
	log := logging.For("tools")
	var errs []error
	for _, a := range attempts {
		res, err := r.Run(ctx, a.Name, a.Args...)
		if err == nil {
			return res, nil
		}
		log.Debug().Err(err).Str("cmd", a.Name).Int32("exit", res.ExitCode).Msg("command attempt failed")
		errs = append(errs, fmt.Errorf("%s: %w", a.Name, err))
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return Result{}, errors.New("tools: no command attempts")
	}
	return Result{}, errors.Join(errs...)
}

// ViaWSL wraps a into the same command run through the wsl launcher.
func ViaWSL(a Attempt) Attempt {
	return Attempt{Name: "wsl", Args: append([]string{a.Name}, a.Args...)}
}
