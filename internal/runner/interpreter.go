package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// Invocation describes one interpreter call. All paths are absolute.
type Invocation struct {
	Workspace string
	Notebook  string
	Output    string
	Env       []string
	Timeout   time.Duration
}

// Output is what the interpreter printed.
type Output struct {
	Stdout string
	Stderr string
}

// Interpreter executes a prepared notebook and renders it to Invocation.Output.
// It must stop when ctx is done.
type Interpreter interface {
	Execute(ctx context.Context, inv Invocation) (Output, error)
}

// InterpreterFunc adapts a function to Interpreter.
type InterpreterFunc func(ctx context.Context, inv Invocation) (Output, error)

func (f InterpreterFunc) Execute(ctx context.Context, inv Invocation) (Output, error) {
	return f(ctx, inv)
}

// pipeDrainDelay bounds how long Execute waits for output pipes to close once
// the interpreter has exited or been killed.
const pipeDrainDelay = 2 * time.Second

// NBConvert runs "jupyter nbconvert --execute" in the workspace. The child
// runs in its own process group so kernels it spawns die with it.
type NBConvert struct {
	// Path is the jupyter executable.
	Path string
}

func (n NBConvert) args(inv Invocation) []string {
	cellTimeout := "-1"
	if inv.Timeout > 0 {
		cellTimeout = strconv.Itoa(int(inv.Timeout.Seconds()))
	}
	return []string{
		"nbconvert", inv.Notebook,
		"--to", "html",
		"--no-input",
		"--execute",
		"--output", inv.Output,
		"--ExecutePreprocessor.timeout=" + cellTimeout,
	}
}

func (n NBConvert) Execute(ctx context.Context, inv Invocation) (Output, error) {
	bin := n.Path
	if bin == "" {
		bin = "jupyter"
	}
	cmd := exec.CommandContext(ctx, bin, n.args(inv)...)
	cmd.Dir = inv.Workspace
	cmd.Env = inv.Env
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		killProcessGroup(cmd)
		return nil
	}
	// A descendant that left the group can hold stdout open after the kill.
	cmd.WaitDelay = pipeDrainDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Output{}, fmt.Errorf("start %s: %w", bin, err)
	}
	err := cmd.Wait()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if ctx.Err() != nil {
		return out, fmt.Errorf("nbconvert interrupted: %w", ctx.Err())
	}
	if err != nil && !errors.Is(err, exec.ErrWaitDelay) {
		return out, fmt.Errorf("nbconvert: %w", err)
	}
	return out, nil
}
