package gitcli

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/underlay-tools/underlay/pkg/errors"
)

// Result carries the outcome of one git invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes git commands. The error return is reserved for spawn
// level failures, completed commands report through ExitCode.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (Result, error)
}

// lookPath is patchable for tests
var lookPath = exec.LookPath

type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, err
	}
	return res, nil
}
