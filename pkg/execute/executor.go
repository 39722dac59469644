// pkg/execute/executor.go

package execute

import (
	"context"
	"fmt"
	"strings"

	"github.com/ICRAR/fabtemplate/pkg/fab_err"
	"github.com/ICRAR/fabtemplate/pkg/inventory"
)

// Executor runs commands on one target host.
type Executor interface {
	// Run executes cmd. A non-zero exit is returned as an error wrapping
	// *CommandError unless cmd.AllowFail is set; the Result is filled either way.
	Run(ctx context.Context, cmd *Cmd) (Result, error)
	// Put copies a local file to path on the target, keeping its mode.
	Put(ctx context.Context, localPath, remotePath string) error
	// Home returns the login user's home directory on the target.
	Home(ctx context.Context) (string, error)
	// AsUser returns an executor acting as another account on the same host.
	AsUser(ctx context.Context, user string) (Executor, error)
	Host() inventory.Host
	IsLocal() bool
	Close() error
}

// Result is the outcome of one command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// OK reports a zero exit code.
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// Output returns stdout without surrounding whitespace.
func (r Result) Output() string {
	return strings.TrimSpace(r.Stdout)
}

// CommandError is a command that exited non-zero on a target.
type CommandError struct {
	Host     string
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *CommandError) Error() string {
	out := e.Stderr
	if strings.TrimSpace(out) == "" {
		out = e.Stdout
	}
	return fmt.Sprintf("%s: `%s` exited %d: %s",
		e.Host, e.Command, e.ExitCode, fab_err.ExtractSummary(out, 2))
}

// NewCommandFailure builds the error an Executor returns for a command
// that exited non-zero.
func NewCommandFailure(host, line string, res Result) error {
	return failure(host, line, res)
}

func failure(host, line string, res Result) error {
	cmdErr := &CommandError{
		Host:     host,
		Command:  line,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}
	return fab_err.NewRemoteError("remote command failed", cmdErr)
}

// Check runs a test-style command and reports whether it exited zero.
// Errors other than a non-zero exit are returned.
func Check(ctx context.Context, ex Executor, cmd *Cmd) (bool, error) {
	cmd.AllowFail = true
	cmd.Quiet = true
	res, err := ex.Run(ctx, cmd)
	if err != nil {
		return false, err
	}
	return res.OK(), nil
}

// Exists reports whether path exists on the target.
func Exists(ctx context.Context, ex Executor, path string) (bool, error) {
	return Check(ctx, ex, Command("test", "-e", path))
}

// DirExists reports whether path is a directory on the target.
func DirExists(ctx context.Context, ex Executor, path string) (bool, error) {
	return Check(ctx, ex, Command("test", "-d", path))
}

// HasCommand reports whether name resolves on the target's PATH.
func HasCommand(ctx context.Context, ex Executor, name string) (bool, error) {
	return Check(ctx, ex, Shell("command -v "+Quote(name)+" >/dev/null 2>&1"))
}

// Output runs cmd and returns its trimmed stdout.
func Output(ctx context.Context, ex Executor, cmd *Cmd) (string, error) {
	res, err := ex.Run(ctx, cmd)
	if err != nil {
		return "", err
	}
	return res.Output(), nil
}
