// pkg/execute/local.go

package execute

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/ICRAR/fabtemplate/pkg/inventory"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// LocalExecutor runs commands on this machine through an in-process shell
// interpreter. External programs are resolved from PATH as usual.
type LocalExecutor struct {
	// Env overrides entries of the process environment, e.g. HOME in tests.
	Env map[string]string
	// Stream, when set, receives command output as it is produced.
	Stream io.Writer

	runAs string
}

func NewLocalExecutor() *LocalExecutor {
	return &LocalExecutor{}
}

func (l *LocalExecutor) Host() inventory.Host {
	u := l.runAs
	if u == "" {
		u = currentUser()
	}
	return inventory.Host{Name: "local", Address: "localhost", User: u}
}

func (l *LocalExecutor) IsLocal() bool { return true }

func (l *LocalExecutor) Close() error { return nil }

// Run parses the rendered command and runs it with the interpreter.
func (l *LocalExecutor) Run(ctx context.Context, cmd *Cmd) (Result, error) {
	logger := otelzap.Ctx(ctx)
	line := l.render(cmd)
	if cmd.Quiet {
		logger.Debug("Running local command", zap.String("command", line))
	} else {
		logger.Info("Running local command", zap.String("command", line))
	}

	prog, err := syntax.NewParser().Parse(strings.NewReader(line), "")
	if err != nil {
		return Result{ExitCode: 1}, cerr.Wrapf(err, "failed to parse command %q", line)
	}

	var stdout, stderr bytes.Buffer
	outW, errW := io.Writer(&stdout), io.Writer(&stderr)
	if l.Stream != nil && !cmd.Quiet {
		outW = io.MultiWriter(&stdout, l.Stream)
		errW = io.MultiWriter(&stderr, l.Stream)
	}

	runner, err := interp.New(
		interp.Env(expand.ListEnviron(l.environ()...)),
		interp.StdIO(nil, outW, errW),
		interp.ExecHandlers(shellBuiltins),
	)
	if err != nil {
		return Result{ExitCode: 1}, cerr.Wrap(err, "failed to create interpreter")
	}

	res := Result{}
	runErr := runner.Run(ctx, prog)
	res.Stdout, res.Stderr = stdout.String(), stderr.String()
	if runErr != nil {
		var status interp.ExitStatus
		if !errors.As(runErr, &status) {
			res.ExitCode = 1
			return res, cerr.Wrapf(runErr, "failed to run %q", line)
		}
		res.ExitCode = int(status)
	}

	if res.ExitCode != 0 && !cmd.AllowFail {
		logger.Error("Local command failed",
			zap.String("command", line),
			zap.Int("exit_code", res.ExitCode),
			zap.String("stderr", strings.TrimSpace(res.Stderr)))
		return res, failure("localhost", line, res)
	}
	return res, nil
}

// render wraps the command for the account it runs as. sudo is dropped
// only when that account is root.
func (l *LocalExecutor) render(cmd *Cmd) string {
	if l.runAs == "" {
		return cmd.Render(os.Geteuid() == 0)
	}
	line := cmd.Render(l.runAs == "root")
	return "sudo -n -H -u " + Quote(l.runAs) + " bash -lc " + Quote(line)
}

// shellBuiltins covers bash builtins the interpreter lacks. virtualenv
// activate scripts end with "hash -r", which only resets a lookup cache.
func shellBuiltins(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		if len(args) > 0 && args[0] == "hash" {
			return nil
		}
		return next(ctx, args)
	}
}

// StagingDir creates a temporary directory that other local accounts can
// traverse, for files handed to a command running through sudo.
func StagingDir(prefix string) (string, error) {
	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		return "", cerr.Wrap(err, "failed to create a temporary directory")
	}
	if err := os.Chmod(dir, 0o755); err != nil {
		_ = os.RemoveAll(dir)
		return "", cerr.Wrapf(err, "failed to open up %s", dir)
	}
	return dir, nil
}

// Put copies a file locally, creating the destination directory.
func (l *LocalExecutor) Put(ctx context.Context, localPath, remotePath string) error {
	if l.runAs != "" {
		// the other account may not be able to read our temp files; stage through sudo
		_, err := l.Run(ctx, Command("install", "-D", localPath, remotePath))
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return cerr.Wrapf(err, "failed to open %s", localPath)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return cerr.Wrapf(err, "failed to stat %s", localPath)
	}
	if err := os.MkdirAll(filepath.Dir(remotePath), 0o755); err != nil {
		return cerr.Wrapf(err, "failed to create %s", filepath.Dir(remotePath))
	}
	dst, err := os.OpenFile(remotePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return cerr.Wrapf(err, "failed to create %s", remotePath)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return cerr.Wrapf(err, "failed to copy %s to %s", localPath, remotePath)
	}
	if err := dst.Close(); err != nil {
		return err
	}
	// OpenFile honours umask; apply the source mode explicitly
	return os.Chmod(remotePath, info.Mode().Perm())
}

// Home returns HOME from the override environment, or the account's home.
func (l *LocalExecutor) Home(ctx context.Context) (string, error) {
	if l.runAs == "" {
		if h, ok := l.Env["HOME"]; ok && h != "" {
			return h, nil
		}
		return os.UserHomeDir()
	}
	return Output(ctx, l, Shell(`printf '%s' "$HOME"`).Silent())
}

// AsUser returns an executor that runs commands as user through sudo.
// Asking for the current account returns l itself.
func (l *LocalExecutor) AsUser(_ context.Context, name string) (Executor, error) {
	if name == "" || name == currentUser() {
		return l, nil
	}
	return &LocalExecutor{Env: l.Env, Stream: l.Stream, runAs: name}, nil
}

func (l *LocalExecutor) environ() []string {
	env := os.Environ()
	for k, v := range l.Env {
		env = append(env, k+"="+v)
	}
	return env
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}
