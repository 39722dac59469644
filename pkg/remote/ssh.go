// pkg/remote/ssh.go

package remote

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ICRAR/fabtemplate/pkg/execute"
	"github.com/ICRAR/fabtemplate/pkg/fab_err"
	"github.com/ICRAR/fabtemplate/pkg/inventory"
	cerr "github.com/cockroachdb/errors"
	"github.com/pkg/sftp"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Options tunes how SSH connections are made.
type Options struct {
	// StrictHostKeys checks the server key against KnownHostsPath.
	StrictHostKeys bool
	KnownHostsPath string
	DialTimeout    time.Duration
	// Stream, when set, receives command output as it is produced.
	Stream io.Writer
}

const defaultDialTimeout = 15 * time.Second

// SSHExecutor runs commands on a remote host over one SSH connection.
type SSHExecutor struct {
	host   inventory.Host
	opts   Options
	client *ssh.Client

	mu    sync.Mutex
	sftp  *sftp.Client
	agent net.Conn
}

var _ execute.Executor = (*SSHExecutor)(nil)

// Dial connects to host and returns an executor bound to that connection.
func Dial(ctx context.Context, host inventory.Host, opts Options) (*SSHExecutor, error) {
	logger := otelzap.Ctx(ctx)

	if host.User == "" {
		host.User = os.Getenv("USER")
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}

	auth, agentConn, err := authMethods(host)
	if err != nil {
		return nil, err
	}
	hostKeys, err := hostKeyCallback(opts)
	if err != nil {
		closeQuietly(agentConn)
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            host.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         opts.DialTimeout,
	}

	logger.Debug("Dialing SSH", zap.String("host", host.String()))
	d := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", host.Dial())
	if err != nil {
		closeQuietly(agentConn)
		return nil, fab_err.NewRemoteError("failed to connect to "+host.String(), err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, host.Dial(), cfg)
	if err != nil {
		_ = conn.Close()
		closeQuietly(agentConn)
		return nil, fab_err.NewRemoteError("SSH handshake with "+host.String()+" failed", err)
	}
	_ = conn.SetDeadline(time.Time{})

	logger.Debug("SSH connection established", zap.String("host", host.String()))
	return &SSHExecutor{
		host:   host,
		opts:   opts,
		client: ssh.NewClient(c, chans, reqs),
		agent:  agentConn,
	}, nil
}

func (s *SSHExecutor) Host() inventory.Host { return s.host }

func (s *SSHExecutor) IsLocal() bool { return false }

// Run executes cmd through a bash login shell so the target's profile applies.
func (s *SSHExecutor) Run(ctx context.Context, cmd *execute.Cmd) (execute.Result, error) {
	logger := otelzap.Ctx(ctx)
	line := cmd.Render(s.host.User == "root")
	if cmd.Quiet {
		logger.Debug("Running remote command", zap.String("host", s.host.Label()), zap.String("command", line))
	} else {
		logger.Info("Running remote command", zap.String("host", s.host.Label()), zap.String("command", line))
	}

	session, err := s.client.NewSession()
	if err != nil {
		return execute.Result{ExitCode: -1}, fab_err.NewRemoteError("failed to open SSH session", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout, session.Stderr = io.Writer(&stdout), io.Writer(&stderr)
	if s.opts.Stream != nil && !cmd.Quiet {
		session.Stdout = io.MultiWriter(&stdout, s.opts.Stream)
		session.Stderr = io.MultiWriter(&stderr, s.opts.Stream)
	}

	done := make(chan error, 1)
	go func() { done <- session.Run("bash -lc " + execute.Quote(line)) }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		<-done
		return execute.Result{ExitCode: -1, Stdout: stdout.String(), Stderr: stderr.String()},
			cerr.Wrapf(ctx.Err(), "command on %s interrupted", s.host.Label())
	}

	res := execute.Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if runErr != nil {
		var exitErr *ssh.ExitError
		if !cerr.As(runErr, &exitErr) {
			res.ExitCode = -1
			return res, fab_err.NewRemoteError("SSH session on "+s.host.Label()+" failed", runErr)
		}
		res.ExitCode = exitErr.ExitStatus()
	}

	if res.ExitCode != 0 && !cmd.AllowFail {
		logger.Error("Remote command failed",
			zap.String("host", s.host.Label()),
			zap.String("command", line),
			zap.Int("exit_code", res.ExitCode),
			zap.String("stderr", strings.TrimSpace(res.Stderr)))
		return res, execute.NewCommandFailure(s.host.Label(), line, res)
	}
	return res, nil
}

// Put uploads a file over SFTP, creating the parent directory and keeping the mode.
func (s *SSHExecutor) Put(ctx context.Context, localPath, remotePath string) error {
	logger := otelzap.Ctx(ctx)

	client, err := s.sftpClient()
	if err != nil {
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

	if err := client.MkdirAll(path.Dir(remotePath)); err != nil {
		return fab_err.NewRemoteError("failed to create "+path.Dir(remotePath), err)
	}
	dst, err := client.Create(remotePath)
	if err != nil {
		return fab_err.NewRemoteError("failed to create "+remotePath, err)
	}
	n, err := io.Copy(dst, src)
	if err != nil {
		_ = dst.Close()
		return fab_err.NewRemoteError("failed to upload "+localPath, err)
	}
	if err := dst.Close(); err != nil {
		return fab_err.NewRemoteError("failed to finish upload of "+localPath, err)
	}
	if err := client.Chmod(remotePath, info.Mode().Perm()); err != nil {
		return fab_err.NewRemoteError("failed to chmod "+remotePath, err)
	}

	logger.Info("Uploaded file",
		zap.String("host", s.host.Label()),
		zap.String("local", localPath),
		zap.String("remote", remotePath),
		zap.Int64("bytes", n))
	return nil
}

// Home asks the login shell for $HOME.
func (s *SSHExecutor) Home(ctx context.Context) (string, error) {
	home, err := execute.Output(ctx, s, execute.Shell(`printf '%s' "$HOME"`).Silent())
	if err != nil {
		return "", err
	}
	if home == "" {
		return "", cerr.Newf("empty HOME for %s", s.host.String())
	}
	return home, nil
}

// AsUser opens a second connection to the same host as user, with the same credentials.
func (s *SSHExecutor) AsUser(ctx context.Context, user string) (execute.Executor, error) {
	if user == "" || user == s.host.User {
		return s, nil
	}
	return Dial(ctx, s.host.WithUser(user), s.opts)
}

func (s *SSHExecutor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.sftp != nil {
		errs = append(errs, s.sftp.Close())
		s.sftp = nil
	}
	errs = append(errs, s.client.Close())
	if s.agent != nil {
		errs = append(errs, s.agent.Close())
		s.agent = nil
	}
	for _, err := range errs {
		if err != nil && !cerr.Is(err, net.ErrClosed) {
			return err
		}
	}
	return nil
}

func (s *SSHExecutor) sftpClient() (*sftp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sftp != nil {
		return s.sftp, nil
	}
	c, err := sftp.NewClient(s.client)
	if err != nil {
		return nil, fab_err.NewRemoteError("failed to start SFTP on "+s.host.Label(), err)
	}
	s.sftp = c
	return c, nil
}

// authMethods collects auth in order: key file, password, agent, default keys.
func authMethods(host inventory.Host) ([]ssh.AuthMethod, net.Conn, error) {
	var methods []ssh.AuthMethod

	if host.KeyPath != "" {
		signer, err := loadSigner(expandHome(host.KeyPath))
		if err != nil {
			return nil, nil, fab_err.NewExpectedError(err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if host.Password != "" {
		pw := host.Password
		methods = append(methods,
			ssh.Password(pw),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = pw
				}
				return answers, nil
			}))
	}

	var agentConn net.Conn
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			agentConn = conn
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	if host.KeyPath == "" {
		var signers []ssh.Signer
		for _, name := range []string{"id_ed25519", "id_rsa"} {
			p := expandHome(filepath.Join("~", ".ssh", name))
			if signer, err := loadSigner(p); err == nil {
				signers = append(signers, signer)
			}
		}
		if len(signers) > 0 {
			methods = append(methods, ssh.PublicKeys(signers...))
		}
	}

	if len(methods) == 0 {
		return nil, nil, fab_err.NewExpectedError(
			cerr.WithHint(cerr.Newf("no SSH authentication available for %s", host.String()),
				"set a key file, a password or start ssh-agent"))
	}
	return methods, agentConn, nil
}

func loadSigner(p string) (ssh.Signer, error) {
	pem, err := os.ReadFile(p)
	if err != nil {
		return nil, cerr.Wrapf(err, "failed to read key %s", p)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if cerr.As(err, &missing) {
			return nil, cerr.WithHint(cerr.Newf("key %s is passphrase protected", p),
				"load it into ssh-agent instead")
		}
		return nil, cerr.Wrapf(err, "failed to parse key %s", p)
	}
	return signer, nil
}

func hostKeyCallback(opts Options) (ssh.HostKeyCallback, error) {
	if !opts.StrictHostKeys {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	p := opts.KnownHostsPath
	if p == "" {
		p = expandHome(filepath.Join("~", ".ssh", "known_hosts"))
	}
	if _, err := os.Stat(p); err != nil {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(p)
	if err != nil {
		return nil, fab_err.NewExpectedError(cerr.Wrapf(err, "failed to load %s", p))
	}
	return cb, nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
