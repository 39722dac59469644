// pkg/remote/wait.go

package remote

import (
	"context"
	"time"

	"github.com/ICRAR/fabtemplate/pkg/execute"
	"github.com/ICRAR/fabtemplate/pkg/fab_err"
	"github.com/ICRAR/fabtemplate/pkg/inventory"
	"github.com/ICRAR/fabtemplate/pkg/poll"
	"github.com/ICRAR/fabtemplate/pkg/shared"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// WaitForSSH dials host until a session can run `true` or timeout elapses.
// Freshly booted machines refuse or reset connections for a while; those
// attempts are logged at debug level and retried. Problems on this side,
// such as an unreadable key, end the wait at once.
func WaitForSSH(ctx context.Context, host inventory.Host, opts Options, timeout time.Duration) error {
	logger := otelzap.Ctx(ctx)
	if timeout <= 0 {
		timeout = shared.SSHReadyTimeout
	}
	interval := shared.PollInterval
	if timeout < 4*interval {
		interval = timeout / 4
	}

	logger.Info("Waiting for SSH", zap.String("host", host.String()), zap.Duration("timeout", timeout))
	start := time.Now()
	attempts := 0
	err := poll.Until(ctx, interval, timeout, func(ctx context.Context) (bool, error) {
		attempts++
		ex, err := Dial(ctx, host, opts)
		if fab_err.IsExpectedUserError(err) {
			return false, err
		}
		if err != nil {
			logger.Debug("SSH not ready", zap.String("host", host.String()), zap.Int("attempt", attempts), zap.Error(err))
			return false, nil
		}
		defer ex.Close()
		if _, err := ex.Run(ctx, execute.Command("true").Silent()); err != nil {
			logger.Debug("SSH session not ready", zap.String("host", host.String()), zap.Error(err))
			return false, nil
		}
		return true, nil
	})
	if fab_err.IsExpectedUserError(err) {
		return err
	}
	if err != nil {
		return cerr.Wrapf(err, "SSH on %s not ready after %d attempts", host.String(), attempts)
	}

	logger.Info("SSH ready", zap.String("host", host.String()), zap.Duration("waited", time.Since(start)))
	return nil
}
