// pkg/poll/poll.go

package poll

import (
	"context"
	"time"

	cerr "github.com/cockroachdb/errors"
)

// ErrTimeout is returned when the condition did not hold before the deadline.
var ErrTimeout = cerr.New("timed out waiting for condition")

// Condition reports whether the wait is over. A non-nil error stops the wait.
type Condition func(ctx context.Context) (bool, error)

// Until evaluates cond immediately and then every interval until it returns
// true, returns an error, timeout elapses or ctx is cancelled.
// A zero timeout waits as long as ctx allows.
func Until(ctx context.Context, interval, timeout time.Duration, cond Condition) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			if cerr.Is(ctx.Err(), context.DeadlineExceeded) {
				return cerr.Wrapf(ErrTimeout, "after %s", timeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
