// pkg/fab_cli/signals.go

package fab_cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// SignalContext is cancelled on the first SIGINT or SIGTERM. Every blocking
// call of a run hangs off it, so an interrupt stops SSH sessions, polls and
// SDK calls alike. A second signal kills the process the default way.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ctx, stop
}
