// pkg/fab_cli/wrap.go

// Package fab_cli holds what every command handler shares: the RuntimeContext
// wrapper, signal handling, and loading the run configuration and hosts.
package fab_cli

import (
	"github.com/ICRAR/fabtemplate/pkg/fab_err"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// HandlerFunc is a command body running inside a RuntimeContext.
type HandlerFunc func(rc *fab_io.RuntimeContext, cmd *cobra.Command, args []string) error

// Wrap gives fn a RuntimeContext bound to the command's context, recovers
// panics and ends the command span with the outcome. Unexpected errors get
// a stack; expected ones are returned as they are.
func Wrap(fn HandlerFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		rc := fab_io.NewContext(cmd.Context(), cmd.CommandPath())
		defer rc.End(&err)
		defer rc.HandlePanic(&err)

		rc.Log.Debug("Running command", zap.Strings("args", args))

		err = fn(rc, cmd, args)
		if err != nil && !fab_err.IsExpectedUserError(err) {
			err = cerr.WithStack(err)
		}
		return err
	}
}
