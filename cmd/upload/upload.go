// cmd/upload/upload.go

package upload

import (
	"github.com/ICRAR/fabtemplate/pkg/archiveclient"
	fab "github.com/ICRAR/fabtemplate/pkg/fab_cli"
	"github.com/ICRAR/fabtemplate/pkg/fab_err"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/shared"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
)

var port int

// UploadCmd archives a file into the archive server on each host.
var UploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Archive a file on every host through QARCHIVE",
	Long: `Send the file to the QARCHIVE endpoint of the archive server running on
each host given with --hosts or --inventory.

Example:
  fabtemplate upload obs-2024.fits -H archive01 --port 7777`,
	Args: cobra.ExactArgs(1),
	RunE: fab.Wrap(func(rc *fab_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		hosts, err := fab.Hosts(rc, cmd.Flags())
		if err != nil {
			return err
		}
		if len(hosts) == 0 {
			return fab_err.NewValidationError("no host to upload to", "name the archive hosts with --hosts or --inventory")
		}

		var result error
		for _, h := range hosts {
			if err := archiveclient.Upload(rc.Ctx, nil, h.Address, port, args[0]); err != nil {
				if fab_err.IsExpectedUserError(err) {
					return err
				}
				result = multierror.Append(result, err)
			}
		}
		return result
	}),
}

func init() {
	fab.AddHostFlags(UploadCmd.Flags())
	UploadCmd.Flags().IntVar(&port, "port", shared.DefaultArchivePort, "archive server port")
}
