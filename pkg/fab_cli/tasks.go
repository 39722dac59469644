// pkg/fab_cli/tasks.go

package fab_cli

import (
	"fmt"
	"io"

	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/inventory"
	"github.com/ICRAR/fabtemplate/pkg/workflow"
)

// RunTasks runs the named registry tasks, in order, on every host and
// prints the per-host step table to w.
func RunTasks(rc *fab_io.RuntimeContext, w io.Writer, sess *Session, hosts []inventory.Host, names ...string) error {
	reg := workflow.NewRegistry()
	tasks := make([]workflow.Task, 0, len(names))
	for _, name := range names {
		task, err := reg.Lookup(name)
		if err != nil {
			return err
		}
		tasks = append(tasks, task)
	}

	reports, err := workflow.RunHosts(rc, sess.Config, hosts,
		workflow.RunOptions{Profile: sess.Profile}, workflow.Sequence(tasks...))
	if table := workflow.RenderReports(reports); table != "" {
		fmt.Fprintln(w, table)
	}
	return err
}
