package testutil

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/ICRAR/fabtemplate/pkg/execute"
	"github.com/ICRAR/fabtemplate/pkg/inventory"
)

// Call is one command seen by a FakeExecutor.
type Call struct {
	User string
	Line string
	Cmd  *execute.Cmd
}

// PutCall is one upload seen by a FakeExecutor. Content is read at Put time.
type PutCall struct {
	User    string
	Local   string
	Remote  string
	Content []byte
	Mode    os.FileMode
}

type rule struct {
	substr string
	res    execute.Result
	err    error
}

type fakeState struct {
	mu    sync.Mutex
	rules []rule
	calls []Call
	puts  []PutCall
	homes map[string]string
}

// FakeExecutor records rendered command lines and answers them from scripted
// rules. Unmatched commands succeed with empty output. Executors returned by
// AsUser share the script and the call log.
type FakeExecutor struct {
	host  inventory.Host
	local bool
	state *fakeState
}

var _ execute.Executor = (*FakeExecutor)(nil)

func NewFakeExecutor(host inventory.Host) *FakeExecutor {
	if host.User == "" {
		host.User = "deployer"
	}
	if host.Address == "" {
		host.Address = "10.0.0.5"
	}
	return &FakeExecutor{host: host, state: &fakeState{homes: map[string]string{}}}
}

// MarkLocal makes IsLocal report true.
func (f *FakeExecutor) MarkLocal() *FakeExecutor {
	f.local = true
	return f
}

// On scripts the result for lines containing substr. Later rules win.
func (f *FakeExecutor) On(substr string, res execute.Result) *FakeExecutor {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	f.state.rules = append(f.state.rules, rule{substr: substr, res: res})
	return f
}

func (f *FakeExecutor) OnOutput(substr, stdout string) *FakeExecutor {
	return f.On(substr, execute.Result{Stdout: stdout})
}

func (f *FakeExecutor) OnExit(substr string, code int) *FakeExecutor {
	return f.On(substr, execute.Result{ExitCode: code})
}

// OnError makes matching commands fail at the transport level.
func (f *FakeExecutor) OnError(substr string, err error) *FakeExecutor {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	f.state.rules = append(f.state.rules, rule{substr: substr, err: err})
	return f
}

func (f *FakeExecutor) SetHome(user, home string) *FakeExecutor {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	f.state.homes[user] = home
	return f
}

func (f *FakeExecutor) Host() inventory.Host { return f.host }

func (f *FakeExecutor) IsLocal() bool { return f.local }

func (f *FakeExecutor) Close() error { return nil }

func (f *FakeExecutor) Run(_ context.Context, cmd *execute.Cmd) (execute.Result, error) {
	line := cmd.Render(f.host.User == "root")

	f.state.mu.Lock()
	f.state.calls = append(f.state.calls, Call{User: f.host.User, Line: line, Cmd: cmd})
	var matched *rule
	for i := len(f.state.rules) - 1; i >= 0; i-- {
		if strings.Contains(line, f.state.rules[i].substr) {
			r := f.state.rules[i]
			matched = &r
			break
		}
	}
	f.state.mu.Unlock()

	if matched == nil {
		return execute.Result{}, nil
	}
	if matched.err != nil {
		return execute.Result{ExitCode: -1}, matched.err
	}
	if matched.res.ExitCode != 0 && !cmd.AllowFail {
		return matched.res, execute.NewCommandFailure(f.host.Label(), line, matched.res)
	}
	return matched.res, nil
}

func (f *FakeExecutor) Put(_ context.Context, localPath, remotePath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	f.state.puts = append(f.state.puts, PutCall{
		User:    f.host.User,
		Local:   localPath,
		Remote:  remotePath,
		Content: data,
		Mode:    info.Mode().Perm(),
	})
	return nil
}

func (f *FakeExecutor) Home(context.Context) (string, error) {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	if h, ok := f.state.homes[f.host.User]; ok {
		return h, nil
	}
	if f.host.User == "root" {
		return "/root", nil
	}
	return "/home/" + f.host.User, nil
}

func (f *FakeExecutor) AsUser(_ context.Context, user string) (execute.Executor, error) {
	if user == "" || user == f.host.User {
		return f, nil
	}
	return &FakeExecutor{host: f.host.WithUser(user), local: f.local, state: f.state}, nil
}

// Lines returns every rendered command in order, across users.
func (f *FakeExecutor) Lines() []string {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	out := make([]string, len(f.state.calls))
	for i, c := range f.state.calls {
		out[i] = c.Line
	}
	return out
}

// Calls returns a copy of the call log.
func (f *FakeExecutor) Calls() []Call {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	return append([]Call(nil), f.state.calls...)
}

// Puts returns a copy of the upload log.
func (f *FakeExecutor) Puts() []PutCall {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	return append([]PutCall(nil), f.state.puts...)
}

// Ran reports whether any command contained substr.
func (f *FakeExecutor) Ran(substr string) bool {
	return f.IndexOf(substr) >= 0
}

// IndexOf returns the position of the first command containing substr, or -1.
func (f *FakeExecutor) IndexOf(substr string) int {
	for i, l := range f.Lines() {
		if strings.Contains(l, substr) {
			return i
		}
	}
	return -1
}
