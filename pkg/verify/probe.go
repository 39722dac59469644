// pkg/verify/probe.go

// Package verify starts an installed service and checks that it answers.
// A failed check is an Outcome, not an error.
package verify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ICRAR/fabtemplate/pkg/execute"
)

// Outcome is the verdict of a probe or a whole verification.
type Outcome struct {
	OK     bool
	Detail string
}

// Probe checks one aspect of a running service.
type Probe interface {
	Name() string
	Check(ctx context.Context) Outcome
}

// maxBody bounds how much of a response is searched for the marker.
const maxBody = 1 << 20

// HTTPProbe expects a 200 response whose body contains Expect.
type HTTPProbe struct {
	URL    string
	Expect string
	Client *http.Client
}

func (p HTTPProbe) Name() string { return "http " + p.URL }

func (p HTTPProbe) Check(ctx context.Context) Outcome {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return Outcome{Detail: err.Error()}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Outcome{Detail: fmt.Sprintf("GET %s: %v", p.URL, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return Outcome{Detail: fmt.Sprintf("reading %s: %v", p.URL, err)}
	}
	if resp.StatusCode != http.StatusOK {
		return Outcome{Detail: fmt.Sprintf("GET %s returned %s", p.URL, resp.Status)}
	}
	if p.Expect != "" && !strings.Contains(string(body), p.Expect) {
		return Outcome{Detail: fmt.Sprintf("GET %s: response does not contain %q", p.URL, p.Expect)}
	}
	return Outcome{OK: true, Detail: fmt.Sprintf("GET %s returned the expected page", p.URL)}
}

// ServiceProbe asks the init system for the service status.
type ServiceProbe struct {
	Exec    execute.Executor
	Service string
}

func (p ServiceProbe) Name() string { return "service " + p.Service }

func (p ServiceProbe) Check(ctx context.Context) Outcome {
	res, err := p.Exec.Run(ctx, execute.Command("service", p.Service, "status").AsRoot().AllowFailure().Silent())
	if err != nil {
		return Outcome{Detail: err.Error()}
	}
	if !res.OK() {
		return Outcome{Detail: fmt.Sprintf("service %s status exited %d", p.Service, res.ExitCode)}
	}
	return Outcome{OK: true, Detail: "service " + p.Service + " is running"}
}

// ProcessProbe looks for a process whose command line matches Pattern.
type ProcessProbe struct {
	Exec    execute.Executor
	Pattern string
}

func (p ProcessProbe) Name() string { return "process " + p.Pattern }

func (p ProcessProbe) Check(ctx context.Context) Outcome {
	res, err := p.Exec.Run(ctx, execute.Command("pgrep", "-f", p.Pattern).AllowFailure().Silent())
	if err != nil {
		return Outcome{Detail: err.Error()}
	}
	if !res.OK() {
		return Outcome{Detail: fmt.Sprintf("no process matches %q", p.Pattern)}
	}
	return Outcome{OK: true, Detail: fmt.Sprintf("process %q is running", p.Pattern)}
}
