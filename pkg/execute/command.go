// pkg/execute/command.go

package execute

import (
	"sort"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Cmd describes one command to run on a target. It is rendered to a single
// bash line with every token quoted, so callers never concatenate shell text.
type Cmd struct {
	Name string
	Args []string
	// Raw is a trusted shell snippet used instead of Name/Args, for
	// application-supplied build lines and pipelines.
	Raw string

	Dir       string
	Env       map[string]string
	Sudo      bool
	Venv      string
	AllowFail bool
	Quiet     bool
}

// Command builds a Cmd for name with literal arguments.
func Command(name string, args ...string) *Cmd {
	return &Cmd{Name: name, Args: args}
}

// Shell builds a Cmd from a trusted shell snippet.
func Shell(raw string) *Cmd {
	return &Cmd{Raw: raw}
}

// In sets the working directory.
func (c *Cmd) In(dir string) *Cmd {
	c.Dir = dir
	return c
}

// WithEnv adds an environment variable for this command only.
func (c *Cmd) WithEnv(key, value string) *Cmd {
	if c.Env == nil {
		c.Env = make(map[string]string)
	}
	c.Env[key] = value
	return c
}

// AsRoot runs the command through sudo. Executors already connected as
// root drop the sudo prefix.
func (c *Cmd) AsRoot() *Cmd {
	c.Sudo = true
	return c
}

// InVirtualenv sources <dir>/bin/activate before the command.
func (c *Cmd) InVirtualenv(dir string) *Cmd {
	c.Venv = dir
	return c
}

// AllowFailure keeps a non-zero exit from becoming an error.
func (c *Cmd) AllowFailure() *Cmd {
	c.AllowFail = true
	return c
}

// Silent keeps the command out of info-level logs.
func (c *Cmd) Silent() *Cmd {
	c.Quiet = true
	return c
}

// String renders the command as it would run for a non-root user.
func (c *Cmd) String() string {
	return c.Render(false)
}

// Render produces the bash line. When isRoot is set, sudo is omitted.
func (c *Cmd) Render(isRoot bool) string {
	var parts []string
	if c.Dir != "" {
		parts = append(parts, "cd "+Quote(c.Dir))
	}
	if c.Venv != "" {
		parts = append(parts, "source "+Quote(strings.TrimRight(c.Venv, "/")+"/bin/activate"))
	}
	parts = append(parts, c.core(isRoot))
	return strings.Join(parts, " && ")
}

func (c *Cmd) core(isRoot bool) string {
	envs := c.envAssignments()

	if c.Sudo && !isRoot {
		tokens := []string{"sudo", "-n", "-H"}
		if len(envs) > 0 {
			tokens = append(tokens, "env")
			tokens = append(tokens, envs...)
		}
		if c.Raw != "" {
			tokens = append(tokens, "bash", "-c", Quote(c.Raw))
		} else {
			tokens = append(tokens, c.words()...)
		}
		return strings.Join(tokens, " ")
	}

	if c.Raw != "" {
		if len(envs) == 0 {
			return c.Raw
		}
		return "export " + strings.Join(envs, " ") + " && " + c.Raw
	}
	return strings.Join(append(envs, c.words()...), " ")
}

func (c *Cmd) words() []string {
	words := make([]string, 0, len(c.Args)+1)
	words = append(words, Quote(c.Name))
	for _, a := range c.Args {
		words = append(words, Quote(a))
	}
	return words
}

func (c *Cmd) envAssignments() []string {
	if len(c.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+Quote(c.Env[k]))
	}
	return out
}

// Quote quotes s as a single bash word.
func Quote(s string) string {
	q, err := syntax.Quote(s, syntax.LangBash)
	if err != nil {
		// only NUL bytes fail for bash; drop them
		q, _ = syntax.Quote(strings.ReplaceAll(s, "\x00", ""), syntax.LangBash)
	}
	return q
}

// QuoteAll quotes each element and joins them with spaces.
func QuoteAll(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = Quote(w)
	}
	return strings.Join(quoted, " ")
}
