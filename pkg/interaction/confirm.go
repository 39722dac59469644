// pkg/interaction/confirm.go

// Package interaction asks the operator before destructive operations.
package interaction

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/term"
)

const (
	DefaultYesPrompt = "Y/n"
	DefaultNoPrompt  = "y/N"
)

// Prompter reads answers from In and writes questions to Out.
type Prompter struct {
	In  io.Reader
	Out io.Writer
	// AssumeYes answers every question with yes without asking.
	AssumeYes bool
	// Interactive reports whether a person can answer. Nil means In is a terminal.
	Interactive func() bool
}

// Stdio prompts on the process terminal.
func Stdio(assumeYes bool) Prompter {
	return Prompter{In: os.Stdin, Out: os.Stderr, AssumeYes: assumeYes}
}

func (p Prompter) interactive() bool {
	if p.Interactive != nil {
		return p.Interactive()
	}
	if f, ok := p.In.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// Confirm asks question and reports the answer. Without a terminal, or with
// AssumeYes, the answer is yes. An empty or unrecognised answer is
// defaultYes.
func (p Prompter) Confirm(rc *fab_io.RuntimeContext, question string, defaultYes bool) (bool, error) {
	log := otelzap.Ctx(rc.Ctx)

	if p.AssumeYes {
		log.Info("Assuming yes", zap.String("question", question), zap.String("reason", "--yes"))
		return true, nil
	}
	if !p.interactive() {
		log.Info("Assuming yes", zap.String("question", question), zap.String("reason", "no terminal"))
		return true, nil
	}

	hint := DefaultNoPrompt
	if defaultYes {
		hint = DefaultYesPrompt
	}
	if _, err := fmt.Fprintf(p.Out, "%s [%s] ", question, hint); err != nil {
		return false, cerr.Wrap(err, "writing prompt")
	}

	line, err := bufio.NewReader(p.In).ReadString('\n')
	if err != nil && !cerr.Is(err, io.EOF) {
		return false, cerr.Wrap(err, "reading answer")
	}
	if answer, ok := NormalizeYesNoInput(line); ok {
		log.Debug("Operator answered", zap.String("question", question), zap.Bool("yes", answer))
		return answer, nil
	}
	return defaultYes, nil
}

// Confirm asks on the terminal.
func Confirm(rc *fab_io.RuntimeContext, question string, assumeYes bool) (bool, error) {
	return Stdio(assumeYes).Confirm(rc, question, false)
}

// NormalizeYesNoInput maps y/yes and n/no, in any case, to an answer. The
// second result is false for anything else.
func NormalizeYesNoInput(input string) (bool, bool) {
	switch strings.TrimSpace(strings.ToLower(input)) {
	case "y", "yes":
		return true, true
	case "n", "no":
		return false, true
	}
	return false, false
}
