package interaction

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ICRAR/fabtemplate/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func terminal() bool { return true }

func TestConfirm(t *testing.T) {
	t.Parallel()

	tests := []testutil.TableTest[struct {
		answer     string
		defaultYes bool
		want       bool
	}]{
		{Name: "yes", Input: struct {
			answer     string
			defaultYes bool
			want       bool
		}{"yes\n", false, true}},
		{Name: "short no", Input: struct {
			answer     string
			defaultYes bool
			want       bool
		}{" N \n", true, false}},
		{Name: "empty takes default", Input: struct {
			answer     string
			defaultYes bool
			want       bool
		}{"\n", true, true}},
		{Name: "garbage takes default", Input: struct {
			answer     string
			defaultYes bool
			want       bool
		}{"maybe\n", false, false}},
		{Name: "eof without newline", Input: struct {
			answer     string
			defaultYes bool
			want       bool
		}{"y", false, true}},
	}
	for _, tc := range tests {
		t.Run(tc.Name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			p := Prompter{In: strings.NewReader(tc.Input.answer), Out: &out, Interactive: terminal}
			got, err := p.Confirm(testutil.RC(t), "Terminate i-123?", tc.Input.defaultYes)
			require.NoError(t, err)
			assert.Equal(t, tc.Input.want, got)
			assert.True(t, strings.HasPrefix(out.String(), "Terminate i-123? ["))
		})
	}
}

func TestConfirmWithoutAsking(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	got, err := Prompter{In: strings.NewReader("no\n"), Out: &out, AssumeYes: true, Interactive: terminal}.
		Confirm(testutil.RC(t), "Terminate?", false)
	require.NoError(t, err)
	assert.True(t, got)
	assert.Empty(t, out.String())

	got, err = Prompter{In: strings.NewReader("no\n"), Out: &out}.Confirm(testutil.RC(t), "Terminate?", false)
	require.NoError(t, err)
	assert.True(t, got, "a reader that is not a terminal assumes yes")
	assert.Empty(t, out.String())
}

func FuzzNormalizeYesNoInput(f *testing.F) {
	for _, s := range []string{"yes", "no", "Y", "n", "  yEs ", "  ", "not-a-valid-answer"} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, input string) {
		answer, ok := NormalizeYesNoInput(input)
		if !ok && answer {
			t.Fatalf("unrecognised input %q produced yes", input)
		}
	})
}
