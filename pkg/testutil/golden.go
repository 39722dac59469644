// Package testutil provides shared helpers for fabtemplate tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bradleyjkemp/cupaloy/v2"
)

// GoldenFile compares rendered text against files under testdata/golden.
//
// Rendered scripts and config fragments that land on target hosts are kept
// as golden files so a change in their text shows up as a diff in review.
// Run the tests with FABTEMPLATE_UPDATE_GOLDEN=1 to rewrite them.
type GoldenFile struct {
	t           *testing.T
	snapshotter *cupaloy.Config
}

// NewGolden returns a golden-file comparer rooted at testdata/golden.
func NewGolden(t *testing.T) *GoldenFile {
	t.Helper()

	return &GoldenFile{
		t: t,
		snapshotter: cupaloy.New(
			cupaloy.SnapshotSubdirectory(filepath.Join("testdata", "golden")),
			cupaloy.SnapshotFileExtension(".golden"),
			cupaloy.ShouldUpdate(func() bool {
				return os.Getenv("FABTEMPLATE_UPDATE_GOLDEN") != ""
			}),
		),
	}
}

// AssertWithName compares got against testdata/golden/<name>.golden.
// Strings are stored raw with one trailing newline.
func (g *GoldenFile) AssertWithName(name string, got string) {
	g.t.Helper()

	if err := g.snapshotter.SnapshotWithName(name, got); err != nil {
		g.t.Fatalf("golden file %s differs: %v\n\nset FABTEMPLATE_UPDATE_GOLDEN=1 to update", name, err)
	}
}

// GoldenString is a shortcut for a single named comparison.
func GoldenString(t *testing.T, name, got string) {
	t.Helper()
	NewGolden(t).AssertWithName(name, got)
}
