// pkg/python/python.go

// Package python finds a usable interpreter on a target, building one from
// source into the user's home when none qualifies.
package python

import (
	"fmt"
	"path"
	"strings"

	"github.com/ICRAR/fabtemplate/pkg/execute"
	"github.com/ICRAR/fabtemplate/pkg/fab_err"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/logger"
	"github.com/ICRAR/fabtemplate/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/hashicorp/go-version"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const (
	// MinimumVersion is the oldest interpreter the environments are built with.
	MinimumVersion = "3.8"
	// DefaultBuildVersion is what Setup builds when asked for no particular release.
	DefaultBuildVersion = "3.11.9"

	versionScript = `import sys; print("%d.%d.%d" % sys.version_info[:3])`
	downloadURL   = "https://www.python.org/ftp/python/%[1]s/Python-%[1]s.tgz"
)

// DefaultCandidates are tried in order by CheckPython.
var DefaultCandidates = []string{
	"python3.12", "python3.11", "python3.10", "python3.9", "python3.8", "python3",
}

var minimum = version.Must(version.NewVersion(MinimumVersion))

// CheckPython returns the first candidate that runs and reports at least
// MinimumVersion. The home-local build from Setup is always tried last.
// An empty path with a nil error means nothing qualified.
func CheckPython(rc *fab_io.RuntimeContext, ex execute.Executor, candidates []string) (string, error) {
	ctx, span := telemetry.Start(rc.Ctx, "python.CheckPython")
	defer span.End()
	log := otelzap.Ctx(ctx)

	if len(candidates) == 0 {
		candidates = DefaultCandidates
	}
	home, err := ex.Home(ctx)
	if err != nil {
		return "", err
	}
	candidates = append(append([]string{}, candidates...), path.Join(home, "python", "bin", "python3"))

	for _, py := range candidates {
		res, err := ex.Run(ctx, execute.Command(py, "-c", versionScript).AllowFailure().Silent())
		if err != nil {
			return "", err
		}
		if !res.OK() {
			continue
		}
		v, err := version.NewVersion(res.Output())
		if err != nil {
			log.Debug("Unparseable interpreter version", zap.String("python", py), zap.String("output", res.Output()))
			continue
		}
		if v.LessThan(minimum) {
			log.Debug("Interpreter too old", zap.String("python", py), zap.String("version", v.String()))
			continue
		}
		log.Info("Found python", zap.String("python", py), zap.String("version", v.String()))
		return py, nil
	}
	return "", nil
}

// Setup downloads and builds CPython release v into <home>/python and
// returns the interpreter path.
func Setup(rc *fab_io.RuntimeContext, ex execute.Executor, home, v string) (string, error) {
	ctx, span := telemetry.Start(rc.Ctx, "python.Setup")
	defer span.End()
	log := otelzap.Ctx(ctx)

	// ASSESS
	if v == "" {
		v = DefaultBuildVersion
	}
	parsed, err := version.NewVersion(v)
	if err != nil || strings.Count(v, ".") != 2 {
		return "", fab_err.NewExpectedError(cerr.Newf("%q is not a full python release number such as %s", v, DefaultBuildVersion))
	}
	if parsed.LessThan(minimum) {
		return "", fab_err.NewExpectedError(cerr.Newf("python %s is older than the supported minimum %s", v, MinimumVersion))
	}

	prefix := path.Join(home, "python")
	tarball := path.Join(home, "Python-"+v+".tgz")
	buildDir := path.Join(home, "Python-"+v)

	// INTERVENE
	log.Info("Building python from source", zap.String("version", v), zap.String("prefix", prefix))
	steps := []*execute.Cmd{
		execute.Command("curl", "-fsSL", "-o", tarball, downloadFor(v)),
		execute.Command("tar", "xzf", tarball).In(home),
		execute.Command("./configure", "--prefix="+prefix).In(buildDir),
		execute.Command("make").In(buildDir),
		execute.Command("make", "install").In(buildDir),
	}
	for _, cmd := range steps {
		if _, err := ex.Run(ctx, cmd); err != nil {
			return "", cerr.Wrapf(err, "building python %s failed", v)
		}
	}

	// EVALUATE
	py := path.Join(prefix, "bin", "python3")
	if ok, err := execute.Check(ctx, ex, execute.Command(py, "--version")); err != nil || !ok {
		return "", cerr.Newf("python was built but %s does not run", py)
	}
	logger.Success(ctx, "Python installed", zap.String("python", py))
	return py, nil
}

// Resolve returns preferred when given, else a discovered interpreter, else
// a freshly built one.
func Resolve(rc *fab_io.RuntimeContext, ex execute.Executor, preferred string) (string, error) {
	if preferred != "" {
		return preferred, nil
	}
	py, err := CheckPython(rc, ex, nil)
	if err != nil || py != "" {
		return py, err
	}
	home, err := ex.Home(rc.Ctx)
	if err != nil {
		return "", err
	}
	return Setup(rc, ex, home, "")
}

func downloadFor(v string) string {
	return fmt.Sprintf(downloadURL, v)
}
