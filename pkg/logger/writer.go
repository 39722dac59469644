// pkg/logger/writer.go

package logger

import (
	"os"
	"path/filepath"

	"github.com/ICRAR/fabtemplate/pkg/shared"
	cerr "github.com/cockroachdb/errors"
	"go.uber.org/zap/zapcore"
)

const logFile = shared.BinaryName + ".log"

// LogPaths are the candidate log files, most preferred first.
func LogPaths() []string {
	var paths []string
	if state := os.Getenv("XDG_STATE_HOME"); state != "" {
		paths = append(paths, filepath.Join(state, shared.BinaryName, logFile))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".local", "state", shared.BinaryName, logFile))
	}
	return append(paths, filepath.Join(os.TempDir(), logFile))
}

// OpenLogFile opens the first candidate that can be appended to.
func OpenLogFile() (string, zapcore.WriteSyncer, error) {
	var errs error
	for _, path := range LogPaths() {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			errs = cerr.CombineErrors(errs, err)
			continue
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			errs = cerr.CombineErrors(errs, err)
			continue
		}
		return path, zapcore.Lock(f), nil
	}
	return "", nil, cerr.Wrap(errs, "no writable log path")
}
