// pkg/fab_io/yaml.go

package fab_io

import (
	"context"
	"os"

	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// YAMLFilePerm keeps files that may hold SSH passwords private.
const YAMLFilePerm os.FileMode = 0o600

// WriteYAML marshals in to path, replacing any existing file.
func WriteYAML(ctx context.Context, path string, in any) error {
	data, err := yaml.Marshal(in)
	if err != nil {
		return cerr.Wrapf(err, "encoding %s", path)
	}
	if err := os.WriteFile(path, data, YAMLFilePerm); err != nil {
		return cerr.Wrapf(err, "writing %s", path)
	}
	otelzap.Ctx(ctx).Debug("YAML written", zap.String("path", path), zap.Int("bytes", len(data)))
	return nil
}

// ReadYAML decodes path into out. Unknown keys are rejected so a typo in
// an inventory does not silently drop a setting.
func ReadYAML(ctx context.Context, path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		return cerr.Wrapf(err, "reading %s", path)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return cerr.Wrapf(err, "decoding %s", path)
	}
	otelzap.Ctx(ctx).Debug("YAML read", zap.String("path", path))
	return nil
}
