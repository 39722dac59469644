// pkg/sources/copy.go

package sources

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ICRAR/fabtemplate/pkg/config"
	"github.com/ICRAR/fabtemplate/pkg/execute"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/logger"
	"github.com/ICRAR/fabtemplate/pkg/shared"
	"github.com/ICRAR/fabtemplate/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/go-git/go-git/v5"
	"github.com/moby/go-archive"
	"github.com/moby/go-archive/compression"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CreateTarball writes a gzipped tar of dir to out. Inside a repository the
// archive holds rev as committed; otherwise it holds the directory as it is.
func CreateTarball(rc *fab_io.RuntimeContext, dir, rev, out string) error {
	ctx, span := telemetry.Start(rc.Ctx, "sources.CreateTarball")
	defer span.End()
	log := otelzap.Ctx(ctx)

	_, root, err := FindRepository(dir)
	switch {
	case err == nil:
		log.Info("Archiving repository", zap.String("root", root), zap.String("revision", rev))
		if _, err := execute.Run(ctx, execute.Options{
			Command: "git",
			Args:    []string{"archive", "--format=tar.gz", "-o", out, rev},
			Dir:     root,
			Logger:  log.ZapLogger(),
		}); err != nil {
			return cerr.Wrapf(err, "git archive of %s failed", rev)
		}
		// the unpacking account may not be ours
		return os.Chmod(out, 0o644)
	case !cerr.Is(err, git.ErrRepositoryNotExists):
		return err
	}

	log.Info("Archiving plain directory", zap.String("dir", dir))
	stream, err := archive.TarWithOptions(dir, &archive.TarOptions{Compression: compression.Gzip})
	if err != nil {
		return cerr.Wrapf(err, "failed to archive %s", dir)
	}
	defer stream.Close()

	f, err := os.OpenFile(out, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return cerr.Wrapf(err, "failed to create %s", out)
	}
	if _, err := io.Copy(f, stream); err != nil {
		f.Close()
		return cerr.Wrapf(err, "failed to write %s", out)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Chmod(out, 0o644)
}

// CopySources ships the sources at cfg.RepoRoot to the target and unpacks
// them into the source directory. A failure part-way leaves whatever was
// extracted in place.
func CopySources(rc *fab_io.RuntimeContext, ex execute.Executor, cfg *config.Config, layout config.Layout) error {
	ctx, span := telemetry.Start(rc.Ctx, "sources.CopySources",
		attribute.String("revision", cfg.Revision))
	defer span.End()
	log := otelzap.Ctx(ctx)

	// ASSESS
	tmp, err := execute.StagingDir(shared.BinaryName + "-src-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	local := filepath.Join(tmp, fmt.Sprintf("%s_%s.tar.gz", cfg.Lower(), sanitize(cfg.Revision)))
	if err := CreateTarball(rc.WithContext(ctx), cfg.RepoRoot, cfg.Revision, local); err != nil {
		return err
	}

	// INTERVENE
	tarball := local
	if !ex.IsLocal() {
		tarball = fmt.Sprintf(shared.RemoteTarballFormat, cfg.App)
		log.Info("Uploading sources", zap.String("host", ex.Host().Label()), zap.String("path", tarball))
		if err := ex.Put(ctx, local, tarball); err != nil {
			return cerr.Wrapf(err, "failed to upload sources to %s", ex.Host().Label())
		}
	}

	steps := []*execute.Cmd{
		execute.Command("mkdir", "-p", layout.SourceDir),
		execute.Command("tar", "xpf", tarball, "-C", layout.SourceDir),
	}
	if !ex.IsLocal() {
		steps = append(steps, execute.Command("rm", "-f", tarball))
	}
	for _, cmd := range steps {
		if _, err := ex.Run(ctx, cmd); err != nil {
			return cerr.Wrapf(err, "failed to unpack sources into %s", layout.SourceDir)
		}
	}

	// EVALUATE
	logger.Success(ctx, "Sources copied",
		zap.String("revision", cfg.Revision),
		zap.String("dest", layout.SourceDir))
	return nil
}

func sanitize(rev string) string {
	out := []rune(rev)
	for i, r := range out {
		if r == '/' || r == ' ' {
			out[i] = '-'
		}
	}
	return string(out)
}
