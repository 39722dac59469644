// pkg/archiveclient/upload.go

package archiveclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ICRAR/fabtemplate/pkg/fab_err"
	"github.com/ICRAR/fabtemplate/pkg/logger"
	"github.com/ICRAR/fabtemplate/pkg/shared"
	"github.com/ICRAR/fabtemplate/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const maxErrorBody = 64 << 10

// URL is the QARCHIVE endpoint for name on host:port.
func URL(host string, port int, name string) string {
	if port == 0 {
		port = shared.DefaultArchivePort
	}
	u := url.URL{
		Scheme:   "http",
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     "/QARCHIVE",
		RawQuery: "filename=" + url.QueryEscape(filepath.Base(name)),
	}
	return u.String()
}

// Upload streams the file at path to the archive server on host:port.
// Anything but 200 OK is an error carrying the status and a summary of the
// response body.
func Upload(ctx context.Context, client *http.Client, host string, port int, path string) error {
	ctx, span := telemetry.Start(ctx, "archiveclient.Upload",
		attribute.String("host", host), attribute.String("file", path))
	defer span.End()
	log := otelzap.Ctx(ctx)

	if client == nil {
		client = DefaultClient()
	}

	// ASSESS
	f, err := os.Open(path)
	if err != nil {
		return fab_err.NewExpectedError(cerr.Wrapf(err, "cannot read %s", path))
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return cerr.Wrapf(err, "cannot stat %s", path)
	}
	if info.IsDir() {
		return fab_err.NewExpectedError(cerr.Newf("%s is a directory", path))
	}

	// INTERVENE
	target := URL(host, port, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, f)
	if err != nil {
		return cerr.Wrap(err, "building upload request")
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")

	log.Info("Archiving file", zap.String("file", path), zap.String("url", target), zap.Int64("bytes", info.Size()))
	resp, err := client.Do(req)
	if err != nil {
		return cerr.Wrapf(err, "error while QARCHIVE-ing %s to %s", path, req.URL.Host)
	}
	defer resp.Body.Close()

	// EVALUATE
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := cerr.Newf("error while QARCHIVE-ing %s to %s: status %s: %s",
			path, req.URL.Host, resp.Status, fab_err.ExtractSummary(string(body), 3))
		logger.Failure(ctx, "Archive upload failed", zap.Int("status", resp.StatusCode))
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	logger.Success(ctx, fmt.Sprintf("%s successfully archived to %s", filepath.Base(path), host))
	return nil
}
