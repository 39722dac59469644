// pkg/cloud/hetzner/servers.go

package hetzner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ICRAR/fabtemplate/pkg/cloud"
	"github.com/ICRAR/fabtemplate/pkg/fab_err"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/interaction"
	"github.com/ICRAR/fabtemplate/pkg/logger"
	"github.com/ICRAR/fabtemplate/pkg/poll"
	"github.com/ICRAR/fabtemplate/pkg/shared"
	"github.com/ICRAR/fabtemplate/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// EnsureSSHKey returns the key registered under name, uploading publicKey
// when there is none.
func EnsureSSHKey(rc *fab_io.RuntimeContext, api SSHKeyAPI, name, publicKey string) (*hcloud.SSHKey, error) {
	ctx, span := telemetry.Start(rc.Ctx, "hetzner.EnsureSSHKey", attribute.String("key", name))
	defer span.End()
	log := otelzap.Ctx(ctx)

	key, _, err := api.GetByName(ctx, name)
	if err != nil {
		return nil, fab_err.NewProviderError("looking up SSH key "+name, err)
	}
	if key != nil {
		log.Info("SSH key exists", zap.String("key", name), zap.Int64("id", key.ID))
		return key, nil
	}

	if err := throttle(ctx); err != nil {
		return nil, err
	}
	key, _, err = api.Create(ctx, hcloud.SSHKeyCreateOpts{
		Name:      name,
		PublicKey: strings.TrimSpace(publicKey),
		Labels:    map[string]string{"created-by": Label(shared.BinaryName)},
	})
	if err != nil {
		if hcloud.IsError(err, hcloud.ErrorCodeUniquenessError) {
			return nil, fab_err.NewExpectedError(cerr.WithHint(
				cerr.Newf("the public key is already registered under another name than %s", name),
				"pass the existing key name with --key-name"))
		}
		return nil, fab_err.NewProviderError("uploading SSH key "+name, err)
	}
	logger.Success(ctx, "SSH key uploaded", zap.String("key", name), zap.Int64("id", key.ID))
	return key, nil
}

// CreateOptions describe the servers to start.
type CreateOptions struct {
	App          string
	AppUser      string
	BaseName     string
	Count        int
	ServerType   string
	Image        string
	Location     string
	SSHKey       *hcloud.SSHKey
	Owner        string
	WaitTimeout  time.Duration
	PollInterval time.Duration
}

// Create starts the servers and waits until every one of them runs.
func Create(rc *fab_io.RuntimeContext, api ServerAPI, opts CreateOptions) ([]cloud.Instance, error) {
	ctx, span := telemetry.Start(rc.Ctx, "hetzner.Create", attribute.Int("count", opts.Count))
	defer span.End()
	log := otelzap.Ctx(ctx)

	// ASSESS
	if opts.Count < 1 {
		opts.Count = 1
	}
	if opts.ServerType == "" {
		opts.ServerType = DefaultServerType
	}
	if opts.Image == "" {
		opts.Image = DefaultImage
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = shared.InstanceWaitTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = shared.PollInterval
	}
	if opts.Owner == "" {
		opts.Owner = cloud.Owner()
	}

	// INTERVENE
	var servers []*hcloud.Server
	for _, name := range cloud.InstanceNames(opts.BaseName, opts.Count) {
		tags := cloud.OwnershipTags(opts.App, name, opts.AppUser, "")
		tags[cloud.TagCreatedBy] = opts.Owner
		create := hcloud.ServerCreateOpts{
			// server names are hostnames
			Name:       strings.ToLower(strings.ReplaceAll(name, "_", "-")),
			ServerType: &hcloud.ServerType{Name: opts.ServerType},
			Image:      &hcloud.Image{Name: opts.Image},
			Labels:     Labels(tags),
		}
		if opts.SSHKey != nil {
			create.SSHKeys = []*hcloud.SSHKey{opts.SSHKey}
		}
		if opts.Location != "" {
			create.Location = &hcloud.Location{Name: opts.Location}
		}
		log.Info("Creating server", zap.String("name", create.Name),
			zap.String("type", opts.ServerType), zap.String("image", opts.Image))
		if err := throttle(ctx); err != nil {
			return nil, err
		}
		res, _, err := api.Create(ctx, create)
		if err != nil {
			return nil, fab_err.NewProviderError("creating server "+create.Name, err)
		}
		servers = append(servers, res.Server)
	}

	start := time.Now()
	current := make([]*hcloud.Server, len(servers))
	err := poll.Until(ctx, opts.PollInterval, opts.WaitTimeout, func(ctx context.Context) (bool, error) {
		running := 0
		for n, s := range servers {
			got, _, err := api.GetByID(ctx, s.ID)
			if err != nil {
				return false, fab_err.NewProviderError("polling server "+s.Name, err)
			}
			if got == nil {
				return false, cerr.Newf("server %s disappeared", s.Name)
			}
			current[n] = got
			if got.Status == hcloud.ServerStatusRunning {
				running++
			}
		}
		log.Debug("Waiting for servers", zap.Int("running", running), zap.Int("wanted", len(servers)))
		return running == len(servers), nil
	})
	if err != nil {
		return nil, cerr.Wrap(err, "servers did not start")
	}

	// EVALUATE
	instances := make([]cloud.Instance, 0, len(current))
	for _, s := range current {
		instances = append(instances, toInstance(s))
	}
	logger.Success(ctx, fmt.Sprintf("%d server(s) created", len(instances)),
		zap.Duration("after", time.Since(start).Round(time.Second)))
	return instances, nil
}

// List returns the servers labelled for app, or every server when all is set.
func List(rc *fab_io.RuntimeContext, api ServerAPI, app string, all bool) ([]cloud.Instance, error) {
	ctx, span := telemetry.Start(rc.Ctx, "hetzner.List")
	defer span.End()

	opts := hcloud.ServerListOpts{}
	if !all {
		opts.LabelSelector = Selector(app)
	}
	servers, _, err := api.List(ctx, opts)
	if err != nil {
		return nil, fab_err.NewProviderError("listing servers", err)
	}
	out := make([]cloud.Instance, 0, len(servers))
	for _, s := range servers {
		out = append(out, toInstance(s))
	}
	return out, nil
}

// Delete removes the servers named by id or name after the operator
// confirms. Servers that are already gone are skipped.
func Delete(rc *fab_io.RuntimeContext, api ServerAPI, refs []string, prompt interaction.Prompter) error {
	ctx, span := telemetry.Start(rc.Ctx, "hetzner.Delete", attribute.StringSlice("servers", refs))
	defer span.End()
	log := otelzap.Ctx(ctx)

	// ASSESS
	if len(refs) == 0 {
		return fab_err.NewValidationError("no server specified", "pass one or more server names or ids")
	}
	var servers []*hcloud.Server
	for _, ref := range refs {
		s, _, err := api.Get(ctx, ref)
		if err != nil {
			return fab_err.NewProviderError("looking up server "+ref, err)
		}
		if s == nil {
			logger.Warn(ctx, "Server not found", zap.String("server", ref))
			continue
		}
		servers = append(servers, s)
	}
	if len(servers) == 0 {
		return nil
	}

	ok, err := prompt.Confirm(rc.WithContext(ctx), "Do you really want to delete "+strings.Join(refs, ", ")+"?", false)
	if err != nil {
		return err
	}
	if !ok {
		logger.Failure(ctx, "Server NOT deleted")
		return fab_err.NewCancelledError("deletion")
	}

	// INTERVENE
	for _, s := range servers {
		if err := throttle(ctx); err != nil {
			return err
		}
		if _, _, err := api.DeleteWithResult(ctx, s); err != nil {
			if hcloud.IsError(err, hcloud.ErrorCodeNotFound) {
				log.Info("Server already deleted", zap.String("server", s.Name))
				continue
			}
			return fab_err.NewProviderError("deleting server "+s.Name, err)
		}
		log.Info("Server deletion triggered", zap.String("server", s.Name), zap.Int64("id", s.ID))
	}

	// EVALUATE
	logger.Success(ctx, fmt.Sprintf("%d server(s) deleted", len(servers)))
	return nil
}
