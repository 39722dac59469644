// pkg/cloud/hetzner/hetzner.go

// Package hetzner provisions Hetzner Cloud servers to install onto.
package hetzner

import (
	"context"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/ICRAR/fabtemplate/pkg/cloud"
	"github.com/ICRAR/fabtemplate/pkg/fab_err"
	"github.com/ICRAR/fabtemplate/pkg/shared"
	"github.com/hetznercloud/hcloud-go/v2/hcloud"
)

// TokenEnv holds the API token.
const TokenEnv = "HCLOUD_TOKEN"

const (
	DefaultServerType = "cx22"
	DefaultImage      = "ubuntu-24.04"
	DefaultKeyName    = "fabtemplate"
	// Hetzner images log in as root.
	DefaultUser = "root"
)

// ServerAPI is the part of hcloud.ServerClient the provisioner uses.
type ServerAPI interface {
	Create(ctx context.Context, opts hcloud.ServerCreateOpts) (hcloud.ServerCreateResult, *hcloud.Response, error)
	Get(ctx context.Context, idOrName string) (*hcloud.Server, *hcloud.Response, error)
	GetByID(ctx context.Context, id int64) (*hcloud.Server, *hcloud.Response, error)
	List(ctx context.Context, opts hcloud.ServerListOpts) ([]*hcloud.Server, *hcloud.Response, error)
	DeleteWithResult(ctx context.Context, server *hcloud.Server) (*hcloud.ServerDeleteResult, *hcloud.Response, error)
}

// SSHKeyAPI is the part of hcloud.SSHKeyClient the provisioner uses.
type SSHKeyAPI interface {
	GetByName(ctx context.Context, name string) (*hcloud.SSHKey, *hcloud.Response, error)
	Create(ctx context.Context, opts hcloud.SSHKeyCreateOpts) (*hcloud.SSHKey, *hcloud.Response, error)
}

var (
	_ ServerAPI = (*hcloud.ServerClient)(nil)
	_ SSHKeyAPI = (*hcloud.SSHKeyClient)(nil)
)

// NewClient builds an API client from the token in the environment.
func NewClient() (*hcloud.Client, error) {
	token := os.Getenv(TokenEnv)
	if token == "" {
		return nil, fab_err.NewValidationError(TokenEnv+" is not set",
			"create an API token in the Hetzner Cloud console and export "+TokenEnv)
	}
	return hcloud.NewClient(
		hcloud.WithToken(token),
		hcloud.WithApplication(shared.BinaryName, shared.Version),
	), nil
}

var labelInvalid = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

const (
	labelTrim      = "-_."
	maxLabelLength = 63
)

// Label turns an ownership tag key or value into something Hetzner accepts
// as a label: alphanumerics with inner dashes, dots and underscores.
func Label(s string) string {
	s = labelInvalid.ReplaceAllString(s, "-")
	if len(s) > maxLabelLength {
		s = s[:maxLabelLength]
	}
	return strings.Trim(s, labelTrim)
}

// Labels converts ownership tags to server labels. Keys are lower-cased.
func Labels(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[strings.ToLower(Label(k))] = Label(v)
	}
	return out
}

// Selector matches servers labelled for app.
func Selector(app string) string {
	return Label(cloud.TagCost) + "=" + Label(strings.ToUpper(app))
}

func toInstance(s *hcloud.Server) cloud.Instance {
	out := cloud.Instance{
		ID:         strconv.FormatInt(s.ID, 10),
		Name:       s.Name,
		State:      string(s.Status),
		LaunchTime: s.Created,
		Tags:       s.Labels,
	}
	if ip := s.PublicNet.IPv4.IP; ip != nil {
		out.PublicIP = ip.String()
	}
	if s.ServerType != nil {
		out.Type = s.ServerType.Name
	}
	return out
}
