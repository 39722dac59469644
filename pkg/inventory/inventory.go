// pkg/inventory/inventory.go

package inventory

import (
	"context"

	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Inventory is the on-disk list of targets.
//
//	defaults:
//	  user: ec2-user
//	  key_path: ~/.ssh/icrar_ngas.pem
//	hosts:
//	  - name: archive-1
//	    address: 10.0.0.5
type Inventory struct {
	Defaults Host   `yaml:"defaults,omitempty"`
	Hosts    []Host `yaml:"hosts"`
}

// Load reads an inventory file and applies its defaults to every host.
func Load(ctx context.Context, path string) ([]Host, error) {
	var inv Inventory
	if err := fab_io.ReadYAML(ctx, path, &inv); err != nil {
		return nil, err
	}
	if len(inv.Hosts) == 0 {
		return nil, cerr.Newf("inventory %s lists no hosts", path)
	}

	hosts := make([]Host, 0, len(inv.Hosts))
	for i, h := range inv.Hosts {
		if h.Address == "" {
			return nil, cerr.Newf("inventory %s: host %d has no address", path, i)
		}
		hosts = append(hosts, h.Merge(inv.Defaults))
	}
	otelzap.Ctx(ctx).Debug("Inventory loaded", zap.String("path", path), zap.Int("hosts", len(hosts)))
	return hosts, nil
}

// Save writes hosts as an inventory file, e.g. after provisioning.
func Save(ctx context.Context, path string, hosts []Host) error {
	return fab_io.WriteYAML(ctx, path, Inventory{Hosts: hosts})
}
