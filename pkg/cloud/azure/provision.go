// pkg/cloud/azure/provision.go

package azure

import (
	"net/http"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v6"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/ICRAR/fabtemplate/pkg/cloud"
	"github.com/ICRAR/fabtemplate/pkg/fab_err"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/logger"
	"github.com/ICRAR/fabtemplate/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// SubscriptionEnv names the subscription resources are billed to.
const SubscriptionEnv = "AZURE_SUBSCRIPTION_ID"

// Clients are the ARM clients the provisioner drives.
type Clients struct {
	Groups    *armresources.ResourceGroupsClient
	AVSets    *armcompute.AvailabilitySetsClient
	VMs       *armcompute.VirtualMachinesClient
	PublicIPs *armnetwork.PublicIPAddressesClient
	VNets     *armnetwork.VirtualNetworksClient
	Subnets   *armnetwork.SubnetsClient
	NICs      *armnetwork.InterfacesClient
}

// NewClients authenticates with the default credential chain (environment,
// managed identity, az login) against the subscription in the environment.
func NewClients() (*Clients, error) {
	sub := os.Getenv(SubscriptionEnv)
	if sub == "" {
		return nil, fab_err.NewValidationError(SubscriptionEnv+" is not set",
			"run 'az account show --query id -o tsv' and export the result as "+SubscriptionEnv)
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fab_err.NewProviderError("building Azure credentials", err, "log in with 'az login'")
	}

	c := &Clients{}
	if c.Groups, err = armresources.NewResourceGroupsClient(sub, cred, nil); err != nil {
		return nil, cerr.Wrap(err, "resource groups client")
	}
	compute, err := armcompute.NewClientFactory(sub, cred, nil)
	if err != nil {
		return nil, cerr.Wrap(err, "compute client")
	}
	network, err := armnetwork.NewClientFactory(sub, cred, nil)
	if err != nil {
		return nil, cerr.Wrap(err, "network client")
	}
	c.AVSets = compute.NewAvailabilitySetsClient()
	c.VMs = compute.NewVirtualMachinesClient()
	c.PublicIPs = network.NewPublicIPAddressesClient()
	c.VNets = network.NewVirtualNetworksClient()
	c.Subnets = network.NewSubnetsClient()
	c.NICs = network.NewInterfacesClient()
	return c, nil
}

// CreateOptions describe the VM to start.
type CreateOptions struct {
	App       string
	AppUser   string
	Location  string
	Size      string
	AdminUser string
	PublicKey string
	Owner     string
}

// Create builds the resource group, network and VM, and returns the VM
// with its public address. Existing resources of the same name are updated
// in place.
func Create(rc *fab_io.RuntimeContext, c *Clients, opts CreateOptions) (cloud.Instance, error) {
	ctx, span := telemetry.Start(rc.Ctx, "azure.Create", attribute.String("location", opts.Location))
	defer span.End()
	log := otelzap.Ctx(ctx)

	// ASSESS
	if opts.Location == "" {
		opts.Location = DefaultLocation
	}
	if opts.Size == "" {
		opts.Size = DefaultVMSize
	}
	if opts.AdminUser == "" {
		opts.AdminUser = DefaultAdminUser
	}
	if opts.Owner == "" {
		opts.Owner = cloud.Owner()
	}
	if opts.PublicKey == "" {
		return cloud.Instance{}, fab_err.NewValidationError("no SSH public key for the VM admin", "pass --public-key")
	}
	rg := ResourceGroup(opts.App)
	tags := cloud.OwnershipTags(opts.App, VMName, opts.AppUser, "")
	tags[cloud.TagCreatedBy] = opts.Owner

	// INTERVENE
	log.Info("Creating resource group", zap.String("group", rg), zap.String("location", opts.Location))
	if _, err := c.Groups.CreateOrUpdate(ctx, rg, ResourceGroupParams(opts.Location, tags), nil); err != nil {
		return cloud.Instance{}, providerError("creating resource group "+rg, err)
	}

	avset, err := c.AVSets.CreateOrUpdate(ctx, rg, AvailabilitySet, AvailabilitySetParams(opts.Location), nil)
	if err != nil {
		return cloud.Instance{}, providerError("creating availability set", err)
	}

	ipPoller, err := c.PublicIPs.BeginCreateOrUpdate(ctx, rg, PublicIPName, PublicIPParams(opts.Location), nil)
	if err != nil {
		return cloud.Instance{}, providerError("creating public IP", err)
	}
	ip, err := ipPoller.PollUntilDone(ctx, nil)
	if err != nil {
		return cloud.Instance{}, providerError("creating public IP", err)
	}

	vnetPoller, err := c.VNets.BeginCreateOrUpdate(ctx, rg, VNetName, VNetParams(opts.Location), nil)
	if err != nil {
		return cloud.Instance{}, providerError("creating virtual network", err)
	}
	if _, err := vnetPoller.PollUntilDone(ctx, nil); err != nil {
		return cloud.Instance{}, providerError("creating virtual network", err)
	}

	subnetPoller, err := c.Subnets.BeginCreateOrUpdate(ctx, rg, VNetName, SubnetName, SubnetParams(), nil)
	if err != nil {
		return cloud.Instance{}, providerError("creating subnet", err)
	}
	subnet, err := subnetPoller.PollUntilDone(ctx, nil)
	if err != nil {
		return cloud.Instance{}, providerError("creating subnet", err)
	}

	nicPoller, err := c.NICs.BeginCreateOrUpdate(ctx, rg, NICName,
		NICParams(opts.Location, deref(subnet.ID), deref(ip.ID)), nil)
	if err != nil {
		return cloud.Instance{}, providerError("creating network interface", err)
	}
	nic, err := nicPoller.PollUntilDone(ctx, nil)
	if err != nil {
		return cloud.Instance{}, providerError("creating network interface", err)
	}

	log.Info("Creating VM", zap.String("vm", VMName), zap.String("size", opts.Size))
	vmPoller, err := c.VMs.BeginCreateOrUpdate(ctx, rg, VMName, VMParams(VMOptions{
		Location:  opts.Location,
		Size:      opts.Size,
		AdminUser: opts.AdminUser,
		PublicKey: opts.PublicKey,
		Image:     DefaultImage,
		Tags:      tags,
	}, deref(avset.ID), deref(nic.ID)), nil)
	if err != nil {
		return cloud.Instance{}, providerError("creating VM", err)
	}
	vm, err := vmPoller.PollUntilDone(ctx, nil)
	if err != nil {
		return cloud.Instance{}, providerError("creating VM", err)
	}

	// EVALUATE
	// dynamic addresses are only allocated once the VM is up
	addr, err := c.PublicIPs.Get(ctx, rg, PublicIPName, nil)
	if err != nil {
		return cloud.Instance{}, providerError("reading public IP", err)
	}
	out := cloud.Instance{
		ID:    deref(vm.ID),
		Name:  VMName,
		State: "running",
		Type:  opts.Size,
		Tags:  tags,
	}
	if addr.Properties != nil {
		out.PublicIP = deref(addr.Properties.IPAddress)
	}
	if out.PublicIP == "" {
		return out, cerr.Newf("VM %s has no public address", VMName)
	}
	logger.Success(ctx, "VM created", zap.String("vm", VMName), zap.String("ip", out.PublicIP))
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// providerError keeps the ARM error code and marks authorisation failures
// as fixable by the operator.
func providerError(what string, err error) error {
	var respErr *azcore.ResponseError
	if cerr.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fab_err.NewProviderError(what, err,
				"check that your account has Contributor rights on the subscription")
		}
		return fab_err.NewProviderError(what+" ("+respErr.ErrorCode+")", err)
	}
	return fab_err.NewProviderError(what, err)
}
