// pkg/cloud/azure/resources.go

// Package azure provisions a single CentOS VM on Azure to install onto.
package azure

import (
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v6"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
)

// Resource names and defaults.
const (
	DefaultLocation  = "australiacentral"
	AvailabilitySet  = "myAVSet"
	PublicIPName     = "myIPAddress"
	VNetName         = "myVNet"
	VNetPrefix       = "10.0.0.0/16"
	SubnetName       = "mySubnet"
	SubnetPrefix     = "10.0.0.0/24"
	NICName          = "myNic"
	VMName           = "myVM"
	DefaultVMSize    = "Standard_DS1"
	DefaultAdminUser = "azureuser"
	ipConfigName     = "myIPConfig"
)

// DefaultImage is OpenLogic CentOS 7.3.
var DefaultImage = armcompute.ImageReference{
	Publisher: to.Ptr("OpenLogic"),
	Offer:     to.Ptr("CentOS"),
	SKU:       to.Ptr("7.3"),
	Version:   to.Ptr("latest"),
}

// ResourceGroup is the group everything for app is created in.
func ResourceGroup(app string) string {
	return strings.ToUpper(app) + "-rg"
}

// ResourceGroupParams describes the resource group.
func ResourceGroupParams(location string, tags map[string]string) armresources.ResourceGroup {
	return armresources.ResourceGroup{
		Location: to.Ptr(location),
		Tags:     toTags(tags),
	}
}

// AvailabilitySetParams describes an aligned set with 3 fault and 2 update domains.
func AvailabilitySetParams(location string) armcompute.AvailabilitySet {
	return armcompute.AvailabilitySet{
		Location: to.Ptr(location),
		SKU:      &armcompute.SKU{Name: to.Ptr("Aligned")},
		Properties: &armcompute.AvailabilitySetProperties{
			PlatformFaultDomainCount:  to.Ptr[int32](3),
			PlatformUpdateDomainCount: to.Ptr[int32](2),
		},
	}
}

// PublicIPParams describes a dynamically allocated IPv4 address.
func PublicIPParams(location string) armnetwork.PublicIPAddress {
	return armnetwork.PublicIPAddress{
		Location: to.Ptr(location),
		Properties: &armnetwork.PublicIPAddressPropertiesFormat{
			PublicIPAllocationMethod: to.Ptr(armnetwork.IPAllocationMethodDynamic),
			PublicIPAddressVersion:   to.Ptr(armnetwork.IPVersionIPv4),
		},
	}
}

// VNetParams describes the virtual network.
func VNetParams(location string) armnetwork.VirtualNetwork {
	return armnetwork.VirtualNetwork{
		Location: to.Ptr(location),
		Properties: &armnetwork.VirtualNetworkPropertiesFormat{
			AddressSpace: &armnetwork.AddressSpace{AddressPrefixes: []*string{to.Ptr(VNetPrefix)}},
		},
	}
}

// SubnetParams describes the subnet inside the virtual network.
func SubnetParams() armnetwork.Subnet {
	return armnetwork.Subnet{
		Properties: &armnetwork.SubnetPropertiesFormat{AddressPrefix: to.Ptr(SubnetPrefix)},
	}
}

// NICParams describes a NIC in subnetID carrying the public address ipID.
func NICParams(location, subnetID, ipID string) armnetwork.Interface {
	return armnetwork.Interface{
		Location: to.Ptr(location),
		Properties: &armnetwork.InterfacePropertiesFormat{
			IPConfigurations: []*armnetwork.InterfaceIPConfiguration{{
				Name: to.Ptr(ipConfigName),
				Properties: &armnetwork.InterfaceIPConfigurationPropertiesFormat{
					PrivateIPAllocationMethod: to.Ptr(armnetwork.IPAllocationMethodDynamic),
					Subnet:                    &armnetwork.Subnet{ID: to.Ptr(subnetID)},
					PublicIPAddress:           &armnetwork.PublicIPAddress{ID: to.Ptr(ipID)},
				},
			}},
		},
	}
}

// VMOptions are the knobs of the virtual machine.
type VMOptions struct {
	Location  string
	Size      string
	AdminUser string
	PublicKey string
	Image     armcompute.ImageReference
	Tags      map[string]string
}

// VMParams describes a VM that only accepts SSH key logins for AdminUser.
func VMParams(opts VMOptions, availabilitySetID, nicID string) armcompute.VirtualMachine {
	image := armcompute.ImageReference{
		Publisher: copyPtr(opts.Image.Publisher),
		Offer:     copyPtr(opts.Image.Offer),
		SKU:       copyPtr(opts.Image.SKU),
		Version:   copyPtr(opts.Image.Version),
	}
	return armcompute.VirtualMachine{
		Location: to.Ptr(opts.Location),
		Tags:     toTags(opts.Tags),
		Properties: &armcompute.VirtualMachineProperties{
			AvailabilitySet: &armcompute.SubResource{ID: to.Ptr(availabilitySetID)},
			HardwareProfile: &armcompute.HardwareProfile{
				VMSize: to.Ptr(armcompute.VirtualMachineSizeTypes(opts.Size)),
			},
			StorageProfile: &armcompute.StorageProfile{
				ImageReference: &image,
				OSDisk: &armcompute.OSDisk{
					CreateOption: to.Ptr(armcompute.DiskCreateOptionTypesFromImage),
				},
			},
			OSProfile: &armcompute.OSProfile{
				ComputerName:  to.Ptr(VMName),
				AdminUsername: to.Ptr(opts.AdminUser),
				LinuxConfiguration: &armcompute.LinuxConfiguration{
					DisablePasswordAuthentication: to.Ptr(true),
					SSH: &armcompute.SSHConfiguration{
						PublicKeys: []*armcompute.SSHPublicKey{{
							Path:    to.Ptr(fmt.Sprintf("/home/%s/.ssh/authorized_keys", opts.AdminUser)),
							KeyData: to.Ptr(strings.TrimSpace(opts.PublicKey)),
						}},
					},
				},
			},
			NetworkProfile: &armcompute.NetworkProfile{
				NetworkInterfaces: []*armcompute.NetworkInterfaceReference{{ID: to.Ptr(nicID)}},
			},
		},
	}
}

func toTags(tags map[string]string) map[string]*string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]*string, len(tags))
	for k, v := range tags {
		out[k] = to.Ptr(v)
	}
	return out
}

func copyPtr(s *string) *string {
	if s == nil {
		return nil
	}
	return to.Ptr(*s)
}
