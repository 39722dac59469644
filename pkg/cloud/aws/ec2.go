// pkg/cloud/aws/ec2.go

// Package aws provisions EC2 instances to install onto.
package aws

import (
	"context"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/ICRAR/fabtemplate/pkg/cloud"
	"github.com/ICRAR/fabtemplate/pkg/fab_err"
	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	cerr "github.com/cockroachdb/errors"
)

// EC2API is the part of the EC2 client the provisioner uses.
type EC2API interface {
	DescribeKeyPairs(ctx context.Context, params *ec2.DescribeKeyPairsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeKeyPairsOutput, error)
	CreateKeyPair(ctx context.Context, params *ec2.CreateKeyPairInput, optFns ...func(*ec2.Options)) (*ec2.CreateKeyPairOutput, error)
	DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
	CreateSecurityGroup(ctx context.Context, params *ec2.CreateSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error)
	AuthorizeSecurityGroupIngress(ctx context.Context, params *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
	DescribeAddresses(ctx context.Context, params *ec2.DescribeAddressesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error)
	DisassociateAddress(ctx context.Context, params *ec2.DisassociateAddressInput, optFns ...func(*ec2.Options)) (*ec2.DisassociateAddressOutput, error)
	AssociateAddress(ctx context.Context, params *ec2.AssociateAddressInput, optFns ...func(*ec2.Options)) (*ec2.AssociateAddressOutput, error)
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

var _ EC2API = (*ec2.Client)(nil)

// AMI is a known machine image and the account it is entered as.
type AMI struct {
	ID   string
	User string
}

// AMIs are the images that can be chosen by name.
var AMIs = map[string]AMI{
	"Amazon":     {ID: "ami-0ff8a91507f77f867", User: "ec2-user"},
	"Amazon-hvm": {ID: "ami-0ff8a91507f77f867", User: "ec2-user"},
	"CentOS":     {ID: "ami-8997afe0", User: "root"},
	"Debian":     {ID: "ami-0bd9223868b4778d7", User: "admin"},
	"SLES-SP2":   {ID: "ami-e8084981", User: "root"},
	"SLES-SP3":   {ID: "ami-c08fcba8", User: "root"},
}

// Defaults for instance creation.
const (
	DefaultAMIName       = "Amazon"
	DefaultInstanceType  = "t1.micro"
	DefaultKeyName       = "icrar_ngas"
	DefaultSecurityGroup = "NGAS"
	DefaultRegion        = "us-east-1"
	DefaultProfile       = "NGAS"
	DefaultVPCID         = "vpc-0e2d88e4476b37393"
	DefaultSubnetID      = "subnet-0bc37d21234d81577"
)

// DefaultPorts are opened in the security group.
var DefaultPorts = []int32{22, 80, 7777, 8888}

// NewClient builds an EC2 client for region using the named shared
// credentials profile.
func NewClient(ctx context.Context, region, profile string) (*ec2.Client, error) {
	opts := []func(*awscfg.LoadOptions) error{awscfg.WithRegion(region)}
	if profile != "" {
		opts = append(opts, awscfg.WithSharedConfigProfile(profile))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fab_err.NewProviderError("loading AWS configuration", err,
			"check ~/.aws/credentials for the ["+profile+"] profile")
	}
	return ec2.NewFromConfig(cfg), nil
}

// ResolveAMI returns the image for name, or id with user when an explicit
// image is given.
func ResolveAMI(name, id, user string) (AMI, error) {
	if id != "" {
		if user == "" {
			return AMI{}, fab_err.NewExpectedError(cerr.Newf("an explicit AMI %s needs the user to connect as", id))
		}
		return AMI{ID: id, User: user}, nil
	}
	if name == "" {
		name = DefaultAMIName
	}
	ami, ok := AMIs[name]
	if !ok {
		return AMI{}, fab_err.NewExpectedError(cerr.WithHint(
			cerr.Newf("unknown AMI name %q", name), "known AMIs: "+strings.Join(slices.Sorted(maps.Keys(AMIs)), ", ")))
	}
	return ami, nil
}

func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if cerr.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func toInstance(i ec2types.Instance) cloud.Instance {
	out := cloud.Instance{
		ID:        awsv2.ToString(i.InstanceId),
		PublicDNS: awsv2.ToString(i.PublicDnsName),
		PublicIP:  awsv2.ToString(i.PublicIpAddress),
		Type:      string(i.InstanceType),
		Tags:      map[string]string{},
	}
	if i.State != nil {
		out.State = string(i.State.Name)
	}
	if i.LaunchTime != nil {
		out.LaunchTime = *i.LaunchTime
	}
	for _, t := range i.Tags {
		out.Tags[awsv2.ToString(t.Key)] = awsv2.ToString(t.Value)
	}
	out.Name = out.Tags[cloud.TagName]
	return out
}

func toTags(tags map[string]string) []ec2types.Tag {
	out := make([]ec2types.Tag, 0, len(tags))
	for _, k := range slices.Sorted(maps.Keys(tags)) {
		out = append(out, ec2types.Tag{Key: awsv2.String(k), Value: awsv2.String(tags[k])})
	}
	return out
}

// describe returns the instances with the given ids, or those matching
// filters when ids is empty.
func describe(ctx context.Context, api EC2API, ids []string, filters []ec2types.Filter) ([]cloud.Instance, error) {
	var out []cloud.Instance
	p := ec2.NewDescribeInstancesPaginator(api, &ec2.DescribeInstancesInput{InstanceIds: ids, Filters: filters})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fab_err.NewProviderError("describing EC2 instances", err)
		}
		for _, r := range page.Reservations {
			for _, i := range r.Instances {
				out = append(out, toInstance(i))
			}
		}
	}
	return out, nil
}

func since(start time.Time) time.Duration {
	return time.Since(start).Round(time.Second)
}
