// pkg/cloud/aws/provision.go

package aws

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ICRAR/fabtemplate/pkg/cloud"
	"github.com/ICRAR/fabtemplate/pkg/fab_err"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/interaction"
	"github.com/ICRAR/fabtemplate/pkg/logger"
	"github.com/ICRAR/fabtemplate/pkg/poll"
	"github.com/ICRAR/fabtemplate/pkg/shared"
	"github.com/ICRAR/fabtemplate/pkg/sshkeys"
	"github.com/ICRAR/fabtemplate/pkg/telemetry"
	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// KeyFile is where the private half of the key pair name is kept.
func KeyFile(sshDir, name string) string {
	return filepath.Join(sshDir, name+".pem")
}

// EnsureKeyPair makes sure the key pair exists on AWS and its private key
// is in sshDir. A pair created now overwrites any stale local file; a pair
// that exists remotely but not locally cannot be recovered.
func EnsureKeyPair(rc *fab_io.RuntimeContext, api EC2API, name, sshDir string) (string, error) {
	ctx, span := telemetry.Start(rc.Ctx, "aws.EnsureKeyPair", attribute.String("key", name))
	defer span.End()
	log := otelzap.Ctx(ctx)
	keyFile := KeyFile(sshDir, name)

	// ASSESS
	out, err := api.DescribeKeyPairs(ctx, &ec2.DescribeKeyPairsInput{KeyNames: []string{name}})
	switch {
	case err == nil && len(out.KeyPairs) > 0:
		if _, statErr := os.Stat(keyFile); statErr != nil {
			return "", fab_err.NewExpectedError(cerr.WithHint(
				cerr.Newf("key pair %s exists on AWS but %s was not found locally", name, keyFile),
				"copy the key into place or choose another key name with --key-name"))
		}
		log.Info("Key pair exists", zap.String("key", name), zap.String("file", keyFile))
		return keyFile, nil
	case err != nil && apiErrorCode(err) != "InvalidKeyPair.NotFound":
		return "", fab_err.NewProviderError("looking up key pair "+name, err)
	}

	// INTERVENE
	created, err := api.CreateKeyPair(ctx, &ec2.CreateKeyPairInput{KeyName: awsv2.String(name)})
	if err != nil {
		return "", fab_err.NewProviderError("creating key pair "+name, err)
	}
	if err := os.MkdirAll(sshDir, sshkeys.KeyDirPerm); err != nil {
		return "", cerr.Wrapf(err, "failed to create %s", sshDir)
	}
	_ = os.Remove(keyFile)
	if err := os.WriteFile(keyFile, []byte(awsv2.ToString(created.KeyMaterial)), sshkeys.PrivateKeyPerm); err != nil {
		return "", cerr.Wrapf(err, "failed to save %s", keyFile)
	}

	// EVALUATE
	logger.Success(ctx, "Key pair created", zap.String("key", name), zap.String("file", keyFile))
	return keyFile, nil
}

// EnsureSecurityGroup returns the id of the group called name in vpc,
// creating it if needed, with TCP open to the world on every port.
func EnsureSecurityGroup(rc *fab_io.RuntimeContext, api EC2API, app, name, vpc string, ports []int32) (string, error) {
	ctx, span := telemetry.Start(rc.Ctx, "aws.EnsureSecurityGroup", attribute.String("group", name))
	defer span.End()
	log := otelzap.Ctx(ctx)

	// ASSESS
	out, err := api.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []ec2types.Filter{{Name: awsv2.String("vpc-id"), Values: []string{vpc}}},
	})
	if err != nil {
		return "", fab_err.NewProviderError("listing security groups", err)
	}
	var id string
	for _, sg := range out.SecurityGroups {
		if strings.EqualFold(awsv2.ToString(sg.GroupName), name) && awsv2.ToString(sg.VpcId) == vpc {
			id = awsv2.ToString(sg.GroupId)
			log.Info("Security group exists", zap.String("group", name), zap.String("id", id))
			break
		}
	}

	// INTERVENE
	if id == "" {
		created, err := api.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
			GroupName:   awsv2.String(name),
			Description: awsv2.String(strings.ToUpper(app) + " default permissions"),
			VpcId:       awsv2.String(vpc),
		})
		if err != nil {
			return "", fab_err.NewProviderError("creating security group "+name, err)
		}
		id = awsv2.ToString(created.GroupId)
		log.Info("Security group created", zap.String("group", name), zap.String("id", id))
	}

	for _, port := range ports {
		_, err := api.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId: awsv2.String(id),
			IpPermissions: []ec2types.IpPermission{{
				IpProtocol: awsv2.String("tcp"),
				FromPort:   awsv2.Int32(port),
				ToPort:     awsv2.Int32(port),
				IpRanges:   []ec2types.IpRange{{CidrIp: awsv2.String("0.0.0.0/0")}},
			}},
		})
		if err != nil && apiErrorCode(err) != "InvalidPermission.Duplicate" {
			return "", fab_err.NewProviderError(fmt.Sprintf("opening port %d in %s", port, name), err)
		}
	}

	// EVALUATE
	return id, nil
}

// CreateOptions describe the instances to start.
type CreateOptions struct {
	App           string
	AppUser       string
	BaseName      string
	Count         int
	AMI           AMI
	InstanceType  string
	KeyName       string
	SecurityGroup string
	SubnetID      string
	ElasticIPs    []string
	Owner         string
	WaitTimeout   time.Duration
	PollInterval  time.Duration
}

// Create starts the instances, waits until all of them run, tags them and
// moves the elastic IPs onto them. It does not wait for SSH.
func Create(rc *fab_io.RuntimeContext, api EC2API, opts CreateOptions) ([]cloud.Instance, error) {
	ctx, span := telemetry.Start(rc.Ctx, "aws.Create", attribute.Int("count", opts.Count))
	defer span.End()
	log := otelzap.Ctx(ctx)

	// ASSESS
	if opts.Count < 1 {
		opts.Count = 1
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
	names := cloud.InstanceNames(opts.BaseName, opts.Count)

	var allocations []string
	if len(opts.ElasticIPs) > 0 {
		if len(opts.ElasticIPs) != opts.Count {
			return nil, fab_err.NewExpectedError(cerr.Newf(
				"%d instances requested but %d elastic IPs given", opts.Count, len(opts.ElasticIPs)))
		}
		var err error
		if allocations, err = releaseAddresses(rc.WithContext(ctx), api, opts.ElasticIPs); err != nil {
			return nil, err
		}
	}

	// INTERVENE
	log.Info("Creating instances",
		zap.Strings("names", names),
		zap.String("ami", opts.AMI.ID),
		zap.String("type", opts.InstanceType))
	run, err := api.RunInstances(ctx, &ec2.RunInstancesInput{
		ImageId:      awsv2.String(opts.AMI.ID),
		InstanceType: ec2types.InstanceType(opts.InstanceType),
		KeyName:      awsv2.String(opts.KeyName),
		MinCount:     awsv2.Int32(int32(opts.Count)),
		MaxCount:     awsv2.Int32(int32(opts.Count)),
		NetworkInterfaces: []ec2types.InstanceNetworkInterfaceSpecification{{
			DeviceIndex:              awsv2.Int32(0),
			SubnetId:                 awsv2.String(opts.SubnetID),
			Groups:                   []string{opts.SecurityGroup},
			AssociatePublicIpAddress: awsv2.Bool(true),
		}},
	})
	if err != nil {
		return nil, fab_err.NewProviderError("starting instances", err)
	}
	ids := make([]string, 0, len(run.Instances))
	for _, i := range run.Instances {
		ids = append(ids, awsv2.ToString(i.InstanceId))
	}

	start := time.Now()
	err = poll.Until(ctx, opts.PollInterval, opts.WaitTimeout, func(ctx context.Context) (bool, error) {
		current, err := describe(ctx, api, ids, nil)
		if err != nil {
			return false, err
		}
		running := 0
		for _, i := range current {
			switch i.State {
			case string(ec2types.InstanceStateNameRunning):
				running++
			case string(ec2types.InstanceStateNameTerminated), string(ec2types.InstanceStateNameShuttingDown):
				return false, cerr.Newf("instance %s is %s", i.ID, i.State)
			}
		}
		log.Debug("Waiting for instances", zap.Int("running", running), zap.Int("wanted", len(ids)))
		return running == len(ids), nil
	})
	if err != nil {
		return nil, cerr.Wrapf(err, "instances %s did not start", strings.Join(ids, ", "))
	}
	log.Info("Instances running", zap.Strings("ids", ids), zap.Duration("after", since(start)))

	for n, id := range ids {
		tags := cloud.OwnershipTags(opts.App, names[n], opts.AppUser, "")
		tags[cloud.TagCreatedBy] = opts.Owner
		if _, err := api.CreateTags(ctx, &ec2.CreateTagsInput{Resources: []string{id}, Tags: toTags(tags)}); err != nil {
			return nil, fab_err.NewProviderError("tagging "+id, err)
		}
	}

	for n, alloc := range allocations {
		log.Info("Associating elastic IP", zap.String("ip", opts.ElasticIPs[n]), zap.String("instance", ids[n]))
		if _, err := api.AssociateAddress(ctx, &ec2.AssociateAddressInput{
			AllocationId: awsv2.String(alloc),
			InstanceId:   awsv2.String(ids[n]),
		}); err != nil {
			return nil, fab_err.NewProviderError(fmt.Sprintf("associating %s with %s", opts.ElasticIPs[n], ids[n]), err)
		}
	}

	// EVALUATE
	// the public DNS name changes once an elastic IP is attached
	instances, err := describe(ctx, api, ids, nil)
	if err != nil {
		return nil, err
	}
	logger.Success(ctx, fmt.Sprintf("%d instance(s) created", len(instances)), zap.Strings("ids", ids))
	return instances, nil
}

// releaseAddresses detaches the elastic IPs from whatever holds them and
// returns their allocation ids in the same order.
func releaseAddresses(rc *fab_io.RuntimeContext, api EC2API, ips []string) ([]string, error) {
	ctx := rc.Ctx
	out, err := api.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{PublicIps: ips})
	if err != nil {
		return nil, fab_err.NewProviderError("looking up elastic IPs", err)
	}
	byIP := map[string]ec2types.Address{}
	for _, a := range out.Addresses {
		byIP[awsv2.ToString(a.PublicIp)] = a
	}

	allocations := make([]string, len(ips))
	for n, ip := range ips {
		addr, ok := byIP[ip]
		if !ok {
			return nil, fab_err.NewExpectedError(cerr.Newf("elastic IP %s is not allocated to this account", ip))
		}
		allocations[n] = awsv2.ToString(addr.AllocationId)
		if addr.AssociationId == nil {
			continue
		}
		if _, err := api.DisassociateAddress(ctx, &ec2.DisassociateAddressInput{AssociationId: addr.AssociationId}); err != nil {
			return nil, fab_err.NewProviderError("could not disassociate the IP "+ip, err)
		}
	}
	return allocations, nil
}

// List returns the instances tagged for app, or every instance when all is set.
func List(rc *fab_io.RuntimeContext, api EC2API, app string, all bool) ([]cloud.Instance, error) {
	ctx, span := telemetry.Start(rc.Ctx, "aws.List")
	defer span.End()

	var filters []ec2types.Filter
	if !all {
		filters = []ec2types.Filter{{Name: awsv2.String("tag:" + cloud.TagCost), Values: []string{strings.ToUpper(app)}}}
	}
	return describe(ctx, api, nil, filters)
}

// Terminate shuts the instances down after the operator confirms. Instances
// created by someone else are flagged before asking.
func Terminate(rc *fab_io.RuntimeContext, api EC2API, ids []string, prompt interaction.Prompter, owner string) error {
	ctx, span := telemetry.Start(rc.Ctx, "aws.Terminate", attribute.StringSlice("ids", ids))
	defer span.End()
	log := otelzap.Ctx(ctx)

	// ASSESS
	if len(ids) == 0 {
		return fab_err.NewValidationError("no instance ID specified", "pass one or more instance ids")
	}
	instances, err := describe(ctx, api, ids, nil)
	if err != nil {
		return err
	}
	if owner == "" {
		owner = cloud.Owner()
	}
	for _, i := range instances {
		log.Info("Instance", zap.String("id", i.ID), zap.String("name", i.Name), zap.String("state", i.State),
			zap.String("created_by", i.Tags[cloud.TagCreatedBy]))
		if by, ok := i.Tags[cloud.TagCreatedBy]; ok && by != owner {
			logger.Warn(ctx, fmt.Sprintf("Instance %s was not created by you (%s)", i.ID, by))
		}
	}

	ok, err := prompt.Confirm(rc.WithContext(ctx), "Do you really want to terminate "+strings.Join(ids, ", ")+"?", false)
	if err != nil {
		return err
	}
	if !ok {
		logger.Failure(ctx, "Instance NOT terminated")
		return fab_err.NewCancelledError("termination")
	}

	// INTERVENE
	if _, err := api.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: ids}); err != nil {
		return fab_err.NewProviderError("terminating instances", err)
	}

	// EVALUATE
	logger.Success(ctx, "Terminating instances", zap.Strings("ids", ids))
	return nil
}
