// cmd/create/aws.go

package create

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ICRAR/fabtemplate/pkg/cloud"
	"github.com/ICRAR/fabtemplate/pkg/cloud/aws"
	fab "github.com/ICRAR/fabtemplate/pkg/fab_cli"
	"github.com/ICRAR/fabtemplate/pkg/fab_io"
	"github.com/ICRAR/fabtemplate/pkg/shared"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var awsFlags struct {
	amiName, amiID, amiUser string
	name                    string
	count                   int
	instanceType            string
	keyName                 string
	group                   string
	region, profile         string
	vpc, subnet             string
	elasticIPs              []string
}

var awsCmd = &cobra.Command{
	Use:   "aws",
	Short: "Start EC2 instances to install onto",
	Long: fmt.Sprintf(`Start one or more EC2 instances tagged for the application, wait until they
run and answer SSH, and optionally install the application on them.

The key pair private key is kept in ~/.ssh/<key-name>.pem. The security group
is created when missing and opens ports %v.

Known images: %s

Examples:
  fabtemplate create aws --app NGAS --count 2 --install
  fabtemplate create aws --ami-name Debian --elastic-ip 3.2.1.4`,
		aws.DefaultPorts, strings.Join(slices.Sorted(maps.Keys(aws.AMIs)), ", ")),
	Args: cobra.NoArgs,
	RunE: fab.Wrap(func(rc *fab_io.RuntimeContext, cmd *cobra.Command, _ []string) error {
		sess, err := fab.LoadSession(rc, cmd)
		if err != nil {
			return err
		}
		ami, err := aws.ResolveAMI(awsFlags.amiName, awsFlags.amiID, awsFlags.amiUser)
		if err != nil {
			return err
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return cerr.Wrap(err, "locating home directory")
		}

		api, err := aws.NewClient(rc.Ctx, awsFlags.region, awsFlags.profile)
		if err != nil {
			return err
		}
		keyFile, err := aws.EnsureKeyPair(rc, api, awsFlags.keyName, filepath.Join(home, ".ssh"))
		if err != nil {
			return err
		}
		group, err := aws.EnsureSecurityGroup(rc, api, sess.Config.App,
			strings.ToUpper(awsFlags.group), awsFlags.vpc, aws.DefaultPorts)
		if err != nil {
			return err
		}

		name := awsFlags.name
		if name == "" {
			name = sess.Config.App + "_" + sess.Config.Revision
		}
		instances, err := aws.Create(rc, api, aws.CreateOptions{
			App:           sess.Config.App,
			AppUser:       sess.Config.User,
			BaseName:      name,
			Count:         awsFlags.count,
			AMI:           ami,
			InstanceType:  awsFlags.instanceType,
			KeyName:       awsFlags.keyName,
			SecurityGroup: group,
			SubnetID:      awsFlags.subnet,
			ElasticIPs:    awsFlags.elasticIPs,
			WaitTimeout:   waitTimeout(cmd),
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cloud.RenderInstances(sess.Config.App, instances, keyFile))

		return waitAndInstall(rc, cmd, sess, cloud.ToHosts(instances, ami.User, keyFile))
	}),
}

func init() {
	fs := awsCmd.Flags()
	fs.StringVar(&awsFlags.amiName, "ami-name", aws.DefaultAMIName, "image to start, by name")
	fs.StringVar(&awsFlags.amiID, "ami-id", "", "image id, overrides --ami-name (needs --ami-user)")
	fs.StringVar(&awsFlags.amiUser, "ami-user", "", "account to log into the image as")
	fs.StringVar(&awsFlags.name, "name", "", "instance name (default: <APP>_<revision>)")
	fs.IntVar(&awsFlags.count, "count", 1, "number of instances")
	fs.StringVar(&awsFlags.instanceType, "instance-type", aws.DefaultInstanceType, "EC2 instance type")
	fs.StringVar(&awsFlags.keyName, "key-name", aws.DefaultKeyName, "key pair name")
	fs.StringVar(&awsFlags.group, "security-group", aws.DefaultSecurityGroup, "security group name")
	fs.StringVar(&awsFlags.region, "region", aws.DefaultRegion, "AWS region")
	fs.StringVar(&awsFlags.profile, "profile", aws.DefaultProfile, "shared credentials profile")
	fs.StringVar(&awsFlags.vpc, "vpc", aws.DefaultVPCID, "VPC to place the instances in")
	fs.StringVar(&awsFlags.subnet, "subnet", aws.DefaultSubnetID, "subnet to place the instances in")
	fs.StringSliceVar(&awsFlags.elasticIPs, "elastic-ip", nil, "elastic IPs to move onto the instances, one per instance")
	fs.Duration(flagWaitTimeout, shared.InstanceWaitTimeout, "how long to wait for the instances to run")
	addTargetFlags(fs)
}
