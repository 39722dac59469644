// pkg/cloud/cloud.go

// Package cloud holds what the provisioners share: the instance record, the
// ownership tags every instance carries, and the conversion to hosts.
package cloud

import (
	"fmt"
	"net"
	"os"
	"os/user"
	"sort"
	"strings"
	"time"

	"github.com/ICRAR/fabtemplate/pkg/inventory"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Tag keys written on every instance.
const (
	TagName      = "Name"
	TagCreatedBy = "Created By"
	TagCost      = "allocate-cost-to"
)

// Instance is a provider-neutral view of a virtual machine.
type Instance struct {
	ID         string
	Name       string
	State      string
	PublicDNS  string
	PublicIP   string
	Type       string
	LaunchTime time.Time
	Tags       map[string]string
}

// Address is how the instance is reached: its DNS name when it has one.
func (i Instance) Address() string {
	if i.PublicDNS != "" {
		return i.PublicDNS
	}
	return i.PublicIP
}

// UserTag is the tag naming the account the application runs as.
func UserTag(app string) string {
	return strings.ToUpper(app) + " User"
}

// OwnershipTags are attached to every created instance.
func OwnershipTags(app, name, user, ip string) map[string]string {
	return map[string]string{
		TagName:      name,
		TagCreatedBy: user + "@" + ip,
		UserTag(app): user,
		TagCost:      strings.ToUpper(app),
	}
}

// InstanceNames returns n names derived from base, suffixed _0.._n-1 when
// there is more than one.
func InstanceNames(base string, n int) []string {
	if n <= 1 {
		return []string{base}
	}
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("%s_%d", base, i)
	}
	return names
}

// ToHosts turns running instances into inventory hosts reached as user
// with key.
func ToHosts(instances []Instance, user, key string) []inventory.Host {
	hosts := make([]inventory.Host, 0, len(instances))
	for _, i := range instances {
		hosts = append(hosts, inventory.Host{Name: i.Name, Address: i.Address(), User: user, KeyPath: key})
	}
	return hosts
}

// LocalUser is the login name of whoever runs the tool.
func LocalUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}

// LocalIP is the address of the interface that routes to the internet.
// No packet is sent.
func LocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}

// Owner is the "Created By" value for instances created from here.
func Owner() string {
	return LocalUser() + "@" + LocalIP()
}

var (
	stateStyles = map[string]lipgloss.Style{
		"running":       lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		"terminated":    lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		"shutting-down": lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	}
	cell = lipgloss.NewStyle().Padding(0, 1)
)

// RenderInstances prints one row per instance with the ssh command for the
// running ones. keyFile is the private key the instances accept.
func RenderInstances(app string, instances []Instance, keyFile string) string {
	sorted := append([]Instance(nil), instances...)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].LaunchTime.Before(sorted[b].LaunchTime) })

	rows := make([][]string, 0, len(sorted))
	for _, i := range sorted {
		state := i.State
		if st, ok := stateStyles[i.State]; ok {
			state = st.Render(i.State)
		}
		connect, launched := "", ""
		if i.State == "running" {
			connect = "ssh -i " + keyFile + " " + i.Address()
			if u := i.Tags[UserTag(app)]; u != "" {
				connect += " -l" + u
			}
			launched = i.LaunchTime.UTC().Format(time.RFC3339)
		}
		rows = append(rows, []string{i.Name, i.ID, i.Type, state, launched, i.Tags[TagCreatedBy], connect})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("NAME", "INSTANCE", "TYPE", "STATE", "LAUNCHED", "CREATED BY", "CONNECT").
		Rows(rows...).
		StyleFunc(func(int, int) lipgloss.Style { return cell }).
		String()
}
