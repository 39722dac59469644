// pkg/inventory/host.go

package inventory

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	cerr "github.com/cockroachdb/errors"
)

// Host identifies one target machine.
type Host struct {
	Name     string `yaml:"name,omitempty"`
	Address  string `yaml:"address"`
	User     string `yaml:"user,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	KeyPath  string `yaml:"key_path,omitempty"`
	Password string `yaml:"password,omitempty"`
}

var localNames = map[string]bool{"": true, "local": true, "localhost": true, "127.0.0.1": true, "::1": true}

// IsLocal reports whether commands for this host run in-process rather than over SSH.
// A localhost entry with an explicit port is treated as remote (for example a
// container publishing sshd on 2222).
func (h Host) IsLocal() bool {
	return localNames[h.Address] && h.Port == 0
}

// SSHPort returns the port to dial, defaulting to 22.
func (h Host) SSHPort() int {
	if h.Port == 0 {
		return 22
	}
	return h.Port
}

// Dial returns host:port for net.Dial.
func (h Host) Dial() string {
	return net.JoinHostPort(h.Address, strconv.Itoa(h.SSHPort()))
}

// WithUser returns a copy connecting as user.
func (h Host) WithUser(user string) Host {
	h.User = user
	return h
}

// String renders user@address:port, omitting parts that are unset.
func (h Host) String() string {
	var sb strings.Builder
	if h.User != "" {
		sb.WriteString(h.User)
		sb.WriteByte('@')
	}
	if strings.Contains(h.Address, ":") {
		sb.WriteString("[" + h.Address + "]")
	} else {
		sb.WriteString(h.Address)
	}
	if h.Port != 0 {
		fmt.Fprintf(&sb, ":%d", h.Port)
	}
	return sb.String()
}

// Label is the name used in logs and reports.
func (h Host) Label() string {
	if h.Name != "" {
		return h.Name
	}
	return h.String()
}

// ParseHost parses [user@]host[:port]. IPv6 addresses need brackets when a port is given.
func ParseHost(s string) (Host, error) {
	s = strings.Trim(strings.TrimSpace(s), "'\"")
	if s == "" {
		return Host{}, cerr.New("empty host")
	}

	var h Host
	if at := strings.LastIndex(s, "@"); at >= 0 {
		h.User = s[:at]
		s = s[at+1:]
		if h.User == "" {
			return Host{}, cerr.Newf("empty user in host %q", s)
		}
	}

	host, port, err := net.SplitHostPort(s)
	switch {
	case err == nil:
		p, perr := strconv.Atoi(port)
		if perr != nil || p <= 0 || p > 65535 {
			return Host{}, cerr.Newf("invalid port %q", port)
		}
		h.Address, h.Port = host, p
	case strings.Count(s, ":") > 1 && !strings.HasPrefix(s, "["):
		// bare IPv6 address without port
		h.Address = s
	case strings.Contains(s, ":"):
		return Host{}, cerr.Wrapf(err, "invalid host %q", s)
	default:
		h.Address = s
	}

	if h.Address == "" {
		return Host{}, cerr.Newf("empty address in %q", s)
	}
	return h, nil
}

// ParseHosts parses a list of host strings, applying defaults to fields left unset.
func ParseHosts(specs []string, defaults Host) ([]Host, error) {
	hosts := make([]Host, 0, len(specs))
	for _, spec := range specs {
		h, err := ParseHost(spec)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, h.Merge(defaults))
	}
	return hosts, nil
}

// Merge fills unset fields of h from defaults.
func (h Host) Merge(defaults Host) Host {
	if h.User == "" {
		h.User = defaults.User
	}
	if h.Port == 0 {
		h.Port = defaults.Port
	}
	if h.KeyPath == "" {
		h.KeyPath = defaults.KeyPath
	}
	if h.Password == "" {
		h.Password = defaults.Password
	}
	return h
}
