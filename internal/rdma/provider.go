// Package rdma enumerates RDMA interfaces and reads their pseudo-filesystem
// counters (spec.md sections 3, 4.1, 6.3). The sysfs walk and counter
// parsing strategy are grounded on
// _examples/yuuki-rdma_exporter/internal/rdma/provider.go; this package
// generalizes that exporter-only reader into the driver-tagged
// (mlx vs rxe) shape the session collector needs.
package rdma

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Default sysfs roots, overridable for tests.
const (
	DefaultInfinibandRoot = "/sys/class/infiniband"
	DefaultNetRoot        = "/sys/class/net"
)

// Driver identifies which counter family to read for an interface.
type Driver string

// Supported driver families (spec.md glossary).
const (
	DriverMlx Driver = "mlx"
	DriverRxe Driver = "rxe"
)

// Port is a single RDMA port under an interface.
type Port struct {
	Number    uint32
	NetDevice string
}

// Interface describes one enumerated RDMA device (spec.md section 3).
type Interface struct {
	Name  string
	Ports []Port
}

// Provider enumerates RDMA interfaces and reads their counters.
type Provider struct {
	ibRoot  string
	netRoot string
}

// NewProvider creates a Provider rooted at the given sysfs paths. Empty
// strings fall back to the real kernel paths.
func NewProvider(ibRoot, netRoot string) *Provider {
	if ibRoot == "" {
		ibRoot = DefaultInfinibandRoot
	}
	if netRoot == "" {
		netRoot = DefaultNetRoot
	}
	return &Provider{ibRoot: ibRoot, netRoot: netRoot}
}

// Enumerate lists every RDMA interface and its ports, resolving each
// port's Linux net-device name via `rdma link show` once per call
// (spec.md section 6.3). A failure to resolve the net-device name leaves
// it blank and does not fail enumeration (spec.md section 4.2, Failure).
func (p *Provider) Enumerate(ctx context.Context) ([]Interface, error) {
	entries, err := os.ReadDir(p.ibRoot)
	if err != nil {
		return nil, fmt.Errorf("read infiniband root %s: %w", p.ibRoot, err)
	}

	netDevByIfacePort := resolveNetDevices(ctx, p.ibRoot)

	ifaces := make([]Interface, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && e.Type()&os.ModeSymlink == 0 {
			continue
		}
		name := e.Name()
		ports, err := p.portsFor(name)
		if err != nil {
			continue
		}
		for i := range ports {
			ports[i].NetDevice = netDevByIfacePort[ifacePortKey{name, ports[i].Number}]
		}
		ifaces = append(ifaces, Interface{Name: name, Ports: ports})
	}
	return ifaces, nil
}

func (p *Provider) portsFor(iface string) ([]Port, error) {
	dir := filepath.Join(p.ibRoot, iface, "ports")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read ports dir %s: %w", dir, err)
	}
	ports := make([]Port, 0, len(entries))
	for _, e := range entries {
		n, err := strconv.ParseUint(e.Name(), 10, 32)
		if err != nil {
			continue
		}
		ports = append(ports, Port{Number: uint32(n)})
	}
	return ports, nil
}

type ifacePortKey struct {
	iface string
	port  uint32
}

// resolveNetDevices shells out once to `rdma link show` and takes the last
// whitespace token of each line (the name following "netdev").
// Any failure (binary missing, non-zero exit) yields an empty map and the
// caller proceeds with blank net-device names.
func resolveNetDevices(ctx context.Context, ibRoot string) map[ifacePortKey]string {
	_ = ibRoot
	out, err := exec.CommandContext(ctx, "rdma", "link", "show").Output() //nolint:gosec // fixed argv, no user input
	result := map[ifacePortKey]string{}
	if err != nil {
		return result
	}
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		// Typical line: "link mlx5_0/1 state ACTIVE physical_state LINK_UP netdev eth0"
		ifacePort := strings.TrimSuffix(fields[1], ":")
		parts := strings.SplitN(ifacePort, "/", 2)
		if len(parts) != 2 {
			continue
		}
		portNum, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			continue
		}
		netDev := fields[len(fields)-1]
		result[ifacePortKey{parts[0], uint32(portNum)}] = netDev
	}
	return result
}

// ReadCounter reads a single pseudo-file and parses a decimal uint64.
// Any I/O or parse failure yields 0 (spec.md section 4.1): counters are
// best-effort and must never fail the sampler.
func (p *Provider) ReadCounter(iface string, port uint32, group, name string) uint64 {
	path := filepath.Join(p.ibRoot, iface, "ports", strconv.FormatUint(uint64(port), 10), group, name)
	return readUint64File(path)
}

// ReadNetStat reads a Linux net-device statistics counter, used for rxe
// byte counters (spec.md section 4.1, 6.3).
func (p *Provider) ReadNetStat(netDev, name string) uint64 {
	if netDev == "" {
		return 0
	}
	path := filepath.Join(p.netRoot, netDev, "statistics", name)
	return readUint64File(path)
}

func readUint64File(path string) uint64 {
	data, err := os.ReadFile(path) //nolint:gosec // fixed sysfs layout, not user-controlled
	if err != nil {
		return 0
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
