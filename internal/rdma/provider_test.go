package rdma

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeCounter(t *testing.T, root, iface string, port uint32, group, name, value string) {
	t.Helper()
	dir := filepath.Join(root, iface, "ports", "1", group)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(value), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	_ = port
}

func TestEnumerate(t *testing.T) {
	root := t.TempDir()
	writeCounter(t, root, "mlx5_0", 1, "counters", "port_rcv_data", "100")

	p := NewProvider(root, t.TempDir())
	ifaces, err := p.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(ifaces) != 1 {
		t.Fatalf("expected 1 interface, got %d", len(ifaces))
	}
	if ifaces[0].Name != "mlx5_0" {
		t.Errorf("name = %q, want mlx5_0", ifaces[0].Name)
	}
	if len(ifaces[0].Ports) != 1 || ifaces[0].Ports[0].Number != 1 {
		t.Errorf("ports = %+v, want one port numbered 1", ifaces[0].Ports)
	}
}

func TestReadCounterMissingFileYieldsZero(t *testing.T) {
	p := NewProvider(t.TempDir(), t.TempDir())
	if got := p.ReadCounter("mlx5_0", 1, "counters", "port_rcv_data"); got != 0 {
		t.Errorf("missing counter = %d, want 0", got)
	}
}

func TestReadCounterMalformedYieldsZero(t *testing.T) {
	root := t.TempDir()
	writeCounter(t, root, "mlx5_0", 1, "counters", "port_rcv_data", "not-a-number\n")
	p := NewProvider(root, t.TempDir())
	if got := p.ReadCounter("mlx5_0", 1, "counters", "port_rcv_data"); got != 0 {
		t.Errorf("malformed counter = %d, want 0", got)
	}
}

func TestReadCounterTrimsWhitespace(t *testing.T) {
	root := t.TempDir()
	writeCounter(t, root, "mlx5_0", 1, "counters", "port_rcv_data", "  12345\n")
	p := NewProvider(root, t.TempDir())
	if got := p.ReadCounter("mlx5_0", 1, "counters", "port_rcv_data"); got != 12345 {
		t.Errorf("counter = %d, want 12345", got)
	}
}

func TestReadMlxReadsCountersAndHwCounters(t *testing.T) {
	root := t.TempDir()
	writeCounter(t, root, "mlx5_0", 1, "counters", "port_rcv_data", "10")
	writeCounter(t, root, "mlx5_0", 1, "hw_counters", "rx_write_requests", "3")
	p := NewProvider(root, t.TempDir())
	c, hw := p.ReadMlx("mlx5_0", 1)
	if c.PortRcvData != 10 {
		t.Errorf("PortRcvData = %d, want 10", c.PortRcvData)
	}
	if hw.RxWriteRequests != 3 {
		t.Errorf("RxWriteRequests = %d, want 3", hw.RxWriteRequests)
	}
}

func TestReadRxeUsesNetDeviceStatistics(t *testing.T) {
	netRoot := t.TempDir()
	netDir := filepath.Join(netRoot, "eth0", "statistics")
	if err := os.MkdirAll(netDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(netDir, "rx_bytes"), []byte("42"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	p := NewProvider(t.TempDir(), netRoot)
	c, _ := p.ReadRxe("rxe0", 1, "eth0")
	if c.RxBytes != 42 {
		t.Errorf("RxBytes = %d, want 42", c.RxBytes)
	}
}

func TestReadRxeBlankNetDeviceYieldsZero(t *testing.T) {
	p := NewProvider(t.TempDir(), t.TempDir())
	c, _ := p.ReadRxe("rxe0", 1, "")
	if c.RxBytes != 0 {
		t.Errorf("RxBytes = %d, want 0", c.RxBytes)
	}
}
