package rdma

import "github.com/dantte-lp/rdmabench/internal/agentpb"

// mlxCounterFiles maps struct fields to their sysfs filenames under
// "counters/". Declared once at startup per spec.md section 9
// ("Counter-struct reflection... replace with a small registry mapping
// field-name to accessor; do not use dynamic reflection in the hot path").
var mlxCounterFiles = []struct {
	name string
	set  func(*agentpb.MlxCounter, uint64)
}{
	{"port_rcv_data", func(c *agentpb.MlxCounter, v uint64) { c.PortRcvData = v }},
	{"port_rcv_packets", func(c *agentpb.MlxCounter, v uint64) { c.PortRcvPackets = v }},
	{"port_xmit_data", func(c *agentpb.MlxCounter, v uint64) { c.PortXmitData = v }},
	{"port_xmit_packets", func(c *agentpb.MlxCounter, v uint64) { c.PortXmitPackets = v }},
	{"port_rcv_errors", func(c *agentpb.MlxCounter, v uint64) { c.PortRcvErrors = v }},
	{"port_xmit_wait", func(c *agentpb.MlxCounter, v uint64) { c.PortXmitWait = v }},
	{"unicast_xmit_packets", func(c *agentpb.MlxCounter, v uint64) { c.UnicastXmitPackets = v }},
	{"unicast_rcv_packets", func(c *agentpb.MlxCounter, v uint64) { c.UnicastRcvPackets = v }},
	{"multicast_xmit_packets", func(c *agentpb.MlxCounter, v uint64) { c.MulticastXmitPackets = v }},
	{"multicast_rcv_packets", func(c *agentpb.MlxCounter, v uint64) { c.MulticastRcvPackets = v }},
	{"VL15_dropped", func(c *agentpb.MlxCounter, v uint64) { c.VL15Dropped = v }},
	{"symbol_error", func(c *agentpb.MlxCounter, v uint64) { c.SymbolError = v }},
}

var mlxHwCounterFiles = []struct {
	name string
	set  func(*agentpb.MlxHwCounter, uint64)
}{
	{"rx_write_requests", func(c *agentpb.MlxHwCounter, v uint64) { c.RxWriteRequests = v }},
	{"rx_read_requests", func(c *agentpb.MlxHwCounter, v uint64) { c.RxReadRequests = v }},
	{"rx_atomic_requests", func(c *agentpb.MlxHwCounter, v uint64) { c.RxAtomicRequests = v }},
	{"resp_cqe_error", func(c *agentpb.MlxHwCounter, v uint64) { c.RespCqeErrors = v }},
	{"req_cqe_error", func(c *agentpb.MlxHwCounter, v uint64) { c.ReqCqeErrors = v }},
	{"resp_cqe_flush_error", func(c *agentpb.MlxHwCounter, v uint64) { c.RespCqeFlush = v }},
	{"out_of_sequence", func(c *agentpb.MlxHwCounter, v uint64) { c.OutOfSequence = v }},
	{"out_of_buffer", func(c *agentpb.MlxHwCounter, v uint64) { c.OutOfBuffer = v }},
	{"local_ack_timeout_err", func(c *agentpb.MlxHwCounter, v uint64) { c.LocalAckTimeoutErrors = v }},
	{"implied_nak_seq_err", func(c *agentpb.MlxHwCounter, v uint64) { c.ImpliedNakSeqErrors = v }},
	{"duplicate_request", func(c *agentpb.MlxHwCounter, v uint64) { c.DuplicateRequest = v }},
}

var rxeHwCounterFiles = []struct {
	name string
	set  func(*agentpb.RxeHwCounter, uint64)
}{
	{"out_of_sequence", func(c *agentpb.RxeHwCounter, v uint64) { c.OutOfSequence = v }},
	{"out_of_buffer", func(c *agentpb.RxeHwCounter, v uint64) { c.OutOfBuffer = v }},
}

// ReadMlx reads the full counters/ and hw_counters/ record for one port.
func (p *Provider) ReadMlx(iface string, port uint32) (agentpb.MlxCounter, agentpb.MlxHwCounter) {
	var c agentpb.MlxCounter
	var hw agentpb.MlxHwCounter
	for _, f := range mlxCounterFiles {
		f.set(&c, p.ReadCounter(iface, port, "counters", f.name))
	}
	for _, f := range mlxHwCounterFiles {
		f.set(&hw, p.ReadCounter(iface, port, "hw_counters", f.name))
	}
	return c, hw
}

// ReadRxe reads the reduced soft-RoCE counter set, substituting byte
// counters from the associated Linux net-device statistics
// (spec.md section 4.1).
func (p *Provider) ReadRxe(iface string, port uint32, netDev string) (agentpb.RxeCounter, agentpb.RxeHwCounter) {
	c := agentpb.RxeCounter{
		RxBytes:   p.ReadNetStat(netDev, "rx_bytes"),
		TxBytes:   p.ReadNetStat(netDev, "tx_bytes"),
		RxPackets: p.ReadNetStat(netDev, "rx_packets"),
		TxPackets: p.ReadNetStat(netDev, "tx_packets"),
	}
	var hw agentpb.RxeHwCounter
	for _, f := range rxeHwCounterFiles {
		f.set(&hw, p.ReadCounter(iface, port, "hw_counters", f.name))
	}
	return c, hw
}
