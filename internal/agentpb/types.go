// Package agentpb defines the wire messages exchanged between rdmabench
// agents, the driver CLI, and the central aggregator.
//
// No protoc/buf code generation step runs in this module; the toolchain
// that would normally regenerate these types from a .proto source is not
// invoked here, so the messages are hand-written Go structs with JSON tags
// and carried over connect-go using the codec in codec.go. Field names and
// numbering below mirror what a generated message would expose, so that
// replacing this package with real generated stubs later is a drop-in
// change.
package agentpb

import "time"

// Operation identifies the RDMA verb under test.
type Operation int32

// Operation values, numbered to match the wire enum in spec.md section 3.
const (
	OperationUnspecified Operation = 0
	OperationSend        Operation = 1
	OperationWrite       Operation = 2
	OperationRead        Operation = 3
	OperationAtomic      Operation = 4
)

func (o Operation) String() string {
	switch o {
	case OperationSend:
		return "SEND"
	case OperationWrite:
		return "WRITE"
	case OperationRead:
		return "READ"
	case OperationAtomic:
		return "ATOMIC"
	default:
		return "UNSPECIFIED"
	}
}

// Mode selects between bandwidth and latency benchmark binaries.
type Mode int32

// Mode values.
const (
	ModeUnspecified Mode = 0
	ModeBandwidth   Mode = 1
	ModeLatency     Mode = 2
)

func (m Mode) String() string {
	switch m {
	case ModeBandwidth:
		return "BW"
	case ModeLatency:
		return "LAT"
	default:
		return "UNSPECIFIED"
	}
}

// MTU enumerates the supported RDMA path MTU values.
type MTU int32

// MTU values map directly to the byte size they represent.
const (
	MTUUnspecified MTU = 0
	MTU512         MTU = 512
	MTU1024        MTU = 1024
	MTU2048        MTU = 2048
	MTU4096        MTU = 4096
)

// Request describes a single benchmark session, used identically for both
// the Server and Initiator control-plane calls (spec.md section 3).
type Request struct {
	UUID           string    `json:"uuid,omitempty"`
	ServerAddress  string    `json:"server_address"`
	ServerPort     uint32    `json:"server_port"`
	Iterations     *uint32   `json:"iterations,omitempty"`
	MessageSize    *uint64   `json:"message_size,omitempty"`
	MTU            MTU       `json:"mtu,omitempty"`
	DurationSecond *uint32   `json:"duration_seconds,omitempty"`
	Operation      Operation `json:"operation"`
	Mode           Mode      `json:"mode"`
	CM             bool      `json:"cm"`
	Device         string    `json:"device,omitempty"`
}

// ServerReply carries the ephemeral port the initiator must connect to.
type ServerReply struct {
	Port uint32 `json:"port"`
}

// InitiatorReply carries the session UUID assigned by the initiator agent.
type InitiatorReply struct {
	UUID string `json:"uuid"`
}

// Empty is used for RPCs that carry no request or response payload
// (StatsManager.ListReport's request, StatsManager.DeleteReport's reply).
type Empty struct{}

// ReportRequest identifies a single stored report.
type ReportRequest struct {
	UUID   string `json:"uuid"`
	Suffix string `json:"suffix"`
}

// ReportReply wraps a single report lookup result.
type ReportReply struct {
	Report *Report `json:"report,omitempty"`
}

// ReportList carries every stored report keyed by "<uuid>-<suffix>".
type ReportList struct {
	Reports map[string]Report `json:"reports"`
}

// TestInfo captures the free-form device/test attributes a benchmark binary
// reports about itself (spec.md section 3).
type TestInfo struct {
	Test            string `json:"test"`
	DualPort        string `json:"dual_port"`
	Device          string `json:"device"`
	NumberOfQPs     uint32 `json:"number_of_qps"`
	TransportType   string `json:"transport_type"`
	ConnectionType  string `json:"connection_type"`
	UsingSRQ        string `json:"using_srq"`
	PCIRelaxOrder   string `json:"pci_relax_order"`
	IBVWRAPI        string `json:"ibv_wr_api"`
	TxDepth         uint32 `json:"tx_depth,omitempty"`
	RxDepth         uint32 `json:"rx_depth,omitempty"`
	CQModeration    uint32 `json:"cq_moderation"`
	MTU             uint32 `json:"mtu"`
	LinkType        string `json:"link_type"`
	GIDIndex        uint32 `json:"gid_index"`
	MaxInlineData   uint32 `json:"max_inline_data"`
	RDMACMQPs       string `json:"rdma_cm_qps"`
	DataExMethod    string `json:"data_ex_method"`
}

// BwResults captures the numeric outcome of a bandwidth or latency run.
type BwResults struct {
	MsgSize     uint32  `json:"msg_size"`
	NIterations uint32  `json:"n_iterations"`
	BWPeak      float64 `json:"bw_peak"`
	BWAverage   float64 `json:"bw_average"`
	MsgRate     float64 `json:"msg_rate"`
}

// Report is a finished benchmark session's outcome, keyed by (uuid, suffix).
type Report struct {
	TestInfo  TestInfo  `json:"test_info"`
	BwResults BwResults `json:"bw_results"`
	Hostname  string    `json:"hostname"`
	UUID      string    `json:"uuid"`
}

// CounterFilter narrows a Monitor subscription to a subset of counters.
type CounterFilter struct {
	Interface   string   `json:"interface,omitempty"`
	Port        *uint32  `json:"port,omitempty"`
	CounterList []string `json:"counter_list,omitempty"`
}

// PerSec carries the four rate derivatives computed by the collector.
type PerSec struct {
	BytesRcvPerSec    float64 `json:"bytes_rcv_per_sec"`
	BytesXmitPerSec   float64 `json:"bytes_xmit_per_sec"`
	PacketsRcvPerSec  float64 `json:"packets_rcv_per_sec"`
	PacketsXmitPerSec float64 `json:"packets_xmit_per_sec"`
}

// MlxCounter is the flat Mellanox soft-counter record (field names match
// the sysfs counter filenames verbatim, per spec.md section 3).
type MlxCounter struct {
	PortRcvData          uint64 `json:"port_rcv_data"`
	PortRcvPackets       uint64 `json:"port_rcv_packets"`
	PortXmitData         uint64 `json:"port_xmit_data"`
	PortXmitPackets      uint64 `json:"port_xmit_packets"`
	PortRcvErrors        uint64 `json:"port_rcv_errors"`
	PortXmitWait         uint64 `json:"port_xmit_wait"`
	UnicastXmitPackets   uint64 `json:"unicast_xmit_packets"`
	UnicastRcvPackets    uint64 `json:"unicast_rcv_packets"`
	MulticastXmitPackets uint64 `json:"multicast_xmit_packets"`
	MulticastRcvPackets  uint64 `json:"multicast_rcv_packets"`
	VL15Dropped          uint64 `json:"VL15_dropped"`
	SymbolError          uint64 `json:"symbol_error"`
}

// MlxHwCounter is the flat Mellanox hardware-counter record.
type MlxHwCounter struct {
	RxWriteRequests       uint64 `json:"rx_write_requests"`
	RxReadRequests        uint64 `json:"rx_read_requests"`
	RxAtomicRequests      uint64 `json:"rx_atomic_requests"`
	RespCqeErrors         uint64 `json:"resp_cqe_errors"`
	ReqCqeErrors          uint64 `json:"req_cqe_errors"`
	RespCqeFlush          uint64 `json:"resp_cqe_flush_error"`
	OutOfSequence         uint64 `json:"out_of_sequence"`
	OutOfBuffer           uint64 `json:"out_of_buffer"`
	LocalAckTimeoutErrors uint64 `json:"local_ack_timeout_err"`
	ImpliedNakSeqErrors   uint64 `json:"implied_nak_seq_err"`
	DuplicateRequest      uint64 `json:"duplicate_request"`
}

// RxeCounter is the reduced soft-RoCE counter record; byte counters are
// substituted from the Linux net-device statistics (spec.md section 4.1).
type RxeCounter struct {
	RxBytes   uint64 `json:"rx_bytes"`
	TxBytes   uint64 `json:"tx_bytes"`
	RxPackets uint64 `json:"rx_packets"`
	TxPackets uint64 `json:"tx_packets"`
}

// RxeHwCounter is the reduced soft-RoCE hardware-counter record.
type RxeHwCounter struct {
	OutOfSequence uint64 `json:"out_of_sequence"`
	OutOfBuffer   uint64 `json:"out_of_buffer"`
}

// CounterSnapshot is a single (hostname, interface, port) sample emitted
// by the collector (spec.md section 3).
type CounterSnapshot struct {
	Hostname  string        `json:"hostname"`
	Interface string        `json:"interface"`
	Port      uint32        `json:"port"`
	Driver    string        `json:"driver"`
	Mlx       *MlxCounter   `json:"mlx,omitempty"`
	MlxHw     *MlxHwCounter `json:"mlx_hw,omitempty"`
	Rxe       *RxeCounter   `json:"rxe,omitempty"`
	RxeHw     *RxeHwCounter `json:"rxe_hw,omitempty"`
	PerSec    PerSec        `json:"per_sec"`
	ElapsedHi uint64        `json:"elapsed_hi"`
	ElapsedLo uint64        `json:"elapsed_lo"`
	// NicStats carries supplemental driver-level counters read via
	// ethtool -S (SPEC_FULL.md addition: the ib_* pseudo-files never
	// expose queue drop/error counters ethtool surfaces). Nil when the
	// collector has no ethtool stats source configured.
	NicStats map[string]uint64 `json:"nic_stats,omitempty"`
}

// PushCountersResponse is the single reply a client-streaming counter push
// receives after the stream closes (aggregator ingest surface, spec.md
// section 4.4 — not part of the four control-plane services in section
// 4.7, since the Upstream Forwarder talks to the aggregator, not a peer
// agent).
type PushCountersResponse struct {
	Accepted uint64 `json:"accepted"`
}

// PushReportResponse is the reply to a single forwarded report.
type PushReportResponse struct{}

// Timestamp splits a time.Time into the two uint64 halves used on the wire
// (spec.md section 3: "128-bit sampling timestamp split into two uint64s").
func Timestamp(t time.Time) (hi, lo uint64) {
	nanos := t.UnixNano()
	return uint64(nanos >> 63), uint64(nanos) //nolint:gosec // deliberate bit-split, not a truncating cast
}
