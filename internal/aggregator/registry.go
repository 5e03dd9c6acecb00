// Package aggregator implements the central aggregator's ingest surface
// (spec.md section 4.4, "Upstream Forwarder" counterpart) and its
// projection of incoming counter snapshots and reports into Prometheus
// gauges. The gauge shapes are grounded on
// _examples/yuuki-rdma_exporter/internal/collector/collector.go, which
// exports the same class of RDMA port counters as a prometheus.Collector
// keyed by device/port labels; this package uses plain GaugeVecs instead
// of that file's custom prometheus.Desc machinery because the aggregator
// already knows its full metric set up front (it is not discovering
// arbitrary sysfs file names at runtime the way a local collector is).
//
// The raw per-driver counter fields (as opposed to the derived PerSec
// rates) are projected through a small field-table per struct, the same
// field-name-to-accessor shape internal/rdma/counters.go uses to avoid
// reflection when reading sysfs; here the tables drive which "field"
// label value a raw-counter GaugeVec observation carries, per spec.md
// section 6.5 ("one gauge per counter field").
package aggregator

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dantte-lp/rdmabench/internal/agentpb"
)

const namespace = "rdmabench"

// mlxRawFields mirrors internal/rdma/counters.go's mlxCounterFiles: one
// entry per raw Mellanox soft-counter field, keyed by its spec.md
// section 3 field name.
var mlxRawFields = []struct {
	name string
	get  func(*agentpb.MlxCounter) uint64
}{
	{"port_rcv_data", func(c *agentpb.MlxCounter) uint64 { return c.PortRcvData }},
	{"port_rcv_packets", func(c *agentpb.MlxCounter) uint64 { return c.PortRcvPackets }},
	{"port_xmit_data", func(c *agentpb.MlxCounter) uint64 { return c.PortXmitData }},
	{"port_xmit_packets", func(c *agentpb.MlxCounter) uint64 { return c.PortXmitPackets }},
	{"port_rcv_errors", func(c *agentpb.MlxCounter) uint64 { return c.PortRcvErrors }},
	{"port_xmit_wait", func(c *agentpb.MlxCounter) uint64 { return c.PortXmitWait }},
	{"unicast_xmit_packets", func(c *agentpb.MlxCounter) uint64 { return c.UnicastXmitPackets }},
	{"unicast_rcv_packets", func(c *agentpb.MlxCounter) uint64 { return c.UnicastRcvPackets }},
	{"multicast_xmit_packets", func(c *agentpb.MlxCounter) uint64 { return c.MulticastXmitPackets }},
	{"multicast_rcv_packets", func(c *agentpb.MlxCounter) uint64 { return c.MulticastRcvPackets }},
	{"VL15_dropped", func(c *agentpb.MlxCounter) uint64 { return c.VL15Dropped }},
	{"symbol_error", func(c *agentpb.MlxCounter) uint64 { return c.SymbolError }},
}

// mlxHwRawFields mirrors mlxHwCounterFiles.
var mlxHwRawFields = []struct {
	name string
	get  func(*agentpb.MlxHwCounter) uint64
}{
	{"rx_write_requests", func(c *agentpb.MlxHwCounter) uint64 { return c.RxWriteRequests }},
	{"rx_read_requests", func(c *agentpb.MlxHwCounter) uint64 { return c.RxReadRequests }},
	{"rx_atomic_requests", func(c *agentpb.MlxHwCounter) uint64 { return c.RxAtomicRequests }},
	{"resp_cqe_error", func(c *agentpb.MlxHwCounter) uint64 { return c.RespCqeErrors }},
	{"req_cqe_error", func(c *agentpb.MlxHwCounter) uint64 { return c.ReqCqeErrors }},
	{"resp_cqe_flush_error", func(c *agentpb.MlxHwCounter) uint64 { return c.RespCqeFlush }},
	{"out_of_sequence", func(c *agentpb.MlxHwCounter) uint64 { return c.OutOfSequence }},
	{"out_of_buffer", func(c *agentpb.MlxHwCounter) uint64 { return c.OutOfBuffer }},
	{"local_ack_timeout_err", func(c *agentpb.MlxHwCounter) uint64 { return c.LocalAckTimeoutErrors }},
	{"implied_nak_seq_err", func(c *agentpb.MlxHwCounter) uint64 { return c.ImpliedNakSeqErrors }},
	{"duplicate_request", func(c *agentpb.MlxHwCounter) uint64 { return c.DuplicateRequest }},
}

// rxeRawFields mirrors agentpb.RxeCounter, the reduced soft-RoCE record.
var rxeRawFields = []struct {
	name string
	get  func(*agentpb.RxeCounter) uint64
}{
	{"rx_bytes", func(c *agentpb.RxeCounter) uint64 { return c.RxBytes }},
	{"tx_bytes", func(c *agentpb.RxeCounter) uint64 { return c.TxBytes }},
	{"rx_packets", func(c *agentpb.RxeCounter) uint64 { return c.RxPackets }},
	{"tx_packets", func(c *agentpb.RxeCounter) uint64 { return c.TxPackets }},
}

// rxeHwRawFields mirrors rxeHwCounterFiles.
var rxeHwRawFields = []struct {
	name string
	get  func(*agentpb.RxeHwCounter) uint64
}{
	{"out_of_sequence", func(c *agentpb.RxeHwCounter) uint64 { return c.OutOfSequence }},
	{"out_of_buffer", func(c *agentpb.RxeHwCounter) uint64 { return c.OutOfBuffer }},
}

// GaugeRegistry projects incoming CounterSnapshot and Report messages
// from every agent into Prometheus gauges and counters.
type GaugeRegistry struct {
	RxBytesPerSec   *prometheus.GaugeVec
	TxBytesPerSec   *prometheus.GaugeVec
	RxPacketsPerSec *prometheus.GaugeVec
	TxPacketsPerSec *prometheus.GaugeVec
	SnapshotsTotal  *prometheus.CounterVec

	// MlxRaw, MlxHwRaw, RxeRaw, and RxeHwRaw carry one time series per
	// raw counter field (spec.md section 6.5), selected by the "field"
	// label rather than one struct member per field; see the package
	// doc comment.
	MlxRaw   *prometheus.GaugeVec
	MlxHwRaw *prometheus.GaugeVec
	RxeRaw   *prometheus.GaugeVec
	RxeHwRaw *prometheus.GaugeVec

	BWPeakGbps    *prometheus.GaugeVec
	BWAverageGbps *prometheus.GaugeVec
	MsgRate       *prometheus.GaugeVec
	MsgSize       *prometheus.GaugeVec
	NIterations   *prometheus.GaugeVec
	ReportsTotal  *prometheus.CounterVec
}

// NewGaugeRegistry creates a GaugeRegistry and registers every metric
// against reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewGaugeRegistry(reg prometheus.Registerer) *GaugeRegistry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	g := newGauges()

	reg.MustRegister(
		g.RxBytesPerSec,
		g.TxBytesPerSec,
		g.RxPacketsPerSec,
		g.TxPacketsPerSec,
		g.SnapshotsTotal,
		g.MlxRaw,
		g.MlxHwRaw,
		g.RxeRaw,
		g.RxeHwRaw,
		g.BWPeakGbps,
		g.BWAverageGbps,
		g.MsgRate,
		g.MsgSize,
		g.NIterations,
		g.ReportsTotal,
	)

	return g
}

func newGauges() *GaugeRegistry {
	snapshotLabels := []string{"hostname", "interface", "port"}
	rawLabels := []string{"hostname", "interface", "port", "field"}
	reportLabels := []string{"hostname"}

	return &GaugeRegistry{
		RxBytesPerSec: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rx_bytes_per_second",
			Help:      "Received bytes per second, derived by the agent's collector.",
		}, snapshotLabels),
		TxBytesPerSec: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tx_bytes_per_second",
			Help:      "Transmitted bytes per second, derived by the agent's collector.",
		}, snapshotLabels),
		RxPacketsPerSec: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rx_packets_per_second",
			Help:      "Received packets per second, derived by the agent's collector.",
		}, snapshotLabels),
		TxPacketsPerSec: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tx_packets_per_second",
			Help:      "Transmitted packets per second, derived by the agent's collector.",
		}, snapshotLabels),
		SnapshotsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_snapshots_received_total",
			Help:      "Total counter snapshots received from agents.",
		}, []string{"hostname"}),

		MlxRaw: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mlx_counter",
			Help:      "Raw Mellanox soft-counter value, by field name.",
		}, rawLabels),
		MlxHwRaw: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mlx_hw_counter",
			Help:      "Raw Mellanox hardware-counter value, by field name.",
		}, rawLabels),
		RxeRaw: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rxe_counter",
			Help:      "Raw soft-RoCE counter value, by field name.",
		}, rawLabels),
		RxeHwRaw: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rxe_hw_counter",
			Help:      "Raw soft-RoCE hardware-counter value, by field name.",
		}, rawLabels),

		BWPeakGbps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "benchmark_bw_peak_gbps",
			Help:      "Peak bandwidth reported by a finished benchmark session.",
		}, reportLabels),
		BWAverageGbps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "benchmark_bw_average_gbps",
			Help:      "Average bandwidth reported by a finished benchmark session.",
		}, reportLabels),
		MsgRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "benchmark_msg_rate",
			Help:      "Message rate reported by a finished benchmark session.",
		}, reportLabels),
		MsgSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "benchmark_msg_size",
			Help:      "Message size, in bytes, of a finished benchmark session.",
		}, reportLabels),
		NIterations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "benchmark_n_iterations",
			Help:      "Iteration count of a finished benchmark session.",
		}, reportLabels),
		ReportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_received_total",
			Help:      "Total finished benchmark reports received from agents.",
		}, []string{"hostname"}),
	}
}

// ObserveSnapshot projects one counter snapshot onto the rate gauges,
// labeled {hostname, interface, port} per spec.md section 6.5, plus one
// raw-counter gauge observation per field present on the snapshot.
// CounterSnapshot's Mlx/MlxHw/Rxe/RxeHw pointers are only populated for
// the driver that produced the snapshot (internal/collector never fills
// more than one family at a time), so each is nil-checked independently.
func (g *GaugeRegistry) ObserveSnapshot(snap agentpb.CounterSnapshot) {
	labels := []string{snap.Hostname, snap.Interface, portLabel(snap.Port)}

	g.RxBytesPerSec.WithLabelValues(labels...).Set(snap.PerSec.BytesRcvPerSec)
	g.TxBytesPerSec.WithLabelValues(labels...).Set(snap.PerSec.BytesXmitPerSec)
	g.RxPacketsPerSec.WithLabelValues(labels...).Set(snap.PerSec.PacketsRcvPerSec)
	g.TxPacketsPerSec.WithLabelValues(labels...).Set(snap.PerSec.PacketsXmitPerSec)
	g.SnapshotsTotal.WithLabelValues(snap.Hostname).Inc()

	if snap.Mlx != nil {
		for _, f := range mlxRawFields {
			g.MlxRaw.WithLabelValues(withField(labels, f.name)...).Set(float64(f.get(snap.Mlx)))
		}
	}
	if snap.MlxHw != nil {
		for _, f := range mlxHwRawFields {
			g.MlxHwRaw.WithLabelValues(withField(labels, f.name)...).Set(float64(f.get(snap.MlxHw)))
		}
	}
	if snap.Rxe != nil {
		for _, f := range rxeRawFields {
			g.RxeRaw.WithLabelValues(withField(labels, f.name)...).Set(float64(f.get(snap.Rxe)))
		}
	}
	if snap.RxeHw != nil {
		for _, f := range rxeHwRawFields {
			g.RxeHwRaw.WithLabelValues(withField(labels, f.name)...).Set(float64(f.get(snap.RxeHw)))
		}
	}
}

// withField appends a "field" label value onto a copy of labels, leaving
// the caller's slice untouched across repeated calls in a loop.
func withField(labels []string, field string) []string {
	out := make([]string, len(labels)+1)
	copy(out, labels)
	out[len(labels)] = field
	return out
}

// ObserveReport projects one finished benchmark report onto the
// per-session result gauges, labeled {hostname} only per spec.md section
// 6.5: a later report for the same host overwrites the gauge value of an
// earlier one, by design.
func (g *GaugeRegistry) ObserveReport(rep agentpb.Report) {
	g.BWPeakGbps.WithLabelValues(rep.Hostname).Set(rep.BwResults.BWPeak)
	g.BWAverageGbps.WithLabelValues(rep.Hostname).Set(rep.BwResults.BWAverage)
	g.MsgRate.WithLabelValues(rep.Hostname).Set(rep.BwResults.MsgRate)
	g.MsgSize.WithLabelValues(rep.Hostname).Set(float64(rep.BwResults.MsgSize))
	g.NIterations.WithLabelValues(rep.Hostname).Set(float64(rep.BwResults.NIterations))
	g.ReportsTotal.WithLabelValues(rep.Hostname).Inc()
}

func portLabel(port uint32) string {
	return strconv.FormatUint(uint64(port), 10)
}
