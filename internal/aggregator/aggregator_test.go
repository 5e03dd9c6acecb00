package aggregator

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/dantte-lp/rdmabench/internal/agentpb"
)

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGaugeRegistryObserveSnapshotAndReport(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := NewGaugeRegistry(reg)

	g.ObserveSnapshot(agentpb.CounterSnapshot{
		Hostname:  "host-a",
		Interface: "rxe0",
		Port:      1,
		Driver:    "rxe",
		PerSec:    agentpb.PerSec{BytesRcvPerSec: 100, BytesXmitPerSec: 200},
	})
	g.ObserveReport(agentpb.Report{
		Hostname: "host-a",
		UUID:     "u1",
		TestInfo: agentpb.TestInfo{Test: "ib_write_bw", TransportType: "IB"},
		BwResults: agentpb.BwResults{BWPeak: 98.5, BWAverage: 95.1},
	})

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	var sawRx, sawPeak bool
	for _, mf := range families {
		switch mf.GetName() {
		case "rdmabench_rx_bytes_per_second":
			sawRx = true
			if got := mf.Metric[0].GetGauge().GetValue(); got != 100 {
				t.Errorf("rx_bytes_per_second = %v, want 100", got)
			}
		case "rdmabench_benchmark_bw_peak_gbps":
			sawPeak = true
			if got := mf.Metric[0].GetGauge().GetValue(); got != 98.5 {
				t.Errorf("bw_peak_gbps = %v, want 98.5", got)
			}
		}
	}
	if !sawRx {
		t.Error("rdmabench_rx_bytes_per_second not found in gathered families")
	}
	if !sawPeak {
		t.Error("rdmabench_benchmark_bw_peak_gbps not found in gathered families")
	}
}

func TestGaugeRegistryObserveSnapshotRawCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := NewGaugeRegistry(reg)

	g.ObserveSnapshot(agentpb.CounterSnapshot{
		Hostname:  "host-a",
		Interface: "rxe0",
		Port:      1,
		Driver:    "rxe",
		Rxe:       &agentpb.RxeCounter{RxBytes: 111, TxBytes: 222, RxPackets: 3, TxPackets: 4},
		RxeHw:     &agentpb.RxeHwCounter{OutOfSequence: 1, OutOfBuffer: 2},
	})
	g.ObserveReport(agentpb.Report{
		Hostname:  "host-a",
		UUID:      "u2",
		BwResults: agentpb.BwResults{MsgSize: 65536, NIterations: 1000},
	})

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	var sawRxBytes, sawOutOfSeq, sawMsgSize, sawIterations bool
	for _, mf := range families {
		switch mf.GetName() {
		case "rdmabench_rxe_counter":
			for _, m := range mf.Metric {
				if labelValue(m, "field") == "rx_bytes" && m.GetGauge().GetValue() == 111 {
					sawRxBytes = true
				}
			}
		case "rdmabench_rxe_hw_counter":
			for _, m := range mf.Metric {
				if labelValue(m, "field") == "out_of_sequence" && m.GetGauge().GetValue() == 1 {
					sawOutOfSeq = true
				}
			}
		case "rdmabench_benchmark_msg_size":
			sawMsgSize = mf.Metric[0].GetGauge().GetValue() == 65536
		case "rdmabench_benchmark_n_iterations":
			sawIterations = mf.Metric[0].GetGauge().GetValue() == 1000
		}
	}
	if !sawRxBytes {
		t.Error("rdmabench_rxe_counter{field=\"rx_bytes\"} not found with value 111")
	}
	if !sawOutOfSeq {
		t.Error("rdmabench_rxe_hw_counter{field=\"out_of_sequence\"} not found with value 1")
	}
	if !sawMsgSize {
		t.Error("rdmabench_benchmark_msg_size not found with value 65536")
	}
	if !sawIterations {
		t.Error("rdmabench_benchmark_n_iterations not found with value 1000")
	}
}

func TestIngestServiceHandlesCounterStreamAndReport(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := NewGaugeRegistry(reg)
	handler := New(g, testLogger())

	mux := http.NewServeMux()
	mux.Handle("/", handler)
	srv := httptest.NewServer(h2c.NewHandler(mux, &http2.Server{}))
	t.Cleanup(srv.Close)

	httpClient := &http.Client{Transport: agentpb.NewH2CTransport()}

	counterClient := connect.NewClient[agentpb.CounterSnapshot, agentpb.PushCountersResponse](
		httpClient, srv.URL+agentpb.IngestPushCountersProcedure, agentpb.CodecOption())

	stream := counterClient.CallClientStream(context.Background())
	if err := stream.Send(&agentpb.CounterSnapshot{Hostname: "host-a", Interface: "rxe0"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := stream.Send(&agentpb.CounterSnapshot{Hostname: "host-a", Interface: "rxe1"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	resp, err := stream.CloseAndReceive()
	if err != nil {
		t.Fatalf("CloseAndReceive: %v", err)
	}
	if resp.Msg.Accepted != 2 {
		t.Errorf("Accepted = %d, want 2", resp.Msg.Accepted)
	}

	reportClient := connect.NewClient[agentpb.Report, agentpb.PushReportResponse](
		httpClient, srv.URL+agentpb.IngestPushReportProcedure, agentpb.CodecOption())
	if _, err := reportClient.CallUnary(context.Background(), connect.NewRequest(&agentpb.Report{
		Hostname: "host-a",
		UUID:     "u1",
	})); err != nil {
		t.Fatalf("CallUnary: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var sawSnapshotsTotal, sawReportsTotal bool
	for _, mf := range families {
		if mf.GetName() == "rdmabench_counter_snapshots_received_total" {
			sawSnapshotsTotal = true
			if got := mf.Metric[0].GetCounter().GetValue(); got != 2 {
				t.Errorf("counter_snapshots_received_total = %v, want 2", got)
			}
		}
		if mf.GetName() == "rdmabench_reports_received_total" {
			sawReportsTotal = true
		}
	}
	if !sawSnapshotsTotal {
		t.Error("rdmabench_counter_snapshots_received_total not found")
	}
	if !sawReportsTotal {
		t.Error("rdmabench_reports_received_total not found")
	}
}

func TestMetricsServerServesPrometheusText(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := NewGaugeRegistry(reg)
	g.ObserveSnapshot(agentpb.CounterSnapshot{Hostname: "host-a", Interface: "rxe0"})

	srv := NewMetricsServer(MetricsServerOptions{}, reg, testLogger())
	mux, ok := srv.Handler.(*http.ServeMux)
	if !ok {
		t.Fatalf("Handler is %T, want *http.ServeMux", srv.Handler)
	}

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "rdmabench_rx_bytes_per_second") {
		t.Errorf("body missing expected metric, got: %s", body)
	}

	healthResp, err := ts.Client().Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer healthResp.Body.Close()
	if healthResp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", healthResp.StatusCode)
	}
}

func TestMetricsServerTimesOutOnSlowGather(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(slowCollector{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	srv := NewMetricsServer(MetricsServerOptions{ScrapeTimeout: 10 * time.Millisecond}, reg, testLogger())
	mux := srv.Handler.(*http.ServeMux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusGatewayTimeout)
	}
}

// slowCollector simulates a registry whose Gather blocks longer than a
// scrape is willing to wait.
type slowCollector struct{}

func (slowCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- prometheus.NewDesc("rdmabench_slow", "slow metric", nil, nil)
}

func (slowCollector) Collect(ch chan<- prometheus.Metric) {
	time.Sleep(200 * time.Millisecond)
	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc("rdmabench_slow", "slow metric", nil, nil),
		prometheus.GaugeValue, 1,
	)
}
