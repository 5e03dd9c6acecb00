// Package commands implements the rdmabenchctl CLI commands.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dantte-lp/rdmabench/internal/agentpb"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatReports renders every stored report in the requested format.
func formatReports(reports map[string]agentpb.Report, format string) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(reports, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal reports to JSON: %w", err)
		}
		return string(data), nil
	case formatTable:
		return formatReportsTable(reports), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatReport renders a single report in the requested format.
func formatReport(report agentpb.Report, format string) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal report to JSON: %w", err)
		}
		return string(data), nil
	case formatTable:
		return formatReportDetail(report), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatSnapshot renders one counter snapshot in the requested format.
func formatSnapshot(snap *agentpb.CounterSnapshot, format string) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.Marshal(snap)
		if err != nil {
			return "", fmt.Errorf("marshal snapshot to JSON: %w", err)
		}
		return string(data), nil
	case formatTable:
		return formatSnapshotLine(snap), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// --- Table formatters ---

func formatReportsTable(reports map[string]agentpb.Report) string {
	keys := make([]string, 0, len(reports))
	for k := range reports {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tHOSTNAME\tMSG-SIZE\tITERATIONS\tBW-PEAK\tBW-AVERAGE\tMSG-RATE")

	for _, key := range keys {
		r := reports[key]
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.2f\t%.2f\t%.2f\n",
			key,
			r.Hostname,
			r.BwResults.MsgSize,
			r.BwResults.NIterations,
			r.BwResults.BWPeak,
			r.BwResults.BWAverage,
			r.BwResults.MsgRate,
		)
	}

	_ = w.Flush()
	return buf.String()
}

func formatReportDetail(r agentpb.Report) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "UUID:\t%s\n", r.UUID)
	fmt.Fprintf(w, "Hostname:\t%s\n", r.Hostname)
	fmt.Fprintf(w, "Device:\t%s\n", r.TestInfo.Device)
	fmt.Fprintf(w, "Transport Type:\t%s\n", r.TestInfo.TransportType)
	fmt.Fprintf(w, "Connection Type:\t%s\n", r.TestInfo.ConnectionType)
	fmt.Fprintf(w, "MTU:\t%d\n", r.TestInfo.MTU)
	fmt.Fprintf(w, "Message Size:\t%d\n", r.BwResults.MsgSize)
	fmt.Fprintf(w, "Iterations:\t%d\n", r.BwResults.NIterations)
	fmt.Fprintf(w, "BW Peak (Gb/s):\t%.2f\n", r.BwResults.BWPeak)
	fmt.Fprintf(w, "BW Average (Gb/s):\t%.2f\n", r.BwResults.BWAverage)
	fmt.Fprintf(w, "Message Rate (Mpps):\t%.2f\n", r.BwResults.MsgRate)

	_ = w.Flush()
	return buf.String()
}

func formatSnapshotLine(s *agentpb.CounterSnapshot) string {
	return fmt.Sprintf("%s %s/%d  rx=%.0fB/s tx=%.0fB/s rxpkt=%.0f/s txpkt=%.0f/s",
		s.Hostname,
		s.Interface,
		s.Port,
		s.PerSec.BytesRcvPerSec,
		s.PerSec.BytesXmitPerSec,
		s.PerSec.PacketsRcvPerSec,
		s.PerSec.PacketsXmitPerSec,
	)
}
