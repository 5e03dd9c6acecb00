package commands

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"
	"github.com/spf13/cobra"

	"github.com/dantte-lp/rdmabench/internal/agentpb"
)

// Sentinel errors for CLI validation.
var (
	errUnknownOperation = errors.New("unknown operation, expected send, write, read, or atomic")
	errUnknownMode      = errors.New("unknown mode, expected bw or lat")
)

// --- server ---

func serverCmd() *cobra.Command {
	var (
		req      agentpb.Request
		opName   string
		modeName string
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Arm the agent to accept one incoming benchmark connection",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			op, err := parseOperation(opName)
			if err != nil {
				return fmt.Errorf("parse operation: %w", err)
			}
			mode, err := parseMode(modeName)
			if err != nil {
				return fmt.Errorf("parse mode: %w", err)
			}
			req.Operation = op
			req.Mode = mode

			client := connect.NewClient[agentpb.Request, agentpb.ServerReply](
				httpClient, baseURL()+agentpb.ServerConnectionServerProcedure, agentpb.CodecOption())

			resp, err := client.CallUnary(context.Background(), connect.NewRequest(&req))
			if err != nil {
				return fmt.Errorf("arm server: %w", err)
			}

			fmt.Printf("listening on ephemeral port %d\n", resp.Msg.Port)
			return nil
		},
	}

	addBenchFlags(cmd, &req, &opName, &modeName)
	return cmd
}

// --- initiator ---

func initiatorCmd() *cobra.Command {
	var (
		req      agentpb.Request
		opName   string
		modeName string
	)

	cmd := &cobra.Command{
		Use:   "initiator",
		Short: "Start a benchmark run against a peer agent (the agent arms the peer's server side itself)",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			op, err := parseOperation(opName)
			if err != nil {
				return fmt.Errorf("parse operation: %w", err)
			}
			mode, err := parseMode(modeName)
			if err != nil {
				return fmt.Errorf("parse mode: %w", err)
			}
			req.Operation = op
			req.Mode = mode

			client := connect.NewClient[agentpb.Request, agentpb.InitiatorReply](
				httpClient, baseURL()+agentpb.InitiatorConnectionInitiatorProcedure, agentpb.CodecOption())

			resp, err := client.CallUnary(context.Background(), connect.NewRequest(&req))
			if err != nil {
				return fmt.Errorf("start initiator: %w", err)
			}

			fmt.Printf("session uuid: %s\n", resp.Msg.UUID)
			return nil
		},
	}

	addBenchFlags(cmd, &req, &opName, &modeName)
	cmd.Flags().StringVar(&req.ServerAddress, "peer", "", "peer agent address to connect to (required)")
	_ = cmd.MarkFlagRequired("peer")

	return cmd
}

// addBenchFlags registers the request fields shared by server and initiator,
// matching the Request fields defined in internal/agentpb/types.go.
func addBenchFlags(cmd *cobra.Command, req *agentpb.Request, opName, modeName *string) {
	flags := cmd.Flags()
	flags.StringVar(opName, "op", "send", "RDMA verb under test: send, write, read, atomic")
	flags.StringVar(modeName, "mode", "bw", "benchmark mode: bw, lat")
	flags.Uint32Var(&req.ServerPort, "port", 0, "initiator: the peer agent's RPC port; server: ignored, the agent always allocates an ephemeral port")
	flags.StringVar(&req.Device, "device", "", "RDMA device name to bind to")
	flags.BoolVar(&req.CM, "cm", false, "use the RDMA connection manager instead of raw QP exchange")

	var iterations uint32
	flags.Uint32Var(&iterations, "iterations", 1000, "number of iterations to run")
	req.Iterations = &iterations

	var messageSize uint64
	flags.Uint64Var(&messageSize, "size", 65536, "message size in bytes")
	req.MessageSize = &messageSize

	var durationSeconds uint32
	flags.Uint32Var(&durationSeconds, "duration", 0, "run for this many seconds instead of a fixed iteration count (0 disables)")
	req.DurationSecond = &durationSeconds
	cmd.PreRun = func(_ *cobra.Command, _ []string) {
		if durationSeconds == 0 {
			req.DurationSecond = nil
		} else {
			req.Iterations = nil
		}
	}
}

func parseOperation(s string) (agentpb.Operation, error) {
	switch s {
	case "send":
		return agentpb.OperationSend, nil
	case "write":
		return agentpb.OperationWrite, nil
	case "read":
		return agentpb.OperationRead, nil
	case "atomic":
		return agentpb.OperationAtomic, nil
	default:
		return agentpb.OperationUnspecified, fmt.Errorf("%w: %q", errUnknownOperation, s)
	}
}

func parseMode(s string) (agentpb.Mode, error) {
	switch s {
	case "bw":
		return agentpb.ModeBandwidth, nil
	case "lat":
		return agentpb.ModeLatency, nil
	default:
		return agentpb.ModeUnspecified, fmt.Errorf("%w: %q", errUnknownMode, s)
	}
}

// --- report ---

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Inspect finished benchmark reports stored on an agent",
	}

	cmd.AddCommand(reportListCmd())
	cmd.AddCommand(reportShowCmd())
	cmd.AddCommand(reportDeleteCmd())

	return cmd
}

func reportListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every stored report",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			client := connect.NewClient[agentpb.Empty, agentpb.ReportList](
				httpClient, baseURL()+agentpb.StatsManagerListReportProcedure, agentpb.CodecOption())

			resp, err := client.CallUnary(context.Background(), connect.NewRequest(&agentpb.Empty{}))
			if err != nil {
				return fmt.Errorf("list reports: %w", err)
			}

			out, err := formatReports(resp.Msg.Reports, outputFormat)
			if err != nil {
				return fmt.Errorf("format reports: %w", err)
			}
			fmt.Print(out)
			return nil
		},
	}
}

func reportShowCmd() *cobra.Command {
	var suffix string

	cmd := &cobra.Command{
		Use:   "show <uuid>",
		Short: "Show a single stored report",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			client := connect.NewClient[agentpb.ReportRequest, agentpb.ReportReply](
				httpClient, baseURL()+agentpb.StatsManagerGetReportProcedure, agentpb.CodecOption())

			resp, err := client.CallUnary(context.Background(), connect.NewRequest(&agentpb.ReportRequest{
				UUID:   args[0],
				Suffix: suffix,
			}))
			if err != nil {
				return fmt.Errorf("get report: %w", err)
			}
			if resp.Msg.Report == nil {
				return fmt.Errorf("no report found for uuid %q suffix %q", args[0], suffix)
			}

			out, err := formatReport(*resp.Msg.Report, outputFormat)
			if err != nil {
				return fmt.Errorf("format report: %w", err)
			}
			fmt.Print(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&suffix, "suffix", "server", "report side to fetch: server or initiator")
	return cmd
}

func reportDeleteCmd() *cobra.Command {
	var suffix string

	cmd := &cobra.Command{
		Use:   "delete <uuid>",
		Short: "Delete a stored report",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			client := connect.NewClient[agentpb.ReportRequest, agentpb.Empty](
				httpClient, baseURL()+agentpb.StatsManagerDeleteReportProcedure, agentpb.CodecOption())

			_, err := client.CallUnary(context.Background(), connect.NewRequest(&agentpb.ReportRequest{
				UUID:   args[0],
				Suffix: suffix,
			}))
			if err != nil {
				return fmt.Errorf("delete report: %w", err)
			}

			fmt.Printf("report %s-%s deleted.\n", args[0], suffix)
			return nil
		},
	}

	cmd.Flags().StringVar(&suffix, "suffix", "server", "report side to delete: server or initiator")
	return cmd
}
