package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"connectrpc.com/connect"
	"github.com/spf13/cobra"

	"github.com/dantte-lp/rdmabench/internal/agentpb"
)

func monitorCmd() *cobra.Command {
	var (
		iface       string
		counterList []string
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Stream live counter snapshots from an agent",
		Long:  "Connects to the rdmabench agent and streams counter snapshots until interrupted (Ctrl+C).",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client := connect.NewClient[agentpb.CounterFilter, agentpb.CounterSnapshot](
				httpClient, baseURL()+agentpb.MonitorMonitorStreamProcedure, agentpb.CodecOption())

			stream, err := client.CallServerStream(ctx, connect.NewRequest(&agentpb.CounterFilter{
				Interface:   iface,
				CounterList: counterList,
			}))
			if err != nil {
				return fmt.Errorf("monitor stream: %w", err)
			}
			defer stream.Close()

			for stream.Receive() {
				out, fmtErr := formatSnapshot(stream.Msg(), outputFormat)
				if fmtErr != nil {
					return fmt.Errorf("format snapshot: %w", fmtErr)
				}
				fmt.Println(out)
			}

			if err := stream.Err(); err != nil {
				// Context cancellation (Ctrl+C) is expected, not an error.
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return fmt.Errorf("stream error: %w", err)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&iface, "interface", "", "restrict the stream to a single RDMA interface")
	cmd.Flags().StringSliceVar(&counterList, "counters", nil, "counter names sent in the filter's counter_list (the agent still streams every counter)")

	return cmd
}
