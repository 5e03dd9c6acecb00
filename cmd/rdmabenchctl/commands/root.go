package commands

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/rdmabench/internal/agentpb"
)

var (
	// httpClient dials every RPC below over plaintext HTTP/2 (h2c), since
	// no generated service-client stub exists for agentpb (see its package
	// doc comment) — each command builds its own connect.NewClient against
	// the procedure path it needs.
	httpClient *http.Client

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the target agent's address (host:port) for the
	// ConnectRPC connection.
	serverAddr string
)

// rootCmd is the top-level cobra command for rdmabenchctl.
var rootCmd = &cobra.Command{
	Use:   "rdmabenchctl",
	Short: "CLI driver for the rdmabench agent",
	Long:  "rdmabenchctl starts and inspects rdmabench benchmark sessions on a remote agent via ConnectRPC.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		httpClient = &http.Client{Transport: agentpb.NewH2CTransport()}
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:7471",
		"rdmabench agent address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(serverCmd())
	rootCmd.AddCommand(initiatorCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// baseURL returns the "http://host:port" prefix every procedure path is
// appended to.
func baseURL() string {
	return "http://" + serverAddr
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
