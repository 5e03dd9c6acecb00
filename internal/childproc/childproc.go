// Package childproc supervises the external ib_{send,write,read,atomic}_{bw,lat}
// benchmark binaries (spec.md section 6.2). Command construction and
// kill-on-drop supervision follow the Setpgid convention in
// _examples/mahendrapaipuri-ceems/internal/osexec/osexec.go, adapted from a
// one-shot CombinedOutput call to a long-running, pipe-streamed child whose
// lifetime is tied to a context instead of a single function call.
package childproc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/dantte-lp/rdmabench/internal/agentpb"
)

const binRoot = "/usr/bin"

// Sentinel errors for the childproc package.
var (
	ErrUnsupportedOperation = errors.New("childproc: unsupported operation")
	ErrUnsupportedMode      = errors.New("childproc: unsupported mode")
)

// BinaryPath resolves the benchmark executable for (operation, mode) per
// the table in spec.md section 6.2.
func BinaryPath(op agentpb.Operation, mode agentpb.Mode) (string, error) {
	var verb string
	switch op {
	case agentpb.OperationSend:
		verb = "send"
	case agentpb.OperationWrite:
		verb = "write"
	case agentpb.OperationRead:
		verb = "read"
	case agentpb.OperationAtomic:
		verb = "atomic"
	default:
		return "", fmt.Errorf("%s: %w", op, ErrUnsupportedOperation)
	}

	var suffix string
	switch mode {
	case agentpb.ModeBandwidth:
		suffix = "bw"
	case agentpb.ModeLatency:
		suffix = "lat"
	default:
		return "", fmt.Errorf("%s: %w", mode, ErrUnsupportedMode)
	}

	return fmt.Sprintf("%s/ib_%s_%s", binRoot, verb, suffix), nil
}

// ReportPath returns the --out_json_file path a session's report is
// written to (spec.md section 6.2).
func ReportPath(reportDir, uuid, suffix string) string {
	return fmt.Sprintf("%s/%s-%s.json", reportDir, uuid, suffix)
}

// BuildArgs constructs the option/positional argument list for req,
// following the fixed order in spec.md section 6.2. peerAddress is the
// empty string for a Server-role invocation; an Initiator-role invocation
// passes the peer address as a trailing positional argument.
func BuildArgs(req agentpb.Request, reportDir, uuid, suffix, peerAddress string) []string {
	var args []string

	if req.Device != "" {
		args = append(args, "-d", req.Device)
	}
	if req.MTU != agentpb.MTUUnspecified {
		args = append(args, "-m", strconv.Itoa(int(req.MTU)))
	}
	if req.Iterations != nil {
		args = append(args, "-n", strconv.FormatUint(uint64(*req.Iterations), 10))
	}
	if req.DurationSecond != nil {
		args = append(args, "-D", strconv.FormatUint(uint64(*req.DurationSecond), 10))
	}
	args = append(args, "-p", strconv.FormatUint(uint64(req.ServerPort), 10))
	if req.MessageSize != nil {
		args = append(args, "-s", strconv.FormatUint(*req.MessageSize, 10))
	}
	args = append(args, "--out_json", "--out_json_file", ReportPath(reportDir, uuid, suffix))
	if req.CM {
		args = append(args, "-R")
	}
	if peerAddress != "" {
		args = append(args, peerAddress)
	}

	return args
}

// Child supervises one running benchmark process.
type Child struct {
	cmd    *exec.Cmd
	logger *slog.Logger
}

// Start launches path with args. The child runs in its own process group
// (Setpgid) so that signals delivered to the agent do not also reach it
// directly; Kill is used instead to bring the whole group down on
// cancellation. stdout/stderr are piped and drained to the logger at debug
// level, per spec.md section 4.6.1's "stdout/stderr piped".
func Start(ctx context.Context, path string, args []string, logger *slog.Logger) (*Child, error) {
	cmd := exec.CommandContext(ctx, path, args...) //nolint:gosec // path/args are built from the fixed binary table and request fields
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("childproc: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("childproc: stderr pipe: %w", err)
	}

	c := &Child{cmd: cmd, logger: logger.With(slog.String("component", "childproc"), slog.String("path", path))}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("childproc: start %s: %w", path, err)
	}

	go c.drain("stdout", stdout)
	go c.drain("stderr", stderr)

	return c, nil
}

func (c *Child) drain(stream string, r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			c.logger.Debug("child output", slog.String("stream", stream), slog.String("chunk", string(buf[:n])))
		}
		if err != nil {
			return
		}
	}
}

// Wait blocks until the child exits and returns its error, if any.
func (c *Child) Wait() error {
	return c.cmd.Wait()
}

// PID returns the child's process ID, valid after Start returns.
func (c *Child) PID() int {
	return c.cmd.Process.Pid
}
