package agentpb

// Procedure path constants for every RPC this module exposes. In a
// generated-stub setup these would live in a "_connect.go" file alongside
// the rest of a protoc/buf plugin's output; since no such generation step
// runs here (see the package doc comment), the paths are declared once and
// shared between server handlers (rpcsvc, aggregator) and clients
// (rpcsvc's PeerClient, forwarder, rdmabenchctl) so both sides agree on the wire
// contract without a .proto file to derive it from.
const (
	// Control-plane surface, spec.md section 4.7.
	ServerConnectionServerProcedure       = "/rdmabench.agent.v1.ServerConnection/Server"
	InitiatorConnectionInitiatorProcedure = "/rdmabench.agent.v1.InitiatorConnection/Initiator"
	StatsManagerGetReportProcedure        = "/rdmabench.agent.v1.StatsManager/GetReport"
	StatsManagerListReportProcedure       = "/rdmabench.agent.v1.StatsManager/ListReport"
	StatsManagerDeleteReportProcedure     = "/rdmabench.agent.v1.StatsManager/DeleteReport"
	MonitorMonitorStreamProcedure         = "/rdmabench.agent.v1.Monitor/MonitorStream"

	// Aggregator ingest surface, spec.md section 4.4 / section 2 item 8.
	// Not part of section 4.7's four services: this is agent-to-aggregator,
	// not peer-to-peer.
	IngestPushCountersProcedure = "/rdmabench.aggregator.v1.Ingest/PushCounters"
	IngestPushReportProcedure   = "/rdmabench.aggregator.v1.Ingest/PushReport"
)
