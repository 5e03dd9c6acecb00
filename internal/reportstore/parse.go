package reportstore

import "github.com/dantte-lp/rdmabench/internal/agentpb"

// rawReport mirrors the flat field names the benchmark binaries emit
// (spec.md section 4.5.1: "Field-name map is stable and published").
// Case is preserved exactly as the source binaries emit it; Go's JSON
// decoder matches struct tags case-sensitively against the normalized
// blob's quoted keys.
type rawReport struct {
	Test           string  `json:"test"`
	DualPort       string  `json:"Dual_port"`
	Device         string  `json:"Device"`
	NumberOfQPs    uint32  `json:"Number_of_qps"`
	TransportType  string  `json:"Transport_type"`
	ConnectionType string  `json:"Connection_type"`
	LinkType       string  `json:"Link_type"`
	UsingSRQ       string  `json:"Using_SRQ"`
	PCIRelaxOrder  string  `json:"PCIe_relax_order"`
	IBVWRAPI       string  `json:"ibv_wr_api"`
	TxDepth        uint32  `json:"TX_depth"`
	RxDepth        uint32  `json:"RX_depth"`
	CQModeration   uint32  `json:"CQ_moderation"`
	MTU            uint32  `json:"Mtu"`
	GIDIndex       uint32  `json:"GID_index"`
	MaxInlineData  uint32  `json:"Max_inline_data"`
	RDMACMQPs      string  `json:"rdma_cm_QPs"`
	DataExMethod   string  `json:"Data_ex_method"`
	MsgSize        uint32  `json:"MsgSize"`
	NIterations    uint32  `json:"n_iterations"`
	BWPeak         float64 `json:"BW_peak"`
	BWAverage      float64 `json:"BW_average"`
	MsgRate        float64 `json:"MsgRate"`
}

// toReport builds the structured Report the rest of the system consumes
// out of the flat fields the benchmark binary actually prints.
func (r rawReport) toReport(hostname, uuid string) agentpb.Report {
	return agentpb.Report{
		UUID:     uuid,
		Hostname: hostname,
		TestInfo: agentpb.TestInfo{
			Test:           r.Test,
			DualPort:       r.DualPort,
			Device:         r.Device,
			NumberOfQPs:    r.NumberOfQPs,
			TransportType:  r.TransportType,
			ConnectionType: r.ConnectionType,
			UsingSRQ:       r.UsingSRQ,
			PCIRelaxOrder:  r.PCIRelaxOrder,
			IBVWRAPI:       r.IBVWRAPI,
			TxDepth:        r.TxDepth,
			RxDepth:        r.RxDepth,
			CQModeration:   r.CQModeration,
			MTU:            r.MTU,
			LinkType:       r.LinkType,
			GIDIndex:       r.GIDIndex,
			MaxInlineData:  r.MaxInlineData,
			RDMACMQPs:      r.RDMACMQPs,
			DataExMethod:   r.DataExMethod,
		},
		BwResults: agentpb.BwResults{
			MsgSize:     r.MsgSize,
			NIterations: r.NIterations,
			BWPeak:      r.BWPeak,
			BWAverage:   r.BWAverage,
			MsgRate:     r.MsgRate,
		},
	}
}
