package reassembly

import (
	"go.uber.org/zap"

	"github.com/dreadl0ck/gopacket"
	"github.com/dreadl0ck/gopacket/layers"

	"github.com/akzios/bpsr-tools-sub002/internal/capture"
	"github.com/akzios/bpsr-tools-sub002/internal/metrics"
)

// Engine parses link-layer frames into TCP segments and feeds them to a
// flow Table. It drops non-TCP frames and frames whose ports don't match
// the configured game port.
type Engine struct {
	table *Table
	port  uint16
	log   *zap.Logger

	decodeOpts gopacket.DecodeOptions
}

// NewEngine constructs an Engine bound to table, observing only the given
// TCP port.
func NewEngine(table *Table, port int, log *zap.Logger) *Engine {
	return &Engine{
		table:      table,
		port:       uint16(port),
		log:        log,
		decodeOpts: gopacket.DecodeOptions{Lazy: true, NoCopy: true},
	}
}

// Handle parses one captured frame and feeds any contained TCP segment to
// the flow table.
func (e *Engine) Handle(frame capture.Frame) {
	pkt := gopacket.NewPacket(frame.Data, layers.LayerTypeEthernet, e.decodeOpts)

	tcpLayer := pkt.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return
	}

	tcp, ok := tcpLayer.(*layers.TCP)
	if !ok {
		return
	}

	if uint16(tcp.SrcPort) != e.port && uint16(tcp.DstPort) != e.port {
		return
	}

	srcAddr, dstAddr := networkAddrs(pkt)
	if srcAddr == "" {
		metrics.IncAdvisory("non_ip_tcp_frame")

		return
	}

	tuple := FiveTuple{
		SrcAddr: srcAddr,
		SrcPort: uint16(tcp.SrcPort),
		DstAddr: dstAddr,
		DstPort: uint16(tcp.DstPort),
	}

	e.table.Feed(tuple, Segment{
		Seq:     tcp.Seq,
		Payload: tcp.Payload,
		SYN:     tcp.SYN,
		FIN:     tcp.FIN,
		RST:     tcp.RST,
		Ack:     tcp.Ack,
	})
}

func networkAddrs(pkt gopacket.Packet) (src, dst string) {
	if nl := pkt.NetworkLayer(); nl != nil {
		flow := nl.NetworkFlow()

		return flow.Src().String(), flow.Dst().String()
	}

	return "", ""
}
