// Package reassembly rebuilds each direction of each TCP flow into an
// ordered byte stream, one flow and direction at a time under its own
// lock. The core sequencing algorithm is hand-rolled rather than
// delegated to gopacket/reassembly's generic FSM: a byte-capped reorder
// buffer that discards the whole flow and resyncs via framing on
// overflow doesn't map cleanly onto reassembly.Stream's callback model.
// dreadl0ck/gopacket is still used in this package's engine.go for
// link/IP/TCP parsing — only the generic reassembly FSM is replaced.
// See DESIGN.md.
package reassembly

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akzios/bpsr-tools-sub002/internal/metrics"
)

// FiveTuple identifies a TCP flow direction.
type FiveTuple struct {
	SrcAddr string
	SrcPort uint16
	DstAddr string
	DstPort uint16
}

// Reverse returns the tuple as seen from the other endpoint.
func (t FiveTuple) Reverse() FiveTuple {
	return FiveTuple{SrcAddr: t.DstAddr, SrcPort: t.DstPort, DstAddr: t.SrcAddr, DstPort: t.SrcPort}
}

// Segment is one observed TCP segment, direction-relative to the owning Flow.
type Segment struct {
	Seq     uint32
	Payload []byte
	SYN     bool
	FIN     bool
	RST     bool
	Ack     uint32
}

// Sink receives contiguous payload chunks in arrival order for one flow
// direction. Implemented by the framing layer.
type Sink interface {
	Push(tuple FiveTuple, data []byte)
	Resync(tuple FiveTuple)
	Close(tuple FiveTuple)
}

// seqLess reports whether a is strictly before b using modular (wrapping)
// comparison, so sequence numbers near the 32-bit rollover still compare
// correctly.
func seqLess(a, b uint32) bool {
	return int32(a-b) < 0
}

// flow tracks one direction's reassembly state.
type flow struct {
	mu sync.Mutex

	tuple       FiveTuple
	expectedSeq uint32
	haveSeq     bool

	// buffered out-of-order segments, keyed by seq.
	pending      map[uint32][]byte
	pendingBytes int

	lastActivity time.Time
	closed       bool
}

func newFlow(tuple FiveTuple) *flow {
	return &flow{
		tuple:        tuple,
		pending:      make(map[uint32][]byte),
		lastActivity: time.Now(),
	}
}

// Table owns every flow direction currently tracked, keyed by FiveTuple.
// Flows are created on first observed segment and evicted after an idle
// timeout or RST/FIN.
type Table struct {
	mu    sync.Mutex
	flows map[FiveTuple]*flow

	sink         Sink
	log          *zap.Logger
	bufferCap    int
	idleTimeout  time.Duration
}

// NewTable constructs a flow table publishing to sink.
func NewTable(sink Sink, bufferCapBytes int, idleTimeout time.Duration, log *zap.Logger) *Table {
	return &Table{
		flows:       make(map[FiveTuple]*flow),
		sink:        sink,
		log:         log,
		bufferCap:   bufferCapBytes,
		idleTimeout: idleTimeout,
	}
}

// Feed processes one TCP segment observed for tuple.
func (t *Table) Feed(tuple FiveTuple, seg Segment) {
	f := t.lookupOrCreate(tuple)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastActivity = time.Now()

	if seg.SYN && !f.haveSeq {
		f.expectedSeq = seg.Seq + 1
		f.haveSeq = true
	}

	if !f.haveSeq {
		// no SYN observed yet (mid-capture attach): treat first payload's
		// sequence number as the origin, matching framing's own
		// AwaitingSignature tolerance for attaching mid-stream.
		f.expectedSeq = seg.Seq
		f.haveSeq = true
	}

	if len(seg.Payload) > 0 {
		t.ingest(f, seg.Seq, seg.Payload)
	}

	if seg.FIN || seg.RST {
		t.closeFlow(tuple, f)
	}
}

func (t *Table) ingest(f *flow, seq uint32, payload []byte) {
	switch {
	case seq == f.expectedSeq:
		t.sink.Push(f.tuple, payload)
		f.expectedSeq += uint32(len(payload))
		t.drain(f)
	case seqLess(f.expectedSeq, seq):
		// out of order: buffer, enforcing the per-flow byte cap.
		if f.pendingBytes+len(payload) > t.bufferCap {
			metrics.IncRecoverableFlow("reorder_buffer_overflow")
			t.log.Warn("reassembly: reorder buffer overflow, resyncing flow",
				zap.String("src", f.tuple.SrcAddr), zap.Uint16("srcPort", f.tuple.SrcPort))

			f.pending = make(map[uint32][]byte)
			f.pendingBytes = 0
			f.haveSeq = false

			t.sink.Resync(f.tuple)

			return
		}

		if _, exists := f.pending[seq]; !exists {
			f.pending[seq] = payload
			f.pendingBytes += len(payload)
		}
	default:
		// seq < expectedSeq: retransmit or overlap, trust the earlier copy.
		metrics.IncAdvisory("retransmit_dropped")
	}
}

// drain emits any buffered segments that are now contiguous.
func (t *Table) drain(f *flow) {
	for {
		payload, ok := f.pending[f.expectedSeq]
		if !ok {
			return
		}

		delete(f.pending, f.expectedSeq)
		f.pendingBytes -= len(payload)

		t.sink.Push(f.tuple, payload)
		f.expectedSeq += uint32(len(payload))
	}
}

func (t *Table) lookupOrCreate(tuple FiveTuple) *flow {
	t.mu.Lock()
	defer t.mu.Unlock()

	if f, ok := t.flows[tuple]; ok {
		return f
	}

	f := newFlow(tuple)
	t.flows[tuple] = f

	return f
}

func (t *Table) closeFlow(tuple FiveTuple, f *flow) {
	if f.closed {
		return
	}

	f.closed = true

	t.mu.Lock()
	delete(t.flows, tuple)
	t.mu.Unlock()

	t.sink.Close(tuple)
}

// EvictIdle removes flows that have not seen activity within the idle
// timeout (120s by default).
func (t *Table) EvictIdle(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0

	for tuple, f := range t.flows {
		f.mu.Lock()
		idle := now.Sub(f.lastActivity) > t.idleTimeout
		f.mu.Unlock()

		if idle {
			delete(t.flows, tuple)
			t.sink.Close(tuple)
			evicted++
		}
	}

	return evicted
}

// Size returns the number of tracked flow directions.
func (t *Table) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.flows)
}
