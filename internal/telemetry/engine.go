// Package telemetry wires capture → reassembly → framing → decode →
// dispatch into a single packet-processing worker, plus the auxiliary
// task pool for reference fetches and fight-log appends.
package telemetry

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dreadl0ck/cryptoutils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/akzios/bpsr-tools-sub002/internal/capture"
	"github.com/akzios/bpsr-tools-sub002/internal/combat"
	"github.com/akzios/bpsr-tools-sub002/internal/config"
	"github.com/akzios/bpsr-tools-sub002/internal/decode"
	"github.com/akzios/bpsr-tools-sub002/internal/fightlog"
	"github.com/akzios/bpsr-tools-sub002/internal/framing"
	"github.com/akzios/bpsr-tools-sub002/internal/logging"
	"github.com/akzios/bpsr-tools-sub002/internal/metrics"
	"github.com/akzios/bpsr-tools-sub002/internal/reassembly"
	"github.com/akzios/bpsr-tools-sub002/internal/reference"
)

const idleEvictInterval = 30 * time.Second

// batchSink accumulates the events decoded from one reassembled chunk so
// Dispatch can apply them under a single lock acquisition.
type batchSink struct {
	events []decode.Event
}

func (b *batchSink) HandleEvent(_ string, ev decode.Event) {
	b.events = append(b.events, ev)
}

func (b *batchSink) drain() []decode.Event {
	out := b.events
	b.events = nil

	return out
}

// flowPipeline is one flow direction's framing+decode stage, created
// lazily on first observed payload and discarded on Close/Resync.
type flowPipeline struct {
	stream *framing.Stream
	batch  *batchSink
}

// Engine is the single packet-processing worker: it owns the flow
// table, the per-flow framing pipelines, and the auxiliary pool.
type Engine struct {
	cfg      config.Options
	logs     *logging.Set
	capSrc   capture.Source
	dispatch *combat.Dispatcher
	fetcher  *reference.Fetcher
	fight    *fightlog.Writer

	table            *reassembly.Table
	reassemblyEngine *reassembly.Engine

	flows map[reassembly.FiveTuple]*flowPipeline

	aux chan func()
}

// NewEngine wires every pipeline stage. fetcher and fight may be nil
// (reference lookup and fight-log persistence are both optional).
func NewEngine(cfg config.Options, logs *logging.Set, capSrc capture.Source, dispatch *combat.Dispatcher, fetcher *reference.Fetcher, fight *fightlog.Writer) *Engine {
	e := &Engine{
		cfg:      cfg,
		logs:     logs,
		capSrc:   capSrc,
		dispatch: dispatch,
		fetcher:  fetcher,
		fight:    fight,
		flows:    make(map[reassembly.FiveTuple]*flowPipeline),
		aux:      make(chan func(), 256),
	}

	e.table = reassembly.NewTable(e, cfg.FlowBufferCapBytes, time.Duration(cfg.FlowIdleMs)*time.Millisecond, logs.Reassembly)
	e.reassemblyEngine = reassembly.NewEngine(e.table, cfg.CapturePort, logs.Reassembly)

	return e
}

// Run drives the single packet-processing worker until ctx is canceled
// or the capture source ends.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < e.cfg.AuxPoolSize; i++ {
		g.Go(func() error {
			e.auxWorker(gctx)

			return nil
		})
	}

	if e.fetcher != nil {
		g.Go(func() error {
			return e.fetcher.Run(gctx, e.cfg.AuxPoolSize)
		})
	}

	g.Go(func() error {
		return e.runWorker(gctx)
	})

	return g.Wait()
}

func (e *Engine) runWorker(ctx context.Context) error {
	frames, err := e.capSrc.Frames(ctx)
	if err != nil {
		metrics.IncFatalSession("capture_open_failed")

		return fmt.Errorf("telemetry: open capture source: %w", err)
	}

	ticker := time.NewTicker(idleEvictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = e.capSrc.Close()

			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}

			e.reassemblyEngine.Handle(frame)
		case now := <-ticker.C:
			if n := e.table.EvictIdle(now); n > 0 {
				e.logs.Reassembly.Debug("telemetry: evicted idle flows", zap.Int("count", n))
			}
		}
	}
}

func (e *Engine) auxWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-e.aux:
			job()
		}
	}
}

// postAux enqueues a blocking job (fight-log append, etc.) onto the
// auxiliary pool without blocking the packet worker. A full queue drops
// the job and counts it.
func (e *Engine) postAux(job func()) {
	select {
	case e.aux <- job:
	default:
		metrics.IncAdvisory("aux_queue_overflow")
	}
}

func (e *Engine) pipeline(tuple reassembly.FiveTuple) *flowPipeline {
	if p, ok := e.flows[tuple]; ok {
		return p
	}

	batch := &batchSink{}
	dec := decode.NewDecoder(batch, e.logs.Decode)

	tupleStr := fmt.Sprintf("%s:%d->%s:%d", tuple.SrcAddr, tuple.SrcPort, tuple.DstAddr, tuple.DstPort)
	stream := framing.NewStream(tupleStr, []byte(e.cfg.Signature), e.cfg.MaxRecordSize, uint16(e.cfg.CompressedKind), dec, e.logs.Framing)

	p := &flowPipeline{stream: stream, batch: batch}
	e.flows[tuple] = p

	e.logs.Reassembly.Debug("telemetry: new flow pipeline",
		zap.String("tuple", tupleStr), zap.String("flowId", flowID(tupleStr)))

	return p
}

// flowID hashes a flow's tuple string into a short correlation id for log
// lines.
func flowID(tupleStr string) string {
	return hex.EncodeToString(cryptoutils.MD5Data([]byte(tupleStr)))[:8]
}

// Push implements reassembly.Sink: it feeds newly contiguous bytes
// through framing+decode and applies the resulting event batch.
func (e *Engine) Push(tuple reassembly.FiveTuple, data []byte) {
	p := e.pipeline(tuple)
	p.stream.Feed(data)

	events := p.batch.drain()
	if len(events) == 0 {
		return
	}

	e.dispatch.Apply(events)
	e.requestUnknownActors(events)

	if e.fight != nil {
		e.logFightEvents(events)
	}
}

// Resync implements reassembly.Sink: dropping the pipeline forces a
// fresh framing.Stream that re-scans for the signature, treating the
// next observed record boundary as the new origin.
func (e *Engine) Resync(tuple reassembly.FiveTuple) {
	delete(e.flows, tuple)
}

// Close implements reassembly.Sink.
func (e *Engine) Close(tuple reassembly.FiveTuple) {
	delete(e.flows, tuple)
}

// requestUnknownActors asks the reference fetcher to resolve any actor
// this batch touched whose name is still unknown.
func (e *Engine) requestUnknownActors(events []decode.Event) {
	if e.fetcher == nil {
		return
	}

	for _, ev := range events {
		var uid uint64

		switch v := ev.(type) {
		case decode.Damage:
			uid = v.Actor
		case decode.Healing:
			uid = v.Actor
		case decode.TakeDamage:
			uid = v.Actor
		default:
			continue
		}

		if !e.dispatch.HasName(uid) {
			e.fetcher.Request(uid)
		}
	}
}

func (e *Engine) logFightEvents(events []decode.Event) {
	for _, ev := range events {
		line, ok := formatFightLine(ev)
		if !ok {
			continue
		}

		envelope := envelopeFor(ev)

		e.postAux(func() {
			if err := e.fight.Append(line); err != nil {
				e.logs.FightLog.Warn("telemetry: fight log append failed", zap.Error(err))
			}

			if envelope != nil {
				if err := e.fight.AppendProto(envelope); err != nil {
					e.logs.FightLog.Warn("telemetry: fight log proto append failed", zap.Error(err))
				}
			}
		})
	}
}

func envelopeFor(ev decode.Event) *fightlog.EventEnvelope {
	switch v := ev.(type) {
	case decode.Damage:
		return &fightlog.EventEnvelope{Kind: "damage", Actor: v.Actor, Target: v.Target, Skill: v.Skill, Value: v.Value}
	case decode.Healing:
		return &fightlog.EventEnvelope{Kind: "healing", Actor: v.Actor, Target: v.Target, Skill: v.Skill, Value: v.Value}
	case decode.Death:
		return &fightlog.EventEnvelope{Kind: "death", Actor: v.Actor}
	default:
		return nil
	}
}

func formatFightLine(ev decode.Event) (string, bool) {
	switch v := ev.(type) {
	case decode.Damage:
		return fmt.Sprintf("damage actor=%d target=%d skill=%d value=%d crit=%t lucky=%t",
			v.Actor, v.Target, v.Skill, v.Value, v.IsCrit, v.IsLucky), true
	case decode.Healing:
		return fmt.Sprintf("healing actor=%d target=%d skill=%d value=%d", v.Actor, v.Target, v.Skill, v.Value), true
	case decode.Death:
		return fmt.Sprintf("death actor=%d", v.Actor), true
	default:
		return "", false
	}
}
