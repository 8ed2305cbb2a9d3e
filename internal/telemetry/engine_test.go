package telemetry

import (
	"encoding/binary"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/akzios/bpsr-tools-sub002/internal/combat"
	"github.com/akzios/bpsr-tools-sub002/internal/config"
	"github.com/akzios/bpsr-tools-sub002/internal/fightlog"
	"github.com/akzios/bpsr-tools-sub002/internal/logging"
	"github.com/akzios/bpsr-tools-sub002/internal/reassembly"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()

	logs, err := logging.New(false)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.CompressedKind = 0xFFFF
	cfg.Signature = "" // no handshake marker to scan for in these unit tests

	dispatch := combat.NewDispatcher(combat.DefaultConfig(), nil, zap.NewNop())

	e := &Engine{
		cfg:      cfg,
		logs:     logs,
		dispatch: dispatch,
		flows:    make(map[reassembly.FiveTuple]*flowPipeline),
		aux:      make(chan func(), 16),
	}

	return e
}

func encodeDamageRecord(actor, target, skill uint64, value int64) []byte {
	body := make([]byte, 41)
	binary.LittleEndian.PutUint64(body[0:8], actor)
	binary.LittleEndian.PutUint64(body[8:16], target)
	binary.LittleEndian.PutUint64(body[16:24], skill)
	binary.LittleEndian.PutUint64(body[24:32], uint64(value))

	header := make([]byte, 4+2+len(body))
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(header)))
	binary.LittleEndian.PutUint16(header[4:6], 0x01) // KindDamage
	copy(header[6:], body)

	return header
}

// TestPushDispatchesDecodedEvents exercises the wired
// capture->reassembly->framing->decode->dispatch chain at the Push
// boundary: feeding one framed Damage record through a flow's pipeline
// must land in the dispatcher's snapshot.
func TestPushDispatchesDecodedEvents(t *testing.T) {
	e := testEngine(t)
	e.dispatch.SetName(7, "Someone")

	tuple := reassembly.FiveTuple{SrcAddr: "10.0.0.1", SrcPort: 1, DstAddr: "10.0.0.2", DstPort: 9002}
	rec := encodeDamageRecord(7, 8, 1241, 500)

	e.Push(tuple, rec)

	snap := e.dispatch.Snapshot()
	require.Contains(t, snap, uint64(7))
	require.Equal(t, int64(500), snap[7].Damage.Total)
	require.Equal(t, "射线", snap[7].SubProfession)
}

// TestPushSplitAcrossCallsStillDecodes confirms the per-flow
// framing.Stream persists across Push calls so a record split by TCP
// segmentation still decodes once fully buffered.
func TestPushSplitAcrossCallsStillDecodes(t *testing.T) {
	e := testEngine(t)
	e.dispatch.SetName(9, "Someone")

	tuple := reassembly.FiveTuple{SrcAddr: "10.0.0.1", SrcPort: 1, DstAddr: "10.0.0.2", DstPort: 9002}
	rec := encodeDamageRecord(9, 1, 1, 200)

	e.Push(tuple, rec[:10])
	require.Empty(t, e.dispatch.Snapshot()[9].Damage.Total)

	e.Push(tuple, rec[10:])

	snap := e.dispatch.Snapshot()
	require.Equal(t, int64(200), snap[9].Damage.Total)
}

// TestResyncDropsPipeline asserts Resync discards the per-flow
// framing.Stream so the next Push re-scans for the signature instead of
// resuming mid-record.
func TestResyncDropsPipeline(t *testing.T) {
	e := testEngine(t)
	tuple := reassembly.FiveTuple{SrcAddr: "10.0.0.1", SrcPort: 1, DstAddr: "10.0.0.2", DstPort: 9002}

	e.Push(tuple, []byte{0x01, 0x02}) // partial, no signature configured so streams straight away
	require.Contains(t, e.flows, tuple)

	e.Resync(tuple)
	require.NotContains(t, e.flows, tuple)
}

// TestCloseDropsPipeline mirrors TestResyncDropsPipeline for the
// connection-teardown path.
func TestCloseDropsPipeline(t *testing.T) {
	e := testEngine(t)
	tuple := reassembly.FiveTuple{SrcAddr: "10.0.0.1", SrcPort: 1, DstAddr: "10.0.0.2", DstPort: 9002}

	e.Push(tuple, []byte{0x01, 0x02})
	require.Contains(t, e.flows, tuple)

	e.Close(tuple)
	require.NotContains(t, e.flows, tuple)
}

// TestRequestUnknownActorsSkipsKnownNames confirms Push only leaves
// actors without a learned display name eligible for a later reference
// fetch; a nil fetcher must not panic.
func TestRequestUnknownActorsSkipsKnownNames(t *testing.T) {
	e := testEngine(t)
	e.dispatch.SetName(1, "Known")

	tuple := reassembly.FiveTuple{SrcAddr: "10.0.0.1", SrcPort: 1, DstAddr: "10.0.0.2", DstPort: 9002}
	e.Push(tuple, encodeDamageRecord(1, 0, 1, 10))
	e.Push(tuple, encodeDamageRecord(2, 0, 1, 10))

	require.True(t, e.dispatch.HasName(1))
	require.False(t, e.dispatch.HasName(2))
}

func TestLogFightEventsFormatsAndAppends(t *testing.T) {
	dir := t.TempDir()

	logs, err := logging.New(false)
	require.NoError(t, err)

	w, err := fightlog.NewWriter(dir, strconv.FormatInt(time.Now().UnixMilli(), 10), logs.FightLog)
	require.NoError(t, err)

	e := testEngine(t)
	e.fight = w

	tuple := reassembly.FiveTuple{SrcAddr: "10.0.0.1", SrcPort: 1, DstAddr: "10.0.0.2", DstPort: 9002}
	e.Push(tuple, encodeDamageRecord(3, 4, 5, 99))

	require.Eventually(t, func() bool {
		select {
		case job := <-e.aux:
			job()

			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	require.NoError(t, w.Close())
}
