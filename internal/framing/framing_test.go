package framing

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testKind uint16 = 1

func init() {
	RegisterKind(testKind)
}

type collectingSink struct {
	records []Record
}

func (c *collectingSink) HandleRecord(_ string, rec Record) {
	c.records = append(c.records, Record{Kind: rec.Kind, Body: append([]byte(nil), rec.Body...)})
}

func encodeRecord(kind uint16, body []byte) []byte {
	out := make([]byte, headerLen+len(body))
	binary.LittleEndian.PutUint32(out[0:4], uint32(headerLen+len(body)))
	binary.LittleEndian.PutUint16(out[4:6], kind)
	copy(out[headerLen:], body)

	return out
}

func newTestStream(sink Sink) *Stream {
	return NewStream("t", nil, 1024, 0xFFFF, sink, zap.NewNop())
}

func TestBasicRecordExtraction(t *testing.T) {
	sink := &collectingSink{}
	s := newTestStream(sink)

	rec := encodeRecord(testKind, []byte("payload"))
	s.Feed(rec)

	require.Len(t, sink.records, 1)
	require.Equal(t, "payload", string(sink.records[0].Body))
}

func TestRecordSplitAcrossFeeds(t *testing.T) {
	sink := &collectingSink{}
	s := newTestStream(sink)

	rec := encodeRecord(testKind, []byte("hello world"))
	s.Feed(rec[:5])
	require.Empty(t, sink.records)

	s.Feed(rec[5:])
	require.Len(t, sink.records, 1)
	require.Equal(t, "hello world", string(sink.records[0].Body))
}

func TestZeroLengthRejected(t *testing.T) {
	sink := &collectingSink{}
	s := newTestStream(sink)

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, 0)
	buf = append(buf, encodeRecord(testKind, []byte("ok"))...)

	s.Feed(buf)

	require.Len(t, sink.records, 1)
	require.Equal(t, "ok", string(sink.records[0].Body))
}

func TestLengthAtCapAccepted(t *testing.T) {
	sink := &collectingSink{}
	s := NewStream("t", nil, 16, 0xFFFF, sink, zap.NewNop())

	body := make([]byte, 16-headerLen)
	s.Feed(encodeRecord(testKind, body))

	require.Len(t, sink.records, 1)
}

func TestLengthAboveCapTriggersResync(t *testing.T) {
	sink := &collectingSink{}
	s := NewStream("t", nil, 16, 0xFFFF, sink, zap.NewNop())

	oversized := encodeRecord(testKind, make([]byte, 100))
	valid := encodeRecord(testKind, []byte("ok"))

	s.Feed(append(oversized, valid...))

	require.Len(t, sink.records, 1)
	require.Equal(t, "ok", string(sink.records[0].Body))
}

// TestResyncOnGarbage asserts that 50 random bytes followed by a valid
// signature and record yield exactly the valid record, with no parse
// error surfacing as a bad record kind.
func TestResyncOnGarbage(t *testing.T) {
	sink := &collectingSink{}
	signature := []byte("SIGN")
	s := NewStream("t", signature, 1024, 0xFFFF, sink, zap.NewNop())

	garbage := make([]byte, 50)
	for i := range garbage {
		garbage[i] = byte(i*7 + 3)
	}

	valid := encodeRecord(testKind, []byte("hit"))

	s.Feed(garbage)
	s.Feed(signature)
	s.Feed(valid)

	require.Len(t, sink.records, 1)
	require.Equal(t, "hit", string(sink.records[0].Body))
}

func TestUnknownKindStreakTriggersResync(t *testing.T) {
	sink := &collectingSink{}
	s := NewStream("t", nil, 1024, 0xFFFF, sink, zap.NewNop())

	var buf []byte
	for i := 0; i < maxUnknownKindStreak; i++ {
		buf = append(buf, encodeRecord(999, []byte("x"))...)
	}

	buf = append(buf, encodeRecord(testKind, []byte("recovered"))...)

	s.Feed(buf)

	require.Len(t, sink.records, 1)
	require.Equal(t, "recovered", string(sink.records[0].Body))
}
