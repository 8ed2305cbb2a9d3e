// Package framing extracts application-layer Records from a per-flow
// reassembled byte stream: a little-endian u32 length header (inclusive
// of the header itself) followed by a u16 kind tag and length-6 body
// bytes. It implements an AwaitingSignature / Streaming / Resync state
// machine, with a growable per-direction buffer whose bytes are
// appended, consumed, and never re-read.
package framing

import (
	"bytes"
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/akzios/bpsr-tools-sub002/internal/metrics"
)

// Record is a single application-layer message.
type Record struct {
	Kind uint16
	Body []byte
}

const headerLen = 6 // u32 length + u16 kind

// state is the framing state machine's current mode for one stream.
type state int

const (
	stateAwaitingSignature state = iota
	stateStreaming
	stateResync
)

// Sink receives decoded records in stream order.
type Sink interface {
	HandleRecord(tuple string, rec Record)
}

// Stream decodes one flow direction's byte stream into Records. It owns a
// growable buffer with a cursor at the next unparsed byte; consumed bytes
// are released by reslicing.
type Stream struct {
	tuple string
	buf   []byte

	st state

	signature      []byte
	maxRecordSize  int
	compressedKind uint16

	sink Sink
	log  *zap.Logger

	unknownKindStreak int
}

const maxUnknownKindStreak = 8

// NewStream constructs a per-direction framing decoder. signature is the
// configurable handshake marker; it is never hard-coded.
func NewStream(tuple string, signature []byte, maxRecordSize int, compressedKind uint16, sink Sink, log *zap.Logger) *Stream {
	return &Stream{
		tuple:          tuple,
		signature:      signature,
		maxRecordSize:  maxRecordSize,
		compressedKind: compressedKind,
		sink:           sink,
		log:            log,
	}
}

// Feed appends newly reassembled bytes and parses as many records as
// possible out of the buffer.
func (s *Stream) Feed(data []byte) {
	s.buf = append(s.buf, data...)

	for {
		switch s.st {
		case stateAwaitingSignature:
			if !s.scanSignature() {
				return
			}

			s.st = stateStreaming
		case stateStreaming:
			if !s.parseOne() {
				return
			}
		case stateResync:
			if !s.resync() {
				return
			}

			s.st = stateStreaming
		}
	}
}

// scanSignature looks for the signature marker at the start of the
// buffer; on mismatch it scans forward byte by byte so a mid-capture
// attach can still find the marker later in the stream.
func (s *Stream) scanSignature() bool {
	if len(s.signature) == 0 {
		return true
	}

	idx := bytes.Index(s.buf, s.signature)
	if idx < 0 {
		// keep only the last len(signature)-1 bytes in case the marker
		// straddles the next Feed call.
		if len(s.buf) > len(s.signature) {
			s.buf = s.buf[len(s.buf)-len(s.signature)+1:]
		}

		return false
	}

	s.buf = s.buf[idx+len(s.signature):]

	return true
}

// parseOne attempts to extract exactly one record from the front of the
// buffer. Returns false if more bytes are needed.
func (s *Stream) parseOne() bool {
	if len(s.buf) < 4 {
		return false
	}

	length := binary.LittleEndian.Uint32(s.buf[0:4])

	if length == 0 {
		metrics.IncRecoverableRecord("zero_length_record")
		s.log.Warn("framing: zero-length record rejected", zap.String("tuple", s.tuple))
		s.buf = s.buf[4:]

		return len(s.buf) > 0
	}

	if int(length) > s.maxRecordSize {
		metrics.IncRecoverableRecord("length_cap_exceeded")
		s.log.Warn("framing: record length exceeds cap, entering resync",
			zap.String("tuple", s.tuple), zap.Uint32("length", length), zap.Int("cap", s.maxRecordSize))

		s.st = stateResync
		s.buf = s.buf[1:] // advance at least one byte so resync makes progress

		return true
	}

	if len(s.buf) < int(length) {
		return false
	}

	if length < headerLen {
		metrics.IncRecoverableRecord("schema_error_short_header")
		s.st = stateResync
		s.buf = s.buf[1:]

		return true
	}

	kind := binary.LittleEndian.Uint16(s.buf[4:6])
	body := s.buf[headerLen:length]
	s.buf = s.buf[length:]

	if !knownKind(kind) && kind != s.compressedKind {
		s.unknownKindStreak++
		metrics.IncAdvisory("unknown_record_kind")

		if s.unknownKindStreak >= maxUnknownKindStreak {
			s.log.Warn("framing: too many consecutive unknown kinds, entering resync", zap.String("tuple", s.tuple))
			s.st = stateResync
		}

		return true
	}

	s.unknownKindStreak = 0

	if kind == s.compressedKind {
		s.handleCompressed(body)

		return true
	}

	s.sink.HandleRecord(s.tuple, Record{Kind: kind, Body: body})

	return true
}

// resync scans forward byte by byte for the next position that looks
// like a valid length+kind pair, then returns to Streaming.
func (s *Stream) resync() bool {
	for len(s.buf) >= headerLen {
		length := binary.LittleEndian.Uint32(s.buf[0:4])
		kind := binary.LittleEndian.Uint16(s.buf[4:6])

		if length >= headerLen && int(length) <= s.maxRecordSize && (knownKind(kind) || kind == s.compressedKind) {
			return true
		}

		s.buf = s.buf[1:]
	}

	return false
}

// handleCompressed decompresses a Zstd-encoded body into a concatenation
// of length-prefixed inner records and decodes each one, one level of
// recursion deep.
func (s *Stream) handleCompressed(body []byte) {
	inner, err := decompressZstd(body)
	if err != nil {
		metrics.IncRecoverableRecord("decompress_error")
		s.log.Warn("framing: zstd decompress failed", zap.String("tuple", s.tuple), zap.Error(err))

		return
	}

	for len(inner) >= headerLen {
		length := binary.LittleEndian.Uint32(inner[0:4])
		if length < headerLen || int(length) > len(inner) || int(length) > s.maxRecordSize {
			metrics.IncRecoverableRecord("schema_error_inner_record")

			return
		}

		kind := binary.LittleEndian.Uint16(inner[4:6])
		innerBody := inner[headerLen:length]
		inner = inner[length:]

		if !knownKind(kind) {
			metrics.IncAdvisory("unknown_record_kind")

			continue
		}

		s.sink.HandleRecord(s.tuple, Record{Kind: kind, Body: innerBody})
	}
}

// knownKind reports whether kind is one of the schema's declared message
// kinds. Populated by the decode package via RegisterKind at init time.
func knownKind(kind uint16) bool {
	_, ok := registeredKinds[kind]

	return ok
}

var registeredKinds = map[uint16]struct{}{}

// RegisterKind marks kind as a known, decodable record kind. Called by
// decode.init so framing can recognize declared kinds without importing
// the decode package (which depends on framing.Record).
func RegisterKind(kind uint16) {
	registeredKinds[kind] = struct{}{}
}
