package fightlog

import (
	"github.com/gogo/protobuf/proto"
)

// EventEnvelope is a small hand-rolled protobuf message carrying one
// combat event for the optional binary archive (fight.pb), alongside
// the human-readable fight.log. It is hand-tagged rather than codegen'd
// since this repo has no .proto schema of its own, but it satisfies the
// same reflection-based proto.Message contract gogo/protobuf's Marshal
// relies on.
type EventEnvelope struct {
	Kind        string `protobuf:"bytes,1,opt,name=kind" json:"kind,omitempty"`
	Actor       uint64 `protobuf:"varint,2,opt,name=actor" json:"actor,omitempty"`
	Target      uint64 `protobuf:"varint,3,opt,name=target" json:"target,omitempty"`
	Skill       uint64 `protobuf:"varint,4,opt,name=skill" json:"skill,omitempty"`
	Value       int64  `protobuf:"varint,5,opt,name=value" json:"value,omitempty"`
	TimestampNs int64  `protobuf:"varint,6,opt,name=timestamp_ns" json:"timestamp_ns,omitempty"`
}

func (m *EventEnvelope) Reset()         { *m = EventEnvelope{} }
func (m *EventEnvelope) String() string { return proto.CompactTextString(m) }
func (*EventEnvelope) ProtoMessage()    {}

// MarshalEnvelope encodes ev as length-delimited protobuf bytes: a
// little-endian u32 length header followed by the marshaled message,
// matching the length-prefix discipline the framing package already uses
// for its own records.
func MarshalEnvelope(ev *EventEnvelope) ([]byte, error) {
	body, err := proto.Marshal(ev)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 4+len(body))
	out[0] = byte(len(body))
	out[1] = byte(len(body) >> 8)
	out[2] = byte(len(body) >> 16)
	out[3] = byte(len(body) >> 24)
	copy(out[4:], body)

	return out, nil
}
