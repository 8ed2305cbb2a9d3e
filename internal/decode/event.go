// Package decode turns framing.Records into a closed tagged union of
// combat Events, dispatched through a map keyed by the wire protocol's
// u16 record kind.
package decode

import (
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/akzios/bpsr-tools-sub002/internal/framing"
	"github.com/akzios/bpsr-tools-sub002/internal/metrics"
)

// Record kinds. Values are placeholders for the proprietary wire format,
// same as the signature bytes.
const (
	KindDamage       uint16 = 0x01
	KindHealing      uint16 = 0x02
	KindTakeDamage   uint16 = 0x03
	KindDeath        uint16 = 0x04
	KindAttrUpdate   uint16 = 0x05
	KindEntitySpawn  uint16 = 0x06
	KindEntityInfo   uint16 = 0x07
	KindSceneChange  uint16 = 0x08
	KindSelfIdentify uint16 = 0x09
)

func init() {
	for _, k := range []uint16{
		KindDamage, KindHealing, KindTakeDamage, KindDeath, KindAttrUpdate,
		KindEntitySpawn, KindEntityInfo, KindSceneChange, KindSelfIdentify,
	} {
		framing.RegisterKind(k)
	}
}

// Flag bits within the combat message bitfield.
const (
	flagCrit       uint8 = 1 << 0
	flagLucky      uint8 = 1 << 1
	flagCauseLucky uint8 = 1 << 2
	flagLethal     uint8 = 1 << 0
)

// Event is the closed tagged union produced by the decoder. Unknown kinds
// are represented by Other.
type Event interface {
	isEvent()
}

// Damage is emitted when a damage-bearing message carries a positive value.
type Damage struct {
	Actor      uint64
	Target     uint64
	Skill      uint64
	Value      int64
	HPLessen   int64
	IsCrit     bool
	IsLucky    bool
	CauseLucky bool
}

func (Damage) isEvent() {}

// Healing is extracted symmetrically to Damage.
type Healing struct {
	Actor      uint64
	Target     uint64
	Skill      uint64
	Value      int64
	IsCrit     bool
	IsLucky    bool
	CauseLucky bool
}

func (Healing) isEvent() {}

// TakeDamage records damage taken by an actor, with a lethal flag.
type TakeDamage struct {
	Actor  uint64
	Value  int64
	Lethal bool
}

func (TakeDamage) isEvent() {}

// Death marks an actor's death independent of TakeDamage's lethal flag,
// for servers that emit a dedicated death message.
type Death struct {
	Actor uint64
}

func (Death) isEvent() {}

// AttrUpdate upserts a single key/value attribute on an actor.
type AttrUpdate struct {
	Actor uint64
	Key   AttrKey
	Value int64
}

func (AttrUpdate) isEvent() {}

// AttrKey enumerates the fixed attribute set an AttrUpdate event can
// carry.
type AttrKey uint8

const (
	AttrUnknown AttrKey = iota
	AttrMaxHP
	AttrCurrentHP
	AttrPowerScore
)

// EntitySpawn announces a new enemy/NPC entity.
type EntitySpawn struct {
	EntityID uint64
	Name     string
}

func (EntitySpawn) isEvent() {}

// EntityInfo updates known fields for an already-spawned entity.
type EntityInfo struct {
	EntityID uint64
	Name     string
	HP       int64
	MaxHP    int64
}

func (EntityInfo) isEvent() {}

// SceneChange signals a map/instance transition.
type SceneChange struct {
	SceneID uint64
}

func (SceneChange) isEvent() {}

// SelfIdentify fires on the first message revealing the local player's uid.
type SelfIdentify struct {
	Actor uint64
}

func (SelfIdentify) isEvent() {}

// Other is the explicit catch-all arm for unrecognized kinds: counted,
// never raised as an error.
type Other struct {
	Kind uint16
	Body []byte
}

func (Other) isEvent() {}

// Sink receives decoded events in record order.
type Sink interface {
	HandleEvent(tuple string, ev Event)
}

type decodeFunc func(body []byte) (Event, error)

var schema = map[uint16]decodeFunc{
	KindDamage:       decodeDamage,
	KindHealing:      decodeHealing,
	KindTakeDamage:   decodeTakeDamage,
	KindDeath:        decodeDeath,
	KindAttrUpdate:   decodeAttrUpdate,
	KindEntitySpawn:  decodeEntitySpawn,
	KindEntityInfo:   decodeEntityInfo,
	KindSceneChange:  decodeSceneChange,
	KindSelfIdentify: decodeSelfIdentify,
}

// Decoder adapts a framing.Sink into an decode.Sink, turning Records into
// Events before handing them to the combat dispatcher.
type Decoder struct {
	sink Sink
	log  *zap.Logger
}

// NewDecoder constructs a Decoder publishing to sink.
func NewDecoder(sink Sink, log *zap.Logger) *Decoder {
	return &Decoder{sink: sink, log: log}
}

// HandleRecord implements framing.Sink.
func (d *Decoder) HandleRecord(tuple string, rec framing.Record) {
	fn, ok := schema[rec.Kind]
	if !ok {
		metrics.IncAdvisory("unknown_event_kind")
		d.sink.HandleEvent(tuple, Other{Kind: rec.Kind, Body: rec.Body})

		return
	}

	ev, err := fn(rec.Body)
	if err != nil {
		metrics.IncRecoverableRecord("schema_error")
		d.log.Warn("decode: schema error", zap.Uint16("kind", rec.Kind), zap.Error(err))

		return
	}

	if ev == nil {
		// e.g. Damage/Healing with a non-positive value: not an event.
		return
	}

	d.sink.HandleEvent(tuple, ev)
}

func readUint64(b []byte, off int) uint64 { return binary.LittleEndian.Uint64(b[off : off+8]) }
func readInt64(b []byte, off int) int64   { return int64(binary.LittleEndian.Uint64(b[off : off+8])) }
func readUint16(b []byte, off int) uint16 { return binary.LittleEndian.Uint16(b[off : off+2]) }
