package decode

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/akzios/bpsr-tools-sub002/internal/framing"
)

type collectingSink struct {
	events []Event
}

func (c *collectingSink) HandleEvent(_ string, ev Event) {
	c.events = append(c.events, ev)
}

func encodeDamage(actor, target, skill uint64, value int64, flags uint8, hpLessen int64) []byte {
	b := make([]byte, 41)
	binary.LittleEndian.PutUint64(b[0:8], actor)
	binary.LittleEndian.PutUint64(b[8:16], target)
	binary.LittleEndian.PutUint64(b[16:24], skill)
	binary.LittleEndian.PutUint64(b[24:32], uint64(value))
	b[32] = flags
	binary.LittleEndian.PutUint64(b[33:41], uint64(hpLessen))

	return b
}

func encodeHealing(actor, target, skill uint64, value int64, flags uint8) []byte {
	b := make([]byte, 33)
	binary.LittleEndian.PutUint64(b[0:8], actor)
	binary.LittleEndian.PutUint64(b[8:16], target)
	binary.LittleEndian.PutUint64(b[16:24], skill)
	binary.LittleEndian.PutUint64(b[24:32], uint64(value))
	b[32] = flags

	return b
}

func TestDamageRoundTrip(t *testing.T) {
	sink := &collectingSink{}
	d := NewDecoder(sink, zap.NewNop())

	body := encodeDamage(1, 2, 3, 1000, flagCrit|flagCauseLucky, 1500)
	d.HandleRecord("t", framing.Record{Kind: KindDamage, Body: body})

	require.Len(t, sink.events, 1)
	dmg, ok := sink.events[0].(Damage)
	require.True(t, ok)
	require.Equal(t, uint64(1), dmg.Actor)
	require.Equal(t, uint64(2), dmg.Target)
	require.Equal(t, uint64(3), dmg.Skill)
	require.Equal(t, int64(1000), dmg.Value)
	require.Equal(t, int64(1500), dmg.HPLessen)
	require.True(t, dmg.IsCrit)
	require.False(t, dmg.IsLucky)
	require.True(t, dmg.CauseLucky)
}

// TestNonPositiveDamageDropped asserts a damage message carrying a zero
// or negative value is not surfaced as an Event.
func TestNonPositiveDamageDropped(t *testing.T) {
	sink := &collectingSink{}
	d := NewDecoder(sink, zap.NewNop())

	d.HandleRecord("t", framing.Record{Kind: KindDamage, Body: encodeDamage(1, 2, 3, 0, 0, 0)})
	d.HandleRecord("t", framing.Record{Kind: KindDamage, Body: encodeDamage(1, 2, 3, -5, 0, 0)})

	require.Empty(t, sink.events)
}

func TestHealingRoundTrip(t *testing.T) {
	sink := &collectingSink{}
	d := NewDecoder(sink, zap.NewNop())

	body := encodeHealing(10, 20, 30, 400, flagLucky)
	d.HandleRecord("t", framing.Record{Kind: KindHealing, Body: body})

	require.Len(t, sink.events, 1)
	heal, ok := sink.events[0].(Healing)
	require.True(t, ok)
	require.Equal(t, uint64(10), heal.Actor)
	require.Equal(t, uint64(20), heal.Target)
	require.Equal(t, int64(400), heal.Value)
	require.True(t, heal.IsLucky)
	require.False(t, heal.IsCrit)
}

func TestUnknownKindYieldsOther(t *testing.T) {
	sink := &collectingSink{}
	d := NewDecoder(sink, zap.NewNop())

	d.HandleRecord("t", framing.Record{Kind: 0xBEEF, Body: []byte("raw")})

	require.Len(t, sink.events, 1)
	other, ok := sink.events[0].(Other)
	require.True(t, ok)
	require.Equal(t, uint16(0xBEEF), other.Kind)
	require.Equal(t, "raw", string(other.Body))
}

func TestShortRecordSurfacesNoEvent(t *testing.T) {
	sink := &collectingSink{}
	d := NewDecoder(sink, zap.NewNop())

	d.HandleRecord("t", framing.Record{Kind: KindDamage, Body: []byte{1, 2, 3}})

	require.Empty(t, sink.events)
}

func TestEntitySpawnVariableLength(t *testing.T) {
	sink := &collectingSink{}
	d := NewDecoder(sink, zap.NewNop())

	name := "Training Dummy"
	body := make([]byte, 10+len(name))
	binary.LittleEndian.PutUint64(body[0:8], 777)
	binary.LittleEndian.PutUint16(body[8:10], uint16(len(name)))
	copy(body[10:], name)

	d.HandleRecord("t", framing.Record{Kind: KindEntitySpawn, Body: body})

	require.Len(t, sink.events, 1)
	spawn, ok := sink.events[0].(EntitySpawn)
	require.True(t, ok)
	require.Equal(t, uint64(777), spawn.EntityID)
	require.Equal(t, name, spawn.Name)
}

func TestSceneChangeAndSelfIdentify(t *testing.T) {
	sink := &collectingSink{}
	d := NewDecoder(sink, zap.NewNop())

	sceneBody := make([]byte, 8)
	binary.LittleEndian.PutUint64(sceneBody, 42)
	d.HandleRecord("t", framing.Record{Kind: KindSceneChange, Body: sceneBody})

	selfBody := make([]byte, 8)
	binary.LittleEndian.PutUint64(selfBody, 99)
	d.HandleRecord("t", framing.Record{Kind: KindSelfIdentify, Body: selfBody})

	require.Len(t, sink.events, 2)
	require.Equal(t, SceneChange{SceneID: 42}, sink.events[0])
	require.Equal(t, SelfIdentify{Actor: 99}, sink.events[1])
}
