package combat

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akzios/bpsr-tools-sub002/internal/decode"
	"github.com/akzios/bpsr-tools-sub002/internal/metrics"
)

// Config carries the handful of process-wide settings that affect
// Dispatch behavior.
type Config struct {
	AutoClearOnTimeout bool
	IdleClear          time.Duration
	ClearOnSceneChange bool
}

// DefaultConfig returns the documented default settings.
func DefaultConfig() Config {
	return Config{
		AutoClearOnTimeout: true,
		IdleClear:          20 * time.Second,
	}
}

// Dispatcher owns the live combat model: the actor table and enemy
// cache, guarded by one RWMutex. The snapshot readers take the full Lock
// (recomputing rates evicts stale window entries) and return copies;
// plain lookups such as HasName and Generation use RLock. The packet
// worker takes a short Lock once per batch of events decoded from one
// reassembled chunk.
type Dispatcher struct {
	mu    sync.RWMutex
	log   *zap.Logger
	cfg   Config
	table SubclassTable
	now   func() time.Time

	actors     map[uint64]*Actor
	enemies    map[uint64]*EnemyInfo
	generation map[uint64]uint64

	localUID     uint64
	paused       bool
	sessionID    string
	sessionStart time.Time
	lastEventAt  time.Time
}

// NewDispatcher constructs a Dispatcher with an empty model.
func NewDispatcher(cfg Config, table SubclassTable, log *zap.Logger) *Dispatcher {
	if table == nil {
		table = DefaultSubclassTable
	}

	now := time.Now()

	return &Dispatcher{
		log:          log,
		cfg:          cfg,
		table:        table,
		now:          time.Now,
		actors:       make(map[uint64]*Actor),
		enemies:      make(map[uint64]*EnemyInfo),
		generation:   make(map[uint64]uint64),
		sessionID:    uuid.New().String(),
		sessionStart: now,
		lastEventAt:  now,
	}
}

// SessionID identifies the current combat-model session. A fresh id is
// generated on every Clear, so ids from before and after a reset never
// collide.
func (d *Dispatcher) SessionID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.sessionID
}

// SetClock overrides the time source, for deterministic tests of the
// sliding-window and idle-clear behaviors.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

func (d *Dispatcher) actor(uid uint64) *Actor {
	a, ok := d.actors[uid]
	if !ok {
		a = newActor(uid)
		d.actors[uid] = a
	}

	return a
}

func (d *Dispatcher) enemy(entityID uint64) *EnemyInfo {
	e, ok := d.enemies[entityID]
	if !ok {
		e = &EnemyInfo{EntityID: entityID}
		d.enemies[entityID] = e
	}

	return e
}

// Apply applies a batch of events under one lock acquisition. The
// telemetry engine passes everything decoded from one reassembled chunk
// (one Push), which may span several records.
func (d *Dispatcher) Apply(events []decode.Event) {
	if len(events) == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	at := d.now()

	if d.cfg.AutoClearOnTimeout && d.cfg.IdleClear > 0 && !d.lastEventAt.IsZero() &&
		at.Sub(d.lastEventAt) > d.cfg.IdleClear {
		d.clearLocked(at)
	}

	d.lastEventAt = at

	for _, ev := range events {
		d.applyOne(at, ev)
	}
}

func (d *Dispatcher) applyOne(at time.Time, ev decode.Event) {
	if d.paused {
		switch ev.(type) {
		case decode.Damage, decode.Healing, decode.TakeDamage:
			// worker keeps reassembling but Pause discards decoded
			// stat-affecting events.
			return
		}
	}

	switch e := ev.(type) {
	case decode.Damage:
		d.bumpGeneration(e.Actor)
		d.applyDamage(at, e)
	case decode.Healing:
		d.bumpGeneration(e.Actor)
		d.applyHealing(at, e)
	case decode.TakeDamage:
		d.bumpGeneration(e.Actor)
		d.applyTakeDamage(e)
	case decode.Death:
		d.bumpGeneration(e.Actor)
		d.actor(e.Actor).Deaths++
	case decode.AttrUpdate:
		d.bumpGeneration(e.Actor)
		d.applyAttrUpdate(e)
	case decode.EntitySpawn:
		d.enemy(e.EntityID).applySpawn(e.Name)
	case decode.EntityInfo:
		d.enemy(e.EntityID).applyInfo(e.Name, e.HP, e.MaxHP)
	case decode.SceneChange:
		if d.cfg.ClearOnSceneChange {
			d.clearLocked(at)
		}
	case decode.SelfIdentify:
		d.bumpGeneration(e.Actor)
		d.localUID = e.Actor
		d.actor(e.Actor).IsLocal = true
	case decode.Other:
		metrics.IncAdvisory("unhandled_event_kind")
	}
}

func (d *Dispatcher) applyDamage(at time.Time, e decode.Damage) {
	a := d.actor(e.Actor)
	lucky := e.IsLucky || e.CauseLucky

	a.Damage.record(at, e.Value, e.HPLessen, e.IsCrit, lucky)
	a.skillRecord(e.Skill, false).Block.record(at, e.Value, e.HPLessen, e.IsCrit, lucky)

	if sub, ok := d.table[e.Skill]; ok {
		a.SubProfession = sub
	}
}

func (d *Dispatcher) applyHealing(at time.Time, e decode.Healing) {
	// skill id 0 = anonymous environment healing, dropped.
	if e.Skill == 0 {
		return
	}

	a := d.actor(e.Actor)
	lucky := e.IsLucky || e.CauseLucky

	a.Healing.record(at, e.Value, 0, e.IsCrit, lucky)
	a.skillRecord(e.Skill, true).Block.record(at, e.Value, 0, e.IsCrit, lucky)
}

func (d *Dispatcher) applyTakeDamage(e decode.TakeDamage) {
	a := d.actor(e.Actor)
	a.HP -= e.Value
	a.Taken.record(e.Value)

	if e.Lethal {
		a.Deaths++
	}
}

func (d *Dispatcher) applyAttrUpdate(e decode.AttrUpdate) {
	a := d.actor(e.Actor)

	switch e.Key {
	case AttrMaxHP:
		if e.Value == 0 {
			return
		}

		a.MaxHP = e.Value
	case AttrCurrentHP:
		a.HP = e.Value
	case AttrPowerScore:
		a.setPowerScore(e.Value)
	}
}

// clearLocked wipes actors, enemies, and the session clock, retaining
// only the subclass table reference: clearing combat data wipes
// actors/stats but not reference tables.
func (d *Dispatcher) clearLocked(at time.Time) {
	d.actors = make(map[uint64]*Actor)
	d.enemies = make(map[uint64]*EnemyInfo)
	d.generation = make(map[uint64]uint64)
	d.localUID = 0
	d.sessionID = uuid.New().String()
	d.sessionStart = at
	d.lastEventAt = at
}

// Control operations.

// Clear wipes the combat model immediately.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clearLocked(d.now())
}

// Pause halts stat-affecting dispatch; reassembly/decode continue
// running upstream.
func (d *Dispatcher) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = true
}

// Resume re-enables stat-affecting dispatch.
func (d *Dispatcher) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = false
}

// SetName is an explicit override bypassing the at-most-once rule.
func (d *Dispatcher) SetName(uid uint64, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actor(uid).Name = name
}

// HasName reports whether uid already has a learned display name,
// letting callers skip a redundant reference fetch.
func (d *Dispatcher) HasName(uid uint64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	a, ok := d.actors[uid]

	return ok && a.Name != ""
}

// bumpGeneration marks uid as having received a local update, invalidating
// any reference fetch that started before this point. Caller holds d.mu.
func (d *Dispatcher) bumpGeneration(uid uint64) {
	d.generation[uid]++
}

// Generation returns uid's current generation counter, to be captured by
// a caller before starting a background reference fetch for that uid.
func (d *Dispatcher) Generation(uid uint64) uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.generation[uid]
}

// ApplyReferenceFields applies a background reference fetch's result
// through the normal Dispatch path. It is rejected if any local event
// touched uid since expectedGen was captured, so a slow stale fetch can
// never clobber live data.
func (d *Dispatcher) ApplyReferenceFields(uid uint64, expectedGen uint64, name, profession string, powerScore int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.generation[uid] != expectedGen {
		return false
	}

	a := d.actor(uid)
	a.setName(name)

	if profession != "" {
		a.Profession = profession
	}

	a.setPowerScore(powerScore)

	d.generation[uid]++

	return true
}
