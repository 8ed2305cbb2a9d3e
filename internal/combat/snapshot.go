package combat

import "time"

// ActorSummary is one entry of snapshot_all()'s per-actor map.
type ActorSummary struct {
	UID           uint64 `json:"uid"`
	Name          string `json:"name"`
	Profession    string `json:"profession"`
	SubProfession string `json:"subProfession"`
	PowerScore    int64  `json:"powerScore"`
	HP            int64  `json:"hp"`
	MaxHP         int64  `json:"maxHp"`
	Deaths        int    `json:"deaths"`
	IsLocal       bool   `json:"isLocal"`

	Damage   ChannelSummary `json:"damage"`
	Healing  ChannelSummary `json:"healing"`
	HPLessen int64          `json:"hpLessen"`
	Taken    TakenStat      `json:"taken"`
}

// ChannelSummary is a StatisticBlock's read-side projection: bins,
// counts, and recomputed rates.
type ChannelSummary struct {
	Normal    int64 `json:"normal"`
	Critical  int64 `json:"critical"`
	Lucky     int64 `json:"lucky"`
	CritLucky int64 `json:"critLucky"`
	Total     int64 `json:"total"`

	CountNormal    int `json:"countNormal"`
	CountCritical  int `json:"countCritical"`
	CountLucky     int `json:"countLucky"`
	CountCritLucky int `json:"countCritLucky"`
	Count          int `json:"count"`

	Rates Rates `json:"rates"`
}

func channelSummary(b *StatisticBlock, now time.Time) ChannelSummary {
	return ChannelSummary{
		Normal:         b.Normal,
		Critical:       b.Critical,
		Lucky:          b.Lucky,
		CritLucky:      b.CritLucky,
		Total:          b.Total,
		CountNormal:    b.CountNormal,
		CountCritical:  b.CountCritical,
		CountLucky:     b.CountLucky,
		CountCritLucky: b.CountCritLucky,
		Count:          b.Count,
		Rates:          b.rates(now),
	}
}

// Snapshot returns snapshot_all(): a per-actor summary map. Actors with
// an empty display name are omitted (tie-break rule) but remain tracked
// internally.
func (d *Dispatcher) Snapshot() map[uint64]ActorSummary {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	out := make(map[uint64]ActorSummary, len(d.actors))

	for uid, a := range d.actors {
		if a.Name == "" {
			continue
		}

		out[uid] = ActorSummary{
			UID:           a.UID,
			Name:          a.Name,
			Profession:    a.Profession,
			SubProfession: a.SubProfession,
			PowerScore:    a.PowerScore,
			HP:            a.HP,
			MaxHP:         a.MaxHP,
			Deaths:        a.Deaths,
			IsLocal:       a.IsLocal,
			Damage:        channelSummary(&a.Damage, now),
			Healing:       channelSummary(&a.Healing, now),
			HPLessen:      a.Damage.HPLessenTotal,
			Taken:         a.Taken,
		}
	}

	return out
}

// SkillSummary is one SkillRecord's read-side projection.
type SkillSummary struct {
	SkillID uint64         `json:"skillId"`
	Block   ChannelSummary `json:"block"`
}

// SnapshotSkills returns snapshot_skills(uid): the per-skill breakdown
// for one actor.
func (d *Dispatcher) SnapshotSkills(uid uint64) []SkillSummary {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.actors[uid]
	if !ok {
		return nil
	}

	now := d.now()
	out := make([]SkillSummary, 0, len(a.Skills))

	for _, rec := range a.Skills {
		out = append(out, SkillSummary{
			SkillID: rec.SkillID,
			Block:   channelSummary(&rec.Block, now),
		})
	}

	return out
}

// SnapshotEnemies returns snapshot_enemies(): the enemy cache dump.
func (d *Dispatcher) SnapshotEnemies() map[uint64]EnemyInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[uint64]EnemyInfo, len(d.enemies))
	for id, e := range d.enemies {
		out[id] = *e
	}

	return out
}
