// Package reference implements the read-through cache over the three
// reference tables (professions, skills, monsters) and the background
// fetch worker that resolves unknown actor metadata. Tables is an
// immutable-after-load snapshot with Lookup* methods; Store holds the
// current snapshot and swaps it under an RWMutex.
package reference

import "sync"

// Profession is one entry of the professions table: id, localized names,
// and a role tag.
type Profession struct {
	ID       uint64 `json:"id"`
	NameEN   string `json:"nameEn"`
	NameCN   string `json:"nameCn"`
	RoleTag  string `json:"roleTag"`
}

// Skill is one entry of the skills table.
type Skill struct {
	ID     uint64 `json:"id"`
	NameEN string `json:"nameEn"`
	NameCN string `json:"nameCn"`
}

// Monster is one entry of the monsters table.
type Monster struct {
	ID     uint64 `json:"id"`
	NameEN string `json:"nameEn"`
	NameCN string `json:"nameCn"`
}

// Tables is an immutable-after-load snapshot of the three reference
// tables. The zero value is empty and safe to query.
type Tables struct {
	professions map[uint64]Profession
	skills      map[uint64]Skill
	monsters    map[uint64]Monster

	byLocalizedProfession map[string]Profession
	byLocalizedSkill      map[string]Skill
	byLocalizedMonster    map[string]Monster
}

// NewTables builds a Tables snapshot from loaded rows.
func NewTables(professions []Profession, skills []Skill, monsters []Monster) *Tables {
	t := &Tables{
		professions:            make(map[uint64]Profession, len(professions)),
		skills:                 make(map[uint64]Skill, len(skills)),
		monsters:               make(map[uint64]Monster, len(monsters)),
		byLocalizedProfession:  make(map[string]Profession, len(professions)*2),
		byLocalizedSkill:       make(map[string]Skill, len(skills)*2),
		byLocalizedMonster:     make(map[string]Monster, len(monsters)*2),
	}

	for _, p := range professions {
		t.professions[p.ID] = p
		t.byLocalizedProfession[p.NameEN] = p
		t.byLocalizedProfession[p.NameCN] = p
	}

	for _, s := range skills {
		t.skills[s.ID] = s
		t.byLocalizedSkill[s.NameEN] = s
		t.byLocalizedSkill[s.NameCN] = s
	}

	for _, m := range monsters {
		t.monsters[m.ID] = m
		t.byLocalizedMonster[m.NameEN] = m
		t.byLocalizedMonster[m.NameCN] = m
	}

	return t
}

// LookupProfessionByID implements lookup_by_id for professions.
func (t *Tables) LookupProfessionByID(id uint64) (Profession, bool) {
	p, ok := t.professions[id]

	return p, ok
}

// LookupProfessionByLocalizedName implements lookup_by_localized_name
// for professions, checking both locales.
func (t *Tables) LookupProfessionByLocalizedName(name string) (Profession, bool) {
	p, ok := t.byLocalizedProfession[name]

	return p, ok
}

// LookupSkillByID implements lookup_by_id for skills.
func (t *Tables) LookupSkillByID(id uint64) (Skill, bool) {
	s, ok := t.skills[id]

	return s, ok
}

// LookupSkillByLocalizedName implements lookup_by_localized_name for skills.
func (t *Tables) LookupSkillByLocalizedName(name string) (Skill, bool) {
	s, ok := t.byLocalizedSkill[name]

	return s, ok
}

// LookupMonsterByID implements lookup_by_id for monsters.
func (t *Tables) LookupMonsterByID(id uint64) (Monster, bool) {
	m, ok := t.monsters[id]

	return m, ok
}

// LookupMonsterByLocalizedName implements lookup_by_localized_name for
// monsters.
func (t *Tables) LookupMonsterByLocalizedName(name string) (Monster, bool) {
	m, ok := t.byLocalizedMonster[name]

	return m, ok
}

// Store holds the current Tables snapshot, swappable under a mutex so a
// background reload never blocks in-flight lookups for long.
type Store struct {
	mu   sync.RWMutex
	cur  *Tables
}

// NewStore wraps an initial Tables snapshot.
func NewStore(initial *Tables) *Store {
	if initial == nil {
		initial = NewTables(nil, nil, nil)
	}

	return &Store{cur: initial}
}

// Current returns the active Tables snapshot.
func (s *Store) Current() *Tables {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cur
}

// Swap installs a newly loaded Tables snapshot.
func (s *Store) Swap(next *Tables) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = next
}
