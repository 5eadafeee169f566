package registry

import (
	"sort"
	"time"

	"github.com/tekhne-dev/tekhne/pkg/core"
)

// Snapshot is an immutable view of the registry. It shares skill pointers
// with the registry table; the registry never writes through a published
// pointer, so a snapshot stays internally consistent for its whole
// lifetime. Capabilities resolve against active skills only.
type Snapshot struct {
	version uint64
	takenAt time.Time

	skills map[string]*core.Skill
	caps   map[string]core.Capability

	skillList []*core.Skill
	capList   []core.Capability
}

func newSnapshot(version uint64, table map[string]*core.Skill) *Snapshot {
	snap := &Snapshot{
		version: version,
		takenAt: time.Now().UTC(),
		skills:  make(map[string]*core.Skill, len(table)),
		caps:    make(map[string]core.Capability),
	}
	for name, skill := range table {
		snap.skills[name] = skill
		snap.skillList = append(snap.skillList, skill)
		if skill.State != core.SkillStateActive {
			continue
		}
		for _, cap := range skill.Capabilities {
			snap.caps[cap.Name] = cap
			snap.capList = append(snap.capList, cap)
		}
	}
	sort.Slice(snap.skillList, func(i, j int) bool {
		return snap.skillList[i].Name < snap.skillList[j].Name
	})
	sort.Slice(snap.capList, func(i, j int) bool {
		return snap.capList[i].Name < snap.capList[j].Name
	})
	return snap
}

// Capability implements core.Snapshot.
func (s *Snapshot) Capability(name string) (core.Capability, bool) {
	cap, ok := s.caps[name]
	return cap, ok
}

// Capabilities implements core.Snapshot.
func (s *Snapshot) Capabilities() []core.Capability {
	out := make([]core.Capability, len(s.capList))
	copy(out, s.capList)
	return out
}

// Skill implements core.Snapshot.
func (s *Snapshot) Skill(name string) (*core.Skill, bool) {
	skill, ok := s.skills[name]
	return skill, ok
}

// Skills implements core.Snapshot.
func (s *Snapshot) Skills() []*core.Skill {
	out := make([]*core.Skill, len(s.skillList))
	copy(out, s.skillList)
	return out
}

// Version implements core.Snapshot.
func (s *Snapshot) Version() uint64 { return s.version }

// TakenAt implements core.Snapshot.
func (s *Snapshot) TakenAt() time.Time { return s.takenAt }

var _ core.Snapshot = (*Snapshot)(nil)
