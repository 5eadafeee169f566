package core

import "time"

// SkillState describes the lifecycle state of a registered skill.
type SkillState string

const (
	// SkillStateRegistered means the skill is known but not yet eligible for
	// planning because at least one declared dependency is not active.
	SkillStateRegistered SkillState = "registered"

	// SkillStateActive means the skill and its whole dependency closure are
	// available; its capabilities appear in snapshots.
	SkillStateActive SkillState = "active"

	// SkillStateDisabled means the skill was unregistered or disabled by a
	// forced cascade; it is excluded from new snapshots.
	SkillStateDisabled SkillState = "disabled"

	// SkillStateFailed means the last reload for this name was rejected; the
	// previously published version, if any, remains in force.
	SkillStateFailed SkillState = "failed"
)

// Skill is a versioned unit of functionality described by a manifest.
// Instances published through registry snapshots are immutable; a reload
// produces a fresh instance rather than mutating the old one.
type Skill struct {
	Name         string
	Version      string
	Description  string
	Body         string
	Capabilities []Capability
	Dependencies []string
	Metadata     map[string]string
	State        SkillState
	Source       string
	RegisteredAt time.Time
}

// Capability returns the named capability contributed by this skill.
func (s *Skill) Capability(name string) (Capability, bool) {
	for _, c := range s.Capabilities {
		if c.Name == name {
			return c, true
		}
	}
	return Capability{}, false
}

// Clone returns a deep copy of the descriptor. Handlers and compiled
// schemas are shared since they are immutable after parse.
func (s *Skill) Clone() *Skill {
	cp := *s
	cp.Capabilities = make([]Capability, len(s.Capabilities))
	copy(cp.Capabilities, s.Capabilities)
	cp.Dependencies = make([]string, len(s.Dependencies))
	copy(cp.Dependencies, s.Dependencies)
	if s.Metadata != nil {
		cp.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
