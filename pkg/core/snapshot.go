package core

import "time"

// Snapshot is an immutable, point-in-time view of a skill registry. Lookups
// never observe mutations made after the snapshot was taken, and two
// lookups against the same snapshot always agree.
type Snapshot interface {
	// Capability resolves a capability name across active skills.
	Capability(name string) (Capability, bool)

	// Capabilities lists all capabilities of active skills, sorted by name.
	Capabilities() []Capability

	// Skill returns the named skill in any live state.
	Skill(name string) (*Skill, bool)

	// Skills lists all live skills, sorted by name.
	Skills() []*Skill

	// Version is the registry mutation counter at capture time. It
	// increases by exactly one per successful mutation.
	Version() uint64

	// TakenAt is the capture timestamp.
	TakenAt() time.Time
}
