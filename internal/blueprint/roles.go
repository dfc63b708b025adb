package blueprint

import (
	"fmt"
	"sort"
)

// Role is the narrative function of a slot.
type Role string

const (
	RoleCover       Role = "cover"
	RoleHook        Role = "hook"
	RoleDevelopment Role = "development"
	RoleClimax      Role = "climax"
	RoleResolution  Role = "resolution"
	RoleStruggle    Role = "struggle"
	RoleTheory      Role = "theory"
	RolePractice    Role = "practice"
)

// RolePolicy maps a position ratio in [0, 1) to a role. Roles has one more
// entry than Edges; a ratio below Edges[k] falls in Roles[k].
type RolePolicy struct {
	Name  string
	Edges []float64
	Roles []Role
}

// StoryPolicy is used for narrative content.
var StoryPolicy = RolePolicy{
	Name:  "story",
	Edges: []float64{0.6, 0.85},
	Roles: []Role{RoleDevelopment, RoleClimax, RoleResolution},
}

// ExplainerPolicy is used for explanatory content.
var ExplainerPolicy = RolePolicy{
	Name:  "explainer",
	Edges: []float64{0.25, 0.55, 0.8},
	Roles: []Role{RoleStruggle, RoleTheory, RolePractice, RoleResolution},
}

// PolicyByName returns a built-in policy.
func PolicyByName(name string) (RolePolicy, error) {
	switch name {
	case "", StoryPolicy.Name:
		return StoryPolicy, nil
	case ExplainerPolicy.Name:
		return ExplainerPolicy, nil
	default:
		return RolePolicy{}, fmt.Errorf("unknown role policy %q", name)
	}
}

// Validate checks that bands are monotonic and cover [0, 1).
func (p RolePolicy) Validate() error {
	if len(p.Roles) != len(p.Edges)+1 {
		return fmt.Errorf("policy %q: %d roles for %d edges", p.Name, len(p.Roles), len(p.Edges))
	}
	for i, e := range p.Edges {
		if e <= 0 || e >= 1 {
			return fmt.Errorf("policy %q: edge %v outside (0, 1)", p.Name, e)
		}
		if i > 0 && e <= p.Edges[i-1] {
			return fmt.Errorf("policy %q: edges not increasing", p.Name)
		}
	}
	return nil
}

// band returns the band index for ratio.
func (p RolePolicy) band(ratio float64) int {
	return sort.Search(len(p.Edges), func(i int) bool { return ratio < p.Edges[i] })
}

// roleAt returns the role of content slot index out of total. The first
// content slot is always the hook.
func (p RolePolicy) roleAt(index, total int) Role {
	if index == 0 {
		return RoleHook
	}
	rest := total - 1
	ratio := float64(index-1) / float64(rest)
	return p.Roles[p.band(ratio)]
}
