package timeframe

import (
	"errors"
	"fmt"
	"sort"
)

// Role is the analytical purpose assigned to one timeframe of an upload batch
type Role string

const (
	RoleEntry     Role = "entry"
	RoleStructure Role = "structure"
	RoleTrend     Role = "trend"
	RoleBias      Role = "bias"
	RoleNone      Role = ""
)

// MaxTimeframes is the largest upload batch the resolver accepts
const MaxTimeframes = 10

// Completeness scoring
const (
	completenessBase      = 40
	completenessEntry     = 20
	completenessStructure = 25
	completenessTrend     = 10
	completenessBias      = 5
	completenessMax       = 100
)

var (
	ErrNoTimeframes       = errors.New("at least one timeframe is required")
	ErrTooManyTimeframes  = fmt.Errorf("at most %d timeframes are allowed", MaxTimeframes)
	ErrDuplicateTimeframe = errors.New("duplicate timeframe label")
)

var categoryRoles = map[Category]Role{
	CategoryUltraShort: RoleEntry,
	CategoryShortTerm:  RoleStructure,
	CategoryMediumTerm: RoleTrend,
	CategoryLongTerm:   RoleBias,
}

// Input is one uploaded timeframe
type Input struct {
	Label     string `json:"label"`
	IsPrimary bool   `json:"is_primary"`
}

// Entry is a classified timeframe and the role it was assigned
type Entry struct {
	Classification
	Role      Role `json:"role,omitempty"`
	IsPrimary bool `json:"is_primary"`
	Index     int  `json:"index"`
}

// Hierarchy is built fresh per analysis request
type Hierarchy struct {
	Entries      []Entry      `json:"entries"`
	Entry        *Entry       `json:"entry,omitempty"`
	Structure    *Entry       `json:"structure,omitempty"`
	Trend        *Entry       `json:"trend,omitempty"`
	Bias         *Entry       `json:"bias,omitempty"`
	Primary      string       `json:"primary"`
	Completeness int          `json:"completeness"`
	Style        TradingStyle `json:"style"`
}

// Resolve builds a hierarchy with the default classifier
func Resolve(items []Input) (*Hierarchy, error) {
	return defaultClassifier.Resolve(items)
}

// Resolve classifies every item, assigns roles and scores completeness
func (c *Classifier) Resolve(items []Input) (*Hierarchy, error) {
	if len(items) == 0 {
		return nil, ErrNoTimeframes
	}
	if len(items) > MaxTimeframes {
		return nil, ErrTooManyTimeframes
	}

	seen := make(map[string]bool, len(items))
	entries := make([]Entry, 0, len(items))
	for i, item := range items {
		if err := ValidateLabel(item.Label); err != nil {
			return nil, fmt.Errorf("%w: %q", err, item.Label)
		}
		cls := c.Classify(item.Label)
		if seen[cls.Normalized] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTimeframe, item.Label)
		}
		seen[cls.Normalized] = true
		entries = append(entries, Entry{
			Classification: cls,
			IsPrimary:      item.IsPrimary,
			Index:          i,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Weight < entries[j].Weight
	})

	filled := make(map[Role]bool, 4)
	for i := range entries {
		role, ok := categoryRoles[entries[i].Category]
		if !ok || filled[role] {
			continue
		}
		entries[i].Role = role
		filled[role] = true
	}

	// Only the first flagged item in input order stays primary; without
	// one, the lowest-weight item is primary.
	primary, firstFlagged := entries[0].Label, len(items)
	for _, e := range entries {
		if e.IsPrimary && e.Index < firstFlagged {
			primary, firstFlagged = e.Label, e.Index
		}
	}
	for i := range entries {
		entries[i].IsPrimary = entries[i].Label == primary
	}

	h := &Hierarchy{Entries: entries, Primary: primary, Style: c.style}
	h.relink()
	h.Completeness = h.score()
	return h, nil
}

// relink points the role fields at the current Entries slice
func (h *Hierarchy) relink() {
	h.Entry, h.Structure, h.Trend, h.Bias = nil, nil, nil, nil
	for i := range h.Entries {
		if h.Entries[i].Role != RoleNone {
			h.fill(h.Entries[i].Role, i)
		}
	}
}

func (h *Hierarchy) fill(role Role, i int) {
	switch role {
	case RoleEntry:
		h.Entry = &h.Entries[i]
	case RoleStructure:
		h.Structure = &h.Entries[i]
	case RoleTrend:
		h.Trend = &h.Entries[i]
	case RoleBias:
		h.Bias = &h.Entries[i]
	}
}

func (h *Hierarchy) slot(role Role) *Entry {
	switch role {
	case RoleEntry:
		return h.Entry
	case RoleStructure:
		return h.Structure
	case RoleTrend:
		return h.Trend
	case RoleBias:
		return h.Bias
	}
	return nil
}

func (h *Hierarchy) score() int {
	score := completenessBase
	if h.Entry != nil {
		score += completenessEntry
	}
	if h.Structure != nil {
		score += completenessStructure
	}
	if h.Trend != nil {
		score += completenessTrend
	}
	if h.Bias != nil {
		score += completenessBias
	}
	if score > completenessMax {
		score = completenessMax
	}
	return score
}

// Roles returns label -> role for every assigned timeframe
func (h *Hierarchy) Roles() map[string]Role {
	roles := make(map[string]Role, 4)
	for _, e := range h.Entries {
		if e.Role != RoleNone {
			roles[e.Label] = e.Role
		}
	}
	return roles
}

// Lookup finds an entry by its original label
func (h *Hierarchy) Lookup(label string) (*Entry, bool) {
	for i := range h.Entries {
		if h.Entries[i].Label == label {
			return &h.Entries[i], true
		}
	}
	return nil, false
}

// Missing lists roles that no uploaded timeframe fills
func (h *Hierarchy) Missing() []Role {
	var missing []Role
	for _, r := range []Role{RoleEntry, RoleStructure, RoleTrend, RoleBias} {
		if h.slot(r) == nil {
			missing = append(missing, r)
		}
	}
	return missing
}
