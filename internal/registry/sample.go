package registry

import (
	"fmt"
	"strings"
	"time"
)

// Lifecycle is how far through the pipeline a sample has progressed.
type Lifecycle string

const (
	LifecycleRegistered   Lifecycle = "registered"
	LifecyclePrepared     Lifecycle = "prepared"
	LifecycleHeated       Lifecycle = "heated"
	LifecycleFiltered     Lifecycle = "filtered"
	LifecycleWashed       Lifecycle = "washed"
	LifecyclePhotographed Lifecycle = "photographed"
)

var lifecycleOrder = []Lifecycle{
	LifecycleRegistered,
	LifecyclePrepared,
	LifecycleHeated,
	LifecycleFiltered,
	LifecycleWashed,
	LifecyclePhotographed,
}

// rank returns the position of l in the pipeline, or -1 if unknown.
func (l Lifecycle) rank() int {
	for i, stage := range lifecycleOrder {
		if stage == l {
			return i
		}
	}
	return -1
}

// Advance returns whichever of l and next is further along.
func (l Lifecycle) Advance(next Lifecycle) Lifecycle {
	if next.rank() > l.rank() {
		return next
	}
	return l
}

// Wash describes post-filtration wash cycles.
type Wash struct {
	Solvent  string  `json:"solvent,omitempty" yaml:"solvent,omitempty"`
	Cycles   int     `json:"cycles,omitempty" yaml:"cycles,omitempty"`
	VolumeML float64 `json:"volume_ml,omitempty" yaml:"volume_ml,omitempty"`
}

// Filtration describes how the sample is filtered.
type Filtration struct {
	CleaningVial    int           `json:"cleaning_vial,omitempty" yaml:"cleaning_vial,omitempty"`
	CleaningSolvent string        `json:"cleaning_solvent,omitempty" yaml:"cleaning_solvent,omitempty"`
	Antisolvent     string        `json:"antisolvent,omitempty" yaml:"antisolvent,omitempty"`
	AntisolventML   float64       `json:"antisolvent_ml,omitempty" yaml:"antisolvent_ml,omitempty"`
	FiltrateVial    int           `json:"filtrate_vial,omitempty" yaml:"filtrate_vial,omitempty"`
	Collect         bool          `json:"collect,omitempty" yaml:"collect,omitempty"`
	FilterTime      time.Duration `json:"filter_time,omitempty" yaml:"filter_time,omitempty"`
}

// Sample is one vial's recipe. Masses are milligrams, volumes milliliters.
type Sample struct {
	ID         string     `json:"id" yaml:"id"`
	Vial       int        `json:"vial" yaml:"vial"`
	Solid      string     `json:"solid,omitempty" yaml:"solid,omitempty"`
	MassMg     float64    `json:"mass_mg,omitempty" yaml:"mass_mg,omitempty"`
	Liquid     string     `json:"liquid,omitempty" yaml:"liquid,omitempty"`
	VolumeML   float64    `json:"volume_ml,omitempty" yaml:"volume_ml,omitempty"`
	Wash       Wash       `json:"wash,omitempty" yaml:"wash,omitempty"`
	Filtration Filtration `json:"filtration,omitempty" yaml:"filtration,omitempty"`
}

func (s Sample) normalized() Sample {
	s.ID = strings.TrimSpace(s.ID)
	s.Solid = strings.TrimSpace(s.Solid)
	s.Liquid = strings.TrimSpace(s.Liquid)
	s.Wash.Solvent = strings.TrimSpace(s.Wash.Solvent)
	s.Filtration.CleaningSolvent = strings.TrimSpace(s.Filtration.CleaningSolvent)
	s.Filtration.Antisolvent = strings.TrimSpace(s.Filtration.Antisolvent)
	return s
}

// Validate checks the fields every sample needs. Procedure-specific fields
// are checked when a procedure is built for the sample.
func (s Sample) Validate(capacity int) error {
	if s.ID == "" {
		return fmt.Errorf("sample id is required")
	}
	if s.Vial < 1 || s.Vial > capacity {
		return fmt.Errorf("sample %s: vial %d outside rack [1, %d]", s.ID, s.Vial, capacity)
	}
	if s.MassMg < 0 {
		return fmt.Errorf("sample %s: mass_mg must be >= 0", s.ID)
	}
	if s.VolumeML < 0 {
		return fmt.Errorf("sample %s: volume_ml must be >= 0", s.ID)
	}
	if s.Wash.Cycles < 0 {
		return fmt.Errorf("sample %s: wash.cycles must be >= 0", s.ID)
	}
	if s.Wash.VolumeML < 0 || s.Filtration.AntisolventML < 0 {
		return fmt.Errorf("sample %s: volumes must be >= 0", s.ID)
	}
	for _, vial := range []int{s.Filtration.CleaningVial, s.Filtration.FiltrateVial} {
		if vial != 0 && (vial < 1 || vial > capacity) {
			return fmt.Errorf("sample %s: vial %d outside rack [1, %d]", s.ID, vial, capacity)
		}
	}
	if s.Filtration.FilterTime < 0 {
		return fmt.Errorf("sample %s: filter_time must be >= 0", s.ID)
	}
	return nil
}
