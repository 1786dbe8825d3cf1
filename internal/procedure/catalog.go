// Package procedure declares vialflow's named procedures as ordered lists
// of stages and keeps them in a catalog the CLI and campaign queue resolve
// through.
package procedure

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kingrea/vialflow/internal/faults"
	"github.com/kingrea/vialflow/internal/registry"
)

// ErrUnknownProcedure is returned for names the catalog does not hold.
var ErrUnknownProcedure = errors.New("procedure: unknown procedure")

// Info describes a procedure.
type Info struct {
	Name        string
	Description string
	// NeedsSample procedures take a sample id as their first argument.
	NeedsSample bool
	// Args lists the positional Params names after the sample id.
	Args []string
	// Advances is the lifecycle stage a successful run reaches, if any.
	Advances registry.Lifecycle
}

// Validate ensures the info is usable.
func (i Info) Validate() error {
	if i.Name == "" {
		return fmt.Errorf("procedure: name is required")
	}
	for _, arg := range i.Args {
		if !knownArgs[arg] {
			return fmt.Errorf("procedure %s: unknown argument %s", i.Name, arg)
		}
	}
	return nil
}

// Request is everything a builder needs.
type Request struct {
	Sample       *registry.Sample
	Params       Params
	RackCapacity int
}

// Builder produces the stage list for one run. Missing or invalid inputs are
// configuration errors and surface before any stage runs.
type Builder func(req Request) ([]Stage, error)

// Procedure pairs a description with its builder.
type Procedure struct {
	Info  Info
	Build Builder
}

// Plan is a built procedure ready for the sequencer.
type Plan struct {
	Info   Info
	Sample *registry.Sample
	Stages []Stage
}

// Catalog maps procedure names to builders.
type Catalog struct {
	mu    sync.RWMutex
	procs map[string]Procedure
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{procs: map[string]Procedure{}}
}

// Register installs a procedure. Returns an error if the name already exists.
func (c *Catalog) Register(p Procedure) error {
	if err := p.Info.Validate(); err != nil {
		return err
	}
	if p.Build == nil {
		return fmt.Errorf("procedure: builder is required for %s", p.Info.Name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.procs[p.Info.Name]; exists {
		return fmt.Errorf("procedure: %s already registered", p.Info.Name)
	}
	c.procs[p.Info.Name] = p
	return nil
}

// MustRegister panics if registration fails.
func (c *Catalog) MustRegister(p Procedure) {
	if err := c.Register(p); err != nil {
		panic(err)
	}
}

// Lookup returns the procedure called name.
func (c *Catalog) Lookup(name string) (Procedure, error) {
	c.mu.RLock()
	p, ok := c.procs[name]
	c.mu.RUnlock()
	if !ok {
		return Procedure{}, fmt.Errorf("%w: %s", ErrUnknownProcedure, name)
	}
	return p, nil
}

// Names returns a sorted list of registered procedure names.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.procs))
	for name := range c.procs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Infos returns every procedure's info sorted by name.
func (c *Catalog) Infos() []Info {
	names := c.Names()
	out := make([]Info, 0, len(names))
	for _, name := range names {
		p, _ := c.Lookup(name)
		out = append(out, p.Info)
	}
	return out
}

// Build resolves name and builds its plan.
func (c *Catalog) Build(name string, req Request) (Plan, error) {
	p, err := c.Lookup(name)
	if err != nil {
		return Plan{}, err
	}
	if p.Info.NeedsSample && req.Sample == nil {
		return Plan{}, faults.Configuration(name, "a sample is required")
	}
	if req.RackCapacity < 1 {
		return Plan{}, faults.Configuration(name, "rack capacity must be >= 1")
	}
	stages, err := p.Build(req)
	if err != nil {
		return Plan{}, err
	}
	plan := Plan{Info: p.Info, Stages: stages}
	if req.Sample != nil && p.Info.NeedsSample {
		sample := *req.Sample
		plan.Sample = &sample
	}
	return plan, nil
}
