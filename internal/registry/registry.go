// Package registry loads the sample registry: the recipe for every vial in
// a campaign. A Registry is read-only once loaded; lookups hand out copies.
package registry

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/vialflow/internal/faults"
)

// File is the on-disk registry layout. JSON is accepted as well.
type File struct {
	Samples []Sample `json:"samples" yaml:"samples"`
}

// Registry maps sample ids to recipes.
type Registry struct {
	capacity int
	samples  map[string]Sample
	order    []string
}

// New validates samples as a whole and builds a registry.
func New(samples []Sample, capacity int) (*Registry, error) {
	if capacity < 1 {
		return nil, faults.Configuration("registry", "rack capacity must be >= 1")
	}
	reg := &Registry{capacity: capacity, samples: make(map[string]Sample, len(samples))}
	slots := map[int]string{}
	for idx, raw := range samples {
		sample := raw.normalized()
		if err := sample.Validate(capacity); err != nil {
			return nil, faults.Configuration("registry", "samples[%d]: %v", idx, err)
		}
		if _, exists := reg.samples[sample.ID]; exists {
			return nil, faults.Configuration("registry", "duplicate sample id %s", sample.ID)
		}
		if other, taken := slots[sample.Vial]; taken {
			return nil, faults.Configuration("registry", "samples %s and %s share vial %d", other, sample.ID, sample.Vial)
		}
		slots[sample.Vial] = sample.ID
		reg.samples[sample.ID] = sample
		reg.order = append(reg.order, sample.ID)
	}
	return reg, nil
}

// Parse decodes a YAML or JSON registry payload.
func Parse(data []byte, capacity int) (*Registry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, faults.Configuration("registry", "registry payload is empty")
	}
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, faults.Configuration("registry", "decode: %v", err)
	}
	return New(file.Samples, capacity)
}

// Load reads the registry at path.
func Load(path string, capacity int) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, faults.Configuration("registry", "read %s: %v", path, err)
	}
	reg, err := Parse(data, capacity)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// Lookup returns a copy of the sample with the given id.
func (r *Registry) Lookup(id string) (Sample, error) {
	if r == nil {
		return Sample{}, faults.Configuration("registry", "no sample registry loaded (looking up %s)", id)
	}
	sample, ok := r.samples[id]
	if !ok {
		return Sample{}, faults.Configuration("registry", "unknown sample %s", id)
	}
	return sample, nil
}

// IDs returns sample ids in file order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Samples returns copies of every sample sorted by vial.
func (r *Registry) Samples() []Sample {
	out := make([]Sample, 0, len(r.samples))
	for _, id := range r.order {
		out = append(out, r.samples[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Vial < out[j].Vial })
	return out
}

// Len returns the number of samples.
func (r *Registry) Len() int {
	return len(r.samples)
}

// Capacity returns the rack capacity the registry was validated against.
func (r *Registry) Capacity() int {
	return r.capacity
}
