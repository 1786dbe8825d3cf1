package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/vialflow/internal/faults"
)

const sampleYAML = `
samples:
  - id: "3"
    vial: 3
    solid: CC3
    mass_mg: 50
    liquid: water
    volume_ml: 1.5
    wash:
      solvent: ethanol
      cycles: 2
      volume_ml: 2
    filtration:
      cleaning_vial: 20
      cleaning_solvent: ethanol
      antisolvent: hexane
      antisolvent_ml: 0.5
      filter_time: 90s
  - id: "4"
    vial: 4
    solid: silica
    liquid: "rhodamine b"
`

func TestParseLoadsRecipes(t *testing.T) {
	reg, err := Parse([]byte(sampleYAML), 24)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, []string{"3", "4"}, reg.IDs())

	s, err := reg.Lookup("3")
	require.NoError(t, err)
	assert.Equal(t, 3, s.Vial)
	assert.Equal(t, 50.0, s.MassMg)
	assert.Equal(t, 1.5, s.VolumeML)
	assert.Equal(t, 2, s.Wash.Cycles)
	assert.Equal(t, 90*time.Second, s.Filtration.FilterTime)
	assert.Equal(t, "hexane", s.Filtration.Antisolvent)

	dye, err := reg.Lookup("4")
	require.NoError(t, err)
	assert.Equal(t, "rhodamine b", dye.Liquid)
}

func TestLookupReturnsCopies(t *testing.T) {
	reg, err := Parse([]byte(sampleYAML), 24)
	require.NoError(t, err)
	s, err := reg.Lookup("3")
	require.NoError(t, err)
	s.MassMg = 999
	again, err := reg.Lookup("3")
	require.NoError(t, err)
	assert.Equal(t, 50.0, again.MassMg)
}

func TestLookupUnknownIsConfigurationError(t *testing.T) {
	reg, err := Parse([]byte(sampleYAML), 24)
	require.NoError(t, err)
	_, err = reg.Lookup("99")
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrConfiguration)

	var missing *Registry
	_, err = missing.Lookup("3")
	assert.ErrorIs(t, err, faults.ErrConfiguration)
}

func TestValidationRejectsBadRegistries(t *testing.T) {
	cases := map[string]string{
		"duplicate id":     "samples:\n  - {id: a, vial: 1}\n  - {id: a, vial: 2}\n",
		"shared vial":      "samples:\n  - {id: a, vial: 1}\n  - {id: b, vial: 1}\n",
		"vial too high":    "samples:\n  - {id: a, vial: 25}\n",
		"vial zero":        "samples:\n  - {id: a, vial: 0}\n",
		"missing id":       "samples:\n  - {vial: 2}\n",
		"negative cycles":  "samples:\n  - {id: a, vial: 2, wash: {cycles: -1}}\n",
		"filtrate too far": "samples:\n  - {id: a, vial: 2, filtration: {filtrate_vial: 30}}\n",
		"empty":            "  \n",
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(payload), 24)
			require.Error(t, err)
			assert.ErrorIs(t, err, faults.ErrConfiguration)
		})
	}
}

func TestVialSharedBetweenSamplesRejected(t *testing.T) {
	// The station has a single rack, so a rack label does not separate vials.
	payload := "samples:\n  - {id: a, vial: 3, rack: main}\n  - {id: b, vial: 3, rack: aux}\n"
	_, err := Parse([]byte(payload), 24)
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrConfiguration)
	assert.Contains(t, err.Error(), "samples a and b share vial 3")
}

func TestSamplesSortedByVial(t *testing.T) {
	payload := "samples:\n  - {id: late, vial: 9}\n  - {id: early, vial: 2}\n"
	reg, err := Parse([]byte(payload), 24)
	require.NoError(t, err)
	samples := reg.Samples()
	require.Len(t, samples, 2)
	assert.Equal(t, "early", samples[0].ID)
	assert.Equal(t, []string{"late", "early"}, reg.IDs())
}

func TestLoadAcceptsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.json")
	payload := `{"samples": [{"id": "7", "vial": 7, "solid": "CC3", "mass_mg": 25.5}]}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))
	reg, err := Load(path, 12)
	require.NoError(t, err)
	s, err := reg.Lookup("7")
	require.NoError(t, err)
	assert.Equal(t, 25.5, s.MassMg)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), 12)
	assert.ErrorIs(t, err, faults.ErrConfiguration)
}

func TestLifecycleAdvanceNeverRegresses(t *testing.T) {
	assert.Equal(t, LifecycleHeated, LifecyclePrepared.Advance(LifecycleHeated))
	assert.Equal(t, LifecycleWashed, LifecycleWashed.Advance(LifecyclePrepared))
	assert.Equal(t, LifecyclePrepared, Lifecycle("").Advance(LifecyclePrepared))
}
