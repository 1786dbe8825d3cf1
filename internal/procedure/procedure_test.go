package procedure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/vialflow/internal/faults"
	"github.com/kingrea/vialflow/internal/registry"
	"github.com/kingrea/vialflow/internal/station"
)

func sample3() *registry.Sample {
	return &registry.Sample{
		ID:       "3",
		Vial:     3,
		Solid:    "CC3",
		MassMg:   50,
		Liquid:   "water",
		VolumeML: 1.5,
		Wash:     registry.Wash{Solvent: "ethanol", Cycles: 2, VolumeML: 0.5},
	}
}

func names(stages []Stage) []string {
	out := make([]string, 0, len(stages))
	for _, s := range stages {
		out = append(out, s.Name())
	}
	return out
}

func TestMicroliters(t *testing.T) {
	assert.Equal(t, 1500, Microliters(1.5))
	assert.Equal(t, 333, Microliters(0.3333))
	assert.Equal(t, 0, Microliters(0))
}

func TestPrepareSampleConvertsVolume(t *testing.T) {
	plan, err := Builtin().Build(PrepareSample, Request{Sample: sample3(), RackCapacity: 24})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"move", "dose", "record", "move", "prime", "position_for_infuse",
		"dispense", "return_to_hold", "move", "cap", "move",
	}, names(plan.Stages))

	dispense, ok := plan.Stages[6].(DispenseStage)
	require.True(t, ok)
	assert.Equal(t, 1500, dispense.VolumeUL)
	assert.Equal(t, "water", dispense.Chemical)

	dose := plan.Stages[1].(DoseStage)
	assert.Equal(t, 50.0, dose.TargetMg)
	require.NotNil(t, plan.Sample)
	assert.Equal(t, "3", plan.Sample.ID)
	assert.Equal(t, registry.LifecyclePrepared, plan.Info.Advances)
}

func TestPrepareSampleMissingFieldsAreConfigurationErrors(t *testing.T) {
	cases := map[string]func(*registry.Sample){
		"no solid":  func(s *registry.Sample) { s.Solid = "" },
		"no liquid": func(s *registry.Sample) { s.Liquid = "" },
		"no mass":   func(s *registry.Sample) { s.MassMg = 0 },
		"no volume": func(s *registry.Sample) { s.VolumeML = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := sample3()
			mutate(s)
			_, err := Builtin().Build(PrepareSample, Request{Sample: s, RackCapacity: 24})
			require.Error(t, err)
			assert.ErrorIs(t, err, faults.ErrConfiguration)
		})
	}
}

func TestSampleRequired(t *testing.T) {
	_, err := Builtin().Build(PrepareSample, Request{RackCapacity: 24})
	assert.ErrorIs(t, err, faults.ErrConfiguration)
}

func TestUnknownProcedure(t *testing.T) {
	_, err := Builtin().Build("make_coffee", Request{RackCapacity: 24})
	assert.ErrorIs(t, err, ErrUnknownProcedure)
}

func TestFilterStageOrder(t *testing.T) {
	req := Request{Sample: sample3(), RackCapacity: 24, Params: Params{CleaningVial: 20, CleaningSolvent: "acetone"}}
	plan, err := Builtin().Build(Filter, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"filter_prep", "move", "decap", "move", "filter_discard", "move"}, names(plan.Stages))

	req.Params.Antisolvent = "hexane"
	req.Params.AntisolventML = 0.5
	req.Params.FiltrateVial = 7
	plan, err = Builtin().Build(Filter, req)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"filter_prep", "move", "decap", "move",
		"prime", "position_for_infuse", "dispense", "return_to_hold",
		"filter_collect", "move",
	}, names(plan.Stages))
	f := plan.Stages[8].(FilterStage)
	assert.Equal(t, 2000, f.VolumeUL)
	assert.Equal(t, 7, f.FiltrateVial)
}

func TestFilterRejectsOutOfRangeCleaningVial(t *testing.T) {
	req := Request{Sample: sample3(), RackCapacity: 24, Params: Params{CleaningVial: 25, CleaningSolvent: "acetone"}}
	_, err := Builtin().Build(Filter, req)
	assert.ErrorIs(t, err, faults.ErrConfiguration)

	req.Params.CleaningVial = 0
	_, err = Builtin().Build(Filter, req)
	assert.ErrorIs(t, err, faults.ErrConfiguration)
}

func TestFilterFallsBackToRecipe(t *testing.T) {
	s := sample3()
	s.Filtration = registry.Filtration{CleaningVial: 21, CleaningSolvent: "acetone", FilterTime: 30 * time.Second}
	plan, err := Builtin().Build(Filter, Request{Sample: s, RackCapacity: 24})
	require.NoError(t, err)
	prep := plan.Stages[0].(FilterPrepStage)
	assert.Equal(t, 21, prep.CleaningVial)
	assert.Equal(t, "acetone", prep.Solvent)
	assert.Equal(t, 1500, prep.VolumeUL)
}

func TestWashCycles(t *testing.T) {
	cycles := 3
	req := Request{Sample: sample3(), RackCapacity: 24, Params: Params{WashCycles: &cycles, WashVolumeML: 1, WashSolvent: "ethanol"}}
	plan, err := Builtin().Build(Wash, req)
	require.NoError(t, err)
	require.Len(t, plan.Stages, 1)
	repeat := plan.Stages[0].(RepeatStage)
	assert.Equal(t, 3, repeat.Count)
	assert.Equal(t, []string{
		"prime", "move", "position_for_infuse", "dispense", "return_to_hold", "move", "filter_discard",
	}, names(repeat.Stages))
	assert.Equal(t, 1000, repeat.Stages[3].(DispenseStage).VolumeUL)

	zero := 0
	req.Params = Params{WashCycles: &zero}
	plan, err = Builtin().Build(Wash, req)
	require.NoError(t, err)
	assert.Equal(t, 0, plan.Stages[0].(RepeatStage).Count)

	negative := -1
	req.Params = Params{WashCycles: &negative}
	_, err = Builtin().Build(Wash, req)
	assert.ErrorIs(t, err, faults.ErrConfiguration)
}

func TestWashUsesRecipeDefaults(t *testing.T) {
	plan, err := Builtin().Build(Wash, Request{Sample: sample3(), RackCapacity: 24})
	require.NoError(t, err)
	repeat := plan.Stages[0].(RepeatStage)
	assert.Equal(t, 2, repeat.Count)
	assert.Equal(t, 500, repeat.Stages[3].(DispenseStage).VolumeUL)
}

func TestHeatAndHold(t *testing.T) {
	req := Request{Sample: sample3(), RackCapacity: 24, Params: Params{TempC: 80, SpeedRPM: 300, Hours: 1, Minutes: 30, Seconds: 5}}
	plan, err := Builtin().Build(HeatAndHold, req)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"move", "set_temperature", "set_stir_speed", "start_regulation", "start_stirring",
		"poll", "hold", "stop_regulation", "stop_stirring",
	}, names(plan.Stages))
	assert.Equal(t, 90*time.Minute+5*time.Second, plan.Stages[6].(HoldStage).Duration)
	assert.Equal(t, station.LocationHeater, plan.Stages[0].(MoveStage).To)

	req.Params.Minutes = -1
	_, err = Builtin().Build(HeatAndHold, req)
	assert.ErrorIs(t, err, faults.ErrConfiguration)
}

func TestPhotographUsesFiltrateVial(t *testing.T) {
	req := Request{Sample: sample3(), RackCapacity: 24, Params: Params{FiltrateVial: 9}}
	plan, err := Builtin().Build(Photograph, req)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"move", "open_lightbox", "move", "close_lightbox", "light_on", "capture",
		"light_off", "open_lightbox", "move", "move", "close_lightbox",
	}, names(plan.Stages))
	assert.Equal(t, 9, plan.Stages[0].(MoveStage).Vial)
	capture := plan.Stages[5].(CaptureStage)
	assert.Equal(t, "CC3", capture.Solid)
	assert.Equal(t, "water", capture.Dye)
}

func TestSampleFreeProcedures(t *testing.T) {
	c := Builtin()
	plan, err := c.Build(CleanStation, Request{RackCapacity: 24, Params: Params{Solvent: "acetone", VolumeML: 2}})
	require.NoError(t, err)
	assert.Nil(t, plan.Sample)
	assert.Equal(t, 2000, plan.Stages[0].(CleanPackdownStage).VolumeUL)

	_, err = c.Build(CleanStation, Request{RackCapacity: 24, Params: Params{Solvent: "acetone"}})
	assert.ErrorIs(t, err, faults.ErrConfiguration)

	plan, err = c.Build(ReactionTimer, Request{RackCapacity: 24, Params: Params{Seconds: 10}})
	require.NoError(t, err)
	assert.Equal(t, []string{"hold", "stop_stirring", "stop_regulation"}, names(plan.Stages))

	plan, err = c.Build(HeatStir, Request{RackCapacity: 24, Params: Params{TempC: 60, SpeedRPM: 200}})
	require.NoError(t, err)
	assert.Equal(t, "poll", plan.Stages[len(plan.Stages)-1].Name())
}

func TestStepwisePreparation(t *testing.T) {
	c := Builtin()
	plan, err := c.Build(AddSolidAldehyde, Request{Sample: sample3(), RackCapacity: 24})
	require.NoError(t, err)
	assert.Equal(t, []string{"move", "dose", "record", "move"}, names(plan.Stages))
	assert.Equal(t, station.LocationRack, plan.Stages[3].(MoveStage).To)
	assert.Empty(t, plan.Info.Advances)

	plan, err = c.Build(DispenseSolvent, Request{Sample: sample3(), RackCapacity: 24, Params: Params{Solvent: "chloroform", VolumeML: 0.75}})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"return_to_hold", "prime", "move", "position_for_infuse", "dispense", "return_to_hold", "move",
	}, names(plan.Stages))
	assert.Equal(t, 750, plan.Stages[4].(DispenseStage).VolumeUL)
	assert.NotContains(t, names(plan.Stages), "cap")

	plan, err = c.Build(AddAmineAndCap, Request{Sample: sample3(), RackCapacity: 24})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"return_to_hold", "prime", "move", "position_for_infuse", "dispense", "return_to_hold",
		"move", "cap", "move",
	}, names(plan.Stages))
	assert.Equal(t, "water", plan.Stages[4].(DispenseStage).Chemical)
	assert.NotContains(t, names(plan.Stages), "dose")
	assert.Equal(t, registry.LifecyclePrepared, plan.Info.Advances)
}

func TestStepwisePreparationMissingFields(t *testing.T) {
	c := Builtin()
	s := sample3()
	s.MassMg = 0
	_, err := c.Build(AddSolidAldehyde, Request{Sample: s, RackCapacity: 24})
	assert.ErrorIs(t, err, faults.ErrConfiguration)

	_, err = c.Build(DispenseSolvent, Request{Sample: sample3(), RackCapacity: 24, Params: Params{VolumeML: 1}})
	assert.ErrorIs(t, err, faults.ErrConfiguration)
	_, err = c.Build(DispenseSolvent, Request{Sample: sample3(), RackCapacity: 24, Params: Params{Solvent: "chloroform"}})
	assert.ErrorIs(t, err, faults.ErrConfiguration)

	s = sample3()
	s.Liquid = ""
	_, err = c.Build(AddAmineAndCap, Request{Sample: s, RackCapacity: 24})
	assert.ErrorIs(t, err, faults.ErrConfiguration)
}

func TestCatalogInfos(t *testing.T) {
	c := Builtin()
	assert.Len(t, c.Names(), 14)
	for _, info := range c.Infos() {
		assert.NoError(t, info.Validate())
	}
	err := c.Register(Procedure{Info: Info{Name: PrepareSample}, Build: buildPrepareSample})
	assert.Error(t, err)
	err = c.Register(Procedure{Info: Info{Name: "x", Args: []string{"colour"}}, Build: buildPrepareSample})
	assert.Error(t, err)
}

func TestParamsSet(t *testing.T) {
	var p Params
	require.NoError(t, p.Set(ArgTempC, " 80.5 "))
	require.NoError(t, p.Set(ArgWashCycles, "0"))
	require.NoError(t, p.Set(ArgSolvent, "ethanol"))
	assert.Equal(t, 80.5, p.TempC)
	require.NotNil(t, p.WashCycles)
	assert.Equal(t, 0, *p.WashCycles)
	assert.Equal(t, "ethanol", p.Solvent)

	assert.ErrorIs(t, p.Set(ArgSpeedRPM, "fast"), ErrBadArgument)
	assert.ErrorIs(t, p.Set(ArgVolumeML, "NaN"), ErrBadArgument)
	assert.ErrorIs(t, p.Set(ArgSolvent, " "), ErrBadArgument)
	assert.ErrorIs(t, p.Set("colour", "red"), ErrBadArgument)
}
