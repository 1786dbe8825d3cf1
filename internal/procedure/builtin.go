package procedure

import (
	"github.com/kingrea/vialflow/internal/faults"
	"github.com/kingrea/vialflow/internal/registry"
	"github.com/kingrea/vialflow/internal/station"
	"github.com/kingrea/vialflow/internal/wait"
)

// Built-in procedure names.
const (
	PrepareSample = "prepare_sample"
	HeatAndHold   = "heat_and_hold"
	Filter        = "filter"
	Wash          = "wash"
	CleanStation  = "clean_station"
	Photograph    = "photograph"
	MoveToHeater  = "move_to_heater"
	StoreSample   = "store_sample"
	HeatStir      = "heat_stir"
	ReactionTimer = "reaction_timer"
	AddSolvent    = "add_solvent"

	AddSolidAldehyde = "add_solid_aldehyde"
	DispenseSolvent  = "dispense_solvent"
	AddAmineAndCap   = "add_amine_and_cap"
)

// Builtin returns a catalog holding every built-in procedure.
func Builtin() *Catalog {
	c := NewCatalog()
	c.MustRegister(Procedure{
		Info: Info{
			Name:        PrepareSample,
			Description: "dose the solid, dispense the liquid and cap the vial",
			NeedsSample: true,
			Advances:    registry.LifecyclePrepared,
		},
		Build: buildPrepareSample,
	})
	c.MustRegister(Procedure{
		Info: Info{
			Name:        HeatAndHold,
			Description: "heat and stir on the hotplate until the setpoint is reached, then hold",
			NeedsSample: true,
			Args:        []string{ArgTempC, ArgSpeedRPM, ArgHours, ArgMinutes, ArgSeconds},
			Advances:    registry.LifecycleHeated,
		},
		Build: buildHeatAndHold,
	})
	c.MustRegister(Procedure{
		Info: Info{
			Name:        Filter,
			Description: "filter the sample, optionally adding antisolvent and collecting the filtrate",
			NeedsSample: true,
			Args:        []string{ArgCleaningVial, ArgCleaningSolvent},
			Advances:    registry.LifecycleFiltered,
		},
		Build: buildFilter,
	})
	c.MustRegister(Procedure{
		Info: Info{
			Name:        Wash,
			Description: "wash the filtered solid for a number of cycles",
			NeedsSample: true,
			Args:        []string{ArgWashVolumeML, ArgWashCycles, ArgWashSolvent},
			Advances:    registry.LifecycleWashed,
		},
		Build: buildWash,
	})
	c.MustRegister(Procedure{
		Info: Info{
			Name:        CleanStation,
			Description: "flush the filter unit with solvent",
			Args:        []string{ArgSolvent, ArgVolumeML},
		},
		Build: buildCleanStation,
	})
	c.MustRegister(Procedure{
		Info: Info{
			Name:        Photograph,
			Description: "photograph a filtrate vial in the lightbox",
			NeedsSample: true,
			Args:        []string{ArgFiltrateVial},
			Advances:    registry.LifecyclePhotographed,
		},
		Build: buildPhotograph,
	})
	c.MustRegister(Procedure{
		Info: Info{
			Name:        MoveToHeater,
			Description: "move the sample from the rack to the hotplate",
			NeedsSample: true,
		},
		Build: buildMove(station.LocationRack, station.LocationHeater),
	})
	c.MustRegister(Procedure{
		Info: Info{
			Name:        StoreSample,
			Description: "move the sample from the hotplate back to the rack",
			NeedsSample: true,
		},
		Build: buildMove(station.LocationHeater, station.LocationRack),
	})
	c.MustRegister(Procedure{
		Info: Info{
			Name:        HeatStir,
			Description: "bring the hotplate to temperature with stirring and leave it regulating",
			Args:        []string{ArgTempC, ArgSpeedRPM},
		},
		Build: buildHeatStir,
	})
	c.MustRegister(Procedure{
		Info: Info{
			Name:        ReactionTimer,
			Description: "hold for a reaction time, then stop stirring and regulation",
			Args:        []string{ArgHours, ArgMinutes, ArgSeconds},
		},
		Build: buildReactionTimer,
	})
	c.MustRegister(Procedure{
		Info: Info{
			Name:        AddSolvent,
			Description: "uncap the sample, dispense solvent and recap",
			NeedsSample: true,
			Args:        []string{ArgSolvent, ArgVolumeML},
		},
		Build: buildAddSolvent,
	})
	c.MustRegister(Procedure{
		Info: Info{
			Name:        AddSolidAldehyde,
			Description: "dose the sample's solid and return the vial to the rack uncapped",
			NeedsSample: true,
		},
		Build: buildAddSolidAldehyde,
	})
	c.MustRegister(Procedure{
		Info: Info{
			Name:        DispenseSolvent,
			Description: "dispense solvent into the uncapped sample and return it to the rack",
			NeedsSample: true,
			Args:        []string{ArgSolvent, ArgVolumeML},
		},
		Build: buildDispenseSolvent,
	})
	c.MustRegister(Procedure{
		Info: Info{
			Name:        AddAmineAndCap,
			Description: "dispense the sample's liquid, cap the vial and return it to the rack",
			NeedsSample: true,
			Advances:    registry.LifecyclePrepared,
		},
		Build: buildAddAmineAndCap,
	})
	return c
}

func checkVial(op, field string, vial, capacity int) error {
	if vial < 1 || vial > capacity {
		return faults.Configuration(op, "%s %d outside rack [1, %d]", field, vial, capacity)
	}
	return nil
}

func needField(op, field, value string) error {
	if value == "" {
		return faults.Configuration(op, "%s is required", field)
	}
	return nil
}

func buildPrepareSample(req Request) ([]Stage, error) {
	s := req.Sample
	if err := needField(PrepareSample, "solid", s.Solid); err != nil {
		return nil, err
	}
	if err := needField(PrepareSample, "liquid", s.Liquid); err != nil {
		return nil, err
	}
	if s.MassMg <= 0 {
		return nil, faults.Configuration(PrepareSample, "mass_mg must be > 0 for sample %s", s.ID)
	}
	volume, err := positiveUL(PrepareSample, "volume_ml", s.VolumeML)
	if err != nil {
		return nil, err
	}
	v := s.Vial
	return []Stage{
		MoveStage{Vial: v, From: station.LocationRack, To: station.LocationDoser},
		DoseStage{Solid: s.Solid, TargetMg: s.MassMg},
		RecordStage{Key: s.ID},
		MoveStage{Vial: v, From: station.LocationDoser, To: station.LocationPump},
		PrimeStage{Chemical: s.Liquid},
		InfuseStage{},
		DispenseStage{Chemical: s.Liquid, VolumeUL: volume},
		HoldPositionStage{},
		MoveStage{Vial: v, From: station.LocationPump, To: station.LocationCapper},
		CapStage{},
		MoveStage{Vial: v, From: station.LocationCapper, To: station.LocationRack},
	}, nil
}

func thermalParams(op string, p Params) error {
	if p.SpeedRPM < 0 {
		return faults.Configuration(op, "speed_rpm must be >= 0, got %d", p.SpeedRPM)
	}
	return nil
}

func holdDuration(op string, p Params) (HoldStage, error) {
	if p.Hours < 0 || p.Minutes < 0 || p.Seconds < 0 {
		return HoldStage{}, faults.Configuration(op, "hold time must not be negative (%dh %dm %ds)", p.Hours, p.Minutes, p.Seconds)
	}
	return HoldStage{Duration: wait.Duration(p.Hours, p.Minutes, p.Seconds)}, nil
}

func heatUp(p Params) []Stage {
	return []Stage{
		SetTemperatureStage{Celsius: p.TempC},
		SetStirSpeedStage{RPM: p.SpeedRPM},
		RegulationStage{On: true},
		StirringStage{On: true},
		PollStage{TargetC: p.TempC, Sensor: p.Sensor},
	}
}

func buildHeatAndHold(req Request) ([]Stage, error) {
	p := req.Params
	if err := thermalParams(HeatAndHold, p); err != nil {
		return nil, err
	}
	hold, err := holdDuration(HeatAndHold, p)
	if err != nil {
		return nil, err
	}
	stages := []Stage{MoveStage{Vial: req.Sample.Vial, From: station.LocationRack, To: station.LocationHeater}}
	stages = append(stages, heatUp(p)...)
	return append(stages,
		hold,
		RegulationStage{On: false},
		StirringStage{On: false},
	), nil
}

func buildFilter(req Request) ([]Stage, error) {
	s := req.Sample
	p := req.Params
	f := s.Filtration

	cleaningVial := firstInt(p.CleaningVial, f.CleaningVial)
	if cleaningVial == 0 {
		return nil, faults.Configuration(Filter, "cleaning_vial is required")
	}
	if err := checkVial(Filter, "cleaning_vial", cleaningVial, req.RackCapacity); err != nil {
		return nil, err
	}
	cleaningSolvent := firstString(p.CleaningSolvent, f.CleaningSolvent)
	if err := needField(Filter, "cleaning_solvent", cleaningSolvent); err != nil {
		return nil, err
	}
	volume, err := positiveUL(Filter, "volume_ml", s.VolumeML)
	if err != nil {
		return nil, err
	}

	antisolvent := firstString(p.Antisolvent, f.Antisolvent)
	antisolventML := p.AntisolventML
	if antisolventML == 0 {
		antisolventML = f.AntisolventML
	}
	var antisolventUL int
	if antisolvent != "" {
		if antisolventUL, err = positiveUL(Filter, "antisolvent_ml", antisolventML); err != nil {
			return nil, err
		}
	}

	collect := p.Collect || f.Collect || p.FiltrateVial != 0
	filtrateVial := firstInt(p.FiltrateVial, f.FiltrateVial)
	filterTime := p.FilterTime
	if filterTime == 0 {
		filterTime = f.FilterTime
	}
	if collect {
		if err := checkVial(Filter, "filtrate_vial", filtrateVial, req.RackCapacity); err != nil {
			return nil, err
		}
		if filtrateVial == s.Vial {
			return nil, faults.Configuration(Filter, "filtrate_vial must differ from the sample vial %d", s.Vial)
		}
	}

	v := s.Vial
	stages := []Stage{
		FilterPrepStage{CleaningVial: cleaningVial, Solvent: cleaningSolvent, VolumeUL: volume},
		MoveStage{Vial: v, From: station.LocationRack, To: station.LocationCapper},
		DecapStage{},
		MoveStage{Vial: v, From: station.LocationCapper, To: station.LocationPump},
	}
	if antisolvent != "" {
		stages = append(stages,
			PrimeStage{Chemical: antisolvent},
			InfuseStage{},
			DispenseStage{Chemical: antisolvent, VolumeUL: antisolventUL},
			HoldPositionStage{},
		)
	}
	return append(stages,
		FilterStage{Vial: v, VolumeUL: volume + antisolventUL, Collect: collect, FiltrateVial: filtrateVial, FilterTime: filterTime},
		MoveStage{Vial: v, From: station.LocationPump, To: station.LocationRack},
	), nil
}

func buildWash(req Request) ([]Stage, error) {
	s := req.Sample
	p := req.Params
	cycles := s.Wash.Cycles
	if p.WashCycles != nil {
		cycles = *p.WashCycles
	}
	if cycles < 0 {
		return nil, faults.Configuration(Wash, "wash_cycles must be >= 0, got %d", cycles)
	}
	if cycles == 0 {
		return []Stage{RepeatStage{Label: "wash_cycle", Count: 0}}, nil
	}
	solvent := firstString(p.WashSolvent, s.Wash.Solvent)
	if err := needField(Wash, "wash_solvent", solvent); err != nil {
		return nil, err
	}
	volumeML := p.WashVolumeML
	if volumeML == 0 {
		volumeML = s.Wash.VolumeML
	}
	volume, err := positiveUL(Wash, "wash_volume_ml", volumeML)
	if err != nil {
		return nil, err
	}
	v := s.Vial
	cycle := []Stage{
		PrimeStage{Chemical: solvent},
		MoveStage{Vial: v, From: station.LocationRack, To: station.LocationPump},
		InfuseStage{},
		DispenseStage{Chemical: solvent, VolumeUL: volume},
		HoldPositionStage{},
		MoveStage{Vial: v, From: station.LocationPump, To: station.LocationRack},
		FilterStage{Vial: v, VolumeUL: volume},
	}
	return []Stage{RepeatStage{Label: "wash_cycle", Count: cycles, Stages: cycle}}, nil
}

func buildCleanStation(req Request) ([]Stage, error) {
	p := req.Params
	if err := needField(CleanStation, "solvent", p.Solvent); err != nil {
		return nil, err
	}
	volume, err := positiveUL(CleanStation, "volume_ml", p.VolumeML)
	if err != nil {
		return nil, err
	}
	return []Stage{CleanPackdownStage{Solvent: p.Solvent, VolumeUL: volume}}, nil
}

func buildPhotograph(req Request) ([]Stage, error) {
	s := req.Sample
	f := firstInt(req.Params.FiltrateVial, s.Filtration.FiltrateVial)
	if f == 0 {
		return nil, faults.Configuration(Photograph, "filtrate_vial is required")
	}
	if err := checkVial(Photograph, "filtrate_vial", f, req.RackCapacity); err != nil {
		return nil, err
	}
	if err := needField(Photograph, "solid", s.Solid); err != nil {
		return nil, err
	}
	if err := needField(Photograph, "liquid", s.Liquid); err != nil {
		return nil, err
	}
	return []Stage{
		MoveStage{Vial: f, From: station.LocationRack, To: station.LocationPump},
		LightboxStage{Open: true},
		MoveStage{Vial: f, From: station.LocationPump, To: station.LocationLightbox},
		LightboxStage{Open: false},
		LightStage{On: true},
		CaptureStage{Solid: s.Solid, Dye: s.Liquid},
		LightStage{On: false},
		LightboxStage{Open: true},
		MoveStage{Vial: f, From: station.LocationLightbox, To: station.LocationPump},
		MoveStage{Vial: f, From: station.LocationPump, To: station.LocationRack},
		LightboxStage{Open: false},
	}, nil
}

func buildMove(from, to station.Location) Builder {
	return func(req Request) ([]Stage, error) {
		return []Stage{MoveStage{Vial: req.Sample.Vial, From: from, To: to}}, nil
	}
}

func buildHeatStir(req Request) ([]Stage, error) {
	if err := thermalParams(HeatStir, req.Params); err != nil {
		return nil, err
	}
	return heatUp(req.Params), nil
}

func buildReactionTimer(req Request) ([]Stage, error) {
	hold, err := holdDuration(ReactionTimer, req.Params)
	if err != nil {
		return nil, err
	}
	return []Stage{
		hold,
		StirringStage{On: false},
		RegulationStage{On: false},
	}, nil
}

func buildAddSolvent(req Request) ([]Stage, error) {
	s := req.Sample
	p := req.Params
	if err := needField(AddSolvent, "solvent", p.Solvent); err != nil {
		return nil, err
	}
	volume, err := positiveUL(AddSolvent, "volume_ml", p.VolumeML)
	if err != nil {
		return nil, err
	}
	v := s.Vial
	return []Stage{
		MoveStage{Vial: v, From: station.LocationRack, To: station.LocationCapper},
		DecapStage{},
		MoveStage{Vial: v, From: station.LocationCapper, To: station.LocationPump},
		PrimeStage{Chemical: p.Solvent},
		InfuseStage{},
		DispenseStage{Chemical: p.Solvent, VolumeUL: volume},
		HoldPositionStage{},
		MoveStage{Vial: v, From: station.LocationPump, To: station.LocationCapper},
		CapStage{},
		MoveStage{Vial: v, From: station.LocationCapper, To: station.LocationRack},
	}, nil
}

func buildAddSolidAldehyde(req Request) ([]Stage, error) {
	s := req.Sample
	if err := needField(AddSolidAldehyde, "solid", s.Solid); err != nil {
		return nil, err
	}
	if s.MassMg <= 0 {
		return nil, faults.Configuration(AddSolidAldehyde, "mass_mg must be > 0 for sample %s", s.ID)
	}
	v := s.Vial
	return []Stage{
		MoveStage{Vial: v, From: station.LocationRack, To: station.LocationDoser},
		DoseStage{Solid: s.Solid, TargetMg: s.MassMg},
		RecordStage{Key: s.ID},
		MoveStage{Vial: v, From: station.LocationDoser, To: station.LocationRack},
	}, nil
}

// dispenseAtPump primes the line, then fetches the vial from the rack and
// dispenses into it. The vial is left at the pump.
func dispenseAtPump(vial int, chemical string, volumeUL int) []Stage {
	return []Stage{
		HoldPositionStage{},
		PrimeStage{Chemical: chemical},
		MoveStage{Vial: vial, From: station.LocationRack, To: station.LocationPump},
		InfuseStage{},
		DispenseStage{Chemical: chemical, VolumeUL: volumeUL},
		HoldPositionStage{},
	}
}

func buildDispenseSolvent(req Request) ([]Stage, error) {
	p := req.Params
	if err := needField(DispenseSolvent, "solvent", p.Solvent); err != nil {
		return nil, err
	}
	volume, err := positiveUL(DispenseSolvent, "volume_ml", p.VolumeML)
	if err != nil {
		return nil, err
	}
	v := req.Sample.Vial
	return append(dispenseAtPump(v, p.Solvent, volume),
		MoveStage{Vial: v, From: station.LocationPump, To: station.LocationRack},
	), nil
}

func buildAddAmineAndCap(req Request) ([]Stage, error) {
	s := req.Sample
	if err := needField(AddAmineAndCap, "liquid", s.Liquid); err != nil {
		return nil, err
	}
	volume, err := positiveUL(AddAmineAndCap, "volume_ml", s.VolumeML)
	if err != nil {
		return nil, err
	}
	v := s.Vial
	return append(dispenseAtPump(v, s.Liquid, volume),
		MoveStage{Vial: v, From: station.LocationPump, To: station.LocationCapper},
		CapStage{},
		MoveStage{Vial: v, From: station.LocationCapper, To: station.LocationRack},
	), nil
}

func firstInt(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

func firstString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
