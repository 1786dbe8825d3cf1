package procedure

import (
	"context"
	"fmt"
	"time"

	"github.com/kingrea/vialflow/internal/faults"
	"github.com/kingrea/vialflow/internal/logbook"
	"github.com/kingrea/vialflow/internal/recorder"
	"github.com/kingrea/vialflow/internal/registry"
	"github.com/kingrea/vialflow/internal/station"
	"github.com/kingrea/vialflow/internal/wait"
)

// Stage is one step of a procedure. Stages run strictly in order; the first
// error ends the run.
type Stage interface {
	// Name is the stage kind reported when the stage fails, e.g. "dispense".
	Name() string
	// Describe renders the stage with its arguments for logs and the monitor.
	Describe() string
	Run(ctx context.Context, env *Env) error
}

// Quantity is the most recent dosed or dispensed amount.
type Quantity struct {
	Substance string
	Target    float64
	Actual    float64
	Unit      recorder.Unit
}

// Env is what stages run against. The sequencer builds one per run.
type Env struct {
	Station  station.Commands
	Recorder recorder.Recorder
	Log      logbook.Sink
	// Poller carries the bounds, interval and tolerance; PollStage fills
	// in the target.
	Poller wait.Poller
	Timer  wait.Timer
	RunID  string
	Sample *registry.Sample

	// Measured is called after a measurement is stored.
	Measured func(recorder.MeasurementRecord)
	// Imaged is called with the destination of a saved frame.
	Imaged func(dest string)
	// RunStages executes nested stages; RepeatStage uses it so cancellation
	// and error reporting stay with the sequencer.
	RunStages func(ctx context.Context, path string, stages []Stage) error

	last *Quantity
}

func (e *Env) log() logbook.Sink {
	return logbook.OrDiscard(e.Log)
}

// Last returns the most recent dosed or dispensed quantity.
func (e *Env) Last() (Quantity, bool) {
	if e.last == nil {
		return Quantity{}, false
	}
	return *e.last, true
}

// MoveStage carries a vial between two locations.
type MoveStage struct {
	Vial     int
	From, To station.Location
}

func (s MoveStage) Name() string { return station.OpMove }
func (s MoveStage) Describe() string {
	return fmt.Sprintf("move vial %d %s -> %s", s.Vial, s.From, s.To)
}
func (s MoveStage) Run(ctx context.Context, env *Env) error {
	return env.Station.Move(ctx, s.Vial, s.From, s.To)
}

// DoseStage weighs a solid into the vial at the doser.
type DoseStage struct {
	Solid    string
	TargetMg float64
}

func (s DoseStage) Name() string { return station.OpDose }
func (s DoseStage) Describe() string {
	return fmt.Sprintf("dose %.2f mg %s", s.TargetMg, s.Solid)
}
func (s DoseStage) Run(ctx context.Context, env *Env) error {
	actual, err := env.Station.Dose(ctx, s.Solid, s.TargetMg)
	if err != nil {
		return err
	}
	env.log().Info("dosed %s: target %.2f mg, actual %.2f mg", s.Solid, s.TargetMg, actual)
	env.last = &Quantity{Substance: s.Solid, Target: s.TargetMg, Actual: actual, Unit: recorder.UnitMilligram}
	return nil
}

// RecordStage stores the preceding dose or dispense under Key.
type RecordStage struct {
	Key string
}

func (s RecordStage) Name() string     { return "record" }
func (s RecordStage) Describe() string { return "record measurement for " + s.Key }
func (s RecordStage) Run(ctx context.Context, env *Env) error {
	q, ok := env.Last()
	if !ok {
		return faults.Configuration("record", "nothing dosed or dispensed before record")
	}
	if env.Recorder == nil {
		return faults.RecorderIO("record", fmt.Errorf("no recorder configured"))
	}
	rec := recorder.MeasurementRecord{
		Key:       s.Key,
		Substance: q.Substance,
		Target:    q.Target,
		Actual:    q.Actual,
		Unit:      q.Unit,
		RunID:     env.RunID,
	}
	dest, err := env.Recorder.Append(ctx, rec)
	if err != nil {
		return err
	}
	rec.Destination = dest
	if env.Measured != nil {
		env.Measured(rec)
	}
	return nil
}

// PrimeStage fills the dispense tubing with a chemical.
type PrimeStage struct {
	Chemical string
}

func (s PrimeStage) Name() string     { return station.OpPrime }
func (s PrimeStage) Describe() string { return "prime " + s.Chemical }
func (s PrimeStage) Run(ctx context.Context, env *Env) error {
	return env.Station.Prime(ctx, s.Chemical)
}

// InfuseStage lowers the needle into the infuse position.
type InfuseStage struct{}

func (InfuseStage) Name() string     { return station.OpPositionForInfuse }
func (InfuseStage) Describe() string { return "position for infuse" }
func (InfuseStage) Run(ctx context.Context, env *Env) error {
	return env.Station.PositionForInfuse(ctx)
}

// HoldPositionStage raises the needle back to its hold position.
type HoldPositionStage struct{}

func (HoldPositionStage) Name() string     { return station.OpReturnToHold }
func (HoldPositionStage) Describe() string { return "return to hold" }
func (HoldPositionStage) Run(ctx context.Context, env *Env) error {
	return env.Station.ReturnToHold(ctx)
}

// DispenseStage pumps a volume of a primed chemical.
type DispenseStage struct {
	Chemical string
	VolumeUL int
}

func (s DispenseStage) Name() string { return station.OpDispense }
func (s DispenseStage) Describe() string {
	return fmt.Sprintf("dispense %d uL %s", s.VolumeUL, s.Chemical)
}
func (s DispenseStage) Run(ctx context.Context, env *Env) error {
	if err := env.Station.Dispense(ctx, s.Chemical, s.VolumeUL); err != nil {
		return err
	}
	v := float64(s.VolumeUL)
	env.last = &Quantity{Substance: s.Chemical, Target: v, Actual: v, Unit: recorder.UnitMicroliter}
	return nil
}

// CapStage caps the vial at the capper.
type CapStage struct{}

func (CapStage) Name() string                            { return station.OpCap }
func (CapStage) Describe() string                        { return "cap" }
func (CapStage) Run(ctx context.Context, env *Env) error { return env.Station.Cap(ctx) }

// DecapStage uncaps the vial at the capper.
type DecapStage struct{}

func (DecapStage) Name() string                            { return station.OpDecap }
func (DecapStage) Describe() string                        { return "decap" }
func (DecapStage) Run(ctx context.Context, env *Env) error { return env.Station.Decap(ctx) }

// SetTemperatureStage sets the hotplate setpoint.
type SetTemperatureStage struct {
	Celsius float64
}

func (s SetTemperatureStage) Name() string { return station.OpSetTemperature }
func (s SetTemperatureStage) Describe() string {
	return fmt.Sprintf("set temperature %.1f C", s.Celsius)
}
func (s SetTemperatureStage) Run(ctx context.Context, env *Env) error {
	return env.Station.SetTemperature(ctx, s.Celsius)
}

// SetStirSpeedStage sets the stirrer speed.
type SetStirSpeedStage struct {
	RPM int
}

func (s SetStirSpeedStage) Name() string     { return station.OpSetStirSpeed }
func (s SetStirSpeedStage) Describe() string { return fmt.Sprintf("set stir speed %d rpm", s.RPM) }
func (s SetStirSpeedStage) Run(ctx context.Context, env *Env) error {
	return env.Station.SetStirSpeed(ctx, s.RPM)
}

// RegulationStage starts or stops temperature regulation.
type RegulationStage struct {
	On bool
}

func (s RegulationStage) Name() string {
	if s.On {
		return station.OpStartRegulation
	}
	return station.OpStopRegulation
}
func (s RegulationStage) Describe() string { return s.Name() }
func (s RegulationStage) Run(ctx context.Context, env *Env) error {
	if s.On {
		return env.Station.StartRegulation(ctx)
	}
	return env.Station.StopRegulation(ctx)
}

// StirringStage starts or stops the stirrer.
type StirringStage struct {
	On bool
}

func (s StirringStage) Name() string {
	if s.On {
		return station.OpStartStirring
	}
	return station.OpStopStirring
}
func (s StirringStage) Describe() string { return s.Name() }
func (s StirringStage) Run(ctx context.Context, env *Env) error {
	if s.On {
		return env.Station.StartStirring(ctx)
	}
	return env.Station.StopStirring(ctx)
}

// PollStage waits for the heater sensor to reach TargetC.
type PollStage struct {
	TargetC float64
	Sensor  int
}

func (s PollStage) Name() string { return "poll" }
func (s PollStage) Describe() string {
	return fmt.Sprintf("wait for %.1f C on sensor %d", s.TargetC, s.Sensor)
}
func (s PollStage) Run(ctx context.Context, env *Env) error {
	p := env.Poller
	p.Target = s.TargetC
	p.Label = "temperature"
	if p.Log == nil {
		p.Log = env.Log
	}
	_, err := p.Until(ctx, func(ctx context.Context) (float64, error) {
		return env.Station.Temperature(ctx, s.Sensor)
	})
	return err
}

// HoldStage waits a fixed duration.
type HoldStage struct {
	Duration time.Duration
}

func (s HoldStage) Name() string     { return "hold" }
func (s HoldStage) Describe() string { return "hold " + s.Duration.String() }
func (s HoldStage) Run(ctx context.Context, env *Env) error {
	env.log().Info("holding for %s", s.Duration)
	return env.Timer.Hold(ctx, s.Duration)
}

// RepeatStage runs Stages Count times. Count 0 runs nothing.
type RepeatStage struct {
	Label  string
	Count  int
	Stages []Stage
}

func (s RepeatStage) Name() string {
	if s.Label != "" {
		return s.Label
	}
	return "repeat"
}
func (s RepeatStage) Describe() string {
	return fmt.Sprintf("%s x%d (%d stages)", s.Name(), s.Count, len(s.Stages))
}
func (s RepeatStage) Run(ctx context.Context, env *Env) error {
	for cycle := 1; cycle <= s.Count; cycle++ {
		env.log().Info("%s cycle %d/%d", s.Name(), cycle, s.Count)
		path := fmt.Sprintf("%s[%d]", s.Name(), cycle)
		if env.RunStages != nil {
			if err := env.RunStages(ctx, path, s.Stages); err != nil {
				return err
			}
			continue
		}
		for _, stage := range s.Stages {
			if err := ctx.Err(); err != nil {
				return faults.Aborted(path, err)
			}
			if err := stage.Run(ctx, env); err != nil {
				return err
			}
		}
	}
	return nil
}

// FilterPrepStage conditions the filter with a cleaning solvent.
type FilterPrepStage struct {
	CleaningVial int
	Solvent      string
	VolumeUL     int
}

func (s FilterPrepStage) Name() string { return station.OpFilterPrep }
func (s FilterPrepStage) Describe() string {
	return fmt.Sprintf("filter prep with %d uL %s from vial %d", s.VolumeUL, s.Solvent, s.CleaningVial)
}
func (s FilterPrepStage) Run(ctx context.Context, env *Env) error {
	return env.Station.FilterPrep(ctx, s.CleaningVial, s.Solvent, s.VolumeUL)
}

// FilterStage filters a vial, either discarding or collecting the filtrate.
type FilterStage struct {
	Vial         int
	VolumeUL     int
	Collect      bool
	FiltrateVial int
	FilterTime   time.Duration
}

func (s FilterStage) Name() string {
	if s.Collect {
		return station.OpFilterCollect
	}
	return station.OpFilterDiscard
}
func (s FilterStage) Describe() string {
	if s.Collect {
		return fmt.Sprintf("filter %d uL of vial %d into vial %d", s.VolumeUL, s.Vial, s.FiltrateVial)
	}
	return fmt.Sprintf("filter %d uL of vial %d to waste", s.VolumeUL, s.Vial)
}
func (s FilterStage) Run(ctx context.Context, env *Env) error {
	if s.Collect {
		return env.Station.FilterCollect(ctx, s.Vial, s.VolumeUL, s.FiltrateVial, s.FilterTime)
	}
	return env.Station.FilterDiscard(ctx, s.Vial, s.VolumeUL)
}

// CleanPackdownStage flushes the filter unit.
type CleanPackdownStage struct {
	Solvent  string
	VolumeUL int
}

func (s CleanPackdownStage) Name() string { return station.OpCleanPackdown }
func (s CleanPackdownStage) Describe() string {
	return fmt.Sprintf("clean packdown with %d uL %s", s.VolumeUL, s.Solvent)
}
func (s CleanPackdownStage) Run(ctx context.Context, env *Env) error {
	return env.Station.CleanPackdown(ctx, s.Solvent, s.VolumeUL)
}

// LightboxStage opens or closes the lightbox.
type LightboxStage struct {
	Open bool
}

func (s LightboxStage) Name() string {
	if s.Open {
		return station.OpOpenLightbox
	}
	return station.OpCloseLightbox
}
func (s LightboxStage) Describe() string { return s.Name() }
func (s LightboxStage) Run(ctx context.Context, env *Env) error {
	if s.Open {
		return env.Station.OpenLightbox(ctx)
	}
	return env.Station.CloseLightbox(ctx)
}

// LightStage switches the lightbox light.
type LightStage struct {
	On bool
}

func (s LightStage) Name() string {
	if s.On {
		return station.OpLightOn
	}
	return station.OpLightOff
}
func (s LightStage) Describe() string { return s.Name() }
func (s LightStage) Run(ctx context.Context, env *Env) error {
	if s.On {
		return env.Station.LightOn(ctx)
	}
	return env.Station.LightOff(ctx)
}

// CaptureStage takes a frame and saves it as <solid>_<dye>.
type CaptureStage struct {
	Solid string
	Dye   string
}

func (s CaptureStage) Name() string { return station.OpCapture }
func (s CaptureStage) Describe() string {
	return fmt.Sprintf("capture %s in %s", s.Solid, s.Dye)
}
func (s CaptureStage) Run(ctx context.Context, env *Env) error {
	frame, err := env.Station.Capture(ctx)
	if err != nil {
		return err
	}
	if env.Recorder == nil {
		return faults.RecorderIO("save_image", fmt.Errorf("no recorder configured"))
	}
	dest, err := env.Recorder.SaveImage(ctx, recorder.ImageRecord{Solid: s.Solid, Dye: s.Dye, Frame: frame})
	if err != nil {
		return err
	}
	env.log().Info("saved image %s", dest)
	if env.Imaged != nil {
		env.Imaged(dest)
	}
	return nil
}
