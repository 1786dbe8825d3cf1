package procedure

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/vialflow/internal/faults"
)

// ErrBadArgument marks an argument that could not be parsed.
var ErrBadArgument = errors.New("procedure: bad argument")

// Argument names accepted by Params.Set.
const (
	ArgTempC           = "temp_c"
	ArgSpeedRPM        = "speed_rpm"
	ArgHours           = "hours"
	ArgMinutes         = "minutes"
	ArgSeconds         = "seconds"
	ArgCleaningVial    = "cleaning_vial"
	ArgCleaningSolvent = "cleaning_solvent"
	ArgWashVolumeML    = "wash_volume_ml"
	ArgWashCycles      = "wash_cycles"
	ArgWashSolvent     = "wash_solvent"
	ArgSolvent         = "solvent"
	ArgVolumeML        = "volume_ml"
	ArgFiltrateVial    = "filtrate_vial"
)

var knownArgs = map[string]bool{
	ArgTempC: true, ArgSpeedRPM: true, ArgHours: true, ArgMinutes: true, ArgSeconds: true,
	ArgCleaningVial: true, ArgCleaningSolvent: true, ArgWashVolumeML: true, ArgWashCycles: true,
	ArgWashSolvent: true, ArgSolvent: true, ArgVolumeML: true, ArgFiltrateVial: true,
}

// Params are the operator-supplied values for a procedure. Zero values
// fall back to the sample recipe where one exists. Volumes are milliliters.
type Params struct {
	TempC    float64
	SpeedRPM int
	Hours    int
	Minutes  int
	Seconds  int
	// Sensor is the heater thermocouple polled for equilibration.
	Sensor int

	CleaningVial    int
	CleaningSolvent string
	Antisolvent     string
	AntisolventML   float64
	FiltrateVial    int
	Collect         bool
	FilterTime      time.Duration

	WashVolumeML float64
	WashCycles   *int
	WashSolvent  string

	Solvent  string
	VolumeML float64
}

// Set parses raw into the parameter called name.
func (p *Params) Set(name, raw string) error {
	raw = strings.TrimSpace(raw)
	var err error
	switch name {
	case ArgTempC:
		p.TempC, err = parseFloat(name, raw)
	case ArgSpeedRPM:
		p.SpeedRPM, err = parseInt(name, raw)
	case ArgHours:
		p.Hours, err = parseInt(name, raw)
	case ArgMinutes:
		p.Minutes, err = parseInt(name, raw)
	case ArgSeconds:
		p.Seconds, err = parseInt(name, raw)
	case ArgCleaningVial:
		p.CleaningVial, err = parseInt(name, raw)
	case ArgFiltrateVial:
		p.FiltrateVial, err = parseInt(name, raw)
	case ArgWashVolumeML:
		p.WashVolumeML, err = parseFloat(name, raw)
	case ArgWashCycles:
		var n int
		n, err = parseInt(name, raw)
		p.WashCycles = &n
	case ArgVolumeML:
		p.VolumeML, err = parseFloat(name, raw)
	case ArgCleaningSolvent, ArgWashSolvent, ArgSolvent:
		if raw == "" {
			return fmt.Errorf("%w: %s must not be empty", ErrBadArgument, name)
		}
		switch name {
		case ArgCleaningSolvent:
			p.CleaningSolvent = raw
		case ArgWashSolvent:
			p.WashSolvent = raw
		default:
			p.Solvent = raw
		}
	default:
		return fmt.Errorf("%w: unknown argument %s", ErrBadArgument, name)
	}
	return err
}

func parseInt(name, raw string) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", ErrBadArgument, name, raw)
	}
	return v, nil
}

func parseFloat(name, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s must be a number, got %q", ErrBadArgument, name, raw)
	}
	return v, nil
}

// Microliters converts a milliliter volume to whole microliters, rounding to
// the nearest microliter. This is the only ml to uL conversion in vialflow.
func Microliters(ml float64) int {
	return int(math.Round(ml * 1000))
}

// positiveUL converts ml and requires a positive result.
func positiveUL(op, field string, ml float64) (int, error) {
	ul := Microliters(ml)
	if ul <= 0 {
		return 0, faults.Configuration(op, "%s must be > 0 ml, got %g", field, ml)
	}
	return ul, nil
}
