// Package station fronts the shared robotic rig. Drivers implement the
// capability interfaces below; the Proxy serialises every command, validates
// vial positions and hands out exclusive leases to procedure runs.
package station

import (
	"context"
	"time"
)

// Location is a named place on the rig a vial can occupy.
type Location string

const (
	LocationUnknown  Location = ""
	LocationRack     Location = "rack"
	LocationDoser    Location = "doser"
	LocationPump     Location = "pump"
	LocationCapper   Location = "capper"
	LocationHeater   Location = "heater"
	LocationLightbox Location = "lightbox"
)

// Valid reports whether l is one of the known locations.
func (l Location) Valid() bool {
	switch l {
	case LocationRack, LocationDoser, LocationPump, LocationCapper, LocationHeater, LocationLightbox:
		return true
	}
	return false
}

// Operation names shared by the proxy, the drivers and error reports.
const (
	OpConnect           = "connect"
	OpDisconnect        = "disconnect"
	OpMove              = "move"
	OpDose              = "dose"
	OpPrime             = "prime"
	OpPositionForInfuse = "position_for_infuse"
	OpDispense          = "dispense"
	OpReturnToHold      = "return_to_hold"
	OpCap               = "cap"
	OpDecap             = "decap"
	OpSetTemperature    = "set_temperature"
	OpTemperature       = "temperature"
	OpStartRegulation   = "start_regulation"
	OpStopRegulation    = "stop_regulation"
	OpSetStirSpeed      = "set_stir_speed"
	OpStartStirring     = "start_stirring"
	OpStopStirring      = "stop_stirring"
	OpFilterPrep        = "filter_prep"
	OpFilterDiscard     = "filter_discard"
	OpFilterCollect     = "filter_collect"
	OpCleanPackdown     = "clean_packdown"
	OpOpenLightbox      = "open_lightbox"
	OpCloseLightbox     = "close_lightbox"
	OpLightOn           = "light_on"
	OpLightOff          = "light_off"
	OpCapture           = "capture"
)

// Frame is a captured lightbox image.
type Frame struct {
	Data       []byte
	Format     string // file extension without the dot, e.g. "png"
	CapturedAt time.Time
}

// Motion moves vials between rig locations.
type Motion interface {
	Move(ctx context.Context, vial int, from, to Location) error
}

// Dosing weighs solids into the vial at the doser. The returned quantity is
// what the balance measured, which may differ from the target.
type Dosing interface {
	Dose(ctx context.Context, solid string, targetMg float64) (float64, error)
}

// LiquidHandling drives the syringe pump. Volumes are microliters.
type LiquidHandling interface {
	Prime(ctx context.Context, chemical string) error
	PositionForInfuse(ctx context.Context) error
	Dispense(ctx context.Context, chemical string, volumeUL int) error
	ReturnToHold(ctx context.Context) error
}

// Capping opens and closes the vial held at the capper.
type Capping interface {
	Cap(ctx context.Context) error
	Decap(ctx context.Context) error
}

// Thermal controls the hotplate and its stirrer.
type Thermal interface {
	SetTemperature(ctx context.Context, celsius float64) error
	Temperature(ctx context.Context, sensor int) (float64, error)
	StartRegulation(ctx context.Context) error
	StopRegulation(ctx context.Context) error
	SetStirSpeed(ctx context.Context, rpm int) error
	StartStirring(ctx context.Context) error
	StopStirring(ctx context.Context) error
}

// Filtration runs the filter unit. Volumes are microliters.
type Filtration interface {
	FilterPrep(ctx context.Context, cleaningVial int, solvent string, volumeUL int) error
	FilterDiscard(ctx context.Context, vial int, volumeUL int) error
	FilterCollect(ctx context.Context, vial int, volumeUL int, filtrateVial int, filterTime time.Duration) error
	CleanPackdown(ctx context.Context, solvent string, volumeUL int) error
}

// Imaging controls the lightbox and camera.
type Imaging interface {
	OpenLightbox(ctx context.Context) error
	CloseLightbox(ctx context.Context) error
	LightOn(ctx context.Context) error
	LightOff(ctx context.Context) error
	Capture(ctx context.Context) (Frame, error)
}

// Commands is the instrument surface a procedure run drives. *Lease
// implements it.
type Commands interface {
	Motion
	Dosing
	LiquidHandling
	Capping
	Thermal
	Filtration
	Imaging
}

// Driver is the full capability set a rig exposes.
type Driver interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	Commands
}
