// Package sim is a simulated rig. It keeps just enough physical state to
// catch out-of-order commands and to make temperature polling meaningful.
package sim

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"
	"time"

	"github.com/kingrea/vialflow/internal/station"
)

// Settings tunes the simulation.
type Settings struct {
	// CommandDelay is slept inside every command.
	CommandDelay time.Duration
	// AmbientC is the starting and idle plate temperature.
	AmbientC float64
	// RampPerRead is how far the plate moves toward its target per reading.
	RampPerRead float64
	// DoseYield scales the dosed mass; 1 is a perfect balance.
	DoseYield float64
}

// Driver simulates a rig.
type Driver struct {
	settings Settings
	clock    func() time.Time

	mu         sync.Mutex
	connected  bool
	primed     string
	infusing   bool
	capped     bool
	setpoint   float64
	plate      float64
	regulating bool
	stirRPM    int
	stirring   bool
	boxOpen    bool
	lightOn    bool
}

var _ station.Driver = (*Driver)(nil)

// New returns a simulated rig at ambient temperature.
func New(settings Settings) *Driver {
	if settings.DoseYield <= 0 {
		settings.DoseYield = 1
	}
	if settings.RampPerRead <= 0 {
		settings.RampPerRead = 10
	}
	return &Driver{
		settings: settings,
		clock:    time.Now,
		plate:    settings.AmbientC,
		setpoint: settings.AmbientC,
		capped:   true,
	}
}

func (d *Driver) pause() {
	if d.settings.CommandDelay > 0 {
		time.Sleep(d.settings.CommandDelay)
	}
}

// step runs fn under the state lock after the command delay.
func (d *Driver) step(op string, fn func() error) error {
	d.pause()
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected && op != station.OpConnect {
		return fmt.Errorf("sim: %s: rig offline", op)
	}
	return fn()
}

func (d *Driver) Connect(context.Context) error {
	return d.step(station.OpConnect, func() error {
		d.connected = true
		return nil
	})
}

func (d *Driver) Disconnect(context.Context) error {
	return d.step(station.OpDisconnect, func() error {
		d.connected = false
		d.regulating = false
		d.stirring = false
		return nil
	})
}

func (d *Driver) Move(_ context.Context, vial int, from, to station.Location) error {
	return d.step(station.OpMove, func() error {
		if from == to {
			return fmt.Errorf("sim: move vial %d: already at %s", vial, to)
		}
		return nil
	})
}

func (d *Driver) Dose(_ context.Context, solid string, targetMg float64) (float64, error) {
	var actual float64
	err := d.step(station.OpDose, func() error {
		if targetMg <= 0 {
			return fmt.Errorf("sim: dose %s: target %.2f mg must be positive", solid, targetMg)
		}
		actual = math.Round(targetMg*d.settings.DoseYield*10) / 10
		return nil
	})
	return actual, err
}

func (d *Driver) Prime(_ context.Context, chemical string) error {
	return d.step(station.OpPrime, func() error {
		d.primed = chemical
		return nil
	})
}

func (d *Driver) PositionForInfuse(context.Context) error {
	return d.step(station.OpPositionForInfuse, func() error {
		d.infusing = true
		return nil
	})
}

func (d *Driver) Dispense(_ context.Context, chemical string, volumeUL int) error {
	return d.step(station.OpDispense, func() error {
		if d.primed != chemical {
			return fmt.Errorf("sim: dispense %s: pump primed with %q", chemical, d.primed)
		}
		if !d.infusing {
			return fmt.Errorf("sim: dispense %s: needle not in infuse position", chemical)
		}
		if volumeUL <= 0 {
			return fmt.Errorf("sim: dispense %s: volume %d uL must be positive", chemical, volumeUL)
		}
		return nil
	})
}

func (d *Driver) ReturnToHold(context.Context) error {
	return d.step(station.OpReturnToHold, func() error {
		d.infusing = false
		return nil
	})
}

func (d *Driver) Cap(context.Context) error {
	return d.step(station.OpCap, func() error {
		d.capped = true
		return nil
	})
}

func (d *Driver) Decap(context.Context) error {
	return d.step(station.OpDecap, func() error {
		d.capped = false
		return nil
	})
}

func (d *Driver) SetTemperature(_ context.Context, celsius float64) error {
	return d.step(station.OpSetTemperature, func() error {
		d.setpoint = celsius
		return nil
	})
}

// Temperature moves the plate one ramp step toward the regulation target
// (or ambient when idle) and reports the new value.
func (d *Driver) Temperature(_ context.Context, sensor int) (float64, error) {
	var reading float64
	err := d.step(station.OpTemperature, func() error {
		if sensor < 0 {
			return fmt.Errorf("sim: no sensor %d", sensor)
		}
		target := d.settings.AmbientC
		if d.regulating {
			target = d.setpoint
		}
		delta := target - d.plate
		if math.Abs(delta) <= d.settings.RampPerRead {
			d.plate = target
		} else {
			d.plate += math.Copysign(d.settings.RampPerRead, delta)
		}
		reading = d.plate
		return nil
	})
	return reading, err
}

func (d *Driver) StartRegulation(context.Context) error {
	return d.step(station.OpStartRegulation, func() error {
		d.regulating = true
		return nil
	})
}

func (d *Driver) StopRegulation(context.Context) error {
	return d.step(station.OpStopRegulation, func() error {
		d.regulating = false
		return nil
	})
}

func (d *Driver) SetStirSpeed(_ context.Context, rpm int) error {
	return d.step(station.OpSetStirSpeed, func() error {
		if rpm < 0 {
			return fmt.Errorf("sim: stir speed %d rpm must be >= 0", rpm)
		}
		d.stirRPM = rpm
		return nil
	})
}

func (d *Driver) StartStirring(context.Context) error {
	return d.step(station.OpStartStirring, func() error {
		d.stirring = true
		return nil
	})
}

func (d *Driver) StopStirring(context.Context) error {
	return d.step(station.OpStopStirring, func() error {
		d.stirring = false
		return nil
	})
}

func (d *Driver) FilterPrep(_ context.Context, cleaningVial int, solvent string, volumeUL int) error {
	return d.step(station.OpFilterPrep, func() error {
		d.primed = solvent
		return nil
	})
}

func (d *Driver) FilterDiscard(_ context.Context, vial int, volumeUL int) error {
	return d.step(station.OpFilterDiscard, func() error {
		if volumeUL <= 0 {
			return fmt.Errorf("sim: filter vial %d: volume %d uL must be positive", vial, volumeUL)
		}
		return nil
	})
}

func (d *Driver) FilterCollect(_ context.Context, vial int, volumeUL int, filtrateVial int, filterTime time.Duration) error {
	return d.step(station.OpFilterCollect, func() error {
		if vial == filtrateVial {
			return fmt.Errorf("sim: filtrate vial %d is the sample vial", vial)
		}
		if volumeUL <= 0 {
			return fmt.Errorf("sim: filter vial %d: volume %d uL must be positive", vial, volumeUL)
		}
		return nil
	})
}

func (d *Driver) CleanPackdown(_ context.Context, solvent string, volumeUL int) error {
	return d.step(station.OpCleanPackdown, func() error {
		d.primed = solvent
		return nil
	})
}

func (d *Driver) OpenLightbox(context.Context) error {
	return d.step(station.OpOpenLightbox, func() error {
		d.boxOpen = true
		return nil
	})
}

func (d *Driver) CloseLightbox(context.Context) error {
	return d.step(station.OpCloseLightbox, func() error {
		d.boxOpen = false
		return nil
	})
}

func (d *Driver) LightOn(context.Context) error {
	return d.step(station.OpLightOn, func() error {
		d.lightOn = true
		return nil
	})
}

func (d *Driver) LightOff(context.Context) error {
	return d.step(station.OpLightOff, func() error {
		d.lightOn = false
		return nil
	})
}

// Capture renders a small gradient frame. The lightbox must be closed and lit.
func (d *Driver) Capture(context.Context) (station.Frame, error) {
	var frame station.Frame
	err := d.step(station.OpCapture, func() error {
		if d.boxOpen {
			return fmt.Errorf("sim: capture: lightbox is open")
		}
		if !d.lightOn {
			return fmt.Errorf("sim: capture: light is off")
		}
		data, err := renderFrame(32, 24)
		if err != nil {
			return err
		}
		frame = station.Frame{Data: data, Format: "png", CapturedAt: d.clock().UTC()}
		return nil
	})
	return frame, err
}

func renderFrame(w, h int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 160, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("sim: encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
