// Package stationtest provides a call-recording station driver for tests.
package stationtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kingrea/vialflow/internal/station"
)

// Call is one driver command as the rig received it.
type Call struct {
	Op   string
	Args []any
}

// String renders the call as op(arg, arg).
func (c Call) String() string {
	if len(c.Args) == 0 {
		return c.Op
	}
	parts := make([]string, len(c.Args))
	for i, arg := range c.Args {
		parts[i] = fmt.Sprint(arg)
	}
	return c.Op + "(" + strings.Join(parts, ", ") + ")"
}

// Rig records every command and answers with scripted values. Failures
// injected with FailOn are returned after the call is recorded.
type Rig struct {
	// Delay is slept inside every command.
	Delay time.Duration

	mu           sync.Mutex
	calls        []Call
	failures     map[string]error
	temperatures []float64
	doses        []float64
	setpoint     float64
	inFlight     int
	maxInFlight  int
}

var _ station.Driver = (*Rig)(nil)

// New returns an empty rig.
func New() *Rig {
	return &Rig{failures: map[string]error{}, setpoint: 20}
}

// FailOn makes every later call to op return err.
func (r *Rig) FailOn(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[op] = err
}

// ScriptTemperatures queues sensor readings. The last one repeats; with
// nothing queued the rig reports the current setpoint.
func (r *Rig) ScriptTemperatures(readings ...float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.temperatures = append(r.temperatures, readings...)
}

// ScriptDoses queues dosing results. With nothing queued Dose returns the
// target.
func (r *Rig) ScriptDoses(actualMg ...float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doses = append(r.doses, actualMg...)
}

// Calls returns a copy of the call log.
func (r *Rig) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Ops returns the op names of the call log in order.
func (r *Rig) Ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := make([]string, len(r.calls))
	for i, call := range r.calls {
		ops[i] = call.Op
	}
	return ops
}

// Count returns how many times op was called.
func (r *Rig) Count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, call := range r.calls {
		if call.Op == op {
			n++
		}
	}
	return n
}

// MaxInFlight reports the highest number of commands that overlapped.
func (r *Rig) MaxInFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxInFlight
}

// Reset clears the call log.
func (r *Rig) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *Rig) record(op string, args ...any) error {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Op: op, Args: args})
	r.inFlight++
	if r.inFlight > r.maxInFlight {
		r.maxInFlight = r.inFlight
	}
	err := r.failures[op]
	delay := r.Delay
	r.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()
	return err
}

func (r *Rig) Connect(context.Context) error    { return r.record(station.OpConnect) }
func (r *Rig) Disconnect(context.Context) error { return r.record(station.OpDisconnect) }

func (r *Rig) Move(_ context.Context, vial int, from, to station.Location) error {
	return r.record(station.OpMove, vial, from, to)
}

func (r *Rig) Dose(_ context.Context, solid string, targetMg float64) (float64, error) {
	if err := r.record(station.OpDose, solid, targetMg); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.doses) == 0 {
		return targetMg, nil
	}
	actual := r.doses[0]
	r.doses = r.doses[1:]
	return actual, nil
}

func (r *Rig) Prime(_ context.Context, chemical string) error {
	return r.record(station.OpPrime, chemical)
}

func (r *Rig) PositionForInfuse(context.Context) error {
	return r.record(station.OpPositionForInfuse)
}

func (r *Rig) Dispense(_ context.Context, chemical string, volumeUL int) error {
	return r.record(station.OpDispense, chemical, volumeUL)
}

func (r *Rig) ReturnToHold(context.Context) error { return r.record(station.OpReturnToHold) }
func (r *Rig) Cap(context.Context) error          { return r.record(station.OpCap) }
func (r *Rig) Decap(context.Context) error        { return r.record(station.OpDecap) }

func (r *Rig) SetTemperature(_ context.Context, celsius float64) error {
	if err := r.record(station.OpSetTemperature, celsius); err != nil {
		return err
	}
	r.mu.Lock()
	r.setpoint = celsius
	r.mu.Unlock()
	return nil
}

func (r *Rig) Temperature(_ context.Context, sensor int) (float64, error) {
	if err := r.record(station.OpTemperature, sensor); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	switch len(r.temperatures) {
	case 0:
		return r.setpoint, nil
	case 1:
		return r.temperatures[0], nil
	}
	reading := r.temperatures[0]
	r.temperatures = r.temperatures[1:]
	return reading, nil
}

func (r *Rig) StartRegulation(context.Context) error { return r.record(station.OpStartRegulation) }
func (r *Rig) StopRegulation(context.Context) error  { return r.record(station.OpStopRegulation) }

func (r *Rig) SetStirSpeed(_ context.Context, rpm int) error {
	return r.record(station.OpSetStirSpeed, rpm)
}

func (r *Rig) StartStirring(context.Context) error { return r.record(station.OpStartStirring) }
func (r *Rig) StopStirring(context.Context) error  { return r.record(station.OpStopStirring) }

func (r *Rig) FilterPrep(_ context.Context, cleaningVial int, solvent string, volumeUL int) error {
	return r.record(station.OpFilterPrep, cleaningVial, solvent, volumeUL)
}

func (r *Rig) FilterDiscard(_ context.Context, vial int, volumeUL int) error {
	return r.record(station.OpFilterDiscard, vial, volumeUL)
}

func (r *Rig) FilterCollect(_ context.Context, vial int, volumeUL int, filtrateVial int, filterTime time.Duration) error {
	return r.record(station.OpFilterCollect, vial, volumeUL, filtrateVial, filterTime)
}

func (r *Rig) CleanPackdown(_ context.Context, solvent string, volumeUL int) error {
	return r.record(station.OpCleanPackdown, solvent, volumeUL)
}

func (r *Rig) OpenLightbox(context.Context) error  { return r.record(station.OpOpenLightbox) }
func (r *Rig) CloseLightbox(context.Context) error { return r.record(station.OpCloseLightbox) }
func (r *Rig) LightOn(context.Context) error       { return r.record(station.OpLightOn) }
func (r *Rig) LightOff(context.Context) error      { return r.record(station.OpLightOff) }

// Capture returns a tiny fake PNG payload.
func (r *Rig) Capture(context.Context) (station.Frame, error) {
	if err := r.record(station.OpCapture); err != nil {
		return station.Frame{}, err
	}
	return station.Frame{Data: []byte("\x89PNG-fake"), Format: "png", CapturedAt: time.Unix(0, 0).UTC()}, nil
}
