package station

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/kingrea/vialflow/internal/faults"
	"github.com/kingrea/vialflow/internal/logbook"
)

var (
	// ErrLeaseReleased is returned by commands issued through a released lease.
	ErrLeaseReleased = errors.New("station: lease released")
	// ErrNotConnected is returned when a command is issued before Connect.
	ErrNotConnected = errors.New("station: not connected")
)

const defaultLockRetry = 250 * time.Millisecond

// CommandObserver is told about every completed driver command.
type CommandObserver func(op string, elapsed time.Duration, err error)

// Options configures a Proxy.
type Options struct {
	RackCapacity int
	// LockPath enables the cross-process advisory lock when non-empty.
	LockPath  string
	LockRetry time.Duration
	Log       logbook.Sink
	Observe   CommandObserver
}

// Proxy is the single handle on the rig. It allows one lease holder at a
// time and one in-flight driver command at a time.
type Proxy struct {
	driver    Driver
	capacity  int
	lockPath  string
	lockRetry time.Duration
	log       logbook.Sink
	observe   CommandObserver

	lease chan struct{}
	cmd   sync.Mutex

	mu        sync.Mutex
	connected bool
	locations map[int]Location
}

// New wraps driver in a Proxy.
func New(driver Driver, opts Options) (*Proxy, error) {
	if driver == nil {
		return nil, fmt.Errorf("station: driver is required")
	}
	if opts.RackCapacity < 1 {
		return nil, faults.Configuration("station", "rack capacity must be >= 1, got %d", opts.RackCapacity)
	}
	retry := opts.LockRetry
	if retry <= 0 {
		retry = defaultLockRetry
	}
	return &Proxy{
		driver:    driver,
		capacity:  opts.RackCapacity,
		lockPath:  opts.LockPath,
		lockRetry: retry,
		log:       logbook.OrDiscard(opts.Log),
		observe:   opts.Observe,
		lease:     make(chan struct{}, 1),
		locations: map[int]Location{},
	}, nil
}

// Capacity returns the number of rack slots.
func (p *Proxy) Capacity() int {
	return p.capacity
}

// Connect opens the driver session. Calling it twice is a no-op.
func (p *Proxy) Connect(ctx context.Context) error {
	if p.isConnected() {
		return nil
	}
	if err := p.exec(ctx, OpConnect, p.driver.Connect); err != nil {
		return err
	}
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	p.log.Info("station: connected (rack capacity %d)", p.capacity)
	return nil
}

// Close disconnects the driver. It waits for any in-flight command.
func (p *Proxy) Close(ctx context.Context) error {
	if !p.isConnected() {
		return nil
	}
	err := p.exec(ctx, OpDisconnect, p.driver.Disconnect)
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.log.Info("station: disconnected")
	return nil
}

// Acquire borrows the rig exclusively for owner. It blocks until the
// current holder releases or ctx is done.
func (p *Proxy) Acquire(ctx context.Context, owner string) (*Lease, error) {
	select {
	case p.lease <- struct{}{}:
	case <-ctx.Done():
		return nil, faults.Aborted("acquire", ctx.Err())
	}
	lease := &Lease{proxy: p, owner: owner}
	if p.lockPath != "" {
		fl, err := p.lockFile(ctx)
		if err != nil {
			<-p.lease
			return nil, err
		}
		lease.file = fl
	}
	p.log.Info("station: lease acquired by %s", owner)
	return lease, nil
}

func (p *Proxy) lockFile(ctx context.Context) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(p.lockPath), 0o755); err != nil {
		return nil, faults.New(faults.KindConfiguration, "acquire", err)
	}
	fl := flock.New(p.lockPath)
	ok, err := fl.TryLockContext(ctx, p.lockRetry)
	if err != nil {
		if faults.IsCancellation(err) {
			return nil, faults.Aborted("acquire", err)
		}
		return nil, faults.Hardware("acquire", fmt.Errorf("lock %s: %w", p.lockPath, err))
	}
	if !ok {
		return nil, faults.Hardware("acquire", fmt.Errorf("lock %s is held by another process", p.lockPath))
	}
	return fl, nil
}

// Location returns the last known location of vial. Vials the proxy has
// never moved are assumed to sit in their rack slot.
func (p *Proxy) Location(vial int) Location {
	p.mu.Lock()
	defer p.mu.Unlock()
	if loc, ok := p.locations[vial]; ok {
		return loc
	}
	return LocationRack
}

// Vacant lists the rack slots whose vial is somewhere else on the rig.
func (p *Proxy) Vacant() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var slots []int
	for vial, loc := range p.locations {
		if loc != LocationRack {
			slots = append(slots, vial)
		}
	}
	sort.Ints(slots)
	return slots
}

func (p *Proxy) setLocation(vial int, loc Location) {
	p.mu.Lock()
	p.locations[vial] = loc
	p.mu.Unlock()
}

func (p *Proxy) isConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *Proxy) checkVial(op string, vial int) error {
	if vial < 1 || vial > p.capacity {
		return faults.Newf(faults.KindPositionOutOfRange, op, "vial %d outside rack [1, %d]", vial, p.capacity)
	}
	return nil
}

// exec runs fn under the command mutex. The driver sees a context that is
// never cancelled so an abort cannot cut a motion short.
func (p *Proxy) exec(ctx context.Context, op string, fn func(context.Context) error) error {
	p.cmd.Lock()
	defer p.cmd.Unlock()
	start := time.Now()
	err := fn(context.WithoutCancel(ctx))
	if p.observe != nil {
		p.observe(op, time.Since(start), err)
	}
	return faults.Hardware(op, err)
}

// Lease is exclusive access to the rig for one run.
type Lease struct {
	proxy    *Proxy
	owner    string
	file     *flock.Flock
	released atomic.Bool
}

var _ Commands = (*Lease)(nil)

// Owner returns the name passed to Acquire.
func (l *Lease) Owner() string {
	return l.owner
}

// Location reports the last known location of vial.
func (l *Lease) Location(vial int) Location {
	return l.proxy.Location(vial)
}

// Release hands the rig back. Releasing twice is a no-op.
func (l *Lease) Release() error {
	if !l.released.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if l.file != nil {
		err = l.file.Unlock()
	}
	<-l.proxy.lease
	l.proxy.log.Info("station: lease released by %s", l.owner)
	return err
}

func (l *Lease) do(ctx context.Context, op string, fn func(context.Context) error) error {
	if l.released.Load() {
		return faults.New(faults.KindHardware, op, ErrLeaseReleased)
	}
	if !l.proxy.isConnected() {
		return faults.New(faults.KindHardware, op, ErrNotConnected)
	}
	return l.proxy.exec(ctx, op, fn)
}

// Move carries vial from one location to another. A from that disagrees
// with the tracked location is logged and the move still goes ahead.
func (l *Lease) Move(ctx context.Context, vial int, from, to Location) error {
	if err := l.proxy.checkVial(OpMove, vial); err != nil {
		return err
	}
	if !from.Valid() || !to.Valid() {
		return faults.Newf(faults.KindPositionOutOfRange, OpMove, "unknown location %q -> %q", from, to)
	}
	if last := l.proxy.Location(vial); last != from {
		l.proxy.log.Warn("station: vial %d last seen at %s, moving from %s", vial, last, from)
	}
	err := l.do(ctx, OpMove, func(ctx context.Context) error {
		return l.proxy.driver.Move(ctx, vial, from, to)
	})
	if err != nil {
		return err
	}
	l.proxy.setLocation(vial, to)
	return nil
}

// Dose weighs targetMg of solid and returns the measured mass.
func (l *Lease) Dose(ctx context.Context, solid string, targetMg float64) (float64, error) {
	var actual float64
	err := l.do(ctx, OpDose, func(ctx context.Context) error {
		var err error
		actual, err = l.proxy.driver.Dose(ctx, solid, targetMg)
		return err
	})
	return actual, err
}

func (l *Lease) Prime(ctx context.Context, chemical string) error {
	return l.do(ctx, OpPrime, func(ctx context.Context) error {
		return l.proxy.driver.Prime(ctx, chemical)
	})
}

func (l *Lease) PositionForInfuse(ctx context.Context) error {
	return l.do(ctx, OpPositionForInfuse, l.proxy.driver.PositionForInfuse)
}

func (l *Lease) Dispense(ctx context.Context, chemical string, volumeUL int) error {
	return l.do(ctx, OpDispense, func(ctx context.Context) error {
		return l.proxy.driver.Dispense(ctx, chemical, volumeUL)
	})
}

func (l *Lease) ReturnToHold(ctx context.Context) error {
	return l.do(ctx, OpReturnToHold, l.proxy.driver.ReturnToHold)
}

func (l *Lease) Cap(ctx context.Context) error {
	return l.do(ctx, OpCap, l.proxy.driver.Cap)
}

func (l *Lease) Decap(ctx context.Context) error {
	return l.do(ctx, OpDecap, l.proxy.driver.Decap)
}

func (l *Lease) SetTemperature(ctx context.Context, celsius float64) error {
	return l.do(ctx, OpSetTemperature, func(ctx context.Context) error {
		return l.proxy.driver.SetTemperature(ctx, celsius)
	})
}

// Temperature reads sensor.
func (l *Lease) Temperature(ctx context.Context, sensor int) (float64, error) {
	var reading float64
	err := l.do(ctx, OpTemperature, func(ctx context.Context) error {
		var err error
		reading, err = l.proxy.driver.Temperature(ctx, sensor)
		return err
	})
	return reading, err
}

func (l *Lease) StartRegulation(ctx context.Context) error {
	return l.do(ctx, OpStartRegulation, l.proxy.driver.StartRegulation)
}

func (l *Lease) StopRegulation(ctx context.Context) error {
	return l.do(ctx, OpStopRegulation, l.proxy.driver.StopRegulation)
}

func (l *Lease) SetStirSpeed(ctx context.Context, rpm int) error {
	return l.do(ctx, OpSetStirSpeed, func(ctx context.Context) error {
		return l.proxy.driver.SetStirSpeed(ctx, rpm)
	})
}

func (l *Lease) StartStirring(ctx context.Context) error {
	return l.do(ctx, OpStartStirring, l.proxy.driver.StartStirring)
}

func (l *Lease) StopStirring(ctx context.Context) error {
	return l.do(ctx, OpStopStirring, l.proxy.driver.StopStirring)
}

func (l *Lease) FilterPrep(ctx context.Context, cleaningVial int, solvent string, volumeUL int) error {
	if err := l.proxy.checkVial(OpFilterPrep, cleaningVial); err != nil {
		return err
	}
	return l.do(ctx, OpFilterPrep, func(ctx context.Context) error {
		return l.proxy.driver.FilterPrep(ctx, cleaningVial, solvent, volumeUL)
	})
}

func (l *Lease) FilterDiscard(ctx context.Context, vial int, volumeUL int) error {
	if err := l.proxy.checkVial(OpFilterDiscard, vial); err != nil {
		return err
	}
	return l.do(ctx, OpFilterDiscard, func(ctx context.Context) error {
		return l.proxy.driver.FilterDiscard(ctx, vial, volumeUL)
	})
}

func (l *Lease) FilterCollect(ctx context.Context, vial int, volumeUL int, filtrateVial int, filterTime time.Duration) error {
	if err := l.proxy.checkVial(OpFilterCollect, vial); err != nil {
		return err
	}
	if err := l.proxy.checkVial(OpFilterCollect, filtrateVial); err != nil {
		return err
	}
	return l.do(ctx, OpFilterCollect, func(ctx context.Context) error {
		return l.proxy.driver.FilterCollect(ctx, vial, volumeUL, filtrateVial, filterTime)
	})
}

func (l *Lease) CleanPackdown(ctx context.Context, solvent string, volumeUL int) error {
	return l.do(ctx, OpCleanPackdown, func(ctx context.Context) error {
		return l.proxy.driver.CleanPackdown(ctx, solvent, volumeUL)
	})
}

func (l *Lease) OpenLightbox(ctx context.Context) error {
	return l.do(ctx, OpOpenLightbox, l.proxy.driver.OpenLightbox)
}

func (l *Lease) CloseLightbox(ctx context.Context) error {
	return l.do(ctx, OpCloseLightbox, l.proxy.driver.CloseLightbox)
}

func (l *Lease) LightOn(ctx context.Context) error {
	return l.do(ctx, OpLightOn, l.proxy.driver.LightOn)
}

func (l *Lease) LightOff(ctx context.Context) error {
	return l.do(ctx, OpLightOff, l.proxy.driver.LightOff)
}

// Capture grabs one frame from the lightbox camera.
func (l *Lease) Capture(ctx context.Context) (Frame, error) {
	var frame Frame
	err := l.do(ctx, OpCapture, func(ctx context.Context) error {
		var err error
		frame, err = l.proxy.driver.Capture(ctx)
		return err
	})
	return frame, err
}
