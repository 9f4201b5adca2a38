// Package headless is a software implementation of the driver contract. It
// keeps resource contents in byte slices, executes transfers on submit and
// validates every submitted command stream for synchronization hazards.
package headless

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
)

type Options struct {
	Name string
	// per memory kind, zero means unlimited
	HeapSize [driver.MemoryKindCount]uint64
	// time between a submission and its fence signaling; zero signals on submit
	Latency     time.Duration
	ImageCount  uint32
	Width       uint32
	Height      uint32
	ColorFormat driver.Format
	DepthFormat driver.Format
	// OnHazard is called for every hazard found while replaying a submission.
	OnHazard func(Hazard)
	// FailPipeline makes pipeline creation fail for the named pipelines.
	FailPipeline func(name string) bool
}

func (o *Options) setDefaults() {
	if o.Name == "" {
		o.Name = "headless"
	}
	if o.ImageCount == 0 {
		o.ImageCount = 3
	}
	if o.Width == 0 || o.Height == 0 {
		o.Width, o.Height = 1280, 720
	}
	if o.ColorFormat == driver.FormatUndefined {
		o.ColorFormat = driver.FormatBGRA8Unorm
	}
	if o.DepthFormat == driver.FormatUndefined {
		o.DepthFormat = driver.FormatD32Float
	}
}

// Hazard is a synchronization error found by the validation hook.
type Hazard struct {
	Kind     driver.HazardKind
	Resource string
	// index of the offending command in its command buffer
	Command int
	Detail  string
}

type Device struct {
	opts Options

	mu        sync.Mutex
	heapUsed  [driver.MemoryKindCount]uint64
	lost      bool
	hung      bool
	hazards   []Hazard
	states    map[interface{}]*driver.AccessState
	layouts   map[*image]driver.ImageLayout
	history   [][]Command
	presenter *Presenter
	nextID    uint64

	FenceWaits      atomic.Int64
	Submissions     atomic.Int64
	PipelinesBuilt  atomic.Int64
	LiveAllocations atomic.Int64
}

var _ driver.Device = (*Device)(nil)

func New(opts Options) *Device {
	opts.setDefaults()
	d := &Device{
		opts:    opts,
		states:  make(map[interface{}]*driver.AccessState),
		layouts: make(map[*image]driver.ImageLayout),
	}
	d.presenter = newPresenter(d)
	return d
}

func (d *Device) Name() string {
	return d.opts.Name
}

func (d *Device) Limits() driver.Limits {
	return driver.Limits{
		MinUniformBufferOffsetAlignment: 256,
		NonCoherentAtomSize:             64,
		MaxPushConstantsSize:            128,
		MaxUpdateBufferSize:             65536,
	}
}

// LoseDevice makes every following wait and submit fail with ErrDeviceLost.
func (d *Device) LoseDevice() {
	d.mu.Lock()
	d.lost = true
	d.mu.Unlock()
}

// Hang keeps submitted work from ever completing, so fence waits time out.
func (d *Device) Hang(hung bool) {
	d.mu.Lock()
	d.hung = hung
	d.mu.Unlock()
}

func (d *Device) Hazards() []Hazard {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Hazard(nil), d.hazards...)
}

func (d *Device) ClearHazards() {
	d.mu.Lock()
	d.hazards = nil
	d.mu.Unlock()
}

// Submitted returns the command streams of every submission so far, oldest first.
func (d *Device) Submitted() [][]Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]Command(nil), d.history...)
}

// LastSubmission returns the commands of the most recent submission.
func (d *Device) LastSubmission() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.history) == 0 {
		return nil
	}
	return d.history[len(d.history)-1]
}

func (d *Device) HeapUsed(kind driver.MemoryKind) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.heapUsed[kind]
}

func (d *Device) Presenter() driver.Presenter {
	return d.presenter
}

// HeadlessPresenter gives tests access to the fault injection of the presenter.
func (d *Device) HeadlessPresenter() *Presenter {
	return d.presenter
}

func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return errors.Wrap(core.ErrDeviceLost, "wait idle")
	}
	return nil
}

func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states = make(map[interface{}]*driver.AccessState)
	d.layouts = make(map[*image]driver.ImageLayout)
}

func (d *Device) id() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Device) isLost() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lost
}
