package engine

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
	"github.com/spaghettifunk/anima-core/engine/renderer/headless"
	"github.com/spaghettifunk/anima-core/engine/renderer/vulkan"
)

// Window is what the engine needs from the platform layer.
type Window interface {
	Startup(app core.ApplicationConfig) error
	// PumpMessages handles pending window events and reports whether the
	// window is still open.
	PumpMessages() bool
	FramebufferSize() (width, height uint32)
	Shutdown() error
}

// DeviceOpener opens the GPU device for the configured backend. The engine
// calls it at startup and again after every device reset.
type DeviceOpener func(cfg *core.Config, w Window) (driver.Device, error)

// OpenDevice picks the backend named by cfg.Renderer.Backend. The Vulkan
// backend needs a window able to host a surface.
func OpenDevice(cfg *core.Config, w Window) (driver.Device, error) {
	switch cfg.Renderer.Backend {
	case core.BackendHeadless:
		width, height := w.FramebufferSize()
		return headless.New(headless.Options{
			Name:       cfg.Application.Name,
			ImageCount: uint32(cfg.Renderer.FramesInFlight) + 1,
			Width:      width,
			Height:     height,
		}), nil

	case core.BackendVulkan:
		vw, ok := w.(vulkan.Window)
		if !ok {
			return nil, errors.Wrapf(core.ErrInvalidOperation, "window %T cannot host a Vulkan surface", w)
		}
		dev, err := vulkan.Open(vulkan.Options{
			AppName:    cfg.Application.Name,
			Validation: cfg.Renderer.Validation,
			Window:     vw,
		})
		if err != nil {
			return nil, err
		}
		return dev, nil

	default:
		return nil, errors.Wrapf(core.ErrInvalidOperation, "unknown renderer backend %q", cfg.Renderer.Backend)
	}
}

// HeadlessWindow stands in for a platform window when nothing is shown on
// screen. It closes by itself after MaxFrames pumps when MaxFrames is set.
type HeadlessWindow struct {
	MaxFrames uint64

	events *core.EventBus
	width  uint32
	height uint32
	frames uint64
	closed atomic.Bool
}

func NewHeadlessWindow(events *core.EventBus, maxFrames uint64) *HeadlessWindow {
	return &HeadlessWindow{MaxFrames: maxFrames, events: events}
}

func (w *HeadlessWindow) Startup(app core.ApplicationConfig) error {
	if app.Width == 0 || app.Height == 0 {
		return errors.Wrapf(core.ErrInvalidOperation, "window size %dx%d", app.Width, app.Height)
	}
	w.width, w.height = app.Width, app.Height
	core.LogInfo("Headless window %q started at %dx%d.", app.Name, app.Width, app.Height)
	return nil
}

func (w *HeadlessWindow) PumpMessages() bool {
	if w.closed.Load() {
		return false
	}
	w.frames++
	return w.MaxFrames == 0 || w.frames <= w.MaxFrames
}

func (w *HeadlessWindow) FramebufferSize() (uint32, uint32) {
	return w.width, w.height
}

// Resize behaves like a window manager resize: the new size is fired as
// EVENT_CODE_RESIZED.
func (w *HeadlessWindow) Resize(width, height uint32) {
	w.width, w.height = width, height
	if w.events != nil {
		w.events.Fire(core.EVENT_CODE_RESIZED, w, core.EventContext{U32: [4]uint32{width, height}})
	}
}

// Close can be called from any goroutine.
func (w *HeadlessWindow) Close() {
	w.closed.Store(true)
}

func (w *HeadlessWindow) Frames() uint64 {
	return w.frames
}

func (w *HeadlessWindow) Shutdown() error {
	w.closed.Store(true)
	return nil
}
