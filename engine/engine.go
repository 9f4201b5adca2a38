package engine

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-core/engine/assets"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-core/engine/renderer/pipeline"
	"github.com/spaghettifunk/anima-core/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// consecutive fence or acquire timeouts treated as a lost device
const maxConsecutiveTimeouts = 3

type Options struct {
	Config *core.Config
	// ConfigPath is watched for runtime changes when set.
	ConfigPath string
	Window     Window
	// Events is shared with the window. Created when nil.
	Events *core.EventBus
	// OpenDevice defaults to OpenDevice.
	OpenDevice DeviceOpener
	// Shaders defaults to the compiled shaders under the renderer shader dir.
	Shaders pipeline.ShaderSource
}

type Engine struct {
	currentStage  Stage
	gameInstance  *Game
	cfg           *core.Config
	configPath    string
	events        *core.EventBus
	window        Window
	openDevice    DeviceOpener
	shaders       pipeline.ShaderSource
	device        driver.Device
	renderer      *renderer.Renderer
	systemManager *systems.SystemManager
	assetManager  *assets.AssetManager
	configWatcher *core.ConfigWatcher
	clock         *core.Clock
	lastTime      float64
	width         uint32
	height        uint32
	isSuspended   bool
	resets        int
	timeouts      int

	isRunning      atomic.Bool
	shadersChanged atomic.Bool
	shutdownOnce   sync.Once
}

func New(g *Game, opts Options) (*Engine, error) {
	if g == nil {
		return nil, errors.Wrap(core.ErrInvalidOperation, "engine needs a game")
	}
	if opts.Window == nil {
		return nil, errors.Wrap(core.ErrInvalidOperation, "engine needs a window")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(core.ErrInvalidOperation, "engine config: %s", err)
	}
	events := opts.Events
	if events == nil {
		events = core.NewEventBus()
	}
	openDevice := opts.OpenDevice
	if openDevice == nil {
		openDevice = OpenDevice
	}

	am, err := assets.NewAssetManager(cfg.Application.AssetDir)
	if err != nil {
		return nil, err
	}

	return &Engine{
		currentStage: EngineStageBootComplete,
		gameInstance: g,
		cfg:          cfg,
		configPath:   opts.ConfigPath,
		events:       events,
		window:       opts.Window,
		openDevice:   openDevice,
		shaders:      opts.Shaders,
		assetManager: am,
		clock:        core.NewClock(),
		width:        cfg.Application.Width,
		height:       cfg.Application.Height,
	}, nil
}

// Initialize starts the window and the watchers, opens the device, builds
// the renderer and the systems on top of it and initializes the game.
func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageBootComplete {
		return errors.Wrap(core.ErrInvalidOperation, "engine initialized twice")
	}
	e.currentStage = EngineStageInitializing

	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.events.Register(core.EVENT_CODE_RESIZED, e, e.onResized)

	if err := e.window.Startup(e.cfg.Application); err != nil {
		return err
	}
	e.width, e.height = e.window.FramebufferSize()

	if err := e.startWatchers(); err != nil {
		return err
	}
	if err := e.startRenderer(); err != nil {
		return err
	}
	if err := e.initializeGame(); err != nil {
		return err
	}

	e.isRunning.Store(true)
	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) startWatchers() error {
	if e.configPath != "" {
		cw, err := core.WatchConfig(e.configPath, core.ApplyRuntimeConfig)
		if err != nil {
			return err
		}
		e.configWatcher = cw
	}

	if _, err := os.Stat(e.assetManager.Root()); err != nil {
		core.LogWarn("asset directory %s not readable, not watching: %s", e.assetManager.Root(), err)
		return nil
	}
	return e.assetManager.Watch(func(assetType assets.AssetType, name string) {
		core.LogInfo("%s asset changed: %s", assetType, name)
		if assetType == assets.AssetTypeShader {
			e.shadersChanged.Store(true)
		}
	})
}

func (e *Engine) startRenderer() error {
	dev, err := e.openDevice(e.cfg, e.window)
	if err != nil {
		return errors.Wrap(err, "opening device")
	}
	r, err := renderer.New(renderer.Options{
		Config:  e.cfg,
		Device:  dev,
		Shaders: e.shaders,
		Events:  e.events,
	})
	if err != nil {
		dev.Close()
		return errors.Wrap(err, "creating renderer")
	}
	sm, err := systems.NewSystemManager(r)
	if err != nil {
		r.Shutdown()
		dev.Close()
		return err
	}
	e.device, e.renderer, e.systemManager = dev, r, sm
	core.LogInfo("Renderer started on %s.", dev.Name())
	return nil
}

func (e *Engine) stopRenderer() {
	if e.systemManager != nil {
		if err := e.systemManager.Shutdown(); err != nil {
			core.LogError("systems shutdown: %s", err)
		}
		e.systemManager = nil
	}
	if e.renderer != nil {
		e.renderer.Shutdown()
		e.renderer = nil
	}
	if e.device != nil {
		e.device.Close()
		e.device = nil
	}
}

func (e *Engine) initializeGame() error {
	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e); err != nil {
			return errors.Wrap(err, "game initialize")
		}
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
			return errors.Wrap(err, "game resize")
		}
	}
	return nil
}

// Run drives frames until the window closes, a quit is requested or an
// unrecoverable error happens.
func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return errors.Wrap(core.ErrInvalidOperation, "engine not initialized")
	}
	e.currentStage = EngineStageRunning

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning.Load() {
		if !e.window.PumpMessages() {
			e.isRunning.Store(false)
			break
		}
		if !e.isRunning.Load() {
			break
		}
		if e.isSuspended {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if err := e.frame(); err != nil {
			e.isRunning.Store(false)
			return err
		}
	}
	return nil
}

func (e *Engine) frame() error {
	if e.shadersChanged.Swap(false) {
		core.LogInfo("Shaders changed, rebuilding pipelines.")
		if err := e.renderer.ReloadShaders(); err != nil {
			if err := e.handleFrameError(err); err != nil {
				return err
			}
		}
	}

	e.clock.Update()
	currentTime := e.clock.Elapsed()
	delta := currentTime - e.lastTime
	e.lastTime = currentTime

	if e.gameInstance.FnUpdate != nil {
		if err := e.gameInstance.FnUpdate(delta); err != nil {
			return errors.Wrap(err, "game update")
		}
	}

	packet := &metadata.RenderPacket{DeltaTime: delta}
	if e.gameInstance.FnRender != nil {
		if err := e.gameInstance.FnRender(packet, delta); err != nil {
			return errors.Wrap(err, "game render")
		}
	}

	return e.handleFrameError(e.renderer.DrawFrame(packet))
}

// handleFrameError decides what a failed frame costs. A lost device, or a
// GPU that keeps timing out, rebuilds the renderer. Anything else loses
// only the frame.
func (e *Engine) handleFrameError(err error) error {
	switch {
	case err == nil:
		e.timeouts = 0
		return nil
	case core.IsFatal(err):
		return e.resetDevice(err)
	case errors.Is(err, core.ErrTimeout):
		e.timeouts++
		core.LogWarn("frame timed out (%d in a row): %s", e.timeouts, err)
		if e.timeouts >= maxConsecutiveTimeouts {
			return e.resetDevice(errors.Wrap(core.ErrDeviceLost, err.Error()))
		}
		return nil
	default:
		core.LogError("frame dropped: %s", err)
		return nil
	}
}

// resetDevice tears down everything built on the device and starts over on
// a fresh one. The game is initialized again once the renderer is back.
func (e *Engine) resetDevice(cause error) error {
	if e.resets >= e.cfg.Renderer.MaxDeviceResets {
		return errors.Wrapf(cause, "giving up after %d device resets", e.resets)
	}
	e.resets++
	e.timeouts = 0
	core.LogWarn("Device lost (%s), resetting renderer (%d/%d).", cause, e.resets, e.cfg.Renderer.MaxDeviceResets)

	e.stopRenderer()
	if err := e.startRenderer(); err != nil {
		return errors.CombineErrors(cause, err)
	}
	e.events.Fire(core.EVENT_CODE_DEVICE_RESET, e, core.EventContext{I64: [2]int64{int64(e.resets)}})
	return e.initializeGame()
}

// RequestQuit stops the loop after the current frame. Safe from any goroutine.
func (e *Engine) RequestQuit() {
	e.isRunning.Store(false)
}

// Shutdown can be called more than once; only the first call does anything.
func (e *Engine) Shutdown() error {
	var err error
	e.shutdownOnce.Do(func() {
		e.currentStage = EngineStageShuttingDown
		e.isRunning.Store(false)
		e.clock.Stop()

		if e.gameInstance.FnShutdown != nil {
			err = errors.CombineErrors(err, e.gameInstance.FnShutdown())
		}
		e.stopRenderer()
		if e.configWatcher != nil {
			err = errors.CombineErrors(err, e.configWatcher.Close())
		}
		err = errors.CombineErrors(err, e.assetManager.Close())

		e.events.Unregister(core.EVENT_CODE_APPLICATION_QUIT, e)
		e.events.Unregister(core.EVENT_CODE_RESIZED, e)
		err = errors.CombineErrors(err, e.window.Shutdown())
		e.currentStage = EngineStageUninitialized
	})
	return err
}

func (e *Engine) Stage() Stage { return e.currentStage }

func (e *Engine) Config() *core.Config { return e.cfg }

func (e *Engine) Events() *core.EventBus { return e.events }

func (e *Engine) Renderer() *renderer.Renderer { return e.renderer }

func (e *Engine) Systems() *systems.SystemManager { return e.systemManager }

func (e *Engine) Assets() *assets.AssetManager { return e.assetManager }

// DeviceResets returns how many times the renderer was rebuilt.
func (e *Engine) DeviceResets() int { return e.resets }

// GetFramebufferSize returns the width and height (in this order)
// of the application Framebuffer
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) onEvent(code core.SystemEventCode, _ interface{}, _ core.EventContext) bool {
	if code == core.EVENT_CODE_APPLICATION_QUIT {
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning.Store(false)
	}
	return false
}

// onResized leaves the event unhandled so the renderer sees it too.
func (e *Engine) onResized(_ core.SystemEventCode, _ interface{}, data core.EventContext) bool {
	width, height := data.U32[0], data.U32[1]
	if width == e.width && height == e.height {
		return false
	}
	e.width, e.height = width, height
	core.LogDebug("Window resize: %d, %d", width, height)

	// Handle minimization
	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return false
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(width, height); err != nil {
			core.LogError("game resize: %s", err)
		}
	}
	return false
}
