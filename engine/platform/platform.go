package platform

import (
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-core/engine/core"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

// Platform is a glfw window without a client API, ready for a Vulkan
// surface. Resizes and close requests are fired on the event bus.
type Platform struct {
	Window *glfw.Window
	events *core.EventBus
}

func New(events *core.EventBus) *Platform {
	return &Platform{events: events}
}

func (p *Platform) Startup(app core.ApplicationConfig) error {
	if err := glfw.Init(); err != nil {
		return errors.Wrap(err, "initializing glfw")
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		return errors.Wrap(core.ErrInvalidOperation, "glfw reports no Vulkan loader")
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(app.Width), int(app.Height), app.Name, nil, nil)
	if err != nil {
		glfw.Terminate()
		return errors.Wrap(err, "creating window")
	}
	p.Window = window

	p.Window.SetKeyCallback(p.keyCallback)
	p.Window.SetFramebufferSizeCallback(p.framebufferSizeCallback)
	p.Window.SetCloseCallback(p.closeCallback)
	p.Window.SetPos(int(app.StartX), int(app.StartY))
	p.Window.Show()
	return nil
}

func (p *Platform) Shutdown() error {
	if p.Window != nil {
		p.Window.Destroy()
		p.Window = nil
	}
	glfw.Terminate()
	return nil
}

// PumpMessages processes pending window events and reports whether the
// window is still open.
func (p *Platform) PumpMessages() bool {
	glfw.PollEvents()
	return !p.Window.ShouldClose()
}

func (p *Platform) GetAbsoluteTime() float64 {
	return glfw.GetTime()
}

func (p *Platform) InstanceProcAddr() unsafe.Pointer {
	return glfw.GetVulkanGetInstanceProcAddress()
}

func (p *Platform) RequiredInstanceExtensions() []string {
	return p.Window.GetRequiredInstanceExtensions()
}

func (p *Platform) CreateSurface(instance vk.Instance) (vk.Surface, error) {
	ptr, err := p.Window.CreateWindowSurface(instance, nil)
	if err != nil {
		return vk.NullSurface, errors.Wrap(err, "creating window surface")
	}
	return vk.SurfaceFromPointer(ptr), nil
}

func (p *Platform) FramebufferSize() (uint32, uint32) {
	w, h := p.Window.GetFramebufferSize()
	return uint32(w), uint32(h)
}

func (p *Platform) keyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	if key == glfw.KeyEscape && action == glfw.Press {
		p.events.Fire(core.EVENT_CODE_APPLICATION_QUIT, p, core.EventContext{})
	}
}

func (p *Platform) closeCallback(w *glfw.Window) {
	p.events.Fire(core.EVENT_CODE_APPLICATION_QUIT, p, core.EventContext{})
}

func (p *Platform) framebufferSizeCallback(w *glfw.Window, width, height int) {
	p.events.Fire(core.EVENT_CODE_RESIZED, p, core.EventContext{
		U32: [4]uint32{uint32(width), uint32(height)},
	})
}
