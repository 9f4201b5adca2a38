package engine

import (
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

// Game holds the callbacks the engine drives. Every callback runs on the
// engine loop goroutine. FnInitialize runs again after a device reset, when
// every mesh, texture and instance created on the old device is gone.
type Game struct {
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnRender     Render
	FnOnResize   OnResize
	FnShutdown   Shutdown
}

type Initialize func(e *Engine) error
type Update func(deltaTime float64) error
type Render func(packet *metadata.RenderPacket, deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
