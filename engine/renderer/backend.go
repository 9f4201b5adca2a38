package renderer

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/command"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
	"github.com/spaghettifunk/anima-core/engine/renderer/memory"
	"github.com/spaghettifunk/anima-core/engine/renderer/resources"
)

// backend is the device together with the state that lives exactly as long
// as it: memory, the resource tables, deferred deletion and the hazard
// tracker shared by every recorder.
type backend struct {
	dev       driver.Device
	presenter driver.Presenter
	allocator *memory.Allocator
	buffers   *resources.BufferManager
	images    *resources.ImageManager
	deletion  *resources.DeletionQueue
	tracker   *command.Tracker
}

func newBackend(dev driver.Device, cfg *core.Config) (*backend, error) {
	if dev == nil {
		return nil, errors.Wrap(core.ErrInvalidOperation, "renderer needs a device")
	}
	presenter := dev.Presenter()
	if presenter == nil {
		return nil, errors.Wrapf(core.ErrInvalidOperation, "device %s cannot present", dev.Name())
	}
	allocator := memory.NewAllocator(dev, cfg.Memory)
	core.LogInfo("renderer backend: %s (%d frames in flight)", dev.Name(), cfg.Renderer.FramesInFlight)
	return &backend{
		dev:       dev,
		presenter: presenter,
		allocator: allocator,
		buffers:   resources.NewBufferManager(dev, allocator),
		images:    resources.NewImageManager(dev, allocator),
		deletion:  resources.NewDeletionQueue(cfg.Renderer.FramesInFlight),
		tracker:   command.NewTracker(),
	}, nil
}

// destroy releases everything still alive. The device must be idle.
func (b *backend) destroy() {
	if n := b.deletion.Flush(); n > 0 {
		core.LogDebug("flushed %d deferred deletions", n)
	}
	if n := b.buffers.Live(); n > 0 {
		core.LogDebug("destroying %d buffers still alive", n)
	}
	b.buffers.DestroyAll()
	b.images.DestroyAll()
	b.allocator.Destroy()
}
