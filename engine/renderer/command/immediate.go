package command

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
	"github.com/spaghettifunk/anima-core/engine/renderer/resources"
)

// Immediate records fn into a single-use command buffer, submits it and waits
// for it to complete. It is meant for load-time uploads, outside the frame
// loop. A wait that exceeds timeout means the device is lost.
func Immediate(dev driver.Device, tracker *Tracker, buffers *resources.BufferManager, images *resources.ImageManager, timeout time.Duration, fn func(r *Recorder) error) error {
	cb, err := dev.NewCommandBuffer()
	if err != nil {
		return errors.Wrap(err, "single-use command buffer")
	}
	defer cb.Destroy()
	fence, err := dev.NewFence()
	if err != nil {
		return errors.Wrap(err, "single-use fence")
	}
	defer fence.Destroy()

	r := NewRecorder(dev, tracker, buffers, images, nil)
	defer r.ReleaseTransient()
	if err := r.Begin(cb, 0); err != nil {
		return err
	}
	if err := fn(r); err != nil {
		// nothing was submitted; the staging buffers can go right away
		r.Discard()
		return err
	}
	if err := r.End(); err != nil {
		r.Discard()
		return err
	}
	if err := dev.Submit(&driver.Submission{CommandBuffer: cb, Fence: fence}); err != nil {
		r.Discard()
		return errors.Wrap(err, "single-use submit")
	}
	if err := r.Commit(); err != nil {
		return err
	}
	if err := dev.WaitFence(fence, timeout); err != nil {
		if errors.Is(err, core.ErrTimeout) {
			return errors.Wrapf(core.ErrDeviceLost, "single-use submit: %s", err)
		}
		return err
	}
	return nil
}
