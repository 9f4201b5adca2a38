// Package frame paces the CPU against the GPU. Up to N frames are in flight;
// each owns a slot with its own command buffer, fence and semaphores, and a
// slot is only reused once its previous submission has completed.
package frame

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
)

type slot struct {
	commandBuffer  driver.CommandBuffer
	fence          driver.Fence
	imageAvailable driver.Semaphore
	renderFinished driver.Semaphore
	// pending is set while a submission signaling fence is outstanding
	pending bool
}

// Frame is one acquired frame, valid from Begin to Present or Abandon.
type Frame struct {
	Number        uint64
	Slot          int
	ImageIndex    uint32
	CommandBuffer driver.CommandBuffer
	submitted     bool
	done          bool
}

type Synchronizer struct {
	dev            driver.Device
	presenter      driver.Presenter
	slots          []slot
	imagesInFlight []int
	fenceTimeout   time.Duration
	acquireTimeout time.Duration
	frameNumber    uint64
}

type Options struct {
	FramesInFlight int
	FenceTimeout   time.Duration
	AcquireTimeout time.Duration
}

func New(dev driver.Device, opts Options) (*Synchronizer, error) {
	if opts.FramesInFlight < 1 || opts.FramesInFlight > core.MaxFramesInFlight {
		return nil, errors.Wrapf(core.ErrInvalidOperation, "%d frames in flight", opts.FramesInFlight)
	}
	if opts.FenceTimeout <= 0 || opts.AcquireTimeout <= 0 {
		return nil, errors.Wrap(core.ErrInvalidOperation, "synchronizer timeouts must be bounded")
	}
	presenter := dev.Presenter()
	if presenter == nil {
		return nil, errors.Wrapf(core.ErrInvalidOperation, "device %s cannot present", dev.Name())
	}
	s := &Synchronizer{
		dev:            dev,
		presenter:      presenter,
		fenceTimeout:   opts.FenceTimeout,
		acquireTimeout: opts.AcquireTimeout,
	}
	for i := 0; i < opts.FramesInFlight; i++ {
		sl, err := s.newSlot()
		if err != nil {
			s.Destroy()
			return nil, errors.Wrapf(err, "frame slot %d", i)
		}
		s.slots = append(s.slots, sl)
	}
	s.resetImages()
	core.LogDebug("frame synchronizer: %d frames in flight, %d swapchain images", len(s.slots), len(s.imagesInFlight))
	return s, nil
}

func (s *Synchronizer) newSlot() (slot, error) {
	var sl slot
	var err error
	if sl.commandBuffer, err = s.dev.NewCommandBuffer(); err != nil {
		return sl, err
	}
	// fences start unsignaled; nothing waits on them before the first submit
	if sl.fence, err = s.dev.NewFence(); err != nil {
		sl.commandBuffer.Destroy()
		return sl, err
	}
	if sl.imageAvailable, err = s.dev.NewSemaphore(); err != nil {
		sl.destroy()
		return sl, err
	}
	if sl.renderFinished, err = s.dev.NewSemaphore(); err != nil {
		sl.destroy()
		return sl, err
	}
	return sl, nil
}

func (sl *slot) destroy() {
	for _, d := range []driver.Destroyer{sl.commandBuffer, sl.fence, sl.imageAvailable, sl.renderFinished} {
		if d != nil {
			d.Destroy()
		}
	}
}

func (s *Synchronizer) resetImages() {
	s.imagesInFlight = make([]int, s.presenter.ImageCount())
	for i := range s.imagesInFlight {
		s.imagesInFlight[i] = -1
	}
}

func (s *Synchronizer) FramesInFlight() int { return len(s.slots) }

// FrameNumber is the number the next Begin will use.
func (s *Synchronizer) FrameNumber() uint64 { return s.frameNumber }

// Pending reports whether slot i has a submission that has not been waited on.
func (s *Synchronizer) Pending(i int) bool {
	return i >= 0 && i < len(s.slots) && s.slots[i].pending
}

// Wait blocks until the last submission of slot i completes. A slot that was
// never submitted, or was already waited on, returns at once. A fence that
// does not signal within the timeout means the device is lost.
func (s *Synchronizer) Wait(i int) error {
	if i < 0 || i >= len(s.slots) {
		return errors.Wrapf(core.ErrInvalidOperation, "frame slot %d of %d", i, len(s.slots))
	}
	sl := &s.slots[i]
	if !sl.pending {
		return nil
	}
	if err := s.dev.WaitFence(sl.fence, s.fenceTimeout); err != nil {
		if errors.Is(err, core.ErrTimeout) {
			return errors.Wrapf(core.ErrDeviceLost, "frame slot %d: %s", i, err)
		}
		return errors.Wrapf(err, "frame slot %d", i)
	}
	sl.pending = false
	return nil
}

// WaitAll waits for every slot, before teardown or swapchain recreation.
func (s *Synchronizer) WaitAll() error {
	for i := range s.slots {
		if err := s.Wait(i); err != nil {
			return err
		}
	}
	return nil
}

// Begin waits for the slot of the next frame, resets it and acquires a
// swapchain image. It returns core.ErrSwapchainOutOfDate when the surface must
// be recreated first; nothing has been submitted in that case.
func (s *Synchronizer) Begin() (*Frame, error) {
	i := int(s.frameNumber % uint64(len(s.slots)))
	if err := s.Wait(i); err != nil {
		return nil, err
	}
	sl := &s.slots[i]
	if err := s.dev.ResetFence(sl.fence); err != nil {
		return nil, errors.Wrap(err, "reset fence")
	}
	if err := sl.commandBuffer.Reset(); err != nil {
		return nil, errors.Wrap(err, "reset command buffer")
	}

	idx, err := s.presenter.Acquire(sl.imageAvailable, s.acquireTimeout)
	switch {
	case errors.Is(err, core.ErrSwapchainOutOfDate):
		return nil, err
	case errors.Is(err, core.ErrTimeout):
		return nil, errors.Wrapf(core.ErrDeviceLost, "acquire: %s", err)
	case err != nil:
		return nil, errors.Wrap(err, "acquire")
	}
	if int(idx) >= len(s.imagesInFlight) {
		return nil, errors.Wrapf(core.ErrInvalidOperation, "presenter returned image %d of %d", idx, len(s.imagesInFlight))
	}

	// the image may still be rendered by another slot when images outnumber slots
	if owner := s.imagesInFlight[idx]; owner >= 0 && owner != i {
		if err := s.Wait(owner); err != nil {
			return nil, err
		}
	}
	s.imagesInFlight[idx] = i

	return &Frame{
		Number:        s.frameNumber,
		Slot:          i,
		ImageIndex:    idx,
		CommandBuffer: sl.commandBuffer,
	}, nil
}

// Submit queues the recorded command buffer of f. It waits for the image to
// be available and signals render-finished and the slot fence.
func (s *Synchronizer) Submit(f *Frame) error {
	if f.submitted || f.done {
		return errors.Wrapf(core.ErrInvalidOperation, "frame %d already submitted", f.Number)
	}
	sl := &s.slots[f.Slot]
	err := s.dev.Submit(&driver.Submission{
		CommandBuffer: sl.commandBuffer,
		Wait:          sl.imageAvailable,
		WaitStage:     driver.StageColorAttachmentOutput,
		Signal:        sl.renderFinished,
		Fence:         sl.fence,
	})
	if err != nil {
		return errors.Wrapf(err, "submit frame %d", f.Number)
	}
	sl.pending = true
	f.submitted = true
	return nil
}

// Present hands the image of a submitted frame back to the presenter and
// ends the frame. core.ErrSwapchainOutOfDate still ends the frame.
func (s *Synchronizer) Present(f *Frame) error {
	if !f.submitted || f.done {
		return errors.Wrapf(core.ErrInvalidOperation, "present of frame %d that was not submitted", f.Number)
	}
	f.done = true
	s.frameNumber++
	err := s.presenter.Present(f.ImageIndex, s.slots[f.Slot].renderFinished)
	if err != nil && !errors.Is(err, core.ErrSwapchainOutOfDate) {
		return errors.Wrapf(err, "present frame %d", f.Number)
	}
	return err
}

// Abandon gives up a frame that was begun but not submitted. Its
// image-available semaphore may be signaled with nobody waiting, so it is
// replaced.
func (s *Synchronizer) Abandon(f *Frame) error {
	if f.submitted || f.done {
		return errors.Wrapf(core.ErrInvalidOperation, "abandon of submitted frame %d", f.Number)
	}
	f.done = true
	sl := &s.slots[f.Slot]
	sem, err := s.dev.NewSemaphore()
	if err != nil {
		return errors.Wrap(err, "replace image-available semaphore")
	}
	sl.imageAvailable.Destroy()
	sl.imageAvailable = sem
	if s.imagesInFlight[f.ImageIndex] == f.Slot {
		s.imagesInFlight[f.ImageIndex] = -1
	}
	core.LogDebug("frame %d abandoned in slot %d", f.Number, f.Slot)
	return nil
}

// SurfaceChanged forgets which slot rendered which image, after the presenter
// was resized. Callers wait for every slot first.
func (s *Synchronizer) SurfaceChanged() {
	s.resetImages()
}

func (s *Synchronizer) Destroy() {
	for i := range s.slots {
		s.slots[i].destroy()
	}
	s.slots = nil
}
