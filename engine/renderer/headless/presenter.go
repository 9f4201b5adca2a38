package headless

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
)

var _ driver.Presenter = (*Presenter)(nil)

// Presenter imitates a FIFO swapchain of ImageCount images.
type Presenter struct {
	dev *Device

	mu        sync.Mutex
	extent    driver.Extent2D
	next      uint32
	acquired  map[uint32]bool
	outOfDate bool
	depth     driver.Image
	// Presented counts successful presents.
	Presented int
	Resizes   int
}

func newPresenter(d *Device) *Presenter {
	return &Presenter{
		dev:      d,
		extent:   driver.Extent2D{Width: d.opts.Width, Height: d.opts.Height},
		acquired: make(map[uint32]bool),
	}
}

// MarkOutOfDate makes the next acquire or present report an out-of-date surface,
// as a window resize would.
func (p *Presenter) MarkOutOfDate() {
	p.mu.Lock()
	p.outOfDate = true
	p.mu.Unlock()
}

func (p *Presenter) Acquire(signal driver.Semaphore, timeout time.Duration) (uint32, error) {
	if p.dev.isLost() {
		return 0, errors.Wrap(core.ErrDeviceLost, "acquire")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outOfDate {
		return 0, errors.Wrap(core.ErrSwapchainOutOfDate, "acquire")
	}
	count := p.dev.opts.ImageCount
	if uint32(len(p.acquired)) >= count {
		return 0, errors.Wrapf(core.ErrTimeout, "no swapchain image available after %s", timeout)
	}
	idx := p.next
	for p.acquired[idx] {
		idx = (idx + 1) % count
	}
	p.next = (idx + 1) % count
	p.acquired[idx] = true

	if sem, ok := signal.(*semaphore); ok && !sem.signal() {
		p.dev.mu.Lock()
		p.dev.report(Hazard{Kind: driver.SemaphoreMisuse, Resource: "semaphore", Command: -1,
			Detail: "acquire signals a semaphore that is already signaled"})
		p.dev.mu.Unlock()
	}
	return idx, nil
}

func (p *Presenter) Present(imageIndex uint32, wait driver.Semaphore) error {
	if p.dev.isLost() {
		return errors.Wrap(core.ErrDeviceLost, "present")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.acquired[imageIndex] {
		return errors.Wrapf(core.ErrInvalidOperation, "present of image %d that was not acquired", imageIndex)
	}
	delete(p.acquired, imageIndex)
	if sem, ok := wait.(*semaphore); ok && !sem.consume() {
		p.dev.mu.Lock()
		p.dev.report(Hazard{Kind: driver.SemaphoreMisuse, Resource: "semaphore", Command: -1,
			Detail: "present waits on a semaphore nothing signaled"})
		p.dev.mu.Unlock()
	}
	if p.outOfDate {
		return errors.Wrap(core.ErrSwapchainOutOfDate, "present")
	}
	p.Presented++
	return nil
}

// Resize recreates the swapchain. Images still held by the application are
// released, as destroying a real swapchain would.
func (p *Presenter) Resize(width, height uint32) error {
	if width == 0 || height == 0 {
		return errors.Wrapf(core.ErrInvalidOperation, "resize to %dx%d", width, height)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.extent = driver.Extent2D{Width: width, Height: height}
	p.acquired = make(map[uint32]bool)
	p.next = 0
	p.outOfDate = false
	p.depth = nil
	p.Resizes++
	return nil
}

func (p *Presenter) Extent() driver.Extent2D {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.extent
}

func (p *Presenter) ColorFormat() driver.Format { return p.dev.opts.ColorFormat }

func (p *Presenter) DepthFormat() driver.Format { return p.dev.opts.DepthFormat }

func (p *Presenter) ImageCount() uint32 { return p.dev.opts.ImageCount }

func (p *Presenter) AttachDepth(img driver.Image) error {
	desc := img.Desc()
	ext := p.Extent()
	if desc.Width != ext.Width || desc.Height != ext.Height || !desc.Format.IsDepth() {
		return errors.Wrapf(core.ErrInvalidOperation, "depth attachment %dx%d does not match surface %dx%d",
			desc.Width, desc.Height, ext.Width, ext.Height)
	}
	p.mu.Lock()
	p.depth = img
	p.mu.Unlock()
	return nil
}
