package headless

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
)

type fence struct {
	mu       sync.Mutex
	signaled chan struct{}
	isSet    bool
}

func newFence() *fence {
	return &fence{signaled: make(chan struct{})}
}

func (f *fence) signal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.isSet {
		f.isSet = true
		close(f.signaled)
	}
}

func (f *fence) Destroy() {}

func (d *Device) NewFence() (driver.Fence, error) {
	return newFence(), nil
}

func (d *Device) WaitFence(df driver.Fence, timeout time.Duration) error {
	f, ok := df.(*fence)
	if !ok {
		return errors.Wrap(core.ErrInvalidHandle, "wait fence")
	}
	d.FenceWaits.Add(1)
	if d.isLost() {
		return errors.Wrap(core.ErrDeviceLost, "wait fence")
	}
	f.mu.Lock()
	ch := f.signaled
	f.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C:
		if d.isLost() {
			return errors.Wrap(core.ErrDeviceLost, "wait fence")
		}
		return errors.Wrapf(core.ErrTimeout, "fence not signaled after %s", timeout)
	}
}

func (d *Device) ResetFence(df driver.Fence) error {
	f, ok := df.(*fence)
	if !ok {
		return errors.Wrap(core.ErrInvalidHandle, "reset fence")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.isSet {
		f.isSet = false
		f.signaled = make(chan struct{})
	}
	return nil
}

// FenceSignaled reports the current state without waiting.
func (d *Device) FenceSignaled(df driver.Fence) bool {
	f, ok := df.(*fence)
	if !ok {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.isSet
}

type semaphore struct {
	mu        sync.Mutex
	signaled  bool
	destroyed bool
}

func (d *Device) NewSemaphore() (driver.Semaphore, error) {
	return &semaphore{}, nil
}

func (s *semaphore) Destroy() {
	s.mu.Lock()
	s.destroyed = true
	s.mu.Unlock()
}

// signal returns false if the semaphore was already signaled.
func (s *semaphore) signal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signaled {
		return false
	}
	s.signaled = true
	return true
}

// consume returns false if nothing signaled the semaphore.
func (s *semaphore) consume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.signaled {
		return false
	}
	s.signaled = false
	return true
}
