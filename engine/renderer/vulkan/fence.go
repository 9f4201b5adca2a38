package vulkan

import (
	"time"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
)

type VulkanFence struct {
	dev    *Device
	Handle vk.Fence
}

func (d *Device) NewFence() (driver.Fence, error) {
	var handle vk.Fence
	if res := vk.CreateFence(d.logical, &vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}, nil, &handle); res != vk.Success {
		return nil, d.resultError(res, "creating fence")
	}
	return &VulkanFence{dev: d, Handle: handle}, nil
}

func (vf *VulkanFence) Destroy() {
	if vf.Handle != nil {
		vk.DestroyFence(vf.dev.logical, vf.Handle, nil)
		vf.Handle = nil
	}
}

func (d *Device) WaitFence(f driver.Fence, timeout time.Duration) error {
	vf, ok := f.(*VulkanFence)
	if !ok || vf.Handle == nil {
		return errors.Wrap(core.ErrInvalidHandle, "wait fence")
	}
	result := vk.WaitForFences(d.logical, 1, []vk.Fence{vf.Handle}, vk.True, uint64(timeout.Nanoseconds()))
	switch result {
	case vk.Success:
		return nil
	case vk.Timeout:
		return errors.Wrapf(core.ErrTimeout, "fence not signaled after %s", timeout)
	}
	return d.resultError(result, "vkWaitForFences")
}

func (d *Device) ResetFence(f driver.Fence) error {
	vf, ok := f.(*VulkanFence)
	if !ok || vf.Handle == nil {
		return errors.Wrap(core.ErrInvalidHandle, "reset fence")
	}
	if res := vk.ResetFences(d.logical, 1, []vk.Fence{vf.Handle}); res != vk.Success {
		return d.resultError(res, "vkResetFences")
	}
	return nil
}

type semaphore struct {
	dev    *Device
	handle vk.Semaphore
}

func (d *Device) NewSemaphore() (driver.Semaphore, error) {
	var handle vk.Semaphore
	if res := vk.CreateSemaphore(d.logical, &vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}, nil, &handle); res != vk.Success {
		return nil, d.resultError(res, "creating semaphore")
	}
	return &semaphore{dev: d, handle: handle}, nil
}

func (s *semaphore) Destroy() {
	if s.handle != vk.NullSemaphore {
		vk.DestroySemaphore(s.dev.logical, s.handle, nil)
		s.handle = vk.NullSemaphore
	}
}

func semaphoreHandle(s driver.Semaphore) vk.Semaphore {
	if vs, ok := s.(*semaphore); ok {
		return vs.handle
	}
	return vk.NullSemaphore
}
