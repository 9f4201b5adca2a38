package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
)

type setLayout struct {
	dev      *Device
	handle   vk.DescriptorSetLayout
	bindings []driver.DescriptorBinding
}

func (d *Device) NewDescriptorSetLayout(bindings []driver.DescriptorBinding) (driver.DescriptorSetLayout, error) {
	binds := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	seen := make(map[uint32]bool, len(bindings))
	for i, b := range bindings {
		if seen[b.Binding] {
			return nil, errors.Wrapf(core.ErrInvalidOperation, "binding %d declared twice", b.Binding)
		}
		seen[b.Binding] = true
		binds[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  convDescriptorType(b.Type),
			DescriptorCount: 1,
			StageFlags:      convShaderStages(b.Stages),
		}
	}
	var handle vk.DescriptorSetLayout
	res := vk.CreateDescriptorSetLayout(d.logical, &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(binds)),
		PBindings:    binds,
	}, nil, &handle)
	if res != vk.Success {
		return nil, d.resultError(res, "creating descriptor set layout")
	}
	return &setLayout{dev: d, handle: handle, bindings: append([]driver.DescriptorBinding(nil), bindings...)}, nil
}

func (l *setLayout) Bindings() []driver.DescriptorBinding { return l.bindings }

func (l *setLayout) Destroy() {
	if l.handle != nil {
		vk.DestroyDescriptorSetLayout(l.dev.logical, l.handle, nil)
		l.handle = nil
	}
}

func (l *setLayout) binding(n uint32) (driver.DescriptorBinding, bool) {
	for _, b := range l.bindings {
		if b.Binding == n {
			return b, true
		}
	}
	return driver.DescriptorBinding{}, false
}

type descriptorSet struct {
	dev    *Device
	handle vk.DescriptorSet
	layout *setLayout
}

func (d *Device) NewDescriptorSet(dl driver.DescriptorSetLayout) (driver.DescriptorSet, error) {
	l, ok := dl.(*setLayout)
	if !ok || l.handle == nil {
		return nil, errors.Wrap(core.ErrInvalidHandle, "descriptor set layout")
	}
	var set vk.DescriptorSet
	err := d.locks.SafeCall(DescriptorManagement, func() error {
		res := vk.AllocateDescriptorSets(d.logical, &vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     d.descriptorPool,
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{l.handle},
		}, &set)
		if res != vk.Success {
			return d.resultError(res, "allocating descriptor set")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &descriptorSet{dev: d, handle: set, layout: l}, nil
}

func (s *descriptorSet) Update(writes []driver.DescriptorWrite) error {
	vkWrites := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		b, ok := s.layout.binding(w.Binding)
		if !ok {
			return errors.Wrapf(core.ErrInvalidOperation, "binding %d not in layout", w.Binding)
		}
		wd := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          s.handle,
			DstBinding:      w.Binding,
			DescriptorCount: 1,
			DescriptorType:  convDescriptorType(b.Type),
		}
		switch b.Type {
		case driver.DescriptorUniformBuffer:
			buf, ok := w.Buffer.(*buffer)
			if !ok || buf.handle == nil {
				return errors.Wrapf(core.ErrInvalidHandle, "binding %d: buffer", w.Binding)
			}
			if buf.usage&driver.UsageUniform == 0 {
				return errors.Wrapf(core.ErrInvalidOperation, "binding %d: %s lacks uniform usage", w.Binding, buf)
			}
			if w.Offset+w.Range > buf.size {
				return errors.Wrapf(core.ErrInvalidOperation, "binding %d: range exceeds %s", w.Binding, buf)
			}
			wd.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: buf.handle,
				Offset: vk.DeviceSize(w.Offset),
				Range:  vk.DeviceSize(w.Range),
			}}
		case driver.DescriptorCombinedImageSampler:
			img, ok := w.Image.(*image)
			if !ok || img.view == nil || img.sampler == nil {
				return errors.Wrapf(core.ErrInvalidHandle, "binding %d: image", w.Binding)
			}
			wd.PImageInfo = []vk.DescriptorImageInfo{{
				ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
				ImageView:   img.view,
				Sampler:     img.sampler,
			}}
		}
		vkWrites = append(vkWrites, wd)
	}
	if len(vkWrites) > 0 {
		vk.UpdateDescriptorSets(s.dev.logical, uint32(len(vkWrites)), vkWrites, 0, nil)
	}
	return nil
}

func (s *descriptorSet) Destroy() {
	if s.handle == nil {
		return
	}
	_ = s.dev.locks.SafeCall(DescriptorManagement, func() error {
		vk.FreeDescriptorSets(s.dev.logical, s.dev.descriptorPool, 1, &s.handle)
		return nil
	})
	s.handle = nil
}
