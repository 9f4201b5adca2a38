package headless

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
)

type setLayout struct {
	bindings []driver.DescriptorBinding
}

func (d *Device) NewDescriptorSetLayout(bindings []driver.DescriptorBinding) (driver.DescriptorSetLayout, error) {
	seen := make(map[uint32]bool, len(bindings))
	for _, b := range bindings {
		if seen[b.Binding] {
			return nil, errors.Wrapf(core.ErrInvalidOperation, "binding %d declared twice", b.Binding)
		}
		seen[b.Binding] = true
	}
	return &setLayout{bindings: append([]driver.DescriptorBinding(nil), bindings...)}, nil
}

func (l *setLayout) Bindings() []driver.DescriptorBinding { return l.bindings }

func (l *setLayout) Destroy() {}

func (l *setLayout) binding(n uint32) (driver.DescriptorBinding, bool) {
	for _, b := range l.bindings {
		if b.Binding == n {
			return b, true
		}
	}
	return driver.DescriptorBinding{}, false
}

type descriptorSet struct {
	layout  *setLayout
	buffers map[uint32]*buffer
	images  map[uint32]*image
}

func (d *Device) NewDescriptorSet(dl driver.DescriptorSetLayout) (driver.DescriptorSet, error) {
	l, ok := dl.(*setLayout)
	if !ok {
		return nil, errors.Wrap(core.ErrInvalidHandle, "descriptor set layout")
	}
	return &descriptorSet{layout: l, buffers: map[uint32]*buffer{}, images: map[uint32]*image{}}, nil
}

func (s *descriptorSet) Update(writes []driver.DescriptorWrite) error {
	for _, w := range writes {
		b, ok := s.layout.binding(w.Binding)
		if !ok {
			return errors.Wrapf(core.ErrInvalidOperation, "binding %d not in layout", w.Binding)
		}
		switch b.Type {
		case driver.DescriptorUniformBuffer:
			buf, ok := w.Buffer.(*buffer)
			if !ok || buf.destroyed {
				return errors.Wrapf(core.ErrInvalidHandle, "binding %d: buffer", w.Binding)
			}
			if buf.usage&driver.UsageUniform == 0 {
				return errors.Wrapf(core.ErrInvalidOperation, "binding %d: %s lacks uniform usage", w.Binding, buf)
			}
			if w.Offset+w.Range > buf.size {
				return errors.Wrapf(core.ErrInvalidOperation, "binding %d: range exceeds %s", w.Binding, buf)
			}
			s.buffers[w.Binding] = buf
		case driver.DescriptorCombinedImageSampler:
			img, ok := w.Image.(*image)
			if !ok || img.destroyed {
				return errors.Wrapf(core.ErrInvalidHandle, "binding %d: image", w.Binding)
			}
			s.images[w.Binding] = img
		}
	}
	return nil
}

func (s *descriptorSet) Destroy() {
	s.buffers = nil
	s.images = nil
}

type pipeline struct {
	desc driver.PipelineDesc
}

func (d *Device) NewPipeline(desc *driver.PipelineDesc) (driver.Pipeline, error) {
	if d.opts.FailPipeline != nil && d.opts.FailPipeline(desc.Name) {
		return nil, errors.Newf("pipeline %s: shader module rejected", desc.Name)
	}
	if len(desc.VertexCode) == 0 || len(desc.FragmentCode) == 0 {
		return nil, errors.Newf("pipeline %s: missing shader code", desc.Name)
	}
	if desc.PushConstantSize > d.Limits().MaxPushConstantsSize {
		return nil, errors.Newf("pipeline %s: %d bytes of push constants exceed the limit", desc.Name, desc.PushConstantSize)
	}
	d.PipelinesBuilt.Add(1)
	return &pipeline{desc: *desc}, nil
}

func (p *pipeline) Name() string { return p.desc.Name }

func (p *pipeline) Destroy() {}
