package descriptors

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-core/engine/containers"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-core/engine/renderer/resources"
)

// DescriptorSetHandle names a material descriptor set owned by a Manager.
type DescriptorSetHandle containers.Handle

func (h DescriptorSetHandle) IsZero() bool { return h.Generation == 0 }

func (h DescriptorSetHandle) String() string {
	return fmt.Sprintf("material-set(%d:%d)", h.Index, h.Generation)
}

// frameUniforms is the copy of the per-frame blocks owned by one frame slot.
// Only the frame recorded in that slot writes it, so the GPU never reads a
// block the CPU is rewriting.
type frameUniforms struct {
	camera   resources.BufferHandle
	lighting resources.BufferHandle
	set      driver.DescriptorSet
}

type materialSet struct {
	key  metadata.MaterialKey
	ubo  resources.BufferHandle
	set  driver.DescriptorSet
	refs int
}

type Options struct {
	FramesInFlight int
	// DefaultTexture fills every texture binding a material leaves empty. It
	// must be in shader-read-only layout before the first draw.
	DefaultTexture resources.ImageHandle
}

// Manager owns the global and material descriptor sets and the uniform
// buffers behind them. It is single-writer.
type Manager struct {
	dev            driver.Device
	buffers        *resources.BufferManager
	images         *resources.ImageManager
	globalLayout   driver.DescriptorSetLayout
	materialLayout driver.DescriptorSetLayout
	slots          []frameUniforms
	materials      *containers.Arena[materialSet]
	byKey          map[metadata.MaterialKey]DescriptorSetHandle
	defaultTexture resources.ImageHandle
	scratch        [LightingUBOSize]byte
}

func NewManager(dev driver.Device, buffers *resources.BufferManager, images *resources.ImageManager, opts Options) (*Manager, error) {
	if opts.FramesInFlight < 1 || opts.FramesInFlight > core.MaxFramesInFlight {
		return nil, errors.Wrapf(core.ErrInvalidOperation, "%d frames in flight", opts.FramesInFlight)
	}
	if _, err := images.Native(opts.DefaultTexture); err != nil {
		return nil, errors.Wrap(err, "default texture")
	}
	m := &Manager{
		dev:            dev,
		buffers:        buffers,
		images:         images,
		materials:      containers.NewArena[materialSet](32),
		byKey:          make(map[metadata.MaterialKey]DescriptorSetHandle),
		defaultTexture: opts.DefaultTexture,
	}
	var err error
	if m.globalLayout, err = dev.NewDescriptorSetLayout(GlobalBindings()); err != nil {
		return nil, errors.Wrap(err, "global descriptor set layout")
	}
	if m.materialLayout, err = dev.NewDescriptorSetLayout(MaterialBindings()); err != nil {
		m.globalLayout.Destroy()
		return nil, errors.Wrap(err, "material descriptor set layout")
	}
	for i := 0; i < opts.FramesInFlight; i++ {
		slot, err := m.createFrameUniforms()
		if err != nil {
			m.Destroy()
			return nil, errors.Wrapf(err, "frame slot %d uniforms", i)
		}
		m.slots = append(m.slots, slot)
	}
	core.LogDebug("descriptor manager ready: %d frame slots, layout version %d", len(m.slots), LayoutVersion)
	return m, nil
}

func (m *Manager) createFrameUniforms() (frameUniforms, error) {
	var fu frameUniforms
	var err error
	if fu.camera, err = m.buffers.Create(driver.MemoryHostVisible, CameraUBOSize, driver.UsageUniform); err != nil {
		return fu, err
	}
	if fu.lighting, err = m.buffers.Create(driver.MemoryHostVisible, LightingUBOSize, driver.UsageUniform); err != nil {
		_ = m.buffers.Destroy(fu.camera)
		return fu, err
	}
	cleanup := func() {
		_ = m.buffers.Destroy(fu.camera)
		_ = m.buffers.Destroy(fu.lighting)
	}
	if fu.set, err = m.dev.NewDescriptorSet(m.globalLayout); err != nil {
		cleanup()
		return fu, err
	}
	camera, _ := m.buffers.Native(fu.camera)
	lighting, _ := m.buffers.Native(fu.lighting)
	err = fu.set.Update([]driver.DescriptorWrite{
		{Binding: BindingCamera, Buffer: camera, Range: CameraUBOSize},
		{Binding: BindingLighting, Buffer: lighting, Range: LightingUBOSize},
	})
	if err != nil {
		fu.set.Destroy()
		cleanup()
		return fu, err
	}
	return fu, nil
}

func (m *Manager) GlobalLayout() driver.DescriptorSetLayout   { return m.globalLayout }
func (m *Manager) MaterialLayout() driver.DescriptorSetLayout { return m.materialLayout }
func (m *Manager) FramesInFlight() int                        { return len(m.slots) }

func (m *Manager) slot(i int) (*frameUniforms, error) {
	if i < 0 || i >= len(m.slots) {
		return nil, errors.Wrapf(core.ErrInvalidOperation, "frame slot %d of %d", i, len(m.slots))
	}
	return &m.slots[i], nil
}

// UpdateFrameUniforms writes the camera and lighting blocks of one frame slot.
// The caller must have waited for the slot's previous submission. Lights past
// the block limits are dropped and reported, never treated as an error.
func (m *Manager) UpdateFrameUniforms(slot int, camera *metadata.CameraData, lighting *metadata.Lighting) (LightingReport, error) {
	fu, err := m.slot(slot)
	if err != nil {
		return LightingReport{}, err
	}
	EncodeCamera(m.scratch[:CameraUBOSize], camera)
	if err := m.buffers.Write(fu.camera, 0, m.scratch[:CameraUBOSize]); err != nil {
		return LightingReport{}, errors.Wrap(err, "camera block")
	}
	report := EncodeLighting(m.scratch[:LightingUBOSize], lighting)
	if err := m.buffers.Write(fu.lighting, 0, m.scratch[:LightingUBOSize]); err != nil {
		return LightingReport{}, errors.Wrap(err, "lighting block")
	}
	if report.Dropped() > 0 {
		core.LogWarn("lighting: dropped %d directional, %d point, %d spot lights over the block limits",
			report.DroppedDirectional, report.DroppedPoint, report.DroppedSpot)
	}
	return report, nil
}

// GlobalSet is set 0 for the given frame slot.
func (m *Manager) GlobalSet(slot int) (driver.DescriptorSet, error) {
	fu, err := m.slot(slot)
	if err != nil {
		return nil, err
	}
	return fu.set, nil
}

// FrameBuffers exposes the uniform buffers of a slot, mostly for inspection.
func (m *Manager) FrameBuffers(slot int) (camera, lighting resources.BufferHandle, err error) {
	fu, err := m.slot(slot)
	if err != nil {
		return resources.BufferHandle{}, resources.BufferHandle{}, err
	}
	return fu.camera, fu.lighting, nil
}

// BindMaterial returns the descriptor set of mat, creating it the first time
// its parameter bundle and textures are seen. Materials that only differ by
// name share a set. Every call takes a reference released by ReleaseMaterial.
func (m *Manager) BindMaterial(mat *metadata.Material) (DescriptorSetHandle, error) {
	if !mat.Archetype.Valid() {
		return DescriptorSetHandle{}, errors.Wrapf(core.ErrInvalidOperation, "material %q: archetype %d", mat.Name, mat.Archetype)
	}
	textures, err := m.resolveTextures(mat)
	if err != nil {
		return DescriptorSetHandle{}, errors.Wrapf(err, "material %q", mat.Name)
	}
	key := mat.Key()
	if h, ok := m.byKey[key]; ok {
		ms, _ := m.materials.Get(containers.Handle(h))
		ms.refs++
		return h, nil
	}

	ubo, err := m.buffers.Create(driver.MemoryHostVisible, MaterialUBOSize, driver.UsageUniform)
	if err != nil {
		return DescriptorSetHandle{}, errors.Wrapf(err, "material %q", mat.Name)
	}
	var data [MaterialUBOSize]byte
	EncodeMaterial(data[:], mat)
	if err := m.buffers.Write(ubo, 0, data[:]); err != nil {
		_ = m.buffers.Destroy(ubo)
		return DescriptorSetHandle{}, err
	}
	set, err := m.dev.NewDescriptorSet(m.materialLayout)
	if err != nil {
		_ = m.buffers.Destroy(ubo)
		return DescriptorSetHandle{}, errors.Wrapf(err, "material %q", mat.Name)
	}
	native, _ := m.buffers.Native(ubo)
	writes := []driver.DescriptorWrite{{Binding: BindingMaterial, Buffer: native, Range: MaterialUBOSize}}
	for slot, img := range textures {
		writes = append(writes, driver.DescriptorWrite{Binding: TextureBinding(metadata.TextureSlot(slot)), Image: img})
	}
	if err := set.Update(writes); err != nil {
		set.Destroy()
		_ = m.buffers.Destroy(ubo)
		return DescriptorSetHandle{}, errors.Wrapf(err, "material %q", mat.Name)
	}

	h := DescriptorSetHandle(m.materials.Insert(materialSet{key: key, ubo: ubo, set: set, refs: 1}))
	m.byKey[key] = h
	core.LogDebug("material %q (%s) bound to %s", mat.Name, mat.Archetype, h)
	return h, nil
}

func (m *Manager) resolveTextures(mat *metadata.Material) ([metadata.TextureSlotCount]driver.Image, error) {
	var out [metadata.TextureSlotCount]driver.Image
	for slot, h := range mat.Textures {
		if h.IsZero() {
			h = m.defaultTexture
		}
		img, err := m.images.Native(h)
		if err != nil {
			return out, errors.Wrapf(err, "texture slot %d", slot)
		}
		out[slot] = img
	}
	return out, nil
}

// MaterialSet resolves a handle returned by BindMaterial.
func (m *Manager) MaterialSet(h DescriptorSetHandle) (driver.DescriptorSet, error) {
	ms, ok := m.materials.Get(containers.Handle(h))
	if !ok {
		return nil, errors.Wrapf(core.ErrInvalidHandle, "%s", h)
	}
	return ms.set, nil
}

// ReleaseMaterial drops one reference. The last reference destroys the set
// through the deletion queue, since frames in flight may still bind it.
func (m *Manager) ReleaseMaterial(h DescriptorSetHandle, queue *resources.DeletionQueue, frame uint64) error {
	ms, ok := m.materials.Get(containers.Handle(h))
	if !ok {
		return errors.Wrapf(core.ErrInvalidHandle, "release %s", h)
	}
	ms.refs--
	if ms.refs > 0 {
		return nil
	}
	gone, _ := m.materials.Remove(containers.Handle(h))
	delete(m.byKey, gone.key)
	queue.Push(frame, func() {
		gone.set.Destroy()
		if err := m.buffers.Destroy(gone.ubo); err != nil {
			core.LogError("material uniforms: %s", err)
		}
	})
	return nil
}

func (m *Manager) Materials() int {
	return m.materials.Len()
}

// Destroy releases every set and buffer. The device must be idle.
func (m *Manager) Destroy() {
	var handles []containers.Handle
	m.materials.Each(func(h containers.Handle, _ *materialSet) {
		handles = append(handles, h)
	})
	for _, h := range handles {
		ms, _ := m.materials.Remove(h)
		ms.set.Destroy()
		_ = m.buffers.Destroy(ms.ubo)
	}
	m.byKey = make(map[metadata.MaterialKey]DescriptorSetHandle)
	for _, fu := range m.slots {
		fu.set.Destroy()
		_ = m.buffers.Destroy(fu.camera)
		_ = m.buffers.Destroy(fu.lighting)
	}
	m.slots = nil
	if m.materialLayout != nil {
		m.materialLayout.Destroy()
		m.materialLayout = nil
	}
	if m.globalLayout != nil {
		m.globalLayout.Destroy()
		m.globalLayout = nil
	}
}
