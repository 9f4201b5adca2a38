// Package renderer turns a render packet into one synchronized GPU
// submission per frame. It owns every subsystem of the GPU core and is
// driven from a single goroutine.
package renderer

import (
	"context"
	goimage "image"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/math"
	"github.com/spaghettifunk/anima-core/engine/renderer/command"
	"github.com/spaghettifunk/anima-core/engine/renderer/descriptors"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
	"github.com/spaghettifunk/anima-core/engine/renderer/frame"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-core/engine/renderer/pipeline"
	"github.com/spaghettifunk/anima-core/engine/renderer/pool"
	"github.com/spaghettifunk/anima-core/engine/renderer/resources"
)

const defaultTextureSize = 16

type Options struct {
	Config  *core.Config
	Device  driver.Device
	Shaders pipeline.ShaderSource
	// Events delivers window resizes. Optional.
	Events *core.EventBus
}

// FrameStats describes the last frame drawn.
type FrameStats struct {
	Frame         uint64
	Opaque        int
	Transparent   int
	Skipped       int
	Barriers      int
	LightsDropped int
	Uploaded      uint64
}

type bufferUpdate struct {
	buffer resources.BufferHandle
	offset uint64
	data   []byte
}

type preparedDraw struct {
	archetype     metadata.Archetype
	material      driver.DescriptorSet
	vertex        resources.BufferHandle
	index         resources.BufferHandle
	instance      resources.BufferHandle
	indexCount    uint32
	firstInstance uint32
	model         math.Mat4
}

type Renderer struct {
	*backend
	cfg         *core.Config
	events      *core.EventBus
	recorder    *command.Recorder
	descriptors *descriptors.Manager
	pipelines   *pipeline.Manager
	sync        *frame.Synchronizer
	pools       *pool.Allocator
	metrics     *core.FrameMetrics

	depth           resources.ImageHandle
	defaultTexture  resources.ImageHandle
	defaultMaterial *metadata.Material
	materials       map[metadata.MaterialKey]descriptors.DescriptorSetHandle
	// textures passed to DestroyTexture that frames in flight may still read
	dying           map[resources.ImageHandle]bool
	formats         [2]driver.Format
	updates         []bufferUpdate
	pendingResize   *driver.Extent2D
	minimized       bool
	last            FrameStats
	push            [descriptors.PushConstantSize]byte
}

// New builds the renderer over an open device: memory, the default texture,
// the depth target, descriptors, pipelines for every archetype, the frame
// synchronizer and the instance pools.
func New(opts Options) (*Renderer, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(core.ErrInvalidOperation, "renderer config: %s", err)
	}
	if opts.Shaders == nil {
		opts.Shaders = pipeline.DirShaderSource{Dir: cfg.Renderer.ShaderDir}
	}
	b, err := newBackend(opts.Device, cfg)
	if err != nil {
		return nil, err
	}
	r := &Renderer{
		backend:   b,
		cfg:       cfg,
		events:    opts.Events,
		metrics:   core.NewFrameMetrics(),
		materials: make(map[metadata.MaterialKey]descriptors.DescriptorSetHandle),
		dying:     make(map[resources.ImageHandle]bool),
		defaultMaterial: &metadata.Material{
			Name:      metadata.DefaultMaterialName,
			Archetype: metadata.ArchetypeStandardPBR,
			Params:    metadata.DefaultMaterialParams(),
		},
		formats: [2]driver.Format{b.presenter.ColorFormat(), b.presenter.DepthFormat()},
	}
	if err := r.init(opts.Shaders); err != nil {
		r.Shutdown()
		return nil, err
	}
	return r, nil
}

func (r *Renderer) init(shaders pipeline.ShaderSource) error {
	frames := r.cfg.Renderer.FramesInFlight
	r.recorder = command.NewRecorder(r.dev, r.tracker, r.buffers, r.images, r.deletion)

	var err error
	if r.defaultTexture, err = r.UploadTexture(defaultTextureSize, defaultTextureSize, defaultTexturePixels(defaultTextureSize)); err != nil {
		return errors.Wrap(err, "default texture")
	}
	if err := r.createDepth(); err != nil {
		return err
	}
	r.descriptors, err = descriptors.NewManager(r.dev, r.buffers, r.images, descriptors.Options{
		FramesInFlight: frames,
		DefaultTexture: r.defaultTexture,
	})
	if err != nil {
		return errors.Wrap(err, "descriptors")
	}
	r.pipelines = pipeline.NewManager(r.dev, shaders, r.descriptors.GlobalLayout(), r.descriptors.MaterialLayout())
	if err := r.pipelines.Warm(context.Background(), metadata.Archetypes[:]...); err != nil {
		// a failed archetype only loses its own draws
		core.LogWarn("pipeline warm-up: %s", err)
	}
	r.sync, err = frame.New(r.dev, frame.Options{
		FramesInFlight: frames,
		FenceTimeout:   r.cfg.Renderer.FenceTimeout(),
		AcquireTimeout: r.cfg.Renderer.AcquireTimeout(),
	})
	if err != nil {
		return errors.Wrap(err, "frame synchronizer")
	}
	r.pools, err = pool.NewAllocator(r.buffers, r.tracker, r.deletion, r.cfg.Pools)
	if err != nil {
		return errors.Wrap(err, "instance pools")
	}
	if r.events != nil {
		r.events.Register(core.EVENT_CODE_RESIZED, r, r.onResized)
	}
	return nil
}

// defaultTexturePixels is a white and grey checkerboard.
func defaultTexturePixels(size int) []byte {
	pixels := make([]byte, size*size*4)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := byte(255)
			if (x/2+y/2)%2 == 1 {
				v = 128
			}
			i := (y*size + x) * 4
			pixels[i], pixels[i+1], pixels[i+2], pixels[i+3] = v, v, v, 255
		}
	}
	return pixels
}

func (r *Renderer) createDepth() error {
	ext := r.presenter.Extent()
	h, err := r.images.Create(resources.ImageDesc{
		ImageDesc: driver.ImageDesc{
			Width:  ext.Width,
			Height: ext.Height,
			Format: r.presenter.DepthFormat(),
			Usage:  driver.ImageDepthAttachment,
		},
		SwapchainDependent: true,
	})
	if err != nil {
		return errors.Wrap(err, "depth target")
	}
	r.depth = h
	return r.attachDepth()
}

func (r *Renderer) attachDepth() error {
	native, err := r.images.Native(r.depth)
	if err != nil {
		return err
	}
	return errors.Wrap(r.presenter.AttachDepth(native), "attach depth target")
}

func (r *Renderer) onResized(_ core.SystemEventCode, _ interface{}, data core.EventContext) bool {
	r.pendingResize = &driver.Extent2D{Width: data.U32[0], Height: data.U32[1]}
	// other listeners want to see resizes too
	return false
}

// OnResize recreates the swapchain and every swapchain-dependent image.
// Pipelines are rebuilt only when the presentation formats changed. A zero
// size means the window is minimized: frames are skipped until it returns.
func (r *Renderer) OnResize(width, height uint32) error {
	if width == 0 || height == 0 {
		r.minimized = true
		return nil
	}
	r.minimized = false
	return r.recreateSwapchain(width, height)
}

func (r *Renderer) recreateSwapchain(width, height uint32) error {
	if err := r.sync.WaitAll(); err != nil {
		return err
	}
	if err := r.presenter.Resize(width, height); err != nil {
		return errors.Wrap(err, "resize swapchain")
	}
	if err := r.images.Recreate(width, height); err != nil {
		return err
	}
	if err := r.attachDepth(); err != nil {
		return err
	}
	formats := [2]driver.Format{r.presenter.ColorFormat(), r.presenter.DepthFormat()}
	if formats != r.formats {
		core.LogInfo("surface formats changed from %v to %v, rebuilding pipelines", r.formats, formats)
		r.formats = formats
		if err := r.pipelines.Rebuild(); err != nil {
			core.LogWarn("pipeline rebuild: %s", err)
		}
	}
	r.sync.SurfaceChanged()
	core.LogDebug("swapchain recreated at %dx%d", width, height)
	return nil
}

// DrawFrame records, submits and presents one frame. An out-of-date surface
// skips the frame and recreates the swapchain. Errors matching
// core.ErrDeviceLost are fatal to this renderer.
func (r *Renderer) DrawFrame(packet *metadata.RenderPacket) error {
	if r.pendingResize != nil {
		ext := *r.pendingResize
		r.pendingResize = nil
		if err := r.OnResize(ext.Width, ext.Height); err != nil {
			return err
		}
	}
	if r.minimized {
		r.metrics.FramesSkipped++
		return nil
	}

	f, err := r.sync.Begin()
	if err != nil {
		if errors.Is(err, core.ErrSwapchainOutOfDate) {
			r.metrics.FramesSkipped++
			ext := r.presenter.Extent()
			return r.recreateSwapchain(ext.Width, ext.Height)
		}
		return err
	}
	r.deletion.Collect(f.Number)
	r.pools.BeginFrame(f.Number)

	if err := r.record(f, packet); err != nil {
		r.recorder.Discard()
		if aerr := r.sync.Abandon(f); aerr != nil {
			core.LogError("abandon frame %d: %s", f.Number, aerr)
		}
		// the acquired image is only released by recreating the swapchain
		ext := r.presenter.Extent()
		if rerr := r.recreateSwapchain(ext.Width, ext.Height); rerr != nil {
			return errors.CombineErrors(err, rerr)
		}
		return err
	}
	if err := r.sync.Submit(f); err != nil {
		r.recorder.Discard()
		if aerr := r.sync.Abandon(f); aerr != nil {
			core.LogError("abandon frame %d: %s", f.Number, aerr)
		}
		return err
	}
	if err := r.recorder.Commit(); err != nil {
		return err
	}
	r.pools.Commit()
	r.updates = r.updates[:0]
	r.metrics.FramesSubmitted++
	r.metrics.Update(packet.DeltaTime)

	err = r.sync.Present(f)
	if errors.Is(err, core.ErrSwapchainOutOfDate) {
		ext := r.presenter.Extent()
		return r.recreateSwapchain(ext.Width, ext.Height)
	}
	return err
}

func (r *Renderer) record(f *frame.Frame, packet *metadata.RenderPacket) error {
	report, err := r.descriptors.UpdateFrameUniforms(f.Slot, &packet.Camera, &packet.Lighting)
	if err != nil {
		return err
	}
	q := BuildRenderQueue(packet.Entities, packet.Camera.Position, r.defaultMaterial)
	usable := r.ensurePipelines(&q)

	stats := FrameStats{Frame: f.Number, Skipped: q.Skipped, LightsDropped: report.Dropped()}
	var opaque, transparent []preparedDraw
	for _, b := range q.Opaque {
		for i := range b.Draws {
			if d, ok := r.prepare(&b.Draws[i], usable); ok {
				opaque = append(opaque, d)
			} else {
				stats.Skipped++
			}
		}
	}
	for i := range q.Transparent {
		if d, ok := r.prepare(&q.Transparent[i], usable); ok {
			transparent = append(transparent, d)
		} else {
			stats.Skipped++
		}
	}

	rec := r.recorder
	if err := rec.Begin(f.CommandBuffer, f.Number); err != nil {
		return err
	}
	r.applyUpdates(rec)
	if err := r.pools.Flush(rec); err != nil {
		_ = rec.End()
		return err
	}
	if err := r.declareReads(rec, opaque, transparent); err != nil {
		_ = rec.End()
		return err
	}

	clear := r.cfg.Renderer.ClearColor
	rec.BeginRenderPass(f.ImageIndex, driver.ClearValues{Color: clear, Depth: 1})
	ext := r.presenter.Extent()
	rec.SetViewport(
		driver.Viewport{Width: float32(ext.Width), Height: float32(ext.Height), MaxDepth: 1},
		driver.Rect{Width: ext.Width, Height: ext.Height},
	)
	global, err := r.descriptors.GlobalSet(f.Slot)
	if err != nil {
		rec.EndRenderPass()
		_ = rec.End()
		return err
	}
	// opaque work first, then transparent back to front
	if err := r.drawAll(rec, global, opaque); err != nil {
		rec.EndRenderPass()
		_ = rec.End()
		return err
	}
	if err := r.drawAll(rec, global, transparent); err != nil {
		rec.EndRenderPass()
		_ = rec.End()
		return err
	}
	rec.EndRenderPass()
	if err := rec.End(); err != nil {
		return err
	}

	rs := rec.Stats()
	stats.Opaque, stats.Transparent = len(opaque), len(transparent)
	stats.Barriers = rs.Barriers
	stats.Uploaded = r.pools.Stats().Uploaded
	r.last = stats
	r.metrics.DrawCalls += uint64(rs.Draws)
	r.metrics.LightsDropped += uint64(stats.LightsDropped)
	return nil
}

// ensurePipelines makes sure every archetype of the queue has a pipeline.
// Archetypes whose pipeline failed are reported unusable and their draws are
// dropped; the failure itself is logged once by the pipeline manager.
func (r *Renderer) ensurePipelines(q *RenderQueue) [metadata.ArchetypeCount]bool {
	var usable [metadata.ArchetypeCount]bool
	for _, a := range q.Archetypes() {
		usable[a] = r.pipelines.EnsurePipeline(a) == nil
	}
	return usable
}

func (r *Renderer) prepare(d *Draw, usable [metadata.ArchetypeCount]bool) (preparedDraw, bool) {
	if !usable[d.Archetype] {
		return preparedDraw{}, false
	}
	e := d.Entity
	if !r.buffers.Valid(e.Mesh.VertexBuffer) || !r.buffers.Valid(e.Mesh.IndexBuffer) {
		core.LogWarn("mesh %q has no GPU buffers, not drawn", e.Mesh.Name)
		return preparedDraw{}, false
	}
	instance, err := r.pools.Buffer(e.Instance)
	if err != nil {
		core.LogWarn("mesh %q: %s", e.Mesh.Name, err)
		return preparedDraw{}, false
	}
	set, err := r.materialSet(d.Material)
	if err != nil {
		core.LogWarn("mesh %q: %s", e.Mesh.Name, err)
		return preparedDraw{}, false
	}
	return preparedDraw{
		archetype:     d.Archetype,
		material:      set,
		vertex:        e.Mesh.VertexBuffer,
		index:         e.Mesh.IndexBuffer,
		instance:      instance,
		indexCount:    e.Mesh.IndexCount,
		firstInstance: e.Instance.Slot,
		model:         e.Model,
	}, true
}

func (r *Renderer) materialSet(m *metadata.Material) (driver.DescriptorSet, error) {
	for _, tex := range m.Textures {
		if r.dying[tex] {
			return nil, errors.Wrapf(core.ErrInvalidHandle, "material %q uses destroyed texture %s", m.Name, tex)
		}
	}
	key := m.Key()
	h, ok := r.materials[key]
	if !ok {
		var err error
		if h, err = r.descriptors.BindMaterial(m); err != nil {
			return nil, err
		}
		r.materials[key] = h
	}
	return r.descriptors.MaterialSet(h)
}

// ReleaseMaterial drops the GPU state of a material the application no
// longer draws.
func (r *Renderer) ReleaseMaterial(m *metadata.Material) error {
	key := m.Key()
	h, ok := r.materials[key]
	if !ok {
		return errors.Wrapf(core.ErrResourceNotFound, "material %q is not bound", m.Name)
	}
	delete(r.materials, key)
	return r.descriptors.ReleaseMaterial(h, r.deletion, r.sync.FrameNumber())
}

// applyUpdates records the queued buffer updates. They stay queued until the
// frame is submitted.
func (r *Renderer) applyUpdates(rec *command.Recorder) {
	for _, u := range r.updates {
		if err := rec.WriteBuffer(u.buffer, u.offset, u.data); err != nil {
			core.LogWarn("queued buffer update dropped: %s", err)
		}
	}
}

// declareReads orders every write of this frame, or of earlier frames, before
// the reads of the render pass.
func (r *Renderer) declareReads(rec *command.Recorder, lists ...[]preparedDraw) error {
	var vertex, index []resources.BufferHandle
	seen := make(map[resources.BufferHandle]bool)
	for _, list := range lists {
		for _, d := range list {
			for _, h := range []resources.BufferHandle{d.vertex, d.instance} {
				if !seen[h] {
					seen[h] = true
					vertex = append(vertex, h)
				}
			}
			if !seen[d.index] {
				seen[d.index] = true
				index = append(index, d.index)
			}
		}
	}
	if err := rec.UseBuffers(command.ScopeVertexRead, vertex...); err != nil {
		return err
	}
	return rec.UseBuffers(command.ScopeIndexRead, index...)
}

func (r *Renderer) drawAll(rec *command.Recorder, global driver.DescriptorSet, draws []preparedDraw) error {
	var bound driver.Pipeline
	current := metadata.ArchetypeCount
	for _, d := range draws {
		if d.archetype != current {
			p, err := r.pipelines.Select(rec, d.archetype)
			if err != nil {
				return err
			}
			bound, current = p, d.archetype
			rec.BindDescriptorSet(bound, descriptors.SetGlobal, global)
		}
		rec.BindDescriptorSet(bound, descriptors.SetMaterial, d.material)
		descriptors.EncodePushConstants(r.push[:], d.model)
		rec.PushConstants(bound, driver.ShaderVertex|driver.ShaderFragment, 0, r.push[:])
		if err := rec.BindVertexBuffers(descriptors.BindingVertex, d.vertex, d.instance); err != nil {
			return err
		}
		if err := rec.BindIndexBuffer(d.index); err != nil {
			return err
		}
		rec.DrawIndexed(d.indexCount, 1, 0, 0, d.firstInstance)
	}
	return nil
}

// AcquireInstance reserves per-instance storage for one object drawing mesh
// with archetype.
func (r *Renderer) AcquireInstance(mesh *metadata.Mesh, archetype metadata.Archetype) (metadata.InstanceHandle, error) {
	if mesh == nil {
		return metadata.InstanceHandle{}, errors.Wrap(core.ErrInvalidOperation, "acquire instance without a mesh")
	}
	return r.pools.Request(mesh.ID, archetype)
}

func (r *Renderer) ReleaseInstance(h metadata.InstanceHandle) error {
	return r.pools.Release(h)
}

func (r *Renderer) UpdateInstance(h metadata.InstanceHandle, data metadata.InstanceData) error {
	return r.pools.Update(h, data)
}

// QueueBufferUpdate schedules a write into a device buffer. It is recorded at
// the start of the next frame, before the render pass, with the barriers it
// needs.
func (r *Renderer) QueueBufferUpdate(h resources.BufferHandle, offset uint64, data []byte) error {
	buf, err := r.buffers.Get(h)
	if err != nil {
		return err
	}
	if offset+uint64(len(data)) > buf.Size {
		return errors.Wrapf(core.ErrInvalidOperation, "update of %d bytes at %d past %s", len(data), offset, h)
	}
	r.updates = append(r.updates, bufferUpdate{buffer: h, offset: offset, data: append([]byte(nil), data...)})
	return nil
}

// Immediate runs fn on a single-use command buffer and waits for it, for
// uploads outside the frame loop.
func (r *Renderer) Immediate(fn func(rec *command.Recorder) error) error {
	return command.Immediate(r.dev, r.tracker, r.buffers, r.images, r.cfg.Renderer.FenceTimeout(), fn)
}

// UploadMesh creates device-local vertex and index buffers and fills them.
func (r *Renderer) UploadMesh(name string, vertices []math.Vertex3D, indices []uint32) (*metadata.Mesh, error) {
	if len(vertices) == 0 || len(indices) == 0 {
		return nil, errors.Wrapf(core.ErrInvalidOperation, "mesh %q is empty", name)
	}
	vdata := descriptors.EncodeVertices(vertices)
	idata := descriptors.EncodeIndices(indices)
	vb, err := r.buffers.Create(driver.MemoryDeviceLocal, uint64(len(vdata)), driver.UsageVertex|driver.UsageTransferDst)
	if err != nil {
		return nil, errors.Wrapf(err, "mesh %q", name)
	}
	ib, err := r.buffers.Create(driver.MemoryDeviceLocal, uint64(len(idata)), driver.UsageIndex|driver.UsageTransferDst)
	if err != nil {
		_ = r.buffers.Destroy(vb)
		return nil, errors.Wrapf(err, "mesh %q", name)
	}
	err = r.Immediate(func(rec *command.Recorder) error {
		if err := rec.WriteBuffer(vb, 0, vdata); err != nil {
			return err
		}
		return rec.WriteBuffer(ib, 0, idata)
	})
	if err != nil {
		_ = r.buffers.Destroy(vb)
		_ = r.buffers.Destroy(ib)
		return nil, errors.Wrapf(err, "mesh %q", name)
	}
	return &metadata.Mesh{
		ID:           core.NewIdentifier(),
		Name:         name,
		VertexBuffer: vb,
		IndexBuffer:  ib,
		VertexCount:  uint32(len(vertices)),
		IndexCount:   uint32(len(indices)),
		Extents:      math.ExtentsOf(vertices),
	}, nil
}

// DestroyMesh frees the buffers of a mesh once in-flight frames are done
// with them.
func (r *Renderer) DestroyMesh(m *metadata.Mesh) {
	r.destroyBuffer(m.VertexBuffer)
	r.destroyBuffer(m.IndexBuffer)
	m.VertexBuffer, m.IndexBuffer = resources.BufferHandle{}, resources.BufferHandle{}
}

func (r *Renderer) destroyBuffer(h resources.BufferHandle) {
	native, err := r.buffers.Native(h)
	if err != nil {
		return
	}
	r.deletion.Push(r.sync.FrameNumber(), func() {
		r.tracker.Forget(native)
		if err := r.buffers.Destroy(h); err != nil {
			core.LogError("%s", err)
		}
	})
}

// UploadTexture creates a sampled RGBA8 texture from tightly packed pixels.
func (r *Renderer) UploadTexture(width, height uint32, pixels []byte) (resources.ImageHandle, error) {
	h, err := r.images.Create(resources.ImageDesc{ImageDesc: driver.ImageDesc{
		Width:  width,
		Height: height,
		Format: driver.FormatRGBA8Unorm,
		Usage:  driver.ImageSampled | driver.ImageTransferDst,
	}})
	if err != nil {
		return resources.ImageHandle{}, err
	}
	if err := r.Immediate(func(rec *command.Recorder) error { return rec.UploadImage(h, pixels) }); err != nil {
		_ = r.images.Destroy(h)
		return resources.ImageHandle{}, err
	}
	return h, nil
}

// LoadTexture uploads any decoded image.
func (r *Renderer) LoadTexture(img goimage.Image) (resources.ImageHandle, error) {
	pixels, w, h := resources.ConvertRGBA(img)
	return r.UploadTexture(w, h, pixels)
}

// DestroyTexture frees a texture once in-flight frames are done with it.
// Materials referencing it stop drawing right away: their descriptor sets are
// released and binding them again fails with core.ErrInvalidHandle.
func (r *Renderer) DestroyTexture(h resources.ImageHandle) {
	native, err := r.images.Native(h)
	if err != nil || h == r.defaultTexture || r.dying[h] {
		return
	}
	frame := r.sync.FrameNumber()
	for key, set := range r.materials {
		for _, tex := range key.Textures {
			if tex != h {
				continue
			}
			delete(r.materials, key)
			if err := r.descriptors.ReleaseMaterial(set, r.deletion, frame); err != nil {
				core.LogError("%s", err)
			}
			break
		}
	}
	r.dying[h] = true
	r.deletion.Push(frame, func() {
		delete(r.dying, h)
		r.tracker.Forget(native)
		if err := r.images.Destroy(h); err != nil {
			core.LogError("%s", err)
		}
	})
}

func (r *Renderer) DefaultTexture() resources.ImageHandle { return r.defaultTexture }

func (r *Renderer) DefaultMaterial() *metadata.Material { return r.defaultMaterial }

func (r *Renderer) Stats() FrameStats { return r.last }

func (r *Renderer) Metrics() *core.FrameMetrics { return r.metrics }

func (r *Renderer) PipelineStats() pipeline.Stats { return r.pipelines.Stats() }

func (r *Renderer) PoolStats() pool.Stats { return r.pools.Stats() }

// ReloadShaders recompiles every compiled pipeline from the shader source,
// once the frames in flight are done with them. Archetypes that failed to
// compile earlier stay unusable.
func (r *Renderer) ReloadShaders() error {
	if err := r.sync.WaitAll(); err != nil {
		return err
	}
	return r.pipelines.Rebuild()
}

// Shutdown waits for the GPU and releases everything the renderer created.
// The device itself belongs to the caller.
func (r *Renderer) Shutdown() {
	if r.events != nil {
		r.events.Unregister(core.EVENT_CODE_RESIZED, r)
	}
	if r.sync != nil {
		if err := r.sync.WaitAll(); err != nil {
			core.LogError("shutdown: %s", err)
		}
	}
	if err := r.dev.WaitIdle(); err != nil {
		core.LogError("shutdown: %s", err)
	}
	if r.pools != nil {
		r.pools.Destroy()
	}
	if r.descriptors != nil {
		r.descriptors.Destroy()
	}
	if r.pipelines != nil {
		r.pipelines.Destroy()
	}
	if r.sync != nil {
		r.sync.Destroy()
	}
	r.materials = make(map[metadata.MaterialKey]descriptors.DescriptorSetHandle)
	r.dying = make(map[resources.ImageHandle]bool)
	r.backend.destroy()
	core.LogInfo("renderer shut down")
}
