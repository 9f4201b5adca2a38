// Package command records command buffers. Recording is strictly sequential
// and every transfer or draw goes through a hazard tracker that inserts the
// pipeline barriers the access needs.
package command

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
	"github.com/spaghettifunk/anima-core/engine/renderer/resources"
)

type State uint8

const (
	StateReady State = iota
	StateRecording
	StateInRenderPass
	StateEnded
	StateSubmitted
)

func (s State) String() string {
	return [...]string{"ready", "recording", "in-render-pass", "ended", "submitted"}[s]
}

type Stats struct {
	Draws    int
	Barriers int
	Uploads  int
}

// Recorder records one command buffer at a time. Draw-state commands report
// misuse through End, like the command buffer itself; resource commands
// return their error directly.
type Recorder struct {
	dev      driver.Device
	tracker  *Tracker
	buffers  *resources.BufferManager
	images   *resources.ImageManager
	deletion *resources.DeletionQueue

	cb        driver.CommandBuffer
	frame     uint64
	state     State
	auto      bool
	err       error
	vertex    []driver.Buffer
	index     driver.Buffer
	stats     Stats
	transient []resources.BufferHandle
	// layouts of the images transitioned since Begin, as they were before
	layouts map[resources.ImageHandle]driver.ImageLayout
}

// NewRecorder builds a recorder. Staging buffers are released through
// deletion once the frame that used them has completed; with a nil queue the
// owner must call ReleaseTransient after waiting for the submission.
func NewRecorder(dev driver.Device, tracker *Tracker, buffers *resources.BufferManager, images *resources.ImageManager, deletion *resources.DeletionQueue) *Recorder {
	return &Recorder{
		dev:      dev,
		tracker:  tracker,
		buffers:  buffers,
		images:   images,
		deletion: deletion,
		auto:     true,
	}
}

func (r *Recorder) State() State { return r.state }

func (r *Recorder) Stats() Stats { return r.stats }

// SetAutoBarriers turns barrier insertion off for raw recording. Accesses are
// still tracked.
func (r *Recorder) SetAutoBarriers(on bool) {
	r.auto = on
}

func (r *Recorder) fail(format string, args ...interface{}) {
	if r.err == nil {
		r.err = errors.Wrapf(core.ErrInvalidOperation, format, args...)
	}
}

func (r *Recorder) require(states ...State) error {
	for _, s := range states {
		if r.state == s {
			return nil
		}
	}
	return errors.Wrapf(core.ErrInvalidOperation, "recorder is %s", r.state)
}

// Begin starts recording into cb for the given frame number. A previous
// recording that was neither committed nor discarded counts as submitted.
func (r *Recorder) Begin(cb driver.CommandBuffer, frame uint64) error {
	if r.state == StateRecording || r.state == StateInRenderPass {
		return errors.Wrapf(core.ErrInvalidOperation, "begin while %s", r.state)
	}
	if err := cb.Begin(); err != nil {
		return errors.Wrap(err, "begin command buffer")
	}
	r.tracker.checkpoint()
	r.cb = cb
	r.frame = frame
	r.state = StateRecording
	r.err = nil
	r.vertex = r.vertex[:0]
	r.index = nil
	r.stats = Stats{}
	r.layouts = make(map[resources.ImageHandle]driver.ImageLayout)
	return nil
}

// Commit is called once the ended command buffer has been submitted. The
// resource states it recorded become the starting point of later recordings.
func (r *Recorder) Commit() error {
	if err := r.require(StateEnded); err != nil {
		return err
	}
	r.tracker.commit()
	r.layouts = nil
	r.state = StateSubmitted
	return nil
}

// Discard drops a recording that will never be submitted: tracked accesses,
// barriers and image layouts go back to what they were at Begin.
func (r *Recorder) Discard() {
	switch r.state {
	case StateRecording, StateInRenderPass:
		if r.state == StateInRenderPass {
			r.cb.EndRenderPass()
		}
		_ = r.cb.End()
	case StateEnded:
	default:
		return
	}
	r.tracker.rollback()
	for h, layout := range r.layouts {
		// images destroyed since have nothing to restore
		_ = r.images.SetLayout(h, layout)
	}
	r.layouts = nil
	r.state = StateReady
}

// End finishes recording and reports the first misuse seen since Begin.
func (r *Recorder) End() error {
	if err := r.require(StateRecording, StateInRenderPass); err != nil {
		return err
	}
	if r.state == StateInRenderPass {
		r.fail("end inside a render pass")
		r.cb.EndRenderPass()
	}
	err := r.cb.End()
	r.state = StateEnded
	if r.err != nil {
		return r.err
	}
	return err
}

func (r *Recorder) BeginRenderPass(imageIndex uint32, clear driver.ClearValues) {
	if r.state != StateRecording {
		r.fail("render pass begun while %s", r.state)
		return
	}
	r.cb.BeginRenderPass(imageIndex, clear)
	r.state = StateInRenderPass
}

func (r *Recorder) EndRenderPass() {
	if r.state != StateInRenderPass {
		r.fail("end render pass while %s", r.state)
		return
	}
	r.cb.EndRenderPass()
	r.state = StateRecording
}

func (r *Recorder) recording() bool {
	if r.state != StateRecording && r.state != StateInRenderPass {
		r.fail("command recorded while %s", r.state)
		return false
	}
	return true
}

func (r *Recorder) SetViewport(v driver.Viewport, scissor driver.Rect) {
	if r.recording() {
		r.cb.SetViewport(v)
		r.cb.SetScissor(scissor)
	}
}

func (r *Recorder) BindPipeline(p driver.Pipeline) {
	if r.recording() {
		r.cb.BindPipeline(p)
	}
}

func (r *Recorder) BindDescriptorSet(p driver.Pipeline, index uint32, set driver.DescriptorSet) {
	if r.recording() {
		r.cb.BindDescriptorSet(p, index, set)
	}
}

func (r *Recorder) PushConstants(p driver.Pipeline, stages driver.ShaderStage, offset uint32, data []byte) {
	if r.recording() {
		r.cb.PushConstants(p, stages, offset, data)
	}
}

func (r *Recorder) BindVertexBuffers(first uint32, handles ...resources.BufferHandle) error {
	if err := r.require(StateRecording, StateInRenderPass); err != nil {
		return err
	}
	natives := make([]driver.Buffer, len(handles))
	for i, h := range handles {
		b, err := r.buffers.Native(h)
		if err != nil {
			return errors.Wrap(err, "bind vertex buffers")
		}
		natives[i] = b
	}
	for len(r.vertex) < int(first)+len(natives) {
		r.vertex = append(r.vertex, nil)
	}
	copy(r.vertex[first:], natives)
	r.cb.BindVertexBuffers(first, natives, make([]uint64, len(natives)))
	return nil
}

func (r *Recorder) BindIndexBuffer(h resources.BufferHandle) error {
	if err := r.require(StateRecording, StateInRenderPass); err != nil {
		return err
	}
	b, err := r.buffers.Native(h)
	if err != nil {
		return errors.Wrap(err, "bind index buffer")
	}
	r.index = b
	r.cb.BindIndexBuffer(b, 0, driver.IndexUint32)
	return nil
}

// DrawIndexed draws with the bound buffers. Barriers cannot be recorded inside
// a render pass, so any buffer written earlier must have been declared with
// UseBuffers before the pass began.
func (r *Recorder) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	if r.state != StateInRenderPass {
		r.fail("draw while %s", r.state)
		return
	}
	for _, b := range r.vertex {
		if b != nil {
			r.drawRead(b, ScopeVertexRead)
		}
	}
	if r.index != nil {
		r.drawRead(r.index, ScopeIndexRead)
	}
	r.cb.DrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
	r.stats.Draws++
}

func (r *Recorder) drawRead(b driver.Buffer, s driver.Scope) {
	st := r.tracker.state(b)
	if r.auto && st.Check(s, false) != driver.HazardNone {
		r.fail("%v is read by a draw without a barrier; declare it with UseBuffers", b)
	}
	st.Access(s, false)
}

// UseBuffers declares that the following render pass reads handles in scope s
// and records one barrier covering every buffer that needs it.
func (r *Recorder) UseBuffers(s driver.Scope, handles ...resources.BufferHandle) error {
	if err := r.require(StateRecording); err != nil {
		return err
	}
	dep := &driver.Dependency{}
	for _, h := range handles {
		b, err := r.buffers.Native(h)
		if err != nil {
			return errors.Wrap(err, "use buffers")
		}
		if !r.auto {
			continue
		}
		if bar, ok := r.tracker.state(b).Required(s, false); ok {
			dep.Buffers = append(dep.Buffers, driver.BufferBarrier{Barrier: bar, Buffer: b})
		}
	}
	r.record(dep)
	return nil
}

// PipelineBarrier records an explicit dependency.
func (r *Recorder) PipelineBarrier(dep *driver.Dependency) error {
	if err := r.require(StateRecording); err != nil {
		return err
	}
	r.record(dep)
	return nil
}

func (r *Recorder) record(dep *driver.Dependency) {
	if dep.Empty() {
		return
	}
	r.cb.PipelineBarrier(dep)
	r.tracker.apply(dep)
	r.stats.Barriers += len(dep.Memory) + len(dep.Buffers) + len(dep.Images)
}

// access inserts the barrier an access needs, then records it.
func (r *Recorder) access(b driver.Buffer, s driver.Scope, write bool) {
	st := r.tracker.state(b)
	if r.auto {
		if bar, ok := st.Required(s, write); ok {
			r.record(&driver.Dependency{Buffers: []driver.BufferBarrier{{Barrier: bar, Buffer: b}}})
		}
	}
	st.Access(s, write)
}

// WriteBuffer fills a buffer. Host-visible buffers are written directly;
// device-local ones through an inline update when the data is small enough,
// otherwise through a staging copy.
func (r *Recorder) WriteBuffer(h resources.BufferHandle, offset uint64, data []byte) error {
	if err := r.require(StateRecording); err != nil {
		return err
	}
	buf, err := r.buffers.Get(h)
	if err != nil {
		return errors.Wrap(err, "write buffer")
	}
	if offset+uint64(len(data)) > buf.Size {
		return errors.Wrapf(core.ErrInvalidOperation, "write of %d bytes at %d past %s (%d bytes)", len(data), offset, h, buf.Size)
	}
	if len(data) == 0 {
		return nil
	}
	if buf.Kind.HostVisible() {
		return r.buffers.Write(h, offset, data)
	}
	if buf.Usage&driver.UsageTransferDst == 0 {
		return errors.Wrapf(core.ErrInvalidOperation, "%s is not a transfer destination", h)
	}
	dst := buf.Native

	limit := r.dev.Limits().MaxUpdateBufferSize
	if uint64(len(data)) <= limit && len(data)%4 == 0 && offset%4 == 0 {
		r.access(dst, ScopeTransferWrite, true)
		r.cb.UpdateBuffer(dst, offset, data)
		r.stats.Uploads++
		return nil
	}

	staging, err := r.staging(data)
	if err != nil {
		return err
	}
	r.access(staging, ScopeTransferRead, false)
	r.access(dst, ScopeTransferWrite, true)
	r.cb.CopyBuffer(staging, dst, []driver.BufferCopy{{DstOffset: offset, Size: uint64(len(data))}})
	r.stats.Uploads++
	return nil
}

// CopyBuffer copies between two device buffers.
func (r *Recorder) CopyBuffer(src, dst resources.BufferHandle, regions ...driver.BufferCopy) error {
	if err := r.require(StateRecording); err != nil {
		return err
	}
	s, err := r.buffers.Get(src)
	if err != nil {
		return errors.Wrap(err, "copy source")
	}
	d, err := r.buffers.Get(dst)
	if err != nil {
		return errors.Wrap(err, "copy destination")
	}
	if s.Usage&driver.UsageTransferSrc == 0 || d.Usage&driver.UsageTransferDst == 0 {
		return errors.Wrapf(core.ErrInvalidOperation, "copy %s -> %s: missing transfer usage", src, dst)
	}
	for _, reg := range regions {
		if reg.SrcOffset+reg.Size > s.Size || reg.DstOffset+reg.Size > d.Size {
			return errors.Wrapf(core.ErrInvalidOperation, "copy %s -> %s: region out of range", src, dst)
		}
	}
	sn, dn := s.Native, d.Native
	r.access(sn, ScopeTransferRead, false)
	r.access(dn, ScopeTransferWrite, true)
	r.cb.CopyBuffer(sn, dn, regions)
	return nil
}

// TransitionImage moves an image to a new layout with the barrier its
// pending accesses need, and records the layout in the image manager.
func (r *Recorder) TransitionImage(h resources.ImageHandle, layout driver.ImageLayout) error {
	if err := r.require(StateRecording); err != nil {
		return err
	}
	img, err := r.images.Get(h)
	if err != nil {
		return errors.Wrap(err, "transition")
	}
	if img.Layout == layout {
		return nil
	}
	after, write := layoutScope(layout)
	st := r.tracker.state(img.Native)
	bar, ok := st.Required(after, write)
	if !ok || !r.auto {
		bar = driver.Barrier{SyncBefore: driver.StageTopOfPipe, SyncAfter: after.Stages, AccessAfter: after.Access}
	}
	r.record(&driver.Dependency{Images: []driver.ImageBarrier{{
		Barrier:      bar,
		Image:        img.Native,
		LayoutBefore: img.Layout,
		LayoutAfter:  layout,
	}}})
	if _, seen := r.layouts[h]; !seen && r.layouts != nil {
		r.layouts[h] = img.Layout
	}
	img.Layout = layout
	return nil
}

// UploadImage copies tightly packed pixels into an image through a staging
// buffer and leaves it ready for sampling.
func (r *Recorder) UploadImage(h resources.ImageHandle, pixels []byte) error {
	if err := r.require(StateRecording); err != nil {
		return err
	}
	img, err := r.images.Get(h)
	if err != nil {
		return errors.Wrap(err, "upload image")
	}
	want := uint64(img.Desc.Width) * uint64(img.Desc.Height) * uint64(img.Desc.Format.BytesPerPixel())
	if uint64(len(pixels)) != want || want == 0 {
		return errors.Wrapf(core.ErrInvalidOperation, "upload of %d bytes into %s needs %d", len(pixels), h, want)
	}
	if img.Desc.Usage&driver.ImageTransferDst == 0 {
		return errors.Wrapf(core.ErrInvalidOperation, "%s is not a transfer destination", h)
	}
	staging, err := r.staging(pixels)
	if err != nil {
		return err
	}
	if err := r.TransitionImage(h, driver.LayoutTransferDst); err != nil {
		return err
	}
	native, _ := r.images.Native(h)
	r.access(staging, ScopeTransferRead, false)
	r.tracker.state(native).Access(ScopeTransferWrite, true)
	r.cb.CopyBufferToImage(staging, native, driver.LayoutTransferDst)
	r.stats.Uploads++
	return r.TransitionImage(h, driver.LayoutShaderReadOnly)
}

func (r *Recorder) staging(data []byte) (driver.Buffer, error) {
	h, err := r.buffers.Create(driver.MemoryStaging, uint64(len(data)), driver.UsageTransferSrc)
	if err != nil {
		return nil, errors.Wrap(err, "staging buffer")
	}
	if err := r.buffers.Write(h, 0, data); err != nil {
		_ = r.buffers.Destroy(h)
		return nil, err
	}
	native, _ := r.buffers.Native(h)
	if r.deletion != nil {
		r.deletion.Push(r.frame, func() {
			r.tracker.Forget(native)
			if err := r.buffers.Destroy(h); err != nil {
				core.LogError("staging buffer: %s", err)
			}
		})
	} else {
		r.transient = append(r.transient, h)
	}
	return native, nil
}

// ReleaseTransient destroys staging buffers of recorders without a deletion
// queue. The submission that used them must have completed.
func (r *Recorder) ReleaseTransient() {
	for _, h := range r.transient {
		if native, err := r.buffers.Native(h); err == nil {
			r.tracker.Forget(native)
		}
		if err := r.buffers.Destroy(h); err != nil {
			core.LogError("staging buffer: %s", err)
		}
	}
	r.transient = r.transient[:0]
}
