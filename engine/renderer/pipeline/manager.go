// Package pipeline compiles one graphics pipeline per material archetype and
// binds them. Compilation happens once per archetype per session; binding
// never compiles.
package pipeline

import (
	"context"
	"runtime"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/descriptors"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

// Binder is the part of a command recorder Select needs.
type Binder interface {
	BindPipeline(p driver.Pipeline)
}

type entryState uint8

const (
	stateMissing entryState = iota
	stateReady
	stateFailed
)

type entry struct {
	state    entryState
	pipeline driver.Pipeline
	err      error
}

type Stats struct {
	Compiled int
	Failed   int
	Binds    uint64
}

// Manager caches at most one pipeline per archetype. It is single-writer;
// only Warm fans work out, and it installs results on the calling goroutine.
type Manager struct {
	dev        driver.Device
	shaders    ShaderSource
	setLayouts []driver.DescriptorSetLayout
	entries    [metadata.ArchetypeCount]entry
	stats      Stats
}

func NewManager(dev driver.Device, shaders ShaderSource, global, material driver.DescriptorSetLayout) *Manager {
	return &Manager{
		dev:        dev,
		shaders:    shaders,
		setLayouts: []driver.DescriptorSetLayout{global, material},
	}
}

// ShaderName is the shader program an archetype runs. Transparent variants
// share the program of their opaque twin and differ in fixed-function state.
func ShaderName(a metadata.Archetype) string {
	if a.IsLit() {
		return "pbr"
	}
	return "unlit"
}

// Describe returns the pipeline description of an archetype, without code.
func Describe(a metadata.Archetype) driver.PipelineDesc {
	desc := driver.PipelineDesc{
		Name:             a.String(),
		Bindings:         descriptors.VertexBindings(),
		Attributes:       descriptors.VertexAttributes(),
		PushConstantSize: descriptors.PushConstantSize,
		Blend:            driver.BlendOpaque,
		DepthTest:        true,
		DepthWrite:       true,
		Cull:             driver.CullBack,
	}
	if a.IsTransparent() {
		// blended surfaces test against opaque depth but never occlude each other
		desc.Blend = driver.BlendAlpha
		desc.DepthWrite = false
		desc.Cull = driver.CullNone
	}
	return desc
}

func (m *Manager) build(a metadata.Archetype) (driver.Pipeline, error) {
	desc := Describe(a)
	desc.SetLayouts = m.setLayouts
	var err error
	if desc.VertexCode, err = m.shaders.Load(ShaderName(a), driver.ShaderVertex); err != nil {
		return nil, err
	}
	if desc.FragmentCode, err = m.shaders.Load(ShaderName(a), driver.ShaderFragment); err != nil {
		return nil, err
	}
	return m.dev.NewPipeline(&desc)
}

// install records the outcome of a compile. A failure is logged here and
// nowhere else; the archetype stays unusable for the rest of the session.
func (m *Manager) install(a metadata.Archetype, p driver.Pipeline, err error) error {
	e := &m.entries[a]
	if err != nil {
		e.state = stateFailed
		e.err = errors.Wrapf(core.ErrPipelineCreationFailed, "pipeline %s: %s", a, err)
		m.stats.Failed++
		core.LogError("%s; materials of this archetype will not be drawn", e.err)
		return e.err
	}
	e.state = stateReady
	e.pipeline = p
	m.stats.Compiled++
	core.LogDebug("pipeline %s compiled", a)
	return nil
}

// EnsurePipeline compiles the pipeline of a on first use. Later calls do no
// GPU work. Once compilation has failed every call returns
// core.ErrPipelineCreationFailed without trying again.
func (m *Manager) EnsurePipeline(a metadata.Archetype) error {
	if !a.Valid() {
		return errors.Wrapf(core.ErrInvalidOperation, "archetype %d", a)
	}
	e := &m.entries[a]
	switch e.state {
	case stateReady:
		return nil
	case stateFailed:
		return e.err
	}
	p, err := m.build(a)
	return m.install(a, p, err)
}

// Warm compiles every missing archetype of as concurrently. Failures are
// installed like EnsurePipeline failures and joined in the returned error.
func (m *Manager) Warm(ctx context.Context, as ...metadata.Archetype) error {
	type result struct {
		archetype metadata.Archetype
		pipeline  driver.Pipeline
		err       error
	}
	var todo []metadata.Archetype
	for _, a := range as {
		if a.Valid() && m.entries[a].state == stateMissing {
			todo = append(todo, a)
		}
	}
	results := make([]result, len(todo))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, a := range todo {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, err := m.build(a)
			results[i] = result{archetype: a, pipeline: p, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// cancelled: drop whatever was built
		for _, r := range results {
			if r.pipeline != nil {
				r.pipeline.Destroy()
			}
		}
		return err
	}

	var errs error
	for _, r := range results {
		if err := m.install(r.archetype, r.pipeline, r.err); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

// Select binds the cached pipeline of a. It never compiles: an archetype that
// was not ensured is a caller bug.
func (m *Manager) Select(rec Binder, a metadata.Archetype) (driver.Pipeline, error) {
	p, err := m.Pipeline(a)
	if err != nil {
		return nil, err
	}
	rec.BindPipeline(p)
	m.stats.Binds++
	return p, nil
}

// Pipeline returns the cached pipeline of a without binding it.
func (m *Manager) Pipeline(a metadata.Archetype) (driver.Pipeline, error) {
	if !a.Valid() {
		return nil, errors.Wrapf(core.ErrInvalidOperation, "archetype %d", a)
	}
	e := &m.entries[a]
	switch e.state {
	case stateReady:
		return e.pipeline, nil
	case stateFailed:
		return nil, e.err
	}
	return nil, errors.Wrapf(core.ErrResourceNotFound, "pipeline %s was never ensured", a)
}

// Usable reports whether a has not failed. Archetypes never ensured are usable.
func (m *Manager) Usable(a metadata.Archetype) bool {
	return a.Valid() && m.entries[a].state != stateFailed
}

// Rebuild recompiles every live pipeline, after the presentation formats
// changed. The device must be idle. Failed archetypes stay failed.
func (m *Manager) Rebuild() error {
	var errs error
	for _, a := range metadata.Archetypes {
		e := &m.entries[a]
		if e.state != stateReady {
			continue
		}
		e.pipeline.Destroy()
		*e = entry{}
		m.stats.Compiled--
		p, err := m.build(a)
		if err := m.install(a, p, err); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

func (m *Manager) Stats() Stats {
	return m.stats
}

func (m *Manager) Destroy() {
	for i := range m.entries {
		if m.entries[i].pipeline != nil {
			m.entries[i].pipeline.Destroy()
		}
		m.entries[i] = entry{}
	}
}
