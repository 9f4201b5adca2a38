package renderer

import (
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/anima-core/engine/math"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

// Draw is one entity scheduled for drawing.
type Draw struct {
	Entity    *metadata.RenderEntity
	Material  *metadata.Material
	Archetype metadata.Archetype
	// squared distance from the camera to the entity origin
	Distance float32
}

// Batch holds the opaque draws of one pipeline, in submission order.
type Batch struct {
	Archetype metadata.Archetype
	Draws     []Draw
}

// RenderQueue is the draw order of one frame: every opaque batch first, then
// the transparent draws back to front across all pipelines.
type RenderQueue struct {
	Opaque      []Batch
	Transparent []Draw
	Skipped     int
}

// Len counts the draws in the queue.
func (q *RenderQueue) Len() int {
	n := len(q.Transparent)
	for _, b := range q.Opaque {
		n += len(b.Draws)
	}
	return n
}

// Archetypes lists every archetype the queue draws with, opaque ones first.
func (q *RenderQueue) Archetypes() []metadata.Archetype {
	var seen [metadata.ArchetypeCount]bool
	var out []metadata.Archetype
	add := func(a metadata.Archetype) {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	for _, b := range q.Opaque {
		add(b.Archetype)
	}
	for _, d := range q.Transparent {
		add(d.Archetype)
	}
	return out
}

// BuildRenderQueue partitions entities into opaque batches, grouped by
// archetype in archetype order, and transparent draws sorted by descending
// distance from eye. Entities at equal distance keep their submission order.
// Entities without a mesh are skipped; a nil material falls back to fallback.
func BuildRenderQueue(entities []metadata.RenderEntity, eye math.Vec3, fallback *metadata.Material) RenderQueue {
	var q RenderQueue
	var opaque [metadata.ArchetypeCount][]Draw
	for i := range entities {
		e := &entities[i]
		mat := e.Material
		if mat == nil {
			mat = fallback
		}
		if e.Mesh == nil || mat == nil || !mat.Archetype.Valid() {
			q.Skipped++
			continue
		}
		d := Draw{
			Entity:    e,
			Material:  mat,
			Archetype: mat.Archetype,
			Distance:  math.DistanceSquared(eye, math.Translation(e.Model)),
		}
		if mat.Archetype.IsTransparent() {
			q.Transparent = append(q.Transparent, d)
		} else {
			opaque[mat.Archetype] = append(opaque[mat.Archetype], d)
		}
	}
	for _, a := range metadata.Archetypes {
		if len(opaque[a]) > 0 {
			q.Opaque = append(q.Opaque, Batch{Archetype: a, Draws: opaque[a]})
		}
	}
	slices.SortStableFunc(q.Transparent, func(a, b Draw) int {
		switch {
		case a.Distance > b.Distance:
			return -1
		case a.Distance < b.Distance:
			return 1
		}
		return 0
	})
	return q
}
