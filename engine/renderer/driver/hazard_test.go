package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	vertexRead    = Scope{Stages: StageVertexInput, Access: AccessVertexAttributeRead}
	transferWrite = Scope{Stages: StageTransfer, Access: AccessTransferWrite}
	transferRead  = Scope{Stages: StageTransfer, Access: AccessTransferRead}
)

func TestFreshResourceHasNoHazards(t *testing.T) {
	st := NewAccessState()
	assert.Equal(t, HazardNone, st.Check(vertexRead, false))
	assert.Equal(t, HazardNone, st.Check(transferWrite, true))
}

func TestWriteAfterReadNeedsBothHalves(t *testing.T) {
	st := NewAccessState()
	st.Access(vertexRead, false)
	assert.Equal(t, WriteAfterRead, st.Check(transferWrite, true))

	execOnly := st
	execOnly.Apply(Barrier{SyncBefore: StageVertexInput, SyncAfter: StageTransfer})
	assert.Equal(t, WriteAfterRead, execOnly.Check(transferWrite, true), "execution-only barrier is not enough")

	b, needed := st.Required(transferWrite, true)
	assert.True(t, needed)
	assert.Equal(t, Barrier{
		SyncBefore:   StageVertexInput,
		AccessBefore: AccessVertexAttributeRead,
		SyncAfter:    StageTransfer,
		AccessAfter:  AccessTransferWrite,
	}, b)

	st.Apply(b)
	assert.Equal(t, HazardNone, st.Check(transferWrite, true))
}

func TestReadAfterWrite(t *testing.T) {
	st := NewAccessState()
	st.Access(transferWrite, true)
	assert.Equal(t, ReadAfterWrite, st.Check(vertexRead, false))

	b, needed := st.Required(vertexRead, false)
	assert.True(t, needed)
	st.Apply(b)
	assert.Equal(t, HazardNone, st.Check(vertexRead, false))

	// the barrier made the write visible to vertex input only
	assert.Equal(t, ReadAfterWrite, st.Check(transferRead, false))
	b, needed = st.Required(transferRead, false)
	assert.True(t, needed)
	st.Apply(b)
	assert.Equal(t, HazardNone, st.Check(transferRead, false))
}

func TestWriteAfterWrite(t *testing.T) {
	st := NewAccessState()
	st.Access(transferWrite, true)
	assert.Equal(t, WriteAfterWrite, st.Check(transferWrite, true))
	b, _ := st.Required(transferWrite, true)
	st.Apply(b)
	assert.Equal(t, HazardNone, st.Check(transferWrite, true))
}

func TestUpdateDrawUpdateCycleChains(t *testing.T) {
	st := NewAccessState()
	for frame := 0; frame < 3; frame++ {
		if b, ok := st.Required(transferWrite, true); ok {
			st.Apply(b)
		}
		st.Access(transferWrite, true)
		if b, ok := st.Required(vertexRead, false); ok {
			st.Apply(b)
		}
		assert.Equal(t, HazardNone, st.Check(vertexRead, false))
		st.Access(vertexRead, false)
	}

	b, needed := st.Required(transferWrite, true)
	assert.True(t, needed)
	assert.Equal(t, StageVertexInput, b.SyncBefore)
	assert.Equal(t, AccessVertexAttributeRead, b.AccessBefore)
}

func TestDependencyStagesFold(t *testing.T) {
	d := &Dependency{
		Memory:  []Barrier{{SyncBefore: StageTransfer, SyncAfter: StageVertexInput}},
		Buffers: []BufferBarrier{{Barrier: Barrier{SyncBefore: StageVertexInput, SyncAfter: StageTransfer}}},
	}
	before, after := d.Stages()
	assert.Equal(t, StageTransfer|StageVertexInput, before)
	assert.Equal(t, StageVertexInput|StageTransfer, after)
	assert.True(t, (&Dependency{}).Empty())
}
