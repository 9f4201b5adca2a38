package command

import (
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
)

// Common access scopes.
var (
	ScopeVertexRead    = driver.Scope{Stages: driver.StageVertexInput, Access: driver.AccessVertexAttributeRead}
	ScopeIndexRead     = driver.Scope{Stages: driver.StageVertexInput, Access: driver.AccessIndexRead}
	ScopeTransferRead  = driver.Scope{Stages: driver.StageTransfer, Access: driver.AccessTransferRead}
	ScopeTransferWrite = driver.Scope{Stages: driver.StageTransfer, Access: driver.AccessTransferWrite}
	ScopeSampledRead   = driver.Scope{Stages: driver.StageFragmentShader, Access: driver.AccessShaderRead}
)

// Tracker remembers, per GPU resource, which accesses have not been ordered by
// a barrier yet. It outlives command buffers: work of the previous frame is
// still unordered against the next one until a barrier says otherwise. Only
// the recording goroutine uses it.
//
// Changes made while a recording is open are journaled, so a command buffer
// that is never submitted leaves no trace.
type Tracker struct {
	states map[interface{}]*driver.AccessState
	// state of every resource touched by the open recording, as it was when
	// the recording began; nil for resources the recording created
	before map[interface{}]*driver.AccessState
}

func NewTracker() *Tracker {
	return &Tracker{states: make(map[interface{}]*driver.AccessState)}
}

func (t *Tracker) state(res interface{}) *driver.AccessState {
	st, ok := t.states[res]
	if !ok {
		s := driver.NewAccessState()
		st = &s
		t.states[res] = st
		if t.before != nil {
			if _, seen := t.before[res]; !seen {
				t.before[res] = nil
			}
		}
		return st
	}
	t.save(res, st)
	return st
}

func (t *Tracker) save(res interface{}, st *driver.AccessState) {
	if t.before == nil {
		return
	}
	if _, seen := t.before[res]; !seen {
		saved := *st
		t.before[res] = &saved
	}
}

// checkpoint opens the journal of a new recording. Whatever an earlier
// recording left in it is kept.
func (t *Tracker) checkpoint() {
	t.before = make(map[interface{}]*driver.AccessState)
}

func (t *Tracker) commit() {
	t.before = nil
}

// rollback restores every resource the open recording touched.
func (t *Tracker) rollback() {
	for res, st := range t.before {
		if st == nil {
			delete(t.states, res)
			continue
		}
		t.states[res] = st
	}
	t.before = nil
}

// Forget drops a destroyed resource.
func (t *Tracker) Forget(res interface{}) {
	delete(t.states, res)
	if t.before != nil {
		delete(t.before, res)
	}
}

// Hazard returns what an access to res would conflict with right now.
func (t *Tracker) Hazard(res interface{}, s driver.Scope, write bool) driver.HazardKind {
	st, ok := t.states[res]
	if !ok {
		return driver.HazardNone
	}
	return st.Check(s, write)
}

func (t *Tracker) apply(dep *driver.Dependency) {
	for _, b := range dep.Memory {
		for res, st := range t.states {
			t.save(res, st)
			st.Apply(b)
		}
	}
	for _, bb := range dep.Buffers {
		t.state(bb.Buffer).Apply(bb.Barrier)
	}
	for _, ib := range dep.Images {
		t.state(ib.Image).Apply(ib.Barrier)
	}
}

func (t *Tracker) Len() int {
	return len(t.states)
}

// layoutScope is the access an image layout is entered for.
func layoutScope(l driver.ImageLayout) (driver.Scope, bool) {
	switch l {
	case driver.LayoutTransferDst:
		return ScopeTransferWrite, true
	case driver.LayoutTransferSrc:
		return ScopeTransferRead, false
	case driver.LayoutShaderReadOnly:
		return ScopeSampledRead, false
	case driver.LayoutColorAttachment:
		return driver.Scope{Stages: driver.StageColorAttachmentOutput, Access: driver.AccessColorAttachmentWrite}, true
	case driver.LayoutDepthAttachment:
		return driver.Scope{Stages: driver.StageEarlyFragmentTests | driver.StageLateFragmentTests, Access: driver.AccessDepthStencilWrite}, true
	}
	return driver.Scope{Stages: driver.StageAllCommands, Access: driver.AccessMemoryRead | driver.AccessMemoryWrite}, true
}
