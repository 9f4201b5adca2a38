package driver

import "fmt"

type HazardKind uint8

const (
	HazardNone HazardKind = iota
	ReadAfterWrite
	WriteAfterRead
	WriteAfterWrite
	LayoutMismatch
	SemaphoreMisuse
)

func (k HazardKind) String() string {
	switch k {
	case ReadAfterWrite:
		return "read-after-write"
	case WriteAfterRead:
		return "write-after-read"
	case WriteAfterWrite:
		return "write-after-write"
	case LayoutMismatch:
		return "layout-mismatch"
	case SemaphoreMisuse:
		return "semaphore-misuse"
	}
	return "none"
}

// Scope is a set of stages together with the access types performed in them.
type Scope struct {
	Stages PipelineStage
	Access Access
}

var fullScope = Scope{Stages: ^PipelineStage(0), Access: ^Access(0)}

func (s Scope) Empty() bool {
	return s.Stages == StageNone && s.Access == AccessNone
}

func (s Scope) Covers(o Scope) bool {
	return s.Stages.Contains(o.Stages) && s.Access.Contains(o.Access)
}

func (s Scope) Union(o Scope) Scope {
	return Scope{Stages: s.Stages | o.Stages, Access: s.Access | o.Access}
}

func (s Scope) String() string {
	return fmt.Sprintf("%s/%s", s.Stages, s.Access)
}

// AccessState follows one resource through a stream of commands. Reads and
// writes that are not yet ordered by a barrier are pending; a barrier that
// covers the pending scope in both its execution and memory halves clears it
// and opens a guard for the barrier's destination scope. Only accesses inside
// the guard are hazard free.
type AccessState struct {
	pendingRead  Scope
	pendingWrite Scope
	lastWrite    Scope
	readGuard    Scope
	writeGuard   Scope
}

// NewAccessState is the state of a resource nothing has touched yet.
func NewAccessState() AccessState {
	return AccessState{readGuard: fullScope, writeGuard: fullScope}
}

// Check returns the hazard an access would cause, or HazardNone.
func (st *AccessState) Check(s Scope, write bool) HazardKind {
	if !write {
		if !st.pendingWrite.Empty() || !st.writeGuard.Covers(s) {
			return ReadAfterWrite
		}
		return HazardNone
	}
	if !st.pendingRead.Empty() || !st.readGuard.Covers(s) {
		return WriteAfterRead
	}
	if !st.pendingWrite.Empty() || !st.writeGuard.Covers(s) {
		return WriteAfterWrite
	}
	return HazardNone
}

// Access records an access. It does not check it.
func (st *AccessState) Access(s Scope, write bool) {
	if !write {
		st.pendingRead = st.pendingRead.Union(s)
		return
	}
	st.pendingRead = Scope{}
	st.pendingWrite = s
	st.lastWrite = s
	st.readGuard = fullScope
	st.writeGuard = Scope{}
}

// Apply records a barrier.
func (st *AccessState) Apply(b Barrier) {
	before := Scope{Stages: b.SyncBefore, Access: b.AccessBefore}
	after := Scope{Stages: b.SyncAfter, Access: b.AccessAfter}

	// dependencies chain through the stages a previous barrier released
	chainsRead := b.SyncBefore&st.readGuard.Stages != 0
	chainsWrite := b.SyncBefore&st.writeGuard.Stages != 0

	if !st.pendingRead.Empty() && before.Covers(st.pendingRead) {
		st.pendingRead = Scope{}
		st.readGuard = after
	} else if st.pendingRead.Empty() && chainsRead {
		st.readGuard = st.readGuard.Union(after)
	}

	if !st.pendingWrite.Empty() && before.Covers(st.pendingWrite) {
		st.pendingWrite = Scope{}
		st.writeGuard = after
	} else if st.pendingWrite.Empty() && chainsWrite {
		st.writeGuard = st.writeGuard.Union(after)
	}
}

// Required returns the barrier that must precede an access for it to be
// hazard free, and false when none is needed.
func (st *AccessState) Required(s Scope, write bool) (Barrier, bool) {
	if st.Check(s, write) == HazardNone {
		return Barrier{}, false
	}
	b := Barrier{
		SyncBefore:   st.pendingRead.Stages | st.pendingWrite.Stages,
		AccessBefore: st.pendingRead.Access | st.pendingWrite.Access,
		SyncAfter:    s.Stages,
		AccessAfter:  s.Access,
	}
	sim := *st
	sim.Apply(b)
	if sim.Check(s, write) == HazardNone {
		return b, true
	}
	// the guard of an earlier barrier does not reach this access: extend the
	// chain from the stages it released
	if st.readGuard != fullScope {
		b.SyncBefore |= st.readGuard.Stages
	}
	if st.writeGuard != fullScope {
		b.SyncBefore |= st.writeGuard.Stages | st.lastWrite.Stages
	}
	b.AccessBefore |= st.lastWrite.Access
	if b.SyncBefore == StageNone {
		b.SyncBefore = StageTopOfPipe
	}
	return b, true
}
