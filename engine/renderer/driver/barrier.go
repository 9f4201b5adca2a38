package driver

// Barrier is a memory dependency. SyncBefore/SyncAfter are the execution half:
// work in SyncAfter stages waits for work in SyncBefore stages.
// AccessBefore/AccessAfter are the memory half: writes of type AccessBefore
// are made available and then visible to accesses of type AccessAfter.
type Barrier struct {
	SyncBefore   PipelineStage
	SyncAfter    PipelineStage
	AccessBefore Access
	AccessAfter  Access
}

// IsExecutionOnly reports a barrier that orders work but moves no memory.
func (b Barrier) IsExecutionOnly() bool {
	return b.AccessBefore == AccessNone && b.AccessAfter == AccessNone
}

// BufferBarrier restricts a Barrier to a range of one buffer. A zero Size
// covers the whole buffer from Offset.
type BufferBarrier struct {
	Barrier
	Buffer Buffer
	Offset uint64
	Size   uint64
}

// ImageBarrier additionally transitions the image layout.
type ImageBarrier struct {
	Barrier
	Image        Image
	LayoutBefore ImageLayout
	LayoutAfter  ImageLayout
}

// Dependency groups the barriers of one pipeline barrier command.
type Dependency struct {
	Memory  []Barrier
	Buffers []BufferBarrier
	Images  []ImageBarrier
}

func (d *Dependency) Empty() bool {
	return d == nil || len(d.Memory)+len(d.Buffers)+len(d.Images) == 0
}

// Stages folds every barrier into a single before/after stage pair, the form
// the classic pipeline barrier command takes.
func (d *Dependency) Stages() (before, after PipelineStage) {
	for _, b := range d.Memory {
		before |= b.SyncBefore
		after |= b.SyncAfter
	}
	for _, b := range d.Buffers {
		before |= b.SyncBefore
		after |= b.SyncAfter
	}
	for _, b := range d.Images {
		before |= b.SyncBefore
		after |= b.SyncAfter
	}
	if before == StageNone {
		before = StageTopOfPipe
	}
	if after == StageNone {
		after = StageBottomOfPipe
	}
	return before, after
}
