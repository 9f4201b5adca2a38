package containers

// Handle addresses an arena entry. The generation changes every time a slot is
// reused, so handles to removed entries never resolve again. The zero Handle
// is never valid.
type Handle struct {
	Index      uint32
	Generation uint32
}

func (h Handle) IsZero() bool {
	return h.Generation == 0
}

type arenaEntry[T any] struct {
	value      T
	generation uint32
	live       bool
}

// Arena stores values in a slice and hands out generation-tagged handles.
// Freed slots are reused last-in first-out. Not safe for concurrent use.
type Arena[T any] struct {
	entries []arenaEntry[T]
	free    []uint32
	live    int
}

func NewArena[T any](capacity int) *Arena[T] {
	return &Arena[T]{entries: make([]arenaEntry[T], 0, capacity)}
}

func (a *Arena[T]) Insert(value T) Handle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.entries))
		a.entries = append(a.entries, arenaEntry[T]{})
	}
	e := &a.entries[idx]
	e.generation++
	if e.generation == 0 {
		// wrapped; zero is reserved for the invalid handle
		e.generation = 1
	}
	e.value = value
	e.live = true
	a.live++
	return Handle{Index: idx, Generation: e.generation}
}

// Get returns a pointer into the arena. It is invalidated by the next Insert.
func (a *Arena[T]) Get(h Handle) (*T, bool) {
	if !a.Valid(h) {
		return nil, false
	}
	return &a.entries[h.Index].value, true
}

func (a *Arena[T]) Valid(h Handle) bool {
	if h.Generation == 0 || int(h.Index) >= len(a.entries) {
		return false
	}
	e := &a.entries[h.Index]
	return e.live && e.generation == h.Generation
}

func (a *Arena[T]) Remove(h Handle) (T, bool) {
	var zero T
	if !a.Valid(h) {
		return zero, false
	}
	e := &a.entries[h.Index]
	v := e.value
	e.value = zero
	e.live = false
	a.free = append(a.free, h.Index)
	a.live--
	return v, true
}

func (a *Arena[T]) Len() int {
	return a.live
}

// HighWater is the number of slots ever used. Slot indices are always below it.
func (a *Arena[T]) HighWater() int {
	return len(a.entries)
}

// Each visits live entries in slot order. fn must not insert or remove.
func (a *Arena[T]) Each(fn func(h Handle, v *T)) {
	for i := range a.entries {
		e := &a.entries[i]
		if e.live {
			fn(Handle{Index: uint32(i), Generation: e.generation}, &e.value)
		}
	}
}
