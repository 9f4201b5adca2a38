package memory

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-core/engine/math"
)

type freeRange struct {
	offset uint64
	size   uint64
}

func (r freeRange) end() uint64 { return r.offset + r.size }

// freeList tracks the unused ranges of one memory block, sorted by offset and
// never adjacent (neighbors are merged on free).
type freeList struct {
	size   uint64
	ranges []freeRange
}

func newFreeList(size uint64) *freeList {
	return &freeList{size: size, ranges: []freeRange{{0, size}}}
}

func alignUp(v, align uint64) uint64 {
	if math.IsPowerOfTwo(align) {
		return math.AlignUp(v, align)
	}
	if m := v % align; m != 0 {
		return v - m + align
	}
	return v
}

// allocate carves the first range that fits size at the given alignment.
func (f *freeList) allocate(size, align uint64) (uint64, bool) {
	if align == 0 {
		align = 1
	}
	for i, r := range f.ranges {
		aligned := alignUp(r.offset, align)
		if aligned < r.offset || aligned+size > r.end() {
			continue
		}
		var split []freeRange
		if aligned > r.offset {
			split = append(split, freeRange{r.offset, aligned - r.offset})
		}
		if tail := r.end() - (aligned + size); tail > 0 {
			split = append(split, freeRange{aligned + size, tail})
		}
		f.ranges = append(f.ranges[:i], append(split, f.ranges[i+1:]...)...)
		return aligned, true
	}
	return 0, false
}

// free returns a range. Overlapping an already free range is an error.
func (f *freeList) free(offset, size uint64) error {
	if size == 0 || offset+size > f.size {
		return errors.Newf("range [%d, %d) outside block of %d bytes", offset, offset+size, f.size)
	}
	i := 0
	for i < len(f.ranges) && f.ranges[i].offset < offset {
		i++
	}
	if i > 0 && f.ranges[i-1].end() > offset {
		return errors.Newf("range [%d, %d) is already free", offset, offset+size)
	}
	if i < len(f.ranges) && offset+size > f.ranges[i].offset {
		return errors.Newf("range [%d, %d) is already free", offset, offset+size)
	}

	r := freeRange{offset, size}
	mergePrev := i > 0 && f.ranges[i-1].end() == offset
	mergeNext := i < len(f.ranges) && r.end() == f.ranges[i].offset
	switch {
	case mergePrev && mergeNext:
		f.ranges[i-1].size += size + f.ranges[i].size
		f.ranges = append(f.ranges[:i], f.ranges[i+1:]...)
	case mergePrev:
		f.ranges[i-1].size += size
	case mergeNext:
		f.ranges[i].offset = offset
		f.ranges[i].size += size
	default:
		f.ranges = append(f.ranges, freeRange{})
		copy(f.ranges[i+1:], f.ranges[i:])
		f.ranges[i] = r
	}
	return nil
}

func (f *freeList) available() uint64 {
	var n uint64
	for _, r := range f.ranges {
		n += r.size
	}
	return n
}

func (f *freeList) empty() bool {
	return len(f.ranges) == 1 && f.ranges[0].offset == 0 && f.ranges[0].size == f.size
}

func (f *freeList) String() string {
	return fmt.Sprintf("%v", f.ranges)
}
