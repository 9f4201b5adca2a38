package resources

import (
	"fmt"

	"github.com/spaghettifunk/anima-core/engine/containers"
)

// BufferHandle names a buffer owned by a BufferManager. It is a plain value:
// copy it freely, but it only resolves between Create and Destroy.
type BufferHandle containers.Handle

func (h BufferHandle) IsZero() bool { return h.Generation == 0 }

func (h BufferHandle) String() string {
	return fmt.Sprintf("buffer(%d:%d)", h.Index, h.Generation)
}

// ImageHandle names an image owned by an ImageManager.
type ImageHandle containers.Handle

func (h ImageHandle) IsZero() bool { return h.Generation == 0 }

func (h ImageHandle) String() string {
	return fmt.Sprintf("image(%d:%d)", h.Index, h.Generation)
}
