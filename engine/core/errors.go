package core

import (
	"github.com/cockroachdb/errors"
)

// Error taxonomy of the GPU core. Callers match with errors.Is; producers wrap
// with errors.Wrapf so the sentinel survives the added context.
var (
	ErrOutOfMemory            = errors.New("out of memory")
	ErrInvalidHandle          = errors.New("invalid handle")
	ErrResourceNotFound       = errors.New("resource not found")
	ErrPoolExhausted          = errors.New("instance pool exhausted")
	ErrPipelineCreationFailed = errors.New("pipeline creation failed")
	ErrDeviceLost             = errors.New("device lost")
	ErrTimeout                = errors.New("timeout")
	ErrInvalidOperation       = errors.New("invalid operation")
	ErrSwapchainOutOfDate     = errors.New("swapchain out of date")

	ErrSwapchainBooting = errors.New("swapchain resized or recreated, booting")
	ErrUnknown          = errors.New("unknown")
)

// IsFatal reports whether err leaves the device unusable. The renderer never
// recovers from these on its own.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDeviceLost)
}
