package vulkan

import (
	"math"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
)

func TestChooseSurfaceFormat(t *testing.T) {
	preferred := vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	other := vk.SurfaceFormat{Format: vk.FormatR8g8b8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	unknown := vk.SurfaceFormat{Format: vk.FormatR16g16b16a16Sfloat, ColorSpace: vk.ColorSpaceSrgbNonlinear}

	assert.Equal(t, preferred, chooseSurfaceFormat([]vk.SurfaceFormat{other, preferred}))
	assert.Equal(t, other, chooseSurfaceFormat([]vk.SurfaceFormat{unknown, other}))
	assert.Equal(t, unknown, chooseSurfaceFormat([]vk.SurfaceFormat{unknown}))
}

func TestChoosePresentMode(t *testing.T) {
	assert.Equal(t, vk.PresentModeMailbox, choosePresentMode([]vk.PresentMode{vk.PresentModeFifo, vk.PresentModeMailbox}))
	assert.Equal(t, vk.PresentModeFifo, choosePresentMode([]vk.PresentMode{vk.PresentModeImmediate}))
}

func TestChooseExtent(t *testing.T) {
	caps := vk.SurfaceCapabilities{
		CurrentExtent:  vk.Extent2D{Width: math.MaxUint32, Height: math.MaxUint32},
		MinImageExtent: vk.Extent2D{Width: 1, Height: 1},
		MaxImageExtent: vk.Extent2D{Width: 1920, Height: 1080},
	}
	assert.Equal(t, vk.Extent2D{Width: 800, Height: 600}, chooseExtent(caps, 800, 600))
	assert.Equal(t, vk.Extent2D{Width: 1920, Height: 1080}, chooseExtent(caps, 4000, 3000))

	// the surface dictates the size when it reports one
	caps.CurrentExtent = vk.Extent2D{Width: 1024, Height: 768}
	assert.Equal(t, vk.Extent2D{Width: 1024, Height: 768}, chooseExtent(caps, 800, 600))
}
