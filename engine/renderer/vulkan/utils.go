package vulkan

import (
	"fmt"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-core/engine/core"
)

func VulkanResultString(result vk.Result) string {
	switch result {
	case vk.Success:
		return "VK_SUCCESS"
	case vk.NotReady:
		return "VK_NOT_READY"
	case vk.Timeout:
		return "VK_TIMEOUT"
	case vk.Incomplete:
		return "VK_INCOMPLETE"
	case vk.Suboptimal:
		return "VK_SUBOPTIMAL_KHR"
	case vk.ErrorOutOfHostMemory:
		return "VK_ERROR_OUT_OF_HOST_MEMORY"
	case vk.ErrorOutOfDeviceMemory:
		return "VK_ERROR_OUT_OF_DEVICE_MEMORY"
	case vk.ErrorInitializationFailed:
		return "VK_ERROR_INITIALIZATION_FAILED"
	case vk.ErrorDeviceLost:
		return "VK_ERROR_DEVICE_LOST"
	case vk.ErrorMemoryMapFailed:
		return "VK_ERROR_MEMORY_MAP_FAILED"
	case vk.ErrorLayerNotPresent:
		return "VK_ERROR_LAYER_NOT_PRESENT"
	case vk.ErrorExtensionNotPresent:
		return "VK_ERROR_EXTENSION_NOT_PRESENT"
	case vk.ErrorFeatureNotPresent:
		return "VK_ERROR_FEATURE_NOT_PRESENT"
	case vk.ErrorIncompatibleDriver:
		return "VK_ERROR_INCOMPATIBLE_DRIVER"
	case vk.ErrorTooManyObjects:
		return "VK_ERROR_TOO_MANY_OBJECTS"
	case vk.ErrorFormatNotSupported:
		return "VK_ERROR_FORMAT_NOT_SUPPORTED"
	case vk.ErrorFragmentedPool:
		return "VK_ERROR_FRAGMENTED_POOL"
	case vk.ErrorSurfaceLost:
		return "VK_ERROR_SURFACE_LOST_KHR"
	case vk.ErrorNativeWindowInUse:
		return "VK_ERROR_NATIVE_WINDOW_IN_USE_KHR"
	case vk.ErrorOutOfDate:
		return "VK_ERROR_OUT_OF_DATE_KHR"
	case vk.ErrorInvalidShaderNv:
		return "VK_ERROR_INVALID_SHADER_NV"
	case vk.ErrorOutOfPoolMemory:
		return "VK_ERROR_OUT_OF_POOL_MEMORY"
	case vk.ErrorFragmentation:
		return "VK_ERROR_FRAGMENTATION"
	}
	return "VK_ERROR_UNKNOWN"
}

// VulkanResultIsSuccess treats every non-negative result as success, the
// vulkan convention for status codes such as VK_SUBOPTIMAL_KHR.
func VulkanResultIsSuccess(result vk.Result) bool {
	return result >= 0
}

// resultError maps a failed call onto the engine error taxonomy.
func (d *Device) resultError(result vk.Result, format string, args ...interface{}) error {
	var sentinel error
	switch result {
	case vk.Success:
		return nil
	case vk.ErrorDeviceLost:
		d.lost.Store(true)
		sentinel = core.ErrDeviceLost
	case vk.ErrorOutOfDeviceMemory, vk.ErrorOutOfHostMemory, vk.ErrorOutOfPoolMemory, vk.ErrorFragmentedPool:
		sentinel = core.ErrOutOfMemory
	case vk.Timeout, vk.NotReady:
		sentinel = core.ErrTimeout
	case vk.ErrorOutOfDate, vk.Suboptimal, vk.ErrorSurfaceLost:
		sentinel = core.ErrSwapchainOutOfDate
	default:
		sentinel = core.ErrUnknown
	}
	return errors.Wrapf(sentinel, "%s: %s", fmt.Sprintf(format, args...), VulkanResultString(result))
}

var end = "\x00"
var endChar byte = '\x00'

func VulkanSafeString(s string) string {
	if len(s) == 0 {
		return end
	}
	if s[len(s)-1] != endChar {
		return s + end
	}
	return s
}

func VulkanSafeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = VulkanSafeString(list[i])
	}
	return out
}

// cString trims a fixed size, zero terminated name returned by the driver.
func cString(arr []byte) string {
	for i, b := range arr {
		if b == endChar {
			return string(arr[:i])
		}
	}
	return string(arr)
}
