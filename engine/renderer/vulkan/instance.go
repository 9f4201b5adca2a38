package vulkan

import (
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-core/engine/core"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

func (d *Device) createInstance(opts *Options) error {
	procAddr := opts.Window.InstanceProcAddr()
	if procAddr == nil {
		return errors.Wrap(core.ErrInvalidOperation, "GetInstanceProcAddress is nil")
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return errors.Wrap(err, "failed to initialize vk")
	}

	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(opts.AppName),
		PEngineName:        VulkanSafeString("Anima Engine"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := append([]string{"VK_KHR_surface"}, opts.Window.RequiredInstanceExtensions()...)
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}

	var layers []string
	if opts.Validation {
		if hasInstanceLayer(validationLayer) {
			layers = append(layers, validationLayer)
			extensions = append(extensions, vk.ExtDebugReportExtensionName)
		} else {
			core.LogWarn("validation requested but %s is not installed", validationLayer)
		}
	}
	for _, e := range extensions {
		core.LogDebug("instance extension: %s", e)
	}

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	if res := vk.CreateInstance(&createInfo, nil, &d.instance); res != vk.Success {
		return d.resultError(res, "creating the vulkan instance")
	}
	if err := vk.InitInstance(d.instance); err != nil {
		return errors.Wrap(err, "loading instance functions")
	}
	core.LogInfo("Vulkan instance created.")

	if len(layers) > 0 {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(d.instance, &debugCreateInfo, nil, &dbg)); err != nil {
			return errors.Wrap(err, "vk.CreateDebugReportCallback")
		}
		d.debugCallback = dbg
		core.LogDebug("Vulkan debugger created.")
	}
	return nil
}

func hasInstanceLayer(name string) bool {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return false
	}
	layers := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, layers); res != vk.Success {
		return false
	}
	for i := range layers {
		layers[i].Deref()
		if cString(layers[i].LayerName[:]) == name {
			return true
		}
	}
	return false
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
