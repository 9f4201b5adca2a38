package vulkan

import (
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/driver"
)

var _ driver.Device = (*Device)(nil)

// Window is the native window the device presents to.
type Window interface {
	InstanceProcAddr() unsafe.Pointer
	RequiredInstanceExtensions() []string
	CreateSurface(instance vk.Instance) (vk.Surface, error)
	FramebufferSize() (width, height uint32)
}

type Options struct {
	AppName    string
	Validation bool
	Window     Window
	// upper bound of descriptor sets alive at once
	MaxDescriptorSets uint32
}

// Device is a driver.Device over a single graphics+present queue.
type Device struct {
	instance       vk.Instance
	debugCallback  vk.DebugReportCallback
	surface        vk.Surface
	physical       vk.PhysicalDevice
	logical        vk.Device
	properties     vk.PhysicalDeviceProperties
	limits         vk.PhysicalDeviceLimits
	memory         vk.PhysicalDeviceMemoryProperties
	graphicsFamily uint32
	presentFamily  uint32
	graphicsQueue  vk.Queue
	presentQueue   vk.Queue
	commandPool    vk.CommandPool
	descriptorPool vk.DescriptorPool
	depthFormat    vk.Format
	// memory type chosen for each driver.MemoryKind, -1 if the device has none
	memoryTypes [driver.MemoryKindCount]int32

	name      string
	locks     *VulkanLockPool
	presenter *Presenter
	lost      atomic.Bool
}

type queueFamilies struct {
	graphics, present uint32
	found             bool
}

// Open creates the instance, picks a physical device able to present to the
// window and builds the logical device and its swapchain.
func Open(opts Options) (*Device, error) {
	if opts.Window == nil {
		return nil, errors.Wrap(core.ErrInvalidOperation, "vulkan device needs a window")
	}
	if opts.MaxDescriptorSets == 0 {
		opts.MaxDescriptorSets = 4096
	}
	d := &Device{locks: NewVulkanLockPool()}
	if err := d.open(&opts); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Device) open(opts *Options) error {
	if err := d.createInstance(opts); err != nil {
		return err
	}
	surface, err := opts.Window.CreateSurface(d.instance)
	if err != nil {
		return errors.Wrap(err, "vulkan surface creation failed")
	}
	d.surface = surface
	core.LogDebug("Vulkan surface created.")

	if err := d.selectPhysicalDevice(); err != nil {
		return err
	}
	if err := d.createLogicalDevice(); err != nil {
		return err
	}
	if err := d.createPools(opts.MaxDescriptorSets); err != nil {
		return err
	}
	if !d.detectDepthFormat() {
		return errors.Wrap(core.ErrInvalidOperation, "no supported depth format")
	}
	w, h := opts.Window.FramebufferSize()
	p, err := newPresenter(d, w, h)
	if err != nil {
		return err
	}
	d.presenter = p
	core.LogInfo("Vulkan device %s ready.", d.name)
	return nil
}

func (d *Device) selectPhysicalDevice() error {
	var count uint32
	if res := vk.EnumeratePhysicalDevices(d.instance, &count, nil); res != vk.Success {
		return d.resultError(res, "enumerating physical devices")
	}
	if count == 0 {
		return errors.Wrap(core.ErrInvalidOperation, "no devices which support Vulkan were found")
	}
	devices := make([]vk.PhysicalDevice, count)
	if res := vk.EnumeratePhysicalDevices(d.instance, &count, devices); res != vk.Success {
		return d.resultError(res, "enumerating physical devices")
	}

	best := -1
	bestScore := -1
	var bestQueues queueFamilies
	for i, pd := range devices {
		var properties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(pd, &properties)
		properties.Deref()
		name := cString(properties.DeviceName[:])

		queues := d.findQueueFamilies(pd)
		if !queues.found {
			core.LogInfo("%s: no graphics and present queue, skipping.", name)
			continue
		}
		if !hasDeviceExtension(pd, vk.KhrSwapchainExtensionName) {
			core.LogInfo("%s: required extension %s not found, skipping.", name, vk.KhrSwapchainExtensionName)
			continue
		}
		var features vk.PhysicalDeviceFeatures
		vk.GetPhysicalDeviceFeatures(pd, &features)
		features.Deref()
		if features.SamplerAnisotropy == vk.False {
			core.LogInfo("%s: no samplerAnisotropy, skipping.", name)
			continue
		}

		score := 1
		switch properties.DeviceType {
		case vk.PhysicalDeviceTypeDiscreteGpu:
			score = 3
		case vk.PhysicalDeviceTypeIntegratedGpu:
			score = 2
		}
		if score > bestScore {
			best, bestScore, bestQueues = i, score, queues
		}
	}
	if best < 0 {
		return errors.Wrap(core.ErrInvalidOperation, "no physical devices were found which meet the requirements")
	}

	d.physical = devices[best]
	d.graphicsFamily = bestQueues.graphics
	d.presentFamily = bestQueues.present
	vk.GetPhysicalDeviceProperties(d.physical, &d.properties)
	d.properties.Deref()
	d.limits = d.properties.Limits
	d.limits.Deref()
	vk.GetPhysicalDeviceMemoryProperties(d.physical, &d.memory)
	d.memory.Deref()
	d.name = cString(d.properties.DeviceName[:])

	core.LogInfo("Selected device: '%s'.", d.name)
	core.LogInfo(
		"Vulkan API version: %d.%d.%d",
		vk.Version(d.properties.ApiVersion).Major(),
		vk.Version(d.properties.ApiVersion).Minor(),
		vk.Version(d.properties.ApiVersion).Patch(),
	)
	for j := uint32(0); j < d.memory.MemoryHeapCount; j++ {
		heap := d.memory.MemoryHeaps[j]
		heap.Deref()
		gib := float64(heap.Size) / 1024.0 / 1024.0 / 1024.0
		if vk.MemoryHeapFlagBits(heap.Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			core.LogInfo("Local GPU memory: %.2f GiB", gib)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", gib)
		}
	}

	for kind := driver.MemoryKind(0); kind < driver.MemoryKindCount; kind++ {
		d.memoryTypes[kind] = d.findMemoryType(^uint32(0), memoryFlags(kind))
	}
	if d.memoryTypes[driver.MemoryDeviceLocal] < 0 {
		// unified memory architectures without a pure device-local type
		d.memoryTypes[driver.MemoryDeviceLocal] = d.memoryTypes[driver.MemoryHostVisible]
	}
	return nil
}

func (d *Device) findQueueFamilies(pd vk.PhysicalDevice) queueFamilies {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, families)

	var q queueFamilies
	graphics, present := -1, -1
	for i := range families {
		families[i].Deref()
		var supportsPresent vk.Bool32
		vk.GetPhysicalDeviceSurfaceSupport(pd, uint32(i), d.surface, &supportsPresent)
		isGraphics := vk.QueueFlagBits(families[i].QueueFlags)&vk.QueueGraphicsBit != 0
		// a family doing both avoids ownership transfers of the swapchain images
		if isGraphics && supportsPresent == vk.True {
			graphics, present = i, i
			break
		}
		if isGraphics && graphics < 0 {
			graphics = i
		}
		if supportsPresent == vk.True && present < 0 {
			present = i
		}
	}
	if graphics >= 0 && present >= 0 {
		q.graphics, q.present, q.found = uint32(graphics), uint32(present), true
	}
	return q
}

func deviceExtensions(pd vk.PhysicalDevice) []string {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(pd, "", &count, nil); res != vk.Success {
		return nil
	}
	props := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(pd, "", &count, props); res != vk.Success {
		return nil
	}
	names := make([]string, 0, count)
	for i := range props {
		props[i].Deref()
		names = append(names, cString(props[i].ExtensionName[:]))
	}
	return names
}

func hasDeviceExtension(pd vk.PhysicalDevice, name string) bool {
	for _, e := range deviceExtensions(pd) {
		if e == name {
			return true
		}
	}
	return false
}

func (d *Device) createLogicalDevice() error {
	core.LogInfo("Creating logical device...")
	families := []uint32{d.graphicsFamily}
	if d.presentFamily != d.graphicsFamily {
		families = append(families, d.presentFamily)
	}
	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(families))
	for i, f := range families {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: f,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	extensions := []string{vk.KhrSwapchainExtensionName}
	if hasDeviceExtension(d.physical, "VK_KHR_portability_subset") {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensions = append(extensions, "VK_KHR_portability_subset")
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{{SamplerAnisotropy: vk.True}},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensions),
	}
	var logical vk.Device
	if res := vk.CreateDevice(d.physical, &deviceCreateInfo, nil, &logical); res != vk.Success {
		return d.resultError(res, "creating logical device")
	}
	d.logical = logical
	core.LogInfo("Logical device created.")

	var graphics, present vk.Queue
	vk.GetDeviceQueue(d.logical, d.graphicsFamily, 0, &graphics)
	vk.GetDeviceQueue(d.logical, d.presentFamily, 0, &present)
	d.graphicsQueue, d.presentQueue = graphics, present
	return nil
}

func (d *Device) createPools(maxSets uint32) error {
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.graphicsFamily,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var commandPool vk.CommandPool
	if res := vk.CreateCommandPool(d.logical, &poolCreateInfo, nil, &commandPool); res != vk.Success {
		return d.resultError(res, "creating graphics command pool")
	}
	d.commandPool = commandPool

	sizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: maxSets},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: maxSets * 4},
	}
	var descPool vk.DescriptorPool
	res := vk.CreateDescriptorPool(d.logical, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}, nil, &descPool)
	if res != vk.Success {
		return d.resultError(res, "creating descriptor pool")
	}
	d.descriptorPool = descPool
	return nil
}

func (d *Device) detectDepthFormat() bool {
	candidates := []vk.Format{
		vk.FormatD32Sfloat,
		vk.FormatD32SfloatS8Uint,
		vk.FormatD24UnormS8Uint,
	}
	flags := vk.FormatFeatureDepthStencilAttachmentBit
	for _, c := range candidates {
		var properties vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(d.physical, c, &properties)
		properties.Deref()
		if vk.FormatFeatureFlagBits(properties.OptimalTilingFeatures)&flags == flags {
			d.depthFormat = c
			return true
		}
	}
	return false
}

func (d *Device) findMemoryType(typeBits uint32, flags vk.MemoryPropertyFlagBits) int32 {
	for i := uint32(0); i < d.memory.MemoryTypeCount; i++ {
		mt := d.memory.MemoryTypes[i]
		mt.Deref()
		if typeBits&(1<<i) != 0 && vk.MemoryPropertyFlagBits(mt.PropertyFlags)&flags == flags {
			return int32(i)
		}
	}
	return -1
}

func (d *Device) Name() string {
	return d.name
}

func (d *Device) Limits() driver.Limits {
	return driver.Limits{
		MinUniformBufferOffsetAlignment: uint64(d.limits.MinUniformBufferOffsetAlignment),
		NonCoherentAtomSize:             uint64(d.limits.NonCoherentAtomSize),
		MaxPushConstantsSize:            d.limits.MaxPushConstantsSize,
		// vkCmdUpdateBuffer limit
		MaxUpdateBufferSize: 65536,
	}
}

func (d *Device) Presenter() driver.Presenter {
	if d.presenter == nil {
		return nil
	}
	return d.presenter
}

func (d *Device) WaitIdle() error {
	if d.logical == nil {
		return nil
	}
	if res := vk.DeviceWaitIdle(d.logical); res != vk.Success {
		return d.resultError(res, "vkDeviceWaitIdle")
	}
	return nil
}

func (d *Device) isLost() bool {
	return d.lost.Load()
}

// Close destroys what Open created, in reverse order. Resources created
// through the device must be destroyed first.
func (d *Device) Close() {
	if d.logical != nil {
		vk.DeviceWaitIdle(d.logical)
	}
	if d.presenter != nil {
		d.presenter.destroy()
		d.presenter = nil
	}
	if d.descriptorPool != nil {
		vk.DestroyDescriptorPool(d.logical, d.descriptorPool, nil)
		d.descriptorPool = nil
	}
	if d.commandPool != nil {
		core.LogDebug("Destroying command pools...")
		vk.DestroyCommandPool(d.logical, d.commandPool, nil)
		d.commandPool = nil
	}
	if d.logical != nil {
		core.LogDebug("Destroying logical device...")
		vk.DestroyDevice(d.logical, nil)
		d.logical = nil
	}
	if d.surface != vk.NullSurface {
		vk.DestroySurface(d.instance, d.surface, nil)
		d.surface = vk.NullSurface
	}
	if d.debugCallback != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(d.instance, d.debugCallback, nil)
		d.debugCallback = vk.NullDebugReportCallback
	}
	if d.instance != nil {
		core.LogDebug("Destroying Vulkan instance...")
		vk.DestroyInstance(d.instance, nil)
		d.instance = nil
	}
}
