package vulkan

import "sync"

type LockGroup string

const (
	CommandPoolManagement LockGroup = "command_pool_management"
	DescriptorManagement  LockGroup = "descriptor_management"
	QueueManagement       LockGroup = "queue_management"
	PipelineManagement    LockGroup = "pipeline_management"
	SwapchainManagement   LockGroup = "swapchain_management"
)

// VulkanLockPool serializes access to the externally synchronized vulkan
// objects: pools, queues and the swapchain.
type VulkanLockPool struct {
	locks map[LockGroup]*sync.Mutex
	mu    sync.Mutex
}

func NewVulkanLockPool() *VulkanLockPool {
	return &VulkanLockPool{
		locks: make(map[LockGroup]*sync.Mutex),
	}
}

func (vs *VulkanLockPool) lock(group LockGroup) *sync.Mutex {
	vs.mu.Lock()
	l, ok := vs.locks[group]
	if !ok {
		l = &sync.Mutex{}
		vs.locks[group] = l
	}
	vs.mu.Unlock()
	l.Lock()
	return l
}

func (vs *VulkanLockPool) SafeCall(group LockGroup, fn func() error) error {
	l := vs.lock(group)
	defer l.Unlock()
	return fn()
}
