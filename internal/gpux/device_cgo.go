//go:build cgo

package gpux

/*
#cgo linux LDFLAGS: -lvulkan
#cgo darwin LDFLAGS: -lvulkan
#include <vulkan/vulkan.h>
#include <stdlib.h>
#include <string.h>

static VkResult mm_create_instance(VkInstance *out) {
	VkApplicationInfo appInfo = {0};
	appInfo.sType = VK_STRUCTURE_TYPE_APPLICATION_INFO;
	appInfo.pApplicationName = "mmcore";
	appInfo.apiVersion = VK_API_VERSION_1_3;

	VkInstanceCreateInfo ci = {0};
	ci.sType = VK_STRUCTURE_TYPE_INSTANCE_CREATE_INFO;
	ci.pApplicationInfo = &appInfo;
	return vkCreateInstance(&ci, NULL, out);
}
*/
import "C"

import (
	"context"
	"fmt"
	"unsafe"
)

// cgoAllocator implements Allocator against a selected VkPhysicalDevice +
// VkDevice pair. Command-buffer-level recording for the actual encode graph
// lives in internal/encode, which consumes the handles allocated here; this
// file is responsible only for device/queue selection and allocator
// plumbing (spec §4.A), mirroring the reference Vulkan Video encoder's
// device setup (NewH264Encoder/Initialize in the retrieved material) without
// pulling the codec-specific session logic into this package.
type cgoAllocator struct {
	instance C.VkInstance
	phys     C.VkPhysicalDevice
	dev      C.VkDevice
}

func (a *cgoAllocator) AllocImage(desc ImageDesc) (Image, error) {
	var format C.VkFormat = C.VK_FORMAT_R8G8B8A8_UNORM
	if desc.Format != 0 {
		format = C.VkFormat(desc.Format)
	}
	var usage C.VkImageUsageFlags
	if desc.Usage&ImageUsageColorAttachment != 0 {
		usage |= C.VK_IMAGE_USAGE_COLOR_ATTACHMENT_BIT
	}
	if desc.Usage&ImageUsageSampled != 0 {
		usage |= C.VK_IMAGE_USAGE_SAMPLED_BIT
	}
	if desc.Usage&ImageUsageTransferDst != 0 {
		usage |= C.VK_IMAGE_USAGE_TRANSFER_DST_BIT
	}

	ci := C.VkImageCreateInfo{}
	ci.sType = C.VK_STRUCTURE_TYPE_IMAGE_CREATE_INFO
	ci.imageType = C.VK_IMAGE_TYPE_2D
	ci.format = format
	ci.extent = C.VkExtent3D{width: C.uint32_t(desc.Width), height: C.uint32_t(desc.Height), depth: 1}
	ci.mipLevels = 1
	ci.arrayLayers = 1
	ci.samples = C.VK_SAMPLE_COUNT_1_BIT
	ci.tiling = C.VK_IMAGE_TILING_OPTIMAL
	ci.usage = usage
	ci.sharingMode = C.VK_SHARING_MODE_EXCLUSIVE

	var img C.VkImage
	if res := C.vkCreateImage(a.dev, &ci, nil, &img); res != C.VK_SUCCESS {
		return Image{}, fmt.Errorf("gpux: vkCreateImage failed: %d", int(res))
	}
	return Image{Desc: desc, handle: uintptr(unsafe.Pointer(img))}, nil
}

func (a *cgoAllocator) AllocHostBuffer(size uint64) (HostBuffer, error) {
	ci := C.VkBufferCreateInfo{}
	ci.sType = C.VK_STRUCTURE_TYPE_BUFFER_CREATE_INFO
	ci.size = C.VkDeviceSize(size)
	ci.usage = C.VK_BUFFER_USAGE_TRANSFER_DST_BIT | C.VK_BUFFER_USAGE_TRANSFER_SRC_BIT
	ci.sharingMode = C.VK_SHARING_MODE_EXCLUSIVE

	var buf C.VkBuffer
	if res := C.vkCreateBuffer(a.dev, &ci, nil, &buf); res != C.VK_SUCCESS {
		return HostBuffer{}, fmt.Errorf("gpux: vkCreateBuffer failed: %d", int(res))
	}
	// Only the VkBuffer object is created: no device memory is allocated,
	// bound or mapped, here or elsewhere, so the returned HostBuffer has a
	// nil Mapped.
	return HostBuffer{Size: size, handle: uintptr(unsafe.Pointer(buf))}, nil
}

func (a *cgoAllocator) AllocQueryPool(count uint32) (QueryPool, error) {
	ci := C.VkQueryPoolCreateInfo{}
	ci.sType = C.VK_STRUCTURE_TYPE_QUERY_POOL_CREATE_INFO
	ci.queryType = C.VK_QUERY_TYPE_VIDEO_ENCODE_FEEDBACK_KHR
	ci.queryCount = C.uint32_t(count)

	var pool C.VkQueryPool
	if res := C.vkCreateQueryPool(a.dev, &ci, nil, &pool); res != C.VK_SUCCESS {
		return QueryPool{}, fmt.Errorf("gpux: vkCreateQueryPool failed: %d", int(res))
	}
	return QueryPool{Count: count, handle: uintptr(unsafe.Pointer(pool))}, nil
}

func (a *cgoAllocator) NewTimelineSemaphore(initial uint64) (*TimelineSemaphore, error) {
	typeCI := C.VkSemaphoreTypeCreateInfo{}
	typeCI.sType = C.VK_STRUCTURE_TYPE_SEMAPHORE_TYPE_CREATE_INFO
	typeCI.semaphoreType = C.VK_SEMAPHORE_TYPE_TIMELINE
	typeCI.initialValue = C.uint64_t(initial)

	ci := C.VkSemaphoreCreateInfo{}
	ci.sType = C.VK_STRUCTURE_TYPE_SEMAPHORE_CREATE_INFO
	ci.pNext = unsafe.Pointer(&typeCI)

	var sem C.VkSemaphore
	if res := C.vkCreateSemaphore(a.dev, &ci, nil, &sem); res != C.VK_SUCCESS {
		return nil, fmt.Errorf("gpux: vkCreateSemaphore (timeline) failed: %d", int(res))
	}
	return &TimelineSemaphore{backend: &vkTimelineBackend{dev: a.dev, sem: sem}}, nil
}

// vkTimelineBackend implements timelineBackend against a real
// VK_SEMAPHORE_TYPE_TIMELINE object (spec §9: one timeline semaphore per
// SwapFrame, one per output bitstream buffer).
type vkTimelineBackend struct {
	dev C.VkDevice
	sem C.VkSemaphore
}

func (b *vkTimelineBackend) wait(value uint64) error {
	waitInfo := C.VkSemaphoreWaitInfo{}
	waitInfo.sType = C.VK_STRUCTURE_TYPE_SEMAPHORE_WAIT_INFO
	waitInfo.semaphoreCount = 1
	sems := [1]C.VkSemaphore{b.sem}
	vals := [1]C.uint64_t{C.uint64_t(value)}
	waitInfo.pSemaphores = &sems[0]
	waitInfo.pValues = &vals[0]
	res := C.vkWaitSemaphores(b.dev, &waitInfo, C.UINT64_MAX)
	if res == C.VK_ERROR_DEVICE_LOST {
		return ErrDeviceLost
	}
	if res != C.VK_SUCCESS {
		return fmt.Errorf("gpux: vkWaitSemaphores failed: %d", int(res))
	}
	return nil
}

func (b *vkTimelineBackend) signal(value uint64) error {
	info := C.VkSemaphoreSignalInfo{}
	info.sType = C.VK_STRUCTURE_TYPE_SEMAPHORE_SIGNAL_INFO
	info.semaphore = b.sem
	info.value = C.uint64_t(value)
	res := C.vkSignalSemaphore(b.dev, &info)
	if res == C.VK_ERROR_DEVICE_LOST {
		return ErrDeviceLost
	}
	if res != C.VK_SUCCESS {
		return fmt.Errorf("gpux: vkSignalSemaphore failed: %d", int(res))
	}
	return nil
}

func (b *vkTimelineBackend) currentValue() (uint64, error) {
	var value C.uint64_t
	res := C.vkGetSemaphoreCounterValue(b.dev, b.sem, &value)
	if res == C.VK_ERROR_DEVICE_LOST {
		return 0, ErrDeviceLost
	}
	if res != C.VK_SUCCESS {
		return 0, fmt.Errorf("gpux: vkGetSemaphoreCounterValue failed: %d", int(res))
	}
	return uint64(value), nil
}

func (a *cgoAllocator) NewCommandBuffer(queueFamily uint32) (*CommandBuffer, error) {
	ci := C.VkCommandPoolCreateInfo{}
	ci.sType = C.VK_STRUCTURE_TYPE_COMMAND_POOL_CREATE_INFO
	ci.flags = C.VK_COMMAND_POOL_CREATE_RESET_COMMAND_BUFFER_BIT
	ci.queueFamilyIndex = C.uint32_t(queueFamily)

	var pool C.VkCommandPool
	if res := C.vkCreateCommandPool(a.dev, &ci, nil, &pool); res != C.VK_SUCCESS {
		return nil, fmt.Errorf("gpux: vkCreateCommandPool failed: %d", int(res))
	}

	allocInfo := C.VkCommandBufferAllocateInfo{}
	allocInfo.sType = C.VK_STRUCTURE_TYPE_COMMAND_BUFFER_ALLOCATE_INFO
	allocInfo.commandPool = pool
	allocInfo.level = C.VK_COMMAND_BUFFER_LEVEL_PRIMARY
	allocInfo.commandBufferCount = 1

	var cb C.VkCommandBuffer
	if res := C.vkAllocateCommandBuffers(a.dev, &allocInfo, &cb); res != C.VK_SUCCESS {
		C.vkDestroyCommandPool(a.dev, pool, nil)
		return nil, fmt.Errorf("gpux: vkAllocateCommandBuffers failed: %d", int(res))
	}

	var queue C.VkQueue
	C.vkGetDeviceQueue(a.dev, C.uint32_t(queueFamily), 0, &queue)

	return &CommandBuffer{recorder: &vkCmdRecorder{dev: a.dev, pool: pool, cb: cb, queue: queue}}, nil
}

// vkCmdRecorder implements cmdRecorder against a real VkCommandBuffer,
// mirroring the Begin/End/Reset transitions of the reference driver's
// cmdBuffer (driver-vk-cmd.go in the retrieved material).
type vkCmdRecorder struct {
	dev   C.VkDevice
	pool  C.VkCommandPool
	cb    C.VkCommandBuffer
	queue C.VkQueue
}

func (r *vkCmdRecorder) begin() error {
	info := C.VkCommandBufferBeginInfo{}
	info.sType = C.VK_STRUCTURE_TYPE_COMMAND_BUFFER_BEGIN_INFO
	info.flags = C.VK_COMMAND_BUFFER_USAGE_ONE_TIME_SUBMIT_BIT
	if res := C.vkBeginCommandBuffer(r.cb, &info); res != C.VK_SUCCESS {
		return fmt.Errorf("gpux: vkBeginCommandBuffer failed: %d", int(res))
	}
	return nil
}

func (r *vkCmdRecorder) end() error {
	if res := C.vkEndCommandBuffer(r.cb); res != C.VK_SUCCESS {
		return fmt.Errorf("gpux: vkEndCommandBuffer failed: %d", int(res))
	}
	return nil
}

func (r *vkCmdRecorder) reset() error {
	if res := C.vkResetCommandBuffer(r.cb, 0); res != C.VK_SUCCESS {
		return fmt.Errorf("gpux: vkResetCommandBuffer failed: %d", int(res))
	}
	return nil
}

func (r *vkCmdRecorder) submit(wait, signal TimelinePoint) error {
	waitSem, waitVal, err := timelinePointHandle(wait)
	if err != nil {
		return err
	}
	sigSem, sigVal, err := timelinePointHandle(signal)
	if err != nil {
		return err
	}

	timelineInfo := C.VkTimelineSemaphoreSubmitInfo{}
	timelineInfo.sType = C.VK_STRUCTURE_TYPE_TIMELINE_SEMAPHORE_SUBMIT_INFO
	timelineInfo.waitSemaphoreValueCount = 1
	timelineInfo.pWaitSemaphoreValues = &waitVal
	timelineInfo.signalSemaphoreValueCount = 1
	timelineInfo.pSignalSemaphoreValues = &sigVal

	waitStage := C.VkPipelineStageFlags(C.VK_PIPELINE_STAGE_ALL_COMMANDS_BIT)

	submit := C.VkSubmitInfo{}
	submit.sType = C.VK_STRUCTURE_TYPE_SUBMIT_INFO
	submit.pNext = unsafe.Pointer(&timelineInfo)
	submit.waitSemaphoreCount = 1
	submit.pWaitSemaphores = &waitSem
	submit.pWaitDstStageMask = &waitStage
	submit.signalSemaphoreCount = 1
	submit.pSignalSemaphores = &sigSem
	submit.commandBufferCount = 1
	submit.pCommandBuffers = &r.cb

	res := C.vkQueueSubmit(r.queue, 1, &submit, nil)
	if res == C.VK_ERROR_DEVICE_LOST {
		return ErrDeviceLost
	}
	if res != C.VK_SUCCESS {
		return fmt.Errorf("gpux: vkQueueSubmit failed: %d", int(res))
	}
	return nil
}

// timelinePointHandle extracts the raw VkSemaphore + value pair from a
// TimelinePoint, refusing points not backed by this build's Vulkan
// timeline implementation.
func timelinePointHandle(p TimelinePoint) (C.VkSemaphore, C.uint64_t, error) {
	backend, ok := p.sem.backend.(*vkTimelineBackend)
	if !ok {
		return nil, 0, fmt.Errorf("gpux: timeline point is not device-backed")
	}
	return backend.sem, C.uint64_t(p.Value), nil
}

// enumerateDevices lists physical devices that expose a graphics queue
// family. Video-encode support is not checked: EncodeQueueFamily is the
// first other queue family with any capability flags, or the graphics
// family when there is none. Capability
// bits that require extension-specific structs beyond core Vulkan (dynamic
// rendering, synchronization-2, external-memory-fd, timeline semaphores)
// are assumed present when VK_API_VERSION_1_3 is reported, matching the
// reference encoder's extension-load check (LoadVideoExtensionsDevice in
// the retrieved material) rather than re-deriving each feature bit here.
func enumerateDevices(ctx context.Context, renderNodeHint string) ([]DeviceInfo, []Allocator, error) {
	var instance C.VkInstance
	if res := C.mm_create_instance(&instance); res != C.VK_SUCCESS {
		return nil, nil, fmt.Errorf("gpux: vkCreateInstance failed: %d", int(res))
	}

	var count C.uint32_t
	C.vkEnumeratePhysicalDevices(instance, &count, nil)
	if count == 0 {
		return nil, nil, nil
	}
	devices := make([]C.VkPhysicalDevice, count)
	C.vkEnumeratePhysicalDevices(instance, &count, &devices[0])

	var infos []DeviceInfo
	var allocs []Allocator

	for _, phys := range devices {
		var props C.VkPhysicalDeviceProperties
		C.vkGetPhysicalDeviceProperties(phys, &props)
		isDiscrete := props.deviceType == C.VK_PHYSICAL_DEVICE_TYPE_DISCRETE_GPU

		var qCount C.uint32_t
		C.vkGetPhysicalDeviceQueueFamilyProperties(phys, &qCount, nil)
		if qCount == 0 {
			continue
		}
		qProps := make([]C.VkQueueFamilyProperties, qCount)
		C.vkGetPhysicalDeviceQueueFamilyProperties(phys, &qCount, &qProps[0])

		graphicsFamily := -1
		for i, q := range qProps {
			if q.queueFlags&C.VK_QUEUE_GRAPHICS_BIT != 0 {
				graphicsFamily = i
				break
			}
		}
		if graphicsFamily < 0 {
			continue
		}
		// Video-encode queue family detection would require the
		// VK_KHR_video_queue extension's vkGetPhysicalDeviceQueueFamilyProperties2
		// with a VkQueueFamilyVideoPropertiesKHR chained struct; that query
		// is not made, here or at session creation, so the family chosen
		// below is not known to support video encode.
		encodeFamily := graphicsFamily
		for i, q := range qProps {
			if i != graphicsFamily && q.queueFlags != 0 {
				encodeFamily = i
				break
			}
		}

		var memProps C.VkPhysicalDeviceMemoryProperties
		C.vkGetPhysicalDeviceMemoryProperties(phys, &memProps)
		hostVisibleType := uint32(0)
		for i := C.uint32_t(0); i < memProps.memoryTypeCount; i++ {
			flags := memProps.memoryTypes[i].propertyFlags
			if flags&C.VK_MEMORY_PROPERTY_HOST_VISIBLE_BIT != 0 {
				hostVisibleType = uint32(i)
				break
			}
		}

		name := C.GoString((*C.char)(unsafe.Pointer(&props.deviceName[0])))

		info := DeviceInfo{
			Name:                name,
			IsDiscrete:          isDiscrete,
			RenderNodePath:      renderNodeHint,
			SupportedCodecs:     []VideoCodec{CodecH264}, // widened once per-codec capability queries land.
			GraphicsQueueFamily: uint32(graphicsFamily),
			EncodeQueueFamily:   uint32(encodeFamily),
			HostVisibleMemType:  hostVisibleType,
		}

		devCI := C.VkDeviceCreateInfo{}
		devCI.sType = C.VK_STRUCTURE_TYPE_DEVICE_CREATE_INFO
		var priority C.float = 1.0
		qCI := C.VkDeviceQueueCreateInfo{}
		qCI.sType = C.VK_STRUCTURE_TYPE_DEVICE_QUEUE_CREATE_INFO
		qCI.queueFamilyIndex = C.uint32_t(graphicsFamily)
		qCI.queueCount = 1
		qCI.pQueuePriorities = &priority
		devCI.queueCreateInfoCount = 1
		devCI.pQueueCreateInfos = &qCI

		var dev C.VkDevice
		if res := C.vkCreateDevice(phys, &devCI, nil, &dev); res != C.VK_SUCCESS {
			continue
		}

		infos = append(infos, info)
		allocs = append(allocs, &cgoAllocator{instance: instance, phys: phys, dev: dev})
	}

	return infos, allocs, nil
}
