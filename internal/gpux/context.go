package gpux

import "context"

// Context is the GPU context described in spec §4.A: a selected physical
// device plus its queues and allocators, shared read-only by every
// session's encode pipeline after Select returns.
type Context struct {
	Info  DeviceInfo
	alloc Allocator
}

// Select enumerates available devices via the platform backend (cgo-backed
// Vulkan enumeration in production builds, an empty/stub enumeration in
// non-cgo builds) and returns a Context wrapping the highest-scoring one.
// preferDiscrete is honored by the scoring function (spec §4.A: "Scoring
// prefers discrete GPUs with the widest codec support"); when it is false,
// devices are ranked by codec support alone. renderNodeHint is recorded as
// each candidate's RenderNodePath; it does not filter enumeration.
func Select(ctx context.Context, renderNodeHint string, preferDiscrete bool) (*Context, error) {
	candidates, allocs, err := enumerateDevices(ctx, renderNodeHint)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoSuitableDevice
	}
	ranked := candidates
	if !preferDiscrete {
		ranked = make([]DeviceInfo, len(candidates))
		for i, c := range candidates {
			c.IsDiscrete = false
			ranked[i] = c
		}
	}
	idx := ChooseBest(ranked)
	if idx < 0 {
		return nil, ErrNoSuitableDevice
	}
	return &Context{Info: candidates[idx], alloc: allocs[idx]}, nil
}

// AllocImage allocates a device image (spec §4.A).
func (c *Context) AllocImage(desc ImageDesc) (Image, error) { return c.alloc.AllocImage(desc) }

// AllocHostBuffer allocates a host buffer through the backend allocator. The
// cgo allocator creates the buffer object only: it binds no memory and
// leaves Mapped nil.
func (c *Context) AllocHostBuffer(size uint64) (HostBuffer, error) {
	return c.alloc.AllocHostBuffer(size)
}

// AllocQueryPool allocates an encode-feedback/timestamp query pool.
func (c *Context) AllocQueryPool(count uint32) (QueryPool, error) {
	return c.alloc.AllocQueryPool(count)
}

// NewTimelineSemaphore allocates a device-backed timeline semaphore (spec
// §4.A timeline semaphore abstraction).
func (c *Context) NewTimelineSemaphore(initial uint64) (*TimelineSemaphore, error) {
	return c.alloc.NewTimelineSemaphore(initial)
}

// NewCommandBuffer allocates a command buffer bound to the given queue
// family (spec §4.A/§4.B): pass c.Info.GraphicsQueueFamily for composite
// and render command buffers, c.Info.EncodeQueueFamily for the encode
// command buffer.
func (c *Context) NewCommandBuffer(queueFamily uint32) (*CommandBuffer, error) {
	return c.alloc.NewCommandBuffer(queueFamily)
}
